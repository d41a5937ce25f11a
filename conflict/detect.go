package conflict

import (
	"github.com/goliatone/go-biocore/router"
)

// contradictions pairs actions that cannot both be applied to one context.
var contradictions = map[string]string{
	"block_price_change": "adjust_price",
	"hold_order":         "release_order",
	"reroute_shipment":   "confirm_route",
	"throttle":           "scale_up",
}

// Contradicts reports whether two actions are mutually exclusive.
func Contradicts(a, b string) bool {
	if other, ok := contradictions[a]; ok && other == b {
		return true
	}
	if other, ok := contradictions[b]; ok && other == a {
		return true
	}
	return false
}

// DecisionOf extracts a decision from a successful router response. The
// result may be a Decision, an Outcome wrapping one, or a map with an
// "action" key.
func DecisionOf(resp router.Response) (Decision, bool) {
	if !resp.Success {
		return Decision{}, false
	}
	data := resp.Result
	if out, ok := data.(router.Outcome); ok {
		if out.Failed() {
			return Decision{}, false
		}
		data = out.Data
	}

	var d Decision
	switch v := data.(type) {
	case Decision:
		d = v
	case *Decision:
		if v == nil {
			return Decision{}, false
		}
		d = *v
	case map[string]any:
		action, _ := v["action"].(string)
		d = Decision{Action: action, Payload: v}
		switch p := v["priority"].(type) {
		case int:
			d.Priority = p
		case float64:
			d.Priority = int(p)
		}
		if s, ok := v["score"].(float64); ok {
			d.Score = s
		}
	default:
		return Decision{}, false
	}
	if d.Action == "" {
		return Decision{}, false
	}
	if !d.Module.Valid() {
		d.Module = resp.Module
	}
	return d, true
}

// Detect returns one spec for every contradictory pair of decisions in
// responses, in response order.
func Detect(responses []router.Response, ctx map[string]any) []Spec {
	decisions := make([]Decision, 0, len(responses))
	for _, resp := range responses {
		if d, ok := DecisionOf(resp); ok {
			decisions = append(decisions, d)
		}
	}

	var specs []Spec
	for i := 0; i < len(decisions); i++ {
		for j := i + 1; j < len(decisions); j++ {
			a, b := decisions[i], decisions[j]
			if a.Module == b.Module || !Contradicts(a.Action, b.Action) {
				continue
			}
			specs = append(specs, Spec{
				Type:    a.Action + "_vs_" + b.Action,
				First:   a,
				Second:  b,
				Context: cloneMap(ctx),
			})
		}
	}
	return specs
}
