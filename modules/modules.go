// Package modules holds the default business rule handlers for the module
// catalogue. Each handler reads a few payload fields, scores them and
// answers with a conflict.Decision, or with no decision when it has nothing
// to say.
package modules

import (
	"context"
	"math"
	"strings"

	biocore "github.com/goliatone/go-biocore"
	"github.com/goliatone/go-biocore/conflict"
	"github.com/goliatone/go-biocore/router"
	"github.com/goliatone/go-biocore/scoring"
)

// Payload keys read by the default handlers.
const (
	KeyAmount         = "amount"
	KeyAverageAmount  = "average_amount"
	KeyPriceChangePct = "price_change_pct"
	KeyDelayMinutes   = "delay_minutes"
	KeyImbalance      = "imbalance"
	KeyErrorRatePct   = "error_rate_pct"
	KeyDemandGrowth   = "demand_growth_pct"
)

// Actions the default handlers decide on.
const (
	ActionBlockPriceChange = "block_price_change"
	ActionAdjustPrice      = "adjust_price"
	ActionHoldOrder        = "hold_order"
	ActionReleaseOrder     = "release_order"
	ActionRerouteShipment  = "reroute_shipment"
	ActionConfirmRoute     = "confirm_route"
	ActionRebalanceStock   = "rebalance_stock"
	ActionThrottle         = "throttle"
	ActionScaleUp          = "scale_up"
	ActionAcknowledge      = "acknowledge"
)

// Options configures the default handlers.
type Options struct {
	Threshold float64
	Logger    biocore.Logger
	Tracker   router.Tracker
}

// Rules is a module's decision function.
type Rules func(ctx context.Context, msg router.BioMessage, threshold float64) (*conflict.Decision, error)

// Catalogue returns the default rules keyed by module.
func Catalogue() map[router.Module]Rules {
	return map[router.Module]Rules{
		router.Arachnid:   arachnid,
		router.Chameleon:  chameleon,
		router.Cephalopod: cephalopod,
		router.AntColony:  antColony,
		router.Tardigrade: tardigrade,
		router.Mycelium:   mycelium,
		router.Swarm:      swarm,
	}
}

// Handler wraps the default rules of module.
func Handler(module router.Module, opts Options) (router.Handler, error) {
	rules, ok := Catalogue()[module]
	if !ok {
		return nil, biocore.NewError(biocore.ErrInvalidConfig, "no default rules for module", nil, map[string]any{
			"module": module.String(),
		})
	}
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = scoring.EscalationThreshold
	}
	fn := func(ctx context.Context, msg router.BioMessage) (any, error) {
		d, err := rules(ctx, msg, threshold)
		if err != nil || d == nil {
			return nil, err
		}
		d.Module = module
		return *d, nil
	}
	return router.Wrap(module, fn, router.WrapLogger(opts.Logger), router.WrapTracker(opts.Tracker)), nil
}

// Register installs the default handler for every catalogue module.
func Register(r *router.Router, opts Options) error {
	for _, m := range router.Modules() {
		h, err := Handler(m, opts)
		if err != nil {
			return err
		}
		if err := r.RegisterHandler(m, h); err != nil {
			return err
		}
	}
	return nil
}

// arachnid guards against anomalous amounts and price swings.
func arachnid(_ context.Context, msg router.BioMessage, threshold float64) (*conflict.Decision, error) {
	if pct, ok := msg.Float(KeyPriceChangePct); ok {
		score := scoring.Calculate(scoring.PriceAdjustment, math.Abs(pct))
		if scoring.Exceeds(score, threshold) {
			return &conflict.Decision{Action: ActionBlockPriceChange, Priority: 9, Score: score}, nil
		}
		return nil, nil
	}

	amount, ok := msg.Float(KeyAmount)
	if !ok {
		return nil, nil
	}
	avg, ok := msg.Float(KeyAverageAmount)
	if !ok || avg <= 0 {
		return nil, nil
	}
	score := scoring.Calculate(scoring.TransactionAnomaly, math.Max(0, amount/avg-1))
	if scoring.Exceeds(score, threshold) {
		return &conflict.Decision{Action: ActionHoldOrder, Priority: 8, Score: score, Payload: map[string]any{
			KeyAmount:        amount,
			KeyAverageAmount: avg,
		}}, nil
	}
	return nil, nil
}

func chameleon(_ context.Context, msg router.BioMessage, threshold float64) (*conflict.Decision, error) {
	pct, ok := msg.Float(KeyPriceChangePct)
	if !ok || pct == 0 {
		return nil, nil
	}
	score := scoring.Calculate(scoring.PriceAdjustment, math.Abs(pct))
	return &conflict.Decision{Action: ActionAdjustPrice, Priority: 5, Score: score, Payload: map[string]any{
		KeyPriceChangePct: pct,
	}}, nil
}

func cephalopod(_ context.Context, msg router.BioMessage, threshold float64) (*conflict.Decision, error) {
	delay, ok := msg.Float(KeyDelayMinutes)
	if !ok {
		return nil, nil
	}
	score := scoring.Calculate(scoring.RouteQuality, delay)
	if scoring.Exceeds(score, threshold) {
		return &conflict.Decision{Action: ActionRerouteShipment, Priority: 6, Score: score}, nil
	}
	return &conflict.Decision{Action: ActionConfirmRoute, Priority: 3, Score: score}, nil
}

// antColony releases paid orders to fulfilment and rebalances stock.
func antColony(_ context.Context, msg router.BioMessage, threshold float64) (*conflict.Decision, error) {
	if imbalance, ok := msg.Float(KeyImbalance); ok {
		score := scoring.Calculate(scoring.ResourceDistribution, imbalance)
		if scoring.Exceeds(score, threshold) {
			return &conflict.Decision{Action: ActionRebalanceStock, Priority: 4, Score: score}, nil
		}
		return nil, nil
	}
	if strings.HasPrefix(msg.Topic, "order.") {
		return &conflict.Decision{Action: ActionReleaseOrder, Priority: 5}, nil
	}
	return nil, nil
}

func tardigrade(_ context.Context, msg router.BioMessage, threshold float64) (*conflict.Decision, error) {
	rate, ok := msg.Float(KeyErrorRatePct)
	if !ok {
		return nil, nil
	}
	score := scoring.Calculate(scoring.SystemHealth, rate)
	if scoring.Exceeds(score, threshold) {
		return &conflict.Decision{Action: ActionThrottle, Priority: 9, Score: score}, nil
	}
	return nil, nil
}

func swarm(_ context.Context, msg router.BioMessage, threshold float64) (*conflict.Decision, error) {
	growth, ok := msg.Float(KeyDemandGrowth)
	if !ok || growth <= 0 {
		return nil, nil
	}
	score := scoring.Calculate("demand_growth", growth)
	return &conflict.Decision{Action: ActionScaleUp, Priority: 4, Score: score}, nil
}

// mycelium acknowledges coordination traffic so every delivery is visible.
func mycelium(_ context.Context, msg router.BioMessage, _ float64) (*conflict.Decision, error) {
	return &conflict.Decision{Action: ActionAcknowledge, Payload: map[string]any{
		"topic":   msg.Topic,
		"source":  msg.Source.String(),
		"targets": len(msg.Targets),
	}}, nil
}
