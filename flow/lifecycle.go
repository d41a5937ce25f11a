package flow

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the closed enumeration of lifecycle states for one entity kind.
type Status interface {
	~string
}

// Metadata is the caller supplied context captured with a transition.
type Metadata struct {
	Reason   string
	Notes    string
	Location string
	Amount   *decimal.Decimal
	Actor    string
	Extra    map[string]any
}

// WithAmount returns a copy of m carrying amount.
func (m Metadata) WithAmount(amount decimal.Decimal) Metadata {
	m.Amount = &amount
	return m
}

// StateTransition is one immutable entry of an entity's state history.
type StateTransition[S Status] struct {
	From      S                `json:"from" yaml:"from"`
	To        S                `json:"to" yaml:"to"`
	Timestamp time.Time        `json:"timestamp" yaml:"timestamp"`
	Reason    string           `json:"reason,omitempty" yaml:"reason,omitempty"`
	Notes     string           `json:"notes,omitempty" yaml:"notes,omitempty"`
	Location  string           `json:"location,omitempty" yaml:"location,omitempty"`
	Amount    *decimal.Decimal `json:"amount,omitempty" yaml:"amount,omitempty"`
	Actor     string           `json:"actor,omitempty" yaml:"actor,omitempty"`
	Extra     map[string]any   `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// Lifecycle is embedded by every entity. It is only mutated by Machine.
type Lifecycle[S Status] struct {
	Status       S                    `json:"status" yaml:"status"`
	StateHistory []StateTransition[S] `json:"state_history" yaml:"state_history"`
	Version      int                  `json:"version" yaml:"version"`
}

// State exposes the embedded lifecycle to the engine.
func (l *Lifecycle[S]) State() *Lifecycle[S] { return l }

// StateVersion is the number of committed transitions, used for
// compare-and-swap persistence.
func (l *Lifecycle[S]) StateVersion() int { return l.Version }

// Last returns the most recent transition.
func (l *Lifecycle[S]) Last() (StateTransition[S], bool) {
	if l == nil || len(l.StateHistory) == 0 {
		return StateTransition[S]{}, false
	}
	return l.StateHistory[len(l.StateHistory)-1], true
}

// CheckHistory verifies the history forms a connected chain ending at Status.
func (l *Lifecycle[S]) CheckHistory() error {
	if l == nil || len(l.StateHistory) == 0 {
		return nil
	}
	for i := 1; i < len(l.StateHistory); i++ {
		if l.StateHistory[i-1].To != l.StateHistory[i].From {
			return fmt.Errorf("history broken at %d: %s -> %s", i, l.StateHistory[i-1].To, l.StateHistory[i].From)
		}
	}
	if last := l.StateHistory[len(l.StateHistory)-1]; last.To != l.Status {
		return fmt.Errorf("history ends at %s but status is %s", last.To, l.Status)
	}
	return nil
}

// Entity is the contract the engine needs from a business object.
type Entity[S Status] interface {
	EntityID() string
	State() *Lifecycle[S]
	StateVersion() int
}

func newStateTransition[S Status](from, to S, at time.Time, meta Metadata) StateTransition[S] {
	rec := StateTransition[S]{
		From:      from,
		To:        to,
		Timestamp: at,
		Reason:    meta.Reason,
		Notes:     meta.Notes,
		Location:  meta.Location,
		Actor:     meta.Actor,
		Extra:     copyMap(meta.Extra),
	}
	if meta.Amount != nil {
		amount := *meta.Amount
		rec.Amount = &amount
	}
	return rec
}

func copyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
