package entity

import (
	"time"

	"github.com/goliatone/go-biocore/flow"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind names an entity kind. It is also the topic prefix for its transitions.
type Kind string

const (
	KindOrder        Kind = "order"
	KindShipment     Kind = "shipment"
	KindInvoice      Kind = "invoice"
	KindReturn       Kind = "return"
	KindProduct      Kind = "product"
	KindUser         Kind = "user"
	KindSubscription Kind = "subscription"
)

// Kinds lists every entity kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindOrder, KindShipment, KindInvoice, KindReturn, KindProduct, KindUser, KindSubscription}
}

// ParseKind resolves a kind by name.
func ParseKind(name string) (Kind, bool) {
	for _, k := range Kinds() {
		if string(k) == name {
			return k, true
		}
	}
	return "", false
}

// NewID returns a fresh entity id.
func NewID() string {
	return uuid.NewString()
}

type rule[E any] struct {
	guards  []flow.Guard[E]
	effects []flow.Effect[E]
}

type move[S flow.Status] struct {
	from S
	to   []S
}

// tableSpec declares a table as adjacency plus rules keyed by the entered
// state and by specific edges.
type tableSpec[E any, S flow.Status] struct {
	kind    Kind
	initial S
	states  []S
	moves   []move[S]
	enter   map[S]rule[E]
	edges   map[[2]S]rule[E]
	always  []flow.Effect[E]
}

func (t tableSpec[E, S]) compile() *flow.CompiledTable[E, S] {
	table := flow.Table[E, S]{
		Kind:    string(t.kind),
		Initial: t.initial,
		States:  t.states,
	}
	for _, mv := range t.moves {
		for _, to := range mv.to {
			edge := flow.Edge[E, S]{From: mv.from, To: to}
			if r, ok := t.edges[[2]S{mv.from, to}]; ok {
				edge.Guards = append(edge.Guards, r.guards...)
				edge.Effects = append(edge.Effects, r.effects...)
			}
			if r, ok := t.enter[to]; ok {
				edge.Guards = append(edge.Guards, r.guards...)
				edge.Effects = append(edge.Effects, r.effects...)
			}
			edge.Effects = append(edge.Effects, t.always...)
			table.Edges = append(table.Edges, edge)
		}
	}
	return table.MustCompile()
}

func stamp(now time.Time) *time.Time {
	return &now
}

func metaAmount(meta flow.Metadata) (decimal.Decimal, bool) {
	if meta.Amount == nil {
		return decimal.Zero, false
	}
	return *meta.Amount, true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
