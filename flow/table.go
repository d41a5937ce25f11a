package flow

import (
	"fmt"
	"time"

	biocore "github.com/goliatone/go-biocore"
)

// Guard checks a precondition. It must not mutate the entity.
type Guard[E any] func(entity E, meta Metadata, now time.Time) error

// Effect applies the side fields of a transition once every guard passed.
type Effect[E any] func(entity E, meta Metadata, now time.Time)

// Edge is one permitted from -> to pair.
type Edge[E any, S Status] struct {
	From    S
	To      S
	Guards  []Guard[E]
	Effects []Effect[E]
}

// Table declares the states and edges for one entity kind.
type Table[E any, S Status] struct {
	Kind    string
	Initial S
	States  []S
	Edges   []Edge[E, S]
}

// GuardError is returned by guards to report why a transition was refused.
type GuardError struct {
	Field  string
	Reason string
}

func (e *GuardError) Error() string { return e.Reason }

// Require fails with MISSING_REQUIRED_FIELD when ok is false.
func Require(ok bool, field, reason string) error {
	if ok {
		return nil
	}
	return &GuardError{Field: field, Reason: reason}
}

// Check fails with CONDITION_NOT_MET when ok is false.
func Check(ok bool, reason string) error {
	if ok {
		return nil
	}
	return &GuardError{Reason: reason}
}

// CompiledTable is the validated, indexed form of a Table. It is the single
// source for AllowedTransitions, CanTransition and Transition.
type CompiledTable[E any, S Status] struct {
	kind    string
	initial S
	states  []S
	known   map[S]struct{}
	edges   map[S]map[S]*Edge[E, S]
	allowed map[S][]S
}

// Compile validates t and indexes its edges.
func (t Table[E, S]) Compile() (*CompiledTable[E, S], error) {
	if t.Kind == "" {
		return nil, biocore.NewError(biocore.ErrInvalidConfig, "transition table requires a kind", nil, nil)
	}
	ct := &CompiledTable[E, S]{
		kind:    t.Kind,
		initial: t.Initial,
		known:   make(map[S]struct{}, len(t.States)),
		edges:   make(map[S]map[S]*Edge[E, S]),
		allowed: make(map[S][]S),
	}
	for _, s := range t.States {
		if _, dup := ct.known[s]; dup {
			return nil, tableError(t.Kind, fmt.Sprintf("duplicate state %q", s))
		}
		ct.known[s] = struct{}{}
		ct.states = append(ct.states, s)
	}
	if _, ok := ct.known[t.Initial]; !ok {
		return nil, tableError(t.Kind, fmt.Sprintf("initial state %q is not declared", t.Initial))
	}
	for i := range t.Edges {
		edge := t.Edges[i]
		if _, ok := ct.known[edge.From]; !ok {
			return nil, tableError(t.Kind, fmt.Sprintf("edge from unknown state %q", edge.From))
		}
		if _, ok := ct.known[edge.To]; !ok {
			return nil, tableError(t.Kind, fmt.Sprintf("edge to unknown state %q", edge.To))
		}
		if ct.edges[edge.From] == nil {
			ct.edges[edge.From] = make(map[S]*Edge[E, S])
		}
		if _, dup := ct.edges[edge.From][edge.To]; dup {
			return nil, tableError(t.Kind, fmt.Sprintf("duplicate edge %s -> %s", edge.From, edge.To))
		}
		ct.edges[edge.From][edge.To] = &edge
		ct.allowed[edge.From] = append(ct.allowed[edge.From], edge.To)
	}
	return ct, nil
}

// MustCompile panics on an invalid table. Intended for package level tables.
func (t Table[E, S]) MustCompile() *CompiledTable[E, S] {
	ct, err := t.Compile()
	if err != nil {
		panic(err)
	}
	return ct
}

func (c *CompiledTable[E, S]) Kind() string { return c.kind }
func (c *CompiledTable[E, S]) Initial() S   { return c.initial }

// States returns the declared states in declaration order.
func (c *CompiledTable[E, S]) States() []S {
	out := make([]S, len(c.states))
	copy(out, c.states)
	return out
}

// Has reports whether s is a declared state.
func (c *CompiledTable[E, S]) Has(s S) bool {
	_, ok := c.known[s]
	return ok
}

// Allowed lists the targets reachable from s in declaration order.
func (c *CompiledTable[E, S]) Allowed(s S) []S {
	targets := c.allowed[s]
	out := make([]S, len(targets))
	copy(out, targets)
	return out
}

// Permits reports whether from -> to is in the table, ignoring guards.
func (c *CompiledTable[E, S]) Permits(from, to S) bool {
	_, ok := c.edges[from][to]
	return ok
}

// Terminal reports whether s has no outgoing edges.
func (c *CompiledTable[E, S]) Terminal(s S) bool {
	return len(c.allowed[s]) == 0
}

// Edges returns every from -> to pair as strings, for tooling output.
func (c *CompiledTable[E, S]) Edges() [][2]string {
	var out [][2]string
	for _, from := range c.states {
		for _, to := range c.allowed[from] {
			out = append(out, [2]string{string(from), string(to)})
		}
	}
	return out
}

func (c *CompiledTable[E, S]) edge(from, to S) (*Edge[E, S], bool) {
	e, ok := c.edges[from][to]
	return e, ok
}

func tableError(kind, msg string) error {
	return biocore.NewError(biocore.ErrInvalidConfig, fmt.Sprintf("%s table: %s", kind, msg), nil, map[string]any{
		"entity_kind": kind,
	})
}
