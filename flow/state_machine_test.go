package flow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	biocore "github.com/goliatone/go-biocore"
	"github.com/shopspring/decimal"
)

type ticketStatus string

const (
	ticketOpen     ticketStatus = "open"
	ticketAssigned ticketStatus = "assigned"
	ticketClosed   ticketStatus = "closed"
)

type ticket struct {
	ID       string     `json:"id"`
	Assignee string     `json:"assignee"`
	ClosedAt *time.Time `json:"closed_at,omitempty"`
	Lifecycle[ticketStatus]
}

func (t *ticket) EntityID() string { return t.ID }

func newTicket(id string) *ticket {
	return &ticket{ID: id, Lifecycle: Lifecycle[ticketStatus]{Status: ticketOpen}}
}

var fixedNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func ticketTable() *CompiledTable[*ticket, ticketStatus] {
	return Table[*ticket, ticketStatus]{
		Kind:    "ticket",
		Initial: ticketOpen,
		States:  []ticketStatus{ticketOpen, ticketAssigned, ticketClosed},
		Edges: []Edge[*ticket, ticketStatus]{
			{
				From: ticketOpen, To: ticketAssigned,
				Guards: []Guard[*ticket]{func(t *ticket, meta Metadata, _ time.Time) error {
					return Require(meta.Actor != "", "assignee", "Assignee required")
				}},
				Effects: []Effect[*ticket]{func(t *ticket, meta Metadata, _ time.Time) {
					t.Assignee = meta.Actor
				}},
			},
			{From: ticketOpen, To: ticketClosed},
			{
				From: ticketAssigned, To: ticketClosed,
				Guards: []Guard[*ticket]{func(t *ticket, meta Metadata, _ time.Time) error {
					return Check(meta.Reason != "", "Resolution reason required")
				}},
				Effects: []Effect[*ticket]{func(t *ticket, _ Metadata, now time.Time) {
					t.ClosedAt = &now
				}},
			},
		},
	}.MustCompile()
}

func newTicketMachine(t *testing.T, opts ...Option[*ticket, ticketStatus]) *Machine[*ticket, ticketStatus] {
	t.Helper()
	opts = append([]Option[*ticket, ticketStatus]{
		WithClock[*ticket, ticketStatus](func() time.Time { return fixedNow }),
		WithLogger[*ticket, ticketStatus](biocore.NewFmtLogger(testWriter{t})),
	}, opts...)
	m, err := NewMachine(ticketTable(), opts...)
	if err != nil {
		t.Fatalf("new machine: %v", err)
	}
	return m
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func TestMachineTransitionRecordsHistory(t *testing.T) {
	m := newTicketMachine(t)
	tk := newTicket("t-1")

	rec, err := m.Transition(context.Background(), tk, ticketAssigned, Metadata{Actor: "ana"})
	if err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	if tk.Status != ticketAssigned || tk.Assignee != "ana" {
		t.Fatalf("unexpected entity state: %+v", tk)
	}
	if rec.From != ticketOpen || rec.To != ticketAssigned || !rec.Timestamp.Equal(fixedNow) {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if tk.Version != 1 || len(tk.StateHistory) != 1 {
		t.Fatalf("expected version 1 and one history entry, got %d/%d", tk.Version, len(tk.StateHistory))
	}

	amount := decimal.NewFromInt(5)
	if _, err := m.Transition(context.Background(), tk, ticketClosed, Metadata{Reason: "fixed", Amount: &amount}); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if tk.ClosedAt == nil || !tk.ClosedAt.Equal(fixedNow) {
		t.Fatalf("expected closed timestamp")
	}
	if err := tk.CheckHistory(); err != nil {
		t.Fatalf("history chain broken: %v", err)
	}
	last, _ := tk.Last()
	if last.Reason != "fixed" || last.Amount == nil || !last.Amount.Equal(amount) {
		t.Fatalf("metadata not captured: %+v", last)
	}
}

func TestMachineRejectsUnknownEdgeWithoutMutation(t *testing.T) {
	m := newTicketMachine(t)
	tk := newTicket("t-2")
	if _, err := m.Transition(context.Background(), tk, ticketClosed, Metadata{}); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	_, err := m.Transition(context.Background(), tk, ticketAssigned, Metadata{Actor: "ana"})
	if !biocore.HasCode(err, biocore.CodeInvalidTransition) {
		t.Fatalf("expected INVALID_TRANSITION, got %v", err)
	}
	if tk.Status != ticketClosed || tk.Version != 1 || tk.Assignee != "" {
		t.Fatalf("entity mutated on rejection: %+v", tk)
	}
}

func TestMachineGuardFailures(t *testing.T) {
	m := newTicketMachine(t)
	tk := newTicket("t-3")

	_, err := m.Transition(context.Background(), tk, ticketAssigned, Metadata{})
	if biocore.ErrorCode(err) != biocore.CodeMissingRequiredField {
		t.Fatalf("expected MISSING_REQUIRED_FIELD, got %v", err)
	}
	if !biocore.HasCode(err, biocore.CodeConditionNotMet) {
		t.Fatalf("missing field must also read as CONDITION_NOT_MET")
	}
	if biocore.ErrorMessage(err) != "Assignee required" {
		t.Fatalf("unexpected message %q", biocore.ErrorMessage(err))
	}
	if len(tk.StateHistory) != 0 || tk.Status != ticketOpen {
		t.Fatalf("entity mutated on guard failure")
	}

	if _, err := m.Transition(context.Background(), tk, ticketAssigned, Metadata{Actor: "bo"}); err != nil {
		t.Fatalf("assign failed: %v", err)
	}
	_, err = m.Transition(context.Background(), tk, ticketClosed, Metadata{})
	if biocore.ErrorCode(err) != biocore.CodeConditionNotMet {
		t.Fatalf("expected CONDITION_NOT_MET, got %v", err)
	}
}

func TestMachineAllowedAndSnapshot(t *testing.T) {
	m := newTicketMachine(t)
	tk := newTicket("t-4")

	allowed := m.AllowedTransitions(tk)
	if len(allowed) != 2 || allowed[0] != ticketAssigned || allowed[1] != ticketClosed {
		t.Fatalf("unexpected allowed transitions: %v", allowed)
	}
	if err := m.CanTransition(tk, ticketAssigned, Metadata{}); err == nil {
		t.Fatalf("expected guard failure from CanTransition")
	}
	if err := m.CanTransition(tk, ticketAssigned, Metadata{Actor: "x"}); err != nil {
		t.Fatalf("expected CanTransition to pass: %v", err)
	}
	if tk.Assignee != "" {
		t.Fatalf("CanTransition must not run effects")
	}

	_, _ = m.Transition(context.Background(), tk, ticketClosed, Metadata{})
	snap := m.Snapshot(tk)
	if !snap.Terminal || snap.Current != ticketClosed || len(snap.Allowed) != 0 || snap.Version != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestMachineHooks(t *testing.T) {
	var mu sync.Mutex
	var phases []TransitionPhase
	var topics []string
	hook := HookFunc[ticketStatus](func(_ context.Context, evt TransitionEvent[ticketStatus]) error {
		mu.Lock()
		defer mu.Unlock()
		phases = append(phases, evt.Phase)
		if evt.Phase == TransitionPhaseCommitted {
			topics = append(topics, evt.Topic())
		}
		return errors.New("hook failure is logged only")
	})
	m := newTicketMachine(t, WithHooks[*ticket](Hook[ticketStatus](hook)))
	tk := newTicket("t-5")

	if _, err := m.Transition(context.Background(), tk, ticketClosed, Metadata{}); err != nil {
		t.Fatalf("fail-open hook must not block: %v", err)
	}
	if _, err := m.Transition(context.Background(), tk, ticketOpen, Metadata{}); err == nil {
		t.Fatalf("expected rejection")
	}

	want := []TransitionPhase{TransitionPhaseAttempted, TransitionPhaseCommitted, TransitionPhaseAttempted, TransitionPhaseRejected}
	if len(phases) != len(want) {
		t.Fatalf("unexpected phases: %v", phases)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Fatalf("phase %d: want %s got %s", i, want[i], phases[i])
		}
	}
	if len(topics) != 1 || topics[0] != "ticket.closed" {
		t.Fatalf("unexpected topics: %v", topics)
	}
}

func TestMachineFailClosedHookVetoes(t *testing.T) {
	veto := HookFunc[ticketStatus](func(_ context.Context, evt TransitionEvent[ticketStatus]) error {
		if evt.Phase == TransitionPhaseAttempted {
			return errors.New("frozen")
		}
		return nil
	})
	m := newTicketMachine(t,
		WithHooks[*ticket](Hook[ticketStatus](veto)),
		WithHookFailureMode[*ticket, ticketStatus](HookFailureModeFailClosed),
	)
	tk := newTicket("t-6")
	_, err := m.Transition(context.Background(), tk, ticketClosed, Metadata{})
	if !biocore.HasCode(err, biocore.CodeConditionNotMet) {
		t.Fatalf("expected veto, got %v", err)
	}
	if tk.Status != ticketOpen {
		t.Fatalf("vetoed transition mutated entity")
	}
}

func TestMachineSerializesSameEntity(t *testing.T) {
	m := newTicketMachine(t)
	tk := newTicket("t-7")

	var wg sync.WaitGroup
	results := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Transition(context.Background(), tk, ticketClosed, Metadata{})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else if !biocore.HasCode(err, biocore.CodeInvalidTransition) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || len(tk.StateHistory) != 1 {
		t.Fatalf("expected exactly one winner, got %d (history %d)", succeeded, len(tk.StateHistory))
	}
}

func TestTableCompileValidation(t *testing.T) {
	_, err := Table[*ticket, ticketStatus]{
		Kind:    "ticket",
		Initial: ticketOpen,
		States:  []ticketStatus{ticketOpen},
		Edges:   []Edge[*ticket, ticketStatus]{{From: ticketOpen, To: ticketClosed}},
	}.Compile()
	if !biocore.HasCode(err, biocore.CodeInvalidConfig) {
		t.Fatalf("expected INVALID_CONFIG for unknown target, got %v", err)
	}

	_, err = Table[*ticket, ticketStatus]{
		Kind:    "ticket",
		Initial: ticketOpen,
		States:  []ticketStatus{ticketOpen, ticketClosed},
		Edges: []Edge[*ticket, ticketStatus]{
			{From: ticketOpen, To: ticketClosed},
			{From: ticketOpen, To: ticketClosed},
		},
	}.Compile()
	if err == nil {
		t.Fatalf("expected duplicate edge error")
	}

	ct := ticketTable()
	if len(ct.Edges()) != 3 || !ct.Permits(ticketOpen, ticketAssigned) || ct.Permits(ticketClosed, ticketOpen) {
		t.Fatalf("unexpected compiled table: %v", ct.Edges())
	}
}

func TestKeyedLockerReleasesEntries(t *testing.T) {
	l := NewKeyedLocker()
	unlock := l.Lock("a")
	if l.Len() != 1 {
		t.Fatalf("expected one held key")
	}
	unlock()
	unlock()
	if l.Len() != 0 {
		t.Fatalf("expected locker to release key")
	}
}
