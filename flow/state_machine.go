package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	biocore "github.com/goliatone/go-biocore"
)

// Machine applies a compiled transition table to entities of one kind.
type Machine[E Entity[S], S Status] struct {
	table           *CompiledTable[E, S]
	locker          *KeyedLocker
	logger          biocore.Logger
	clock           func() time.Time
	hooks           Hooks[S]
	hookFailureMode HookFailureMode
}

// Option customizes machine behavior.
type Option[E Entity[S], S Status] func(*Machine[E, S])

// WithLogger sets the machine logger.
func WithLogger[E Entity[S], S Status](logger biocore.Logger) Option[E, S] {
	return func(m *Machine[E, S]) {
		m.logger = biocore.NormalizeLogger(logger)
	}
}

// WithClock overrides the time source used for transition timestamps.
func WithClock[E Entity[S], S Status](clock func() time.Time) Option[E, S] {
	return func(m *Machine[E, S]) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithLocker shares a locker between machines and executors.
func WithLocker[E Entity[S], S Status](locker *KeyedLocker) Option[E, S] {
	return func(m *Machine[E, S]) {
		if locker != nil {
			m.locker = locker
		}
	}
}

// WithHooks configures transition lifecycle hooks.
func WithHooks[E Entity[S], S Status](hooks ...Hook[S]) Option[E, S] {
	return func(m *Machine[E, S]) {
		m.hooks = append(m.hooks[:0], hooks...)
	}
}

// WithHookFailureMode configures lifecycle hook error behavior.
func WithHookFailureMode[E Entity[S], S Status](mode HookFailureMode) Option[E, S] {
	return func(m *Machine[E, S]) {
		m.hookFailureMode = normalizeHookFailureMode(mode)
	}
}

// NewMachine builds a machine over a compiled table.
func NewMachine[E Entity[S], S Status](table *CompiledTable[E, S], opts ...Option[E, S]) (*Machine[E, S], error) {
	if table == nil {
		return nil, biocore.NewError(biocore.ErrInvalidConfig, "machine requires a transition table", nil, nil)
	}
	m := &Machine[E, S]{
		table:           table,
		locker:          NewKeyedLocker(),
		logger:          biocore.NewFmtLogger(nil),
		clock:           func() time.Time { return time.Now().UTC() },
		hookFailureMode: HookFailureModeFailOpen,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// Table exposes the compiled table.
func (m *Machine[E, S]) Table() *CompiledTable[E, S] { return m.table }

// Kind is the entity kind, e.g. "order".
func (m *Machine[E, S]) Kind() string { return m.table.Kind() }

// AllowedTransitions lists the states reachable from the entity's current
// status, ignoring guards.
func (m *Machine[E, S]) AllowedTransitions(entity E) []S {
	return m.table.Allowed(entity.State().Status)
}

// CanTransition runs the table check and guards without mutating entity.
func (m *Machine[E, S]) CanTransition(entity E, to S, meta Metadata) error {
	_, err := m.check(entity, to, meta, m.clock())
	return err
}

// Snapshot describes an entity's current position in its lifecycle.
type Snapshot[S Status] struct {
	Kind     string `json:"kind"`
	EntityID string `json:"entity_id"`
	Current  S      `json:"current"`
	Allowed  []S    `json:"allowed"`
	Terminal bool   `json:"terminal"`
	Version  int    `json:"version"`
}

func (m *Machine[E, S]) Snapshot(entity E) Snapshot[S] {
	l := entity.State()
	return Snapshot[S]{
		Kind:     m.table.Kind(),
		EntityID: entity.EntityID(),
		Current:  l.Status,
		Allowed:  m.table.Allowed(l.Status),
		Terminal: m.table.Terminal(l.Status),
		Version:  l.Version,
	}
}

// Transition moves entity to the target state. On error the entity is left
// untouched. Concurrent calls on the same entity id are serialized.
func (m *Machine[E, S]) Transition(ctx context.Context, entity E, to S, meta Metadata) (StateTransition[S], error) {
	unlock := m.locker.Lock(m.lockKey(entity.EntityID()))
	defer unlock()

	rec, err := m.apply(ctx, entity, to, meta)
	if err != nil {
		return StateTransition[S]{}, err
	}
	m.notifyCommitted(ctx, entity, rec)
	return rec, nil
}

func (m *Machine[E, S]) apply(ctx context.Context, entity E, to S, meta Metadata) (StateTransition[S], error) {
	if err := ctx.Err(); err != nil {
		return StateTransition[S]{}, err
	}
	l := entity.State()
	from := l.Status

	if err := fanoutHooks(ctx, m.hooks, m.event(TransitionPhaseAttempted, entity, from, to), m.hookFailureMode, m.logger); err != nil {
		m.notifyRejected(ctx, entity, from, to, err)
		return StateTransition[S]{}, err
	}

	now := m.clock()
	edge, err := m.check(entity, to, meta, now)
	if err != nil {
		m.notifyRejected(ctx, entity, from, to, err)
		return StateTransition[S]{}, err
	}

	for _, effect := range edge.Effects {
		effect(entity, meta, now)
	}
	rec := newStateTransition(from, to, now, meta)
	l.Status = to
	l.StateHistory = append(l.StateHistory, rec)
	l.Version++
	return rec, nil
}

func (m *Machine[E, S]) check(entity E, to S, meta Metadata, now time.Time) (*Edge[E, S], error) {
	from := entity.State().Status
	fields := map[string]any{
		"entity_kind": m.table.Kind(),
		"entity_id":   entity.EntityID(),
		"from":        string(from),
		"to":          string(to),
	}
	edge, ok := m.table.edge(from, to)
	if !ok {
		return nil, biocore.NewError(
			biocore.ErrInvalidTransition,
			fmt.Sprintf("cannot transition %s from %s to %s", m.table.Kind(), from, to),
			nil,
			fields,
		)
	}
	for _, guard := range edge.Guards {
		if guard == nil {
			continue
		}
		if err := guard(entity, meta, now); err != nil {
			return nil, guardError(err, fields)
		}
	}
	return edge, nil
}

func guardError(err error, fields map[string]any) error {
	var ge *GuardError
	if errors.As(err, &ge) {
		if ge.Field != "" {
			fields["field"] = ge.Field
			return biocore.NewError(biocore.ErrMissingRequiredField, ge.Reason, nil, fields)
		}
		return biocore.NewError(biocore.ErrConditionNotMet, ge.Reason, nil, fields)
	}
	if biocore.ErrorCode(err) != "" {
		return err
	}
	return biocore.NewError(biocore.ErrConditionNotMet, err.Error(), err, fields)
}

func (m *Machine[E, S]) lockKey(id string) string {
	return m.table.Kind() + ":" + id
}

func (m *Machine[E, S]) event(phase TransitionPhase, entity E, from, to S) TransitionEvent[S] {
	return TransitionEvent[S]{
		Phase:      phase,
		Kind:       m.table.Kind(),
		EntityID:   entity.EntityID(),
		From:       from,
		To:         to,
		Version:    entity.StateVersion(),
		OccurredAt: m.clock(),
		Entity:     entity,
	}
}

// notifyCommitted runs once the transition is durable: directly after apply
// for Transition, after the store save for Executor.Apply.
func (m *Machine[E, S]) notifyCommitted(ctx context.Context, entity E, rec StateTransition[S]) {
	biocore.WithLoggerFields(m.logger.WithContext(ctx), map[string]any{
		"entity_kind": m.table.Kind(),
		"entity_id":   entity.EntityID(),
		"from":        string(rec.From),
		"to":          string(rec.To),
		"version":     entity.StateVersion(),
	}).Info("transition committed")

	evt := m.event(TransitionPhaseCommitted, entity, rec.From, rec.To)
	evt.Record = rec
	evt.Metadata = rec.Extra
	_ = fanoutHooks(ctx, m.hooks, evt, HookFailureModeFailOpen, m.logger)
}

func (m *Machine[E, S]) notifyRejected(ctx context.Context, entity E, from, to S, cause error) {
	evt := m.event(TransitionPhaseRejected, entity, from, to)
	evt.ErrorCode = biocore.ErrorCode(cause)
	evt.ErrorMessage = biocore.ErrorMessage(cause)
	biocore.WithLoggerFields(m.logger.WithContext(ctx), map[string]any{
		"entity_kind": m.table.Kind(),
		"entity_id":   entity.EntityID(),
		"from":        string(from),
		"to":          string(to),
		"error_code":  evt.ErrorCode,
	}).Warn("transition rejected: %s", evt.ErrorMessage)
	_ = fanoutHooks(ctx, m.hooks, evt, HookFailureModeFailOpen, m.logger)
}
