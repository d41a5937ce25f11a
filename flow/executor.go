package flow

import (
	"context"
	"fmt"

	biocore "github.com/goliatone/go-biocore"
)

// Executor runs transitions against persisted entities: load, apply, save if
// the version is unchanged, then notify committed hooks.
type Executor[E Entity[S], S Status] struct {
	machine *Machine[E, S]
	store   Store[E]
}

func NewExecutor[E Entity[S], S Status](machine *Machine[E, S], store Store[E]) (*Executor[E, S], error) {
	if machine == nil || store == nil {
		return nil, biocore.NewError(biocore.ErrInvalidConfig, "executor requires a machine and a store", nil, nil)
	}
	return &Executor[E, S]{machine: machine, store: store}, nil
}

func (x *Executor[E, S]) Machine() *Machine[E, S] { return x.machine }
func (x *Executor[E, S]) Store() Store[E]          { return x.store }

// Create persists a new entity. It must start in the table's initial state
// with an empty history.
func (x *Executor[E, S]) Create(ctx context.Context, entity E) error {
	l := entity.State()
	if l.Status == "" {
		l.Status = x.machine.table.Initial()
	}
	if !x.machine.table.Has(l.Status) {
		return biocore.NewError(
			biocore.ErrInvalidTransition,
			fmt.Sprintf("unknown %s status %s", x.machine.Kind(), l.Status),
			nil,
			map[string]any{"entity_kind": x.machine.Kind(), "entity_id": entity.EntityID()},
		)
	}
	if err := l.CheckHistory(); err != nil {
		return biocore.NewError(biocore.ErrInvalidTransition, err.Error(), err, nil)
	}
	return x.store.Insert(ctx, entity)
}

// Get loads an entity by id.
func (x *Executor[E, S]) Get(ctx context.Context, id string) (E, error) {
	return x.store.Load(ctx, id)
}

// Snapshot loads an entity and describes its lifecycle position.
func (x *Executor[E, S]) Snapshot(ctx context.Context, id string) (Snapshot[S], error) {
	entity, err := x.store.Load(ctx, id)
	if err != nil {
		return Snapshot[S]{}, err
	}
	return x.machine.Snapshot(entity), nil
}

// Apply transitions the stored entity id to state to. The returned entity is
// the committed value.
func (x *Executor[E, S]) Apply(ctx context.Context, id string, to S, meta Metadata) (E, StateTransition[S], error) {
	var zero E
	unlock := x.machine.locker.Lock(x.machine.lockKey(id))
	defer unlock()

	entity, err := x.store.Load(ctx, id)
	if err != nil {
		return zero, StateTransition[S]{}, err
	}
	expected := entity.StateVersion()

	rec, err := x.machine.apply(ctx, entity, to, meta)
	if err != nil {
		return zero, StateTransition[S]{}, err
	}
	if err := x.store.SaveIfVersion(ctx, entity, expected); err != nil {
		return zero, StateTransition[S]{}, err
	}
	x.machine.notifyCommitted(ctx, entity, rec)
	return entity, rec, nil
}

// List returns every stored entity.
func (x *Executor[E, S]) List(ctx context.Context) ([]E, error) {
	return x.store.List(ctx)
}
