package flow

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	biocore "github.com/goliatone/go-biocore"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ Store[*ticket] = (*InMemoryStore[*ticket])(nil)
	_ Store[*ticket] = (*RedisStore[*ticket])(nil)
)

func newRedisTicketStore(t *testing.T) *RedisStore[*ticket] {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore[*ticket](client, "test:ticket:", time.Hour)
}

func storeContract(t *testing.T, store Store[*ticket]) {
	ctx := context.Background()

	_, err := store.Load(ctx, "missing")
	assert.True(t, biocore.HasCode(err, biocore.CodeEntityNotFound), "got %v", err)

	tk := newTicket("s-1")
	require.NoError(t, store.Insert(ctx, tk))
	assert.True(t, biocore.HasCode(store.Insert(ctx, tk), biocore.CodeVersionConflict))

	loaded, err := store.Load(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, ticketOpen, loaded.Status)
	assert.Equal(t, 0, loaded.Version)

	loaded.Status = ticketClosed
	loaded.Version = 1
	require.NoError(t, store.SaveIfVersion(ctx, loaded, 0))

	stale := newTicket("s-1")
	stale.Version = 1
	err = store.SaveIfVersion(ctx, stale, 0)
	assert.True(t, biocore.HasCode(err, biocore.CodeVersionConflict), "got %v", err)

	again, err := store.Load(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, ticketClosed, again.Status)

	require.NoError(t, store.Insert(ctx, newTicket("s-0")))
	all, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "s-0", all[0].ID)
}

func TestInMemoryStoreContract(t *testing.T) {
	storeContract(t, NewInMemoryStore[*ticket]())
}

func TestRedisStoreContract(t *testing.T) {
	storeContract(t, newRedisTicketStore(t))
}

func TestInMemoryStoreIsolatesCallers(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore[*ticket]()
	tk := newTicket("iso")
	require.NoError(t, store.Insert(ctx, tk))

	tk.Assignee = "mutated after insert"
	loaded, err := store.Load(ctx, "iso")
	require.NoError(t, err)
	assert.Empty(t, loaded.Assignee)
}

func TestExecutorApplyPersists(t *testing.T) {
	ctx := context.Background()
	m := newTicketMachine(t)
	exec, err := NewExecutor[*ticket, ticketStatus](m, newRedisTicketStore(t))
	require.NoError(t, err)

	require.NoError(t, exec.Create(ctx, &ticket{ID: "e-1"}))

	got, rec, err := exec.Apply(ctx, "e-1", ticketAssigned, Metadata{Actor: "cy"})
	require.NoError(t, err)
	assert.Equal(t, ticketAssigned, rec.To)
	assert.Equal(t, "cy", got.Assignee)

	snap, err := exec.Snapshot(ctx, "e-1")
	require.NoError(t, err)
	assert.Equal(t, ticketAssigned, snap.Current)
	assert.Equal(t, 1, snap.Version)
	assert.Equal(t, []ticketStatus{ticketClosed}, snap.Allowed)

	_, _, err = exec.Apply(ctx, "e-1", ticketClosed, Metadata{})
	assert.True(t, biocore.HasCode(err, biocore.CodeConditionNotMet))

	stored, err := exec.Get(ctx, "e-1")
	require.NoError(t, err)
	assert.Equal(t, ticketAssigned, stored.Status)
	assert.Len(t, stored.StateHistory, 1)

	_, _, err = exec.Apply(ctx, "nope", ticketClosed, Metadata{})
	assert.True(t, biocore.HasCode(err, biocore.CodeEntityNotFound))
}

type racingStore struct {
	*InMemoryStore[*ticket]
	bump func()
}

func (s *racingStore) SaveIfVersion(ctx context.Context, entity *ticket, expected int) error {
	if s.bump != nil {
		s.bump()
		s.bump = nil
	}
	return s.InMemoryStore.SaveIfVersion(ctx, entity, expected)
}

func TestExecutorDetectsConcurrentWriter(t *testing.T) {
	ctx := context.Background()
	inner := NewInMemoryStore[*ticket]()
	store := &racingStore{InMemoryStore: inner}
	exec, err := NewExecutor[*ticket, ticketStatus](newTicketMachine(t), store)
	require.NoError(t, err)
	require.NoError(t, exec.Create(ctx, newTicket("r-1")))

	store.bump = func() {
		other, _ := inner.Load(ctx, "r-1")
		other.Status = ticketClosed
		other.Version = 1
		_ = inner.SaveIfVersion(ctx, other, 0)
	}

	_, _, err = exec.Apply(ctx, "r-1", ticketAssigned, Metadata{Actor: "dee"})
	assert.True(t, biocore.HasCode(err, biocore.CodeVersionConflict), "got %v", err)

	stored, err := exec.Get(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, ticketClosed, stored.Status)
}

func TestExecutorCreateRejectsUnknownStatus(t *testing.T) {
	exec, err := NewExecutor[*ticket, ticketStatus](newTicketMachine(t), NewInMemoryStore[*ticket]())
	require.NoError(t, err)
	tk := newTicket("bad")
	tk.Status = "bogus"
	assert.True(t, biocore.HasCode(exec.Create(context.Background(), tk), biocore.CodeInvalidTransition))
}

func TestExecutorLogsCommitOnlyAfterSave(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	inner := NewInMemoryStore[*ticket]()
	store := &racingStore{InMemoryStore: inner}
	m := newTicketMachine(t, WithLogger[*ticket, ticketStatus](biocore.NewFmtLogger(&buf)))
	exec, err := NewExecutor[*ticket, ticketStatus](m, store)
	require.NoError(t, err)
	require.NoError(t, exec.Create(ctx, newTicket("l-1")))

	store.bump = func() {
		other, _ := inner.Load(ctx, "l-1")
		other.Version = 1
		_ = inner.SaveIfVersion(ctx, other, 0)
	}
	_, _, err = exec.Apply(ctx, "l-1", ticketAssigned, Metadata{Actor: "dee"})
	require.True(t, biocore.HasCode(err, biocore.CodeVersionConflict), "got %v", err)
	assert.NotContains(t, buf.String(), "transition committed")

	require.NoError(t, exec.Create(ctx, newTicket("l-2")))
	_, _, err = exec.Apply(ctx, "l-2", ticketAssigned, Metadata{Actor: "dee"})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "transition committed")
	assert.Contains(t, buf.String(), "entity_id=l-2")
}

func TestRedisStoreInsertFailureIsNotAHandlerError(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	store := NewRedisStore[*ticket](client, "test:ticket:", time.Hour)
	mr.Close()

	err := store.Insert(context.Background(), newTicket("down-1"))
	require.Error(t, err)
	assert.False(t, biocore.HasCode(err, biocore.CodeHandlerError))
	assert.Empty(t, biocore.ErrorCode(err))
	assert.Contains(t, err.Error(), "redis insert down-1")
}
