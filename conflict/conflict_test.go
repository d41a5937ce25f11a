package conflict

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	biocore "github.com/goliatone/go-biocore"
	"github.com/goliatone/go-biocore/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(10 * time.Millisecond)
	return t
}

type memoRecorder struct {
	mu   sync.Mutex
	seen []Conflict
}

func (m *memoRecorder) RecordConflict(c Conflict) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen = append(m.seen, c)
}

func newEngine(opts ...Option) *Engine {
	clock := &stepClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	base := []Option{WithLogger(biocore.NewFmtLogger(io.Discard)), WithClock(clock.Now)}
	return NewEngine(append(base, opts...)...)
}

func priceSpec(arachnidPriority, chameleonPriority int) Spec {
	return Spec{
		First:   Decision{Module: router.Arachnid, Action: "block_price_change", Priority: arachnidPriority},
		Second:  Decision{Module: router.Chameleon, Action: "adjust_price", Priority: chameleonPriority},
		Context: map[string]any{"product_id": "p-1"},
	}
}

func TestHigherPriorityWins(t *testing.T) {
	recorder := &memoRecorder{}
	engine := newEngine(WithRecorder(recorder))
	ctx := context.Background()

	before := engine.Stats()
	id, err := engine.RegisterConflict(ctx, priceSpec(9, 5))
	require.NoError(t, err)
	assert.Equal(t, before.ActiveConflicts+1, engine.Stats().ActiveConflicts)

	res, err := engine.Resolve(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, TypeOverride, res.Type)
	assert.Equal(t, "block_price_change", res.Winner.Action)
	assert.Equal(t, router.Arachnid, res.Winner.Module)
	assert.Equal(t, int64(10), res.LatencyMs)

	stats := engine.Stats()
	assert.Equal(t, before.TotalResolved+1, stats.TotalResolved)
	assert.Equal(t, before.ActiveConflicts, stats.ActiveConflicts)
	assert.Equal(t, 1, stats.ResolutionTypes[TypeOverride])
	assert.InDelta(t, 10.0, stats.AvgResolutionTimeMs, 0.001)

	got, ok := engine.Get(id)
	require.True(t, ok)
	assert.Equal(t, StatusResolved, got.Status)
	require.NotNil(t, got.Resolution)
	assert.Equal(t, "block_price_change_vs_adjust_price", got.Type)

	require.Len(t, recorder.seen, 1)
	assert.Equal(t, id, recorder.seen[0].ID)
}

func TestTieBreaks(t *testing.T) {
	tests := []struct {
		name       string
		first      Decision
		second     Decision
		wantModule router.Module
		wantType   string
	}{
		{
			name:       "safety module wins tie",
			first:      Decision{Module: router.Chameleon, Action: "adjust_price", Priority: 5},
			second:     Decision{Module: router.Arachnid, Action: "block_price_change", Priority: 5},
			wantModule: router.Arachnid,
			wantType:   TypeEscalate,
		},
		{
			name:       "lexicographic when neither is safety",
			first:      Decision{Module: router.Swarm, Action: "scale_up", Priority: 3},
			second:     Decision{Module: router.AntColony, Action: "throttle", Priority: 3},
			wantModule: router.AntColony,
			wantType:   TypeTiebreak,
		},
		{
			name:       "lexicographic when both are safety",
			first:      Decision{Module: router.Tardigrade, Action: "throttle", Priority: 7},
			second:     Decision{Module: router.Arachnid, Action: "scale_up", Priority: 7},
			wantModule: router.Arachnid,
			wantType:   TypeTiebreak,
		},
		{
			name:       "lower priority safety module loses",
			first:      Decision{Module: router.Arachnid, Action: "hold_order", Priority: 2},
			second:     Decision{Module: router.Mycelium, Action: "release_order", Priority: 4},
			wantModule: router.Mycelium,
			wantType:   TypeOverride,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			engine := newEngine()
			id, err := engine.RegisterConflict(context.Background(), Spec{First: tc.first, Second: tc.second})
			require.NoError(t, err)
			res, err := engine.Resolve(context.Background(), id)
			require.NoError(t, err)
			assert.Equal(t, tc.wantModule, res.Winner.Module)
			assert.Equal(t, tc.wantType, res.Type)
		})
	}
}

func TestResolveUnknownOrResolvedConflict(t *testing.T) {
	engine := newEngine()
	ctx := context.Background()

	_, err := engine.Resolve(ctx, "missing")
	assert.True(t, biocore.HasCode(err, biocore.CodeUnknownConflict))

	id, err := engine.RegisterConflict(ctx, priceSpec(1, 1))
	require.NoError(t, err)
	_, err = engine.Resolve(ctx, id)
	require.NoError(t, err)

	_, err = engine.Resolve(ctx, id)
	assert.True(t, biocore.HasCode(err, biocore.CodeUnknownConflict))
	assert.Equal(t, 1, engine.Stats().TotalResolved)
}

func TestResolveIsAtMostOnceUnderContention(t *testing.T) {
	engine := newEngine()
	id, err := engine.RegisterConflict(context.Background(), priceSpec(9, 5))
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := engine.Resolve(context.Background(), id); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, engine.Stats().TotalResolved)
}

func TestEveryActiveConflictResolves(t *testing.T) {
	engine := newEngine()
	ctx := context.Background()
	for _, p := range [][2]int{{1, 1}, {0, 9}, {9, 0}, {4, 4}} {
		_, err := engine.RegisterConflict(ctx, priceSpec(p[0], p[1]))
		require.NoError(t, err)
	}
	for _, c := range engine.Active() {
		res, err := engine.Resolve(ctx, c.ID)
		require.NoError(t, err)
		assert.NotEmpty(t, res.Type)
	}
	assert.Empty(t, engine.Active())
	assert.Equal(t, 4, engine.Stats().TotalResolved)
}

func TestHistoryIsBounded(t *testing.T) {
	engine := newEngine(WithRetention(3))
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := engine.RegisterConflict(ctx, priceSpec(i, 0))
		require.NoError(t, err)
		_, err = engine.Resolve(ctx, id)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	history := engine.History()
	require.Len(t, history, 3)
	assert.Equal(t, ids[2], history[0].ID)
	assert.Equal(t, ids[4], history[2].ID)
	assert.Equal(t, 5, engine.Stats().TotalResolved)

	_, ok := engine.Get(ids[0])
	assert.False(t, ok)
}

func TestRegisterValidatesDecisions(t *testing.T) {
	engine := newEngine()
	_, err := engine.RegisterConflict(context.Background(), Spec{
		First:  Decision{Module: router.Arachnid, Action: "hold_order"},
		Second: Decision{Action: "release_order"},
	})
	assert.True(t, biocore.HasCode(err, biocore.CodeInvalidMessage))

	_, err = engine.RegisterConflict(context.Background(), Spec{
		First:  Decision{Module: router.Arachnid},
		Second: Decision{Module: router.Swarm, Action: "release_order"},
	})
	assert.True(t, biocore.HasCode(err, biocore.CodeInvalidMessage))
}

func TestDetectContradictions(t *testing.T) {
	responses := []router.Response{
		{Module: router.Arachnid, Success: true, Result: router.Outcome{
			Status: router.OutcomeSuccess,
			Data:   Decision{Action: "block_price_change", Priority: 9},
		}},
		{Module: router.Chameleon, Success: true, Result: map[string]any{"action": "adjust_price", "priority": 5}},
		{Module: router.Swarm, Success: true, Result: "no decision"},
		{Module: router.Mycelium, Success: false, Error: "boom"},
		{Module: router.AntColony, Success: true, Result: &Decision{Action: "release_order"}},
	}

	specs := Detect(responses, map[string]any{"order_id": "o-9"})
	require.Len(t, specs, 1)
	assert.Equal(t, router.Arachnid, specs[0].First.Module)
	assert.Equal(t, 9, specs[0].First.Priority)
	assert.Equal(t, router.Chameleon, specs[0].Second.Module)
	assert.Equal(t, 5, specs[0].Second.Priority)
	assert.Equal(t, "o-9", specs[0].Context["order_id"])

	assert.True(t, Contradicts("scale_up", "throttle"))
	assert.False(t, Contradicts("scale_up", "scale_up"))
}
