package conflict

import (
	"context"
	"sort"
	"sync"
	"time"

	biocore "github.com/goliatone/go-biocore"
	"github.com/goliatone/go-biocore/router"
	"github.com/google/uuid"
)

// Status of a conflict.
type Status string

const (
	StatusActive   Status = "active"
	StatusResolved Status = "resolved"
)

// Resolution types.
const (
	// TypeOverride means the higher priority decision won.
	TypeOverride = "override"
	// TypeEscalate means priorities tied and a safety module won.
	TypeEscalate = "escalate"
	// TypeTiebreak means priorities tied and the module name decided.
	TypeTiebreak = "tiebreak"
)

const DefaultRetention = 100

// Decision is what one module wants to do about a context.
type Decision struct {
	Module   router.Module  `json:"module" yaml:"module"`
	Action   string         `json:"action" yaml:"action"`
	Priority int            `json:"priority" yaml:"priority"`
	Score    float64        `json:"score,omitempty" yaml:"score,omitempty"`
	Payload  map[string]any `json:"payload,omitempty" yaml:"payload,omitempty"`
}

// Spec describes a new conflict between two decisions.
type Spec struct {
	Type    string         `json:"type" yaml:"type"`
	First   Decision       `json:"first" yaml:"first"`
	Second  Decision       `json:"second" yaml:"second"`
	Context map[string]any `json:"context,omitempty" yaml:"context,omitempty"`
}

// Resolution records how a conflict ended.
type Resolution struct {
	ConflictID string    `json:"conflict_id"`
	Type       string    `json:"type"`
	Winner     Decision  `json:"winner"`
	Loser      Decision  `json:"loser"`
	LatencyMs  int64     `json:"latency_ms"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// Conflict is a registered disagreement.
type Conflict struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	First      Decision       `json:"first"`
	Second     Decision       `json:"second"`
	Context    map[string]any `json:"context,omitempty"`
	Status     Status         `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
	ResolvedAt *time.Time     `json:"resolved_at,omitempty"`
	Resolution *Resolution    `json:"resolution,omitempty"`
}

// Stats summarises the engine.
type Stats struct {
	ActiveConflicts     int            `json:"active_conflicts"`
	TotalResolved       int            `json:"total_resolved"`
	AvgResolutionTimeMs float64        `json:"avg_resolution_time_ms"`
	ResolutionTypes     map[string]int `json:"resolution_types"`
}

// Recorder observes resolved conflicts.
type Recorder interface {
	RecordConflict(c Conflict)
}

// Engine registers and resolves conflicts. Resolution of a given id happens
// at most once.
type Engine struct {
	mu        sync.Mutex
	active    map[string]*Conflict
	history   []Conflict
	retention int
	safety    map[router.Module]struct{}

	totalResolved int
	totalLatency  time.Duration
	types         map[string]int

	logger   biocore.Logger
	recorder Recorder
	clock    func() time.Time
}

type Option func(*Engine)

// WithRetention bounds the resolution history. Values below one are ignored.
func WithRetention(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.retention = n
		}
	}
}

// WithSafetyModules sets the modules that win priority ties.
func WithSafetyModules(modules ...router.Module) Option {
	return func(e *Engine) {
		e.safety = make(map[router.Module]struct{}, len(modules))
		for _, m := range modules {
			e.safety[m] = struct{}{}
		}
	}
}

func WithLogger(l biocore.Logger) Option {
	return func(e *Engine) {
		e.logger = biocore.NormalizeLogger(l)
	}
}

func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		e.recorder = r
	}
}

func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// DefaultSafetyModules are the anomaly blocking modules.
func DefaultSafetyModules() []router.Module {
	return []router.Module{router.Arachnid, router.Tardigrade}
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		active:    make(map[string]*Conflict),
		retention: DefaultRetention,
		types:     make(map[string]int),
		logger:    biocore.NewFmtLogger(nil),
		clock:     func() time.Time { return time.Now().UTC() },
	}
	WithSafetyModules(DefaultSafetyModules()...)(e)
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// RegisterConflict stores an active conflict and returns its id.
func (e *Engine) RegisterConflict(ctx context.Context, spec Spec) (string, error) {
	if !spec.First.Module.Valid() || !spec.Second.Module.Valid() {
		return "", biocore.NewError(biocore.ErrInvalidMessage, "conflict decisions need a known module", nil, map[string]any{
			"type": spec.Type,
		})
	}
	if spec.First.Action == "" || spec.Second.Action == "" {
		return "", biocore.NewError(biocore.ErrInvalidMessage, "conflict decisions need an action", nil, map[string]any{
			"type": spec.Type,
		})
	}

	c := &Conflict{
		ID:        uuid.NewString(),
		Type:      spec.Type,
		First:     spec.First,
		Second:    spec.Second,
		Context:   cloneMap(spec.Context),
		Status:    StatusActive,
		CreatedAt: e.clock(),
	}
	if c.Type == "" {
		c.Type = spec.First.Action + "_vs_" + spec.Second.Action
	}

	e.mu.Lock()
	e.active[c.ID] = c
	e.mu.Unlock()

	biocore.WithLoggerFields(e.logger.WithContext(ctx), map[string]any{
		"conflict_id": c.ID,
		"type":        c.Type,
		"first":       c.First.Module.String(),
		"second":      c.Second.Module.String(),
	}).Info("conflict registered")
	return c.ID, nil
}

// Resolve picks a winner for an active conflict. A missing or already
// resolved id yields UNKNOWN_CONFLICT and changes nothing.
func (e *Engine) Resolve(ctx context.Context, id string) (Resolution, error) {
	e.mu.Lock()
	c, ok := e.active[id]
	if !ok {
		e.mu.Unlock()
		return Resolution{}, biocore.NewError(biocore.ErrUnknownConflict, "conflict "+id+" is not active", nil, map[string]any{
			"conflict_id": id,
		})
	}

	winner, loser, kind := e.decide(c.First, c.Second)
	now := e.clock()
	latency := now.Sub(c.CreatedAt)
	if latency < 0 {
		latency = 0
	}
	res := Resolution{
		ConflictID: c.ID,
		Type:       kind,
		Winner:     winner,
		Loser:      loser,
		LatencyMs:  latency.Milliseconds(),
		ResolvedAt: now,
	}
	c.Status = StatusResolved
	c.ResolvedAt = &now
	c.Resolution = &res

	delete(e.active, id)
	e.history = append(e.history, *c)
	if over := len(e.history) - e.retention; over > 0 {
		e.history = append([]Conflict(nil), e.history[over:]...)
	}
	e.totalResolved++
	e.totalLatency += latency
	e.types[kind]++
	resolved := *c
	e.mu.Unlock()

	biocore.WithLoggerFields(e.logger.WithContext(ctx), map[string]any{
		"conflict_id": id,
		"resolution":  kind,
		"winner":      winner.Module.String(),
		"action":      winner.Action,
		"latency_ms":  res.LatencyMs,
	}).Info("conflict resolved")

	if e.recorder != nil {
		e.recorder.RecordConflict(resolved)
	}
	return res, nil
}

func (e *Engine) decide(a, b Decision) (winner, loser Decision, kind string) {
	switch {
	case a.Priority > b.Priority:
		return a, b, TypeOverride
	case b.Priority > a.Priority:
		return b, a, TypeOverride
	}

	_, aSafe := e.safety[a.Module]
	_, bSafe := e.safety[b.Module]
	if aSafe != bSafe {
		if aSafe {
			return a, b, TypeEscalate
		}
		return b, a, TypeEscalate
	}

	if b.Module.String() < a.Module.String() {
		return b, a, TypeTiebreak
	}
	return a, b, TypeTiebreak
}

// Get returns an active conflict or one still held in history.
func (e *Engine) Get(id string) (Conflict, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.active[id]; ok {
		return *c, true
	}
	for i := len(e.history) - 1; i >= 0; i-- {
		if e.history[i].ID == id {
			return e.history[i], true
		}
	}
	return Conflict{}, false
}

// Active lists unresolved conflicts, oldest first.
func (e *Engine) Active() []Conflict {
	e.mu.Lock()
	out := make([]Conflict, 0, len(e.active))
	for _, c := range e.active {
		out = append(out, *c)
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// History returns resolved conflicts still retained, oldest first.
func (e *Engine) History() []Conflict {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Conflict(nil), e.history...)
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := Stats{
		ActiveConflicts: len(e.active),
		TotalResolved:   e.totalResolved,
		ResolutionTypes: make(map[string]int, len(e.types)),
	}
	for k, v := range e.types {
		stats.ResolutionTypes[k] = v
	}
	if e.totalResolved > 0 {
		stats.AvgResolutionTimeMs = float64(e.totalLatency.Milliseconds()) / float64(e.totalResolved)
	}
	return stats
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
