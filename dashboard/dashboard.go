package dashboard

import (
	stderrors "errors"
	"net/http"
	"sort"
	"sync"
	"time"

	biocore "github.com/goliatone/go-biocore"
	"github.com/goliatone/go-biocore/conflict"
	"github.com/goliatone/go-biocore/router"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	DefaultRecentLimit   = 50
	DefaultConflictLimit = 20
	DefaultNamespace     = "biocore"
)

// Interaction is one handler invocation seen by the router.
type Interaction struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Type      string    `json:"type"`
	Outcome   string    `json:"outcome"`
	Timestamp time.Time `json:"timestamp"`
}

// ConflictEntry is one resolved conflict.
type ConflictEntry struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Resolution string    `json:"resolution"`
	Winner     string    `json:"winner"`
	Action     string    `json:"action"`
	LatencyMs  int64     `json:"latency_ms"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// ModuleSnapshot summarises one module.
type ModuleSnapshot struct {
	Name       string     `json:"name"`
	Activity   int        `json:"activity"`
	Handled    int        `json:"handled"`
	Errors     int        `json:"errors"`
	LastActive *time.Time `json:"last_active,omitempty"`
	Health     float64    `json:"health"`
}

// Data is the dashboard view.
type Data struct {
	Health             float64          `json:"health"`
	TotalInteractions  int              `json:"total_interactions"`
	FailedInteractions int              `json:"failed_interactions"`
	Transitions        int              `json:"transitions"`
	RecentInteractions []Interaction    `json:"recent_interactions"`
	RecentConflicts    []ConflictEntry  `json:"recent_conflicts"`
	Modules            []ModuleSnapshot `json:"modules"`
	GeneratedAt        time.Time        `json:"generated_at"`
}

type moduleState struct {
	activity   int
	handled    int
	errors     int
	lastActive time.Time
}

// Dashboard records module activity, interactions and conflicts. It
// observes the core and never influences it.
type Dashboard struct {
	mu              sync.Mutex
	modules         map[string]*moduleState
	recent          []Interaction
	recentConflicts []ConflictEntry
	recentLimit     int
	conflictLimit   int
	total           int
	failed          int
	transitions     int

	namespace    string
	registry     *prometheus.Registry
	activity     *prometheus.CounterVec
	interactions *prometheus.CounterVec
	resolved     *prometheus.CounterVec
	latency      prometheus.Histogram
	moved        *prometheus.CounterVec
	health       prometheus.Gauge

	clock func() time.Time
}

var (
	_ router.Tracker    = (*Dashboard)(nil)
	_ conflict.Recorder = (*Dashboard)(nil)
)

type Option func(*Dashboard)

// WithRecentLimit bounds the recent interaction feed.
func WithRecentLimit(n int) Option {
	return func(d *Dashboard) {
		if n > 0 {
			d.recentLimit = n
		}
	}
}

// WithConflictLimit bounds the recent conflict feed.
func WithConflictLimit(n int) Option {
	return func(d *Dashboard) {
		if n > 0 {
			d.conflictLimit = n
		}
	}
}

// WithRegistry registers collectors on reg instead of a private registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(d *Dashboard) {
		if reg != nil {
			d.registry = reg
		}
	}
}

func WithNamespace(ns string) Option {
	return func(d *Dashboard) {
		if ns != "" {
			d.namespace = ns
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(d *Dashboard) {
		if clock != nil {
			d.clock = clock
		}
	}
}

func New(opts ...Option) (*Dashboard, error) {
	d := &Dashboard{
		modules:       make(map[string]*moduleState),
		recentLimit:   DefaultRecentLimit,
		conflictLimit: DefaultConflictLimit,
		namespace:     DefaultNamespace,
		clock:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	if d.registry == nil {
		d.registry = prometheus.NewRegistry()
	}
	for _, m := range router.Modules() {
		d.modules[m.String()] = &moduleState{}
	}

	d.activity = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: d.namespace,
		Name:      "module_activity_total",
		Help:      "Messages handled per module",
	}, []string{"module"})
	d.interactions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: d.namespace,
		Name:      "module_interactions_total",
		Help:      "Router deliveries by source, target, message type and outcome",
	}, []string{"from", "to", "type", "outcome"})
	d.resolved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: d.namespace,
		Name:      "conflicts_resolved_total",
		Help:      "Resolved conflicts by resolution type",
	}, []string{"resolution"})
	d.latency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: d.namespace,
		Name:      "conflict_resolution_seconds",
		Help:      "Time from conflict registration to resolution",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
	})
	d.moved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: d.namespace,
		Name:      "transitions_total",
		Help:      "Committed entity transitions",
	}, []string{"kind", "to"})
	d.health = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: d.namespace,
		Name:      "health_percent",
		Help:      "Share of successful handler responses",
	})
	d.health.Set(100)

	for _, c := range []prometheus.Collector{d.activity, d.interactions, d.resolved, d.latency, d.moved, d.health} {
		if err := d.registry.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if stderrors.As(err, &already) {
				return nil, biocore.NewError(biocore.ErrInvalidConfig, "dashboard collectors already registered", err, map[string]any{
					"namespace": d.namespace,
				})
			}
			return nil, biocore.NewError(biocore.ErrInvalidConfig, "register dashboard collector", err, nil)
		}
	}
	return d, nil
}

// Registry exposes the collectors' registry.
func (d *Dashboard) Registry() *prometheus.Registry { return d.registry }

// Handler serves the collectors in the Prometheus text format.
func (d *Dashboard) Handler() http.Handler {
	return promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{})
}

func (d *Dashboard) TrackModuleActivity(module string) {
	d.activity.WithLabelValues(module).Inc()

	d.mu.Lock()
	defer d.mu.Unlock()
	st := d.module(module)
	st.activity++
	st.lastActive = d.clock()
}

func (d *Dashboard) TrackInteraction(from, to, msgType, outcome string) {
	d.interactions.WithLabelValues(from, to, msgType, outcome).Inc()

	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.clock()
	st := d.module(to)
	st.handled++
	st.lastActive = now
	d.total++
	if outcome != router.OutcomeSuccess {
		st.errors++
		d.failed++
	}
	d.recent = appendBounded(d.recent, Interaction{
		From:      from,
		To:        to,
		Type:      msgType,
		Outcome:   outcome,
		Timestamp: now,
	}, d.recentLimit)
	d.health.Set(percent(d.total-d.failed, d.total))
}

// TrackTransition counts a committed entity transition.
func (d *Dashboard) TrackTransition(kind, to string) {
	d.moved.WithLabelValues(kind, to).Inc()

	d.mu.Lock()
	d.transitions++
	d.mu.Unlock()
}

func (d *Dashboard) RecordConflict(c conflict.Conflict) {
	entry := ConflictEntry{ID: c.ID, Type: c.Type}
	if res := c.Resolution; res != nil {
		entry.Resolution = res.Type
		entry.Winner = res.Winner.Module.String()
		entry.Action = res.Winner.Action
		entry.LatencyMs = res.LatencyMs
		entry.ResolvedAt = res.ResolvedAt
		d.resolved.WithLabelValues(res.Type).Inc()
		d.latency.Observe(float64(res.LatencyMs) / 1000)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.recentConflicts = appendBounded(d.recentConflicts, entry, d.conflictLimit)
}

// GetDashboardData returns a copy of the current view.
func (d *Dashboard) GetDashboardData() Data {
	d.mu.Lock()
	defer d.mu.Unlock()

	data := Data{
		Health:             percent(d.total-d.failed, d.total),
		TotalInteractions:  d.total,
		FailedInteractions: d.failed,
		Transitions:        d.transitions,
		RecentInteractions: append([]Interaction(nil), d.recent...),
		RecentConflicts:    append([]ConflictEntry(nil), d.recentConflicts...),
		GeneratedAt:        d.clock(),
	}

	names := make([]string, 0, len(d.modules))
	for name := range d.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		st := d.modules[name]
		snap := ModuleSnapshot{
			Name:     name,
			Activity: st.activity,
			Handled:  st.handled,
			Errors:   st.errors,
			Health:   percent(st.handled-st.errors, st.handled),
		}
		if !st.lastActive.IsZero() {
			last := st.lastActive
			snap.LastActive = &last
		}
		data.Modules = append(data.Modules, snap)
	}
	return data
}

func (d *Dashboard) module(name string) *moduleState {
	st, ok := d.modules[name]
	if !ok {
		st = &moduleState{}
		d.modules[name] = st
	}
	return st
}

func percent(ok, total int) float64 {
	if total <= 0 {
		return 100
	}
	return float64(ok) * 100 / float64(total)
}

func appendBounded[T any](list []T, item T, limit int) []T {
	list = append(list, item)
	if over := len(list) - limit; over > 0 {
		list = append(list[:0:0], list[over:]...)
	}
	return list
}
