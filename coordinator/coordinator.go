// Package coordinator ties the core together: a committed transition is
// published to the modules routed for its topic, contradictory decisions are
// escalated to the conflict engine, and everything is recorded.
package coordinator

import (
	"context"
	"math"
	"sync"

	biocore "github.com/goliatone/go-biocore"
	"github.com/goliatone/go-biocore/conflict"
	"github.com/goliatone/go-biocore/entity"
	"github.com/goliatone/go-biocore/router"
	"github.com/goliatone/go-biocore/scoring"
)

// TransitionRecorder counts committed transitions.
type TransitionRecorder interface {
	TrackTransition(kind, to string)
}

// Report is what one published event produced.
type Report struct {
	Topic       string                `json:"topic"`
	MessageID   string                `json:"message_id,omitempty"`
	Responses   []router.Response     `json:"responses"`
	Resolutions []conflict.Resolution `json:"resolutions,omitempty"`
	Skipped     []conflict.Spec       `json:"skipped,omitempty"`
}

// Coordinator publishes domain events and settles the conflicts they cause.
type Coordinator struct {
	router    *router.Router
	conflicts *conflict.Engine
	recorder  TransitionRecorder
	threshold float64
	source    router.Module
	logger    biocore.Logger

	mu       sync.Mutex
	onReport []func(Report)
}

type Option func(*Coordinator)

func WithRecorder(r TransitionRecorder) Option {
	return func(c *Coordinator) { c.recorder = r }
}

// WithThreshold sets the score a contradiction must exceed to be escalated.
func WithThreshold(t float64) Option {
	return func(c *Coordinator) {
		if t > 0 {
			c.threshold = t
		}
	}
}

func WithLogger(l biocore.Logger) Option {
	return func(c *Coordinator) { c.logger = biocore.NormalizeLogger(l) }
}

// WithReportHandler observes every report.
func WithReportHandler(fn func(Report)) Option {
	return func(c *Coordinator) {
		if fn != nil {
			c.onReport = append(c.onReport, fn)
		}
	}
}

func New(r *router.Router, engine *conflict.Engine, opts ...Option) *Coordinator {
	c := &Coordinator{
		router:    r,
		conflicts: engine,
		threshold: scoring.EscalationThreshold,
		source:    router.Mycelium,
		logger:    biocore.NewFmtLogger(nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Publisher adapts the coordinator to entity.Options.Publish.
func (c *Coordinator) Publisher() entity.Publisher {
	return func(ctx context.Context, n entity.Notice) error {
		_, err := c.OnTransition(ctx, n)
		return err
	}
}

// OnTransition handles a committed transition.
func (c *Coordinator) OnTransition(ctx context.Context, n entity.Notice) (Report, error) {
	if c.recorder != nil {
		c.recorder.TrackTransition(string(n.Kind), n.To)
	}
	return c.Signal(ctx, n.Topic(), Payload(n))
}

// Signal publishes a domain event on topic with payload, detects
// contradictory decisions in the responses and resolves the ones whose
// score exceeds the threshold.
func (c *Coordinator) Signal(ctx context.Context, topic string, payload map[string]any) (Report, error) {
	msgType := router.TypeTrigger
	if _, alert := payload[alertKey]; alert {
		msgType = router.TypeAlert
	}
	msg, responses, err := c.router.Publish(ctx, c.source, topic, msgType, payload)
	if err != nil {
		return Report{Topic: topic}, err
	}
	report := Report{Topic: topic, MessageID: msg.ID, Responses: responses}

	for _, spec := range conflict.Detect(responses, payload) {
		if !scoring.Exceeds(math.Max(spec.First.Score, spec.Second.Score), c.threshold) {
			report.Skipped = append(report.Skipped, spec)
			continue
		}
		id, err := c.conflicts.RegisterConflict(ctx, spec)
		if err != nil {
			return report, err
		}
		res, err := c.conflicts.Resolve(ctx, id)
		if err != nil {
			return report, err
		}
		report.Resolutions = append(report.Resolutions, res)
	}

	biocore.WithLoggerFields(c.logger.WithContext(ctx), map[string]any{
		"topic":       topic,
		"responses":   len(responses),
		"resolutions": len(report.Resolutions),
	}).Debug("signal handled")

	c.mu.Lock()
	handlers := append([]func(Report){}, c.onReport...)
	c.mu.Unlock()
	for _, fn := range handlers {
		fn(report)
	}
	return report, nil
}

const alertKey = "alert"

// Payload flattens a notice into a message payload. Entity facts the default
// module rules read are added per kind; notice extras win over them.
func Payload(n entity.Notice) map[string]any {
	p := map[string]any{
		"entity_kind": string(n.Kind),
		"entity_id":   n.EntityID,
		"from":        n.From,
		"to":          n.To,
		"version":     n.Version,
	}
	if n.Reason != "" {
		p["reason"] = n.Reason
	}

	switch e := n.Entity.(type) {
	case *entity.Order:
		p["amount"] = e.Total.InexactFloat64()
		if e.CustomerID != "" {
			p["customer_id"] = e.CustomerID
		}
	case *entity.Invoice:
		p["amount"] = e.TotalAmount.InexactFloat64()
		p["remaining"] = e.Remaining().InexactFloat64()
	case *entity.Return:
		if e.RefundAmount != nil {
			p["amount"] = e.RefundAmount.InexactFloat64()
		}
	case *entity.Product:
		p["stock"] = e.Stock
	case *entity.Subscription:
		p["plan"] = e.Plan
	}

	for k, v := range n.Extra {
		p[k] = v
	}
	return p
}
