package router

import (
	"context"
	"sync"
	"time"

	biocore "github.com/goliatone/go-biocore"
	"github.com/goliatone/go-biocore/runner"
	"golang.org/x/sync/errgroup"
)

// Handler reacts to a message on behalf of one module.
type Handler interface {
	Handle(ctx context.Context, msg BioMessage) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg BioMessage) (any, error)

func (f HandlerFunc) Handle(ctx context.Context, msg BioMessage) (any, error) {
	return f(ctx, msg)
}

// Tracker receives activity from the router. It never influences delivery.
type Tracker interface {
	TrackModuleActivity(module string)
	TrackInteraction(from, to, msgType, outcome string)
}

// Response is one target's outcome for a Send.
type Response struct {
	Module           Module    `json:"module"`
	RespondedBy      string    `json:"responded_by"`
	Success          bool      `json:"success"`
	Result           any       `json:"result,omitempty"`
	Error            string    `json:"error,omitempty"`
	Code             string    `json:"code,omitempty"`
	ProcessingTimeMs int64     `json:"processing_time_ms"`
	Timestamp        time.Time `json:"timestamp"`
}

// Router delivers messages to the handler registered for each target module.
// There is one handler slot per module; registering replaces the slot.
type Router struct {
	mu    sync.RWMutex
	slots [moduleCount + 1]Handler

	logger         biocore.Logger
	tracker        Tracker
	routes         *TopicRoutes
	handlerTimeout time.Duration
	maxConcurrency int
	maxRetries     int
	retryStrategy  runner.RetryStrategy
	clock          func() time.Time
}

type Option func(*Router)

func WithLogger(l biocore.Logger) Option {
	return func(r *Router) {
		r.logger = biocore.NormalizeLogger(l)
	}
}

func WithTracker(t Tracker) Option {
	return func(r *Router) {
		r.tracker = t
	}
}

// WithHandlerTimeout bounds each handler invocation. Zero disables it.
func WithHandlerTimeout(d time.Duration) Option {
	return func(r *Router) {
		r.handlerTimeout = d
	}
}

// WithMaxConcurrency bounds concurrent handler invocations per Send.
func WithMaxConcurrency(n int) Option {
	return func(r *Router) {
		r.maxConcurrency = n
	}
}

func WithRetries(max int, strategy runner.RetryStrategy) Option {
	return func(r *Router) {
		r.maxRetries = max
		if strategy != nil {
			r.retryStrategy = strategy
		}
	}
}

func WithRoutes(routes *TopicRoutes) Option {
	return func(r *Router) {
		if routes != nil {
			r.routes = routes
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(r *Router) {
		if clock != nil {
			r.clock = clock
		}
	}
}

func New(opts ...Option) *Router {
	r := &Router{
		logger:        biocore.NewFmtLogger(nil),
		routes:        NewTopicRoutes(),
		retryStrategy: runner.NoDelayStrategy{},
		clock:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// RegisterHandler installs h for module, replacing any previous handler.
func (r *Router) RegisterHandler(module Module, h Handler) error {
	if !module.Valid() {
		return biocore.NewError(biocore.ErrInvalidMessage, "cannot register unknown module", nil, map[string]any{"module": uint8(module)})
	}
	if h == nil {
		return biocore.NewError(biocore.ErrInvalidMessage, "handler cannot be nil", nil, map[string]any{"module": module.String()})
	}
	r.mu.Lock()
	r.slots[module] = h
	r.mu.Unlock()
	return nil
}

func (r *Router) UnregisterHandler(module Module) {
	if !module.Valid() {
		return
	}
	r.mu.Lock()
	r.slots[module] = nil
	r.mu.Unlock()
}

// Registered lists modules that currently have a handler.
func (r *Router) Registered() []Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Module
	for _, m := range Modules() {
		if r.slots[m] != nil {
			out = append(out, m)
		}
	}
	return out
}

// Routes exposes the topic table used by Publish.
func (r *Router) Routes() *TopicRoutes { return r.routes }

type delivery struct {
	module  Module
	handler Handler
}

// Send invokes the handler of every registered target and returns one
// response per invoked target, in target order. Targets without a handler
// are skipped. The handler set is snapshotted when Send starts.
func (r *Router) Send(ctx context.Context, msg BioMessage) []Response {
	r.mu.RLock()
	deliveries := make([]delivery, 0, len(msg.Targets))
	seen := make(map[Module]struct{}, len(msg.Targets))
	for _, target := range msg.Targets {
		if !target.Valid() {
			continue
		}
		if _, dup := seen[target]; dup {
			continue
		}
		seen[target] = struct{}{}
		if h := r.slots[target]; h != nil {
			deliveries = append(deliveries, delivery{module: target, handler: h})
		}
	}
	r.mu.RUnlock()

	responses := make([]Response, len(deliveries))
	if len(deliveries) == 0 {
		return responses
	}

	var g errgroup.Group
	if r.maxConcurrency > 0 {
		g.SetLimit(r.maxConcurrency)
	}
	for i, d := range deliveries {
		g.Go(func() error {
			responses[i] = r.invoke(ctx, d, msg)
			return nil
		})
	}
	_ = g.Wait()
	return responses
}

// Publish resolves targets for topic through the route table and sends a
// message of msgType from source. No matching route yields no responses.
func (r *Router) Publish(ctx context.Context, source Module, topic string, msgType MessageType, payload map[string]any) (BioMessage, []Response, error) {
	targets := r.routes.Match(topic)
	if len(targets) == 0 {
		return BioMessage{}, nil, nil
	}
	msg, err := NewMessage(source, targets, msgType, payload)
	if err != nil {
		return BioMessage{}, nil, err
	}
	msg = msg.WithTopic(topic)
	return msg, r.Send(ctx, msg), nil
}

func (r *Router) invoke(ctx context.Context, d delivery, msg BioMessage) Response {
	start := time.Now()

	var mu sync.Mutex
	var result any
	exec := runner.NewHandler(
		runner.WithName(d.module.String()),
		runner.WithLogger(r.logger),
		runner.WithTimeout(r.handlerTimeout),
		runner.WithMaxRetries(r.maxRetries),
		runner.WithRetryStrategy(r.retryStrategy),
		runner.WithErrorHandler(nil),
	)
	err := exec.Run(ctx, func(ctx context.Context) error {
		res, err := d.handler.Handle(ctx, msg)
		if err != nil {
			return err
		}
		if out, ok := res.(Outcome); ok && out.Failed() {
			return biocore.NewError(biocore.ErrHandlerError, out.Error, nil, nil)
		}
		mu.Lock()
		if ctx.Err() == nil {
			result = res
		}
		mu.Unlock()
		return nil
	})

	elapsed := time.Since(start)
	resp := Response{
		Module:           d.module,
		RespondedBy:      d.module.String(),
		Success:          err == nil,
		ProcessingTimeMs: elapsed.Milliseconds(),
		Timestamp:        r.clock(),
	}
	if err != nil {
		resp.Error = biocore.ErrorMessage(err)
		resp.Code = biocore.ErrorCode(err)
		if resp.Code == "" {
			resp.Code = biocore.CodeHandlerError
		}
	} else {
		mu.Lock()
		resp.Result = result
		mu.Unlock()
	}

	r.record(ctx, msg, resp)
	return resp
}

func (r *Router) record(ctx context.Context, msg BioMessage, resp Response) {
	status := "success"
	if !resp.Success {
		status = "error"
	}
	fields := map[string]any{
		"module":             resp.RespondedBy,
		"status":             status,
		"processing_time_ms": resp.ProcessingTimeMs,
		"message_id":         msg.ID,
		"message_type":       string(msg.Type),
	}
	if !resp.Success {
		fields["error"] = resp.Error
		fields["code"] = resp.Code
	}
	logger := biocore.WithLoggerFields(r.logger.WithContext(ctx), fields)
	if resp.Success {
		logger.Info("handler completed")
	} else {
		logger.Warn("handler failed: %s", resp.Error)
	}

	if r.tracker != nil {
		r.tracker.TrackInteraction(msg.Source.String(), resp.RespondedBy, string(msg.Type), status)
	}
}
