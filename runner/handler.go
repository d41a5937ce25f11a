package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	biocore "github.com/goliatone/go-biocore"
)

// Handler runs work under a timeout/deadline with retries. Work that outlives
// its timeout is abandoned, not interrupted: the goroutine keeps running but
// its result is discarded.
type Handler struct {
	mu sync.Mutex

	name          string
	logger        biocore.Logger
	errorHandler  func(error)
	doneHandler   func(r *Handler)
	retryStrategy RetryStrategy

	EntryID        int
	runs           int
	successfulRuns int

	maxRuns     int
	maxRetries  int
	timeout     time.Duration
	deadline    time.Time
	runOnce     bool
	exitOnError bool
	failed      bool
}

// NewHandler constructs a handler from options, applying defaults if unset.
func NewHandler(opts ...Option) *Handler {
	h := &Handler{
		name:          "handler",
		logger:        biocore.NewFmtLogger(nil),
		retryStrategy: NoDelayStrategy{},
	}
	h.errorHandler = func(err error) {
		h.logger.Error("%s error: %v", h.name, err)
	}
	h.doneHandler = func(r *Handler) {
		h.logger.Debug("%s done: %d", r.name, r.EntryID)
	}
	for _, o := range opts {
		if o != nil {
			o(h)
		}
	}
	return h
}

// FromConfig maps a HandlerConfig onto handler options.
func FromConfig(cfg biocore.HandlerConfig) []Option {
	opts := []Option{
		WithMaxRetries(cfg.MaxRetries),
		WithMaxRuns(cfg.MaxRuns),
		WithRunOnce(cfg.RunOnce),
		WithDeadline(cfg.Deadline),
	}
	if !cfg.NoTimeout {
		opts = append(opts, WithTimeout(cfg.Timeout))
	}
	return opts
}

// Run executes fn, retrying retryable failures, and returns the final error.
// A skipped run (run-once or max-runs reached) returns nil.
func (h *Handler) Run(ctx context.Context, fn func(context.Context) error) error {
	h.mu.Lock()
	if h.runOnce && h.successfulRuns >= 1 {
		h.mu.Unlock()
		return nil
	}
	if h.maxRuns > 0 && h.successfulRuns >= h.maxRuns {
		h.mu.Unlock()
		return nil
	}
	if h.exitOnError && h.failed {
		h.mu.Unlock()
		return nil
	}
	maxRetries := h.maxRetries
	strategy := h.retryStrategy
	h.mu.Unlock()

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = h.attempt(ctx, fn)
		if err == nil || ctx.Err() != nil || attempt == maxRetries {
			break
		}
		decision := DecideRetry(strategy, attempt, err)
		if !decision.ShouldRetry {
			break
		}
		h.errorHandler(biocore.NewError(
			biocore.ErrHandlerError,
			fmt.Sprintf("%s failed, attempt %d of %d", h.name, attempt+1, maxRetries+1),
			err,
			decision.Metadata,
		))
		if decision.Delay > 0 && !sleep(ctx, decision.Delay) {
			err = ctx.Err()
			break
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.runs++
	if err == nil {
		h.successfulRuns++
	} else {
		h.failed = true
		h.errorHandler(err)
	}
	if h.maxRuns > 0 && h.successfulRuns >= h.maxRuns {
		h.doneHandler(h)
	}
	return err
}

func (h *Handler) attempt(parent context.Context, fn func(context.Context) error) error {
	ctx, cancel := h.contextWithSettings(parent)
	defer cancel()

	if _, bounded := ctx.Deadline(); !bounded {
		return biocore.CapturePanic(h.name, func() error { return fn(ctx) })
	}

	done := make(chan error, 1)
	go func() {
		done <- biocore.CapturePanic(h.name, func() error { return fn(ctx) })
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return biocore.NewError(
				biocore.ErrHandlerTimeout,
				fmt.Sprintf("%s exceeded its time budget", h.name),
				ctx.Err(),
				map[string]any{"timeout_ms": h.timeout.Milliseconds()},
			)
		}
		return ctx.Err()
	}
}

func (h *Handler) contextWithSettings(parent context.Context) (context.Context, context.CancelFunc) {
	switch {
	case h.timeout > 0 && !h.deadline.IsZero():
		ctx, cancelTimeout := context.WithTimeout(parent, h.timeout)
		ctxDeadline, cancelDeadline := context.WithDeadline(ctx, h.deadline)
		return ctxDeadline, func() {
			cancelDeadline()
			cancelTimeout()
		}
	case h.timeout > 0:
		return context.WithTimeout(parent, h.timeout)
	case !h.deadline.IsZero():
		return context.WithDeadline(parent, h.deadline)
	default:
		return parent, func() {}
	}
}

// Runs reports total and successful runs.
func (h *Handler) Runs() (total, successful int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.runs, h.successfulRuns
}

// Retryable reports whether err is worth another attempt. Domain rejections
// are final; handler failures, timeouts and version conflicts are not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch biocore.ErrorCode(err) {
	case biocore.CodeInvalidTransition,
		biocore.CodeConditionNotMet,
		biocore.CodeMissingRequiredField,
		biocore.CodeEntityNotFound,
		biocore.CodeInvalidMessage,
		biocore.CodeInvalidConfig,
		biocore.CodeUnknownConflict:
		return false
	}
	return !errors.Is(err, context.Canceled)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
