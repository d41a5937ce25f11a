package runner

import (
	"time"

	biocore "github.com/goliatone/go-biocore"
)

type Option func(*Handler)

// WithName labels log lines and errors, usually with the module name.
func WithName(name string) Option {
	return func(h *Handler) {
		if name != "" {
			h.name = name
		}
	}
}

func WithTimeout(t time.Duration) Option {
	return func(h *Handler) {
		h.timeout = t
	}
}

func WithDeadline(d time.Time) Option {
	return func(h *Handler) {
		h.deadline = d
	}
}

func WithRunOnce(once bool) Option {
	return func(h *Handler) {
		h.runOnce = once
	}
}

func WithMaxRetries(max int) Option {
	return func(h *Handler) {
		if max < 0 {
			max = 0
		}
		h.maxRetries = max
	}
}

func WithMaxRuns(max int) Option {
	return func(h *Handler) {
		h.maxRuns = max
	}
}

func WithErrorHandler(fn func(error)) Option {
	return func(h *Handler) {
		if fn == nil {
			fn = func(error) {}
		}
		h.errorHandler = fn
	}
}

func WithLogger(l biocore.Logger) Option {
	return func(h *Handler) {
		h.logger = biocore.NormalizeLogger(l)
	}
}

func WithDoneHandler(fn func(*Handler)) Option {
	return func(h *Handler) {
		if fn == nil {
			fn = func(*Handler) {}
		}
		h.doneHandler = fn
	}
}

// WithRetryStrategy sets the delay between retries.
func WithRetryStrategy(s RetryStrategy) Option {
	return func(h *Handler) {
		h.retryStrategy = s
	}
}

// WithExitOnError stops the handler from running again after a failed run.
func WithExitOnError(exit bool) Option {
	return func(h *Handler) {
		h.exitOnError = exit
	}
}
