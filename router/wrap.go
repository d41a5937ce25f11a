package router

import (
	"context"
	"time"

	biocore "github.com/goliatone/go-biocore"
)

// Outcome is the standard result envelope produced by Wrap.
type Outcome struct {
	Status           string `json:"status"`
	Module           string `json:"module"`
	Data             any    `json:"data,omitempty"`
	Error            string `json:"error,omitempty"`
	ProcessingTimeMs int64  `json:"processing_time_ms"`
}

const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

func (o Outcome) Failed() bool { return o.Status == OutcomeError }

type wrapConfig struct {
	logger  biocore.Logger
	tracker Tracker
}

type WrapOption func(*wrapConfig)

func WrapLogger(l biocore.Logger) WrapOption {
	return func(c *wrapConfig) { c.logger = l }
}

func WrapTracker(t Tracker) WrapOption {
	return func(c *wrapConfig) { c.tracker = t }
}

// Wrap builds a Handler that records activity, logs, measures elapsed time and
// turns errors and panics into an error Outcome instead of propagating them.
func Wrap(module Module, fn func(ctx context.Context, msg BioMessage) (any, error), opts ...WrapOption) Handler {
	cfg := wrapConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	logger := biocore.WithLoggerFields(biocore.NormalizeLogger(cfg.logger), map[string]any{"module": module.String()})

	return HandlerFunc(func(ctx context.Context, msg BioMessage) (any, error) {
		start := time.Now()
		if cfg.tracker != nil {
			cfg.tracker.TrackModuleActivity(module.String())
		}

		var data any
		err := biocore.CapturePanic(module.String(), func() error {
			var err error
			data, err = fn(ctx, msg)
			return err
		})
		elapsed := time.Since(start).Milliseconds()

		if err != nil {
			logger.WithContext(ctx).Error("%s failed on %s message %s after %dms: %s",
				module, msg.Type, msg.ID, elapsed, biocore.ErrorMessage(err))
			return Outcome{
				Status:           OutcomeError,
				Module:           module.String(),
				Error:            biocore.ErrorMessage(err),
				ProcessingTimeMs: elapsed,
			}, nil
		}
		logger.WithContext(ctx).Debug("%s handled %s message %s in %dms", module, msg.Type, msg.ID, elapsed)
		return Outcome{
			Status:           OutcomeSuccess,
			Module:           module.String(),
			Data:             data,
			ProcessingTimeMs: elapsed,
		}, nil
	})
}
