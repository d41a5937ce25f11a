package flow

import (
	"context"
	"strings"
	"time"

	biocore "github.com/goliatone/go-biocore"
)

// TransitionPhase identifies lifecycle event emission points.
type TransitionPhase string

const (
	TransitionPhaseAttempted TransitionPhase = "attempted"
	TransitionPhaseCommitted TransitionPhase = "committed"
	TransitionPhaseRejected  TransitionPhase = "rejected"
)

// HookFailureMode controls lifecycle-hook error behavior. Only attempted
// hooks can veto a transition; committed and rejected hooks always log.
type HookFailureMode string

const (
	HookFailureModeFailOpen   HookFailureMode = "fail_open"
	HookFailureModeFailClosed HookFailureMode = "fail_closed"
)

// TransitionEvent captures auditable transition metadata.
type TransitionEvent[S Status] struct {
	Phase        TransitionPhase
	Kind         string
	EntityID     string
	From         S
	To           S
	Version      int
	ErrorCode    string
	ErrorMessage string
	Record       StateTransition[S]
	Metadata     map[string]any
	OccurredAt   time.Time
	Entity       any
}

// Topic is the message topic for a committed transition, e.g. "order.paid".
func (e TransitionEvent[S]) Topic() string {
	return e.Kind + "." + string(e.To)
}

// Hook receives transition lifecycle events.
type Hook[S Status] interface {
	Notify(ctx context.Context, evt TransitionEvent[S]) error
}

// HookFunc adapts a function to Hook.
type HookFunc[S Status] func(ctx context.Context, evt TransitionEvent[S]) error

func (f HookFunc[S]) Notify(ctx context.Context, evt TransitionEvent[S]) error {
	return f(ctx, evt)
}

// Hooks is a fan-out collection.
type Hooks[S Status] []Hook[S]

func normalizeHookFailureMode(mode HookFailureMode) HookFailureMode {
	switch HookFailureMode(strings.ToLower(strings.TrimSpace(string(mode)))) {
	case HookFailureModeFailClosed:
		return HookFailureModeFailClosed
	default:
		return HookFailureModeFailOpen
	}
}

func fanoutHooks[S Status](
	ctx context.Context,
	hooks Hooks[S],
	evt TransitionEvent[S],
	mode HookFailureMode,
	logger biocore.Logger,
) error {
	if len(hooks) == 0 {
		return nil
	}
	mode = normalizeHookFailureMode(mode)
	fields := map[string]any{
		"entity_kind": evt.Kind,
		"entity_id":   evt.EntityID,
		"from":        string(evt.From),
		"to":          string(evt.To),
		"phase":       string(evt.Phase),
	}
	logger = biocore.WithLoggerFields(biocore.NormalizeLogger(logger).WithContext(ctx), fields)

	for idx, hook := range hooks {
		if hook == nil {
			continue
		}
		err := biocore.CapturePanic("lifecycle hook", func() error {
			return hook.Notify(ctx, cloneEvent(evt))
		})
		if err == nil {
			continue
		}
		if mode == HookFailureModeFailClosed && evt.Phase == TransitionPhaseAttempted {
			return biocore.NewError(biocore.ErrConditionNotMet, "lifecycle hook vetoed transition", err, fields)
		}
		logger.Warn("lifecycle hook failed at index=%d: %v", idx, err)
	}
	return nil
}

func cloneEvent[S Status](evt TransitionEvent[S]) TransitionEvent[S] {
	evt.Metadata = copyMap(evt.Metadata)
	return evt
}
