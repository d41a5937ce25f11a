package router

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	biocore "github.com/goliatone/go-biocore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingTracker struct {
	mu           sync.Mutex
	activity     map[string]int
	interactions []string
}

func newRecordingTracker() *recordingTracker {
	return &recordingTracker{activity: make(map[string]int)}
}

func (r *recordingTracker) TrackModuleActivity(module string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activity[module]++
}

func (r *recordingTracker) TrackInteraction(from, to, msgType, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.interactions = append(r.interactions, from+">"+to+":"+msgType+":"+outcome)
}

func quietRouter(opts ...Option) *Router {
	return New(append([]Option{WithLogger(biocore.NewFmtLogger(io.Discard))}, opts...)...)
}

func mustMessage(t *testing.T, source Module, targets []Module, typ MessageType) BioMessage {
	t.Helper()
	msg, err := NewMessage(source, targets, typ, map[string]any{"order_id": "o-1"})
	require.NoError(t, err)
	return msg
}

func echo(module Module) Handler {
	return HandlerFunc(func(_ context.Context, msg BioMessage) (any, error) {
		return module.String() + ":" + msg.Text("order_id"), nil
	})
}

func TestSendToUnregisteredTargetReturnsNothing(t *testing.T) {
	r := quietRouter()
	msg := mustMessage(t, Mycelium, []Module{Cephalopod}, TypeRequest)

	var responses []Response
	assert.NotPanics(t, func() { responses = r.Send(context.Background(), msg) })
	assert.Empty(t, responses)
}

func TestSendOnlyRegisteredTargetsInTargetOrder(t *testing.T) {
	tracker := newRecordingTracker()
	r := quietRouter(WithTracker(tracker))
	require.NoError(t, r.RegisterHandler(Swarm, echo(Swarm)))
	require.NoError(t, r.RegisterHandler(Arachnid, echo(Arachnid)))

	msg := mustMessage(t, Mycelium, []Module{Swarm, Cephalopod, Arachnid, Swarm}, TypeAlert)
	assert.Equal(t, []Module{Swarm, Cephalopod, Arachnid}, msg.Targets, "targets are deduplicated")

	responses := r.Send(context.Background(), msg)
	require.Len(t, responses, 2)
	assert.Equal(t, Swarm, responses[0].Module)
	assert.Equal(t, "swarm:o-1", responses[0].Result)
	assert.Equal(t, "arachnid", responses[1].RespondedBy)
	for _, resp := range responses {
		assert.True(t, resp.Success)
		assert.False(t, resp.Timestamp.IsZero())
	}
	assert.Len(t, tracker.interactions, 2)
}

func TestRegisterReplacesAndUnregisterRemoves(t *testing.T) {
	r := quietRouter()
	require.NoError(t, r.RegisterHandler(Chameleon, echo(Chameleon)))
	require.NoError(t, r.RegisterHandler(Chameleon, HandlerFunc(func(context.Context, BioMessage) (any, error) {
		return "replacement", nil
	})))
	msg := mustMessage(t, Arachnid, []Module{Chameleon}, TypeCommand)

	responses := r.Send(context.Background(), msg)
	require.Len(t, responses, 1)
	assert.Equal(t, "replacement", responses[0].Result)

	r.UnregisterHandler(Chameleon)
	assert.Empty(t, r.Send(context.Background(), msg))
	assert.Empty(t, r.Registered())

	assert.Error(t, r.RegisterHandler(Module(0), echo(Arachnid)))
	assert.Error(t, r.RegisterHandler(Arachnid, nil))
}

func TestHandlerFailureIsolated(t *testing.T) {
	r := quietRouter()
	require.NoError(t, r.RegisterHandler(Arachnid, HandlerFunc(func(context.Context, BioMessage) (any, error) {
		return nil, errors.New("fraud service unavailable")
	})))
	require.NoError(t, r.RegisterHandler(Tardigrade, HandlerFunc(func(context.Context, BioMessage) (any, error) {
		panic("tardigrade exploded")
	})))
	require.NoError(t, r.RegisterHandler(Swarm, echo(Swarm)))

	msg := mustMessage(t, Mycelium, []Module{Arachnid, Tardigrade, Swarm}, TypeValidate)
	responses := r.Send(context.Background(), msg)
	require.Len(t, responses, 3)

	assert.False(t, responses[0].Success)
	assert.Equal(t, "fraud service unavailable", responses[0].Error)
	assert.Equal(t, biocore.CodeHandlerError, responses[0].Code)

	assert.False(t, responses[1].Success)
	assert.Equal(t, biocore.CodeHandlerError, responses[1].Code)
	assert.Contains(t, responses[1].Error, "tardigrade exploded")

	assert.True(t, responses[2].Success)
}

func TestHandlerTimeoutIsFailedResponse(t *testing.T) {
	r := quietRouter(WithHandlerTimeout(20 * time.Millisecond))
	block := make(chan struct{})
	defer close(block)
	require.NoError(t, r.RegisterHandler(Cephalopod, HandlerFunc(func(context.Context, BioMessage) (any, error) {
		<-block
		return "late", nil
	})))
	require.NoError(t, r.RegisterHandler(AntColony, echo(AntColony)))

	msg := mustMessage(t, Mycelium, []Module{Cephalopod, AntColony}, TypeRequest)
	start := time.Now()
	responses := r.Send(context.Background(), msg)
	assert.Less(t, time.Since(start), time.Second)

	require.Len(t, responses, 2)
	assert.False(t, responses[0].Success)
	assert.Equal(t, biocore.CodeHandlerTimeout, responses[0].Code)
	assert.Nil(t, responses[0].Result)
	assert.True(t, responses[1].Success)
}

func TestSendFansOutConcurrently(t *testing.T) {
	r := quietRouter()
	var inFlight, peak atomic.Int32
	gate := make(chan struct{})
	var arrived sync.WaitGroup
	arrived.Add(3)
	slow := func(context.Context, BioMessage) (any, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		arrived.Done()
		<-gate
		inFlight.Add(-1)
		return nil, nil
	}
	for _, m := range []Module{Arachnid, Chameleon, Swarm} {
		require.NoError(t, r.RegisterHandler(m, HandlerFunc(slow)))
	}
	go func() {
		arrived.Wait()
		close(gate)
	}()

	msg := mustMessage(t, Mycelium, []Module{Arachnid, Chameleon, Swarm}, TypeCoordinate)
	responses := r.Send(context.Background(), msg)
	assert.Len(t, responses, 3)
	assert.Equal(t, int32(3), peak.Load())
}

func TestSendUsesHandlerSnapshot(t *testing.T) {
	r := quietRouter()
	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, r.RegisterHandler(Arachnid, HandlerFunc(func(context.Context, BioMessage) (any, error) {
		close(started)
		<-release
		return "original", nil
	})))

	msg := mustMessage(t, Mycelium, []Module{Arachnid}, TypeAlert)
	done := make(chan []Response)
	go func() { done <- r.Send(context.Background(), msg) }()

	<-started
	r.UnregisterHandler(Arachnid)
	close(release)

	responses := <-done
	require.Len(t, responses, 1)
	assert.Equal(t, "original", responses[0].Result)
}

func TestNewMessageValidation(t *testing.T) {
	_, err := NewMessage(Arachnid, nil, TypeAlert, nil)
	assert.True(t, biocore.HasCode(err, biocore.CodeInvalidMessage))

	_, err = NewMessage(Arachnid, []Module{Swarm}, MessageType("shout"), nil)
	assert.True(t, biocore.HasCode(err, biocore.CodeInvalidMessage))

	_, err = NewMessage(Module(42), []Module{Swarm}, TypeAlert, nil)
	assert.True(t, biocore.HasCode(err, biocore.CodeInvalidMessage))

	payload := map[string]any{"k": "v"}
	msg, err := NewMessage(Arachnid, []Module{Swarm}, TypeAlert, payload)
	require.NoError(t, err)
	payload["k"] = "changed"
	assert.Equal(t, "v", msg.Text("k"))
	assert.NotEmpty(t, msg.ID)
}

func TestModuleTextRoundTrip(t *testing.T) {
	for _, m := range Modules() {
		text, err := m.MarshalText()
		require.NoError(t, err)
		var back Module
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, m, back)
	}
	assert.Len(t, Modules(), 7)
	_, err := ParseModule("octopus")
	assert.Error(t, err)
}

func TestWrapStandardizesOutcome(t *testing.T) {
	tracker := newRecordingTracker()
	r := quietRouter(WithTracker(tracker))
	logger := biocore.NewFmtLogger(io.Discard)

	require.NoError(t, r.RegisterHandler(Chameleon, Wrap(Chameleon, func(_ context.Context, msg BioMessage) (any, error) {
		return map[string]any{"action": "adjust_price"}, nil
	}, WrapLogger(logger), WrapTracker(tracker))))
	require.NoError(t, r.RegisterHandler(Arachnid, Wrap(Arachnid, func(context.Context, BioMessage) (any, error) {
		return nil, errors.New("score unavailable")
	}, WrapLogger(logger), WrapTracker(tracker))))

	msg := mustMessage(t, Mycelium, []Module{Chameleon, Arachnid}, TypeAlert)
	responses := r.Send(context.Background(), msg)
	require.Len(t, responses, 2)

	out, ok := responses[0].Result.(Outcome)
	require.True(t, ok)
	assert.Equal(t, OutcomeSuccess, out.Status)
	assert.Equal(t, "chameleon", out.Module)

	assert.False(t, responses[1].Success)
	assert.Equal(t, "score unavailable", responses[1].Error)

	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	assert.Equal(t, 1, tracker.activity["chameleon"])
	assert.Equal(t, 1, tracker.activity["arachnid"])
	assert.Contains(t, tracker.interactions, "mycelium>arachnid:alert:error")
}

func TestWrapRecoversPanics(t *testing.T) {
	h := Wrap(Swarm, func(context.Context, BioMessage) (any, error) {
		panic("forecast overflow")
	}, WrapLogger(biocore.NewFmtLogger(io.Discard)))

	res, err := h.Handle(context.Background(), BioMessage{ID: "m"})
	require.NoError(t, err)
	out := res.(Outcome)
	assert.True(t, out.Failed())
	assert.Contains(t, out.Error, "forecast overflow")
}

func TestPublishUsesRoutes(t *testing.T) {
	r := quietRouter()
	r.Routes().Add("invoice.#", Mycelium)
	require.NoError(t, r.RegisterHandler(Mycelium, echo(Mycelium)))

	msg, responses, err := r.Publish(context.Background(), Tardigrade, "invoice.overdue", TypeTrigger, map[string]any{"order_id": "x"})
	require.NoError(t, err)
	assert.Equal(t, "invoice.overdue", msg.Topic)
	require.Len(t, responses, 1)
	assert.Equal(t, "mycelium:x", responses[0].Result)

	_, responses, err = r.Publish(context.Background(), Tardigrade, "user.active", TypeTrigger, nil)
	require.NoError(t, err)
	assert.Empty(t, responses)
}
