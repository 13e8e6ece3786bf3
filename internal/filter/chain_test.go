package filter

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/tkingovr/iochain/api"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newChain instantiates a chain with the named taps, recording into rec.
func newTestChain(t *testing.T, rec *recorder, names []string, opts ...Option) *Chain {
	t.Helper()
	b := NewBuilder()
	for _, n := range names {
		require.NoError(t, b.AddLast(n, tap(rec, n)))
	}
	c, err := b.Instantiate(append([]Option{WithLogger(newTestLogger())}, opts...)...)
	require.NoError(t, err)
	return c
}

func TestChain_DispatchOrder(t *testing.T) {
	rec := &recorder{}
	c := newTestChain(t, rec, []string{"A", "B", "C"},
		WithInbound(func(_ context.Context, ev *Event) error {
			rec.add("app:" + string(ev.Kind))
			return nil
		}),
		WithOutbound(func(_ context.Context, ev *Event) error {
			rec.add("wire:" + string(ev.Kind))
			return nil
		}),
	)
	ctx := context.Background()

	require.NoError(t, c.FireIngress(ctx, api.EventRead, []byte("x")))
	assert.Equal(t, []string{"A", "B", "C", "app:read"}, rec.list())

	rec.seen = nil
	require.NoError(t, c.FireEgress(ctx, api.EventWrite, []byte("y")))
	assert.Equal(t, []string{"C", "B", "A", "wire:write"}, rec.list())
}

func TestChain_CodecThenLogicScenario(t *testing.T) {
	var calls []string
	var logicSaw any

	b := NewBuilder()
	require.NoError(t, b.AddLast("codec", Func(func(_ context.Context, ev *Event) (Outcome, error) {
		calls = append(calls, "codec")
		if raw, ok := ev.Payload.([]byte); ok {
			ev.Payload = string(raw)
		}
		return Forward, nil
	})))
	require.NoError(t, b.AddLast("logic", Func(func(_ context.Context, ev *Event) (Outcome, error) {
		calls = append(calls, "logic")
		logicSaw = ev.Payload
		return Forward, nil
	})))

	c, err := b.Instantiate(WithLogger(newTestLogger()))
	require.NoError(t, err)
	assert.Equal(t, []string{"codec", "logic"}, c.Names())

	require.NoError(t, c.FireIngress(context.Background(), api.EventRead, []byte("hello")))
	assert.Equal(t, []string{"codec", "logic"}, calls)
	assert.Equal(t, "hello", logicSaw)
}

func TestChain_SwallowShortCircuits(t *testing.T) {
	rec := &recorder{}
	delivered := false

	b := NewBuilder()
	require.NoError(t, b.AddLast("A", tap(rec, "A")))
	require.NoError(t, b.AddLast("B", Func(func(context.Context, *Event) (Outcome, error) {
		rec.add("B")
		return Swallow, nil
	})))
	require.NoError(t, b.AddLast("C", tap(rec, "C")))

	c, err := b.Instantiate(WithInbound(func(context.Context, *Event) error {
		delivered = true
		return nil
	}))
	require.NoError(t, err)

	require.NoError(t, c.FireIngress(context.Background(), api.EventRead, nil))
	assert.Equal(t, []string{"A", "B"}, rec.list())
	assert.False(t, delivered)
}

func TestChain_ErrorPropagation(t *testing.T) {
	rec := &recorder{}
	cause := errors.New("boom")

	var handled []*FilterError
	b := NewBuilder()
	require.NoError(t, b.AddLast("A", tap(rec, "A")))
	require.NoError(t, b.AddLast("B", Func(func(context.Context, *Event) (Outcome, error) {
		rec.add("B")
		return Forward, cause
	})))
	require.NoError(t, b.AddLast("C", tap(rec, "C")))

	c, err := b.Instantiate(WithErrorHandler(func(_ context.Context, fe *FilterError) {
		handled = append(handled, fe)
	}))
	require.NoError(t, err)

	err = c.FireIngress(context.Background(), api.EventRead, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)

	var fe *FilterError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "B", fe.Filter)
	assert.Equal(t, api.DirectionIngress, fe.Direction)
	assert.Equal(t, api.EventRead, fe.Kind)
	assert.Same(t, c, fe.Chain())

	assert.Equal(t, []string{"A", "B"}, rec.list())
	require.Len(t, handled, 1)
	assert.Same(t, fe, handled[0])

	// the chain stays usable for later events
	rec.seen = nil
	_, err = c.Remove("B")
	require.NoError(t, err)
	require.NoError(t, c.FireIngress(context.Background(), api.EventRead, nil))
	assert.Equal(t, []string{"A", "C"}, rec.list())
}

func TestChain_PanicBecomesFilterError(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.AddLast("bad", Func(func(context.Context, *Event) (Outcome, error) {
		panic("kaboom")
	})))
	c, err := b.Instantiate(WithLogger(newTestLogger()))
	require.NoError(t, err)

	err = c.FireIngress(context.Background(), api.EventRead, nil)
	assert.ErrorIs(t, err, ErrFilterPanic)
	assert.ErrorContains(t, err, "kaboom")
}

func TestChain_EndpointErrorIsFilterError(t *testing.T) {
	cause := errors.New("write failed")
	c, err := NewBuilder().Instantiate(
		WithLogger(newTestLogger()),
		WithOutbound(func(context.Context, *Event) error { return cause }),
	)
	require.NoError(t, err)

	err = c.FireEgress(context.Background(), api.EventWrite, []byte("x"))
	var fe *FilterError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, OutboundEndpoint, fe.Filter)
	assert.ErrorIs(t, err, cause)
}

func TestChain_MutationDuringDispatchAffectsNextEventOnly(t *testing.T) {
	rec := &recorder{}
	b := NewBuilder()
	require.NoError(t, b.AddLast("A", Func(func(_ context.Context, ev *Event) (Outcome, error) {
		rec.add("A")
		c := ev.Chain()
		if !c.Contains("late") {
			// installs a follow-up filter after itself and removes C
			if err := c.AddAfter("A", "late", tap(rec, "late")); err != nil {
				return Forward, err
			}
			if _, err := c.Remove("C"); err != nil {
				return Forward, err
			}
		}
		return Forward, nil
	})))
	require.NoError(t, b.AddLast("B", tap(rec, "B")))
	require.NoError(t, b.AddLast("C", tap(rec, "C")))

	c, err := b.Instantiate(WithLogger(newTestLogger()))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, c.FireIngress(ctx, api.EventRead, nil))
	assert.Equal(t, []string{"A", "B", "C"}, rec.list())

	rec.seen = nil
	require.NoError(t, c.FireIngress(ctx, api.EventRead, nil))
	assert.Equal(t, []string{"A", "late", "B"}, rec.list())
}

func TestChain_SelfRemovalDuringDispatch(t *testing.T) {
	rec := &recorder{}
	b := NewBuilder()
	require.NoError(t, b.AddLast("once", Func(func(_ context.Context, ev *Event) (Outcome, error) {
		rec.add("once")
		_, err := ev.Chain().Remove(ev.Filter())
		return Forward, err
	})))
	require.NoError(t, b.AddLast("B", tap(rec, "B")))

	c, err := b.Instantiate(WithLogger(newTestLogger()))
	require.NoError(t, err)

	require.NoError(t, c.FireIngress(context.Background(), api.EventRead, nil))
	require.NoError(t, c.FireIngress(context.Background(), api.EventRead, nil))
	assert.Equal(t, []string{"once", "B", "B"}, rec.list())
}

func TestChain_SelfRemovalThenEmit(t *testing.T) {
	rec := &recorder{}
	b := NewBuilder()
	require.NoError(t, b.AddLast("front", tap(rec, "front")))
	require.NoError(t, b.AddLast("handshake", Func(func(ctx context.Context, ev *Event) (Outcome, error) {
		rec.add("handshake")
		if _, err := ev.Chain().Remove(ev.Filter()); err != nil {
			return Forward, err
		}
		if err := ev.Emit(ctx, api.EventRead, "buffered"); err != nil {
			return Forward, err
		}
		if err := ev.Reply(ctx, api.EventWrite, "hello"); err != nil {
			return Forward, err
		}
		return Swallow, nil
	})))
	require.NoError(t, b.AddLast("app", tap(rec, "app")))

	var failures []*FilterError
	c, err := b.Instantiate(
		WithLogger(newTestLogger()),
		WithErrorHandler(func(_ context.Context, fe *FilterError) { failures = append(failures, fe) }),
		WithInbound(func(_ context.Context, ev *Event) error {
			rec.add("in:" + ev.Payload.(string))
			return nil
		}),
		WithOutbound(func(_ context.Context, ev *Event) error {
			rec.add("out:" + ev.Payload.(string))
			return nil
		}),
	)
	require.NoError(t, err)

	require.NoError(t, c.FireIngress(context.Background(), api.EventRead, "raw"))
	assert.Empty(t, failures)
	assert.Equal(t, []string{"front", "handshake", "app", "in:buffered", "front", "out:hello"}, rec.list())
	assert.Equal(t, []string{"front", "app"}, c.Names())

	require.NoError(t, c.FireIngress(context.Background(), api.EventRead, "next"))
	assert.Equal(t, []string{"front", "handshake", "app", "in:buffered", "front", "out:hello", "front", "app", "in:next"}, rec.list())
}

func TestChain_EmitCompletesBeforeOriginalIsForwarded(t *testing.T) {
	rec := &recorder{}
	b := NewBuilder()
	require.NoError(t, b.AddLast("splitter", Func(func(ctx context.Context, ev *Event) (Outcome, error) {
		if ev.Payload == "ab" {
			if err := ev.Emit(ctx, api.EventRead, "a"); err != nil {
				return Forward, err
			}
			if err := ev.Emit(ctx, api.EventRead, "b"); err != nil {
				return Forward, err
			}
		}
		return Forward, nil
	})))
	require.NoError(t, b.AddLast("sink", Func(func(_ context.Context, ev *Event) (Outcome, error) {
		rec.add(ev.Payload.(string))
		return Forward, nil
	})))

	c, err := b.Instantiate(WithLogger(newTestLogger()))
	require.NoError(t, err)

	require.NoError(t, c.FireIngress(context.Background(), api.EventRead, "ab"))
	assert.Equal(t, []string{"a", "b", "ab"}, rec.list())
}

func TestChain_EmitSkipsEarlierEntries(t *testing.T) {
	rec := &recorder{}
	b := NewBuilder()
	require.NoError(t, b.AddLast("A", tap(rec, "A")))
	require.NoError(t, b.AddLast("B", Func(func(ctx context.Context, ev *Event) (Outcome, error) {
		rec.add("B:" + string(ev.Kind))
		if ev.Kind == api.EventRead {
			return Swallow, ev.Emit(ctx, api.EventIdle, nil)
		}
		return Forward, nil
	})))
	require.NoError(t, b.AddLast("C", tap(rec, "C")))

	c, err := b.Instantiate(WithLogger(newTestLogger()))
	require.NoError(t, err)

	require.NoError(t, c.FireIngress(context.Background(), api.EventRead, nil))
	assert.Equal(t, []string{"A", "B:read", "C"}, rec.list())
}

func TestChain_ReplyTravelsBackwards(t *testing.T) {
	rec := &recorder{}
	var wire []any

	b := NewBuilder()
	require.NoError(t, b.AddLast("A", tap(rec, "A")))
	require.NoError(t, b.AddLast("B", Func(func(ctx context.Context, ev *Event) (Outcome, error) {
		rec.add("B:" + string(ev.Direction))
		if ev.Direction == api.DirectionIngress {
			return Swallow, ev.Reply(ctx, api.EventWrite, "pong")
		}
		return Forward, nil
	})))
	require.NoError(t, b.AddLast("C", tap(rec, "C")))

	c, err := b.Instantiate(
		WithLogger(newTestLogger()),
		WithOutbound(func(_ context.Context, ev *Event) error {
			wire = append(wire, ev.Payload)
			return nil
		}),
	)
	require.NoError(t, err)

	require.NoError(t, c.FireIngress(context.Background(), api.EventRead, "ping"))
	// B replies: the egress event starts at A, never revisits B or C
	assert.Equal(t, []string{"A", "B:ingress", "A"}, rec.list())
	assert.Equal(t, []any{"pong"}, wire)
}

func TestChain_ReplyFromEndpoint(t *testing.T) {
	rec := &recorder{}
	var wire []any
	c := newTestChain(t, rec, []string{"A", "B"},
		WithInbound(func(ctx context.Context, ev *Event) error {
			if ev.Kind != api.EventRead {
				return nil
			}
			assert.ErrorIs(t, ev.Emit(ctx, api.EventRead, nil), ErrInvalidArgument)
			return ev.Reply(ctx, api.EventWrite, ev.Payload)
		}),
		WithOutbound(func(_ context.Context, ev *Event) error {
			wire = append(wire, ev.Payload)
			return nil
		}),
	)

	require.NoError(t, c.FireIngress(context.Background(), api.EventRead, "echo"))
	assert.Equal(t, []string{"A", "B", "B", "A"}, rec.list())
	assert.Equal(t, []any{"echo"}, wire)
}

func TestChain_NestedErrorDeliveredOnce(t *testing.T) {
	cause := errors.New("inner")
	calls := 0

	b := NewBuilder()
	require.NoError(t, b.AddLast("outer", Func(func(ctx context.Context, ev *Event) (Outcome, error) {
		if ev.Kind == api.EventRead {
			return Forward, ev.Emit(ctx, api.EventIdle, nil)
		}
		return Forward, nil
	})))
	require.NoError(t, b.AddLast("inner", Func(func(_ context.Context, ev *Event) (Outcome, error) {
		if ev.Kind == api.EventIdle {
			return Forward, cause
		}
		return Forward, nil
	})))

	c, err := b.Instantiate(WithErrorHandler(func(context.Context, *FilterError) { calls++ }))
	require.NoError(t, err)

	err = c.FireIngress(context.Background(), api.EventRead, nil)
	var fe *FilterError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "inner", fe.Filter)
	assert.Equal(t, api.EventIdle, fe.Kind)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 1, calls)
}

func TestChain_FireFrom(t *testing.T) {
	rec := &recorder{}
	c := newTestChain(t, rec, []string{"A", "B", "C"})
	ctx := context.Background()

	require.NoError(t, c.FireFrom(ctx, api.DirectionIngress, "A", api.EventRead, nil))
	require.NoError(t, c.FireFrom(ctx, api.DirectionEgress, "C", api.EventWrite, nil))
	assert.Equal(t, []string{"B", "C", "B", "A"}, rec.list())

	assert.ErrorIs(t, c.FireFrom(ctx, api.DirectionIngress, "ghost", api.EventRead, nil), ErrNotFound)
	assert.ErrorIs(t, c.FireFrom(ctx, "sideways", "", api.EventRead, nil), ErrInvalidArgument)
}

// lifecycleFilter records hook calls.
type lifecycleFilter struct {
	mu      sync.Mutex
	events  []string
	failAdd bool
}

func (f *lifecycleFilter) Process(context.Context, *Event) (Outcome, error) { return Forward, nil }

func (f *lifecycleFilter) OnAdded(_ *Chain, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAdd {
		return errors.New("refused")
	}
	f.events = append(f.events, "added:"+name)
	return nil
}

func (f *lifecycleFilter) OnRemoved(_ *Chain, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "removed:"+name)
}

func (f *lifecycleFilter) list() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func TestChain_LifecycleHooks(t *testing.T) {
	lf := &lifecycleFilter{}
	b := NewBuilder()
	require.NoError(t, b.AddLast("lf", lf))
	assert.Empty(t, lf.list(), "builders never call hooks")

	c, err := b.Instantiate(WithLogger(newTestLogger()))
	require.NoError(t, err)
	assert.Equal(t, []string{"added:lf"}, lf.list())

	require.NoError(t, c.AddLast("again", lf))
	_, err = c.Remove("lf")
	require.NoError(t, err)
	require.NoError(t, c.Close())

	assert.Equal(t, []string{"added:lf", "added:again", "removed:lf", "removed:again"}, lf.list())
}

func TestChain_LifecycleRefusalRollsBack(t *testing.T) {
	c, err := NewBuilder().Instantiate(WithLogger(newTestLogger()))
	require.NoError(t, err)

	err = c.AddLast("lf", &lifecycleFilter{failAdd: true})
	require.Error(t, err)
	assert.False(t, c.Contains("lf"))

	b := NewBuilder()
	good := &lifecycleFilter{}
	require.NoError(t, b.AddLast("good", good))
	require.NoError(t, b.AddLast("bad", &lifecycleFilter{failAdd: true}))
	_, err = b.Instantiate(WithLogger(newTestLogger()))
	require.Error(t, err)
	assert.Equal(t, []string{"added:good", "removed:good"}, good.list())
}

func TestChain_CloseStateMachine(t *testing.T) {
	rec := &recorder{}
	c := newTestChain(t, rec, []string{"A"})
	ctx := context.Background()

	assert.Equal(t, StateCreated, c.State())
	require.NoError(t, c.FireIngress(ctx, api.EventOpen, nil))
	assert.Equal(t, StateActive, c.State())

	require.NoError(t, c.Close())
	require.NoError(t, c.Wait(ctx))
	assert.Equal(t, StateClosed, c.State())

	assert.ErrorIs(t, c.FireIngress(ctx, api.EventRead, nil), ErrChainClosed)
	assert.ErrorIs(t, c.FireEgress(ctx, api.EventWrite, nil), ErrChainClosed)
	assert.ErrorIs(t, c.AddLast("B", nop()), ErrChainClosed)
	_, err := c.Remove("A")
	assert.ErrorIs(t, err, ErrChainClosed)
	assert.False(t, c.Contains("A"))
	assert.Zero(t, c.Len())

	// closing twice is harmless
	assert.NoError(t, c.Close())
}

func TestChain_CloseDrainsInFlight(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})

	b := NewBuilder()
	require.NoError(t, b.AddLast("slow", Func(func(context.Context, *Event) (Outcome, error) {
		close(entered)
		<-release
		return Forward, nil
	})))
	c, err := b.Instantiate(WithLogger(newTestLogger()))
	require.NoError(t, err)
	ctx := context.Background()

	fired := make(chan error, 1)
	go func() { fired <- c.FireIngress(ctx, api.EventRead, nil) }()
	<-entered

	require.NoError(t, c.Close())
	assert.Equal(t, StateClosing, c.State())
	assert.ErrorIs(t, c.FireIngress(ctx, api.EventRead, nil), ErrChainClosed)

	// mutations are still accepted while draining
	require.NoError(t, c.AddLast("late", nop()))

	select {
	case <-c.Done():
		t.Fatal("chain closed before the in-flight event finished")
	default:
	}

	close(release)
	require.NoError(t, <-fired)

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, c.Wait(waitCtx))
	assert.Equal(t, StateClosed, c.State())
}

func TestChain_WaitHonoursContext(t *testing.T) {
	c, err := NewBuilder().Instantiate()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.Wait(ctx), context.Canceled)
}

func TestChain_Attributes(t *testing.T) {
	c, err := NewBuilder().Instantiate()
	require.NoError(t, err)

	_, ok := c.Attr("k")
	assert.False(t, ok)

	c.SetAttr("k", 1)
	v, ok := c.Attr("k")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	assert.Equal(t, 1, c.AttrOrStore("k", 2))
	assert.Equal(t, 3, c.AttrOrStore("other", 3))

	c.DeleteAttr("k")
	_, ok = c.Attr("k")
	assert.False(t, ok)
}

type testSession struct{ id, remote string }

func (s testSession) ID() string         { return s.id }
func (s testSession) RemoteAddr() string { return s.remote }

func TestChain_SessionVisibleToFilters(t *testing.T) {
	var gotID, gotRemote string
	b := NewBuilder()
	require.NoError(t, b.AddLast("peek", Func(func(_ context.Context, ev *Event) (Outcome, error) {
		gotID, gotRemote = ev.SessionID(), ev.RemoteAddr()
		return Forward, nil
	})))

	c, err := b.Instantiate(WithSession(testSession{"s-1", "192.0.2.1:9"}), WithID("chain-1"))
	require.NoError(t, err)
	require.NoError(t, c.FireIngress(context.Background(), api.EventOpen, nil))

	assert.Equal(t, "s-1", gotID)
	assert.Equal(t, "192.0.2.1:9", gotRemote)
	assert.Equal(t, "chain-1", c.ID())
}

type countingObserver struct {
	mu          sync.Mutex
	transitions []string
	results     []Result
	failures    int
}

func (o *countingObserver) StateChanged(_ *Chain, from, to State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, from.String()+">"+to.String())
}

func (o *countingObserver) Dispatched(_ *Chain, _ *Event, r Result, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results = append(o.results, r)
}

func (o *countingObserver) FilterFailed(*Chain, *FilterError) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures++
}

func TestChain_Observer(t *testing.T) {
	obs := &countingObserver{}
	b := NewBuilder()
	require.NoError(t, b.AddLast("gate", Func(func(_ context.Context, ev *Event) (Outcome, error) {
		switch ev.Kind {
		case api.EventIdle:
			return Swallow, nil
		case api.EventError:
			return Forward, errors.New("bad")
		}
		return Forward, nil
	})))
	c, err := b.Instantiate(WithObserver(obs), WithLogger(newTestLogger()))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, c.FireIngress(ctx, api.EventRead, nil))
	require.NoError(t, c.FireIngress(ctx, api.EventIdle, nil))
	require.Error(t, c.FireIngress(ctx, api.EventError, nil))
	require.NoError(t, c.Close())

	assert.Equal(t, []Result{ResultDelivered, ResultSwallowed, ResultFailed}, obs.results)
	assert.Equal(t, 1, obs.failures)
	assert.Equal(t, []string{"created>active", "active>closing", "closing>closed"}, obs.transitions)
}

func TestChain_TracesDispatch(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	b := NewBuilder()
	require.NoError(t, b.AddLast("fail", Func(func(context.Context, *Event) (Outcome, error) {
		return Forward, errors.New("nope")
	})))
	c, err := b.Instantiate(WithTracer(tp.Tracer("test")), WithLogger(newTestLogger()))
	require.NoError(t, err)

	require.Error(t, c.FireIngress(context.Background(), api.EventRead, nil))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "chain.dispatch", spans[0].Name())
	assert.Equal(t, "Error", spans[0].Status().Code.String())
}

func TestChain_ConcurrentFireAndMutate(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.AddLast("a", nop()))
	c, err := b.Instantiate(WithLogger(newTestLogger()))
	require.NoError(t, err)
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				assert.NoError(t, c.FireIngress(ctx, api.EventRead, nil))
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_ = c.AddLast("tmp", nop())
			_, _ = c.Remove("tmp")
		}
	}()
	wg.Wait()

	assert.Equal(t, []string{"a"}, c.Names())
}
