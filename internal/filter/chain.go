package filter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tkingovr/iochain/api"
)

const tracerName = "iochain.filter"

// Names under which endpoint failures are reported.
const (
	InboundEndpoint  = "<inbound>"
	OutboundEndpoint = "<outbound>"
)

// State is the lifecycle state of a live chain.
type State int32

const (
	StateCreated State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Session is the view of the owning I/O session available to filters.
type Session interface {
	ID() string
	RemoteAddr() string
}

// Endpoint terminates a direction of travel: the application past the tail
// for ingress, the transport writer past the head for egress.
type Endpoint func(ctx context.Context, ev *Event) error

// ErrorHandler receives every dispatch failure of a chain exactly once.
type ErrorHandler func(ctx context.Context, err *FilterError)

// Option configures a chain at instantiation.
type Option func(*Chain)

// WithID overrides the generated chain ID.
func WithID(id string) Option {
	return func(c *Chain) { c.id = id }
}

// WithLogger sets the chain logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Chain) { c.logger = logger }
}

// WithSession attaches the owning session.
func WithSession(s Session) Option {
	return func(c *Chain) { c.session = s }
}

// WithInbound sets the endpoint reached by ingress events after the tail.
func WithInbound(e Endpoint) Option {
	return func(c *Chain) { c.inbound = e }
}

// WithOutbound sets the endpoint reached by egress events after the head.
func WithOutbound(e Endpoint) Option {
	return func(c *Chain) { c.outbound = e }
}

// WithErrorHandler replaces the default handler, which logs the failure.
func WithErrorHandler(h ErrorHandler) Option {
	return func(c *Chain) { c.onError = h }
}

// WithObserver installs an observer for chain activity.
func WithObserver(o Observer) Option {
	return func(c *Chain) { c.observer = o }
}

// WithTracer sets the tracer used for dispatch spans. The default is the
// global provider's tracer.
func WithTracer(t trace.Tracer) Option {
	return func(c *Chain) { c.tracer = t }
}

// Chain is the live filter chain of one session. It starts as a private copy
// of a Builder and is mutated independently of it afterwards.
//
// Every fired event walks the version of the chain current when it was
// fired, so insertions and removals made while it propagates, including by
// the filter handling it, apply to later events only.
type Chain struct {
	sequence

	id       string
	logger   *slog.Logger
	session  Session
	inbound  Endpoint
	outbound Endpoint
	onError  ErrorHandler
	observer Observer
	tracer   trace.Tracer
	attrs    sync.Map

	mu       sync.Mutex
	state    State
	inflight int
	done     chan struct{}
}

func newChain(v *version, opts ...Option) (*Chain, error) {
	c := &Chain{
		id:       uuid.NewString(),
		logger:   slog.Default(),
		observer: nopObserver{},
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer(tracerName)
	}
	if c.observer == nil {
		c.observer = nopObserver{}
	}

	entries := slices.Clone(v.entries)
	c.cur.Store(newVersion(0, entries))
	for i, e := range entries {
		if err := c.added(e.Name, e.Filter); err != nil {
			for j := i - 1; j >= 0; j-- {
				c.removed(entries[j])
			}
			return nil, err
		}
	}
	return c, nil
}

// ID returns the chain ID.
func (c *Chain) ID() string { return c.id }

// Session returns the owning session, or nil.
func (c *Chain) Session() Session { return c.session }

// Logger returns the chain logger.
func (c *Chain) Logger() *slog.Logger { return c.logger }

// State returns the current lifecycle state.
func (c *Chain) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attr returns the chain attribute stored under key.
func (c *Chain) Attr(key any) (any, bool) {
	return c.attrs.Load(key)
}

// SetAttr stores a chain attribute.
func (c *Chain) SetAttr(key, value any) {
	c.attrs.Store(key, value)
}

// AttrOrStore returns the attribute under key, storing value first if none
// exists yet.
func (c *Chain) AttrOrStore(key, value any) any {
	actual, _ := c.attrs.LoadOrStore(key, value)
	return actual
}

// DeleteAttr removes a chain attribute.
func (c *Chain) DeleteAttr(key any) {
	c.attrs.Delete(key)
}

// AddFirst links f under name at the head.
func (c *Chain) AddFirst(name string, f Filter) error {
	if err := checkEntry(name, f); err != nil {
		return err
	}
	return c.link(name, f, atHead)
}

// AddLast links f under name at the tail.
func (c *Chain) AddLast(name string, f Filter) error {
	if err := checkEntry(name, f); err != nil {
		return err
	}
	return c.link(name, f, atTail)
}

// AddBefore links f under name immediately before base.
func (c *Chain) AddBefore(base, name string, f Filter) error {
	if err := checkBase(base); err != nil {
		return err
	}
	if err := checkEntry(name, f); err != nil {
		return err
	}
	return c.link(name, f, before(base))
}

// AddAfter links f under name immediately after base.
func (c *Chain) AddAfter(base, name string, f Filter) error {
	if err := checkBase(base); err != nil {
		return err
	}
	if err := checkEntry(name, f); err != nil {
		return err
	}
	return c.link(name, f, after(base))
}

// Remove unlinks the entry named name and returns its filter.
func (c *Chain) Remove(name string) (Filter, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty filter name", ErrInvalidArgument)
	}
	return c.unlink(byName(name))
}

// RemoveFilter unlinks the first entry holding f.
func (c *Chain) RemoveFilter(f Filter) (Filter, error) {
	if f == nil {
		return nil, fmt.Errorf("%w: nil filter", ErrInvalidArgument)
	}
	return c.unlink(byFilter(f))
}

// Replace swaps the filter under name for f and returns the previous one.
// If f refuses to be added the previous filter is put back.
func (c *Chain) Replace(name string, f Filter) (Filter, error) {
	if err := checkEntry(name, f); err != nil {
		return nil, err
	}
	old, err := c.replace(name, f)
	if err != nil {
		return nil, err
	}
	if err := c.added(name, f); err != nil {
		_, _ = c.replace(name, old.Filter)
		return nil, err
	}
	c.removed(old)
	return old.Filter, nil
}

// Clear unlinks every entry.
func (c *Chain) Clear() {
	for _, e := range c.clear(false) {
		c.removed(e)
	}
}

func (c *Chain) link(name string, f Filter, at locator) error {
	if err := c.insert(name, f, at); err != nil {
		return err
	}
	if err := c.added(name, f); err != nil {
		_, _ = c.remove(byEntry(name, f))
		return err
	}
	return nil
}

func (c *Chain) unlink(sel selector) (Filter, error) {
	e, err := c.remove(sel)
	if err != nil {
		return nil, err
	}
	c.removed(e)
	return e.Filter, nil
}

func (c *Chain) added(name string, f Filter) error {
	lc, ok := f.(Lifecycle)
	if !ok {
		return nil
	}
	if err := lc.OnAdded(c, name); err != nil {
		return fmt.Errorf("filter %q: on added: %w", name, err)
	}
	return nil
}

func (c *Chain) removed(e Entry) {
	if lc, ok := e.Filter.(Lifecycle); ok {
		lc.OnRemoved(c, e.Name)
	}
}

// FireIngress dispatches an event from the head towards the tail.
func (c *Chain) FireIngress(ctx context.Context, kind api.EventKind, payload any) error {
	return c.fire(ctx, api.DirectionIngress, "", kind, payload)
}

// FireEgress dispatches an event from the tail towards the head.
func (c *Chain) FireEgress(ctx context.Context, kind api.EventKind, payload any) error {
	return c.fire(ctx, api.DirectionEgress, "", kind, payload)
}

// FireFrom dispatches an event in dir starting next to the entry named
// origin. An empty origin starts at the edge of the chain.
func (c *Chain) FireFrom(ctx context.Context, dir api.Direction, origin string, kind api.EventKind, payload any) error {
	if !dir.Valid() {
		return fmt.Errorf("%w: direction %q", ErrInvalidArgument, dir)
	}
	return c.fire(ctx, dir, origin, kind, payload)
}

func (c *Chain) fire(ctx context.Context, dir api.Direction, origin string, kind api.EventKind, payload any) error {
	if err := c.enter(); err != nil {
		return err
	}
	defer c.leave()

	v := c.load()
	i := v.edge(dir)
	if origin != "" {
		j, ok := v.index[origin]
		if !ok {
			return fmt.Errorf("%w: %q", ErrNotFound, origin)
		}
		i = j + stride(dir)
	}
	return c.run(ctx, dir, v, i, kind, payload)
}

// fireAt dispatches an event over the version v starting at position i.
// Events emitted by a filter use it so they walk the same snapshot as the
// event that caused them.
func (c *Chain) fireAt(ctx context.Context, dir api.Direction, v *version, i int, kind api.EventKind, payload any) error {
	if err := c.enter(); err != nil {
		return err
	}
	defer c.leave()
	return c.run(ctx, dir, v, i, kind, payload)
}

func (c *Chain) run(ctx context.Context, dir api.Direction, v *version, i int, kind api.EventKind, payload any) error {
	ctx, span := c.tracer.Start(ctx, "chain.dispatch", trace.WithAttributes(
		attribute.String("chain.id", c.id),
		attribute.String("event.direction", string(dir)),
		attribute.String("event.kind", string(kind)),
	))
	defer span.End()

	ev := &Event{Kind: kind, Direction: dir, Payload: payload, Time: time.Now(), chain: c, snap: v}
	result, err := c.dispatch(ctx, v, i, ev)

	span.SetAttributes(attribute.String("dispatch.result", string(result)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	c.observer.Dispatched(c, ev, result, time.Since(ev.Time))
	return err
}

func (c *Chain) dispatch(ctx context.Context, v *version, i int, ev *Event) (Result, error) {
	step := stride(ev.Direction)
	for ; i >= 0 && i < len(v.entries); i += step {
		e := v.entries[i]
		ev.origin, ev.pos = e.Name, i
		out, err := invoke(ctx, e.Filter, ev)
		if err != nil {
			return ResultFailed, c.fail(ctx, e.Name, ev, err)
		}
		c.logger.Debug("filter executed",
			"chain", c.id,
			"filter", e.Name,
			"direction", ev.Direction,
			"event", ev.Kind,
			"outcome", out,
		)
		if out == Swallow {
			return ResultSwallowed, nil
		}
	}

	ev.origin, ev.pos, ev.terminal = "", i, true
	end, name := c.inbound, InboundEndpoint
	if ev.Direction == api.DirectionEgress {
		end, name = c.outbound, OutboundEndpoint
	}
	if end == nil {
		return ResultDelivered, nil
	}
	if err := invokeEndpoint(ctx, end, ev); err != nil {
		return ResultFailed, c.fail(ctx, name, ev, err)
	}
	return ResultDelivered, nil
}

// stride is the index step of a traversal in dir.
func stride(dir api.Direction) int {
	if dir == api.DirectionEgress {
		return -1
	}
	return 1
}

// edge is the position a traversal in dir starts from when nothing emitted it.
func (v *version) edge(dir api.Direction) int {
	if dir == api.DirectionEgress {
		return len(v.entries) - 1
	}
	return 0
}

func invoke(ctx context.Context, f Filter, ev *Event) (out Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrFilterPanic, r)
		}
	}()
	return f.Process(ctx, ev)
}

func invokeEndpoint(ctx context.Context, end Endpoint, ev *Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrFilterPanic, r)
		}
	}()
	return end(ctx, ev)
}

// fail delivers a dispatch failure to the error path. A FilterError this
// chain already delivered, surfacing again from a nested emission, passes
// through untouched.
func (c *Chain) fail(ctx context.Context, name string, ev *Event, err error) error {
	var fe *FilterError
	if errors.As(err, &fe) && fe.chain == c {
		return fe
	}
	fe = &FilterError{Filter: name, Direction: ev.Direction, Kind: ev.Kind, Err: err, chain: c}
	c.observer.FilterFailed(c, fe)
	if c.onError != nil {
		c.onError(ctx, fe)
		return fe
	}
	c.logger.Error("filter failed",
		"chain", c.id,
		"filter", fe.Filter,
		"direction", fe.Direction,
		"event", fe.Kind,
		"error", fe.Err,
	)
	return fe
}

func (c *Chain) enter() error {
	c.mu.Lock()
	if c.state >= StateClosing {
		c.mu.Unlock()
		return ErrChainClosed
	}
	from := c.state
	c.state = StateActive
	c.inflight++
	c.mu.Unlock()

	if from == StateCreated {
		c.observer.StateChanged(c, StateCreated, StateActive)
	}
	return nil
}

func (c *Chain) leave() {
	c.mu.Lock()
	c.inflight--
	last := c.state == StateClosing && c.inflight == 0
	c.mu.Unlock()

	if last {
		c.finish()
	}
}

// Close stops the chain from accepting new events. Events already in flight
// run to completion; the last of them tears the chain down. Close does not
// wait; use Done or Wait for that.
func (c *Chain) Close() error {
	c.mu.Lock()
	if c.state >= StateClosing {
		c.mu.Unlock()
		return nil
	}
	from := c.state
	c.state = StateClosing
	idle := c.inflight == 0
	c.mu.Unlock()

	c.observer.StateChanged(c, from, StateClosing)
	if idle {
		c.finish()
	}
	return nil
}

func (c *Chain) finish() {
	entries := c.clear(true)

	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()
	c.observer.StateChanged(c, StateClosing, StateClosed)

	for _, e := range entries {
		c.removed(e)
	}
	c.logger.Debug("filter chain closed", "chain", c.id)
	close(c.done)
}

// Done returns a channel closed once the chain reaches StateClosed.
func (c *Chain) Done() <-chan struct{} { return c.done }

// Wait blocks until the chain is closed or ctx ends.
func (c *Chain) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
