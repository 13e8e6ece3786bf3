package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tkingovr/iochain/api"
	"github.com/tkingovr/iochain/internal/filter"
)

// SessionConfig is what a session needs besides its connection.
type SessionConfig struct {
	// Builder is the template the session's chain is instantiated from.
	Builder *filter.Builder

	// App receives ingress events that pass the whole chain. Nil discards
	// them.
	App filter.Endpoint

	// Transport names the kind of connection, e.g. "tcp".
	Transport string

	// IdleTimeout fires an idle event after this long without a read.
	// Zero disables idle events.
	IdleTimeout time.Duration

	Logger   *slog.Logger
	Observer filter.Observer
}

// Session is one connection together with its live filter chain.
//
// Run fires open, one read per received chunk, idle after every quiet
// IdleTimeout, and close when the connection ends. A dispatch failure closes
// the session.
type Session struct {
	id          string
	conn        Conn
	chain       *filter.Chain
	logger      *slog.Logger
	transport   string
	idleTimeout time.Duration
	openedAt    time.Time

	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}
}

// NewSession instantiates the session's chain from cfg.Builder.
func NewSession(conn Conn, cfg SessionConfig) (*Session, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		id:          uuid.NewString(),
		conn:        conn,
		transport:   cfg.Transport,
		idleTimeout: cfg.IdleTimeout,
		openedAt:    time.Now(),
		closed:      make(chan struct{}),
		done:        make(chan struct{}),
	}
	s.logger = logger.With("session", s.id)

	app := cfg.App
	if app == nil {
		app = Discard
	}
	opts := []filter.Option{
		filter.WithSession(s),
		filter.WithLogger(s.logger),
		filter.WithInbound(app),
		filter.WithOutbound(s.send),
		filter.WithErrorHandler(s.onError),
	}
	if cfg.Observer != nil {
		opts = append(opts, filter.WithObserver(cfg.Observer))
	}
	chain, err := cfg.Builder.Instantiate(opts...)
	if err != nil {
		return nil, err
	}
	s.chain = chain
	return s, nil
}

// ID returns the session ID.
func (s *Session) ID() string { return s.id }

// RemoteAddr returns the peer address.
func (s *Session) RemoteAddr() string { return s.conn.RemoteAddr() }

// Chain returns the session's live chain.
func (s *Session) Chain() *filter.Chain { return s.chain }

// Done is closed once Run has returned and the chain is torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Info describes the session for the admin API.
func (s *Session) Info() api.SessionInfo {
	entries := s.chain.Entries()
	infos := make([]api.EntryInfo, len(entries))
	for i, e := range entries {
		infos[i] = api.EntryInfo{Position: i, Name: e.Name, Type: filter.Describe(e.Filter)}
	}
	return api.SessionInfo{
		ID:         s.id,
		ChainID:    s.chain.ID(),
		Transport:  s.transport,
		RemoteAddr: s.conn.RemoteAddr(),
		State:      s.chain.State().String(),
		OpenedAt:   s.openedAt,
		Filters:    infos,
	}
}

// Write sends payload from the application end of the chain towards the
// connection.
func (s *Session) Write(ctx context.Context, payload any) error {
	return s.chain.FireEgress(ctx, api.EventWrite, payload)
}

// Close ends the session. Run fires the close event and returns.
func (s *Session) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// Run drives the session until the connection ends, the session is closed
// or ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	defer s.teardown()

	s.logger.Info("session opened", "transport", s.transport, "remote", s.conn.RemoteAddr())
	s.fire(ctx, api.EventOpen, nil)

	chunks := make(chan []byte)
	readErr := make(chan error, 1)
	go s.readLoop(chunks, readErr)

	var (
		timer *time.Timer
		idle  <-chan time.Time
	)
	if s.idleTimeout > 0 {
		timer = time.NewTimer(s.idleTimeout)
		defer timer.Stop()
		idle = timer.C
	}

	for {
		select {
		case p := <-chunks:
			if timer != nil {
				timer.Reset(s.idleTimeout)
			}
			s.fire(ctx, api.EventRead, p)
		case <-idle:
			s.fire(ctx, api.EventIdle, nil)
			timer.Reset(s.idleTimeout)
		case err := <-readErr:
			return s.finish(ctx, err)
		case <-s.closed:
			return s.finish(ctx, nil)
		case <-ctx.Done():
			return s.finish(context.WithoutCancel(ctx), nil)
		}
	}
}

func (s *Session) readLoop(chunks chan<- []byte, readErr chan<- error) {
	for {
		p, err := s.conn.Receive()
		if err != nil {
			readErr <- err
			return
		}
		select {
		case chunks <- p:
		case <-s.closed:
			return
		}
	}
}

// finish reports a transport failure, fires close and ends Run.
func (s *Session) finish(ctx context.Context, err error) error {
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && !s.isClosed() {
		s.fire(ctx, api.EventError, err)
	} else {
		err = nil
	}
	s.fire(ctx, api.EventClose, nil)
	return err
}

func (s *Session) fire(ctx context.Context, kind api.EventKind, payload any) {
	// Failures are delivered to onError; ErrChainClosed only means the
	// chain is already gone.
	_ = s.chain.FireIngress(ctx, kind, payload)
}

func (s *Session) teardown() {
	_ = s.Close()
	if err := s.conn.Close(); err != nil {
		s.logger.Debug("closing connection", "error", err)
	}
	_ = s.chain.Close()
	<-s.chain.Done()
	s.logger.Info("session closed")
	close(s.done)
}

func (s *Session) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// send is the chain's outbound endpoint.
func (s *Session) send(_ context.Context, ev *filter.Event) error {
	if ev.Kind != api.EventWrite {
		return nil
	}
	p, err := payloadBytes(ev.Payload)
	if err != nil || len(p) == 0 {
		return err
	}
	return s.conn.Send(p)
}

func (s *Session) onError(_ context.Context, fe *filter.FilterError) {
	s.logger.Warn("closing session after filter failure",
		"filter", fe.Filter,
		"direction", fe.Direction,
		"event", fe.Kind,
		"error", fe.Err,
	)
	_ = s.Close()
}
