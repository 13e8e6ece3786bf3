package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tkingovr/iochain/internal/filter"
)

// Server accepts connections and runs a session for each, with a chain
// instantiated from Builder at the moment the connection arrives.
type Server struct {
	Builder     *filter.Builder
	App         filter.Endpoint
	Registry    *Registry
	Logger      *slog.Logger
	Observer    filter.Observer
	IdleTimeout time.Duration
	ReadBuffer  int

	// ws tracks WebSocket sessions; each Serve call tracks its own.
	ws       sync.WaitGroup
	upgrader websocket.Upgrader
}

// ServeConn runs one session over conn until it ends.
func (s *Server) ServeConn(ctx context.Context, conn Conn, transport string) error {
	sess, err := NewSession(conn, SessionConfig{
		Builder:     s.Builder,
		App:         s.App,
		Transport:   transport,
		IdleTimeout: s.IdleTimeout,
		Logger:      s.Logger,
		Observer:    s.Observer,
	})
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("creating session: %w", err)
	}
	if s.Registry != nil {
		s.Registry.Add(sess)
		defer s.Registry.Remove(sess.ID())
	}
	return sess.Run(ctx)
}

// Serve accepts TCP connections from ln until ctx is cancelled, then closes
// the listener and waits for the sessions it started to end.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	var sessions sync.WaitGroup
	defer sessions.Wait()

	s.logger().Info("listening", "transport", "tcp", "addr", ln.Addr().String())
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accepting connection: %w", err)
		}

		sessions.Add(1)
		go func() {
			defer sessions.Done()
			if err := s.ServeConn(ctx, NewNetConn(nc, s.ReadBuffer), "tcp"); err != nil {
				s.logger().Warn("session ended with error", "remote", nc.RemoteAddr().String(), "error", err)
			}
		}()
	}
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// WebSocketHandler upgrades each request and runs a session over the
// WebSocket until it closes or ctx is cancelled. Outgoing data is sent as
// text messages.
func (s *Server) WebSocketHandler(ctx context.Context) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already replied to the client.
			s.logger().Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}

		s.ws.Add(1)
		defer s.ws.Done()

		sessCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := s.ServeConn(sessCtx, NewWebSocketConn(ws, websocket.TextMessage), "websocket"); err != nil {
			s.logger().Warn("session ended with error", "remote", r.RemoteAddr, "error", err)
		}
	})
}

// Wait blocks until every WebSocket session started by the server has
// ended. Call it once the HTTP server stops handing it requests. TCP
// sessions are waited for by Serve before it returns.
func (s *Server) Wait() { s.ws.Wait() }

func (s *Server) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}
