package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tkingovr/iochain/internal/admin"
	"github.com/tkingovr/iochain/internal/audit"
	"github.com/tkingovr/iochain/internal/config"
	"github.com/tkingovr/iochain/internal/filter"
	"github.com/tkingovr/iochain/internal/telemetry"
	"github.com/tkingovr/iochain/internal/transport"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Accept sessions and run them through the configured chain",
	Long: `Start the TCP and WebSocket listeners named in the config together
with the admin API. Every accepted connection gets its own chain, copied
from the template. Editing the config file replaces the template for new
sessions; live sessions keep their chain.`,
	Example: `  iochain serve -c iochain.yaml
  iochain serve -v`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	auditStore, err := audit.NewJSONLStore(cfg.LogDir, audit.WithReplay())
	if err != nil {
		return fmt.Errorf("creating audit store: %w", err)
	}
	defer auditStore.Close()

	p, err := buildPipeline(cfg, auditStore, logger)
	if err != nil {
		return err
	}
	builder := filter.NewBuilder()
	if err := builder.Set(p.entries); err != nil {
		return err
	}

	metrics := telemetry.NewMetrics()
	sessions := transport.NewRegistry()
	srv := &transport.Server{
		Builder:     builder,
		App:         application(cfg.Application),
		Registry:    sessions,
		Logger:      logger,
		Observer:    metrics,
		IdleTimeout: cfg.IdleTimeout,
		ReadBuffer:  cfg.ReadBuffer,
	}
	adminSrv := admin.NewServer(admin.Config{
		Addr:     cfg.AdminAddr,
		Builder:  builder,
		Filters:  p.filters,
		Sessions: sessions,
		Store:    auditStore,
		Engine:   p.engine,
		Metrics:  metrics.Handler(),
		Logger:   logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	if cfg.Path != "" {
		w, err := config.Watch(cfg.Path, logger, func(next *config.Config) {
			np, err := buildPipeline(next, auditStore, logger)
			if err == nil {
				err = builder.Set(np.entries)
			}
			if err != nil {
				metrics.RecordConfigReload("error")
				logger.Error("applying reloaded config", "error", err)
				return
			}
			adminSrv.SetFilters(np.filters, np.engine)
			metrics.RecordConfigReload("ok")
			logger.Info("chain template reloaded", slog.String("chain", builder.String()))
		})
		if err != nil {
			return fmt.Errorf("watching config: %w", err)
		}
		defer w.Close()
	}

	logger.Info("starting serve mode",
		slog.String("chain", builder.String()),
		slog.String("tcp", cfg.TCPAddr),
		slog.String("websocket", cfg.WebSocketAddr),
		slog.String("admin", cfg.AdminAddr),
	)

	g, ctx := errgroup.WithContext(ctx)
	if cfg.TCPAddr != "" {
		g.Go(func() error { return srv.ListenAndServe(ctx, cfg.TCPAddr) })
	}
	if cfg.WebSocketAddr != "" {
		g.Go(func() error { return serveWebSocket(ctx, cfg.WebSocketAddr, srv) })
	}
	if cfg.AdminAddr != "" {
		g.Go(func() error { return adminSrv.ListenAndServe(ctx) })
	}
	err = g.Wait()
	sessions.CloseAll()
	srv.Wait()
	return err
}

// serveWebSocket accepts WebSocket sessions on addr under /ws.
func serveWebSocket(ctx context.Context, addr string, srv *transport.Server) error {
	mux := http.NewServeMux()
	mux.Handle("GET /ws", srv.WebSocketHandler(ctx))
	hs := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		hs.Close()
	}()

	logger.Info("listening", "transport", "websocket", "addr", addr)
	if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("websocket listener: %w", err)
	}
	return nil
}
