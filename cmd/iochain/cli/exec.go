package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tkingovr/iochain/internal/audit"
	"github.com/tkingovr/iochain/internal/filter"
	"github.com/tkingovr/iochain/internal/transport"
)

var execCmd = &cobra.Command{
	Use:   "exec [flags] -- <command> [args...]",
	Short: "Run one session against a subprocess",
	Long: `Spawn a subprocess and run a single session over its stdio. Each line
read from our stdin is written through the chain to the subprocess; its
output is read through the chain and printed to our stdout.

The command after -- is the subprocess to spawn.`,
	Example: `  iochain exec -c iochain.yaml -- cat
  iochain exec -c iochain.yaml -- python worker.py`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExec,
}

func init() {
	rootCmd.AddCommand(execCmd)
}

func runExec(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	auditStore, err := audit.NewJSONLStore(cfg.LogDir)
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

	proc, err := transport.StartProcess(args[0], args[1:], cfg.ReadBuffer)
	if err != nil {
		return err
	}
	sess, err := transport.NewSession(proc, transport.SessionConfig{
		Builder:     builder,
		App:         transport.Writer(os.Stdout),
		Transport:   "exec",
		IdleTimeout: cfg.IdleTimeout,
		Logger:      logger,
	})
	if err != nil {
		_ = proc.Close()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down session")
		cancel()
	}()

	logger.Info("starting exec session",
		slog.String("command", args[0]),
		slog.Any("args", args[1:]),
		slog.String("chain", builder.String()),
	)

	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx) }()
	go pumpInput(ctx, os.Stdin, sess, proc)

	return <-done
}

// pumpInput writes each line of r through the session, then closes the
// subprocess's stdin.
func pumpInput(ctx context.Context, r io.Reader, sess *transport.Session, proc *transport.Process) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		if err := sess.Write(ctx, line); err != nil {
			logger.Warn("writing to session", "error", err)
			return
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("reading stdin", "error", err)
	}
	_ = proc.CloseInput()
}
