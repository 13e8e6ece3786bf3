package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 100 * time.Millisecond

// Watcher reloads a configuration file whenever it changes on disk and hands
// each successfully parsed version to a callback. Invalid versions are logged
// and skipped, leaving the previous configuration in force.
type Watcher struct {
	path     string
	logger   *slog.Logger
	onChange func(*Config)
	debounce time.Duration

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}

	mu    sync.Mutex
	timer *time.Timer
}

// Watch starts watching path. onChange runs on a background goroutine, one
// call at a time.
func Watch(path string, logger *slog.Logger, onChange func(*Config)) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating config watcher: %w", err)
	}
	// Editors often replace the file rather than write it, so watch the
	// directory and filter by name.
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		path:     abs,
		logger:   logger,
		onChange: onChange,
		debounce: defaultDebounce,
		watcher:  fw,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go w.loop(ctx)
	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.cancel()
	err := w.watcher.Close()
	<-w.done

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.schedule(reload)
			}

		case <-reload:
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

// schedule coalesces bursts of events into one reload after the debounce
// delay.
func (w *Watcher) schedule(reload chan<- struct{}) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case reload <- struct{}{}:
		default:
		}
	})
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error("config reload failed", "path", w.path, "error", err)
		return
	}
	w.logger.Info("config reloaded", "path", w.path, "chain_entries", len(cfg.Chain))
	w.onChange(cfg)
}
