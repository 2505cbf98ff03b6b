package templates

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"

	"hogflow/internal/logger"
	"hogflow/pkg/metrics"
)

const defaultDebounce = 250 * time.Millisecond

// Watcher keeps a registry in sync with a template directory.
type Watcher struct {
	dir      string
	registry *Registry
	logger   logger.Logger
	debounce time.Duration
	onReload func([]Template)
}

type WatcherOption func(*Watcher)

func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// WithReloadHook is called with the new templates after each successful reload.
func WithReloadHook(fn func([]Template)) WatcherOption {
	return func(w *Watcher) {
		w.onReload = fn
	}
}

func NewWatcher(dir string, registry *Registry, log logger.Logger, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		dir:      dir,
		registry: registry,
		logger:   log,
		debounce: defaultDebounce,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Reload loads the directory and replaces the registry's file templates. The
// registry is left untouched when any file is invalid.
func (w *Watcher) Reload() error {
	ts, err := LoadDir(w.dir)
	if err == nil {
		err = w.registry.Replace(ts)
	}
	if err != nil {
		metrics.TemplateReloadsTotal.WithLabelValues("error").Inc()
		return err
	}
	metrics.TemplateReloadsTotal.WithLabelValues("success").Inc()
	if w.onReload != nil {
		w.onReload(ts)
	}
	return nil
}

// Run reloads once, then again after every burst of changes, until ctx ends.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.Reload(); err != nil {
		return err
	}
	w.logger.Infow("Templates loaded", "directory", w.dir, "count", w.registry.Len())

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("template watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("template watcher add %s: %w", w.dir, err)
	}

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !isTemplateFile(ev.Name) {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				timer.Reset(w.debounce)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warnw("Template watcher error", "error", err)
		case <-timer.C:
			if err := w.Reload(); err != nil {
				w.logger.Errorw("Failed to reload templates, keeping previous set", "directory", w.dir, "error", err)
				continue
			}
			w.logger.Infow("Templates reloaded", "directory", w.dir, "count", w.registry.Len())
		}
	}
}
