package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/giantswarm/mcp-dispatch/internal/logging"
)

// DefaultDebounce is how long the reloader waits for a burst of file events
// to settle before reloading.
const DefaultDebounce = 250 * time.Millisecond

// MetricsRecorder defines the interface for recording reload metrics.
type MetricsRecorder interface {
	// RecordConfigReload records a reload attempt.
	// Result should be one of: "success", "partial", "error"
	RecordConfigReload(ctx context.Context, result string)
}

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) RecordConfigReload(context.Context, string) {}

// Reloader loads the capabilities file into an Applier, once on demand and
// again whenever the file changes.
type Reloader struct {
	path     string
	applier  *Applier
	debounce time.Duration
	logger   *slog.Logger
	metrics  MetricsRecorder

	mu   sync.Mutex
	last *File
}

// Option is a functional option for configuring a Reloader.
type Option func(*Reloader)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reloader) {
		r.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics MetricsRecorder) Option {
	return func(r *Reloader) {
		if metrics != nil {
			r.metrics = metrics
		}
	}
}

// WithDebounce sets the settle time for file events.
func WithDebounce(d time.Duration) Option {
	return func(r *Reloader) {
		if d > 0 {
			r.debounce = d
		}
	}
}

// NewReloader creates a Reloader for the file at path.
func NewReloader(path string, applier *Applier, opts ...Option) *Reloader {
	r := &Reloader{
		path:     filepath.Clean(path),
		applier:  applier,
		debounce: DefaultDebounce,
		logger:   slog.Default(),
		metrics:  noopMetricsRecorder{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Path returns the watched file.
func (r *Reloader) Path() string {
	return r.path
}

// Reload loads the file and applies it. A file that fails to load leaves the
// registry untouched.
func (r *Reloader) Reload(ctx context.Context) (*File, Report, error) {
	f, err := Load(r.path)
	if err != nil {
		r.metrics.RecordConfigReload(ctx, ResultError)
		return nil, Report{}, err
	}

	report := r.applier.Apply(f)
	r.metrics.RecordConfigReload(ctx, report.Result())

	r.mu.Lock()
	prev := r.last
	r.last = f
	r.mu.Unlock()

	if prev != nil && (!reflect.DeepEqual(prev.Router, f.Router) || !reflect.DeepEqual(prev.Sessions, f.Sessions)) {
		r.logger.Warn("Router and session settings changed; they take effect on restart")
	}
	return f, report, nil
}

// Watch reloads the file after every change until ctx is done. It watches the
// parent directory so that editors replacing the file by rename, and
// Kubernetes ConfigMap symlink swaps, are both seen.
func (r *Reloader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(r.path), err)
	}
	r.logger.Info("Watching capabilities file", slog.String("path", r.path))

	trigger := make(chan struct{}, 1)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !r.relevant(event) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(r.debounce, func() {
				select {
				case trigger <- struct{}{}:
				default:
				}
			})

		case <-trigger:
			if _, _, err := r.Reload(ctx); err != nil {
				r.logger.Error("Capabilities reload failed, keeping current bindings", logging.Err(err))
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("File watcher error", logging.Err(err))
		}
	}
}

// relevant reports whether event may have changed the watched file.
func (r *Reloader) relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	if filepath.Clean(event.Name) == r.path {
		return true
	}
	// ConfigMap volumes swap a "..data" symlink.
	return strings.HasPrefix(filepath.Base(event.Name), "..")
}
