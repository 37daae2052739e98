// Package launcher composes the staging area, process runner, renderer and
// session manager into one edit service.
//
// The launcher initializes from configuration via New, creating all
// subsystems internally and wiring a single observer through them.
//
//	l, err := launcher.New(&cfg)
//	res, err := l.Edit(ctx, session.Input{SourcePath: "IMG_0001.CR2"}, nil)
package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tailored-agentic-units/darkroom/adjustment"
	"github.com/tailored-agentic-units/darkroom/observability"
	"github.com/tailored-agentic-units/darkroom/process"
	"github.com/tailored-agentic-units/darkroom/render"
	"github.com/tailored-agentic-units/darkroom/session"
	"github.com/tailored-agentic-units/darkroom/staging"
)

// Option configures a Launcher before its subsystems are built, so the
// overrides reach every subsystem.
type Option func(*Launcher)

// WithObserver overrides the observer named in the config.
func WithObserver(o observability.Observer) Option {
	return func(l *Launcher) { l.observer = o }
}

// WithLogger routes events through a SlogObserver on logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Launcher) { l.observer = observability.NewSlogObserver(logger) }
}

// WithRegistry sets the Prometheus registry used when metrics are enabled.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(l *Launcher) { l.registry = reg }
}

// Launcher is the composed edit service.
type Launcher struct {
	codec    *adjustment.Codec
	area     *staging.Area
	runner   *process.ExecRunner
	renderer *render.Renderer
	manager  *session.Manager
	observer observability.Observer
	registry *prometheus.Registry
	editor   process.Tool
	render   process.Tool
}

// New creates a Launcher from configuration. When the staging config asks
// for it, orphaned session directories from earlier runs are swept before
// New returns.
func New(cfg *Config, opts ...Option) (*Launcher, error) {
	l := &Launcher{
		editor: cfg.Session.Editor,
		render: cfg.Render.Tool,
	}

	for _, opt := range opts {
		opt(l)
	}

	if l.observer == nil {
		obs, err := observability.Resolve(cfg.Observer)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve observer: %w", err)
		}
		l.observer = obs
	}

	if cfg.Metrics {
		if l.registry == nil {
			l.registry = prometheus.NewRegistry()
		}
		prom, err := observability.NewPrometheusObserver(l.registry)
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics observer: %w", err)
		}
		l.observer = observability.NewMultiObserver(l.observer, prom)
	}

	codec, err := adjustment.NewCodec(&cfg.Adjustment)
	if err != nil {
		return nil, fmt.Errorf("failed to create adjustment codec: %w", err)
	}

	area, err := staging.New(&cfg.Staging, staging.WithObserver(l.observer))
	if err != nil {
		return nil, fmt.Errorf("failed to create staging area: %w", err)
	}

	runner, err := process.NewExecRunner(&cfg.Process, process.WithObserver(l.observer))
	if err != nil {
		return nil, fmt.Errorf("failed to create process runner: %w", err)
	}

	renderer, err := render.New(&cfg.Render, runner, render.WithObserver(l.observer))
	if err != nil {
		runner.Close()
		return nil, fmt.Errorf("failed to create renderer: %w", err)
	}

	manager, err := session.NewManager(&cfg.Session,
		session.WithStager(session.StagingArea(area)),
		session.WithRunner(runner),
		session.WithRenderer(renderer),
		session.WithCodec(codec),
		session.WithObserver(l.observer),
	)
	if err != nil {
		runner.Close()
		return nil, fmt.Errorf("failed to create session manager: %w", err)
	}

	l.codec = codec
	l.area = area
	l.runner = runner
	l.renderer = renderer
	l.manager = manager

	ctx := context.Background()
	if cfg.Staging.SweepOnStart {
		l.sweep(ctx, &cfg.Staging)
	}

	l.observer.OnEvent(ctx, observability.NewEvent(EventStart, observability.LevelInfo, "launcher.New", map[string]any{
		"staging_root": area.Root(),
		"disposal":     string(area.Disposal()),
		"editor":       l.editor.Executable,
		"renderer":     l.render.Executable,
	}))

	return l, nil
}

func (l *Launcher) sweep(ctx context.Context, cfg *staging.Config) {
	age, err := cfg.SweepAge()
	if err == nil {
		_, err = l.area.Sweep(ctx, age, l.manager.Active)
	}
	if err != nil {
		l.observer.OnEvent(ctx, observability.NewEvent(EventSweepFailed, observability.LevelWarning, "launcher.New", map[string]any{
			"error": err.Error(),
		}))
	}
}

// Manager returns the session manager.
func (l *Launcher) Manager() *session.Manager {
	return l.manager
}

// Area returns the staging area.
func (l *Launcher) Area() *staging.Area {
	return l.area
}

// Codec returns the adjustment codec shared by all sessions.
func (l *Launcher) Codec() *adjustment.Codec {
	return l.codec
}

// Registry returns the metrics registry, or nil when metrics are disabled.
func (l *Launcher) Registry() *prometheus.Registry {
	return l.registry
}

// Observer returns the observer wired through all subsystems.
func (l *Launcher) Observer() observability.Observer {
	return l.observer
}

// Edit runs one session in the foreground: it begins the session, waits for
// the editor to close and finishes it. Cancelling ctx cancels the session.
func (l *Launcher) Edit(ctx context.Context, input session.Input, prior *adjustment.Blob) (session.Result, error) {
	handle, err := l.manager.Begin(ctx, input, prior)
	if err != nil {
		var serr *session.Error
		if errors.As(err, &serr) {
			_ = l.manager.Forget(serr.Handle)
		}
		return session.Result{}, err
	}
	defer func() { _ = l.manager.Forget(handle) }()

	l.observer.OnEvent(ctx, observability.NewEvent(EventEdit, observability.LevelInfo, "launcher.Edit", map[string]any{
		"handle": handle,
		"source": input.SourcePath,
	}))

	ready, err := l.manager.Ready(handle)
	if err != nil {
		return session.Result{}, err
	}

	select {
	case <-ready:
	case <-ctx.Done():
		cancelCtx := context.WithoutCancel(ctx)
		_ = l.manager.Cancel(cancelCtx, handle)
		return session.Result{}, ctx.Err()
	}

	return l.manager.Finish(ctx, handle)
}

// Checks returns readiness probes: both external tools resolve to
// executables and the staging root is writable.
func (l *Launcher) Checks() map[string]func() error {
	return map[string]func() error{
		"editor":   executableCheck(l.editor.Executable),
		"renderer": executableCheck(l.render.Executable),
		"staging":  writableCheck(l.area.Root()),
	}
}

func executableCheck(name string) func() error {
	return func() error {
		if _, err := exec.LookPath(name); err != nil {
			return fmt.Errorf("%s not executable: %w", name, err)
		}
		return nil
	}
}

func writableCheck(dir string) func() error {
	return func() error {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		f, err := os.CreateTemp(dir, ".probe-*")
		if err != nil {
			return err
		}
		name := f.Name()
		return errors.Join(f.Close(), os.Remove(name))
	}
}

// Close cancels every active session and stops the process runner.
func (l *Launcher) Close(ctx context.Context) error {
	err := l.manager.Close(ctx)
	l.runner.Close()

	l.observer.OnEvent(ctx, observability.NewEvent(EventClose, observability.LevelInfo, "launcher.Close", nil))
	return err
}
