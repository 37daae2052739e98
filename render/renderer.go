// Package render drives the headless renderer that turns a raw file and its
// sidecar into a displayable image.
package render

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tailored-agentic-units/darkroom/observability"
	"github.com/tailored-agentic-units/darkroom/process"
)

// Option configures a Renderer after config-driven initialization.
type Option func(*Renderer)

// WithObserver overrides the default NoOpObserver.
func WithObserver(o observability.Observer) Option {
	return func(r *Renderer) { r.observer = o }
}

// Renderer renders artifacts next to their raw files.
type Renderer struct {
	runner    process.Runner
	tool      process.Tool
	ext       string
	outputArg OutputArg
	timeout   time.Duration
	observer  observability.Observer
}

// New creates a Renderer that launches the configured tool through runner.
func New(cfg *Config, runner process.Runner, opts ...Option) (*Renderer, error) {
	timeout, err := cfg.validate()
	if err != nil {
		return nil, err
	}
	if runner == nil {
		return nil, fmt.Errorf("render requires a process runner")
	}

	r := &Renderer{
		runner:    runner,
		tool:      cfg.Tool,
		ext:       cfg.OutputExt,
		outputArg: cfg.OutputArg,
		timeout:   timeout,
		observer:  observability.NoOpObserver{},
	}

	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

// ArtifactPath returns where the artifact for raw lands: same directory,
// same base name, ext in place of the raw extension. A raw file that already
// carries ext (in any letter case) gets a "_render" suffix so the artifact
// never names the raw file itself.
func ArtifactPath(raw, ext string) string {
	rawExt := filepath.Ext(raw)
	stem := strings.TrimSuffix(raw, rawExt)
	if strings.EqualFold(rawExt, ext) {
		return stem + renderSuffix + ext
	}
	return stem + ext
}

const renderSuffix = "_render"

// collides reports whether a directory-mode render of raw would write over
// raw itself.
func collides(raw, ext string) bool {
	return strings.EqualFold(filepath.Ext(raw), ext)
}

// ArtifactPath returns the artifact location for raw under this renderer's
// output extension.
func (r *Renderer) ArtifactPath(raw string) string {
	return ArtifactPath(raw, r.ext)
}

// Render removes any stale artifact for raw, runs the headless renderer and
// returns the path of the fresh artifact. Calls with the same inputs always
// target the same path and each replaces the previous artifact.
func (r *Renderer) Render(ctx context.Context, raw, sidecar string) (string, error) {
	artifact := r.ArtifactPath(raw)

	if err := os.Remove(artifact); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", r.fail(ctx, artifact, fmt.Errorf("remove stale artifact: %w", err))
	}

	// A directory target lets the tool pick <stem><ext>, which is raw itself
	// when raw already carries ext, so such files always get a file target.
	target := artifact
	if r.outputArg == OutputArgDir && !collides(raw, r.ext) {
		target = filepath.Dir(raw)
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	r.emit(ctx, EventStart, observability.LevelVerbose, map[string]any{
		"raw":     raw,
		"sidecar": sidecar,
	})

	exit, err := r.runner.LaunchBlocking(ctx, r.tool.Command(raw, sidecar, target))
	if err != nil {
		return "", r.fail(ctx, artifact, err)
	}
	if !exit.Success() {
		cause := fmt.Errorf("renderer %s", exit.State)
		if exit.Err != nil {
			cause = fmt.Errorf("renderer %s: %w", exit.State, exit.Err)
		}
		if msg := strings.TrimSpace(exit.Stderr); msg != "" {
			cause = fmt.Errorf("%w: %s", cause, msg)
		}
		_ = os.Remove(artifact)
		return "", r.fail(ctx, artifact, cause)
	}

	info, err := os.Stat(artifact)
	if err != nil {
		return "", r.fail(ctx, artifact, fmt.Errorf("renderer produced no artifact: %w", err))
	}
	if !info.Mode().IsRegular() {
		return "", r.fail(ctx, artifact, fmt.Errorf("artifact is not a regular file"))
	}

	r.emit(ctx, EventComplete, observability.LevelInfo, map[string]any{
		"artifact":                artifact,
		"bytes":                   info.Size(),
		observability.DurationKey: exit.Duration,
	})

	return artifact, nil
}

func (r *Renderer) fail(ctx context.Context, artifact string, err error) error {
	r.emit(ctx, EventFailed, observability.LevelWarning, map[string]any{
		"artifact": artifact,
		"error":    err.Error(),
	})
	return &Error{Kind: ErrRenderFailed, Path: artifact, Err: err}
}

func (r *Renderer) emit(ctx context.Context, typ observability.EventType, level observability.Level, data map[string]any) {
	r.observer.OnEvent(ctx, observability.NewEvent(typ, level, "render.Render", data))
}
