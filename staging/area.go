// Package staging owns the per-session scratch directories that hold working
// copies of a raw asset, its sidecar and the rendered artifact.
//
// Every session directory lives directly under the configured root and is
// named by the session identifier. A Directory is released exactly once:
// later Release calls are no-ops, so every terminal path of a session can
// call it unconditionally.
package staging

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/tailored-agentic-units/darkroom/observability"
)

// FreeSpaceFunc reports the bytes available to unprivileged writers on the
// filesystem holding path.
type FreeSpaceFunc func(path string) (uint64, error)

// Option configures an Area after config-driven initialization.
type Option func(*Area)

// WithObserver overrides the default NoOpObserver.
func WithObserver(o observability.Observer) Option {
	return func(a *Area) { a.observer = o }
}

// WithFreeSpaceFunc overrides the gopsutil-backed free space probe.
func WithFreeSpaceFunc(fn FreeSpaceFunc) Option {
	return func(a *Area) { a.freeSpace = fn }
}

// Area creates and disposes of session directories under a single root.
type Area struct {
	root      string
	trash     string
	disposal  Disposal
	minFree   uint64
	attempts  int
	observer  observability.Observer
	freeSpace FreeSpaceFunc
}

// New creates an Area from configuration. The root directory is created on
// first use, not here.
func New(cfg *Config, opts ...Option) (*Area, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve staging root: %w", err)
	}

	trash := cfg.TrashDir
	if trash == "" {
		trash = filepath.Join(root, ".trash")
	}

	attempts := cfg.ReleaseAttempts
	if attempts <= 0 {
		attempts = defaultReleaseAttempts
	}

	a := &Area{
		root:      root,
		trash:     trash,
		disposal:  cfg.Disposal,
		minFree:   cfg.MinFreeBytes,
		attempts:  attempts,
		observer:  observability.NoOpObserver{},
		freeSpace: diskFree,
	}

	for _, opt := range opts {
		opt(a)
	}

	return a, nil
}

// Root returns the absolute staging root.
func (a *Area) Root() string {
	return a.root
}

// Disposal returns the configured release policy.
func (a *Area) Disposal() Disposal {
	return a.disposal
}

// Create makes a fresh, empty session directory for id. A directory already
// present at that path is stale content from an earlier run and is removed
// first.
func (a *Area) Create(ctx context.Context, id string) (*Directory, error) {
	if id == "" || id != filepath.Base(id) || strings.HasPrefix(id, ".") {
		return nil, &Error{Kind: ErrCreateFailed, Path: id, Err: fmt.Errorf("invalid session id %q", id)}
	}

	path := filepath.Join(a.root, id)

	if err := os.MkdirAll(a.root, 0o755); err != nil {
		return nil, &Error{Kind: ErrCreateFailed, Path: path, Err: err}
	}

	if _, err := os.Lstat(path); err == nil {
		if err := os.RemoveAll(path); err != nil {
			return nil, &Error{Kind: ErrCreateFailed, Path: path, Err: err}
		}
		a.emit(ctx, EventStaleRemoved, observability.LevelWarning, "staging.Create", map[string]any{
			"path": path,
		})
	}

	if err := os.Mkdir(path, 0o700); err != nil {
		return nil, &Error{Kind: ErrCreateFailed, Path: path, Err: err}
	}

	a.emit(ctx, EventCreate, observability.LevelVerbose, "staging.Create", map[string]any{
		"path": path,
	})

	return &Directory{area: a, id: id, path: path}, nil
}

// Sweep removes session directories under the root that are older than
// olderThan and for which keep returns false, then purges trash entries that
// have been in the trash longer than olderThan. Hidden entries under the
// root (including the default trash directory itself) are never swept as
// sessions. It returns the removed session names.
func (a *Area) Sweep(ctx context.Context, olderThan time.Duration, keep func(id string) bool) ([]string, error) {
	cutoff := time.Now().Add(-olderThan)

	removed, err := a.sweepSessions(cutoff, keep)
	if err != nil {
		return removed, err
	}

	purged, err := a.purgeTrash(cutoff)
	if err != nil {
		return removed, err
	}

	a.emit(ctx, EventSweep, observability.LevelInfo, "staging.Sweep", map[string]any{
		"removed": len(removed),
		"purged":  purged,
	})

	return removed, nil
}

func (a *Area) sweepSessions(cutoff time.Time, keep func(id string) bool) ([]string, error) {
	entries, err := os.ReadDir(a.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read staging root: %w", err)
	}

	var removed []string

	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if keep != nil && keep(name) {
			continue
		}

		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		if err := os.RemoveAll(filepath.Join(a.root, name)); err != nil {
			return removed, fmt.Errorf("failed to sweep %s: %w", name, err)
		}
		removed = append(removed, name)
	}
	return removed, nil
}

// purgeTrash deletes trash entries last modified before cutoff.
func (a *Area) purgeTrash(cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(a.trash)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read trash: %w", err)
	}

	purged := 0
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(a.trash, entry.Name())); err != nil {
			return purged, fmt.Errorf("failed to purge trash entry %s: %w", entry.Name(), err)
		}
		purged++
	}
	return purged, nil
}

func (a *Area) emit(ctx context.Context, typ observability.EventType, level observability.Level, source string, data map[string]any) {
	a.observer.OnEvent(ctx, observability.NewEvent(typ, level, source, data))
}

func diskFree(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}
