package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/tailored-agentic-units/darkroom/observability"
)

// Directory is one session's staging directory.
type Directory struct {
	area *Area
	id   string
	path string

	once       sync.Once
	releaseErr error
	released   bool
	mu         sync.Mutex
}

// ID returns the session identifier the directory was created for.
func (d *Directory) ID() string {
	return d.id
}

// Path returns the absolute directory path.
func (d *Directory) Path() string {
	return d.path
}

// Released reports whether Release has run, successfully or not.
func (d *Directory) Released() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.released
}

// Stage copies source into the directory under its own base name and returns
// the working copy path. The copy is refused when the staging filesystem
// would be left with less than the configured headroom. A failed copy never
// leaves a partial or empty working copy behind.
func (d *Directory) Stage(ctx context.Context, source string) (string, error) {
	start := time.Now()
	dst := filepath.Join(d.path, filepath.Base(source))

	if err := ctx.Err(); err != nil {
		return "", &Error{Kind: ErrCopyFailed, Path: source, Err: err}
	}
	if d.Released() {
		return "", &Error{Kind: ErrCopyFailed, Path: source, Err: fmt.Errorf("directory %s already released", d.path)}
	}

	info, err := os.Stat(source)
	if err != nil {
		return "", &Error{Kind: ErrCopyFailed, Path: source, Err: err}
	}
	if !info.Mode().IsRegular() {
		return "", &Error{Kind: ErrCopyFailed, Path: source, Err: fmt.Errorf("not a regular file")}
	}

	if err := d.checkSpace(ctx, uint64(info.Size())); err != nil {
		return "", &Error{Kind: ErrCopyFailed, Path: source, Err: err}
	}

	if err := copyFile(source, dst, info); err != nil {
		return "", &Error{Kind: ErrCopyFailed, Path: source, Err: err}
	}

	d.area.emit(ctx, EventCopy, observability.LevelVerbose, "staging.Stage", map[string]any{
		"source":                  source,
		"working_copy":            dst,
		"bytes":                   info.Size(),
		observability.DurationKey: time.Since(start),
	})

	return dst, nil
}

func (d *Directory) checkSpace(ctx context.Context, size uint64) error {
	free, err := d.area.freeSpace(d.path)
	if err != nil {
		d.area.emit(ctx, EventCopy, observability.LevelWarning, "staging.Stage", map[string]any{
			"path":  d.path,
			"error": err.Error(),
		})
		return nil
	}

	need := size + d.area.minFree
	if free < need {
		return fmt.Errorf("%w: need %d bytes, %d available", ErrInsufficientSpace, need, free)
	}
	return nil
}

func copyFile(src, dst string, info os.FileInfo) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			os.Remove(dst)
		}
	}()

	if _, err = io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err = out.Sync(); err != nil {
		out.Close()
		return err
	}
	if err = out.Close(); err != nil {
		return err
	}

	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

// Release disposes of the directory according to the area's policy. Only the
// first call acts; later calls return its result again. A directory that no
// longer exists is released successfully. Transient failures are retried
// with exponential backoff; the caller's cancellation does not cut retries
// short.
func (d *Directory) Release(ctx context.Context) error {
	d.once.Do(func() {
		err := d.release(ctx)

		d.mu.Lock()
		d.releaseErr = err
		d.released = true
		d.mu.Unlock()
	})

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.releaseErr
}

func (d *Directory) release(ctx context.Context) error {
	start := time.Now()
	attempt := 0

	dispose := d.remove
	if d.area.disposal == DisposalTrash {
		dispose = d.moveToTrash
	}

	var dest string
	op := func() error {
		attempt++
		var err error
		dest, err = dispose()
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxInterval = time.Second

	notify := func(err error, wait time.Duration) {
		d.area.emit(ctx, EventReleaseRetry, observability.LevelWarning, "staging.Release", map[string]any{
			"path":    d.path,
			"attempt": attempt,
			"wait":    wait,
			"error":   err.Error(),
		})
	}

	err := backoff.RetryNotify(op, backoff.WithMaxRetries(policy, uint64(d.area.attempts-1)), notify)
	if err != nil {
		d.area.emit(ctx, EventReleaseFailed, observability.LevelError, "staging.Release", map[string]any{
			"path":     d.path,
			"attempts": attempt,
			"error":    err.Error(),
		})
		return &Error{Kind: ErrReleaseFailed, Path: d.path, Err: err}
	}

	data := map[string]any{
		"path":                    d.path,
		"disposal":                string(d.area.disposal),
		observability.DurationKey: time.Since(start),
	}
	if dest != "" {
		data["trash"] = dest
	}
	d.area.emit(ctx, EventRelease, observability.LevelVerbose, "staging.Release", data)

	return nil
}

func (d *Directory) remove() (string, error) {
	return "", os.RemoveAll(d.path)
}

func (d *Directory) moveToTrash() (string, error) {
	if _, err := os.Lstat(d.path); errors.Is(err, os.ErrNotExist) {
		return "", nil
	}

	if err := os.MkdirAll(d.area.trash, 0o700); err != nil {
		return "", err
	}

	dest := filepath.Join(d.area.trash, d.id+"-"+uuid.NewString())
	if err := os.Rename(d.path, dest); err != nil {
		return "", err
	}

	// trash age counts from disposal
	now := time.Now()
	_ = os.Chtimes(dest, now, now)
	return dest, nil
}
