package process

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/tailored-agentic-units/darkroom/observability"
)

// Option configures an ExecRunner after config-driven initialization.
type Option func(*ExecRunner)

// WithObserver overrides the default NoOpObserver.
func WithObserver(o observability.Observer) Option {
	return func(r *ExecRunner) { r.observer = o }
}

// ExecRunner is the os/exec backed Runner. Exit waiters for async launches
// run on a bounded ants pool; a launch that finds the pool full is refused
// rather than queued.
type ExecRunner struct {
	pool        *ants.Pool
	observer    observability.Observer
	stderrLimit int
	grace       time.Duration
	active      atomic.Int32
}

var _ Runner = (*ExecRunner)(nil)

// NewExecRunner creates a runner from configuration.
func NewExecRunner(cfg *Config, opts ...Option) (*ExecRunner, error) {
	grace, err := cfg.Grace()
	if err != nil {
		return nil, err
	}

	size := cfg.MaxWaiters
	if size <= 0 {
		size = -1
	}
	pool, err := ants.NewPool(size, ants.WithNonblocking(true))
	if err != nil {
		return nil, err
	}

	limit := cfg.StderrLimit
	if limit <= 0 {
		limit = defaultStderrLimit
	}

	r := &ExecRunner{
		pool:        pool,
		observer:    observability.NoOpObserver{},
		stderrLimit: limit,
		grace:       grace,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

// Running returns the number of async processes still being waited on.
func (r *ExecRunner) Running() int {
	return int(r.active.Load())
}

// Close stops accepting async launches. Processes already running keep
// their waiters.
func (r *ExecRunner) Close() {
	r.pool.Release()
}

func (r *ExecRunner) LaunchAsync(ctx context.Context, c Command, onExit func(Exit)) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, r.launchFailed(ctx, c, err)
	}

	path, err := resolve(c)
	if err != nil {
		return nil, r.launchFailed(ctx, c, err)
	}
	// The editor outlives the request that started it.
	cmd := exec.Command(path, c.Args...)
	stderr := r.configure(cmd, c)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		stderr.finish()
		return nil, r.launchFailed(ctx, c, err)
	}

	h := &handle{runner: r, cmd: cmd, done: make(chan struct{})}

	r.active.Add(1)
	err = r.pool.Submit(func() {
		defer r.active.Add(-1)
		exit := r.wait(cmd, stderr, start)
		close(h.done)
		r.emit(context.WithoutCancel(ctx), EventExit, exitLevel(exit), "process.LaunchAsync", exitData(c, exit))
		if onExit != nil {
			onExit(exit)
		}
	})
	if err != nil {
		r.active.Add(-1)
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		stderr.finish()
		if errors.Is(err, ants.ErrPoolOverload) {
			err = ErrPoolExhausted
		}
		return nil, r.launchFailed(ctx, c, err)
	}

	r.emit(ctx, EventStart, observability.LevelInfo, "process.LaunchAsync", map[string]any{
		"command": c.Path,
		"pid":     cmd.Process.Pid,
	})

	return h, nil
}

func (r *ExecRunner) LaunchBlocking(ctx context.Context, c Command) (Exit, error) {
	if err := ctx.Err(); err != nil {
		return Exit{}, r.launchFailed(ctx, c, err)
	}

	path, err := resolve(c)
	if err != nil {
		return Exit{}, r.launchFailed(ctx, c, err)
	}
	cmd := exec.CommandContext(ctx, path, c.Args...)
	stderr := r.configure(cmd, c)
	cmd.Cancel = func() error { return cmd.Process.Signal(terminateSignal) }

	start := time.Now()
	if err := cmd.Start(); err != nil {
		stderr.finish()
		return Exit{}, r.launchFailed(ctx, c, err)
	}

	r.emit(ctx, EventStart, observability.LevelVerbose, "process.LaunchBlocking", map[string]any{
		"command": c.Path,
		"pid":     cmd.Process.Pid,
	})

	exit := r.wait(cmd, stderr, start)
	if ctxErr := ctx.Err(); ctxErr != nil && exit.Err == nil && exit.Code != 0 {
		exit.Err = ctxErr
	}

	r.emit(ctx, EventExit, exitLevel(exit), "process.LaunchBlocking", exitData(c, exit))
	return exit, nil
}

// resolve locates the executable and confirms it may be run.
func resolve(c Command) (string, error) {
	path, err := exec.LookPath(c.Path)
	if err != nil {
		return "", err
	}
	if err := checkExecutable(path); err != nil {
		return "", err
	}
	return path, nil
}

func (r *ExecRunner) configure(cmd *exec.Cmd, c Command) *tailWriter {
	cmd.Dir = c.Dir
	// Bounds how long Wait blocks on stderr held open by orphaned children.
	cmd.WaitDelay = r.grace
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}

	stderr := newTailWriter(r.stderrLimit)
	cmd.Stdout = io.Discard
	cmd.Stderr = stderr
	return stderr
}

func (r *ExecRunner) wait(cmd *exec.Cmd, stderr *tailWriter, start time.Time) Exit {
	err := cmd.Wait()

	exit := Exit{
		Code:     -1,
		Duration: time.Since(start),
		Stderr:   stderr.finish(),
	}
	if cmd.ProcessState != nil {
		exit.Code = cmd.ProcessState.ExitCode()
		exit.State = cmd.ProcessState.String()
	}

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		exit.Err = err
	}

	return exit
}

func (r *ExecRunner) launchFailed(ctx context.Context, c Command, err error) error {
	r.emit(ctx, EventLaunchFailed, observability.LevelError, "process.launch", map[string]any{
		"command": c.Path,
		"error":   err.Error(),
	})
	return &Error{Kind: ErrLaunchFailed, Command: c.Path, Err: err}
}

func (r *ExecRunner) emit(ctx context.Context, typ observability.EventType, level observability.Level, source string, data map[string]any) {
	r.observer.OnEvent(ctx, observability.NewEvent(typ, level, source, data))
}

func exitLevel(e Exit) observability.Level {
	if e.Success() {
		return observability.LevelInfo
	}
	return observability.LevelWarning
}

func exitData(c Command, e Exit) map[string]any {
	data := map[string]any{
		"command":                 c.Path,
		"code":                    e.Code,
		"state":                   e.State,
		observability.DurationKey: e.Duration,
	}
	if e.Err != nil {
		data["error"] = e.Err.Error()
	}
	return data
}

type handle struct {
	runner *ExecRunner
	cmd    *exec.Cmd
	done   chan struct{}
	once   sync.Once
}

func (h *handle) Pid() int {
	return h.cmd.Process.Pid
}

func (h *handle) Done() <-chan struct{} {
	return h.done
}

func (h *handle) Terminate() error {
	select {
	case <-h.done:
		return nil
	default:
	}

	if err := h.cmd.Process.Signal(terminateSignal); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		return err
	}

	h.once.Do(func() {
		h.runner.emit(context.Background(), EventTerminate, observability.LevelInfo, "process.Terminate", map[string]any{
			"command": h.cmd.Path,
			"pid":     h.cmd.Process.Pid,
		})
		time.AfterFunc(h.runner.grace, func() {
			select {
			case <-h.done:
			default:
				_ = h.cmd.Process.Kill()
			}
		})
	})
	return nil
}
