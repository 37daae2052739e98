package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/tailored-agentic-units/darkroom/adjustment"
	"github.com/tailored-agentic-units/darkroom/observability"
	"github.com/tailored-agentic-units/darkroom/process"
)

// Option configures a Manager after config-driven initialization.
type Option func(*Manager)

// WithStager sets the staging area sessions are created in. Required.
func WithStager(s Stager) Option {
	return func(m *Manager) { m.stager = s }
}

// WithRunner sets the runner that launches the interactive editor. Required.
func WithRunner(r process.Runner) Option {
	return func(m *Manager) { m.runner = r }
}

// WithRenderer sets the headless renderer. Required.
func WithRenderer(r Renderer) Option {
	return func(m *Manager) { m.renderer = r }
}

// WithCodec overrides the codec built from adjustment.DefaultConfig.
func WithCodec(c *adjustment.Codec) Option {
	return func(m *Manager) { m.codec = c }
}

// WithObserver overrides the default NoOpObserver.
func WithObserver(o observability.Observer) Option {
	return func(m *Manager) { m.observer = o }
}

// Manager owns the session table and drives each session through its
// lifecycle. All methods are safe for concurrent use.
type Manager struct {
	sessions  cmap.ConcurrentMap[string, *editSession]
	stager    Stager
	runner    process.Runner
	renderer  Renderer
	codec     *adjustment.Codec
	observer  observability.Observer
	editor    process.Tool
	policy    FinishPolicy
	outputDir string
	closed    atomic.Bool
}

// NewManager creates a Manager from configuration. Stager, runner and
// renderer are supplied through options.
func NewManager(cfg *Config, opts ...Option) (*Manager, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		sessions:  cmap.New[*editSession](),
		observer:  observability.NoOpObserver{},
		editor:    cfg.Editor,
		policy:    cfg.FinishPolicy,
		outputDir: cfg.OutputDir,
	}

	for _, opt := range opts {
		opt(m)
	}

	switch {
	case m.stager == nil:
		return nil, fmt.Errorf("session manager requires a stager")
	case m.runner == nil:
		return nil, fmt.Errorf("session manager requires a process runner")
	case m.renderer == nil:
		return nil, fmt.Errorf("session manager requires a renderer")
	}

	if m.codec == nil {
		acfg := adjustment.DefaultConfig()
		codec, err := adjustment.NewCodec(&acfg)
		if err != nil {
			return nil, err
		}
		m.codec = codec
	}

	return m, nil
}

// Codec returns the codec sessions restore and capture history with.
func (m *Manager) Codec() *adjustment.Codec {
	return m.codec
}

// OutputDir returns where artifacts go for inputs without an OutputPath.
func (m *Manager) OutputDir() string {
	return m.outputDir
}

// Begin stages input, restores prior when it is recognized and launches the
// interactive editor. It returns as soon as the editor has started. On
// failure the returned *Error carries the handle of the failed session,
// which stays queryable until forgotten.
func (m *Manager) Begin(ctx context.Context, input Input, prior *adjustment.Blob) (string, error) {
	if m.closed.Load() {
		return "", ErrClosed
	}
	if input.SourcePath == "" {
		return "", fmt.Errorf("%w: source path is required", ErrInvalidInput)
	}

	handle := uuid.Must(uuid.NewV7()).String()
	s := newEditSession(handle, input, prior)
	m.sessions.Set(handle, s)

	m.emit(ctx, EventBegin, observability.LevelInfo, "session.Begin", map[string]any{
		"handle": handle,
		"source": input.SourcePath,
		"prior":  prior != nil,
	})

	if m.closed.Load() {
		return "", m.fail(ctx, s, ErrClosed)
	}
	if !m.advance(ctx, s, Idle, Staging) {
		return "", m.fail(ctx, s, ErrCancelled)
	}

	dir, err := m.stager.Create(ctx, handle)
	if err != nil {
		return "", m.fail(ctx, s, err)
	}
	s.mu.Lock()
	s.dir = dir
	s.mu.Unlock()

	raw, err := dir.Stage(ctx, input.SourcePath)
	if err != nil {
		return "", m.fail(ctx, s, err)
	}
	sidecar := m.codec.SidecarPath(raw)

	s.mu.Lock()
	s.raw = raw
	s.sidecar = sidecar
	s.mu.Unlock()

	m.restore(ctx, s, raw, sidecar)

	if err := m.launch(ctx, s, raw); err != nil {
		return "", err
	}
	return handle, nil
}

// restore writes a recognized prior blob into the sidecar and renders a
// preview from it. Both steps are best effort.
func (m *Manager) restore(ctx context.Context, s *editSession, raw, sidecar string) {
	if s.prior == nil {
		return
	}

	if !m.codec.Recognize(s.prior) {
		m.emit(ctx, EventAdjustmentIgnored, observability.LevelWarning, "session.Begin", map[string]any{
			"handle":   s.handle,
			"identity": s.prior.Identity,
			"version":  s.prior.Version,
		})
		return
	}

	s.mu.Lock()
	s.recognized = true
	s.mu.Unlock()

	if err := m.codec.WriteHistory(s.prior, sidecar); err != nil {
		m.emit(ctx, EventSidecarWriteFailed, observability.LevelWarning, "session.Begin", map[string]any{
			"handle": s.handle,
			"error":  err.Error(),
		})
		return
	}

	preview, err := m.renderer.Render(ctx, raw, sidecar)
	if err != nil {
		m.emit(ctx, EventPreviewFailed, observability.LevelWarning, "session.Begin", map[string]any{
			"handle": s.handle,
			"error":  err.Error(),
		})
		return
	}

	s.mu.Lock()
	s.preview = preview
	s.mu.Unlock()

	m.emit(ctx, EventPreview, observability.LevelInfo, "session.Begin", map[string]any{
		"handle":  s.handle,
		"preview": preview,
	})
}

// launch starts the editor and enters Editing. The session lock is held
// across the launch so the exit callback cannot observe Staging.
func (m *Manager) launch(ctx context.Context, s *editSession, raw string) error {
	s.mu.Lock()
	if s.cancelled || s.state != Staging {
		s.mu.Unlock()
		return m.fail(ctx, s, ErrCancelled)
	}

	tool, err := m.runner.LaunchAsync(ctx, m.editor.Command(raw), func(exit process.Exit) {
		m.onExit(s, exit)
	})
	if err != nil {
		s.mu.Unlock()
		return m.fail(ctx, s, err)
	}

	s.tool = tool
	s.state = Editing
	m.emitTransition(ctx, s, Staging, Editing)
	s.mu.Unlock()
	return nil
}

// onExit is the only path from Editing to Ready.
func (m *Manager) onExit(s *editSession, exit process.Exit) {
	ctx := context.Background()

	s.mu.Lock()
	s.exit = &exit
	from := s.state
	if from == Editing {
		s.state = Ready
		s.closeReady()
	}
	s.mu.Unlock()

	m.emit(ctx, EventEditorExit, observability.LevelInfo, "session.onExit", map[string]any{
		"handle": s.handle,
		"code":   exit.Code,
		"state":  from.String(),
	})
	if from == Editing {
		m.emitTransition(ctx, s, Editing, Ready)
	}
}

// Finish renders the final artifact of a Ready session, captures its edit
// history and delivers the artifact. Before the editor exits, Finish either
// waits or fails with ErrNotReady depending on the configured policy; it
// never produces a result for a session that has not been Ready.
func (m *Manager) Finish(ctx context.Context, handle string) (Result, error) {
	s, ok := m.sessions.Get(handle)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrNotFound, handle)
	}

	if err := m.awaitReady(ctx, s); err != nil {
		return Result{}, err
	}

	s.mu.Lock()
	raw, sidecar := s.raw, s.sidecar
	s.mu.Unlock()

	artifact, err := m.renderer.Render(ctx, raw, sidecar)
	if err != nil {
		return Result{}, m.fail(ctx, s, err)
	}
	if m.isCancelled(s) {
		return Result{}, m.fail(ctx, s, ErrCancelled)
	}

	var blob *adjustment.Blob
	if data, err := m.codec.ReadHistory(sidecar); err != nil {
		m.emit(ctx, EventSidecarReadFailed, observability.LevelWarning, "session.Finish", map[string]any{
			"handle": s.handle,
			"error":  err.Error(),
		})
	} else {
		blob = m.codec.Blob(data)
	}

	dest := m.destination(s, artifact)
	if err := deliver(artifact, dest); err != nil {
		return Result{}, m.fail(ctx, s, fmt.Errorf("%w: %w", ErrDeliverFailed, err))
	}

	if err := m.release(ctx, s); err != nil {
		_ = os.Remove(dest)
		return Result{}, m.fail(ctx, s, err)
	}

	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		_ = os.Remove(dest)
		return Result{}, m.fail(ctx, s, ErrCancelled)
	}
	s.state = Completed
	s.closeReady()
	s.mu.Unlock()

	m.emitTransition(ctx, s, Rendering, Completed)
	m.emit(ctx, EventComplete, observability.LevelInfo, "session.Finish", map[string]any{
		"handle":                  s.handle,
		"artifact":                dest,
		"adjustment":              blob != nil,
		observability.DurationKey: time.Since(s.created),
	})

	return Result{
		Handle:       s.handle,
		ArtifactPath: dest,
		Adjustment:   blob,
		Token:        s.input.Token,
	}, nil
}

// awaitReady moves s from Ready to Rendering, waiting for the editor to exit
// when the policy allows it.
func (m *Manager) awaitReady(ctx context.Context, s *editSession) error {
	for {
		s.mu.Lock()
		state := s.state

		switch state {
		case Ready:
			s.state = Rendering
			s.mu.Unlock()
			m.emitTransition(ctx, s, Ready, Rendering)
			return nil

		case Idle, Staging, Editing:
			ready := s.ready
			s.mu.Unlock()

			if m.policy == FinishReject {
				return &Error{Handle: s.handle, State: state, Err: ErrNotReady}
			}

			select {
			case <-ready:
			case <-ctx.Done():
				return &Error{Handle: s.handle, State: state, Err: ctx.Err()}
			}

		case Failed:
			err := s.err
			s.mu.Unlock()
			return &Error{Handle: s.handle, State: Failed, Err: err}

		default:
			s.mu.Unlock()
			return &Error{Handle: s.handle, State: state, Err: ErrFinished}
		}
	}
}

// Cancel discards a session without rendering. A running editor is
// terminated before the staging directory is released. A session that is
// rendering is marked and fails once the render returns; one still staging
// fails before its editor launches. Cancelling a terminal session does
// nothing.
func (m *Manager) Cancel(ctx context.Context, handle string) error {
	s, ok := m.sessions.Get(handle)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, handle)
	}

	s.mu.Lock()
	from := s.state
	if from.Terminal() {
		s.mu.Unlock()
		return nil
	}
	s.cancelled = true

	if from != Editing && from != Ready {
		s.mu.Unlock()
		m.emit(ctx, EventCancel, observability.LevelInfo, "session.Cancel", map[string]any{
			"handle":   handle,
			"state":    from.String(),
			"deferred": true,
		})
		return nil
	}

	s.state = Failed
	s.err = ErrCancelled
	s.closeReady()
	tool := s.tool
	s.mu.Unlock()

	m.emit(ctx, EventCancel, observability.LevelInfo, "session.Cancel", map[string]any{
		"handle": handle,
		"state":  from.String(),
	})

	if from == Editing && tool != nil {
		m.stopEditor(ctx, s, tool)
	}

	m.terminate(ctx, s, from, ErrCancelled)
	return nil
}

func (m *Manager) stopEditor(ctx context.Context, s *editSession, tool process.Handle) {
	if err := tool.Terminate(); err != nil {
		m.emit(ctx, EventCancel, observability.LevelWarning, "session.Cancel", map[string]any{
			"handle": s.handle,
			"error":  err.Error(),
		})
	}
	select {
	case <-tool.Done():
	case <-ctx.Done():
	}
}

// fail moves a non-terminal session to Failed and releases its staging
// directory. For a session already terminal it only reports the recorded
// outcome.
func (m *Manager) fail(ctx context.Context, s *editSession, cause error) error {
	s.mu.Lock()
	from := s.state
	if from.Terminal() {
		err := s.err
		s.mu.Unlock()
		if err == nil {
			err = cause
		}
		return &Error{Handle: s.handle, State: from, Err: err}
	}
	s.state = Failed
	s.err = cause
	s.closeReady()
	s.mu.Unlock()

	return m.terminate(ctx, s, from, cause)
}

// terminate finishes the failure path of a session already marked Failed.
func (m *Manager) terminate(ctx context.Context, s *editSession, from State, cause error) error {
	m.emitTransition(ctx, s, from, Failed)

	if err := m.release(ctx, s); err != nil {
		cause = errors.Join(cause, err)
		s.mu.Lock()
		s.err = cause
		s.mu.Unlock()
	}

	level := observability.LevelError
	if errors.Is(cause, ErrCancelled) {
		level = observability.LevelWarning
	}
	m.emit(ctx, EventFailed, level, "session", map[string]any{
		"handle": s.handle,
		"from":   from.String(),
		"error":  cause.Error(),
	})

	return &Error{Handle: s.handle, State: Failed, Err: cause}
}

// release disposes of the staging directory at most once per session.
func (m *Manager) release(ctx context.Context, s *editSession) error {
	s.mu.Lock()
	dir := s.dir
	if dir == nil || s.released {
		s.mu.Unlock()
		return nil
	}
	s.released = true
	s.mu.Unlock()

	return dir.Release(context.WithoutCancel(ctx))
}

func (m *Manager) advance(ctx context.Context, s *editSession, from, to State) bool {
	s.mu.Lock()
	if s.state != from || s.cancelled {
		s.mu.Unlock()
		return false
	}
	s.state = to
	s.mu.Unlock()

	m.emitTransition(ctx, s, from, to)
	return true
}

func (m *Manager) isCancelled(s *editSession) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

func (m *Manager) destination(s *editSession, artifact string) string {
	if s.input.OutputPath != "" {
		return s.input.OutputPath
	}
	return filepath.Join(m.outputDir, s.handle+"-"+filepath.Base(artifact))
}

// State returns the current state of a session.
func (m *Manager) State(handle string) (State, error) {
	s, ok := m.sessions.Get(handle)
	if !ok {
		return Idle, fmt.Errorf("%w: %s", ErrNotFound, handle)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, nil
}

// Info returns a snapshot of a session.
func (m *Manager) Info(handle string) (Info, error) {
	s, ok := m.sessions.Get(handle)
	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrNotFound, handle)
	}
	return s.info(), nil
}

// Ready returns a channel closed once the session leaves Editing, whether
// because the editor exited or because the session failed.
func (m *Manager) Ready(handle string) (<-chan struct{}, error) {
	s, ok := m.sessions.Get(handle)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, handle)
	}
	return s.ready, nil
}

// Sessions returns snapshots of every known session, oldest first.
func (m *Manager) Sessions() []Info {
	items := m.sessions.Items()
	infos := make([]Info, 0, len(items))
	for _, s := range items {
		infos = append(infos, s.info())
	}
	slices.SortFunc(infos, func(a, b Info) int {
		return a.Created.Compare(b.Created)
	})
	return infos
}

// Active reports whether id belongs to a session that still holds staging
// resources. Orphan sweeps use it to skip live directories.
func (m *Manager) Active(id string) bool {
	s, ok := m.sessions.Get(id)
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.released
}

// Forget drops the record of a terminal session.
func (m *Manager) Forget(handle string) error {
	var (
		found bool
		state State
	)
	m.sessions.RemoveCb(handle, func(_ string, s *editSession, exists bool) bool {
		if !exists {
			return false
		}
		found = true
		s.mu.Lock()
		state = s.state
		s.mu.Unlock()
		return state.Terminal()
	})

	if !found {
		return fmt.Errorf("%w: %s", ErrNotFound, handle)
	}
	if !state.Terminal() {
		return &Error{Handle: handle, State: state, Err: ErrNotTerminal}
	}

	m.emit(context.Background(), EventForget, observability.LevelVerbose, "session.Forget", map[string]any{
		"handle": handle,
		"state":  state.String(),
	})
	return nil
}

// Close refuses new sessions, cancels every active one and drops all
// records. Sessions being rendered fail when their render returns.
func (m *Manager) Close(ctx context.Context) error {
	m.closed.Store(true)

	var errs []error
	for handle := range m.sessions.Items() {
		if err := m.Cancel(ctx, handle); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, err)
		}
	}
	m.sessions.Clear()

	return errors.Join(errs...)
}

func (m *Manager) emitTransition(ctx context.Context, s *editSession, from, to State) {
	m.emit(ctx, EventTransition, observability.LevelVerbose, "session", map[string]any{
		"handle": s.handle,
		"from":   from.String(),
		"to":     to.String(),
	})
}

func (m *Manager) emit(ctx context.Context, typ observability.EventType, level observability.Level, source string, data map[string]any) {
	m.observer.OnEvent(ctx, observability.NewEvent(typ, level, source, data))
}
