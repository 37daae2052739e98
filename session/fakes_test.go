package session_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tailored-agentic-units/darkroom/adjustment"
	"github.com/tailored-agentic-units/darkroom/observability"
	"github.com/tailored-agentic-units/darkroom/process"
	"github.com/tailored-agentic-units/darkroom/render"
	"github.com/tailored-agentic-units/darkroom/session"
	"github.com/tailored-agentic-units/darkroom/staging"
)

// fakeRunner records launches. Tests end the editor with fakeHandle.Exit.
type fakeRunner struct {
	mu       sync.Mutex
	err      error
	launches []process.Command
	handles  []*fakeHandle
}

func (r *fakeRunner) LaunchAsync(_ context.Context, cmd process.Command, onExit func(process.Exit)) (process.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return nil, r.err
	}
	h := &fakeHandle{onExit: onExit, done: make(chan struct{})}
	r.launches = append(r.launches, cmd)
	r.handles = append(r.handles, h)
	return h, nil
}

func (r *fakeRunner) LaunchBlocking(context.Context, process.Command) (process.Exit, error) {
	return process.Exit{}, errors.New("fake runner does not block")
}

func (r *fakeRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.launches)
}

func (r *fakeRunner) last() *fakeHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handles[len(r.handles)-1]
}

type fakeHandle struct {
	once       sync.Once
	onExit     func(process.Exit)
	done       chan struct{}
	terminated atomic.Bool
}

func (h *fakeHandle) Pid() int { return 4242 }

func (h *fakeHandle) Done() <-chan struct{} { return h.done }

func (h *fakeHandle) Terminate() error {
	h.terminated.Store(true)
	h.Exit(-1)
	return nil
}

// Exit simulates the editor closing.
func (h *fakeHandle) Exit(code int) {
	h.once.Do(func() {
		h.onExit(process.Exit{Code: code})
		close(h.done)
	})
}

// fakeRenderer writes "jpeg:" plus the sidecar content to the artifact path.
type fakeRenderer struct {
	mu    sync.Mutex
	calls int
	err   error
	gate  chan struct{}
	enter chan struct{}
}

func (r *fakeRenderer) Render(_ context.Context, raw, sidecar string) (string, error) {
	r.mu.Lock()
	r.calls++
	err, gate, enter := r.err, r.gate, r.enter
	r.mu.Unlock()

	if enter != nil {
		enter <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	if err != nil {
		return "", &render.Error{Kind: render.ErrRenderFailed, Path: raw, Err: err}
	}

	history, _ := os.ReadFile(sidecar)
	out := render.ArtifactPath(raw, ".jpg")
	if err := os.WriteFile(out, append([]byte("jpeg:"), history...), 0o644); err != nil {
		return "", err
	}
	return out, nil
}

func (r *fakeRenderer) set(fn func(r *fakeRenderer)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r)
}

func (r *fakeRenderer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// countingStager wraps a real staging area and counts releases.
type countingStager struct {
	inner    session.Stager
	releases atomic.Int32
}

func (c *countingStager) Create(ctx context.Context, id string) (session.Workspace, error) {
	w, err := c.inner.Create(ctx, id)
	if err != nil {
		return nil, err
	}
	return &countingWorkspace{Workspace: w, releases: &c.releases}, nil
}

type countingWorkspace struct {
	session.Workspace
	releases *atomic.Int32
}

func (w *countingWorkspace) Release(ctx context.Context) error {
	w.releases.Add(1)
	return w.Workspace.Release(ctx)
}

type harness struct {
	m        *session.Manager
	runner   *fakeRunner
	renderer *fakeRenderer
	stager   *countingStager
	rec      *observability.Recorder
	root     string
	out      string
}

func newHarness(t *testing.T, mutate func(*session.Config)) *harness {
	t.Helper()

	base := t.TempDir()
	scfg := staging.DefaultConfig()
	scfg.Root = filepath.Join(base, "staging")
	area, err := staging.New(&scfg)
	require.NoError(t, err)

	h := &harness{
		runner:   &fakeRunner{},
		renderer: &fakeRenderer{},
		stager:   &countingStager{inner: session.StagingArea(area)},
		rec:      observability.NewRecorder(),
		root:     area.Root(),
		out:      filepath.Join(base, "out"),
	}

	cfg := session.DefaultConfig()
	cfg.OutputDir = h.out
	if mutate != nil {
		mutate(&cfg)
	}

	h.m, err = session.NewManager(&cfg,
		session.WithStager(h.stager),
		session.WithRunner(h.runner),
		session.WithRenderer(h.renderer),
		session.WithObserver(h.rec),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.m.Close(context.Background()) })
	return h
}

func (h *harness) source(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "IMG_0042.CR2")
	require.NoError(t, os.WriteFile(path, []byte("raw sensor data"), 0o644))
	return path
}

func (h *harness) begin(t *testing.T, prior *adjustment.Blob) string {
	t.Helper()
	handle, err := h.m.Begin(context.Background(), session.Input{SourcePath: h.source(t), Token: "tok"}, prior)
	require.NoError(t, err)
	return handle
}

// stagingEntries lists session directories left under the staging root.
func (h *harness) stagingEntries(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(h.root)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
