package bridge_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"connectrpc.com/connect"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tailored-agentic-units/darkroom/adjustment"
	"github.com/tailored-agentic-units/darkroom/bridge"
	"github.com/tailored-agentic-units/darkroom/launcher"
	"github.com/tailored-agentic-units/darkroom/observability"
	"github.com/tailored-agentic-units/darkroom/session"
)

type env struct {
	launcher *launcher.Launcher
	server   *httptest.Server
	client   *bridge.Client
	rec      *observability.Recorder
	source   string
}

func newEnv(t *testing.T, editorBody string, opts ...bridge.Option) *env {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}

	bin := t.TempDir()
	editor := filepath.Join(bin, "darktable")
	require.NoError(t, os.WriteFile(editor, []byte("#!/bin/sh\n"+editorBody+"\n"), 0o755))
	renderer := filepath.Join(bin, "darktable-cli")
	require.NoError(t, os.WriteFile(renderer, []byte("#!/bin/sh\ncat \"$2\" > \"$3/$(basename \"${1%.*}\").jpg\"\n"), 0o755))

	source := filepath.Join(t.TempDir(), "IMG_9.ARW")
	require.NoError(t, os.WriteFile(source, []byte("arw"), 0o644))

	cfg := launcher.DefaultConfig()
	cfg.Observer = "noop"
	cfg.Staging.Root = filepath.Join(t.TempDir(), "staging")
	cfg.Session.Editor.Executable = editor
	cfg.Session.OutputDir = filepath.Join(t.TempDir(), "out")
	cfg.Render.Tool.Executable = renderer
	cfg.Process.TerminateGrace = "500ms"

	l, err := launcher.New(&cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close(context.Background()) })

	rec := observability.NewRecorder()
	opts = append([]bridge.Option{bridge.WithChecks(l.Checks()), bridge.WithObserver(rec)}, opts...)
	srv := httptest.NewServer(bridge.NewServer(l.Manager(), opts...).Handler())
	t.Cleanup(srv.Close)

	return &env{
		launcher: l,
		server:   srv,
		client:   bridge.NewClient(srv.Client(), srv.URL),
		rec:      rec,
		source:   source,
	}
}

func connectCode(t *testing.T, err error) connect.Code {
	t.Helper()
	require.Error(t, err)
	var cerr *connect.Error
	require.True(t, errors.As(err, &cerr), "not a connect error: %v", err)
	return cerr.Code()
}

func TestBridge_RoundTrip(t *testing.T) {
	e := newEnv(t, `printf '+bridge' >> "$3.xmp"`)
	ctx := context.Background()

	prior := e.launcher.Codec().Blob([]byte("prior"))
	handle, err := e.client.Begin(ctx, session.Input{SourcePath: e.source, Token: "host-token"}, prior)
	require.NoError(t, err)
	require.NotEmpty(t, handle)

	res, err := e.client.Finish(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, handle, res.Handle)
	assert.Equal(t, "host-token", res.Token)
	assert.FileExists(t, res.ArtifactPath)

	require.NotNil(t, res.Adjustment)
	assert.True(t, e.launcher.Codec().Recognize(res.Adjustment))
	assert.Equal(t, "prior+bridge", string(res.Adjustment.Data))

	st, err := e.client.Status(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, session.Completed, st.State)
	assert.True(t, st.PriorRecognized)
	assert.Empty(t, st.StagingDir)
	require.NotNil(t, st.ExitCode)
	assert.Zero(t, *st.ExitCode)

	require.NoError(t, e.client.Forget(ctx, handle))
	_, err = e.client.Status(ctx, handle)
	assert.Equal(t, connect.CodeNotFound, connectCode(t, err))

	assert.Positive(t, e.rec.Count(bridge.EventCall))
}

func TestBridge_Cancel(t *testing.T) {
	e := newEnv(t, "exec sleep 30")
	ctx := context.Background()

	handle, err := e.client.Begin(ctx, session.Input{SourcePath: e.source}, nil)
	require.NoError(t, err)

	st, err := e.client.Status(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, session.Editing, st.State)
	stagingDir := st.StagingDir
	require.DirExists(t, stagingDir)

	st, err = e.client.Cancel(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, session.Failed, st.State)
	assert.Contains(t, st.Error, session.ErrCancelled.Error())
	assert.Empty(t, st.StagingDir)
	assert.NoDirExists(t, stagingDir)

	_, err = e.client.Finish(ctx, handle)
	assert.Equal(t, connect.CodeAborted, connectCode(t, err))
}

func TestBridge_Errors(t *testing.T) {
	e := newEnv(t, "exec sleep 30")
	ctx := context.Background()

	t.Run("unknown handle", func(t *testing.T) {
		_, err := e.client.Finish(ctx, "missing")
		assert.Equal(t, connect.CodeNotFound, connectCode(t, err))
		_, err = e.client.Cancel(ctx, "missing")
		assert.Equal(t, connect.CodeNotFound, connectCode(t, err))
	})

	t.Run("missing source path", func(t *testing.T) {
		_, err := e.client.Begin(ctx, session.Input{}, nil)
		assert.Equal(t, connect.CodeInvalidArgument, connectCode(t, err))
	})

	t.Run("source does not exist", func(t *testing.T) {
		_, err := e.client.Begin(ctx, session.Input{SourcePath: filepath.Join(t.TempDir(), "nope.ARW")}, nil)
		assert.Equal(t, connect.CodeFailedPrecondition, connectCode(t, err))
	})

	t.Run("forget active session", func(t *testing.T) {
		handle, err := e.client.Begin(ctx, session.Input{SourcePath: e.source}, nil)
		require.NoError(t, err)
		err = e.client.Forget(ctx, handle)
		assert.Equal(t, connect.CodeFailedPrecondition, connectCode(t, err))
	})
}

func TestBridge_OutputPathConfined(t *testing.T) {
	e := newEnv(t, "exit 0")
	ctx := context.Background()
	outDir := e.launcher.Manager().OutputDir()

	elsewhere := t.TempDir()
	require.NoError(t, os.MkdirAll(outDir, 0o755))
	require.NoError(t, os.Symlink(elsewhere, filepath.Join(outDir, "link")))

	rejected := []struct {
		name string
		path string
	}{
		{name: "absolute outside", path: filepath.Join(elsewhere, "victim.jpg")},
		{name: "relative escape", path: "../victim.jpg"},
		{name: "nested escape", path: filepath.Join(outDir, "album", "..", "..", "victim.jpg")},
		{name: "output directory itself", path: outDir},
		{name: "through symlink", path: filepath.Join(outDir, "link", "victim.jpg")},
	}

	for _, tt := range rejected {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.client.Begin(ctx, session.Input{SourcePath: e.source, OutputPath: tt.path}, nil)
			assert.Equal(t, connect.CodeInvalidArgument, connectCode(t, err))
		})
	}
	assert.NoFileExists(t, filepath.Join(elsewhere, "victim.jpg"))
	assert.Empty(t, e.launcher.Manager().Sessions())

	accepted := []struct {
		name string
		path string
		want string
	}{
		{name: "relative", path: "album/one.jpg", want: filepath.Join(outDir, "album", "one.jpg")},
		{name: "absolute inside", path: filepath.Join(outDir, "two.jpg"), want: filepath.Join(outDir, "two.jpg")},
	}

	for _, tt := range accepted {
		t.Run(tt.name, func(t *testing.T) {
			handle, err := e.client.Begin(ctx, session.Input{SourcePath: e.source, OutputPath: tt.path}, nil)
			require.NoError(t, err)
			res, err := e.client.Finish(ctx, handle)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.ArtifactPath)
			assert.FileExists(t, tt.want)
		})
	}
}

func TestBridge_FailedBeginForgotten(t *testing.T) {
	e := newEnv(t, "exit 0")
	ctx := context.Background()

	_, err := e.client.Begin(ctx, session.Input{SourcePath: filepath.Join(t.TempDir(), "gone.ARW")}, nil)
	assert.Equal(t, connect.CodeFailedPrecondition, connectCode(t, err))
	assert.Empty(t, e.launcher.Manager().Sessions())
}

func TestBridge_MalformedAdjustment(t *testing.T) {
	e := newEnv(t, "exit 0")

	// hand-built request with an adjustment that is not base64
	body := `{"source_path":"` + e.source + `","adjustment":"%%%"}`
	req, err := http.NewRequest(http.MethodPost, e.server.URL+bridge.BeginProcedure, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "invalid_argument")
	assert.Contains(t, string(data), adjustment.ErrMalformedBlob.Error())
}

func TestBridge_Health(t *testing.T) {
	e := newEnv(t, "exit 0", bridge.WithChecks(map[string]func() error{
		"always-broken": func() error { return errors.New("down") },
	}))

	resp, err := http.Get(e.server.URL + "/live")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(e.server.URL + "/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestBridge_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	prom, err := observability.NewPrometheusObserver(reg)
	require.NoError(t, err)

	e := newEnv(t, "exit 0", bridge.WithRegistry(reg), bridge.WithObserver(prom))

	_, err = e.client.Status(context.Background(), "missing")
	require.Error(t, err)

	resp, err := http.Get(e.server.URL + "/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(e.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(data), `darkroom_events_total{level="WARN",type="bridge.call"} 1`)
	assert.Contains(t, string(data), "darkroom_healthcheck_status")
}
