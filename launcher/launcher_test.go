package launcher_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tailored-agentic-units/darkroom/launcher"
	"github.com/tailored-agentic-units/darkroom/observability"
	"github.com/tailored-agentic-units/darkroom/session"
	"github.com/tailored-agentic-units/darkroom/staging"
)

func TestDefaultConfig(t *testing.T) {
	cfg := launcher.DefaultConfig()

	assert.Equal(t, "slog", cfg.Observer)
	assert.False(t, cfg.Metrics)
	assert.Equal(t, "darktable", cfg.Session.Editor.Executable)
	assert.Equal(t, "darktable-cli", cfg.Render.Tool.Executable)
	assert.Equal(t, staging.DisposalDelete, cfg.Staging.Disposal)
	assert.Equal(t, session.FinishWait, cfg.Session.FinishPolicy)
}

func TestConfig_Merge(t *testing.T) {
	cfg := launcher.DefaultConfig()
	cfg.Merge(&launcher.Config{
		Observer: "noop",
		Metrics:  true,
		Staging:  staging.Config{Disposal: staging.DisposalTrash},
	})

	assert.Equal(t, "noop", cfg.Observer)
	assert.True(t, cfg.Metrics)
	assert.Equal(t, staging.DisposalTrash, cfg.Staging.Disposal)
	assert.Equal(t, "darktable", cfg.Session.Editor.Executable, "zero values preserve defaults")
}

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "json",
			file: "config.json",
			content: `{
				"observer": "noop",
				"staging": {"root": "/var/tmp/darkroom", "disposal": "trash"},
				"render": {"tool": {"executable": "/opt/dt/darktable-cli"}, "timeout": "30s"},
				"session": {"finish_policy": "reject"}
			}`,
		},
		{
			name: "yaml",
			file: "config.yaml",
			content: `
observer: noop
staging:
  root: /var/tmp/darkroom
  disposal: trash
render:
  tool:
    executable: /opt/dt/darktable-cli
  timeout: 30s
session:
  finish_policy: reject
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			cfg, err := launcher.LoadConfig(path)
			require.NoError(t, err)

			assert.Equal(t, "noop", cfg.Observer)
			assert.Equal(t, "/var/tmp/darkroom", cfg.Staging.Root)
			assert.Equal(t, staging.DisposalTrash, cfg.Staging.Disposal)
			assert.Equal(t, "/opt/dt/darktable-cli", cfg.Render.Tool.Executable)
			assert.Equal(t, "30s", cfg.Render.Timeout)
			assert.Equal(t, ".jpg", cfg.Render.OutputExt)
			assert.Equal(t, session.FinishReject, cfg.Session.FinishPolicy)
			assert.Equal(t, []string{"--library", ":memory:"}, cfg.Session.Editor.Args)
		})
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	dir := t.TempDir()
	badJSON := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(badJSON, []byte("{invalid}"), 0o644))
	badYAML := filepath.Join(dir, "bad.yml")
	require.NoError(t, os.WriteFile(badYAML, []byte("staging: [unclosed"), 0o644))

	for _, path := range []string{"/nonexistent/config.json", badJSON, badYAML} {
		t.Run(filepath.Base(path), func(t *testing.T) {
			_, err := launcher.LoadConfig(path)
			assert.Error(t, err)
		})
	}
}

func TestNew_UnknownObserver(t *testing.T) {
	cfg := launcher.DefaultConfig()
	cfg.Observer = "carrier-pigeon"
	_, err := launcher.New(&cfg)
	assert.Error(t, err)
}

type fixture struct {
	cfg    launcher.Config
	source string
	root   string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}

	bin := t.TempDir()
	editor := filepath.Join(bin, "darktable")
	require.NoError(t, os.WriteFile(editor, []byte("#!/bin/sh\nprintf edited > \"$3.xmp\"\n"), 0o755))
	renderer := filepath.Join(bin, "darktable-cli")
	require.NoError(t, os.WriteFile(renderer, []byte("#!/bin/sh\ncat \"$2\" > \"$3/$(basename \"${1%.*}\").jpg\"\n"), 0o755))

	source := filepath.Join(t.TempDir(), "IMG_7.CR3")
	require.NoError(t, os.WriteFile(source, []byte("cr3"), 0o644))

	cfg := launcher.DefaultConfig()
	cfg.Observer = "noop"
	cfg.Staging.Root = filepath.Join(t.TempDir(), "staging")
	cfg.Session.Editor.Executable = editor
	cfg.Session.OutputDir = filepath.Join(t.TempDir(), "out")
	cfg.Render.Tool.Executable = renderer

	return fixture{cfg: cfg, source: source, root: cfg.Staging.Root}
}

func TestLauncher_Edit(t *testing.T) {
	f := newFixture(t)
	rec := observability.NewRecorder()

	l, err := launcher.New(&f.cfg, launcher.WithObserver(rec))
	require.NoError(t, err)
	defer l.Close(context.Background())

	res, err := l.Edit(context.Background(), session.Input{SourcePath: f.source, Token: "asset-7"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "asset-7", res.Token)
	data, err := os.ReadFile(res.ArtifactPath)
	require.NoError(t, err)
	assert.Equal(t, "edited", string(data))
	require.NotNil(t, res.Adjustment)
	assert.Equal(t, "edited", string(res.Adjustment.Data))
	assert.True(t, l.Codec().Recognize(res.Adjustment))

	assert.Empty(t, l.Manager().Sessions(), "one-shot sessions are forgotten")
	assert.Equal(t, 1, rec.Count(launcher.EventStart))
	assert.Equal(t, 1, rec.Count(session.EventComplete))
}

func TestLauncher_EditBeginFailure(t *testing.T) {
	f := newFixture(t)
	l, err := launcher.New(&f.cfg)
	require.NoError(t, err)
	defer l.Close(context.Background())

	_, err = l.Edit(context.Background(), session.Input{SourcePath: filepath.Join(t.TempDir(), "missing.CR3")}, nil)
	assert.ErrorIs(t, err, staging.ErrCopyFailed)
	assert.Empty(t, l.Manager().Sessions())
}

func TestLauncher_EditCancelled(t *testing.T) {
	f := newFixture(t)
	editor := filepath.Join(t.TempDir(), "darktable")
	require.NoError(t, os.WriteFile(editor, []byte("#!/bin/sh\nexec sleep 30\n"), 0o755))
	f.cfg.Session.Editor.Executable = editor
	f.cfg.Process.TerminateGrace = "500ms"

	l, err := launcher.New(&f.cfg)
	require.NoError(t, err)
	defer l.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err = l.Edit(ctx, session.Input{SourcePath: f.source}, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	entries, err := os.ReadDir(f.root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLauncher_Metrics(t *testing.T) {
	f := newFixture(t)
	f.cfg.Metrics = true
	reg := prometheus.NewRegistry()

	l, err := launcher.New(&f.cfg, launcher.WithRegistry(reg))
	require.NoError(t, err)
	defer l.Close(context.Background())
	assert.Same(t, reg, l.Registry())

	_, err = l.Edit(context.Background(), session.Input{SourcePath: f.source}, nil)
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(reg, "darkroom_events_total")
	require.NoError(t, err)
	assert.Positive(t, count)
}

func TestLauncher_SweepOnStart(t *testing.T) {
	f := newFixture(t)
	f.cfg.Staging.SweepOnStart = true
	f.cfg.Staging.SweepAfter = "1h"

	orphan := filepath.Join(f.root, "0190a0a0-dead-7000-8000-000000000000")
	fresh := filepath.Join(f.root, "0190a0a0-beef-7000-8000-000000000000")
	require.NoError(t, os.MkdirAll(orphan, 0o700))
	require.NoError(t, os.MkdirAll(fresh, 0o700))
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(orphan, old, old))

	l, err := launcher.New(&f.cfg)
	require.NoError(t, err)
	defer l.Close(context.Background())

	assert.NoDirExists(t, orphan)
	assert.DirExists(t, fresh)
}

func TestLauncher_Checks(t *testing.T) {
	f := newFixture(t)
	l, err := launcher.New(&f.cfg)
	require.NoError(t, err)
	defer l.Close(context.Background())

	for name, check := range l.Checks() {
		assert.NoError(t, check(), name)
	}

	f.cfg.Render.Tool.Executable = filepath.Join(t.TempDir(), "absent")
	broken, err := launcher.New(&f.cfg)
	require.NoError(t, err)
	defer broken.Close(context.Background())

	assert.Error(t, broken.Checks()["renderer"]())
	assert.NoError(t, broken.Checks()["editor"]())
}
