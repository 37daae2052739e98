package observability_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/tailored-agentic-units/darkroom/observability"
)

func TestLevel_String(t *testing.T) {
	tests := []struct {
		name  string
		level observability.Level
		want  string
	}{
		{name: "trace range", level: 1, want: "TRACE"},
		{name: "verbose maps to DEBUG", level: observability.LevelVerbose, want: "DEBUG"},
		{name: "info maps to INFO", level: observability.LevelInfo, want: "INFO"},
		{name: "warning maps to WARN", level: observability.LevelWarning, want: "WARN"},
		{name: "error maps to ERROR", level: observability.LevelError, want: "ERROR"},
		{name: "fatal range", level: 21, want: "FATAL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.level.String())
		})
	}
}

func TestLevel_SlogLevel(t *testing.T) {
	tests := []struct {
		name  string
		level observability.Level
		want  slog.Level
	}{
		{name: "verbose maps to Debug", level: observability.LevelVerbose, want: slog.LevelDebug},
		{name: "info maps to Info", level: observability.LevelInfo, want: slog.LevelInfo},
		{name: "warning maps to Warn", level: observability.LevelWarning, want: slog.LevelWarn},
		{name: "error maps to Error", level: observability.LevelError, want: slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.level.SlogLevel())
		})
	}
}

func TestNewEvent_Timestamped(t *testing.T) {
	before := time.Now()
	e := observability.NewEvent("staging.create", observability.LevelInfo, "test", nil)

	assert.Equal(t, observability.EventType("staging.create"), e.Type)
	assert.False(t, e.Timestamp.Before(before))
}

func TestMultiObserver_NilFiltering(t *testing.T) {
	rec1 := observability.NewRecorder()
	rec2 := observability.NewRecorder()
	multi := observability.NewMultiObserver(nil, rec1, nil, rec2)

	multi.OnEvent(context.Background(), observability.Event{Type: "test.event", Level: observability.LevelInfo})

	assert.Equal(t, 1, rec1.Count("test.event"))
	assert.Equal(t, 1, rec2.Count("test.event"))
}

func TestRecorder_Types(t *testing.T) {
	rec := observability.NewRecorder()
	rec.OnEvent(context.Background(), observability.Event{Type: "a"})
	rec.OnEvent(context.Background(), observability.Event{Type: "b"})
	rec.OnEvent(context.Background(), observability.Event{Type: "a"})

	assert.Equal(t, []observability.EventType{"a", "b", "a"}, rec.Types())
	assert.Equal(t, 2, rec.Count("a"))
	assert.Len(t, rec.Events(), 3)
}

func TestSlogObserver_LevelMapping(t *testing.T) {
	tests := []struct {
		name      string
		level     observability.Level
		minLevel  slog.Level
		expectLog bool
	}{
		{name: "verbose at debug handler", level: observability.LevelVerbose, minLevel: slog.LevelDebug, expectLog: true},
		{name: "verbose at info handler", level: observability.LevelVerbose, minLevel: slog.LevelInfo, expectLog: false},
		{name: "info at warn handler", level: observability.LevelInfo, minLevel: slog.LevelWarn, expectLog: false},
		{name: "warning at warn handler", level: observability.LevelWarning, minLevel: slog.LevelWarn, expectLog: true},
		{name: "error at error handler", level: observability.LevelError, minLevel: slog.LevelError, expectLog: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: tt.minLevel}))
			obs := observability.NewSlogObserver(logger)

			obs.OnEvent(context.Background(), observability.NewEvent("test.event", tt.level, "test", nil))

			assert.Equal(t, tt.expectLog, buf.Len() > 0, "buf: %q", buf.String())
		})
	}
}

func TestSlogObserver_EventTypeAsMessage(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	obs := observability.NewSlogObserver(logger)

	obs.OnEvent(context.Background(), observability.NewEvent(
		"session.transition", observability.LevelInfo, "session.Begin",
		map[string]any{"to": "editing"},
	))

	out := buf.String()
	assert.Contains(t, out, "session.transition")
	assert.Contains(t, out, "source=session.Begin")
	assert.Contains(t, out, "to=editing")
}

func TestSlogObserver_SortedAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	obs := observability.NewSlogObserver(logger)

	obs.OnEvent(context.Background(), observability.NewEvent(
		"session.failed", observability.LevelError, "session.Finish",
		map[string]any{"zeta": 1, "error": errors.New("render failed"), "alpha": "a"},
	))

	out := buf.String()
	assert.Contains(t, out, `error="render failed"`)
	assert.Less(t, strings.Index(out, "alpha="), strings.Index(out, "error="))
	assert.Less(t, strings.Index(out, "error="), strings.Index(out, "zeta="))
}

func TestRegistry(t *testing.T) {
	for _, name := range []string{"noop", "slog", "otel"} {
		obs, err := observability.GetObserver(name)
		require.NoError(t, err, name)
		assert.NotNil(t, obs, name)
	}

	_, err := observability.GetObserver("nonexistent")
	assert.Error(t, err)

	rec := observability.NewRecorder()
	observability.RegisterObserver("test-recorder", rec)
	obs, err := observability.Resolve("test-recorder")
	require.NoError(t, err)
	obs.OnEvent(context.Background(), observability.Event{Type: "x"})
	assert.Equal(t, 1, rec.Count("x"))

	obs, err = observability.Resolve("")
	require.NoError(t, err)
	assert.IsType(t, observability.NoOpObserver{}, obs)
}

func TestPrometheusObserver(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs, err := observability.NewPrometheusObserver(reg)
	require.NoError(t, err)

	ctx := context.Background()
	obs.OnEvent(ctx, observability.NewEvent("render.complete", observability.LevelInfo, "test",
		map[string]any{observability.DurationKey: 250 * time.Millisecond}))
	obs.OnEvent(ctx, observability.NewEvent("render.complete", observability.LevelInfo, "test", nil))
	obs.OnEvent(ctx, observability.NewEvent("render.failed", observability.LevelError, "test", nil))

	count, err := testutil.GatherAndCount(reg, "darkroom_events_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = testutil.GatherAndCount(reg, "darkroom_step_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// A second observer on the same registry shares the collectors.
	again, err := observability.NewPrometheusObserver(reg)
	require.NoError(t, err)
	again.OnEvent(ctx, observability.NewEvent("render.failed", observability.LevelError, "test", nil))

	count, err = testutil.GatherAndCount(reg, "darkroom_events_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestTraceObserver(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "edit")
	obs := observability.TraceObserver{}
	obs.OnEvent(ctx, observability.NewEvent("session.transition", observability.LevelInfo, "test",
		map[string]any{"to": "ready"}))
	obs.OnEvent(ctx, observability.NewEvent("render.failed", observability.LevelError, "test", nil))
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	events := ended[0].Events()
	require.Len(t, events, 2)
	assert.Equal(t, "session.transition", events[0].Name)
	assert.Equal(t, codes.Error, ended[0].Status().Code)

	// Without a recording span the observer is inert.
	obs.OnEvent(context.Background(), observability.NewEvent("x", observability.LevelError, "test", nil))
}
