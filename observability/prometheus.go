package observability

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DurationKey is the Data key subsystems use to report how long a step took.
// PrometheusObserver turns time.Duration values under this key into
// histogram observations.
const DurationKey = "duration"

// PrometheusObserver counts events by type and level and records step
// durations. Metrics are prefixed with "darkroom_".
type PrometheusObserver struct {
	events    *prometheus.CounterVec
	durations *prometheus.HistogramVec
}

// NewPrometheusObserver creates the collectors and registers them with reg.
// Collectors already registered by a previous observer are reused.
func NewPrometheusObserver(reg prometheus.Registerer) (*PrometheusObserver, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "darkroom_events_total",
		Help: "Edit session events by type and severity.",
	}, []string{"type", "level"})

	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "darkroom_step_duration_seconds",
		Help:    "Duration of staging, render and editing steps.",
		Buckets: []float64{0.01, 0.05, 0.25, 1, 5, 15, 60, 300, 1800},
	}, []string{"type"})

	var err error
	if events, err = register(reg, events); err != nil {
		return nil, err
	}
	if durations, err = register(reg, durations); err != nil {
		return nil, err
	}

	return &PrometheusObserver{events: events, durations: durations}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (o *PrometheusObserver) OnEvent(ctx context.Context, event Event) {
	o.events.WithLabelValues(string(event.Type), event.Level.String()).Inc()

	if d, ok := event.Data[DurationKey].(time.Duration); ok {
		o.durations.WithLabelValues(string(event.Type)).Observe(d.Seconds())
	}
}
