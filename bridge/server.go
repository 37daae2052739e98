// Package bridge exposes the session manager to a host application over
// HTTP. Procedures speak the Connect protocol with google.protobuf.Struct
// messages; adjustment blobs travel as base64 of their protobuf wire
// encoding. Liveness, readiness and Prometheus metrics are served alongside.
package bridge

import (
	"context"
	"errors"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/tailored-agentic-units/darkroom/observability"
	"github.com/tailored-agentic-units/darkroom/session"
)

const maxGoroutines = 10000

// Option configures a Server.
type Option func(*Server)

// WithChecks adds readiness checks, keyed by name.
func WithChecks(checks map[string]func() error) Option {
	return func(s *Server) {
		for name, check := range checks {
			s.checks[name] = check
		}
	}
}

// WithRegistry serves /metrics from reg and exports check status into it.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) { s.registry = reg }
}

// WithObserver overrides the default NoOpObserver.
func WithObserver(o observability.Observer) Option {
	return func(s *Server) { s.observer = o }
}

// WithHandlerOptions passes options to every Connect handler.
func WithHandlerOptions(opts ...connect.HandlerOption) Option {
	return func(s *Server) { s.handlerOpts = append(s.handlerOpts, opts...) }
}

// Server routes bridge procedures to a session manager.
type Server struct {
	manager     *session.Manager
	checks      map[string]func() error
	registry    *prometheus.Registry
	observer    observability.Observer
	handlerOpts []connect.HandlerOption
	router      chi.Router
}

// NewServer creates a Server for manager.
func NewServer(manager *session.Manager, opts ...Option) *Server {
	s := &Server{
		manager:  manager,
		checks:   make(map[string]func() error),
		observer: observability.NoOpObserver{},
	}

	for _, opt := range opts {
		opt(s)
	}

	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler serving all routes.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	procedures := map[string]func(context.Context, *structpb.Struct) (*structpb.Struct, error){
		BeginProcedure:  s.begin,
		FinishProcedure: s.finish,
		CancelProcedure: s.cancel,
		StatusProcedure: s.status,
		ForgetProcedure: s.forget,
	}
	for procedure, fn := range procedures {
		r.Handle(procedure, connect.NewUnaryHandler(procedure, s.unary(procedure, fn), s.handlerOpts...))
	}

	var health healthcheck.Handler
	if s.registry != nil {
		health = healthcheck.NewMetricsHandler(s.registry, "darkroom")
		r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	} else {
		health = healthcheck.NewHandler()
	}
	health.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(maxGoroutines))
	for name, check := range s.checks {
		health.AddReadinessCheck(name, check)
	}
	r.Get("/live", health.LiveEndpoint)
	r.Get("/ready", health.ReadyEndpoint)

	return r
}

// unary adapts fn to a Connect handler, mapping errors to Connect codes and
// reporting each call to the observer.
func (s *Server) unary(
	procedure string,
	fn func(context.Context, *structpb.Struct) (*structpb.Struct, error),
) func(context.Context, *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	return func(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
		start := time.Now()
		out, err := fn(ctx, req.Msg)

		data := map[string]any{
			"procedure":               procedure,
			observability.DurationKey: time.Since(start),
		}
		level := observability.LevelVerbose
		if err != nil {
			cerr := toConnectError(err)
			data["code"] = cerr.Code().String()
			level = observability.LevelWarning
			s.observer.OnEvent(ctx, observability.NewEvent(EventCall, level, "bridge", data))
			return nil, cerr
		}
		s.observer.OnEvent(ctx, observability.NewEvent(EventCall, level, "bridge", data))
		return connect.NewResponse(out), nil
	}
}

func (s *Server) begin(ctx context.Context, msg *structpb.Struct) (*structpb.Struct, error) {
	input, prior, err := parseBegin(msg)
	if err != nil {
		return nil, err
	}

	if input.OutputPath != "" {
		if input.OutputPath, err = confine(s.manager.OutputDir(), input.OutputPath); err != nil {
			return nil, err
		}
	}

	handle, err := s.manager.Begin(ctx, input, prior)
	if err != nil {
		// the caller never learns the handle, so the record would never be
		// forgotten
		var serr *session.Error
		if errors.As(err, &serr) {
			_ = s.manager.Forget(serr.Handle)
		}
		return nil, err
	}
	return handleMessage(handle), nil
}

func (s *Server) finish(ctx context.Context, msg *structpb.Struct) (*structpb.Struct, error) {
	res, err := s.manager.Finish(ctx, stringField(msg, fieldHandle))
	if err != nil {
		return nil, err
	}
	return resultMessage(res)
}

func (s *Server) cancel(ctx context.Context, msg *structpb.Struct) (*structpb.Struct, error) {
	handle := stringField(msg, fieldHandle)
	if err := s.manager.Cancel(ctx, handle); err != nil {
		return nil, err
	}
	return s.status(ctx, msg)
}

func (s *Server) status(_ context.Context, msg *structpb.Struct) (*structpb.Struct, error) {
	info, err := s.manager.Info(stringField(msg, fieldHandle))
	if err != nil {
		return nil, err
	}
	return statusMessage(info), nil
}

func (s *Server) forget(_ context.Context, msg *structpb.Struct) (*structpb.Struct, error) {
	handle := stringField(msg, fieldHandle)
	if err := s.manager.Forget(handle); err != nil {
		return nil, err
	}
	return handleMessage(handle), nil
}
