package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/askmesh/askmesh/internal/auth"
	"github.com/askmesh/askmesh/internal/config"
	"github.com/askmesh/askmesh/internal/observability"
	"github.com/askmesh/askmesh/internal/query"
	"github.com/askmesh/askmesh/internal/stream"
)

type ReadinessCheck func(ctx context.Context) error

// Asker answers questions. *stream.Orchestrator is the production
// implementation.
type Asker interface {
	Resolve(ctx context.Context, req stream.Request) (stream.Result, error)
	Stream(ctx context.Context, req stream.Request) iter.Seq[stream.Envelope]
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Asker             Asker
	QueryEngine       query.Engine
	Schema            query.Describer
	SchemaSamples     int
	Registry          *stream.Registry
	UI                http.Handler
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	if deps.Registry == nil {
		deps.Registry = stream.NewRegistry()
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	protected := http.NewServeMux()
	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			deps.Logger.Error("auth required but auth middleware missing")
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}

	ws := newWebSocketHandler(cfg.Stream, deps)
	routes := []struct {
		pattern string
		role    string
		handler http.HandlerFunc
	}{
		{"POST /v1/ask", auth.RoleAnalyst, func(w http.ResponseWriter, r *http.Request) { handleAsk(deps, w, r) }},
		{"POST /v1/ask/stream", auth.RoleAnalyst, func(w http.ResponseWriter, r *http.Request) { handleAskStream(deps, w, r) }},
		{"GET /v1/ask/stream", auth.RoleAnalyst, func(w http.ResponseWriter, r *http.Request) { handleAskStream(deps, w, r) }},
		{"GET /v1/ws", auth.RoleAnalyst, ws.ServeHTTP},
		{"GET /v1/visualize/{chart_type}", auth.RoleAnalyst, func(w http.ResponseWriter, r *http.Request) { handleVisualize(deps, w, r) }},
		{"GET /v1/schema", auth.RoleAnalyst, func(w http.ResponseWriter, r *http.Request) { handleSchema(deps, w, r) }},
		{"POST /v1/query", auth.RoleSQLRunner, func(w http.ResponseWriter, r *http.Request) { handleQuery(deps, w, r) }},
		{"GET /v1/connections", auth.RoleOperator, func(w http.ResponseWriter, r *http.Request) { handleListConnections(deps, w, r) }},
		{"POST /v1/connections/broadcast", auth.RoleOperator, func(w http.ResponseWriter, r *http.Request) { handleBroadcast(deps, w, r) }},
	}
	for _, route := range routes {
		protected.Handle(route.pattern, requireRole(route.role, route.handler))
		mux.Handle(route.pattern, protectedHandler)
	}
	if deps.UI != nil {
		mux.Handle("GET /{path...}", deps.UI)
	}

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
		observability.LoggingMiddleware(deps.Logger),
	}
	return chain(mux, middlewares...)
}

type pinger interface {
	PingContext(ctx context.Context) error
}

func CheckDatabase(db pinger) ReadinessCheck {
	return func(ctx context.Context) error {
		if db == nil {
			return errors.New("database is not configured")
		}
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping database: %w", err)
		}
		return nil
	}
}

func CheckObjectStoreConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if !cfg.ObjectStore.Enabled {
			return nil
		}
		if cfg.ObjectStore.Endpoint == "" {
			return errors.New("object store endpoint is not configured")
		}
		if cfg.ObjectStore.Bucket == "" {
			return errors.New("object store bucket is not configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// requireRole passes requests without an identity, which only happens when
// auth is disabled.
func requireRole(role string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := auth.IdentityFromContext(r.Context())
		if ok && !identity.HasRole(role) {
			writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", fmt.Sprintf("missing required role %q", role), false, nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
