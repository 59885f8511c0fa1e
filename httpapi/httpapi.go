// Package httpapi exposes §6's operations over chi: one handler per
// consumed/exposed operation, wired against the component structs the rest
// of the module builds. Route shape, middleware ordering and the
// health/ready/metrics trio are adapted from the gateway's router package.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/expensecore/expense-engine/apperr"
	"github.com/expensecore/expense-engine/config"
	"github.com/expensecore/expense-engine/fingerprint"
	"github.com/expensecore/expense-engine/learning"
	"github.com/expensecore/expense-engine/matching"
	"github.com/expensecore/expense-engine/metering"
	"github.com/expensecore/expense-engine/middleware"
	"github.com/expensecore/expense-engine/models"
	"github.com/expensecore/expense-engine/observability"
	"github.com/expensecore/expense-engine/tierrouter"
	"github.com/expensecore/expense-engine/vectorindex"
	"github.com/expensecore/expense-engine/vendoralias"
)

// Deps bundles every collaborator a handler needs. One Deps is built once
// at startup and closed over by every route.
type Deps struct {
	Config      *config.Config
	Logger      zerolog.Logger
	TierRouter  *tierrouter.Engine
	Matching    *matching.Engine
	Fingerprint *fingerprint.Resolver
	Meter       *metering.Meter
	Aliases     *vendoralias.Registry
	Vectors     *vectorindex.Index
	Learning    *learning.Loop
	Auth        middleware.UserResolver
	Metrics     *observability.Metrics
	Tracer      *observability.Tracer
	Ready       func(ctx context.Context) error
}

// contextAliasFinder adapts vendoralias.Registry (which is scoped by
// userID) to tierrouter.AliasFinder's single-argument Find. The engine is
// built once at startup and shared across requests, so the user can't be
// bound at construction time; it is read back off the request context the
// auth middleware already populates.
type contextAliasFinder struct {
	registry *vendoralias.Registry
}

func (f contextAliasFinder) Find(ctx context.Context, description string) (*models.VendorAlias, error) {
	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		return nil, apperr.ServiceUnavailable("missing_user_context", "request was not authenticated")
	}
	return f.registry.Find(ctx, userID, description)
}

// NewAliasFinder exposes contextAliasFinder for main.go's tierrouter wiring.
func NewAliasFinder(registry *vendoralias.Registry) tierrouter.AliasFinder {
	return contextAliasFinder{registry: registry}
}

// NewRouter builds the full route tree with its middleware chain.
func NewRouter(d *Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.SecurityHeadersMiddleware)
	r.Use(middleware.CORSMiddleware([]string{"*"}))
	r.Use(requestLogger(d.Logger))
	r.Use(recoverer(d.Logger))
	r.Use(observability.TracingMiddleware(d.Tracer))
	r.Use(bodyLimit(d.Config.MaxBodyBytes))

	rateLimiter := middleware.NewRateLimiter(d.Logger, d.Config.RateLimitEnabled, d.Config.RateLimitRPM, d.Config.RateLimitBurst)
	timeout := middleware.NewTimeoutMiddleware(d.Logger, d.Config)
	auth := middleware.NewAuthMiddleware(d.Logger, d.Auth, d.Config.APIKeyHeader)

	r.Get("/healthz", healthHandler)
	r.Get("/readyz", readyHandler(d))
	r.Get("/metrics", d.Metrics.Handler())

	r.Route("/v1", func(v chi.Router) {
		v.Use(auth.Handler)
		v.Use(rateLimiter.Handler)
		v.Use(timeout.Handler)

		v.Post("/normalize", handleNormalize(d))
		v.Post("/suggestions/gl", handleSuggest(d, tierrouter.FieldGLCode))
		v.Post("/suggestions/department", handleSuggest(d, tierrouter.FieldDepartment))
		v.Post("/categorizations/confirm", handleConfirmCategorization(d))

		v.Post("/matching/auto-match", handleAutoMatch(d))
		v.Post("/matches/{id}/confirm", handleConfirmMatch(d))
		v.Post("/matches/{id}/reject", handleRejectMatch(d))
		v.Post("/matches/manual", handleManualMatch(d))
		v.Post("/matches/batch-approve", handleBatchApprove(d))
		v.Get("/receipts/{id}/candidates", handleListCandidates(d))

		v.Post("/statements/resolve", handleResolveStatement(d))

		v.Get("/usage", handleTierUsage(d))
		v.Get("/cache/stats", handleCacheStats(d))
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func readyHandler(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Ready == nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := d.Ready(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready", "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.status).
				Dur("duration", time.Since(start)).
				Str("request_id", r.Header.Get("X-Request-ID")).
				Msg("request")
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func recoverer(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("handler panicked")
					writeJSON(w, http.StatusInternalServerError, errorBody{Error: errorDetail{
						Code: "internal_error", Message: "an unexpected error occurred",
					}})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func bodyLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if maxBytes > 0 {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
