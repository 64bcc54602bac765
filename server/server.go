// Package server exposes the HTTP API: stream lifecycle, chat, account
// linking, payments, and game lookup endpoints used by the frontend. It
// includes permissive CORS for development and injects correlation IDs into
// request contexts for consistent logging.
package server

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cliptgg/clipt-server/config"
	"github.com/cliptgg/clipt-server/telemetry"
)

// sensitiveEndpoint reports whether a path gets rate limiting: stream
// provisioning and payment endpoints are abusable and stay throttled.
func sensitiveEndpoint(path string) bool {
	switch path {
	case "/streams/initialize", "/streams/key":
		return true
	}
	return strings.HasPrefix(path, "/payments/")
}

// NewMux returns the HTTP handler with all routes.
// The provided context is used for rate limiter cleanup goroutines lifecycle.
func NewMux(ctx context.Context, db *sql.DB, cfg *config.Config) http.Handler {
	authCfg := loadAuthConfig()
	rateLimiterCfg := loadRateLimiterConfig()
	corsCfg := loadCORSConfig()

	// Create rate limiter based on configuration
	var rateLimiter RateLimiter
	if rateLimiterCfg.backend == "postgres" {
		slog.Info("initializing distributed rate limiter", slog.String("backend", "postgres"))
		pgLimiter, err := newPostgresRateLimiter(ctx, db, rateLimiterCfg)
		if err != nil {
			slog.Error("failed to create postgres rate limiter, falling back to memory", slog.Any("error", err))
			rateLimiter = newIPRateLimiter(ctx, rateLimiterCfg)
		} else {
			rateLimiter = pgLimiter
		}
	} else {
		slog.Info("initializing in-memory rate limiter", slog.String("backend", "memory"))
		rateLimiter = newIPRateLimiter(ctx, rateLimiterCfg)
	}

	handlers := NewHandlers(ctx, db, cfg)

	mux := http.NewServeMux()

	// Metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	// Health and readiness endpoints
	mux.HandleFunc("/healthz", handlers.HandleHealthz)
	mux.HandleFunc("/readyz", handlers.HandleReadyz)

	// Twitch account linking
	mux.HandleFunc("/auth/twitch/start", handlers.HandleTwitchLinkStart)
	mux.HandleFunc("/auth/twitch/callback", handlers.HandleTwitchLinkCallback)

	// Stream lifecycle endpoints
	mux.HandleFunc("/streams/initialize", handlers.HandleStreamInitialize)
	mux.HandleFunc("/streams/start", handlers.HandleStreamStart)
	mux.HandleFunc("/streams/end", handlers.HandleStreamEnd)
	mux.HandleFunc("/streams/key", handlers.HandleStreamKey)
	mux.HandleFunc("/streams/", handlers.HandleStreamsDispatcher)

	// Game directory lookup
	mux.HandleFunc("/games", handlers.HandleGamesSearch)

	// Payments proxy
	mux.HandleFunc("/payments/checkout", handlers.HandlePaymentsCheckout)
	mux.HandleFunc("/payments/connect", handlers.HandlePaymentsConnect)

	// Admin endpoints
	mux.HandleFunc("/admin/status", handlers.HandleAdminStatus)
	mux.HandleFunc("/admin/moderation/scan", handlers.HandleAdminModerationScan)

	// Selective middleware wrapper: auth + rate limiting for admin endpoints,
	// rate limiting alone for sensitive public endpoints.
	selectiveHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/admin/") {
			adminAuth(rateLimitMiddleware(mux, rateLimiter), authCfg).ServeHTTP(w, r)
			return
		}
		if sensitiveEndpoint(r.URL.Path) {
			rateLimitMiddleware(mux, rateLimiter).ServeHTTP(w, r)
			return
		}
		mux.ServeHTTP(w, r)
	})

	// Wrap with correlation ID injector and tracing middleware
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Reuse corr header if provided else generate
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		// Start tracing span if enabled
		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+r.URL.Path,
			telemetry.HTTPMethodAttr(r.Method),
			telemetry.HTTPRouteAttr(r.URL.Path),
			telemetry.HTTPURLAttr(r.URL.String()),
		)
		defer span.End()

		telemetry.LoggerWithCorr(ctx).Debug("request start", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("component", "http"))

		// Capture status code via custom ResponseWriter
		wrappedWriter := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		selectiveHandler.ServeHTTP(wrappedWriter, r.WithContext(ctx))

		telemetry.SetSpanHTTPStatus(span, wrappedWriter.statusCode)
	})
	return withCORSConfig(handler, corsCfg)
}

// statusRecorder wraps ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Flush implements http.Flusher if the underlying ResponseWriter supports it
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, db *sql.DB, cfg *config.Config, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      NewMux(ctx, db, cfg),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Shutdown goroutine
	go func() {
		<-ctx.Done()
		// Use WithoutCancel to inherit context values but allow shutdown to complete
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
