// Command clipt-server is the main entrypoint for the Clipt streaming API and
// background workers. It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Starts background jobs: the Twitch chat mirror relay and the OAuth token
//     refresher for linked Twitch accounts.
//   - Exposes the HTTP API with stream lifecycle, chat, payments, game lookup,
//     /healthz, and /metrics endpoints.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/cliptgg/clipt-server/chat"
	"github.com/cliptgg/clipt-server/config"
	"github.com/cliptgg/clipt-server/db"
	"github.com/cliptgg/clipt-server/oauth"
	"github.com/cliptgg/clipt-server/server"
	"github.com/cliptgg/clipt-server/telemetry"
	"github.com/cliptgg/clipt-server/twitchapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		format = "text"
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", format))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateIngestReady(); err != nil {
		slog.Warn("ingest credentials missing, stream initialization disabled until configured", slog.Any("err", err))
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("clipt-server", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// Best-effort: fetch a Twitch app access token (client-credentials) if client id/secret provided.
	// This token is used for Helix and IGDB calls. It is NOT used for IRC chat.
	if cfg.TwitchClientID != "" && cfg.TwitchClientSecret != "" {
		ctx2, cancel := context.WithTimeout(context.Background(), 8*time.Second)
		if tok, err := (&twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret}).Get(ctx2); err != nil {
			slog.Warn("twitch app token fetch failed", slog.Any("err", err))
		} else if len(tok) > 6 {
			masked := "***" + tok[len(tok)-6:]
			slog.Info("twitch app token acquired", slog.String("tail", masked))
		}
		cancel()
	}

	// DB
	database, err := db.Connect()
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	// Run database migrations using dual-system approach:
	// 1. Primary: versioned migrations (golang-migrate) from db/migrations/
	// 2. Fallback: embedded SQL (db.Migrate) for backward compatibility
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to legacy embedded SQL",
			slog.Any("err", err),
			slog.String("component", "db_migrate"))
		migrationCtx := context.Background()
		if err := db.Migrate(migrationCtx, database); err != nil {
			slog.Error("failed to migrate db (both versioned and embedded SQL failed)", slog.Any("err", err))
			os.Exit(1)
		}
		slog.Info("legacy embedded SQL migration completed successfully (consider migrating to versioned migrations)",
			slog.String("component", "db_migrate"))
	} else {
		slog.Info("versioned migrations completed successfully",
			slog.String("component", "db_migrate"))
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Twitch chat mirror: relays linked channels' chat into chat_messages
	// while their streams are live. No-op without bot credentials.
	go chat.StartMirrorRelay(ctx, database, cfg)

	// Refresher for linked Twitch account tokens.
	oauth.StartRefresher(ctx, database, "twitch", 5*time.Minute, 15*time.Minute, func(rctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
		res, err := twitchapi.RefreshToken(rctx, cfg.TwitchClientID, cfg.TwitchClientSecret, refreshToken)
		if err != nil {
			return "", "", time.Time{}, "", err
		}
		return res.AccessToken, res.RefreshToken, twitchapi.ComputeExpiry(res.ExpiresIn), strings.Join(res.Scope, " "), nil
	})

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	// HTTP server
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	go func() {
		if err := server.Start(ctx, database, cfg, addr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}
