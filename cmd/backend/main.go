package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	audioimpl "github.com/foxseedlab/kuchiguse/external/audio"
	configloader "github.com/foxseedlab/kuchiguse/external/config"
	"github.com/foxseedlab/kuchiguse/external/dashboard"
	inferenceimpl "github.com/foxseedlab/kuchiguse/external/inference"
	notifierimpl "github.com/foxseedlab/kuchiguse/external/notifier"
	repositoryimpl "github.com/foxseedlab/kuchiguse/external/repository"
	transcriberimpl "github.com/foxseedlab/kuchiguse/external/transcriber"
	whatsappimpl "github.com/foxseedlab/kuchiguse/external/whatsapp"
	"github.com/foxseedlab/kuchiguse/internal/bot"
	"github.com/foxseedlab/kuchiguse/internal/config"
	"github.com/foxseedlab/kuchiguse/internal/connection"
	"github.com/foxseedlab/kuchiguse/internal/logstream"
	"github.com/foxseedlab/kuchiguse/internal/pipeline"
	"github.com/lmittmann/tint"
	"github.com/samber/do/v2"
	flag "github.com/spf13/pflag"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
)

func main() {
	envFile := flag.StringP("env-file", "e", ".env", "env file to load before reading the environment")
	clearSession := flag.Bool("clear-session", false, "remove stored WhatsApp credentials and exit")
	flag.Parse()

	slog.Info("startup: loading configuration")
	cfg := mustLoadConfig(*envFile)
	hub := logstream.NewHub(logstream.DefaultCapacity)
	initLogger(cfg, hub)
	slog.Info("startup: configuration loaded", "env", cfg.Env, "inference_backend", cfg.InferenceBackend, "transcriber_backend", cfg.TranscriberBackend)

	slog.Info("startup: building dependency graph")
	injector := setupDI(cfg, hub)

	run(cfg, injector, *clearSession)
}

func mustLoadConfig(envFile string) *config.Config {
	cfg, err := configloader.Load(envFile)
	if err != nil {
		slog.Error("config validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

func initLogger(cfg *config.Config, hub *logstream.Hub) {
	level := parseLevel(cfg.LogLevel)
	var base slog.Handler
	if cfg.IsDevelopment() {
		level = slog.LevelDebug
		base = tint.NewHandler(os.Stdout, &tint.Options{Level: level, TimeFormat: time.TimeOnly})
	} else {
		base = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(logstream.NewHandler(base, hub)))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setupDI(cfg *config.Config, hub *logstream.Hub) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	do.ProvideValue(injector, hub)
	repositoryimpl.RegisterDI(injector)
	audioimpl.RegisterDI(injector)
	transcriberimpl.RegisterDI(injector)
	inferenceimpl.RegisterDI(injector)
	whatsappimpl.RegisterDI(injector)
	notifierimpl.RegisterDI(injector)
	connection.RegisterDI(injector)
	pipeline.RegisterDI(injector)
	bot.RegisterDI(injector)
	dashboard.RegisterDI(injector)

	return injector
}

func run(cfg *config.Config, injector do.Injector, clearSession bool) {
	svc, err := do.Invoke[*bot.Service](injector)
	if err != nil {
		slog.Error("failed to resolve bot service", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if clearSession {
		slog.Info("clearing stored session", "session_dir", cfg.SessionDir)
		if err := svc.ClearSession(ctx); err != nil {
			slog.Error("failed to clear session", "error", err)
			os.Exit(1)
		}
		slog.Info("session cleared; scan a new QR code on next start")
		return
	}

	svc.StartupDiagnostics(ctx)
	if err := svc.Start(ctx); err != nil {
		slog.Error("failed to start bot service", "error", err)
		os.Exit(1)
	}

	server, err := do.Invoke[*dashboard.Server](injector)
	if err != nil {
		slog.Error("failed to resolve dashboard server", "error", err)
		os.Exit(1)
	}
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	serverErr := make(chan error, 1)
	go func() {
		slog.Info("startup: dashboard api listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	slog.Info("startup: connecting to whatsapp")
	if err := svc.Initialize(ctx); err != nil {
		slog.Error("whatsapp initialization failed; use the dashboard to retry", "error", err)
	}

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-serverErr:
		slog.Error("dashboard api failed", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("dashboard api shutdown failed", "error", err)
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		slog.Error("whatsapp shutdown failed", "error", err)
	}
}
