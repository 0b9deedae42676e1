package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"medbook/backend/internal/calendar"
	"medbook/backend/internal/calendar/google"
	"medbook/backend/internal/config"
	"medbook/backend/internal/scheduling"
	"medbook/backend/internal/store"
	"medbook/backend/internal/store/postgres"
	httpTransport "medbook/backend/internal/transport/http"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).With(
		slog.String("service", "medbook-server"),
	)
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)})).With(
		slog.String("service", "medbook-server"),
	)
	slog.SetDefault(log)

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Error("invalid calendar timezone", slog.Any("err", err), slog.String("timezone", cfg.Timezone))
		os.Exit(1)
	}

	addr := fmt.Sprintf("%s:%d", cfg.HTTPHost, cfg.HTTPPort)
	log.Info("starting", slog.String("http_addr", addr), slog.String("log_level", cfg.LogLevel))

	log.Info("connecting to database", databaseLogArgs(cfg.DatabaseURL)...)
	db, err := postgres.Open(cfg.DatabaseURL, postgres.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
	})
	if err != nil {
		args := append([]any{slog.Any("err", err)}, databaseLogArgs(cfg.DatabaseURL)...)
		log.Error("database connection failed", args...)
		os.Exit(1)
	}
	defer func() {
		if err := postgres.Close(db); err != nil {
			log.Warn("database close failed", slog.Any("err", err))
		}
	}()

	appts := postgres.NewAppointmentRepo(db)
	syncSettings := postgres.NewSyncSettingsRepo(db)

	checker := scheduling.NewAvailabilityChecker(appts, loc, log)
	throttle := scheduling.NewQueryThrottle(cfg.QueryThrottle)
	scheduler := scheduling.NewScheduler(appts, checker, throttle, loc, log)

	providerClient := google.New(google.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
	})
	reconciler := calendar.NewReconciler(appts, syncSettings, providerClient, calendar.ReconcilerConfig{
		Timezone:    loc,
		CallTimeout: cfg.SyncCallTimeout,
		MaxRetries:  uint64(cfg.SyncMaxRetries),
	}, log)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), httpTransport.RequestTimeout(cfg.HTTPRequestTimeout))
	httpTransport.NewServer(scheduler, reconciler, log).Register(engine)

	srv := &http.Server{
		Addr:    addr,
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go runSyncLoop(ctx, reconciler, syncSettings, cfg.SyncInterval, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	log.Info("http server started", slog.String("http_addr", addr))

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
		shutdown(log, srv, cfg.ShutdownTimeout)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server stopped with error", slog.Any("err", err))
			os.Exit(1)
		}
	}
}

// runSyncLoop reconciles every bound provider's calendar on a fixed
// interval. Per-provider serialization lives in the reconciler, so a
// slow provider here only delays its own batch.
func runSyncLoop(ctx context.Context, rec *calendar.Reconciler, settings store.SyncSettingsRepository, interval time.Duration, log *slog.Logger) {
	if interval <= 0 {
		return
	}
	log = log.With(slog.String("component", "sync.loop"))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		ids, err := settings.ListProviderIDs(ctx)
		if err != nil {
			log.Warn("listing sync providers failed", slog.Any("err", err))
			continue
		}
		for _, id := range ids {
			if _, err := rec.SyncOutbound(ctx, id); err != nil && !errors.Is(err, calendar.ErrOutboundDisabled) {
				log.Warn("outbound sync failed", slog.Any("err", err), slog.String("provider_id", id))
			}
			if _, err := rec.SyncInbound(ctx, id); err != nil && !errors.Is(err, calendar.ErrInboundDisabled) {
				log.Warn("inbound sync failed", slog.Any("err", err), slog.String("provider_id", id))
			}
		}
	}
}

func shutdown(log *slog.Logger, srv *http.Server, timeout time.Duration) {
	log.Info("shutting down http server", slog.Duration("timeout", timeout))

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("http graceful shutdown failed; closing", slog.Any("err", err))
		_ = srv.Close()
		return
	}
	log.Info("http server stopped")
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

func databaseLogArgs(databaseURL string) []any {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return []any{slog.String("db_url", "invalid")}
	}
	name := strings.TrimPrefix(u.Path, "/")
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "default"
	}
	if host == "" {
		host = "unknown"
	}
	if name == "" {
		name = "unknown"
	}
	return []any{
		slog.String("db_host", host),
		slog.String("db_port", port),
		slog.String("db_name", name),
	}
}
