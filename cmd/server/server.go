package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"vcu-server/services/token-api/internal/config"
	"vcu-server/services/token-api/internal/domain/quota"
	"vcu-server/services/token-api/internal/domain/rotation"
	"vcu-server/services/token-api/internal/domain/token"
	"vcu-server/services/token-api/internal/domain/tokenservice"
	"vcu-server/services/token-api/internal/infrastructure/cipher"
	"vcu-server/services/token-api/internal/infrastructure/database"
	"vcu-server/services/token-api/internal/infrastructure/database/repository/tokenrepo"
	"vcu-server/services/token-api/internal/infrastructure/logger"
	"vcu-server/services/token-api/internal/infrastructure/memstore"
	"vcu-server/services/token-api/internal/infrastructure/vcuprovider"
	"vcu-server/services/token-api/internal/interfaces/httpserver"
)

type Application struct {
	httpServer  *httpserver.Server
	metricsAddr string
}

func (application *Application) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              application.metricsAddr,
		Handler:           metricsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var eg errgroup.Group
	eg.Go(func() error {
		err := metricsServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			cancel()
			return err
		}
		return nil
	})
	eg.Go(func() error {
		err := application.httpServer.Run()
		if err != nil {
			cancel()
		}
		return err
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = metricsServer.Shutdown(shutdownCtx)
		return application.httpServer.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bootLog := logger.GetLogger()

	cfg, err := config.Load()
	if err != nil {
		bootLog.Fatal().Err(err).Msg("load config")
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		bootLog.Fatal().Err(err).Msg("configure logger")
	}
	log = log.With().Str("service", cfg.ServiceName).Logger()

	tokenCipher, err := cipher.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize cipher")
	}

	store, err := buildStore(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize token store")
	}

	provider := vcuprovider.NewClient(vcuprovider.Config{
		BaseURL: cfg.ProviderBaseURL,
		APIKey:  cfg.ProviderAPIKey,
		Timeout: cfg.ProviderTimeout,
	}, log)

	enforcer := quota.NewEnforcer(store, quota.Config{}, log)
	rotator := rotation.NewManager(store, tokenCipher, provider, rotation.Config{
		Backoff: rotation.BackoffPolicy{
			Base:   cfg.RotationBackoffBase,
			Cap:    cfg.RotationBackoffCap,
			Jitter: rotation.DefaultBackoff.Jitter,
		},
	}, log)

	service := tokenservice.NewService(store, tokenCipher, enforcer, rotator, tokenservice.Config{
		Defaults: tokenservice.Policy{
			Quota:      cfg.DefaultQuota,
			RateLimit:  cfg.DefaultRateLimit,
			RateWindow: cfg.DefaultRateWindow,
			TTL:        cfg.DefaultTokenTTL,
		},
	}, log)

	application := &Application{
		httpServer:  httpserver.New(cfg, service, log),
		metricsAddr: fmt.Sprintf(":%d", cfg.MetricsPort),
	}

	log.Info().
		Int("http_port", cfg.HTTPPort).
		Int("metrics_port", cfg.MetricsPort).
		Str("environment", cfg.Environment).
		Msg("starting token-api")

	if err := application.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

// buildStore picks postgres when DATABASE_URL is set and falls back to the
// in-process store otherwise. The fallback keeps local development and the
// test suite free of external services.
func buildStore(cfg *config.Config, log zerolog.Logger) (token.Store, error) {
	if cfg.DatabaseURL == "" {
		log.Warn().Msg("DATABASE_URL not set, using in-memory token store")
		return memstore.New(), nil
	}

	db, err := database.NewDB(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate {
		if err := database.Migration(db); err != nil {
			return nil, err
		}
	}

	return tokenrepo.NewTokenRepository(db), nil
}
