package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mstgnz/shaparak"
	"github.com/mstgnz/shaparak/handler"
	"github.com/mstgnz/shaparak/infra/cache"
	"github.com/mstgnz/shaparak/infra/config"
	"github.com/mstgnz/shaparak/infra/conn"
	"github.com/mstgnz/shaparak/infra/logger"
	"github.com/mstgnz/shaparak/infra/middle"
	"github.com/mstgnz/shaparak/infra/opensearch"
	"github.com/mstgnz/shaparak/infra/store"
	"github.com/mstgnz/shaparak/provider"
	"github.com/mstgnz/shaparak/router"
	v1 "github.com/mstgnz/shaparak/router/v1"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logCfg := logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Environment,
		Service:     "shaparak",
		Version:     version,
	}
	zl, err := logger.New(logCfg)
	if err != nil {
		return err
	}
	defer func() { _ = zl.Sync() }()

	gateways := shaparak.New().Names()

	// OpenSearch receives bank exchanges and warnings when enabled
	var osLogger *opensearch.Logger
	if cfg.EnableOpenSearch {
		osClient, err := opensearch.NewClient(cfg, gateways, zl.Named("opensearch"))
		if err != nil {
			zl.Warn("Continuing without OpenSearch logging", zap.Error(err))
		} else {
			osLogger = opensearch.NewLogger(osClient)
			if zl, err = logger.New(logCfg, logger.NewIndexCore(osLogger, zapcore.WarnLevel)); err != nil {
				return err
			}
			zl.Info("OpenSearch logging initialized")
		}
	}

	db, err := conn.OpenSQLite(cfg.DatabasePath, zl)
	if err != nil {
		return err
	}
	defer db.Close()

	storage, err := config.NewSQLiteStorage(db, zl.Named("config"))
	if err != nil {
		return err
	}
	gatewayConfig, err := config.NewGatewayConfig(cfg, gateways, storage)
	if err != nil {
		return err
	}
	transactions, err := store.NewTransactions(db)
	if err != nil {
		return err
	}

	tokens, err := cache.NewTokenStore(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	if err != nil {
		zl.Warn("Redis is unavailable, caching bearer tokens in memory", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}

	httpCfg := provider.DefaultHTTPClientConfig()
	httpCfg.Timeout = cfg.HTTPTimeout
	httpCfg.RateLimit = cfg.RateLimit
	httpCfg.RateBurst = 1
	opts := []provider.RegistryOption{
		provider.WithLogger(zl.Named("gateway")),
		provider.WithHTTPClientConfig(httpCfg),
		provider.WithTokenStore(tokens),
	}
	if osLogger != nil {
		opts = append(opts, provider.WithExchangeLogger(osLogger))
	}
	registry := shaparak.New(opts...)

	validate := validator.New()
	handlers := v1.Handlers{
		Payments:  handler.NewPaymentHandler(registry, gatewayConfig, transactions, validate, zl.Named("payment"), cfg.AppURL),
		Config:    handler.NewConfigHandler(registry, gatewayConfig, shaparak.ConfigFields(), validate),
		Analytics: handler.NewAnalyticsHandler(transactions),
	}
	if osLogger != nil {
		handlers.Logs = handler.NewLogsHandler(osLogger)
	}

	stop := make(chan struct{})
	defer close(stop)
	rateLimiter := middle.NewRateLimiter(cfg.RateLimitPerMinute)
	go rateLimiter.Run(time.Minute, stop)

	server := &http.Server{
		Addr: fmt.Sprintf(":%s", cfg.Port),
		Handler: router.New(router.Deps{
			Logger:      zl.Named("http"),
			APIKey:      cfg.APIKey,
			RateLimiter: rateLimiter,
			Health:      handler.NewHealthHandler(db, registry, gatewayConfig, version, cfg.Environment),
			Metrics:     promhttp.Handler(),
			V1:          handlers,
		}),
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Create a context that listens for interrupt and terminate signals
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	zl.Info("API is running",
		zap.String("port", cfg.Port),
		zap.String("environment", cfg.Environment),
		zap.Strings("gateways", gatewayConfig.Gateways()),
	)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zl.Info("Shutting down gracefully...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	return server.Shutdown(shutdownCtx)
}
