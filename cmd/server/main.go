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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	apihttp "moviestream/searchservice/internal/api/http"
	"moviestream/searchservice/internal/app"
	"moviestream/searchservice/internal/metrics"
	"moviestream/searchservice/internal/providers/omdb"
	"moviestream/searchservice/internal/search"
	"moviestream/searchservice/internal/telemetry"
	"moviestream/searchservice/internal/trending"
)

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), "movie-search")
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", "movie-search"),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.Duration("requestTimeout", cfg.RequestTimeout),
		slog.Duration("debounceInterval", cfg.DebounceInterval),
		slog.Duration("sessionTTL", cfg.SessionTTL),
		slog.Bool("hasOMDbKey", cfg.OMDbAPIKey != ""),
		slog.Bool("hasRedis", strings.TrimSpace(cfg.RedisURL) != ""),
		slog.Duration("cacheTTL", cfg.CacheTTL),
	)

	redisClient := buildRedisClient(cfg, logger)

	var cacheRedis *redis.Client
	if !cfg.CacheDisabled {
		cacheRedis = redisClient
	}
	gateway := omdb.NewClient(omdb.Config{
		APIKey:    cfg.OMDbAPIKey,
		BaseURL:   cfg.OMDbBaseURL,
		UserAgent: cfg.UserAgent,
		Client:    &http.Client{Timeout: cfg.RequestTimeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
		Redis:     cacheRedis,
		CacheTTL:  cfg.CacheTTL,
	})
	if !gateway.Enabled() {
		logger.Warn("omdb api key not configured, /movies will answer with a configuration error")
	}

	aggregator := trending.New(buildTrendingStore(redisClient, logger),
		trending.WithLogger(logger),
		trending.WithListLimitMax(cfg.TrendingLimitMax),
	)

	sessions := search.NewSessions(func() *search.Controller {
		return search.NewController(gateway,
			search.WithRecorder(aggregator),
			search.WithLogger(logger),
			search.WithDebounceInterval(cfg.DebounceInterval),
			search.WithRequestTimeout(cfg.RequestTimeout),
		)
	}, cfg.SessionTTL, logger)

	handler := apihttp.NewServer(gateway,
		apihttp.WithLogger(logger),
		apihttp.WithTrending(aggregator),
		apihttp.WithSessions(sessions),
		apihttp.WithTrendingLimitMax(cfg.TrendingLimitMax),
	).Handler()

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	sessions.StartBackground(rootCtx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	logger.Info("movie search service started",
		slog.String("addr", cfg.HTTPAddr),
		slog.Duration("timeout", cfg.RequestTimeout),
	)

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", slog.String("error", err.Error()))
	}
	logger.Info("movie search service stopped")
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
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

func buildRedisClient(cfg app.Config, logger *slog.Logger) *redis.Client {
	redisURL := strings.TrimSpace(cfg.RedisURL)
	if redisURL == "" {
		return nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("invalid redis url, counter store and cache run in-process",
			slog.String("error", err.Error()))
		return nil
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not reachable, counter store and cache run in-process",
			slog.String("error", err.Error()))
		return nil
	}
	logger.Info("redis connected", slog.String("addr", opts.Addr))
	return client
}

// buildTrendingStore prefers the shared Redis counter store; without it the
// counters live in process memory and reset on restart.
func buildTrendingStore(client *redis.Client, logger *slog.Logger) trending.Store {
	if client == nil {
		logger.Warn("trending counters are in-memory only")
		return trending.NewMemoryStore()
	}
	return trending.NewRedisStore(client)
}
