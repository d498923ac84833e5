// Package main is the entrypoint for the users API server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/userbase/userbase/internal/cache"
	"github.com/userbase/userbase/internal/config"
	"github.com/userbase/userbase/internal/handler"
	"github.com/userbase/userbase/internal/metrics"
	"github.com/userbase/userbase/internal/repository"
	"github.com/userbase/userbase/internal/server"
	"github.com/userbase/userbase/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)

	if err := run(context.Background(), cfg, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	pool, err := repository.New(ctx, repository.PoolConfig{
		DatabaseURL: cfg.DatabaseURL,
		User:        cfg.DBUser,
		Password:    cfg.DBPassword,
		MinConns:    cfg.DBPoolMin,
		MaxConns:    cfg.DBPoolMax,
	})
	if err != nil {
		logger.Error(
			"failed to connect to database",
			slog.String("error", sanitizeError(err, cfg.DatabaseURL, cfg.DBPassword)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		return errors.New("connect to database")
	}
	logger.Info("connected to database",
		"pool_min", cfg.DBPoolMin,
		"pool_max", cfg.DBPoolMax,
	)

	if err := pool.EnsureSchema(ctx); err != nil {
		pool.Close()
		return err
	}

	var (
		userCache   service.UserCache
		cacheHealth handler.HealthChecker
		cacheClient *cache.Cache
	)
	if cfg.CacheEnabled() {
		cacheClient, err = cache.New(ctx, cfg.RedisURL, cfg.UserCacheTTL)
		if err != nil {
			logger.Error(
				"failed to connect to Redis",
				slog.String("error", sanitizeError(err, cfg.RedisURL)),
				slog.String("redis_url", redactURL(cfg.RedisURL)),
			)
			pool.Close()
			return errors.New("connect to redis")
		}
		userCache = cacheClient
		cacheHealth = cacheClient
		logger.Info("connected to Redis", "user_cache_ttl", cfg.UserCacheTTL)
	} else {
		logger.Info("user cache disabled")
	}

	recorder := metrics.NewInMemory()
	userRepo := repository.NewUserRepository(pool.DB(), logger)
	userService := service.NewUserService(userRepo, userCache, recorder, logger)

	r := setupRouter(routes{
		root:    handler.New(),
		health:  handler.NewHealthHandler(pool, cacheHealth, logger),
		metrics: handler.NewMetricsHandler(recorder),
		users:   handler.NewUserHandler(userService, logger),
	}, cfg, logger)

	srv := server.New(r, server.Options{
		Port:            cfg.AppPort,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger)

	srv.OnShutdown("postgres", func(context.Context) error {
		pool.Close()
		return nil
	})
	if cacheClient != nil {
		srv.OnShutdown("redis", func(context.Context) error {
			return cacheClient.Close()
		})
	}

	logger.Info("starting server",
		"port", cfg.AppPort,
		"env", cfg.AppEnv,
	)

	return srv.Run(ctx)
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}

	var h slog.Handler
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h).With("service", "users-api")
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s]+`)

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}

	return parsed.String()
}

func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" || redacted == secret {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
