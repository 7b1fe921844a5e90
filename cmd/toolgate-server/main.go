package main

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx as database/sql driver
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/arcline-ai/toolgate/internal/api"
	"github.com/arcline-ai/toolgate/internal/apiclient"
	"github.com/arcline-ai/toolgate/internal/approval"
	"github.com/arcline-ai/toolgate/internal/deps"
	"github.com/arcline-ai/toolgate/internal/gateway"
	"github.com/arcline-ai/toolgate/internal/registry"
	"github.com/arcline-ai/toolgate/internal/secrets"
	"github.com/arcline-ai/toolgate/internal/storage"
	"github.com/arcline-ai/toolgate/internal/store"
)

func main() {
	_ = godotenv.Load()

	logger := mustBuildLogger(envOrDefault("TOOLGATE_LOG_LEVEL", "info"))
	defer logger.Sync() //nolint:errcheck // best-effort flush

	httpPort := envOrDefault("TOOLGATE_HTTP_PORT", "8080")
	platformURL := envOrDefault("TOOLGATE_PLATFORM_URL", "https://api.platform.internal")
	platformKey := os.Getenv("TOOLGATE_PLATFORM_API_KEY")
	postgresDSN := os.Getenv("POSTGRES_DSN")
	clickhouseDSN := os.Getenv("CLICKHOUSE_DSN")
	redisURL := os.Getenv("REDIS_URL")
	adminKeyHash := os.Getenv("TOOLGATE_ADMIN_KEY_HASH")
	maxRetries := envOrDefaultInt("TOOLGATE_MAX_RETRIES", apiclient.DefaultMaxRetries)
	timeoutMs := envOrDefaultInt("TOOLGATE_UPSTREAM_TIMEOUT_MS", int(apiclient.DefaultTimeout/time.Millisecond))
	cacheTTLSec := envOrDefaultInt("TOOLGATE_CACHE_TTL_S", int(apiclient.DefaultCacheTTL/time.Second))
	serverlessPolicy := approval.Policy(envOrDefault("TOOLGATE_SERVERLESS_POLICY", string(approval.PolicyNoApproval)))

	logger.Info("starting toolgate server",
		zap.String("http_port", httpPort),
		zap.String("platform_url", platformURL),
		zap.Int("max_retries", maxRetries),
		zap.Int("upstream_timeout_ms", timeoutMs),
	)

	// Secrets encryption key. Without a configured key a random one is
	// generated and persisted secrets are unreadable after restart.
	var secretsKey []byte
	if raw := os.Getenv("TOOLGATE_SECRETS_KEY"); raw != "" {
		decoded, err := hex.DecodeString(raw)
		if err != nil {
			logger.Fatal("TOOLGATE_SECRETS_KEY is not valid hex", zap.Error(err))
		}
		secretsKey = decoded
	} else {
		secretsKey = secrets.NewRandomKey()
		logger.Warn("no TOOLGATE_SECRETS_KEY set, secrets will not survive a restart")
	}
	secretStore, err := secrets.NewStore(secretsKey, logger)
	if err != nil {
		logger.Fatal("failed to build secrets store", zap.Error(err))
	}

	// Response cache — Redis or in-memory fallback.
	var cache apiclient.Cache
	if redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			logger.Warn("invalid REDIS_URL, using in-memory cache", zap.Error(err))
			cache = apiclient.NewMemoryCache()
		} else {
			rdb := redis.NewClient(opts)
			if err := rdb.Ping(context.Background()).Err(); err != nil {
				logger.Warn("redis ping failed, using in-memory cache", zap.Error(err))
				cache = apiclient.NewMemoryCache()
			} else {
				cache = apiclient.NewRedisCache(rdb, logger)
				logger.Info("redis cache connected")
			}
		}
	} else {
		cache = apiclient.NewMemoryCache()
		logger.Info("no REDIS_URL set, using in-memory cache")
	}

	client := apiclient.New(apiclient.Config{
		BaseURL:    platformURL,
		APIKey:     platformKey,
		Timeout:    time.Duration(timeoutMs) * time.Millisecond,
		MaxRetries: maxRetries,
		CacheTTL:   time.Duration(cacheTTLSec) * time.Second,
	}, cache, logger)

	// Audit events — ClickHouse or LogWriter fallback.
	var writer storage.EventWriter
	if clickhouseDSN != "" {
		chWriter, err := storage.NewClickHouseWriter(clickhouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to log writer",
				zap.Error(err),
			)
			writer = storage.NewLogWriter(logger)
		} else {
			writer = chWriter
			logger.Info("clickhouse writer connected")
		}
	} else {
		writer = storage.NewLogWriter(logger)
		logger.Info("no CLICKHOUSE_DSN set, using log writer")
	}
	defer writer.Close()

	// Postgres pool — optional; without it the gateway is memory-only.
	var pgStore *store.Store
	if postgresDSN != "" {
		db, err := sql.Open("pgx", postgresDSN)
		if err != nil {
			logger.Fatal("failed to open postgres", zap.Error(err))
		}
		defer func() { _ = db.Close() }()
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(context.Background()); err != nil {
			logger.Fatal("failed to ping postgres", zap.Error(err))
		}
		pgStore = store.NewStore(db)
		logger.Info("postgres connected")
	} else {
		logger.Warn("no POSTGRES_DSN set, state will not be persisted")
	}

	tracker := deps.NewTracker()
	gw := gateway.New(gateway.Config{
		Registry: registry.New(tracker, logger),
		Secrets:  secretStore,
		Tracker:  tracker,
		Engine:   approval.NewEngine(serverlessPolicy, logger),
		Client:   client,
		Events:   writer,
		Store:    pgStore,
		Logger:   logger,
	})
	if err := gw.LoadState(context.Background()); err != nil {
		logger.Fatal("failed to load persisted state", zap.Error(err))
	}

	if adminKeyHash == "" {
		logger.Warn("no TOOLGATE_ADMIN_KEY_HASH set, admin API runs without auth")
	}

	httpServer := &http.Server{
		Addr: ":" + httpPort,
		Handler: api.NewRouter(&api.Dependencies{
			Gateway:      gw,
			Logger:       logger,
			AdminKeyHash: adminKeyHash,
			AuthCacheTTL: time.Duration(envOrDefaultInt("TOOLGATE_AUTH_CACHE_TTL_S", 300)) * time.Second,
		}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}

	logger.Info("toolgate server stopped")
}

func mustBuildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}
