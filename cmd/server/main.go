package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"fable-server/internal/ai"
	"fable-server/internal/config"
	"fable-server/internal/database"
	"fable-server/internal/handler"
	"fable-server/internal/messaging"
	"fable-server/internal/repository"
	"fable-server/internal/service"
	"fable-server/pkg/logger"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:    cfg.LogLevel,
		Encoding: cfg.LogEncoding,
	})
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck
	log = log.Named("Server")

	log.Info("Starting story engine API",
		zap.String("httpPort", cfg.HTTPPort),
		zap.String("db", cfg.MaskedDSN()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := connectPostgres(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer dbPool.Close()

	if err := database.RunMigrations(ctx, dbPool, cfg.MigrationsDir, log); err != nil {
		log.Fatal("Failed to apply migrations", zap.Error(err))
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()

	amqpConn, err := amqp.Dial(cfg.RabbitMQURL)
	if err != nil {
		log.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
	}
	defer amqpConn.Close()

	publisher, err := messaging.NewRabbitMQPublisher(amqpConn, log)
	if err != nil {
		log.Fatal("Failed to create image task publisher", zap.Error(err))
	}
	defer publisher.Close()

	storyRepo := repository.NewPgStoryRepository(dbPool, log)
	segmentRepo := repository.NewPgSegmentRepository(dbPool, log)
	jobRepo := repository.NewPgImageJobRepository(dbPool, log)

	providers := buildProviders(cfg, log)
	orchestrator := ai.NewOrchestrator(providers, cfg.AITimeout, log)

	locker := service.NewRedisStoryLocker(redisClient, cfg.StoryLockTTL, log)
	credits := service.NewUnmeteredCreditService(log)
	images := service.NewImageCoordinator(jobRepo, segmentRepo, publisher, cfg.ImageStyleSuffix, log)
	stories := service.NewStoryService(storyRepo, segmentRepo, orchestrator, locker, credits, images,
		service.GenerationSettings{
			Temperature:        cfg.AITemperature,
			MaxTokens:          cfg.AIMaxTokens,
			DefaultMaxSegments: cfg.MaxSegments,
			SegmentCostUSD:     cfg.SegmentCostUSD,
		}, log)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	storyHandler := handler.NewStoryHandler(stories, images, log)
	storyHandler.RegisterRoutes(router, log)

	apiServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: router,
	}
	metricsServer := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: metricsMux(),
	}

	go func() {
		log.Info("Metrics server listening", zap.String("port", cfg.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server failed", zap.Error(err))
		}
	}()

	go func() {
		log.Info("API server listening", zap.String("port", cfg.HTTPPort))
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("API server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Error("API server shutdown failed", zap.Error(err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Metrics server shutdown failed", zap.Error(err))
	}
	log.Info("Server stopped")
}

// connectPostgres dials the pool with a short retry loop so the service
// survives the database coming up a few seconds later in compose.
func connectPostgres(ctx context.Context, cfg *config.Config, log *zap.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConns)
	poolCfg.MaxConnIdleTime = cfg.DBIdleTimeout

	var pool *pgxpool.Pool
	for attempt := 1; attempt <= 5; attempt++ {
		pool, err = pgxpool.NewWithConfig(ctx, poolCfg)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				return pool, nil
			}
			pool.Close()
		}
		log.Warn("PostgreSQL not ready, retrying",
			zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * time.Second):
		}
	}
	return nil, fmt.Errorf("database unreachable after retries: %w", err)
}

// buildProviders assembles the ranked provider list: the OpenAI-compatible
// endpoint first, the local Ollama fallback second.
func buildProviders(cfg *config.Config, log *zap.Logger) []ai.Provider {
	var providers []ai.Provider
	if cfg.AIAPIKey != "" {
		providers = append(providers,
			ai.NewOpenAIProvider(cfg.AIBaseURL, cfg.AIAPIKey, cfg.AIModel, cfg.AITimeout, log))
	} else {
		log.Warn("AI_API_KEY not set, primary provider disabled")
	}
	if cfg.OllamaBaseURL != "" {
		ollama, err := ai.NewOllamaProvider(cfg.OllamaBaseURL, cfg.OllamaModel, cfg.AITimeout, log)
		if err != nil {
			log.Warn("Failed to configure Ollama fallback", zap.Error(err))
		} else {
			providers = append(providers, ollama)
		}
	}
	return providers
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}
