package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Aditya07771/Carbon-Emmision-Footprint-Marketplace-Backend/libs/health"
	"github.com/Aditya07771/Carbon-Emmision-Footprint-Marketplace-Backend/libs/httpmiddleware"
	"github.com/Aditya07771/Carbon-Emmision-Footprint-Marketplace-Backend/libs/kafka"
	"github.com/Aditya07771/Carbon-Emmision-Footprint-Marketplace-Backend/libs/logging"
	"github.com/Aditya07771/Carbon-Emmision-Footprint-Marketplace-Backend/libs/metrics"
	"github.com/Aditya07771/Carbon-Emmision-Footprint-Marketplace-Backend/libs/trace"
	"github.com/Aditya07771/Carbon-Emmision-Footprint-Marketplace-Backend/services/marketplace/internal/config"
	"github.com/Aditya07771/Carbon-Emmision-Footprint-Marketplace-Backend/services/marketplace/internal/handlers"
	"github.com/Aditya07771/Carbon-Emmision-Footprint-Marketplace-Backend/services/marketplace/internal/ledger"
	"github.com/Aditya07771/Carbon-Emmision-Footprint-Marketplace-Backend/services/marketplace/internal/rate"
	"github.com/Aditya07771/Carbon-Emmision-Footprint-Marketplace-Backend/services/marketplace/internal/service"
	"github.com/Aditya07771/Carbon-Emmision-Footprint-Marketplace-Backend/services/marketplace/internal/storage"
	"github.com/Aditya07771/Carbon-Emmision-Footprint-Marketplace-Backend/services/marketplace/internal/verifier"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"log/slog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.App.LogLevel, cfg.App.ServiceName, cfg.App.Env)
	shutdownTracer, err := trace.InitTracer(cfg.App.ServiceName, cfg.App.Env)
	if err != nil {
		logger.Error("tracer init failed", "error", err)
	} else {
		defer func() {
			_ = shutdownTracer(context.Background())
		}()
	}

	if cfg.App.Env == "dev" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)

	marketMetrics := service.NewMetrics(registry)
	kafkaMetrics := kafka.NewProducerMetrics(registry)

	ready := health.NewManager(false)

	pool, err := connectDB(cfg)
	if err != nil {
		logger.Error("db connection failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	ledgerClient, err := ledger.NewAlgorandClient(
		cfg.Algorand.AlgodAddr, cfg.Algorand.AlgodToken,
		cfg.Algorand.IndexerAddr, cfg.Algorand.IndexerToken,
	)
	if err != nil {
		logger.Error("ledger client init failed", "error", err)
		os.Exit(1)
	}

	txnVerifier := verifier.NewVerifier(ledgerClient, logging.WithComponent(logger, "verifier"))
	txnVerifier.SetRetryWait(cfg.Algorand.RetryWait)
	ownership := verifier.NewOwnershipChecker(ledgerClient, logging.WithComponent(logger, "ownership"))

	store := storage.New(pool)

	producer, err := kafka.NewSyncProducer(cfg.Kafka.Brokers, logger, kafkaMetrics)
	if err != nil {
		logger.Error("kafka producer init failed", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	marketSvc := service.NewMarketplaceService(store, txnVerifier, ownership, producer,
		logging.WithComponent(logger, "marketplace"), marketMetrics, service.Topics{
			Settlements: cfg.Kafka.Topics.Settlements,
			Listings:    cfg.Kafka.Topics.Listings,
		}, cfg.Algorand.ExplorerURL)

	limiter, limiterClose, err := buildLimiter(cfg, logger)
	if err != nil {
		logger.Error("rate limiter init failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = limiterClose()
	}()

	handler := handlers.New(marketSvc, limiter, logger)
	router := gin.New()
	router.Use(httpmiddleware.RequestID())
	router.Use(httpmiddleware.Logger(logger))
	router.Use(httpmiddleware.Recovery(logger))
	router.Use(trace.Middleware(cfg.App.ServiceName))

	router.GET("/healthz", health.LivenessHandler)
	router.GET("/readyz", health.ReadinessHandler(ready))
	router.GET(cfg.App.MetricsPath, gin.WrapH(metrics.Handler(registry)))

	handler.Register(router)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.App.HTTP.Host, cfg.App.HTTP.Port),
		Handler:      router,
		ReadTimeout:  cfg.App.HTTP.ReadTimeout,
		WriteTimeout: cfg.App.HTTP.WriteTimeout,
		IdleTimeout:  cfg.App.HTTP.IdleTimeout,
	}

	ready.SetReady(true)

	go func() {
		logger.Info("marketplace http starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	waitForShutdown(httpServer, ready, logger)
}

func connectDB(cfg *config.Config) (*pgxpool.Pool, error) {
	connStr := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.DB.User,
		cfg.DB.Password,
		cfg.DB.Host,
		cfg.DB.Port,
		cfg.DB.Name,
		cfg.DB.SSLMode,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func buildLimiter(cfg *config.Config, logger *slog.Logger) (rate.Limiter, func() error, error) {
	if cfg.RateLimit.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RateLimit.Redis.Addr,
			Password: cfg.RateLimit.Redis.Password,
			DB:       cfg.RateLimit.Redis.DB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			if cfg.App.Env == "dev" || cfg.App.Env == "test" {
				logger.Warn("redis rate limiter unavailable, falling back to memory", "error", err)
				return rate.NewMemory(cfg.RateLimit.BuyLimit, cfg.RateLimit.Window), func() error { return nil }, nil
			}
			return nil, nil, err
		}

		return rate.NewRedisLimiter(client, cfg.RateLimit.BuyLimit, cfg.RateLimit.Window, cfg.RateLimit.Redis.Prefix), client.Close, nil
	}

	return rate.NewMemory(cfg.RateLimit.BuyLimit, cfg.RateLimit.Window), func() error { return nil }, nil
}

func waitForShutdown(httpServer *http.Server, ready *health.Manager, logger *slog.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutdown started")
	ready.SetReady(false)

	ctx, cancelTimeout := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelTimeout()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
}
