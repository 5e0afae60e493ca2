// The api service accepts search submissions and serves status polling.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/placeflow/placeflow/internal/api"
	"github.com/placeflow/placeflow/internal/events"
	"github.com/placeflow/placeflow/internal/pipeline"
	"github.com/placeflow/placeflow/pkg/config"
	"github.com/placeflow/placeflow/pkg/health"
	"github.com/placeflow/placeflow/pkg/kafka"
	"github.com/placeflow/placeflow/pkg/logger"
	"github.com/placeflow/placeflow/pkg/metrics"
	"github.com/placeflow/placeflow/pkg/middleware"
	"github.com/placeflow/placeflow/pkg/redis"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	log := logger.WithComponent("api-main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		log.Error("connecting to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	m := metrics.New()
	broker := pipeline.NewStreamBroker(redisClient)
	status := pipeline.NewStatusStore(pipeline.NewRedisKV(redisClient), cfg.Pipeline.ResultTTL, m)

	auditProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.AuditTopic)
	defer auditProducer.Close()
	audit := events.NewCollector(auditProducer, 0)
	audit.Start(ctx)
	defer audit.Close()

	producer := pipeline.NewProducer(broker, status, cfg.Pipeline, m, audit)
	handler := api.NewHandler(producer, status, cfg.Pipeline)

	checker := health.NewChecker()
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if err := redisClient.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})

	mux := http.NewServeMux()
	handler.Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var root http.Handler = mux
	root = middleware.Metrics(m)(root)
	root = middleware.Timeout(cfg.Server.WriteTimeout)(root)
	root = middleware.RequestID(root)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      root,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	var stopMetrics func(context.Context) error
	if cfg.Metrics.Enabled {
		stopMetrics = metrics.StartServer(cfg.Metrics.Port)
	}

	go func() {
		log.Info("api server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("api server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", "error", err)
	}
	if stopMetrics != nil {
		if err := stopMetrics(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown", "error", err)
		}
	}
}
