// The worker service runs the classification and lookup consumers.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/placeflow/placeflow/internal/classifier"
	"github.com/placeflow/placeflow/internal/events"
	"github.com/placeflow/placeflow/internal/pipeline"
	"github.com/placeflow/placeflow/internal/place"
	"github.com/placeflow/placeflow/pkg/config"
	"github.com/placeflow/placeflow/pkg/kafka"
	"github.com/placeflow/placeflow/pkg/logger"
	"github.com/placeflow/placeflow/pkg/metrics"
	"github.com/placeflow/placeflow/pkg/postgres"
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
	log := logger.WithComponent("worker-main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		log.Error("connecting to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	pg, err := postgres.New(cfg.Postgres)
	if err != nil {
		log.Error("connecting to postgres", "error", err)
		os.Exit(1)
	}
	defer pg.Close()

	m := metrics.New()
	broker := pipeline.NewStreamBroker(redisClient)
	status := pipeline.NewStatusStore(pipeline.NewRedisKV(redisClient), cfg.Pipeline.ResultTTL, m)

	auditProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.AuditTopic)
	defer auditProducer.Close()
	audit := events.NewCollector(auditProducer, 0)
	audit.Start(ctx)
	defer audit.Close()

	var primary classifier.Classifier
	if cfg.Classifier.Endpoint != "" {
		primary = classifier.NewHTTP(cfg.Classifier, nil)
	}
	tagIndex := place.NewTagIndex(redisClient)
	store := place.NewPGStore(pg, 0)

	classify := pipeline.NewClassifyStage(broker, status, cfg.Pipeline, primary, tagIndex, m, audit)
	lookup := pipeline.NewLookupStage(store, status, m, audit)
	dispatcher := pipeline.NewDispatcher(broker, cfg.Pipeline, classify, lookup, m)
	pipe := pipeline.NewPipeline(broker, dispatcher, cfg.Pipeline)

	var stopMetrics func(context.Context) error
	if cfg.Metrics.Enabled {
		stopMetrics = metrics.StartServer(cfg.Metrics.Port)
	}

	if err := pipe.Start(ctx); err != nil {
		log.Error("starting pipeline", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	log.Info("shutting down")
	if err := pipe.Stop(); err != nil {
		log.Error("pipeline shutdown", "error", err)
	}
	if stopMetrics != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := stopMetrics(shutdownCtx); err != nil {
			log.Error("metrics server shutdown", "error", err)
		}
	}
}
