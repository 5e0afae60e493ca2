package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/placeflow/placeflow/pkg/config"
)

// Pipeline runs the consumer side: a bounded pool of named consumers per
// stage, all reading the shared group so records are load-balanced across
// workers and across process instances.
type Pipeline struct {
	broker     Broker
	dispatcher *Dispatcher
	cfg        config.PipelineConfig
	logger     *slog.Logger

	cancel  context.CancelFunc
	workers *errgroup.Group
}

// NewPipeline creates a Pipeline around the given dispatcher.
func NewPipeline(broker Broker, dispatcher *Dispatcher, cfg config.PipelineConfig) *Pipeline {
	return &Pipeline{
		broker:     broker,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     slog.Default().With("component", "pipeline"),
	}
}

// Start provisions the consumer group on both topics and launches the worker
// pool. It returns once the workers are running; the workers stop when ctx is
// cancelled or Stop is called.
func (p *Pipeline) Start(ctx context.Context) error {
	for _, topic := range []string{p.cfg.ClassificationTopic, p.cfg.LookupTopic} {
		if err := p.broker.EnsureGroup(ctx, topic, p.cfg.GroupName); err != nil {
			return fmt.Errorf("ensuring group %s on %s: %w", p.cfg.GroupName, topic, err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	group, groupCtx := errgroup.WithContext(runCtx)
	p.workers = group

	base := consumerBase()
	for i := 0; i < p.cfg.ClassificationConsumers; i++ {
		consumer := fmt.Sprintf("%s-classification-%d", base, i)
		group.Go(func() error {
			return p.readLoop(groupCtx, p.cfg.ClassificationTopic, consumer)
		})
	}
	for i := 0; i < p.cfg.LookupConsumers; i++ {
		consumer := fmt.Sprintf("%s-lookup-%d", base, i)
		group.Go(func() error {
			return p.readLoop(groupCtx, p.cfg.LookupTopic, consumer)
		})
	}

	p.logger.Info("pipeline started",
		"group", p.cfg.GroupName,
		"classification_consumers", p.cfg.ClassificationConsumers,
		"lookup_consumers", p.cfg.LookupConsumers,
	)
	return nil
}

// Stop cancels the workers and waits for them to drain. Safe to call after a
// failed or partial Start.
func (p *Pipeline) Stop() error {
	if p.cancel != nil {
		p.cancel()
	}
	if p.workers == nil {
		return nil
	}
	if err := p.workers.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// readLoop reads one record at a time for its consumer and dispatches it.
// Read errors are logged and retried after a short pause; the loop only exits
// on context cancellation.
func (p *Pipeline) readLoop(ctx context.Context, topic, consumer string) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		records, err := p.broker.ReadGroup(ctx, topic, p.cfg.GroupName, consumer, 1, p.cfg.BlockTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.logger.Error("reading from topic failed", "topic", topic, "consumer", consumer, "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		for _, rec := range records {
			p.dispatcher.Dispatch(ctx, rec)
		}
	}
}

// consumerBase returns the per-process prefix for consumer names. Hostname
// plus pid keeps names globally unique across instances so pending-entry
// ownership is never shared.
func consumerBase() string {
	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
