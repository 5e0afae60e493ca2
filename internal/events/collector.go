package events

import (
	"context"
	"log/slog"

	"github.com/placeflow/placeflow/pkg/kafka"
	"github.com/placeflow/placeflow/pkg/resilience"
)

// Collector buffers audit events in memory and publishes them to Kafka from
// a background goroutine. A nil *Collector is valid and drops everything,
// so callers don't need to guard the disabled case.
type Collector struct {
	producer *kafka.Producer
	eventCh  chan AuditEvent
	logger   *slog.Logger
	done     chan struct{}
}

func NewCollector(producer *kafka.Producer, bufferSize int) *Collector {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	return &Collector{
		producer: producer,
		eventCh:  make(chan AuditEvent, bufferSize),
		logger:   slog.Default().With("component", "audit-collector"),
		done:     make(chan struct{}),
	}
}

func (c *Collector) Start(ctx context.Context) {
	if c == nil {
		return
	}
	go func() {
		defer close(c.done)
		for {
			select {
			case event, ok := <-c.eventCh:
				if !ok {
					return
				}
				c.publish(ctx, event)
			case <-ctx.Done():
				c.drainRemaining()
				return
			}
		}
	}()
	c.logger.Info("audit collector started", "buffer_size", cap(c.eventCh))
}

// Track enqueues an event for publishing, dropping it if the buffer is full.
func (c *Collector) Track(event AuditEvent) {
	if c == nil {
		return
	}
	select {
	case c.eventCh <- event:
	default:
		c.logger.Warn("audit event dropped (buffer full)", "type", event.Type)
	}
}

func (c *Collector) Close() {
	if c == nil {
		return
	}
	close(c.eventCh)
	<-c.done
}

func (c *Collector) publish(ctx context.Context, event AuditEvent) {
	err := resilience.Retry(ctx, "audit-publish", resilience.RetryConfig{MaxAttempts: 3}, func() error {
		return c.producer.Publish(ctx, kafka.Event{
			Key:   event.RequestID,
			Value: event,
		})
	})
	if err != nil {
		c.logger.Error("failed to publish audit event", "type", event.Type, "error", err)
	}
}

// drainRemaining flushes whatever is still buffered as one batch write.
func (c *Collector) drainRemaining() {
	var batch []kafka.Event
	for {
		select {
		case event, ok := <-c.eventCh:
			if !ok {
				c.flush(batch)
				return
			}
			batch = append(batch, kafka.Event{Key: event.RequestID, Value: event})
		default:
			c.flush(batch)
			return
		}
	}
}

func (c *Collector) flush(batch []kafka.Event) {
	if len(batch) == 0 {
		return
	}
	if err := c.producer.PublishBatch(context.Background(), batch); err != nil {
		c.logger.Error("failed to publish remaining audit events", "count", len(batch), "error", err)
	}
}
