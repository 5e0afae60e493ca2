package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/placeflow/placeflow/internal/events"
	"github.com/placeflow/placeflow/pkg/config"
	apperrors "github.com/placeflow/placeflow/pkg/errors"
	"github.com/placeflow/placeflow/pkg/metrics"
)

// Producer enqueues search requests onto the classification topic and
// initializes their status.
type Producer struct {
	broker           Broker
	status           *StatusStore
	topic            string
	preferenceMaxLen int
	metrics          *metrics.Metrics
	audit            *events.Collector
	logger           *slog.Logger
}

// NewProducer creates a Producer. metrics and audit may be nil.
func NewProducer(broker Broker, status *StatusStore, cfg config.PipelineConfig, m *metrics.Metrics, audit *events.Collector) *Producer {
	return &Producer{
		broker:           broker,
		status:           status,
		topic:            cfg.ClassificationTopic,
		preferenceMaxLen: cfg.PreferenceMaxLen,
		metrics:          m,
		audit:            audit,
		logger:           slog.Default().With("component", "producer"),
	}
}

// Enqueue generates a request id, writes status=PROCESSING, and appends one
// record to the classification topic. The status write happens before the
// publish so a poller can never see "not found" for a freshly issued id.
//
// The request id is returned even when enqueueing fails; the terminal ERROR
// status has already been recorded under it and the caller surfaces the id
// regardless.
func (p *Producer) Enqueue(ctx context.Context, req SearchRequest) (string, error) {
	requestID := NewRequestID()
	req.Preference = truncatePreference(req.Preference, p.preferenceMaxLen)

	if err := p.status.MarkProcessing(ctx, requestID); err != nil {
		return requestID, fmt.Errorf("initializing status: %w", err)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		p.failEnqueue(ctx, requestID, "could not serialize search request")
		return requestID, fmt.Errorf("%w: encoding search request: %v", apperrors.ErrSerialization, err)
	}

	recordID, err := p.broker.Append(ctx, p.topic, recordFields(requestID, string(payload)))
	if err != nil {
		p.failEnqueue(ctx, requestID, "could not queue search request")
		return requestID, fmt.Errorf("%w: appending to %s: %v", apperrors.ErrPublish, p.topic, err)
	}

	if p.metrics != nil {
		p.metrics.RequestsEnqueuedTotal.Inc()
	}
	p.audit.Track(events.Enqueued(requestID))
	p.logger.Debug("search request enqueued",
		"request_id", requestID,
		"record_id", recordID,
		"preference_len", len(req.Preference),
	)
	return requestID, nil
}

func (p *Producer) failEnqueue(ctx context.Context, requestID, message string) {
	if err := p.status.SetError(ctx, requestID, message); err != nil {
		p.logger.Error("failed to record enqueue error", "request_id", requestID, "error", err)
	}
}
