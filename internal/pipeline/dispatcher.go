package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/placeflow/placeflow/pkg/config"
	"github.com/placeflow/placeflow/pkg/logger"
	"github.com/placeflow/placeflow/pkg/metrics"
	"github.com/placeflow/placeflow/pkg/tracing"
)

// StageHandler processes one delivered record for its stage.
type StageHandler interface {
	Handle(ctx context.Context, requestID, payload string) error
}

// Dispatcher is the per-record entry point. It normalizes fields, routes to
// the stage handler for the record's topic, and acknowledges the record
// afterwards whether the handler succeeded or failed. There is no retry or
// dead-letter path; a handler failure is logged, the terminal ERROR status
// (if any) was already written by the handler, and the stream keeps moving.
type Dispatcher struct {
	broker              Broker
	group               string
	classificationTopic string
	lookupTopic         string
	classify            StageHandler
	lookup              StageHandler
	deleteAfterAck      bool
	metrics             *metrics.Metrics
	logger              *slog.Logger
}

// NewDispatcher creates a Dispatcher. metrics may be nil.
func NewDispatcher(broker Broker, cfg config.PipelineConfig, classify, lookup StageHandler, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		broker:              broker,
		group:               cfg.GroupName,
		classificationTopic: cfg.ClassificationTopic,
		lookupTopic:         cfg.LookupTopic,
		classify:            classify,
		lookup:              lookup,
		deleteAfterAck:      cfg.DeleteRecords(),
		metrics:             m,
		logger:              slog.Default().With("component", "dispatcher"),
	}
}

// Dispatch handles one delivered record. Records from unrelated topics are
// ignored without acknowledgment; everything else is acknowledged exactly
// here, after the handler runs.
func (d *Dispatcher) Dispatch(ctx context.Context, rec Record) {
	var handler StageHandler
	var stage string
	switch rec.Topic {
	case d.classificationTopic:
		handler, stage = d.classify, "classification"
	case d.lookupTopic:
		handler, stage = d.lookup, "lookup"
	default:
		d.logger.Warn("ignoring record from unrelated topic", "topic", rec.Topic, "record_id", rec.ID)
		return
	}
	if d.metrics != nil {
		d.metrics.RecordsConsumedTotal.WithLabelValues(rec.Topic).Inc()
	}

	requestID, payload, err := ParseRecord(rec)
	if err != nil {
		// No reliable owner to attribute an error status to, so the record
		// is acknowledged and dropped.
		d.logger.Warn("dropping malformed record", "topic", rec.Topic, "record_id", rec.ID, "error", err)
		if d.metrics != nil {
			d.metrics.MalformedDroppedTotal.Inc()
		}
		d.finish(ctx, rec)
		return
	}

	ctx = logger.WithRequestID(ctx, requestID)
	spanCtx, span := tracing.StartSpan(ctx, stage, requestID)
	start := time.Now()
	if err := handler.Handle(spanCtx, requestID, payload); err != nil {
		d.logger.Error("stage handler failed, record acknowledged without retry",
			"stage", stage,
			"request_id", requestID,
			"record_id", rec.ID,
			"error", err,
		)
		if d.metrics != nil {
			d.metrics.StageErrorsTotal.WithLabelValues(stage).Inc()
		}
		span.SetAttr("failed", true)
	}
	span.End()
	span.Log()
	if d.metrics != nil {
		d.metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}

	d.finish(ctx, rec)
}

// finish acknowledges the record for the group and, when delete-after-ack is
// enabled, best-effort deletes it from the stream. A failed delete only slows
// storage reclaim; the record is already acknowledged and will not be
// redelivered.
func (d *Dispatcher) finish(ctx context.Context, rec Record) {
	if err := d.broker.Ack(ctx, rec.Topic, d.group, rec.ID); err != nil {
		d.logger.Error("acknowledgment failed, record will be redelivered",
			"topic", rec.Topic,
			"record_id", rec.ID,
			"error", err,
		)
		return
	}
	if d.metrics != nil {
		d.metrics.RecordsAckedTotal.WithLabelValues(rec.Topic).Inc()
	}
	if d.deleteAfterAck {
		if err := d.broker.Delete(ctx, rec.Topic, rec.ID); err != nil {
			d.logger.Warn("post-ack delete failed, storage reclaim deferred",
				"topic", rec.Topic,
				"record_id", rec.ID,
				"error", err,
			)
			if d.metrics != nil {
				d.metrics.RecordDeleteFailures.Inc()
			}
		}
	}
}
