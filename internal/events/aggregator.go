package events

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/placeflow/placeflow/pkg/kafka"
)

// AggregatedStats is the audit snapshot served to dashboards: how many
// searches entered the pipeline, per-stage completion and failure counts,
// and the most frequent failure messages.
type AggregatedStats struct {
	TotalEnqueued     int64            `json:"total_enqueued"`
	StageCompletions  map[string]int64 `json:"stage_completions"`
	StageFailures     map[string]int64 `json:"stage_failures"`
	TopFailureDetails []DetailCount    `json:"top_failure_details"`
	EventsPerMinute   float64          `json:"events_per_minute"`
}

type DetailCount struct {
	Detail string `json:"detail"`
	Count  int64  `json:"count"`
}

// Aggregator consumes audit events from Kafka and maintains in-memory
// counters. State resets on restart; the Kafka topic remains the durable
// record.
type Aggregator struct {
	mu             sync.RWMutex
	totalEnqueued  atomic.Int64
	totalEvents    atomic.Int64
	completions    map[string]int64
	failures       map[string]int64
	failureDetails map[string]int64
	startTime      time.Time

	logger *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		completions:    make(map[string]int64),
		failures:       make(map[string]int64),
		failureDetails: make(map[string]int64),
		startTime:      time.Now(),
		logger:         slog.Default().With("component", "audit-aggregator"),
	}
}

// Start runs the consumer feeding this aggregator. The consumer must have
// been built with HandleEvent on this same instance.
func (a *Aggregator) Start(ctx context.Context, consumer *kafka.Consumer) error {
	a.logger.Info("audit aggregator starting")
	return consumer.Start(ctx)
}

// HandleEvent returns the Kafka handler feeding the aggregator. Undecodable
// events are logged and skipped, never retried.
func HandleEvent(agg *Aggregator) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[AuditEvent](value)
		if err != nil {
			agg.logger.Error("failed to decode audit event", "error", err)
			return nil
		}
		agg.record(event)
		return nil
	}
}

func (a *Aggregator) record(event AuditEvent) {
	a.totalEvents.Add(1)
	switch event.Type {
	case TypeRequestEnqueued:
		a.totalEnqueued.Add(1)
	case TypeStageCompleted:
		a.mu.Lock()
		a.completions[event.Stage]++
		a.mu.Unlock()
	case TypeStageFailed:
		a.mu.Lock()
		a.failures[event.Stage]++
		if event.Detail != "" {
			a.failureDetails[event.Detail]++
		}
		a.mu.Unlock()
	default:
		a.logger.Warn("unknown audit event type", "type", event.Type)
	}
}

func (a *Aggregator) Stats() AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := AggregatedStats{
		TotalEnqueued:    a.totalEnqueued.Load(),
		StageCompletions: copyCounts(a.completions),
		StageFailures:    copyCounts(a.failures),
	}
	stats.TopFailureDetails = topN(a.failureDetails, 10)
	elapsed := time.Since(a.startTime).Minutes()
	if elapsed > 0 {
		stats.EventsPerMinute = float64(a.totalEvents.Load()) / elapsed
	}
	return stats
}

func copyCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func topN(counts map[string]int64, n int) []DetailCount {
	out := make([]DetailCount, 0, len(counts))
	for detail, count := range counts {
		out = append(out, DetailCount{Detail: detail, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Detail < out[j].Detail
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
