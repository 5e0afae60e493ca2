package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/placeflow/placeflow/pkg/metrics"
)

// Status is the externally visible lifecycle state of a search request.
type Status string

const (
	StatusProcessing Status = "PROCESSING"
	StatusDone       Status = "DONE"
	StatusError      Status = "ERROR"
)

const (
	statusKeyPrefix = "status:"
	resultKeyPrefix = "result:"
	errorKeyPrefix  = "error:"
)

// StatusStore tracks per-request status, result payload, and error message
// under independently TTL-scoped keys. Each stage gets its own narrow write
// method: only MarkProcessing writes PROCESSING (once, at enqueue) and only
// CompleteWithResult writes DONE (lookup stage). After TTL expiry every read
// reports "not found" and the request is gone for good.
type StatusStore struct {
	kv      KV
	ttl     time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewStatusStore creates a StatusStore writing with the given TTL. metrics
// may be nil.
func NewStatusStore(kv KV, ttl time.Duration, m *metrics.Metrics) *StatusStore {
	return &StatusStore{
		kv:      kv,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "status-store"),
	}
}

// MarkProcessing initializes the request's status. The producer calls this
// before publishing so a poller can never observe an unknown id for a request
// that was just issued.
func (s *StatusStore) MarkProcessing(ctx context.Context, requestID string) error {
	if err := s.kv.Set(ctx, statusKeyPrefix+requestID, string(StatusProcessing), s.ttl); err != nil {
		return fmt.Errorf("writing status for %s: %w", requestID, err)
	}
	return nil
}

// SetError records a terminal failure with a short human-readable message.
// A request already DONE is never demoted.
func (s *StatusStore) SetError(ctx context.Context, requestID, message string) error {
	current, found, err := s.getNormalized(ctx, statusKeyPrefix+requestID)
	if err == nil && found && Status(current) == StatusDone {
		s.logger.Warn("ignoring error write for completed request", "request_id", requestID, "message", message)
		return nil
	}
	if err := s.kv.Set(ctx, errorKeyPrefix+requestID, message, s.ttl); err != nil {
		return fmt.Errorf("writing error for %s: %w", requestID, err)
	}
	if err := s.kv.Set(ctx, statusKeyPrefix+requestID, string(StatusError), s.ttl); err != nil {
		return fmt.Errorf("writing status for %s: %w", requestID, err)
	}
	if s.metrics != nil {
		s.metrics.ResultsWrittenTotal.WithLabelValues("error").Inc()
	}
	return nil
}

// CompleteWithResult writes the serialized result and flips the status to
// DONE. The result is written first so a DONE status always has a result
// behind it.
func (s *StatusStore) CompleteWithResult(ctx context.Context, requestID, resultJSON string) error {
	if err := s.kv.Set(ctx, resultKeyPrefix+requestID, resultJSON, s.ttl); err != nil {
		return fmt.Errorf("writing result for %s: %w", requestID, err)
	}
	if err := s.kv.Set(ctx, statusKeyPrefix+requestID, string(StatusDone), s.ttl); err != nil {
		return fmt.Errorf("writing status for %s: %w", requestID, err)
	}
	if s.metrics != nil {
		s.metrics.ResultsWrittenTotal.WithLabelValues("done").Inc()
	}
	return nil
}

// GetStatus returns the request's current status, or found=false once the
// key has expired or never existed.
func (s *StatusStore) GetStatus(ctx context.Context, requestID string) (Status, bool, error) {
	value, found, err := s.getNormalized(ctx, statusKeyPrefix+requestID)
	if err != nil || !found {
		return "", false, err
	}
	return Status(value), true, nil
}

// GetResult returns the serialized result payload for a DONE request.
func (s *StatusStore) GetResult(ctx context.Context, requestID string) (string, bool, error) {
	return s.getNormalized(ctx, resultKeyPrefix+requestID)
}

// GetError returns the terminal error message for an ERROR request.
func (s *StatusStore) GetError(ctx context.Context, requestID string) (string, bool, error) {
	return s.getNormalized(ctx, errorKeyPrefix+requestID)
}

// getNormalized reads a key and applies the same double-encoding
// normalization as the record boundary.
func (s *StatusStore) getNormalized(ctx context.Context, key string) (string, bool, error) {
	value, found, err := s.kv.Get(ctx, key)
	if err != nil {
		return "", false, fmt.Errorf("reading %s: %w", key, err)
	}
	if !found {
		return "", false, nil
	}
	return NormalizeField(value), true, nil
}
