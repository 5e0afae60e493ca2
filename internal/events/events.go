// Package events publishes pipeline lifecycle audit events to Kafka.
// Emission is best-effort and buffered; the pipeline never blocks or fails
// because auditing is behind.
package events

import "time"

type Type string

const (
	TypeRequestEnqueued Type = "request_enqueued"
	TypeStageCompleted  Type = "stage_completed"
	TypeStageFailed     Type = "stage_failed"
)

// AuditEvent records one lifecycle transition of a search request.
type AuditEvent struct {
	Type      Type      `json:"type"`
	RequestID string    `json:"request_id"`
	Stage     string    `json:"stage,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func Enqueued(requestID string) AuditEvent {
	return AuditEvent{
		Type:      TypeRequestEnqueued,
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
	}
}

func StageCompleted(requestID, stage string) AuditEvent {
	return AuditEvent{
		Type:      TypeStageCompleted,
		RequestID: requestID,
		Stage:     stage,
		Timestamp: time.Now().UTC(),
	}
}

func StageFailed(requestID, stage, detail string) AuditEvent {
	return AuditEvent{
		Type:      TypeStageFailed,
		RequestID: requestID,
		Stage:     stage,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	}
}
