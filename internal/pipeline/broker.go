// Package pipeline implements the asynchronous two-stage search pipeline:
// enqueue onto a classification stream, classify free-text preferences into
// tags, resolve candidate places, and run the geo lookup that produces the
// final result. Delivery is at-least-once through broker consumer groups;
// a record is acknowledged after its handler runs, success or failure, so a
// failed request never stalls the stream.
package pipeline

import (
	"context"
	"time"
)

// Record is one entry delivered from a stream topic. Fields arrive as flat
// string pairs and may carry double-JSON-encoded values; ParseRecord
// normalizes them.
type Record struct {
	ID     string
	Topic  string
	Fields map[string]string
}

// Broker is the durable log the pipeline runs on: per-topic append-only
// streams with named consumer groups and per-group pending-entry tracking.
type Broker interface {
	// Append adds a record to the topic and returns its broker-assigned ID.
	Append(ctx context.Context, topic string, fields map[string]string) (string, error)
	// EnsureGroup provisions the consumer group on the topic. It is
	// idempotent; "group already exists" is a success outcome, including
	// when another process instance creates it concurrently.
	EnsureGroup(ctx context.Context, topic, group string) error
	// ReadGroup blocks up to block for undelivered records, competing with
	// the other consumers of the group. Delivered records stay in the
	// group's pending set until acknowledged.
	ReadGroup(ctx context.Context, topic, group, consumer string, count int64, block time.Duration) ([]Record, error)
	// Ack removes records from the group's pending set.
	Ack(ctx context.Context, topic, group string, ids ...string) error
	// Delete physically removes records from the topic. Storage reclaim
	// only; never required for correctness.
	Delete(ctx context.Context, topic string, ids ...string) error
}

// KV is the TTL-keyed store behind request status, results, and errors.
type KV interface {
	// Get returns the value and whether the key exists. Expired keys read
	// as absent.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set writes the value with an independent TTL per key.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}
