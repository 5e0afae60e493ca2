package pipeline

import (
	"context"
	"log/slog"
	"time"

	pkgredis "github.com/placeflow/placeflow/pkg/redis"
)

// StreamBroker adapts the Redis streams client to the Broker interface.
type StreamBroker struct {
	client *pkgredis.Client
	logger *slog.Logger
}

// NewStreamBroker wraps a Redis client as a stream Broker.
func NewStreamBroker(client *pkgredis.Client) *StreamBroker {
	return &StreamBroker{
		client: client,
		logger: slog.Default().With("component", "stream-broker"),
	}
}

func (b *StreamBroker) Append(ctx context.Context, topic string, fields map[string]string) (string, error) {
	return b.client.XAdd(ctx, topic, fields)
}

// EnsureGroup probes for the group when the topic exists and otherwise
// creates topic and group together. BUSYGROUP from a concurrent creation is
// treated as success by the underlying client.
func (b *StreamBroker) EnsureGroup(ctx context.Context, topic, group string) error {
	exists, err := b.client.GroupExists(ctx, topic, group)
	if err != nil {
		return err
	}
	if exists {
		b.logger.Debug("consumer group already present", "topic", topic, "group", group)
		return nil
	}
	if err := b.client.CreateGroup(ctx, topic, group); err != nil {
		return err
	}
	b.logger.Info("consumer group created", "topic", topic, "group", group)
	return nil
}

func (b *StreamBroker) ReadGroup(ctx context.Context, topic, group, consumer string, count int64, block time.Duration) ([]Record, error) {
	msgs, err := b.client.XReadGroup(ctx, topic, group, consumer, count, block)
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(msgs))
	for _, m := range msgs {
		records = append(records, Record{ID: m.ID, Topic: topic, Fields: m.Values})
	}
	return records, nil
}

func (b *StreamBroker) Ack(ctx context.Context, topic, group string, ids ...string) error {
	return b.client.XAck(ctx, topic, group, ids...)
}

func (b *StreamBroker) Delete(ctx context.Context, topic string, ids ...string) error {
	return b.client.XDel(ctx, topic, ids...)
}

// RedisKV adapts the Redis client to the KV interface, mapping redis.Nil to
// a plain "not found".
type RedisKV struct {
	client *pkgredis.Client
}

// NewRedisKV wraps a Redis client as a KV store.
func NewRedisKV(client *pkgredis.Client) *RedisKV {
	return &RedisKV{client: client}
}

func (kv *RedisKV) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := kv.client.Get(ctx, key)
	if err != nil {
		if pkgredis.IsNilError(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

func (kv *RedisKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return kv.client.Set(ctx, key, value, ttl)
}
