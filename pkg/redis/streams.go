package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// StreamMessage is one entry read from a stream. Values are flattened to
// strings, which is how Redis returns stream fields.
type StreamMessage struct {
	ID     string
	Values map[string]string
}

// XAdd appends a record to the stream and returns its broker-assigned ID.
func (c *Client) XAdd(ctx context.Context, stream string, values map[string]string) (string, error) {
	args := make(map[string]interface{}, len(values))
	for k, v := range values {
		args[k] = v
	}
	id, err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: args,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd to %s: %w", stream, err)
	}
	return id, nil
}

// GroupExists reports whether the consumer group is already registered on the
// stream. A missing stream is reported as "does not exist" rather than an
// error.
func (c *Client) GroupExists(ctx context.Context, stream, group string) (bool, error) {
	groups, err := c.rdb.XInfoGroups(ctx, stream).Result()
	if err != nil {
		if isNoSuchStream(err) {
			return false, nil
		}
		return false, fmt.Errorf("xinfo groups on %s: %w", stream, err)
	}
	for _, g := range groups {
		if g.Name == group {
			return true, nil
		}
	}
	return false, nil
}

// CreateGroup registers the consumer group on the stream, creating the stream
// atomically if it does not exist yet. A concurrent creation racing this one
// surfaces as BUSYGROUP, which is treated as success.
func (c *Client) CreateGroup(ctx context.Context, stream, group string) error {
	err := c.rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("xgroup create %s on %s: %w", group, stream, err)
	}
	return nil
}

// XReadGroup blocks for up to block waiting for new entries on the stream for
// the given group and consumer. A block timeout with no data yields an empty
// slice, not an error.
func (c *Client) XReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]StreamMessage, error) {
	streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("xreadgroup %s/%s: %w", stream, group, err)
	}
	var msgs []StreamMessage
	for _, s := range streams {
		for _, m := range s.Messages {
			values := make(map[string]string, len(m.Values))
			for k, v := range m.Values {
				values[k] = fmt.Sprint(v)
			}
			msgs = append(msgs, StreamMessage{ID: m.ID, Values: values})
		}
	}
	return msgs, nil
}

// XAck acknowledges entries for the group, removing them from the group's
// pending set.
func (c *Client) XAck(ctx context.Context, stream, group string, ids ...string) error {
	return c.rdb.XAck(ctx, stream, group, ids...).Err()
}

// XDel physically removes entries from the stream. This is a storage-reclaim
// step only; acknowledged entries are never redelivered regardless.
func (c *Client) XDel(ctx context.Context, stream string, ids ...string) error {
	return c.rdb.XDel(ctx, stream, ids...).Err()
}

func isBusyGroup(err error) bool {
	return err != nil && strings.Contains(err.Error(), "BUSYGROUP")
}

func isNoSuchStream(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such key")
}
