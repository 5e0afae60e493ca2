package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// memoryBroker is an in-memory Broker for tests: per-topic ordered records,
// consumer groups with a per-group delivery cursor, and pending tracking.
type memoryBroker struct {
	mu      sync.Mutex
	nextID  int
	topics  map[string][]Record
	groups  map[string]int // "topic/group" -> delivery cursor
	pending map[string]map[string]bool
	acked   map[string][]string
	deleted map[string][]string

	appendErr error
	readErr   error
	ackErr    error
	deleteErr error
}

func newMemoryBroker() *memoryBroker {
	return &memoryBroker{
		topics:  make(map[string][]Record),
		groups:  make(map[string]int),
		pending: make(map[string]map[string]bool),
		acked:   make(map[string][]string),
		deleted: make(map[string][]string),
	}
}

func (b *memoryBroker) Append(_ context.Context, topic string, fields map[string]string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.appendErr != nil {
		return "", b.appendErr
	}
	b.nextID++
	id := fmt.Sprintf("%d-0", b.nextID)
	b.topics[topic] = append(b.topics[topic], Record{ID: id, Topic: topic, Fields: fields})
	return id, nil
}

func (b *memoryBroker) EnsureGroup(_ context.Context, topic, group string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := topic + "/" + group
	if _, ok := b.groups[key]; !ok {
		b.groups[key] = 0
	}
	return nil
}

func (b *memoryBroker) ReadGroup(_ context.Context, topic, group, _ string, count int64, _ time.Duration) ([]Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.readErr != nil {
		return nil, b.readErr
	}
	key := topic + "/" + group
	cursor, ok := b.groups[key]
	if !ok {
		return nil, fmt.Errorf("no such group %s on %s", group, topic)
	}
	records := b.topics[topic]
	var out []Record
	for cursor < len(records) && int64(len(out)) < count {
		rec := records[cursor]
		out = append(out, rec)
		if b.pending[key] == nil {
			b.pending[key] = make(map[string]bool)
		}
		b.pending[key][rec.ID] = true
		cursor++
	}
	b.groups[key] = cursor
	return out, nil
}

func (b *memoryBroker) Ack(_ context.Context, topic, group string, ids ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ackErr != nil {
		return b.ackErr
	}
	key := topic + "/" + group
	for _, id := range ids {
		delete(b.pending[key], id)
		b.acked[topic] = append(b.acked[topic], id)
	}
	return nil
}

func (b *memoryBroker) Delete(_ context.Context, topic string, ids ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.deleteErr != nil {
		return b.deleteErr
	}
	b.deleted[topic] = append(b.deleted[topic], ids...)
	return nil
}

func (b *memoryBroker) ackedCount(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.acked[topic])
}

func (b *memoryBroker) pendingCount(topic, group string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending[topic+"/"+group])
}

func (b *memoryBroker) records(topic string) []Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Record(nil), b.topics[topic]...)
}

func (b *memoryBroker) hasGroup(topic, group string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.groups[topic+"/"+group]
	return ok
}

// memoryKV is an in-memory KV with TTL expiry.
type memoryKV struct {
	mu     sync.Mutex
	data   map[string]kvEntry
	setErr error
}

type kvEntry struct {
	value   string
	expires time.Time
}

func newMemoryKV() *memoryKV {
	return &memoryKV{data: make(map[string]kvEntry)}
}

func (kv *memoryKV) Get(_ context.Context, key string) (string, bool, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	entry, ok := kv.data[key]
	if !ok || time.Now().After(entry.expires) {
		return "", false, nil
	}
	return entry.value, true, nil
}

func (kv *memoryKV) Set(_ context.Context, key, value string, ttl time.Duration) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if kv.setErr != nil {
		return kv.setErr
	}
	kv.data[key] = kvEntry{value: value, expires: time.Now().Add(ttl)}
	return nil
}

func (kv *memoryKV) keysWithPrefix(prefix string) []string {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	var keys []string
	for k := range kv.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys
}
