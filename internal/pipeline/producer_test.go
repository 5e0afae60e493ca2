package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/placeflow/placeflow/pkg/config"
	apperrors "github.com/placeflow/placeflow/pkg/errors"
)

func testPipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{
		ClassificationTopic:     "classification-requests",
		LookupTopic:             "lookup-requests",
		GroupName:               "test-workers",
		ClassificationConsumers: 1,
		LookupConsumers:         1,
		ResultTTL:               time.Minute,
		BlockTimeout:            time.Millisecond,
		DefaultRadiusKm:         5,
		PreferenceMaxLen:        100,
	}
}

func TestProducerEnqueue(t *testing.T) {
	ctx := context.Background()
	cfg := testPipelineConfig()

	t.Run("status is PROCESSING immediately after enqueue", func(t *testing.T) {
		broker := newMemoryBroker()
		status := NewStatusStore(newMemoryKV(), time.Minute, nil)
		producer := NewProducer(broker, status, cfg, nil, nil)

		id, err := producer.Enqueue(ctx, SearchRequest{Lat: 36.1, Lon: -115.2, Preference: "coffee"})
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		got, found, err := status.GetStatus(ctx, id)
		if err != nil || !found {
			t.Fatalf("GetStatus: found=%v err=%v", found, err)
		}
		if got != StatusProcessing {
			t.Errorf("got %q, want PROCESSING", got)
		}
	})

	t.Run("record carries requestId and payload", func(t *testing.T) {
		broker := newMemoryBroker()
		status := NewStatusStore(newMemoryKV(), time.Minute, nil)
		producer := NewProducer(broker, status, cfg, nil, nil)

		id, err := producer.Enqueue(ctx, SearchRequest{Lat: 36.1, Lon: -115.2, Preference: "coffee"})
		if err != nil {
			t.Fatal(err)
		}
		records := broker.records(cfg.ClassificationTopic)
		if len(records) != 1 {
			t.Fatalf("got %d records, want 1", len(records))
		}
		fields := records[0].Fields
		if fields[fieldRequestID] != id {
			t.Errorf("requestId field %q != returned id %q", fields[fieldRequestID], id)
		}
		var req SearchRequest
		if err := json.Unmarshal([]byte(fields[fieldPayload]), &req); err != nil {
			t.Fatalf("payload not valid JSON: %v", err)
		}
		if req.Preference != "coffee" {
			t.Errorf("got preference %q", req.Preference)
		}
		if fields[fieldCreatedAt] == "" {
			t.Error("createdAt field missing")
		}
	})

	t.Run("long preference is truncated before publish", func(t *testing.T) {
		broker := newMemoryBroker()
		status := NewStatusStore(newMemoryKV(), time.Minute, nil)
		producer := NewProducer(broker, status, cfg, nil, nil)

		long := strings.Repeat("x", 500)
		if _, err := producer.Enqueue(ctx, SearchRequest{Lat: 1, Lon: 1, Preference: long}); err != nil {
			t.Fatal(err)
		}
		var req SearchRequest
		rec := broker.records(cfg.ClassificationTopic)[0]
		if err := json.Unmarshal([]byte(rec.Fields[fieldPayload]), &req); err != nil {
			t.Fatal(err)
		}
		if len(req.Preference) != cfg.PreferenceMaxLen {
			t.Errorf("got preference length %d, want %d", len(req.Preference), cfg.PreferenceMaxLen)
		}
	})

	t.Run("append failure records ERROR and still returns the id", func(t *testing.T) {
		broker := newMemoryBroker()
		broker.appendErr = errors.New("stream down")
		status := NewStatusStore(newMemoryKV(), time.Minute, nil)
		producer := NewProducer(broker, status, cfg, nil, nil)

		id, err := producer.Enqueue(ctx, SearchRequest{Lat: 1, Lon: 1, Preference: "coffee"})
		if !errors.Is(err, apperrors.ErrPublish) {
			t.Errorf("got %v, want ErrPublish", err)
		}
		if id == "" {
			t.Fatal("expected request id even on failure")
		}
		got, found, _ := status.GetStatus(ctx, id)
		if !found || got != StatusError {
			t.Errorf("got status (%q, %v), want ERROR", got, found)
		}
		msg, found, _ := status.GetError(ctx, id)
		if !found || msg == "" {
			t.Errorf("expected stored error message, got (%q, %v)", msg, found)
		}
	})
}
