package pipeline

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/placeflow/placeflow/internal/place"
)

// TestPipelineEndToEnd runs the full flow on in-memory fakes: enqueue, both
// stages through the worker pool, and a DONE result in the status store.
func TestPipelineEndToEnd(t *testing.T) {
	cfg := testPipelineConfig()

	newRig := func(store place.Store, resolver TagResolver) (*memoryBroker, *StatusStore, *Producer, *Pipeline) {
		broker := newMemoryBroker()
		status := NewStatusStore(newMemoryKV(), time.Minute, nil)
		producer := NewProducer(broker, status, cfg, nil, nil)
		classify := NewClassifyStage(broker, status, cfg, nil, resolver, nil, nil)
		lookup := NewLookupStage(store, status, nil, nil)
		dispatcher := NewDispatcher(broker, cfg, classify, lookup, nil)
		return broker, status, producer, NewPipeline(broker, dispatcher, cfg)
	}

	waitForTerminal := func(t *testing.T, status *StatusStore, id string) Status {
		t.Helper()
		deadline := time.After(5 * time.Second)
		for {
			got, found, err := status.GetStatus(context.Background(), id)
			if err != nil {
				t.Fatal(err)
			}
			if found && got != StatusProcessing {
				return got
			}
			select {
			case <-deadline:
				t.Fatalf("request %s never reached a terminal status (last %q)", id, got)
			case <-time.After(5 * time.Millisecond):
			}
		}
	}

	t.Run("submission flows to a DONE ranked result", func(t *testing.T) {
		store := &fakeStore{
			byIDs: []place.Place{
				{ID: "A", Name: "Sunrise Coffee", DistanceKm: 0.4},
				{ID: "B", Name: "Desert Bean", DistanceKm: 1.2},
				{ID: "C", Name: "Morning Glory", DistanceKm: 2.0},
			},
			tags: map[string][]string{"A": {"cafe"}},
		}
		resolver := &fakeResolver{byTag: map[string][]string{"cafe": {"A", "B", "C"}}}
		broker, status, producer, pipe := newRig(store, resolver)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		if err := pipe.Start(ctx); err != nil {
			t.Fatalf("Start: %v", err)
		}
		defer pipe.Stop()

		id, err := producer.Enqueue(ctx, SearchRequest{Lat: 36.1, Lon: -115.2, Preference: "a good cafe"})
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		if got := waitForTerminal(t, status, id); got != StatusDone {
			msg, _, _ := status.GetError(ctx, id)
			t.Fatalf("got status %q (error %q), want DONE", got, msg)
		}

		raw, found, err := status.GetResult(ctx, id)
		if err != nil || !found {
			t.Fatalf("GetResult: found=%v err=%v", found, err)
		}
		var result SearchResult
		if err := json.Unmarshal([]byte(raw), &result); err != nil {
			t.Fatal(err)
		}
		if result.IsRandom {
			t.Error("tag-matched search must not be random")
		}
		if len(result.Records) != 3 {
			t.Errorf("got %d records, want 3", len(result.Records))
		}

		if broker.pendingCount(cfg.ClassificationTopic, cfg.GroupName) != 0 ||
			broker.pendingCount(cfg.LookupTopic, cfg.GroupName) != 0 {
			t.Error("all delivered records should be acknowledged")
		}
	})

	t.Run("no tag match degrades to a random DONE result", func(t *testing.T) {
		store := &fakeStore{random: []place.Place{{ID: "X", Name: "Canyon Trail Park"}}}
		_, status, producer, pipe := newRig(store, &fakeResolver{})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		if err := pipe.Start(ctx); err != nil {
			t.Fatal(err)
		}
		defer pipe.Stop()

		id, err := producer.Enqueue(ctx, SearchRequest{Lat: 1, Lon: 1, Preference: "zzz nothing matches"})
		if err != nil {
			t.Fatal(err)
		}
		if got := waitForTerminal(t, status, id); got != StatusDone {
			t.Fatalf("got status %q, want DONE", got)
		}
		raw, _, _ := status.GetResult(ctx, id)
		var result SearchResult
		if err := json.Unmarshal([]byte(raw), &result); err != nil {
			t.Fatal(err)
		}
		if !result.IsRandom {
			t.Error("fallback result must be marked random")
		}
	})

	t.Run("start is idempotent on group provisioning", func(t *testing.T) {
		broker, _, _, pipe := newRig(&fakeStore{}, &fakeResolver{})

		ctx, cancel := context.WithCancel(context.Background())
		if err := pipe.Start(ctx); err != nil {
			t.Fatal(err)
		}
		cancel()
		if err := pipe.Stop(); err != nil {
			t.Fatalf("Stop: %v", err)
		}

		pipe2 := NewPipeline(broker, NewDispatcher(broker, cfg, &recordingHandler{}, &recordingHandler{}, nil), cfg)
		ctx2, cancel2 := context.WithCancel(context.Background())
		defer cancel2()
		if err := pipe2.Start(ctx2); err != nil {
			t.Fatalf("second Start on same broker: %v", err)
		}
		if err := pipe2.Stop(); err != nil {
			t.Fatal(err)
		}
		if !broker.hasGroup(cfg.ClassificationTopic, cfg.GroupName) {
			t.Error("group should exist after restart")
		}
	})

	t.Run("stop before start is safe", func(t *testing.T) {
		_, _, _, pipe := newRig(&fakeStore{}, &fakeResolver{})
		if err := pipe.Stop(); err != nil {
			t.Fatalf("Stop without Start: %v", err)
		}
	})
}
