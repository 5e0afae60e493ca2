package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/placeflow/placeflow/internal/pipeline"
	"github.com/placeflow/placeflow/pkg/config"
)

type stubBroker struct {
	mu        sync.Mutex
	appended  int
	appendErr error
}

func (b *stubBroker) Append(context.Context, string, map[string]string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.appendErr != nil {
		return "", b.appendErr
	}
	b.appended++
	return "1-0", nil
}

func (b *stubBroker) EnsureGroup(context.Context, string, string) error { return nil }

func (b *stubBroker) ReadGroup(context.Context, string, string, string, int64, time.Duration) ([]pipeline.Record, error) {
	return nil, nil
}

func (b *stubBroker) Ack(context.Context, string, string, ...string) error { return nil }

func (b *stubBroker) Delete(context.Context, string, ...string) error { return nil }

type stubKV struct {
	mu   sync.Mutex
	data map[string]string
}

func newStubKV() *stubKV { return &stubKV{data: make(map[string]string)} }

func (kv *stubKV) Get(_ context.Context, key string) (string, bool, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	v, ok := kv.data[key]
	return v, ok, nil
}

func (kv *stubKV) Set(_ context.Context, key, value string, _ time.Duration) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	kv.data[key] = value
	return nil
}

func newTestHandler(broker *stubBroker, kv *stubKV) *Handler {
	cfg := config.PipelineConfig{
		ClassificationTopic: "classification-requests",
		LookupTopic:         "lookup-requests",
		GroupName:           "test-workers",
		ResultTTL:           time.Minute,
		PreferenceMaxLen:    100,
	}
	status := pipeline.NewStatusStore(kv, cfg.ResultTTL, nil)
	producer := pipeline.NewProducer(broker, status, cfg, nil, nil)
	return NewHandler(producer, status, cfg)
}

func serve(h *Handler, req *http.Request) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestSubmit(t *testing.T) {
	t.Run("valid submission returns 202 with request id", func(t *testing.T) {
		broker := &stubBroker{}
		h := newTestHandler(broker, newStubKV())
		req := httptest.NewRequest(http.MethodPost, "/api/v1/searches",
			strings.NewReader(`{"lat":36.1,"lon":-115.2,"preference":"coffee"}`))
		rec := serve(h, req)

		if rec.Code != http.StatusAccepted {
			t.Fatalf("got %d, want 202: %s", rec.Code, rec.Body.String())
		}
		var body map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatal(err)
		}
		if body["request_id"] == "" {
			t.Error("missing request_id")
		}
		if body["status"] != "PROCESSING" {
			t.Errorf("got status %q", body["status"])
		}
		if broker.appended != 1 {
			t.Errorf("got %d appends, want 1", broker.appended)
		}
	})

	t.Run("missing coordinates are rejected", func(t *testing.T) {
		h := newTestHandler(&stubBroker{}, newStubKV())
		req := httptest.NewRequest(http.MethodPost, "/api/v1/searches",
			strings.NewReader(`{"preference":"coffee"}`))
		rec := serve(h, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("got %d, want 400", rec.Code)
		}
		var body struct {
			Fields map[string]string `json:"fields"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatal(err)
		}
		if body.Fields["lat"] == "" || body.Fields["lon"] == "" {
			t.Errorf("expected lat and lon errors, got %v", body.Fields)
		}
	})

	t.Run("out-of-range latitude rejected", func(t *testing.T) {
		h := newTestHandler(&stubBroker{}, newStubKV())
		req := httptest.NewRequest(http.MethodPost, "/api/v1/searches",
			strings.NewReader(`{"lat":95,"lon":0,"preference":"x"}`))
		if rec := serve(h, req); rec.Code != http.StatusBadRequest {
			t.Errorf("got %d, want 400", rec.Code)
		}
	})

	t.Run("invalid JSON rejected", func(t *testing.T) {
		h := newTestHandler(&stubBroker{}, newStubKV())
		req := httptest.NewRequest(http.MethodPost, "/api/v1/searches", strings.NewReader("{"))
		if rec := serve(h, req); rec.Code != http.StatusBadRequest {
			t.Errorf("got %d, want 400", rec.Code)
		}
	})

	t.Run("enqueue failure still returns 202 with the id", func(t *testing.T) {
		broker := &stubBroker{appendErr: errors.New("stream down")}
		h := newTestHandler(broker, newStubKV())
		req := httptest.NewRequest(http.MethodPost, "/api/v1/searches",
			strings.NewReader(`{"lat":1,"lon":1,"preference":"coffee"}`))
		rec := serve(h, req)

		if rec.Code != http.StatusAccepted {
			t.Fatalf("got %d, want 202", rec.Code)
		}
		var body map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatal(err)
		}
		if body["request_id"] == "" {
			t.Error("missing request_id despite enqueue failure")
		}
	})
}

func TestGet(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown id is 404", func(t *testing.T) {
		h := newTestHandler(&stubBroker{}, newStubKV())
		req := httptest.NewRequest(http.MethodGet, "/api/v1/searches/nope", nil)
		if rec := serve(h, req); rec.Code != http.StatusNotFound {
			t.Errorf("got %d, want 404", rec.Code)
		}
	})

	t.Run("processing request reports status only", func(t *testing.T) {
		kv := newStubKV()
		h := newTestHandler(&stubBroker{}, kv)
		status := pipeline.NewStatusStore(kv, time.Minute, nil)
		if err := status.MarkProcessing(ctx, "req-1"); err != nil {
			t.Fatal(err)
		}

		req := httptest.NewRequest(http.MethodGet, "/api/v1/searches/req-1", nil)
		rec := serve(h, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("got %d, want 200", rec.Code)
		}
		var body getResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatal(err)
		}
		if body.Status != "PROCESSING" || body.Result != nil || body.Error != "" {
			t.Errorf("unexpected body %+v", body)
		}
	})

	t.Run("done request includes the raw result", func(t *testing.T) {
		kv := newStubKV()
		h := newTestHandler(&stubBroker{}, kv)
		status := pipeline.NewStatusStore(kv, time.Minute, nil)
		if err := status.CompleteWithResult(ctx, "req-1", `{"records":[],"isRandom":true}`); err != nil {
			t.Fatal(err)
		}

		req := httptest.NewRequest(http.MethodGet, "/api/v1/searches/req-1", nil)
		rec := serve(h, req)
		var body getResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatal(err)
		}
		if body.Status != "DONE" {
			t.Errorf("got status %q", body.Status)
		}
		var result pipeline.SearchResult
		if err := json.Unmarshal(body.Result, &result); err != nil {
			t.Fatalf("result not valid JSON: %v", err)
		}
		if !result.IsRandom {
			t.Error("expected isRandom true")
		}
	})

	t.Run("failed request includes the error message", func(t *testing.T) {
		kv := newStubKV()
		h := newTestHandler(&stubBroker{}, kv)
		status := pipeline.NewStatusStore(kv, time.Minute, nil)
		if err := status.SetError(ctx, "req-1", "place lookup failed"); err != nil {
			t.Fatal(err)
		}

		req := httptest.NewRequest(http.MethodGet, "/api/v1/searches/req-1", nil)
		rec := serve(h, req)
		var body getResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatal(err)
		}
		if body.Status != "ERROR" || body.Error != "place lookup failed" {
			t.Errorf("unexpected body %+v", body)
		}
	})
}
