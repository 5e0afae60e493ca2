//go:build e2e

// Package e2e contains end-to-end tests that exercise the full stack:
// api → classification stream → lookup stream → result store, with real
// Redis, PostgreSQL, and Kafka.
//
// Prerequisites:
//   - Redis running
//   - PostgreSQL running and seeded (cmd/seed)
//   - Kafka running (audit topic)
//   - api and worker services running
//
// Run with:
//
//	go test -v -tags=e2e -timeout=120s ./test/e2e/...
package e2e

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

func apiURL() string {
	if v := os.Getenv("E2E_API_URL"); v != "" {
		return v
	}
	return "http://localhost:8080"
}

func TestHealth(t *testing.T) {
	for _, path := range []string{"/health/live", "/health/ready"} {
		resp, err := http.Get(apiURL() + path)
		if err != nil {
			t.Fatalf("%s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s returned %d", path, resp.StatusCode)
		}
	}
}

func TestSearchRoundTrip(t *testing.T) {
	body := strings.NewReader(`{"lat":36.101,"lon":-115.205,"radiusKm":5,"preference":"coffee shop"}`)
	resp, err := http.Post(apiURL()+"/api/v1/searches", "application/json", body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("submit returned %d", resp.StatusCode)
	}
	var submitted struct {
		RequestID string `json:"request_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&submitted); err != nil {
		t.Fatal(err)
	}
	if submitted.RequestID == "" {
		t.Fatal("no request id returned")
	}

	deadline := time.Now().Add(30 * time.Second)
	for {
		var polled struct {
			Status string          `json:"status"`
			Result json.RawMessage `json:"result"`
			Error  string          `json:"error"`
		}
		resp, err := http.Get(fmt.Sprintf("%s/api/v1/searches/%s", apiURL(), submitted.RequestID))
		if err != nil {
			t.Fatal(err)
		}
		err = json.NewDecoder(resp.Body).Decode(&polled)
		resp.Body.Close()
		if err != nil {
			t.Fatal(err)
		}
		switch polled.Status {
		case "DONE":
			if len(polled.Result) == 0 {
				t.Fatal("DONE without a result")
			}
			return
		case "ERROR":
			t.Fatalf("search failed: %s", polled.Error)
		}
		if time.Now().After(deadline) {
			t.Fatalf("search stuck in %q", polled.Status)
		}
		time.Sleep(500 * time.Millisecond)
	}
}
