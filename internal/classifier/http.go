package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/placeflow/placeflow/pkg/config"
	apperrors "github.com/placeflow/placeflow/pkg/errors"
	"github.com/placeflow/placeflow/pkg/resilience"
)

// HTTP calls an external classification endpoint that selects matching tags
// from the supplied vocabulary. Calls routinely take seconds, which is why
// classification runs off the request thread. The circuit breaker turns a
// misbehaving endpoint into fast failures so the keyword fallback takes over
// immediately.
type HTTP struct {
	endpoint   string
	vocabulary []string
	client     *http.Client
	breaker    *resilience.CircuitBreaker
	logger     *slog.Logger
}

// NewHTTP creates an HTTP classifier from config. The caller is expected to
// only construct one when an endpoint is configured.
func NewHTTP(cfg config.ClassifierConfig, vocabulary []string) *HTTP {
	if len(vocabulary) == 0 {
		vocabulary = DefaultVocabulary
	}
	return &HTTP{
		endpoint:   cfg.Endpoint,
		vocabulary: vocabulary,
		client:     &http.Client{Timeout: cfg.Timeout},
		breaker: resilience.NewCircuitBreaker("classifier", resilience.CircuitBreakerConfig{
			FailureThreshold: cfg.FailureThreshold,
			ResetTimeout:     cfg.ResetTimeout,
		}),
		logger: slog.Default().With("component", "http-classifier"),
	}
}

type classifyRequest struct {
	Text string   `json:"text"`
	Tags []string `json:"tags"`
}

type classifyResponse struct {
	Tags []string `json:"tags"`
}

// Classify posts the text and vocabulary to the endpoint and returns the
// matching subset. Tags outside the vocabulary are discarded.
func (h *HTTP) Classify(ctx context.Context, text string) ([]string, error) {
	var tags []string
	err := h.breaker.Execute(func() error {
		body, err := json.Marshal(classifyRequest{Text: text, Tags: h.vocabulary})
		if err != nil {
			return fmt.Errorf("encoding classify request: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("building classify request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := h.client.Do(req)
		if err != nil {
			return fmt.Errorf("calling classifier: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("classifier returned status %d", resp.StatusCode)
		}
		var out classifyResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("decoding classify response: %w", err)
		}
		tags = h.filterToVocabulary(out.Tags)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrClassifier, err)
	}
	return tags, nil
}

func (h *HTTP) filterToVocabulary(tags []string) []string {
	known := make(map[string]struct{}, len(h.vocabulary))
	for _, tag := range h.vocabulary {
		known[tag] = struct{}{}
	}
	var out []string
	for _, tag := range tags {
		if _, ok := known[tag]; ok {
			out = append(out, tag)
		} else {
			h.logger.Debug("discarding tag outside vocabulary", "tag", tag)
		}
	}
	return out
}
