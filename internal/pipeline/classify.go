package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/placeflow/placeflow/internal/classifier"
	"github.com/placeflow/placeflow/internal/events"
	"github.com/placeflow/placeflow/pkg/config"
	apperrors "github.com/placeflow/placeflow/pkg/errors"
	"github.com/placeflow/placeflow/pkg/metrics"
	"github.com/placeflow/placeflow/pkg/tracing"
)

// TagResolver maps one tag to the place ids carrying it.
type TagResolver interface {
	IDsForTag(ctx context.Context, tag string) ([]string, error)
}

const stageClassification = "classification"

// ClassifyStage turns a search request into a lookup request: classify the
// free-text preference into tags, resolve each tag to candidate place ids
// through the reverse index, and append the union onto the lookup topic.
//
// Classification itself cannot fail the request. If the primary classifier
// errors or yields nothing, the keyword fallback runs; if that also yields
// nothing, the lookup request goes out with no candidates and the lookup
// stage falls back to pure geo.
type ClassifyStage struct {
	broker          Broker
	status          *StatusStore
	lookupTopic     string
	primary         classifier.Classifier
	fallback        *classifier.Keyword
	resolver        TagResolver
	defaultRadiusKm float64
	maxLen          int
	metrics         *metrics.Metrics
	audit           *events.Collector
	logger          *slog.Logger
}

// NewClassifyStage creates the classification handler. primary, metrics, and
// audit may be nil; resolver may not.
func NewClassifyStage(broker Broker, status *StatusStore, cfg config.PipelineConfig, primary classifier.Classifier, resolver TagResolver, m *metrics.Metrics, audit *events.Collector) *ClassifyStage {
	return &ClassifyStage{
		broker:          broker,
		status:          status,
		lookupTopic:     cfg.LookupTopic,
		primary:         primary,
		fallback:        classifier.NewKeyword(nil),
		resolver:        resolver,
		defaultRadiusKm: cfg.DefaultRadiusKm,
		maxLen:          cfg.PreferenceMaxLen,
		metrics:         m,
		audit:           audit,
		logger:          slog.Default().With("component", "classify-stage"),
	}
}

func (c *ClassifyStage) Handle(ctx context.Context, requestID, payload string) error {
	var req SearchRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		c.fail(ctx, requestID, "could not decode search request")
		return fmt.Errorf("%w: decoding search request: %v", apperrors.ErrSerialization, err)
	}
	req.Preference = truncatePreference(req.Preference, c.maxLen)

	tags := c.classifyWithFallback(ctx, requestID, req.Preference)
	candidates, err := c.resolveCandidates(ctx, tags)
	if err != nil {
		c.fail(ctx, requestID, "could not resolve candidate places")
		return err
	}

	radius := req.RadiusKm
	if radius <= 0 {
		radius = c.defaultRadiusKm
	}
	next := LookupRequest{
		Lat:          req.Lat,
		Lon:          req.Lon,
		RadiusKm:     radius,
		CandidateIDs: candidates,
	}
	body, err := json.Marshal(next)
	if err != nil {
		c.fail(ctx, requestID, "could not serialize lookup request")
		return fmt.Errorf("%w: encoding lookup request: %v", apperrors.ErrSerialization, err)
	}
	if _, err := c.broker.Append(ctx, c.lookupTopic, recordFields(requestID, string(body))); err != nil {
		c.fail(ctx, requestID, "could not queue lookup request")
		return fmt.Errorf("%w: appending to %s: %v", apperrors.ErrPublish, c.lookupTopic, err)
	}

	c.audit.Track(events.StageCompleted(requestID, stageClassification))
	c.logger.Debug("classification completed",
		"request_id", requestID,
		"tags", tags,
		"candidates", len(candidates),
	)
	return nil
}

// classifyWithFallback runs the primary classifier and falls back to keyword
// matching when it errors or finds nothing. Never fails.
func (c *ClassifyStage) classifyWithFallback(ctx context.Context, requestID, text string) []string {
	if c.primary != nil {
		spanCtx, span := tracing.StartChildSpan(ctx, "classify-remote")
		tags, err := c.primary.Classify(spanCtx, text)
		span.SetAttr("tags", len(tags))
		span.End()
		if err == nil && len(tags) > 0 {
			return tags
		}
		if err != nil {
			c.logger.Warn("primary classifier failed, using keyword fallback",
				"request_id", requestID, "error", err)
		}
		if c.metrics != nil {
			c.metrics.ClassifierFallbacksTotal.Inc()
		}
	}
	tags, _ := c.fallback.Classify(ctx, text)
	return tags
}

// resolveCandidates unions the id sets of every tag, deduplicated and sorted
// for deterministic downstream payloads.
func (c *ClassifyStage) resolveCandidates(ctx context.Context, tags []string) ([]string, error) {
	seen := make(map[string]struct{})
	for _, tag := range tags {
		ids, err := c.resolver.IDsForTag(ctx, tag)
		if err != nil {
			return nil, fmt.Errorf("resolving tag %q: %w", tag, err)
		}
		for _, id := range ids {
			seen[id] = struct{}{}
		}
	}
	candidates := make([]string, 0, len(seen))
	for id := range seen {
		candidates = append(candidates, id)
	}
	sort.Strings(candidates)
	return candidates, nil
}

func (c *ClassifyStage) fail(ctx context.Context, requestID, message string) {
	if err := c.status.SetError(ctx, requestID, message); err != nil {
		c.logger.Error("failed to record stage error", "request_id", requestID, "error", err)
	}
	c.audit.Track(events.StageFailed(requestID, stageClassification, message))
}
