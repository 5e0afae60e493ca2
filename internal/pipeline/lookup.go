package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/placeflow/placeflow/internal/events"
	"github.com/placeflow/placeflow/internal/place"
	apperrors "github.com/placeflow/placeflow/pkg/errors"
	"github.com/placeflow/placeflow/pkg/metrics"
	"github.com/placeflow/placeflow/pkg/tracing"
)

const stageLookup = "lookup"

// LookupStage is the terminal stage: query the place store, enrich with tags,
// and complete the request. Candidate ids from classification narrow the
// query; an empty candidate set degrades to a randomized pure-geo answer
// rather than an empty error.
type LookupStage struct {
	store   place.Store
	status  *StatusStore
	metrics *metrics.Metrics
	audit   *events.Collector
	logger  *slog.Logger
}

// NewLookupStage creates the lookup handler. metrics and audit may be nil.
func NewLookupStage(store place.Store, status *StatusStore, m *metrics.Metrics, audit *events.Collector) *LookupStage {
	return &LookupStage{
		store:   store,
		status:  status,
		metrics: m,
		audit:   audit,
		logger:  slog.Default().With("component", "lookup-stage"),
	}
}

func (l *LookupStage) Handle(ctx context.Context, requestID, payload string) error {
	var req LookupRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		l.fail(ctx, requestID, "could not decode lookup request")
		return fmt.Errorf("%w: decoding lookup request: %v", apperrors.ErrSerialization, err)
	}

	var (
		places   []place.Place
		isRandom bool
		err      error
	)
	queryCtx, span := tracing.StartChildSpan(ctx, "place-query")
	if len(req.CandidateIDs) > 0 {
		places, err = l.store.ByGeoAndIDs(queryCtx, req.Lat, req.Lon, req.RadiusKm, req.CandidateIDs)
	} else {
		isRandom = true
		places, err = l.store.RandomByGeo(queryCtx, req.Lat, req.Lon, req.RadiusKm)
	}
	span.SetAttr("records", len(places))
	span.End()
	if err != nil {
		l.fail(ctx, requestID, "place lookup failed")
		return fmt.Errorf("%w: %v", apperrors.ErrLookup, err)
	}

	result, err := l.buildResult(ctx, places, isRandom)
	if err != nil {
		l.fail(ctx, requestID, "place lookup failed")
		return fmt.Errorf("%w: %v", apperrors.ErrLookup, err)
	}
	body, err := json.Marshal(result)
	if err != nil {
		l.fail(ctx, requestID, "could not serialize search result")
		return fmt.Errorf("%w: encoding search result: %v", apperrors.ErrSerialization, err)
	}
	if err := l.status.CompleteWithResult(ctx, requestID, string(body)); err != nil {
		return fmt.Errorf("completing request %s: %w", requestID, err)
	}

	l.audit.Track(events.StageCompleted(requestID, stageLookup))
	l.logger.Debug("lookup completed",
		"request_id", requestID,
		"records", len(result.Records),
		"is_random", isRandom,
	)
	return nil
}

// buildResult converts store rows to the external result shape, enriched with
// each place's tags. The result is complete or the request fails; no partial
// answers.
func (l *LookupStage) buildResult(ctx context.Context, places []place.Place, isRandom bool) (SearchResult, error) {
	ids := make([]string, len(places))
	for i, p := range places {
		ids[i] = p.ID
	}
	tags, err := l.store.TagsFor(ctx, ids)
	if err != nil {
		return SearchResult{}, fmt.Errorf("loading tags: %w", err)
	}

	records := make([]ResultRecord, len(places))
	for i, p := range places {
		records[i] = ResultRecord{
			ID:         p.ID,
			Name:       p.Name,
			Lat:        p.Lat,
			Lon:        p.Lon,
			DistanceKm: p.DistanceKm,
			Tags:       tags[p.ID],
		}
	}
	return SearchResult{Records: records, IsRandom: isRandom}, nil
}

func (l *LookupStage) fail(ctx context.Context, requestID, message string) {
	if err := l.status.SetError(ctx, requestID, message); err != nil {
		l.logger.Error("failed to record stage error", "request_id", requestID, "error", err)
	}
	l.audit.Track(events.StageFailed(requestID, stageLookup, message))
}
