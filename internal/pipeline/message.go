package pipeline

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	apperrors "github.com/placeflow/placeflow/pkg/errors"
)

// Stream field names shared by both topics.
const (
	fieldRequestID = "requestId"
	fieldPayload   = "payload"
	fieldCreatedAt = "createdAt"
)

// SearchRequest is the classification-stage payload: where the user is and
// what they asked for in free text.
type SearchRequest struct {
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	RadiusKm   float64 `json:"radiusKm,omitempty"`
	Preference string  `json:"preference"`
}

// LookupRequest is the lookup-stage payload built by the classification
// handler. An empty CandidateIDs means "no tag filter, pure geo fallback".
type LookupRequest struct {
	Lat          float64  `json:"lat"`
	Lon          float64  `json:"lon"`
	RadiusKm     float64  `json:"radiusKm"`
	CandidateIDs []string `json:"candidateIds"`
}

// ResultRecord is one place in the final result, in the external response
// shape.
type ResultRecord struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Lat        float64  `json:"lat"`
	Lon        float64  `json:"lon"`
	DistanceKm float64  `json:"distanceKm"`
	Tags       []string `json:"tags"`
}

// SearchResult is the terminal payload written to the result store. IsRandom
// marks a pure-geo fallback answer as opposed to a ranked one.
type SearchResult struct {
	Records  []ResultRecord `json:"records"`
	IsRandom bool           `json:"isRandom"`
}

// NormalizeField unwraps exactly one layer of double-JSON encoding: a value
// that arrives as the JSON string literal `"abc"` (quotes included) becomes
// the bare value abc. Bare values pass through unchanged, which makes the
// operation idempotent.
func NormalizeField(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		var unwrapped string
		if err := json.Unmarshal([]byte(s), &unwrapped); err == nil {
			return unwrapped
		}
	}
	return s
}

// recordFields builds the flat field map appended to a stream topic.
func recordFields(requestID, payload string) map[string]string {
	return map[string]string{
		fieldRequestID: requestID,
		fieldPayload:   payload,
		fieldCreatedAt: strconv.FormatInt(time.Now().UnixMilli(), 10),
	}
}

// ParseRecord extracts and normalizes requestId and payload from a delivered
// record. Both are required; a missing or empty field yields
// ErrMalformedMessage and the caller drops the record.
func ParseRecord(rec Record) (requestID, payload string, err error) {
	requestID = NormalizeField(rec.Fields[fieldRequestID])
	payload = NormalizeField(rec.Fields[fieldPayload])
	if strings.TrimSpace(requestID) == "" || payload == "" {
		return "", "", fmt.Errorf("%w: record %s is missing requestId or payload", apperrors.ErrMalformedMessage, rec.ID)
	}
	return requestID, payload, nil
}

// NewRequestID returns a fresh opaque request identifier.
func NewRequestID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		// Extremely unlikely; fall back to a time-derived id rather than fail
		// the enqueue.
		return strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return hex.EncodeToString(b[:])
}

// truncatePreference caps free-text preference length in bytes, defensively
// re-applied at every boundary that handles it. The cut backs off to a rune
// boundary so a multi-byte character is never split.
func truncatePreference(text string, maxLen int) string {
	if maxLen <= 0 || len(text) <= maxLen {
		return text
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
