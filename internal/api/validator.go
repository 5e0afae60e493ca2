package api

import (
	"fmt"
	"strings"
)

// submitRequest is the external submission body. Lat and Lon are pointers so
// a missing coordinate is distinguishable from zero.
type submitRequest struct {
	Lat        *float64 `json:"lat"`
	Lon        *float64 `json:"lon"`
	RadiusKm   float64  `json:"radiusKm,omitempty"`
	Preference string   `json:"preference"`
}

// ValidationError carries per-field messages for a rejected submission.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, msg))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// validateSubmit checks a submission before it enters the pipeline.
// preferenceMaxLen bounds the free-text field; the pipeline truncates
// defensively but the API rejects outright.
func validateSubmit(req submitRequest, preferenceMaxLen int) *ValidationError {
	fields := make(map[string]string)
	if req.Lat == nil {
		fields["lat"] = "required"
	} else if *req.Lat < -90 || *req.Lat > 90 {
		fields["lat"] = "must be between -90 and 90"
	}
	if req.Lon == nil {
		fields["lon"] = "required"
	} else if *req.Lon < -180 || *req.Lon > 180 {
		fields["lon"] = "must be between -180 and 180"
	}
	if req.RadiusKm < 0 {
		fields["radiusKm"] = "must not be negative"
	}
	if preferenceMaxLen > 0 && len(req.Preference) > preferenceMaxLen {
		fields["preference"] = fmt.Sprintf("must be at most %d characters", preferenceMaxLen)
	}
	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: fields}
}
