package events

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Handler serves the audit stats HTTP API.
type Handler struct {
	aggregator *Aggregator
}

func NewHandler(aggregator *Aggregator) *Handler {
	return &Handler{aggregator: aggregator}
}

// Stats returns the current aggregate snapshot.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.aggregator.Stats()); err != nil {
		slog.Default().Error("encoding audit stats failed", "error", err)
	}
}
