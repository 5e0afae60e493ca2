// Package api exposes the HTTP surface: submit a search, poll its status,
// and fetch the result once the pipeline completes it.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/placeflow/placeflow/internal/pipeline"
	"github.com/placeflow/placeflow/pkg/config"
	apperrors "github.com/placeflow/placeflow/pkg/errors"
	"github.com/placeflow/placeflow/pkg/logger"
)

// Handler serves the search API.
type Handler struct {
	producer         *pipeline.Producer
	status           *pipeline.StatusStore
	preferenceMaxLen int
	logger           *slog.Logger
}

// NewHandler creates the API handler.
func NewHandler(producer *pipeline.Producer, status *pipeline.StatusStore, cfg config.PipelineConfig) *Handler {
	return &Handler{
		producer:         producer,
		status:           status,
		preferenceMaxLen: cfg.PreferenceMaxLen,
		logger:           slog.Default().With("component", "api"),
	}
}

// Register wires the routes onto the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/searches", h.Submit)
	mux.HandleFunc("GET /api/v1/searches/{id}", h.Get)
}

// Submit accepts a search request and enqueues it. The response is 202 with
// the request id; even when enqueueing fails internally the id is returned,
// since a terminal ERROR status is already stored under it and the client
// polls the same way.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if verr := validateSubmit(req, h.preferenceMaxLen); verr != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": verr.Fields,
		})
		return
	}

	requestID, err := h.producer.Enqueue(r.Context(), pipeline.SearchRequest{
		Lat:        *req.Lat,
		Lon:        *req.Lon,
		RadiusKm:   req.RadiusKm,
		Preference: req.Preference,
	})
	if err != nil {
		logger.FromContext(r.Context()).Error("enqueue failed", "request_id", requestID, "error", err)
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"request_id": requestID,
		"status":     string(pipeline.StatusProcessing),
	})
}

// getResponse is the polling response. Result is raw JSON straight from the
// result store; Error carries the stored message for failed requests.
type getResponse struct {
	RequestID string          `json:"request_id"`
	Status    string          `json:"status"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Get reports the request's status and, once DONE or ERROR, its result or
// error message. Unknown and expired ids both read as 404.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	requestID := r.PathValue("id")
	ctx := r.Context()

	status, found, err := h.status.GetStatus(ctx, requestID)
	if err != nil {
		h.logger.Error("status read failed", "request_id", requestID, "error", err)
		writeAppError(w, apperrors.New(apperrors.ErrInternal, http.StatusInternalServerError, "could not read request status"))
		return
	}
	if !found {
		writeAppError(w, apperrors.New(apperrors.ErrRequestNotFound, http.StatusNotFound, "request not found or expired"))
		return
	}

	resp := getResponse{RequestID: requestID, Status: string(status)}
	switch status {
	case pipeline.StatusDone:
		resp.Result = h.loadResult(ctx, requestID)
	case pipeline.StatusError:
		if msg, ok, err := h.status.GetError(ctx, requestID); err == nil && ok {
			resp.Error = msg
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// loadResult fetches the stored result for a DONE request. A missing or
// unparseable result degrades to null rather than failing the poll.
func (h *Handler) loadResult(ctx context.Context, requestID string) json.RawMessage {
	raw, found, err := h.status.GetResult(ctx, requestID)
	if err != nil || !found {
		h.logger.Warn("result missing for completed request", "request_id", requestID, "error", err)
		return nil
	}
	if !json.Valid([]byte(raw)) {
		h.logger.Warn("stored result is not valid JSON", "request_id", requestID)
		return nil
	}
	return json.RawMessage(raw)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Default().Error("encoding response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeAppError(w http.ResponseWriter, err *apperrors.AppError) {
	writeJSON(w, apperrors.HTTPStatusCode(err), map[string]string{"error": err.Message})
}
