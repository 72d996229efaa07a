package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/haukened/docvault/internal/domain"
)

// internalErrorMessage is the only detail a client sees for cipher or storage failures.
const internalErrorMessage = "internal error"

// writeJSON writes v as a JSON body with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error body for non-document endpoints.
func (h *Handler) writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, struct {
		Error string `json:"error"`
	}{Error: msg})
}

// classifyServiceError maps a service error to a status code and a message
// that is safe to return. Invalid input carries its own caller-facing reason;
// everything else is logged with the correlation ID and reported opaquely.
func (h *Handler) classifyServiceError(ctx context.Context, op string, err error) (int, string) {
	cid, _ := GetCorrelationID(ctx)
	log := h.logger()
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		log.Info("request rejected", "cid", cid, "op", op, "reason", err.Error())
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		log.Warn("request timed out", "cid", cid, "op", op, "err", err)
		return http.StatusServiceUnavailable, "request timed out"
	default:
		log.Error("service error", "cid", cid, "op", op, "err", err)
		return http.StatusInternalServerError, internalErrorMessage
	}
}
