package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

type storeRequest struct {
	Key      string `json:"key"`
	Document string `json:"document"`
}

type storeResponse struct {
	Accepted bool   `json:"accepted"`
	Message  string `json:"message"`
}

type fetchResponse struct {
	Found    bool   `json:"found"`
	Document string `json:"document,omitempty"`
	Message  string `json:"message,omitempty"`
}

// handleStore implements POST /api/documents.
func (h *Handler) handleStore(w http.ResponseWriter, r *http.Request) {
	body := r.Body
	if h.MaxBody > 0 {
		body = http.MaxBytesReader(w, r.Body, h.MaxBody)
	}
	defer body.Close()

	var req storeRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, storeResponse{Message: "request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, storeResponse{Message: "invalid request body"})
		return
	}

	if err := h.Service.StoreDocument(r.Context(), req.Key, req.Document); err != nil {
		code, msg := h.classifyServiceError(r.Context(), "store", err)
		writeJSON(w, code, storeResponse{Message: msg})
		return
	}
	writeJSON(w, http.StatusOK, storeResponse{
		Accepted: true,
		Message:  fmt.Sprintf("document stored for key: %s", req.Key),
	})
}

// handleFetch implements GET /api/documents/{key}.
func (h *Handler) handleFetch(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	doc, found, err := h.Service.FetchDocument(r.Context(), key)
	if err != nil {
		code, msg := h.classifyServiceError(r.Context(), "fetch", err)
		writeJSON(w, code, fetchResponse{Message: msg})
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, fetchResponse{
			Message: fmt.Sprintf("no document found for key: %s", key),
		})
		return
	}
	writeJSON(w, http.StatusOK, fetchResponse{Found: true, Document: doc})
}
