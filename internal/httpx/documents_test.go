package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/docvault/internal/cipher"
	"github.com/haukened/docvault/internal/domain"
	"github.com/haukened/docvault/internal/store"
)

type mockService struct {
	storeFn func(ctx context.Context, key, doc string) error
	fetchFn func(ctx context.Context, key string) (string, bool, error)
}

func (m *mockService) StoreDocument(ctx context.Context, key, doc string) error {
	return m.storeFn(ctx, key, doc)
}

func (m *mockService) FetchDocument(ctx context.Context, key string) (string, bool, error) {
	return m.fetchFn(ctx, key)
}

func newTestRouter(svc ServicePort, logBuf *bytes.Buffer) http.Handler {
	h := New(svc, 256, nil)
	if logBuf != nil {
		h.Logger = slog.New(slog.NewJSONHandler(logBuf, nil))
	} else {
		h.Logger = slog.New(slog.DiscardHandler)
	}
	return h.Router()
}

func doJSON(t *testing.T, router http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rw := httptest.NewRecorder()
	router.ServeHTTP(rw, req)
	var decoded map[string]any
	if rw.Body.Len() > 0 && strings.HasPrefix(rw.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &decoded))
	}
	return rw, decoded
}

func TestHandleStoreSuccess(t *testing.T) {
	var gotKey, gotDoc string
	svc := &mockService{storeFn: func(_ context.Context, key, doc string) error {
		gotKey, gotDoc = key, doc
		return nil
	}}
	rw, body := doJSON(t, newTestRouter(svc, nil), http.MethodPost, "/api/documents", `{"key":"alice","document":"{\"day\":\"mon\"}"}`)

	assert.Equal(t, http.StatusOK, rw.Code)
	assert.Equal(t, "alice", gotKey)
	assert.Equal(t, `{"day":"mon"}`, gotDoc)
	assert.Equal(t, true, body["accepted"])
	assert.Equal(t, "document stored for key: alice", body["message"])
}

func TestHandleStoreRejectsInvalidInput(t *testing.T) {
	svc := &mockService{storeFn: func(context.Context, string, string) error {
		return &domain.InputError{Field: "key", Reason: "key cannot be empty"}
	}}
	rw, body := doJSON(t, newTestRouter(svc, nil), http.MethodPost, "/api/documents", `{"key":"","document":"{}"}`)

	assert.Equal(t, http.StatusBadRequest, rw.Code)
	assert.Equal(t, false, body["accepted"])
	assert.Equal(t, "key cannot be empty", body["message"])
}

func TestHandleStoreBadBodies(t *testing.T) {
	called := false
	svc := &mockService{storeFn: func(context.Context, string, string) error { called = true; return nil }}
	router := newTestRouter(svc, nil)

	tests := []struct {
		name string
		body string
		code int
		msg  string
	}{
		{name: "not json", body: "key=alice", code: http.StatusBadRequest, msg: "invalid request body"},
		{name: "document not a string", body: `{"key":"a","document":{"x":1}}`, code: http.StatusBadRequest, msg: "invalid request body"},
		{name: "empty body", body: "", code: http.StatusBadRequest, msg: "invalid request body"},
		{name: "too large", body: `{"key":"a","document":"` + strings.Repeat("x", 512) + `"}`, code: http.StatusRequestEntityTooLarge, msg: "request body too large"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rw, body := doJSON(t, router, http.MethodPost, "/api/documents", tc.body)
			assert.Equal(t, tc.code, rw.Code)
			assert.Equal(t, false, body["accepted"])
			assert.Equal(t, tc.msg, body["message"])
		})
	}
	assert.False(t, called, "service must not be called for undecodable bodies")
}

func TestServiceErrorsAreOpaque(t *testing.T) {
	failures := []error{
		cipher.ErrAuthenticationFailure,
		cipher.ErrMalformedInput,
		cipher.ErrNotInitialized,
		store.Wrap("put", errors.New("disk I/O error at /var/lib/docvault")),
	}
	for _, failure := range failures {
		t.Run(failure.Error(), func(t *testing.T) {
			var logs bytes.Buffer
			svc := &mockService{
				storeFn: func(context.Context, string, string) error { return failure },
				fetchFn: func(context.Context, string) (string, bool, error) { return "", false, failure },
			}
			router := newTestRouter(svc, &logs)

			rw, body := doJSON(t, router, http.MethodPost, "/api/documents", `{"key":"a","document":"{}"}`)
			assert.Equal(t, http.StatusInternalServerError, rw.Code)
			assert.Equal(t, false, body["accepted"])
			assert.Equal(t, internalErrorMessage, body["message"])
			assert.NotContains(t, rw.Body.String(), failure.Error())

			rw, body = doJSON(t, router, http.MethodGet, "/api/documents/a", "")
			assert.Equal(t, http.StatusInternalServerError, rw.Code)
			assert.Equal(t, false, body["found"])
			assert.Equal(t, internalErrorMessage, body["message"])

			// the cause is logged server side with the correlation ID
			assert.Contains(t, logs.String(), `"msg":"service error"`)
			assert.Contains(t, logs.String(), `"cid":"`)
		})
	}
}

func TestDeadlineExceededMapsTo503(t *testing.T) {
	svc := &mockService{storeFn: func(context.Context, string, string) error {
		return store.Wrap("put", context.DeadlineExceeded)
	}}
	rw, body := doJSON(t, newTestRouter(svc, nil), http.MethodPost, "/api/documents", `{"key":"a","document":"{}"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rw.Code)
	assert.Equal(t, "request timed out", body["message"])
}

func TestHandleFetch(t *testing.T) {
	docs := map[string]string{"alice": `{"day":"mon"}`, "alice smith": `[1]`, "team/alice": `[2]`}
	svc := &mockService{fetchFn: func(_ context.Context, key string) (string, bool, error) {
		if key == "" {
			return "", false, &domain.InputError{Field: "key", Reason: "key cannot be empty"}
		}
		d, ok := docs[key]
		return d, ok, nil
	}}
	router := newTestRouter(svc, nil)

	rw, body := doJSON(t, router, http.MethodGet, "/api/documents/alice", "")
	assert.Equal(t, http.StatusOK, rw.Code)
	assert.Equal(t, true, body["found"])
	assert.Equal(t, `{"day":"mon"}`, body["document"])
	assert.NotContains(t, body, "message")

	rw, body = doJSON(t, router, http.MethodGet, "/api/documents/alice%20smith", "")
	assert.Equal(t, http.StatusOK, rw.Code)
	assert.Equal(t, `[1]`, body["document"])

	for _, path := range []string{"/api/documents/team/alice", "/api/documents/team%2Falice"} {
		rw, body = doJSON(t, router, http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, rw.Code, path)
		assert.Equal(t, `[2]`, body["document"], path)
	}

	rw, body = doJSON(t, router, http.MethodGet, "/api/documents/bob", "")
	assert.Equal(t, http.StatusNotFound, rw.Code)
	assert.Equal(t, false, body["found"])
	assert.Equal(t, "no document found for key: bob", body["message"])
	assert.NotContains(t, body, "document")

	rw, body = doJSON(t, router, http.MethodGet, "/api/documents/", "")
	assert.Equal(t, http.StatusBadRequest, rw.Code)
	assert.Equal(t, false, body["found"])
	assert.Equal(t, "key cannot be empty", body["message"])
}

func TestRoutingMethods(t *testing.T) {
	svc := &mockService{
		storeFn: func(context.Context, string, string) error { return nil },
		fetchFn: func(context.Context, string) (string, bool, error) { return "", false, nil },
	}
	router := newTestRouter(svc, nil)
	tests := []struct {
		method, path string
		code         int
	}{
		{http.MethodGet, "/api/documents", http.StatusMovedPermanently}, // to the empty-key route
		{http.MethodPut, "/api/documents", http.StatusMethodNotAllowed},
		{http.MethodDelete, "/api/documents/alice", http.StatusMethodNotAllowed},
		{http.MethodGet, "/nope", http.StatusNotFound},
		{http.MethodGet, "/metrics", http.StatusNotFound}, // not mounted
	}
	for _, tc := range tests {
		t.Run(fmt.Sprintf("%s %s", tc.method, tc.path), func(t *testing.T) {
			rw := httptest.NewRecorder()
			router.ServeHTTP(rw, httptest.NewRequest(tc.method, tc.path, nil))
			assert.Equal(t, tc.code, rw.Code)
		})
	}
}

func TestMetricsMounted(t *testing.T) {
	h := New(&mockService{}, 0, nil)
	h.Logger = slog.New(slog.DiscardHandler)
	h.Metrics = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("metrics"))
	})
	rw := httptest.NewRecorder()
	h.Router().ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rw.Code)
	assert.Equal(t, "metrics", rw.Body.String())
	assert.NotEmpty(t, rw.Header().Get(CorrelationIDHeader))
}
