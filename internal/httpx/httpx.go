// Package httpx contains the HTTP delivery layer (net/http handlers) for docvault.
// It maps JSON requests to the application service while enforcing body size
// limits, per-request deadlines, security headers, and error translation.
// Handlers are split across files (documents.go, health.go, errors.go).
package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// ServicePort abstracts the subset of app.Service used by the HTTP layer.
// It is satisfied by *app.Service in production and mocked in tests.
type ServicePort interface {
	StoreDocument(ctx context.Context, key, doc string) error
	FetchDocument(ctx context.Context, key string) (doc string, found bool, err error)
}

// Handler wires HTTP endpoints to the application service.
// It is safe for concurrent use. Zero-value is not valid; construct via New.
type Handler struct {
	Service   ServicePort
	MaxBody   int64                       // maximum request body size (0 disables the limit)
	Timeout   time.Duration               // per-request deadline (0 disables)
	Readiness func(context.Context) error // optional readiness probe
	Metrics   http.Handler                // optional, mounted at GET /metrics
	Logger    *slog.Logger                // nil => slog.Default()
}

// New returns a configured Handler.
// svc: application service port implementation.
// maxBody: maximum allowed request body size (0 disables the check).
// readiness: optional probe function for /readyz (nil => always ready).
func New(svc ServicePort, maxBody int64, readiness func(context.Context) error) *Handler {
	return &Handler{Service: svc, MaxBody: maxBody, Readiness: readiness}
}

// Router constructs and returns an http.Handler with all routes mounted and
// the middleware chain applied: correlation ID, access log, security
// headers, then request deadline.
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/documents", h.handleStore)
	// Keys may span several path segments. Characters such as '?', '#' and
	// '%' must be percent-encoded by the client.
	mux.HandleFunc("GET /api/documents/{key...}", h.handleFetch)
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.HandleFunc("GET /readyz", h.handleReady)
	if h.Metrics != nil {
		mux.Handle("GET /metrics", h.Metrics)
	}
	var next http.Handler = mux
	next = h.withTimeout(next)
	next = h.secureHeaders(next)
	next = h.accessLog(next)
	return CorrelationIDMiddleware(next)
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}
