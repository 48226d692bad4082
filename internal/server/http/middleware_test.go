package httpserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paper-acquisition-service/internal/observability"
)

func TestRequestIDMiddleware(t *testing.T) {
	newRouter := func(captured *string) chi.Router {
		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(requestIDMiddleware)
		r.Get("/test", func(w http.ResponseWriter, r *http.Request) {
			*captured = observability.RequestIDFromContext(r.Context())
			w.WriteHeader(http.StatusOK)
		})
		return r
	}

	t.Run("uses correlation header", func(t *testing.T) {
		var captured string
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set(headerCorrelationID, "corr-123")
		rr := httptest.NewRecorder()
		newRouter(&captured).ServeHTTP(rr, req)

		assert.Equal(t, "corr-123", captured)
		assert.Equal(t, "corr-123", rr.Header().Get(headerRequestID))
	})

	t.Run("falls back to chi request id", func(t *testing.T) {
		var captured string
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set(middleware.RequestIDHeader, "upstream-req")
		rr := httptest.NewRecorder()
		newRouter(&captured).ServeHTTP(rr, req)

		assert.Equal(t, "upstream-req", captured)
		assert.Equal(t, "upstream-req", rr.Header().Get(headerRequestID))
	})

	t.Run("generates when absent", func(t *testing.T) {
		var captured string
		r := chi.NewRouter()
		r.Use(requestIDMiddleware)
		r.Get("/test", func(w http.ResponseWriter, r *http.Request) {
			captured = observability.RequestIDFromContext(r.Context())
		})
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/test", nil))

		require.NotEmpty(t, captured)
		assert.Len(t, captured, 36)
		assert.Equal(t, captured, rr.Header().Get(headerRequestID))
	})
}

func TestRequestLogMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(requestLogMiddleware(logger))
	r.Get("/teapot", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	})
	r.Get("/boom", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	req := httptest.NewRequest(http.MethodGet, "/teapot", nil)
	req.Header.Set(headerCorrelationID, "req-1")
	r.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "http request", entry["message"])
	assert.Equal(t, "req-1", entry["request_id"])
	assert.Equal(t, "GET", entry["method"])
	assert.Equal(t, "/teapot", entry["path"])
	assert.EqualValues(t, http.StatusTeapot, entry["status"])
	assert.EqualValues(t, len("short and stout"), entry["bytes"])

	buf.Reset()
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "error", entry["level"])
}

func TestJSONContentTypeMiddleware(t *testing.T) {
	r := chi.NewRouter()
	r.Use(jsonContentTypeMiddleware)
	r.Get("/test", func(w http.ResponseWriter, r *http.Request) {})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
}

func TestRecovererReturns500(t *testing.T) {
	s := newTestServer(Dependencies{})
	s.deps.Resolver = nil

	// The nil resolver panics inside the handler.
	rr := doRequest(t, s, http.MethodPost, "/api/v1/availability", map[string]any{"dois": []string{"10.1/a"}})
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}
