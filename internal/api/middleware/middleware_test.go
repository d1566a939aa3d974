package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metricafm/metrica-cms/internal/api/openapi"
)

func TestRecovery_PanicBecomesEnvelope(t *testing.T) {
	h := Recovery(testLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/pages/home", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "INTERNAL_ERROR", body["error"].(map[string]any)["code"])
	assert.NotContains(t, rec.Body.String(), "boom")
}

func TestRequestLogger_LevelByStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "INFO"},
		{http.StatusNotFound, "WARN"},
		{http.StatusBadGateway, "ERROR"},
	}
	for _, tt := range tests {
		buf.Reset()
		h := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tt.status)
			_, _ = w.Write([]byte("hola"))
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, tt.level, entry["level"], "статус %d", tt.status)
		assert.EqualValues(t, tt.status, entry["status"])
		assert.EqualValues(t, 4, entry["bytes"])
	}
}

func TestRequestLogger_ProbesAndRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(RequestLogger(logger))
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/api/pages/{slug}", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health/live", nil))
	var probe map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &probe))
	assert.Equal(t, "DEBUG", probe["level"])

	buf.Reset()
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/pages/home", nil))
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "/api/pages/{slug}", entry["route"])
	assert.NotEmpty(t, entry["request_id"])
}

func TestMetricsMiddleware_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(MetricsMiddleware())
	r.Get("/api/pages/{slug}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	counter := httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/pages/{slug}", "200")
	before := testutil.ToFloat64(counter)

	for _, slug := range []string{"home", "blog", "iso"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/pages/"+slug, nil))
	}

	assert.InDelta(t, before+3, testutil.ToFloat64(counter), 0.001)
}

func newTestValidator(t *testing.T) http.Handler {
	t.Helper()
	doc, err := openapi.Load(context.Background())
	require.NoError(t, err)
	v, err := NewRequestValidator(doc, testLogger())
	require.NoError(t, err)
	return v.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
}

func TestRequestValidator(t *testing.T) {
	h := newTestValidator(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"страница с content", http.MethodPut, "/api/admin/pages/home", `{"content":{"hero":{}}}`, http.StatusNoContent},
		{"страница без content", http.MethodPut, "/api/admin/pages/home", `{"data":{}}`, http.StatusBadRequest},
		{"content не объект", http.MethodPut, "/api/admin/pages/home", `{"content":"x"}`, http.StatusBadRequest},
		{"неизвестный slug проходит дальше", http.MethodGet, "/api/admin/pages/nope", ``, http.StatusNoContent},
		{"reorder без elements", http.MethodPatch, "/api/admin/dynamic-elements/pillars", `{"action":"reorder"}`, http.StatusBadRequest},
		{"неизвестное действие меню", http.MethodPatch, "/api/admin/megamenu", `{"action":"explode"}`, http.StatusBadRequest},
		{"track_click", http.MethodPatch, "/api/admin/megamenu", `{"action":"track_click","item_id":"services"}`, http.StatusNoContent},
		{"фильтр уведомлений", http.MethodGet, "/api/admin/notifications?status=deleted", ``, http.StatusBadRequest},
		{"путь вне документа", http.MethodGet, "/api/health", ``, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			if tt.body != "" {
				req.Header.Set("Content-Type", "application/json")
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code, "тело: %s", rec.Body.String())
		})
	}
}

func TestRequestValidator_BodyStillReadable(t *testing.T) {
	doc, err := openapi.Load(context.Background())
	require.NoError(t, err)
	v, err := NewRequestValidator(doc, testLogger())
	require.NoError(t, err)

	var got map[string]any
	h := v.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/admin/notifications", strings.NewReader(`{"title":"t","message":"m"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "t", got["title"])
}
