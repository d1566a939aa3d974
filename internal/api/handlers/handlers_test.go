package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metricafm/metrica-cms/internal/broadcast"
	"github.com/metricafm/metrica-cms/internal/repository"
	"github.com/metricafm/metrica-cms/internal/service"
	"github.com/metricafm/metrica-cms/internal/storage/mirror"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// handlerEnv: сервисный слой поверх SQLite в памяти и маршрутизатор chi.
type handlerEnv struct {
	bus      *broadcast.Bus
	mediaDir string
	api      *APIHandler
	router   http.Handler
}

func newHandlerEnv(t *testing.T) *handlerEnv {
	t.Helper()
	ctx := context.Background()
	logger := testLogger()

	store, err := repository.NewSQLiteStore(ctx, ":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	content, err := mirror.New(t.TempDir())
	require.NoError(t, err)
	adminData, err := mirror.New(t.TempDir())
	require.NoError(t, err)
	defaults, err := service.LoadPageDefaults()
	require.NoError(t, err)

	bus := broadcast.New(logger)
	t.Cleanup(bus.Close)

	cache := service.NewCacheService(64, time.Minute, logger)
	inv := service.NewInvalidationService(bus, store, logger)
	pages := service.NewPageService(store, content, cache, inv, defaults, logger)

	megamenu, err := service.NewMegamenuService(store, content, inv, logger)
	require.NoError(t, err)
	previews, err := service.NewPreviewService(t.TempDir(), "http://localhost:3000", service.DefaultPreviewTTL, logger)
	require.NoError(t, err)

	mediaDir := t.TempDir()
	downloads, err := service.NewDownloadService(mediaDir, "секрет-для-тестов-скачивания-32б", 15*time.Minute, logger)
	require.NoError(t, err)

	notifications := service.NewNotificationService(adminData, logger)

	api := NewAPIHandler(Services{
		Pages:         pages,
		Megamenu:      megamenu,
		Previews:      previews,
		Notifications: notifications,
		Users:         service.NewUserService(adminData, logger),
		Reports:       service.NewReportService(adminData, notifications, logger),
		Downloads:     downloads,
		Proxy:         service.NewProxyService(http.DefaultClient, []string{"storage.googleapis.com"}, 5*time.Second, logger),
		Activity:      inv,
	}, PublicConfig{RecaptchaSiteKey: "site-key", Environment: "development", Version: "test"}, logger)

	env := &handlerEnv{bus: bus, mediaDir: mediaDir, api: api}
	env.router = testRouter(api)
	return env
}

// testRouter монтирует обработчики без middleware аутентификации.
func testRouter(h *APIHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/api/pages/{slug}", h.GetPublicPage)
	r.Get("/api/config/public", h.GetPublicConfig)
	r.Post("/api/megamenu/click", h.TrackMegamenuClick)
	r.Post("/api/whistleblower/reports", h.SubmitReport)
	r.Get("/api/whistleblower/reports/{code}", h.GetReportByCode)
	r.Get("/api/downloads/{token}", h.Download)
	r.Get("/api/proxy/pdf", h.ProxyPDF)
	r.Get("/preview/{previewId}", h.PreviewPage)

	r.Route("/api/admin", func(r chi.Router) {
		r.Post("/pages/preview", h.CreatePreview)
		r.Get("/pages/preview/{previewId}", h.GetPreview)
		r.Get("/pages/{slug}", h.GetAdminPage)
		r.Put("/pages/{slug}", h.PutAdminPage)
		r.Patch("/pages/{slug}", h.PatchAdminPage)
		r.Get("/dynamic-elements/{type}", h.ListElements)
		r.Post("/dynamic-elements/{type}", h.CreateElement)
		r.Patch("/dynamic-elements/{type}", h.ReorderElements)
		r.Put("/dynamic-elements/{type}/{id}", h.UpdateElement)
		r.Delete("/dynamic-elements/{type}/{id}", h.DeleteElement)
		r.Get("/megamenu", h.GetMegamenu)
		r.Post("/megamenu", h.CreateMegamenuItem)
		r.Patch("/megamenu", h.PatchMegamenu)
		r.Delete("/megamenu/{id}", h.DeleteMegamenuItem)
		r.Get("/notifications", h.ListNotifications)
		r.Get("/reports", h.ListReports)
		r.Patch("/reports/{id}", h.UpdateReportStatus)
		r.Post("/users", h.CreateUser)
		r.Get("/users", h.ListUsers)
		r.Post("/downloads/token", h.IssueDownloadToken)
		r.Get("/activity", h.ListActivity)
	})
	return r
}

// do выполняет запрос; body сериализуется в JSON, если не nil.
func (e *handlerEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			rd = bytes.NewBufferString(b)
		default:
			data, err := json.Marshal(b)
			require.NoError(t, err)
			rd = bytes.NewReader(data)
		}
	}
	req := httptest.NewRequest(method, path, rd)
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// envelope разбирает ответ в общий конверт.
func envelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), "тело: %s", rec.Body.String())
	return body
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	e, _ := envelope(t, rec)["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func TestPages_PutThenGet(t *testing.T) {
	env := newHandlerEnv(t)

	rec := env.do(t, http.MethodPut, "/api/admin/pages/home", map[string]any{
		"content": map[string]any{"hero": map[string]any{"title": "Métrica FM"}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := envelope(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, map[string]any{"slug": "home", "version": 1.0}, body["data"])
	assert.Equal(t, []any{"firestore", "json"}, body["sources"])
	assert.Equal(t, "in_sync", body["reconciliation"])

	rec = env.do(t, http.MethodGet, "/api/admin/pages/home", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = envelope(t, rec)
	assert.Equal(t, "firestore", body["source"])
	hero := body["data"].(map[string]any)["hero"].(map[string]any)
	assert.Equal(t, "Métrica FM", hero["title"])

	rec = env.do(t, http.MethodPatch, "/api/admin/pages/home", map[string]any{
		"content": map[string]any{"cta": map[string]any{"label": "Contacto"}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 2, envelope(t, rec)["data"].(map[string]any)["version"])
}

func TestPages_NotFoundAndValidation(t *testing.T) {
	env := newHandlerEnv(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"неизвестный slug", http.MethodGet, "/api/admin/pages/desconocido", nil, http.StatusNotFound, "NOT_FOUND"},
		{"страница не сохранена", http.MethodGet, "/api/admin/pages/blog", nil, http.StatusNotFound, "NOT_FOUND"},
		{"запись неизвестного slug", http.MethodPut, "/api/admin/pages/desconocido", map[string]any{"content": map[string]any{}}, http.StatusNotFound, "NOT_FOUND"},
		{"битый JSON", http.MethodPut, "/api/admin/pages/home", "{", http.StatusBadRequest, "VALIDATION_ERROR"},
		{"без content", http.MethodPut, "/api/admin/pages/home", map[string]any{"data": 1}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"массив без id", http.MethodPut, "/api/admin/pages/compromiso", map[string]any{"content": map[string]any{"pillars": []any{map[string]any{"title": "x"}}}}, http.StatusBadRequest, "VALIDATION_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, errorCode(t, rec))
		})
	}
}

func TestPages_PublicFallsBackToDefaults(t *testing.T) {
	env := newHandlerEnv(t)

	rec := env.do(t, http.MethodGet, "/api/pages/careers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "default", envelope(t, rec)["source"])

	rec = env.do(t, http.MethodGet, "/api/pages/desconocido", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDynamicElements_PillarsScenario(t *testing.T) {
	env := newHandlerEnv(t)
	rec := env.do(t, http.MethodPut, "/api/admin/pages/compromiso", map[string]any{
		"content": map[string]any{"pillars": []any{}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/admin/dynamic-elements/pillars", map[string]any{"id": "planning", "title": "X"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	el := envelope(t, rec)["data"].(map[string]any)
	assert.EqualValues(t, 1, el["order"])
	assert.Equal(t, true, el["enabled"])

	rec = env.do(t, http.MethodDelete, "/api/admin/dynamic-elements/pillars/planning", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/admin/dynamic-elements/pillars", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, envelope(t, rec)["data"])

	for _, id := range []string{"a", "b", "c"} {
		rec = env.do(t, http.MethodPost, "/api/admin/dynamic-elements/pillars", map[string]any{"id": id, "title": id})
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	rec = env.do(t, http.MethodDelete, "/api/admin/dynamic-elements/pillars/a", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPatch, "/api/admin/dynamic-elements/pillars", map[string]any{
		"action":   "reorder",
		"elements": []any{map[string]any{"id": "c"}, map[string]any{"id": "b"}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	list := envelope(t, rec)["data"].([]any)
	require.Len(t, list, 2)
	assert.Equal(t, "c", list[0].(map[string]any)["id"])
	assert.EqualValues(t, 1, list[0].(map[string]any)["order"])
	assert.EqualValues(t, 2, list[1].(map[string]any)["order"])
}

func TestDynamicElements_Errors(t *testing.T) {
	env := newHandlerEnv(t)

	rec := env.do(t, http.MethodGet, "/api/admin/dynamic-elements/desconocido", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/admin/dynamic-elements/statistics", map[string]any{"title": "Proyectos"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "без value")

	rec = env.do(t, http.MethodPatch, "/api/admin/dynamic-elements/pillars", map[string]any{"action": "shuffle"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/admin/dynamic-elements/pillars/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMegamenu_TrackClickTwice(t *testing.T) {
	env := newHandlerEnv(t)

	rec := env.do(t, http.MethodGet, "/api/admin/megamenu", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	before := envelope(t, rec)["data"].(map[string]any)["analytics"].(map[string]any)["total_clicks"].(float64)

	var analytics map[string]any
	for range 2 {
		rec = env.do(t, http.MethodPatch, "/api/admin/megamenu", map[string]any{"action": "track_click", "item_id": "services"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		analytics = envelope(t, rec)["data"].(map[string]any)["analytics"].(map[string]any)
	}

	assert.InDelta(t, before+2, analytics["total_clicks"].(float64), 0.001)
	var services map[string]any
	for _, l := range analytics["popular_links"].([]any) {
		if link := l.(map[string]any); link["item_id"] == "services" {
			services = link
		}
	}
	require.NotNil(t, services)
	assert.EqualValues(t, 2, services["clicks"])

	rec = env.do(t, http.MethodPost, "/api/megamenu/click", map[string]any{"item_id": "services"})
	require.Equal(t, http.StatusOK, rec.Code)
	analytics = envelope(t, rec)["data"].(map[string]any)["analytics"].(map[string]any)
	assert.InDelta(t, before+3, analytics["total_clicks"].(float64), 0.001)
}

func TestMegamenu_PatchActions(t *testing.T) {
	env := newHandlerEnv(t)

	rec := env.do(t, http.MethodPost, "/api/admin/megamenu", map[string]any{
		"label": "Prensa", "type": "link", "href": "/prensa",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	item := envelope(t, rec)["data"].(map[string]any)
	assert.Equal(t, "prensa", item["id"])
	assert.Equal(t, true, item["enabled"])

	rec = env.do(t, http.MethodPatch, "/api/admin/megamenu", map[string]any{"action": "toggle", "item_id": "prensa", "enabled": false})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, false, envelope(t, rec)["data"].(map[string]any)["enabled"])

	rec = env.do(t, http.MethodPatch, "/api/admin/megamenu", map[string]any{"action": "toggle", "item_id": "prensa"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "toggle без enabled")

	rec = env.do(t, http.MethodPatch, "/api/admin/megamenu", map[string]any{"action": "track_click"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "track_click без item_id")

	rec = env.do(t, http.MethodPatch, "/api/admin/megamenu", map[string]any{"action": "track_click", "item_id": "nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPatch, "/api/admin/megamenu", map[string]any{"action": "reorder", "items": []string{"prensa"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "неполный список id")

	rec = env.do(t, http.MethodDelete, "/api/admin/megamenu/prensa", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestPreview_CreateReadRender(t *testing.T) {
	env := newHandlerEnv(t)

	rec := env.do(t, http.MethodPost, "/api/admin/pages/preview", map[string]any{
		"component": "home",
		"data":      map[string]any{"hero": map[string]any{"title": "Borrador"}},
		"timestamp": 1700000000000,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	ref := envelope(t, rec)["data"].(map[string]any)
	id := ref["previewId"].(string)
	assert.Equal(t, "http://localhost:3000/preview/"+id, ref["previewUrl"])
	assert.NotEmpty(t, ref["expiresAt"])

	rec = env.do(t, http.MethodGet, "/api/admin/pages/preview/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "home", envelope(t, rec)["data"].(map[string]any)["component"])

	rec = env.do(t, http.MethodGet, "/preview/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "Borrador")

	for _, missing := range []string{"no-es-uuid", "6f1c1b9e-8d1a-4c43-9b53-2c3a0c7f0e11"} {
		rec = env.do(t, http.MethodGet, "/preview/"+missing, nil)
		assert.Equal(t, http.StatusGone, rec.Code)
		assert.Contains(t, rec.Body.String(), "expirado")

		rec = env.do(t, http.MethodGet, "/api/admin/pages/preview/"+missing, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/admin/pages/preview", map[string]any{"component": "desconocido", "data": map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWhistleblower_PublicFlow(t *testing.T) {
	env := newHandlerEnv(t)

	rec := env.do(t, http.MethodPost, "/api/whistleblower/reports", map[string]any{
		"category": "fraude", "description": "Descripción del caso", "anonymous": true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	code := envelope(t, rec)["data"].(map[string]any)["tracking_code"].(string)
	require.NotEmpty(t, code)

	rec = env.do(t, http.MethodGet, "/api/whistleblower/reports/"+code, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := envelope(t, rec)["data"].(map[string]any)
	assert.Equal(t, "received", view["status"])
	assert.NotContains(t, view, "description", "заявителю не отдаётся текст обращения")

	rec = env.do(t, http.MethodGet, "/api/whistleblower/reports/NOEXISTE", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/admin/reports", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := envelope(t, rec)
	items := body["data"].([]any)
	require.Len(t, items, 1)
	id := items[0].(map[string]any)["id"].(string)

	rec = env.do(t, http.MethodPatch, "/api/admin/reports/"+id, map[string]any{"status": "resolved"})
	assert.Equal(t, http.StatusConflict, rec.Code, "received → resolved недопустим")

	rec = env.do(t, http.MethodPatch, "/api/admin/reports/"+id, map[string]any{"status": "in_review"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/admin/notifications?status=unread", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, envelope(t, rec)["data"], 1, "новое обращение создаёт уведомление")
}

func TestUsers_CreateHidesPassword(t *testing.T) {
	env := newHandlerEnv(t)

	rec := env.do(t, http.MethodPost, "/api/admin/users", map[string]any{
		"email": "Ana@Metrica.pe", "name": "Ana", "role": "editor", "password": "s3creto-largo",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "s3creto")
	assert.NotContains(t, rec.Body.String(), "password")

	rec = env.do(t, http.MethodPost, "/api/admin/users", map[string]any{
		"email": "ana@metrica.pe", "name": "Ana 2", "role": "editor", "password": "otro-secreto",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/admin/users", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	settings := envelope(t, rec)["settings"].(map[string]any)
	assert.EqualValues(t, 1, settings["total"])
}

func TestDownloads_TokenRoundTrip(t *testing.T) {
	env := newHandlerEnv(t)
	require.NoError(t, os.MkdirAll(filepath.Join(env.mediaDir, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(env.mediaDir, "docs", "iso-9001.pdf"), []byte("%PDF-1.7 contenido"), 0o644))

	rec := env.do(t, http.MethodPost, "/api/admin/downloads/token", map[string]any{"file": "docs/iso-9001.pdf"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	url := envelope(t, rec)["data"].(map[string]any)["url"].(string)

	rec = env.do(t, http.MethodGet, url, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "%PDF-1.7 contenido", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "iso-9001.pdf")

	rec = env.do(t, http.MethodGet, "/api/downloads/token-falso", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/admin/downloads/token", map[string]any{"file": "../secreto.txt"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/admin/downloads/token", map[string]any{"file": "docs/nope.pdf"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProxy_RejectsBeforeFetching(t *testing.T) {
	env := newHandlerEnv(t)

	rec := env.do(t, http.MethodGet, "/api/proxy/pdf?url=http://storage.googleapis.com/a.pdf", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/proxy/pdf?url=https://evil.example.com/a.pdf", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/proxy/pdf", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestActivityAndPublicConfig(t *testing.T) {
	env := newHandlerEnv(t)
	rec := env.do(t, http.MethodPut, "/api/admin/pages/iso", map[string]any{"content": map[string]any{"policies": []any{}}})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/admin/activity?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := envelope(t, rec)["data"].([]any)
	require.Len(t, entries, 1)
	assert.Equal(t, "page.update", entries[0].(map[string]any)["action"])
	assert.Equal(t, "anonymous", entries[0].(map[string]any)["actor"])

	rec = env.do(t, http.MethodGet, "/api/admin/activity?limit=muchos", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/config/public", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cfg := envelope(t, rec)["data"].(map[string]any)
	assert.Equal(t, "site-key", cfg["recaptchaSiteKey"])
	assert.NotContains(t, rec.Body.String(), "secret")
}
