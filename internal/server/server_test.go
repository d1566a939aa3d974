package server

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metricafm/metrica-cms/internal/api/handlers"
	"github.com/metricafm/metrica-cms/internal/api/middleware"
	"github.com/metricafm/metrica-cms/internal/api/openapi"
	"github.com/metricafm/metrica-cms/internal/broadcast"
	"github.com/metricafm/metrica-cms/internal/config"
	"github.com/metricafm/metrica-cms/internal/database"
	"github.com/metricafm/metrica-cms/internal/domain/model"
	"github.com/metricafm/metrica-cms/internal/repository"
	"github.com/metricafm/metrica-cms/internal/service"
	"github.com/metricafm/metrica-cms/internal/storage/mirror"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestComponents собирает полный набор обработчиков поверх SQLite в памяти.
// Пользователь-редактор ana@metrica.pe с паролем s3creto-largo.
func newTestComponents(t *testing.T) (Components, *broadcast.Bus) {
	t.Helper()
	ctx := context.Background()
	logger := testLogger()

	store, err := repository.NewSQLiteStore(ctx, ":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	contentDir := t.TempDir()
	content, err := mirror.New(contentDir)
	require.NoError(t, err)
	adminData, err := mirror.New(t.TempDir())
	require.NoError(t, err)
	defaults, err := service.LoadPageDefaults()
	require.NoError(t, err)

	bus := broadcast.New(logger)
	t.Cleanup(bus.Close)

	cache := service.NewCacheService(16, time.Minute, logger)
	inv := service.NewInvalidationService(bus, store, logger)
	pages := service.NewPageService(store, content, cache, inv, defaults, logger)
	megamenu, err := service.NewMegamenuService(store, content, inv, logger)
	require.NoError(t, err)
	previews, err := service.NewPreviewService(t.TempDir(), "http://localhost:3000", 0, logger)
	require.NoError(t, err)
	downloads, err := service.NewDownloadService(t.TempDir(), "секрет-для-тестов-сервера", time.Minute, logger)
	require.NoError(t, err)
	notifications := service.NewNotificationService(adminData, logger)
	users := service.NewUserService(adminData, logger)

	_, err = users.Create(ctx, service.UserInput{
		Email: "ana@metrica.pe", Name: "Ana", Role: model.RoleEditor, Password: "s3creto-largo",
	})
	require.NoError(t, err)

	doc, err := openapi.Load(ctx)
	require.NoError(t, err)
	validator, err := middleware.NewRequestValidator(doc, logger)
	require.NoError(t, err)

	health := service.NewHealthService(database.NewReadinessChecker(store, "sqlite"), contentDir, "test",
		service.DefaultHealthThresholds(), logger)

	return Components{
		API: handlers.NewAPIHandler(handlers.Services{
			Pages:         pages,
			Megamenu:      megamenu,
			Previews:      previews,
			Notifications: notifications,
			Users:         users,
			Reports:       service.NewReportService(adminData, notifications, logger),
			Downloads:     downloads,
			Proxy:         service.NewProxyService(http.DefaultClient, []string{"storage.googleapis.com"}, time.Second, logger),
			Activity:      inv,
		}, handlers.PublicConfig{Environment: "development", Version: "test"}, logger),
		Health:    handlers.NewHealthHandler(health),
		Events:    handlers.NewEventsHandler(bus, []string{"localhost:3000"}, logger),
		Auth:      middleware.NewLocalAuth(users, false, logger),
		Validator: validator,
	}, bus
}

func TestRouter_PublicAndAdminAccess(t *testing.T) {
	c, _ := newTestComponents(t)
	router := NewRouter(testLogger(), c)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		basic  bool
		want   int
	}{
		{"liveness", http.MethodGet, "/health/live", "", false, http.StatusOK},
		{"сводный health", http.MethodGet, "/api/health", "", false, http.StatusOK},
		{"метрики", http.MethodGet, "/metrics", "", false, http.StatusOK},
		{"публичная страница", http.MethodGet, "/api/pages/home", "", false, http.StatusOK},
		{"публичный конфиг", http.MethodGet, "/api/config/public", "", false, http.StatusOK},
		{"OpenAPI документ", http.MethodGet, "/api/openapi.yaml", "", false, http.StatusOK},
		{"админка без учётных данных", http.MethodGet, "/api/admin/megamenu", "", false, http.StatusUnauthorized},
		{"админка редактором", http.MethodGet, "/api/admin/megamenu", "", true, http.StatusOK},
		{"пользователи только для admin", http.MethodGet, "/api/admin/users", "", true, http.StatusForbidden},
		{"OpenAPI-проверка тела", http.MethodPut, "/api/admin/pages/home", `{"data":1}`, true, http.StatusBadRequest},
		{"неизвестный маршрут", http.MethodGet, "/api/nope", "", false, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader
			if tt.body != "" {
				body = strings.NewReader(tt.body)
			}
			req := httptest.NewRequest(tt.method, tt.path, body)
			if body != nil {
				req.Header.Set("Content-Type", "application/json")
			}
			if tt.basic {
				req.SetBasicAuth("ana@metrica.pe", "s3creto-largo")
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestRouter_EditorWritesPage(t *testing.T) {
	c, _ := newTestComponents(t)
	router := NewRouter(testLogger(), c)

	req := httptest.NewRequest(http.MethodPut, "/api/admin/pages/contact",
		strings.NewReader(`{"content":{"hero":{"title":"Contacto"}}}`))
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth("ana@metrica.pe", "s3creto-largo")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/api/admin/activity", nil)
	req.SetBasicAuth("ana@metrica.pe", "s3creto-largo")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"actor":"ana@metrica.pe"`)
}

func TestServer_GracefulShutdown(t *testing.T) {
	c, bus := newTestComponents(t)
	cfg := &config.Config{Host: "127.0.0.1", Port: 0, ShutdownTimeout: 2 * time.Second}
	srv := New(cfg, testLogger(), c)
	srv.RegisterOnShutdown(bus.Close)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	quit := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() { done <- srv.serve(ln, quit) }()

	base := "http://" + ln.Addr().String()
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health/live")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	// Открытый SSE-поток не должен мешать остановке.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/events/content", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	quit <- syscall.SIGTERM
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("сервер не остановился")
	}
	http.DefaultClient.CloseIdleConnections()
}
