// health.go: обработчики health endpoints.
// /api/health: сводная проверка (база, файловая система, память)
// /health/live: liveness probe (процесс жив)
// /health/ready: readiness probe (та же сводная проверка)
// /metrics: Prometheus метрики
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	apierrors "github.com/metricafm/metrica-cms/internal/api/errors"
	"github.com/metricafm/metrica-cms/internal/config"
	"github.com/metricafm/metrica-cms/internal/service"
)

// serviceName: имя сервиса в ответах health.
const serviceName = "metrica-cms"

// HealthChecker: сводная проверка состояния.
type HealthChecker interface {
	Check(ctx context.Context) *service.HealthReport
}

// HealthHandler: обработчик health endpoints.
type HealthHandler struct {
	checker     HealthChecker
	promHandler http.Handler
}

// NewHealthHandler создаёт обработчик health endpoints.
func NewHealthHandler(checker HealthChecker) *HealthHandler {
	return &HealthHandler{
		checker:     checker,
		promHandler: promhttp.Handler(),
	}
}

// healthLiveResponse: ответ liveness probe.
type healthLiveResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
}

// Health: GET /api/health. 200 для healthy/degraded, 503 для unhealthy.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	report := h.checker.Check(r.Context())
	apierrors.WriteJSON(w, reportStatusCode(report), report)
}

// HealthLive: liveness probe. Возвращает 200, если процесс жив.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	apierrors.WriteJSON(w, http.StatusOK, healthLiveResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   serviceName,
	})
}

// HealthReady: readiness probe. Те же проверки, что и /api/health.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.Health(w, r)
}

// GetMetrics: Prometheus метрики.
func (h *HealthHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.promHandler.ServeHTTP(w, r)
}

func reportStatusCode(report *service.HealthReport) int {
	if report.Status == service.StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}
