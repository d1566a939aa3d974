// Пакет handlers: HTTP-обработчики API сервиса контента.
// Обработчики разбирают запрос, вызывают сервисный слой и пишут ответ в конверте
// {"success": bool, "data" | "error"}.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	apierrors "github.com/metricafm/metrica-cms/internal/api/errors"
	"github.com/metricafm/metrica-cms/internal/api/middleware"
	"github.com/metricafm/metrica-cms/internal/domain/model"
	"github.com/metricafm/metrica-cms/internal/service"
)

// maxBodyBytes: предел тела JSON-запроса. Страницы целиком укладываются с запасом.
const maxBodyBytes = 5 << 20

// Services: сервисный слой, которым пользуются обработчики.
type Services struct {
	Pages         *service.PageService
	Megamenu      *service.MegamenuService
	Previews      *service.PreviewService
	Notifications *service.NotificationService
	Users         *service.UserService
	Reports       *service.ReportService
	Downloads     *service.DownloadService
	Proxy         *service.ProxyService
	Activity      *service.InvalidationService
}

// PublicConfig: настройки, которые можно отдать браузеру.
type PublicConfig struct {
	RecaptchaSiteKey string `json:"recaptchaSiteKey"`
	Environment      string `json:"environment"`
	Version          string `json:"version"`
}

// APIHandler: обработчики JSON API.
type APIHandler struct {
	pages         *service.PageService
	megamenu      *service.MegamenuService
	previews      *service.PreviewService
	notifications *service.NotificationService
	users         *service.UserService
	reports       *service.ReportService
	downloads     *service.DownloadService
	proxy         *service.ProxyService
	activity      *service.InvalidationService
	publicConfig  PublicConfig
	logger        *slog.Logger
}

// NewAPIHandler создаёт обработчик API.
func NewAPIHandler(svc Services, publicConfig PublicConfig, logger *slog.Logger) *APIHandler {
	return &APIHandler{
		pages:         svc.Pages,
		megamenu:      svc.Megamenu,
		previews:      svc.Previews,
		notifications: svc.Notifications,
		users:         svc.Users,
		reports:       svc.Reports,
		downloads:     svc.Downloads,
		proxy:         svc.Proxy,
		activity:      svc.Activity,
		publicConfig:  publicConfig,
		logger:        logger.With(slog.String("component", "api_handler")),
	}
}

// GetPublicConfig: GET /api/config/public.
func (h *APIHandler) GetPublicConfig(w http.ResponseWriter, _ *http.Request) {
	apierrors.WriteSuccess(w, http.StatusOK, h.publicConfig, nil)
}

// --- Вспомогательные функции ---

// decodeJSON читает тело запроса в dst. При ошибке пишет 400 и возвращает false.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apierrors.WriteError(w, http.StatusRequestEntityTooLarge, apierrors.CodeValidationError,
				fmt.Sprintf("Тело запроса больше %d байт", tooLarge.Limit))
			return false
		}
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return false
	}
	return true
}

// pathParam связывает параметр пути chi со строкой.
func pathParam(w http.ResponseWriter, r *http.Request, name string, dst *string) bool {
	err := runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), dst,
		runtime.BindStyledParameterOptions{
			ParamLocation: runtime.ParamLocationPath,
			Explode:       false,
			Required:      true,
		})
	if err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Некорректный параметр %s: %v", name, err))
		return false
	}
	return true
}

// queryParam связывает необязательный параметр запроса.
func queryParam(w http.ResponseWriter, r *http.Request, name string, dst any) bool {
	if err := runtime.BindQueryParameter("form", true, false, name, r.URL.Query(), dst); err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Некорректный параметр %s: %v", name, err))
		return false
	}
	return true
}

// serviceError переводит ошибку сервиса в HTTP-ответ. 5xx логируются.
func (h *APIHandler) serviceError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	status := apierrors.FromServiceError(w, err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg,
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
}

// writeWriteResult пишет ответ мутации вместе с источниками записи.
func writeWriteResult(w http.ResponseWriter, status int, data any, result *model.WriteResult) {
	extra := map[string]any{}
	if result != nil {
		extra["sources"] = result.Sources
		extra["reconciliation"] = result.Reconciliation
	}
	apierrors.WriteSuccess(w, status, data, extra)
}

// actor возвращает идентификатор автора изменения.
func actor(r *http.Request) string {
	return middleware.ActorFromContext(r.Context())
}
