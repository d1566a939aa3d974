// records.go: уведомления, пользователи, обращения и журнал действий админ-панели.
package handlers

import (
	"net/http"
	"time"

	apierrors "github.com/metricafm/metrica-cms/internal/api/errors"
	"github.com/metricafm/metrica-cms/internal/service"
)

// defaultActivityLimit: сколько записей журнала отдаётся без параметра limit.
const defaultActivityLimit = 50

// --- Уведомления ---

// ListNotifications: GET /api/admin/notifications?status=.
func (h *APIHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	var status string
	if !queryParam(w, r, "status", &status) {
		return
	}
	items, stats, err := h.notifications.List(r.Context(), status)
	if err != nil {
		h.serviceError(w, r, err, "Ошибка чтения уведомлений")
		return
	}
	apierrors.WriteSuccess(w, http.StatusOK, items, map[string]any{"stats": stats})
}

// CreateNotification: POST /api/admin/notifications.
func (h *APIHandler) CreateNotification(w http.ResponseWriter, r *http.Request) {
	var in service.NotificationInput
	if !decodeJSON(w, r, &in) {
		return
	}
	n, err := h.notifications.Create(r.Context(), in)
	if err != nil {
		h.serviceError(w, r, err, "Ошибка создания уведомления")
		return
	}
	apierrors.WriteSuccess(w, http.StatusCreated, n, nil)
}

// UpdateNotification: PATCH /api/admin/notifications/{id}.
func (h *APIHandler) UpdateNotification(w http.ResponseWriter, r *http.Request) {
	var id string
	if !pathParam(w, r, "id", &id) {
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	n, err := h.notifications.SetStatus(r.Context(), id, req.Status)
	if err != nil {
		h.serviceError(w, r, err, "Ошибка обновления уведомления")
		return
	}
	apierrors.WriteSuccess(w, http.StatusOK, n, nil)
}

// MarkAllNotificationsRead: POST /api/admin/notifications/read-all.
func (h *APIHandler) MarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	changed, err := h.notifications.MarkAllRead(r.Context())
	if err != nil {
		h.serviceError(w, r, err, "Ошибка отметки уведомлений")
		return
	}
	apierrors.WriteSuccess(w, http.StatusOK, map[string]int{"updated": changed}, nil)
}

// DeleteNotification: DELETE /api/admin/notifications/{id}.
func (h *APIHandler) DeleteNotification(w http.ResponseWriter, r *http.Request) {
	var id string
	if !pathParam(w, r, "id", &id) {
		return
	}
	if err := h.notifications.Delete(r.Context(), id); err != nil {
		h.serviceError(w, r, err, "Ошибка удаления уведомления")
		return
	}
	apierrors.WriteSuccess(w, http.StatusOK, map[string]string{"id": id}, nil)
}

// --- Пользователи (только admin) ---

// ListUsers: GET /api/admin/users.
func (h *APIHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, settings, err := h.users.List(r.Context())
	if err != nil {
		h.serviceError(w, r, err, "Ошибка чтения пользователей")
		return
	}
	apierrors.WriteSuccess(w, http.StatusOK, users, map[string]any{"settings": settings})
}

// CreateUser: POST /api/admin/users.
func (h *APIHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var in service.UserInput
	if !decodeJSON(w, r, &in) {
		return
	}
	u, err := h.users.Create(r.Context(), in)
	if err != nil {
		h.serviceError(w, r, err, "Ошибка создания пользователя")
		return
	}
	apierrors.WriteSuccess(w, http.StatusCreated, u, nil)
}

// UpdateUser: PATCH /api/admin/users/{id}.
func (h *APIHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var id string
	if !pathParam(w, r, "id", &id) {
		return
	}
	var patch service.UserPatch
	if !decodeJSON(w, r, &patch) {
		return
	}
	u, err := h.users.Update(r.Context(), id, patch)
	if err != nil {
		h.serviceError(w, r, err, "Ошибка обновления пользователя")
		return
	}
	apierrors.WriteSuccess(w, http.StatusOK, u, nil)
}

// --- Обращения ---

// ListReports: GET /api/admin/reports?status=.
func (h *APIHandler) ListReports(w http.ResponseWriter, r *http.Request) {
	var status string
	if !queryParam(w, r, "status", &status) {
		return
	}
	items, stats, err := h.reports.List(r.Context(), status)
	if err != nil {
		h.serviceError(w, r, err, "Ошибка чтения обращений")
		return
	}
	apierrors.WriteSuccess(w, http.StatusOK, items, map[string]any{"stats": stats})
}

// GetReport: GET /api/admin/reports/{id}.
func (h *APIHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	var id string
	if !pathParam(w, r, "id", &id) {
		return
	}
	rep, err := h.reports.Get(r.Context(), id)
	if err != nil {
		h.serviceError(w, r, err, "Ошибка чтения обращения")
		return
	}
	apierrors.WriteSuccess(w, http.StatusOK, rep, nil)
}

// UpdateReportStatus: PATCH /api/admin/reports/{id}.
func (h *APIHandler) UpdateReportStatus(w http.ResponseWriter, r *http.Request) {
	var id string
	if !pathParam(w, r, "id", &id) {
		return
	}
	var req struct {
		Status     string `json:"status"`
		Resolution string `json:"resolution"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	rep, err := h.reports.UpdateStatus(r.Context(), id, req.Status, req.Resolution)
	if err != nil {
		h.serviceError(w, r, err, "Ошибка смены статуса обращения")
		return
	}
	apierrors.WriteSuccess(w, http.StatusOK, rep, nil)
}

// reportStatusView: то, что видит заявитель по коду отслеживания.
type reportStatusView struct {
	TrackingCode string    `json:"tracking_code"`
	Category     string    `json:"category"`
	Status       string    `json:"status"`
	Resolution   string    `json:"resolution,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SubmitReport: POST /api/whistleblower/reports. Публичный канал.
func (h *APIHandler) SubmitReport(w http.ResponseWriter, r *http.Request) {
	var in service.ReportInput
	if !decodeJSON(w, r, &in) {
		return
	}
	rep, err := h.reports.Create(r.Context(), in)
	if err != nil {
		h.serviceError(w, r, err, "Ошибка регистрации обращения")
		return
	}
	apierrors.WriteSuccess(w, http.StatusCreated, map[string]string{"tracking_code": rep.TrackingCode}, nil)
}

// GetReportByCode: GET /api/whistleblower/reports/{code}.
func (h *APIHandler) GetReportByCode(w http.ResponseWriter, r *http.Request) {
	var code string
	if !pathParam(w, r, "code", &code) {
		return
	}
	rep, err := h.reports.GetByTrackingCode(r.Context(), code)
	if err != nil {
		h.serviceError(w, r, err, "Ошибка поиска обращения")
		return
	}
	apierrors.WriteSuccess(w, http.StatusOK, reportStatusView{
		TrackingCode: rep.TrackingCode,
		Category:     rep.Category,
		Status:       rep.Status,
		Resolution:   rep.Resolution,
		CreatedAt:    rep.CreatedAt,
		UpdatedAt:    rep.UpdatedAt,
	}, nil)
}

// --- Журнал действий ---

// ListActivity: GET /api/admin/activity?limit=.
func (h *APIHandler) ListActivity(w http.ResponseWriter, r *http.Request) {
	limit := defaultActivityLimit
	if !queryParam(w, r, "limit", &limit) {
		return
	}
	entries, err := h.activity.ListActivity(r.Context(), limit)
	if err != nil {
		h.serviceError(w, r, err, "Ошибка чтения журнала действий")
		return
	}
	apierrors.WriteSuccess(w, http.StatusOK, entries, nil)
}
