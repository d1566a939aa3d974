// elements.go: обработчики /api/admin/dynamic-elements.
package handlers

import (
	"net/http"

	apierrors "github.com/metricafm/metrica-cms/internal/api/errors"
)

// reorderRequest: тело PATCH /api/admin/dynamic-elements/{type}.
type reorderRequest struct {
	Action   string           `json:"action"`
	Elements []map[string]any `json:"elements"`
}

// ListElements: GET /api/admin/dynamic-elements/{type}.
func (h *APIHandler) ListElements(w http.ResponseWriter, r *http.Request) {
	var typ string
	if !pathParam(w, r, "type", &typ) {
		return
	}
	list, err := h.pages.ListElements(r.Context(), typ)
	if err != nil {
		h.serviceError(w, r, err, "Ошибка чтения элементов")
		return
	}
	apierrors.WriteSuccess(w, http.StatusOK, list, map[string]any{"total": len(list)})
}

// CreateElement: POST /api/admin/dynamic-elements/{type}.
func (h *APIHandler) CreateElement(w http.ResponseWriter, r *http.Request) {
	var typ string
	if !pathParam(w, r, "type", &typ) {
		return
	}
	var fields map[string]any
	if !decodeJSON(w, r, &fields) {
		return
	}
	el, result, err := h.pages.CreateElement(r.Context(), typ, fields, actor(r))
	if err != nil {
		h.serviceError(w, r, err, "Ошибка создания элемента")
		return
	}
	writeWriteResult(w, http.StatusCreated, el, result)
}

// ReorderElements: PATCH /api/admin/dynamic-elements/{type}, action=reorder.
func (h *APIHandler) ReorderElements(w http.ResponseWriter, r *http.Request) {
	var typ string
	if !pathParam(w, r, "type", &typ) {
		return
	}
	var req reorderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Action != "reorder" {
		apierrors.ValidationError(w, "Неизвестное действие: "+req.Action)
		return
	}
	list, result, err := h.pages.ReorderElements(r.Context(), typ, req.Elements, actor(r))
	if err != nil {
		h.serviceError(w, r, err, "Ошибка изменения порядка элементов")
		return
	}
	writeWriteResult(w, http.StatusOK, list, result)
}

// UpdateElement: PUT /api/admin/dynamic-elements/{type}/{id}.
func (h *APIHandler) UpdateElement(w http.ResponseWriter, r *http.Request) {
	var typ, id string
	if !pathParam(w, r, "type", &typ) || !pathParam(w, r, "id", &id) {
		return
	}
	var fields map[string]any
	if !decodeJSON(w, r, &fields) {
		return
	}
	el, result, err := h.pages.UpdateElement(r.Context(), typ, id, fields, actor(r))
	if err != nil {
		h.serviceError(w, r, err, "Ошибка обновления элемента")
		return
	}
	writeWriteResult(w, http.StatusOK, el, result)
}

// DeleteElement: DELETE /api/admin/dynamic-elements/{type}/{id}.
func (h *APIHandler) DeleteElement(w http.ResponseWriter, r *http.Request) {
	var typ, id string
	if !pathParam(w, r, "type", &typ) || !pathParam(w, r, "id", &id) {
		return
	}
	result, err := h.pages.DeleteElement(r.Context(), typ, id, actor(r))
	if err != nil {
		h.serviceError(w, r, err, "Ошибка удаления элемента")
		return
	}
	writeWriteResult(w, http.StatusOK, map[string]string{"id": id}, result)
}
