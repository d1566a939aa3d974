// megamenu.go: обработчики мегаменю и учёта кликов.
package handlers

import (
	"net/http"

	apierrors "github.com/metricafm/metrica-cms/internal/api/errors"
	"github.com/metricafm/metrica-cms/internal/domain/model"
)

// Действия PATCH /api/admin/megamenu.
const (
	megamenuActionReorder    = "reorder"
	megamenuActionTrackClick = "track_click"
	megamenuActionToggle     = "toggle"
)

// megamenuItemRequest: тело создания и замены пункта. Без enabled пункт включён.
type megamenuItemRequest struct {
	ID      string              `json:"id"`
	Label   string              `json:"label"`
	Type    string              `json:"type"`
	Href    string              `json:"href"`
	Submenu []model.SubmenuLink `json:"submenu"`
	Order   int                 `json:"order"`
	Enabled *bool               `json:"enabled"`
}

func (req megamenuItemRequest) toModel() model.MegamenuItem {
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	return model.MegamenuItem{
		ID:      req.ID,
		Label:   req.Label,
		Type:    req.Type,
		Href:    req.Href,
		Submenu: req.Submenu,
		Order:   req.Order,
		Enabled: enabled,
	}
}

// megamenuPatchRequest: тело PATCH /api/admin/megamenu.
type megamenuPatchRequest struct {
	Action  string   `json:"action"`
	ItemID  string   `json:"item_id"`
	Items   []string `json:"items"`
	Enabled *bool    `json:"enabled"`
}

// GetMegamenu: GET /api/admin/megamenu.
func (h *APIHandler) GetMegamenu(w http.ResponseWriter, r *http.Request) {
	menu, source, err := h.megamenu.Get(r.Context())
	if err != nil {
		h.serviceError(w, r, err, "Ошибка чтения мегаменю")
		return
	}
	apierrors.WriteSuccess(w, http.StatusOK, menu, map[string]any{"source": source})
}

// CreateMegamenuItem: POST /api/admin/megamenu.
func (h *APIHandler) CreateMegamenuItem(w http.ResponseWriter, r *http.Request) {
	var req megamenuItemRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	item, result, err := h.megamenu.CreateItem(r.Context(), req.toModel(), actor(r))
	if err != nil {
		h.serviceError(w, r, err, "Ошибка создания пункта меню")
		return
	}
	writeWriteResult(w, http.StatusCreated, item, result)
}

// PatchMegamenu: PATCH /api/admin/megamenu. Действия reorder, track_click, toggle.
func (h *APIHandler) PatchMegamenu(w http.ResponseWriter, r *http.Request) {
	var req megamenuPatchRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	switch req.Action {
	case megamenuActionReorder:
		items, result, err := h.megamenu.Reorder(r.Context(), req.Items, actor(r))
		if err != nil {
			h.serviceError(w, r, err, "Ошибка изменения порядка меню")
			return
		}
		writeWriteResult(w, http.StatusOK, items, result)

	case megamenuActionTrackClick:
		if req.ItemID == "" {
			apierrors.ValidationError(w, "Поле item_id обязательно")
			return
		}
		h.trackClick(w, r, req.ItemID)

	case megamenuActionToggle:
		if req.ItemID == "" || req.Enabled == nil {
			apierrors.ValidationError(w, "Поля item_id и enabled обязательны")
			return
		}
		item, result, err := h.megamenu.Toggle(r.Context(), req.ItemID, *req.Enabled, actor(r))
		if err != nil {
			h.serviceError(w, r, err, "Ошибка переключения пункта меню")
			return
		}
		writeWriteResult(w, http.StatusOK, item, result)

	default:
		apierrors.ValidationError(w, "Неизвестное действие: "+req.Action)
	}
}

// TrackMegamenuClick: POST /api/megamenu/click. Публичный учёт кликов сайта.
func (h *APIHandler) TrackMegamenuClick(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemID string `json:"item_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ItemID == "" {
		apierrors.ValidationError(w, "Поле item_id обязательно")
		return
	}
	h.trackClick(w, r, req.ItemID)
}

func (h *APIHandler) trackClick(w http.ResponseWriter, r *http.Request, itemID string) {
	analytics, err := h.megamenu.TrackClick(r.Context(), itemID)
	if err != nil {
		h.serviceError(w, r, err, "Ошибка учёта клика")
		return
	}
	apierrors.WriteSuccess(w, http.StatusOK, map[string]any{"analytics": analytics}, nil)
}

// UpdateMegamenuItem: PUT /api/admin/megamenu/{id}.
func (h *APIHandler) UpdateMegamenuItem(w http.ResponseWriter, r *http.Request) {
	var id string
	if !pathParam(w, r, "id", &id) {
		return
	}
	var req megamenuItemRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	item, result, err := h.megamenu.UpdateItem(r.Context(), id, req.toModel(), actor(r))
	if err != nil {
		h.serviceError(w, r, err, "Ошибка обновления пункта меню")
		return
	}
	writeWriteResult(w, http.StatusOK, item, result)
}

// DeleteMegamenuItem: DELETE /api/admin/megamenu/{id}.
func (h *APIHandler) DeleteMegamenuItem(w http.ResponseWriter, r *http.Request) {
	var id string
	if !pathParam(w, r, "id", &id) {
		return
	}
	result, err := h.megamenu.DeleteItem(r.Context(), id, actor(r))
	if err != nil {
		h.serviceError(w, r, err, "Ошибка удаления пункта меню")
		return
	}
	writeWriteResult(w, http.StatusOK, map[string]string{"id": id}, result)
}
