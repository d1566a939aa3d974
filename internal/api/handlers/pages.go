// pages.go: обработчики страниц и предпросмотра.
package handlers

import (
	"net/http"

	openapi_types "github.com/oapi-codegen/runtime/types"

	apierrors "github.com/metricafm/metrica-cms/internal/api/errors"
	"github.com/metricafm/metrica-cms/internal/domain/model"
)

// pageRequest: тело PUT/PATCH страницы.
type pageRequest struct {
	Content model.PageContent `json:"content"`
}

// pageWriteData: data ответа на запись страницы.
type pageWriteData struct {
	Slug    string `json:"slug"`
	Version int    `json:"version"`
}

// GetAdminPage: GET /api/admin/pages/{slug}. Только хранилище документов.
func (h *APIHandler) GetAdminPage(w http.ResponseWriter, r *http.Request) {
	var slug string
	if !pathParam(w, r, "slug", &slug) {
		return
	}
	page, err := h.pages.GetPage(r.Context(), slug)
	if err != nil {
		h.serviceError(w, r, err, "Ошибка чтения страницы")
		return
	}
	apierrors.WriteSuccess(w, http.StatusOK, page.Content, map[string]any{"source": page.Source})
}

// GetPublicPage: GET /api/pages/{slug}. Хранилище, затем зеркало, затем значения по умолчанию.
func (h *APIHandler) GetPublicPage(w http.ResponseWriter, r *http.Request) {
	var slug string
	if !pathParam(w, r, "slug", &slug) {
		return
	}
	page, err := h.pages.GetPublicPage(r.Context(), slug)
	if err != nil {
		h.serviceError(w, r, err, "Ошибка чтения публичной страницы")
		return
	}
	apierrors.WriteSuccess(w, http.StatusOK, page.Content, map[string]any{"source": page.Source})
}

// PutAdminPage: PUT /api/admin/pages/{slug}.
func (h *APIHandler) PutAdminPage(w http.ResponseWriter, r *http.Request) {
	h.writePage(w, r, false)
}

// PatchAdminPage: PATCH /api/admin/pages/{slug}. Слияние верхнего уровня.
func (h *APIHandler) PatchAdminPage(w http.ResponseWriter, r *http.Request) {
	h.writePage(w, r, true)
}

func (h *APIHandler) writePage(w http.ResponseWriter, r *http.Request, merge bool) {
	var slug string
	if !pathParam(w, r, "slug", &slug) {
		return
	}
	var req pageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Content == nil {
		apierrors.ValidationError(w, "Поле content обязательно")
		return
	}

	write := h.pages.PutPage
	if merge {
		write = h.pages.PatchPage
	}
	result, err := write(r.Context(), slug, req.Content, actor(r))
	if err != nil {
		h.serviceError(w, r, err, "Ошибка записи страницы")
		return
	}
	writeWriteResult(w, http.StatusOK, pageWriteData{Slug: slug, Version: result.Version}, result)
}

// previewRequest: тело создания предпросмотра. timestamp клиента не используется:
// время создания берётся с часов сервера.
type previewRequest struct {
	Component string         `json:"component"`
	Data      map[string]any `json:"data"`
	Timestamp any            `json:"timestamp,omitempty"`
}

// CreatePreview: POST /api/admin/pages/preview.
func (h *APIHandler) CreatePreview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ref, err := h.previews.Create(r.Context(), req.Component, req.Data)
	if err != nil {
		h.serviceError(w, r, err, "Ошибка создания предпросмотра")
		return
	}
	apierrors.WriteSuccess(w, http.StatusCreated, ref, nil)
}

// GetPreview: GET /api/admin/pages/preview/{previewId}.
func (h *APIHandler) GetPreview(w http.ResponseWriter, r *http.Request) {
	var id openapi_types.UUID
	if err := bindUUID(r, "previewId", &id); err != nil {
		apierrors.NotFound(w, "Предпросмотр не найден или истёк")
		return
	}
	payload := h.previews.Get(r.Context(), id.String())
	if payload == nil {
		apierrors.NotFound(w, "Предпросмотр не найден или истёк")
		return
	}
	apierrors.WriteSuccess(w, http.StatusOK, payload, nil)
}
