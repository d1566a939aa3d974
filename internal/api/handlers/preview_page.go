package handlers

import (
	"net/http"

	"github.com/a-h/templ"
	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/metricafm/metrica-cms/internal/ui/pages"
)

// PreviewPage: GET /preview/{previewId}. Истёкший или неизвестный предпросмотр: 410.
func (h *APIHandler) PreviewPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")

	var id openapi_types.UUID
	if err := bindUUID(r, "previewId", &id); err != nil {
		templ.Handler(pages.ExpiredPage(), templ.WithStatus(http.StatusGone)).ServeHTTP(w, r)
		return
	}
	payload := h.previews.Get(r.Context(), id.String())
	if payload == nil {
		templ.Handler(pages.ExpiredPage(), templ.WithStatus(http.StatusGone)).ServeHTTP(w, r)
		return
	}
	templ.Handler(pages.PreviewPage(payload)).ServeHTTP(w, r)
}
