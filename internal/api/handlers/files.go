// files.go: download-токены и прокси PDF/видео.
package handlers

import (
	"errors"
	"mime"
	"net/http"

	apierrors "github.com/metricafm/metrica-cms/internal/api/errors"
	"github.com/metricafm/metrica-cms/internal/service"
)

// IssueDownloadToken: POST /api/admin/downloads/token.
func (h *APIHandler) IssueDownloadToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		File string `json:"file"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	tok, err := h.downloads.Issue(req.File)
	if err != nil {
		h.serviceError(w, r, err, "Ошибка выдачи токена скачивания")
		return
	}
	apierrors.WriteSuccess(w, http.StatusCreated, tok, nil)
}

// Download: GET /api/downloads/{token}. Поддерживает Range через http.ServeContent.
func (h *APIHandler) Download(w http.ResponseWriter, r *http.Request) {
	var token string
	if !pathParam(w, r, "token", &token) {
		return
	}
	f, info, err := h.downloads.Open(token)
	if err != nil {
		if errors.Is(err, service.ErrInvalidToken) {
			apierrors.Unauthorized(w, "Недействительный или истёкший токен скачивания")
			return
		}
		h.serviceError(w, r, err, "Ошибка скачивания файла")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": info.Name()}))
	w.Header().Set("Cache-Control", "private, no-store")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// ProxyPDF: GET /api/proxy/pdf?url=.
func (h *APIHandler) ProxyPDF(w http.ResponseWriter, r *http.Request) {
	h.proxyStream(w, r, service.ProxyKindPDF)
}

// ProxyVideo: GET /api/proxy/video?url=.
func (h *APIHandler) ProxyVideo(w http.ResponseWriter, r *http.Request) {
	h.proxyStream(w, r, service.ProxyKindVideo)
}

func (h *APIHandler) proxyStream(w http.ResponseWriter, r *http.Request, kind string) {
	var target string
	if !queryParam(w, r, "url", &target) {
		return
	}
	if err := h.proxy.Stream(r.Context(), w, kind, target, r.Header.Get("Range")); err != nil {
		if errors.Is(err, service.ErrUpstream) {
			h.logger.Warn("Источник прокси недоступен",
				"kind", kind,
				"error", err.Error(),
			)
			apierrors.UpstreamError(w, err.Error())
			return
		}
		h.serviceError(w, r, err, "Ошибка прокси")
	}
}
