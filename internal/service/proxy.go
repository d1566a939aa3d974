// proxy.go: проксирование PDF и видео из разрешённых хранилищ.
// Только https и только хосты из списка. Исходящий запрос ограничен таймаутом,
// заголовки Range пробрасываются, тип содержимого проверяется до отправки тела.
package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Виды проксируемого содержимого.
const (
	ProxyKindPDF   = "pdf"
	ProxyKindVideo = "video"
)

var proxyRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "cms_proxy_requests_total",
	Help: "Запросы к прокси PDF/видео (по виду и статусу).",
}, []string{"kind", "status"})

// ProxyService: прокси для медиа из облачного хранилища.
type ProxyService struct {
	client  *http.Client
	allowed map[string]bool
	timeout time.Duration
	logger  *slog.Logger
}

// maxProxyRedirects: предел переходов по редиректам источника.
const maxProxyRedirects = 5

// NewProxyService создаёт прокси. client может быть nil.
// Используется копия client: каждый редирект проходит ту же проверку, что и исходный URL.
func NewProxyService(client *http.Client, allowedHosts []string, timeout time.Duration, logger *slog.Logger) *ProxyService {
	c := &http.Client{}
	if client != nil {
		copied := *client
		c = &copied
	}
	allowed := make(map[string]bool, len(allowedHosts))
	for _, h := range allowedHosts {
		allowed[strings.ToLower(h)] = true
	}
	p := &ProxyService{
		client:  c,
		allowed: allowed,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "proxy")),
	}
	c.CheckRedirect = p.checkRedirect
	return p
}

// checkRedirect отклоняет редирект на http или на хост вне списка.
func (p *ProxyService) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxProxyRedirects {
		return fmt.Errorf("превышено число редиректов (%d)", maxProxyRedirects)
	}
	if _, err := p.Validate(req.URL.String()); err != nil {
		p.logger.Warn("Редирект источника отклонён",
			slog.String("location", req.URL.Redacted()),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("редирект отклонён: %w", err)
	}
	return nil
}

// Validate проверяет URL: https и разрешённый хост.
func (p *ProxyService) Validate(rawURL string) (*url.URL, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("%w: параметр url обязателен", ErrValidation)
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: некорректный url", ErrValidation)
	}
	if u.Scheme != "https" {
		return nil, fmt.Errorf("%w: допускается только https", ErrValidation)
	}
	if !p.allowed[strings.ToLower(u.Hostname())] {
		return nil, fmt.Errorf("%w: хост %s не разрешён", ErrForbidden, u.Hostname())
	}
	return u, nil
}

// Stream загружает ресурс и передаёт его клиенту. Ошибка возвращается
// только до записи заголовков; после этого сбои копирования логируются.
func (p *ProxyService) Stream(ctx context.Context, w http.ResponseWriter, kind, rawURL, rangeHeader string) error {
	u, err := p.Validate(rawURL)
	if err != nil {
		proxyRequestsTotal.WithLabelValues(kind, "rejected").Inc()
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("ошибка создания запроса: %w", err)
	}
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		proxyRequestsTotal.WithLabelValues(kind, "upstream_error").Inc()
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		proxyRequestsTotal.WithLabelValues(kind, "upstream_status").Inc()
		return fmt.Errorf("%w: источник вернул статус %d", ErrUpstream, resp.StatusCode)
	}
	if !contentTypeMatches(kind, resp.Header.Get("Content-Type")) {
		proxyRequestsTotal.WithLabelValues(kind, "content_type").Inc()
		return fmt.Errorf("%w: неожиданный тип содержимого %q", ErrUpstream, resp.Header.Get("Content-Type"))
	}

	for _, h := range []string{
		"Content-Type",
		"Content-Length",
		"Content-Range",
		"Accept-Ranges",
		"ETag",
		"Last-Modified",
	} {
		if v := resp.Header.Get(h); v != "" {
			w.Header().Set(h, v)
		}
	}
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(resp.StatusCode)

	written, err := io.Copy(w, resp.Body)
	if err != nil {
		p.logger.Warn("Ошибка передачи проксируемого содержимого",
			slog.String("kind", kind),
			slog.String("host", u.Hostname()),
			slog.Int64("bytes_written", written),
			slog.String("error", err.Error()),
		)
		proxyRequestsTotal.WithLabelValues(kind, "stream_error").Inc()
		return nil
	}
	proxyRequestsTotal.WithLabelValues(kind, "success").Inc()
	return nil
}

// contentTypeMatches: pdf → application/pdf, video → video/*.
func contentTypeMatches(kind, contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	switch kind {
	case ProxyKindPDF:
		return mt == "application/pdf"
	case ProxyKindVideo:
		return strings.HasPrefix(mt, "video/")
	}
	return false
}
