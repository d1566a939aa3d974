// events.go: доставка уведомлений об изменении контента браузерам.
// SSE (/api/events/content) и websocket (/api/events/ws) транслируют сообщения
// шины broadcast. Каждый клиент обслуживается отдельной горутиной запроса
// и получает собственную подписку.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/metricafm/metrica-cms/internal/broadcast"
)

const (
	// wsWriteWait: таймаут записи одного сообщения в websocket.
	wsWriteWait = 10 * time.Second
	// wsReadLimit: клиенту нечего присылать, кроме управляющих кадров.
	wsReadLimit = 512
	// defaultKeepAlive: период комментария-пинга SSE и ping websocket.
	defaultKeepAlive = 30 * time.Second
)

// EventsHandler: SSE и websocket поверх шины уведомлений.
type EventsHandler struct {
	bus            *broadcast.Bus
	allowedOrigins []string
	keepAlive      time.Duration
	logger         *slog.Logger
}

// NewEventsHandler создаёт обработчик. allowedOrigins: host[:port] страниц,
// которым разрешено открывать websocket.
func NewEventsHandler(bus *broadcast.Bus, allowedOrigins []string, logger *slog.Logger) *EventsHandler {
	origins := make([]string, 0, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o = strings.ToLower(strings.TrimSpace(o)); o != "" {
			origins = append(origins, o)
		}
	}
	return &EventsHandler{
		bus:            bus,
		allowedOrigins: origins,
		keepAlive:      defaultKeepAlive,
		logger:         logger.With(slog.String("component", "events")),
	}
}

// HandleContentEvents обрабатывает GET /api/events/content: SSE endpoint.
// Формат: event: JSON_UPDATED\ndata: {json}\n\n. Первое событие: connected.
func (h *EventsHandler) HandleContentEvents(w http.ResponseWriter, r *http.Request) {
	sub, err := h.bus.Subscribe(broadcast.DefaultBuffer)
	if err != nil {
		http.Error(w, "Сервис уведомлений недоступен", http.StatusServiceUnavailable)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// ResponseController находит http.Flusher через Unwrap() обёрток middleware.
	rc := http.NewResponseController(w)
	// Поток живёт дольше WriteTimeout сервера.
	_ = rc.SetWriteDeadline(time.Time{})
	if err := rc.Flush(); err != nil {
		http.Error(w, "SSE не поддерживается", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	h.logger.Debug("SSE клиент подключён", slog.String("remote_addr", r.RemoteAddr))

	_, _ = fmt.Fprintf(w, "event: connected\ndata: {}\n\n")
	_ = rc.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE клиент отключён", slog.String("remote_addr", r.RemoteAddr))
			return
		case msg, ok := <-sub.C():
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Type, data); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

// HandleWebSocket обрабатывает GET /api/events/ws.
// Сообщения шины отправляются текстовыми JSON-кадрами.
func (h *EventsHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "Origin не разрешён", http.StatusForbidden)
		return
	}

	sub, err := h.bus.Subscribe(broadcast.DefaultBuffer)
	if err != nil {
		http.Error(w, "Сервис уведомлений недоступен", http.StatusServiceUnavailable)
		return
	}
	defer sub.Close()

	// Захваченное соединение сохраняет дедлайны сервера: снимаем их заранее.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Origin уже проверен checkOrigin.
		OriginPatterns: h.allowedOrigins,
	})
	if err != nil {
		h.logger.Warn("Ошибка upgrade websocket", slog.String("error", err.Error()))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	conn.SetReadLimit(wsReadLimit)
	// CloseRead отбрасывает входящие кадры; ctx отменяется при закрытии соединения.
	ctx := conn.CloseRead(r.Context())

	h.logger.Debug("Websocket клиент подключён", slog.String("remote_addr", r.RemoteAddr))

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("Websocket клиент отключён", slog.String("remote_addr", r.RemoteAddr))
			return
		case msg, ok := <-sub.C():
			if !ok {
				conn.Close(websocket.StatusGoingAway, "сервер останавливается")
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if err := writeWithTimeout(ctx, conn, data); err != nil {
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, wsWriteWait)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func writeWithTimeout(ctx context.Context, conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteWait)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

// checkOrigin: Origin обязателен, схема http/https, хост из списка разрешённых
// или совпадает с Host запроса.
func (h *EventsHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return false
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	host := strings.ToLower(u.Host)
	if host == strings.ToLower(r.Host) {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if host == allowed {
			return true
		}
	}
	return false
}
