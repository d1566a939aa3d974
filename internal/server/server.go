// Пакет server: HTTP-сервер сервиса контента Métrica с graceful shutdown.
// Без TLS: терминация TLS на балансировщике.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/metricafm/metrica-cms/internal/api/handlers"
	"github.com/metricafm/metrica-cms/internal/api/middleware"
	"github.com/metricafm/metrica-cms/internal/config"
	"github.com/metricafm/metrica-cms/internal/domain/model"
)

// Components: обработчики и middleware, из которых собирается маршрутизатор.
type Components struct {
	API    *handlers.APIHandler
	Health *handlers.HealthHandler
	Events *handlers.EventsHandler
	// Auth может быть nil (тесты без аутентификации).
	Auth *middleware.JWTAuth
	// Validator может быть nil: запросы не сверяются с OpenAPI.
	Validator *middleware.RequestValidator
}

// Server: HTTP-сервер сервиса контента.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт сервер с настроенными маршрутами и middleware.
func New(cfg *config.Config, logger *slog.Logger, c Components) *Server {
	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      NewRouter(logger, c),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// NewRouter собирает маршрутизатор chi.
// Порядок глобальных middleware: request id → recovery → metrics → request logger.
func NewRouter(logger *slog.Logger, c Components) chi.Router {
	router := chi.NewRouter()

	router.Use(chimw.RequestID)
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))

	// Health и metrics опрашиваются оркестратором напрямую
	router.Get("/health/live", c.Health.HealthLive)
	router.Get("/health/ready", c.Health.HealthReady)
	router.Get("/metrics", c.Health.GetMetrics)
	router.Get("/api/health", c.Health.Health)

	api := c.API
	router.Get("/api/pages/{slug}", api.GetPublicPage)
	router.Get("/api/config/public", api.GetPublicConfig)
	router.Get("/api/openapi.yaml", handlers.GetOpenAPI)
	router.Post("/api/megamenu/click", api.TrackMegamenuClick)
	router.Post("/api/whistleblower/reports", api.SubmitReport)
	router.Get("/api/whistleblower/reports/{code}", api.GetReportByCode)
	router.Get("/api/downloads/{token}", api.Download)
	router.Get("/api/proxy/pdf", api.ProxyPDF)
	router.Get("/api/proxy/video", api.ProxyVideo)
	router.Get("/preview/{previewId}", api.PreviewPage)

	router.Get("/api/events/content", c.Events.HandleContentEvents)
	router.Get("/api/events/ws", c.Events.HandleWebSocket)

	router.Route("/api/admin", func(r chi.Router) {
		if c.Auth != nil {
			r.Use(c.Auth.Middleware())
			r.Use(middleware.RequireRole(model.RoleAdmin, model.RoleEditor))
		}
		if c.Validator != nil {
			r.Use(c.Validator.Middleware())
		}

		r.Post("/pages/preview", api.CreatePreview)
		r.Get("/pages/preview/{previewId}", api.GetPreview)
		r.Get("/pages/{slug}", api.GetAdminPage)
		r.Put("/pages/{slug}", api.PutAdminPage)
		r.Patch("/pages/{slug}", api.PatchAdminPage)

		r.Get("/dynamic-elements/{type}", api.ListElements)
		r.Post("/dynamic-elements/{type}", api.CreateElement)
		r.Patch("/dynamic-elements/{type}", api.ReorderElements)
		r.Put("/dynamic-elements/{type}/{id}", api.UpdateElement)
		r.Delete("/dynamic-elements/{type}/{id}", api.DeleteElement)

		r.Get("/megamenu", api.GetMegamenu)
		r.Post("/megamenu", api.CreateMegamenuItem)
		r.Patch("/megamenu", api.PatchMegamenu)
		r.Put("/megamenu/{id}", api.UpdateMegamenuItem)
		r.Delete("/megamenu/{id}", api.DeleteMegamenuItem)

		r.Get("/notifications", api.ListNotifications)
		r.Post("/notifications", api.CreateNotification)
		r.Post("/notifications/read-all", api.MarkAllNotificationsRead)
		r.Patch("/notifications/{id}", api.UpdateNotification)
		r.Delete("/notifications/{id}", api.DeleteNotification)

		r.Get("/reports", api.ListReports)
		r.Get("/reports/{id}", api.GetReport)
		r.Patch("/reports/{id}", api.UpdateReportStatus)

		r.Post("/downloads/token", api.IssueDownloadToken)
		r.Get("/activity", api.ListActivity)

		r.Group(func(r chi.Router) {
			if c.Auth != nil {
				r.Use(middleware.RequireRole(model.RoleAdmin))
			}
			r.Get("/users", api.ListUsers)
			r.Post("/users", api.CreateUser)
			r.Patch("/users/{id}", api.UpdateUser)
		})
	})

	return router
}

// RegisterOnShutdown добавляет функцию, вызываемую в начале graceful shutdown.
// Нужна, чтобы завершить долгоживущие SSE и websocket соединения:
// Shutdown не отменяет контексты активных запросов.
func (s *Server) RegisterOnShutdown(f func()) {
	s.httpServer.RegisterOnShutdown(f)
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("ошибка открытия порта %s: %w", s.httpServer.Addr, err)
	}
	return s.serve(ln, quit)
}

// serve обслуживает ln до сигнала из quit или ошибки сервера.
func (s *Server) serve(ln net.Listener, quit <-chan os.Signal) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", ln.Addr().String()),
		)

		err := s.httpServer.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
