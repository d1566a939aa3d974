// Точка входа сервиса контента Métrica FM.
// Загружает конфигурацию, открывает хранилище документов (PostgreSQL или SQLite),
// JSON-зеркало и admin-данные, создаёт сервисный слой и API handlers,
// запускает фоновые задачи (кэш, наблюдение за зеркалом, очистка предпросмотров,
// topologymetrics) и HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/metricafm/metrica-cms/internal/api/handlers"
	"github.com/metricafm/metrica-cms/internal/api/middleware"
	"github.com/metricafm/metrica-cms/internal/api/openapi"
	"github.com/metricafm/metrica-cms/internal/broadcast"
	"github.com/metricafm/metrica-cms/internal/config"
	"github.com/metricafm/metrica-cms/internal/database"
	"github.com/metricafm/metrica-cms/internal/repository"
	"github.com/metricafm/metrica-cms/internal/server"
	"github.com/metricafm/metrica-cms/internal/service"
	"github.com/metricafm/metrica-cms/internal/storage/mirror"
)

// mirrorWatchDelay: пауза, после которой накопленные изменения зеркала публикуются.
const mirrorWatchDelay = 500 * time.Millisecond

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Сервис контента запускается",
		slog.String("version", config.Version),
		slog.String("env", cfg.Env),
		slog.Int("port", cfg.Port),
		slog.String("store_driver", cfg.StoreDriver),
	)

	ctx := context.Background()

	// 3. Хранилище документов
	var (
		repo repository.DocumentRepository
		pgDB *sql.DB
	)
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		logger.Info("Применение миграций БД...")
		if err := database.Migrate(cfg, logger); err != nil {
			logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
			os.Exit(1)
		}
		pool, err := database.Connect(ctx, cfg, logger)
		if err != nil {
			logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer pool.Close()

		// Адаптер pgxpool → *sql.DB для topologymetrics: проверка идёт через тот же пул.
		pgDB = stdlib.OpenDBFromPool(pool)
		defer pgDB.Close()

		repo = repository.NewDocumentRepository(pool)
	case config.StoreDriverSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o750); err != nil {
			logger.Error("Ошибка создания каталога SQLite", slog.String("error", err.Error()))
			os.Exit(1)
		}
		store, err := repository.NewSQLiteStore(ctx, cfg.SQLitePath, logger)
		if err != nil {
			logger.Error("Ошибка открытия SQLite", slog.String("path", cfg.SQLitePath), slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer store.Close()
		repo = store
		logger.Info("Хранилище SQLite открыто", slog.String("path", cfg.SQLitePath))
	}

	// 4. JSON-зеркало и admin-данные
	content, err := mirror.New(cfg.ContentDir, mirror.WithBackupRetention(cfg.MirrorBackupRetention))
	if err != nil {
		logger.Error("Ошибка открытия каталога зеркала", slog.String("error", err.Error()))
		os.Exit(1)
	}
	adminData, err := mirror.New(cfg.AdminDataDir, mirror.WithBackupRetention(cfg.MirrorBackupRetention))
	if err != nil {
		logger.Error("Ошибка открытия каталога admin-данных", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defaults, err := service.LoadPageDefaults()
	if err != nil {
		logger.Error("Ошибка загрузки значений по умолчанию", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 5. Шина уведомлений и кэш
	bus := broadcast.New(logger)
	defer bus.Close()

	cache := service.NewCacheService(cfg.CacheSize, cfg.CacheTTL, logger)
	if err := cache.Follow(ctx, bus); err != nil {
		logger.Error("Ошибка подписки кэша на шину", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer cache.Stop()

	// 6. Services
	inv := service.NewInvalidationService(bus, repo, logger)
	pagesSvc := service.NewPageService(repo, content, cache, inv, defaults, logger)
	megamenuSvc, err := service.NewMegamenuService(repo, content, inv, logger)
	if err != nil {
		logger.Error("Ошибка создания сервиса мегаменю", slog.String("error", err.Error()))
		os.Exit(1)
	}
	previewSvc, err := service.NewPreviewService(cfg.PreviewDir, cfg.PublicBaseURL, cfg.PreviewTTL, logger)
	if err != nil {
		logger.Error("Ошибка создания сервиса предпросмотра", slog.String("error", err.Error()))
		os.Exit(1)
	}
	downloadSvc, err := service.NewDownloadService(cfg.MediaDir, cfg.DownloadSecret, cfg.DownloadTTL, logger)
	if err != nil {
		logger.Error("Ошибка создания сервиса скачивания", slog.String("error", err.Error()))
		os.Exit(1)
	}
	notificationSvc := service.NewNotificationService(adminData, logger)
	userSvc := service.NewUserService(adminData, logger)
	reportSvc := service.NewReportService(adminData, notificationSvc, logger)
	proxySvc := service.NewProxyService(&http.Client{}, cfg.ProxyAllowedHosts, cfg.ProxyTimeout, logger)

	// 7. Фоновые задачи
	sweeper := service.NewPreviewSweeper(previewSvc, cfg.PreviewSweepInterval, logger)
	sweeper.Start(ctx)

	var watcher *mirror.Watcher
	if cfg.MirrorWatch {
		watcher, err = mirror.NewWatcher(content,
			[]string{mirror.PagesDir, filepath.Dir(service.MegamenuMirrorPath)},
			mirrorWatchDelay,
			func(names []string) {
				for _, name := range names {
					bus.InvalidateFrom(broadcast.OriginMirror, name)
				}
			},
			logger,
		)
		if err != nil {
			logger.Error("Ошибка создания наблюдателя зеркала", slog.String("error", err.Error()))
			os.Exit(1)
		}
		watcher.Start(ctx)
		logger.Info("Наблюдение за зеркалом включено", slog.String("dir", cfg.ContentDir))
	}

	// 7.1 topologymetrics: только для PostgreSQL
	var dephealthSvc *service.DephealthService
	if pgDB != nil {
		dephealthSvc, err = service.NewDephealthService(
			"metrica-cms",
			cfg.DephealthGroup,
			pgDB,
			cfg.DatabaseURL(),
			cfg.DephealthCheckInterval,
			logger,
		)
		if err != nil {
			logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
				slog.String("error", err.Error()),
			)
		} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
		} else {
			logger.Info("topologymetrics запущен",
				slog.String("group", cfg.DephealthGroup),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 8. Аутентификация админ-API
	var auth *middleware.JWTAuth
	if cfg.JWTJWKSURL != "" {
		auth, err = middleware.NewJWTAuth(
			cfg.JWTJWKSURL,
			cfg.JWTIssuer,
			userSvc,
			cfg.RoleAdminGroups,
			cfg.RoleEditorGroups,
			cfg.JWKSClientTimeout,
			cfg.JWKSRefreshInterval,
			cfg.JWTLeeway,
			logger,
		)
		if err != nil {
			logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
			os.Exit(1)
		}
		auth.WithPasswordFallback(userSvc)
		logger.Info("JWT middleware инициализирован",
			slog.String("jwks_url", cfg.JWTJWKSURL),
			slog.String("issuer", cfg.JWTIssuer),
		)
	} else {
		auth = middleware.NewLocalAuth(userSvc, !cfg.IsProduction(), logger)
		if cfg.IsProduction() {
			logger.Info("JWKS не задан, админ-API доступно по Basic-учётным данным users.json")
		} else {
			logger.Warn("JWKS не задан, анонимные запросы к админ-API получают роль admin")
		}
	}

	// 9. OpenAPI-проверка запросов
	doc, err := openapi.Load(ctx)
	if err != nil {
		logger.Error("Ошибка загрузки OpenAPI документа", slog.String("error", err.Error()))
		os.Exit(1)
	}
	validator, err := middleware.NewRequestValidator(doc, logger)
	if err != nil {
		logger.Error("Ошибка создания OpenAPI валидатора", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 10. Handlers
	healthSvc := service.NewHealthService(database.NewReadinessChecker(repo, cfg.StoreDriver), cfg.ContentDir, config.Version,
		service.DefaultHealthThresholds(), logger)

	apiHandler := handlers.NewAPIHandler(handlers.Services{
		Pages:         pagesSvc,
		Megamenu:      megamenuSvc,
		Previews:      previewSvc,
		Notifications: notificationSvc,
		Users:         userSvc,
		Reports:       reportSvc,
		Downloads:     downloadSvc,
		Proxy:         proxySvc,
		Activity:      inv,
	}, handlers.PublicConfig{
		RecaptchaSiteKey: cfg.RecaptchaSiteKey,
		Environment:      cfg.Env,
		Version:          config.Version,
	}, logger)

	// 11. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, server.Components{
		API:       apiHandler,
		Health:    handlers.NewHealthHandler(healthSvc),
		Events:    handlers.NewEventsHandler(bus, allowedOrigins(cfg), logger),
		Auth:      auth,
		Validator: validator,
	})
	// Закрытие шины завершает SSE и websocket потоки до ожидания Shutdown.
	srv.RegisterOnShutdown(bus.Close)

	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 12. Остановка фоновых задач
	logger.Info("Останавливаем фоновые задачи...")

	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			logger.Warn("Ошибка остановки наблюдателя зеркала", slog.String("error", err.Error()))
		}
	}
	sweeper.Stop()

	logger.Info("Сервис контента остановлен")
}

// allowedOrigins: хосты, с которых разрешён websocket.
// Публичный сайт и локальный фронтенд на том же порту.
func allowedOrigins(cfg *config.Config) []string {
	port := strconv.Itoa(cfg.Port)
	origins := []string{
		net.JoinHostPort("localhost", port),
		net.JoinHostPort("127.0.0.1", port),
	}
	if u, err := url.Parse(cfg.PublicBaseURL); err == nil && u.Host != "" {
		origins = append(origins, strings.ToLower(u.Host))
	}
	return origins
}
