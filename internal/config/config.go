// Пакет config: загрузка и валидация конфигурации сервиса контента Métrica
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Драйверы хранилища документов.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"
)

// Config содержит все параметры конфигурации сервиса.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера (PORT)
	Port int
	// Адрес привязки (HOSTNAME)
	Host string
	// Окружение: development или production
	Env string
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Публичный базовый URL сайта (для ссылок предпросмотра)
	PublicBaseURL string

	// --- Хранилище документов ---

	// Драйвер: postgres или sqlite
	StoreDriver string

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// Путь к файлу SQLite (при StoreDriver=sqlite)
	SQLitePath string

	// --- Файловые данные ---

	// Корень JSON-зеркала страниц
	ContentDir string
	// Каталог admin-данных (notifications.json, users.json, reports.json)
	AdminDataDir string
	// Каталог медиафайлов, отдаваемых по download-токенам
	MediaDir string
	// Включить наблюдение за каталогом зеркала (fsnotify)
	MirrorWatch bool
	// Сколько резервных копий одного документа хранить в зеркале
	MirrorBackupRetention int

	// --- Предпросмотр ---

	PreviewDir           string
	PreviewTTL           time.Duration
	PreviewSweepInterval time.Duration

	// --- Кэш контента ---

	CacheSize int
	CacheTTL  time.Duration

	// --- JWT (админ-панель) ---

	// URL JWKS endpoint; пустое значение отключает проверку токенов
	JWTJWKSURL string
	// Ожидаемый issuer JWT
	JWTIssuer string
	// Группы, дающие роль admin
	RoleAdminGroups []string
	// Группы, дающие роль editor
	RoleEditorGroups []string
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Интервал обновления JWKS-ключей
	JWKSRefreshInterval time.Duration
	// Допустимое отклонение часов при проверке JWT
	JWTLeeway time.Duration

	// --- Download-токены ---

	DownloadSecret string
	DownloadTTL    time.Duration

	// --- Прокси PDF/видео ---

	ProxyAllowedHosts []string
	ProxyTimeout      time.Duration
	StorageBucket     string

	// --- reCAPTCHA ---

	RecaptchaSiteKey   string
	RecaptchaSecretKey string

	// --- topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	cfg.Port, err = getEnvInt("PORT", 3000)
	if err != nil {
		return nil, fmt.Errorf("PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	cfg.Host = getEnvDefault("HOSTNAME", "0.0.0.0")

	cfg.Env = getEnvDefault("CMS_ENV", "production")
	if cfg.Env != "development" && cfg.Env != "production" {
		return nil, fmt.Errorf("CMS_ENV: недопустимое значение %q, допустимые: development, production", cfg.Env)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("CMS_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("CMS_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("CMS_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("CMS_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	cfg.PublicBaseURL = strings.TrimRight(getEnvDefault("CMS_PUBLIC_BASE_URL", "http://localhost:3000"), "/")
	if _, err := url.ParseRequestURI(cfg.PublicBaseURL); err != nil {
		return nil, fmt.Errorf("CMS_PUBLIC_BASE_URL: некорректный URL %q", cfg.PublicBaseURL)
	}

	// --- Хранилище документов ---

	cfg.StoreDriver = getEnvDefault("CMS_STORE_DRIVER", StoreDriverPostgres)
	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		if err := loadPostgres(cfg); err != nil {
			return nil, err
		}
	case StoreDriverSQLite:
		cfg.SQLitePath = getEnvDefault("CMS_SQLITE_PATH", filepath.Join("data", "metrica.db"))
	default:
		return nil, fmt.Errorf("CMS_STORE_DRIVER: недопустимое значение %q, допустимые: postgres, sqlite", cfg.StoreDriver)
	}

	// --- Файловые данные ---

	cfg.ContentDir = getEnvDefault("CMS_CONTENT_DIR", filepath.Join("data", "content"))
	cfg.AdminDataDir = getEnvDefault("CMS_ADMIN_DATA_DIR", filepath.Join("data", "admin"))
	cfg.MediaDir = getEnvDefault("CMS_MEDIA_DIR", filepath.Join("data", "media"))
	cfg.MirrorWatch, err = getEnvBool("CMS_MIRROR_WATCH", false)
	if err != nil {
		return nil, fmt.Errorf("CMS_MIRROR_WATCH: %w", err)
	}
	cfg.MirrorBackupRetention, err = getEnvInt("CMS_MIRROR_BACKUP_RETENTION", 10)
	if err != nil {
		return nil, fmt.Errorf("CMS_MIRROR_BACKUP_RETENTION: %w", err)
	}
	if cfg.MirrorBackupRetention < 1 {
		return nil, fmt.Errorf("CMS_MIRROR_BACKUP_RETENTION: значение %d должно быть положительным", cfg.MirrorBackupRetention)
	}

	// --- Предпросмотр ---

	cfg.PreviewDir = getEnvDefault("CMS_PREVIEW_DIR", filepath.Join(os.TempDir(), "metrica-previews"))
	cfg.PreviewTTL, err = getEnvDuration("CMS_PREVIEW_TTL", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("CMS_PREVIEW_TTL: %w", err)
	}
	cfg.PreviewSweepInterval, err = getEnvDuration("CMS_PREVIEW_SWEEP_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("CMS_PREVIEW_SWEEP_INTERVAL: %w", err)
	}

	// --- Кэш контента ---

	cfg.CacheSize, err = getEnvInt("CMS_CACHE_SIZE", 256)
	if err != nil {
		return nil, fmt.Errorf("CMS_CACHE_SIZE: %w", err)
	}
	if cfg.CacheSize < 1 {
		return nil, fmt.Errorf("CMS_CACHE_SIZE: значение %d должно быть положительным", cfg.CacheSize)
	}
	cfg.CacheTTL, err = getEnvDuration("CMS_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("CMS_CACHE_TTL: %w", err)
	}

	// --- JWT ---

	cfg.JWTJWKSURL = getEnvDefault("CMS_JWT_JWKS_URL", "")
	cfg.JWTIssuer = getEnvDefault("CMS_JWT_ISSUER", "")
	cfg.RoleAdminGroups = parseCSV(getEnvDefault("CMS_ROLE_ADMIN_GROUPS", "metrica-admins"))
	cfg.RoleEditorGroups = parseCSV(getEnvDefault("CMS_ROLE_EDITOR_GROUPS", "metrica-editors"))
	cfg.JWKSClientTimeout, err = getEnvDuration("CMS_JWKS_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CMS_JWKS_CLIENT_TIMEOUT: %w", err)
	}
	cfg.JWKSRefreshInterval, err = getEnvDuration("CMS_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("CMS_JWKS_REFRESH_INTERVAL: %w", err)
	}
	cfg.JWTLeeway, err = getEnvDuration("CMS_JWT_LEEWAY", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CMS_JWT_LEEWAY: %w", err)
	}

	// --- Download-токены ---

	cfg.DownloadSecret = getEnvDefault("CMS_DOWNLOAD_SECRET", "")
	if cfg.DownloadSecret == "" {
		if cfg.IsProduction() {
			return nil, fmt.Errorf("CMS_DOWNLOAD_SECRET: обязательная переменная окружения не задана")
		}
		cfg.DownloadSecret = "development-download-secret"
	}
	cfg.DownloadTTL, err = getEnvDuration("CMS_DOWNLOAD_TTL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("CMS_DOWNLOAD_TTL: %w", err)
	}

	// --- Прокси ---

	cfg.ProxyAllowedHosts = parseCSV(getEnvDefault("CMS_PROXY_ALLOWED_HOSTS", "storage.googleapis.com"))
	cfg.StorageBucket = getEnvDefault("CMS_STORAGE_BUCKET", "")
	if cfg.StorageBucket != "" {
		cfg.ProxyAllowedHosts = append(cfg.ProxyAllowedHosts, cfg.StorageBucket+".storage.googleapis.com")
	}
	cfg.ProxyTimeout, err = getEnvDuration("CMS_PROXY_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CMS_PROXY_TIMEOUT: %w", err)
	}

	// --- reCAPTCHA ---

	cfg.RecaptchaSiteKey = getEnvDefault("CMS_RECAPTCHA_SITE_KEY", "")
	cfg.RecaptchaSecretKey = getEnvDefault("CMS_RECAPTCHA_SECRET_KEY", "")

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("CMS_DEPHEALTH_GROUP", "metrica")
	cfg.DephealthCheckInterval, err = getEnvDuration("CMS_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CMS_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvDuration("CMS_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CMS_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// loadPostgres читает параметры подключения к PostgreSQL.
func loadPostgres(cfg *Config) error {
	var err error

	cfg.DBHost, err = getEnvRequired("CMS_DB_HOST")
	if err != nil {
		return err
	}

	cfg.DBPort, err = getEnvInt("CMS_DB_PORT", 5432)
	if err != nil {
		return fmt.Errorf("CMS_DB_PORT: %w", err)
	}

	cfg.DBName, err = getEnvRequired("CMS_DB_NAME")
	if err != nil {
		return err
	}

	cfg.DBUser, err = getEnvRequired("CMS_DB_USER")
	if err != nil {
		return err
	}

	cfg.DBPassword, err = getEnvRequired("CMS_DB_PASSWORD")
	if err != nil {
		return err
	}

	cfg.DBSSLMode = getEnvDefault("CMS_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return fmt.Errorf("CMS_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}
	return nil
}

// IsProduction сообщает, запущен ли сервис в production-окружении.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Addr возвращает адрес для http.Server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL без пароля (для лейблов метрик).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%d/%s", c.DBHost, c.DBPort, c.DBName)
}

// MigrateURL возвращает URL для golang-migrate (драйвер pgx5).
func (c *Config) MigrateURL() string {
	u := url.URL{
		Scheme:   "pgx5",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + c.DBSSLMode,
	}
	return u.String()
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пробелы вокруг элементов убираются, пустые элементы игнорируются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
