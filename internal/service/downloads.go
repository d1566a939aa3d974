// downloads.go: подписанные ссылки на скачивание медиафайлов.
// Токен: HS256 JWT {sub: относительный путь файла, exp}. Файл ищется только
// внутри каталога медиа, выход за его пределы отклоняется.
package service

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ErrInvalidToken: токен повреждён, подписан другим ключом или просрочен.
var ErrInvalidToken = errors.New("недействительный токен скачивания")

var downloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "cms_downloads_total",
	Help: "Запросы на скачивание по токену (по статусу).",
}, []string{"status"})

// DownloadToken: выданный токен.
type DownloadToken struct {
	Token     string    `json:"token"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// DownloadService выдаёт и проверяет токены скачивания.
type DownloadService struct {
	mediaDir string
	secret   []byte
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewDownloadService создаёт сервис.
func NewDownloadService(mediaDir, secret string, ttl time.Duration, logger *slog.Logger) (*DownloadService, error) {
	abs, err := filepath.Abs(mediaDir)
	if err != nil {
		return nil, fmt.Errorf("ошибка определения пути %s: %w", mediaDir, err)
	}
	if secret == "" {
		return nil, errors.New("секрет токенов скачивания не задан")
	}
	return &DownloadService{
		mediaDir: abs,
		secret:   []byte(secret),
		ttl:      ttl,
		now:      time.Now,
		logger:   logger.With(slog.String("service", "downloads")),
	}, nil
}

// Issue выдаёт токен для существующего файла.
func (s *DownloadService) Issue(file string) (*DownloadToken, error) {
	rel, full, err := s.resolve(file)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		return nil, fmt.Errorf("%w: файл %q", ErrNotFound, file)
	}

	now := s.now()
	exp := now.Add(s.ttl)
	claims := jwt.RegisteredClaims{
		ID:        uuid.New().String(),
		Subject:   rel,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("ошибка подписи токена: %w", err)
	}

	s.logger.Debug("Выдан токен скачивания", slog.String("file", rel))
	return &DownloadToken{
		Token:     signed,
		URL:       "/api/downloads/" + signed,
		ExpiresAt: exp.UTC().Truncate(time.Second),
	}, nil
}

// Resolve проверяет токен и возвращает абсолютный путь файла.
func (s *DownloadService) Resolve(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		downloadsTotal.WithLabelValues("invalid_token").Inc()
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	_, full, err := s.resolve(claims.Subject)
	if err != nil {
		downloadsTotal.WithLabelValues("invalid_path").Inc()
		return "", err
	}
	return full, nil
}

// Open проверяет токен и открывает файл. Вызывающий закрывает файл.
func (s *DownloadService) Open(token string) (*os.File, fs.FileInfo, error) {
	full, err := s.Resolve(token)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		downloadsTotal.WithLabelValues("not_found").Inc()
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: файл", ErrNotFound)
		}
		return nil, nil, fmt.Errorf("ошибка открытия файла: %w", err)
	}
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		_ = f.Close()
		downloadsTotal.WithLabelValues("not_found").Inc()
		return nil, nil, fmt.Errorf("%w: файл", ErrNotFound)
	}
	downloadsTotal.WithLabelValues("success").Inc()
	return f, info, nil
}

// resolve переводит относительное имя в путь внутри mediaDir.
func (s *DownloadService) resolve(file string) (rel, full string, err error) {
	if file == "" || strings.ContainsRune(file, 0) || filepath.IsAbs(file) || strings.HasPrefix(file, "/") {
		return "", "", fmt.Errorf("%w: недопустимое имя файла %q", ErrValidation, file)
	}
	full = filepath.Join(s.mediaDir, filepath.FromSlash(file))
	rel, err = filepath.Rel(s.mediaDir, full)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", "", fmt.Errorf("%w: путь вне каталога медиа %q", ErrValidation, file)
	}
	return filepath.ToSlash(rel), full, nil
}
