// preview.go: предпросмотр несохранённого контента.
//
// Полезная нагрузка пишется во временный файл preview-<id>.json и живёт TTL (10 минут).
// Истечение проверяется лениво при чтении: просроченный или повреждённый файл
// удаляется, а чтение возвращает nil. Фоновая очистка выполняется PreviewSweeper.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/metricafm/metrica-cms/internal/domain/model"
)

// DefaultPreviewTTL: время жизни предпросмотра.
const DefaultPreviewTTL = 10 * time.Minute

const (
	previewFilePrefix = "preview-"
	previewFileSuffix = ".json"
)

// previewShapes: ожидаемая форма данных каждого компонента.
// Отсутствующие поля заполняются пустыми значениями этого же вида.
var previewShapes = map[string]map[string]any{
	"home": {
		"hero":       map[string]any{"title": "", "subtitle": "", "background_image": ""},
		"statistics": []any{},
		"services":   map[string]any{"title": "", "items": []any{}},
		"portfolio":  map[string]any{"title": "", "items": []any{}},
		"clients":    []any{},
	},
	"services": {
		"hero":     map[string]any{"title": "", "subtitle": ""},
		"services": []any{},
	},
	"portfolio": {
		"hero":       map[string]any{"title": "", "subtitle": ""},
		"projects":   []any{},
		"categories": []any{},
	},
	"careers": {
		"hero":      map[string]any{"title": "", "subtitle": ""},
		"positions": []any{},
		"benefits":  []any{},
	},
	"iso": {
		"hero":          map[string]any{"title": "", "subtitle": ""},
		"certification": map[string]any{"number": "", "issued_at": "", "valid_until": ""},
		"policies":      []any{},
	},
	"cultura": {
		"hero":   map[string]any{"title": "", "subtitle": ""},
		"values": []any{},
		"team":   []any{},
	},
	"compromiso": {
		"hero":    map[string]any{"title": "", "subtitle": ""},
		"pillars": []any{},
	},
	"historia": {
		"hero":     map[string]any{"title": "", "subtitle": ""},
		"timeline": []any{},
	},
	"clientes": {
		"hero":         map[string]any{"title": "", "subtitle": ""},
		"clients":      []any{},
		"testimonials": []any{},
	},
	"contact": {
		"hero":    map[string]any{"title": "", "subtitle": ""},
		"offices": []any{},
		"form":    map[string]any{"title": "", "description": ""},
	},
	"blog": {
		"hero":  map[string]any{"title": "", "subtitle": ""},
		"posts": []any{},
	},
}

// PreviewComponents возвращает известные компоненты предпросмотра.
func PreviewComponents() []string {
	out := make([]string, 0, len(previewShapes))
	for name := range previewShapes {
		out = append(out, name)
	}
	return out
}

// PreviewService: создание и чтение предпросмотров.
type PreviewService struct {
	dir     string
	baseURL string
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// NewPreviewService создаёт сервис и каталог для временных файлов.
func NewPreviewService(dir, baseURL string, ttl time.Duration, logger *slog.Logger) (*PreviewService, error) {
	if ttl <= 0 {
		ttl = DefaultPreviewTTL
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("создание каталога предпросмотров %s: %w", dir, err)
	}
	return &PreviewService{
		dir:     dir,
		baseURL: strings.TrimRight(baseURL, "/"),
		ttl:     ttl,
		now:     time.Now,
		logger:  logger.With(slog.String("service", "preview")),
	}, nil
}

// SetClock подменяет источник времени.
func (s *PreviewService) SetClock(now func() time.Time) {
	s.now = now
}

// Dir возвращает каталог временных файлов.
func (s *PreviewService) Dir() string {
	return s.dir
}

func (s *PreviewService) filePath(id string) string {
	return filepath.Join(s.dir, previewFilePrefix+id+previewFileSuffix)
}

// Create сохраняет предпросмотр и возвращает ссылку на него.
func (s *PreviewService) Create(_ context.Context, component string, data map[string]any) (*model.PreviewRef, error) {
	shape, ok := previewShapes[component]
	if !ok {
		return nil, fmt.Errorf("%w: неизвестный компонент %q", ErrValidation, component)
	}

	now := s.now().UTC()
	payload := model.PreviewPayload{
		Component: component,
		Data:      coerceShape(data, shape),
		Timestamp: now,
		ExpiresAt: now.Add(s.ttl),
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации предпросмотра: %w", err)
	}

	id := uuid.New().String()
	if err := os.WriteFile(s.filePath(id), b, 0o600); err != nil {
		return nil, fmt.Errorf("ошибка записи предпросмотра: %w", err)
	}

	s.logger.Debug("Предпросмотр создан",
		slog.String("preview_id", id),
		slog.String("component", component),
	)

	return &model.PreviewRef{
		PreviewID:  id,
		PreviewURL: s.baseURL + "/preview/" + id,
		ExpiresAt:  payload.ExpiresAt,
	}, nil
}

// Get возвращает предпросмотр или nil. Отсутствие, ошибка чтения и истечение
// срока неразличимы для вызывающего; файл в последних двух случаях удаляется.
func (s *PreviewService) Get(_ context.Context, id string) *model.PreviewPayload {
	if _, err := uuid.Parse(id); err != nil {
		return nil
	}
	path := s.filePath(id)

	b, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.remove(path)
		}
		return nil
	}

	var payload model.PreviewPayload
	if err := json.Unmarshal(b, &payload); err != nil {
		s.logger.Warn("Повреждённый файл предпросмотра удалён",
			slog.String("preview_id", id),
			slog.String("error", err.Error()),
		)
		s.remove(path)
		return nil
	}

	if payload.IsExpired(s.now()) {
		s.remove(path)
		return nil
	}
	return &payload
}

func (s *PreviewService) remove(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("Ошибка удаления файла предпросмотра",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}

// coerceShape заполняет недостающие поля по образцу. Лишние поля сохраняются,
// поле неподходящего вида заменяется пустым значением.
func coerceShape(data map[string]any, shape map[string]any) map[string]any {
	out := make(map[string]any, len(data)+len(shape))
	for k, v := range data {
		out[k] = v
	}
	for key, want := range shape {
		got := out[key]
		switch w := want.(type) {
		case map[string]any:
			m, ok := got.(map[string]any)
			if !ok {
				m = nil
			}
			out[key] = coerceShape(m, w)
		case []any:
			if _, ok := got.([]any); !ok {
				out[key] = []any{}
			}
		case string:
			if _, ok := got.(string); !ok {
				out[key] = w
			}
		}
	}
	return out
}
