// pages.go: сервис контента страниц.
//
// Чтение для админ-панели идёт только в хранилище документов. Публичное чтение
// кэшируется и откатывается: хранилище → JSON-зеркало → значения по умолчанию.
// Запись двойная: хранилище (сбой логируется и поглощается), затем всегда зеркало,
// затем уведомление шины. Транзакции между шагами нет; версия в _meta растёт,
// но не сравнивается, параллельные записи не сериализуются.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/metricafm/metrica-cms/internal/domain/model"
	"github.com/metricafm/metrica-cms/internal/repository"
	"github.com/metricafm/metrica-cms/internal/storage/mirror"
)

var docstoreWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "cms_docstore_write_failures_total",
	Help: "Сбои записи в хранилище документов, поглощённые двойной записью.",
})

// PageService: чтение и запись страниц.
type PageService struct {
	repo     repository.DocumentRepository
	mirror   *mirror.Store
	cache    *CacheService
	inv      *InvalidationService
	defaults *PageDefaults
	now      func() time.Time
	logger   *slog.Logger
}

// NewPageService создаёт сервис и регистрирует его как Preloader для путей "pages/".
func NewPageService(
	repo repository.DocumentRepository,
	mirrorStore *mirror.Store,
	cache *CacheService,
	inv *InvalidationService,
	defaults *PageDefaults,
	logger *slog.Logger,
) *PageService {
	s := &PageService{
		repo:     repo,
		mirror:   mirrorStore,
		cache:    cache,
		inv:      inv,
		defaults: defaults,
		now:      time.Now,
		logger:   logger.With(slog.String("service", "pages")),
	}
	inv.RegisterPreloader(mirror.PagesDir+"/", s)
	return s
}

// parseSlug проверяет slug по фиксированному набору.
func parseSlug(slug string) (model.Slug, error) {
	sl, ok := model.ParseSlug(slug)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownSlug, slug)
	}
	return sl, nil
}

// GetPage читает страницу из хранилища документов. Отката на зеркало нет.
// Неизвестный slug: ErrUnknownSlug, отсутствующий документ: ErrNotFound.
func (s *PageService) GetPage(ctx context.Context, slug string) (*model.PageResult, error) {
	sl, err := parseSlug(slug)
	if err != nil {
		return nil, err
	}

	doc, err := s.repo.Get(ctx, repository.CollectionPages, string(sl))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: страница %q", ErrNotFound, slug)
		}
		return nil, fmt.Errorf("ошибка чтения страницы %q: %w", slug, err)
	}

	return &model.PageResult{
		Slug:    sl,
		Content: s.fromStore(sl, doc.Data),
		Source:  model.SourceFirestore,
	}, nil
}

// GetPublicPage возвращает страницу для сайта через кэш.
// Всегда отдаёт содержимое: при отсутствии записей используются значения по умолчанию.
func (s *PageService) GetPublicPage(ctx context.Context, slug string) (*model.PageResult, error) {
	sl, err := parseSlug(slug)
	if err != nil {
		return nil, err
	}

	key := mirror.PathFor(sl)
	if cached, ok := s.cache.Get(key); ok {
		return cached, nil
	}

	content, source := s.loadCurrent(ctx, sl)
	result := &model.PageResult{Slug: sl, Content: content, Source: source}
	s.cache.Set(key, result)
	return result, nil
}

// Preload перечитывает страницу по пути зеркала и кладёт в кэш.
func (s *PageService) Preload(ctx context.Context, path string) error {
	name := strings.TrimSuffix(strings.TrimPrefix(path, mirror.PagesDir+"/"), ".json")
	sl, err := parseSlug(name)
	if err != nil {
		return err
	}
	content, source := s.loadCurrent(ctx, sl)
	s.cache.Set(path, &model.PageResult{Slug: sl, Content: content, Source: source})
	return nil
}

// loadCurrent: хранилище → зеркало → значения по умолчанию.
func (s *PageService) loadCurrent(ctx context.Context, sl model.Slug) (model.PageContent, string) {
	doc, err := s.repo.Get(ctx, repository.CollectionPages, string(sl))
	switch {
	case err == nil:
		return s.fromStore(sl, doc.Data), model.SourceFirestore
	case !errors.Is(err, repository.ErrNotFound):
		s.logger.Warn("Хранилище документов недоступно, чтение из зеркала",
			slog.String("slug", string(sl)),
			slog.String("error", err.Error()),
		)
	}

	var content model.PageContent
	if err := s.mirror.Read(mirror.PathFor(sl), &content); err == nil && content != nil {
		return content, model.SourceJSON
	} else if err != nil && !errors.Is(err, mirror.ErrNotFound) {
		s.logger.Warn("Ошибка чтения зеркала страницы",
			slog.String("slug", string(sl)),
			slog.String("error", err.Error()),
		)
	}

	return s.defaults.Get(sl), model.SourceDefault
}

// fromStore приводит документ хранилища к виду API (разворачивает массивы).
func (s *PageService) fromStore(sl model.Slug, data map[string]any) model.PageContent {
	if flattenedPages[sl] {
		return model.PageContent(unflattenDocument(data))
	}
	return model.PageContent(data)
}

// toStore готовит документ для хранилища.
func toStore(sl model.Slug, content model.PageContent) map[string]any {
	if flattenedPages[sl] {
		return flattenDocument(content)
	}
	return content
}

// PutPage заменяет содержимое страницы.
func (s *PageService) PutPage(ctx context.Context, slug string, content model.PageContent, actor string) (*model.WriteResult, error) {
	sl, err := parseSlug(slug)
	if err != nil {
		return nil, err
	}
	if err := validatePageContent(sl, content); err != nil {
		return nil, err
	}
	return s.putPage(ctx, sl, content, actor, "page.update")
}

// PatchPage сливает patch с текущим содержимым на верхнем уровне и записывает результат.
func (s *PageService) PatchPage(ctx context.Context, slug string, patch model.PageContent, actor string) (*model.WriteResult, error) {
	sl, err := parseSlug(slug)
	if err != nil {
		return nil, err
	}
	if len(patch) == 0 {
		return nil, fmt.Errorf("%w: пустой patch", ErrValidation)
	}

	current, _ := s.loadCurrent(ctx, sl)
	merged := current.Clone()
	for k, v := range patch {
		if k == model.MetaKey {
			continue
		}
		merged[k] = v
	}
	if err := validatePageContent(sl, merged); err != nil {
		return nil, err
	}
	return s.putPage(ctx, sl, merged, actor, "page.patch")
}

// putPage выполняет двойную запись внутри WithCacheInvalidation.
func (s *PageService) putPage(ctx context.Context, sl model.Slug, content model.PageContent, actor, action string) (*model.WriteResult, error) {
	var result *model.WriteResult
	_, err := s.inv.WithCacheInvalidation(ctx, mirror.PathFor(sl),
		func(ctx context.Context) (OpResult, error) {
			r, err := s.write(ctx, sl, content, actor)
			if err != nil {
				return OpResult{}, err
			}
			result = r
			return OpResult{Success: r.Success}, nil
		},
		InvalidationOptions{
			PreloadAfterInvalidation: true,
			LogActivity:              true,
			Actor:                    actor,
			Action:                   action,
		},
	)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// write: шаг 1 (хранилище, сбой поглощается) и шаг 2 (зеркало, обязателен).
func (s *PageService) write(ctx context.Context, sl model.Slug, content model.PageContent, actor string) (*model.WriteResult, error) {
	prev, _ := s.loadCurrent(ctx, sl)
	meta := model.PageMeta{
		Version:   prev.Meta().Version + 1,
		UpdatedAt: s.now().UTC(),
		UpdatedBy: actor,
	}
	doc := content.WithMeta(meta)
	result := &model.WriteResult{Version: meta.Version}

	if err := s.repo.Set(ctx, repository.CollectionPages, string(sl), toStore(sl, doc)); err != nil {
		docstoreWriteFailures.Inc()
		result.StoreError = err.Error()
		s.logger.Warn("Запись в хранилище документов не удалась, продолжаем с зеркалом",
			slog.String("slug", string(sl)),
			slog.String("error", err.Error()),
		)
	} else {
		result.Sources = append(result.Sources, model.SourceFirestore)
	}

	if err := s.mirror.Write(mirror.PathFor(sl), doc, mirror.WriteOptions{Backup: true}); err != nil {
		return nil, fmt.Errorf("ошибка записи зеркала страницы %q: %w", sl, err)
	}
	result.Sources = append(result.Sources, model.SourceJSON)
	s.cache.Delete(mirror.PathFor(sl))

	result.Success = true
	result.Reconciliation = model.ReconciliationInSync
	if len(result.Sources) == 1 {
		result.Reconciliation = model.ReconciliationJSONOnly
	}

	s.logger.Info("Страница сохранена",
		slog.String("slug", string(sl)),
		slog.Int("version", meta.Version),
		slog.Any("sources", result.Sources),
		slog.String("actor", actor),
	)
	return result, nil
}

// validatePageContent проверяет документ на границе: массивы элементов страницы,
// если присутствуют, должны состоять из объектов с уникальным непустым id.
func validatePageContent(sl model.Slug, content model.PageContent) error {
	if content == nil {
		return fmt.Errorf("%w: content обязателен", ErrValidation)
	}
	if meta, ok := content[model.MetaKey]; ok && meta != nil {
		if _, isObj := meta.(map[string]any); !isObj {
			return fmt.Errorf("%w: %s должен быть объектом", ErrValidation, model.MetaKey)
		}
	}
	if flattenedPages[sl] {
		if at, ok := reservedIndexPath(content); ok {
			return fmt.Errorf("%w: %s: поле %q зарезервировано", ErrValidation, at, flattenIndexKey)
		}
	}
	for _, spec := range model.ElementSpecs() {
		if spec.Page != sl {
			continue
		}
		raw, ok := content[spec.Field]
		if !ok || raw == nil {
			continue
		}
		items, ok := raw.([]any)
		if !ok {
			return fmt.Errorf("%w: %s должен быть массивом", ErrValidation, spec.Field)
		}
		seen := make(map[string]bool, len(items))
		for i, item := range items {
			obj, ok := item.(map[string]any)
			if !ok {
				return fmt.Errorf("%w: %s[%d] должен быть объектом", ErrValidation, spec.Field, i)
			}
			id, _ := obj["id"].(string)
			if id == "" {
				return fmt.Errorf("%w: %s[%d].id обязателен", ErrValidation, spec.Field, i)
			}
			if seen[id] {
				return fmt.Errorf("%w: %s: повторяющийся id %q", ErrValidation, spec.Field, id)
			}
			seen[id] = true
		}
	}
	return nil
}

// SeedDefaults записывает значения по умолчанию для всех страниц.
// Без overwrite страницы, уже существующие в хранилище, пропускаются.
func (s *PageService) SeedDefaults(ctx context.Context, overwrite bool) ([]model.Slug, error) {
	var written []model.Slug
	for _, sl := range model.AllSlugs() {
		if !overwrite {
			if _, err := s.repo.Get(ctx, repository.CollectionPages, string(sl)); err == nil {
				continue
			}
		}
		if _, err := s.putPage(ctx, sl, s.defaults.Get(sl), "seed", "page.seed"); err != nil {
			return written, fmt.Errorf("seed %q: %w", sl, err)
		}
		written = append(written, sl)
	}
	return written, nil
}
