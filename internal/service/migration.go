package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"

	"github.com/metricafm/metrica-cms/internal/domain/model"
	"github.com/metricafm/metrica-cms/internal/repository"
	"github.com/metricafm/metrica-cms/internal/storage/mirror"
)

// Статусы элементов отчёта переноса.
const (
	MigrationImported = "imported"
	MigrationExported = "exported"
	MigrationSeeded   = "seeded"
	MigrationSkipped  = "skipped"
	MigrationDryRun   = "dry_run"

	VerifyInSync    = "in_sync"
	VerifyJSONOnly  = "json_only"
	VerifyStoreOnly = "store_only"
	VerifyDiffers   = "differs"
	VerifyMissing   = "missing"
)

// DefaultMigrationConcurrency: одновременных документов при переносе.
const DefaultMigrationConcurrency = 4

// MigrationItem: результат по одному документу.
type MigrationItem struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// migrationTarget связывает документ хранилища с файлом зеркала.
type migrationTarget struct {
	name       string
	collection string
	id         string
	mirrorPath string
	flattened  bool
}

func migrationTargets() []migrationTarget {
	slugs := model.AllSlugs()
	out := make([]migrationTarget, 0, len(slugs)+1)
	for _, sl := range slugs {
		out = append(out, migrationTarget{
			name:       string(sl),
			collection: repository.CollectionPages,
			id:         string(sl),
			mirrorPath: mirror.PathFor(sl),
			flattened:  flattenedPages[sl],
		})
	}
	return append(out, migrationTarget{
		name:       megamenuID,
		collection: repository.CollectionSettings,
		id:         megamenuID,
		mirrorPath: MegamenuMirrorPath,
	})
}

func (t migrationTarget) toStore(doc map[string]any) map[string]any {
	if t.flattened {
		return flattenDocument(doc)
	}
	return doc
}

func (t migrationTarget) fromStore(doc map[string]any) map[string]any {
	if t.flattened {
		return unflattenDocument(doc)
	}
	return doc
}

// MigrationService переносит документы между зеркалом и хранилищем.
// Работает в обход шины уведомлений: запускается отдельно от сервера.
type MigrationService struct {
	repo        repository.DocumentRepository
	mirror      *mirror.Store
	concurrency int
	logger      *slog.Logger
}

// NewMigrationService создаёт сервис. concurrency <= 0: значение по умолчанию.
func NewMigrationService(repo repository.DocumentRepository, mirrorStore *mirror.Store, concurrency int, logger *slog.Logger) *MigrationService {
	if concurrency <= 0 {
		concurrency = DefaultMigrationConcurrency
	}
	return &MigrationService{
		repo:        repo,
		mirror:      mirrorStore,
		concurrency: concurrency,
		logger:      logger.With(slog.String("service", "migration")),
	}
}

// forEach выполняет fn для всех документов параллельно.
// Порядок результатов совпадает с порядком migrationTargets.
func (s *MigrationService) forEach(ctx context.Context, fn func(ctx context.Context, t migrationTarget) (MigrationItem, error)) ([]MigrationItem, error) {
	targets := migrationTargets()
	items := make([]MigrationItem, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, t := range targets {
		g.Go(func() error {
			item, err := fn(gctx, t)
			if err != nil {
				return fmt.Errorf("%s: %w", t.name, err)
			}
			items[i] = item
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}

// Import копирует файлы зеркала в хранилище (массивы страниц разворачиваются в карты).
// dryRun: только проверить, что файлы читаются.
func (s *MigrationService) Import(ctx context.Context, dryRun bool) ([]MigrationItem, error) {
	return s.forEach(ctx, func(ctx context.Context, t migrationTarget) (MigrationItem, error) {
		var doc map[string]any
		if err := s.mirror.Read(t.mirrorPath, &doc); err != nil {
			if errors.Is(err, mirror.ErrNotFound) {
				return MigrationItem{Name: t.name, Status: MigrationSkipped, Detail: "нет файла зеркала"}, nil
			}
			return MigrationItem{}, err
		}
		if t.flattened {
			if at, ok := reservedIndexPath(doc); ok {
				return MigrationItem{
					Name:   t.name,
					Status: MigrationSkipped,
					Detail: fmt.Sprintf("%s: поле %q зарезервировано", at, flattenIndexKey),
				}, nil
			}
		}
		if dryRun {
			return MigrationItem{Name: t.name, Status: MigrationDryRun}, nil
		}
		if err := s.repo.Set(ctx, t.collection, t.id, t.toStore(doc)); err != nil {
			return MigrationItem{}, err
		}
		s.logger.Info("Документ импортирован", slog.String("name", t.name))
		return MigrationItem{Name: t.name, Status: MigrationImported}, nil
	})
}

// Export записывает документы хранилища в зеркало с резервными копиями.
func (s *MigrationService) Export(ctx context.Context) ([]MigrationItem, error) {
	return s.forEach(ctx, func(ctx context.Context, t migrationTarget) (MigrationItem, error) {
		doc, err := s.repo.Get(ctx, t.collection, t.id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return MigrationItem{Name: t.name, Status: MigrationSkipped, Detail: "нет документа в хранилище"}, nil
			}
			return MigrationItem{}, err
		}
		if err := s.mirror.Write(t.mirrorPath, t.fromStore(doc.Data), mirror.WriteOptions{Backup: true}); err != nil {
			return MigrationItem{}, err
		}
		s.logger.Info("Документ экспортирован", slog.String("name", t.name))
		return MigrationItem{Name: t.name, Status: MigrationExported}, nil
	})
}

// Verify сравнивает хранилище и зеркало по каждому документу.
// Для differs в Detail кладётся diff (хранилище → зеркало).
func (s *MigrationService) Verify(ctx context.Context) ([]MigrationItem, error) {
	return s.forEach(ctx, func(ctx context.Context, t migrationTarget) (MigrationItem, error) {
		var stored map[string]any
		doc, err := s.repo.Get(ctx, t.collection, t.id)
		switch {
		case err == nil:
			stored = t.fromStore(doc.Data)
		case !errors.Is(err, repository.ErrNotFound):
			return MigrationItem{}, err
		}

		var mirrored map[string]any
		if err := s.mirror.Read(t.mirrorPath, &mirrored); err != nil && !errors.Is(err, mirror.ErrNotFound) {
			return MigrationItem{}, err
		}

		item := MigrationItem{Name: t.name}
		switch {
		case stored == nil && mirrored == nil:
			item.Status = VerifyMissing
		case stored == nil:
			item.Status = VerifyJSONOnly
		case mirrored == nil:
			item.Status = VerifyStoreOnly
		default:
			if diff := cmp.Diff(stored, mirrored); diff != "" {
				item.Status = VerifyDiffers
				item.Detail = diff
			} else {
				item.Status = VerifyInSync
			}
		}
		return item, nil
	})
}
