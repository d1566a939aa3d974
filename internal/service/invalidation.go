// invalidation.go: обёртка операций записи с уведомлением об изменении контента.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/metricafm/metrica-cms/internal/broadcast"
	"github.com/metricafm/metrica-cms/internal/repository"
)

// OpResult: результат обёрнутой операции. Побочные эффекты зависят только от Success.
type OpResult struct {
	Success bool
}

// InvalidationOptions: дополнительные действия после успешной операции.
type InvalidationOptions struct {
	// PreloadAfterInvalidation: сразу перечитать путь и прогреть кэш
	PreloadAfterInvalidation bool
	// LogActivity: записать действие в журнал activity_log
	LogActivity bool
	// Actor: кто выполнил действие (для журнала)
	Actor string
	// Action: имя действия, например "page.update"
	Action string
}

// Preloader перечитывает документ по пути зеркала и кладёт его в кэш.
type Preloader interface {
	Preload(ctx context.Context, path string) error
}

// ActivityEntry: запись журнала действий.
type ActivityEntry struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	Path      string    `json:"path"`
	Actor     string    `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
}

// InvalidationService связывает операции записи с шиной уведомлений,
// прогревом кэша и журналом действий.
type InvalidationService struct {
	bus    *broadcast.Bus
	repo   repository.DocumentRepository
	now    func() time.Time
	logger *slog.Logger

	mu         sync.RWMutex
	preloaders map[string]Preloader
}

// NewInvalidationService создаёт сервис. repo используется только для журнала действий.
func NewInvalidationService(bus *broadcast.Bus, repo repository.DocumentRepository, logger *slog.Logger) *InvalidationService {
	return &InvalidationService{
		bus:        bus,
		repo:       repo,
		now:        time.Now,
		logger:     logger.With(slog.String("service", "invalidation")),
		preloaders: make(map[string]Preloader),
	}
}

// RegisterPreloader назначает Preloader для путей с префиксом prefix ("pages/").
func (s *InvalidationService) RegisterPreloader(prefix string, p Preloader) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preloaders[prefix] = p
}

// WithCacheInvalidation выполняет op. При ошибке или Success=false ничего не публикуется,
// кэш не прогревается и журнал не пишется. При успехе: уведомление по path,
// затем (по опциям) прогрев кэша и запись в журнал. Сбои прогрева и журнала
// логируются и не меняют результат операции.
func (s *InvalidationService) WithCacheInvalidation(
	ctx context.Context,
	path string,
	op func(ctx context.Context) (OpResult, error),
	opts InvalidationOptions,
) (OpResult, error) {
	result, err := op(ctx)
	if err != nil || !result.Success {
		return result, err
	}

	s.bus.InvalidateFrom(broadcast.OriginService, path)

	if opts.PreloadAfterInvalidation {
		if p := s.preloaderFor(path); p != nil {
			if err := p.Preload(ctx, path); err != nil {
				s.logger.Warn("Ошибка прогрева кэша",
					slog.String("path", path),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	if opts.LogActivity {
		s.logActivity(ctx, path, opts)
	}

	return result, nil
}

// preloaderFor выбирает Preloader с самым длинным подходящим префиксом.
func (s *InvalidationService) preloaderFor(path string) Preloader {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best Preloader
	bestLen := -1
	for prefix, p := range s.preloaders {
		if strings.HasPrefix(path, prefix) && len(prefix) > bestLen {
			best, bestLen = p, len(prefix)
		}
	}
	return best
}

func (s *InvalidationService) logActivity(ctx context.Context, path string, opts InvalidationOptions) {
	entry := ActivityEntry{
		ID:        uuid.New().String(),
		Action:    opts.Action,
		Path:      path,
		Actor:     opts.Actor,
		Timestamp: s.now().UTC(),
	}
	data := map[string]any{
		"id":        entry.ID,
		"action":    entry.Action,
		"path":      entry.Path,
		"actor":     entry.Actor,
		"timestamp": entry.Timestamp.Format(time.RFC3339Nano),
	}
	if err := s.repo.Set(ctx, repository.CollectionActivityLog, entry.ID, data); err != nil {
		s.logger.Warn("Ошибка записи журнала действий",
			slog.String("path", path),
			slog.String("action", opts.Action),
			slog.String("error", err.Error()),
		)
	}
}

// ListActivity возвращает последние записи журнала, новые первыми.
// limit <= 0: без ограничения.
func (s *InvalidationService) ListActivity(ctx context.Context, limit int) ([]ActivityEntry, error) {
	docs, err := s.repo.List(ctx, repository.CollectionActivityLog)
	if err != nil {
		return nil, fmt.Errorf("чтение журнала действий: %w", err)
	}

	entries := make([]ActivityEntry, 0, len(docs))
	for _, d := range docs {
		e := ActivityEntry{ID: d.ID}
		e.Action, _ = d.Data["action"].(string)
		e.Path, _ = d.Data["path"].(string)
		e.Actor, _ = d.Data["actor"].(string)
		if ts, ok := d.Data["timestamp"].(string); ok {
			e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		}
		entries = append(entries, e)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}
