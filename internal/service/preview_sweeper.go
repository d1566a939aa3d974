// preview_sweeper.go: фоновая очистка просроченных предпросмотров.
//
// Ленивая проверка при чтении остаётся основной; sweeper лишь убирает файлы,
// которые никто не прочитал (в том числе пережившие перезапуск процесса).
package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/metricafm/metrica-cms/internal/domain/model"
)

var (
	previewSweepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cms_preview_sweeps_total",
		Help: "Количество запусков очистки предпросмотров",
	})

	previewsExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cms_previews_expired_total",
		Help: "Количество удалённых просроченных или повреждённых предпросмотров",
	})
)

// SweepResult: итог одного прохода.
type SweepResult struct {
	Scanned  int
	Removed  int
	Errors   int
	Duration time.Duration
}

// PreviewSweeper периодически удаляет просроченные файлы предпросмотров.
type PreviewSweeper struct {
	previews *PreviewService
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex // защита от параллельного RunOnce
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPreviewSweeper создаёт sweeper.
func NewPreviewSweeper(previews *PreviewService, interval time.Duration, logger *slog.Logger) *PreviewSweeper {
	return &PreviewSweeper{
		previews: previews,
		interval: interval,
		logger:   logger.With(slog.String("component", "preview_sweeper")),
	}
}

// Start запускает фоновую горутину с периодическим тикером.
func (s *PreviewSweeper) Start(ctx context.Context) {
	sweepCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(sweepCtx)

	s.logger.Info("Очистка предпросмотров запущена",
		slog.String("interval", s.interval.String()),
	)
}

// Stop останавливает фоновую горутину и дожидается её завершения.
func (s *PreviewSweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("Очистка предпросмотров остановлена")
}

func (s *PreviewSweeper) run(ctx context.Context) {
	defer close(s.done)

	s.RunOnce()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce()
		}
	}
}

// RunOnce выполняет один проход по каталогу предпросмотров.
func (s *PreviewSweeper) RunOnce() *SweepResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	result := &SweepResult{}
	now := s.previews.now()

	entries, err := os.ReadDir(s.previews.Dir())
	if err != nil {
		s.logger.Error("Ошибка чтения каталога предпросмотров",
			slog.String("error", err.Error()),
		)
		result.Errors++
		return result
	}

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, previewFilePrefix) || !strings.HasSuffix(name, previewFileSuffix) {
			continue
		}
		result.Scanned++
		path := filepath.Join(s.previews.Dir(), name)

		if !expiredFile(path, now) {
			continue
		}
		if err := os.Remove(path); err != nil {
			if !os.IsNotExist(err) {
				result.Errors++
				s.logger.Warn("Ошибка удаления предпросмотра",
					slog.String("file", name),
					slog.String("error", err.Error()),
				)
			}
			continue
		}
		result.Removed++
		previewsExpiredTotal.Inc()
	}

	result.Duration = time.Since(start)
	previewSweepsTotal.Inc()

	if result.Removed > 0 || result.Errors > 0 {
		s.logger.Info("Очистка предпросмотров завершена",
			slog.Int("scanned", result.Scanned),
			slog.Int("removed", result.Removed),
			slog.Int("errors", result.Errors),
			slog.String("duration", result.Duration.String()),
		)
	}
	return result
}

// expiredFile: файл просрочен или не читается как предпросмотр.
func expiredFile(path string, now time.Time) bool {
	b, err := os.ReadFile(path)
	if err != nil {
		return !os.IsNotExist(err)
	}
	var payload model.PreviewPayload
	if err := json.Unmarshal(b, &payload); err != nil {
		return true
	}
	return payload.IsExpired(now)
}
