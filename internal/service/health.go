// health.go: проверка состояния сервиса для /api/health и readiness probe.
//
// Проверки выполняются параллельно:
//   - database: ping хранилища документов (таймаут 3 секунды)
//   - filesystem: запись пробного файла в корень зеркала и свободное место
//   - memory: объём кучи относительно порогов
//
// Итоговый статус: худший из статусов проверок.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

// Статусы проверок.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

var statusRank = map[string]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}

// ReadinessChecker: проверка одной зависимости ("ok" или "fail" и сообщение).
type ReadinessChecker interface {
	CheckReady(ctx context.Context) (status string, message string)
}

// ProbeResult: результат одной проверки.
type ProbeResult struct {
	Status  string         `json:"status"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// HealthReport: сводный ответ.
type HealthReport struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Services  struct {
		Database   ProbeResult `json:"database"`
		Filesystem ProbeResult `json:"filesystem"`
		Memory     ProbeResult `json:"memory"`
	} `json:"services"`
}

// HealthThresholds: пороги filesystem и memory.
type HealthThresholds struct {
	// MinFreeBytes: ниже этого значения filesystem считается degraded
	MinFreeBytes uint64
	// HeapDegradedBytes / HeapUnhealthyBytes: пороги занятой кучи
	HeapDegradedBytes  uint64
	HeapUnhealthyBytes uint64
}

// DefaultHealthThresholds возвращает пороги по умолчанию.
func DefaultHealthThresholds() HealthThresholds {
	return HealthThresholds{
		MinFreeBytes:       512 << 20,
		HeapDegradedBytes:  512 << 20,
		HeapUnhealthyBytes: 1 << 30,
	}
}

// HealthService выполняет проверки.
type HealthService struct {
	db         ReadinessChecker
	contentDir string
	version    string
	thresholds HealthThresholds
	now        func() time.Time
	logger     *slog.Logger

	// подменяются в тестах
	diskFree  func(path string) (uint64, error)
	heapAlloc func() uint64
}

// NewHealthService создаёт сервис. db может быть nil (проверка вернёт unhealthy).
func NewHealthService(db ReadinessChecker, contentDir, version string, thresholds HealthThresholds, logger *slog.Logger) *HealthService {
	return &HealthService{
		db:         db,
		contentDir: contentDir,
		version:    version,
		thresholds: thresholds,
		now:        time.Now,
		logger:     logger.With(slog.String("service", "health")),
		diskFree:   diskFree,
		heapAlloc: func() uint64 {
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			return m.HeapAlloc
		},
	}
}

// Check выполняет все проверки параллельно.
func (s *HealthService) Check(ctx context.Context) *HealthReport {
	report := &HealthReport{
		Timestamp: s.now().UTC(),
		Version:   s.version,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		report.Services.Database = s.checkDatabase(gctx)
		return nil
	})
	g.Go(func() error {
		report.Services.Filesystem = s.checkFilesystem()
		return nil
	})
	g.Go(func() error {
		report.Services.Memory = s.checkMemory()
		return nil
	})
	_ = g.Wait()

	report.Status = WorstStatus(
		report.Services.Database.Status,
		report.Services.Filesystem.Status,
		report.Services.Memory.Status,
	)
	if report.Status != StatusHealthy {
		s.logger.Warn("Проверка состояния не пройдена",
			slog.String("status", report.Status),
			slog.String("database", report.Services.Database.Status),
			slog.String("filesystem", report.Services.Filesystem.Status),
			slog.String("memory", report.Services.Memory.Status),
		)
	}
	return report
}

// checkDatabase: недоступность хранилища документов даёт degraded,
// так как чтение откатывается на зеркало, а запись продолжается в json_only.
func (s *HealthService) checkDatabase(ctx context.Context) ProbeResult {
	if s.db == nil {
		return ProbeResult{Status: StatusUnhealthy, Message: "не инициализирован"}
	}
	status, msg := s.db.CheckReady(ctx)
	if status == "ok" {
		return ProbeResult{Status: StatusHealthy, Message: msg}
	}
	return ProbeResult{Status: StatusDegraded, Message: msg}
}

// checkFilesystem: зеркало обязательно для записи, поэтому невозможность
// записи даёт unhealthy. Мало места: degraded.
func (s *HealthService) checkFilesystem() ProbeResult {
	probe, err := os.CreateTemp(s.contentDir, ".health-*")
	if err != nil {
		return ProbeResult{Status: StatusUnhealthy, Message: fmt.Sprintf("каталог контента недоступен для записи: %v", err)}
	}
	name := probe.Name()
	_, werr := probe.WriteString("ok")
	_ = probe.Close()
	_ = os.Remove(name)
	if werr != nil {
		return ProbeResult{Status: StatusUnhealthy, Message: fmt.Sprintf("ошибка записи: %v", werr)}
	}

	free, err := s.diskFree(s.contentDir)
	if err != nil {
		return ProbeResult{Status: StatusDegraded, Message: err.Error()}
	}
	details := map[string]any{"free_bytes": free, "path": filepath.Clean(s.contentDir)}
	if free < s.thresholds.MinFreeBytes {
		return ProbeResult{Status: StatusDegraded, Message: "мало свободного места", Details: details}
	}
	return ProbeResult{Status: StatusHealthy, Details: details}
}

func (s *HealthService) checkMemory() ProbeResult {
	heap := s.heapAlloc()
	details := map[string]any{"heap_alloc_bytes": heap}
	switch {
	case heap >= s.thresholds.HeapUnhealthyBytes:
		return ProbeResult{Status: StatusUnhealthy, Message: "превышен критический порог памяти", Details: details}
	case heap >= s.thresholds.HeapDegradedBytes:
		return ProbeResult{Status: StatusDegraded, Message: "высокое потребление памяти", Details: details}
	default:
		return ProbeResult{Status: StatusHealthy, Details: details}
	}
}

// WorstStatus возвращает худший статус. Неизвестный статус считается unhealthy.
func WorstStatus(statuses ...string) string {
	worst := StatusHealthy
	for _, st := range statuses {
		rank, ok := statusRank[st]
		if !ok {
			return StatusUnhealthy
		}
		if rank > statusRank[worst] {
			worst = st
		}
	}
	return worst
}

// diskFree возвращает доступное место в байтах (Unix).
func diskFree(path string) (uint64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, fmt.Errorf("ошибка statfs %s: %w", path, err)
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}
