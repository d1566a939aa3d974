// Пакет mirror: JSON-зеркало документов на диске.
// Один файл на документ, путь выводится из slug. Зеркало не транзакционно
// по отношению к хранилищу документов и служит резервной копией.
// Все операции записи выполняются атомарно: temp → fsync → rename.
package mirror

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/metricafm/metrica-cms/internal/domain/model"
)

var (
	// ErrNotFound: файл зеркала отсутствует.
	ErrNotFound = errors.New("файл зеркала не найден")
	// ErrInvalidName: имя выходит за корень зеркала или не является .json.
	ErrInvalidName = errors.New("недопустимое имя файла зеркала")
)

// backupMarker отделяет имя резервной копии от метки времени.
const backupMarker = ".backup-"

// backupTimeLayout: метка времени резервной копии (UTC, без двоеточий).
const backupTimeLayout = "20060102T150405.000000000Z"

// PagesDir: подкаталог зеркал страниц.
const PagesDir = "pages"

// PathFor возвращает относительный путь зеркала страницы.
// Пример: "home" → "pages/home.json"
func PathFor(slug model.Slug) string {
	return path.Join(PagesDir, string(slug)+".json")
}

// WriteOptions: параметры записи.
type WriteOptions struct {
	// Backup: перед перезаписью скопировать существующий файл в <name>.backup-<ts>.json
	Backup bool
}

// DefaultBackupRetention: сколько резервных копий одного документа хранится.
const DefaultBackupRetention = 10

// Store: файловое хранилище JSON-документов с корнем root.
type Store struct {
	root       string
	now        func() time.Time
	keepBackup int

	// written: время последней записи или удаления через Store, по относительному имени.
	mu      sync.Mutex
	written map[string]time.Time
}

// Option настраивает Store.
type Option func(*Store)

// WithBackupRetention задаёт число хранимых резервных копий на документ.
// Значения меньше 1 заменяются на 1.
func WithBackupRetention(n int) Option {
	return func(s *Store) {
		s.keepBackup = max(n, 1)
	}
}

// New создаёт хранилище и корневую директорию.
func New(root string, opts ...Option) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("ошибка определения пути %s: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию %s: %w", abs, err)
	}
	s := &Store{
		root:       abs,
		now:        time.Now,
		keepBackup: DefaultBackupRetention,
		written:    make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Root возвращает абсолютный путь корня.
func (s *Store) Root() string {
	return s.root
}

// FullPath возвращает абсолютный путь файла по относительному имени.
func (s *Store) FullPath(name string) (string, error) {
	return s.resolve(name)
}

// resolve проверяет имя и переводит его в абсолютный путь внутри root.
func (s *Store) resolve(name string) (string, error) {
	if name == "" || strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	slashed := filepath.ToSlash(name)
	if path.IsAbs(slashed) || filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: абсолютный путь %q", ErrInvalidName, name)
	}
	clean := path.Clean(slashed)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: выход за корень %q", ErrInvalidName, name)
	}
	if !strings.HasSuffix(clean, ".json") {
		return "", fmt.Errorf("%w: ожидается .json %q", ErrInvalidName, name)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// ReadRaw возвращает содержимое файла.
func (s *Store) ReadRaw(name string) ([]byte, error) {
	full, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("ошибка чтения %s: %w", name, err)
	}
	return data, nil
}

// Read читает и десериализует файл в v.
func (s *Store) Read(name string, v any) error {
	data, err := s.ReadRaw(name)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("ошибка десериализации %s: %w", name, err)
	}
	return nil
}

// Write атомарно записывает v в файл.
// Паттерн: JSON → temp файл в той же директории → fsync → rename.
// Параллельные записи в один файл не сериализуются: побеждает последний rename.
func (s *Store) Write(name string, v any, opts WriteOptions) error {
	full, err := s.resolve(name)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации %s: %w", name, err)
	}

	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("не удалось создать директорию %s: %w", dir, err)
	}

	if opts.Backup {
		if err := s.backup(full); err != nil {
			return err
		}
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(full)+".tmp-*")
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	tmpPath := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Chmod(tmpPath, 0o640); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка установки прав: %w", err)
	}

	s.markWritten(full)
	if err := os.Rename(tmpPath, full); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return nil
}

// markWritten: отметка ставится до rename/remove, чтобы наблюдатель уже её видел.
func (s *Store) markWritten(full string) {
	rel, err := filepath.Rel(s.root, full)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.written[filepath.ToSlash(rel)] = time.Now()
	s.mu.Unlock()
}

// WrittenWithin сообщает, изменялся ли файл name через этот Store за последние d.
// Устаревшие отметки удаляются.
func (s *Store) WrittenWithin(name string, d time.Duration) bool {
	key := path.Clean(filepath.ToSlash(name))
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, at := range s.written {
		if now.Sub(at) > d {
			delete(s.written, k)
		}
	}
	_, ok := s.written[key]
	return ok
}

// backup копирует существующий файл в <name>.backup-<ts>.json. Отсутствие файла не ошибка.
func (s *Store) backup(full string) error {
	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("ошибка чтения для резервной копии: %w", err)
	}
	backupPath := BackupName(full, s.now())
	if err := os.WriteFile(backupPath, data, 0o640); err != nil {
		return fmt.Errorf("ошибка записи резервной копии: %w", err)
	}
	return s.pruneBackups(full)
}

// pruneBackups оставляет keepBackup самых новых копий файла full.
// Метка времени в имени сортируется лексикографически.
func (s *Store) pruneBackups(full string) error {
	dir := filepath.Dir(full)
	prefix := strings.TrimSuffix(filepath.Base(full), ".json") + backupMarker

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("ошибка чтения директории %s: %w", dir, err)
	}
	var backups []string
	for _, e := range entries {
		n := e.Name()
		if !e.IsDir() && strings.HasPrefix(n, prefix) && strings.HasSuffix(n, ".json") {
			backups = append(backups, n)
		}
	}
	if len(backups) <= s.keepBackup {
		return nil
	}
	sort.Strings(backups)
	for _, n := range backups[:len(backups)-s.keepBackup] {
		if err := os.Remove(filepath.Join(dir, n)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("ошибка удаления старой резервной копии %s: %w", n, err)
		}
	}
	return nil
}

// BackupName возвращает имя резервной копии для файла.
// Пример: "pages/home.json" → "pages/home.backup-20260301T120000.000000000Z.json"
func BackupName(name string, at time.Time) string {
	base := strings.TrimSuffix(name, ".json")
	return base + backupMarker + at.UTC().Format(backupTimeLayout) + ".json"
}

// IsBackup сообщает, является ли имя резервной копией.
func IsBackup(name string) bool {
	return strings.Contains(filepath.Base(name), backupMarker)
}

// Exists проверяет наличие файла.
func (s *Store) Exists(name string) bool {
	full, err := s.resolve(name)
	if err != nil {
		return false
	}
	info, err := os.Stat(full)
	return err == nil && !info.IsDir()
}

// Delete удаляет файл. Отсутствующий файл: ErrNotFound.
func (s *Store) Delete(name string) error {
	full, err := s.resolve(name)
	if err != nil {
		return err
	}
	s.markWritten(full)
	if err := os.Remove(full); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("ошибка удаления %s: %w", name, err)
	}
	return nil
}

// List возвращает относительные имена .json файлов в поддиректории dir
// (не рекурсивно), без резервных копий и временных файлов. Порядок по имени.
func (s *Store) List(dir string) ([]string, error) {
	clean := path.Clean(filepath.ToSlash(dir))
	if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, dir)
	}

	entries, err := os.ReadDir(filepath.Join(s.root, filepath.FromSlash(clean)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("ошибка чтения директории %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() || !isDocumentFile(n) {
			continue
		}
		names = append(names, path.Join(clean, n))
	}
	sort.Strings(names)
	return names, nil
}

// isDocumentFile отсекает резервные копии, временные и скрытые файлы.
func isDocumentFile(base string) bool {
	return strings.HasSuffix(base, ".json") &&
		!strings.HasPrefix(base, ".") &&
		!strings.Contains(base, backupMarker)
}
