package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// selfWriteWindow: события по файлам, записанным через Store за это время, не сообщаются.
const selfWriteWindow = 2 * time.Second

// ChangeHandler получает относительные имена изменённых файлов (например "pages/home.json").
type ChangeHandler func(names []string)

// Watcher следит за каталогами зеркала и сообщает об изменениях,
// сделанных в обход API (ручная правка, восстановление из бэкапа).
// Записи через тот же Store пропускаются в течение selfWriteWindow.
// События группируются: обработчик вызывается после паузы delay.
type Watcher struct {
	store   *Store
	fsw     *fsnotify.Watcher
	delay   time.Duration
	handler ChangeHandler
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer
	started bool
	done    chan struct{}
}

// NewWatcher создаёт наблюдатель за подкаталогами dirs (относительно корня зеркала).
// Отсутствующие подкаталоги создаются.
func NewWatcher(store *Store, dirs []string, delay time.Duration, handler ChangeHandler, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("ошибка создания fsnotify watcher: %w", err)
	}

	for _, d := range dirs {
		full := filepath.Join(store.Root(), filepath.FromSlash(d))
		if err := os.MkdirAll(full, 0o750); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("не удалось создать директорию %s: %w", full, err)
		}
		if err := fsw.Add(full); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("ошибка подписки на %s: %w", full, err)
		}
	}

	return &Watcher{
		store:   store,
		fsw:     fsw,
		delay:   delay,
		handler: handler,
		logger:  logger.With(slog.String("component", "mirror_watcher")),
		pending: make(map[string]struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Start запускает цикл обработки событий до отмены ctx или Stop.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	w.started = true
	w.mu.Unlock()

	go w.loop(ctx)
	w.logger.Info("Наблюдение за зеркалом запущено", slog.String("root", w.store.Root()))
}

// Stop останавливает наблюдение и сбрасывает отложенные события.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.pending = make(map[string]struct{})
	started := w.started
	w.mu.Unlock()

	err := w.fsw.Close()
	if started {
		<-w.done
	}
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Ошибка fsnotify", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	base := filepath.Base(event.Name)
	if !isDocumentFile(base) {
		return
	}
	rel, err := filepath.Rel(w.store.Root(), event.Name)
	if err != nil {
		return
	}
	if w.store.WrittenWithin(rel, selfWriteWindow) {
		w.logger.Debug("Собственная запись пропущена", slog.String("file", filepath.ToSlash(rel)))
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[filepath.ToSlash(rel)] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.delay, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	names := make([]string, 0, len(w.pending))
	for n := range w.pending {
		names = append(names, n)
	}
	w.pending = make(map[string]struct{})
	w.mu.Unlock()

	sort.Strings(names)
	w.logger.Debug("Изменения в зеркале", slog.Any("files", names))
	w.handler(names)
}
