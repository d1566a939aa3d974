// Пакет broadcast: шина уведомлений об изменении контента.
//
// Доставка best-effort, не более одного раза: подписчик с заполненным буфером
// пропускает сообщение, при отсутствии подписчиков сообщение теряется.
// Подтверждений и порядка между подписчиками нет.
package broadcast

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// TypeJSONUpdated: тип сообщения об изменении JSON-документа.
const TypeJSONUpdated = "JSON_UPDATED"

// DefaultBuffer: размер буфера подписки по умолчанию.
const DefaultBuffer = 16

// ErrClosed возвращается при подписке на закрытую шину.
var ErrClosed = errors.New("шина уведомлений закрыта")

var (
	publishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cms_invalidations_published_total",
		Help: "Общее количество опубликованных уведомлений об изменении контента",
	})

	droppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cms_invalidations_dropped_total",
		Help: "Уведомления, не доставленные подписчику из-за заполненного буфера",
	})
)

// Источники уведомлений. Клиентам не передаются.
const (
	// OriginService: запись через API сервиса. Локальный кэш этого процесса
	// к моменту публикации уже сброшен и, возможно, прогрет заново.
	OriginService = "service"
	// OriginMirror: изменение файла зеркала в обход API.
	OriginMirror = "mirror"
)

// Message: уведомление об изменении. Timestamp в миллисекундах Unix.
type Message struct {
	Type      string `json:"type"`
	Path      string `json:"path"`
	Timestamp int64  `json:"timestamp"`
	Origin    string `json:"-"`
}

// Subscription: подписка на шину.
type Subscription struct {
	id   uint64
	ch   chan Message
	bus  *Bus
	once sync.Once
}

// C возвращает канал сообщений. Канал закрывается при отписке или закрытии шины.
func (s *Subscription) C() <-chan Message {
	return s.ch
}

// Close отписывает подписчика. Повторный вызов безопасен.
func (s *Subscription) Close() {
	s.bus.Unsubscribe(s)
}

// Bus: шина публикации/подписки с явным жизненным циклом (New / Close).
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool

	now    func() time.Time
	logger *slog.Logger
}

// New создаёт шину.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		subs:   make(map[uint64]*Subscription),
		now:    time.Now,
		logger: logger.With(slog.String("component", "broadcast")),
	}
}

// Subscribe регистрирует подписчика с буфером buffer (<= 0 означает DefaultBuffer).
func (b *Bus) Subscribe(buffer int) (*Subscription, error) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	b.nextID++
	sub := &Subscription{id: b.nextID, ch: make(chan Message, buffer), bus: b}
	b.subs[sub.id] = sub
	return sub, nil
}

// Unsubscribe удаляет подписчика и закрывает его канал.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub.id]; ok {
		delete(b.subs, sub.id)
		sub.once.Do(func() { close(sub.ch) })
	}
}

// Publish рассылает сообщение всем подписчикам без блокировки.
// Возвращает число подписчиков, получивших сообщение.
func (b *Bus) Publish(msg Message) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0
	}

	publishedTotal.Inc()
	delivered := 0
	for _, sub := range b.subs {
		select {
		case sub.ch <- msg:
			delivered++
		default:
			droppedTotal.Inc()
		}
	}
	return delivered
}

// Invalidate публикует {type: JSON_UPDATED, path, timestamp} без указания источника.
func (b *Bus) Invalidate(path string) {
	b.InvalidateFrom("", path)
}

// InvalidateFrom публикует JSON_UPDATED с источником origin.
func (b *Bus) InvalidateFrom(origin, path string) {
	n := b.Publish(Message{
		Type:      TypeJSONUpdated,
		Path:      path,
		Timestamp: b.now().UnixMilli(),
		Origin:    origin,
	})
	b.logger.Debug("Уведомление об изменении контента",
		slog.String("path", path),
		slog.String("origin", origin),
		slog.Int("delivered", n),
	)
}

// Subscribers возвращает текущее число подписчиков.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close закрывает шину и каналы всех подписчиков.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		sub.once.Do(func() { close(sub.ch) })
	}
	b.logger.Info("Шина уведомлений закрыта")
}
