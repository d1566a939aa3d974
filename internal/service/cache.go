// cache.go: LRU-кэш прочитанных страниц с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable. Ключ: путь зеркала ("pages/home.json"),
// по которому же публикуются уведомления шины.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/metricafm/metrica-cms/internal/broadcast"
	"github.com/metricafm/metrica-cms/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cms_content_cache_hits_total",
		Help: "Общее количество попаданий в кэш контента.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cms_content_cache_misses_total",
		Help: "Общее количество промахов кэша контента.",
	})
)

// CacheService: кэш страниц, сбрасываемый по уведомлениям шины.
type CacheService struct {
	cache  *expirable.LRU[string, *model.PageResult]
	logger *slog.Logger

	mu   sync.Mutex
	sub  *broadcast.Subscription
	done chan struct{}
}

// NewCacheService создаёт кэш с максимальным размером maxSize и временем жизни ttl.
func NewCacheService(maxSize int, ttl time.Duration, logger *slog.Logger) *CacheService {
	return &CacheService{
		cache:  expirable.NewLRU[string, *model.PageResult](maxSize, nil, ttl),
		logger: logger.With(slog.String("component", "content_cache")),
	}
}

// Get возвращает страницу из кэша. Обновляет метрики hit/miss.
func (c *CacheService) Get(key string) (*model.PageResult, bool) {
	val, ok := c.cache.Get(key)
	if ok {
		cacheHitsTotal.Inc()
		return val, true
	}
	cacheMissesTotal.Inc()
	return nil, false
}

// Set добавляет или обновляет запись.
func (c *CacheService) Set(key string, page *model.PageResult) {
	c.cache.Add(key, page)
}

// Delete удаляет запись.
func (c *CacheService) Delete(key string) {
	c.cache.Remove(key)
}

// Len возвращает число записей.
func (c *CacheService) Len() int {
	return c.cache.Len()
}

// Follow подписывает кэш на шину: JSON_UPDATED удаляет запись по path.
// Сообщения с источником OriginService пропускаются: сервис сбрасывает запись
// синхронно до публикации, а асинхронное удаление стёрло бы прогретое значение.
// Горутина завершается при отмене ctx, вызове Stop или закрытии шины.
func (c *CacheService) Follow(ctx context.Context, bus *broadcast.Bus) error {
	sub, err := bus.Subscribe(64)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.sub = sub
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				sub.Close()
				return
			case msg, ok := <-sub.C():
				if !ok {
					return
				}
				if msg.Type == broadcast.TypeJSONUpdated && msg.Origin != broadcast.OriginService {
					c.Delete(msg.Path)
					c.logger.Debug("Запись кэша сброшена", slog.String("path", msg.Path))
				}
			}
		}
	}()
	return nil
}

// Stop отписывает кэш от шины и дожидается завершения горутины.
func (c *CacheService) Stop() {
	c.mu.Lock()
	sub, done := c.sub, c.done
	c.sub, c.done = nil, nil
	c.mu.Unlock()

	if sub == nil {
		return
	}
	sub.Close()
	<-done
}
