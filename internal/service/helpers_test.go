package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/metricafm/metrica-cms/internal/broadcast"
	"github.com/metricafm/metrica-cms/internal/repository"
	"github.com/metricafm/metrica-cms/internal/storage/mirror"
)

// testLogger: логгер, отбрасывающий вывод.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// flakyRepo: хранилище, которое может отказывать на запись.
type flakyRepo struct {
	repository.DocumentRepository
	failSet atomic.Bool
	failGet atomic.Bool
}

var errStoreDown = errors.New("хранилище недоступно")

func (r *flakyRepo) Set(ctx context.Context, collection, id string, data map[string]any) error {
	if r.failSet.Load() {
		return errStoreDown
	}
	return r.DocumentRepository.Set(ctx, collection, id, data)
}

func (r *flakyRepo) Get(ctx context.Context, collection, id string) (*repository.Document, error) {
	if r.failGet.Load() {
		return nil, errStoreDown
	}
	return r.DocumentRepository.Get(ctx, collection, id)
}

// testEnv: собранный сервисный слой поверх SQLite в памяти.
type testEnv struct {
	repo     *flakyRepo
	mirror   *mirror.Store
	bus      *broadcast.Bus
	cache    *CacheService
	inv      *InvalidationService
	pages    *PageService
	megamenu *MegamenuService
	now      time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	logger := testLogger()

	store, err := repository.NewSQLiteStore(ctx, ":memory:", logger)
	if err != nil {
		t.Fatalf("NewSQLiteStore() вернул ошибку: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	m, err := mirror.New(t.TempDir())
	if err != nil {
		t.Fatalf("mirror.New() вернул ошибку: %v", err)
	}

	defaults, err := LoadPageDefaults()
	if err != nil {
		t.Fatalf("LoadPageDefaults() вернул ошибку: %v", err)
	}

	bus := broadcast.New(logger)
	t.Cleanup(bus.Close)

	env := &testEnv{
		repo:   &flakyRepo{DocumentRepository: store},
		mirror: m,
		bus:    bus,
		cache:  NewCacheService(64, time.Minute, logger),
		now:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	env.inv = NewInvalidationService(bus, env.repo, logger)
	env.pages = NewPageService(env.repo, m, env.cache, env.inv, defaults, logger)
	env.pages.now = func() time.Time { return env.now }

	env.megamenu, err = NewMegamenuService(env.repo, m, env.inv, logger)
	if err != nil {
		t.Fatalf("NewMegamenuService() вернул ошибку: %v", err)
	}
	env.megamenu.now = func() time.Time { return env.now }
	return env
}

// drain возвращает все сообщения, уже лежащие в буфере подписки.
func drain(sub *broadcast.Subscription) []broadcast.Message {
	var out []broadcast.Message
	for {
		select {
		case msg := <-sub.C():
			out = append(out, msg)
		default:
			return out
		}
	}
}
