// Пакет repository: хранилище JSON-документов.
// Две реализации: PostgreSQL (JSONB через pgx) и SQLite (modernc).
// Ошибки оборачиваются и никогда не поглощаются на этом уровне.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound: документ не найден.
	ErrNotFound = errors.New("документ не найден")
)

// Коллекции документов.
const (
	CollectionPages       = "pages"
	CollectionSettings    = "settings"
	CollectionActivityLog = "activity_log"
)

// Document: запись хранилища.
type Document struct {
	Collection string
	ID         string
	Data       map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// DocumentRepository: клиент хранилища документов.
type DocumentRepository interface {
	// Get возвращает документ. Если не найден: ErrNotFound.
	Get(ctx context.Context, collection, id string) (*Document, error)
	// Set создаёт или полностью заменяет документ (upsert).
	Set(ctx context.Context, collection, id string, data map[string]any) error
	// Update сливает patch с документом на верхнем уровне. Если документа нет: ErrNotFound.
	Update(ctx context.Context, collection, id string, patch map[string]any) error
	// List возвращает все документы коллекции, отсортированные по id.
	List(ctx context.Context, collection string) ([]Document, error)
	// Delete удаляет документ. Если не найден: ErrNotFound.
	Delete(ctx context.Context, collection, id string) error
	// Ping проверяет доступность хранилища.
	Ping(ctx context.Context) error
}

// DBTX: интерфейс для выполнения SQL-запросов через pgx.
// Реализуется как *pgxpool.Pool, так и pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// encodeData сериализует документ в JSON. nil превращается в пустой объект.
func encodeData(data map[string]any) (string, error) {
	if data == nil {
		return "{}", nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("ошибка сериализации документа: %w", err)
	}
	return string(b), nil
}

// decodeData разбирает JSON документа.
func decodeData(raw []byte) (map[string]any, error) {
	data := map[string]any{}
	if len(raw) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("ошибка разбора документа: %w", err)
	}
	return data, nil
}
