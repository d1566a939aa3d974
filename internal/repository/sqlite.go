package repository

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // SQLite driver
)

//go:embed sqlite_migrations/*.sql
var sqliteMigrations embed.FS

// SQLiteStore: реализация DocumentRepository на SQLite.
// Используется для локальной разработки и в unit-тестах (":memory:").
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore открывает базу и применяет миграции goose.
// Миграции выполняются через goose.Provider без глобального состояния goose,
// журнал миграций идёт в logger.
func NewSQLiteStore(ctx context.Context, dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия SQLite: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка подключения к SQLite: %w", err)
	}

	// Один писатель; для ":memory:" единственное соединение обязательно,
	// иначе каждое новое соединение получит пустую базу.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("ошибка установки pragma: %w", err)
		}
	}

	if err := migrateSQLite(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

// migrateSQLite применяет встроенные миграции.
// Provider.Close не вызывается: он закрыл бы db.
func migrateSQLite(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	fsys, err := fs.Sub(sqliteMigrations, "sqlite_migrations")
	if err != nil {
		return fmt.Errorf("ошибка чтения встроенных миграций: %w", err)
	}
	mlog := logger.With(slog.String("component", "sqlite_migrations"))
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys, goose.WithSlog(mlog))
	if err != nil {
		return fmt.Errorf("ошибка создания goose provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("ошибка применения миграций SQLite: %w", err)
	}
	for _, r := range results {
		mlog.Debug("Миграция SQLite применена",
			slog.String("file", r.Source.Path),
			slog.Duration("duration", r.Duration),
		)
	}
	return nil
}

// Close закрывает соединение.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get возвращает документ.
func (s *SQLiteStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	return s.get(ctx, s.db, collection, id)
}

type sqlQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) get(ctx context.Context, q sqlQuerier, collection, id string) (*Document, error) {
	query := `
		SELECT collection, id, data, created_at, updated_at
		FROM documents
		WHERE collection = ? AND id = ?`

	d := &Document{}
	var raw, created, updated string
	err := q.QueryRowContext(ctx, query, collection, id).Scan(&d.Collection, &d.ID, &raw, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения документа %s/%s: %w", collection, id, err)
	}
	if err := fillDocument(d, raw, created, updated); err != nil {
		return nil, err
	}
	return d, nil
}

// Set создаёт или заменяет документ.
func (s *SQLiteStore) Set(ctx context.Context, collection, id string, data map[string]any) error {
	payload, err := encodeData(data)
	if err != nil {
		return err
	}
	now := formatTime(time.Now())

	query := `
		INSERT INTO documents (collection, id, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE
		SET data = excluded.data,
			updated_at = excluded.updated_at`

	if _, err := s.db.ExecContext(ctx, query, collection, id, payload, now, now); err != nil {
		return fmt.Errorf("ошибка сохранения документа %s/%s: %w", collection, id, err)
	}
	return nil
}

// Update сливает patch с документом на верхнем уровне внутри транзакции.
func (s *SQLiteStore) Update(ctx context.Context, collection, id string, patch map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // откат после коммита: no-op

	current, err := s.get(ctx, tx, collection, id)
	if err != nil {
		return err
	}
	for k, v := range patch {
		current.Data[k] = v
	}
	payload, err := encodeData(current.Data)
	if err != nil {
		return err
	}

	query := `UPDATE documents SET data = ?, updated_at = ? WHERE collection = ? AND id = ?`
	if _, err := tx.ExecContext(ctx, query, payload, formatTime(time.Now()), collection, id); err != nil {
		return fmt.Errorf("ошибка обновления документа %s/%s: %w", collection, id, err)
	}
	return tx.Commit()
}

// List возвращает документы коллекции, отсортированные по id.
func (s *SQLiteStore) List(ctx context.Context, collection string) ([]Document, error) {
	query := `
		SELECT collection, id, data, created_at, updated_at
		FROM documents
		WHERE collection = ?
		ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, collection)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка документов %s: %w", collection, err)
	}
	defer rows.Close()

	var result []Document
	for rows.Next() {
		var d Document
		var raw, created, updated string
		if err := rows.Scan(&d.Collection, &d.ID, &raw, &created, &updated); err != nil {
			return nil, fmt.Errorf("ошибка сканирования документа: %w", err)
		}
		if err := fillDocument(&d, raw, created, updated); err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

// Delete удаляет документ.
func (s *SQLiteStore) Delete(ctx context.Context, collection, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления документа %s/%s: %w", collection, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ошибка удаления документа %s/%s: %w", collection, id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping проверяет соединение с базой.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func fillDocument(d *Document, raw, created, updated string) error {
	data, err := decodeData([]byte(raw))
	if err != nil {
		return fmt.Errorf("документ %s/%s: %w", d.Collection, d.ID, err)
	}
	d.Data = data
	d.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	d.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
