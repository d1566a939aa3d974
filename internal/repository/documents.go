package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgDocumentRepo: реализация DocumentRepository поверх таблицы documents (JSONB).
type pgDocumentRepo struct {
	db   DBTX
	pool *pgxpool.Pool
}

// NewDocumentRepository создаёт репозиторий документов PostgreSQL.
func NewDocumentRepository(pool *pgxpool.Pool) DocumentRepository {
	return &pgDocumentRepo{db: pool, pool: pool}
}

// Get возвращает документ по коллекции и id.
func (r *pgDocumentRepo) Get(ctx context.Context, collection, id string) (*Document, error) {
	query := `
		SELECT collection, id, data, created_at, updated_at
		FROM documents
		WHERE collection = $1 AND id = $2`

	d := &Document{}
	var raw []byte
	err := r.db.QueryRow(ctx, query, collection, id).Scan(
		&d.Collection, &d.ID, &raw, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения документа %s/%s: %w", collection, id, err)
	}

	if d.Data, err = decodeData(raw); err != nil {
		return nil, fmt.Errorf("документ %s/%s: %w", collection, id, err)
	}
	return d, nil
}

// Set создаёт или заменяет документ (INSERT ... ON CONFLICT DO UPDATE).
func (r *pgDocumentRepo) Set(ctx context.Context, collection, id string, data map[string]any) error {
	payload, err := encodeData(data)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO documents (collection, id, data)
		VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (collection, id) DO UPDATE
		SET data = EXCLUDED.data,
			updated_at = NOW()`

	if _, err := r.db.Exec(ctx, query, collection, id, payload); err != nil {
		return fmt.Errorf("ошибка сохранения документа %s/%s: %w", collection, id, err)
	}
	return nil
}

// Update сливает patch с документом оператором jsonb || (только верхний уровень).
func (r *pgDocumentRepo) Update(ctx context.Context, collection, id string, patch map[string]any) error {
	payload, err := encodeData(patch)
	if err != nil {
		return err
	}

	query := `
		UPDATE documents
		SET data = data || $3::jsonb,
			updated_at = NOW()
		WHERE collection = $1 AND id = $2`

	tag, err := r.db.Exec(ctx, query, collection, id, payload)
	if err != nil {
		return fmt.Errorf("ошибка обновления документа %s/%s: %w", collection, id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List возвращает документы коллекции, отсортированные по id.
func (r *pgDocumentRepo) List(ctx context.Context, collection string) ([]Document, error) {
	query := `
		SELECT collection, id, data, created_at, updated_at
		FROM documents
		WHERE collection = $1
		ORDER BY id`

	rows, err := r.db.Query(ctx, query, collection)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка документов %s: %w", collection, err)
	}
	defer rows.Close()

	var result []Document
	for rows.Next() {
		var d Document
		var raw []byte
		if err := rows.Scan(&d.Collection, &d.ID, &raw, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования документа: %w", err)
		}
		if d.Data, err = decodeData(raw); err != nil {
			return nil, fmt.Errorf("документ %s/%s: %w", d.Collection, d.ID, err)
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

// Delete удаляет документ.
func (r *pgDocumentRepo) Delete(ctx context.Context, collection, id string) error {
	query := `DELETE FROM documents WHERE collection = $1 AND id = $2`

	tag, err := r.db.Exec(ctx, query, collection, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления документа %s/%s: %w", collection, id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping проверяет подключение к PostgreSQL.
func (r *pgDocumentRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
