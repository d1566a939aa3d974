// records.go: общий механизм JSON-файлов админ-данных.
// Каждый файл хранит массив записей и сводку, пересчитываемую при каждой мутации.
// Чтение-изменение-запись одного файла сериализуется мьютексом (один процесс).
package service

import (
	"errors"
	"fmt"
	"sync"

	"github.com/metricafm/metrica-cms/internal/storage/mirror"
)

// Имена файлов админ-данных.
const (
	NotificationsFile = "notifications.json"
	UsersFile         = "users.json"
	ReportsFile       = "reports.json"
)

// recordFile: типизированный JSON-файл с мьютексом.
type recordFile[D any] struct {
	store *mirror.Store
	name  string
	mu    sync.Mutex
}

func newRecordFile[D any](store *mirror.Store, name string) *recordFile[D] {
	return &recordFile[D]{store: store, name: name}
}

// load читает файл. Отсутствующий файл даёт нулевой документ.
func (f *recordFile[D]) load() (*D, error) {
	var doc D
	if err := f.store.Read(f.name, &doc); err != nil {
		if errors.Is(err, mirror.ErrNotFound) {
			return &doc, nil
		}
		return nil, fmt.Errorf("ошибка чтения %s: %w", f.name, err)
	}
	return &doc, nil
}

// read возвращает текущий документ.
func (f *recordFile[D]) read() (*D, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.load()
}

// update применяет fn и сохраняет документ, если fn не вернула ошибку.
func (f *recordFile[D]) update(fn func(doc *D) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	if err := f.store.Write(f.name, doc, mirror.WriteOptions{}); err != nil {
		return fmt.Errorf("ошибка записи %s: %w", f.name, err)
	}
	return nil
}
