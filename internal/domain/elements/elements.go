// Пакет elements содержит правила упорядочивания динамических элементов
// страницы и пунктов мегаменю. Все функции чистые: входной срез не изменяется.
//
// Инвариант после Append без явного order, Reorder и Remove: множество
// значений order равно {1..N}. Явный order при создании не проверяется на
// уникальность, единственное место, где уникальность принудительна, это Reorder.
package elements

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

var (
	// ErrDuplicateID возвращается, если элемент с таким id уже есть в массиве.
	ErrDuplicateID = errors.New("элемент с таким id уже существует")
	// ErrElementNotFound возвращается, если элемент с id не найден.
	ErrElementNotFound = errors.New("элемент не найден")
	// ErrMissingField возвращается, если не заполнено обязательное поле.
	ErrMissingField = errors.New("не заполнено обязательное поле")
)

// Orderable описывает элемент с идентификатором и порядком отображения.
// WithPosition возвращает копию с новым order и отметкой времени изменения.
type Orderable[T any] interface {
	Key() string
	Position() int
	WithPosition(order int, now time.Time) T
}

// Append добавляет элемент в конец списка.
// order = len+1, если el.Position() <= 0.
func Append[T Orderable[T]](list []T, el T, now time.Time) ([]T, error) {
	if IndexOf(list, el.Key()) >= 0 {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateID, el.Key())
	}
	order := el.Position()
	if order <= 0 {
		order = len(list) + 1
	}
	out := make([]T, 0, len(list)+1)
	out = append(out, list...)
	out = append(out, el.WithPosition(order, now))
	return out, nil
}

// Reorder переназначает order по позиции в массиве (1-based) и ставит updated_at.
// Повторный вызов с тем же порядком даёт те же значения order.
func Reorder[T Orderable[T]](list []T, now time.Time) []T {
	out := make([]T, len(list))
	for i, el := range list {
		out[i] = el.WithPosition(i+1, now)
	}
	return out
}

// Remove вырезает элемент по id и плотно пересчитывает order всех оставшихся
// по их позиции в массиве.
func Remove[T Orderable[T]](list []T, id string, now time.Time) ([]T, error) {
	idx := IndexOf(list, id)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %q", ErrElementNotFound, id)
	}
	rest := make([]T, 0, len(list)-1)
	rest = append(rest, list[:idx]...)
	rest = append(rest, list[idx+1:]...)
	return Reorder(rest, now), nil
}

// Replace заменяет элемент с id на el. Если el.Position() <= 0, order сохраняется.
func Replace[T Orderable[T]](list []T, id string, el T, now time.Time) ([]T, error) {
	idx := IndexOf(list, id)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %q", ErrElementNotFound, id)
	}
	order := el.Position()
	if order <= 0 {
		order = list[idx].Position()
	}
	out := slices.Clone(list)
	out[idx] = el.WithPosition(order, now)
	return out, nil
}

// Sorted возвращает копию, устойчиво отсортированную по order.
// Дубликаты order допустимы и сохраняют исходный порядок.
func Sorted[T Orderable[T]](list []T) []T {
	out := slices.Clone(list)
	slices.SortStableFunc(out, func(a, b T) int {
		return a.Position() - b.Position()
	})
	return out
}

// IndexOf возвращает индекс элемента с id или -1.
func IndexOf[T Orderable[T]](list []T, id string) int {
	return slices.IndexFunc(list, func(el T) bool { return el.Key() == id })
}

// IsDense сообщает, равно ли множество order ровно {1..N}.
func IsDense[T Orderable[T]](list []T) bool {
	seen := make([]bool, len(list)+1)
	for _, el := range list {
		p := el.Position()
		if p < 1 || p > len(list) || seen[p] {
			return false
		}
		seen[p] = true
	}
	return true
}

// CheckRequired проверяет, что обязательные поля присутствуют и не пусты.
func CheckRequired(fields map[string]any, required []string) error {
	var missing []string
	for _, name := range required {
		v, ok := fields[name]
		if !ok || v == nil {
			missing = append(missing, name)
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingField, strings.Join(missing, ", "))
	}
	return nil
}
