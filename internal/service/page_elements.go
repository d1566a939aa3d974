// page_elements.go: операции над динамическими элементами (столпы, статистика, политики).
// Каждая операция перезаписывает документ страницы целиком через двойную запись.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/metricafm/metrica-cms/internal/domain/elements"
	"github.com/metricafm/metrica-cms/internal/domain/model"
)

// elementScope: тип элемента, его описание и текущий документ страницы.
type elementScope struct {
	spec    model.ElementSpec
	content model.PageContent
	list    []model.DynamicElement
}

func (s *PageService) loadElements(ctx context.Context, typ string) (*elementScope, error) {
	_, spec, ok := model.ParseElementType(typ)
	if !ok {
		return nil, fmt.Errorf("%w: тип элементов %q", ErrNotFound, typ)
	}
	content, _ := s.loadCurrent(ctx, spec.Page)
	return &elementScope{
		spec:    spec,
		content: content,
		list:    readElements(content, spec.Field),
	}, nil
}

// readElements извлекает массив элементов. Не-объекты пропускаются.
func readElements(content model.PageContent, field string) []model.DynamicElement {
	raw, _ := content[field].([]any)
	list := make([]model.DynamicElement, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			list = append(list, model.ElementFromMap(m))
		}
	}
	return list
}

func (s *PageService) saveElements(ctx context.Context, scope *elementScope, list []model.DynamicElement, actor, action string) (*model.WriteResult, error) {
	items := make([]any, len(list))
	for i, el := range list {
		items[i] = el.ToMap()
	}
	content := scope.content.Clone()
	content[scope.spec.Field] = items
	return s.putPage(ctx, scope.spec.Page, content, actor, action)
}

// ListElements возвращает элементы в порядке отображения.
func (s *PageService) ListElements(ctx context.Context, typ string) ([]model.DynamicElement, error) {
	scope, err := s.loadElements(ctx, typ)
	if err != nil {
		return nil, err
	}
	return elements.Sorted(scope.list), nil
}

// CreateElement добавляет элемент. Обязательные поля берутся из таблицы типа.
// Без id он строится из title; без order элемент встаёт в конец; enabled по умолчанию true.
func (s *PageService) CreateElement(ctx context.Context, typ string, fields map[string]any, actor string) (*model.DynamicElement, *model.WriteResult, error) {
	scope, err := s.loadElements(ctx, typ)
	if err != nil {
		return nil, nil, err
	}
	if err := elements.CheckRequired(fields, scope.spec.Required); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	el := model.ElementFromMap(fields)
	if el.ID == "" {
		el.ID = Slugify(el.Title)
		if el.ID == "" || elements.IndexOf(scope.list, el.ID) >= 0 {
			el.ID = joinID(el.ID, uuid.New().String()[:8])
		}
	}
	now := s.now().UTC()
	el.CreatedAt = now

	list, err := elements.Append(scope.list, el, now)
	if err != nil {
		if errors.Is(err, elements.ErrDuplicateID) {
			return nil, nil, fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return nil, nil, err
	}

	result, err := s.saveElements(ctx, scope, list, actor, "element.create")
	if err != nil {
		return nil, nil, err
	}
	created := list[len(list)-1]
	return &created, result, nil
}

// UpdateElement меняет поля элемента. id и created_at не меняются, order сохраняется, если не задан.
func (s *PageService) UpdateElement(ctx context.Context, typ, id string, fields map[string]any, actor string) (*model.DynamicElement, *model.WriteResult, error) {
	scope, err := s.loadElements(ctx, typ)
	if err != nil {
		return nil, nil, err
	}
	idx := elements.IndexOf(scope.list, id)
	if idx < 0 {
		return nil, nil, fmt.Errorf("%w: элемент %q", ErrNotFound, id)
	}

	merged := mergeElement(scope.list[idx], fields)
	if err := elements.CheckRequired(merged, scope.spec.Required); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	list, err := elements.Replace(scope.list, id, model.ElementFromMap(merged), s.now().UTC())
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	result, err := s.saveElements(ctx, scope, list, actor, "element.update")
	if err != nil {
		return nil, nil, err
	}
	updated := list[idx]
	return &updated, result, nil
}

// DeleteElement удаляет элемент и плотно пересчитывает order оставшихся.
func (s *PageService) DeleteElement(ctx context.Context, typ, id, actor string) (*model.WriteResult, error) {
	scope, err := s.loadElements(ctx, typ)
	if err != nil {
		return nil, err
	}
	list, err := elements.Remove(scope.list, id, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return s.saveElements(ctx, scope, list, actor, "element.delete")
}

// ReorderElements принимает полный массив в новом порядке и назначает order = позиция.
// Частичный порядок не поддерживается: набор id должен совпадать с текущим.
func (s *PageService) ReorderElements(ctx context.Context, typ string, items []map[string]any, actor string) ([]model.DynamicElement, *model.WriteResult, error) {
	scope, err := s.loadElements(ctx, typ)
	if err != nil {
		return nil, nil, err
	}
	if len(items) != len(scope.list) {
		return nil, nil, fmt.Errorf("%w: ожидалось %d элементов, получено %d", ErrValidation, len(scope.list), len(items))
	}

	ordered := make([]model.DynamicElement, 0, len(items))
	seen := make(map[string]bool, len(items))
	for i, item := range items {
		id, _ := item["id"].(string)
		if id == "" {
			return nil, nil, fmt.Errorf("%w: elements[%d].id обязателен", ErrValidation, i)
		}
		if seen[id] {
			return nil, nil, fmt.Errorf("%w: повторяющийся id %q", ErrValidation, id)
		}
		seen[id] = true
		idx := elements.IndexOf(scope.list, id)
		if idx < 0 {
			return nil, nil, fmt.Errorf("%w: неизвестный элемент %q", ErrValidation, id)
		}
		ordered = append(ordered, model.ElementFromMap(mergeElement(scope.list[idx], item)))
	}

	list := elements.Reorder(ordered, s.now().UTC())
	result, err := s.saveElements(ctx, scope, list, actor, "element.reorder")
	if err != nil {
		return nil, nil, err
	}
	return list, result, nil
}

// mergeElement накладывает поля на существующий элемент, не трогая id и created_at.
func mergeElement(existing model.DynamicElement, fields map[string]any) map[string]any {
	merged := existing.ToMap()
	for k, v := range fields {
		if k == "id" || k == "created_at" {
			continue
		}
		merged[k] = v
	}
	return merged
}

func joinID(base, suffix string) string {
	if base == "" {
		return suffix
	}
	return base + "-" + suffix
}
