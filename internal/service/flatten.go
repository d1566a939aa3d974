package service

import (
	"sort"
	"strconv"

	"github.com/metricafm/metrica-cms/internal/domain/model"
)

// flattenedPages: страницы, чьи массивы объектов хранятся в хранилище документов
// в виде объектов {"0": {index: 0, ...}, "1": {...}}. Позиционные массивы плохо
// переносят частичные обновления, а вложенные массивы хранилище не поддерживает.
var flattenedPages = map[model.Slug]bool{
	model.SlugHome:       true,
	model.SlugHistoria:   true,
	model.SlugCultura:    true,
	model.SlugCompromiso: true,
	model.SlugISO:        true,
	model.SlugServices:   true,
	model.SlugPortfolio:  true,
	model.SlugCareers:    true,
	model.SlugClientes:   true,
}

// flattenIndexKey: поле с позицией элемента в развёрнутом массиве.
const flattenIndexKey = "index"

// flattenDocument возвращает копию документа, в которой массивы объектов
// (на любой глубине) заменены объектами с ключами-позициями.
// Массивы скаляров остаются без изменений.
func flattenDocument(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = flattenValue(v)
	}
	return out
}

func flattenValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return flattenDocument(t)
	case []any:
		if !allObjects(t) {
			out := make([]any, len(t))
			for i, item := range t {
				out[i] = flattenValue(item)
			}
			return out
		}
		out := make(map[string]any, len(t))
		for i, item := range t {
			m := flattenDocument(item.(map[string]any))
			m[flattenIndexKey] = i
			out[strconv.Itoa(i)] = m
		}
		return out
	default:
		return v
	}
}

// reservedIndexPath ищет элемент массива объектов, в котором уже есть поле index.
// Такое поле перезаписалось бы позицией при разворачивании и пропало бы при обратном
// преобразовании. Возвращает путь первого найденного элемента, например "timeline[0]".
func reservedIndexPath(doc map[string]any) (string, bool) {
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if p, ok := reservedIndexIn(doc[k], k); ok {
			return p, true
		}
	}
	return "", false
}

func reservedIndexIn(v any, at string) (string, bool) {
	switch t := v.(type) {
	case map[string]any:
		if p, ok := reservedIndexPath(t); ok {
			return at + "." + p, true
		}
	case []any:
		objects := allObjects(t)
		for i, item := range t {
			itemPath := at + "[" + strconv.Itoa(i) + "]"
			if obj, ok := item.(map[string]any); ok && objects {
				if _, taken := obj[flattenIndexKey]; taken {
					return itemPath, true
				}
			}
			if p, ok := reservedIndexIn(item, itemPath); ok {
				return p, true
			}
		}
	}
	return "", false
}

func allObjects(items []any) bool {
	if len(items) == 0 {
		return false
	}
	for _, item := range items {
		if _, ok := item.(map[string]any); !ok {
			return false
		}
	}
	return true
}

// unflattenDocument выполняет обратное преобразование.
// Объект считается развёрнутым массивом, только если его ключи ровно "0".."n-1"
// и каждый элемент содержит совпадающий index.
func unflattenDocument(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = unflattenValue(v)
	}
	return out
}

func unflattenValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if items, ok := asFlattenedArray(t); ok {
			return items
		}
		return unflattenDocument(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = unflattenValue(item)
		}
		return out
	default:
		return v
	}
}

func asFlattenedArray(m map[string]any) ([]any, bool) {
	if len(m) == 0 {
		return nil, false
	}
	type entry struct {
		pos  int
		item map[string]any
	}
	entries := make([]entry, 0, len(m))
	for k, v := range m {
		pos, err := strconv.Atoi(k)
		if err != nil || pos < 0 || pos >= len(m) || strconv.Itoa(pos) != k {
			return nil, false
		}
		item, ok := v.(map[string]any)
		if !ok {
			return nil, false
		}
		idx, ok := numberValue(item[flattenIndexKey])
		if !ok || idx != pos {
			return nil, false
		}
		entries = append(entries, entry{pos: pos, item: item})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].pos < entries[j].pos })

	out := make([]any, len(entries))
	for i, e := range entries {
		item := unflattenDocument(e.item)
		delete(item, flattenIndexKey)
		out[i] = item
	}
	return out, true
}

// numberValue приводит JSON-число к int.
func numberValue(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	}
	return 0, false
}
