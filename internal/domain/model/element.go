package model

import (
	"encoding/json"
	"time"
)

// ElementType: тип динамического элемента.
type ElementType string

const (
	ElementPillars    ElementType = "pillars"
	ElementStatistics ElementType = "statistics"
	ElementPolicies   ElementType = "policies"
)

// ElementSpec описывает, где хранится массив элементов и какие поля обязательны.
type ElementSpec struct {
	Page     Slug
	Field    string
	Required []string
}

// elementSpecs: статическая таблица обязательности полей по типам.
var elementSpecs = map[ElementType]ElementSpec{
	ElementPillars:    {Page: SlugCompromiso, Field: "pillars", Required: []string{"title"}},
	ElementStatistics: {Page: SlugHome, Field: "statistics", Required: []string{"title", "value"}},
	ElementPolicies:   {Page: SlugISO, Field: "policies", Required: []string{"title"}},
}

// ElementSpecs возвращает копию таблицы типов элементов.
func ElementSpecs() map[ElementType]ElementSpec {
	out := make(map[ElementType]ElementSpec, len(elementSpecs))
	for t, spec := range elementSpecs {
		out[t] = spec
	}
	return out
}

// ParseElementType возвращает тип и его описание.
func ParseElementType(s string) (ElementType, ElementSpec, bool) {
	t := ElementType(s)
	spec, ok := elementSpecs[t]
	return t, spec, ok
}

// DynamicElement: карточка (столп, статистика, политика) внутри массива страницы.
// Extra хранит поля, специфичные для типа, и при сериализации
// разворачивается на верхний уровень объекта.
type DynamicElement struct {
	ID          string
	Title       string
	Description string
	Icon        string
	Image       string
	Order       int
	Enabled     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Extra       map[string]any
}

// knownElementKeys: ключи, которые отображаются на поля структуры.
var knownElementKeys = map[string]bool{
	"id": true, "title": true, "description": true, "icon": true, "image": true,
	"order": true, "enabled": true, "created_at": true, "updated_at": true,
}

// ToMap преобразует элемент в JSON-объект.
func (e DynamicElement) ToMap() map[string]any {
	m := make(map[string]any, len(e.Extra)+9)
	for k, v := range e.Extra {
		m[k] = v
	}
	m["id"] = e.ID
	m["title"] = e.Title
	m["description"] = e.Description
	m["icon"] = e.Icon
	m["image"] = e.Image
	m["order"] = e.Order
	m["enabled"] = e.Enabled
	if !e.CreatedAt.IsZero() {
		m["created_at"] = e.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	if !e.UpdatedAt.IsZero() {
		m["updated_at"] = e.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	return m
}

// MarshalJSON сериализует элемент в плоский объект.
func (e DynamicElement) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.ToMap())
}

// UnmarshalJSON разбирает плоский объект.
func (e *DynamicElement) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*e = ElementFromMap(m)
	return nil
}

// ElementFromMap строит элемент из JSON-объекта. Отсутствующий enabled считается true.
func ElementFromMap(m map[string]any) DynamicElement {
	e := DynamicElement{Enabled: true}
	e.ID, _ = m["id"].(string)
	e.Title, _ = m["title"].(string)
	e.Description, _ = m["description"].(string)
	e.Icon, _ = m["icon"].(string)
	e.Image, _ = m["image"].(string)
	e.Order = intValue(m["order"])
	if b, ok := m["enabled"].(bool); ok {
		e.Enabled = b
	}
	e.CreatedAt = timeValue(m["created_at"])
	e.UpdatedAt = timeValue(m["updated_at"])
	for k, v := range m {
		if knownElementKeys[k] {
			continue
		}
		if e.Extra == nil {
			e.Extra = make(map[string]any)
		}
		e.Extra[k] = v
	}
	return e
}

// intValue приводит JSON-число к int.
func intValue(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	}
	return 0
}

// timeValue разбирает RFC 3339 строку; при ошибке: нулевое время.
func timeValue(v any) time.Time {
	s, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Key возвращает id элемента.
func (e DynamicElement) Key() string { return e.ID }

// Position возвращает порядок отображения.
func (e DynamicElement) Position() int { return e.Order }

// WithPosition возвращает копию с новым order и updated_at.
func (e DynamicElement) WithPosition(order int, now time.Time) DynamicElement {
	e.Order = order
	e.UpdatedAt = now
	return e
}
