// Пакет model: доменные модели сервиса контента.
package model

import "time"

// Slug: идентификатор типа страницы сайта.
type Slug string

// Известные страницы сайта. Набор фиксирован: запросы с другими slug
// обрабатываются как «не найдено».
const (
	SlugHome          Slug = "home"
	SlugHistoria      Slug = "historia"
	SlugCultura       Slug = "cultura"
	SlugCompromiso    Slug = "compromiso"
	SlugISO           Slug = "iso"
	SlugServices      Slug = "services"
	SlugPortfolio     Slug = "portfolio"
	SlugBlog          Slug = "blog"
	SlugCareers       Slug = "careers"
	SlugClientes      Slug = "clientes"
	SlugContact       Slug = "contact"
	SlugWhistleblower Slug = "whistleblower"
)

// AllSlugs возвращает все известные slug в стабильном порядке.
func AllSlugs() []Slug {
	return []Slug{
		SlugHome, SlugHistoria, SlugCultura, SlugCompromiso, SlugISO, SlugServices,
		SlugPortfolio, SlugBlog, SlugCareers, SlugClientes, SlugContact, SlugWhistleblower,
	}
}

// ParseSlug проверяет, что строка: известный slug.
func ParseSlug(s string) (Slug, bool) {
	for _, slug := range AllSlugs() {
		if string(slug) == s {
			return slug, true
		}
	}
	return "", false
}

// Источники данных страницы.
const (
	// SourceFirestore: запись из хранилища документов. Метка сохранена для совместимости с клиентом.
	SourceFirestore = "firestore"
	// SourceJSON: JSON-зеркало на диске.
	SourceJSON = "json"
	// SourceDefault: статические значения по умолчанию.
	SourceDefault = "default"
)

// Статусы согласованности двойной записи.
const (
	// ReconciliationInSync: документ записан и в хранилище, и в зеркало.
	ReconciliationInSync = "in_sync"
	// ReconciliationJSONOnly: хранилище не приняло запись, актуально только зеркало.
	ReconciliationJSONOnly = "json_only"
)

// MetaKey: ключ служебных метаданных внутри документа страницы.
const MetaKey = "_meta"

// PageContent: слабо типизированный JSON-документ страницы.
type PageContent map[string]any

// PageMeta: служебные метаданные страницы.
// Version увеличивается при каждой записи и нигде не сравнивается.
type PageMeta struct {
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
	UpdatedBy string    `json:"updated_by,omitempty"`
}

// Meta извлекает метаданные из документа. Отсутствующие поля: нулевые значения.
func (c PageContent) Meta() PageMeta {
	var m PageMeta
	raw, ok := c[MetaKey].(map[string]any)
	if !ok {
		return m
	}
	switch v := raw["version"].(type) {
	case float64:
		m.Version = int(v)
	case int:
		m.Version = v
	case int64:
		m.Version = int(v)
	}
	if s, ok := raw["updated_at"].(string); ok {
		m.UpdatedAt, _ = time.Parse(time.RFC3339Nano, s)
	}
	if s, ok := raw["updated_by"].(string); ok {
		m.UpdatedBy = s
	}
	return m
}

// WithMeta возвращает копию документа верхнего уровня с установленными метаданными.
func (c PageContent) WithMeta(m PageMeta) PageContent {
	out := make(PageContent, len(c)+1)
	for k, v := range c {
		out[k] = v
	}
	meta := map[string]any{
		"version":    m.Version,
		"updated_at": m.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if m.UpdatedBy != "" {
		meta["updated_by"] = m.UpdatedBy
	}
	out[MetaKey] = meta
	return out
}

// Clone возвращает копию документа верхнего уровня.
func (c PageContent) Clone() PageContent {
	out := make(PageContent, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// PageResult: результат чтения страницы.
type PageResult struct {
	Slug    Slug        `json:"slug"`
	Content PageContent `json:"content"`
	Source  string      `json:"source"`
}

// WriteResult: результат записи страницы.
type WriteResult struct {
	Success        bool     `json:"success"`
	Sources        []string `json:"sources"`
	Reconciliation string   `json:"reconciliation"`
	Version        int      `json:"version"`
	// StoreError: текст ошибки хранилища, если запись в него не удалась.
	StoreError string `json:"store_error,omitempty"`
}
