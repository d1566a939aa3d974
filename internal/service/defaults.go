package service

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/metricafm/metrica-cms/internal/domain/model"
)

//go:embed defaults/pages.yaml
var defaultPagesYAML []byte

// PageDefaults: статическое содержимое страниц по умолчанию.
// Хранится как JSON, каждое чтение возвращает независимую копию.
type PageDefaults struct {
	pages map[model.Slug][]byte
}

// LoadPageDefaults разбирает встроенный defaults/pages.yaml.
func LoadPageDefaults() (*PageDefaults, error) {
	return parsePageDefaults(defaultPagesYAML)
}

func parsePageDefaults(data []byte) (*PageDefaults, error) {
	var raw map[string]map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("ошибка разбора значений по умолчанию: %w", err)
	}

	d := &PageDefaults{pages: make(map[model.Slug][]byte, len(raw))}
	for key, content := range raw {
		slug, ok := model.ParseSlug(key)
		if !ok {
			return nil, fmt.Errorf("значения по умолчанию: неизвестная страница %q", key)
		}
		b, err := json.Marshal(content)
		if err != nil {
			return nil, fmt.Errorf("значения по умолчанию %q: %w", key, err)
		}
		d.pages[slug] = b
	}
	return d, nil
}

// Get возвращает копию содержимого по умолчанию. Для страниц без описания: пустой объект.
func (d *PageDefaults) Get(slug model.Slug) model.PageContent {
	content := model.PageContent{}
	if b, ok := d.pages[slug]; ok {
		_ = json.Unmarshal(b, &content)
	}
	return content
}

// Has сообщает, есть ли описание страницы.
func (d *PageDefaults) Has(slug model.Slug) bool {
	_, ok := d.pages[slug]
	return ok
}
