// Пакет openapi: встроенный OpenAPI-документ админ-API.
package openapi

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed openapi.yaml
var document []byte

// Raw возвращает YAML документа (отдаётся по GET /api/openapi.yaml).
func Raw() []byte {
	return document
}

// Load разбирает и проверяет встроенный документ.
func Load(ctx context.Context) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	loader.Context = ctx

	doc, err := loader.LoadFromData(document)
	if err != nil {
		return nil, fmt.Errorf("разбор OpenAPI документа: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("проверка OpenAPI документа: %w", err)
	}
	return doc, nil
}
