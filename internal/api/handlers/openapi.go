package handlers

import (
	"net/http"

	"github.com/metricafm/metrica-cms/internal/api/openapi"
)

// GetOpenAPI: GET /api/openapi.yaml. Документ админ-API.
func GetOpenAPI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openapi.Raw())
}
