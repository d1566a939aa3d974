// Пакет errors: конверт HTTP-ответов сервиса контента.
// Успех: {"success": true, "data": ...}.
// Ошибка: {"success": false, "error": {"code": "...", "message": "..."}, "message": "..."}.
// Все ответы API должны проходить через WriteSuccess/WriteError.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/metricafm/metrica-cms/internal/service"
)

// Коды ошибок, определённые в OpenAPI контракте.
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodeConflict        = "CONFLICT"
	CodeUpstreamError   = "UPSTREAM_ERROR"
	CodeInternalError   = "INTERNAL_ERROR"
)

// genericInternalMessage: сообщение клиенту при непредвиденной ошибке.
const genericInternalMessage = "Внутренняя ошибка сервера"

// errorBody: тело ответа ошибки.
type errorBody struct {
	Success bool        `json:"success"`
	Error   errorDetail `json:"error"`
	Message string      `json:"message"`
}

// errorDetail: детали ошибки.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteJSON записывает произвольный JSON-ответ с указанным статусом.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteSuccess записывает {"success": true, "data": data} и дополнительные поля
// верхнего уровня (например "sources" или "stats").
func WriteSuccess(w http.ResponseWriter, status int, data any, extra map[string]any) {
	body := make(map[string]any, len(extra)+2)
	for k, v := range extra {
		body[k] = v
	}
	body["success"] = true
	body["data"] = data
	WriteJSON(w, status, body)
}

// WriteError записывает ответ ошибки в стандартном конверте.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	WriteJSON(w, statusCode, errorBody{
		Success: false,
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
		Message: message,
	})
}

// --- Конструкторы для типичных ошибок ---

// ValidationError: 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound: 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized: 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden: 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// Conflict: 409 конфликт.
func Conflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeConflict, message)
}

// UpstreamError: 502 внешний источник недоступен.
func UpstreamError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadGateway, CodeUpstreamError, message)
}

// InternalError: 500 внутренняя ошибка. Детали клиенту не раскрываются.
func InternalError(w http.ResponseWriter) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, genericInternalMessage)
}

// FromServiceError переводит ошибку сервисного слоя в HTTP-ответ.
// Возвращает HTTP-статус записанного ответа.
func FromServiceError(w http.ResponseWriter, err error) int {
	switch {
	case stderrors.Is(err, service.ErrUnknownSlug), stderrors.Is(err, service.ErrNotFound):
		NotFound(w, err.Error())
		return http.StatusNotFound
	case stderrors.Is(err, service.ErrValidation):
		ValidationError(w, err.Error())
		return http.StatusBadRequest
	case stderrors.Is(err, service.ErrConflict):
		Conflict(w, err.Error())
		return http.StatusConflict
	case stderrors.Is(err, service.ErrForbidden):
		Forbidden(w, err.Error())
		return http.StatusForbidden
	case stderrors.Is(err, service.ErrUpstream):
		UpstreamError(w, err.Error())
		return http.StatusBadGateway
	default:
		InternalError(w)
		return http.StatusInternalServerError
	}
}
