// errors.go: ошибки бизнес-логики сервисного слоя.
package service

import "errors"

var (
	// ErrNotFound: ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrUnknownSlug: страница с таким slug не существует.
	ErrUnknownSlug = errors.New("неизвестная страница")
	// ErrConflict: ресурс уже существует.
	ErrConflict = errors.New("конфликт: ресурс уже существует")
	// ErrValidation: ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrUpstream: внешний источник недоступен или ответил некорректно.
	ErrUpstream = errors.New("ошибка внешнего источника")
	// ErrForbidden: доступ к ресурсу запрещён.
	ErrForbidden = errors.New("доступ запрещён")
)
