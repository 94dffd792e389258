package errs

import (
	"context"
	"errors"
	"net/http"

	"github.com/cwrk-planet/consult-service/internal/domain"
)

const (
	CodeValidation   = "validation"
	CodeUnauthorized = "unauthorized"
	CodeForbidden    = "forbidden"
	CodeNotFound     = "not_found"
	CodePersistence  = "persistence"
	CodeTransport    = "transport"
	CodeInternal     = "internal"
)

// ToHTTP: статус ответа по доменной ошибке.
func ToHTTP(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrPersistence) && errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Code: короткий машинный код для клиента (websocket error.code, meta.code в HTTP).
func Code(err error) string {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return CodeValidation
	case errors.Is(err, domain.ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return CodeForbidden
	case errors.Is(err, domain.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, domain.ErrPersistence):
		return CodePersistence
	case errors.Is(err, domain.ErrTransport):
		return CodeTransport
	default:
		return CodeInternal
	}
}

// Public: текст, который можно показать клиенту. Детали хранилища наружу не отдаём.
func Public(err error) string {
	switch Code(err) {
	case CodePersistence:
		if errors.Is(err, context.DeadlineExceeded) {
			return "message store timed out, try again"
		}
		return "message store unavailable"
	case CodeInternal:
		return "internal error"
	default:
		return err.Error()
	}
}
