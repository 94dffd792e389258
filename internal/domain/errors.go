package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrPersistence  = errors.New("persistence failed")
	ErrTransport    = errors.New("transport failed")
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Persistence оборачивает ошибку хранилища. Уже доменные ошибки
// (validation, not found, persistence) возвращаются как есть.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPersistence) || errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) {
		return err
	}

	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}
