package http

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cwrk-planet/consult-service/internal/domain"

	"github.com/go-playground/validator/v10"
)

// POST /conversations/{farmerID}/{doctorID}/messages
type SendMessageRequest struct {
	// sender можно не указывать: берётся роль вызывающего. Регистр не важен.
	Sender string `json:"sender" validate:"omitempty,max=16"`
	Body   string `json:"body" validate:"required,max=4000"`
}

// POST /conversations/{farmerID}/{doctorID}/seen
type MarkSeenRequest struct {
	MessageID string `json:"message_id" validate:"omitempty,max=64"`
}

// validationError переводит ошибки validator в domain.ErrValidation с понятным текстом.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of %s", field, strings.ReplaceAll(fe.Param(), " ", "|")))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s is longer than %s characters", field, fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", domain.ErrValidation, strings.Join(msgs, "; "))
}
