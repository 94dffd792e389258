package chatclient

import (
	"errors"
	"fmt"

	"github.com/cwrk-planet/consult-service/internal/domain"
	"github.com/cwrk-planet/consult-service/pkg/errs"
)

var (
	ErrNotOpen = errors.New("chatclient: no conversation is open")
	ErrClosed  = errors.New("chatclient: conversation closed")
)

// RemoteError пришла от сервиса (HTTP-конверт {"error"} или кадр error).
// Code совпадает с errs.Code на стороне сервера, errors.Is работает с доменными ошибками.
type RemoteError struct {
	Status  int // 0 для websocket
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("consult api %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("consult live %s: %s", e.Code, e.Message)
}

func (e *RemoteError) Unwrap() error {
	switch e.Code {
	case errs.CodeValidation:
		return domain.ErrValidation
	case errs.CodeUnauthorized:
		return domain.ErrUnauthorized
	case errs.CodeForbidden:
		return domain.ErrForbidden
	case errs.CodeNotFound:
		return domain.ErrNotFound
	case errs.CodePersistence:
		return domain.ErrPersistence
	case errs.CodeTransport:
		return domain.ErrTransport
	default:
		return nil
	}
}
