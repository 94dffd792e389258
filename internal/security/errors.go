package security

import (
	"fmt"

	"github.com/cwrk-planet/consult-service/internal/domain"
)

// Все ошибки токенов: разновидность domain.ErrUnauthorized.
var (
	ErrMissingToken    = fmt.Errorf("%w: missing access token", domain.ErrUnauthorized)
	ErrInvalidToken    = fmt.Errorf("%w: invalid access token", domain.ErrUnauthorized)
	ErrInvalidIssuer   = fmt.Errorf("%w: invalid token issuer", domain.ErrUnauthorized)
	ErrInvalidAudience = fmt.Errorf("%w: invalid token audience", domain.ErrUnauthorized)
	ErrTokenExpired    = fmt.Errorf("%w: token expired", domain.ErrUnauthorized)
	ErrInvalidSubject  = fmt.Errorf("%w: invalid token subject", domain.ErrUnauthorized)
	ErrInvalidRole     = fmt.Errorf("%w: invalid token role", domain.ErrUnauthorized)
)
