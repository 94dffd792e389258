package security

import (
	"context"
	"net/http"
	"strings"

	"github.com/cwrk-planet/consult-service/internal/domain"
)

const (
	HeaderUserID = "X-User-ID"
	HeaderRole   = "X-User-Role"

	QueryAccessToken = "access_token"
	QueryUserID      = "user_id"
	QueryRole        = "role"
)

// Authenticator определяет, кто делает запрос.
// С verifier: только по JWT (Bearer или ?access_token= для websocket).
// Без verifier (dev): верим заголовкам X-User-ID / X-User-Role или query user_id / role.
type Authenticator struct {
	verifier *JWTVerifier
}

func NewAuthenticator(verifier *JWTVerifier) *Authenticator {
	return &Authenticator{verifier: verifier}
}

// DevMode: identity берётся из заголовков без проверки подписи.
func (a *Authenticator) DevMode() bool {
	return a.verifier == nil
}

func (a *Authenticator) Authenticate(r *http.Request) (domain.Identity, error) {
	if a.verifier != nil {
		token := bearerToken(r)
		if token == "" {
			token = strings.TrimSpace(r.URL.Query().Get(QueryAccessToken))
		}
		if token == "" {
			return domain.Identity{}, ErrMissingToken
		}
		return a.verifier.Verify(token)
	}

	q := r.URL.Query()
	userID := firstNonEmpty(r.Header.Get(HeaderUserID), q.Get(QueryUserID))
	role := firstNonEmpty(r.Header.Get(HeaderRole), q.Get(QueryRole))
	if userID == "" {
		return domain.Identity{}, ErrInvalidSubject
	}
	parsed, err := domain.ParseRole(role)
	if err != nil {
		return domain.Identity{}, ErrInvalidRole
	}
	return domain.Identity{UserID: userID, Role: parsed}, nil
}

// Authorization: Bearer <access_token>
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) <= 7 || !strings.EqualFold(auth[:7], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(auth[7:])
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, id domain.Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func IdentityFrom(ctx context.Context) (domain.Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(domain.Identity)
	return id, ok && id.Valid()
}
