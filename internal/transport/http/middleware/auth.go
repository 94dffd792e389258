package httpmw

import (
	"net/http"

	"github.com/cwrk-planet/consult-service/internal/domain"
	"github.com/cwrk-planet/consult-service/internal/security"
	"github.com/cwrk-planet/consult-service/pkg/httputil"
	"github.com/cwrk-planet/consult-service/pkg/logger"
)

type Authenticator interface {
	Authenticate(r *http.Request) (domain.Identity, error)
}

// Auth кладёт identity вызывающего в контекст; без неё: 401.
func Auth(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := auth.Authenticate(r)
			if err != nil {
				logger.FromContext(r.Context()).Debug("auth failed", "err", err)
				httputil.Fail(r.Context(), w, err)
				return
			}

			ctx := security.WithIdentity(r.Context(), id)
			l := logger.FromContext(ctx).With("user_id", id.UserID, "role", string(id.Role))
			next.ServeHTTP(w, r.WithContext(logger.IntoContext(ctx, l)))
		})
	}
}
