package chatclient

import (
	"net/http"
	"net/url"

	"github.com/cwrk-planet/consult-service/internal/domain"
	"github.com/cwrk-planet/consult-service/internal/security"
)

// Credentials: как клиент представляется сервису.
// С Token: Bearer / access_token; без него dev-заголовки с Identity.
type Credentials struct {
	Token    string
	Identity domain.Identity
}

func (c Credentials) applyHeaders(h http.Header) {
	if c.Token != "" {
		h.Set("Authorization", "Bearer "+c.Token)
		return
	}
	h.Set(security.HeaderUserID, c.Identity.UserID)
	h.Set(security.HeaderRole, string(c.Identity.Role))
}

// браузерный websocket не умеет заголовки, поэтому в query
func (c Credentials) applyQuery(q url.Values) {
	if c.Token != "" {
		q.Set(security.QueryAccessToken, c.Token)
		return
	}
	q.Set(security.QueryUserID, c.Identity.UserID)
	q.Set(security.QueryRole, string(c.Identity.Role))
}
