package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cwrk-planet/consult-service/internal/domain"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/require"
)

func newKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func TestSignAndVerify(t *testing.T) {
	key := newKey(t)
	signer := NewJWTSigner(key, "cwrk-auth", "consult", time.Hour, 30*time.Second)
	verifier := NewJWTVerifier(&key.PublicKey, "cwrk-auth", "consult", 30*time.Second)

	token, err := signer.Sign(domain.Identity{UserID: "doc-7", Role: domain.RoleDoctor}, time.Now())
	require.NoError(t, err)

	id, err := verifier.Verify(token)
	require.NoError(t, err)
	require.Equal(t, domain.Identity{UserID: "doc-7", Role: domain.RoleDoctor}, id)
}

func TestVerifyRejects(t *testing.T) {
	key := newKey(t)
	other := newKey(t)
	now := time.Now()
	id := domain.Identity{UserID: "f-1", Role: domain.RoleFarmer}

	verifier := NewJWTVerifier(&key.PublicKey, "cwrk-auth", "consult", 5*time.Second)

	sign := func(s *JWTSigner, at time.Time) string {
		tok, err := s.Sign(id, at)
		require.NoError(t, err)
		return tok
	}

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"garbage", "not-a-token", ErrInvalidToken},
		{"other key", sign(NewJWTSigner(other, "cwrk-auth", "consult", time.Hour, 0), now), ErrInvalidToken},
		{"issuer", sign(NewJWTSigner(key, "someone", "consult", time.Hour, 0), now), ErrInvalidIssuer},
		{"audience", sign(NewJWTSigner(key, "cwrk-auth", "billing", time.Hour, 0), now), ErrInvalidAudience},
		{"expired", sign(NewJWTSigner(key, "cwrk-auth", "consult", time.Minute, 0), now.Add(-time.Hour)), ErrTokenExpired},
		{"not yet valid", sign(NewJWTSigner(key, "cwrk-auth", "consult", time.Hour, 0), now.Add(time.Hour)), ErrTokenExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.Verify(tt.token)
			require.ErrorIs(t, err, tt.want)
			require.ErrorIs(t, err, domain.ErrUnauthorized)
		})
	}
}

func TestVerifyRejectsHS256(t *testing.T) {
	key := newKey(t)
	verifier := NewJWTVerifier(&key.PublicKey, "", "", 0)

	claims := AccessClaims{
		StandardClaims: jwt.StandardClaims{Subject: "f-1", ExpiresAt: time.Now().Add(time.Hour).Unix()},
		Role:           "farmer",
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = verifier.Verify(tok)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsUnknownRole(t *testing.T) {
	key := newKey(t)
	verifier := NewJWTVerifier(&key.PublicKey, "", "", 0)

	claims := AccessClaims{
		StandardClaims: jwt.StandardClaims{Subject: "a-1", ExpiresAt: time.Now().Add(time.Hour).Unix()},
		Role:           "admin",
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)

	_, err = verifier.Verify(tok)
	require.ErrorIs(t, err, ErrInvalidRole)
}

func TestLoadKeysFromPEM(t *testing.T) {
	key := newKey(t)
	dir := t.TempDir()

	privPath := filepath.Join(dir, "private.pem")
	require.NoError(t, os.WriteFile(privPath, pem.EncodeToMemory(&pem.Block{
		Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key),
	}), 0o600))

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPath := filepath.Join(dir, "public.pem")
	require.NoError(t, os.WriteFile(pubPath, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}), 0o600))

	priv, err := LoadRSAPrivateKeyFromPEM(privPath)
	require.NoError(t, err)
	require.True(t, priv.Equal(key))

	pub, err := LoadRSAPublicKeyFromPEM(pubPath)
	require.NoError(t, err)
	require.True(t, pub.Equal(&key.PublicKey))

	_, err = LoadRSAPrivateKeyFromPEM(pubPath)
	require.Error(t, err)
}

func TestAuthenticatorJWT(t *testing.T) {
	key := newKey(t)
	signer := NewJWTSigner(key, "", "", time.Hour, 0)
	auth := NewAuthenticator(NewJWTVerifier(&key.PublicKey, "", "", 0))
	require.False(t, auth.DevMode())

	tok, err := signer.Sign(domain.Identity{UserID: "f-1", Role: domain.RoleFarmer}, time.Now())
	require.NoError(t, err)

	r := httptest.NewRequest("GET", "/conversations/f-1/d-1/messages", nil)
	r.Header.Set("Authorization", "Bearer "+tok)
	id, err := auth.Authenticate(r)
	require.NoError(t, err)
	require.Equal(t, "f-1", id.UserID)

	r = httptest.NewRequest("GET", "/ws?access_token="+tok, nil)
	id, err = auth.Authenticate(r)
	require.NoError(t, err)
	require.Equal(t, domain.RoleFarmer, id.Role)

	// в JWT-режиме заголовки dev-режима игнорируются
	r = httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set(HeaderUserID, "f-1")
	r.Header.Set(HeaderRole, "farmer")
	_, err = auth.Authenticate(r)
	require.ErrorIs(t, err, ErrMissingToken)
}

func TestAuthenticatorDevMode(t *testing.T) {
	auth := NewAuthenticator(nil)
	require.True(t, auth.DevMode())

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set(HeaderUserID, "d-1")
	r.Header.Set(HeaderRole, "Doctor")
	id, err := auth.Authenticate(r)
	require.NoError(t, err)
	require.Equal(t, domain.Identity{UserID: "d-1", Role: domain.RoleDoctor}, id)

	r = httptest.NewRequest("GET", "/ws?user_id=f-2&role=farmer", nil)
	id, err = auth.Authenticate(r)
	require.NoError(t, err)
	require.Equal(t, domain.Identity{UserID: "f-2", Role: domain.RoleFarmer}, id)

	r = httptest.NewRequest("GET", "/ws?user_id=f-2&role=vet", nil)
	_, err = auth.Authenticate(r)
	require.ErrorIs(t, err, ErrInvalidRole)

	_, err = auth.Authenticate(httptest.NewRequest("GET", "/", nil))
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestIdentityContext(t *testing.T) {
	ctx := WithIdentity(t.Context(), domain.Identity{UserID: "f-1", Role: domain.RoleFarmer})
	id, ok := IdentityFrom(ctx)
	require.True(t, ok)
	require.Equal(t, "f-1", id.UserID)

	_, ok = IdentityFrom(t.Context())
	require.False(t, ok)
}
