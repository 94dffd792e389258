package security

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cwrk-planet/consult-service/internal/domain"

	"github.com/golang-jwt/jwt"
)

// AccessClaims: стандартные клеймы плюс роль участника консультации.
type AccessClaims struct {
	jwt.StandardClaims // Issuer, Audience, ExpiresAt, NotBefore, IssuedAt, Subject
	Role               string `json:"role"`
}

// Identity достаёт участника из провалидированных клеймов.
func (c *AccessClaims) Identity() (domain.Identity, error) {
	if c == nil || strings.TrimSpace(c.Subject) == "" {
		return domain.Identity{}, ErrInvalidSubject
	}
	role, err := domain.ParseRole(c.Role)
	if err != nil {
		return domain.Identity{}, ErrInvalidRole
	}
	return domain.Identity{UserID: c.Subject, Role: role}, nil
}

// JWTVerifier проверяет RS256 access-токены, выпущенные auth-сервисом платформы.
type JWTVerifier struct {
	public    *rsa.PublicKey
	issuer    string
	audience  string
	clockSkew time.Duration
	now       func() time.Time
}

func NewJWTVerifier(public *rsa.PublicKey, issuer, audience string, clockSkew time.Duration) *JWTVerifier {
	return &JWTVerifier{
		public:    public,
		issuer:    issuer,
		audience:  audience,
		clockSkew: clockSkew,
		now:       time.Now,
	}
}

func (v *JWTVerifier) ParseAndValidate(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	parser := &jwt.Parser{SkipClaimsValidation: true} // exp/nbf проверяем сами, с люфтом
	token, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok || t.Method.Alg() != jwt.SigningMethodRS256.Alg() {
			return nil, ErrInvalidToken
		}
		return v.public, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	// issuer
	if v.issuer != "" && !claims.VerifyIssuer(v.issuer, true) {
		return nil, ErrInvalidIssuer
	}
	// audience
	if v.audience != "" && !claims.VerifyAudience(v.audience, true) {
		return nil, ErrInvalidAudience
	}

	now := v.now()
	nbf := time.Unix(claims.NotBefore, 0).Add(-v.clockSkew)
	exp := time.Unix(claims.ExpiresAt, 0).Add(v.clockSkew) // даём люфт на «часы»
	if claims.ExpiresAt == 0 || now.Before(nbf) || now.After(exp) {
		return nil, ErrTokenExpired
	}

	return claims, nil
}

// Verify: ParseAndValidate + извлечение identity.
func (v *JWTVerifier) Verify(tokenStr string) (domain.Identity, error) {
	claims, err := v.ParseAndValidate(tokenStr)
	if err != nil {
		return domain.Identity{}, err
	}
	return claims.Identity()
}

// JWTSigner выпускает токены тем же форматом. Нужен dev-утилите consult-token и тестам.
type JWTSigner struct {
	private   *rsa.PrivateKey
	issuer    string
	audience  string
	ttl       time.Duration
	clockSkew time.Duration
}

func NewJWTSigner(private *rsa.PrivateKey, issuer, audience string, ttl, clockSkew time.Duration) *JWTSigner {
	return &JWTSigner{private: private, issuer: issuer, audience: audience, ttl: ttl, clockSkew: clockSkew}
}

func (s *JWTSigner) Sign(id domain.Identity, now time.Time) (string, error) {
	if !id.Valid() {
		return "", fmt.Errorf("%w: identity %q/%q", domain.ErrValidation, id.UserID, id.Role)
	}
	claims := AccessClaims{
		StandardClaims: jwt.StandardClaims{
			Subject:   id.UserID,
			Issuer:    s.issuer,
			Audience:  s.audience,
			IssuedAt:  now.Unix(),
			NotBefore: now.Add(-s.clockSkew).Unix(),
			ExpiresAt: now.Add(s.ttl).Unix(),
		},
		Role: string(id.Role),
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.private)
}

func LoadRSAPrivateKeyFromPEM(path string) (*rsa.PrivateKey, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(b)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %s", path)
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	pk, ok := k.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("not RSA private key")
	}

	return pk, nil
}

func LoadRSAPublicKeyFromPEM(path string) (*rsa.PublicKey, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return jwt.ParseRSAPublicKeyFromPEM(b)
}
