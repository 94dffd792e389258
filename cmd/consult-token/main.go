// consult-token выпускает RS256 access-токен для локальной проверки /ws и HTTP API.
//
//	consult-token -key ./keys/private.pem -sub F1 -role farmer
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/cwrk-planet/consult-service/internal/domain"
	"github.com/cwrk-planet/consult-service/internal/security"
)

func main() {
	keyPath := flag.String("key", "./keys/private.pem", "RSA private key (PEM)")
	sub := flag.String("sub", "", "user id")
	role := flag.String("role", "farmer", "farmer|doctor")
	iss := flag.String("iss", "cwrk-planet-auth", "issuer")
	aud := flag.String("aud", "consult", "audience")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	r, err := domain.ParseRole(*role)
	if err != nil {
		log.Fatalf("role: %v", err)
	}
	priv, err := security.LoadRSAPrivateKeyFromPEM(*keyPath)
	if err != nil {
		log.Fatalf("load key: %v", err)
	}

	token, err := security.NewJWTSigner(priv, *iss, *aud, *ttl, 30*time.Second).
		Sign(domain.Identity{UserID: *sub, Role: r}, time.Now())
	if err != nil {
		log.Fatalf("sign: %v", err)
	}
	fmt.Println(token)
}
