// Package identity issues and verifies operator session tokens for the
// admin reconciliation surface. This service has no end-user accounts;
// buyer identity is a wallet address proven by signature, so the only
// tokens here are operator ones.
package identity

import (
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AdminClaims are the JWT claims for an operator session token.
type AdminClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// AdminTokenIssuer issues and verifies operator session JWTs, HS256-signed
// with a configured secret. Tokens are issued only in exchange for the
// static admin secret.
type AdminTokenIssuer struct {
	secret []byte
	signer []byte
	issuer string
	ttl    time.Duration
}

// NewAdminTokenIssuer creates an AdminTokenIssuer.
//
//	adminSecret — the shared secret exchanged for tokens.
//	signingKey  — the HMAC key for token signatures.
//	issuerURL   — the "iss" claim value; matches the service's base URL.
//	ttl         — token lifetime (default: 8 hours).
func NewAdminTokenIssuer(adminSecret, signingKey, issuerURL string, ttl time.Duration) *AdminTokenIssuer {
	if ttl == 0 {
		ttl = 8 * time.Hour
	}
	return &AdminTokenIssuer{
		secret: []byte(adminSecret),
		signer: []byte(signingKey),
		issuer: issuerURL,
		ttl:    ttl,
	}
}

// Exchange trades the admin secret for a session token.
func (a *AdminTokenIssuer) Exchange(secret string) (string, error) {
	if len(a.secret) == 0 {
		return "", fmt.Errorf("admin access not configured")
	}
	if subtle.ConstantTimeCompare([]byte(secret), a.secret) != 1 {
		return "", fmt.Errorf("invalid admin secret")
	}

	now := time.Now().UTC()
	claims := AdminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   "operator",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			ID:        uuid.New().String(),
		},
		Role: "admin",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.signer)
	if err != nil {
		return "", fmt.Errorf("sign admin token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates an operator session token.
func (a *AdminTokenIssuer) Verify(tokenStr string) (*AdminClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&AdminClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return a.signer, nil
		},
		jwt.WithIssuer(a.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("verify admin token: %w", err)
	}
	claims, ok := token.Claims.(*AdminClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid admin token claims")
	}
	if claims.Role != "admin" {
		return nil, fmt.Errorf("not an operator token")
	}
	return claims, nil
}
