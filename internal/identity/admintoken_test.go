package identity_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/clawdlabs/clawd-domains/internal/identity"
)

const (
	testSecret  = "hunter2-operator-secret"
	testSignKey = "test-signing-key-32-bytes-long!!"
	testIssuer  = "https://domains.test"
)

func newIssuer(ttl time.Duration) *identity.AdminTokenIssuer {
	return identity.NewAdminTokenIssuer(testSecret, testSignKey, testIssuer, ttl)
}

func TestExchangeAndVerify(t *testing.T) {
	issuer := newIssuer(0)

	token, err := issuer.Exchange(testSecret)
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}

	claims, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "operator" {
		t.Errorf("subject: %q", claims.Subject)
	}
	if claims.Role != "admin" {
		t.Errorf("role: %q", claims.Role)
	}
	if claims.Issuer != testIssuer {
		t.Errorf("issuer: %q", claims.Issuer)
	}
}

func TestExchange_wrongSecret(t *testing.T) {
	issuer := newIssuer(0)
	if _, err := issuer.Exchange("wrong"); err == nil {
		t.Error("expected error for wrong secret")
	}
	if _, err := issuer.Exchange(""); err == nil {
		t.Error("expected error for empty secret")
	}
}

func TestExchange_notConfigured(t *testing.T) {
	issuer := identity.NewAdminTokenIssuer("", testSignKey, testIssuer, 0)
	if _, err := issuer.Exchange(""); err == nil {
		t.Error("unconfigured admin access must refuse even an empty secret")
	}
}

func TestVerify_expiredToken(t *testing.T) {
	short := newIssuer(time.Millisecond)
	token, err := short.Exchange(testSecret)
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := short.Verify(token); err == nil {
		t.Error("expected error for expired token")
	}
}

func TestVerify_wrongKey(t *testing.T) {
	token, err := newIssuer(0).Exchange(testSecret)
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	other := identity.NewAdminTokenIssuer(testSecret, "a-different-signing-key", testIssuer, 0)
	if _, err := other.Verify(token); err == nil {
		t.Error("expected error for token signed with a different key")
	}
}

func TestVerify_wrongIssuer(t *testing.T) {
	other := identity.NewAdminTokenIssuer(testSecret, testSignKey, "https://elsewhere.test", 0)
	token, err := other.Exchange(testSecret)
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if _, err := newIssuer(0).Verify(token); err == nil {
		t.Error("expected error for wrong issuer")
	}
}

func TestVerify_rejectsUnsignedToken(t *testing.T) {
	// alg=none tokens must never pass.
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, identity.AdminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			Subject:   "operator",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: "admin",
	})
	raw, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := newIssuer(0).Verify(raw); err == nil {
		t.Error("alg=none token must be rejected")
	}
}
