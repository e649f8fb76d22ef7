package service

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/smallbiznis/fortuna/internal/auth/domain"
	"github.com/smallbiznis/fortuna/internal/clock"
	"github.com/smallbiznis/fortuna/internal/config"
	"go.uber.org/zap"
)

func newVerifier(t *testing.T, clk clock.Clock) *JWTVerifier {
	t.Helper()
	v, err := NewJWTVerifier(config.Config{AuthJWTSecret: "s3cret", AuthJWTIssuer: "fortuna-idp"}, zap.NewNop(), clk)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	return v
}

func TestVerifyIssuedToken(t *testing.T) {
	v := newVerifier(t, clock.New())
	token, err := v.Issue("1234567890", []string{domain.RoleAdmin}, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	identity, err := v.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if identity.Subject != "1234567890" || !identity.HasRole(domain.RoleAdmin) {
		t.Fatalf("unexpected identity %+v", identity)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	issuer := newVerifier(t, clock.NewFakeClock(time.Now().Add(-2*time.Hour)))
	token, err := issuer.Issue("42", nil, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := newVerifier(t, clock.New()).Verify(context.Background(), token); err != domain.ErrTokenExpired {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestVerifyRejectsForeignTokens(t *testing.T) {
	v := newVerifier(t, clock.New())

	other, _ := NewJWTVerifier(config.Config{AuthJWTSecret: "other", AuthJWTIssuer: "fortuna-idp"}, zap.NewNop(), clock.New())
	wrongKey, _ := other.Issue("42", nil, time.Hour)

	wrongIssuer, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "42",
		Issuer:    "someone-else",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}).SignedString([]byte("s3cret"))

	badSubject, _ := v.Issue("not-a-number", nil, time.Hour)

	for name, token := range map[string]string{
		"empty":        "",
		"garbage":      "abc.def.ghi",
		"wrong key":    wrongKey,
		"wrong issuer": wrongIssuer,
		"bad subject":  badSubject,
	} {
		if _, err := v.Verify(context.Background(), token); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestProductionRequiresSecret(t *testing.T) {
	_, err := NewJWTVerifier(config.Config{Environment: "production"}, zap.NewNop(), clock.New())
	if err == nil {
		t.Fatalf("expected error without secret in production")
	}
}
