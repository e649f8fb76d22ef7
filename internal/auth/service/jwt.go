package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang-jwt/jwt/v4"
	"github.com/smallbiznis/fortuna/internal/auth/domain"
	"github.com/smallbiznis/fortuna/internal/clock"
	"github.com/smallbiznis/fortuna/internal/config"
	"go.uber.org/zap"
)

// Claims carried by bearer tokens issued by the identity provider.
type Claims struct {
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

type JWTVerifier struct {
	log    *zap.Logger
	secret []byte
	issuer string
	clock  clock.Clock
}

func NewJWTVerifier(cfg config.Config, log *zap.Logger, clk clock.Clock) (*JWTVerifier, error) {
	secret := strings.TrimSpace(cfg.AuthJWTSecret)
	if secret == "" {
		if cfg.IsProduction() {
			return nil, errors.New("AUTH_JWT_SECRET is required")
		}
		log.Warn("AUTH_JWT_SECRET not set, using development secret")
		secret = "fortuna-dev-secret"
	}
	return &JWTVerifier{
		log:    log.Named("auth.jwt"),
		secret: []byte(secret),
		issuer: strings.TrimSpace(cfg.AuthJWTIssuer),
		clock:  clk,
	}, nil
}

func (v *JWTVerifier) Verify(ctx context.Context, raw string) (*domain.Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, domain.ErrUnauthorized
	}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &Claims{}
	token, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		var validationErr *jwt.ValidationError
		if errors.As(err, &validationErr) && validationErr.Errors&jwt.ValidationErrorExpired != 0 {
			return nil, domain.ErrTokenExpired
		}
		return nil, domain.ErrInvalidToken
	}
	if !token.Valid {
		return nil, domain.ErrInvalidToken
	}
	if v.issuer != "" && !claims.VerifyIssuer(v.issuer, true) {
		return nil, domain.ErrInvalidToken
	}
	if !claims.VerifyExpiresAt(v.clock.Now(), true) {
		return nil, domain.ErrTokenExpired
	}

	subject, err := snowflake.ParseString(strings.TrimSpace(claims.Subject))
	if err != nil || subject == 0 {
		return nil, domain.ErrInvalidToken
	}

	identity := &domain.Identity{
		Subject: subject.String(),
		Roles:   claims.Roles,
	}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Time
	}
	return identity, nil
}

// Issue signs a token for subject. Used by local tooling and tests; production
// tokens come from the identity provider.
func (v *JWTVerifier) Issue(subject string, roles []string, ttl time.Duration) (string, error) {
	now := v.clock.Now()
	claims := Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
