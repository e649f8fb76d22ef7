package domain

import (
	"context"
	"errors"
	"time"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Identity is the authenticated caller. Subject is the account id.
type Identity struct {
	Subject   string
	Roles     []string
	ExpiresAt time.Time
}

func (i Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidToken  = errors.New("invalid_token")
	ErrTokenExpired  = errors.New("token_expired")
	ErrInvalidSecret = errors.New("invalid_secret")
)
