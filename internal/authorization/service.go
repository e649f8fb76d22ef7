package authorization

import (
	"context"
	"errors"

	authdomain "github.com/smallbiznis/fortuna/internal/auth/domain"
)

const (
	ObjectCredit   = "credit"
	ObjectAccount  = "account"
	ObjectAuditLog = "audit_log"
)

const (
	ActionCreditGrant  = "credit.grant"
	ActionAccountView  = "account.view"
	ActionAuditLogView = "audit_log.view"
)

type Service interface {
	Authorize(ctx context.Context, identity authdomain.Identity, object string, action string) error
}

var (
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
	ErrForbidden     = errors.New("forbidden")
)
