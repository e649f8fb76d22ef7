package authorization

import (
	"context"
	"testing"

	authdomain "github.com/smallbiznis/fortuna/internal/auth/domain"
	"github.com/smallbiznis/fortuna/pkg/db/dbtest"
	"go.uber.org/zap"
)

func newService(t *testing.T) Service {
	t.Helper()
	enforcer, err := NewEnforcer(dbtest.Open(t))
	if err != nil {
		t.Fatalf("new enforcer: %v", err)
	}
	return NewService(Params{Log: zap.NewNop(), Enforcer: enforcer})
}

func TestAdminMayGrantCredits(t *testing.T) {
	svc := newService(t)
	admin := authdomain.Identity{Subject: "100", Roles: []string{authdomain.RoleAdmin}}
	if err := svc.Authorize(context.Background(), admin, ObjectCredit, ActionCreditGrant); err != nil {
		t.Fatalf("expected admin to be allowed, got %v", err)
	}
}

func TestUserMayNotGrantCredits(t *testing.T) {
	svc := newService(t)
	user := authdomain.Identity{Subject: "200", Roles: []string{authdomain.RoleUser}}
	if err := svc.Authorize(context.Background(), user, ObjectCredit, ActionCreditGrant); err != ErrForbidden {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := svc.Authorize(context.Background(), user, ObjectAccount, ActionAccountView); err != nil {
		t.Fatalf("expected account view to be allowed, got %v", err)
	}
}

func TestRevokedRoleLosesAccess(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	admin := authdomain.Identity{Subject: "300", Roles: []string{authdomain.RoleAdmin}}
	if err := svc.Authorize(ctx, admin, ObjectCredit, ActionCreditGrant); err != nil {
		t.Fatalf("expected allowed, got %v", err)
	}

	demoted := authdomain.Identity{Subject: "300"}
	if err := svc.Authorize(ctx, demoted, ObjectCredit, ActionCreditGrant); err != ErrForbidden {
		t.Fatalf("expected ErrForbidden after demotion, got %v", err)
	}
}

func TestAuthorizeValidatesInput(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	if err := svc.Authorize(ctx, authdomain.Identity{Subject: "x"}, ObjectCredit, ActionCreditGrant); err != ErrInvalidActor {
		t.Fatalf("expected ErrInvalidActor, got %v", err)
	}
	if err := svc.Authorize(ctx, authdomain.Identity{Subject: "1"}, " ", ActionCreditGrant); err != ErrInvalidObject {
		t.Fatalf("expected ErrInvalidObject, got %v", err)
	}
	if err := svc.Authorize(ctx, authdomain.Identity{Subject: "1"}, ObjectCredit, ""); err != ErrInvalidAction {
		t.Fatalf("expected ErrInvalidAction, got %v", err)
	}
}
