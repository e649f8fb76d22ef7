package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/fortuna/internal/audit/domain"
	authdomain "github.com/smallbiznis/fortuna/internal/auth/domain"
	"github.com/smallbiznis/fortuna/internal/auth/secret"
	obscontext "github.com/smallbiznis/fortuna/internal/observability/context"
)

const (
	headerAuthorization  = "Authorization"
	headerWorkerToken    = "X-Worker-Token"
	headerIdempotencyKey = "Idempotency-Key"
	contextIdentityKey   = "identity"
)

// AuthRequired resolves the bearer token to an Identity. The token subject
// is the account id.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c.GetHeader(headerAuthorization))
		if raw == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		identity, err := s.verifier.Verify(c.Request.Context(), raw)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		actorType := auditdomain.ActorTypeUser
		if identity.HasRole(authdomain.RoleAdmin) {
			actorType = auditdomain.ActorTypeAdmin
		}
		ctx := obscontext.WithAccountID(c.Request.Context(), identity.Subject)
		ctx = obscontext.WithActor(ctx, actorType, identity.Subject)
		ctx = obscontext.WithClient(ctx, c.ClientIP(), c.Request.UserAgent())
		c.Request = c.Request.WithContext(ctx)

		c.Set(contextIdentityKey, *identity)
		c.Next()
	}
}

// WorkerTokenRequired guards the content pipeline callback. The configured
// value is an argon2id hash of the shared token.
func (s *Server) WorkerTokenRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		hash := strings.TrimSpace(s.cfg.Pipeline.CallbackTokenHash)
		if hash == "" {
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		token := strings.TrimSpace(c.GetHeader(headerWorkerToken))
		if token == "" || !secret.Verify(token, hash) {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := obscontext.WithActor(c.Request.Context(), auditdomain.ActorTypeWorker, "pipeline")
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func identityFromContext(c *gin.Context) (authdomain.Identity, bool) {
	if c == nil {
		return authdomain.Identity{}, false
	}
	value, ok := c.Get(contextIdentityKey)
	if !ok {
		return authdomain.Identity{}, false
	}
	identity, ok := value.(authdomain.Identity)
	if !ok || strings.TrimSpace(identity.Subject) == "" {
		return authdomain.Identity{}, false
	}
	return identity, true
}

// accountIDFromContext returns the caller's account id or aborts.
func accountIDFromContext(c *gin.Context) (string, bool) {
	identity, ok := identityFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return "", false
	}
	return identity.Subject, true
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
