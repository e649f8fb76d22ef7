package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/fortuna/internal/audit/domain"
	obscontext "github.com/smallbiznis/fortuna/internal/observability/context"
)

const maxWebhookBodyBytes = 1 << 20

// HandlePaymentWebhook acknowledges every delivery that passed the signature
// check, including ones that changed nothing, so the gateway stops retrying.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ctx := obscontext.WithActor(c.Request.Context(), auditdomain.ActorTypeGateway, provider)
	ctx = obscontext.WithClient(ctx, c.ClientIP(), c.Request.UserAgent())

	if err := s.webhookSvc.IngestWebhook(ctx, provider, payload, c.Request.Header); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
