package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	creditdomain "github.com/smallbiznis/fortuna/internal/credit/domain"
)

type adminGrantRequest struct {
	Credits int64  `json:"credits"`
	Reason  string `json:"reason"`
}

func (s *Server) AdminGetAccount(c *gin.Context) {
	s.renderAccount(c, strings.TrimSpace(c.Param("id")))
}

// AdminGrantCredits tops up an account outside the purchase flow.
func (s *Server) AdminGrantCredits(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req adminGrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	entry, err := s.creditSvc.AdminGrant(c.Request.Context(), creditdomain.AdminGrantRequest{
		AccountID: strings.TrimSpace(c.Param("id")),
		Credits:   req.Credits,
		Actor:     identity.Subject,
		Reason:    req.Reason,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": entry})
}
