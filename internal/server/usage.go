package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	usagedomain "github.com/smallbiznis/fortuna/internal/usage/domain"
	"github.com/smallbiznis/fortuna/pkg/db/pagination"
)

type usageCallbackRequest struct {
	Status     string `json:"status"`
	Text       string `json:"text"`
	AudioURL   string `json:"audio_url"`
	AudioError string `json:"audio_error"`
	Error      string `json:"error"`
}

// ConsumeUsage debits one credit and queues the content job. An empty
// balance is a 402 with no unit created.
func (s *Server) ConsumeUsage(c *gin.Context) {
	accountID, ok := accountIDFromContext(c)
	if !ok {
		return
	}

	var req usagedomain.ConsumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.AccountID = accountID

	result, err := s.usageSvc.Consume(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if result.Outcome == usagedomain.OutcomeInsufficientCredits {
		c.JSON(http.StatusPaymentRequired, errorResponse{Error: errorPayload{
			Type:    string(usagedomain.OutcomeInsufficientCredits),
			Message: "insufficient credits",
		}})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"data": result})
}

func (s *Server) GetUsageUnit(c *gin.Context) {
	accountID, ok := accountIDFromContext(c)
	if !ok {
		return
	}

	unit, err := s.usageSvc.Get(c.Request.Context(), strings.TrimSpace(c.Param("id")), accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": unit})
}

func (s *Server) ListUsage(c *gin.Context) {
	accountID, ok := accountIDFromContext(c)
	if !ok {
		return
	}

	var query pagination.Pagination
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.usageSvc.ListForAccount(c.Request.Context(), usagedomain.ListRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
		AccountID: accountID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Units, "page_info": resp.PageInfo})
}

// HandleUsageCallback is called by external pipeline workers. A unit that
// already finished answers 409 so the worker can stop retrying.
func (s *Server) HandleUsageCallback(c *gin.Context) {
	var req usageCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ctx := c.Request.Context()
	unitID := strings.TrimSpace(c.Param("id"))

	var (
		unit *usagedomain.Unit
		err  error
	)
	switch usagedomain.Status(strings.ToLower(strings.TrimSpace(req.Status))) {
	case usagedomain.StatusCompleted:
		unit, err = s.usageSvc.Complete(ctx, unitID, usagedomain.CompleteRequest{
			Text:       req.Text,
			AudioURL:   req.AudioURL,
			AudioError: req.AudioError,
		})
	case usagedomain.StatusFailed:
		unit, err = s.usageSvc.Fail(ctx, unitID, req.Error)
	default:
		AbortWithError(c, newValidationError("status", "invalid_status", "status must be completed or failed"))
		return
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": unit})
}
