package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	creditdomain "github.com/smallbiznis/fortuna/internal/credit/domain"
	ledgerdomain "github.com/smallbiznis/fortuna/internal/ledger/domain"
	subscriptiondomain "github.com/smallbiznis/fortuna/internal/subscription/domain"
	"github.com/smallbiznis/fortuna/pkg/db/pagination"
)

type provisionAccountRequest struct {
	IsGuest bool `json:"is_guest"`
	Trial   bool `json:"trial"`
}

type accountResponse struct {
	Account      *ledgerdomain.Account            `json:"account"`
	Subscription *subscriptiondomain.Subscription `json:"subscription,omitempty"`
}

// ProvisionAccount creates the caller's account. Repeating the call is safe;
// the trial credit is granted at most once per account.
func (s *Server) ProvisionAccount(c *gin.Context) {
	accountID, ok := accountIDFromContext(c)
	if !ok {
		return
	}

	var req provisionAccountRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	ctx := c.Request.Context()
	account, created, err := s.ledgerSvc.Provision(ctx, ledgerdomain.ProvisionRequest{
		AccountID: accountID,
		IsGuest:   req.IsGuest,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if req.Trial {
		err := s.creditSvc.GrantTrial(ctx, account.ID)
		switch {
		case err == nil:
			account, err = s.ledgerSvc.GetAccount(ctx, accountID)
			if err != nil {
				AbortWithError(c, err)
				return
			}
		case errors.Is(err, creditdomain.ErrTrialAlreadyGranted):
		default:
			AbortWithError(c, err)
			return
		}
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"data": account})
}

func (s *Server) GetMyAccount(c *gin.Context) {
	accountID, ok := accountIDFromContext(c)
	if !ok {
		return
	}
	s.renderAccount(c, accountID)
}

func (s *Server) ListMyEntries(c *gin.Context) {
	accountID, ok := accountIDFromContext(c)
	if !ok {
		return
	}

	var query pagination.Pagination
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.ledgerSvc.ListEntries(c.Request.Context(), ledgerdomain.ListEntriesRequest{
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

	c.JSON(http.StatusOK, gin.H{"data": resp.Entries, "page_info": resp.PageInfo})
}

func (s *Server) renderAccount(c *gin.Context, accountID string) {
	ctx := c.Request.Context()
	account, err := s.ledgerSvc.GetAccount(ctx, accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp := accountResponse{Account: account}
	subscription, err := s.subscriptionSvc.GetActive(ctx, accountID)
	switch {
	case err == nil:
		resp.Subscription = subscription
	case errors.Is(err, subscriptiondomain.ErrNotFound):
	default:
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
