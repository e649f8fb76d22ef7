package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/fortuna/internal/cache"
	"github.com/smallbiznis/fortuna/internal/observability/logger"
	paymentdomain "github.com/smallbiznis/fortuna/internal/payment/domain"
	txndomain "github.com/smallbiznis/fortuna/internal/transaction/domain"
	"github.com/smallbiznis/fortuna/pkg/db/pagination"
	"go.uber.org/zap"
)

const maxIdempotencyKeyLength = 255

type createPurchaseRequest struct {
	Kind string `json:"kind"`
}

type listPaymentsQuery struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
	Status    string `form:"status"`
}

// CreatePurchase opens a gateway session. With an Idempotency-Key header a
// retried request replays the first response instead of opening a second
// transaction.
func (s *Server) CreatePurchase(c *gin.Context) {
	accountID, ok := accountIDFromContext(c)
	if !ok {
		return
	}

	var req createPurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	kind := strings.ToLower(strings.TrimSpace(req.Kind))

	ctx := c.Request.Context()
	key := strings.TrimSpace(c.GetHeader(headerIdempotencyKey))
	if len(key) > maxIdempotencyKeyLength {
		AbortWithError(c, ErrIdempotencyKey)
		return
	}
	scope := "purchase:" + accountID
	if key != "" {
		stored, err := s.idempotency.Begin(ctx, scope, key, kind)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if stored != nil {
			c.Header("Idempotent-Replayed", "true")
			c.Data(stored.Status, "application/json; charset=utf-8", stored.Body)
			return
		}
	}

	result, err := s.checkout.CreatePurchase(ctx, paymentdomain.CreatePurchaseRequest{
		AccountID: accountID,
		Kind:      kind,
	})
	if err != nil {
		if key != "" {
			if abandonErr := s.idempotency.Abandon(ctx, scope, key); abandonErr != nil {
				logger.FromContext(ctx).Warn("idempotency abandon failed", zap.Error(abandonErr))
			}
		}
		AbortWithError(c, err)
		return
	}

	body, err := json.Marshal(gin.H{"data": result})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if key != "" {
		if err := s.idempotency.Complete(ctx, scope, key, cache.StoredResponse{
			Fingerprint: kind,
			Status:      http.StatusCreated,
			Body:        body,
		}); err != nil {
			logger.FromContext(ctx).Warn("idempotency complete failed", zap.Error(err))
		}
	}
	c.Data(http.StatusCreated, "application/json; charset=utf-8", body)
}

func (s *Server) ListPayments(c *gin.Context) {
	accountID, ok := accountIDFromContext(c)
	if !ok {
		return
	}

	var query listPaymentsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.txnSvc.List(c.Request.Context(), txndomain.ListRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
		AccountID: accountID,
		Status:    strings.TrimSpace(query.Status),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Transactions, "page_info": resp.PageInfo})
}

func (s *Server) GetPayment(c *gin.Context) {
	accountID, ok := accountIDFromContext(c)
	if !ok {
		return
	}

	txn, err := s.txnSvc.GetForAccount(c.Request.Context(), strings.TrimSpace(c.Param("id")), accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": txn})
}

// VerifyPayment asks the gateway for the current status when the webhook is
// late. Settled transactions are returned without a gateway call.
func (s *Server) VerifyPayment(c *gin.Context) {
	accountID, ok := accountIDFromContext(c)
	if !ok {
		return
	}

	txn, err := s.settlementSvc.PollVerify(c.Request.Context(), strings.TrimSpace(c.Param("id")), accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": txn})
}
