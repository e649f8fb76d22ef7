package domain

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Gateway is the contract every payment provider adapter fulfils.
type Gateway interface {
	Provider() string
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
	VerifyStatus(ctx context.Context, externalPaymentID string) (PaymentStatus, error)
	// ValidateWebhookSignature must be checked before the body is trusted.
	ValidateWebhookSignature(rawBody []byte, signature string) bool
	SignatureHeader() string
	ParseWebhook(rawBody []byte) (*Event, error)
}

type GatewayFactory interface {
	Provider() string
	NewGateway(cfg GatewayConfig) (Gateway, error)
}

type Repository interface {
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*EventRecord, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error
}

type CreatePurchaseRequest struct {
	AccountID string `json:"-"`
	Kind      string `json:"kind"`
}

type PurchaseResult struct {
	TransactionID string `json:"transaction_id"`
	RedirectURL   string `json:"redirect_url"`
}

type Checkout interface {
	CreatePurchase(ctx context.Context, req CreatePurchaseRequest) (*PurchaseResult, error)
}

type WebhookService interface {
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error
}

var (
	ErrGatewayUnavailable = errors.New("gateway_unavailable")
	ErrInvalidSignature   = errors.New("invalid_signature")
	ErrProviderNotFound   = errors.New("payment_provider_not_found")
	ErrInvalidProvider    = errors.New("invalid_provider")
	ErrInvalidPayload     = errors.New("invalid_payload")
	ErrInvalidEvent       = errors.New("invalid_event")
	ErrInvalidConfig      = errors.New("invalid_gateway_config")
	ErrEventIgnored       = errors.New("event_ignored")
)
