package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// PaymentStatus is a gateway-side payment state mapped onto our vocabulary.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
	PaymentStatusUnknown   PaymentStatus = "unknown"
)

// EventRecord is a raw webhook delivery kept for replay and audit.
type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider        string         `json:"provider" gorm:"type:text;not null"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	OrderID         *string        `json:"order_id,omitempty"`
	Payload         datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "payment_events" }

// Event is the canonical webhook event parsed by gateways.
type Event struct {
	ProviderEventID   string
	EventType         string
	OrderID           string
	ExternalPaymentID string
	Status            PaymentStatus
	Amount            int64
	Currency          string
	OccurredAt        time.Time
}

type SessionRequest struct {
	Amount      int64
	Currency    string
	OrderID     string
	CustomerID  string
	ReturnURL   string
	CancelURL   string
	Description string
	Metadata    map[string]string
}

type Session struct {
	ExternalPaymentID string
	RedirectURL       string
}

type GatewayConfig struct {
	Mode       string
	APIKey     string
	MerchantID string
	BaseURL    string
	Timeout    time.Duration
}
