package domain

import (
	"context"
	"errors"

	paymentdomain "github.com/smallbiznis/fortuna/internal/payment/domain"
	txndomain "github.com/smallbiznis/fortuna/internal/transaction/domain"
)

// Outcome is the closed set of settlement results a gateway can report.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeRefunded  Outcome = "refunded"
	OutcomeUnknown   Outcome = "unknown"
)

// OutcomeFromStatus maps a gateway status onto an Outcome. Pending is not an
// outcome.
func OutcomeFromStatus(status paymentdomain.PaymentStatus) Outcome {
	switch status {
	case paymentdomain.PaymentStatusCompleted:
		return OutcomeCompleted
	case paymentdomain.PaymentStatusFailed:
		return OutcomeFailed
	case paymentdomain.PaymentStatusRefunded:
		return OutcomeRefunded
	default:
		return OutcomeUnknown
	}
}

type Source string

const (
	SourceWebhook Source = "webhook"
	SourcePoll    Source = "poll"
)

type Event struct {
	OrderID           string
	ExternalPaymentID string
	Outcome           Outcome
	Source            Source
}

type Result struct {
	Transaction *txndomain.Transaction
	// Applied is false when the event was a duplicate or otherwise a no-op.
	Applied bool
	// Gap is the number of refunded credits that were already spent.
	Gap int64
}

type Service interface {
	Apply(ctx context.Context, event Event) (*Result, error)
	OnWebhookEvent(ctx context.Context, provider string, rawBody []byte, signature string) (*Result, error)
	PollVerify(ctx context.Context, transactionID, accountID string) (*txndomain.Transaction, error)
}

var (
	ErrUnknownTransaction = errors.New("unknown_transaction")
	ErrUnknownOutcome     = errors.New("unknown_outcome")
)
