// Package fake is an in-process gateway for local development and tests.
package fake

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	paymentdomain "github.com/smallbiznis/fortuna/internal/payment/domain"
)

const (
	ProviderName    = "fake"
	SignatureHeader = "X-Fake-Signature"
	defaultSecret   = "fake_webhook_secret"
)

type Factory struct {
	gateway *Gateway
}

// NewFactory returns a factory that always hands out gw. A nil gw gets a
// fresh gateway keyed with the configured API key.
func NewFactory(gw *Gateway) *Factory {
	return &Factory{gateway: gw}
}

func (f *Factory) Provider() string {
	return ProviderName
}

func (f *Factory) NewGateway(cfg paymentdomain.GatewayConfig) (paymentdomain.Gateway, error) {
	if f.gateway != nil {
		return f.gateway, nil
	}
	return New(cfg.APIKey), nil
}

type Gateway struct {
	secret string

	mu        sync.Mutex
	sessions  []paymentdomain.SessionRequest
	statuses  map[string]paymentdomain.PaymentStatus
	createErr error
	verifyErr error
}

func New(secret string) *Gateway {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		secret = defaultSecret
	}
	return &Gateway{
		secret:   secret,
		statuses: map[string]paymentdomain.PaymentStatus{},
	}
}

func (g *Gateway) Provider() string        { return ProviderName }
func (g *Gateway) SignatureHeader() string { return SignatureHeader }

// FailCreate makes subsequent CreateSession calls fail with err.
func (g *Gateway) FailCreate(err error) {
	g.mu.Lock()
	g.createErr = err
	g.mu.Unlock()
}

func (g *Gateway) FailVerify(err error) {
	g.mu.Lock()
	g.verifyErr = err
	g.mu.Unlock()
}

func (g *Gateway) SetStatus(externalPaymentID string, status paymentdomain.PaymentStatus) {
	g.mu.Lock()
	g.statuses[externalPaymentID] = status
	g.mu.Unlock()
}

// Sessions returns the session requests seen so far.
func (g *Gateway) Sessions() []paymentdomain.SessionRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]paymentdomain.SessionRequest, len(g.sessions))
	copy(out, g.sessions)
	return out
}

func (g *Gateway) CreateSession(ctx context.Context, req paymentdomain.SessionRequest) (*paymentdomain.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, fmt.Errorf("%w: %v", paymentdomain.ErrGatewayUnavailable, g.createErr)
	}
	g.sessions = append(g.sessions, req)
	externalID := "fake_" + req.OrderID
	g.statuses[externalID] = paymentdomain.PaymentStatusPending
	return &paymentdomain.Session{
		ExternalPaymentID: externalID,
		RedirectURL:       req.ReturnURL,
	}, nil
}

func (g *Gateway) VerifyStatus(ctx context.Context, externalPaymentID string) (paymentdomain.PaymentStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.verifyErr != nil {
		return paymentdomain.PaymentStatusUnknown, fmt.Errorf("%w: %v", paymentdomain.ErrGatewayUnavailable, g.verifyErr)
	}
	status, ok := g.statuses[externalPaymentID]
	if !ok {
		return paymentdomain.PaymentStatusUnknown, nil
	}
	return status, nil
}

// Sign returns the signature header value for payload.
func (g *Gateway) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(g.secret))
	_, _ = mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func (g *Gateway) ValidateWebhookSignature(rawBody []byte, signature string) bool {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return false
	}
	return hmac.Equal([]byte(signature), []byte(g.Sign(rawBody)))
}

// WebhookPayload is the body the fake gateway delivers.
type WebhookPayload struct {
	EventID   string `json:"event_id"`
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Status    string `json:"status"`
}

// Payload marshals a webhook body for tests and local tooling.
func Payload(eventID, orderID, paymentID string, status paymentdomain.PaymentStatus) []byte {
	body, _ := json.Marshal(WebhookPayload{
		EventID:   eventID,
		OrderID:   orderID,
		PaymentID: paymentID,
		Status:    string(status),
	})
	return body
}

func (g *Gateway) ParseWebhook(rawBody []byte) (*paymentdomain.Event, error) {
	var payload WebhookPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(payload.EventID) == "" || strings.TrimSpace(payload.OrderID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	status := paymentdomain.PaymentStatus(strings.ToLower(strings.TrimSpace(payload.Status)))
	switch status {
	case paymentdomain.PaymentStatusPending, paymentdomain.PaymentStatusCompleted,
		paymentdomain.PaymentStatusFailed, paymentdomain.PaymentStatusRefunded:
	default:
		status = paymentdomain.PaymentStatusUnknown
	}

	return &paymentdomain.Event{
		ProviderEventID:   payload.EventID,
		EventType:         "payment." + string(status),
		OrderID:           payload.OrderID,
		ExternalPaymentID: payload.PaymentID,
		Status:            status,
	}, nil
}
