package payten

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	paymentdomain "github.com/smallbiznis/fortuna/internal/payment/domain"
)

const (
	ProviderName    = "payten"
	SignatureHeader = "X-Payten-Signature"

	ProductionBaseURL = "https://api.payten.com/v1"
	SandboxBaseURL    = "https://sandbox.payten.com/v1"

	defaultTimeout = 10 * time.Second
	maxErrorBody   = 4 << 10
)

type Factory struct {
	client *http.Client
}

func NewFactory() *Factory {
	return &Factory{}
}

// NewFactoryWithClient is used when the transport must be replaced.
func NewFactoryWithClient(client *http.Client) *Factory {
	return &Factory{client: client}
}

func (f *Factory) Provider() string {
	return ProviderName
}

func (f *Factory) NewGateway(cfg paymentdomain.GatewayConfig) (paymentdomain.Gateway, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	merchantID := strings.TrimSpace(cfg.MerchantID)
	if apiKey == "" || merchantID == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = SandboxBaseURL
		if strings.EqualFold(strings.TrimSpace(cfg.Mode), "production") {
			baseURL = ProductionBaseURL
		}
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, paymentdomain.ErrInvalidConfig
	}

	client := f.client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	return &Adapter{
		baseURL:    baseURL,
		apiKey:     apiKey,
		merchantID: merchantID,
		client:     client,
	}, nil
}

type Adapter struct {
	baseURL    string
	apiKey     string
	merchantID string
	client     *http.Client
}

func (a *Adapter) Provider() string {
	return ProviderName
}

func (a *Adapter) SignatureHeader() string {
	return SignatureHeader
}

type createPaymentRequest struct {
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	OrderID     string            `json:"order_id"`
	CustomerID  string            `json:"customer_id,omitempty"`
	ReturnURL   string            `json:"return_url"`
	CancelURL   string            `json:"cancel_url"`
	Description string            `json:"description,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type createPaymentResponse struct {
	ID         string `json:"id"`
	PaymentURL string `json:"payment_url"`
}

type paymentResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (a *Adapter) CreateSession(ctx context.Context, req paymentdomain.SessionRequest) (*paymentdomain.Session, error) {
	body, err := json.Marshal(createPaymentRequest{
		Amount:      req.Amount,
		Currency:    strings.ToUpper(req.Currency),
		OrderID:     req.OrderID,
		CustomerID:  req.CustomerID,
		ReturnURL:   req.ReturnURL,
		CancelURL:   req.CancelURL,
		Description: req.Description,
		Metadata:    req.Metadata,
	})
	if err != nil {
		return nil, err
	}

	var out createPaymentResponse
	if err := a.do(ctx, http.MethodPost, "/payments", body, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.ID) == "" || strings.TrimSpace(out.PaymentURL) == "" {
		return nil, fmt.Errorf("%w: incomplete session response", paymentdomain.ErrGatewayUnavailable)
	}
	return &paymentdomain.Session{
		ExternalPaymentID: out.ID,
		RedirectURL:       out.PaymentURL,
	}, nil
}

func (a *Adapter) VerifyStatus(ctx context.Context, externalPaymentID string) (paymentdomain.PaymentStatus, error) {
	externalPaymentID = strings.TrimSpace(externalPaymentID)
	if externalPaymentID == "" {
		return paymentdomain.PaymentStatusUnknown, paymentdomain.ErrInvalidEvent
	}
	var out paymentResponse
	if err := a.do(ctx, http.MethodGet, "/payments/"+url.PathEscape(externalPaymentID), nil, &out); err != nil {
		return paymentdomain.PaymentStatusUnknown, err
	}
	return mapStatus(out.Status), nil
}

func (a *Adapter) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("X-Merchant-Id", a.merchantID)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", paymentdomain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%w: payten %s %s returned %d: %s",
			paymentdomain.ErrGatewayUnavailable, method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", paymentdomain.ErrGatewayUnavailable, err)
	}
	return nil
}

// ValidateWebhookSignature checks the hex HMAC-SHA256 of the raw body keyed
// with the API key.
func (a *Adapter) ValidateWebhookSignature(rawBody []byte, signature string) bool {
	signature = strings.ToLower(strings.TrimSpace(signature))
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(a.apiKey))
	_, _ = mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}

type webhookPayload struct {
	EventType string      `json:"eventType"`
	PaymentID string      `json:"paymentId"`
	OrderID   string      `json:"orderId"`
	Amount    json.Number `json:"amount"`
	Currency  string      `json:"currency"`
	Status    string      `json:"status"`
	Timestamp string      `json:"timestamp"`
}

func (a *Adapter) ParseWebhook(rawBody []byte) (*paymentdomain.Event, error) {
	var payload webhookPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	eventType := strings.TrimSpace(payload.EventType)
	orderID := strings.TrimSpace(payload.OrderID)
	if eventType == "" || orderID == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	occurredAt := time.Time{}
	if ts := strings.TrimSpace(payload.Timestamp); ts != "" {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			occurredAt = parsed.UTC()
		}
	}

	paymentID := strings.TrimSpace(payload.PaymentID)
	eventKey := paymentID
	if eventKey == "" {
		eventKey = orderID
	}

	return &paymentdomain.Event{
		// Payten does not send an event id; a payment moves through each event type once.
		ProviderEventID:   eventKey + ":" + eventType,
		EventType:         eventType,
		OrderID:           orderID,
		ExternalPaymentID: paymentID,
		Status:            mapEventType(eventType, payload.Status),
		Amount:            amountMinor(payload.Amount),
		Currency:          strings.ToUpper(strings.TrimSpace(payload.Currency)),
		OccurredAt:        occurredAt,
	}, nil
}

func mapEventType(eventType, status string) paymentdomain.PaymentStatus {
	switch strings.ToLower(eventType) {
	case "payment.completed":
		return paymentdomain.PaymentStatusCompleted
	case "payment.failed":
		return paymentdomain.PaymentStatusFailed
	case "payment.refunded":
		return paymentdomain.PaymentStatusRefunded
	default:
		return mapStatus(status)
	}
}

func mapStatus(status string) paymentdomain.PaymentStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "completed", "succeeded", "success", "paid":
		return paymentdomain.PaymentStatusCompleted
	case "failed", "declined", "cancelled", "canceled", "expired":
		return paymentdomain.PaymentStatusFailed
	case "refunded":
		return paymentdomain.PaymentStatusRefunded
	case "pending", "created", "processing":
		return paymentdomain.PaymentStatusPending
	default:
		return paymentdomain.PaymentStatusUnknown
	}
}

// amountMinor accepts integer minor units and decimal major units.
func amountMinor(n json.Number) int64 {
	if n == "" {
		return 0
	}
	if v, err := n.Int64(); err == nil {
		return v
	}
	f, err := n.Float64()
	if err != nil {
		return 0
	}
	return int64(f*100 + 0.5)
}
