// Package payment provides the checkout-session port used by the VIP
// gate. Session completion (paid/refunded transitions) is handled by
// the payment provider's callback, an external collaborator; this
// package only creates hosted checkout sessions.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrCheckoutFailed indicates the provider rejected the session request
	ErrCheckoutFailed = errors.New("checkout session creation failed")
)

// CreateSessionRequest describes the payment a sender must complete
type CreateSessionRequest struct {
	Reference     string `json:"reference"` // our session id
	Amount        int64  `json:"amount"`    // currency-agnostic integer amount
	Description   string `json:"description"`
	CustomerEmail string `json:"customer_email"`
	ExpiresAt     int64  `json:"expires_at"` // unix seconds
}

// Session is a hosted checkout session created at the provider
type Session struct {
	Ref string `json:"id"`
	URL string `json:"url"`
}

// CheckoutClient is the payment-session port consumed by the VIP gate
type CheckoutClient interface {
	CreateSession(ctx context.Context, req CreateSessionRequest) (*Session, error)
}

// HTTPCheckoutClient talks to the payment provider's session API. The
// http.Client is injected so tests can substitute transports.
type HTTPCheckoutClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPCheckoutClient creates a provider-backed checkout client
func NewHTTPCheckoutClient(baseURL, apiKey string, httpClient *http.Client) *HTTPCheckoutClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPCheckoutClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

// CreateSession creates a hosted checkout session at the provider
func (c *HTTPCheckoutClient) CreateSession(ctx context.Context, req CreateSessionRequest) (*Session, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCheckoutFailed, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/checkout/sessions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCheckoutFailed, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCheckoutFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("%w: provider returned status %d", ErrCheckoutFailed, resp.StatusCode)
	}

	var session Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCheckoutFailed, err)
	}
	if session.URL == "" {
		return nil, fmt.Errorf("%w: provider returned no checkout url", ErrCheckoutFailed)
	}

	return &session, nil
}
