// Package gateway talks to the external payment gateway that collects
// online sale payments and later reports the result asynchronously.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"retail-service/internal/models"
	"retail-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaymentRequest asks the gateway to collect Amount from the payer account
type PaymentRequest struct {
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	PhoneNumber      string          `json:"phone_number"`
	AccountReference string          `json:"account_reference"`
	CallbackURL      string          `json:"callback_url"`
	Description      string          `json:"description"`
}

// PaymentResponse carries the reference later notifications will use
type PaymentResponse struct {
	ExternalReferenceID string `json:"external_reference_id"`
}

// HTTPGateway calls a gateway over HTTP
type HTTPGateway struct {
	baseURL    string
	apiKey     string
	shortCode  string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPGateway creates a gateway client bounded by timeout
func NewHTTPGateway(baseURL, apiKey, shortCode string, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{
		baseURL:   baseURL,
		apiKey:    apiKey,
		shortCode: shortCode,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: util.GetLogger(),
	}
}

type initiateBody struct {
	PaymentRequest
	ShortCode string `json:"short_code"`
}

// InitiatePayment starts a collection. Any transport failure, timeout or
// non-2xx answer is returned as *models.GatewayError.
func (g *HTTPGateway) InitiatePayment(ctx context.Context, req PaymentRequest) (*PaymentResponse, error) {
	ctx, span := util.StartSpan(ctx, "HTTPGateway.InitiatePayment")
	defer span.End()

	start := time.Now()
	defer func() {
		util.GatewayLatency.Observe(time.Since(start).Seconds())
	}()

	body, err := json.Marshal(initiateBody{PaymentRequest: req, ShortCode: g.shortCode})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payment request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/payments", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build payment request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, &models.GatewayError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		g.logger.Warn("Payment gateway rejected request",
			zap.Int("status", resp.StatusCode),
			zap.String("account_reference", req.AccountReference))
		return nil, &models.GatewayError{StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status")}
	}

	var out PaymentResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &models.GatewayError{StatusCode: resp.StatusCode, Err: fmt.Errorf("invalid response body: %w", err)}
	}
	if out.ExternalReferenceID == "" {
		return nil, &models.GatewayError{StatusCode: resp.StatusCode, Err: fmt.Errorf("missing external_reference_id")}
	}

	g.logger.Info("Payment initiated",
		zap.String("account_reference", req.AccountReference),
		zap.String("external_reference_id", out.ExternalReferenceID))
	return &out, nil
}
