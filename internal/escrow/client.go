package escrow

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"atelier/internal/config"
	"atelier/internal/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Client talks to the external escrow provider. Funds are authorized
// into a hold when the customer pays, then captured to the tailor on
// delivery or refunded on cancellation. Every call carries a fresh
// request id so the provider can deduplicate retries on its side.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zerolog.Logger
}

func NewClient(cfg config.EscrowConfig, logger *zerolog.Logger) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type holdRequest struct {
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Destination int64  `json:"destination"`
	ReferenceID string `json:"reference_id"`
}

type holdResponse struct {
	HoldID string `json:"hold_id"`
}

type refundRequest struct {
	Amount int64 `json:"amount"`
}

// AuthorizeAndHold places the amount into escrow and returns the
// provider's hold reference.
func (c *Client) AuthorizeAndHold(ctx context.Context, amount int64, currency string, destination int64, referenceID string) (string, error) {
	body := holdRequest{
		Amount:      amount,
		Currency:    currency,
		Destination: destination,
		ReferenceID: referenceID,
	}
	var resp holdResponse
	if err := c.doPost(ctx, "/v1/holds", body, &resp); err != nil {
		metrics.IncGateway("hold", "error")
		return "", fmt.Errorf("escrow hold: %w", err)
	}
	if resp.HoldID == "" {
		metrics.IncGateway("hold", "error")
		return "", fmt.Errorf("escrow hold: empty hold id")
	}
	metrics.IncGateway("hold", "ok")
	c.logger.Info().Str("escrow_ref", resp.HoldID).Int64("amount", amount).Msg("escrow hold created")
	return resp.HoldID, nil
}

// Capture releases held funds to the tailor.
func (c *Client) Capture(ctx context.Context, escrowRef string) error {
	endpoint := fmt.Sprintf("/v1/holds/%s/capture", escrowRef)
	if err := c.doPost(ctx, endpoint, nil, nil); err != nil {
		metrics.IncGateway("capture", "error")
		return fmt.Errorf("escrow capture %s: %w", escrowRef, err)
	}
	metrics.IncGateway("capture", "ok")
	return nil
}

// Cancel voids a hold that was never committed locally.
func (c *Client) Cancel(ctx context.Context, escrowRef string) error {
	endpoint := fmt.Sprintf("/v1/holds/%s/cancel", escrowRef)
	if err := c.doPost(ctx, endpoint, nil, nil); err != nil {
		metrics.IncGateway("cancel", "error")
		return fmt.Errorf("escrow cancel %s: %w", escrowRef, err)
	}
	metrics.IncGateway("cancel", "ok")
	return nil
}

// Refund returns held funds to the customer.
func (c *Client) Refund(ctx context.Context, escrowRef string, amount int64) error {
	endpoint := fmt.Sprintf("/v1/holds/%s/refund", escrowRef)
	if err := c.doPost(ctx, endpoint, refundRequest{Amount: amount}, nil); err != nil {
		metrics.IncGateway("refund", "error")
		return fmt.Errorf("escrow refund %s: %w", escrowRef, err)
	}
	metrics.IncGateway("refund", "ok")
	return nil
}

func (c *Client) doPost(ctx context.Context, endpoint string, body any, out any) error {
	var payload string
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = string(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, strings.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("http %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("http %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
