// Package payments is the REST client for the payment gateway that moves
// refunds back to accounts.
package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/listingengine/internal/domain"
)

// ErrRejected marks a transfer the gateway refused outright (4xx). Retrying
// it will not help.
var ErrRejected = errors.New("payments: transfer rejected")

// Client implements domain.Transferrer against POST {baseURL}/transfers.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a gateway client.
//
// baseURL is the gateway root, e.g. "https://payments.internal".
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type transferRequest struct {
	AccountID string        `json:"account_id"`
	Amount    domain.Amount `json:"amount"`
	Reference string        `json:"reference"`
}

// Transfer sends amount to accountID. reference doubles as the idempotency
// key so a replayed refund is paid once.
func (c *Client) Transfer(ctx context.Context, accountID string, amount domain.Amount, reference string) error {
	body, err := json.Marshal(transferRequest{AccountID: accountID, Amount: amount, Reference: reference})
	if err != nil {
		return fmt.Errorf("payments: marshal transfer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transfers", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("payments: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", reference)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("payments: transfer %s: %w", reference, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, string(respBody))
	}
	return fmt.Errorf("payments: transfer %s: unexpected status %d: %s", reference, resp.StatusCode, string(respBody))
}

var _ domain.Transferrer = (*Client)(nil)
