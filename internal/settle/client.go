// Package settle emits reward-tier signals to the external settlement
// collaborator. The ledger outcome stays authoritative regardless of
// delivery success; failed signals are logged for later reconciliation.
package settle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linkback/tradeverify/internal/domain"
)

// Signal is the reward-tier decision delivered to the settlement webhook.
type Signal struct {
	TradeID         string             `json:"trade_id"`
	Status          domain.TradeStatus `json:"status"`
	Tier            domain.RewardTier  `json:"reward_tier"`
	SecondaryReward float64            `json:"secondary_reward_amount"`
	DwellTime       *float64           `json:"dwell_time,omitempty"`
	Path            string             `json:"path"` // "return" or "proof"
	OccurredAt      time.Time          `json:"occurred_at"`
}

// Client posts settlement signals to the configured webhook.
type Client struct {
	webhookURL string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a settlement webhook client.
func NewClient(webhookURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		webhookURL: webhookURL,
		apiKey:     apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Send delivers a single signal. Non-2xx responses are errors so the caller
// can retry.
func (c *Client) Send(ctx context.Context, sig Signal) error {
	body, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("settle: marshal signal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("settle: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("settle: send signal for %s: %w", sig.TradeID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("settle: send signal for %s: status %d: %s",
			sig.TradeID, resp.StatusCode, string(respBody))
	}

	return nil
}
