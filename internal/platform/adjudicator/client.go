// Package adjudicator is the REST client for the external proof
// adjudication service, which inspects an uploaded proof artifact and
// decides whether the secondary reward claim stands.
package adjudicator

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

// Verdict is the adjudication result relayed back to the claimant. Status
// carries the adjudicator's human-readable status string.
type Verdict struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
}

// Client is the REST client for the adjudication API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new adjudication client. baseURL is the API root;
// apiKey, when non-empty, is sent as a bearer token.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// adjudicateRequest is the JSON body for a submission.
type adjudicateRequest struct {
	TransactionID  string `json:"transaction_id"`
	ProofReference string `json:"proof_reference"`
}

// Adjudicate submits a transaction id and the stored proof reference for
// adjudication and returns the verdict. Transport and non-2xx failures are
// wrapped as domain.ErrUpstream so callers can map them uniformly.
func (c *Client) Adjudicate(ctx context.Context, transactionID, proofRef string) (Verdict, error) {
	body, err := json.Marshal(adjudicateRequest{
		TransactionID:  transactionID,
		ProofReference: proofRef,
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("adjudicator: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/adjudications", bytes.NewReader(body))
	if err != nil {
		return Verdict{}, fmt.Errorf("adjudicator: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Verdict{}, fmt.Errorf("adjudicator: submit %s: %w: %v", transactionID, domain.ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Verdict{}, fmt.Errorf("adjudicator: submit %s: %w: status %d: %s",
			transactionID, domain.ErrUpstream, resp.StatusCode, string(respBody))
	}

	var verdict Verdict
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return Verdict{}, fmt.Errorf("adjudicator: decode verdict for %s: %w: %v",
			transactionID, domain.ErrUpstream, err)
	}

	return verdict, nil
}
