// Package referral validates referral codes against the external referral
// API and tracks per-wallet validation state. A purchase with a referral
// code may not proceed until validation has resolved: an unresolved code
// makes submission a no-op, a rejected code blocks it with an error.
package referral

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/presale-coordinator/internal/circuitbreaker"
	"github.com/presale-coordinator/internal/logging"
)

// Status is the validation state of one wallet's referral code.
// IsValid is nil while validation is unresolved.
type Status struct {
	Code         string `json:"code"`
	IsValidating bool   `json:"isValidating"`
	IsValid      *bool  `json:"isValid"`
	Message      string `json:"message,omitempty"`
}

// Resolved reports whether validation has produced an answer
func (s Status) Resolved() bool {
	return s.IsValid != nil
}

// Client calls the external referral-validation API
type Client struct {
	endpoint   string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	logger     *logging.Logger
}

// NewClient creates a referral API client
func NewClient(endpoint string, timeout time.Duration, breakers *circuitbreaker.Manager, logger *logging.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{Timeout: timeout},
		breaker:    breakers.GetOrCreate("referral-api", nil),
		logger:     logger,
	}
}

type validateRequest struct {
	Code          string `json:"code"`
	WalletAddress string `json:"walletAddress"`
}

type validateResponse struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message,omitempty"`
}

// Validate checks one referral code against the API. A network or API
// failure is an error, distinct from a definitive invalid answer.
func (c *Client) Validate(ctx context.Context, code, walletAddress string) (bool, string, error) {
	if c.endpoint == "" {
		return false, "", fmt.Errorf("referral API endpoint not configured")
	}

	body, err := json.Marshal(validateRequest{Code: code, WalletAddress: walletAddress})
	if err != nil {
		return false, "", fmt.Errorf("failed to encode validation request: %w", err)
	}

	var result validateResponse
	err = c.breaker.Execute(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/referral/validate", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("referral API request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("referral API returned status %d: %s", resp.StatusCode, string(snippet))
		}
		return json.NewDecoder(resp.Body).Decode(&result)
	})
	if err != nil {
		return false, "", err
	}

	return result.Valid, result.Message, nil
}

// Tracker keeps the current validation status for each wallet
type Tracker struct {
	client *Client
	logger *logging.Logger

	mu       sync.RWMutex
	statuses map[string]Status
}

// NewTracker creates a referral status tracker backed by the client
func NewTracker(client *Client, logger *logging.Logger) *Tracker {
	return &Tracker{
		client:   client,
		logger:   logger,
		statuses: make(map[string]Status),
	}
}

// Validate resolves the wallet's referral code and records the outcome.
// While the call is in flight the status reports IsValidating with no
// answer; on API failure the status stays unresolved so submission remains
// a no-op rather than being rejected.
func (t *Tracker) Validate(ctx context.Context, walletAddress, code string) Status {
	t.mu.Lock()
	t.statuses[walletAddress] = Status{Code: code, IsValidating: true}
	t.mu.Unlock()

	valid, message, err := t.client.Validate(ctx, code, walletAddress)

	t.mu.Lock()
	defer t.mu.Unlock()

	status := Status{Code: code}
	if err != nil {
		t.logger.WithFields(map[string]interface{}{
			"walletAddress": walletAddress,
			"code":          code,
		}).WithError(err).Warn("Referral validation did not resolve")
	} else {
		status.IsValid = &valid
		status.Message = message
	}
	t.statuses[walletAddress] = status
	return status
}

// Status returns the wallet's current validation status. A wallet that
// never started validation has no code and no answer.
func (t *Tracker) Status(walletAddress string) Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.statuses[walletAddress]
}

// Clear drops the wallet's validation state, e.g. when the code input is
// emptied
func (t *Tracker) Clear(walletAddress string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.statuses, walletAddress)
}

// Set records an externally-determined status, used when a code arrives
// pre-validated from a referral URL
func (t *Tracker) Set(walletAddress string, status Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.statuses[walletAddress] = status
}
