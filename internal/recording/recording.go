// Package recording submits confirmed purchases to the recording API
// exactly once per transaction hash. Dedup state is held both in memory
// and in a durable marker store so a process restart cannot replay a
// submission.
package recording

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
	apperrors "github.com/presale-coordinator/internal/errors"
	"github.com/presale-coordinator/internal/logging"
	"github.com/presale-coordinator/internal/retry"
	"github.com/presale-coordinator/internal/types"
)

// SubmittedMarker durably records which transaction hashes have been
// submitted. The Redis store satisfies this.
type SubmittedMarker interface {
	IsSubmitted(ctx context.Context, hash string) (bool, error)
	MarkSubmitted(ctx context.Context, hash string) error
}

// Client posts purchase records to the recording API
type Client struct {
	endpoint   string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	retryCfg   *retry.Config
	logger     *logging.Logger
}

// NewClient creates a recording API client
func NewClient(endpoint string, timeout time.Duration, breakers *circuitbreaker.Manager, logger *logging.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{Timeout: timeout},
		breaker:    breakers.GetOrCreate("recording-api", nil),
		retryCfg: &retry.Config{
			MaxAttempts:  3,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			Multiplier:   2.0,
		},
		logger: logger,
	}
}

type recordRequest struct {
	WalletAddress   string  `json:"walletAddress"`
	Tokens          float64 `json:"tokens"`
	ReferralCode    string  `json:"referralCode,omitempty"`
	Network         string  `json:"network"`
	TransactionHash string  `json:"transactionHash"`
}

// Submit posts one purchase record, retrying transient failures
func (c *Client) Submit(ctx context.Context, receipt types.PurchaseReceipt) error {
	if c.endpoint == "" {
		return fmt.Errorf("recording API endpoint not configured")
	}

	body, err := json.Marshal(recordRequest{
		WalletAddress:   receipt.WalletAddress,
		Tokens:          receipt.Tokens,
		ReferralCode:    receipt.ReferralCode,
		Network:         string(receipt.Network),
		TransactionHash: receipt.TransactionHash,
	})
	if err != nil {
		return fmt.Errorf("failed to encode record request: %w", err)
	}

	result := retry.WithExponentialBackoff(ctx, c.retryCfg, func(ctx context.Context, _ int) error {
		return c.breaker.Execute(ctx, func() error {
			return c.post(ctx, body)
		})
	})
	if !result.Success {
		return result.LastError
	}
	return nil
}

func (c *Client) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/purchases/record", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("recording API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("recording API returned status %d: %s", resp.StatusCode, string(snippet))
	}
	return nil
}

// Recorder wraps the client with exactly-once submission per hash
type Recorder struct {
	client *Client
	marker SubmittedMarker
	logger *logging.Logger

	mu        sync.Mutex
	submitted map[string]struct{}
	inFlight  map[string]struct{}
}

// NewRecorder creates a Recorder. The marker may be nil, in which case
// dedup is in-memory only.
func NewRecorder(client *Client, marker SubmittedMarker, logger *logging.Logger) *Recorder {
	return &Recorder{
		client:    client,
		marker:    marker,
		logger:    logger,
		submitted: make(map[string]struct{}),
		inFlight:  make(map[string]struct{}),
	}
}

// Record submits the receipt unless its hash was already submitted or a
// submission is in flight. A duplicate is a silent no-op. Failures are
// returned as recording errors so callers can report them without treating
// the purchase itself as failed.
func (r *Recorder) Record(ctx context.Context, receipt types.PurchaseReceipt) error {
	hash := strings.ToLower(receipt.TransactionHash)
	if hash == "" {
		return fmt.Errorf("cannot record purchase without transaction hash")
	}

	r.mu.Lock()
	if _, done := r.submitted[hash]; done {
		r.mu.Unlock()
		r.logger.WithField("hash", hash).Debug("Purchase already recorded, skipping")
		return nil
	}
	if _, busy := r.inFlight[hash]; busy {
		r.mu.Unlock()
		return nil
	}
	r.inFlight[hash] = struct{}{}
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.inFlight, hash)
		r.mu.Unlock()
	}()

	if r.marker != nil {
		submitted, err := r.marker.IsSubmitted(ctx, hash)
		if err != nil {
			// marker store being down is not a reason to risk double
			// submission: treat the hash as possibly submitted only when
			// memory also says so, otherwise proceed
			r.logger.WithField("hash", hash).WithError(err).Warn("Submitted-marker lookup failed")
		} else if submitted {
			r.mu.Lock()
			r.submitted[hash] = struct{}{}
			r.mu.Unlock()
			r.logger.WithField("hash", hash).Debug("Purchase already recorded in marker store, skipping")
			return nil
		}
	}

	if err := r.client.Submit(ctx, receipt); err != nil {
		return apperrors.NewRecordingError(receipt.TransactionHash, err)
	}

	r.mu.Lock()
	r.submitted[hash] = struct{}{}
	r.mu.Unlock()

	if r.marker != nil {
		if err := r.marker.MarkSubmitted(ctx, hash); err != nil {
			r.logger.WithField("hash", hash).WithError(err).Warn("Failed to persist submitted marker")
		}
	}

	r.logger.WithFields(map[string]interface{}{
		"hash":    hash,
		"network": receipt.Network,
		"tokens":  receipt.Tokens,
	}).Info("Purchase recorded")
	return nil
}

// Recorded reports whether the hash has already been submitted, consulting
// memory first and the marker store second
func (r *Recorder) Recorded(ctx context.Context, hash string) bool {
	hash = strings.ToLower(hash)

	r.mu.Lock()
	_, done := r.submitted[hash]
	r.mu.Unlock()
	if done {
		return true
	}

	if r.marker != nil {
		if submitted, err := r.marker.IsSubmitted(ctx, hash); err == nil && submitted {
			return true
		}
	}
	return false
}
