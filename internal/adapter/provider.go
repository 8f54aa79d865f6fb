package adapter

import (
	"fmt"
	"sync"
	"time"
)

// RPCProvider tracks a primary/secondary RPC endpoint pair with failover
// and health accounting. Adapters record request outcomes and fail over to
// the secondary endpoint when the primary degrades.
type RPCProvider struct {
	mu sync.RWMutex

	primaryURL   string
	secondaryURL string
	currentURL   string

	totalRequests    int64
	successfulReqs   int64
	failedReqs       int64
	consecutiveFails int
	lastSuccess      time.Time
	lastFailure      time.Time

	maxConsecutiveFails int
}

// NewRPCProvider creates a provider with a primary and optional secondary URL
func NewRPCProvider(primaryURL, secondaryURL string) (*RPCProvider, error) {
	if primaryURL == "" {
		return nil, fmt.Errorf("primary URL cannot be empty")
	}
	return &RPCProvider{
		primaryURL:          primaryURL,
		secondaryURL:        secondaryURL,
		currentURL:          primaryURL,
		maxConsecutiveFails: 5,
	}, nil
}

// CurrentURL returns the currently active RPC endpoint URL
func (p *RPCProvider) CurrentURL() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.currentURL
}

// Failover switches to the secondary endpoint.
// Returns error if no secondary endpoint is configured.
func (p *RPCProvider) Failover() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.secondaryURL == "" {
		return fmt.Errorf("no secondary endpoint available for failover")
	}
	if p.currentURL == p.secondaryURL {
		return fmt.Errorf("already on secondary endpoint")
	}

	p.currentURL = p.secondaryURL
	p.consecutiveFails = 0
	return nil
}

// RecordSuccess records a successful request
func (p *RPCProvider) RecordSuccess() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.totalRequests++
	p.successfulReqs++
	p.consecutiveFails = 0
	p.lastSuccess = time.Now()
}

// RecordFailure records a failed request
func (p *RPCProvider) RecordFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.totalRequests++
	p.failedReqs++
	p.consecutiveFails++
	p.lastFailure = time.Now()
}

// IsHealthy returns true while consecutive failures stay under the threshold
func (p *RPCProvider) IsHealthy() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.consecutiveFails < p.maxConsecutiveFails
}

// Reset switches back to the primary endpoint and clears failure tracking
func (p *RPCProvider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.currentURL = p.primaryURL
	p.consecutiveFails = 0
}
