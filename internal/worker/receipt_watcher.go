package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/presale-coordinator/internal/adapter"
	"github.com/presale-coordinator/internal/coordinator"
	"github.com/presale-coordinator/internal/logging"
	"github.com/presale-coordinator/internal/metrics"
	"github.com/presale-coordinator/internal/types"
)

// ReceiptWatcherConfig holds configuration for the receipt watcher
type ReceiptWatcherConfig struct {
	Adapters map[types.Network]adapter.ChainAdapter
	Sessions *coordinator.Manager
	Logger   *logging.Logger
	Metrics  *metrics.Metrics

	// PollInterval is how often pending transactions are re-read
	PollInterval time.Duration

	// RPCRateLimit caps state-provider reads per second across all sessions
	RPCRateLimit float64
	RPCBurst     int
}

// ReceiptWatcher polls the state provider for every session that is
// tracking an unresolved transaction and feeds each read back into that
// session's coordinator. The coordinator owns all dedup and terminal
// semantics; the watcher only moves snapshots.
type ReceiptWatcher struct {
	config   *ReceiptWatcherConfig
	logger   *logging.Logger
	limiter  *rate.Limiter
	running  bool
	runMutex sync.Mutex
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewReceiptWatcher creates a new receipt watcher
func NewReceiptWatcher(config *ReceiptWatcherConfig) (*ReceiptWatcher, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if len(config.Adapters) == 0 {
		return nil, fmt.Errorf("at least one chain adapter is required")
	}
	if config.Sessions == nil {
		return nil, fmt.Errorf("session manager cannot be nil")
	}
	if config.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 3 * time.Second
	}
	if config.RPCRateLimit <= 0 {
		config.RPCRateLimit = 10
	}
	if config.RPCBurst <= 0 {
		config.RPCBurst = 5
	}

	return &ReceiptWatcher{
		config:  config,
		logger:  config.Logger.WithField("component", "receiptWatcher"),
		limiter: rate.NewLimiter(rate.Limit(config.RPCRateLimit), config.RPCBurst),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Start begins the polling loop. It returns immediately; polling runs in
// the background until Stop is called or the context is cancelled.
func (w *ReceiptWatcher) Start(ctx context.Context) error {
	w.runMutex.Lock()
	defer w.runMutex.Unlock()

	if w.running {
		return fmt.Errorf("receipt watcher is already running")
	}
	w.running = true

	w.logger.WithFields(map[string]interface{}{
		"pollInterval": w.config.PollInterval.String(),
		"rpcRateLimit": w.config.RPCRateLimit,
	}).Info("Starting receipt watcher")

	go w.pollLoop(ctx)
	return nil
}

// Stop gracefully stops the watcher, waiting for the in-flight poll to
// finish
func (w *ReceiptWatcher) Stop(ctx context.Context) error {
	w.runMutex.Lock()
	if !w.running {
		w.runMutex.Unlock()
		return nil
	}
	w.running = false
	w.runMutex.Unlock()

	w.logger.Info("Stopping receipt watcher")
	close(w.stopCh)

	select {
	case <-w.doneCh:
		w.logger.Info("Receipt watcher stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(30 * time.Second):
		return fmt.Errorf("timeout waiting for receipt watcher to stop")
	}
}

// IsRunning returns whether the watcher is currently running
func (w *ReceiptWatcher) IsRunning() bool {
	w.runMutex.Lock()
	defer w.runMutex.Unlock()
	return w.running
}

func (w *ReceiptWatcher) pollLoop(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	// first pass without waiting a full interval
	w.poll(ctx)

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

// poll reads the chain state for every unresolved session once
func (w *ReceiptWatcher) poll(ctx context.Context) {
	for wallet, coord := range w.config.Sessions.Watching() {
		record, ok := coord.PendingRecord()
		if !ok {
			continue
		}
		w.observe(ctx, wallet, coord, record)
	}
}

func (w *ReceiptWatcher) observe(ctx context.Context, wallet string, coord *coordinator.Coordinator, record types.TransactionRecord) {
	chainAdapter, ok := w.config.Adapters[record.Network]
	if !ok {
		w.logger.WithFields(map[string]interface{}{
			"wallet":  wallet,
			"network": string(record.Network),
		}).Warn("No adapter for tracked network, skipping")
		return
	}

	if err := w.limiter.Wait(ctx); err != nil {
		return
	}

	state, err := chainAdapter.TransactionState(ctx, record.Hash)
	if err != nil {
		// transient provider failures are left for the next tick
		w.metricPoll(record.Network, "error")
		w.logger.WithFields(map[string]interface{}{
			"wallet":  wallet,
			"network": string(record.Network),
			"hash":    record.Hash,
			"error":   err.Error(),
		}).Warn("Failed to read transaction state")
		return
	}
	w.metricPoll(record.Network, "ok")

	coord.ObserveSnapshot(ctx, adapter.Normalize(record.Network, state))
}

func (w *ReceiptWatcher) metricPoll(network types.Network, outcome string) {
	if w.config.Metrics != nil {
		w.config.Metrics.RecordRPCPoll(string(network), outcome)
	}
}
