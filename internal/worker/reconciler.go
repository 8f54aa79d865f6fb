package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/presale-coordinator/internal/adapter"
	"github.com/presale-coordinator/internal/logging"
	"github.com/presale-coordinator/internal/metrics"
	"github.com/presale-coordinator/internal/types"
)

// PendingStore lists and updates persisted purchases that have not reached
// a terminal state
type PendingStore interface {
	ListPending(ctx context.Context, limit int) ([]*types.Purchase, error)
	SavePurchase(ctx context.Context, purchase *types.Purchase) error
}

// ReconcilerConfig holds configuration for the purchase reconciler
type ReconcilerConfig struct {
	Adapters map[types.Network]adapter.ChainAdapter
	Store    PendingStore
	Logger   *logging.Logger
	Metrics  *metrics.Metrics

	PollInterval time.Duration
	BatchSize    int
	RPCRateLimit float64
	RPCBurst     int
}

// Reconciler settles persisted purchases that in-memory sessions lost
// track of, typically after a process restart. It reads chain state for
// every pending row and writes the terminal status back.
type Reconciler struct {
	config   *ReconcilerConfig
	logger   *logging.Logger
	limiter  *rate.Limiter
	running  bool
	runMutex sync.Mutex
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewReconciler creates a new purchase reconciler
func NewReconciler(config *ReconcilerConfig) (*Reconciler, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if len(config.Adapters) == 0 {
		return nil, fmt.Errorf("at least one chain adapter is required")
	}
	if config.Store == nil {
		return nil, fmt.Errorf("pending store cannot be nil")
	}
	if config.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 30 * time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.RPCRateLimit <= 0 {
		config.RPCRateLimit = 5
	}
	if config.RPCBurst <= 0 {
		config.RPCBurst = 5
	}

	return &Reconciler{
		config:  config,
		logger:  config.Logger.WithField("component", "reconciler"),
		limiter: rate.NewLimiter(rate.Limit(config.RPCRateLimit), config.RPCBurst),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Start begins the reconciliation loop
func (r *Reconciler) Start(ctx context.Context) error {
	r.runMutex.Lock()
	defer r.runMutex.Unlock()

	if r.running {
		return fmt.Errorf("reconciler is already running")
	}
	r.running = true

	r.logger.WithFields(map[string]interface{}{
		"pollInterval": r.config.PollInterval.String(),
		"batchSize":    r.config.BatchSize,
	}).Info("Starting purchase reconciler")

	go r.pollLoop(ctx)
	return nil
}

// Stop gracefully stops the reconciler
func (r *Reconciler) Stop(ctx context.Context) error {
	r.runMutex.Lock()
	if !r.running {
		r.runMutex.Unlock()
		return nil
	}
	r.running = false
	r.runMutex.Unlock()

	r.logger.Info("Stopping purchase reconciler")
	close(r.stopCh)

	select {
	case <-r.doneCh:
		r.logger.Info("Purchase reconciler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(30 * time.Second):
		return fmt.Errorf("timeout waiting for reconciler to stop")
	}
}

// IsRunning returns whether the reconciler is currently running
func (r *Reconciler) IsRunning() bool {
	r.runMutex.Lock()
	defer r.runMutex.Unlock()
	return r.running
}

func (r *Reconciler) pollLoop(ctx context.Context) {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	r.reconcile(ctx)

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reconcile(ctx)
		}
	}
}

// reconcile settles one batch of pending purchases
func (r *Reconciler) reconcile(ctx context.Context) {
	pending, err := r.config.Store.ListPending(ctx, r.config.BatchSize)
	if err != nil {
		r.logger.WithError(err).Error("Failed to list pending purchases")
		return
	}

	for _, purchase := range pending {
		if err := r.settle(ctx, purchase); err != nil {
			r.logger.WithFields(map[string]interface{}{
				"purchaseId": purchase.ID,
				"hash":       purchase.TxHash,
				"error":      err.Error(),
			}).Warn("Failed to settle purchase, will retry next cycle")
		}
	}
}

// settle reads the chain state for one purchase and persists any change
func (r *Reconciler) settle(ctx context.Context, purchase *types.Purchase) error {
	if purchase.TxHash == "" {
		return nil
	}

	chainAdapter, ok := r.config.Adapters[purchase.Network]
	if !ok {
		return fmt.Errorf("no adapter for network %s", purchase.Network)
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}

	state, err := chainAdapter.TransactionState(ctx, purchase.TxHash)
	if err != nil {
		r.metricPoll(purchase.Network, "error")
		return err
	}
	r.metricPoll(purchase.Network, "ok")

	snap := adapter.Normalize(purchase.Network, state)
	if snap.Status == purchase.Status {
		return nil
	}

	previous := purchase.Status
	purchase.Status = snap.Status
	if err := r.config.Store.SavePurchase(ctx, purchase); err != nil {
		purchase.Status = previous
		return err
	}

	r.logger.WithFields(map[string]interface{}{
		"purchaseId": purchase.ID,
		"hash":       purchase.TxHash,
		"from":       string(previous),
		"to":         string(snap.Status),
	}).Info("Reconciled purchase status")
	return nil
}

func (r *Reconciler) metricPoll(network types.Network, outcome string) {
	if r.config.Metrics != nil {
		r.config.Metrics.RecordRPCPoll(string(network), outcome)
	}
}
