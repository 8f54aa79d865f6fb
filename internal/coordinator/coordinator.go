// Package coordinator implements the purchase transaction state machine.
// One coordinator tracks one wallet's purchase flow: it validates and
// submits purchase intents, folds normalized chain snapshots into a single
// status, keeps terminal states sticky per transaction hash, guards against
// cross-network state pollution, and fires recording and confirmation side
// effects exactly once per transaction.
package coordinator

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/presale-coordinator/internal/adapter"
	apperrors "github.com/presale-coordinator/internal/errors"
	"github.com/presale-coordinator/internal/logging"
	"github.com/presale-coordinator/internal/metrics"
	"github.com/presale-coordinator/internal/pricing"
	"github.com/presale-coordinator/internal/referral"
	"github.com/presale-coordinator/internal/types"
)

// Status is the coordinator's purchase attempt status
type Status string

const (
	// StatusIdle means no purchase attempt is active
	StatusIdle Status = "idle"
	// StatusSubmitting means the intent passed validation and the signed
	// transaction is being broadcast
	StatusSubmitting Status = "submitting"
	// StatusPending means the transaction hash is known and the transaction
	// awaits mining
	StatusPending Status = "pending"
	// StatusConfirming means the transaction is mined and awaiting finality
	StatusConfirming Status = "confirming"
	// StatusSuccess is the terminal success state
	StatusSuccess Status = "success"
	// StatusError is the terminal failure state
	StatusError Status = "error"
)

// Terminal reports whether the status is a terminal state
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusError
}

// inFlight reports whether an attempt is active and not yet terminal
func (s Status) inFlight() bool {
	return s == StatusSubmitting || s == StatusPending || s == StatusConfirming
}

// Recorder submits confirmed purchases to the recording API exactly once
type Recorder interface {
	Record(ctx context.Context, receipt types.PurchaseReceipt) error
}

// ConfirmationSink receives the purchase metadata of a confirmed purchase,
// exactly once per transaction
type ConfirmationSink interface {
	PurchaseConfirmed(receipt types.PurchaseReceipt)
}

// TransitionSink receives every status transition for auditing
type TransitionSink interface {
	RecordTransition(ctx context.Context, transition types.PurchaseTransition) error
}

// PurchaseStore persists purchase attempts
type PurchaseStore interface {
	SavePurchase(ctx context.Context, purchase *types.Purchase) error
}

// AllocationSource reports the aggregated USD raised in the active stage
type AllocationSource interface {
	RaisedUSD(ctx context.Context) (float64, error)
}

// ReferralGate exposes the wallet's referral validation status
type ReferralGate interface {
	Status(walletAddress string) referral.Status
}

// BalanceRefresher is invoked after the post-success settle delay so
// displayed balances reflect the spent funds
type BalanceRefresher func(network types.Network, wallet string)

// State is a read-only view of the coordinator's current attempt
type State struct {
	Status           Status                   `json:"status"`
	AttemptID        string                   `json:"attemptId,omitempty"`
	Intent           *types.PurchaseIntent    `json:"intent,omitempty"`
	Record           *types.TransactionRecord `json:"record,omitempty"`
	Quote            *types.Quote             `json:"quote,omitempty"`
	Receipt          *types.PurchaseReceipt   `json:"receipt,omitempty"`
	ErrorClass       ErrorClass               `json:"errorClass,omitempty"`
	ErrorMessage     string                   `json:"errorMessage,omitempty"`
	RecordingWarning string                   `json:"recordingWarning,omitempty"`
}

// Config wires the coordinator's collaborators
type Config struct {
	Adapters    map[types.Network]adapter.ChainAdapter
	Resolver    *pricing.Resolver
	Referral    ReferralGate
	Recorder    Recorder
	Sink        ConfirmationSink
	Transitions TransitionSink
	Purchases   PurchaseStore
	Allocation  AllocationSource

	RefreshBalances BalanceRefresher
	RefreshDelay    time.Duration

	// Network is the initial network context
	Network types.Network

	Logger  *logging.Logger
	Metrics *metrics.Metrics
}

// Coordinator is the purchase transaction lifecycle state machine
type Coordinator struct {
	adapters    map[types.Network]adapter.ChainAdapter
	resolver    *pricing.Resolver
	referral    ReferralGate
	recorder    Recorder
	sink        ConfirmationSink
	transitions TransitionSink
	purchases   PurchaseStore
	allocation  AllocationSource

	refreshBalances BalanceRefresher
	refreshDelay    time.Duration

	logger  *logging.Logger
	metrics *metrics.Metrics

	// afterFunc schedules the balance refresh; replaced in tests
	afterFunc func(d time.Duration, fn func()) *time.Timer

	mu        sync.Mutex
	network   types.Network
	state     State
	processed map[string]struct{}
}

// NewCoordinator creates a coordinator in the idle state
func NewCoordinator(cfg *Config) (*Coordinator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration cannot be nil")
	}
	if len(cfg.Adapters) == 0 {
		return nil, fmt.Errorf("at least one chain adapter is required")
	}
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("price resolver is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger(logging.LevelInfo, logging.FormatJSON)
	}
	refreshDelay := cfg.RefreshDelay
	if refreshDelay <= 0 {
		refreshDelay = 2 * time.Second
	}

	return &Coordinator{
		adapters:        cfg.Adapters,
		resolver:        cfg.Resolver,
		referral:        cfg.Referral,
		recorder:        cfg.Recorder,
		sink:            cfg.Sink,
		transitions:     cfg.Transitions,
		purchases:       cfg.Purchases,
		allocation:      cfg.Allocation,
		refreshBalances: cfg.RefreshBalances,
		refreshDelay:    refreshDelay,
		logger:          logger,
		metrics:         cfg.Metrics,
		afterFunc:       time.AfterFunc,
		network:         cfg.Network,
		state:           State{Status: StatusIdle},
		processed:       make(map[string]struct{}),
	}, nil
}

// clone detaches the snapshot from the live state: the record and the
// other pointer fields are mutated in place under the lock, so a shared
// pointer would race with callers reading the copy outside it
func (s State) clone() State {
	out := s
	if s.Intent != nil {
		intent := *s.Intent
		out.Intent = &intent
	}
	if s.Record != nil {
		record := *s.Record
		out.Record = &record
	}
	if s.Quote != nil {
		quote := *s.Quote
		out.Quote = &quote
	}
	if s.Receipt != nil {
		receipt := *s.Receipt
		out.Receipt = &receipt
	}
	return out
}

// State returns a detached copy of the current attempt state
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// Network returns the current network context
func (c *Coordinator) Network() types.Network {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.network
}

// SetNetwork switches the network context. Any in-flight attempt is
// abandoned and the processed set cleared: transaction state from the
// previous network must not leak into the new one, so the machine starts
// fresh and ignores snapshots until a new transaction is initiated.
func (c *Coordinator) SetNetwork(ctx context.Context, network types.Network) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if network == c.network {
		return
	}

	previous := c.network
	c.network = network

	if c.state.Status != StatusIdle {
		c.transitionLocked(ctx, c.state.Status, StatusIdle, "network switched")
	}
	c.state = State{Status: StatusIdle}
	c.processed = make(map[string]struct{})

	c.logger.WithFields(map[string]interface{}{
		"from": previous,
		"to":   network,
	}).Info("Network context switched, purchase state reset")
}

// Dismiss resets the attempt to idle from any state. Terminal dedup state
// survives dismissal so a re-observed snapshot of the same transaction
// cannot re-fire side effects.
func (c *Coordinator) Dismiss(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Status == StatusIdle {
		return
	}
	c.transitionLocked(ctx, c.state.Status, StatusIdle, "dismissed")
	c.state = State{Status: StatusIdle}
}

// Submit validates the intent and broadcasts the signed transaction.
// Validation failures return categorized errors without leaving idle.
// An unresolved referral validation makes Submit a silent no-op.
func (c *Coordinator) Submit(ctx context.Context, intent *types.PurchaseIntent) (State, error) {
	c.mu.Lock()

	if c.state.Status.inFlight() {
		c.mu.Unlock()
		return c.State(), apperrors.NewPurchaseInFlightError()
	}

	network := c.network
	chainAdapter, ok := c.adapters[network]
	if !ok {
		c.mu.Unlock()
		return c.State(), apperrors.NewInternalError(fmt.Sprintf("no adapter configured for network %s", network), nil)
	}

	// the record's network is captured from the context at initiation,
	// never from the intent
	intent.Network = network
	intent.ChainKind = chainAdapter.Kind()

	if strings.TrimSpace(intent.Amount) == "" || intent.Currency == "" {
		c.mu.Unlock()
		c.metricSubmission(network, "rejected")
		return c.State(), apperrors.NewEmptyAmountError()
	}

	if intent.ReferralCode != "" && c.referral != nil {
		status := c.referral.Status(intent.WalletAddress)
		if !status.Resolved() {
			// validation still in flight: ignore the submission entirely
			c.mu.Unlock()
			c.logger.WithField("walletAddress", intent.WalletAddress).Debug("Submit ignored, referral validation unresolved")
			c.metricSubmission(network, "noop")
			return c.State(), nil
		}
		if !*status.IsValid {
			c.mu.Unlock()
			c.metricSubmission(network, "rejected")
			return c.State(), apperrors.NewInvalidReferralError(status.Message)
		}
	}

	quote, err := c.resolver.Quote(ctx, network, intent.Currency, intent.Amount)
	if err != nil {
		c.mu.Unlock()
		c.metricSubmission(network, "rejected")
		return c.State(), apperrors.NewInvalidAmountError(intent.Amount, err)
	}

	if err := c.validateLocked(ctx, intent, chainAdapter, quote); err != nil {
		c.mu.Unlock()
		c.metricSubmission(network, "rejected")
		return c.State(), err
	}

	attemptID := uuid.New().String()
	prev := c.state.Status
	c.state = State{
		Status:    StatusSubmitting,
		AttemptID: attemptID,
		Intent:    intent,
		Quote:     &quote,
	}
	c.transitionLocked(ctx, prev, StatusSubmitting, "intent accepted")
	c.mu.Unlock()

	hash, buyErr := chainAdapter.Buy(ctx, intent)

	c.mu.Lock()
	defer c.mu.Unlock()

	// a dismiss or network switch while broadcasting abandons the attempt
	if c.state.AttemptID != attemptID {
		c.logger.WithField("attemptId", attemptID).Debug("Broadcast result for abandoned attempt dropped")
		return c.state.clone(), nil
	}

	if buyErr != nil {
		class, message := Classify(buyErr)
		key := syntheticErrorKey(buyErr)
		c.processed[key] = struct{}{}
		c.state.Status = StatusError
		c.state.ErrorClass = class
		c.state.ErrorMessage = message
		c.transitionLocked(ctx, StatusSubmitting, StatusError, message)
		c.metricSubmission(network, "broadcast_failed")
		c.metricTerminal(network, StatusError)
		return c.state.clone(), nil
	}

	c.state.Status = StatusPending
	c.state.Record = &types.TransactionRecord{
		Hash:    hash,
		Network: network,
		Status:  types.TxPending,
	}
	c.transitionLocked(ctx, StatusSubmitting, StatusPending, "transaction broadcast")
	c.metricSubmission(network, "accepted")
	c.savePurchaseLocked(ctx, types.TxPending)

	c.logger.WithFields(map[string]interface{}{
		"attemptId": attemptID,
		"hash":      hash,
		"network":   network,
	}).Info("Purchase transaction broadcast")

	return c.state.clone(), nil
}

func (c *Coordinator) validateLocked(ctx context.Context, intent *types.PurchaseIntent, chainAdapter adapter.ChainAdapter, quote types.Quote) error {
	if c.allocation != nil {
		raised, err := c.allocation.RaisedUSD(ctx)
		if err != nil {
			return apperrors.NewInternalError("failed to read aggregated raised amount", err)
		}
		result, err := c.resolver.CheckAllocation(quote.USDValue, raised, intent.Currency, intent.Network)
		if err != nil {
			return apperrors.NewInternalError("allocation check failed", err)
		}
		if !result.Valid {
			stage, _ := c.resolver.ActiveStage()
			return apperrors.NewAllocationExceededError(stage.Name, quote.USDValue, result.RemainingAllocation)
		}
	}

	balance, err := chainAdapter.Balance(ctx, intent.WalletAddress, intent.Currency)
	if err != nil {
		c.logger.WithFields(map[string]interface{}{
			"walletAddress": intent.WalletAddress,
			"currency":      intent.Currency,
		}).WithError(err).Warn("Balance check failed, continuing without it")
	} else if requested, perr := parseAmount(intent.Amount); perr == nil && balance < requested {
		return apperrors.NewInsufficientBalanceError(intent.Currency, formatAmount(balance), intent.Amount)
	}

	// stablecoin purchases on EVM chains need spending approval first
	if approver, ok := chainAdapter.(adapter.Approver); ok && !pricing.IsNative(intent.Network, intent.Currency) {
		required, err := approver.RequiredUnits(intent.Amount, intent.Currency)
		if err != nil {
			return apperrors.NewInvalidAmountError(intent.Amount, err)
		}
		allowance, err := approver.Allowance(ctx, intent.WalletAddress, intent.Currency)
		if err != nil {
			return apperrors.NewChainError("ALLOWANCE_READ_FAILED", "could not read spending allowance", err)
		}
		if allowance.Cmp(required) < 0 {
			return apperrors.NewApprovalRequiredError(intent.Currency)
		}
	}

	return nil
}

// ObserveSnapshot folds one normalized chain snapshot into the state
// machine. Snapshots for other networks, for transactions already in a
// terminal state, or arriving with no attempt in flight are ignored.
func (c *Coordinator) ObserveSnapshot(ctx context.Context, snap adapter.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// no transaction initiated on this network context yet: every snapshot
	// is leakage from a previous context
	if c.state.Record == nil {
		c.metricIgnored("no_attempt")
		return
	}

	if snap.Network != c.network || c.state.Record.Network != c.network {
		c.metricIgnored("stale_network")
		return
	}

	if snap.Hash != "" && !strings.EqualFold(snap.Hash, c.state.Record.Hash) {
		c.metricIgnored("foreign_hash")
		return
	}

	if c.metrics != nil {
		c.metrics.RecordSnapshot(string(snap.Network), string(snap.Status))
	}

	switch snap.Status {
	case types.TxPending:
		if c.state.Status.Terminal() {
			return
		}
		if c.state.Status != StatusPending {
			prev := c.state.Status
			c.state.Status = StatusPending
			c.state.Record.Status = types.TxPending
			c.transitionLocked(ctx, prev, StatusPending, "")
		}

	case types.TxConfirming:
		if c.state.Status.Terminal() {
			return
		}
		if c.state.Status != StatusConfirming {
			prev := c.state.Status
			c.state.Status = StatusConfirming
			c.state.Record.Status = types.TxConfirming
			c.transitionLocked(ctx, prev, StatusConfirming, "")
		}

	case types.TxConfirmed:
		c.confirmLocked(ctx)

	case types.TxFailed:
		c.failLocked(ctx, snap.Err)
	}
}

// confirmLocked moves the attempt to success and fires the confirmation
// side effects. The processed set makes this exactly-once per hash: a
// snapshot re-delivering the confirmed state is a no-op.
func (c *Coordinator) confirmLocked(ctx context.Context) {
	hash := strings.ToLower(c.state.Record.Hash)
	if _, done := c.processed[hash]; done {
		c.metricIgnored("duplicate_terminal")
		return
	}
	c.processed[hash] = struct{}{}

	prev := c.state.Status
	c.state.Status = StatusSuccess
	c.state.Record.Status = types.TxConfirmed

	receipt := types.PurchaseReceipt{
		Tokens:          c.state.Quote.TokenAmount,
		Amount:          c.state.Intent.Amount,
		Currency:        c.state.Intent.Currency,
		TransactionHash: c.state.Record.Hash,
		Network:         c.state.Record.Network,
		WalletAddress:   c.state.Intent.WalletAddress,
		ReferralCode:    c.state.Intent.ReferralCode,
	}
	c.state.Receipt = &receipt
	c.transitionLocked(ctx, prev, StatusSuccess, "")
	c.metricTerminal(c.network, StatusSuccess)
	c.savePurchaseLocked(ctx, types.TxConfirmed)

	if c.sink != nil {
		c.sink.PurchaseConfirmed(receipt)
	}

	if c.recorder != nil {
		if err := c.recorder.Record(ctx, receipt); err != nil {
			// bookkeeping failure never downgrades an on-chain success
			c.state.RecordingWarning = err.Error()
			c.logger.WithField("hash", receipt.TransactionHash).WithError(err).Error("Purchase recording failed")
			if c.metrics != nil {
				c.metrics.RecordRecording("failed")
			}
		} else if c.metrics != nil {
			c.metrics.RecordRecording("submitted")
		}
	}

	if c.refreshBalances != nil {
		network := c.state.Record.Network
		wallet := c.state.Intent.WalletAddress
		refresh := c.refreshBalances
		c.afterFunc(c.refreshDelay, func() {
			refresh(network, wallet)
		})
	}

	c.logger.WithFields(map[string]interface{}{
		"hash":    receipt.TransactionHash,
		"network": receipt.Network,
		"tokens":  receipt.Tokens,
	}).Info("Purchase confirmed")
}

// failLocked moves the attempt to the terminal error state, deduped by
// hash (or by a synthetic key for errors that never got a hash)
func (c *Coordinator) failLocked(ctx context.Context, cause error) {
	key := strings.ToLower(c.state.Record.Hash)
	if key == "" {
		key = syntheticErrorKey(cause)
	}
	if _, done := c.processed[key]; done {
		c.metricIgnored("duplicate_terminal")
		return
	}
	c.processed[key] = struct{}{}

	class, message := Classify(cause)
	prev := c.state.Status
	c.state.Status = StatusError
	c.state.Record.Status = types.TxFailed
	c.state.ErrorClass = class
	c.state.ErrorMessage = message
	c.transitionLocked(ctx, prev, StatusError, message)
	c.metricTerminal(c.network, StatusError)
	c.savePurchaseLocked(ctx, types.TxFailed)

	c.logger.WithFields(map[string]interface{}{
		"hash":       c.state.Record.Hash,
		"network":    c.state.Record.Network,
		"errorClass": class,
	}).Warn("Purchase failed")
}

// syntheticErrorKey dedups errors that never produced a transaction hash
func syntheticErrorKey(err error) string {
	msg := "unknown"
	if err != nil {
		msg = err.Error()
	}
	return "error-without-hash-" + msg
}

func (c *Coordinator) transitionLocked(ctx context.Context, from, to Status, detail string) {
	if c.transitions == nil {
		return
	}
	transition := types.PurchaseTransition{
		AttemptID: c.state.AttemptID,
		Network:   c.network,
		From:      string(from),
		To:        string(to),
		Detail:    detail,
		At:        time.Now().UTC(),
	}
	if c.state.Record != nil {
		transition.Hash = c.state.Record.Hash
	}
	if err := c.transitions.RecordTransition(ctx, transition); err != nil {
		c.logger.WithError(err).Warn("Failed to record status transition")
	}
}

func (c *Coordinator) savePurchaseLocked(ctx context.Context, status types.TxStatus) {
	if c.purchases == nil || c.state.Intent == nil || c.state.Record == nil {
		return
	}
	now := time.Now().UTC()
	purchase := &types.Purchase{
		ID:            c.state.AttemptID,
		WalletAddress: c.state.Intent.WalletAddress,
		Network:       c.state.Record.Network,
		Currency:      c.state.Intent.Currency,
		Amount:        c.state.Intent.Amount,
		ReferralCode:  c.state.Intent.ReferralCode,
		TxHash:        c.state.Record.Hash,
		Status:        status,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if c.state.Quote != nil {
		purchase.USDValue = c.state.Quote.USDValue
		purchase.Tokens = c.state.Quote.TokenAmount
	}
	if err := c.purchases.SavePurchase(ctx, purchase); err != nil {
		c.logger.WithField("attemptId", c.state.AttemptID).WithError(err).Error("Failed to persist purchase")
	}
}

func (c *Coordinator) metricSubmission(network types.Network, outcome string) {
	if c.metrics != nil {
		c.metrics.RecordSubmission(string(network), outcome)
	}
}

func (c *Coordinator) metricTerminal(network types.Network, status Status) {
	if c.metrics != nil {
		c.metrics.RecordTerminal(string(network), string(status))
	}
}

func (c *Coordinator) metricIgnored(reason string) {
	if c.metrics != nil {
		c.metrics.RecordSnapshotIgnored(reason)
	}
}

func parseAmount(amount string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(amount), 64)
}

func formatAmount(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
