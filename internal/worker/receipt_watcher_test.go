package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/presale-coordinator/internal/adapter"
	"github.com/presale-coordinator/internal/coordinator"
	"github.com/presale-coordinator/internal/logging"
	"github.com/presale-coordinator/internal/pricing"
	"github.com/presale-coordinator/internal/types"
)

// scriptedAdapter returns a fixed broadcast hash and plays back a sequence
// of transaction states, one per TransactionState call. The last state
// repeats once the script runs out.
type scriptedAdapter struct {
	mu     sync.Mutex
	hash   string
	states []adapter.State
	reads  int
}

func (a *scriptedAdapter) Kind() types.ChainKind       { return types.KindEVM }
func (a *scriptedAdapter) Network() types.Network      { return types.NetworkEthereum }
func (a *scriptedAdapter) ValidateAddress(string) bool { return true }

func (a *scriptedAdapter) Buy(_ context.Context, _ *types.PurchaseIntent) (string, error) {
	return a.hash, nil
}

func (a *scriptedAdapter) TransactionState(_ context.Context, _ string) (adapter.State, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx := a.reads
	if idx >= len(a.states) {
		idx = len(a.states) - 1
	}
	a.reads++
	return a.states[idx], nil
}

func (a *scriptedAdapter) Balance(_ context.Context, _ string, _ types.Currency) (float64, error) {
	return 1e9, nil
}

func (a *scriptedAdapter) readCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reads
}

type watcherSink struct {
	mu       sync.Mutex
	receipts []types.PurchaseReceipt
}

func (s *watcherSink) PurchaseConfirmed(receipt types.PurchaseReceipt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts = append(s.receipts, receipt)
}

func (s *watcherSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.receipts)
}

func watcherResolver(t *testing.T) *pricing.Resolver {
	t.Helper()
	r, err := pricing.NewResolver(&pricing.ResolverConfig{
		Stages:        []types.Stage{{ID: 1, Name: "Stage 1", PriceUSD: 0.025, CapUSD: 100000}},
		ActiveStageID: 1,
		FallbackUSD:   map[types.Currency]float64{types.CurrencyUSDT: 1},
	})
	require.NoError(t, err)
	return r
}

func watcherFixture(t *testing.T, states []adapter.State) (*ReceiptWatcher, *coordinator.Manager, *scriptedAdapter, *watcherSink) {
	t.Helper()

	fa := &scriptedAdapter{hash: "0xabc", states: states}
	sink := &watcherSink{}
	logger := logging.NewLogger(logging.LevelError, logging.FormatText)
	adapters := map[types.Network]adapter.ChainAdapter{types.NetworkEthereum: fa}

	sessions := coordinator.NewManager(func(string) (*coordinator.Coordinator, error) {
		return coordinator.NewCoordinator(&coordinator.Config{
			Adapters: adapters,
			Resolver: watcherResolver(t),
			Sink:     sink,
			Network:  types.NetworkEthereum,
			Logger:   logger,
		})
	})

	watcher, err := NewReceiptWatcher(&ReceiptWatcherConfig{
		Adapters:     adapters,
		Sessions:     sessions,
		Logger:       logger,
		PollInterval: 10 * time.Millisecond,
		RPCRateLimit: 1000,
		RPCBurst:     100,
	})
	require.NoError(t, err)
	return watcher, sessions, fa, sink
}

func submitPurchase(t *testing.T, sessions *coordinator.Manager, wallet string) *coordinator.Coordinator {
	t.Helper()
	coord, err := sessions.Session(wallet)
	require.NoError(t, err)

	state, err := coord.Submit(context.Background(), &types.PurchaseIntent{
		WalletAddress: wallet,
		Currency:      types.CurrencyUSDT,
		Amount:        "1000",
	})
	require.NoError(t, err)
	require.Equal(t, coordinator.StatusPending, state.Status)
	return coord
}

func TestWatcherDrivesPurchaseToConfirmation(t *testing.T) {
	watcher, sessions, fa, sink := watcherFixture(t, []adapter.State{
		adapter.EVMState{IsPending: true, Hash: "0xabc"},
		adapter.EVMState{IsConfirming: true, Hash: "0xabc"},
		adapter.EVMState{IsConfirmed: true, Hash: "0xabc"},
	})
	coord := submitPurchase(t, sessions, "0xwallet")

	ctx := context.Background()
	watcher.poll(ctx)
	assert.Equal(t, coordinator.StatusPending, coord.State().Status)

	watcher.poll(ctx)
	assert.Equal(t, coordinator.StatusConfirming, coord.State().Status)

	watcher.poll(ctx)
	assert.Equal(t, coordinator.StatusSuccess, coord.State().Status)
	assert.Equal(t, 1, sink.count())
	assert.Equal(t, 3, fa.readCount())
}

func TestWatcherSkipsResolvedSessions(t *testing.T) {
	watcher, sessions, fa, sink := watcherFixture(t, []adapter.State{
		adapter.EVMState{IsConfirmed: true, Hash: "0xabc"},
	})
	submitPurchase(t, sessions, "0xwallet")

	ctx := context.Background()
	watcher.poll(ctx)
	require.Equal(t, 1, sink.count())

	// terminal sessions drop out of the watch set entirely
	watcher.poll(ctx)
	watcher.poll(ctx)
	assert.Equal(t, 1, fa.readCount())
	assert.Equal(t, 1, sink.count())
}

func TestWatcherIgnoresIdleSessions(t *testing.T) {
	watcher, sessions, fa, _ := watcherFixture(t, []adapter.State{
		adapter.EVMState{IsPending: true, Hash: "0xabc"},
	})

	_, err := sessions.Session("0xidle")
	require.NoError(t, err)

	watcher.poll(context.Background())
	assert.Equal(t, 0, fa.readCount())
}

func TestWatcherFailedTransaction(t *testing.T) {
	watcher, sessions, _, sink := watcherFixture(t, []adapter.State{
		adapter.EVMState{Hash: "0xabc", Err: assert.AnError},
	})
	coord := submitPurchase(t, sessions, "0xwallet")

	watcher.poll(context.Background())

	state := coord.State()
	assert.Equal(t, coordinator.StatusError, state.Status)
	assert.Equal(t, 0, sink.count())
}

func TestWatcherStartStop(t *testing.T) {
	watcher, sessions, _, sink := watcherFixture(t, []adapter.State{
		adapter.EVMState{IsPending: true, Hash: "0xabc"},
		adapter.EVMState{IsConfirmed: true, Hash: "0xabc"},
	})
	coord := submitPurchase(t, sessions, "0xwallet")

	ctx := context.Background()
	require.NoError(t, watcher.Start(ctx))
	assert.True(t, watcher.IsRunning())
	assert.Error(t, watcher.Start(ctx), "second start must fail")

	require.Eventually(t, func() bool {
		return coord.State().Status == coordinator.StatusSuccess
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, sink.count())

	require.NoError(t, watcher.Stop(ctx))
	assert.False(t, watcher.IsRunning())
}

func TestNewReceiptWatcherValidation(t *testing.T) {
	logger := logging.NewLogger(logging.LevelError, logging.FormatText)
	sessions := coordinator.NewManager(nil)
	adapters := map[types.Network]adapter.ChainAdapter{
		types.NetworkEthereum: &scriptedAdapter{},
	}

	_, err := NewReceiptWatcher(nil)
	assert.Error(t, err)

	_, err = NewReceiptWatcher(&ReceiptWatcherConfig{Sessions: sessions, Logger: logger})
	assert.Error(t, err, "missing adapters")

	_, err = NewReceiptWatcher(&ReceiptWatcherConfig{Adapters: adapters, Logger: logger})
	assert.Error(t, err, "missing sessions")

	w, err := NewReceiptWatcher(&ReceiptWatcherConfig{Adapters: adapters, Sessions: sessions, Logger: logger})
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, w.config.PollInterval)
}
