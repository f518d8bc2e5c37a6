package scorecard

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchDeposit(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	w, store, mint := newTestMintWallet(t)
	q, err := w.Deposit(ctx, 210)
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		mint.pay(q.Quote)
	}()

	tx, err := WatchDeposit(ctx, w, q, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, uint64(210), tx.Amount)

	// observing paid again credits nothing new
	again, err := WatchDeposit(ctx, w, q, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, tx.ID, again.ID)
	assert.Equal(t, uint64(210), store.Balance())
}

func TestWatchDepositCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w, _, _ := newTestMintWallet(t)
	q, err := w.Deposit(ctx, 10)
	require.NoError(t, err)

	cancel()
	_, err = WatchDeposit(ctx, w, q, time.Millisecond)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInvoicePoller(t *testing.T) {
	ctx := context.Background()
	w, store, mint := newTestMintWallet(t)

	var (
		mu   sync.Mutex
		paid = map[string]uint64{}
	)
	p := NewInvoicePoller(w, 5*time.Millisecond, func(ctx context.Context, pubkey string, tx *WalletTransaction) {
		mu.Lock()
		paid[pubkey] += tx.Amount
		mu.Unlock()
	})
	defer p.Stop()

	qa, err := w.Deposit(ctx, 100)
	require.NoError(t, err)
	qb, err := w.Deposit(ctx, 200)
	require.NoError(t, err)

	p.Watch(ctx, "alice", qa)
	p.Watch(ctx, "bob", qb)
	assert.True(t, p.Watching("alice"))

	mint.pay(qa.Quote)
	assert.Eventually(t, func() bool {
		return !p.Watching("alice")
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, map[string]uint64{"alice": 100}, paid)
	mu.Unlock()
	assert.Equal(t, uint64(100), store.Balance())

	got, ok := p.Invoice("bob")
	require.True(t, ok)
	assert.Equal(t, qb.Quote, got.Quote)

	assert.True(t, p.StopPlayer("bob"))
	assert.False(t, p.Watching("bob"))
	assert.False(t, p.StopPlayer("bob"))
}
