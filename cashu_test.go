package scorecard

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMintWallet(t *testing.T, amounts ...uint64) (*MintWallet, *ProofStore, *fakeMint) {
	t.Helper()

	mint := newFakeMint()
	store := NewProofStore(WalletState{Proofs: mint.issue(amounts...), Mints: DefaultMints()})
	return NewMintWallet(mint, store), store, mint
}

func TestMintWalletSend(t *testing.T) {
	ctx := context.Background()
	w, store, mint := newTestMintWallet(t, 300, 200, 100)

	res, err := w.Send(ctx, SendRequest{Amount: 250})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
	assert.False(t, res.Recovered)
	assert.Equal(t, TransactionSend, res.Transaction.Type)
	assert.Equal(t, uint64(350), store.Balance())

	_, err = w.Send(ctx, SendRequest{Amount: 1000})
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	_, err = w.Send(ctx, SendRequest{})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	// the recipient side redeems once
	other := NewMintWallet(mint, NewProofStore(WalletState{Mints: DefaultMints()}))
	tx, err := other.Receive(ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(t, uint64(250), tx.Amount)

	_, err = other.Receive(ctx, res.Token)
	assert.ErrorIs(t, err, ErrMalformedToken)
	assert.Len(t, other.store.Transactions(), 1)
}

func TestMintWalletReceiveMalformed(t *testing.T) {
	w, _, _ := newTestMintWallet(t)

	_, err := w.Receive(context.Background(), "not a token")
	assert.ErrorIs(t, err, ErrMalformedToken)
}

func TestMintWalletDeposit(t *testing.T) {
	ctx := context.Background()
	w, store, mint := newTestMintWallet(t)

	q, err := w.Deposit(ctx, 500)
	require.NoError(t, err)
	assert.Equal(t, ModePrimary, q.Mode)

	paid, err := w.CheckDeposit(ctx, q.Quote)
	require.NoError(t, err)
	assert.False(t, paid)

	mint.pay(q.Quote)

	tx, err := w.ConfirmDeposit(ctx, q.Quote, q.Amount)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), store.Balance())

	again, err := w.ConfirmDeposit(ctx, q.Quote, q.Amount)
	require.NoError(t, err)
	assert.Equal(t, tx.ID, again.ID)
	assert.Equal(t, uint64(500), store.Balance())
	assert.Len(t, store.Transactions(), 1)

	_, err = w.Deposit(ctx, 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestMintWalletPayInvoice(t *testing.T) {
	ctx := context.Background()
	w, store, mint := newTestMintWallet(t, 512, 64)
	mint.invoices["lnbc1"] = &MeltQuote{Amount: 500, Fee: 3}

	q, err := w.Quote(ctx, "lnbc1")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), q.Fee)

	res, err := w.Send(ctx, SendRequest{Invoice: "lnbc1"})
	require.NoError(t, err)
	assert.Equal(t, uint64(500), res.Transaction.Amount)
	assert.Equal(t, uint64(576-503), store.Balance())
}

func TestMintWalletRefreshDropsSpent(t *testing.T) {
	ctx := context.Background()
	w, store, mint := newTestMintWallet(t, 100, 50)

	// spent elsewhere, e.g. on another device
	mint.mu.Lock()
	_, err := mint.spendLocked(store.Proofs()[:1])
	mint.mu.Unlock()
	require.NoError(t, err)

	balance, err := w.RefreshBalance(ctx)
	require.NoError(t, err)
	assert.Len(t, store.Proofs(), 1)
	assert.Equal(t, store.Balance(), balance)
}

func TestMintWalletRefreshUnreachable(t *testing.T) {
	w, store, mint := newTestMintWallet(t, 100)
	mint.verifyErr = timeoutErr

	_, err := w.RefreshBalance(context.Background())
	assert.ErrorIs(t, err, ErrBackendUnreachable)
	assert.Equal(t, uint64(100), store.Balance())
}

func TestMintWalletSetActiveMint(t *testing.T) {
	w, store, _ := newTestMintWallet(t)

	require.NoError(t, w.SetActiveMint(context.Background(), "https://mint.example.com/", "example"))
	active := ActiveMint(store.Mints())
	require.NotNil(t, active)
	assert.Equal(t, "https://mint.example.com", active.URL)
	assert.Len(t, store.Mints(), 2)

	err := w.SetActiveMint(context.Background(), "ftp://nope", "")
	assert.True(t, errors.Is(err, ErrInvalidMint))
}

func TestMintWalletSwitchMintKeepsProofs(t *testing.T) {
	ctx := context.Background()
	w, store, mint := newTestMintWallet(t, 300, 200)
	const other = "https://mint.example.com"

	for _, p := range store.Proofs() {
		assert.Equal(t, DefaultMintURL, p.Mint)
	}

	require.NoError(t, w.SetActiveMint(ctx, other, "example"))
	assert.Zero(t, store.ActiveBalance())
	assert.Equal(t, uint64(500), store.Balance(), "proofs of the previous mint are kept")
	assert.Len(t, store.Proofs(), 2)

	_, err := w.Send(ctx, SendRequest{Amount: 100})
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	q, err := w.Deposit(ctx, 40)
	require.NoError(t, err)
	mint.pay(q.Quote)
	_, err = w.ConfirmDeposit(ctx, q.Quote, q.Amount)
	require.NoError(t, err)

	balance, err := w.RefreshBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(40), balance)
	assert.Len(t, proofsOfMint(store.Proofs(), other), 1)

	require.NoError(t, w.SetActiveMint(ctx, DefaultMintURL, ""))
	assert.Equal(t, uint64(500), store.ActiveBalance())
	assert.Equal(t, uint64(540), store.Balance())

	res, err := w.Send(ctx, SendRequest{Amount: 450})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, uint64(50), store.ActiveBalance())
	assert.Len(t, proofsOfMint(store.Proofs(), other), 1, "sends only spend the active mint")
}
