package scorecard

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProxyWallet(balance uint64) (*ProxyWallet, *fakeProxy, *ProofStore) {
	client := newFakeProxy(balance)
	store := NewProofStore(WalletState{Mints: DefaultMints()})
	return NewProxyWallet(client, store, 0), client, store
}

func TestProxyWalletSend(t *testing.T) {
	ctx := context.Background()
	w, client, store := newTestProxyWallet(1000)
	client.payAmounts["lnbc-out"] = 400

	res, err := w.Send(ctx, SendRequest{Amount: 400, Invoice: "lnbc-out"})
	require.NoError(t, err)
	assert.False(t, res.Recovered)
	assert.Equal(t, ModeProxy, res.Transaction.Backend)
	assert.Len(t, store.Transactions(), 1)

	balance, err := w.RefreshBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(600), balance)

	_, err = w.Send(ctx, SendRequest{Amount: 5000, Invoice: "lnbc-out"})
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	_, err = w.Send(ctx, SendRequest{Amount: 10})
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestProxyWalletSendTimeoutSettled(t *testing.T) {
	w, client, store := newTestProxyWallet(1000)
	client.payAmounts["lnbc-out"] = 400
	client.payErr = ErrProxyTimeout
	client.settleOnErr = true

	res, err := w.Send(context.Background(), SendRequest{Amount: 400, Invoice: "lnbc-out"})
	require.NoError(t, err)
	assert.True(t, res.Recovered)
	assert.Len(t, store.Transactions(), 1)
}

func TestProxyWalletSendTimeoutUnsettled(t *testing.T) {
	w, client, store := newTestProxyWallet(1000)
	client.payAmounts["lnbc-out"] = 400
	client.payErr = ErrProxyTimeout

	_, err := w.Send(context.Background(), SendRequest{Amount: 400, Invoice: "lnbc-out"})
	assert.ErrorIs(t, err, ErrPaymentTimeout)
	assert.ErrorIs(t, err, ErrProxyTimeout)
	assert.Empty(t, store.Transactions())
}

func TestProxyWalletSendRejected(t *testing.T) {
	w, client, _ := newTestProxyWallet(1000)
	client.payAmounts["lnbc-out"] = 400
	client.payErr = errors.New("route not found")

	_, err := w.Send(context.Background(), SendRequest{Amount: 400, Invoice: "lnbc-out"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrPaymentTimeout)
	assert.NotErrorIs(t, err, ErrBackendUnreachable)
}

func TestProxyWalletDeposit(t *testing.T) {
	ctx := context.Background()
	w, client, store := newTestProxyWallet(0)

	q, err := w.Deposit(ctx, 250)
	require.NoError(t, err)
	assert.Equal(t, ModeProxy, q.Mode)

	_, err = w.ConfirmDeposit(ctx, q.Quote, q.Amount)
	assert.ErrorIs(t, err, ErrDepositUnconfirmed)

	client.settle(q.Quote)

	tx, err := w.ConfirmDeposit(ctx, q.Quote, q.Amount)
	require.NoError(t, err)

	again, err := w.ConfirmDeposit(ctx, q.Quote, q.Amount)
	require.NoError(t, err)
	assert.Equal(t, tx.ID, again.ID)
	assert.Len(t, store.Transactions(), 1)
}

func TestProxyWalletUnsupported(t *testing.T) {
	w, _, _ := newTestProxyWallet(0)

	_, err := w.Receive(context.Background(), "cashuAabc")
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = w.Quote(context.Background(), "lnbc1")
	assert.ErrorIs(t, err, ErrUnsupported)
}
