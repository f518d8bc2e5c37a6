package scorecard

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ProxyWallet runs wallet operations against a remote lightning wallet.
// It holds no proofs; only the shared ledger records its operations.
type ProxyWallet struct {
	client  ProxyClient
	store   *ProofStore
	timeout time.Duration
}

var _ Wallet = (*ProxyWallet)(nil)

func NewProxyWallet(client ProxyClient, store *ProofStore, timeout time.Duration) *ProxyWallet {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &ProxyWallet{client: client, store: store, timeout: timeout}
}

func (w *ProxyWallet) call(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	return fn(ctx)
}

func (w *ProxyWallet) balance(ctx context.Context) (uint64, error) {
	var amount uint64
	err := w.call(ctx, func(ctx context.Context) error {
		var err error
		amount, err = w.client.GetBalance(ctx)
		return err
	})

	return amount, err
}

func (w *ProxyWallet) Deposit(ctx context.Context, amount uint64) (*DepositQuote, error) {
	if amount == 0 {
		return nil, ErrInvalidAmount
	}

	var inv *Invoice
	if err := w.call(ctx, func(ctx context.Context) error {
		var err error
		inv, err = w.client.MakeInvoice(ctx, amount, "Scorecard deposit")
		return err
	}); err != nil {
		return nil, wrapBackend("make invoice", err)
	}

	return &DepositQuote{
		Request: inv.Invoice,
		Quote:   inv.PaymentHash,
		Amount:  amount,
		Mode:    ModeProxy,
	}, nil
}

func (w *ProxyWallet) CheckDeposit(ctx context.Context, paymentHash string) (bool, error) {
	var status *InvoiceStatus
	if err := w.call(ctx, func(ctx context.Context) error {
		var err error
		status, err = w.client.LookupInvoice(ctx, paymentHash)
		return err
	}); err != nil {
		return false, wrapBackend("lookup invoice", err)
	}

	return status.Paid, nil
}

// ConfirmDeposit records a paid invoice once, however often it is observed.
func (w *ProxyWallet) ConfirmDeposit(ctx context.Context, paymentHash string, amount uint64) (*WalletTransaction, error) {
	id := stableTransactionID(string(TransactionDeposit), string(ModeProxy), paymentHash)
	if prev, ok := w.store.Transaction(id); ok {
		return prev, nil
	}

	paid, err := w.CheckDeposit(ctx, paymentHash)
	if err != nil {
		return nil, err
	}

	if !paid {
		return nil, ErrDepositUnconfirmed
	}

	tx := &WalletTransaction{
		ID:          id,
		Type:        TransactionDeposit,
		Amount:      amount,
		Description: "Lightning deposit",
		Timestamp:   now(),
		Backend:     ModeProxy,
	}

	w.store.Apply(Operation{Transaction: tx})
	return tx, nil
}

func (w *ProxyWallet) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	if req.Invoice == "" {
		return nil, fmt.Errorf("%w: remote wallet pays invoices only", ErrUnsupported)
	}

	if req.Amount == 0 {
		return nil, ErrInvalidAmount
	}

	if req.Type == "" {
		req.Type = TransactionSend
	}

	unlock, err := w.store.Lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	before, err := w.balance(ctx)
	if err != nil {
		return nil, wrapBackend("get balance", err)
	}

	if before < req.Amount {
		return nil, ErrInsufficientBalance
	}

	desc := req.Description
	if desc == "" {
		desc = "Lightning payment"
	}
	tx := newTransaction(req.Type, req.Amount, desc, ModeProxy)

	payErr := w.call(ctx, func(ctx context.Context) error {
		return w.client.PayInvoice(ctx, req.Invoice)
	})

	if payErr == nil {
		w.store.Apply(Operation{Transaction: tx})
		return &SendResult{Transaction: tx}, nil
	}

	// the payment may have settled regardless, ask the wallet
	after, err := w.balance(ctx)
	if err == nil && before >= after && before-after >= req.Amount {
		slog.Warn("remote payment settled despite error",
			slog.Uint64("amount", req.Amount),
			slog.Any("cause", payErr),
		)
		sendRecoveries.WithLabelValues(string(RecoverySettled)).Inc()
		w.store.Apply(Operation{Transaction: tx})
		return &SendResult{Transaction: tx, Recovered: true}, nil
	}

	if err != nil {
		sendRecoveries.WithLabelValues(string(RecoveryUnverifiable)).Inc()
	} else {
		sendRecoveries.WithLabelValues(string(RecoveryNotSettled)).Inc()
	}

	if isAmbiguous(payErr) {
		return nil, fmt.Errorf("%w: %w", ErrPaymentTimeout, payErr)
	}

	return nil, wrapBackend("pay invoice", payErr)
}

func (w *ProxyWallet) Receive(ctx context.Context, token string) (*WalletTransaction, error) {
	return nil, fmt.Errorf("%w: remote wallet cannot redeem tokens", ErrUnsupported)
}

func (w *ProxyWallet) Quote(ctx context.Context, invoice string) (*MeltQuote, error) {
	return nil, fmt.Errorf("%w: remote wallet has no fee quotes", ErrUnsupported)
}

func (w *ProxyWallet) RefreshBalance(ctx context.Context) (uint64, error) {
	amount, err := w.balance(ctx)
	if err != nil {
		return 0, wrapBackend("get balance", err)
	}

	return amount, nil
}
