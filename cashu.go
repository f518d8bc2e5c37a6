package scorecard

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// TokenPrefix starts every serialized bearer token.
const TokenPrefix = "cashu"

func hasTokenPrefix(token string) bool {
	return strings.HasPrefix(token, TokenPrefix+"A") || strings.HasPrefix(token, TokenPrefix+"B")
}

func wrapBackend(op string, err error) error {
	if isAmbiguous(err) {
		return fmt.Errorf("%s failed: %w: %w", op, ErrBackendUnreachable, err)
	}

	return fmt.Errorf("%s failed: %w", op, err)
}

// MintWallet runs wallet operations against a mint through the bearer
// token backend, keeping the ProofStore in step.
type MintWallet struct {
	backend  MintBackend
	store    *ProofStore
	recovery *RecoveryPolicy
}

var _ Wallet = (*MintWallet)(nil)

func NewMintWallet(backend MintBackend, store *ProofStore) *MintWallet {
	return &MintWallet{
		backend:  backend,
		store:    store,
		recovery: NewRecoveryPolicy(backend, store),
	}
}

func (w *MintWallet) activeMintURL() string {
	return activeMintURL(w.store.Mints())
}

// Connect points the backend at the active mint.
func (w *MintWallet) Connect(ctx context.Context) error {
	u := w.activeMintURL()
	if u == "" {
		return fmt.Errorf("%w: no active mint", ErrInvalidMint)
	}

	if err := w.backend.Connect(ctx, u); err != nil {
		return wrapBackend("connect mint", err)
	}

	return nil
}

// SetActiveMint switches the active mint and re-verifies stored proofs.
func (w *MintWallet) SetActiveMint(ctx context.Context, url, nickname string) error {
	mints, err := withActiveMint(w.store.Mints(), url, nickname)
	if err != nil {
		return err
	}

	unlock, err := w.store.Lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if err := w.backend.Connect(ctx, ActiveMint(mints).URL); err != nil {
		return wrapBackend("connect mint", err)
	}

	w.store.SetMints(mints)

	if _, err := w.refreshLocked(ctx); err != nil {
		slog.Warn("verify proofs after mint change failed", slog.Any("err", err))
	}

	return nil
}

func (w *MintWallet) Deposit(ctx context.Context, amount uint64) (*DepositQuote, error) {
	if amount == 0 {
		return nil, ErrInvalidAmount
	}

	q, err := w.backend.RequestDeposit(ctx, amount)
	if err != nil {
		return nil, wrapBackend("request deposit", err)
	}

	return &DepositQuote{
		Request: q.Request,
		Quote:   q.Quote,
		Amount:  amount,
		Mode:    ModePrimary,
	}, nil
}

func (w *MintWallet) CheckDeposit(ctx context.Context, quote string) (bool, error) {
	paid, err := w.backend.CheckDepositQuoteStatus(ctx, quote)
	if err != nil {
		return false, wrapBackend("check deposit", err)
	}

	return paid, nil
}

func (w *MintWallet) ConfirmDeposit(ctx context.Context, quote string, amount uint64) (*WalletTransaction, error) {
	if amount == 0 {
		return nil, ErrInvalidAmount
	}

	unlock, err := w.store.Lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	tx := &WalletTransaction{
		ID:          stableTransactionID(string(TransactionDeposit), w.activeMintURL(), quote),
		Type:        TransactionDeposit,
		Amount:      amount,
		Description: "Lightning deposit",
		Backend:     ModePrimary,
	}

	if prev, ok := w.store.Transaction(tx.ID); ok {
		return prev, nil
	}

	proofs, err := w.backend.CompleteDeposit(ctx, quote, amount)
	if err != nil {
		if _, rerr := w.refreshLocked(ctx); rerr != nil {
			slog.Warn("refresh after failed deposit failed", slog.Any("err", rerr))
		}

		paid, cerr := w.backend.CheckDepositQuoteStatus(ctx, quote)
		if isAmbiguous(err) || (cerr == nil && paid) {
			return nil, fmt.Errorf("%w: %w", ErrDepositUnconfirmed, err)
		}

		return nil, wrapBackend("complete deposit", err)
	}

	tx.Amount = Balance(proofs)
	tx.Timestamp = now()
	w.store.Apply(Operation{Minted: proofs, Transaction: tx})
	return tx, nil
}

func (w *MintWallet) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	if req.Amount == 0 && req.Invoice == "" {
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

	// proofs of other mints are not spendable here
	proofs := w.store.ActiveProofs()

	if req.Invoice != "" {
		return w.payInvoice(ctx, req, proofs)
	}

	if Balance(proofs) < req.Amount {
		return nil, ErrInsufficientBalance
	}

	desc := req.Description
	if desc == "" {
		desc = "Sent ecash"
	}
	tx := newTransaction(req.Type, req.Amount, desc, ModePrimary)

	res, err := w.backend.CreateTokenWithProofs(ctx, req.Amount, proofs)
	if err != nil {
		return w.recover(ctx, SendAttempt{Proofs: proofs, Amount: req.Amount, Transaction: tx}, wrapBackend("create token", err))
	}

	w.store.Apply(Operation{Consumed: proofs, Minted: res.Remaining, Transaction: tx})
	return &SendResult{Token: res.Token, Transaction: tx}, nil
}

func (w *MintWallet) payInvoice(ctx context.Context, req SendRequest, proofs []*Proof) (*SendResult, error) {
	q, err := w.backend.GetLightningQuote(ctx, req.Invoice)
	if err != nil {
		return nil, wrapBackend("quote invoice", err)
	}

	if Balance(proofs) < q.Amount+q.Fee {
		return nil, ErrInsufficientBalance
	}

	desc := req.Description
	if desc == "" {
		desc = "Lightning payment"
	}
	tx := newTransaction(req.Type, q.Amount, desc, ModePrimary)

	res, err := w.backend.PayInvoice(ctx, req.Invoice, proofs)
	if err != nil {
		return w.recover(ctx, SendAttempt{Proofs: proofs, Amount: q.Amount, Transaction: tx}, wrapBackend("pay invoice", err))
	}

	w.store.Apply(Operation{Consumed: proofs, Minted: res.Remaining, Transaction: tx})
	return &SendResult{Transaction: tx}, nil
}

func (w *MintWallet) recover(ctx context.Context, attempt SendAttempt, cause error) (*SendResult, error) {
	tx, _, err := w.recovery.Recover(ctx, attempt, cause)
	if err != nil {
		return nil, err
	}

	return &SendResult{Transaction: tx, Recovered: true}, nil
}

func (w *MintWallet) Receive(ctx context.Context, token string) (*WalletTransaction, error) {
	token = strings.TrimSpace(token)
	if !hasTokenPrefix(token) {
		return nil, ErrMalformedToken
	}

	unlock, err := w.store.Lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	tx := &WalletTransaction{
		ID:          stableTransactionID(string(TransactionReceive), token),
		Type:        TransactionReceive,
		Description: "Received ecash",
		Backend:     ModePrimary,
	}

	if _, ok := w.store.Transaction(tx.ID); ok {
		return nil, fmt.Errorf("%w: token already redeemed", ErrMalformedToken)
	}

	proofs, err := w.backend.ReceiveToken(ctx, token)
	if err != nil {
		return nil, wrapBackend("receive token", err)
	}

	tx.Amount = Balance(proofs)
	if tx.Amount == 0 {
		return nil, fmt.Errorf("%w: empty token", ErrMalformedToken)
	}

	tx.Timestamp = now()
	w.store.Apply(Operation{Minted: proofs, Transaction: tx})
	return tx, nil
}

func (w *MintWallet) Quote(ctx context.Context, invoice string) (*MeltQuote, error) {
	if invoice == "" {
		return nil, ErrInvalidInvoice
	}

	q, err := w.backend.GetLightningQuote(ctx, invoice)
	if err != nil {
		return nil, wrapBackend("quote invoice", err)
	}

	return q, nil
}

// RefreshBalance drops stored proofs the active mint no longer honours.
// Proofs of other mints are left alone.
func (w *MintWallet) RefreshBalance(ctx context.Context) (uint64, error) {
	unlock, err := w.store.Lock(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()

	return w.refreshLocked(ctx)
}

func (w *MintWallet) refreshLocked(ctx context.Context) (uint64, error) {
	proofs := w.store.ActiveProofs()
	if len(proofs) == 0 {
		return 0, nil
	}

	valid, err := w.backend.VerifyProofs(ctx, proofs)
	if err != nil {
		return w.store.ActiveBalance(), wrapBackend("verify proofs", err)
	}

	if spent := subtractProofs(proofs, valid); len(spent) > 0 {
		slog.Info("dropping spent proofs",
			slog.Int("count", len(spent)),
			slog.Uint64("amount", Balance(spent)),
		)
		w.store.Apply(Operation{Consumed: spent})
	}

	return w.store.ActiveBalance(), nil
}
