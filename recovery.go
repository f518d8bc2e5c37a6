package scorecard

import (
	"context"
	"fmt"
	"log/slog"
)

// ProofVerifier checks proofs against the mint and returns those still
// spendable.
type ProofVerifier interface {
	VerifyProofs(ctx context.Context, proofs []*Proof) ([]*Proof, error)
}

// SendAttempt describes a send whose outcome is unknown.
type SendAttempt struct {
	// Proofs is every proof handed to the backend.
	Proofs []*Proof
	Amount uint64
	// Transaction is recorded if the send turns out to have settled. Its id
	// is fixed for the attempt so a re-run never records it twice.
	Transaction *WalletTransaction
}

type RecoveryOutcome string

const (
	RecoverySettled      RecoveryOutcome = "settled"
	RecoveryNotSettled   RecoveryOutcome = "not_settled"
	RecoveryUnverifiable RecoveryOutcome = "unverifiable"
)

// RecoveryPolicy decides, by diffing the attempted proofs against mint
// truth, whether a failed send actually went through.
//
// It assumes verification is read-after-write consistent with the spend.
type RecoveryPolicy struct {
	verifier ProofVerifier
	store    *ProofStore
}

func NewRecoveryPolicy(verifier ProofVerifier, store *ProofStore) *RecoveryPolicy {
	return &RecoveryPolicy{verifier: verifier, store: store}
}

// Recover reconciles attempt after cause. The caller must hold the store
// lock. A settled send returns its transaction and a nil error; otherwise
// the local proofs are refreshed from mint truth and cause is returned.
func (p *RecoveryPolicy) Recover(ctx context.Context, attempt SendAttempt, cause error) (*WalletTransaction, RecoveryOutcome, error) {
	log := slog.With(
		slog.Uint64("amount", attempt.Amount),
		slog.Int("proofs", len(attempt.Proofs)),
		slog.Any("cause", cause),
	)

	valid, err := p.verifier.VerifyProofs(ctx, attempt.Proofs)
	if err != nil {
		log.Error("send recovery: verify proofs failed", slog.Any("err", err))
		sendRecoveries.WithLabelValues(string(RecoveryUnverifiable)).Inc()
		return nil, RecoveryUnverifiable, fmt.Errorf("%w (recovery failed: %v)", cause, err)
	}

	spent := subtractProofs(attempt.Proofs, valid)
	before := Balance(attempt.Proofs)
	after := before - Balance(spent)

	if before-after >= attempt.Amount {
		p.store.Apply(Operation{
			Consumed:    spent,
			Transaction: attempt.Transaction,
		})

		log.Warn("send recovery: send settled despite error", slog.Uint64("balance_after", after))
		sendRecoveries.WithLabelValues(string(RecoverySettled)).Inc()
		return attempt.Transaction, RecoverySettled, nil
	}

	// proofs may still have been partially invalidated by the attempt
	p.store.Apply(Operation{Consumed: spent})

	log.Info("send recovery: send did not settle", slog.Int("invalidated", len(spent)))
	sendRecoveries.WithLabelValues(string(RecoveryNotSettled)).Inc()
	return nil, RecoveryNotSettled, cause
}
