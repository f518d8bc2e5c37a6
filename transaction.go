package scorecard

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/zyedidia/generic/mapset"
)

type TransactionType string

const (
	TransactionDeposit TransactionType = "deposit"
	TransactionSend    TransactionType = "send"
	TransactionReceive TransactionType = "receive"
	TransactionPayout  TransactionType = "payout"
	TransactionAcePot  TransactionType = "ace_pot"
)

// WalletTransaction is an immutable ledger entry.
type WalletTransaction struct {
	ID          string          `json:"id"`
	Type        TransactionType `json:"type"`
	Amount      uint64          `json:"amount"`
	Description string          `json:"description"`
	Timestamp   time.Time       `json:"timestamp"`
	Backend     WalletMode      `json:"wallet_type"`
}

func newTransaction(typ TransactionType, amount uint64, desc string, backend WalletMode) *WalletTransaction {
	return &WalletTransaction{
		ID:          uuid.NewString(),
		Type:        typ,
		Amount:      amount,
		Description: desc,
		Timestamp:   now(),
		Backend:     backend,
	}
}

// creditNamespace derives stable transaction ids from external references
// so observing the same credit twice yields the same id.
var creditNamespace = uuid.MustParse("6f0e4f0e-8d1c-4c53-9a64-1f4b3d0e2a77")

func stableTransactionID(parts ...string) string {
	var name string
	for _, p := range parts {
		name += p + ":"
	}

	return uuid.NewSHA1(creditNamespace, []byte(name)).String()
}

// MergeTransactions unions two ledgers by id. Remote entries missing
// locally are prepended, then the union is ordered newest first.
func MergeTransactions(local, remote []*WalletTransaction) []*WalletTransaction {
	known := mapset.New[string]()
	for _, tx := range local {
		known.Put(tx.ID)
	}

	var out []*WalletTransaction
	added := mapset.New[string]()
	for _, tx := range remote {
		if known.Has(tx.ID) || added.Has(tx.ID) {
			continue
		}
		added.Put(tx.ID)
		out = append(out, tx)
	}

	for _, tx := range local {
		if added.Has(tx.ID) {
			continue
		}
		added.Put(tx.ID)
		out = append(out, tx)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})

	return cloneTransactions(out)
}

func cloneTransactions(txs []*WalletTransaction) []*WalletTransaction {
	if txs == nil {
		return nil
	}

	out := make([]*WalletTransaction, len(txs))
	for i, tx := range txs {
		cp := *tx
		out[i] = &cp
	}

	return out
}
