package scorecard

import (
	"context"
	"sync"

	"github.com/zyedidia/generic/mapset"
)

// WalletState is everything a backup carries.
type WalletState struct {
	Proofs       []*Proof             `json:"proofs"`
	Transactions []*WalletTransaction `json:"transactions"`
	Mints        []*Mint              `json:"mints"`
}

func (s WalletState) clone() WalletState {
	return WalletState{
		Proofs:       cloneProofs(s.Proofs),
		Transactions: cloneTransactions(s.Transactions),
		Mints:        cloneMints(s.Mints),
	}
}

// Operation is the outcome of a completed wallet operation. Consumed
// proofs leave the active set, minted proofs join it, and the transaction
// is appended to the ledger, all in one transition. Minted proofs without
// a mint are assigned to the active one.
type Operation struct {
	Consumed    []*Proof
	Minted      []*Proof
	Transaction *WalletTransaction
}

func (op Operation) empty() bool {
	return len(op.Consumed) == 0 && len(op.Minted) == 0 && op.Transaction == nil
}

// ProofStore owns the active proof set, the ledger and the mint list.
//
// Money moving flows serialise through Lock; reads never wait on it.
type ProofStore struct {
	mu        sync.RWMutex
	state     WalletState
	observers []func(WalletState)
	notifyMu  sync.Mutex

	queue chan struct{}
}

func NewProofStore(state WalletState) *ProofStore {
	state = state.clone()
	state.Proofs = Dedupe(state.Proofs, nil)
	state.Mints = normalizeMints(state.Mints)
	tagProofs(state.Proofs, activeMintURL(state.Mints))

	return &ProofStore{
		state: state,
		queue: make(chan struct{}, 1),
	}
}

// Lock waits for the mutation queue. The returned func releases it.
func (s *ProofStore) Lock(ctx context.Context) (func(), error) {
	select {
	case s.queue <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-s.queue }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// OnChange registers fn to receive the state after every mutation.
func (s *ProofStore) OnChange(fn func(WalletState)) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

func (s *ProofStore) Balance() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Balance(s.state.Proofs)
}

func (s *ProofStore) Proofs() []*Proof {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return cloneProofs(s.state.Proofs)
}

// ActiveProofs returns the proofs issued by the active mint.
func (s *ProofStore) ActiveProofs() []*Proof {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return cloneProofs(proofsOfMint(s.state.Proofs, activeMintURL(s.state.Mints)))
}

// ActiveBalance is the spendable balance on the active mint.
func (s *ProofStore) ActiveBalance() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Balance(proofsOfMint(s.state.Proofs, activeMintURL(s.state.Mints)))
}

func (s *ProofStore) Transactions() []*WalletTransaction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return cloneTransactions(s.state.Transactions)
}

// Transaction looks up a ledger entry by id.
func (s *ProofStore) Transaction(id string) (*WalletTransaction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, tx := range s.state.Transactions {
		if tx.ID == id {
			cp := *tx
			return &cp, true
		}
	}

	return nil, false
}

func (s *ProofStore) Mints() []*Mint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return cloneMints(s.state.Mints)
}

func (s *ProofStore) Snapshot() WalletState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state.clone()
}

// Apply performs op as a single observable transition.
func (s *ProofStore) Apply(op Operation) {
	if op.empty() {
		return
	}

	s.update(func(state *WalletState) bool {
		changed := false

		if len(op.Consumed) > 0 {
			next := subtractProofs(state.Proofs, op.Consumed)
			changed = changed || len(next) != len(state.Proofs)
			state.Proofs = next
		}

		if len(op.Minted) > 0 {
			before := len(state.Proofs)
			state.Proofs = Dedupe(state.Proofs, op.Minted)
			tagProofs(state.Proofs, activeMintURL(state.Mints))
			changed = changed || len(state.Proofs) != before
		}

		if tx := op.Transaction; tx != nil && !hasTransaction(state.Transactions, tx.ID) {
			cp := *tx
			state.Transactions = append([]*WalletTransaction{&cp}, state.Transactions...)
			changed = true
		}

		return changed
	})
}

// SetMints replaces the mint list.
func (s *ProofStore) SetMints(mints []*Mint) {
	mints = normalizeMints(mints)
	s.update(func(state *WalletState) bool {
		state.Mints = cloneMints(mints)
		return true
	})
}

// Merge folds a remote backup into the local state and reports whether
// anything changed.
func (s *ProofStore) Merge(remote *Backup) bool {
	if remote == nil {
		return false
	}

	var changed bool
	s.update(func(state *WalletState) bool {
		merged := MergeState(*state, remote.State())
		tagProofs(merged.Proofs, activeMintURL(merged.Mints))
		changed = !sameState(*state, merged)
		if changed {
			*state = merged
		}
		return changed
	})

	return changed
}

// Reset replaces the whole state, used on logout.
func (s *ProofStore) Reset(state WalletState) {
	state = state.clone()
	state.Proofs = Dedupe(state.Proofs, nil)
	state.Mints = normalizeMints(state.Mints)
	tagProofs(state.Proofs, activeMintURL(state.Mints))

	s.update(func(cur *WalletState) bool {
		*cur = state
		return true
	})
}

func (s *ProofStore) update(fn func(state *WalletState) bool) {
	s.mu.Lock()
	if !fn(&s.state) {
		s.mu.Unlock()
		return
	}

	snapshot := s.state.clone()
	observers := s.observers

	// observers see snapshots in mutation order
	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()

	for _, o := range observers {
		o(snapshot)
	}
}

func hasTransaction(txs []*WalletTransaction, id string) bool {
	for _, tx := range txs {
		if tx.ID == id {
			return true
		}
	}

	return false
}

func sameState(a, b WalletState) bool {
	if len(a.Proofs) != len(b.Proofs) || len(a.Transactions) != len(b.Transactions) || len(a.Mints) != len(b.Mints) {
		return false
	}

	secrets := mapset.New[string]()
	for _, p := range a.Proofs {
		secrets.Put(p.Secret)
	}
	for _, p := range b.Proofs {
		if !secrets.Has(p.Secret) {
			return false
		}
	}

	for i := range a.Transactions {
		if a.Transactions[i].ID != b.Transactions[i].ID {
			return false
		}
	}

	for i := range a.Mints {
		if *a.Mints[i] != *b.Mints[i] {
			return false
		}
	}

	return true
}
