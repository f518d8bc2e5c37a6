package scorecard

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	g "github.com/pandodao/generic"
	"github.com/zyedidia/generic/mapset"
)

// Store persists session and wallet state in badger. Reads fail soft: a
// missing or corrupt property yields its default.
type Store struct {
	db *badger.DB
}

var _ WalletSettings = (*Store)(nil)

func NewStore(db *badger.DB) *Store {
	return &Store{db: db}
}

func getProperty(txn *badger.Txn, name string, v any) (bool, error) {
	item, err := txn.Get(propertyKey(name))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return false, nil
		}

		return false, err
	}

	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	}); err != nil {
		return false, err
	}

	return true, nil
}

func setProperty(txn *badger.Txn, name string, v any) error {
	return txn.Set(propertyKey(name), g.Must(json.Marshal(v)))
}

func deleteProperty(txn *badger.Txn, name string) error {
	return txn.Delete(propertyKey(name))
}

// load reads one property into v, leaving v untouched on failure.
func (s *Store) load(name string, v any) bool {
	txn := s.db.NewTransaction(false)
	defer txn.Discard()

	ok, err := getProperty(txn, name, v)
	if err != nil {
		slog.Warn("load property failed, using default", slog.String("property", name), slog.Any("err", err))
		return false
	}

	return ok
}

func (s *Store) save(name string, v any) error {
	txn := s.db.NewTransaction(true)
	defer txn.Discard()

	if err := setProperty(txn, name, v); err != nil {
		return err
	}

	return txn.Commit()
}

func (s *Store) WalletMode() WalletMode {
	var mode WalletMode
	if !s.load(propWalletMode, &mode) || !mode.Valid() {
		return ModePrimary
	}

	return mode
}

func (s *Store) SaveWalletMode(_ context.Context, mode WalletMode) error {
	return s.save(propWalletMode, mode)
}

func (s *Store) ProxyConnection() string {
	var conn string
	s.load(propProxyConnection, &conn)
	return conn
}

func (s *Store) SaveProxyConnection(_ context.Context, conn string) error {
	if conn == "" {
		txn := s.db.NewTransaction(true)
		defer txn.Discard()

		if err := deleteProperty(txn, propProxyConnection); err != nil {
			return err
		}

		return txn.Commit()
	}

	return s.save(propProxyConnection, conn)
}

func (s *Store) Proofs() []*Proof {
	var proofs []*Proof
	if !s.load(propProofs, &proofs) {
		return nil
	}

	return Dedupe(proofs, nil)
}

func (s *Store) Mints() []*Mint {
	var mints []*Mint
	if !s.load(propMints, &mints) {
		return DefaultMints()
	}

	if mints = normalizeMints(mints); len(mints) == 0 {
		return DefaultMints()
	}

	return mints
}

// Guest reports whether the persisted session is a guest one, true when
// nothing was saved.
func (s *Store) Guest() bool {
	guest := true
	s.load(propGuest, &guest)
	return guest
}

func (s *Store) Identity() *Identity {
	var id Identity
	if !s.load(propIdentity, &id) || id.PubKey == "" {
		return nil
	}

	id.Guest = s.Guest()
	return &id
}

func (s *Store) SaveIdentity(id *Identity) error {
	txn := s.db.NewTransaction(true)
	defer txn.Discard()

	if err := setProperty(txn, propIdentity, id); err != nil {
		return err
	}

	if err := setProperty(txn, propGuest, id.Guest); err != nil {
		return err
	}

	return txn.Commit()
}

func saveTransaction(txn *badger.Txn, tx *WalletTransaction) error {
	return txn.Set(ledgerKey(tx.Timestamp, tx.ID), g.Must(json.Marshal(tx)))
}

// listTransactions scans the ledger newest first, starting before since
// when it is set. Corrupt entries are skipped.
func listTransactions(txn *badger.Txn, since time.Time, limit int) []*WalletTransaction {
	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	if limit > 0 {
		opts.PrefetchSize = limit
	}
	it := txn.NewIterator(opts)
	defer it.Close()

	if since.IsZero() {
		// seek past the last possible ledger key
		it.Seek(append(append([]byte{}, ledgerPrefix...), 0xff))
	} else {
		it.Seek(ledgerKey(since, ""))
	}

	var (
		txs  []*WalletTransaction
		seen = mapset.New[string]()
	)

	for ; it.ValidForPrefix(ledgerPrefix) && (limit <= 0 || len(txs) < limit); it.Next() {
		item := it.Item()

		ts, id, err := decodeLedgerKey(item.Key())
		if err != nil || seen.Has(id) || (!since.IsZero() && !ts.Before(since)) {
			continue
		}
		seen.Put(id)

		var tx WalletTransaction
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &tx)
		}); err != nil {
			slog.Warn("skip corrupt ledger entry", slog.String("id", id), slog.Any("err", err))
			continue
		}

		txs = append(txs, &tx)
	}

	return txs
}

func (s *Store) Transactions() []*WalletTransaction {
	return s.ListTransactions(time.Time{}, 0)
}

// ListTransactions pages the ledger, newest first.
func (s *Store) ListTransactions(since time.Time, limit int) []*WalletTransaction {
	txn := s.db.NewTransaction(false)
	defer txn.Discard()

	return listTransactions(txn, since, limit)
}

// LoadWalletState reads the wallet part of the persisted layout.
func (s *Store) LoadWalletState() WalletState {
	return WalletState{
		Proofs:       s.Proofs(),
		Transactions: s.Transactions(),
		Mints:        s.Mints(),
	}
}

// SaveWalletState writes proofs, mints and the ledger in one transaction.
// Ledger entries are immutable, so only unknown ones are written.
func (s *Store) SaveWalletState(state WalletState) error {
	txn := s.db.NewTransaction(true)
	defer txn.Discard()

	if err := setProperty(txn, propProofs, state.Proofs); err != nil {
		return err
	}

	if err := setProperty(txn, propMints, state.Mints); err != nil {
		return err
	}

	for _, tx := range state.Transactions {
		key := ledgerKey(tx.Timestamp, tx.ID)
		if _, err := txn.Get(key); err == nil {
			continue
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		if err := saveTransaction(txn, tx); err != nil {
			return err
		}
	}

	return txn.Commit()
}

// Observe persists every ProofStore change.
func (s *Store) Observe(state WalletState) {
	if err := s.SaveWalletState(state); err != nil {
		slog.Error("persist wallet state failed", slog.Any("err", err))
	}
}

// ClearWallet drops everything a logout must forget.
func (s *Store) ClearWallet() error {
	if err := s.db.DropPrefix(ledgerPrefix); err != nil {
		return err
	}

	txn := s.db.NewTransaction(true)
	defer txn.Discard()

	for _, name := range []string{propProofs, propMints, propWalletMode, propProxyConnection} {
		if err := deleteProperty(txn, name); err != nil {
			return err
		}
	}

	return txn.Commit()
}
