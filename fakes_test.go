package scorecard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *badger.DB {
	t.Helper()

	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return db
}

// fakeMint keeps mint side truth: the set of unspent proofs. It only
// honours proofs issued while connected to the same url.
type fakeMint struct {
	mu  sync.Mutex
	n   int
	url string

	unspent  map[string]*Proof
	origin   map[string]string
	quotes   map[string]bool
	issued   map[string]bool
	tokens   map[string]uint64
	invoices map[string]*MeltQuote

	// sendErr fails token creation and melts; spendOnErr still spends.
	sendErr    error
	spendOnErr bool
	verifyErr  error
	// entered and release pause token creation when set
	entered chan struct{}
	release chan struct{}
}

func newFakeMint() *fakeMint {
	return &fakeMint{
		url:      DefaultMintURL,
		unspent:  map[string]*Proof{},
		origin:   map[string]string{},
		quotes:   map[string]bool{},
		issued:   map[string]bool{},
		tokens:   map[string]uint64{},
		invoices: map[string]*MeltQuote{},
	}
}

func (m *fakeMint) mintLocked(amount uint64) *Proof {
	m.n++
	p := &Proof{ID: "00ad268c4d1f5826", Amount: amount, Secret: fmt.Sprintf("secret-%03d", m.n), C: fmt.Sprintf("c-%03d", m.n)}
	m.unspent[p.Secret] = p
	m.origin[p.Secret] = m.url
	return p.clone()
}

// issue mints proofs of the given amounts outside of any operation.
func (m *fakeMint) issue(amounts ...uint64) []*Proof {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Proof
	for _, a := range amounts {
		out = append(out, m.mintLocked(a))
	}

	return out
}

func (m *fakeMint) spendLocked(proofs []*Proof) (uint64, error) {
	var total uint64
	for _, p := range proofs {
		if _, ok := m.unspent[p.Secret]; !ok {
			return 0, fmt.Errorf("proof %s already spent", p.Secret)
		}
		total += p.Amount
	}

	for _, p := range proofs {
		delete(m.unspent, p.Secret)
	}

	return total, nil
}

func (m *fakeMint) Connect(ctx context.Context, mintURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.url = mintURL
	return nil
}

func (m *fakeMint) VerifyProofs(ctx context.Context, proofs []*Proof) ([]*Proof, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.verifyErr != nil {
		return nil, m.verifyErr
	}

	var valid []*Proof
	for _, p := range proofs {
		if _, ok := m.unspent[p.Secret]; ok && m.origin[p.Secret] == m.url {
			valid = append(valid, p.clone())
		}
	}

	return valid, nil
}

func (m *fakeMint) RequestDeposit(ctx context.Context, amount uint64) (*MintQuote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.n++
	q := fmt.Sprintf("quote-%d", m.n)
	m.quotes[q] = false
	return &MintQuote{Request: "lnbc" + q, Quote: q}, nil
}

func (m *fakeMint) pay(quote string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.quotes[quote] = true
}

func (m *fakeMint) CheckDepositQuoteStatus(ctx context.Context, quote string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	paid, ok := m.quotes[quote]
	if !ok {
		return false, errors.New("unknown quote")
	}

	return paid, nil
}

func (m *fakeMint) CompleteDeposit(ctx context.Context, quote string, amount uint64) ([]*Proof, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.quotes[quote] {
		return nil, errors.New("quote not paid")
	}

	if m.issued[quote] {
		return nil, errors.New("quote already issued")
	}

	m.issued[quote] = true
	return []*Proof{m.mintLocked(amount)}, nil
}

func (m *fakeMint) CreateTokenWithProofs(ctx context.Context, amount uint64, proofs []*Proof) (*TokenResult, error) {
	if m.entered != nil {
		m.entered <- struct{}{}
		<-m.release
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sendErr != nil {
		if m.spendOnErr {
			_, _ = m.spendLocked(proofs)
		}
		return nil, m.sendErr
	}

	total, err := m.spendLocked(proofs)
	if err != nil {
		return nil, err
	}

	if total < amount {
		return nil, errors.New("not enough proofs")
	}

	m.n++
	token := fmt.Sprintf("cashuAtoken%d", m.n)
	m.tokens[token] = amount

	var remaining []*Proof
	if change := total - amount; change > 0 {
		remaining = append(remaining, m.mintLocked(change))
	}

	return &TokenResult{Token: token, Remaining: remaining}, nil
}

func (m *fakeMint) ReceiveToken(ctx context.Context, token string) ([]*Proof, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	amount, ok := m.tokens[token]
	if !ok {
		return nil, errors.New("token already spent")
	}

	delete(m.tokens, token)
	return []*Proof{m.mintLocked(amount)}, nil
}

func (m *fakeMint) PayInvoice(ctx context.Context, invoice string, proofs []*Proof) (*PayResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.invoices[invoice]
	if !ok {
		return nil, errors.New("unknown invoice")
	}

	if m.sendErr != nil {
		if m.spendOnErr {
			_, _ = m.spendLocked(proofs)
		}
		return nil, m.sendErr
	}

	total, err := m.spendLocked(proofs)
	if err != nil {
		return nil, err
	}

	var remaining []*Proof
	if change := total - q.Amount - q.Fee; change > 0 {
		remaining = append(remaining, m.mintLocked(change))
	}

	return &PayResult{Remaining: remaining}, nil
}

func (m *fakeMint) GetLightningQuote(ctx context.Context, invoice string) (*MeltQuote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.invoices[invoice]
	if !ok {
		return nil, errors.New("unknown invoice")
	}

	cp := *q
	return &cp, nil
}

// fakeProxy is a remote lightning wallet with a plain balance.
type fakeProxy struct {
	mu       sync.Mutex
	balance  uint64
	invoices map[string]bool

	payErr error
	// settleOnErr still debits when payErr is returned
	settleOnErr bool
	balanceErr  error
	payAmounts  map[string]uint64
}

func newFakeProxy(balance uint64) *fakeProxy {
	return &fakeProxy{
		balance:    balance,
		invoices:   map[string]bool{},
		payAmounts: map[string]uint64{},
	}
}

func (p *fakeProxy) GetBalance(ctx context.Context) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.balanceErr != nil {
		return 0, p.balanceErr
	}

	return p.balance, nil
}

func (p *fakeProxy) MakeInvoice(ctx context.Context, amount uint64, memo string) (*Invoice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	hash := fmt.Sprintf("hash-%d", len(p.invoices)+1)
	p.invoices[hash] = false
	p.payAmounts[hash] = amount
	return &Invoice{Invoice: "lnbc" + hash, PaymentHash: hash}, nil
}

func (p *fakeProxy) settle(hash string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.invoices[hash] = true
	p.balance += p.payAmounts[hash]
}

func (p *fakeProxy) LookupInvoice(ctx context.Context, paymentHash string) (*InvoiceStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	paid, ok := p.invoices[paymentHash]
	if !ok {
		return nil, errors.New("unknown invoice")
	}

	return &InvoiceStatus{Paid: paid}, nil
}

func (p *fakeProxy) PayInvoice(ctx context.Context, invoice string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	amount := p.payAmounts[invoice]
	if p.payErr != nil {
		if p.settleOnErr {
			p.balance -= amount
		}
		return p.payErr
	}

	if amount > p.balance {
		return errors.New("insufficient balance")
	}

	p.balance -= amount
	return nil
}

// fakeScheduler fires timers only when told to.
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &fakeTimer{d: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}

	return n
}

// fire runs every pending timer and reports how many ran.
func (s *fakeScheduler) fire() int {
	s.mu.Lock()
	var due []*fakeTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			t.fired = true
			due = append(due, t)
		}
	}
	s.mu.Unlock()

	for _, t := range due {
		t.f()
	}

	return len(due)
}

// timeoutErr is an ambiguous transport failure.
var timeoutErr = fmt.Errorf("send request: %w", context.DeadlineExceeded)

const (
	testWalletKey = "b889ff5b1513b641e2a139f661a661364979c5beee91842f8f0ef42ab558e9d4"
	testSecret    = "71a8c14c1407c113601079c4302dab36460f0ccd0ad506f1f2dc73b5100e4f3c"
)

var testConnection = "nostr+walletconnect://" + testWalletKey + "?relay=wss://relay.example.com&secret=" + testSecret
