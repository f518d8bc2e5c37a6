package scorecard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// WalletSettings persists the router's choices.
type WalletSettings interface {
	SaveWalletMode(ctx context.Context, mode WalletMode) error
	SaveProxyConnection(ctx context.Context, conn string) error
}

type RouterConfig struct {
	Primary      *MintWallet
	Store        *ProofStore
	Dialer       ProxyDialer
	Settings     WalletSettings
	ProxyTimeout time.Duration
}

// Router dispatches wallet operations to the backend selected by the
// persisted mode.
//
// Every operation captures the mode epoch when it starts. Its result only
// reaches the displayed balance if no mode switch happened meanwhile.
type Router struct {
	primary      *MintWallet
	store        *ProofStore
	dialer       ProxyDialer
	settings     WalletSettings
	proxyTimeout time.Duration

	mu        sync.Mutex
	mode      WalletMode
	epoch     uint64
	displayed uint64
	conn      *Connection
	proxy     *ProxyWallet
	// quotes remembers which backend issued each deposit quote
	quotes map[string]WalletMode
}

var _ Wallet = (*Router)(nil)

func NewRouter(cfg RouterConfig) *Router {
	return &Router{
		primary:      cfg.Primary,
		store:        cfg.Store,
		dialer:       cfg.Dialer,
		settings:     cfg.Settings,
		proxyTimeout: cfg.ProxyTimeout,
		mode:         ModePrimary,
		displayed:    cfg.Store.ActiveBalance(),
		quotes:       map[string]WalletMode{},
	}
}

// Restore applies persisted settings at startup. A stored connection that
// no longer validates is discarded and the router stays on primary.
func (r *Router) Restore(ctx context.Context, mode WalletMode, conn string) {
	if conn != "" {
		if err := r.SetProxyConnection(ctx, conn); err != nil {
			slog.Warn("discarding stored remote wallet connection", slog.Any("err", err))
		}
	}

	if mode == ModeProxy {
		if err := r.SetMode(ctx, ModeProxy); err != nil {
			slog.Warn("restore remote wallet mode failed", slog.Any("err", err))
		}
	}
}

func (r *Router) Primary() *MintWallet {
	return r.primary
}

func (r *Router) Mode() WalletMode {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.mode
}

// Balance is the displayed balance of the selected backend.
func (r *Router) Balance() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.displayed
}

// Connection returns the validated remote wallet connection, if any.
func (r *Router) Connection() *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.conn
}

func (r *Router) current() (Wallet, WalletMode, uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.mode == ModeProxy {
		if r.proxy == nil {
			return nil, r.mode, r.epoch, ErrNoProxyConnection
		}
		return r.proxy, r.mode, r.epoch, nil
	}

	return r.primary, r.mode, r.epoch, nil
}

// display sets the displayed balance if epoch is still current.
func (r *Router) display(epoch, amount uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if epoch != r.epoch {
		return false
	}

	r.displayed = amount
	return true
}

// settle re-derives the displayed balance after an operation started at
// epoch on mode.
func (r *Router) settle(ctx context.Context, mode WalletMode, epoch uint64, w Wallet) {
	if mode == ModePrimary {
		r.display(epoch, r.store.ActiveBalance())
		return
	}

	amount, err := w.RefreshBalance(ctx)
	if err != nil {
		slog.Warn("refresh remote wallet balance failed", slog.Any("err", err))
		return
	}

	r.display(epoch, amount)
}

// SetMode switches backends. The displayed balance is zeroed at once and
// re-derived from the new backend.
func (r *Router) SetMode(ctx context.Context, mode WalletMode) error {
	if !mode.Valid() {
		return fmt.Errorf("unknown wallet mode %q", mode)
	}

	r.mu.Lock()
	if mode == ModeProxy && r.proxy == nil {
		r.mu.Unlock()
		return ErrNoProxyConnection
	}

	if r.mode == mode {
		r.mu.Unlock()
		return nil
	}

	r.mode = mode
	r.epoch++
	r.displayed = 0
	r.mu.Unlock()

	slog.Info("wallet mode switched", slog.String("mode", string(mode)))

	if r.settings != nil {
		if err := r.settings.SaveWalletMode(ctx, mode); err != nil {
			slog.Error("persist wallet mode failed", slog.Any("err", err))
		}
	}

	if _, err := r.RefreshBalance(ctx); err != nil {
		slog.Warn("refresh after mode switch failed", slog.Any("err", err))
	}

	return nil
}

// SetProxyConnection validates and dials conn. Any failure discards the
// connection and falls back to the primary backend.
func (r *Router) SetProxyConnection(ctx context.Context, conn string) error {
	parsed, err := ParseConnection(conn)
	if err == nil && r.dialer == nil {
		err = fmt.Errorf("%w: no remote wallet dialer", ErrUnsupported)
	}

	var client ProxyClient
	if err == nil {
		client, err = r.dialer(ctx, parsed)
		if err != nil {
			err = wrapBackend("dial remote wallet", err)
		}
	}

	if err != nil {
		r.clearProxy(ctx)
		return err
	}

	r.mu.Lock()
	r.conn = parsed
	r.proxy = NewProxyWallet(client, r.store, r.proxyTimeout)
	r.mu.Unlock()

	if r.settings != nil {
		if err := r.settings.SaveProxyConnection(ctx, parsed.String()); err != nil {
			slog.Error("persist remote wallet connection failed", slog.Any("err", err))
		}
	}

	return nil
}

// ClearProxyConnection forgets the remote wallet.
func (r *Router) ClearProxyConnection(ctx context.Context) {
	r.clearProxy(ctx)
}

func (r *Router) clearProxy(ctx context.Context) {
	r.mu.Lock()
	r.conn = nil
	r.proxy = nil
	switched := r.mode == ModeProxy
	if switched {
		r.mode = ModePrimary
		r.epoch++
		r.displayed = r.store.ActiveBalance()
	}
	r.mu.Unlock()

	if r.settings == nil {
		return
	}

	if err := r.settings.SaveProxyConnection(ctx, ""); err != nil {
		slog.Error("clear remote wallet connection failed", slog.Any("err", err))
	}

	if switched {
		if err := r.settings.SaveWalletMode(ctx, ModePrimary); err != nil {
			slog.Error("persist wallet mode failed", slog.Any("err", err))
		}
	}
}

// SetActiveMint changes the primary backend's mint.
func (r *Router) SetActiveMint(ctx context.Context, url, nickname string) error {
	_, mode, epoch, _ := r.current()
	if err := r.primary.SetActiveMint(ctx, url, nickname); err != nil {
		return err
	}

	if mode == ModePrimary {
		r.display(epoch, r.store.ActiveBalance())
	}

	return nil
}

func (r *Router) Deposit(ctx context.Context, amount uint64) (*DepositQuote, error) {
	w, _, _, err := r.current()
	if err != nil {
		return nil, err
	}

	q, err := w.Deposit(ctx, amount)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.quotes[q.Quote] = q.Mode
	r.mu.Unlock()

	return q, nil
}

// issuer returns the backend that issued quote, whatever the mode is now.
// current reports whether that backend is still the selected one.
func (r *Router) issuer(quote string) (w Wallet, mode WalletMode, epoch uint64, current bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	mode, ok := r.quotes[quote]
	if !ok {
		mode = r.mode
	}

	current = mode == r.mode
	if mode == ModeProxy {
		if r.proxy == nil {
			return nil, mode, r.epoch, current, ErrNoProxyConnection
		}
		return r.proxy, mode, r.epoch, current, nil
	}

	return r.primary, mode, r.epoch, current, nil
}

func (r *Router) CheckDeposit(ctx context.Context, quote string) (bool, error) {
	w, _, _, _, err := r.issuer(quote)
	if err != nil {
		return false, err
	}

	return w.CheckDeposit(ctx, quote)
}

// ConfirmDeposit claims quote on the backend that issued it. The displayed
// balance only follows when that backend is still selected.
func (r *Router) ConfirmDeposit(ctx context.Context, quote string, amount uint64) (*WalletTransaction, error) {
	w, mode, epoch, current, err := r.issuer(quote)
	if err != nil {
		return nil, err
	}

	tx, err := w.ConfirmDeposit(ctx, quote, amount)
	if err != nil {
		return nil, err
	}

	if current {
		r.settle(ctx, mode, epoch, w)
	}
	return tx, nil
}

func (r *Router) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	w, mode, epoch, err := r.current()
	if err != nil {
		return nil, err
	}

	res, err := w.Send(ctx, req)
	// failed sends still refresh so the display tracks ground truth
	r.settle(ctx, mode, epoch, w)
	return res, err
}

func (r *Router) Receive(ctx context.Context, token string) (*WalletTransaction, error) {
	w, mode, epoch, err := r.current()
	if err != nil {
		return nil, err
	}

	tx, err := w.Receive(ctx, token)
	if err != nil {
		return nil, err
	}

	r.settle(ctx, mode, epoch, w)
	return tx, nil
}

func (r *Router) Quote(ctx context.Context, invoice string) (*MeltQuote, error) {
	w, _, _, err := r.current()
	if err != nil {
		return nil, err
	}

	return w.Quote(ctx, invoice)
}

func (r *Router) RefreshBalance(ctx context.Context) (uint64, error) {
	w, _, epoch, err := r.current()
	if err != nil {
		return 0, err
	}

	amount, err := w.RefreshBalance(ctx)
	if err != nil {
		return 0, err
	}

	r.display(epoch, amount)
	return amount, nil
}
