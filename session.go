package scorecard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zyedidia/generic/mapset"
	"golang.org/x/sync/errgroup"
)

// AppState is the session wide state. It is seeded at Init, replaced on
// login and logout, and its round is torn down by ResetRound.
type AppState struct {
	Identity *Identity `json:"identity"`
	Round    *Round    `json:"-"`
}

type LoginRequest struct {
	Method LoginMethod `json:"method"`
	// Credential is the private key or the remote signer uri, per Method.
	Credential string `json:"credential"`
}

type SessionConfig struct {
	Transport Transport
	DB        *Store
	Proofs    *ProofStore
	Router    *Router
	Backup    *BackupSyncer
	// PollInterval paces invoice watches, 3s when zero.
	PollInterval time.Duration
	// PublishTimeout bounds background score publishes, 10s when zero.
	PublishTimeout time.Duration
}

// Session owns identity and the active round and wires the wallet to
// both.
type Session struct {
	transport      Transport
	db             *Store
	proofs         *ProofStore
	router         *Router
	backup         *BackupSyncer
	sync           *RoundSync
	redeem         *AutoRedeemListener
	invoices       *InvoicePoller
	publishTimeout time.Duration

	// settled remembers payouts already sent, by round, player and type
	settleMu sync.Mutex
	settled  mapset.Set[string]

	mu    sync.RWMutex
	state AppState
	ctx   context.Context

	publishing sync.WaitGroup
}

func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 10 * time.Second
	}

	s := &Session{
		transport:      cfg.Transport,
		db:             cfg.DB,
		proofs:         cfg.Proofs,
		router:         cfg.Router,
		backup:         cfg.Backup,
		sync:           NewRoundSync(cfg.Transport, cfg.Transport),
		publishTimeout: cfg.PublishTimeout,
		settled:        mapset.New[string](),
		ctx:            context.Background(),
	}

	redeem, err := NewAutoRedeemListener(cfg.Transport, cfg.Router.Primary(), RedeemOptions{
		ActiveRound: s.ActiveRound,
		OnPayment:   s.onPayment,
	})
	if err != nil {
		return nil, err
	}
	s.redeem = redeem
	s.invoices = NewInvoicePoller(cfg.Router, cfg.PollInterval, s.onInvoicePaid)

	return s, nil
}

func (s *Session) State() AppState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state
}

func (s *Session) Identity() *Identity {
	return s.State().Identity
}

func (s *Session) ActiveRound() *Round {
	return s.State().Round
}

func (s *Session) Router() *Router {
	return s.router
}

func (s *Session) Proofs() *ProofStore {
	return s.proofs
}

func (s *Session) self() (string, error) {
	id := s.Identity()
	if id == nil {
		return "", ErrNotLoggedIn
	}

	return id.PubKey, nil
}

// Init restores the persisted session, or seeds a guest identity. ctx
// bounds the lifetime of every subscription the session opens.
func (s *Session) Init(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.router.Restore(ctx, s.db.WalletMode(), s.db.ProxyConnection())

	id := s.db.Identity()
	if id != nil {
		if err := s.transport.Resume(ctx, id); err != nil {
			slog.Warn("persisted identity cannot sign, continuing as guest",
				slog.String("pubkey", id.PubKey),
				slog.Any("err", err),
			)
			id = nil
		}
	}

	if id == nil {
		guest, err := s.transport.GuestIdentity(ctx)
		if err != nil {
			return fmt.Errorf("create guest identity failed: %w", err)
		}
		id = guest
	}

	s.adopt(ctx, id, false)
	return nil
}

// Login switches to a real identity and merges its remote backup.
func (s *Session) Login(ctx context.Context, req LoginRequest) (*Identity, error) {
	var (
		id  *Identity
		err error
	)

	switch req.Method {
	case LoginExtension:
		id, err = s.transport.Login(ctx)
	case LoginKey:
		id, err = s.transport.LoginWithKey(ctx, req.Credential)
	case LoginRemoteSigner:
		id, err = s.transport.LoginWithRemoteSigner(ctx, req.Credential)
	default:
		return nil, fmt.Errorf("unsupported login method %q", req.Method)
	}

	if err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}

	id.Guest = false
	id.Method = req.Method
	s.adopt(ctx, id, true)
	return id, nil
}

// Guest continues with an ephemeral identity, keeping local wallet state.
func (s *Session) Guest(ctx context.Context) (*Identity, error) {
	id, err := s.transport.GuestIdentity(ctx)
	if err != nil {
		return nil, err
	}

	id.Guest = true
	id.Method = LoginGuest
	s.adopt(ctx, id, false)
	return id, nil
}

func (s *Session) adopt(ctx context.Context, id *Identity, merge bool) {
	s.redeem.Stop()

	s.mu.Lock()
	s.state.Identity = id
	round := s.state.Round
	lifetime := s.ctx
	s.mu.Unlock()

	if err := s.db.SaveIdentity(id); err != nil {
		slog.Error("persist identity failed", slog.Any("err", err))
	}

	s.backup.SetIdentity(id)

	if merge && !id.Guest {
		if changed, err := s.backup.MergeOnLogin(ctx, id.PubKey); err != nil {
			slog.Warn("merge remote backup failed", slog.Any("err", err))
		} else if changed {
			// merged proofs may have been spent elsewhere
			if _, err := s.router.Primary().RefreshBalance(ctx); err != nil {
				slog.Warn("verify merged proofs failed", slog.Any("err", err))
			}
		}

		// push whatever only this device had
		s.backup.MarkDirty()
	}

	if _, err := s.router.RefreshBalance(ctx); err != nil {
		slog.Warn("refresh balance failed", slog.Any("err", err))
	}

	if err := s.redeem.Start(lifetime, id.PubKey); err != nil {
		slog.Warn("auto redeem not listening", slog.Any("err", err))
	}

	if round != nil {
		if err := s.sync.Start(lifetime, round, id.PubKey); err != nil {
			slog.Warn("restart round sync failed", slog.Any("err", err))
		}
	}

	slog.Info("session identity", slog.String("pubkey", id.PubKey), slog.Bool("guest", id.Guest))
}

// Logout tears everything down, clears the wallet and seeds a fresh guest.
func (s *Session) Logout(ctx context.Context) (*Identity, error) {
	s.sync.Stop()
	s.redeem.Stop()
	s.invoices.Stop()

	if err := s.backup.Flush(ctx); err != nil {
		slog.Warn("final backup push failed", slog.Any("err", err))
	}
	s.backup.SetIdentity(nil)

	if err := s.transport.Logout(ctx); err != nil {
		slog.Warn("transport logout failed", slog.Any("err", err))
	}

	if err := s.db.ClearWallet(); err != nil {
		slog.Error("clear persisted wallet failed", slog.Any("err", err))
	}

	s.router.ClearProxyConnection(ctx)
	s.proofs.Reset(WalletState{Mints: DefaultMints()})

	s.mu.Lock()
	s.state = AppState{}
	s.mu.Unlock()

	return s.Guest(ctx)
}

func (s *Session) enterRound(ctx context.Context, settings RoundSettings, self Player) (*Round, error) {
	round, err := NewRound(settings)
	if err != nil {
		return nil, err
	}

	if _, err := round.AddPlayer(self); err != nil {
		return nil, err
	}

	s.ResetRound()

	s.mu.Lock()
	s.state.Round = round
	lifetime := s.ctx
	s.mu.Unlock()

	if err := s.sync.Start(lifetime, round, self.PubKey); err != nil {
		slog.Warn("round sync not started", slog.String("round", round.ID()), slog.Any("err", err))
	}

	s.publish(self.PubKey)
	return round, nil
}

// StartRound hosts a new round.
func (s *Session) StartRound(ctx context.Context, settings RoundSettings, name string, entry, ace bool) (*Round, error) {
	pubkey, err := s.self()
	if err != nil {
		return nil, err
	}

	settings.ID = ""
	settings.Host = pubkey
	settings.Finalized = false

	return s.enterRound(ctx, settings, Player{
		PubKey:        pubkey,
		Name:          name,
		EntrySelected: entry,
		AceSelected:   ace,
		IsHost:        true,
		IsSelf:        true,
	})
}

// JoinRound joins a round announced by its host.
func (s *Session) JoinRound(ctx context.Context, settings RoundSettings, name string, entry, ace bool) (*Round, error) {
	pubkey, err := s.self()
	if err != nil {
		return nil, err
	}

	if settings.ID == "" || settings.Host == "" {
		return nil, fmt.Errorf("%w: round id and host required", ErrNoActiveRound)
	}

	return s.enterRound(ctx, settings, Player{
		PubKey:        pubkey,
		Name:          name,
		EntrySelected: entry,
		AceSelected:   ace,
		IsSelf:        true,
	})
}

// ResetRound leaves the active round.
func (s *Session) ResetRound() {
	s.sync.Stop()
	s.invoices.Stop()

	s.mu.Lock()
	s.state.Round = nil
	s.mu.Unlock()
}

func (s *Session) round() (*Round, string, error) {
	pubkey, err := s.self()
	if err != nil {
		return nil, "", err
	}

	round := s.ActiveRound()
	if round == nil {
		return nil, "", ErrNoActiveRound
	}

	return round, pubkey, nil
}

// canEdit allows editing one's own card, and any card for the host.
func canEdit(round *Round, self, pubkey string) error {
	if pubkey == self || round.Settings().Host == self {
		return nil
	}

	return fmt.Errorf("%w: only the host edits other cards", ErrUnknownPlayer)
}

// SetScore edits a card locally and publishes it in the background.
func (s *Session) SetScore(ctx context.Context, pubkey string, hole, strokes int) error {
	round, self, err := s.round()
	if err != nil {
		return err
	}

	if pubkey == "" {
		pubkey = self
	}

	if err := canEdit(round, self, pubkey); err != nil {
		return err
	}

	if err := round.SetScore(pubkey, hole, strokes); err != nil {
		return err
	}

	s.publish(pubkey)
	return nil
}

// AddPlayer lets the host add a player by pubkey, resolving the profile.
func (s *Session) AddPlayer(ctx context.Context, pubkey string, entry, ace bool) error {
	round, self, err := s.round()
	if err != nil {
		return err
	}

	if round.Settings().Host != self {
		return fmt.Errorf("%w: only the host adds players", ErrUnknownPlayer)
	}

	p := Player{PubKey: pubkey, EntrySelected: entry, AceSelected: ace, Name: shortKey(pubkey), Placeholder: true}
	if profile, err := s.transport.FetchProfile(ctx, pubkey); err != nil {
		slog.Warn("fetch profile failed", slog.String("pubkey", pubkey), slog.Any("err", err))
	} else if profile != nil && profile.Name != "" {
		p.Name, p.Picture, p.Placeholder = profile.Name, profile.Picture, false
	}

	if _, err := round.AddPlayer(p); err != nil {
		return err
	}

	s.publish(pubkey)
	return nil
}

// Contacts resolves the profiles of the identity's contact list.
func (s *Session) Contacts(ctx context.Context) ([]*Profile, error) {
	self, err := s.self()
	if err != nil {
		return nil, err
	}

	keys, err := s.transport.FetchContacts(ctx, self)
	if err != nil {
		return nil, err
	}

	profiles := make([]*Profile, len(keys))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			p, err := s.transport.FetchProfile(ctx, key)
			if err != nil || p == nil {
				p = &Profile{PubKey: key, Name: shortKey(key)}
			}
			profiles[i] = p
			return nil
		})
	}

	_ = g.Wait()
	return profiles, nil
}

func (s *Session) publish(pubkey string) {
	s.mu.RLock()
	lifetime := s.ctx
	s.mu.RUnlock()

	s.publishing.Add(1)
	go func() {
		defer s.publishing.Done()

		ctx, cancel := context.WithTimeout(lifetime, s.publishTimeout)
		defer cancel()

		s.sync.PublishLocal(ctx, pubkey)
	}()
}

// onPayment republishes a card whose payment status the host changed.
func (s *Session) onPayment(_ context.Context, pubkey string) {
	round, self, err := s.round()
	if err != nil || round.Settings().Host != self {
		return
	}

	s.publish(pubkey)
}

func (s *Session) onInvoicePaid(ctx context.Context, pubkey string, tx *WalletTransaction) {
	round := s.ActiveRound()
	if round == nil {
		return
	}

	if err := round.RecordPayment(pubkey, tx.Amount); err != nil {
		slog.Warn("record invoice payment failed", slog.String("player", pubkey), slog.Any("err", err))
		return
	}

	s.onPayment(ctx, pubkey)
}

// RequestInvoices creates one invoice per unpaid player covering the fees
// they selected, and watches each until paid.
func (s *Session) RequestInvoices(ctx context.Context) (map[string]*DepositQuote, error) {
	round, self, err := s.round()
	if err != nil {
		return nil, err
	}

	settings := round.Settings()
	if settings.Host != self {
		return nil, fmt.Errorf("%w: only the host collects fees", ErrUnknownPlayer)
	}

	if settings.Finalized {
		return nil, ErrRoundFinalized
	}

	s.mu.RLock()
	lifetime := s.ctx
	s.mu.RUnlock()

	out := map[string]*DepositQuote{}
	for _, p := range round.Players() {
		if p.PubKey == self || p.Paid {
			continue
		}

		var amount uint64
		if p.EntrySelected {
			amount += settings.EntryFee
		}
		if p.AceSelected && !p.AcePaid {
			amount += settings.AceFee
		}
		if amount == 0 {
			continue
		}

		if q, ok := s.invoices.Invoice(p.PubKey); ok {
			out[p.PubKey] = q
			continue
		}

		q, err := s.router.Deposit(ctx, amount)
		if err != nil {
			return out, fmt.Errorf("invoice for %s: %w", shortKey(p.PubKey), err)
		}

		s.invoices.Watch(lifetime, p.PubKey, q)
		out[p.PubKey] = q
	}

	return out, nil
}

// StopInvoice stops watching a player's invoice, e.g. after a cash payment.
func (s *Session) StopInvoice(pubkey string) bool {
	return s.invoices.StopPlayer(pubkey)
}

// FinalizeRound locks the round and returns its payout plan.
func (s *Session) FinalizeRound(ctx context.Context) (PayoutPlan, error) {
	round, self, err := s.round()
	if err != nil {
		return PayoutPlan{}, err
	}

	if round.Settings().Host != self {
		return PayoutPlan{}, fmt.Errorf("%w: only the host finalizes", ErrUnknownPlayer)
	}

	if err := round.Finalize(); err != nil {
		return PayoutPlan{}, err
	}

	s.invoices.Stop()
	plan := round.Payouts()
	slog.Info("round finalized",
		slog.String("round", round.ID()),
		slog.Int("payouts", len(plan.Payouts)),
		slog.Uint64("total", plan.Total()),
	)

	return plan, nil
}

type PayoutReceipt struct {
	Payout      Payout             `json:"payout"`
	Transaction *WalletTransaction `json:"transaction,omitempty"`
	// Token is set when it could not be delivered and must be handed over
	// another way.
	Token string `json:"token,omitempty"`
	Err   string `json:"error,omitempty"`
}

// SettlePayouts sends each payout of the finalized round as a token by
// direct message. Payouts already sent are skipped, so it can be re-run
// after partial failure.
func (s *Session) SettlePayouts(ctx context.Context) ([]PayoutReceipt, error) {
	round, self, err := s.round()
	if err != nil {
		return nil, err
	}

	if round.Settings().Host != self {
		return nil, fmt.Errorf("%w: only the host pays out", ErrUnknownPlayer)
	}

	if !round.Finalized() {
		return nil, fmt.Errorf("round %s is not finalized", round.ID())
	}

	s.settleMu.Lock()
	defer s.settleMu.Unlock()

	var receipts []PayoutReceipt
	for _, p := range round.Payouts().Payouts {
		if p.Amount == 0 || p.PubKey == self {
			continue
		}

		key := round.ID() + ":" + p.PubKey + ":" + string(p.Type)
		if s.settled.Has(key) {
			continue
		}

		receipt := PayoutReceipt{Payout: p}
		res, err := s.router.Send(ctx, SendRequest{
			Amount:      p.Amount,
			Description: fmt.Sprintf("Round payout, place %d", p.Place),
			Type:        p.Type,
		})
		if err != nil {
			receipt.Err = err.Error()
			receipts = append(receipts, receipt)
			continue
		}

		// the money left; never send it twice
		s.settled.Put(key)
		receipt.Transaction = res.Transaction

		// a recovered send spent the proofs but never returned the token
		if res.Token == "" {
			slog.Error("payout settled at mint but token not received",
				slog.String("player", p.PubKey),
				slog.String("tx", res.Transaction.ID),
				slog.Bool("recovered", res.Recovered),
			)
			receipt.Err = "payout settled at mint but token not received"
			receipts = append(receipts, receipt)
			continue
		}

		if err := s.transport.SendDirectMessage(ctx, p.PubKey, res.Token); err != nil {
			slog.Error("deliver payout token failed",
				slog.String("player", p.PubKey),
				slog.String("tx", res.Transaction.ID),
				slog.Any("err", err),
			)
			receipt.Err = err.Error()
			receipt.Token = res.Token
		}

		receipts = append(receipts, receipt)
	}

	return receipts, nil
}

// Close stops every background flow of the session.
func (s *Session) Close() {
	s.sync.Stop()
	s.redeem.Stop()
	s.invoices.Stop()
	s.publishing.Wait()
	s.backup.Stop()
}
