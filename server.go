package scorecard

import (
	"context"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// Deps are the collaborators a Server runs against.
type Deps struct {
	Transport Transport
	Mint      MintBackend
	// Dialer opens remote wallets; nil disables proxy mode.
	Dialer    ProxyDialer
	Scheduler Scheduler
}

type Server struct {
	cfg      Config
	db       *badger.DB
	store    *Store
	proofs   *ProofStore
	router   *Router
	backup   *BackupSyncer
	session  *Session
	registry *prometheus.Registry
}

func NewServer(db *badger.DB, deps Deps, cfg Config) (*Server, error) {
	cfg = cfg.WithDefaults()
	store := NewStore(db)

	state := store.LoadWalletState()
	if ActiveMint(state.Mints) == nil {
		mints, err := withActiveMint(state.Mints, cfg.MintURL, cfg.MintNickname)
		if err != nil {
			return nil, err
		}
		state.Mints = mints
	}

	proofs := NewProofStore(state)
	proofs.OnChange(store.Observe)

	backup := NewBackupSyncer(proofs, deps.Transport, BackupOptions{
		Delay:     cfg.BackupDelay,
		Timeout:   cfg.BackupTimeout,
		Scheduler: deps.Scheduler,
	})

	router := NewRouter(RouterConfig{
		Primary:      NewMintWallet(deps.Mint, proofs),
		Store:        proofs,
		Dialer:       deps.Dialer,
		Settings:     store,
		ProxyTimeout: cfg.ProxyTimeout,
	})

	session, err := NewSession(SessionConfig{
		Transport:    deps.Transport,
		DB:           store,
		Proofs:       proofs,
		Router:       router,
		Backup:       backup,
		PollInterval: cfg.PollInterval,
	})
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(Collectors()...)

	return &Server{
		cfg:      cfg,
		db:       db,
		store:    store,
		proofs:   proofs,
		router:   router,
		backup:   backup,
		session:  session,
		registry: registry,
	}, nil
}

func (s *Server) Session() *Session {
	return s.session
}

// Run initialises the session and keeps the background loops going until
// ctx is done.
func (s *Server) Run(ctx context.Context) error {
	if err := s.router.Primary().Connect(ctx); err != nil {
		slog.Warn("connect mint failed", slog.Any("err", err))
	}

	if err := s.session.Init(ctx); err != nil {
		return err
	}
	defer s.session.Close()

	var g errgroup.Group

	g.Go(func() error {
		return s.LoopRefresh(ctx)
	})

	g.Go(func() error {
		<-ctx.Done()

		flushCtx, cancel := context.WithTimeout(context.Background(), s.cfg.BackupTimeout)
		defer cancel()

		if err := s.backup.Flush(flushCtx); err != nil {
			slog.Warn("backup flush on shutdown failed", slog.Any("err", err))
		}
		return ctx.Err()
	})

	return g.Wait()
}

// LoopRefresh re-verifies the wallet periodically so spent proofs drop out.
func (s *Server) LoopRefresh(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.RefreshInterval):
		}

		if _, err := s.router.RefreshBalance(ctx); err != nil {
			slog.Warn("periodic refresh failed", slog.Any("err", err))
		}
	}
}
