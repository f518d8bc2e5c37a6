package scorecard

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/asaskevich/govalidator"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/spf13/cast"
	"github.com/twitchtv/twirp"
)

func (s *Server) Handler() http.Handler {
	m := chi.NewMux()
	m.Use(middleware.Recoverer)
	m.Use(middleware.RealIP)
	m.Use(middleware.Logger)
	m.Use(middleware.Heartbeat("/hc"))
	m.Use(cors.AllowAll().Handler)

	m.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	m.Group(func(r chi.Router) {
		r.Use(handleAuth(s.cfg.JWTSecret, s.cfg.JWTIssuer))

		r.Get("/wallet", s.getWallet)
		r.Get("/wallet/transactions", s.listTransactions)
		r.Put("/wallet/mode", s.updateMode)
		r.Put("/wallet/connection", s.updateConnection)
		r.Post("/wallet/refresh", s.refreshWallet)
		r.Post("/wallet/receive", s.receiveToken)
		r.Put("/wallet/mints/active", s.updateActiveMint)
		r.Get("/round", s.getRound)
		r.Put("/round/scores", s.updateScore)
		r.Post("/round/finalize", s.finalizeRound)
	})

	return m
}

func renderJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(200)

	_ = json.NewEncoder(w).Encode(v)
}

func renderErr(w http.ResponseWriter, err error) {
	_ = twirp.WriteError(w, apiError(err))
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return twirp.InvalidArgument.Error("invalid body")
	}

	return nil
}

// apiError maps the error taxonomy onto twirp codes.
func apiError(err error) error {
	var te twirp.Error
	if errors.As(err, &te) {
		return te
	}

	var code twirp.ErrorCode
	switch {
	case errors.Is(err, ErrNotLoggedIn):
		code = twirp.Unauthenticated
	case errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrNoProxyConnection),
		errors.Is(err, ErrRoundFinalized),
		errors.Is(err, ErrDepositUnconfirmed):
		code = twirp.FailedPrecondition
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrMalformedToken),
		errors.Is(err, ErrInvalidInvoice),
		errors.Is(err, ErrInvalidConnection),
		errors.Is(err, ErrInvalidMint),
		errors.Is(err, ErrInvalidScore):
		code = twirp.InvalidArgument
	case errors.Is(err, ErrUnsupported):
		code = twirp.Unimplemented
	case errors.Is(err, ErrPaymentTimeout):
		code = twirp.DeadlineExceeded
	case errors.Is(err, ErrBackendUnreachable):
		code = twirp.Unavailable
	case errors.Is(err, ErrNoActiveRound), errors.Is(err, ErrUnknownPlayer):
		code = twirp.NotFound
	default:
		slog.Error("api request failed", slog.Any("err", err))
		return twirp.InternalErrorWith(err)
	}

	return twirp.NewError(code, err.Error())
}

type walletView struct {
	Mode         WalletMode  `json:"mode"`
	Balance      uint64      `json:"balance"`
	ProofBalance uint64      `json:"proof_balance"`
	Mints        []*Mint     `json:"mints"`
	RemoteWallet string      `json:"remote_wallet,omitempty"`
	Identity     *Identity   `json:"identity"`
	Backup       backupState `json:"backup"`
}

type backupState struct {
	Dirty     bool `json:"dirty"`
	Scheduled bool `json:"scheduled"`
}

func (s *Server) getWallet(w http.ResponseWriter, r *http.Request) {
	view := walletView{
		Mode:         s.router.Mode(),
		Balance:      s.router.Balance(),
		ProofBalance: s.proofs.ActiveBalance(),
		Mints:        s.proofs.Mints(),
		Identity:     s.session.Identity(),
		Backup: backupState{
			Dirty:     s.backup.Dirty(),
			Scheduled: s.backup.Scheduled(),
		},
	}

	if conn := s.router.Connection(); conn != nil {
		view.RemoteWallet = conn.WalletPubKey
	}

	renderJSON(w, view)
}

func (s *Server) listTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	since := cast.ToTime(q.Get("offset"))
	limit := cast.ToInt(q.Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	txs := s.store.ListTransactions(since, limit)
	if txs == nil {
		txs = []*WalletTransaction{}
	}

	renderJSON(w, txs)
}

func (s *Server) updateMode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Mode string `json:"mode"`
	}

	if err := decodeBody(r, &body); err != nil {
		renderErr(w, err)
		return
	}

	if !govalidator.IsIn(body.Mode, string(ModePrimary), string(ModeProxy)) {
		renderErr(w, twirp.InvalidArgumentError("mode", "must be primary or proxy"))
		return
	}

	if err := s.router.SetMode(r.Context(), WalletMode(body.Mode)); err != nil {
		renderErr(w, err)
		return
	}

	s.getWallet(w, r)
}

func (s *Server) updateConnection(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Connection string `json:"connection"`
	}

	if err := decodeBody(r, &body); err != nil {
		renderErr(w, err)
		return
	}

	if body.Connection == "" {
		s.router.ClearProxyConnection(r.Context())
	} else if err := s.router.SetProxyConnection(r.Context(), body.Connection); err != nil {
		renderErr(w, err)
		return
	}

	s.getWallet(w, r)
}

func (s *Server) refreshWallet(w http.ResponseWriter, r *http.Request) {
	if _, err := s.router.RefreshBalance(r.Context()); err != nil {
		renderErr(w, err)
		return
	}

	s.getWallet(w, r)
}

func (s *Server) receiveToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}

	if err := decodeBody(r, &body); err != nil {
		renderErr(w, err)
		return
	}

	tx, err := s.router.Receive(r.Context(), body.Token)
	if err != nil {
		renderErr(w, err)
		return
	}

	renderJSON(w, tx)
}

func (s *Server) updateActiveMint(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URL      string `json:"url"`
		Nickname string `json:"nickname"`
	}

	if err := decodeBody(r, &body); err != nil {
		renderErr(w, err)
		return
	}

	if err := s.router.SetActiveMint(r.Context(), body.URL, body.Nickname); err != nil {
		renderErr(w, err)
		return
	}

	s.getWallet(w, r)
}

type roundView struct {
	RoundSnapshot
	Standings []Standing `json:"standings"`
	EntryPot  uint64     `json:"entry_pot"`
	AcePot    uint64     `json:"ace_pot"`
	Sync      SyncState  `json:"sync"`
}

func (s *Server) getRound(w http.ResponseWriter, r *http.Request) {
	round := s.session.ActiveRound()
	if round == nil {
		renderErr(w, ErrNoActiveRound)
		return
	}

	entry, ace := round.Pots()
	renderJSON(w, roundView{
		RoundSnapshot: round.Snapshot(),
		Standings:     round.Standings(),
		EntryPot:      entry,
		AcePot:        ace,
		Sync:          s.session.sync.State(),
	})
}

func (s *Server) updateScore(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PubKey  string `json:"pubkey"`
		Hole    int    `json:"hole"`
		Strokes int    `json:"strokes"`
	}

	if err := decodeBody(r, &body); err != nil {
		renderErr(w, err)
		return
	}

	if err := s.session.SetScore(r.Context(), body.PubKey, body.Hole, body.Strokes); err != nil {
		renderErr(w, err)
		return
	}

	s.getRound(w, r)
}

func (s *Server) finalizeRound(w http.ResponseWriter, r *http.Request) {
	if op, ok := OperatorFrom(r.Context()); ok {
		slog.Info("finalize round", slog.String("operator", op.Subject))
	}

	plan, err := s.session.FinalizeRound(r.Context())
	if err != nil {
		renderErr(w, err)
		return
	}

	renderJSON(w, plan)
}
