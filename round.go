package scorecard

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type PayoutMode string

const (
	PayoutWinnerTakeAll PayoutMode = "winner_take_all"
	PayoutPercentage    PayoutMode = "percentage"
)

type PayoutGradient string

const (
	GradientTopHeavy PayoutGradient = "top_heavy"
	GradientFlat     PayoutGradient = "flat"
)

// AceDisposition decides what happens to the ace pot when nobody aced.
type AceDisposition string

const (
	AceCarryOver AceDisposition = "carry_over"
	AceToWinner  AceDisposition = "to_winner"
	AceRefund    AceDisposition = "refund"
)

type PayoutConfig struct {
	Mode           PayoutMode     `json:"mode"`
	Gradient       PayoutGradient `json:"gradient"`
	AceDisposition AceDisposition `json:"ace_disposition"`
	// Places paid in percentage mode, 3 when zero.
	Places int `json:"places,omitempty"`
}

type RoundSettings struct {
	ID           string       `json:"id"`
	Host         string       `json:"host"`
	Course       string       `json:"course"`
	Holes        int          `json:"holes"`
	StartingHole int          `json:"starting_hole"`
	EntryFee     uint64       `json:"entry_fee"`
	AceFee       uint64       `json:"ace_fee"`
	Finalized    bool         `json:"is_finalized"`
	Payout       PayoutConfig `json:"payout"`
	CreatedAt    time.Time    `json:"created_at"`
}

type FeeKind string

const (
	FeeEntry FeeKind = "entry"
	FeeAce   FeeKind = "ace"
)

type Player struct {
	PubKey  string `json:"pubkey"`
	Name    string `json:"name"`
	Picture string `json:"picture,omitempty"`
	// Scores maps hole number to strokes.
	Scores map[int]int `json:"scores"`
	Total  int         `json:"total"`

	EntrySelected bool `json:"entry_selected"`
	AceSelected   bool `json:"ace_selected"`
	Paid          bool `json:"paid"`
	AcePaid       bool `json:"ace_paid"`
	// Received sums payments redeemed from this player.
	Received uint64 `json:"received"`

	IsHost      bool `json:"is_host"`
	IsSelf      bool `json:"is_self"`
	Placeholder bool `json:"placeholder"`
}

func (p *Player) clone() *Player {
	cp := *p
	cp.Scores = make(map[int]int, len(p.Scores))
	for h, s := range p.Scores {
		cp.Scores[h] = s
	}

	return &cp
}

func (p *Player) setScores(scores map[int]int) {
	p.Scores = make(map[int]int, len(scores))
	p.Total = 0
	for h, s := range scores {
		p.Scores[h] = s
		p.Total += s
	}
}

// Aced reports a hole in one anywhere on the card.
func (p *Player) Aced() bool {
	for _, s := range p.Scores {
		if s == 1 {
			return true
		}
	}

	return false
}

// Round is the live state of one round. Players are unique by pubkey and
// nothing but profiles change once it is finalized.
type Round struct {
	mu       sync.RWMutex
	settings RoundSettings
	players  []*Player
	index    map[string]int
}

func NewRound(settings RoundSettings) (*Round, error) {
	if settings.ID == "" {
		settings.ID = uuid.NewString()
	}

	if settings.Holes <= 0 {
		settings.Holes = 18
	}

	if settings.StartingHole == 0 {
		settings.StartingHole = 1
	}

	if settings.StartingHole < 1 || settings.StartingHole > settings.Holes {
		return nil, fmt.Errorf("starting hole %d outside 1..%d", settings.StartingHole, settings.Holes)
	}

	if settings.Payout.Mode == "" {
		settings.Payout.Mode = PayoutWinnerTakeAll
	}

	if settings.Payout.Gradient == "" {
		settings.Payout.Gradient = GradientTopHeavy
	}

	if settings.Payout.AceDisposition == "" {
		settings.Payout.AceDisposition = AceCarryOver
	}

	if settings.CreatedAt.IsZero() {
		settings.CreatedAt = now()
	}

	return &Round{
		settings: settings,
		index:    map[string]int{},
	}, nil
}

func (r *Round) ID() string {
	return r.settings.ID
}

func (r *Round) Settings() RoundSettings {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.settings
}

func (r *Round) Finalized() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.settings.Finalized
}

// AddPlayer inserts p unless a player with the same pubkey exists, in
// which case a placeholder entry is upgraded with p's profile.
func (r *Round) AddPlayer(p Player) (bool, error) {
	if p.PubKey == "" {
		return false, fmt.Errorf("%w: empty pubkey", ErrUnknownPlayer)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if i, ok := r.index[p.PubKey]; ok {
		cur := r.players[i]
		if cur.Placeholder && !p.Placeholder {
			cur.Name, cur.Picture, cur.Placeholder = p.Name, p.Picture, false
		}
		cur.IsSelf = cur.IsSelf || p.IsSelf
		return false, nil
	}

	if r.settings.Finalized {
		return false, ErrRoundFinalized
	}

	cp := p.clone()
	cp.setScores(p.Scores)
	cp.IsHost = cp.IsHost || p.PubKey == r.settings.Host
	r.index[p.PubKey] = len(r.players)
	r.players = append(r.players, cp)
	return true, nil
}

func (r *Round) Player(pubkey string) (*Player, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.index[pubkey]
	if !ok {
		return nil, false
	}

	return r.players[i].clone(), true
}

// Players returns copies in join order.
func (r *Round) Players() []*Player {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Player, len(r.players))
	for i, p := range r.players {
		out[i] = p.clone()
	}

	return out
}

// mutate runs fn on the player under the write lock, refusing once the
// round is finalized.
func (r *Round) mutate(pubkey string, fn func(p *Player) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.settings.Finalized {
		return ErrRoundFinalized
	}

	i, ok := r.index[pubkey]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlayer, pubkey)
	}

	return fn(r.players[i])
}

func (r *Round) validScore(hole, strokes int) error {
	if hole < 1 || hole > r.settings.Holes {
		return fmt.Errorf("%w: hole %d outside 1..%d", ErrInvalidScore, hole, r.settings.Holes)
	}

	if strokes < 0 {
		return fmt.Errorf("%w: %d strokes", ErrInvalidScore, strokes)
	}

	return nil
}

// SetScore records a local edit. Zero strokes clears the hole.
func (r *Round) SetScore(pubkey string, hole, strokes int) error {
	return r.mutate(pubkey, func(p *Player) error {
		if err := r.validScore(hole, strokes); err != nil {
			return err
		}

		scores := p.Scores
		if strokes == 0 {
			delete(scores, hole)
		} else {
			scores[hole] = strokes
		}
		p.setScores(scores)
		return nil
	})
}

// ApplyScores replaces a player's card with an inbound one. The last
// received card wins.
func (r *Round) ApplyScores(pubkey string, scores map[int]int) error {
	return r.mutate(pubkey, func(p *Player) error {
		for h, s := range scores {
			if err := r.validScore(h, s); err != nil {
				return err
			}
		}

		p.setScores(scores)
		return nil
	})
}

func (r *Round) SetSelection(pubkey string, entry, ace bool) error {
	return r.mutate(pubkey, func(p *Player) error {
		p.EntrySelected, p.AceSelected = entry, ace
		return nil
	})
}

func (r *Round) MarkPaid(pubkey string, kind FeeKind) error {
	return r.mutate(pubkey, func(p *Player) error {
		switch kind {
		case FeeEntry:
			p.Paid = true
		case FeeAce:
			p.AcePaid = true
		default:
			return fmt.Errorf("unknown fee %q", kind)
		}
		return nil
	})
}

// RecordPayment credits amount received from a player against the fees
// they selected, entry first.
func (r *Round) RecordPayment(pubkey string, amount uint64) error {
	return r.mutate(pubkey, func(p *Player) error {
		p.Received += amount

		remaining := p.Received
		if p.EntrySelected {
			if remaining < r.settings.EntryFee {
				return nil
			}
			remaining -= r.settings.EntryFee
			p.Paid = true
		}

		if p.AceSelected && remaining >= r.settings.AceFee {
			p.AcePaid = true
		}
		return nil
	})
}

// PatchProfile fills in a resolved profile. It is allowed after finalize.
func (r *Round) PatchProfile(profile *Profile) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.index[profile.PubKey]
	if !ok {
		return false
	}

	p := r.players[i]
	if !p.Placeholder && p.Name != "" {
		return false
	}

	if profile.Name != "" {
		p.Name = profile.Name
	}
	p.Picture = profile.Picture
	p.Placeholder = false
	return true
}

func (r *Round) Finalize() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.settings.Finalized {
		return ErrRoundFinalized
	}

	r.settings.Finalized = true
	return nil
}

type RoundSnapshot struct {
	Settings RoundSettings `json:"settings"`
	Players  []*Player     `json:"players"`
}

func (r *Round) Snapshot() RoundSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	players := make([]*Player, len(r.players))
	for i, p := range r.players {
		players[i] = p.clone()
	}

	return RoundSnapshot{Settings: r.settings, Players: players}
}

type Standing struct {
	PubKey string `json:"pubkey"`
	Name   string `json:"name"`
	Total  int    `json:"total"`
	Holes  int    `json:"holes"`
	Place  int    `json:"place"`
}

// Standings ranks players with at least one score by total, lowest first.
// Tied players share a place.
func (r *Round) Standings() []Standing {
	return standings(r.Players())
}

func standings(players []*Player) []Standing {
	var out []Standing
	for _, p := range players {
		if len(p.Scores) == 0 {
			continue
		}
		out = append(out, Standing{PubKey: p.PubKey, Name: p.Name, Total: p.Total, Holes: len(p.Scores)})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total < out[j].Total
		}
		return out[i].PubKey < out[j].PubKey
	})

	for i := range out {
		if i > 0 && out[i].Total == out[i-1].Total {
			out[i].Place = out[i-1].Place
		} else {
			out[i].Place = i + 1
		}
	}

	return out
}
