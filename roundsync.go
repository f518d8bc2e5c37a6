package scorecard

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/nbd-wtf/go-nostr"
	"github.com/yiplee/go-cache"
	"golang.org/x/sync/singleflight"
)

type SyncState string

const (
	SyncIdle      SyncState = "idle"
	SyncReceiving SyncState = "receiving"
	SyncClosed    SyncState = "closed"
)

// RoundSync keeps the active round in step with its event stream. At most
// one subscription is live; deliveries from an older one are dropped.
type RoundSync struct {
	transport RoundTransport
	profiles  ProfileFetcher
	cache     *cache.Cache[string, *Profile]
	sf        singleflight.Group

	// lifecycle serialises Start and Stop
	lifecycle sync.Mutex

	mu     sync.Mutex
	round  *Round
	self   string
	sub    EventSubscription
	cancel context.CancelFunc
	gen    uint64
	state  SyncState

	loops     sync.WaitGroup
	resolving sync.WaitGroup
}

func NewRoundSync(transport RoundTransport, profiles ProfileFetcher) *RoundSync {
	return &RoundSync{
		transport: transport,
		profiles:  profiles,
		cache:     cache.New[string, *Profile](),
		state:     SyncClosed,
	}
}

func (s *RoundSync) State() SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Round returns the round being synced, nil when closed.
func (s *RoundSync) Round() *Round {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.round
}

// Start subscribes to round, tearing down any previous subscription first.
// Events about self are not applied; the local card is authoritative.
func (s *RoundSync) Start(ctx context.Context, round *Round, self string) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.stopLocked()

	sub, err := s.transport.SubscribeRound(ctx, round.ID())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.round = round
	s.self = self
	s.sub = sub
	s.cancel = cancel
	s.state = SyncIdle
	s.mu.Unlock()

	slog.Info("round sync started", slog.String("round", round.ID()))

	s.loops.Add(1)
	go func() {
		defer s.loops.Done()
		s.receive(ctx, gen, sub)
	}()

	return nil
}

// Stop tears the subscription down. Nothing it already delivered is
// applied afterwards.
func (s *RoundSync) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.stopLocked()
}

func (s *RoundSync) stopLocked() {
	s.mu.Lock()
	if s.state == SyncClosed && s.sub == nil {
		s.mu.Unlock()
		return
	}

	s.gen++
	s.state = SyncClosed
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.sub != nil {
		s.sub.Close()
		s.sub = nil
	}
	if s.round != nil {
		slog.Info("round sync stopped", slog.String("round", s.round.ID()))
	}
	s.round = nil
	s.mu.Unlock()

	s.loops.Wait()
}

func (s *RoundSync) receive(ctx context.Context, gen uint64, sub EventSubscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.Events():
			if !ok {
				return
			}

			s.handle(ctx, gen, e)
		}
	}
}

func (s *RoundSync) handle(ctx context.Context, gen uint64, e *nostr.Event) {
	u, err := DecodeRoundEvent(e)
	if err != nil {
		slog.Warn("drop round event", slog.String("id", e.ID), slog.Any("err", err))
		roundEvents.WithLabelValues("invalid").Inc()
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen || s.state == SyncClosed {
		roundEvents.WithLabelValues("stale").Inc()
		return
	}

	round := s.round
	if u.RoundID != round.ID() {
		roundEvents.WithLabelValues("foreign").Inc()
		return
	}

	s.state = SyncReceiving

	// own cards and our own echoes: local edits are authoritative
	if u.Player == s.self || u.Sender == s.self {
		roundEvents.WithLabelValues("self").Inc()
		return
	}

	host := round.Settings().Host
	if u.Player != u.Sender && u.Sender != host {
		slog.Warn("round event for another player from non host",
			slog.String("sender", u.Sender),
			slog.String("player", u.Player),
		)
		roundEvents.WithLabelValues("rejected").Inc()
		return
	}

	_, known := round.Player(u.Player)
	if !known {
		name := u.Name
		if name == "" {
			name = shortKey(u.Player)
		}

		if _, err := round.AddPlayer(Player{PubKey: u.Player, Name: name, Placeholder: true}); err != nil {
			roundEvents.WithLabelValues("finalized").Inc()
			return
		}

		s.resolve(ctx, gen, u.Player)
	}

	if err := round.ApplyScores(u.Player, u.Scores); err != nil {
		slog.Warn("apply round event failed", slog.String("player", u.Player), slog.Any("err", err))
		roundEvents.WithLabelValues("rejected").Inc()
		return
	}

	if err := applyStatus(round, u, host); err != nil {
		slog.Warn("apply round event status failed", slog.String("player", u.Player), slog.Any("err", err))
		roundEvents.WithLabelValues("rejected").Inc()
		return
	}

	slog.Debug("round event applied",
		slog.String("player", u.Player),
		slog.Time("updated_at", u.UpdatedAt),
	)
	roundEvents.WithLabelValues("applied").Inc()
}

// applyStatus applies fee selections, which only the player sets, and
// payment status, which only the host sets.
func applyStatus(round *Round, u *RoundUpdate, host string) error {
	var errs []error
	if u.Sender == u.Player {
		errs = append(errs, round.SetSelection(u.Player, u.EntrySelected, u.AceSelected))
	}

	if u.Sender == host {
		if u.Paid {
			errs = append(errs, round.MarkPaid(u.Player, FeeEntry))
		}
		if u.AcePaid {
			errs = append(errs, round.MarkPaid(u.Player, FeeAce))
		}
	}

	return errors.Join(errs...)
}

// resolve fetches the profile of a placeholder player in the background
// and patches it in place if the subscription is still current.
func (s *RoundSync) resolve(ctx context.Context, gen uint64, pubkey string) {
	s.resolving.Add(1)
	go func() {
		defer s.resolving.Done()

		v, err, _ := s.sf.Do(pubkey, func() (interface{}, error) {
			if p, ok := s.cache.Get(pubkey); ok {
				return p, nil
			}

			p, err := s.profiles.FetchProfile(ctx, pubkey)
			if err != nil {
				return nil, err
			}

			s.cache.Set(pubkey, p)
			return p, nil
		})

		if err != nil {
			slog.Warn("resolve player profile failed", slog.String("pubkey", pubkey), slog.Any("err", err))
			return
		}

		profile := *v.(*Profile)
		profile.PubKey = pubkey

		s.mu.Lock()
		defer s.mu.Unlock()

		if gen != s.gen || s.round == nil {
			return
		}

		s.round.PatchProfile(&profile)
	}()
}

// PublishLocal publishes a player's card. Failure is logged only; the
// local edit stands.
func (s *RoundSync) PublishLocal(ctx context.Context, pubkey string) {
	round := s.Round()
	if round == nil {
		return
	}

	p, ok := round.Player(pubkey)
	if !ok {
		return
	}

	if err := s.transport.PublishRoundEvent(ctx, NewRoundEvent(round.ID(), p)); err != nil {
		slog.Warn("publish score failed",
			slog.String("round", round.ID()),
			slog.String("player", pubkey),
			slog.Any("err", err),
		)
	}
}

func shortKey(pubkey string) string {
	if len(pubkey) <= 8 {
		return pubkey
	}

	return pubkey[:8]
}
