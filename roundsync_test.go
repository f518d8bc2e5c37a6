package scorecard

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingProfiles struct {
	calls   atomic.Int32
	release chan struct{}
}

func (p *blockingProfiles) FetchProfile(ctx context.Context, pubkey string) (*Profile, error) {
	p.calls.Add(1)

	select {
	case <-p.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return &Profile{PubKey: pubkey, Name: "Carol", Picture: "https://example.com/carol.png"}, nil
}

func (p *blockingProfiles) FetchContacts(ctx context.Context, pubkey string) ([]string, error) {
	return nil, errors.New("no contacts")
}

func peerEvent(roundID, sender string, p *Player) *nostr.Event {
	e := NewRoundEvent(roundID, p)
	e.PubKey = sender
	return e
}

func scoresOf(r *Round, pubkey string) map[int]int {
	p, ok := r.Player(pubkey)
	if !ok {
		return nil
	}

	return p.Scores
}

const carol = "c0ffee00c0ffee00c0ffee00c0ffee00c0ffee00c0ffee00c0ffee00c0ffee00"

func startTestSync(t *testing.T, profiles ProfileFetcher) (*RoundSync, *Round, *MemTransport) {
	t.Helper()

	transport := NewMemTransport()
	if profiles == nil {
		profiles = transport
	}

	round := newTestRound(t, RoundSettings{ID: "round-1", Host: "host"},
		Player{PubKey: "host", Name: "Host"},
		Player{PubKey: "self", Name: "Me", Scores: map[int]int{1: 3}},
	)

	s := NewRoundSync(transport, profiles)
	require.NoError(t, s.Start(context.Background(), round, "self"))
	t.Cleanup(s.Stop)

	return s, round, transport
}

func TestRoundSyncPlaceholderResolvedOnce(t *testing.T) {
	profiles := &blockingProfiles{release: make(chan struct{})}
	s, round, transport := startTestSync(t, profiles)

	transport.InjectRoundEvent(peerEvent("round-1", carol, &Player{PubKey: carol, Scores: map[int]int{1: 4}}))
	transport.InjectRoundEvent(peerEvent("round-1", carol, &Player{PubKey: carol, Scores: map[int]int{1: 4, 2: 3}}))

	assert.Eventually(t, func() bool {
		return len(scoresOf(round, carol)) == 2
	}, time.Second, 5*time.Millisecond)

	assert.Len(t, round.Players(), 3, "one placeholder for both events")
	p, _ := round.Player(carol)
	assert.True(t, p.Placeholder)
	assert.Equal(t, carol[:8], p.Name)
	assert.Equal(t, 7, p.Total)
	assert.Equal(t, SyncReceiving, s.State())

	close(profiles.release)
	s.resolving.Wait()

	p, _ = round.Player(carol)
	assert.False(t, p.Placeholder)
	assert.Equal(t, "Carol", p.Name)
	assert.Equal(t, int32(1), profiles.calls.Load())
}

func TestRoundSyncFiltersEvents(t *testing.T) {
	_, round, transport := startTestSync(t, nil)
	transport.SetProfile(&Profile{PubKey: carol, Name: "Carol"})

	// someone else's round
	transport.InjectRoundEvent(peerEvent("round-2", carol, &Player{PubKey: carol, Scores: map[int]int{1: 9}}))
	// the local card is authoritative
	transport.InjectRoundEvent(peerEvent("round-1", "self", &Player{PubKey: "self", Scores: map[int]int{1: 9}}))
	// a peer cannot write another player's card
	transport.InjectRoundEvent(peerEvent("round-1", "mallory", &Player{PubKey: "host", Scores: map[int]int{1: 9}}))
	// the host can, and sets payment status
	transport.InjectRoundEvent(peerEvent("round-1", "host", &Player{PubKey: carol, Scores: map[int]int{1: 2}, Paid: true, EntrySelected: true}))

	assert.Eventually(t, func() bool {
		p, ok := round.Player(carol)
		return ok && p.Paid
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, map[int]int{1: 3}, scoresOf(round, "self"))
	assert.Empty(t, scoresOf(round, "host"))

	p, _ := round.Player(carol)
	assert.Equal(t, map[int]int{1: 2}, p.Scores)
	assert.False(t, p.EntrySelected, "selections come from the player only")
}

func TestRoundSyncRestartTearsDown(t *testing.T) {
	s, round, transport := startTestSync(t, nil)
	assert.Equal(t, 1, transport.RoundSubscribers("round-1"))

	require.NoError(t, s.Start(context.Background(), round, "self"))
	assert.Equal(t, 1, transport.RoundSubscribers("round-1"))

	other := newTestRound(t, RoundSettings{ID: "round-2", Host: "host"})
	require.NoError(t, s.Start(context.Background(), other, "self"))
	assert.Zero(t, transport.RoundSubscribers("round-1"))
	assert.Equal(t, 1, transport.RoundSubscribers("round-2"))
	assert.Same(t, other, s.Round())

	s.Stop()
	assert.Zero(t, transport.RoundSubscribers("round-2"))
	assert.Equal(t, SyncClosed, s.State())
	assert.Nil(t, s.Round())
}

func TestRoundSyncStaleDeliveryDropped(t *testing.T) {
	s, round, _ := startTestSync(t, nil)

	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()

	s.Stop()
	s.handle(context.Background(), gen, peerEvent("round-1", carol, &Player{PubKey: carol, Scores: map[int]int{1: 4}}))

	_, known := round.Player(carol)
	assert.False(t, known)
}

func TestRoundSyncPublishLocal(t *testing.T) {
	s, round, transport := startTestSync(t, nil)

	_, err := transport.GuestIdentity(context.Background())
	require.NoError(t, err)

	peer, err := transport.SubscribeRound(context.Background(), "round-1")
	require.NoError(t, err)
	defer peer.Close()

	require.NoError(t, round.SetScore("self", 2, 4))
	s.PublishLocal(context.Background(), "self")

	select {
	case e := <-peer.Events():
		u, err := DecodeRoundEvent(e)
		require.NoError(t, err)
		assert.Equal(t, "self", u.Player)
		assert.Equal(t, map[int]int{1: 3, 2: 4}, u.Scores)

		ok, err := e.CheckSignature()
		require.NoError(t, err)
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}
}

func TestApplyStatus(t *testing.T) {
	round := newTestRound(t, RoundSettings{ID: "round-1", Host: "host", EntryFee: 100, AceFee: 50},
		Player{PubKey: "host"},
		Player{PubKey: carol},
	)

	require.NoError(t, applyStatus(round, &RoundUpdate{Sender: carol, Player: carol, EntrySelected: true, Paid: true}, "host"))
	p, _ := round.Player(carol)
	assert.True(t, p.EntrySelected)
	assert.False(t, p.Paid, "only the host marks payments")

	require.NoError(t, applyStatus(round, &RoundUpdate{Sender: "host", Player: carol, Paid: true, AcePaid: true}, "host"))
	p, _ = round.Player(carol)
	assert.True(t, p.Paid)
	assert.True(t, p.AcePaid)
	assert.True(t, p.EntrySelected, "the host does not change selections")

	require.NoError(t, round.Finalize())
	err := applyStatus(round, &RoundUpdate{Sender: carol, Player: carol, AceSelected: true}, "host")
	assert.ErrorIs(t, err, ErrRoundFinalized)
}
