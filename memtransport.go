package scorecard

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/nbd-wtf/go-nostr"
)

type memFeed[T any] struct {
	ch     chan T
	done   chan struct{}
	once   sync.Once
	remove func()
}

func newMemFeed[T any]() *memFeed[T] {
	return &memFeed[T]{
		ch:   make(chan T, 64),
		done: make(chan struct{}),
	}
}

func (f *memFeed[T]) send(v T) {
	select {
	case f.ch <- v:
	case <-f.done:
	}
}

func (f *memFeed[T]) Close() {
	f.once.Do(func() {
		close(f.done)
		if f.remove != nil {
			f.remove()
		}
	})
}

type memEventSub struct{ *memFeed[*nostr.Event] }

func (s memEventSub) Events() <-chan *nostr.Event { return s.ch }

type memMessageSub struct{ *memFeed[*Message] }

func (s memMessageSub) Messages() <-chan *Message { return s.ch }

// MemTransport is an in-process Transport. Everything published is fanned
// out to local subscribers; backups live in memory.
type MemTransport struct {
	mu       sync.Mutex
	secret   string
	identity *Identity
	backups  map[string][]byte
	profiles map[string]*Profile
	contacts map[string][]string
	rounds   map[string]map[*memFeed[*nostr.Event]]struct{}
	direct   map[string]map[*memFeed[*Message]]struct{}
	sealed   map[string]map[*memFeed[*Message]]struct{}
}

var _ Transport = (*MemTransport)(nil)

func NewMemTransport() *MemTransport {
	return &MemTransport{
		backups:  map[string][]byte{},
		profiles: map[string]*Profile{},
		contacts: map[string][]string{},
		rounds:   map[string]map[*memFeed[*nostr.Event]]struct{}{},
		direct:   map[string]map[*memFeed[*Message]]struct{}{},
		sealed:   map[string]map[*memFeed[*Message]]struct{}{},
	}
}

func (t *MemTransport) SetProfile(p *Profile) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cp := *p
	t.profiles[p.PubKey] = &cp
}

func (t *MemTransport) SetContacts(pubkey string, contacts []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.contacts[pubkey] = append([]string(nil), contacts...)
}

func (t *MemTransport) self() (*Identity, string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.identity, t.secret
}

func (t *MemTransport) PublishRoundEvent(ctx context.Context, event *nostr.Event) error {
	id, secret := t.self()
	if id == nil {
		return ErrNotLoggedIn
	}

	event.PubKey = id.PubKey
	if err := event.Sign(secret); err != nil {
		return fmt.Errorf("sign round event failed: %w", err)
	}

	t.broadcastEvent(eventRoundID(event), event)
	return nil
}

// InjectRoundEvent delivers an event as it arrived from a peer.
func (t *MemTransport) InjectRoundEvent(event *nostr.Event) {
	t.broadcastEvent(eventRoundID(event), event)
}

func (t *MemTransport) broadcastEvent(roundID string, event *nostr.Event) {
	t.mu.Lock()
	feeds := make([]*memFeed[*nostr.Event], 0, len(t.rounds[roundID]))
	for f := range t.rounds[roundID] {
		feeds = append(feeds, f)
	}
	t.mu.Unlock()

	for _, f := range feeds {
		cp := *event
		f.send(&cp)
	}
}

func (t *MemTransport) SubscribeRound(ctx context.Context, roundID string) (EventSubscription, error) {
	f := newMemFeed[*nostr.Event]()

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rounds[roundID] == nil {
		t.rounds[roundID] = map[*memFeed[*nostr.Event]]struct{}{}
	}
	t.rounds[roundID][f] = struct{}{}
	f.remove = func() {
		t.mu.Lock()
		delete(t.rounds[roundID], f)
		t.mu.Unlock()
	}

	return memEventSub{f}, nil
}

// RoundSubscribers counts live subscriptions of a round.
func (t *MemTransport) RoundSubscribers(roundID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.rounds[roundID])
}

func (t *MemTransport) PublishBackup(ctx context.Context, identity string, blob []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.backups[identity] = append([]byte(nil), blob...)
	return nil
}

func (t *MemTransport) FetchBackup(ctx context.Context, identity string) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	blob, ok := t.backups[identity]
	if !ok {
		return nil, nil
	}

	return append([]byte(nil), blob...), nil
}

func (t *MemTransport) subscribeMessages(feeds map[string]map[*memFeed[*Message]]struct{}, identity string) MessageSubscription {
	f := newMemFeed[*Message]()

	t.mu.Lock()
	defer t.mu.Unlock()

	if feeds[identity] == nil {
		feeds[identity] = map[*memFeed[*Message]]struct{}{}
	}
	feeds[identity][f] = struct{}{}
	f.remove = func() {
		t.mu.Lock()
		delete(feeds[identity], f)
		t.mu.Unlock()
	}

	return memMessageSub{f}
}

func (t *MemTransport) SubscribeDirectMessages(ctx context.Context, identity string) (MessageSubscription, error) {
	return t.subscribeMessages(t.direct, identity), nil
}

func (t *MemTransport) SubscribeGiftWraps(ctx context.Context, identity string) (MessageSubscription, error) {
	return t.subscribeMessages(t.sealed, identity), nil
}

func (t *MemTransport) SendDirectMessage(ctx context.Context, to, content string) error {
	id, _ := t.self()
	if id == nil {
		return ErrNotLoggedIn
	}

	t.Deliver(to, &Message{
		ID:        uuid.NewString(),
		Sender:    id.PubKey,
		Content:   content,
		CreatedAt: now(),
	})
	return nil
}

// Deliver hands m to the subscribers of to, on the sealed channel when
// m.Sealed is set.
func (t *MemTransport) Deliver(to string, m *Message) {
	t.mu.Lock()
	src := t.direct
	if m.Sealed {
		src = t.sealed
	}
	feeds := make([]*memFeed[*Message], 0, len(src[to]))
	for f := range src[to] {
		feeds = append(feeds, f)
	}
	t.mu.Unlock()

	for _, f := range feeds {
		cp := *m
		f.send(&cp)
	}
}

func (t *MemTransport) FetchProfile(ctx context.Context, pubkey string) (*Profile, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.profiles[pubkey]
	if !ok {
		return nil, fmt.Errorf("profile %s not found", shortKey(pubkey))
	}

	cp := *p
	return &cp, nil
}

func (t *MemTransport) FetchContacts(ctx context.Context, pubkey string) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]string(nil), t.contacts[pubkey]...), nil
}

func (t *MemTransport) Login(ctx context.Context) (*Identity, error) {
	return nil, fmt.Errorf("%w: no signer extension in process", ErrUnsupported)
}

func (t *MemTransport) LoginWithKey(ctx context.Context, key string) (*Identity, error) {
	if !isHexKey(key) {
		return nil, fmt.Errorf("invalid private key")
	}

	return t.use(key, LoginKey, false)
}

func (t *MemTransport) LoginWithRemoteSigner(ctx context.Context, uri string) (*Identity, error) {
	return nil, fmt.Errorf("%w: no remote signer in process", ErrUnsupported)
}

func (t *MemTransport) GuestIdentity(ctx context.Context) (*Identity, error) {
	return t.use(nostr.GeneratePrivateKey(), LoginGuest, true)
}

// Resume succeeds only for the identity currently holding the key; keys
// do not outlive the process.
func (t *MemTransport) Resume(ctx context.Context, id *Identity) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.identity == nil || t.secret == "" || t.identity.PubKey != id.PubKey {
		return ErrNotLoggedIn
	}

	return nil
}

func (t *MemTransport) use(secret string, method LoginMethod, guest bool) (*Identity, error) {
	pubkey, err := nostr.GetPublicKey(secret)
	if err != nil {
		return nil, err
	}

	id := &Identity{PubKey: pubkey, Guest: guest, Method: method}

	t.mu.Lock()
	t.secret = secret
	t.identity = id
	t.mu.Unlock()

	cp := *id
	return &cp, nil
}

func (t *MemTransport) Logout(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.secret = ""
	t.identity = nil
	return nil
}
