package scorecard

import (
	"context"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

type LoginMethod string

const (
	LoginGuest        LoginMethod = "guest"
	LoginExtension    LoginMethod = "extension"
	LoginKey          LoginMethod = "key"
	LoginRemoteSigner LoginMethod = "remote_signer"
)

type Identity struct {
	PubKey string      `json:"pubkey"`
	Guest  bool        `json:"guest"`
	Method LoginMethod `json:"method"`
}

type Profile struct {
	PubKey  string `json:"pubkey"`
	Name    string `json:"name"`
	Picture string `json:"picture,omitempty"`
}

// Message is a decrypted direct or sealed message.
type Message struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Sealed    bool      `json:"sealed"`
}

type EventSubscription interface {
	Events() <-chan *nostr.Event
	Close()
}

type MessageSubscription interface {
	Messages() <-chan *Message
	Close()
}

// RoundTransport publishes and streams a round's events. Implementations
// sign outgoing events and set PubKey.
type RoundTransport interface {
	PublishRoundEvent(ctx context.Context, event *nostr.Event) error
	SubscribeRound(ctx context.Context, roundID string) (EventSubscription, error)
}

// BackupTransport stores an encrypted, identity addressed blob. FetchBackup
// returns nil without error when nothing was ever published.
type BackupTransport interface {
	PublishBackup(ctx context.Context, identity string, blob []byte) error
	FetchBackup(ctx context.Context, identity string) ([]byte, error)
}

type MessageTransport interface {
	SubscribeDirectMessages(ctx context.Context, identity string) (MessageSubscription, error)
	SubscribeGiftWraps(ctx context.Context, identity string) (MessageSubscription, error)
	SendDirectMessage(ctx context.Context, to, content string) error
}

type ProfileFetcher interface {
	FetchProfile(ctx context.Context, pubkey string) (*Profile, error)
	FetchContacts(ctx context.Context, pubkey string) ([]string, error)
}

type IdentityProvider interface {
	Login(ctx context.Context) (*Identity, error)
	LoginWithKey(ctx context.Context, key string) (*Identity, error)
	LoginWithRemoteSigner(ctx context.Context, uri string) (*Identity, error)
	GuestIdentity(ctx context.Context) (*Identity, error)
	// Resume reattaches the signer of a persisted identity. It fails when
	// the signer is gone.
	Resume(ctx context.Context, id *Identity) error
	Logout(ctx context.Context) error
}

// Transport is the full identity/transport collaborator.
type Transport interface {
	RoundTransport
	BackupTransport
	MessageTransport
	ProfileFetcher
	IdentityProvider
}
