package scorecard

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/asaskevich/govalidator"
)

const connectionScheme = "nostr+walletconnect"

// Connection is a parsed remote wallet connection string:
//
//	nostr+walletconnect://<wallet pubkey>?relay=wss://...&secret=<hex>[&lud16=...]
type Connection struct {
	WalletPubKey string   `json:"wallet_pubkey"`
	Relays       []string `json:"relays"`
	Secret       string   `json:"-"`
	LUD16        string   `json:"lud16,omitempty"`

	raw string
}

func (c *Connection) String() string {
	return c.raw
}

func isHexKey(s string) bool {
	return len(s) == 64 && govalidator.IsHexadecimal(s)
}

// ParseConnection validates a connection string completely before
// returning it.
func ParseConnection(s string) (*Connection, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidConnection)
	}

	u, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConnection, err)
	}

	if u.Scheme != connectionScheme {
		return nil, fmt.Errorf("%w: scheme %q", ErrInvalidConnection, u.Scheme)
	}

	pubkey := u.Host
	if pubkey == "" {
		pubkey = strings.TrimPrefix(u.Opaque, "//")
	}
	pubkey = strings.ToLower(pubkey)
	if !isHexKey(pubkey) {
		return nil, fmt.Errorf("%w: wallet pubkey", ErrInvalidConnection)
	}

	q := u.Query()
	secret := strings.ToLower(q.Get("secret"))
	if !isHexKey(secret) {
		return nil, fmt.Errorf("%w: secret", ErrInvalidConnection)
	}

	var relays []string
	for _, r := range q["relay"] {
		ru, err := url.Parse(r)
		if err != nil || (ru.Scheme != "wss" && ru.Scheme != "ws") || !govalidator.IsURL(r) {
			return nil, fmt.Errorf("%w: relay %q", ErrInvalidConnection, r)
		}
		relays = append(relays, r)
	}

	if len(relays) == 0 {
		return nil, fmt.Errorf("%w: no relay", ErrInvalidConnection)
	}

	return &Connection{
		WalletPubKey: pubkey,
		Relays:       relays,
		Secret:       secret,
		LUD16:        q.Get("lud16"),
		raw:          s,
	}, nil
}
