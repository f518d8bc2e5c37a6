package scorecard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConnection(t *testing.T) {
	c, err := ParseConnection("  " + testConnection + "&lud16=me@example.com ")
	require.NoError(t, err)
	assert.Equal(t, testWalletKey, c.WalletPubKey)
	assert.Equal(t, testSecret, c.Secret)
	assert.Equal(t, []string{"wss://relay.example.com"}, c.Relays)
	assert.Equal(t, "me@example.com", c.LUD16)
	assert.Equal(t, testConnection+"&lud16=me@example.com", c.String())

	for name, s := range map[string]string{
		"empty":      "",
		"scheme":     "https://" + testWalletKey + "?relay=wss://relay.example.com&secret=" + testSecret,
		"short key":  "nostr+walletconnect://abcd?relay=wss://relay.example.com&secret=" + testSecret,
		"no secret":  "nostr+walletconnect://" + testWalletKey + "?relay=wss://relay.example.com",
		"bad secret": "nostr+walletconnect://" + testWalletKey + "?relay=wss://relay.example.com&secret=zz",
		"no relay":   "nostr+walletconnect://" + testWalletKey + "?secret=" + testSecret,
		"http relay": "nostr+walletconnect://" + testWalletKey + "?relay=https://relay.example.com&secret=" + testSecret,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseConnection(s)
			assert.ErrorIs(t, err, ErrInvalidConnection)
		})
	}
}
