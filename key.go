package scorecard

import (
	"bytes"
	"time"

	"github.com/pandodao/mtg/mtgpack"
)

var (
	propertyPrefix = []byte("p:")
	ledgerPrefix   = []byte("t:")
)

// persisted properties, each loadable on its own
const (
	propWalletMode      = "wallet_mode"
	propProxyConnection = "proxy_connection"
	propProofs          = "proofs"
	propMints           = "mints"
	propGuest           = "guest"
	propIdentity        = "identity"
)

func buildIndexKey(prefix []byte, values ...any) []byte {
	enc := mtgpack.NewEncoder()
	if err := enc.EncodeValues(values...); err != nil {
		panic(err)
	}

	key := make([]byte, 0, len(prefix)+len(enc.Bytes()))
	key = append(key, prefix...)
	return append(key, enc.Bytes()...)
}

func decodeIndexKey(key, prefix []byte, values ...any) error {
	b := bytes.TrimPrefix(key, prefix)
	dec := mtgpack.NewDecoder(b)
	return dec.DecodeValues(values...)
}

func propertyKey(name string) []byte {
	return buildIndexKey(propertyPrefix, name)
}

// ledgerKey orders entries by time so a reverse scan lists newest first.
func ledgerKey(ts time.Time, id string) []byte {
	return buildIndexKey(ledgerPrefix, ts.UnixNano(), id)
}

func decodeLedgerKey(key []byte) (time.Time, string, error) {
	var (
		nano int64
		id   string
	)

	if err := decodeIndexKey(key, ledgerPrefix, &nano, &id); err != nil {
		return time.Time{}, "", err
	}

	return time.Unix(0, nano), id, nil
}
