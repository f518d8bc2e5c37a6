package scorecard

import (
	"context"
	"errors"
	"net"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrMalformedToken      = errors.New("malformed token")
	ErrInvalidInvoice      = errors.New("invalid invoice")
	ErrInvalidConnection   = errors.New("invalid wallet connection string")
	ErrNoProxyConnection   = errors.New("no remote wallet connected")
	ErrInvalidMint         = errors.New("invalid mint")
	ErrUnsupported         = errors.New("operation not supported by wallet backend")
	ErrBackendUnreachable  = errors.New("wallet backend unreachable")
	ErrDepositUnconfirmed  = errors.New("deposit not confirmed, retry later")
	ErrNotLoggedIn         = errors.New("not logged in")

	// ErrPaymentTimeout is returned when a remote wallet payment timed out and
	// reconciliation could not show that the funds left.
	ErrPaymentTimeout = errors.New("remote wallet payment timed out")

	// ErrProxyTimeout is the distinguished timeout raised by ProxyClient
	// implementations. Callers must treat it as ambiguous.
	ErrProxyTimeout = errors.New("remote wallet request timed out")

	ErrRoundFinalized = errors.New("round is finalized")
	ErrUnknownPlayer  = errors.New("unknown player")
	ErrInvalidScore   = errors.New("invalid score")
	ErrNoActiveRound  = errors.New("no active round")
)

// isAmbiguous reports whether err leaves the outcome of a dispatched
// operation unknown.
func isAmbiguous(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrProxyTimeout) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
