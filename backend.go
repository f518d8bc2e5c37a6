package scorecard

import (
	"context"
)

type WalletMode string

const (
	ModePrimary WalletMode = "primary"
	ModeProxy   WalletMode = "proxy"
)

func (m WalletMode) Valid() bool {
	return m == ModePrimary || m == ModeProxy
}

type DepositQuote struct {
	// Request is the lightning invoice to pay.
	Request string     `json:"request"`
	Quote   string     `json:"quote"`
	Amount  uint64     `json:"amount"`
	Mode    WalletMode `json:"mode"`
}

type MeltQuote struct {
	Amount uint64 `json:"amount"`
	Fee    uint64 `json:"fee"`
}

type SendRequest struct {
	Amount uint64
	// Invoice, when set, pays a lightning invoice instead of minting a token.
	Invoice     string
	Description string
	// Type defaults to send; payouts and ace pot payouts are recorded as such.
	Type TransactionType
}

type SendResult struct {
	Token       string             `json:"token,omitempty"`
	Transaction *WalletTransaction `json:"transaction"`
	// Recovered is set when the backend reported an error but
	// reconciliation showed the funds left.
	Recovered bool `json:"recovered"`
}

// Wallet is the operation set both backends implement.
type Wallet interface {
	Deposit(ctx context.Context, amount uint64) (*DepositQuote, error)
	CheckDeposit(ctx context.Context, quote string) (bool, error)
	ConfirmDeposit(ctx context.Context, quote string, amount uint64) (*WalletTransaction, error)
	Send(ctx context.Context, req SendRequest) (*SendResult, error)
	Receive(ctx context.Context, token string) (*WalletTransaction, error)
	Quote(ctx context.Context, invoice string) (*MeltQuote, error)
	RefreshBalance(ctx context.Context) (uint64, error)
}

type MintQuote struct {
	Request string `json:"request"`
	Quote   string `json:"quote"`
}

type TokenResult struct {
	Token     string   `json:"token"`
	Remaining []*Proof `json:"remaining"`
}

type PayResult struct {
	Remaining []*Proof `json:"remaining"`
}

// MintBackend is the bearer token protocol library talking to one mint.
type MintBackend interface {
	Connect(ctx context.Context, mintURL string) error
	VerifyProofs(ctx context.Context, proofs []*Proof) ([]*Proof, error)
	RequestDeposit(ctx context.Context, amount uint64) (*MintQuote, error)
	CheckDepositQuoteStatus(ctx context.Context, quote string) (bool, error)
	CompleteDeposit(ctx context.Context, quote string, amount uint64) ([]*Proof, error)
	CreateTokenWithProofs(ctx context.Context, amount uint64, proofs []*Proof) (*TokenResult, error)
	ReceiveToken(ctx context.Context, token string) ([]*Proof, error)
	PayInvoice(ctx context.Context, invoice string, proofs []*Proof) (*PayResult, error)
	GetLightningQuote(ctx context.Context, invoice string) (*MeltQuote, error)
}

type Invoice struct {
	Invoice     string `json:"invoice"`
	PaymentHash string `json:"payment_hash"`
}

type InvoiceStatus struct {
	Paid bool `json:"paid"`
}

// ProxyClient is a remote lightning wallet. Any method may fail with
// ErrProxyTimeout, which leaves the outcome unknown.
type ProxyClient interface {
	GetBalance(ctx context.Context) (uint64, error)
	MakeInvoice(ctx context.Context, amount uint64, memo string) (*Invoice, error)
	LookupInvoice(ctx context.Context, paymentHash string) (*InvoiceStatus, error)
	PayInvoice(ctx context.Context, invoice string) error
}

// ProxyDialer opens a ProxyClient for a validated connection.
type ProxyDialer func(ctx context.Context, conn *Connection) (ProxyClient, error)
