package main

import (
	"context"
	"fmt"

	"github.com/onchain-discgolf/scorecard"
)

// offlineMint backs the daemon when no mint protocol library is linked.
// Stored proofs stay as they are; every money moving call fails.
type offlineMint struct{}

var errOffline = fmt.Errorf("%w: no mint backend linked", scorecard.ErrUnsupported)

func (offlineMint) Connect(ctx context.Context, mintURL string) error {
	return nil
}

func (offlineMint) VerifyProofs(ctx context.Context, proofs []*scorecard.Proof) ([]*scorecard.Proof, error) {
	return nil, errOffline
}

func (offlineMint) RequestDeposit(ctx context.Context, amount uint64) (*scorecard.MintQuote, error) {
	return nil, errOffline
}

func (offlineMint) CheckDepositQuoteStatus(ctx context.Context, quote string) (bool, error) {
	return false, errOffline
}

func (offlineMint) CompleteDeposit(ctx context.Context, quote string, amount uint64) ([]*scorecard.Proof, error) {
	return nil, errOffline
}

func (offlineMint) CreateTokenWithProofs(ctx context.Context, amount uint64, proofs []*scorecard.Proof) (*scorecard.TokenResult, error) {
	return nil, errOffline
}

func (offlineMint) ReceiveToken(ctx context.Context, token string) ([]*scorecard.Proof, error) {
	return nil, errOffline
}

func (offlineMint) PayInvoice(ctx context.Context, invoice string, proofs []*scorecard.Proof) (*scorecard.PayResult, error) {
	return nil, errOffline
}

func (offlineMint) GetLightningQuote(ctx context.Context, invoice string) (*scorecard.MeltQuote, error) {
	return nil, errOffline
}
