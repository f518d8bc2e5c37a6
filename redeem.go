package scorecard

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/zyedidia/generic/mapset"
)

var tokenPattern = regexp.MustCompile(`cashu[AB][A-Za-z0-9_\-+/=]+`)

// ExtractTokens returns the distinct bearer tokens embedded in text, in
// order of appearance.
func ExtractTokens(text string) []string {
	var (
		out  []string
		seen = mapset.New[string]()
	)

	for _, t := range tokenPattern.FindAllString(text, -1) {
		if seen.Has(t) {
			continue
		}
		seen.Put(t)
		out = append(out, t)
	}

	return out
}

// Redeemer turns a token into local proofs.
type Redeemer interface {
	Receive(ctx context.Context, token string) (*WalletTransaction, error)
}

type RedeemResult struct {
	Token       string
	Transaction *WalletTransaction
	Err         error
}

type RedeemOptions struct {
	// ActiveRound returns the round payments are credited to, if any.
	ActiveRound func() *Round
	// OnPayment runs after a payment was credited to a round player.
	OnPayment func(ctx context.Context, pubkey string)
	// SeenSize bounds the remembered message ids, 1024 when zero.
	SeenSize int
}

// AutoRedeemListener redeems tokens found in inbound direct and sealed
// messages. It is best effort: failures are logged and swallowed.
type AutoRedeemListener struct {
	transport MessageTransport
	wallet    Redeemer
	opts      RedeemOptions
	seen      *lru.Cache

	mu     sync.Mutex
	subs   []MessageSubscription
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewAutoRedeemListener(transport MessageTransport, wallet Redeemer, opts RedeemOptions) (*AutoRedeemListener, error) {
	if opts.SeenSize <= 0 {
		opts.SeenSize = 1024
	}

	seen, err := lru.New(opts.SeenSize)
	if err != nil {
		return nil, err
	}

	return &AutoRedeemListener{
		transport: transport,
		wallet:    wallet,
		opts:      opts,
		seen:      seen,
	}, nil
}

// Start listens on both channels of identity, replacing any previous
// listeners. A channel that cannot be opened is skipped.
func (l *AutoRedeemListener) Start(ctx context.Context, identity string) error {
	l.Stop()

	ctx, cancel := context.WithCancel(ctx)

	var subs []MessageSubscription
	var errs []error

	if sub, err := l.transport.SubscribeDirectMessages(ctx, identity); err != nil {
		slog.Warn("subscribe direct messages failed", slog.Any("err", err))
		errs = append(errs, err)
	} else {
		subs = append(subs, sub)
	}

	if sub, err := l.transport.SubscribeGiftWraps(ctx, identity); err != nil {
		slog.Warn("subscribe gift wraps failed", slog.Any("err", err))
		errs = append(errs, err)
	} else {
		subs = append(subs, sub)
	}

	if len(subs) == 0 {
		cancel()
		return errors.Join(errs...)
	}

	l.mu.Lock()
	l.subs = subs
	l.cancel = cancel
	l.mu.Unlock()

	for _, sub := range subs {
		sub := sub
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.listen(ctx, sub)
		}()
	}

	return nil
}

func (l *AutoRedeemListener) Stop() {
	l.mu.Lock()
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	for _, sub := range l.subs {
		sub.Close()
	}
	l.subs = nil
	l.mu.Unlock()

	l.wg.Wait()
}

func (l *AutoRedeemListener) listen(ctx context.Context, sub MessageSubscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-sub.Messages():
			if !ok {
				return
			}

			_ = l.HandleMessage(ctx, m)
		}
	}
}

// HandleMessage redeems every token in m independently. A message is
// handled once even if both channels deliver it.
func (l *AutoRedeemListener) HandleMessage(ctx context.Context, m *Message) []RedeemResult {
	if m.ID != "" {
		if seen, _ := l.seen.ContainsOrAdd(m.ID, struct{}{}); seen {
			return nil
		}
	}

	tokens := ExtractTokens(m.Content)
	if len(tokens) == 0 {
		return nil
	}

	log := slog.With(slog.String("message", m.ID), slog.String("sender", m.Sender), slog.Bool("sealed", m.Sealed))

	results := make([]RedeemResult, 0, len(tokens))
	for _, token := range tokens {
		tx, err := l.wallet.Receive(ctx, token)
		results = append(results, RedeemResult{Token: token, Transaction: tx, Err: err})
		if err != nil {
			log.Warn("auto redeem failed", slog.Any("err", err))
			redeemAttempts.WithLabelValues("error").Inc()
			continue
		}

		log.Info("auto redeemed token", slog.Uint64("amount", tx.Amount))
		redeemAttempts.WithLabelValues("ok").Inc()
		l.credit(ctx, m.Sender, tx.Amount)
	}

	return results
}

func (l *AutoRedeemListener) credit(ctx context.Context, sender string, amount uint64) {
	if l.opts.ActiveRound == nil {
		return
	}

	round := l.opts.ActiveRound()
	if round == nil || round.Finalized() {
		return
	}

	if err := round.RecordPayment(sender, amount); err != nil {
		slog.Debug("payment not credited to round", slog.String("sender", sender), slog.Any("err", err))
		return
	}

	if l.opts.OnPayment != nil {
		l.opts.OnPayment(ctx, sender)
	}
}
