package scorecard

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// WatchDeposit polls the quote until it is paid and confirms it. Confirming
// is idempotent, so observing "paid" twice credits once.
func WatchDeposit(ctx context.Context, w Wallet, q *DepositQuote, interval time.Duration) (*WalletTransaction, error) {
	log := slog.With(slog.String("quote", q.Quote), slog.Uint64("amount", q.Amount))

	for {
		paid, err := w.CheckDeposit(ctx, q.Quote)
		if err != nil {
			log.Warn("check deposit failed", slog.Any("err", err))
		} else if paid {
			tx, err := w.ConfirmDeposit(ctx, q.Quote, q.Amount)
			if err == nil {
				return tx, nil
			}

			if !errors.Is(err, ErrDepositUnconfirmed) {
				return nil, err
			}

			log.Warn("deposit paid but not confirmed yet", slog.Any("err", err))
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}

type invoiceWatch struct {
	cancel context.CancelFunc
	quote  *DepositQuote
}

// InvoicePoller watches one invoice per player. Each watch stops itself
// once paid and can be stopped on its own.
type InvoicePoller struct {
	wallet   Wallet
	interval time.Duration
	onPaid   func(ctx context.Context, pubkey string, tx *WalletTransaction)

	mu      sync.Mutex
	watches map[string]*invoiceWatch
	wg      sync.WaitGroup
}

func NewInvoicePoller(w Wallet, interval time.Duration, onPaid func(ctx context.Context, pubkey string, tx *WalletTransaction)) *InvoicePoller {
	if interval <= 0 {
		interval = 3 * time.Second
	}

	return &InvoicePoller{
		wallet:   w,
		interval: interval,
		onPaid:   onPaid,
		watches:  map[string]*invoiceWatch{},
	}
}

// Watch starts polling q for pubkey, replacing an earlier watch.
func (p *InvoicePoller) Watch(ctx context.Context, pubkey string, q *DepositQuote) {
	ctx, cancel := context.WithCancel(ctx)
	watch := &invoiceWatch{cancel: cancel, quote: q}

	p.mu.Lock()
	if prev, ok := p.watches[pubkey]; ok {
		prev.cancel()
	}
	p.watches[pubkey] = watch
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.remove(pubkey, watch)

		tx, err := WatchDeposit(ctx, p.wallet, q, p.interval)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				slog.Warn("invoice watch ended", slog.String("player", pubkey), slog.Any("err", err))
			}
			return
		}

		if p.onPaid != nil {
			p.onPaid(ctx, pubkey, tx)
		}
	}()
}

func (p *InvoicePoller) remove(pubkey string, watch *invoiceWatch) {
	p.mu.Lock()
	defer p.mu.Unlock()

	watch.cancel()
	if p.watches[pubkey] == watch {
		delete(p.watches, pubkey)
	}
}

// Invoice returns the invoice being watched for pubkey.
func (p *InvoicePoller) Invoice(pubkey string) (*DepositQuote, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.watches[pubkey]
	if !ok {
		return nil, false
	}

	return w.quote, true
}

func (p *InvoicePoller) Watching(pubkey string) bool {
	_, ok := p.Invoice(pubkey)
	return ok
}

// StopPlayer cancels the watch of pubkey.
func (p *InvoicePoller) StopPlayer(pubkey string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.watches[pubkey]
	if ok {
		w.cancel()
		delete(p.watches, pubkey)
	}

	return ok
}

// Stop cancels every watch and waits for them to end.
func (p *InvoicePoller) Stop() {
	p.mu.Lock()
	for pubkey, w := range p.watches {
		w.cancel()
		delete(p.watches, pubkey)
	}
	p.mu.Unlock()

	p.wg.Wait()
}
