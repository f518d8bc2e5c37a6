package scorecard

import (
	"github.com/shopspring/decimal"
)

var topHeavyWeights = []int64{50, 30, 20}

// Pots sums each player's own fee selections.
func (r *Round) Pots() (entry, ace uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.players {
		if p.EntrySelected {
			entry += r.settings.EntryFee
		}
		if p.AceSelected {
			ace += r.settings.AceFee
		}
	}

	return entry, ace
}

type Payout struct {
	PubKey string          `json:"pubkey"`
	Amount uint64          `json:"amount"`
	Type   TransactionType `json:"type"`
	Place  int             `json:"place,omitempty"`
}

type PayoutPlan struct {
	Payouts []Payout `json:"payouts"`
	// AceCarry is the ace pot kept for the next round.
	AceCarry uint64 `json:"ace_carry"`
}

// Total is everything the plan pays out.
func (p PayoutPlan) Total() uint64 {
	var sum uint64
	for _, v := range p.Payouts {
		sum += v.Amount
	}

	return sum
}

// Payouts distributes both pots over the current standings. Only players
// who bought into a pot can win it.
func (r *Round) Payouts() PayoutPlan {
	settings := r.Settings()
	players := r.Players()
	entryPot, acePot := r.Pots()

	var entrants, aceEntrants []*Player
	for _, p := range players {
		if p.EntrySelected {
			entrants = append(entrants, p)
		}
		if p.AceSelected {
			aceEntrants = append(aceEntrants, p)
		}
	}

	var plan PayoutPlan
	ranked := standings(entrants)
	if entryPot > 0 && len(ranked) > 0 {
		plan.Payouts = append(plan.Payouts, distributeEntry(entryPot, ranked, settings.Payout)...)
	}

	if acePot == 0 {
		return plan
	}

	var aces []Standing
	for _, p := range aceEntrants {
		if p.Aced() {
			aces = append(aces, Standing{PubKey: p.PubKey, Total: p.Total, Place: 1})
		}
	}

	switch {
	case len(aces) > 0:
		plan.Payouts = append(plan.Payouts, split(acePot, aces, TransactionAcePot)...)
	case settings.Payout.AceDisposition == AceToWinner && len(ranked) > 0:
		plan.Payouts = append(plan.Payouts, split(acePot, leaders(ranked), TransactionAcePot)...)
	case settings.Payout.AceDisposition == AceRefund:
		for _, p := range aceEntrants {
			plan.Payouts = append(plan.Payouts, Payout{PubKey: p.PubKey, Amount: settings.AceFee, Type: TransactionAcePot})
		}
	default:
		plan.AceCarry = acePot
	}

	return plan
}

func leaders(ranked []Standing) []Standing {
	var out []Standing
	for _, s := range ranked {
		if s.Place == 1 {
			out = append(out, s)
		}
	}

	return out
}

// split divides pot evenly, the remainder going to the first winner.
func split(pot uint64, winners []Standing, typ TransactionType) []Payout {
	n := uint64(len(winners))
	share, rest := pot/n, pot%n

	out := make([]Payout, len(winners))
	for i, w := range winners {
		out[i] = Payout{PubKey: w.PubKey, Amount: share, Type: typ, Place: w.Place}
	}
	out[0].Amount += rest

	return out
}

func distributeEntry(pot uint64, ranked []Standing, cfg PayoutConfig) []Payout {
	if cfg.Mode != PayoutPercentage {
		return split(pot, leaders(ranked), TransactionPayout)
	}

	places := cfg.Places
	if places <= 0 {
		places = len(topHeavyWeights)
	}
	if places > len(ranked) {
		places = len(ranked)
	}

	weights := make([]decimal.Decimal, places)
	for i := range weights {
		if cfg.Gradient == GradientFlat || i >= len(topHeavyWeights) {
			weights[i] = decimal.NewFromInt(1)
		} else {
			weights[i] = decimal.NewFromInt(topHeavyWeights[i])
		}
	}

	// tied players share the weights of the positions they occupy
	shares := make([]decimal.Decimal, len(ranked))
	for i := 0; i < len(ranked); {
		j := i
		for j < len(ranked) && ranked[j].Place == ranked[i].Place {
			j++
		}

		sum := decimal.Zero
		for k := i; k < j && k < places; k++ {
			sum = sum.Add(weights[k])
		}

		each := sum.Div(decimal.NewFromInt(int64(j - i)))
		for k := i; k < j; k++ {
			shares[k] = each
		}
		i = j
	}

	total := decimal.Zero
	for _, w := range weights {
		total = total.Add(w)
	}

	potDec := decimal.NewFromInt(int64(pot))
	var (
		out  []Payout
		paid uint64
	)
	for i, s := range ranked {
		if !shares[i].IsPositive() {
			continue
		}

		amount := uint64(potDec.Mul(shares[i]).Div(total).Floor().IntPart())
		paid += amount
		out = append(out, Payout{PubKey: s.PubKey, Amount: amount, Type: TransactionPayout, Place: s.Place})
	}

	if len(out) > 0 {
		out[0].Amount += pot - paid
	}

	return out
}
