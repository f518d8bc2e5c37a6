package scorecard

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func payoutRound(t *testing.T, cfg PayoutConfig, players ...Player) *Round {
	t.Helper()
	return newTestRound(t, RoundSettings{EntryFee: 1000, AceFee: 500, Payout: cfg}, players...)
}

func TestPayouts(t *testing.T) {
	tests := []struct {
		name    string
		cfg     PayoutConfig
		players []Player
		want    PayoutPlan
	}{
		{
			name: "winner takes all, ace carries over",
			players: []Player{
				{PubKey: "a", EntrySelected: true, AceSelected: true, Scores: map[int]int{1: 3}},
				{PubKey: "b", EntrySelected: true, AceSelected: true, Scores: map[int]int{1: 4}},
				{PubKey: "c", EntrySelected: true, Scores: map[int]int{1: 5}},
			},
			want: PayoutPlan{
				Payouts:  []Payout{{PubKey: "a", Amount: 3000, Type: TransactionPayout, Place: 1}},
				AceCarry: 1000,
			},
		},
		{
			name: "tied leaders split, remainder to the first",
			players: []Player{
				{PubKey: "a", EntrySelected: true, Scores: map[int]int{1: 3}},
				{PubKey: "b", EntrySelected: true, Scores: map[int]int{1: 3}},
				{PubKey: "c", EntrySelected: true, Scores: map[int]int{1: 3}},
				{PubKey: "d", EntrySelected: true, Scores: map[int]int{1: 4}},
			},
			want: PayoutPlan{
				Payouts: []Payout{
					{PubKey: "a", Amount: 1334, Type: TransactionPayout, Place: 1},
					{PubKey: "b", Amount: 1333, Type: TransactionPayout, Place: 1},
					{PubKey: "c", Amount: 1333, Type: TransactionPayout, Place: 1},
				},
			},
		},
		{
			name: "non entrants cannot win",
			players: []Player{
				{PubKey: "a", Scores: map[int]int{1: 2}},
				{PubKey: "b", EntrySelected: true, Scores: map[int]int{1: 4}},
			},
			want: PayoutPlan{
				Payouts: []Payout{{PubKey: "b", Amount: 1000, Type: TransactionPayout, Place: 1}},
			},
		},
		{
			name: "ace pot goes to the ace",
			players: []Player{
				{PubKey: "a", EntrySelected: true, AceSelected: true, Scores: map[int]int{1: 3, 2: 3}},
				{PubKey: "b", EntrySelected: true, AceSelected: true, Scores: map[int]int{1: 4, 2: 1}},
				{PubKey: "c", AceSelected: true, Scores: map[int]int{1: 1, 2: 3}},
			},
			want: PayoutPlan{
				Payouts: []Payout{
					{PubKey: "b", Amount: 2000, Type: TransactionPayout, Place: 1},
					{PubKey: "b", Amount: 750, Type: TransactionAcePot, Place: 1},
					{PubKey: "c", Amount: 750, Type: TransactionAcePot, Place: 1},
				},
			},
		},
		{
			name: "percentage top heavy",
			cfg:  PayoutConfig{Mode: PayoutPercentage},
			players: []Player{
				{PubKey: "a", EntrySelected: true, Scores: map[int]int{1: 3}},
				{PubKey: "b", EntrySelected: true, Scores: map[int]int{1: 4}},
				{PubKey: "c", EntrySelected: true, Scores: map[int]int{1: 5}},
				{PubKey: "d", EntrySelected: true, Scores: map[int]int{1: 6}},
			},
			want: PayoutPlan{
				Payouts: []Payout{
					{PubKey: "a", Amount: 2000, Type: TransactionPayout, Place: 1},
					{PubKey: "b", Amount: 1200, Type: TransactionPayout, Place: 2},
					{PubKey: "c", Amount: 800, Type: TransactionPayout, Place: 3},
				},
			},
		},
		{
			name: "percentage tie shares positions",
			cfg:  PayoutConfig{Mode: PayoutPercentage},
			players: []Player{
				{PubKey: "a", EntrySelected: true, Scores: map[int]int{1: 3}},
				{PubKey: "b", EntrySelected: true, Scores: map[int]int{1: 3}},
				{PubKey: "c", EntrySelected: true, Scores: map[int]int{1: 5}},
			},
			want: PayoutPlan{
				Payouts: []Payout{
					{PubKey: "a", Amount: 1200, Type: TransactionPayout, Place: 1},
					{PubKey: "b", Amount: 1200, Type: TransactionPayout, Place: 1},
					{PubKey: "c", Amount: 600, Type: TransactionPayout, Place: 3},
				},
			},
		},
		{
			name: "percentage flat",
			cfg:  PayoutConfig{Mode: PayoutPercentage, Gradient: GradientFlat, Places: 2},
			players: []Player{
				{PubKey: "a", EntrySelected: true, Scores: map[int]int{1: 3}},
				{PubKey: "b", EntrySelected: true, Scores: map[int]int{1: 4}},
				{PubKey: "c", EntrySelected: true, Scores: map[int]int{1: 5}},
			},
			want: PayoutPlan{
				Payouts: []Payout{
					{PubKey: "a", Amount: 1500, Type: TransactionPayout, Place: 1},
					{PubKey: "b", Amount: 1500, Type: TransactionPayout, Place: 2},
				},
			},
		},
		{
			name: "unclaimed ace pot to winner",
			cfg:  PayoutConfig{AceDisposition: AceToWinner},
			players: []Player{
				{PubKey: "a", EntrySelected: true, AceSelected: true, Scores: map[int]int{1: 3}},
				{PubKey: "b", EntrySelected: true, AceSelected: true, Scores: map[int]int{1: 4}},
			},
			want: PayoutPlan{
				Payouts: []Payout{
					{PubKey: "a", Amount: 2000, Type: TransactionPayout, Place: 1},
					{PubKey: "a", Amount: 1000, Type: TransactionAcePot, Place: 1},
				},
			},
		},
		{
			name: "unclaimed ace pot refunded",
			cfg:  PayoutConfig{AceDisposition: AceRefund},
			players: []Player{
				{PubKey: "a", AceSelected: true, Scores: map[int]int{1: 3}},
				{PubKey: "b", AceSelected: true},
			},
			want: PayoutPlan{
				Payouts: []Payout{
					{PubKey: "a", Amount: 500, Type: TransactionAcePot},
					{PubKey: "b", Amount: 500, Type: TransactionAcePot},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := payoutRound(t, tt.cfg, tt.players...)
			got := r.Payouts()

			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Payouts() mismatch (-want +got):\n%s", diff)
			}

			entry, ace := r.Pots()
			assert.Equal(t, entry+ace, got.Total()+got.AceCarry, "pots are fully distributed")
		})
	}
}
