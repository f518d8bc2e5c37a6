package scorecard

import (
	"sort"

	"github.com/zyedidia/generic/mapset"
)

// Proof is a bearer token unit issued by a mint. Two proofs are the same
// proof when their secrets match.
type Proof struct {
	ID     string `json:"id"`
	Amount uint64 `json:"amount"`
	Secret string `json:"secret"`
	C      string `json:"C"`
	// Mint is the url of the issuing mint.
	Mint string `json:"mint,omitempty"`
}

func (p *Proof) clone() *Proof {
	cp := *p
	return &cp
}

// less orders proofs sharing a secret so conflict resolution does not
// depend on argument order.
func (p *Proof) less(o *Proof) bool {
	if p.C != o.C {
		return p.C < o.C
	}

	if p.ID != o.ID {
		return p.ID < o.ID
	}

	if p.Mint != o.Mint {
		return p.Mint < o.Mint
	}

	return p.Amount < o.Amount
}

// Balance sums the denominations of proofs.
func Balance(proofs []*Proof) uint64 {
	var sum uint64
	for _, p := range proofs {
		sum += p.Amount
	}

	return sum
}

// Dedupe returns the union of a and b with a single copy of every secret,
// ordered by secret.
func Dedupe(a, b []*Proof) []*Proof {
	bySecret := make(map[string]*Proof, len(a)+len(b))
	for _, set := range [][]*Proof{a, b} {
		for _, p := range set {
			if p == nil {
				continue
			}

			if cur, ok := bySecret[p.Secret]; ok && !p.less(cur) {
				continue
			}

			bySecret[p.Secret] = p
		}
	}

	out := make([]*Proof, 0, len(bySecret))
	for _, p := range bySecret {
		out = append(out, p.clone())
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Secret < out[j].Secret })
	return out
}

// subtractProofs returns the proofs in set whose secret is not in removed,
// keeping the order of set.
func subtractProofs(set, removed []*Proof) []*Proof {
	secrets := mapset.New[string]()
	for _, p := range removed {
		secrets.Put(p.Secret)
	}

	out := make([]*Proof, 0, len(set))
	for _, p := range set {
		if !secrets.Has(p.Secret) {
			out = append(out, p)
		}
	}

	return out
}

// proofsOfMint returns the proofs issued by the mint at url.
func proofsOfMint(proofs []*Proof, url string) []*Proof {
	var out []*Proof
	for _, p := range proofs {
		if p.Mint == url {
			out = append(out, p)
		}
	}

	return out
}

// tagProofs assigns proofs without a mint to the mint at url.
func tagProofs(proofs []*Proof, url string) {
	for _, p := range proofs {
		if p.Mint == "" {
			p.Mint = url
		}
	}
}

func cloneProofs(proofs []*Proof) []*Proof {
	if proofs == nil {
		return nil
	}

	out := make([]*Proof, len(proofs))
	for i, p := range proofs {
		out[i] = p.clone()
	}

	return out
}
