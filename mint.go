package scorecard

import (
	"fmt"
	"strings"

	"github.com/asaskevich/govalidator"
)

type Mint struct {
	URL      string `json:"url"`
	Nickname string `json:"nickname"`
	IsActive bool   `json:"is_active"`
}

// DefaultMintURL seeds the mint list of a fresh wallet.
const DefaultMintURL = "https://mint.minibits.cash/Bitcoin"

func DefaultMints() []*Mint {
	return []*Mint{
		{URL: DefaultMintURL, Nickname: "Minibits", IsActive: true},
	}
}

func normalizeMintURL(u string) string {
	return strings.TrimRight(strings.TrimSpace(u), "/")
}

func validateMintURL(u string) error {
	if u == "" || !govalidator.IsURL(u) {
		return fmt.Errorf("%w: url %q", ErrInvalidMint, u)
	}

	if !strings.HasPrefix(u, "https://") && !strings.HasPrefix(u, "http://") {
		return fmt.Errorf("%w: url %q must be http(s)", ErrInvalidMint, u)
	}

	return nil
}

// ActiveMint returns the active mint, or nil when none is marked.
func ActiveMint(mints []*Mint) *Mint {
	for _, m := range mints {
		if m.IsActive {
			return m
		}
	}

	return nil
}

func activeMintURL(mints []*Mint) string {
	if m := ActiveMint(mints); m != nil {
		return m.URL
	}

	return ""
}

// normalizeMints keeps at most one active mint (the first one marked) and
// drops duplicate urls.
func normalizeMints(mints []*Mint) []*Mint {
	var (
		out    []*Mint
		seen   = map[string]bool{}
		active bool
	)

	for _, m := range mints {
		if m == nil {
			continue
		}

		u := normalizeMintURL(m.URL)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true

		cp := *m
		cp.URL = u
		if cp.IsActive {
			if active {
				cp.IsActive = false
			}
			active = true
		}

		out = append(out, &cp)
	}

	return out
}

// withActiveMint returns a copy of mints where url is the only active mint,
// adding it when missing.
func withActiveMint(mints []*Mint, url, nickname string) ([]*Mint, error) {
	url = normalizeMintURL(url)
	if err := validateMintURL(url); err != nil {
		return nil, err
	}

	var (
		out   []*Mint
		found bool
	)

	for _, m := range normalizeMints(mints) {
		m.IsActive = m.URL == url
		if m.IsActive {
			found = true
			if nickname != "" {
				m.Nickname = nickname
			}
		}
		out = append(out, m)
	}

	if !found {
		out = append(out, &Mint{URL: url, Nickname: nickname, IsActive: true})
	}

	return out, nil
}

func cloneMints(mints []*Mint) []*Mint {
	if mints == nil {
		return nil
	}

	out := make([]*Mint, len(mints))
	for i, m := range mints {
		cp := *m
		out[i] = &cp
	}

	return out
}
