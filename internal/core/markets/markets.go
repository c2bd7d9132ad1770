package markets

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Side is the binary outcome of a prediction market.
type Side string

const (
	Yes Side = "YES"
	No  Side = "NO"
)

// Opposite returns the complementary side.
func (s Side) Opposite() Side {
	if s == Yes {
		return No
	}
	return Yes
}

func (s Side) Valid() bool { return s == Yes || s == No }

// TokenPair holds the two outcome token ids of one binary market plus
// the static exchange parameters order placement needs.
type TokenPair struct {
	ConditionID string
	YesToken    string
	NoToken     string

	// TickSize is the minimum price increment. Zero means unknown;
	// SnapPrice falls back to 0.01.
	TickSize float64
	// NegRisk markets redeem through the neg-risk adapter contract.
	NegRisk bool
}

func (p TokenPair) Token(side Side) (string, error) {
	switch side {
	case Yes:
		return p.YesToken, nil
	case No:
		return p.NoToken, nil
	}
	return "", fmt.Errorf("unknown side %q for market %s", side, p.ConditionID)
}

// SnapPrice rounds a price down onto the market's tick grid and clamps
// it inside the valid (0, 1) open interval. The grid math runs in
// decimal; float division drifts off the grid.
func (p TokenPair) SnapPrice(price float64) float64 {
	tick := p.TickSize
	if tick <= 0 {
		tick = 0.01
	}

	d := decimal.NewFromFloat(price)
	t := decimal.NewFromFloat(tick)
	snapped := d.Div(t).Floor().Mul(t)

	one := decimal.NewFromInt(1)
	if snapped.LessThan(t) {
		snapped = t
	}
	if ceiling := one.Sub(t); snapped.GreaterThan(ceiling) {
		snapped = ceiling
	}
	f, _ := snapped.Float64()
	return f
}
