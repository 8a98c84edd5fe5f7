// Package pricing implements the house pricing model for event options.
//
// Prices are independent per option (they are not normalized to sum to 1)
// and always stay strictly inside (0,1) so that payout = stake/probability
// is always defined. All monetary values use shopspring/decimal, never
// float64.
package pricing

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidProbability is returned when a seed probability is outside
	// the open interval (0,1).
	ErrInvalidProbability = errors.New("pricing: probability must be strictly between 0 and 1")

	// ErrInvalidSmoothing is returned when the smoothing weight is not positive.
	ErrInvalidSmoothing = errors.New("pricing: smoothing weight must be positive")

	// MinProbability is the floor applied to every computed price.
	// Prevents division blow-ups in payout computation.
	MinProbability = decimal.NewFromFloat(0.01)

	// MaxProbability is the ceiling applied to every computed price.
	// Keeps every outcome priced as uncertain.
	MaxProbability = decimal.NewFromFloat(0.99)

	// PriceScale is the number of decimal places for probability and
	// payout rounding.
	PriceScale int32 = 8
)

// Model computes an option's live probability from its cumulative traded
// volume. Implementations must be pure functions of their arguments so
// that subtracting volume (trade cancellation) exactly inverts a prior
// update, and must return values inside [MinProbability, MaxProbability].
type Model interface {
	// Probability returns the live price for an option given its admin-set
	// seed probability, the cumulative stake on the option, and the
	// cumulative stake across the whole event.
	Probability(seed, optionVolume, totalVolume decimal.Decimal) decimal.Decimal
}

// Clamp bounds p into [MinProbability, MaxProbability].
func Clamp(p decimal.Decimal) decimal.Decimal {
	if p.LessThan(MinProbability) {
		return MinProbability
	}
	if p.GreaterThan(MaxProbability) {
		return MaxProbability
	}
	return p
}

// ValidateSeed checks that an admin-supplied seed probability is usable.
func ValidateSeed(seed decimal.Decimal) error {
	if seed.LessThanOrEqual(decimal.Zero) || seed.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return ErrInvalidProbability
	}
	return nil
}

// PotentialPayout computes the fixed payout for a stake at the given
// probability snapshot: stake / probability, rounded to PriceScale.
// The caller guarantees probability is in (0,1); Clamp-produced values
// always are.
func PotentialPayout(stake, probability decimal.Decimal) decimal.Decimal {
	return stake.Div(probability).Round(PriceScale)
}

// VolumeWeighted prices each option by its share of traded volume,
// anchored to the seed probability by a smoothing weight s:
//
//	p = (s*seed + optionVolume) / (s + totalVolume)
//
// With no volume the price equals the seed. As stake concentrates on an
// option its price rises toward (but never reaches) 1, and its siblings'
// prices fall toward (but never reach) 0. The formula is a pure function
// of cumulative volumes, so reversing a cancelled trade's volume restores
// the exact pre-trade price.
type VolumeWeighted struct {
	smoothing decimal.Decimal
}

// NewVolumeWeighted creates a volume-weighted model. Higher smoothing →
// prices move less per unit of stake.
func NewVolumeWeighted(smoothing decimal.Decimal) (*VolumeWeighted, error) {
	if smoothing.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidSmoothing
	}
	return &VolumeWeighted{smoothing: smoothing}, nil
}

// Smoothing returns the smoothing weight.
func (m *VolumeWeighted) Smoothing() decimal.Decimal {
	return m.smoothing
}

func (m *VolumeWeighted) Probability(seed, optionVolume, totalVolume decimal.Decimal) decimal.Decimal {
	num := m.smoothing.Mul(seed).Add(optionVolume)
	den := m.smoothing.Add(totalVolume)
	return Clamp(num.Div(den).Round(PriceScale))
}

// Fixed pins every option's price at its seed probability regardless of
// volume. Used for markets where the house sets odds manually.
type Fixed struct{}

func (Fixed) Probability(seed, _, _ decimal.Decimal) decimal.Decimal {
	return Clamp(seed)
}
