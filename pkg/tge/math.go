package tge

import (
	"github.com/holiman/uint256"
)

var rateScale = uint256.NewInt(RateScale)

// RequiredCurrency returns the minimum currency pledge for the given points
// at the given rate: ceil(points * rate / RateScale). The product is taken
// at 256 bits, so the full uint64 range of both operands is representable.
func RequiredCurrency(points, rate uint64) *uint256.Int {
	num := new(uint256.Int).Mul(uint256.NewInt(points), uint256.NewInt(rate))
	rem := new(uint256.Int)
	q, _ := num.DivMod(num, rateScale, rem)
	if !rem.IsZero() {
		q.AddUint64(q, 1)
	}
	return q
}

// ScoreDelta returns the blended score contribution of one commit:
// currencyAmount + points * PointsWeight.
func ScoreDelta(currency, points uint64) *uint256.Int {
	d := new(uint256.Int).Mul(uint256.NewInt(points), uint256.NewInt(PointsWeight))
	return d.AddUint64(d, currency)
}

// ClaimAmount returns the pro-rata token allocation for a participant:
// floor(userScore * poolSize / totalScore). The numerator is computed at
// 256 bits; a quotient beyond uint64 reports ErrArithmeticOverflow, which is
// unreachable while userScore <= totalScore.
func ClaimAmount(userScore *uint256.Int, poolSize uint64, totalScore *uint256.Int) (uint64, error) {
	if totalScore == nil || totalScore.IsZero() {
		return 0, ErrNoDistribution
	}
	num, overflow := new(uint256.Int).MulOverflow(userScore, uint256.NewInt(poolSize))
	if overflow {
		return 0, ErrArithmeticOverflow
	}
	q := num.Div(num, totalScore)
	if !q.IsUint64() {
		return 0, ErrArithmeticOverflow
	}
	return q.Uint64(), nil
}

// addUint64 adds two counters with overflow detection.
func addUint64(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, ErrArithmeticOverflow
	}
	return sum, nil
}
