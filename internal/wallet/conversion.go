package wallet

import "github.com/shopspring/decimal"

// ConversionPolicy fixes the points-to-cash exchange. Rate is expressed in
// currency units per point; results are rounded half-even to the minor
// unit so repeated conversions do not drift. The arithmetic assumes a
// two-decimal currency (USD, EUR, NGN and the like); zero-decimal or
// three-decimal currencies need a policy with a different exponent.
type ConversionPolicy struct {
	Rate          decimal.Decimal
	MinimumPoints int64
}

// CashValueMinor returns the minor-unit cash value of the given points.
func (p ConversionPolicy) CashValueMinor(points int64) int64 {
	return decimal.NewFromInt(points).Mul(p.Rate).RoundBank(2).Shift(2).IntPart()
}

// Check validates a conversion request against the policy and the wallet's
// current points. It does not touch any state.
func (p ConversionPolicy) Check(points, available int64) error {
	if points < p.MinimumPoints {
		return ErrBelowMinimum
	}
	if points > available {
		return ErrInsufficientPoints
	}
	return nil
}
