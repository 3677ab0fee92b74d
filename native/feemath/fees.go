// Package feemath holds the pure fee and proration calculators shared by the
// provider, escrow, rolls and loans engines. All fee amounts owed to the
// protocol or to suppliers round up, which is a deliberate policy: rounding
// always protects the fee recipient, never the payer.
package feemath

import (
	"errors"
	"math/big"
)

const (
	// BipsBase is the basis-point denominator: 10_000 == 100%.
	BipsBase = 10_000
	// YearSeconds is the fee accrual year used by every APR formula.
	YearSeconds = 365 * 24 * 60 * 60

	// MaxProtocolFeeAPRBips caps the hub-configured protocol fee APR.
	MaxProtocolFeeAPRBips = 100
	// MaxCallStrikeBips bounds call strikes at 10x the reference price.
	MaxCallStrikeBips = 100_000
	// MaxInterestAPRBips caps escrow offer interest at 100% APR.
	MaxInterestAPRBips = BipsBase
	// MaxLateFeeAPRBips caps escrow late fees at 12x 100% APR.
	MaxLateFeeAPRBips = 12 * BipsBase
	// MaxFeeRefundBips caps the prepaid-interest refund at 95%.
	MaxFeeRefundBips = 9_500
	// MinGracePeriod and MaxGracePeriod bound the escrow seizure window.
	MinGracePeriod = 24 * 60 * 60
	MaxGracePeriod = 30 * 24 * 60 * 60
)

var (
	ErrFeeAPRTooHigh      = errors.New("feemath: fee APR too high")
	ErrInvalidStrikes     = errors.New("feemath: invalid strike percents")
	ErrZeroReferencePrice = errors.New("feemath: zero reference price")
	ErrAmountOverflow     = errors.New("feemath: amount overflows 256 bits")
)

var (
	bipsBase = big.NewInt(BipsBase)
	yearSecs = big.NewInt(YearSeconds)
)

// ceilDiv divides rounding toward positive infinity. A zero numerator or a
// zero denominator yields zero rather than a fault.
func ceilDiv(num, den *big.Int) *big.Int {
	if num == nil || den == nil || num.Sign() == 0 || den.Sign() == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Add(num, new(big.Int).Sub(den, big.NewInt(1)))
	return out.Quo(out, den)
}

// ProtocolFee computes the fee charged when provider liquidity is locked. The
// fee APR applies to the position notional, which is the locked amount scaled
// down by the call strike range, so narrow collars are not overcharged. The
// result always rounds up; a degenerate call strike range yields zero.
func ProtocolFee(amount *big.Int, duration int64, callStrikeBips, aprBips uint64) (*big.Int, error) {
	if aprBips > MaxProtocolFeeAPRBips {
		return nil, ErrFeeAPRTooHigh
	}
	if amount == nil || amount.Sign() == 0 || duration <= 0 || callStrikeBips <= BipsBase {
		return big.NewInt(0), nil
	}
	num := new(big.Int).Mul(amount, new(big.Int).SetUint64(aprBips))
	num.Mul(num, big.NewInt(duration))
	den := new(big.Int).Mul(new(big.Int).SetUint64(callStrikeBips-BipsBase), yearSecs)
	return ceilDiv(num, den), nil
}

// InterestFee computes the up-front escrow interest for the full duration.
func InterestFee(amount *big.Int, duration int64, aprBips uint64) *big.Int {
	if amount == nil || amount.Sign() == 0 || duration <= 0 || aprBips == 0 {
		return big.NewInt(0)
	}
	num := new(big.Int).Mul(amount, new(big.Int).SetUint64(aprBips))
	num.Mul(num, big.NewInt(duration))
	den := new(big.Int).Mul(bipsBase, yearSecs)
	return ceilDiv(num, den)
}

// LateFee computes the overdue penalty on an escrow. No fee accrues while the
// overdue time is within minGrace; beyond that the full overdue time counts,
// clamped at maxGrace.
func LateFee(escrowed *big.Int, lateFeeAPRBips uint64, overdue, minGrace, maxGrace int64) *big.Int {
	if escrowed == nil || escrowed.Sign() == 0 || lateFeeAPRBips == 0 {
		return big.NewInt(0)
	}
	if overdue <= minGrace {
		return big.NewInt(0)
	}
	if overdue > maxGrace {
		overdue = maxGrace
	}
	num := new(big.Int).Mul(escrowed, new(big.Int).SetUint64(lateFeeAPRBips))
	num.Mul(num, big.NewInt(overdue))
	den := new(big.Int).Mul(bipsBase, yearSecs)
	return ceilDiv(num, den)
}

// FeeRefund prorates a held fee over the unexpired part of the window. The
// refund decays linearly with elapsed time, is floored (the truncation favors
// the fee holder), is capped at maxRefundBips of the held fee, and is zero
// once the window has fully elapsed.
func FeeRefund(feeHeld *big.Int, elapsed, window int64, maxRefundBips uint64) *big.Int {
	if feeHeld == nil || feeHeld.Sign() <= 0 || window <= 0 || elapsed >= window {
		return big.NewInt(0)
	}
	if elapsed < 0 {
		elapsed = 0
	}
	refund := new(big.Int).Mul(feeHeld, big.NewInt(window-elapsed))
	refund.Quo(refund, big.NewInt(window))
	cap := new(big.Int).Mul(feeHeld, new(big.Int).SetUint64(maxRefundBips))
	cap.Quo(cap, bipsBase)
	if refund.Cmp(cap) > 0 {
		return cap
	}
	return refund
}

// RollFee adjusts a roll's base fee by the price move since the fee was
// quoted: adjusted = base + base * delta * (newPrice - refPrice) / (BIPS *
// refPrice). All arithmetic is signed; a result that no longer fits in 256
// bits is a hard error rather than a silent clamp.
func RollFee(baseFee *big.Int, deltaFactorBips int64, refPrice, newPrice *big.Int) (*big.Int, error) {
	if refPrice == nil || refPrice.Sign() <= 0 {
		return nil, ErrZeroReferencePrice
	}
	base := big.NewInt(0)
	if baseFee != nil {
		base = new(big.Int).Set(baseFee)
	}
	np := big.NewInt(0)
	if newPrice != nil {
		np = newPrice
	}
	move := new(big.Int).Sub(np, refPrice)
	adj := new(big.Int).Mul(base, big.NewInt(deltaFactorBips))
	adj.Mul(adj, move)
	adj.Quo(adj, new(big.Int).Mul(bipsBase, refPrice))
	out := new(big.Int).Add(base, adj)
	if out.BitLen() > 255 {
		return nil, ErrAmountOverflow
	}
	return out, nil
}

// CappedGracePeriod converts a prepaid fee amount into the overdue time it
// buys at the offer's late fee APR, floored at minGrace and ceiled at
// maxGrace. A zero late fee APR or zero principal buys the full window.
func CappedGracePeriod(feeAvailable, escrowed *big.Int, lateFeeAPRBips uint64, minGrace, maxGrace int64) int64 {
	if escrowed == nil || escrowed.Sign() == 0 || lateFeeAPRBips == 0 {
		return maxGrace
	}
	if feeAvailable == nil || feeAvailable.Sign() <= 0 {
		return minGrace
	}
	num := new(big.Int).Mul(feeAvailable, bipsBase)
	num.Mul(num, yearSecs)
	den := new(big.Int).Mul(escrowed, new(big.Int).SetUint64(lateFeeAPRBips))
	period := new(big.Int).Quo(num, den)
	if !period.IsInt64() || period.Int64() > maxGrace {
		return maxGrace
	}
	if period.Int64() < minGrace {
		return minGrace
	}
	return period.Int64()
}
