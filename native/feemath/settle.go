package feemath

import "math/big"

// PriceScale is the fixed-point scale oracle prices are quoted at: the cash
// amount for PriceScale base units of the underlying asset.
var PriceScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// ValidStrikes reports whether the strike percents describe a proper collar:
// put strictly below 100%, call strictly above it and at most the maximum.
func ValidStrikes(putStrikeBips, callStrikeBips uint64) bool {
	return putStrikeBips > 0 && putStrikeBips < BipsBase &&
		callStrikeBips > BipsBase && callStrikeBips <= MaxCallStrikeBips
}

// ProviderLocked derives the provider-side locked amount from the taker's via
// the no-arbitrage strike symmetry: locked = taker * (call - 100%) / (100% -
// put). Truncation slightly favors the provider.
func ProviderLocked(takerLocked *big.Int, putStrikeBips, callStrikeBips uint64) (*big.Int, error) {
	if !ValidStrikes(putStrikeBips, callStrikeBips) {
		return nil, ErrInvalidStrikes
	}
	if takerLocked == nil || takerLocked.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	out := new(big.Int).Mul(takerLocked, new(big.Int).SetUint64(callStrikeBips-BipsBase))
	return out.Quo(out, new(big.Int).SetUint64(BipsBase-putStrikeBips)), nil
}

// StrikePrice converts a strike percent into an absolute price relative to
// the position's starting reference price.
func StrikePrice(startPrice *big.Int, strikeBips uint64) *big.Int {
	if startPrice == nil || startPrice.Sign() <= 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(startPrice, new(big.Int).SetUint64(strikeBips))
	return out.Quo(out, bipsBase)
}

// Settlement splits the combined locked liquidity between the two sides at
// the settlement price. The payoff is a single straight line through the
// start price, clamped at the put and call strike prices:
//
//	settle <= putPrice:  taker 0, provider gains all of takerLocked
//	settle >= callPrice: taker takes all, provider loses providerLocked
//	otherwise:           linear between those bounds
//
// The returned takerBalance is the taker-side withdrawable amount and
// providerDelta is the signed adjustment applied to providerLocked, so that
// takerBalance + (providerLocked + providerDelta) always equals takerLocked +
// providerLocked.
func Settlement(takerLocked, providerLocked, startPrice, settlePrice *big.Int, putStrikeBips, callStrikeBips uint64) (takerBalance, providerDelta *big.Int) {
	tl := big.NewInt(0)
	if takerLocked != nil {
		tl = takerLocked
	}
	pl := big.NewInt(0)
	if providerLocked != nil {
		pl = providerLocked
	}
	putPrice := StrikePrice(startPrice, putStrikeBips)
	callPrice := StrikePrice(startPrice, callStrikeBips)

	price := big.NewInt(0)
	if settlePrice != nil {
		price = new(big.Int).Set(settlePrice)
	}
	if price.Cmp(putPrice) < 0 {
		price = putPrice
	}
	if price.Cmp(callPrice) > 0 {
		price = callPrice
	}

	takerBalance = new(big.Int).Set(tl)
	switch {
	case startPrice == nil || startPrice.Sign() <= 0:
		// Degenerate reference price: no price movement to apply.
	case price.Cmp(startPrice) >= 0:
		// Provider pays the taker's gain, pro rata across the call range.
		callRange := new(big.Int).Sub(callPrice, startPrice)
		if callRange.Sign() > 0 {
			gain := new(big.Int).Mul(pl, new(big.Int).Sub(price, startPrice))
			gain.Quo(gain, callRange)
			takerBalance.Add(takerBalance, gain)
		}
	default:
		// Taker pays the provider's gain, pro rata across the put range.
		putRange := new(big.Int).Sub(startPrice, putPrice)
		if putRange.Sign() > 0 {
			loss := new(big.Int).Mul(tl, new(big.Int).Sub(startPrice, price))
			loss.Quo(loss, putRange)
			takerBalance.Sub(takerBalance, loss)
		}
	}

	providerDelta = new(big.Int).Sub(tl, takerBalance)
	return takerBalance, providerDelta
}

// ConvertToCash prices an underlying amount in the cash asset at the supplied
// oracle price.
func ConvertToCash(underlyingAmount, price *big.Int) *big.Int {
	if underlyingAmount == nil || price == nil || underlyingAmount.Sign() <= 0 || price.Sign() <= 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(underlyingAmount, price)
	return out.Quo(out, PriceScale)
}

// ConvertToUnderlying is the inverse of ConvertToCash.
func ConvertToUnderlying(cashAmount, price *big.Int) *big.Int {
	if cashAmount == nil || price == nil || cashAmount.Sign() <= 0 || price.Sign() <= 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(cashAmount, PriceScale)
	return out.Quo(out, price)
}
