// Package swap provides the pluggable asset swapper used by the loans engine.
// OracleSwapper is the simulation implementation: it fills at the oracle
// price shaded by a configurable slippage, against a pool account that must
// be funded with both assets.
package swap

import (
	"errors"
	"math/big"

	"collar/core/types"
	"collar/native/feemath"
)

var (
	ErrNilState            = errors.New("swap: state not configured")
	ErrNoPrice             = errors.New("swap: oracle price unavailable")
	ErrInvalidAmount       = errors.New("swap: amount must be positive")
	ErrSlippageExceeded    = errors.New("swap: output below minimum")
	ErrUnsupportedPair     = errors.New("swap: unsupported asset pair")
	ErrInsufficientBalance = errors.New("swap: insufficient balance")
)

// PriceOracle supplies the fill reference price.
type PriceOracle interface {
	CurrentPrice() (*big.Int, error)
}

type swapperState interface {
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, acct *types.Account) error
}

// OracleSwapper fills swaps between one underlying/cash pair at the oracle
// price minus slippage. The pool account is the counterparty on every fill.
type OracleSwapper struct {
	state        swapperState
	oracle       PriceOracle
	pool         [20]byte
	underlying   string
	cash         string
	slippageBips uint64
}

// NewOracleSwapper constructs a swapper for the asset pair backed by the pool
// account.
func NewOracleSwapper(pool [20]byte, underlying, cash string, oracle PriceOracle) *OracleSwapper {
	return &OracleSwapper{
		oracle:     oracle,
		pool:       pool,
		underlying: underlying,
		cash:       cash,
	}
}

// SetState wires the swapper to the external persistence layer.
func (s *OracleSwapper) SetState(state swapperState) { s.state = state }

// SetSlippageBips shades every fill against the trader by the given basis
// points, to exercise deviation handling in callers.
func (s *OracleSwapper) SetSlippageBips(bips uint64) { s.slippageBips = bips }

// PoolAddress returns the counterparty account.
func (s *OracleSwapper) PoolAddress() [20]byte { return s.pool }

// Swap converts amountIn of assetIn held by from into assetOut at the oracle
// price, shaded by the configured slippage. Returns the output amount.
func (s *OracleSwapper) Swap(from [20]byte, assetIn, assetOut string, amountIn, minAmountOut *big.Int) (*big.Int, error) {
	if s.state == nil {
		return nil, ErrNilState
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	price, err := s.oracle.CurrentPrice()
	if err != nil {
		return nil, err
	}
	if price == nil || price.Sign() <= 0 {
		return nil, ErrNoPrice
	}
	var out *big.Int
	switch {
	case assetIn == s.underlying && assetOut == s.cash:
		out = feemath.ConvertToCash(amountIn, price)
	case assetIn == s.cash && assetOut == s.underlying:
		out = feemath.ConvertToUnderlying(amountIn, price)
	default:
		return nil, ErrUnsupportedPair
	}
	if s.slippageBips > 0 {
		shave := new(big.Int).Mul(out, new(big.Int).SetUint64(s.slippageBips))
		shave.Quo(shave, big.NewInt(feemath.BipsBase))
		out.Sub(out, shave)
	}
	if minAmountOut != nil && out.Cmp(minAmountOut) < 0 {
		return nil, ErrSlippageExceeded
	}
	if err := s.transfer(from, s.pool, assetIn, amountIn); err != nil {
		return nil, err
	}
	if err := s.transfer(s.pool, from, assetOut, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *OracleSwapper) transfer(from, to [20]byte, asset string, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	fromAcc, err := s.state.GetAccount(from)
	if err != nil {
		return err
	}
	toAcc, err := s.state.GetAccount(to)
	if err != nil {
		return err
	}
	fromAcc = fromAcc.Ensure(asset)
	toAcc = toAcc.Ensure(asset)
	if fromAcc.Balances[asset].Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	fromAcc.Balances[asset] = new(big.Int).Sub(fromAcc.Balances[asset], amount)
	toAcc.Balances[asset] = new(big.Int).Add(toAcc.Balances[asset], amount)
	if err := s.state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return s.state.PutAccount(to, toAcc)
}
