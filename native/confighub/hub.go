// Package confighub implements the protocol policy hub: the single authority
// engines consult for asset support, strike/LTV and duration windows, pair
// authorization, protocol fee terms and module pauses.
package confighub

import (
	"errors"
	"strings"
	"sync"

	"collar/native/feemath"
)

var (
	ErrNotOwner         = errors.New("confighub: caller is not the hub owner")
	ErrFeeAPRTooHigh    = errors.New("confighub: fee APR too high")
	ErrInvalidLTVRange  = errors.New("confighub: invalid LTV range")
	ErrInvalidDurations = errors.New("confighub: invalid duration range")
)

// Params holds the governed protocol parameters.
type Params struct {
	ProtocolFeeAPRBips   uint64
	FeeRecipient         [20]byte
	MinDuration          int64
	MaxDuration          int64
	MinLTVBips           uint64
	MaxLTVBips           uint64
	MaxSwapDeviationBips uint64
}

// Validate checks the internal consistency of the parameter set.
func (p Params) Validate() error {
	if p.ProtocolFeeAPRBips > feemath.MaxProtocolFeeAPRBips {
		return ErrFeeAPRTooHigh
	}
	if p.MinLTVBips == 0 || p.MaxLTVBips >= feemath.BipsBase || p.MinLTVBips > p.MaxLTVBips {
		return ErrInvalidLTVRange
	}
	if p.MinDuration <= 0 || p.MinDuration > p.MaxDuration {
		return ErrInvalidDurations
	}
	return nil
}

// Engine is the in-memory policy hub. All mutating calls are restricted to
// the owner recorded at construction.
type Engine struct {
	mu         sync.RWMutex
	owner      [20]byte
	params     Params
	underlying map[string]bool
	cash       map[string]bool
	authorized map[string]bool
	paused     map[string]bool
}

// NewEngine constructs a hub owned by the supplied address.
func NewEngine(owner [20]byte, params Params) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		owner:      owner,
		params:     params,
		underlying: make(map[string]bool),
		cash:       make(map[string]bool),
		authorized: make(map[string]bool),
		paused:     make(map[string]bool),
	}, nil
}

func normalizeAsset(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func pairKey(underlying, cash, target string) string {
	return normalizeAsset(underlying) + "/" + normalizeAsset(cash) + "#" + strings.TrimSpace(target)
}

func (e *Engine) requireOwner(caller [20]byte) error {
	if caller != e.owner {
		return ErrNotOwner
	}
	return nil
}

// SetParams replaces the governed parameter set.
func (e *Engine) SetParams(caller [20]byte, params Params) error {
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if err := params.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.params = params
	return nil
}

// SetUnderlyingSupport flips support for an underlying asset.
func (e *Engine) SetUnderlyingSupport(caller [20]byte, asset string, supported bool) error {
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.underlying[normalizeAsset(asset)] = supported
	return nil
}

// SetCashSupport flips support for a cash asset.
func (e *Engine) SetCashSupport(caller [20]byte, asset string, supported bool) error {
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cash[normalizeAsset(asset)] = supported
	return nil
}

// SetPairAuthorized grants or revokes a module's authorization to operate on
// the asset pair.
func (e *Engine) SetPairAuthorized(caller [20]byte, underlying, cash, target string, authorized bool) error {
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.authorized[pairKey(underlying, cash, target)] = authorized
	return nil
}

// SetPaused pauses or resumes a protocol module.
func (e *Engine) SetPaused(caller [20]byte, module string, paused bool) error {
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused[strings.TrimSpace(module)] = paused
	return nil
}

// IsPaused implements common.PauseView.
func (e *Engine) IsPaused(module string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.paused[strings.TrimSpace(module)]
}

// IsUnderlyingSupported reports whether the underlying asset is enabled.
func (e *Engine) IsUnderlyingSupported(asset string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.underlying[normalizeAsset(asset)]
}

// IsCashSupported reports whether the cash asset is enabled.
func (e *Engine) IsCashSupported(asset string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cash[normalizeAsset(asset)]
}

// IsPairAuthorized reports whether the target module may operate on the pair.
func (e *Engine) IsPairAuthorized(underlying, cash, target string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.authorized[pairKey(underlying, cash, target)]
}

// IsDurationSupported reports whether the duration is inside the governed
// window.
func (e *Engine) IsDurationSupported(duration int64) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return duration >= e.params.MinDuration && duration <= e.params.MaxDuration
}

// IsLTVSupported reports whether the loan-to-value (equivalently, the put
// strike percent) is inside the governed window.
func (e *Engine) IsLTVSupported(ltvBips uint64) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return ltvBips >= e.params.MinLTVBips && ltvBips <= e.params.MaxLTVBips
}

// ProtocolFeeAPR returns the fee APR charged on provider locked amounts.
func (e *Engine) ProtocolFeeAPR() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.params.ProtocolFeeAPRBips
}

// FeeRecipient returns the protocol fee destination. The zero address means
// fee collection is disabled.
func (e *Engine) FeeRecipient() [20]byte {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.params.FeeRecipient
}

// MaxSwapDeviationBips bounds how far a swap result may deviate from the
// oracle reference price.
func (e *Engine) MaxSwapDeviationBips() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.params.MaxSwapDeviationBips
}
