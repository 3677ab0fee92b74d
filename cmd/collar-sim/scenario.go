package main

import (
	"bytes"
	"fmt"
	"log/slog"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/crypto"
	"gopkg.in/yaml.v3"

	"collar/core/state"
	"collar/native/confighub"
	"collar/native/escrow"
	"collar/native/loans"
	"collar/native/oracle"
	"collar/native/provider"
	"collar/native/rolls"
	"collar/native/taker"
)

// Scenario is a replayable script: a set of funded actors and an ordered list
// of protocol operations executed against a simulated clock.
type Scenario struct {
	Name      string    `yaml:"name"`
	StartTime int64     `yaml:"startTime"`
	Accounts  []Funding `yaml:"accounts"`
	Steps     []Step    `yaml:"steps"`
}

// Funding seeds an actor's balance before the first step runs.
type Funding struct {
	Actor  string `yaml:"actor"`
	Asset  string `yaml:"asset"`
	Amount string `yaml:"amount"`
}

// Step is one scripted operation. Which fields apply depends on the action;
// unused fields stay at their zero value. Amounts are decimal strings so
// scenarios can exceed int64 without YAML quoting surprises.
type Step struct {
	Action string `yaml:"action"`
	Actor  string `yaml:"actor"`

	Price   string `yaml:"price"`
	Seconds int64  `yaml:"seconds"`
	Asset   string `yaml:"asset"`
	Amount  string `yaml:"amount"`
	Module  string `yaml:"module"`
	Paused  bool   `yaml:"paused"`

	Offer    uint64 `yaml:"offer"`
	Position uint64 `yaml:"position"`
	Loan     uint64 `yaml:"loan"`
	Roll     uint64 `yaml:"roll"`

	PutStrikeBips  uint64 `yaml:"putStrikeBips"`
	CallStrikeBips uint64 `yaml:"callStrikeBips"`
	Duration       int64  `yaml:"duration"`
	MinLocked      string `yaml:"minLocked"`

	InterestAPRBips uint64 `yaml:"interestAprBips"`
	MaxGracePeriod  int64  `yaml:"maxGracePeriod"`
	LateFeeAPRBips  uint64 `yaml:"lateFeeAprBips"`
	MinEscrow       string `yaml:"minEscrow"`

	Fee                string `yaml:"fee"`
	FeeDeltaFactorBips int64  `yaml:"feeDeltaFactorBips"`
	MinPrice           string `yaml:"minPrice"`
	MaxPrice           string `yaml:"maxPrice"`
	MinToProvider      string `yaml:"minToProvider"`
	Deadline           int64  `yaml:"deadline"`

	MinLoanAmount string `yaml:"minLoanAmount"`
	MinSwapOut    string `yaml:"minSwapOut"`
	EscrowOffer   uint64 `yaml:"escrowOffer"`
	EscrowFee     string `yaml:"escrowFee"`
	MinOut        string `yaml:"minOut"`
	MinToUser     string `yaml:"minToUser"`
}

// LoadScenario reads and decodes a scenario file. Unknown keys are rejected
// so typos in step fields surface immediately.
func LoadScenario(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scenario: read %s: %w", path, err)
	}
	var sc Scenario
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("scenario: decode %s: %w", path, err)
	}
	if len(sc.Steps) == 0 {
		return nil, fmt.Errorf("scenario: %s has no steps", path)
	}
	return &sc, nil
}

// actorAddr derives a stable address from an actor name so scenarios can use
// friendly names while the engines see the usual 20-byte principals.
func actorAddr(name string) [20]byte {
	var addr [20]byte
	copy(addr[:], crypto.Keccak256([]byte("collar/sim/actor/"+name)))
	return addr
}

// Runner drives one scenario against a fully wired engine set.
type Runner struct {
	log     *slog.Logger
	manager *state.Manager
	oracle  *oracle.Manual
	hub     *confighub.Engine

	providers *provider.Engine
	takers    *taker.Engine
	escrows   *escrow.Engine
	rolls     *rolls.Engine
	loans     *loans.Engine

	underlying string
	cash       string
	now        int64
}

// Now is the simulated clock all engines read through SetNowFunc.
func (r *Runner) Now() int64 { return r.now }

func (r *Runner) fund(f Funding) error {
	amount, err := parseAmount(f.Amount)
	if err != nil {
		return fmt.Errorf("fund %s: %w", f.Actor, err)
	}
	addr := actorAddr(f.Actor)
	acct, err := r.manager.GetAccount(addr)
	if err != nil {
		return err
	}
	acct = acct.Ensure(f.Asset)
	acct.Balances[f.Asset] = new(big.Int).Add(acct.Balances[f.Asset], amount)
	return r.manager.PutAccount(addr, acct)
}

// Run executes every step in order, stopping at the first failure.
func (r *Runner) Run(sc *Scenario) error {
	if sc.StartTime > 0 {
		r.now = sc.StartTime
	}
	for _, f := range sc.Accounts {
		if err := r.fund(f); err != nil {
			return err
		}
	}
	for i, step := range sc.Steps {
		if err := r.runStep(step); err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, step.Action, err)
		}
	}
	return nil
}

func (r *Runner) runStep(step Step) error {
	actor := actorAddr(step.Actor)
	switch step.Action {
	case "set-price":
		price, err := parseAmount(step.Price)
		if err != nil {
			return err
		}
		r.oracle.SetPriceAt(r.now, price)
		r.log.Info("price set", "price", price.String())
		return nil

	case "advance":
		r.now += step.Seconds
		r.log.Info("clock advanced", "seconds", step.Seconds, "now", r.now)
		return nil

	case "fund":
		return r.fund(Funding{Actor: step.Actor, Asset: step.Asset, Amount: step.Amount})

	case "pause":
		if err := r.hub.SetPaused(actorAddr("owner"), step.Module, step.Paused); err != nil {
			return err
		}
		r.log.Info("pause flag set", "module", step.Module, "paused", step.Paused)
		return nil

	case "provider-offer":
		amount, err := parseAmount(step.Amount)
		if err != nil {
			return err
		}
		minLocked, err := parseAmount(step.MinLocked)
		if err != nil {
			return err
		}
		id, err := r.providers.CreateOffer(actor, provider.OfferTerms{
			PutStrikeBips:  step.PutStrikeBips,
			CallStrikeBips: step.CallStrikeBips,
			Duration:       step.Duration,
			Amount:         amount,
			MinLocked:      minLocked,
		})
		if err != nil {
			return err
		}
		r.log.Info("provider offer created", "offer", id, "actor", step.Actor)
		return nil

	case "open-position":
		amount, err := parseAmount(step.Amount)
		if err != nil {
			return err
		}
		takerID, providerID, err := r.takers.OpenPairedPosition(actor, amount, step.Offer)
		if err != nil {
			return err
		}
		r.log.Info("position opened", "taker", takerID, "provider", providerID, "actor", step.Actor)
		return nil

	case "settle":
		if err := r.takers.SettlePairedPosition(step.Position); err != nil {
			return err
		}
		r.log.Info("position settled", "position", step.Position)
		return nil

	case "cancel":
		if err := r.takers.CancelPairedPosition(actor, step.Position); err != nil {
			return err
		}
		r.log.Info("position canceled", "position", step.Position, "actor", step.Actor)
		return nil

	case "withdraw-taker":
		amount, err := r.takers.WithdrawFromSettled(actor, step.Position)
		if err != nil {
			return err
		}
		r.log.Info("taker withdrawal", "position", step.Position, "amount", amount.String())
		return nil

	case "withdraw-provider":
		amount, err := r.providers.Withdraw(actor, step.Position)
		if err != nil {
			return err
		}
		r.log.Info("provider withdrawal", "position", step.Position, "amount", amount.String())
		return nil

	case "escrow-offer":
		amount, err := parseAmount(step.Amount)
		if err != nil {
			return err
		}
		minEscrow, err := parseAmount(step.MinEscrow)
		if err != nil {
			return err
		}
		id, err := r.escrows.CreateOffer(actor, escrow.OfferTerms{
			Amount:          amount,
			Duration:        step.Duration,
			InterestAPRBips: step.InterestAPRBips,
			MaxGracePeriod:  step.MaxGracePeriod,
			LateFeeAPRBips:  step.LateFeeAPRBips,
			MinEscrow:       minEscrow,
		})
		if err != nil {
			return err
		}
		r.log.Info("escrow offer created", "offer", id, "actor", step.Actor)
		return nil

	case "roll-offer":
		fee, err := parseAmount(step.Fee)
		if err != nil {
			return err
		}
		minPrice, err := parseAmount(step.MinPrice)
		if err != nil {
			return err
		}
		maxPrice, err := parseAmount(step.MaxPrice)
		if err != nil {
			return err
		}
		minToProvider, err := parseAmount(step.MinToProvider)
		if err != nil {
			return err
		}
		id, err := r.rolls.CreateOffer(actor, step.Position, fee, step.FeeDeltaFactorBips,
			minPrice, maxPrice, minToProvider, r.now+step.Deadline)
		if err != nil {
			return err
		}
		r.log.Info("roll offer created", "offer", id, "actor", step.Actor)
		return nil

	case "execute-roll":
		minToTaker, err := parseAmount(step.MinToUser)
		if err != nil {
			return err
		}
		newTakerID, newProviderID, toTaker, err := r.rolls.ExecuteRoll(actor, step.Roll, minToTaker)
		if err != nil {
			return err
		}
		r.log.Info("roll executed", "roll", step.Roll,
			"newTaker", newTakerID, "newProvider", newProviderID, "toTaker", toTaker.String())
		return nil

	case "open-loan":
		amount, err := parseAmount(step.Amount)
		if err != nil {
			return err
		}
		minLoan, err := parseAmount(step.MinLoanAmount)
		if err != nil {
			return err
		}
		minSwapOut, err := parseAmount(step.MinSwapOut)
		if err != nil {
			return err
		}
		escrowFee, err := parseAmount(step.EscrowFee)
		if err != nil {
			return err
		}
		id, loanAmount, err := r.loans.OpenLoan(actor, amount, minLoan, minSwapOut,
			step.Offer, step.EscrowOffer, escrowFee)
		if err != nil {
			return err
		}
		r.log.Info("loan opened", "loan", id, "actor", step.Actor, "loanAmount", loanAmount.String())
		return nil

	case "close-loan":
		minOut, err := parseAmount(step.MinOut)
		if err != nil {
			return err
		}
		out, err := r.loans.CloseLoan(actor, step.Loan, minOut)
		if err != nil {
			return err
		}
		r.log.Info("loan closed", "loan", step.Loan, "underlyingOut", out.String())
		return nil

	case "roll-loan":
		minToUser, err := parseAmount(step.MinToUser)
		if err != nil {
			return err
		}
		escrowFee, err := parseAmount(step.EscrowFee)
		if err != nil {
			return err
		}
		newID, toUser, err := r.loans.RollLoan(actor, step.Loan, step.Roll, minToUser,
			step.EscrowOffer, escrowFee)
		if err != nil {
			return err
		}
		r.log.Info("loan rolled", "loan", step.Loan, "newLoan", newID, "toUser", toUser.String())
		return nil

	case "unwrap-loan":
		if err := r.loans.UnwrapAndCancelLoan(actor, step.Loan); err != nil {
			return err
		}
		r.log.Info("loan unwrapped", "loan", step.Loan, "actor", step.Actor)
		return nil

	case "balance":
		asset := step.Asset
		if asset == "" {
			asset = r.cash
		}
		acct, err := r.manager.GetAccount(actor)
		if err != nil {
			return err
		}
		r.log.Info("balance", "actor", step.Actor, "asset", asset,
			"amount", acct.Balance(asset).String())
		return nil

	default:
		return fmt.Errorf("unknown action %q", step.Action)
	}
}

// reportBalances logs the final balance of every funded actor.
func (r *Runner) reportBalances(sc *Scenario) {
	for _, f := range sc.Accounts {
		acct, err := r.manager.GetAccount(actorAddr(f.Actor))
		if err != nil {
			continue
		}
		r.log.Info("final balance", "actor", f.Actor, "asset", f.Asset,
			"amount", acct.Balance(f.Asset).String())
	}
}

func parseAmount(s string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}
