// collar-sim replays a YAML scenario against a fully wired engine set. It is
// the integration surface for the protocol: every run exercises the real
// engines over a real storage backend with a simulated clock and oracle.
package main

import (
	"flag"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"collar/config"
	"collar/core/events"
	"collar/core/state"
	"collar/native/confighub"
	"collar/native/escrow"
	"collar/native/loans"
	"collar/native/oracle"
	"collar/native/provider"
	"collar/native/rolls"
	"collar/native/swap"
	"collar/native/taker"
	"collar/observability"
	"collar/observability/logging"
	"collar/storage"
)

func main() {
	configPath := flag.String("config", "collar.toml", "path to the TOML configuration")
	scenarioPath := flag.String("scenario", "", "path to the YAML scenario to replay")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Setup("collar-sim", "dev").Error("load config", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup("collar-sim", cfg.Environment).With("run", uuid.NewString())

	if *scenarioPath == "" {
		logger.Error("no scenario given, use -scenario")
		os.Exit(1)
	}
	sc, err := LoadScenario(*scenarioPath)
	if err != nil {
		logger.Error("load scenario", "error", err)
		os.Exit(1)
	}

	var db storage.Database
	if cfg.DataDir == "" {
		db = storage.NewMemDB()
	} else {
		ldb, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
		if err != nil {
			logger.Error("open leveldb", "error", err)
			os.Exit(1)
		}
		db = ldb
	}
	defer db.Close()

	if cfg.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddress, mux); err != nil {
				logger.Error("metrics server", "error", err)
			}
		}()
	}

	recorder := events.NewRecorder()
	runner, err := buildRunner(cfg, state.NewManager(db), recorder, logger)
	if err != nil {
		logger.Error("wire engines", "error", err)
		os.Exit(1)
	}

	logger.Info("scenario start", "name", sc.Name, "steps", len(sc.Steps))
	if err := runner.Run(sc); err != nil {
		logger.Error("scenario failed", "error", err)
		os.Exit(1)
	}
	runner.reportBalances(sc)
	logger.Info("scenario complete", "name", sc.Name, "events", len(recorder.Events()))
}

// buildRunner wires the full engine set over one state manager. Vault and
// pool addresses are derived the same way actor addresses are, so scenarios
// can fund the swap pool by name.
func buildRunner(cfg *config.Config, manager *state.Manager, recorder *events.Recorder, logger *slog.Logger) (*Runner, error) {
	owner := actorAddr("owner")
	hub, err := confighub.NewEngine(owner, cfg.HubParams())
	if err != nil {
		return nil, err
	}
	if err := hub.SetUnderlyingSupport(owner, cfg.Underlying, true); err != nil {
		return nil, err
	}
	if err := hub.SetCashSupport(owner, cfg.Cash, true); err != nil {
		return nil, err
	}
	for _, target := range []string{"provider", "taker"} {
		if err := hub.SetPairAuthorized(owner, cfg.Underlying, cfg.Cash, target, true); err != nil {
			return nil, err
		}
	}

	manual := oracle.NewManual(nil)
	swapper := swap.NewOracleSwapper(actorAddr("pool"), cfg.Underlying, cfg.Cash, manual)
	swapper.SetState(manager)
	swapper.SetSlippageBips(cfg.SwapSlippageBips)

	emitter := observability.NewMetricsEmitter(recorder)

	r := &Runner{
		log:        logger,
		manager:    manager,
		oracle:     manual,
		hub:        hub,
		underlying: cfg.Underlying,
		cash:       cfg.Cash,
		now:        time.Now().Unix(),
	}

	r.providers = provider.NewEngine(actorAddr("provider-vault"), cfg.Underlying, cfg.Cash, hub, 1)
	r.takers = taker.NewEngine(actorAddr("taker-vault"), cfg.Underlying, cfg.Cash, hub, manual, r.providers)
	r.escrows = escrow.NewEngine(actorAddr("escrow-vault"), owner, cfg.Underlying, hub, 1)
	r.rolls = rolls.NewEngine(actorAddr("rolls-vault"), cfg.Cash, hub, manual, r.takers, r.providers, 1)

	loansVault := actorAddr("loans-vault")
	r.loans = loans.NewEngine(loansVault, cfg.Underlying, cfg.Cash, hub, manual, swapper, r.takers, r.providers)
	r.loans.SetEscrowLeg(r.escrows)
	r.loans.SetRollsLeg(r.rolls)
	if err := r.escrows.SetLoansAllowed(owner, loansVault, true); err != nil {
		return nil, err
	}

	for _, eng := range []interface {
		SetEmitter(events.Emitter)
		SetNowFunc(func() int64)
	}{r.providers, r.takers, r.escrows, r.rolls, r.loans} {
		eng.SetEmitter(emitter)
		eng.SetNowFunc(r.Now)
	}
	r.providers.SetState(manager)
	r.takers.SetState(manager)
	r.escrows.SetState(manager)
	r.rolls.SetState(manager)
	r.loans.SetState(manager)

	return r, nil
}
