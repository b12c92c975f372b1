package main

import (
	"context"
	"errors"
	"flag"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/cellfoundry/tissue-simulator/config"
	"github.com/cellfoundry/tissue-simulator/core"
	"github.com/cellfoundry/tissue-simulator/internal/diffusion"
	"github.com/cellfoundry/tissue-simulator/internal/logging"
	"github.com/cellfoundry/tissue-simulator/internal/observability"
	"github.com/cellfoundry/tissue-simulator/internal/persistence/sqlite"
	"github.com/cellfoundry/tissue-simulator/timectrl"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML simulation config (defaults are used when empty)")
	networkPath := flag.String("network", "", "Path to a JSON gene network definition (overrides config)")
	steps := flag.Int("steps", 0, "Number of engine steps to run (overrides config)")
	seed := flag.Int64("seed", 0, "Random seed (overrides config; 0 seeds from the clock)")
	metricsAddr := flag.String("metrics-addr", ":9090", "HTTP address for Prometheus /metrics (empty disables)")
	snapshotPath := flag.String("snapshot-db", "", "Path to a sqlite snapshot database (overrides config)")
	flag.Parse()

	log := logging.NewFromEnv()
	ctx, runID := logging.EnsureRunID(context.Background())
	log = log.With(logging.String("run_id", runID))

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Error(ctx, "failed to load config", logging.String("path", *configPath), logging.String("error", err.Error()))
			os.Exit(1)
		}
		cfg = loaded
	}
	if *networkPath != "" {
		cfg.Network.Path = *networkPath
	}
	if *steps > 0 {
		cfg.Steps = *steps
	}
	if *seed != 0 {
		cfg.Seed = *seed
	}
	if *snapshotPath != "" {
		cfg.Snapshot.Path = *snapshotPath
	}
	if err := cfg.Validate(); err != nil {
		log.Error(ctx, "invalid config", logging.String("error", err.Error()))
		os.Exit(1)
	}
	if cfg.Network.Path == "" {
		log.Error(ctx, "no gene network definition configured")
		os.Exit(1)
	}

	runSeed := cfg.Seed
	if runSeed == 0 {
		runSeed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(runSeed))

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.String("error", err.Error()))
		os.Exit(1)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewSimCollector(nil)
	if err != nil {
		log.Error(ctx, "failed to initialise metrics collector", logging.String("error", err.Error()))
		os.Exit(1)
	}
	metricsSrv := serveMetrics(*metricsAddr, collector, log)

	template, err := loadNetwork(cfg.Network.Path, rng, log)
	if err != nil {
		log.Error(ctx, "failed to load gene network", logging.String("path", cfg.Network.Path), logging.String("error", err.Error()))
		os.Exit(1)
	}
	template.SetEvalErrorFunc(func(node string, evalErr error) {
		log.Warn(ctx, "gene rule evaluation failed",
			logging.String("node", node),
			logging.String("error", evalErr.Error()),
		)
		collector.IncRuleEvalErrors()
	})

	envModel, err := core.NewEnvironmentModel(cfg.GeneInputs)
	if err != nil {
		log.Error(ctx, "invalid gene input associations", logging.String("error", err.Error()))
		os.Exit(1)
	}

	popCfg, err := cfg.PopulationConfig()
	if err != nil {
		log.Error(ctx, "invalid population config", logging.String("error", err.Error()))
		os.Exit(1)
	}

	var cellOpts []core.CellOption
	if cfg.Cell.Metabolism == "saturating" {
		cellOpts = append(cellOpts, core.WithMetabolismPolicy(&core.SaturatingMetabolismPolicy{Params: popCfg.Cell}))
	}

	pop, err := core.NewCellPopulation(popCfg, template, envModel, rng, cellOpts...)
	if err != nil {
		log.Error(ctx, "failed to construct population", logging.String("error", err.Error()))
		os.Exit(1)
	}
	for _, s := range cfg.SeedPositions() {
		if !pop.AddCell(s.Position, s.Phenotype) {
			log.Warn(ctx, "seed site rejected", logging.String("position", s.Position.String()))
		}
	}

	solver, err := diffusion.New(diffusion.FromParams(cfg.Lattice.Width, cfg.Lattice.Height, cfg.Lattice.Depth, cfg.Substances))
	if err != nil {
		log.Error(ctx, "failed to construct diffusion solver", logging.String("error", err.Error()))
		os.Exit(1)
	}
	pop.SetSubstanceConcentrations(solver.SubstanceConcentrations())

	orch := timectrl.New(cfg.TimescaleConfig())
	engine := core.NewSimulationEngine(pop, solver, orch,
		core.WithEngineLogger(log),
		core.WithMetricsRecorder(collector),
	)

	var store *sqlite.Store
	if cfg.Snapshot.Path != "" {
		var genes []string
		for name := range template.States() {
			genes = append(genes, name)
		}
		store, err = sqlite.NewStore(cfg.Snapshot.Path, genes)
		if err != nil {
			log.Error(ctx, "failed to open snapshot store", logging.String("path", cfg.Snapshot.Path), logging.String("error", err.Error()))
			os.Exit(1)
		}
		defer func() { _ = store.Close() }()

		every := cfg.Snapshot.EverySteps
		engine.RegisterTickListener(func(r core.StepReport) {
			if every <= 0 || r.Step%every != 0 {
				return
			}
			if err := store.WriteSnapshot(pop.Records(r.Step)); err != nil {
				log.Warn(ctx, "snapshot write failed", logging.Int("step", r.Step), logging.String("error", err.Error()))
			}
		})
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	log.Info(ctx, "starting simulation",
		logging.String("name", cfg.Name),
		logging.Int("steps", cfg.Steps),
		logging.Int("initial_cells", pop.TotalCells()),
		logging.Any("seed", runSeed),
	)
	start := time.Now()
	runErr := engine.Run(runCtx, cfg.Steps)
	elapsed := time.Since(start)

	if store != nil {
		if err := store.WriteSnapshot(pop.Records(orch.State().CurrentStep)); err != nil {
			log.Warn(ctx, "final snapshot write failed", logging.String("error", err.Error()))
		}
	}

	stats := pop.GetPopulationStatistics()
	log.Info(ctx, "simulation finished",
		logging.Int("cells", stats.TotalCells),
		logging.Int("generations", stats.GenerationCount),
		logging.Float64("average_age", stats.AverageAge),
		logging.Float64("occupancy", stats.GridOccupancy),
		logging.String("elapsed", elapsed.String()),
	)
	for phenotype, n := range stats.PhenotypeCounts {
		log.Info(ctx, "phenotype count", logging.String("phenotype", phenotype.String()), logging.Int("cells", n))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error(ctx, "simulation aborted", logging.String("error", runErr.Error()))
		os.Exit(1)
	}
}

func loadNetwork(path string, rng *rand.Rand, log logging.Logger) (*core.GeneRegulatoryNetwork, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	def, err := core.LoadNetworkDefinition(f)
	if err != nil {
		return nil, err
	}
	return core.BuildGeneNetwork(def, rng, log)
}

func serveMetrics(addr string, collector *observability.SimCollector, log logging.Logger) *http.Server {
	if addr == "" || collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.String("error", err.Error()))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
