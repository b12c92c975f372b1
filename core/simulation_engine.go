package core

import (
	"context"
	"fmt"
	"time"

	"github.com/cellfoundry/tissue-simulator/internal/logging"
	"github.com/cellfoundry/tissue-simulator/timectrl"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MetricsRecorder is the narrow metrics surface the engine drives. The
// Prometheus-backed implementation lives in internal/observability; a
// no-op recorder is substituted when none is provided.
type MetricsRecorder interface {
	ObserveProcessDuration(class string, d time.Duration)
	SetPopulationCounts(total int, byPhenotype map[string]int)
	AddGenerations(n int)
	IncRuleEvalErrors()
}

type noopRecorder struct{}

func (noopRecorder) ObserveProcessDuration(string, time.Duration) {}
func (noopRecorder) SetPopulationCounts(int, map[string]int)      {}
func (noopRecorder) AddGenerations(int)                           {}
func (noopRecorder) IncRuleEvalErrors()                           {}

// StepReport summarises one engine step: which process classes fired,
// what the population did, and how long each phase took.
type StepReport struct {
	Step  int
	Time  float64
	Fired timectrl.Decision

	TotalCells   int
	RemovedCells int
	Migrations   int
	Divisions    int

	PhaseSeconds map[timectrl.ProcessClass]float64
	TotalSeconds float64
}

// SimulationEngine is the composition root: it asks the orchestrator
// which process classes fire on each step and drives the population and
// the diffusion collaborator accordingly.
type SimulationEngine struct {
	Population   *CellPopulation
	Solver       DiffusionSolver
	Orchestrator *timectrl.Orchestrator

	log     logging.Logger
	metrics MetricsRecorder
	tracer  trace.Tracer

	tickListeners []func(StepReport)
	reports       []StepReport
}

// EngineOption customises engine construction.
type EngineOption func(*SimulationEngine)

// WithEngineLogger sets the engine's logger.
func WithEngineLogger(log logging.Logger) EngineOption {
	return func(e *SimulationEngine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithMetricsRecorder sets the engine's metrics sink.
func WithMetricsRecorder(m MetricsRecorder) EngineOption {
	return func(e *SimulationEngine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// NewSimulationEngine wires a population, a diffusion collaborator, and
// a timescale orchestrator into a runnable engine.
func NewSimulationEngine(pop *CellPopulation, solver DiffusionSolver, orch *timectrl.Orchestrator, opts ...EngineOption) *SimulationEngine {
	e := &SimulationEngine{
		Population:   pop,
		Solver:       solver,
		Orchestrator: orch,
		log:          logging.Noop(),
		metrics:      noopRecorder{},
		tracer:       otel.Tracer("tissue-simulator/engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterTickListener adds a callback invoked after every completed
// step with that step's report.
func (e *SimulationEngine) RegisterTickListener(fn func(StepReport)) {
	if fn != nil {
		e.tickListeners = append(e.tickListeners, fn)
	}
}

// Reports returns a copy of the per-step time series accumulated so far.
func (e *SimulationEngine) Reports() []StepReport {
	out := make([]StepReport, len(e.reports))
	copy(out, e.reports)
	return out
}

// Run advances the simulation by the given number of steps. It returns
// early on context cancellation or on a configuration-integrity error;
// expression-evaluation errors never abort a run.
func (e *SimulationEngine) Run(ctx context.Context, steps int) error {
	if e.Population == nil {
		return fmt.Errorf("run simulation: nil population")
	}
	if e.Solver == nil {
		return fmt.Errorf("run simulation: nil diffusion solver")
	}
	if e.Orchestrator == nil {
		e.Orchestrator = timectrl.New(timectrl.Config{})
	}

	for step := 0; step < steps; step++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := e.runStep(ctx, step); err != nil {
			return err
		}
	}
	return nil
}

func (e *SimulationEngine) runStep(ctx context.Context, step int) error {
	decision := e.Orchestrator.Step(step)
	report := StepReport{
		Step:         step,
		Time:         e.Orchestrator.State().CurrentTime,
		Fired:        decision,
		PhaseSeconds: make(map[timectrl.ProcessClass]float64, len(timectrl.ProcessClasses)),
	}
	stepStart := time.Now()

	// Intracellular runs first: metabolism produces the reaction terms
	// the diffusion phase consumes, and phenotypes gate the
	// intercellular phase.
	if decision.Intracellular {
		elapsed, err := e.runPhase(ctx, timectrl.Intracellular, step, func(ctx context.Context) error {
			e.Population.UpdateIntracellularProcesses(e.Orchestrator.Dt())
			if err := e.Population.UpdateGeneNetworks(e.Solver.SubstanceConcentrations()); err != nil {
				return fmt.Errorf("update gene networks: %w", err)
			}
			e.Population.UpdatePhenotypes()
			report.RemovedCells = e.Population.RemoveDeadCells()
			return nil
		})
		report.PhaseSeconds[timectrl.Intracellular] = elapsed.Seconds()
		if err != nil {
			e.log.Error(ctx, "intracellular update failed",
				logging.Int("step", step),
				logging.String("error", err.Error()),
			)
			return err
		}
	}

	if decision.Diffusion {
		elapsed, err := e.runPhase(ctx, timectrl.Diffusion, step, func(ctx context.Context) error {
			reactions := e.Population.GetSubstanceReactions(e.Solver.SubstanceConcentrations())
			if err := e.Solver.Update(reactions); err != nil {
				return fmt.Errorf("diffusion solve: %w", err)
			}
			e.Population.SetSubstanceConcentrations(e.Solver.SubstanceConcentrations())
			return nil
		})
		report.PhaseSeconds[timectrl.Diffusion] = elapsed.Seconds()
		if err != nil {
			e.log.Error(ctx, "diffusion update failed",
				logging.Int("step", step),
				logging.String("error", err.Error()),
			)
			return err
		}
	}

	if decision.Intercellular {
		elapsed, _ := e.runPhase(ctx, timectrl.Intercellular, step, func(ctx context.Context) error {
			report.Migrations, report.Divisions = e.Population.UpdateIntercellularProcesses()
			return nil
		})
		report.PhaseSeconds[timectrl.Intercellular] = elapsed.Seconds()
		e.metrics.AddGenerations(report.Divisions)
	}

	report.TotalSeconds = time.Since(stepStart).Seconds()
	report.TotalCells = e.Population.TotalCells()
	e.Orchestrator.AdaptTiming(report.TotalSeconds)

	stats := e.Population.GetPopulationStatistics()
	byPhenotype := make(map[string]int, len(stats.PhenotypeCounts))
	for p, n := range stats.PhenotypeCounts {
		byPhenotype[p.String()] = n
	}
	e.metrics.SetPopulationCounts(stats.TotalCells, byPhenotype)

	e.reports = append(e.reports, report)
	for _, fn := range e.tickListeners {
		fn(report)
	}
	return nil
}

// runPhase times one process-class update, wraps it in a span, and
// feeds the measured duration to the orchestrator and the metrics
// recorder.
func (e *SimulationEngine) runPhase(ctx context.Context, class timectrl.ProcessClass, step int, fn func(context.Context) error) (time.Duration, error) {
	ctx, span := e.tracer.Start(ctx, "sim."+class.String(),
		trace.WithAttributes(attribute.Int("sim.step", step)),
	)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)

	e.Orchestrator.RecordProcessTiming(class, elapsed, step)
	e.metrics.ObserveProcessDuration(class.String(), elapsed)
	if err != nil {
		span.RecordError(err)
	}
	return elapsed, err
}
