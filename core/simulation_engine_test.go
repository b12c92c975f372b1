package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cellfoundry/tissue-simulator/model"
	"github.com/cellfoundry/tissue-simulator/timectrl"
)

// capturingSolver is a DiffusionSolver fake that serves a fixed field and
// records every Update call.
type capturingSolver struct {
	field     ConcentrationField
	updates   int
	reactions []ReactionMap
	err       error
}

func (s *capturingSolver) SubstanceConcentrations() ConcentrationField {
	return s.field
}

func (s *capturingSolver) Update(reactions ReactionMap) error {
	s.updates++
	s.reactions = append(s.reactions, reactions)
	return s.err
}

func solverWithUniformOxygen(value float64, width, height int) *capturingSolver {
	field := map[model.Position]float64{}
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			field[model.Position{X: x, Y: y}] = value
		}
	}
	return &capturingSolver{field: ConcentrationField{"oxygen": field}}
}

type recordingMetrics struct {
	durations   map[string]int
	generations int
	ruleErrors  int
	lastTotal   int
}

func (m *recordingMetrics) ObserveProcessDuration(class string, _ time.Duration) {
	if m.durations == nil {
		m.durations = map[string]int{}
	}
	m.durations[class]++
}

func (m *recordingMetrics) SetPopulationCounts(total int, _ map[string]int) { m.lastTotal = total }

func (m *recordingMetrics) AddGenerations(n int) { m.generations += n }

func (m *recordingMetrics) IncRuleEvalErrors() { m.ruleErrors++ }

func testEngine(t *testing.T, solver DiffusionSolver, tcfg timectrl.Config, opts ...EngineOption) (*SimulationEngine, *CellPopulation) {
	t.Helper()
	pop := testPopulation(t, baseConfig())
	pop.AddCell(model.Position{X: 2, Y: 2}, model.PhenotypeQuiescent)
	engine := NewSimulationEngine(pop, solver, timectrl.New(tcfg), opts...)
	return engine, pop
}

func TestEngineRun_FiresClassesOnIntervals(t *testing.T) {
	solver := solverWithUniformOxygen(1.0, 5, 5)
	engine, _ := testEngine(t, solver, timectrl.Config{
		IntracellularInterval: 1,
		DiffusionInterval:     2,
		IntercellularInterval: 4,
	})

	if err := engine.Run(context.Background(), 8); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Steps 0,2,4,6 fire diffusion.
	if solver.updates != 4 {
		t.Fatalf("solver updates = %d, want 4", solver.updates)
	}
	reports := engine.Reports()
	if len(reports) != 8 {
		t.Fatalf("reports = %d, want 8", len(reports))
	}
	for _, r := range reports {
		if r.Fired.Intercellular && (!r.Fired.Diffusion || !r.Fired.Intracellular) {
			t.Fatalf("step %d: intercellular fired without its prerequisites", r.Step)
		}
		if r.Fired.Diffusion && !r.Fired.Intracellular {
			t.Fatalf("step %d: diffusion fired without intracellular", r.Step)
		}
	}
	if !reports[4].Fired.Intercellular || reports[3].Fired.Intercellular {
		t.Fatalf("intercellular firing pattern wrong: %+v", reports)
	}
}

func TestEngineRun_ConfigIntegrityErrorAborts(t *testing.T) {
	// The solver serves glucose only; the association table needs oxygen.
	solver := &capturingSolver{field: ConcentrationField{"glucose": {}}}
	engine, _ := testEngine(t, solver, timectrl.Config{})

	err := engine.Run(context.Background(), 10)
	if err == nil {
		t.Fatalf("expected run to abort on missing substance")
	}
	if !errors.Is(err, ErrMissingSubstance) {
		t.Fatalf("error should wrap ErrMissingSubstance, got %v", err)
	}
	if len(engine.Reports()) != 0 {
		t.Fatalf("aborted step must not produce a report")
	}
}

func TestEngineRun_SolverErrorAborts(t *testing.T) {
	solver := solverWithUniformOxygen(1.0, 5, 5)
	solver.err = errors.New("solve diverged")
	engine, _ := testEngine(t, solver, timectrl.Config{})

	err := engine.Run(context.Background(), 5)
	if err == nil || !errors.Is(err, solver.err) {
		t.Fatalf("expected wrapped solver error, got %v", err)
	}
}

func TestEngineRun_ContextCancellation(t *testing.T) {
	solver := solverWithUniformOxygen(1.0, 5, 5)
	engine, _ := testEngine(t, solver, timectrl.Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := engine.Run(ctx, 100); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
	if len(engine.Reports()) != 0 {
		t.Fatalf("cancelled run produced reports")
	}
}

func TestEngineRun_TickListenersAndMetrics(t *testing.T) {
	solver := solverWithUniformOxygen(1.0, 5, 5)
	metrics := &recordingMetrics{}
	engine, _ := testEngine(t, solver, timectrl.Config{}, WithMetricsRecorder(metrics))

	var seen []int
	engine.RegisterTickListener(func(r StepReport) {
		seen = append(seen, r.Step)
	})

	if err := engine.Run(context.Background(), 3); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(seen) != 3 || seen[0] != 0 || seen[2] != 2 {
		t.Fatalf("listener steps = %v, want [0 1 2]", seen)
	}
	if metrics.durations["intracellular"] != 3 {
		t.Fatalf("intracellular observations = %d, want 3", metrics.durations["intracellular"])
	}
	if metrics.lastTotal != 1 {
		t.Fatalf("population gauge = %d, want 1", metrics.lastTotal)
	}
}

func TestEngine_SolverFieldInstalledOnPopulation(t *testing.T) {
	solver := solverWithUniformOxygen(0.7, 5, 5)
	engine, _ := testEngine(t, solver, timectrl.Config{})

	if err := engine.Run(context.Background(), 1); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The diffusion phase handed the reaction terms for the occupied site.
	if len(solver.reactions) != 1 {
		t.Fatalf("solver received %d reaction maps, want 1", len(solver.reactions))
	}
	if _, ok := solver.reactions[0][model.Position{X: 2, Y: 2}]; !ok {
		t.Fatalf("reaction map missing the occupied site: %v", solver.reactions[0])
	}
}
