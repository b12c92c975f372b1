package diffusion

import (
	"testing"

	"github.com/cellfoundry/tissue-simulator/core"
	"github.com/cellfoundry/tissue-simulator/model"
)

func newTestSolver(t *testing.T) *Solver {
	t.Helper()
	s, err := New(Config{
		Width:  9,
		Height: 9,
		Depth:  1,
		Substances: []Substance{
			{Name: "oxygen", DiffusionCoefficient: 1.0, BoundaryValue: 1.0},
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{Width: 0, Height: 5, Depth: 1}); err == nil {
		t.Fatalf("expected error for zero width")
	}
	if _, err := New(Config{Width: 5, Height: 5, Depth: 1}); err == nil {
		t.Fatalf("expected error for no substances")
	}
	if _, err := New(Config{Width: 5, Height: 5, Depth: 1, Substances: []Substance{
		{Name: "oxygen"}, {Name: "oxygen"},
	}}); err == nil {
		t.Fatalf("expected error for duplicate substance")
	}
}

func TestSolver_InitialFieldAtBoundaryValue(t *testing.T) {
	s := newTestSolver(t)

	field := s.SubstanceConcentrations()["oxygen"]
	for pos, v := range field {
		if v != 1.0 {
			t.Fatalf("initial concentration at %v = %v, want 1.0", pos, v)
		}
	}
}

func TestSolver_NoReactionsStaysUniform(t *testing.T) {
	s := newTestSolver(t)

	if err := s.Update(core.ReactionMap{}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	field := s.SubstanceConcentrations()["oxygen"]
	for pos, v := range field {
		if v < 0.999 || v > 1.001 {
			t.Fatalf("uniform field disturbed at %v: %v", pos, v)
		}
	}
}

// A consuming cell in the centre pulls the local steady-state
// concentration below the boundary value; a producing cell raises it.
func TestSolver_SinkAndSourceShapeTheField(t *testing.T) {
	center := model.Position{X: 4, Y: 4}

	sink := newTestSolver(t)
	if err := sink.Update(core.ReactionMap{center: {"oxygen": -0.5}}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	low := sink.SubstanceConcentrations()["oxygen"][center]
	if low >= 1.0 {
		t.Fatalf("sink should lower centre concentration below boundary, got %v", low)
	}
	if low < 0 {
		t.Fatalf("concentration must not go negative, got %v", low)
	}

	source := newTestSolver(t)
	if err := source.Update(core.ReactionMap{center: {"oxygen": 0.5}}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	high := source.SubstanceConcentrations()["oxygen"][center]
	if high <= 1.0 {
		t.Fatalf("source should raise centre concentration above boundary, got %v", high)
	}

	// Boundary sites stay pinned either way.
	corner := model.Position{X: 0, Y: 0}
	if v := sink.SubstanceConcentrations()["oxygen"][corner]; v != 1.0 {
		t.Fatalf("boundary site moved under sink: %v", v)
	}
	if v := source.SubstanceConcentrations()["oxygen"][corner]; v != 1.0 {
		t.Fatalf("boundary site moved under source: %v", v)
	}
}

func TestSolver_UnknownSubstanceIsError(t *testing.T) {
	s := newTestSolver(t)

	err := s.Update(core.ReactionMap{{X: 4, Y: 4}: {"helium": -0.1}})
	if err == nil {
		t.Fatalf("expected error for unknown substance")
	}
}

func TestSolver_OutOfGridReactionsIgnored(t *testing.T) {
	s := newTestSolver(t)

	if err := s.Update(core.ReactionMap{{X: 100, Y: 100}: {"oxygen": -5}}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	field := s.SubstanceConcentrations()["oxygen"]
	for pos, v := range field {
		if v < 0.999 || v > 1.001 {
			t.Fatalf("out-of-grid reaction disturbed the field at %v: %v", pos, v)
		}
	}
}

func TestSolver_ZeroCoefficientPinsField(t *testing.T) {
	s, err := New(Config{
		Width: 5, Height: 5, Depth: 1,
		Substances: []Substance{{Name: "inert", DiffusionCoefficient: 0, BoundaryValue: 0.3}},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Update(core.ReactionMap{{X: 2, Y: 2}: {"inert": -1}}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	for pos, v := range s.SubstanceConcentrations()["inert"] {
		if v != 0.3 {
			t.Fatalf("zero-coefficient field moved at %v: %v", pos, v)
		}
	}
}
