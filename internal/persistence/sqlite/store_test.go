package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/cellfoundry/tissue-simulator/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snapshots.db")
	store, err := NewStore(path, []string{"Oxygen_supply", "Proliferation", "Necrosis"})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewStore_RejectsBadGeneNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.db")
	if _, err := NewStore(path, []string{"ok", "not ok"}); err == nil {
		t.Fatalf("expected error for gene name with a space")
	}
	if _, err := NewStore(path, []string{"1leading"}); err == nil {
		t.Fatalf("expected error for gene name starting with a digit")
	}
	if _, err := NewStore("", nil); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestStore_SnapshotRoundTrip(t *testing.T) {
	store := newTestStore(t)

	records := []model.CellRecord{
		{
			Step:          50,
			ID:            "cell-000001",
			Position:      model.Position{X: 3, Y: 7},
			Phenotype:     "Proliferation",
			Age:           12.5,
			DivisionCount: 2,
			GeneStates: map[string]bool{
				"Oxygen_supply": true,
				"Proliferation": true,
				"Necrosis":      false,
			},
		},
		{
			Step:      50,
			ID:        "cell-000002",
			Position:  model.Position{X: 4, Y: 7},
			Phenotype: "Necrosis",
			Age:       40,
			GeneStates: map[string]bool{
				"Necrosis": true,
			},
		},
	}
	if err := store.WriteSnapshot(records); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}

	got, err := store.ReadSnapshot(50)
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("rows = %d, want 2", len(got))
	}

	first := got[0]
	if first.ID != "cell-000001" || first.Phenotype != "Proliferation" {
		t.Fatalf("first row = %+v", first)
	}
	if first.Position != (model.Position{X: 3, Y: 7}) || first.Age != 12.5 || first.DivisionCount != 2 {
		t.Fatalf("first row = %+v", first)
	}
	if !first.GeneStates["Oxygen_supply"] || !first.GeneStates["Proliferation"] || first.GeneStates["Necrosis"] {
		t.Fatalf("first row gene states = %v", first.GeneStates)
	}

	second := got[1]
	if !second.GeneStates["Necrosis"] {
		t.Fatalf("second row gene states = %v", second.GeneStates)
	}
	// Genes absent from the written record default to false.
	if second.GeneStates["Oxygen_supply"] || second.GeneStates["Proliferation"] {
		t.Fatalf("unwritten genes should read back false: %v", second.GeneStates)
	}
}

func TestStore_StepsAndRewrite(t *testing.T) {
	store := newTestStore(t)

	rec := model.CellRecord{Step: 0, ID: "cell-000001", Phenotype: "Quiescent"}
	if err := store.WriteSnapshot([]model.CellRecord{rec}); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	rec.Step = 10
	rec.Age = 10
	if err := store.WriteSnapshot([]model.CellRecord{rec}); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	// Rewriting the same (step, cell) pair replaces the row.
	rec.Age = 11
	if err := store.WriteSnapshot([]model.CellRecord{rec}); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}

	steps, err := store.Steps()
	if err != nil {
		t.Fatalf("Steps: %v", err)
	}
	if len(steps) != 2 || steps[0] != 0 || steps[1] != 10 {
		t.Fatalf("steps = %v, want [0 10]", steps)
	}

	got, err := store.ReadSnapshot(10)
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	if len(got) != 1 || got[0].Age != 11 {
		t.Fatalf("rewrite not applied: %+v", got)
	}
}

func TestStore_EmptySnapshotIsNoop(t *testing.T) {
	store := newTestStore(t)
	if err := store.WriteSnapshot(nil); err != nil {
		t.Fatalf("WriteSnapshot(nil): %v", err)
	}
	steps, err := store.Steps()
	if err != nil {
		t.Fatalf("Steps: %v", err)
	}
	if len(steps) != 0 {
		t.Fatalf("empty snapshot wrote rows: %v", steps)
	}
}

func TestStore_GeneColumnsSorted(t *testing.T) {
	store := newTestStore(t)
	cols := store.GeneColumns()
	want := []string{"Necrosis", "Oxygen_supply", "Proliferation"}
	if len(cols) != len(want) {
		t.Fatalf("columns = %v", cols)
	}
	for i := range want {
		if cols[i] != want[i] {
			t.Fatalf("columns = %v, want %v", cols, want)
		}
	}
}
