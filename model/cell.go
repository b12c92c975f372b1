package model

import "fmt"

// Phenotype is a cell's current behavioral mode.
type Phenotype int

const (
	PhenotypeQuiescent Phenotype = iota
	PhenotypeProliferation
	PhenotypeGrowthArrest
	PhenotypeApoptosis
	PhenotypeNecrosis
)

func (p Phenotype) String() string {
	switch p {
	case PhenotypeQuiescent:
		return "Quiescent"
	case PhenotypeProliferation:
		return "Proliferation"
	case PhenotypeGrowthArrest:
		return "Growth_Arrest"
	case PhenotypeApoptosis:
		return "Apoptosis"
	case PhenotypeNecrosis:
		return "Necrosis"
	default:
		return fmt.Sprintf("Phenotype(%d)", int(p))
	}
}

// PhenotypeFromGene maps a fate-node name to its phenotype. The boolean
// reports whether the name is one of the four fate nodes.
func PhenotypeFromGene(name string) (Phenotype, bool) {
	switch name {
	case "Necrosis":
		return PhenotypeNecrosis, true
	case "Apoptosis":
		return PhenotypeApoptosis, true
	case "Proliferation":
		return PhenotypeProliferation, true
	case "Growth_Arrest":
		return PhenotypeGrowthArrest, true
	default:
		return PhenotypeQuiescent, false
	}
}

// FateNodes lists the gene-network outputs that map directly to phenotypes,
// in priority order (highest first).
var FateNodes = []string{"Necrosis", "Apoptosis", "Proliferation", "Growth_Arrest"}

// Position is an integer lattice coordinate. 2-D lattices fix Z to zero.
type Position struct {
	X int
	Y int
	Z int
}

func (p Position) String() string {
	return fmt.Sprintf("(%d,%d,%d)", p.X, p.Y, p.Z)
}

// Add returns the position offset by d.
func (p Position) Add(d Position) Position {
	return Position{X: p.X + d.X, Y: p.Y + d.Y, Z: p.Z + d.Z}
}

// CellState is the immutable snapshot of a single cell. Transitions replace
// the whole value rather than mutating fields in place.
type CellState struct {
	ID            string
	Position      Position
	Phenotype     Phenotype
	Age           float64 // lattice time units
	DivisionCount int

	// MetabolicState maps substance name to net rate; positive is
	// production, negative is consumption. Recomputed each
	// intracellular step.
	MetabolicState map[string]float64

	// GeneStates is a cached projection of the cell's gene network.
	GeneStates map[string]bool
}

// CellRecord is the persisted form of a cell snapshot: one row per cell,
// gene states flattened into gene_<name> boolean columns by the store.
type CellRecord struct {
	Step          int
	ID            string
	Position      Position
	Phenotype     string
	Age           float64
	DivisionCount int
	GeneStates    map[string]bool
}

// PopulationStatistics is a read-only summary of the population.
type PopulationStatistics struct {
	TotalCells      int
	PhenotypeCounts map[Phenotype]int
	AverageAge      float64
	GenerationCount int
	GridOccupancy   float64 // live cells / lattice sites
}
