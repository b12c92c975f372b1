// core/population.go
package core

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"github.com/cellfoundry/tissue-simulator/model"
)

var (
	ErrBadLattice  = errors.New("invalid lattice configuration")
	ErrNoTemplate  = errors.New("population requires a gene network template")
	ErrNilEnvModel = errors.New("population requires an environment model")
)

// Neighborhood names the neighbor-selection strategy used for division and
// migration targets.
type Neighborhood int

const (
	// NeighborhoodVonNeumann is the 4-connected 2-D neighborhood.
	NeighborhoodVonNeumann Neighborhood = iota
	// NeighborhoodMoore is the 8-connected 2-D neighborhood.
	NeighborhoodMoore
	// NeighborhoodMoore3D is the 26-connected 3-D neighborhood.
	NeighborhoodMoore3D
)

// Offsets returns the relative positions belonging to the neighborhood.
func (n Neighborhood) Offsets() []model.Position {
	switch n {
	case NeighborhoodVonNeumann:
		return []model.Position{{X: 1}, {X: -1}, {Y: 1}, {Y: -1}}
	case NeighborhoodMoore:
		out := make([]model.Position, 0, 8)
		for dx := -1; dx <= 1; dx++ {
			for dy := -1; dy <= 1; dy++ {
				if dx == 0 && dy == 0 {
					continue
				}
				out = append(out, model.Position{X: dx, Y: dy})
			}
		}
		return out
	default:
		out := make([]model.Position, 0, 26)
		for dx := -1; dx <= 1; dx++ {
			for dy := -1; dy <= 1; dy++ {
				for dz := -1; dz <= 1; dz++ {
					if dx == 0 && dy == 0 && dz == 0 {
						continue
					}
					out = append(out, model.Position{X: dx, Y: dy, Z: dz})
				}
			}
		}
		return out
	}
}

// PopulationConfig sizes the lattice and parameterizes the update passes.
type PopulationConfig struct {
	Width  int
	Height int
	Depth  int // 1 for 2-D lattices

	MaxCells             int
	Neighborhood         Neighborhood
	GeneStepsPerUpdate   int
	MigrationProbability float64

	Cell CellParams
}

// CellSite pairs a position with the phenotype occupying it; the shape
// handed to reporting collaborators.
type CellSite struct {
	Position  model.Position
	Phenotype model.Phenotype
}

// CellPopulation owns the spatial lattice of cells and enforces the
// at-most-one-cell-per-site invariant. The spatial index is the exact
// inverse of live cell positions at all times.
//
// The population is not safe for concurrent use. A step's correctness
// depends on call order (intracellular, then diffusion, then
// intercellular), not on synchronization, so there is no internal locking.
type CellPopulation struct {
	cfg PopulationConfig

	cells        map[string]*Cell
	spatialIndex map[model.Position]string

	template *GeneRegulatoryNetwork
	envModel *EnvironmentModel

	// concentrations is the field from the most recent diffusion solve,
	// read by intracellular metabolism and the death pass.
	concentrations ConcentrationField

	generationCount int
	nextCellSeq     int

	rng      *rand.Rand
	cellOpts []CellOption
}

// NewCellPopulation constructs an empty population over the configured
// lattice. The template network is cloned (and re-randomized) into every
// cell created by AddCell or division.
func NewCellPopulation(cfg PopulationConfig, template *GeneRegulatoryNetwork, envModel *EnvironmentModel, rng *rand.Rand, cellOpts ...CellOption) (*CellPopulation, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrBadLattice, cfg.Width, cfg.Height)
	}
	if cfg.Depth <= 0 {
		cfg.Depth = 1
	}
	if cfg.GeneStepsPerUpdate <= 0 {
		cfg.GeneStepsPerUpdate = 1
	}
	if template == nil {
		return nil, ErrNoTemplate
	}
	if envModel == nil {
		return nil, ErrNilEnvModel
	}
	return &CellPopulation{
		cfg:            cfg,
		cells:          make(map[string]*Cell),
		spatialIndex:   make(map[model.Position]string),
		template:       template,
		envModel:       envModel,
		concentrations: ConcentrationField{},
		rng:            rng,
		cellOpts:       cellOpts,
	}, nil
}

// InBounds reports whether pos lies on the lattice.
func (p *CellPopulation) InBounds(pos model.Position) bool {
	return pos.X >= 0 && pos.X < p.cfg.Width &&
		pos.Y >= 0 && pos.Y < p.cfg.Height &&
		pos.Z >= 0 && pos.Z < p.cfg.Depth
}

// TotalCells returns the number of live cells.
func (p *CellPopulation) TotalCells() int { return len(p.cells) }

// GenerationCount returns the number of successful divisions so far.
func (p *CellPopulation) GenerationCount() int { return p.generationCount }

// Cell returns a live cell by ID, or nil.
func (p *CellPopulation) Cell(id string) *Cell { return p.cells[id] }

// CellAt returns the occupant of pos, or nil.
func (p *CellPopulation) CellAt(pos model.Position) *Cell {
	id, ok := p.spatialIndex[pos]
	if !ok {
		return nil
	}
	return p.cells[id]
}

// SetSubstanceConcentrations installs the field produced by the diffusion
// collaborator. Subsequent intracellular and death passes read from it.
func (p *CellPopulation) SetSubstanceConcentrations(field ConcentrationField) {
	if field == nil {
		field = ConcentrationField{}
	}
	p.concentrations = field
}

// AddCell inserts a new cell with a freshly cloned-and-randomized gene
// network. It returns false without mutating anything when the position is
// out of bounds or occupied, or the population is at its configured
// maximum. Placement failures are expected outcomes, not errors.
func (p *CellPopulation) AddCell(pos model.Position, phenotype model.Phenotype) bool {
	if !p.InBounds(pos) {
		return false
	}
	if _, occupied := p.spatialIndex[pos]; occupied {
		return false
	}
	if p.cfg.MaxCells > 0 && len(p.cells) >= p.cfg.MaxCells {
		return false
	}

	id := p.newCellID()
	cell := NewCell(id, pos, phenotype, p.freshNetwork(), p.cfg.Cell, p.cellOpts...)
	p.cells[id] = cell
	p.spatialIndex[pos] = id
	return true
}

// AttemptDivision divides the identified parent into a free neighboring
// site. It fails (returning false, mutating nothing) when the parent is
// unknown, its division predicate does not hold, the population is full, or
// no free neighbor exists. On success the daughter receives a freshly
// cloned-and-randomized network: division is a re-randomization point,
// ongoing per-step updates never re-randomize.
func (p *CellPopulation) AttemptDivision(parentID string) bool {
	parent, ok := p.cells[parentID]
	if !ok {
		return false
	}
	if !parent.ShouldDivide() {
		return false
	}
	if p.cfg.MaxCells > 0 && len(p.cells) >= p.cfg.MaxCells {
		return false
	}
	site, found := p.freeNeighbor(parent.Position())
	if !found {
		return false
	}

	daughter := parent.Divide(p.newCellID(), p.freshNetwork())
	daughter.setPosition(site)
	p.cells[daughter.ID()] = daughter
	p.spatialIndex[site] = daughter.ID()
	p.generationCount++
	return true
}

// UpdateIntracellularProcesses ages every cell by dt and recomputes its
// metabolic state from the current per-position substance concentrations.
func (p *CellPopulation) UpdateIntracellularProcesses(dt float64) {
	for _, id := range p.sortedIDs() {
		cell := p.cells[id]
		cell.Age(dt)
		cell.CalculateMetabolism(p.localEnvironment(cell.Position()))
	}
}

// UpdateGeneNetworks derives each cell's boolean gene inputs from the
// supplied concentrations, applies them to that cell's private network and
// runs the configured number of asynchronous steps. A missing association
// or substance aborts the whole call: configuration integrity is not a
// recoverable runtime condition.
func (p *CellPopulation) UpdateGeneNetworks(conc ConcentrationField) error {
	if conc != nil {
		p.concentrations = conc
	}
	for _, id := range p.sortedIDs() {
		cell := p.cells[id]
		inputs, err := p.envModel.DeriveGeneInputs(p.concentrations.At(cell.Position()))
		if err != nil {
			return fmt.Errorf("update gene networks: cell %s at %s: %w", id, cell.Position(), err)
		}
		net := cell.Network()
		net.SetInputStates(inputs)
		net.Step(p.cfg.GeneStepsPerUpdate)
		cell.SyncGeneStates()
	}
	return nil
}

// UpdatePhenotypes applies the fate-priority phenotype rule to every cell
// using its just-computed gene states.
func (p *CellPopulation) UpdatePhenotypes() {
	for _, id := range p.sortedIDs() {
		cell := p.cells[id]
		cell.UpdatePhenotype(cell.State().GeneStates)
	}
}

// RemoveDeadCells evaluates the death predicate for every cell against its
// local environment and removes all dead cells and their index entries in
// one pass. Removal never happens mid-iteration, so the spatial index stays
// consistent throughout. Returns the number of cells removed.
func (p *CellPopulation) RemoveDeadCells() int {
	var dead []string
	for _, id := range p.sortedIDs() {
		cell := p.cells[id]
		if cell.ShouldDie(p.localEnvironment(cell.Position())) {
			dead = append(dead, id)
		}
	}
	for _, id := range dead {
		cell := p.cells[id]
		delete(p.spatialIndex, cell.Position())
		delete(p.cells, id)
	}
	return len(dead)
}

// UpdateIntercellularProcesses performs probability-gated migration
// followed by division attempts for every cell whose division predicate
// holds. Returns the counts of each for observability.
func (p *CellPopulation) UpdateIntercellularProcesses() (migrations, divisions int) {
	for _, id := range p.sortedIDs() {
		cell := p.cells[id]
		if p.cfg.MigrationProbability <= 0 || p.rng.Float64() >= p.cfg.MigrationProbability {
			continue
		}
		site, found := p.freeNeighbor(cell.Position())
		if !found {
			continue
		}
		delete(p.spatialIndex, cell.Position())
		cell.setPosition(site)
		p.spatialIndex[site] = id
		migrations++
	}

	for _, id := range p.sortedIDs() {
		cell, ok := p.cells[id]
		if !ok || !cell.ShouldDivide() {
			continue
		}
		if p.AttemptDivision(id) {
			divisions++
		}
	}
	return migrations, divisions
}

// GetSubstanceReactions aggregates every live cell's metabolism into a
// position → substance → rate map, the sole data handed to the diffusion
// collaborator.
func (p *CellPopulation) GetSubstanceReactions(conc ConcentrationField) ReactionMap {
	if conc == nil {
		conc = p.concentrations
	}
	reactions := make(ReactionMap, len(p.cells))
	for _, id := range p.sortedIDs() {
		cell := p.cells[id]
		env := &LocalEnvironment{
			Position:       cell.Position(),
			Concentrations: conc.At(cell.Position()),
		}
		reactions[cell.Position()] = cell.CalculateMetabolism(env)
	}
	return reactions
}

// GetCellPositions returns a read-only snapshot of occupied sites.
func (p *CellPopulation) GetCellPositions() []CellSite {
	out := make([]CellSite, 0, len(p.cells))
	for _, id := range p.sortedIDs() {
		cell := p.cells[id]
		out = append(out, CellSite{Position: cell.Position(), Phenotype: cell.Phenotype()})
	}
	return out
}

// GetPopulationStatistics summarizes the population. The returned value
// shares no state with live cells.
func (p *CellPopulation) GetPopulationStatistics() model.PopulationStatistics {
	stats := model.PopulationStatistics{
		TotalCells:      len(p.cells),
		PhenotypeCounts: make(map[model.Phenotype]int),
		GenerationCount: p.generationCount,
	}
	var ageSum float64
	for _, cell := range p.cells {
		stats.PhenotypeCounts[cell.Phenotype()]++
		ageSum += cell.State().Age
	}
	if len(p.cells) > 0 {
		stats.AverageAge = ageSum / float64(len(p.cells))
	}
	sites := p.cfg.Width * p.cfg.Height * p.cfg.Depth
	if sites > 0 {
		stats.GridOccupancy = float64(len(p.cells)) / float64(sites)
	}
	return stats
}

// Records flattens the population into persisted cell-state records for
// the external I/O collaborator.
func (p *CellPopulation) Records(step int) []model.CellRecord {
	out := make([]model.CellRecord, 0, len(p.cells))
	for _, id := range p.sortedIDs() {
		s := p.cells[id].State()
		out = append(out, model.CellRecord{
			Step:          step,
			ID:            s.ID,
			Position:      s.Position,
			Phenotype:     s.Phenotype.String(),
			Age:           s.Age,
			DivisionCount: s.DivisionCount,
			GeneStates:    s.GeneStates,
		})
	}
	return out
}

// SubstanceParams exposes the configured substances, used by the reference
// solver to size its fields.
func (p *CellPopulation) SubstanceParams() []SubstanceParams {
	return append([]SubstanceParams(nil), p.cfg.Cell.Substances...)
}

//
// ---------- internal helpers ----------
//

func (p *CellPopulation) newCellID() string {
	p.nextCellSeq++
	return fmt.Sprintf("cell-%06d", p.nextCellSeq)
}

// freshNetwork clones the template and re-randomizes it into a
// self-consistent starting state. Creation and division are the only
// re-randomization points.
func (p *CellPopulation) freshNetwork() *GeneRegulatoryNetwork {
	net := p.template.Clone()
	net.Reset(true)
	net.InitializeLogicStates()
	return net
}

func (p *CellPopulation) localEnvironment(pos model.Position) *LocalEnvironment {
	return &LocalEnvironment{
		Position:       pos,
		Concentrations: p.concentrations.At(pos),
	}
}

// freeNeighbor picks a uniformly random free in-bounds neighbor of pos, or
// reports that none exists.
func (p *CellPopulation) freeNeighbor(pos model.Position) (model.Position, bool) {
	var free []model.Position
	for _, d := range p.cfg.Neighborhood.Offsets() {
		site := pos.Add(d)
		if !p.InBounds(site) {
			continue
		}
		if _, occupied := p.spatialIndex[site]; occupied {
			continue
		}
		free = append(free, site)
	}
	if len(free) == 0 {
		return model.Position{}, false
	}
	return free[p.rng.Intn(len(free))], true
}

// sortedIDs returns live cell IDs in stable order so update passes are
// deterministic under a seeded random source.
func (p *CellPopulation) sortedIDs() []string {
	ids := make([]string, 0, len(p.cells))
	for id := range p.cells {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
