// core/cell.go
package core

import (
	"github.com/cellfoundry/tissue-simulator/model"
)

// SubstanceParams describes one diffusing substance and the default
// per-cell kinetics used by the built-in metabolism policies.
type SubstanceParams struct {
	Name                 string  `json:"name" yaml:"name"`
	DiffusionCoefficient float64 `json:"diffusion_coefficient" yaml:"diffusion_coefficient"`
	BoundaryValue        float64 `json:"boundary_value" yaml:"boundary_value"`
	ProductionRate       float64 `json:"production_rate" yaml:"production_rate"`
	UptakeRate           float64 `json:"uptake_rate" yaml:"uptake_rate"`

	// MichaelisKm is the half-saturation concentration used by the
	// saturating metabolism policy. Zero disables saturation for this
	// substance.
	MichaelisKm float64 `json:"michaelis_km" yaml:"michaelis_km"`
}

// CellParams carries the per-cell configuration consumed by the default
// policies. Absent values degrade to conservative no-op behavior: a zero
// cell-cycle time never divides, a zero ATP threshold never kills on
// starvation.
type CellParams struct {
	CellCycleTime      float64
	MaxAge             float64
	DivisionPhenotypes []model.Phenotype
	ATPSubstance       string
	ATPRateThreshold   float64
	Substances         []SubstanceParams
}

// MetabolismPolicy computes a cell's net substance rates (positive is
// production, negative is consumption) from its state and local
// environment.
type MetabolismPolicy interface {
	Rates(state model.CellState, env *LocalEnvironment) map[string]float64
}

// DivisionPolicy decides whether a cell attempts division this step.
type DivisionPolicy interface {
	ShouldDivide(state model.CellState) bool
}

// DeathPolicy decides whether a cell is removed this step.
type DeathPolicy interface {
	ShouldDie(state model.CellState, env *LocalEnvironment) bool
}

// Cell binds one lattice position, one phenotype and one private gene
// regulatory network, and exposes the local decision functions the
// population consumes. Its state is an immutable snapshot replaced on every
// transition.
type Cell struct {
	state   model.CellState
	network *GeneRegulatoryNetwork

	metabolism MetabolismPolicy
	division   DivisionPolicy
	death      DeathPolicy
}

// CellOption customizes a cell's policies at construction.
type CellOption func(*Cell)

// WithMetabolismPolicy substitutes the metabolism policy.
func WithMetabolismPolicy(p MetabolismPolicy) CellOption {
	return func(c *Cell) {
		if p != nil {
			c.metabolism = p
		}
	}
}

// WithDivisionPolicy substitutes the division predicate.
func WithDivisionPolicy(p DivisionPolicy) CellOption {
	return func(c *Cell) {
		if p != nil {
			c.division = p
		}
	}
}

// WithDeathPolicy substitutes the death predicate.
func WithDeathPolicy(p DeathPolicy) CellOption {
	return func(c *Cell) {
		if p != nil {
			c.death = p
		}
	}
}

// NewCell constructs a cell owning the provided network instance. The
// network must already be a private clone; cells never share networks.
func NewCell(id string, pos model.Position, phenotype model.Phenotype, network *GeneRegulatoryNetwork, params CellParams, opts ...CellOption) *Cell {
	c := &Cell{
		state: model.CellState{
			ID:         id,
			Position:   pos,
			Phenotype:  phenotype,
			GeneStates: network.States(),
		},
		network:    network,
		metabolism: &LinearMetabolismPolicy{Params: params},
		division:   &AgeGatedDivisionPolicy{Params: params},
		death:      &FateDeathPolicy{Params: params},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current immutable snapshot. Maps are copied so callers
// can never alias live state.
func (c *Cell) State() model.CellState {
	s := c.state
	if s.MetabolicState != nil {
		s.MetabolicState = copyRates(s.MetabolicState)
	}
	if s.GeneStates != nil {
		s.GeneStates = copyStates(s.GeneStates)
	}
	return s
}

// Network returns the cell's private gene network.
func (c *Cell) Network() *GeneRegulatoryNetwork { return c.network }

// ID returns the cell's unique identifier.
func (c *Cell) ID() string { return c.state.ID }

// Position returns the cell's lattice position.
func (c *Cell) Position() model.Position { return c.state.Position }

// Phenotype returns the cell's current behavioral mode.
func (c *Cell) Phenotype() model.Phenotype { return c.state.Phenotype }

// Age increases the cell's age by dt. No upper clamp: ageing past any
// configured maximum is the death rule's concern.
func (c *Cell) Age(dt float64) {
	next := c.state
	next.Age += dt
	c.state = next
}

// setPosition is population-internal: relocation must go through the
// spatial index.
func (c *Cell) setPosition(pos model.Position) {
	next := c.state
	next.Position = pos
	c.state = next
}

// CalculateMetabolism derives the cell's net substance rates from the local
// environment and caches them on the snapshot.
func (c *Cell) CalculateMetabolism(env *LocalEnvironment) map[string]float64 {
	rates := c.metabolism.Rates(c.state, env)
	next := c.state
	next.MetabolicState = copyRates(rates)
	c.state = next
	return rates
}

// SyncGeneStates refreshes the cached gene-state projection from the
// network.
func (c *Cell) SyncGeneStates() {
	next := c.state
	next.GeneStates = c.network.States()
	c.state = next
}

// UpdatePhenotype applies the fixed fate priority (Necrosis > Apoptosis >
// Proliferation > Growth_Arrest) over the supplied gene states, falling
// back to Quiescent when no fate node is true. Necrosis is terminal: once
// entered the phenotype never transitions again.
func (c *Cell) UpdatePhenotype(geneStates map[string]bool) {
	if c.state.Phenotype == model.PhenotypeNecrosis {
		return
	}
	next := c.state
	next.Phenotype = model.PhenotypeQuiescent
	for _, fate := range model.FateNodes {
		if geneStates[fate] {
			p, _ := model.PhenotypeFromGene(fate)
			next.Phenotype = p
			break
		}
	}
	c.state = next
}

// ShouldDivide reports whether the division policy holds for the current
// snapshot.
func (c *Cell) ShouldDivide() bool { return c.division.ShouldDivide(c.state) }

// ShouldDie reports whether the death policy holds for the current snapshot
// and local environment.
func (c *Cell) ShouldDie(env *LocalEnvironment) bool { return c.death.ShouldDie(c.state, env) }

// Divide produces a daughter cell at the same position, owning the provided
// fresh network instance. The caller is responsible for immediately
// relocating the daughter. The parent's division counter is incremented and
// its age reset to zero.
func (c *Cell) Divide(daughterID string, network *GeneRegulatoryNetwork) *Cell {
	parent := c.state
	parent.DivisionCount++
	parent.Age = 0
	c.state = parent

	daughter := &Cell{
		state: model.CellState{
			ID:         daughterID,
			Position:   c.state.Position,
			Phenotype:  model.PhenotypeQuiescent,
			GeneStates: network.States(),
		},
		network:    network,
		metabolism: c.metabolism,
		division:   c.division,
		death:      c.death,
	}
	return daughter
}

//
// ---------- Built-in policies ----------
//

// LinearMetabolismPolicy is the default: net rate = production − uptake per
// configured substance, independent of concentration.
type LinearMetabolismPolicy struct {
	Params CellParams
}

func (p *LinearMetabolismPolicy) Rates(state model.CellState, env *LocalEnvironment) map[string]float64 {
	rates := make(map[string]float64, len(p.Params.Substances))
	for _, sub := range p.Params.Substances {
		if state.Phenotype == model.PhenotypeNecrosis {
			// Necrotic debris neither produces nor consumes.
			rates[sub.Name] = 0
			continue
		}
		rates[sub.Name] = sub.ProductionRate - sub.UptakeRate
	}
	return rates
}

// SaturatingMetabolismPolicy applies Michaelis–Menten style uptake
// saturation: consumption scales with c/(Km+c) at the cell's position.
type SaturatingMetabolismPolicy struct {
	Params CellParams
}

func (p *SaturatingMetabolismPolicy) Rates(state model.CellState, env *LocalEnvironment) map[string]float64 {
	rates := make(map[string]float64, len(p.Params.Substances))
	for _, sub := range p.Params.Substances {
		if state.Phenotype == model.PhenotypeNecrosis {
			rates[sub.Name] = 0
			continue
		}
		uptake := sub.UptakeRate
		if sub.MichaelisKm > 0 && env != nil {
			c := env.Concentrations[sub.Name]
			if c < 0 {
				c = 0
			}
			uptake *= c / (sub.MichaelisKm + c)
		}
		rates[sub.Name] = sub.ProductionRate - uptake
	}
	return rates
}

// AgeGatedDivisionPolicy is the default division predicate: the cell has
// reached the configured cycle time and its phenotype is in the division
// set (Proliferation only, unless configured otherwise). A zero cycle time
// disables division.
type AgeGatedDivisionPolicy struct {
	Params CellParams
}

func (p *AgeGatedDivisionPolicy) ShouldDivide(state model.CellState) bool {
	if p.Params.CellCycleTime <= 0 {
		return false
	}
	if state.Age < p.Params.CellCycleTime {
		return false
	}
	allowed := p.Params.DivisionPhenotypes
	if len(allowed) == 0 {
		allowed = []model.Phenotype{model.PhenotypeProliferation}
	}
	for _, ph := range allowed {
		if state.Phenotype == ph {
			return true
		}
	}
	return false
}

// FateDeathPolicy is the default death predicate: die when Apoptosis,
// persist indefinitely when Necrosis, otherwise live. When configured, an
// ATP rate below the normalized threshold also kills, and non-necrotic
// cells past MaxAge are removed.
type FateDeathPolicy struct {
	Params CellParams
}

func (p *FateDeathPolicy) ShouldDie(state model.CellState, env *LocalEnvironment) bool {
	switch state.Phenotype {
	case model.PhenotypeNecrosis:
		return false
	case model.PhenotypeApoptosis:
		return true
	}
	if p.Params.MaxAge > 0 && state.Age > p.Params.MaxAge {
		return true
	}
	if p.Params.ATPRateThreshold > 0 && p.Params.ATPSubstance != "" {
		if rate, ok := state.MetabolicState[p.Params.ATPSubstance]; ok {
			if normalizeATPRate(rate, p.Params) < p.Params.ATPRateThreshold {
				return true
			}
		}
	}
	return false
}

// normalizeATPRate maps the ATP net rate onto [0,1] against the configured
// production ceiling so the threshold is comparable across parameter sets.
func normalizeATPRate(rate float64, params CellParams) float64 {
	var ceiling float64
	for _, sub := range params.Substances {
		if sub.Name == params.ATPSubstance {
			ceiling = sub.ProductionRate
			break
		}
	}
	if ceiling <= 0 {
		return 1
	}
	n := rate / ceiling
	if n < 0 {
		return 0
	}
	if n > 1 {
		return 1
	}
	return n
}

func copyRates(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyStates(in map[string]bool) map[string]bool {
	out := make(map[string]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
