// Package config provides YAML-backed configuration for a simulation
// run: lattice geometry, cell parameters, diffusing substances, the
// gene-input association table, and timescale intervals.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/cellfoundry/tissue-simulator/core"
	"github.com/cellfoundry/tissue-simulator/model"
	"github.com/cellfoundry/tissue-simulator/timectrl"
	"gopkg.in/yaml.v3"
)

// SimulationConfig contains all settings for one simulation run.
type SimulationConfig struct {
	// Name labels the run in logs and snapshots.
	Name string `json:"name" yaml:"name"`

	// Seed initialises the run's random source. Zero means seed from
	// the current time.
	Seed int64 `json:"seed" yaml:"seed"`

	// Steps is the default number of engine steps when the caller does
	// not override it.
	Steps int `json:"steps" yaml:"steps"`

	Lattice    LatticeConfig          `json:"lattice" yaml:"lattice"`
	Cell       CellConfig             `json:"cell" yaml:"cell"`
	Substances []core.SubstanceParams `json:"substances" yaml:"substances"`
	GeneInputs []core.GeneInputRule   `json:"gene_inputs" yaml:"gene_inputs"`
	Network    NetworkConfig          `json:"network" yaml:"network"`
	Timescale  TimescaleConfig        `json:"timescale" yaml:"timescale"`
	Snapshot   SnapshotConfig         `json:"snapshot" yaml:"snapshot"`
	Seeding    []SeedSite             `json:"seeding" yaml:"seeding"`
}

// LatticeConfig sets the spatial grid. Depth 1 gives a 2-D lattice.
type LatticeConfig struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
	Depth  int `json:"depth" yaml:"depth"`

	// Neighborhood selects adjacency: von_neumann, moore, or moore3d.
	Neighborhood string `json:"neighborhood" yaml:"neighborhood"`

	MaxCells int `json:"max_cells" yaml:"max_cells"`
}

// CellConfig carries per-cell lifecycle parameters.
type CellConfig struct {
	CycleTime            float64 `json:"cycle_time" yaml:"cycle_time"`
	MaxAge               float64 `json:"max_age" yaml:"max_age"`
	MigrationProbability float64 `json:"migration_probability" yaml:"migration_probability"`
	GeneStepsPerUpdate   int     `json:"gene_steps_per_update" yaml:"gene_steps_per_update"`

	// DivisionPhenotypes lists the phenotype names allowed to divide.
	// Empty means Proliferation only.
	DivisionPhenotypes []string `json:"division_phenotypes" yaml:"division_phenotypes"`

	// Metabolism selects the rate policy: linear (default) or saturating.
	Metabolism string `json:"metabolism" yaml:"metabolism"`

	// ATPSubstance and ATPRateThreshold configure starvation death: a
	// cell dies when its normalised net rate for the named substance
	// drops below the threshold. Empty substance disables the check.
	ATPSubstance     string  `json:"atp_substance" yaml:"atp_substance"`
	ATPRateThreshold float64 `json:"atp_rate_threshold" yaml:"atp_rate_threshold"`
}

// NetworkConfig points at the gene regulatory network definition.
type NetworkConfig struct {
	// Path is a JSON network definition file.
	Path string `json:"path" yaml:"path"`
}

// TimescaleConfig sets orchestrator intervals in steps.
type TimescaleConfig struct {
	Dt                    float64 `json:"dt" yaml:"dt"`
	IntracellularInterval int     `json:"intracellular_interval" yaml:"intracellular_interval"`
	DiffusionInterval     int     `json:"diffusion_interval" yaml:"diffusion_interval"`
	IntercellularInterval int     `json:"intercellular_interval" yaml:"intercellular_interval"`
	Adaptive              bool    `json:"adaptive" yaml:"adaptive"`
	MinInterval           int     `json:"min_interval" yaml:"min_interval"`
	MaxInterval           int     `json:"max_interval" yaml:"max_interval"`
}

// SnapshotConfig controls persisted cell-state snapshots.
type SnapshotConfig struct {
	// Path is the sqlite database file. Empty disables snapshots.
	Path string `json:"path" yaml:"path"`

	// EverySteps writes a snapshot every N steps. Zero writes only the
	// final snapshot.
	EverySteps int `json:"every_steps" yaml:"every_steps"`
}

// SeedSite places one initial cell on the lattice.
type SeedSite struct {
	X         int    `json:"x" yaml:"x"`
	Y         int    `json:"y" yaml:"y"`
	Z         int    `json:"z" yaml:"z"`
	Phenotype string `json:"phenotype" yaml:"phenotype"`
}

// Default returns a SimulationConfig with sensible defaults: a small
// 2-D Moore lattice, one proliferating cell in the centre, and an
// oxygen-driven starvation rule.
func Default() *SimulationConfig {
	return &SimulationConfig{
		Name:  "tissue-sim",
		Seed:  0,
		Steps: 200,
		Lattice: LatticeConfig{
			Width:        20,
			Height:       20,
			Depth:        1,
			Neighborhood: "moore",
			MaxCells:     0,
		},
		Cell: CellConfig{
			CycleTime:            10,
			MaxAge:               0,
			MigrationProbability: 0.05,
			GeneStepsPerUpdate:   1,
			Metabolism:           "linear",
		},
		Substances: []core.SubstanceParams{
			{Name: "oxygen", DiffusionCoefficient: 1.0, BoundaryValue: 1.0, UptakeRate: 0.01},
		},
		GeneInputs: []core.GeneInputRule{
			{Input: "Oxygen_supply", Substance: "oxygen", Operator: "gt", Threshold: 0.1},
		},
		Timescale: TimescaleConfig{
			Dt:                    1,
			IntracellularInterval: 1,
			DiffusionInterval:     5,
			IntercellularInterval: 10,
			MinInterval:           1,
			MaxInterval:           100,
		},
		Seeding: []SeedSite{
			{X: 10, Y: 10, Phenotype: "Proliferation"},
		},
	}
}

// Load reads a YAML configuration file layered over the defaults.
func Load(path string) (*SimulationConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c *SimulationConfig) Validate() error {
	if c.Lattice.Width <= 0 || c.Lattice.Height <= 0 || c.Lattice.Depth <= 0 {
		return fmt.Errorf("lattice dimensions must be positive, got %dx%dx%d",
			c.Lattice.Width, c.Lattice.Height, c.Lattice.Depth)
	}
	if _, err := c.Lattice.neighborhood(); err != nil {
		return err
	}
	if c.Cell.MigrationProbability < 0 || c.Cell.MigrationProbability > 1 {
		return fmt.Errorf("migration_probability must be between 0 and 1, got %f", c.Cell.MigrationProbability)
	}
	switch strings.ToLower(c.Cell.Metabolism) {
	case "", "linear", "saturating":
	default:
		return fmt.Errorf("invalid metabolism policy: %s (valid: linear, saturating)", c.Cell.Metabolism)
	}
	if len(c.Substances) == 0 {
		return fmt.Errorf("at least one substance is required")
	}
	seen := make(map[string]bool, len(c.Substances))
	for _, s := range c.Substances {
		if s.Name == "" {
			return fmt.Errorf("substance with empty name")
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate substance: %s", s.Name)
		}
		seen[s.Name] = true
		if s.DiffusionCoefficient < 0 {
			return fmt.Errorf("substance %s: diffusion_coefficient must be non-negative", s.Name)
		}
	}
	for _, r := range c.GeneInputs {
		if r.Substance != "" && !seen[r.Substance] {
			return fmt.Errorf("gene input %s references unknown substance: %s", r.Input, r.Substance)
		}
	}
	for _, p := range c.Cell.DivisionPhenotypes {
		if _, ok := phenotypeByName(p); !ok {
			return fmt.Errorf("invalid division phenotype: %s", p)
		}
	}
	for _, s := range c.Seeding {
		pos := model.Position{X: s.X, Y: s.Y, Z: s.Z}
		if s.X < 0 || s.X >= c.Lattice.Width ||
			s.Y < 0 || s.Y >= c.Lattice.Height ||
			s.Z < 0 || s.Z >= c.Lattice.Depth {
			return fmt.Errorf("seed site %s outside lattice", pos)
		}
		if s.Phenotype != "" {
			if _, ok := phenotypeByName(s.Phenotype); !ok {
				return fmt.Errorf("seed site %s: invalid phenotype: %s", pos, s.Phenotype)
			}
		}
	}
	if c.Snapshot.EverySteps < 0 {
		return fmt.Errorf("snapshot every_steps must be non-negative, got %d", c.Snapshot.EverySteps)
	}
	return nil
}

// PopulationConfig translates the YAML settings into the lattice
// configuration the population consumes.
func (c *SimulationConfig) PopulationConfig() (core.PopulationConfig, error) {
	nbhd, err := c.Lattice.neighborhood()
	if err != nil {
		return core.PopulationConfig{}, err
	}

	division := make([]model.Phenotype, 0, len(c.Cell.DivisionPhenotypes))
	for _, name := range c.Cell.DivisionPhenotypes {
		p, ok := phenotypeByName(name)
		if !ok {
			return core.PopulationConfig{}, fmt.Errorf("invalid division phenotype: %s", name)
		}
		division = append(division, p)
	}

	return core.PopulationConfig{
		Width:                c.Lattice.Width,
		Height:               c.Lattice.Height,
		Depth:                c.Lattice.Depth,
		MaxCells:             c.Lattice.MaxCells,
		Neighborhood:         nbhd,
		GeneStepsPerUpdate:   c.Cell.GeneStepsPerUpdate,
		MigrationProbability: c.Cell.MigrationProbability,
		Cell: core.CellParams{
			CellCycleTime:      c.Cell.CycleTime,
			MaxAge:             c.Cell.MaxAge,
			DivisionPhenotypes: division,
			ATPSubstance:       c.Cell.ATPSubstance,
			ATPRateThreshold:   c.Cell.ATPRateThreshold,
			Substances:         c.Substances,
		},
	}, nil
}

// TimescaleConfig translates the YAML settings into the orchestrator
// configuration.
func (c *SimulationConfig) TimescaleConfig() timectrl.Config {
	return timectrl.Config{
		Dt:                    c.Timescale.Dt,
		IntracellularInterval: c.Timescale.IntracellularInterval,
		DiffusionInterval:     c.Timescale.DiffusionInterval,
		IntercellularInterval: c.Timescale.IntercellularInterval,
		Adaptive:              c.Timescale.Adaptive,
		MinInterval:           c.Timescale.MinInterval,
		MaxInterval:           c.Timescale.MaxInterval,
	}
}

// ResolvedSeed is one initial cell placement with the phenotype parsed.
type ResolvedSeed struct {
	Position  model.Position
	Phenotype model.Phenotype
}

// SeedPositions resolves the configured seed sites, defaulting the
// phenotype to Proliferation.
func (c *SimulationConfig) SeedPositions() []ResolvedSeed {
	out := make([]ResolvedSeed, 0, len(c.Seeding))
	for _, s := range c.Seeding {
		p := model.PhenotypeProliferation
		if s.Phenotype != "" {
			if resolved, ok := phenotypeByName(s.Phenotype); ok {
				p = resolved
			}
		}
		out = append(out, ResolvedSeed{
			Position:  model.Position{X: s.X, Y: s.Y, Z: s.Z},
			Phenotype: p,
		})
	}
	return out
}

func (l LatticeConfig) neighborhood() (core.Neighborhood, error) {
	switch strings.ToLower(l.Neighborhood) {
	case "", "moore":
		return core.NeighborhoodMoore, nil
	case "von_neumann", "vonneumann":
		return core.NeighborhoodVonNeumann, nil
	case "moore3d":
		return core.NeighborhoodMoore3D, nil
	default:
		return 0, fmt.Errorf("invalid neighborhood: %s (valid: von_neumann, moore, moore3d)", l.Neighborhood)
	}
}

func phenotypeByName(name string) (model.Phenotype, bool) {
	for _, p := range []model.Phenotype{
		model.PhenotypeQuiescent, model.PhenotypeProliferation,
		model.PhenotypeGrowthArrest, model.PhenotypeApoptosis,
		model.PhenotypeNecrosis,
	} {
		if p.String() == name {
			return p, true
		}
	}
	return 0, false
}
