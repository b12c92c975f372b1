// Package diffusion provides a reference steady-state solver for the
// substance fields the cell population consumes. It relaxes each
// substance independently with Gauss-Seidel sweeps of the discrete
// Laplacian, holding lattice boundary sites at configured values, until
// the field change per sweep drops below tolerance.
package diffusion

import (
	"fmt"

	"github.com/cellfoundry/tissue-simulator/core"
	"github.com/cellfoundry/tissue-simulator/model"
)

const (
	defaultMaxSweeps = 500
	defaultTolerance = 1e-6
)

// Substance describes one field the solver maintains.
type Substance struct {
	Name                 string
	DiffusionCoefficient float64
	BoundaryValue        float64
}

// Config sets up the solver grid and substances.
type Config struct {
	Width  int
	Height int
	Depth  int

	Substances []Substance

	// MaxSweeps bounds relaxation iterations per Update. Zero takes the
	// default.
	MaxSweeps int

	// Tolerance is the max per-site change below which a sweep is
	// considered converged. Zero takes the default.
	Tolerance float64
}

// Solver is a steady-state Gauss-Seidel relaxation solver implementing
// core.DiffusionSolver.
type Solver struct {
	cfg        Config
	substances map[string]Substance
	fields     core.ConcentrationField
}

// New validates the configuration and initialises every field to its
// boundary value.
func New(cfg Config) (*Solver, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Depth <= 0 {
		return nil, fmt.Errorf("grid dimensions must be positive, got %dx%dx%d", cfg.Width, cfg.Height, cfg.Depth)
	}
	if len(cfg.Substances) == 0 {
		return nil, fmt.Errorf("at least one substance is required")
	}
	if cfg.MaxSweeps <= 0 {
		cfg.MaxSweeps = defaultMaxSweeps
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = defaultTolerance
	}

	s := &Solver{
		cfg:        cfg,
		substances: make(map[string]Substance, len(cfg.Substances)),
		fields:     make(core.ConcentrationField, len(cfg.Substances)),
	}
	for _, sub := range cfg.Substances {
		if sub.Name == "" {
			return nil, fmt.Errorf("substance with empty name")
		}
		if _, dup := s.substances[sub.Name]; dup {
			return nil, fmt.Errorf("duplicate substance: %s", sub.Name)
		}
		s.substances[sub.Name] = sub

		field := make(map[model.Position]float64, cfg.Width*cfg.Height*cfg.Depth)
		s.forEachSite(func(pos model.Position) {
			field[pos] = sub.BoundaryValue
		})
		s.fields[sub.Name] = field
	}
	return s, nil
}

// SubstanceConcentrations returns a copy of the current steady-state
// fields.
func (s *Solver) SubstanceConcentrations() core.ConcentrationField {
	out := make(core.ConcentrationField, len(s.fields))
	for name, field := range s.fields {
		cp := make(map[model.Position]float64, len(field))
		for pos, v := range field {
			cp[pos] = v
		}
		out[name] = cp
	}
	return out
}

// Update re-solves every substance field to steady state given the
// supplied per-site reaction terms. Reactions naming an unknown
// substance are an error; reactions at out-of-grid positions are
// ignored.
func (s *Solver) Update(reactions core.ReactionMap) error {
	perSubstance := make(map[string]map[model.Position]float64)
	for pos, rates := range reactions {
		if !s.inGrid(pos) {
			continue
		}
		for name, rate := range rates {
			if _, ok := s.substances[name]; !ok {
				return fmt.Errorf("reaction for unknown substance: %s", name)
			}
			m := perSubstance[name]
			if m == nil {
				m = make(map[model.Position]float64)
				perSubstance[name] = m
			}
			m[pos] += rate
		}
	}

	for name, sub := range s.substances {
		s.relax(sub, s.fields[name], perSubstance[name])
	}
	return nil
}

// relax runs Gauss-Seidel sweeps of D*lap(C) + R = 0 on interior sites.
// Boundary sites stay pinned at the substance boundary value. A zero
// diffusion coefficient degenerates to a uniform boundary-value field.
func (s *Solver) relax(sub Substance, field map[model.Position]float64, reactions map[model.Position]float64) {
	s.forEachSite(func(pos model.Position) {
		if s.onBoundary(pos) {
			field[pos] = sub.BoundaryValue
		}
	})
	if sub.DiffusionCoefficient <= 0 {
		s.forEachSite(func(pos model.Position) {
			field[pos] = sub.BoundaryValue
		})
		return
	}

	for sweep := 0; sweep < s.cfg.MaxSweeps; sweep++ {
		maxDelta := 0.0
		s.forEachSite(func(pos model.Position) {
			if s.onBoundary(pos) {
				return
			}
			neighbors := s.axisNeighbors(pos)
			sum := 0.0
			for _, n := range neighbors {
				sum += field[n]
			}
			r := reactions[pos]
			next := (sum + r/sub.DiffusionCoefficient) / float64(len(neighbors))
			if next < 0 {
				next = 0
			}
			delta := next - field[pos]
			if delta < 0 {
				delta = -delta
			}
			if delta > maxDelta {
				maxDelta = delta
			}
			field[pos] = next
		})
		if maxDelta < s.cfg.Tolerance {
			return
		}
	}
}

func (s *Solver) forEachSite(fn func(model.Position)) {
	for z := 0; z < s.cfg.Depth; z++ {
		for y := 0; y < s.cfg.Height; y++ {
			for x := 0; x < s.cfg.Width; x++ {
				fn(model.Position{X: x, Y: y, Z: z})
			}
		}
	}
}

func (s *Solver) inGrid(pos model.Position) bool {
	return pos.X >= 0 && pos.X < s.cfg.Width &&
		pos.Y >= 0 && pos.Y < s.cfg.Height &&
		pos.Z >= 0 && pos.Z < s.cfg.Depth
}

func (s *Solver) onBoundary(pos model.Position) bool {
	if pos.X == 0 || pos.X == s.cfg.Width-1 ||
		pos.Y == 0 || pos.Y == s.cfg.Height-1 {
		return true
	}
	if s.cfg.Depth > 1 && (pos.Z == 0 || pos.Z == s.cfg.Depth-1) {
		return true
	}
	return false
}

// axisNeighbors returns the in-grid von Neumann neighbors used by the
// discrete Laplacian.
func (s *Solver) axisNeighbors(pos model.Position) []model.Position {
	offsets := []model.Position{
		{X: 1}, {X: -1}, {Y: 1}, {Y: -1},
	}
	if s.cfg.Depth > 1 {
		offsets = append(offsets, model.Position{Z: 1}, model.Position{Z: -1})
	}
	out := make([]model.Position, 0, len(offsets))
	for _, d := range offsets {
		n := pos.Add(d)
		if s.inGrid(n) {
			out = append(out, n)
		}
	}
	return out
}

// FromParams builds a solver configuration from the population's
// substance parameters.
func FromParams(width, height, depth int, params []core.SubstanceParams) Config {
	subs := make([]Substance, 0, len(params))
	for _, p := range params {
		subs = append(subs, Substance{
			Name:                 p.Name,
			DiffusionCoefficient: p.DiffusionCoefficient,
			BoundaryValue:        p.BoundaryValue,
		})
	}
	return Config{Width: width, Height: height, Depth: depth, Substances: subs}
}
