// core/diffusion.go
package core

import "github.com/cellfoundry/tissue-simulator/model"

// ReactionMap maps lattice position → substance → net reaction rate
// (positive = production, negative = consumption). It is the sole data the
// population hands to the diffusion collaborator.
type ReactionMap map[model.Position]map[string]float64

// ConcentrationField maps substance → position → steady-state
// concentration.
type ConcentrationField map[string]map[model.Position]float64

// At returns the per-substance concentrations at one position. Substances
// with no entry for the position report their zero value.
func (f ConcentrationField) At(pos model.Position) map[string]float64 {
	out := make(map[string]float64, len(f))
	for substance, field := range f {
		out[substance] = field[pos]
	}
	return out
}

// DiffusionSolver is the external collaborator that solves the
// steady-state diffusion problem ∇·(D∇C) = −R given per-cell reaction
// terms. The engine never inspects solver internals: any non-error return
// from Update is success, and the new field is read back through
// SubstanceConcentrations.
type DiffusionSolver interface {
	SubstanceConcentrations() ConcentrationField
	Update(reactions ReactionMap) error
}
