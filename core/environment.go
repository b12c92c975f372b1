// core/environment.go
package core

import (
	"errors"
	"fmt"

	"github.com/cellfoundry/tissue-simulator/model"
)

var (
	ErrBadAssociation     = errors.New("invalid gene input association")
	ErrMissingAssociation = errors.New("gene input association not found")
	ErrMissingSubstance   = errors.New("substance concentration not available")
)

// LocalEnvironment is what a cell sees at its lattice position: the
// substance concentrations there and the boolean gene inputs derived from
// them.
type LocalEnvironment struct {
	Position       model.Position
	Concentrations map[string]float64
	GeneInputs     map[string]bool
}

// GeneInputRule associates one gene-network input node with the local
// environment. Exactly one of the two forms must be used:
//
//   - threshold form: Substance + Operator + Threshold compare a local
//     concentration against a configured level;
//   - composite form: Logic combines previously derived gene inputs with
//     AND/OR/NOT/XOR.
type GeneInputRule struct {
	Input     string  `json:"input" yaml:"input"`
	Substance string  `json:"substance,omitempty" yaml:"substance,omitempty"`
	Operator  string  `json:"operator,omitempty" yaml:"operator,omitempty"` // gt, gte, lt, lte
	Threshold float64 `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	Logic     string  `json:"logic,omitempty" yaml:"logic,omitempty"`
}

type compiledInputRule struct {
	input     string
	substance string
	operator  string
	threshold float64
	composite BoolExpr
}

// EnvironmentModel derives gene inputs from substance concentrations.
// Rules are compiled once at construction; a missing or malformed
// association is a configuration-integrity error, never a silent default.
type EnvironmentModel struct {
	rules []compiledInputRule
}

// NewEnvironmentModel validates and compiles the association table.
// Rules are evaluated in declaration order, so a composite rule may only
// reference inputs derived by earlier rules.
func NewEnvironmentModel(rules []GeneInputRule) (*EnvironmentModel, error) {
	if len(rules) == 0 {
		return nil, fmt.Errorf("%w: no gene input associations configured", ErrMissingAssociation)
	}

	m := &EnvironmentModel{rules: make([]compiledInputRule, 0, len(rules))}
	derived := make(map[string]struct{}, len(rules))

	for _, r := range rules {
		if r.Input == "" {
			return nil, fmt.Errorf("%w: association with empty input name", ErrBadAssociation)
		}
		if _, dup := derived[r.Input]; dup {
			return nil, fmt.Errorf("%w: duplicate association for input %q", ErrBadAssociation, r.Input)
		}

		switch {
		case r.Logic != "" && r.Substance != "":
			return nil, fmt.Errorf("%w: input %q mixes threshold and composite forms", ErrBadAssociation, r.Input)
		case r.Logic != "":
			expr, err := ParseBoolExpr(r.Logic)
			if err != nil {
				return nil, fmt.Errorf("%w: input %q: %v", ErrBadAssociation, r.Input, err)
			}
			for _, ref := range ExprInputs(expr) {
				if _, ok := derived[ref]; !ok {
					return nil, fmt.Errorf("%w: input %q references %q before it is derived", ErrBadAssociation, r.Input, ref)
				}
			}
			m.rules = append(m.rules, compiledInputRule{input: r.Input, composite: expr})
		case r.Substance != "":
			op := r.Operator
			switch op {
			case "gt", "gte", "lt", "lte":
			case "":
				return nil, fmt.Errorf("%w: input %q has no operator", ErrBadAssociation, r.Input)
			default:
				return nil, fmt.Errorf("%w: input %q has unknown operator %q", ErrBadAssociation, r.Input, op)
			}
			m.rules = append(m.rules, compiledInputRule{
				input:     r.Input,
				substance: r.Substance,
				operator:  op,
				threshold: r.Threshold,
			})
		default:
			return nil, fmt.Errorf("%w: input %q has neither substance nor logic", ErrBadAssociation, r.Input)
		}
		derived[r.Input] = struct{}{}
	}
	return m, nil
}

// Inputs returns the gene-input names this model derives, in evaluation
// order.
func (m *EnvironmentModel) Inputs() []string {
	out := make([]string, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, r.input)
	}
	return out
}

// DeriveGeneInputs computes the boolean gene inputs for one position from
// its local concentrations. A substance required by a threshold rule but
// absent from conc aborts the call with an error naming the missing key.
func (m *EnvironmentModel) DeriveGeneInputs(conc map[string]float64) (map[string]bool, error) {
	out := make(map[string]bool, len(m.rules))
	for _, r := range m.rules {
		if r.composite != nil {
			v, err := r.composite.Eval(out)
			if err != nil {
				return nil, fmt.Errorf("%w: composite input %q: %v", ErrMissingAssociation, r.input, err)
			}
			out[r.input] = v
			continue
		}

		c, ok := conc[r.substance]
		if !ok {
			return nil, fmt.Errorf("%w: substance %q required by gene input %q", ErrMissingSubstance, r.substance, r.input)
		}
		switch r.operator {
		case "gt":
			out[r.input] = c > r.threshold
		case "gte":
			out[r.input] = c >= r.threshold
		case "lt":
			out[r.input] = c < r.threshold
		case "lte":
			out[r.input] = c <= r.threshold
		}
	}
	return out, nil
}
