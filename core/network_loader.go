// core/network_loader.go
package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"

	"github.com/cellfoundry/tissue-simulator/internal/logging"
)

// NodeDefinition is one node of a declarative gene-network description.
// A node either is an input (externally driven, no logic) or carries a
// Boolean logic string over other node names.
type NodeDefinition struct {
	Name  string `json:"name" yaml:"name"`
	Logic string `json:"logic,omitempty" yaml:"logic,omitempty"`

	// Inputs optionally lists the node names the logic depends on. When
	// omitted it is derived from the parsed logic string.
	Inputs []string `json:"inputs,omitempty" yaml:"inputs,omitempty"`

	IsInput  bool `json:"input,omitempty" yaml:"input,omitempty"`
	IsOutput bool `json:"output,omitempty" yaml:"output,omitempty"`

	// State is the initial truth value before randomization.
	State bool `json:"state,omitempty" yaml:"state,omitempty"`
}

// NetworkDefinition is the declarative source a gene-network template is
// built from. The JSON file form and the structured configuration form both
// decode into this shape, so they resolve into the same in-memory graph.
type NetworkDefinition struct {
	Name  string           `json:"name,omitempty" yaml:"name,omitempty"`
	Nodes []NodeDefinition `json:"nodes" yaml:"nodes"`
}

// LoadNetworkDefinition reads a JSON network description from r.
// It fails only on JSON / structural errors; semantic validation happens in
// BuildGeneNetwork.
func LoadNetworkDefinition(r io.Reader) (*NetworkDefinition, error) {
	var def NetworkDefinition
	dec := json.NewDecoder(r)
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("LoadNetworkDefinition: decode failed: %w", err)
	}
	if len(def.Nodes) == 0 {
		return nil, fmt.Errorf("LoadNetworkDefinition: network has no nodes")
	}
	return &def, nil
}

// BuildGeneNetwork resolves a definition into a network template.
//
// Nodes without logic and not flagged as inputs are rejected; an input node
// carrying logic is likewise rejected (input nodes never have their own
// update rule). A logic string that fails to parse is reported through log
// and the node keeps a nil rule: it evaluates to false on every step rather
// than halting construction, per the expression-error contract. A rule
// referencing a name absent from the network is a definition error and
// fails construction.
func BuildGeneNetwork(def *NetworkDefinition, rng *rand.Rand, log logging.Logger) (*GeneRegulatoryNetwork, error) {
	if def == nil || len(def.Nodes) == 0 {
		return nil, fmt.Errorf("BuildGeneNetwork: empty network definition")
	}
	if log == nil {
		log = logging.Noop()
	}

	nodes := make(map[string]*GraphNode, len(def.Nodes))
	for _, nd := range def.Nodes {
		if nd.Name == "" {
			return nil, fmt.Errorf("BuildGeneNetwork: node with empty name")
		}
		if _, exists := nodes[nd.Name]; exists {
			return nil, fmt.Errorf("BuildGeneNetwork: duplicate node %q", nd.Name)
		}
		if nd.IsInput && nd.Logic != "" {
			return nil, fmt.Errorf("BuildGeneNetwork: input node %q must not carry logic", nd.Name)
		}
		if !nd.IsInput && nd.Logic == "" {
			return nil, fmt.Errorf("BuildGeneNetwork: node %q has neither logic nor input flag", nd.Name)
		}

		node := &GraphNode{
			Name:     nd.Name,
			IsInput:  nd.IsInput,
			IsOutput: nd.IsOutput,
			State:    nd.State,
		}
		if nd.Logic != "" {
			rule, err := ParseBoolExpr(nd.Logic)
			if err != nil {
				log.Warn(context.Background(), "gene rule failed to parse; node will evaluate to false",
					logging.String("node", nd.Name),
					logging.String("logic", nd.Logic),
					logging.String("error", err.Error()),
				)
			} else {
				node.Rule = rule
				if len(nd.Inputs) > 0 {
					node.Inputs = append([]string(nil), nd.Inputs...)
				} else {
					node.Inputs = ExprInputs(rule)
				}
			}
		}
		nodes[nd.Name] = node
	}

	// Every parsed rule must be evaluable using only names present in the
	// network.
	referenced := make(map[string]struct{})
	for name, node := range nodes {
		for _, in := range node.Inputs {
			if _, ok := nodes[in]; !ok {
				return nil, fmt.Errorf("BuildGeneNetwork: node %q references unknown node %q", name, in)
			}
			referenced[in] = struct{}{}
		}
	}

	// Output derivation: a node not referenced as an input by any rule is
	// an output, unless the definition already flagged it.
	for name, node := range nodes {
		if node.IsInput {
			continue
		}
		if _, isReferenced := referenced[name]; !isReferenced {
			node.IsOutput = true
		}
	}

	return NewGeneRegulatoryNetwork(nodes, rng), nil
}
