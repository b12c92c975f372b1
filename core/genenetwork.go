// core/genenetwork.go
package core

import (
	"math/rand"
	"sort"

	"github.com/cellfoundry/tissue-simulator/model"
)

// initializeLogicCap bounds the fixed-point search in
// InitializeLogicStates so a cyclic network cannot spin forever.
const initializeLogicCap = 100

// GraphNode is a single named node of a gene regulatory network.
//
// Input nodes are externally driven and never carry a rule. The Rule tree is
// immutable and shared across every clone of the network; per-node mutable
// state is limited to State.
type GraphNode struct {
	Name     string
	IsInput  bool
	IsOutput bool

	// Rule is nil for input nodes, and for nodes whose logic string failed
	// to parse (those evaluate to false and are reported on every step).
	Rule   BoolExpr
	Inputs []string

	State bool
}

// EvalErrorFunc is invoked whenever a rule evaluation fails. Failures are
// never fatal: the node is treated as false for that step only.
type EvalErrorFunc func(node string, err error)

// GeneRegulatoryNetwork is a stochastic asynchronous Boolean automaton over
// a directed graph of named nodes.
//
// A network is built once per simulation as a template and cloned into each
// cell, so networks never share mutable state across cells. The random
// source is shared: one generator per simulation run.
type GeneRegulatoryNetwork struct {
	nodes map[string]*GraphNode

	// updatable lists non-input nodes eligible for asynchronous update,
	// sorted by name so update selection is deterministic under a seeded
	// source. Nodes pinned via fixedNodes are excluded.
	updatable []string

	inputNodes  []string
	outputNodes []string
	fixedNodes  map[string]bool

	rng     *rand.Rand
	onError EvalErrorFunc
}

// NewGeneRegulatoryNetwork assembles a network from prepared nodes.
// Derived node sets and the updatable list are computed here.
func NewGeneRegulatoryNetwork(nodes map[string]*GraphNode, rng *rand.Rand) *GeneRegulatoryNetwork {
	g := &GeneRegulatoryNetwork{
		nodes:      nodes,
		fixedNodes: make(map[string]bool),
		rng:        rng,
		onError:    func(string, error) {},
	}
	g.rebuildDerivedSets()
	return g
}

// SetEvalErrorFunc installs the callback invoked on rule-evaluation
// failures. A nil fn restores the no-op default.
func (g *GeneRegulatoryNetwork) SetEvalErrorFunc(fn EvalErrorFunc) {
	if fn == nil {
		fn = func(string, error) {}
	}
	g.onError = fn
}

func (g *GeneRegulatoryNetwork) rebuildDerivedSets() {
	g.updatable = g.updatable[:0]
	g.inputNodes = g.inputNodes[:0]
	g.outputNodes = g.outputNodes[:0]
	for name, node := range g.nodes {
		if node.IsInput {
			g.inputNodes = append(g.inputNodes, name)
			continue
		}
		if node.IsOutput {
			g.outputNodes = append(g.outputNodes, name)
		}
		// Broken-rule nodes stay updatable so each selection reports an
		// evaluation error instead of silently vanishing from the walk.
		if _, pinned := g.fixedNodes[name]; !pinned {
			g.updatable = append(g.updatable, name)
		}
	}
	sort.Strings(g.updatable)
	sort.Strings(g.inputNodes)
	sort.Strings(g.outputNodes)
}

// Node returns the named node, or nil.
func (g *GeneRegulatoryNetwork) Node(name string) *GraphNode { return g.nodes[name] }

// InputNodes returns the names of externally driven nodes.
func (g *GeneRegulatoryNetwork) InputNodes() []string { return g.inputNodes }

// OutputNodes returns the names of nodes not referenced by any rule.
func (g *GeneRegulatoryNetwork) OutputNodes() []string { return g.outputNodes }

// States returns a full name → state snapshot.
func (g *GeneRegulatoryNetwork) States() map[string]bool {
	out := make(map[string]bool, len(g.nodes))
	for name, node := range g.nodes {
		out[name] = node.State
	}
	return out
}

// SetInputStates overwrites the state of the named input nodes only.
// Unknown names and non-input nodes are ignored, mirroring the permissive
// ignore-extra-keys contract used throughout the configuration surface.
func (g *GeneRegulatoryNetwork) SetInputStates(states map[string]bool) {
	for name, v := range states {
		node, ok := g.nodes[name]
		if !ok || !node.IsInput {
			continue
		}
		node.State = v
	}
}

// FixNode pins a node to a constant value, bypassing stochastic update.
func (g *GeneRegulatoryNetwork) FixNode(name string, value bool) {
	node, ok := g.nodes[name]
	if !ok {
		return
	}
	g.fixedNodes[name] = value
	node.State = value
	g.rebuildDerivedSets()
}

// Step performs exactly n asynchronous single-node updates and returns the
// full state snapshot afterward.
//
// Each unit step selects one updatable node uniformly at random and
// evaluates its rule against a snapshot of all current states captured
// before evaluation, so multi-input rules observe a consistent instant.
// At most one node changes per unit step; a no-op step is a valid outcome.
func (g *GeneRegulatoryNetwork) Step(n int) map[string]bool {
	for i := 0; i < n; i++ {
		if len(g.updatable) == 0 {
			break
		}
		name := g.updatable[g.rng.Intn(len(g.updatable))]
		node := g.nodes[name]

		snapshot := g.States()
		next, err := g.evalNode(node, snapshot)
		if err != nil {
			g.onError(name, err)
			next = false
		}
		if next != node.State {
			node.State = next
		}
	}
	return g.States()
}

func (g *GeneRegulatoryNetwork) evalNode(node *GraphNode, snapshot map[string]bool) (bool, error) {
	if node.Rule == nil {
		return false, errRuleMissing(node.Name)
	}
	return node.Rule.Eval(snapshot)
}

// InitializeLogicStates drives the non-input nodes to a self-consistent
// fixed point: full passes evaluate every rule against the current snapshot
// and overwrite mismatches, until a pass changes nothing or the safety cap
// is hit. Used once after random initialization.
func (g *GeneRegulatoryNetwork) InitializeLogicStates() {
	for pass := 0; pass < initializeLogicCap; pass++ {
		changed := false
		snapshot := g.States()
		for _, name := range g.updatable {
			node := g.nodes[name]
			next, err := g.evalNode(node, snapshot)
			if err != nil {
				g.onError(name, err)
				next = false
			}
			if next != node.State {
				node.State = next
				changed = true
			}
		}
		if !changed {
			return
		}
	}
}

// Reset sets every fate node to false and, when randomize is true, every
// other non-input node to a uniformly random value. Input nodes are
// untouched. Pinned nodes are force-set to their pinned value last.
func (g *GeneRegulatoryNetwork) Reset(randomize bool) {
	fate := make(map[string]struct{}, len(model.FateNodes))
	for _, name := range model.FateNodes {
		fate[name] = struct{}{}
	}
	for name, node := range g.nodes {
		if node.IsInput {
			continue
		}
		if _, isFate := fate[name]; isFate {
			node.State = false
			continue
		}
		if randomize {
			node.State = g.rng.Intn(2) == 1
		}
	}
	for name, v := range g.fixedNodes {
		if node, ok := g.nodes[name]; ok {
			node.State = v
		}
	}
}

// Clone deep-copies node states and topology into a fully independent
// network. Rule trees are shared: they are pure functions of their declared
// inputs and hold no mutable state.
func (g *GeneRegulatoryNetwork) Clone() *GeneRegulatoryNetwork {
	nodes := make(map[string]*GraphNode, len(g.nodes))
	for name, node := range g.nodes {
		copied := *node
		copied.Inputs = append([]string(nil), node.Inputs...)
		nodes[name] = &copied
	}
	clone := &GeneRegulatoryNetwork{
		nodes:      nodes,
		fixedNodes: make(map[string]bool, len(g.fixedNodes)),
		rng:        g.rng,
		onError:    g.onError,
	}
	for name, v := range g.fixedNodes {
		clone.fixedNodes[name] = v
	}
	clone.rebuildDerivedSets()
	return clone
}

type ruleMissingError string

func (e ruleMissingError) Error() string {
	return "node " + string(e) + " has no evaluable rule"
}

func errRuleMissing(name string) error { return ruleMissingError(name) }
