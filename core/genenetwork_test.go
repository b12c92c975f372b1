package core

import (
	"math/rand"
	"testing"

	"github.com/cellfoundry/tissue-simulator/internal/logging"
)

func buildNetwork(t *testing.T, rng *rand.Rand, nodes ...NodeDefinition) *GeneRegulatoryNetwork {
	t.Helper()
	net, err := BuildGeneNetwork(&NetworkDefinition{Nodes: nodes}, rng, logging.Noop())
	if err != nil {
		t.Fatalf("BuildGeneNetwork: %v", err)
	}
	return net
}

// fateChain is a small network whose four fate nodes are all driven by a
// single input, plus an intermediate node.
func fateChain(t *testing.T, rng *rand.Rand) *GeneRegulatoryNetwork {
	t.Helper()
	return buildNetwork(t, rng,
		NodeDefinition{Name: "Oxygen_supply", IsInput: true},
		NodeDefinition{Name: "Energy", Logic: "Oxygen_supply"},
		NodeDefinition{Name: "Proliferation", Logic: "Energy"},
		NodeDefinition{Name: "Growth_Arrest", Logic: "NOT Energy"},
		NodeDefinition{Name: "Apoptosis", Logic: "FALSE"},
		NodeDefinition{Name: "Necrosis", Logic: "FALSE"},
	)
}

func diffCount(a, b map[string]bool) int {
	n := 0
	for k, v := range a {
		if b[k] != v {
			n++
		}
	}
	return n
}

// Each unit step selects one node and evaluates one rule, so consecutive
// snapshots may differ in at most one node.
func TestStep_AtMostOneFlipPerUnitStep(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	net := fateChain(t, rng)
	net.SetInputStates(map[string]bool{"Oxygen_supply": true})

	prev := net.States()
	for i := 0; i < 200; i++ {
		next := net.Step(1)
		if d := diffCount(prev, next); d > 1 {
			t.Fatalf("unit step %d changed %d nodes, want at most 1", i, d)
		}
		prev = next
	}
}

func TestStep_NeverTouchesInputs(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	net := fateChain(t, rng)
	net.SetInputStates(map[string]bool{"Oxygen_supply": true})

	for i := 0; i < 100; i++ {
		states := net.Step(1)
		if !states["Oxygen_supply"] {
			t.Fatalf("input node changed by step %d", i)
		}
	}
}

func TestSetInputStates_IgnoresUnknownAndNonInput(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	net := fateChain(t, rng)

	before := net.States()["Energy"]
	net.SetInputStates(map[string]bool{
		"Energy":        !before, // non-input, must be ignored
		"NoSuch":        true,
		"Oxygen_supply": true,
	})
	if net.States()["Energy"] != before {
		t.Fatalf("SetInputStates modified a non-input node")
	}
	if !net.States()["Oxygen_supply"] {
		t.Fatalf("SetInputStates did not set the input node")
	}
}

func TestReset_FateNodesFalseInputsUntouched(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	net := fateChain(t, rng)
	net.SetInputStates(map[string]bool{"Oxygen_supply": true})
	net.Node("Proliferation").State = true
	net.Node("Necrosis").State = true

	net.Reset(true)

	states := net.States()
	for _, fate := range []string{"Necrosis", "Apoptosis", "Proliferation", "Growth_Arrest"} {
		if states[fate] {
			t.Fatalf("fate node %s should be false after reset", fate)
		}
	}
	if !states["Oxygen_supply"] {
		t.Fatalf("reset must not touch input nodes")
	}
}

func TestInitializeLogicStates_ReachesFixedPoint(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	net := buildNetwork(t, rng,
		NodeDefinition{Name: "I", IsInput: true, State: true},
		NodeDefinition{Name: "A", Logic: "I"},
		NodeDefinition{Name: "B", Logic: "A"},
	)

	net.InitializeLogicStates()

	states := net.States()
	if !states["A"] || !states["B"] {
		t.Fatalf("fixed point not reached: %v", states)
	}
	// A fixed point is stable under further passes.
	net.InitializeLogicStates()
	after := net.States()
	if diffCount(states, after) != 0 {
		t.Fatalf("second initialization changed a converged network: %v -> %v", states, after)
	}
}

// Two-node relay: once the downstream node has picked up the input value,
// repeated stepping never moves it again.
func TestStep_TwoNodeConvergence(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	net := buildNetwork(t, rng,
		NodeDefinition{Name: "A", IsInput: true, State: true},
		NodeDefinition{Name: "B", Logic: "A"},
	)

	// Only B is updatable, so one step converges.
	states := net.Step(1)
	if !states["B"] {
		t.Fatalf("B should copy A after one step")
	}
	for i := 0; i < 50; i++ {
		if !net.Step(1)["B"] {
			t.Fatalf("B left its fixed point on step %d", i)
		}
	}
}

func TestClone_IsIndependent(t *testing.T) {
	rng := rand.New(rand.NewSource(21))
	orig := fateChain(t, rng)
	orig.SetInputStates(map[string]bool{"Oxygen_supply": true})

	clone := orig.Clone()
	clone.Node("Energy").State = !orig.Node("Energy").State

	if orig.Node("Energy").State == clone.Node("Energy").State {
		t.Fatalf("clone shares node state with the original")
	}

	clone.SetInputStates(map[string]bool{"Oxygen_supply": false})
	if !orig.States()["Oxygen_supply"] {
		t.Fatalf("clone input write leaked into the original")
	}
}

func TestFixNode_PinnedValueSurvivesStepsAndReset(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	net := fateChain(t, rng)
	net.SetInputStates(map[string]bool{"Oxygen_supply": false})
	net.FixNode("Energy", true)

	net.Step(100)
	if !net.States()["Energy"] {
		t.Fatalf("pinned node was updated away from its pinned value")
	}

	net.Reset(true)
	if !net.States()["Energy"] {
		t.Fatalf("pinned node lost its value across reset")
	}
}

func TestStep_BrokenRuleReportsErrorAndEvaluatesFalse(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	nodes := map[string]*GraphNode{
		"Broken": {Name: "Broken", State: true}, // no rule
	}
	net := NewGeneRegulatoryNetwork(nodes, rng)

	var reported []string
	net.SetEvalErrorFunc(func(node string, err error) {
		reported = append(reported, node)
	})

	states := net.Step(1)
	if states["Broken"] {
		t.Fatalf("broken-rule node should evaluate to false")
	}
	if len(reported) != 1 || reported[0] != "Broken" {
		t.Fatalf("eval error callback = %v, want one report for Broken", reported)
	}
}
