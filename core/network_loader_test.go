package core

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/cellfoundry/tissue-simulator/internal/logging"
)

func TestLoadNetworkDefinition(t *testing.T) {
	src := `{
		"name": "demo",
		"nodes": [
			{"name": "Oxygen_supply", "input": true},
			{"name": "Energy", "logic": "Oxygen_supply"},
			{"name": "Proliferation", "logic": "Energy", "output": true}
		]
	}`
	def, err := LoadNetworkDefinition(strings.NewReader(src))
	if err != nil {
		t.Fatalf("LoadNetworkDefinition: %v", err)
	}
	if def.Name != "demo" || len(def.Nodes) != 3 {
		t.Fatalf("definition = %+v", def)
	}
	if !def.Nodes[0].IsInput || def.Nodes[0].Logic != "" {
		t.Fatalf("input node decoded wrong: %+v", def.Nodes[0])
	}
}

func TestLoadNetworkDefinition_Errors(t *testing.T) {
	if _, err := LoadNetworkDefinition(strings.NewReader("{not json")); err == nil {
		t.Fatalf("expected decode error")
	}
	if _, err := LoadNetworkDefinition(strings.NewReader(`{"nodes": []}`)); err == nil {
		t.Fatalf("expected error for empty node list")
	}
}

func TestBuildGeneNetwork_Validation(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	cases := []struct {
		name  string
		nodes []NodeDefinition
	}{
		{"empty name", []NodeDefinition{{Logic: "TRUE"}}},
		{"duplicate node", []NodeDefinition{
			{Name: "A", IsInput: true},
			{Name: "A", IsInput: true},
		}},
		{"input with logic", []NodeDefinition{{Name: "A", IsInput: true, Logic: "TRUE"}}},
		{"no logic no input", []NodeDefinition{{Name: "A"}}},
		{"unknown reference", []NodeDefinition{{Name: "A", Logic: "Ghost"}}},
	}
	for _, tc := range cases {
		_, err := BuildGeneNetwork(&NetworkDefinition{Nodes: tc.nodes}, rng, logging.Noop())
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

// A logic string that fails to parse keeps the node with a nil rule: the
// node evaluates to false and reports an error, construction succeeds.
func TestBuildGeneNetwork_UnparsableRuleDegradesToFalse(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	net, err := BuildGeneNetwork(&NetworkDefinition{Nodes: []NodeDefinition{
		{Name: "I", IsInput: true},
		{Name: "Broken", Logic: "I AND AND", State: true},
	}}, rng, logging.Noop())
	if err != nil {
		t.Fatalf("BuildGeneNetwork: %v", err)
	}

	var failures int
	net.SetEvalErrorFunc(func(string, error) { failures++ })

	states := net.Step(10)
	if states["Broken"] {
		t.Fatalf("broken node should settle at false")
	}
	if failures == 0 {
		t.Fatalf("broken rule should report evaluation errors")
	}
}

func TestBuildGeneNetwork_DerivesOutputs(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	net, err := BuildGeneNetwork(&NetworkDefinition{Nodes: []NodeDefinition{
		{Name: "I", IsInput: true},
		{Name: "Mid", Logic: "I"},
		{Name: "Leaf", Logic: "Mid"},
	}}, rng, logging.Noop())
	if err != nil {
		t.Fatalf("BuildGeneNetwork: %v", err)
	}

	outputs := net.OutputNodes()
	if len(outputs) != 1 || outputs[0] != "Leaf" {
		t.Fatalf("OutputNodes = %v, want [Leaf]", outputs)
	}
	inputs := net.InputNodes()
	if len(inputs) != 1 || inputs[0] != "I" {
		t.Fatalf("InputNodes = %v, want [I]", inputs)
	}
}
