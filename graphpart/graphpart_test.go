package graphpart

import (
	"testing"

	"github.com/hirschsn/repa/globalbox"
)

func TestBuildDualGraphDegree(t *testing.T) {
	box, err := globalbox.New(globalbox.Vec3{1, 1, 1}, 1.0/3.0) // Ni=3, every cell neighbors every other
	if err != nil {
		t.Fatalf("globalbox.New: %v", err)
	}
	weights := make([]float64, box.NCells())
	for i := range weights {
		weights[i] = float64(i + 1)
	}
	g := buildDualGraph(box, weights)

	if g.Nodes().Len() != box.NCells() {
		t.Fatalf("graph has %d nodes, want %d", g.Nodes().Len(), box.NCells())
	}
	// In a 3x3x3 periodic grid every cell's full shell covers all 26
	// others, so the dual graph is complete: degree N-1 everywhere.
	nodes := g.Nodes()
	for nodes.Next() {
		u := nodes.Node().ID()
		if deg := g.From(u).Len(); deg != box.NCells()-1 {
			t.Errorf("node %d has degree %d, want %d", u, deg, box.NCells()-1)
		}
	}
}

func TestBuildDualGraphNoSelfLoops(t *testing.T) {
	box, err := globalbox.New(globalbox.Vec3{1, 1, 1}, 0.25) // Ni=4
	if err != nil {
		t.Fatalf("globalbox.New: %v", err)
	}
	weights := make([]float64, box.NCells())
	g := buildDualGraph(box, weights)
	if g.HasEdgeBetween(0, 0) {
		t.Fatalf("dual graph must not contain a self-loop")
	}
}
