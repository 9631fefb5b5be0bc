package globalbox

import (
	"testing"

	"github.com/hirschsn/repa/index"
)

func TestNewGridSize(t *testing.T) {
	b, err := New(Vec3{1, 1, 1}, 0.1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if g := b.GridSize(); g != [3]int{10, 10, 10} {
		t.Fatalf("GridSize() = %v, want (10,10,10)", g)
	}
	if n := b.NCells(); n != 1000 {
		t.Fatalf("NCells() = %d, want 1000", n)
	}
}

func TestCellAtPosBoundsAndTolerance(t *testing.T) {
	b, err := New(Vec3{1, 1, 1}, 0.1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	g, err := b.CellAtPos(Vec3{0.01, 0.01, 0.01})
	if err != nil || g != 0 {
		t.Fatalf("CellAtPos(0.01,...) = (%d,%v), want (0,nil)", g, err)
	}
	// Half-cell tolerance past the box edge should still resolve.
	if _, err := b.CellAtPos(Vec3{1.0 + 0.04, 0, 0}); err != nil {
		t.Fatalf("CellAtPos within half-cell tolerance should not error: %v", err)
	}
	if _, err := b.CellAtPos(Vec3{2.0, 0, 0}); err == nil {
		t.Fatalf("CellAtPos far outside the box should error")
	}
}

func TestNeighborPeriodicWrap(t *testing.T) {
	b, err := New(Vec3{1, 1, 1}, 0.5) // Ni = 2
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	g0, err := b.Neighbor(0, 0)
	if err != nil || g0 != 0 {
		t.Fatalf("Neighbor(0,0) = (%d,%v), want (0,nil)", g0, err)
	}
	shell, err := b.FullShellNeighWithoutCenter(0)
	if err != nil {
		t.Fatalf("FullShellNeighWithoutCenter: %v", err)
	}
	if len(shell) != 26 {
		t.Fatalf("len(shell) = %d, want 26", len(shell))
	}
	// In a 2x2x2 periodic grid every one of the other 7 cells must appear,
	// each through multiple periodic images (spec.md §8 boundary case).
	counts := make(map[index.GlobalCellIndex]int)
	for _, gp := range shell {
		counts[gp]++
	}
	if len(counts) != 7 {
		t.Fatalf("distinct neighbor cells = %d, want 7 (cell 0 excluded from its own shell)", len(counts))
	}
	for gp, c := range counts {
		if c < 2 {
			t.Errorf("cell %d appears only %d times in the shell of 0, want >= 2 (periodic images)", gp, c)
		}
	}
}

func TestHalfShellCoversEachPairOnce(t *testing.T) {
	b, err := New(Vec3{1, 1, 1}, 1.0/3.0) // Ni = 3, large enough to avoid self-wrap collisions
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	n := b.NCells()
	type pair struct{ a, b index.GlobalCellIndex }
	seen := make(map[pair]int)
	for g := 0; g < n; g++ {
		for k := 1; k < 14; k++ {
			gp, err := b.Neighbor(index.GlobalCellIndex(g), k)
			if err != nil {
				t.Fatalf("Neighbor(%d,%d): %v", g, k, err)
			}
			a, bb := index.GlobalCellIndex(g), gp
			if a > bb {
				a, bb = bb, a
			}
			seen[pair{a, bb}]++
		}
	}
	for p, c := range seen {
		if c != 1 {
			t.Errorf("unordered pair (%d,%d) visited %d times by the half shell, want exactly 1", p.a, p.b, c)
		}
	}
}

func TestNCellsAtLeastOne(t *testing.T) {
	b, err := New(Vec3{0.05, 0.05, 0.05}, 0.1) // hmin bigger than the box
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if g := b.GridSize(); g != [3]int{1, 1, 1} {
		t.Fatalf("GridSize() = %v, want (1,1,1) when hmin exceeds the box", g)
	}
}
