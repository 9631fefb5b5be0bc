// Package globalbox provides GlobalBox, the pure indexing service over a
// fixed cubical grid: global linearization, periodic full/half-shell
// neighborhoods, and position-to-cell lookup. See spec.md §4.1.
package globalbox

import (
	"fmt"
	"math"

	"github.com/hirschsn/repa/index"
	"github.com/hirschsn/repa/internal/assert"
)

// Vec3 is a position in the simulation box.
type Vec3 [3]float64

// DomainError is returned for a position outside the box, or an out-of-range
// cell/neighbor index.
type DomainError struct {
	Op  string
	Msg string
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("repa: domain error in %s: %s", e.Op, e.Msg)
}

// halfShellOffsets holds the 13 canonical non-zero offsets, in lexicographic
// order over (dz,dy,dx) in {-1,0,1}^3, that together with cell self-pairs
// visit each unordered neighbor pair exactly once (spec.md §4.1's "implementers
// must fix a specific enumeration").
var halfShellOffsets [13][3]int

// shellOffsets[0..25] is the full-shell table: [0..12] == halfShellOffsets,
// [13..25] == their negations, in the same order. Index k-1 for k in [1,27)
// of GlobalBox.neighbor.
var shellOffsets [26][3]int

func init() {
	var all [][3]int
	for dz := -1; dz <= 1; dz++ {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dz == 0 && dy == 0 && dx == 0 {
					continue
				}
				all = append(all, [3]int{dz, dy, dx})
			}
		}
	}
	for i := 0; i < 13; i++ {
		halfShellOffsets[i] = all[i]
		shellOffsets[i] = all[i]
	}
	for i := 0; i < 13; i++ {
		o := all[i]
		shellOffsets[13+i] = [3]int{-o[0], -o[1], -o[2]}
	}

	seen := make(map[[3]int]struct{}, 26)
	for _, o := range shellOffsets {
		seen[o] = struct{}{}
	}
	assert.Invariant(len(seen) == 26, "full-shell offset table has %d distinct entries, want 26", len(seen))
}

// GlobalBox indexes a fixed, fully periodic 3D cell grid over a box of
// size L subdivided into cells no smaller than hmin.
type GlobalBox struct {
	l    Vec3
	hmin float64
	n    [3]int     // Nx, Ny, Nz
	h    [3]float64 // cell edge per axis
}

// New computes Ni = floor(Li/hmin), Ni >= 1, and the per-axis cell edge
// hi = Li/Ni.
func New(l Vec3, hmin float64) (*GlobalBox, error) {
	if hmin <= 0 {
		return nil, &DomainError{Op: "New", Msg: "hmin must be positive"}
	}
	var n [3]int
	var h [3]float64
	for i := 0; i < 3; i++ {
		if l[i] <= 0 {
			return nil, &DomainError{Op: "New", Msg: fmt.Sprintf("box side %d must be positive", i)}
		}
		ni := int(math.Floor(l[i] / hmin))
		if ni < 1 {
			ni = 1
		}
		n[i] = ni
		h[i] = l[i] / float64(ni)
	}
	return &GlobalBox{l: l, hmin: hmin, n: n, h: h}, nil
}

// GridSize returns (Nx, Ny, Nz).
func (b *GlobalBox) GridSize() [3]int { return b.n }

// CellSize returns the per-axis cell edge (hx, hy, hz).
func (b *GlobalBox) CellSize() [3]float64 { return b.h }

// BoxSize returns the configured box side lengths.
func (b *GlobalBox) BoxSize() Vec3 { return b.l }

// NCells returns N = Nx*Ny*Nz.
func (b *GlobalBox) NCells() int { return b.n[0] * b.n[1] * b.n[2] }

// linearize maps 3D cell coordinates to the row-major global index.
func (b *GlobalBox) linearize(ix, iy, iz int) index.GlobalCellIndex {
	return index.GlobalCellIndex((iz*b.n[1]+iy)*b.n[0] + ix)
}

// coords is the inverse of linearize.
func (b *GlobalBox) coords(g index.GlobalCellIndex) (ix, iy, iz int) {
	gi := int(g)
	ix = gi % b.n[0]
	gi /= b.n[0]
	iy = gi % b.n[1]
	iz = gi / b.n[1]
	return
}

func wrap(v, n int) int {
	v %= n
	if v < 0 {
		v += n
	}
	return v
}

// CellAtPos returns the cell containing position p. Positions within half
// a cell-width tolerance of the box faces are accepted and snapped onto
// the adjacent cell; positions strictly outside [−hi/2, Li+hi/2) are
// a DomainError. Implementations must agree across all ranks, which this
// achieves by using only p and the immutable grid geometry.
func (b *GlobalBox) CellAtPos(p Vec3) (index.GlobalCellIndex, error) {
	var c [3]int
	for i := 0; i < 3; i++ {
		tol := b.h[i] * 0.5
		if p[i] < -tol || p[i] >= b.l[i]+tol {
			return 0, &DomainError{Op: "CellAtPos", Msg: fmt.Sprintf("axis %d position %g outside box [0,%g)", i, p[i], b.l[i])}
		}
		ci := int(math.Floor(p[i] / b.h[i]))
		if ci < 0 {
			ci = 0
		}
		if ci >= b.n[i] {
			ci = b.n[i] - 1
		}
		c[i] = ci
	}
	return b.linearize(c[0], c[1], c[2]), nil
}

// Neighbor returns the full-shell neighbor of g at position k in [0,27),
// periodic modulo the grid. k=0 is g itself; k in [1,14) is the half
// shell; k in [14,27) completes the full shell (spec.md §4.1).
func (b *GlobalBox) Neighbor(g index.GlobalCellIndex, k int) (index.GlobalCellIndex, error) {
	if k < 0 || k >= 27 {
		return 0, &DomainError{Op: "Neighbor", Msg: fmt.Sprintf("k=%d out of range [0,27)", k)}
	}
	if int(g) < 0 || int(g) >= b.NCells() {
		return 0, &DomainError{Op: "Neighbor", Msg: fmt.Sprintf("cell %d out of range [0,%d)", g, b.NCells())}
	}
	if k == 0 {
		return g, nil
	}
	off := shellOffsets[k-1]
	ix, iy, iz := b.coords(g)
	ix = wrap(ix+off[2], b.n[0])
	iy = wrap(iy+off[1], b.n[1])
	iz = wrap(iz+off[0], b.n[2])
	return b.linearize(ix, iy, iz), nil
}

// FullShellNeigh returns all 27 periodic full-shell neighbors of g
// (including g itself at position 0), in the canonical k-order.
func (b *GlobalBox) FullShellNeigh(g index.GlobalCellIndex) ([27]index.GlobalCellIndex, error) {
	var out [27]index.GlobalCellIndex
	for k := 0; k < 27; k++ {
		n, err := b.Neighbor(g, k)
		if err != nil {
			return out, err
		}
		out[k] = n
	}
	return out, nil
}

// FullShellNeighWithoutCenter returns the 26 neighbors of g excluding g
// itself, in canonical k-order (k=1..26 of FullShellNeigh).
func (b *GlobalBox) FullShellNeighWithoutCenter(g index.GlobalCellIndex) ([26]index.GlobalCellIndex, error) {
	var out [26]index.GlobalCellIndex
	for k := 1; k < 27; k++ {
		n, err := b.Neighbor(g, k)
		if err != nil {
			return out, err
		}
		out[k-1] = n
	}
	return out, nil
}
