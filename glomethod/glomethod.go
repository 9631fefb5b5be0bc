// Package glomethod provides the common scaffolding every global-map-based
// partitioner embeds: position queries, neighborhood reconstruction via
// partitionmap, the initial linear-Morton partition, the command channel,
// and the Fresh/Ready/Invalid lifecycle (spec.md §4.4, §4.6).
package glomethod

import (
	"fmt"
	"sort"

	"github.com/hirschsn/repa/comm"
	"github.com/hirschsn/repa/globalbox"
	"github.com/hirschsn/repa/index"
	"github.com/hirschsn/repa/morton"
	"github.com/hirschsn/repa/partitionmap"
)

// State is a partitioner instance's lifecycle state (spec.md §4.6).
type State int

const (
	// Fresh is valid only for destruction or AfterConstruction.
	Fresh State = iota
	// Ready accepts queries and Repartition.
	Ready
	// Invalid is the terminal state entered after a failed Repartition.
	Invalid
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "Fresh"
	case Ready:
		return "Ready"
	case Invalid:
		return "Invalid"
	default:
		return "unknown"
	}
}

// UnknownCommandError is returned by Command for an uninterpretable
// string (spec.md §6).
type UnknownCommandError struct{ Command string }

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("repa: unknown command %q", e.Command)
}

// FatalPartitionError is returned by Repartition when a rank would
// receive zero cells, or Stage B would leave an UNKNOWN_RANK around a
// local cell (spec.md §6). Receiving it leaves the instance Invalid.
type FatalPartitionError struct{ Msg string }

func (e *FatalPartitionError) Error() string {
	return fmt.Sprintf("repa: fatal partition error: %s", e.Msg)
}

// NotImplementedError is returned by the factory for partitioner names
// that are real but out of this core's scope (spec.md §1): "Cart",
// "KDTree", "GridBased", "HybridGPDiff". It is distinct from
// UnknownCommandError so callers can tell "not part of this core" apart
// from "typo".
type NotImplementedError struct{ Name string }

func (e *NotImplementedError) Error() string {
	return fmt.Sprintf("repa: partitioner %q is an out-of-scope external collaborator, not implemented by this core", e.Name)
}

// MigrationCallback is invoked exactly once by a Repartition that changes
// ownership, at the moment new-partition queries are authoritative but
// before local/ghost indices are rebuilt (spec.md §6). A round that
// changes nothing does not invoke it.
type MigrationCallback func()

// Base is embedded by Diffusion, SFC, and Graph partitioners. It owns the
// replicated partition map and the state machine; each concrete
// partitioner drives its own rebalancing algorithm and calls
// PMap.Rebuild once it has a new partition vector.
type Base struct {
	Box  *globalbox.GlobalBox
	Comm comm.Comm
	PMap *partitionmap.Map

	state State
}

// New builds a Base with an all-unknown partition vector; callers must
// still call AfterConstruction (directly, or via InstallLinearMortonSplit)
// before the instance leaves Fresh.
func New(box *globalbox.GlobalBox, c comm.Comm) (*Base, error) {
	partition := make([]index.RankIndex, box.NCells())
	for i := range partition {
		partition[i] = index.UnknownRank
	}
	pmap, err := partitionmap.New(box, c.Rank(), partition)
	if err != nil {
		return nil, err
	}
	return &Base{Box: box, Comm: c, PMap: pmap, state: Fresh}, nil
}

// State returns the current lifecycle state.
func (b *Base) State() State { return b.state }

// SetState transitions the lifecycle state. Concrete partitioners call
// this after AfterConstruction and after each Repartition attempt.
func (b *Base) SetState(s State) { b.state = s }

// RequireReady returns an error if the instance is not in Ready, per
// spec.md §4.6 ("Fresh is only valid for destruction or
// after_construction"; Invalid only for diagnosis).
func (b *Base) RequireReady(op string) error {
	if b.state != Ready {
		return fmt.Errorf("repa: %s: partitioner is %s, not Ready", op, b.state)
	}
	return nil
}

// InstallLinearMortonSplit installs the default initial partition: a
// linear Morton split placing contiguous global-Morton arcs onto ranks
// in proportion to 1/P (spec.md §4.6). It transitions Fresh -> Ready.
func (b *Base) InstallLinearMortonSplit() error {
	n := b.Box.NCells()
	gs := b.Box.GridSize()
	type cellMorton struct {
		g index.GlobalCellIndex
		m uint64
	}
	cells := make([]cellMorton, n)
	for g := 0; g < n; g++ {
		ix := g % gs[0]
		iy := (g / gs[0]) % gs[1]
		iz := g / (gs[0] * gs[1])
		cells[g] = cellMorton{g: index.GlobalCellIndex(g), m: morton.Encode(uint32(ix), uint32(iy), uint32(iz))}
	}
	sort.Slice(cells, func(i, j int) bool { return cells[i].m < cells[j].m })

	p := b.PMap.Partition()
	size := b.Comm.Size()
	per := float64(n) / float64(size)
	for i, c := range cells {
		r := int(float64(i) / per)
		if r >= size {
			r = size - 1
		}
		p[c.g] = index.RankIndex(r)
	}
	if err := b.PMap.Rebuild(); err != nil {
		return err
	}
	b.state = Ready
	return nil
}

// NLocalCells returns |L(r)|.
func (b *Base) NLocalCells() int { return b.PMap.NLocalCells() }

// NGhostCells returns |G(r)|.
func (b *Base) NGhostCells() int { return b.PMap.NGhostCells() }

// NeighborRanks returns N(r), deduplicated.
func (b *Base) NeighborRanks() []index.RankIndex { return b.PMap.NeighborRanks() }

// CellSize returns the per-axis cell edge.
func (b *Base) CellSize() [3]float64 { return b.Box.CellSize() }

// GridSize returns (Nx, Ny, Nz).
func (b *Base) GridSize() [3]int { return b.Box.GridSize() }

// GetBoundaryInfo returns the sequence of GhostExchangeDesc, one per
// neighbor rank.
func (b *Base) GetBoundaryInfo() []partitionmap.GhostExchangeDesc { return b.PMap.BoundaryInfo() }

// CellNeighborIndex returns the local-or-ghost index of local cell l's
// k-th full-shell neighbor (spec.md §6).
func (b *Base) CellNeighborIndex(l index.LocalCellIndex, k int) (index.LocalOrGhost, error) {
	if int(l) < 0 || int(l) >= b.PMap.NLocalCells() {
		return index.LocalOrGhost{}, &globalbox.DomainError{Op: "CellNeighborIndex", Msg: fmt.Sprintf("local cell %d out of range [0,%d)", l, b.PMap.NLocalCells())}
	}
	g := b.PMap.LocalGlobal(l)
	gp, err := b.Box.Neighbor(g, k)
	if err != nil {
		return index.LocalOrGhost{}, err
	}
	lg, ok := b.PMap.GlobalToLocalOrGhost(gp)
	if !ok {
		return index.LocalOrGhost{}, &globalbox.DomainError{Op: "CellNeighborIndex", Msg: fmt.Sprintf("neighbor cell %d of local cell %d is not cached (invariant 2 violation)", gp, l)}
	}
	return lg, nil
}

// PositionToCellIndex returns the global cell containing p.
func (b *Base) PositionToCellIndex(p globalbox.Vec3) (index.GlobalCellIndex, error) {
	return b.Box.CellAtPos(p)
}

// PositionToRank answers position_to_rank by looking up the replicated
// partition vector. It requires the owner of p's cell to be cached on
// this rank (spec.md §9: the replicated vector trades memory for O(1)
// queries, but UNKNOWN_RANK entries mean distant positions may not
// resolve locally); SFC overrides this with a globally-valid formula
// (spec.md §4.4).
func (b *Base) PositionToRank(p globalbox.Vec3) (index.RankIndex, error) {
	g, err := b.Box.CellAtPos(p)
	if err != nil {
		return 0, err
	}
	r := b.PMap.Partition()[g]
	if r == index.UnknownRank {
		return 0, &globalbox.DomainError{Op: "PositionToRank", Msg: fmt.Sprintf("owner of cell %d is not cached on this rank", g)}
	}
	return r, nil
}

// GlobalHashRelease is the release-mode global_hash: a constant, per
// spec.md §7 ("in release builds it may return a constant"). The debug
// build (tag repa_debug) overrides this; see global_hash_debug.go.
const GlobalHashRelease index.GlobalCellIndex = 0
