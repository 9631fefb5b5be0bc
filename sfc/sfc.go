// Package sfc implements SFCPartitioner (spec.md §4.4): assignment of
// contiguous arcs of a Morton/Z-order curve over the cell grid to ranks
// in proportion to their target load, with a globally valid
// position_to_rank computed from a replicated rank-boundary prefix
// vector rather than the replicated partition map.
package sfc

import (
	"sort"

	"github.com/hirschsn/repa/comm"
	"github.com/hirschsn/repa/glomethod"
	"github.com/hirschsn/repa/globalbox"
	"github.com/hirschsn/repa/index"
	"github.com/hirschsn/repa/metric"
	"github.com/hirschsn/repa/morton"
)

// Partitioner is the space-filling-curve partitioner.
type Partitioner struct {
	*glomethod.Base

	nQuadsPerProc    []int
	nodeFirstCellIdx []uint64 // length Size()+1, Morton index of each rank's first cell
}

// New constructs an SFC partitioner in the Fresh state.
func New(box *globalbox.GlobalBox, c comm.Comm) (*Partitioner, error) {
	base, err := glomethod.New(box, c)
	if err != nil {
		return nil, err
	}
	p := &Partitioner{Base: base}
	p.nQuadsPerProc = make([]int, c.Size())
	p.nodeFirstCellIdx = make([]uint64, c.Size()+1)
	return p, nil
}

// AfterConstruction installs the default initial partition, then derives
// nodeFirstCellIdx from it.
func (p *Partitioner) AfterConstruction() error {
	if err := p.InstallLinearMortonSplit(); err != nil {
		return err
	}
	p.recomputeNodeFirstCellIdx()
	return nil
}

// Command recognizes no tuning strings for SFC (spec.md §6).
func (p *Partitioner) Command(s string) error {
	return &glomethod.UnknownCommandError{Command: s}
}

func (p *Partitioner) mortonOf(g index.GlobalCellIndex) uint64 {
	gs := p.Box.GridSize()
	gi := int(g)
	ix := gi % gs[0]
	iy := (gi / gs[0]) % gs[1]
	iz := gi / (gs[0] * gs[1])
	return morton.Encode(uint32(ix), uint32(iy), uint32(iz))
}

// ceilCube returns N rounded up to the next (2^L)^3, L = CubeSideBits.
func (p *Partitioner) ceilCube() uint64 {
	gs := p.Box.GridSize()
	l := morton.CubeSideBits(gs[0], gs[1], gs[2])
	side := uint64(1) << l
	return side * side * side
}

func (p *Partitioner) recomputeNodeFirstCellIdx() {
	partition := p.PMap.Partition()
	n := p.Box.NCells()
	best := make([]uint64, p.Comm.Size())
	seen := make([]bool, p.Comm.Size())
	for g := 0; g < n; g++ {
		r := int(partition[g])
		if r < 0 || r >= p.Comm.Size() {
			continue
		}
		m := p.mortonOf(index.GlobalCellIndex(g))
		if !seen[r] || m < best[r] {
			best[r] = m
			seen[r] = true
		}
	}
	for r := range best {
		p.nodeFirstCellIdx[r] = best[r]
	}
	p.nodeFirstCellIdx[len(p.nodeFirstCellIdx)-1] = p.ceilCube()
}

// PositionToRank overrides Base's cache-dependent lookup with the
// globally valid formula spec.md §4.4 gives: upper_bound(
// node_first_cell_idx, morton(p)) - 1. SFC and the out-of-scope Cartesian
// baseline are the only two partitioners that can answer this without
// consulting any locally cached ownership.
func (p *Partitioner) PositionToRank(pos globalbox.Vec3) (index.RankIndex, error) {
	g, err := p.Box.CellAtPos(pos)
	if err != nil {
		return 0, err
	}
	m := p.mortonOf(g)
	idx := sort.Search(len(p.nodeFirstCellIdx), func(i int) bool { return p.nodeFirstCellIdx[i] > m })
	return index.RankIndex(idx - 1), nil
}

// Repartition runs one round of Morton-curve rebalancing (spec.md §4.4).
func (p *Partitioner) Repartition(m metric.CellMetric, cb glomethod.MigrationCallback) (bool, error) {
	if err := p.RequireReady("Repartition"); err != nil {
		return false, err
	}

	weights, err := m()
	if err != nil {
		return false, err
	}
	if verr := metric.Validate(weights, p.NLocalCells()); verr != nil {
		return false, verr
	}

	var ownLoad float64
	for _, w := range weights {
		ownLoad += w
	}
	prefix := p.Comm.ExscanFloat64(ownLoad)
	total := p.Comm.AllreduceFloat64(ownLoad, comm.OpSum)
	size := p.Comm.Size()
	target := total / float64(size)
	if target <= 0 {
		target = 1
	}

	// Walk local cells in Morton order, accumulating a running partial
	// sum starting at this rank's global prefix, assigning each cell to
	// floor(partial/target), clamped to the last rank.
	type cellW struct {
		g index.GlobalCellIndex
		m uint64
		w float64
	}
	cells := make([]cellW, p.NLocalCells())
	for li := 0; li < p.NLocalCells(); li++ {
		g := p.PMap.LocalGlobal(index.LocalCellIndex(li))
		cells[li] = cellW{g: g, m: p.mortonOf(g), w: weights[li]}
	}
	sort.Slice(cells, func(i, j int) bool { return cells[i].m < cells[j].m })

	n := p.Box.NCells()
	localAssign := make([]int, n)
	for i := range localAssign {
		localAssign[i] = -1
	}
	localCounts := make([]int, size)
	partial := prefix
	for _, c := range cells {
		// Assign using the partial sum accumulated before this cell (so a
		// rank's own first cell lands at its own exscan prefix, not one
		// cell short), then fold the cell's weight in for the next one.
		r := int(partial / target)
		if r >= size {
			r = size - 1
		}
		if r < 0 {
			r = 0
		}
		localAssign[int(c.g)] = r
		localCounts[r]++
		partial += c.w
	}

	globalAssign := p.Comm.AllreduceInts(localAssign, comm.OpMax)
	p.nQuadsPerProc = p.Comm.AllreduceInts(localCounts, comm.OpSum)

	if p.nQuadsPerProc[p.Comm.Rank()] == 0 {
		p.SetState(glomethod.Invalid)
		return false, &glomethod.FatalPartitionError{Msg: "rank would receive zero cells"}
	}

	old := p.PMap.Partition()
	changed := false
	for g, r := range globalAssign {
		if r < 0 {
			// No rank's walk covered this cell; keep its prior owner.
			continue
		}
		nr := index.RankIndex(r)
		if old[g] != nr {
			changed = true
		}
		old[g] = nr
	}
	if !changed {
		return false, nil
	}

	// node_first_cell_idx must reflect the new boundaries before the
	// callback runs: it needs only the partition vector (already written
	// above), not the local/ghost structures Rebuild derives, so
	// position_to_rank answers consistently with the forthcoming layout
	// while the callback executes (spec.md §4.4/§6).
	p.recomputeNodeFirstCellIdx()
	if cb != nil {
		cb()
	}
	if err := p.PMap.Rebuild(); err != nil {
		p.SetState(glomethod.Invalid)
		return false, &glomethod.FatalPartitionError{Msg: err.Error()}
	}
	return true, nil
}
