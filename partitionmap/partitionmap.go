// Package partitionmap implements PartitionMap: the globally replicated
// cell-to-owner vector, and the deterministic rebuild of local/ghost
// indexing and ghost-exchange descriptors from it (spec.md §4.2).
package partitionmap

import (
	"fmt"
	"sort"

	"github.com/hirschsn/repa/globalbox"
	"github.com/hirschsn/repa/index"
	"github.com/hirschsn/repa/internal/assert"
)

// GhostExchangeDesc is GED(r,s): the ordered pair of vectors listing local
// cells of r that must be sent to s, and ghost cells of r receiving from
// s. Both are sorted on send-side global cell index (spec.md §3 invariant
// 3/4).
type GhostExchangeDesc struct {
	Neighbor index.RankIndex
	Send     []index.LocalCellIndex
	Recv     []index.GhostCellIndex
}

// Map is the replicated partition vector plus the local/ghost structures
// derived from it for a single rank.
type Map struct {
	box  *globalbox.GlobalBox
	rank index.RankIndex

	// partition[g] is the owning rank of global cell g, or UnknownRank.
	partition []index.RankIndex

	// cells[0:nLocal] are L(r) in ascending global-index order;
	// cells[nLocal:] are G(r) in first-visited order.
	cells  []index.GlobalCellIndex
	nLocal int

	globalToLocal map[index.GlobalCellIndex]index.LocalOrGhost

	// neighbors is N(r), deduplicated, in ascending rank order.
	neighbors []index.RankIndex

	// borderCells[l] is the set of neighbor ranks across whose border
	// local cell l sits.
	borderCells map[index.LocalCellIndex]map[index.RankIndex]struct{}

	geds map[index.RankIndex]*GhostExchangeDesc
}

// New wraps an existing, globally replicated partition vector (length
// box.NCells()) for the given rank, without yet running Rebuild.
func New(box *globalbox.GlobalBox, rank index.RankIndex, partition []index.RankIndex) (*Map, error) {
	if len(partition) != box.NCells() {
		return nil, fmt.Errorf("repa: partition vector length %d != NCells %d", len(partition), box.NCells())
	}
	return &Map{box: box, rank: rank, partition: partition}, nil
}

// Partition returns the live, globally replicated partition vector. A
// partitioner mutates this in place before calling Rebuild.
func (m *Map) Partition() []index.RankIndex { return m.partition }

// Rank returns the rank this Map is built for.
func (m *Map) Rank() index.RankIndex { return m.rank }

// NLocalCells returns |L(r)|.
func (m *Map) NLocalCells() int { return m.nLocal }

// NGhostCells returns |G(r)|.
func (m *Map) NGhostCells() int { return len(m.cells) - m.nLocal }

// LocalGlobal returns the global cell index of local cell l.
func (m *Map) LocalGlobal(l index.LocalCellIndex) index.GlobalCellIndex {
	return m.cells[int(l)]
}

// GhostGlobal returns the global cell index of ghost cell g.
func (m *Map) GhostGlobal(g index.GhostCellIndex) index.GlobalCellIndex {
	return m.cells[m.nLocal+int(g)]
}

// GlobalToLocalOrGhost maps a global cell index to its local-or-ghost
// index on this rank, if cached.
func (m *Map) GlobalToLocalOrGhost(g index.GlobalCellIndex) (index.LocalOrGhost, bool) {
	l, ok := m.globalToLocal[g]
	return l, ok
}

// NeighborRanks returns N(r): the deduplicated set of ranks owning at
// least one cell in this rank's ghost layer, in ascending order.
func (m *Map) NeighborRanks() []index.RankIndex {
	out := make([]index.RankIndex, len(m.neighbors))
	copy(out, m.neighbors)
	return out
}

// BoundaryInfo returns the GhostExchangeDesc for every neighbor, in
// ascending neighbor-rank order.
func (m *Map) BoundaryInfo() []GhostExchangeDesc {
	out := make([]GhostExchangeDesc, 0, len(m.neighbors))
	for _, s := range m.neighbors {
		out = append(out, *m.geds[s])
	}
	return out
}

// Rebuild re-derives cells, globalToLocal, neighbors, borderCells and the
// ghost-exchange descriptors from the current partition vector, following
// the three numbered passes of spec.md §4.2. It is the only place that
// creates GhostExchangeDesc values, which guarantees invariant (3) (send
// lists are sorted by global index; the caller's neighbor rebuilds the
// matching recv list independently from the same rule, so they agree).
func (m *Map) Rebuild() error {
	n := m.box.NCells()

	// Pass 1: classify locals.
	m.cells = m.cells[:0]
	m.globalToLocal = make(map[index.GlobalCellIndex]index.LocalOrGhost)
	m.nLocal = 0
	for g := 0; g < n; g++ {
		gi := index.GlobalCellIndex(g)
		if m.partition[g] == m.rank {
			li := index.LocalCellIndex(m.nLocal)
			m.cells = append(m.cells, gi)
			m.globalToLocal[gi] = index.NewLocal(li)
			m.nLocal++
		}
	}

	// Pass 2: discover ghosts, border cells, and per-neighbor working lists.
	m.borderCells = make(map[index.LocalCellIndex]map[index.RankIndex]struct{})
	type pending struct {
		send []index.LocalCellIndex // local cells of r sent to s
		recv []index.GhostCellIndex // ghost cells of r received from s, parallel by global order
	}
	tmp := make(map[index.RankIndex]*pending)
	ghostCount := 0

	for li := 0; li < m.nLocal; li++ {
		g := m.cells[li]
		shell, err := m.box.FullShellNeighWithoutCenter(g)
		if err != nil {
			return fmt.Errorf("repa: partitionmap rebuild: %w", err)
		}
		for _, gp := range shell {
			s := m.partition[int(gp)]
			if s == m.rank {
				continue
			}
			if s == index.UnknownRank {
				// Ownership not yet cached; cannot build a descriptor for
				// it. The caller (a partitioner mid-repartition) is
				// responsible for ensuring this cannot happen once a
				// repartition round is declared complete (invariant 2).
				continue
			}
			loG, known := m.globalToLocal[gp]
			if !known {
				gi := index.GhostCellIndex(ghostCount)
				m.cells = append(m.cells, gp)
				m.globalToLocal[gp] = index.NewGhost(gi)
				loG = index.NewGhost(gi)
				ghostCount++
			}
			if m.borderCells[index.LocalCellIndex(li)] == nil {
				m.borderCells[index.LocalCellIndex(li)] = make(map[index.RankIndex]struct{})
			}
			m.borderCells[index.LocalCellIndex(li)][s] = struct{}{}

			p, ok := tmp[s]
			if !ok {
				p = &pending{}
				tmp[s] = p
			}
			ghostIdx, _ := loG.GhostIdx()
			p.send = append(p.send, index.LocalCellIndex(li))
			p.recv = append(p.recv, ghostIdx)
		}
	}

	// Pass 3: materialize GED(r,s) for every non-empty tmp[s]. send and
	// recv are sorted independently, each by the global index of the
	// cell it names: send by the global index of r's own local cell
	// (trivially known to r), recv by the global index of the ghost
	// cell (also known to r, since it is cached as a ghost). Two ranks
	// that each sort this way agree on order without exchanging
	// anything, which is what makes reciprocity (invariant 3) hold.
	m.geds = make(map[index.RankIndex]*GhostExchangeDesc)
	m.neighbors = m.neighbors[:0]
	for s, p := range tmp {
		if len(p.send) == 0 {
			continue
		}
		send := append([]index.LocalCellIndex(nil), p.send...)
		sort.Slice(send, func(i, j int) bool {
			return m.LocalGlobal(send[i]) < m.LocalGlobal(send[j])
		})
		recv := append([]index.GhostCellIndex(nil), p.recv...)
		sort.Slice(recv, func(i, j int) bool {
			return m.GhostGlobal(recv[i]) < m.GhostGlobal(recv[j])
		})

		m.geds[s] = &GhostExchangeDesc{Neighbor: s, Send: send, Recv: recv}
		m.neighbors = append(m.neighbors, s)
	}
	sort.Slice(m.neighbors, func(i, j int) bool { return m.neighbors[i] < m.neighbors[j] })
	for i := 1; i < len(m.neighbors); i++ {
		assert.Invariant(m.neighbors[i] != m.neighbors[i-1], "duplicate neighbor rank %d in rebuilt neighbor list", m.neighbors[i])
	}

	return nil
}
