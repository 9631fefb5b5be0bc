// Package index defines the strongly typed cell/rank indices used
// throughout repa. Mixing a global cell index with a local cell index is a
// compile error: they are distinct defined types, not plain ints.
package index

import "fmt"

// GlobalCellIndex identifies a cell in the replicated global grid,
// g in [0, Nx*Ny*Nz).
type GlobalCellIndex int

// LocalCellIndex identifies a cell within a rank's owned section L(r),
// in ascending global-index order.
type LocalCellIndex int

// GhostCellIndex identifies a cell within a rank's ghost section G(r),
// in first-visited order during the local/ghost rebuild.
type GhostCellIndex int

// RankIndex identifies a participating process.
type RankIndex int

// UnknownRank is the sentinel marking a cell whose ownership is not
// currently cached on this rank (spec's UNKNOWN_RANK).
const UnknownRank RankIndex = -1

// Kind tags which arm of a LocalOrGhost is populated.
type Kind uint8

const (
	// Local tags a LocalOrGhost carrying a LocalCellIndex.
	Local Kind = iota
	// Ghost tags a LocalOrGhost carrying a GhostCellIndex.
	Ghost
)

// LocalOrGhost is the tagged union of local and ghost cell indices used
// wherever a per-rank cell enumeration mixes owned and ghost cells (e.g.
// cell_neighbor_index's return value).
type LocalOrGhost struct {
	kind  Kind
	local LocalCellIndex
	ghost GhostCellIndex
}

// NewLocal builds a LocalOrGhost tagged as Local.
func NewLocal(i LocalCellIndex) LocalOrGhost {
	return LocalOrGhost{kind: Local, local: i}
}

// NewGhost builds a LocalOrGhost tagged as Ghost.
func NewGhost(i GhostCellIndex) LocalOrGhost {
	return LocalOrGhost{kind: Ghost, ghost: i}
}

// Kind reports whether this value is a Local or Ghost index.
func (l LocalOrGhost) Kind() Kind { return l.kind }

// IsLocal reports whether this value tags a local cell.
func (l LocalOrGhost) IsLocal() bool { return l.kind == Local }

// IsGhost reports whether this value tags a ghost cell.
func (l LocalOrGhost) IsGhost() bool { return l.kind == Ghost }

// Local returns the local index and true if this value is tagged Local.
func (l LocalOrGhost) Local() (LocalCellIndex, bool) {
	return l.local, l.kind == Local
}

// GhostIdx returns the ghost index and true if this value is tagged Ghost.
func (l LocalOrGhost) GhostIdx() (GhostCellIndex, bool) {
	return l.ghost, l.kind == Ghost
}

// RawIndex returns a single composite index over the local/ghost cell
// enumeration used by PartitionMap: locals occupy [0, nLocal), ghosts
// occupy [nLocal, nLocal+nGhost).
func (l LocalOrGhost) RawIndex(nLocal int) int {
	if l.kind == Local {
		return int(l.local)
	}
	return nLocal + int(l.ghost)
}

func (l LocalOrGhost) String() string {
	if l.kind == Local {
		return fmt.Sprintf("local(%d)", l.local)
	}
	return fmt.Sprintf("ghost(%d)", l.ghost)
}
