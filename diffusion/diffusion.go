// Package diffusion implements DiffusionPartitioner (spec.md §4.3): load
// rebalancing over the process-neighborhood graph via the
// Willebeek-Le-Mair/Reeves diffusion scheme, propagated in two message
// phases separated by a wait_all.
package diffusion

import (
	"container/heap"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/hirschsn/repa/comm"
	"github.com/hirschsn/repa/glomethod"
	"github.com/hirschsn/repa/globalbox"
	"github.com/hirschsn/repa/index"
	"github.com/hirschsn/repa/metric"

	"gonum.org/v1/gonum/mat"
)

const (
	tagLoadExchange = 9001
	tagStageA       = 9002
	tagStageB       = 9003
)

// Partitioner is the diffusion-based partitioner.
type Partitioner struct {
	*glomethod.Base

	mu float64 // displacement factor, tuned via command("mu=<float>")
}

// New constructs a Diffusion partitioner in the Fresh state, mu defaulted
// to 1 (the raw Willebeek-Le-Mair/Reeves rule, no damping).
func New(box *globalbox.GlobalBox, c comm.Comm) (*Partitioner, error) {
	base, err := glomethod.New(box, c)
	if err != nil {
		return nil, err
	}
	return &Partitioner{Base: base, mu: 1.0}, nil
}

// AfterConstruction installs the default initial partition (spec.md §4.6).
func (p *Partitioner) AfterConstruction() error {
	return p.InstallLinearMortonSplit()
}

// Command recognizes "mu=<float>", a displacement factor scaling how much
// of the computed overload a round actually ships (spec.md §6).
func (p *Partitioner) Command(s string) error {
	const prefix = "mu="
	if !strings.HasPrefix(s, prefix) {
		return &glomethod.UnknownCommandError{Command: s}
	}
	v, err := strconv.ParseFloat(strings.TrimPrefix(s, prefix), 64)
	if err != nil || v < 0 {
		return &glomethod.UnknownCommandError{Command: s}
	}
	p.mu = v
	return nil
}

// shipment is one Stage-A wire entry: a cell and its new owner.
type shipment struct {
	Cell   index.GlobalCellIndex
	Target index.RankIndex
}

// shellOwners is one Stage-B wire entry: a shipped cell's full shell as
// seen by its old owner, used by receivers to clear UNKNOWN_RANK around
// newly imported cells.
type shellOwners struct {
	Cell      index.GlobalCellIndex
	Neighbors [26]index.GlobalCellIndex
	Owners    [26]index.RankIndex
}

// borderCell is a candidate for the send selection heap.
type borderCell struct {
	g         index.GlobalCellIndex
	w         float64
	sameOwner int // same-owner border cells in g's full shell
	eligible  []index.RankIndex
}

// borderQueue pops cells with the fewest same-owner border neighbors first
// (the ones that grow the border least by leaving), breaking ties by
// largest weight, approximating minimal surface growth under volume
// pressure (spec.md §4.3 step 5).
type borderQueue []*borderCell

func (q borderQueue) Len() int { return len(q) }
func (q borderQueue) Less(i, j int) bool {
	pi, pj := 26-q[i].sameOwner, 26-q[j].sameOwner
	if pi != pj {
		return pi > pj
	}
	return q[i].w > q[j].w
}
func (q borderQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *borderQueue) Push(x any)   { *q = append(*q, x.(*borderCell)) }
func (q *borderQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// Repartition runs one round of diffusion rebalancing (spec.md §4.3).
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

	partition := p.PMap.Partition()
	rank := p.Comm.Rank()
	n := p.Box.NCells()

	// Step 2: clear cached ownership for cells whose full shell (including
	// the cell itself) contains no cell of L(r).
	for g := 0; g < n; g++ {
		if partition[g] == index.UnknownRank {
			continue
		}
		shell, serr := p.Box.FullShellNeigh(index.GlobalCellIndex(g))
		if serr != nil {
			continue
		}
		touches := false
		for _, gp := range shell {
			if partition[int(gp)] == rank {
				touches = true
				break
			}
		}
		if !touches {
			partition[g] = index.UnknownRank
		}
	}

	var ownLoad float64
	for _, w := range weights {
		ownLoad += w
	}

	neighbors := p.NeighborRanks()

	// Step 3: neighbor-allgather of scalar loads. Comm exposes no dedicated
	// neighborhood collective, so this is point-to-point over N(r).
	neighborLoads, err := p.exchangeLoads(neighbors, ownLoad)
	if err != nil {
		p.SetState(glomethod.Invalid)
		return false, &glomethod.FatalPartitionError{Msg: err.Error()}
	}

	loadVec := make([]float64, len(neighbors)+1)
	loadVec[0] = ownLoad
	for i, s := range neighbors {
		loadVec[i+1] = neighborLoads[s]
	}
	avgVec := mat.NewVecDense(len(loadVec), loadVec)
	avg := mat.Sum(avgVec) / float64(avgVec.Len())

	// Steps 4-6: compute send volumes and select cells, only if overloaded.
	assignments := make(map[index.GlobalCellIndex]index.RankIndex)
	if ownLoad > avg && len(neighbors) > 0 {
		deficiency := make([]float64, len(neighbors))
		for i, s := range neighbors {
			if d := avg - neighborLoads[s]; d > 0 {
				deficiency[i] = d
			}
		}
		defVec := mat.NewVecDense(len(deficiency), deficiency)
		total := mat.Sum(defVec)

		capacity := make(map[index.RankIndex]float64, len(neighbors))
		if total > 0 {
			overload := (ownLoad - avg) * p.mu
			for i, s := range neighbors {
				capacity[s] = deficiency[i] / total * overload
			}
		}

		border := p.collectBorderCells(partition, rank, weights, capacity)
		bq := make(borderQueue, len(border))
		copy(bq, border)
		heap.Init(&bq)
		for bq.Len() > 0 {
			c := heap.Pop(&bq).(*borderCell)
			for _, s := range c.eligible {
				if capacity[s] > 0 {
					assignments[c.g] = s
					capacity[s] -= c.w
					break
				}
			}
		}
	}

	// Step 6: write back tentatively.
	for g, s := range assignments {
		partition[int(g)] = s
	}

	shipments := make([]shipment, 0, len(assignments))
	for g, s := range assignments {
		shipments = append(shipments, shipment{Cell: g, Target: s})
	}
	sort.Slice(shipments, func(i, j int) bool { return shipments[i].Cell < shipments[j].Cell })

	// Step 7, Stage A: every rank broadcasts its full shipment list (not
	// just the receiver's slice) to every neighbor.
	stageAIn, err := exchangeWithNeighbors[[]shipment](p.Comm, neighbors, tagStageA, shipments)
	if err != nil {
		p.SetState(glomethod.Invalid)
		return false, &glomethod.FatalPartitionError{Msg: err.Error()}
	}
	changed := len(assignments) > 0
	for _, batch := range stageAIn {
		for _, sh := range batch {
			partition[int(sh.Cell)] = sh.Target
			changed = true
		}
	}

	// spec.md §4.3 step 8: migration callback runs after Stage A, once
	// position_to_rank reflects the new owners, and before the rebuild.
	// Only fires when this round actually moved a cell.
	if changed && cb != nil {
		cb()
	}

	// Step 7, Stage B: for every cell this rank is shipping, broadcast the
	// full shell owners as seen locally so receivers can clear
	// UNKNOWN_RANK around newly imported cells.
	owners := make([]shellOwners, 0, len(shipments))
	for _, sh := range shipments {
		shell, serr := p.Box.FullShellNeighWithoutCenter(sh.Cell)
		if serr != nil {
			continue
		}
		so := shellOwners{Cell: sh.Cell}
		for i, gp := range shell {
			so.Neighbors[i] = gp
			so.Owners[i] = partition[int(gp)]
		}
		owners = append(owners, so)
	}
	stageBIn, err := exchangeWithNeighbors[[]shellOwners](p.Comm, neighbors, tagStageB, owners)
	if err != nil {
		p.SetState(glomethod.Invalid)
		return false, &glomethod.FatalPartitionError{Msg: err.Error()}
	}
	for _, batch := range stageBIn {
		for _, so := range batch {
			for i, gp := range so.Neighbors {
				if so.Owners[i] != index.UnknownRank {
					partition[int(gp)] = so.Owners[i]
				}
			}
		}
	}

	if !changed {
		return false, nil
	}

	// Invariant 2: no local cell may retain an UNKNOWN_RANK full-shell
	// neighbor after Stage B.
	for g := 0; g < n; g++ {
		if partition[g] != rank {
			continue
		}
		shell, serr := p.Box.FullShellNeighWithoutCenter(index.GlobalCellIndex(g))
		if serr != nil {
			continue
		}
		for _, gp := range shell {
			if partition[int(gp)] == index.UnknownRank {
				p.SetState(glomethod.Invalid)
				return false, &glomethod.FatalPartitionError{
					Msg: fmt.Sprintf("cell %d retains an UNKNOWN_RANK neighbor %d after stage B", g, gp),
				}
			}
		}
	}

	if err := p.PMap.Rebuild(); err != nil {
		p.SetState(glomethod.Invalid)
		return false, &glomethod.FatalPartitionError{Msg: err.Error()}
	}
	return true, nil
}

// isBorderCell reports whether g's own full shell contains a cell owned by
// a rank other than g's owner (diffusion.cpp's borderCells predicate).
func (p *Partitioner) isBorderCell(partition []index.RankIndex, g index.GlobalCellIndex) bool {
	owner := partition[int(g)]
	shell, serr := p.Box.FullShellNeighWithoutCenter(g)
	if serr != nil {
		return false
	}
	for _, gp := range shell {
		if partition[int(gp)] != owner {
			return true
		}
	}
	return false
}

// collectBorderCells finds this rank's owned cells that border a neighbor
// rank listed in capacity (whether or not its capacity is still positive;
// the selection loop skips exhausted ones), recording how many of the cell's 26 full-shell
// neighbors are themselves same-owner border cells (spec.md §4.3 step 5's
// k: "the number of same-owner border cells in c's full shell", used as
// the heap's surface-growth proxy).
func (p *Partitioner) collectBorderCells(partition []index.RankIndex, rank index.RankIndex, weights []float64, capacity map[index.RankIndex]float64) []*borderCell {
	var border []*borderCell
	for li := 0; li < p.NLocalCells(); li++ {
		g := p.PMap.LocalGlobal(index.LocalCellIndex(li))
		shell, serr := p.Box.FullShellNeighWithoutCenter(g)
		if serr != nil {
			continue
		}
		sameOwnerBorder := 0
		seen := make(map[index.RankIndex]struct{})
		var elig []index.RankIndex
		for _, gp := range shell {
			owner := partition[int(gp)]
			if owner == rank {
				if p.isBorderCell(partition, gp) {
					sameOwnerBorder++
				}
				continue
			}
			if _, ok := capacity[owner]; !ok {
				continue
			}
			if _, dup := seen[owner]; dup {
				continue
			}
			seen[owner] = struct{}{}
			elig = append(elig, owner)
		}
		if len(elig) == 0 {
			continue
		}
		sort.Slice(elig, func(i, j int) bool { return elig[i] < elig[j] })
		border = append(border, &borderCell{g: g, w: weights[li], sameOwner: sameOwnerBorder, eligible: elig})
	}
	return border
}

// exchangeLoads is the neighbor-allgather of step 3: every rank exchanges
// its scalar load with each of its direct neighbors.
func (p *Partitioner) exchangeLoads(neighbors []index.RankIndex, ownLoad float64) (map[index.RankIndex]float64, error) {
	sendReqs := make([]comm.Request, 0, len(neighbors))
	for _, s := range neighbors {
		sendReqs = append(sendReqs, p.Comm.ISend(s, tagLoadExchange, ownLoad))
	}
	recvReqs := make([]comm.Request, 0, len(neighbors))
	for _, s := range neighbors {
		recvReqs = append(recvReqs, p.Comm.IRecv(s, tagLoadExchange))
	}
	if err := p.Comm.WaitAll(sendReqs...); err != nil {
		return nil, err
	}
	out := make(map[index.RankIndex]float64, len(neighbors))
	for i, s := range neighbors {
		v, werr := recvReqs[i].Wait()
		if werr != nil {
			return nil, werr
		}
		out[s] = v.(float64)
	}
	return out, nil
}

// exchangeWithNeighbors sends payload to every neighbor and returns one
// decoded batch per neighbor.
func exchangeWithNeighbors[T any](c comm.Comm, neighbors []index.RankIndex, tag int, payload T) ([]T, error) {
	sendReqs := make([]comm.Request, 0, len(neighbors))
	for _, s := range neighbors {
		sendReqs = append(sendReqs, c.ISend(s, tag, payload))
	}
	recvReqs := make([]comm.Request, 0, len(neighbors))
	for _, s := range neighbors {
		recvReqs = append(recvReqs, c.IRecv(s, tag))
	}
	if err := c.WaitAll(sendReqs...); err != nil {
		return nil, err
	}
	out := make([]T, len(neighbors))
	for i := range neighbors {
		v, err := recvReqs[i].Wait()
		if err != nil {
			return nil, err
		}
		out[i] = v.(T)
	}
	return out, nil
}
