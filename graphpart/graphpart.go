// Package graphpart implements GraphPartitioner (spec.md §4.5): the cell
// grid's dual graph (one vertex per cell, edges to the 26 full-shell
// neighbors, vertex weights from the metric) handed to an external
// multilevel graph partitioner. Because graph partitioning is globally
// coordinated, no staged propagation is needed — the returned ownership
// vector overwrites the partition map directly.
package graphpart

import (
	"github.com/hirschsn/repa/comm"
	"github.com/hirschsn/repa/glomethod"
	"github.com/hirschsn/repa/globalbox"
	"github.com/hirschsn/repa/index"
	"github.com/hirschsn/repa/internal/metis"
	"github.com/hirschsn/repa/metric"

	"gonum.org/v1/gonum/graph/simple"
)

// Partitioner is the graph-based partitioner.
type Partitioner struct {
	*glomethod.Base
}

// New constructs a Graph partitioner in the Fresh state.
func New(box *globalbox.GlobalBox, c comm.Comm) (*Partitioner, error) {
	base, err := glomethod.New(box, c)
	if err != nil {
		return nil, err
	}
	return &Partitioner{Base: base}, nil
}

// AfterConstruction installs the default initial partition (spec.md
// §4.6), transitioning Fresh -> Ready.
func (p *Partitioner) AfterConstruction() error {
	return p.InstallLinearMortonSplit()
}

// Command recognizes no tuning strings for the graph partitioner (spec.md
// §6: "for the SFC partitioner, no commands are required" — the same
// holds here, since all tuning is delegated to the external partitioner).
func (p *Partitioner) Command(s string) error {
	return &glomethod.UnknownCommandError{Command: s}
}

// buildDualGraph constructs the weighted undirected dual graph over all N
// cells, every edge with weight 1. The weights argument is not stored in
// the graph; Repartition passes vertex weights to METIS separately.
func buildDualGraph(box *globalbox.GlobalBox, weights []float64) *simple.WeightedUndirectedGraph {
	g := simple.NewWeightedUndirectedGraph(0, 0)
	n := box.NCells()
	for i := 0; i < n; i++ {
		g.AddNode(simple.Node(i))
	}
	for i := 0; i < n; i++ {
		shell, err := box.FullShellNeighWithoutCenter(index.GlobalCellIndex(i))
		if err != nil {
			continue
		}
		seen := make(map[int64]struct{}, 26)
		for _, gp := range shell {
			j := int64(gp)
			if j == int64(i) {
				continue
			}
			if _, dup := seen[j]; dup {
				continue
			}
			seen[j] = struct{}{}
			if g.HasEdgeBetween(int64(i), j) {
				continue
			}
			g.SetWeightedEdge(g.NewWeightedEdge(simple.Node(i), simple.Node(j), 1))
		}
	}
	return g
}

// Repartition runs one round of graph-based rebalancing (spec.md §4.5).
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

	n := p.Box.NCells()
	local := make([]float64, n)
	old := p.PMap.Partition()
	for li, w := range weights {
		g := p.PMap.LocalGlobal(index.LocalCellIndex(li))
		local[int(g)] = w
	}
	global := p.Comm.AllreduceFloats(local, comm.OpSum)

	graph := buildDualGraph(p.Box, global)

	vwgt := make([]int32, n)
	for i, w := range global {
		vwgt[i] = int32(w) + 1 // METIS requires strictly positive vertex weights
	}
	neighbors := make([][]int32, n)
	nodes := graph.Nodes()
	for nodes.Next() {
		u := nodes.Node().ID()
		to := graph.From(u)
		var adj []int32
		for to.Next() {
			adj = append(adj, int32(to.Node().ID()))
		}
		neighbors[u] = adj
	}

	csr, err := metis.BuildCSR(neighbors, vwgt)
	if err != nil {
		p.SetState(glomethod.Invalid)
		return false, &glomethod.FatalPartitionError{Msg: err.Error()}
	}
	part, err := metis.PartitionGraph(csr, p.Comm.Size())
	if err != nil {
		p.SetState(glomethod.Invalid)
		return false, &glomethod.FatalPartitionError{Msg: err.Error()}
	}

	changed := false
	newPartition := make([]index.RankIndex, n)
	for g, r := range part {
		newPartition[g] = index.RankIndex(r)
		if newPartition[g] != old[g] {
			changed = true
		}
	}
	if !changed {
		return false, nil
	}
	copy(old, newPartition)

	if cb != nil {
		cb()
	}
	if err := p.PMap.Rebuild(); err != nil {
		p.SetState(glomethod.Invalid)
		return false, &glomethod.FatalPartitionError{Msg: err.Error()}
	}
	return true, nil
}
