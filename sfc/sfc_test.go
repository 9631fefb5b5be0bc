package sfc

import (
	"sync"
	"testing"

	"github.com/hirschsn/repa/comm"
	"github.com/hirschsn/repa/globalbox"
	"github.com/stretchr/testify/require"
)

func constMetric(n int) func() ([]float64, error) {
	return func() ([]float64, error) {
		w := make([]float64, n)
		for i := range w {
			w[i] = 1
		}
		return w, nil
	}
}

// TestFourContiguousMortonArcs exercises spec.md §8 scenario 4: L=(1,1,1),
// hmin=0.125 -> Ni=8, N=512, four ranks, constant metric.
func TestFourContiguousMortonArcs(t *testing.T) {
	const ranks = 4
	box, err := globalbox.New(globalbox.Vec3{1, 1, 1}, 0.125)
	require.NoError(t, err)

	w := comm.NewWorld(ranks)
	parts := make([]*Partitioner, ranks)
	for i := 0; i < ranks; i++ {
		p, err := New(box, w.Comms()[i])
		require.NoError(t, err)
		require.NoError(t, p.AfterConstruction())
		parts[i] = p
	}

	var wg sync.WaitGroup
	errs := make([]error, ranks)
	for i := 0; i < ranks; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = parts[i].Repartition(constMetric(parts[i].NLocalCells()), nil)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoErrorf(t, err, "rank %d Repartition", i)
	}
	for i := 0; i < ranks; i++ {
		require.Equalf(t, 128, parts[i].NLocalCells(), "rank %d cell count", i)
	}

	r0, err := parts[0].PositionToRank(globalbox.Vec3{0.01, 0.01, 0.01})
	require.NoError(t, err)
	require.EqualValues(t, 0, r0)

	r3, err := parts[0].PositionToRank(globalbox.Vec3{0.99, 0.99, 0.99})
	require.NoError(t, err)
	require.EqualValues(t, 3, r3)
}

// TestZeroQuadRankIsFatal checks the protocol aborts when a rank's walk
// would receive no cells at all (spec.md §4.4).
func TestZeroQuadRankIsFatal(t *testing.T) {
	const ranks = 8
	// A single cell cannot be split eight ways: at least one rank's share
	// of a uniform metric rounds down to zero quads.
	box, err := globalbox.New(globalbox.Vec3{1, 1, 1}, 1.0)
	require.NoError(t, err)
	require.Equal(t, 1, box.NCells())

	w := comm.NewWorld(ranks)
	parts := make([]*Partitioner, ranks)
	for i := 0; i < ranks; i++ {
		p, err := New(box, w.Comms()[i])
		require.NoError(t, err)
		require.NoError(t, p.AfterConstruction())
		parts[i] = p
	}

	var wg sync.WaitGroup
	errs := make([]error, ranks)
	for i := 0; i < ranks; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = parts[i].Repartition(constMetric(parts[i].NLocalCells()), nil)
		}(i)
	}
	wg.Wait()

	sawFatal := false
	for _, err := range errs {
		if err != nil {
			sawFatal = true
			require.ErrorContains(t, err, "fatal partition error")
		}
	}
	require.True(t, sawFatal, "at least one rank should report a fatal zero-quad error")
}
