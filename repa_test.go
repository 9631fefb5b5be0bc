package repa

import (
	"testing"

	"github.com/hirschsn/repa/comm"
	"github.com/hirschsn/repa/glomethod"
	"github.com/stretchr/testify/require"
)

func TestNewEachImplementedKindIsReady(t *testing.T) {
	cfg := Config{Box: [3]float64{1, 1, 1}, Hmin: 0.1} // Ni=10, N=1000
	for _, kind := range []Kind{Diffusion, SFC, Graph} {
		w := comm.NewWorld(1)
		p, err := New(kind, cfg, w.Comms()[0])
		require.NoErrorf(t, err, "New(%s)", kind)
		require.Equal(t, glomethod.Ready, p.State(), "New(%s) should install the default partition", kind)
		require.Equal(t, 1000, p.NLocalCells(), "New(%s): sole rank should own every cell", kind)
		require.Empty(t, p.NeighborRanks(), "New(%s): a single rank has no neighbors", kind)
	}
}

func TestNewOutOfScopeKindsAreNotImplemented(t *testing.T) {
	cfg := Config{Box: [3]float64{1, 1, 1}, Hmin: 0.1}
	for _, kind := range []Kind{Cart, KDTree, GridBased, HybridGPDiff} {
		w := comm.NewWorld(1)
		_, err := New(kind, cfg, w.Comms()[0])
		require.Error(t, err, "New(%s) should be rejected", kind)
		var niErr *glomethod.NotImplementedError
		require.ErrorAs(t, err, &niErr)
	}
}

func TestNewUnknownKind(t *testing.T) {
	w := comm.NewWorld(1)
	_, err := New(Kind("Bogus"), Config{Box: [3]float64{1, 1, 1}, Hmin: 0.1}, w.Comms()[0])
	require.Error(t, err)
}

func TestNewRejectsBadBox(t *testing.T) {
	w := comm.NewWorld(1)
	_, err := New(SFC, Config{Box: [3]float64{1, 1, 1}, Hmin: 0}, w.Comms()[0])
	require.Error(t, err)
}
