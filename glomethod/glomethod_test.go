package glomethod

import (
	"testing"

	"github.com/hirschsn/repa/comm"
	"github.com/hirschsn/repa/globalbox"
	"github.com/hirschsn/repa/index"
)

func newTestBase(t *testing.T, ranks int) (*Base, *globalbox.GlobalBox, *comm.LocalComm) {
	t.Helper()
	box, err := globalbox.New(globalbox.Vec3{1, 1, 1}, 0.1) // Ni=10, N=1000
	if err != nil {
		t.Fatalf("globalbox.New: %v", err)
	}
	w := comm.NewWorld(ranks)
	c := w.Comms()[0]
	b, err := New(box, c)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b, box, c
}

func TestInstallLinearMortonSplitTransitionsToReady(t *testing.T) {
	b, _, _ := newTestBase(t, 1)
	if b.State() != Fresh {
		t.Fatalf("new Base should start Fresh, got %s", b.State())
	}
	if err := b.InstallLinearMortonSplit(); err != nil {
		t.Fatalf("InstallLinearMortonSplit: %v", err)
	}
	if b.State() != Ready {
		t.Fatalf("state after InstallLinearMortonSplit = %s, want Ready", b.State())
	}
	if b.NLocalCells() != 1000 {
		t.Fatalf("single rank should own all 1000 cells, got %d", b.NLocalCells())
	}
}

func TestRequireReadyRejectsFresh(t *testing.T) {
	b, _, _ := newTestBase(t, 1)
	if err := b.RequireReady("Repartition"); err == nil {
		t.Fatalf("RequireReady should fail while Fresh")
	}
}

func TestCellNeighborIndexOutOfRange(t *testing.T) {
	b, _, _ := newTestBase(t, 1)
	if err := b.InstallLinearMortonSplit(); err != nil {
		t.Fatalf("InstallLinearMortonSplit: %v", err)
	}
	if _, err := b.CellNeighborIndex(index.LocalCellIndex(-1), 0); err == nil {
		t.Fatalf("CellNeighborIndex with a negative local index should error")
	}
	if _, err := b.CellNeighborIndex(index.LocalCellIndex(b.NLocalCells()), 0); err == nil {
		t.Fatalf("CellNeighborIndex past the end of L(r) should error")
	}
}

func TestPositionToRankSingleOwner(t *testing.T) {
	b, _, _ := newTestBase(t, 1)
	if err := b.InstallLinearMortonSplit(); err != nil {
		t.Fatalf("InstallLinearMortonSplit: %v", err)
	}
	r, err := b.PositionToRank(globalbox.Vec3{0.5, 0.5, 0.5})
	if err != nil {
		t.Fatalf("PositionToRank: %v", err)
	}
	if r != 0 {
		t.Fatalf("PositionToRank = %d, want 0 (sole rank)", r)
	}
}
