package comm

import (
	"sync"
	"testing"

	"github.com/hirschsn/repa/index"
)

func TestAllreduceFloat64Sum(t *testing.T) {
	w := NewWorld(4)
	comms := w.Comms()
	var wg sync.WaitGroup
	results := make([]float64, 4)
	for i, c := range comms {
		wg.Add(1)
		go func(i int, c *LocalComm) {
			defer wg.Done()
			results[i] = c.AllreduceFloat64(float64(i+1), OpSum)
		}(i, c)
	}
	wg.Wait()
	for i, r := range results {
		if r != 10 { // 1+2+3+4
			t.Errorf("rank %d: AllreduceFloat64 sum = %v, want 10", i, r)
		}
	}
}

func TestExscanFloat64(t *testing.T) {
	w := NewWorld(4)
	comms := w.Comms()
	var wg sync.WaitGroup
	results := make([]float64, 4)
	for i, c := range comms {
		wg.Add(1)
		go func(i int, c *LocalComm) {
			defer wg.Done()
			results[i] = c.ExscanFloat64(float64(i + 1))
		}(i, c)
	}
	wg.Wait()
	want := []float64{0, 1, 3, 6}
	for i, r := range results {
		if r != want[i] {
			t.Errorf("rank %d: ExscanFloat64 = %v, want %v", i, r, want[i])
		}
	}
}

func TestISendIRecv(t *testing.T) {
	w := NewWorld(2)
	comms := w.Comms()
	var wg sync.WaitGroup
	wg.Add(2)

	var gotAt1 any
	go func() {
		defer wg.Done()
		req := comms[0].ISend(1, 42, "hello")
		if err := comms[0].WaitAll(req); err != nil {
			t.Errorf("rank 0 ISend: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		req := comms[1].IRecv(0, 42)
		v, err := req.Wait()
		if err != nil {
			t.Errorf("rank 1 IRecv: %v", err)
		}
		gotAt1 = v
	}()
	wg.Wait()
	if gotAt1 != "hello" {
		t.Errorf("rank 1 received %v, want %q", gotAt1, "hello")
	}
}

func TestISendNoSuchRank(t *testing.T) {
	w := NewWorld(2)
	comms := w.Comms()
	req := comms[0].ISend(index.RankIndex(5), 0, 1)
	if _, err := req.Wait(); err == nil {
		t.Fatalf("ISend to out-of-range rank should fail")
	}
}

func TestBarrierReleasesAllRanks(t *testing.T) {
	w := NewWorld(3)
	comms := w.Comms()
	var wg sync.WaitGroup
	done := make([]bool, 3)
	for i, c := range comms {
		wg.Add(1)
		go func(i int, c *LocalComm) {
			defer wg.Done()
			c.Barrier()
			done[i] = true
		}(i, c)
	}
	wg.Wait()
	for i, d := range done {
		if !d {
			t.Errorf("rank %d did not return from Barrier", i)
		}
	}
}
