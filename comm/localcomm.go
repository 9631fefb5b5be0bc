package comm

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hirschsn/repa/index"
)

// World is a set of in-process ranks that can reach each other's Comm
// methods. It exists so single-process tests (and small demos) can
// exercise repa's collective/point-to-point protocol without a real
// network transport, which spec.md §1 places out of scope.
type World struct {
	size  int
	mu    sync.Mutex
	msgs  map[msgKey]chan any
	round *collRound
	comms []*LocalComm
}

// NewWorld builds a World of size ranks and returns one LocalComm per
// rank, index i bound to rank i.
func NewWorld(size int) *World {
	if size < 1 {
		size = 1
	}
	w := &World{size: size, msgs: make(map[msgKey]chan any), round: newCollRound()}
	w.comms = make([]*LocalComm, size)
	for i := 0; i < size; i++ {
		w.comms[i] = &LocalComm{world: w, rank: index.RankIndex(i)}
	}
	return w
}

// Comms returns the per-rank communicators, index i bound to rank i.
func (w *World) Comms() []*LocalComm { return w.comms }

type msgKey struct {
	src, dest index.RankIndex
	tag       int
}

func (w *World) chanFor(k msgKey) chan any {
	w.mu.Lock()
	defer w.mu.Unlock()
	c, ok := w.msgs[k]
	if !ok {
		c = make(chan any, 64)
		w.msgs[k] = c
	}
	return c
}

// collRound is one rendezvous of a whole-communicator collective: every
// rank contributes a value, the last arrival combines them, and the
// result is handed back to every rank via the closed ready channel.
type collRound struct {
	mu     sync.Mutex
	vals   map[index.RankIndex]any
	ready  chan struct{}
	result any
}

func newCollRound() *collRound {
	return &collRound{vals: make(map[index.RankIndex]any), ready: make(chan struct{})}
}

func (w *World) collective(rank index.RankIndex, v any, combine func(map[index.RankIndex]any) any) any {
	w.mu.Lock()
	r := w.round
	w.mu.Unlock()

	r.mu.Lock()
	r.vals[rank] = v
	if len(r.vals) == w.size {
		result := combine(r.vals)
		r.result = result
		w.mu.Lock()
		w.round = newCollRound()
		w.mu.Unlock()
		ready := r.ready
		r.mu.Unlock()
		close(ready)
		return result
	}
	ready := r.ready
	r.mu.Unlock()
	<-ready
	return r.result
}

// LocalComm is a Comm bound to one rank of a World.
type LocalComm struct {
	world *World
	rank  index.RankIndex
}

var _ Comm = (*LocalComm)(nil)

func (c *LocalComm) Rank() index.RankIndex { return c.rank }
func (c *LocalComm) Size() int             { return c.world.size }

func (c *LocalComm) Barrier() {
	c.world.collective(c.rank, struct{}{}, func(map[index.RankIndex]any) any { return nil })
}

func (c *LocalComm) AllreduceFloat64(v float64, op Op) float64 {
	res := c.world.collective(c.rank, v, func(vals map[index.RankIndex]any) any {
		var acc float64
		first := true
		for _, raw := range vals {
			fv := raw.(float64)
			if first {
				acc = fv
				first = false
				continue
			}
			acc = op.apply(acc, fv)
		}
		return acc
	})
	return res.(float64)
}

func (c *LocalComm) AllreduceInts(v []int, op Op) []int {
	res := c.world.collective(c.rank, append([]int(nil), v...), func(vals map[index.RankIndex]any) any {
		var acc []int
		first := true
		for _, raw := range vals {
			iv := raw.([]int)
			if first {
				acc = append([]int(nil), iv...)
				first = false
				continue
			}
			for i := range acc {
				acc[i] = op.applyInt(acc[i], iv[i])
			}
		}
		return acc
	})
	out := res.([]int)
	return append([]int(nil), out...)
}

func (c *LocalComm) AllreduceFloats(v []float64, op Op) []float64 {
	res := c.world.collective(c.rank, append([]float64(nil), v...), func(vals map[index.RankIndex]any) any {
		var acc []float64
		first := true
		for _, raw := range vals {
			fv := raw.([]float64)
			if first {
				acc = append([]float64(nil), fv...)
				first = false
				continue
			}
			for i := range acc {
				acc[i] = op.apply(acc[i], fv[i])
			}
		}
		return acc
	})
	out := res.([]float64)
	return append([]float64(nil), out...)
}

func (c *LocalComm) ExscanFloat64(v float64) float64 {
	res := c.world.collective(c.rank, v, func(vals map[index.RankIndex]any) any {
		ranks := make([]index.RankIndex, 0, len(vals))
		for r := range vals {
			ranks = append(ranks, r)
		}
		sort.Slice(ranks, func(i, j int) bool { return ranks[i] < ranks[j] })
		prefix := make(map[index.RankIndex]float64, len(vals))
		var running float64
		for _, r := range ranks {
			prefix[r] = running
			running += vals[r].(float64)
		}
		return prefix
	})
	return res.(map[index.RankIndex]float64)[c.rank]
}

type sendRequest struct {
	done chan error
}

func (r *sendRequest) Wait() (any, error) {
	err := <-r.done
	return nil, err
}

func (c *LocalComm) ISend(dest index.RankIndex, tag int, payload any) Request {
	if int(dest) < 0 || int(dest) >= c.world.size {
		req := &sendRequest{done: make(chan error, 1)}
		req.done <- &ErrNoSuchRank{Rank: dest}
		return req
	}
	ch := c.world.chanFor(msgKey{src: c.rank, dest: dest, tag: tag})
	req := &sendRequest{done: make(chan error, 1)}
	go func() {
		ch <- payload
		req.done <- nil
	}()
	return req
}

type recvResult struct {
	val any
	err error
}

type recvRequest struct {
	out chan recvResult
}

func (r *recvRequest) Wait() (any, error) {
	res := <-r.out
	return res.val, res.err
}

func (c *LocalComm) IRecv(src index.RankIndex, tag int) Request {
	req := &recvRequest{out: make(chan recvResult, 1)}
	if int(src) < 0 || int(src) >= c.world.size {
		req.out <- recvResult{err: &ErrNoSuchRank{Rank: src}}
		return req
	}
	ch := c.world.chanFor(msgKey{src: src, dest: c.rank, tag: tag})
	go func() {
		v := <-ch
		req.out <- recvResult{val: v}
	}()
	return req
}

func (c *LocalComm) WaitAll(reqs ...Request) error {
	var firstErr error
	for _, r := range reqs {
		if _, err := r.Wait(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("repa: comm request failed: %w", err)
		}
	}
	return firstErr
}
