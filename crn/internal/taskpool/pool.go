// Package taskpool implements the fork-join worker pool used by the compressor.
//
// A Pool owns a fixed number of helper goroutines' worth of concurrency. The
// calling goroutine counts as one extra worker, so NumTasks reports helpers+1
// and every parallel phase is split into exactly that many contiguous ranges.
package taskpool

import (
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// MaxHelpers bounds the number of helper workers a Pool may own.
const MaxHelpers = 64

// ErrClosed is returned by Queue after Close.
var ErrClosed = errors.New("taskpool: pool is closed")

// Pool runs queued closures on up to Helpers goroutines. Queue and Join must be
// called from a single goroutine; closures must not queue further work.
type Pool struct {
	helpers int
	g       *errgroup.Group
	queued  atomic.Int64
	closed  bool
}

// New returns a pool with the given number of helper workers.
func New(helpers int) (*Pool, error) {
	if helpers < 0 || helpers > MaxHelpers {
		return nil, fmt.Errorf("taskpool: invalid helper count %d (want 0..%d)", helpers, MaxHelpers)
	}
	p := &Pool{helpers: helpers}
	p.reset()
	return p, nil
}

func (p *Pool) reset() {
	p.g = new(errgroup.Group)
	if p.helpers > 0 {
		p.g.SetLimit(p.helpers)
	}
}

// Helpers returns the number of helper workers.
func (p *Pool) Helpers() int {
	if p == nil {
		return 0
	}
	return p.helpers
}

// NumTasks returns helpers+1, the number of logical workers including the caller.
func (p *Pool) NumTasks() int {
	return p.Helpers() + 1
}

// Queue schedules fn. With zero helpers fn runs immediately on the caller.
// Queue blocks while all helpers are busy.
func (p *Pool) Queue(fn func()) error {
	if p.closed {
		return ErrClosed
	}
	p.queued.Add(1)
	if p.helpers == 0 {
		fn()
		return nil
	}
	p.g.Go(func() error {
		fn()
		return nil
	})
	return nil
}

// Join waits for every queued closure and returns how many ran since the last Join.
func (p *Pool) Join() int {
	if p.helpers > 0 {
		_ = p.g.Wait()
		p.reset()
	}
	return int(p.queued.Swap(0))
}

// Run executes fn(task) for task in [0, n). Tasks 0..n-2 are queued on the
// helpers and task n-1 runs on the caller, then Run joins. A nil or closed
// pool runs every task on the caller.
func (p *Pool) Run(n int, fn func(task int)) {
	if n <= 0 {
		return
	}
	if p == nil || p.closed {
		for task := 0; task < n; task++ {
			fn(task)
		}
		return
	}
	for task := 0; task < n-1; task++ {
		_ = p.Queue(func() { fn(task) })
	}
	p.queued.Add(1)
	fn(n - 1)
	p.Join()
}

// Close releases the pool. Queue fails afterwards.
func (p *Pool) Close() {
	if p == nil || p.closed {
		return
	}
	p.Join()
	p.closed = true
}

// Range returns the half-open sub-range of [0, n) owned by task when the range
// is split into parts contiguous pieces.
func Range(n, task, parts int) (begin, end int) {
	if parts <= 0 {
		return 0, n
	}
	begin = int(int64(n) * int64(task) / int64(parts))
	end = int(int64(n) * int64(task+1) / int64(parts))
	return begin, end
}
