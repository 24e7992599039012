package taskpool_test

import (
	"sync/atomic"
	"testing"

	"github.com/crunch-go/crunch/crn/internal/taskpool"
)

func TestNew_RejectsBadHelperCounts(t *testing.T) {
	for _, n := range []int{-1, taskpool.MaxHelpers + 1} {
		if _, err := taskpool.New(n); err == nil {
			t.Fatalf("New(%d): got nil error, want error", n)
		}
	}
}

func TestRun_VisitsEveryTaskOnce(t *testing.T) {
	for _, helpers := range []int{0, 1, 3, 7} {
		p, err := taskpool.New(helpers)
		if err != nil {
			t.Fatalf("New(%d): %v", helpers, err)
		}
		if got, want := p.NumTasks(), helpers+1; got != want {
			t.Fatalf("NumTasks: got %d want %d", got, want)
		}

		const n = 37
		var hits [n]atomic.Int32
		p.Run(n, func(task int) { hits[task].Add(1) })
		for i := range hits {
			if got := hits[i].Load(); got != 1 {
				t.Fatalf("helpers=%d task %d: got %d runs want 1", helpers, i, got)
			}
		}
		p.Close()
	}
}

func TestQueueJoin_CountsTasks(t *testing.T) {
	p, err := taskpool.New(2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	var sum atomic.Int64
	for i := 1; i <= 10; i++ {
		v := int64(i)
		if err := p.Queue(func() { sum.Add(v) }); err != nil {
			t.Fatalf("Queue: %v", err)
		}
	}
	if got := p.Join(); got != 10 {
		t.Fatalf("Join: got %d tasks want 10", got)
	}
	if got := sum.Load(); got != 55 {
		t.Fatalf("sum: got %d want 55", got)
	}
}

func TestQueue_AfterClose(t *testing.T) {
	p, err := taskpool.New(1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.Close()
	if err := p.Queue(func() {}); err != taskpool.ErrClosed {
		t.Fatalf("Queue after Close: got %v want %v", err, taskpool.ErrClosed)
	}
}

func TestRange_PartitionsContiguously(t *testing.T) {
	for _, n := range []int{0, 1, 5, 100, 1023} {
		for parts := 1; parts <= 9; parts++ {
			next := 0
			for task := 0; task < parts; task++ {
				b, e := taskpool.Range(n, task, parts)
				if b != next || e < b {
					t.Fatalf("Range(%d,%d,%d): got [%d,%d) want start %d", n, task, parts, b, e, next)
				}
				next = e
			}
			if next != n {
				t.Fatalf("Range(%d,*,%d): covered %d want %d", n, parts, next, n)
			}
		}
	}
}

func TestRun_AfterCloseRunsSerially(t *testing.T) {
	p, err := taskpool.New(3)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.Close()

	var order []int
	p.Run(5, func(task int) { order = append(order, task) })
	if len(order) != 5 {
		t.Fatalf("Run after Close: got %d tasks want 5", len(order))
	}
	for i, task := range order {
		if task != i {
			t.Fatalf("Run after Close: task %d ran at position %d", task, i)
		}
	}
}
