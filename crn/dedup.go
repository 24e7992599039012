package crn

import (
	"cmp"
	"container/heap"
	"math"
	"slices"

	"github.com/crunch-go/crunch/crn/internal/taskpool"
)

type weighted[K any] struct {
	key    K
	weight uint32
}

// mergeWeighted sorts items by key and folds equal keys into one entry with
// a saturating weight sum. Chunks are sorted in parallel and k-way merged.
func mergeWeighted[K any](pool *taskpool.Pool, items []weighted[K], compare func(a, b K) int) []weighted[K] {
	n := pool.NumTasks()
	chunks := make([][]weighted[K], 0, n)
	for task := 0; task < n; task++ {
		begin, end := taskpool.Range(len(items), task, n)
		if begin != end {
			chunks = append(chunks, items[begin:end])
		}
	}
	pool.Run(len(chunks), func(i int) {
		slices.SortFunc(chunks[i], func(a, b weighted[K]) int {
			return cmp.Or(compare(a.key, b.key), cmp.Compare(a.weight, b.weight))
		})
	})

	h := &mergeHeap[K]{chunks: chunks, compare: compare}
	for i := range chunks {
		h.order = append(h.order, i)
	}
	heap.Init(h)

	out := make([]weighted[K], 0, len(items))
	for h.Len() > 0 {
		i := h.order[0]
		item := chunks[i][0]
		chunks[i] = chunks[i][1:]
		if len(chunks[i]) == 0 {
			heap.Pop(h)
		} else {
			heap.Fix(h, 0)
		}
		if len(out) > 0 && compare(out[len(out)-1].key, item.key) == 0 {
			last := &out[len(out)-1]
			if last.weight > math.MaxUint32-item.weight {
				last.weight = math.MaxUint32
			} else {
				last.weight += item.weight
			}
			continue
		}
		out = append(out, item)
	}
	return out
}

type mergeHeap[K any] struct {
	chunks  [][]weighted[K]
	order   []int
	compare func(a, b K) int
}

func (h *mergeHeap[K]) Len() int { return len(h.order) }
func (h *mergeHeap[K]) Less(i, j int) bool {
	a, b := h.chunks[h.order[i]][0], h.chunks[h.order[j]][0]
	if c := h.compare(a.key, b.key); c != 0 {
		return c < 0
	}
	return a.weight < b.weight
}
func (h *mergeHeap[K]) Swap(i, j int) { h.order[i], h.order[j] = h.order[j], h.order[i] }
func (h *mergeHeap[K]) Push(x any)   { h.order = append(h.order, x.(int)) }
func (h *mergeHeap[K]) Pop() any {
	last := h.order[len(h.order)-1]
	h.order = h.order[:len(h.order)-1]
	return last
}

func compareFloats(a, b []float32) int {
	for i := range a {
		if c := cmp.Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return 0
}

func compareColorSeeds(a, b [6]float32) int { return compareFloats(a[:], b[:]) }
func compareAlphaSeeds(a, b [2]float32) int { return compareFloats(a[:], b[:]) }
