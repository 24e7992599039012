// Package vq implements the weighted binary-tree vector quantizer that builds
// every codebook of the compressor.
//
// Generate splits the node with the largest variance until the requested
// number of leaves is reached or no node can be split further. Leaves become
// codebook entries (their weighted centroids) and every input vector can be
// mapped back to the leaf that owns it in constant time.
package vq

import (
	"container/heap"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/crunch-go/crunch/crn/internal/taskpool"
)

const (
	maxLloydIterations = 1024
	minImprovement     = 1e-5
	minTotalVariance   = 1e-5
	powerIterations    = 10

	// Ranges shorter than two chunks of this size are partitioned serially.
	parallelChunkShift = 9
)

type node struct {
	begin, end   int
	centroid     []float64
	weight       float64
	variance     float64
	left, right  int
	unsplittable bool

	// cached is set when the node was split ahead of time by a fan-out
	// worker; left/right (or unsplittable) already hold the outcome.
	cached bool
	// expanded is set when the main loop accepts the split.
	expanded bool
}

func (n *node) splittable() bool {
	return !n.unsplittable && n.variance > 0 && n.end-n.begin > 1
}

// Clusterizer builds a codebook from weighted vectors. A Clusterizer may be
// reused; each Generate call replaces the previous result.
type Clusterizer struct {
	dim      int
	vectors  [][]float32
	weights  []uint32
	perm     []int
	nodes    []node
	leafOf   []int
	codebook [][]float32
}

// New returns an empty Clusterizer.
func New() *Clusterizer { return &Clusterizer{} }

// Generate clusters vectors into at most maxSize leaves. All vectors must have
// the same dimension. pool may be nil.
func (c *Clusterizer) Generate(vectors [][]float32, weights []uint32, maxSize int, pool *taskpool.Pool) {
	c.vectors = vectors
	c.weights = weights
	c.nodes = c.nodes[:0]
	c.codebook = c.codebook[:0]
	c.leafOf = c.leafOf[:0]
	if len(vectors) == 0 || maxSize <= 0 {
		return
	}
	c.dim = len(vectors[0])

	c.perm = make([]int, len(vectors))
	for i := range c.perm {
		c.perm[i] = i
	}
	sp := &splitter{c: c, pool: pool}
	c.nodes = append(c.nodes, sp.newNode(0, len(vectors)))

	q := &nodeQueue{nodes: &c.nodes}
	if c.nodes[0].splittable() {
		heap.Push(q, 0)
	}

	numTasks := pool.NumTasks()
	fannedOut := numTasks <= 1
	leaves := 1
	for leaves < maxSize && q.Len() > 0 {
		if !fannedOut && q.Len() >= numTasks {
			fannedOut = true
			if maxSize-leaves > numTasks {
				c.fanOut(q.items, maxSize/numTasks, pool)
			}
		}

		i := heap.Pop(q).(int)
		if c.nodes[i].cached {
			if c.nodes[i].left < 0 {
				continue
			}
		} else {
			sp.nodes = c.nodes
			ok := sp.split(i)
			c.nodes = sp.nodes
			if !ok {
				continue
			}
		}
		c.nodes[i].expanded = true
		leaves++
		for _, child := range [2]int{c.nodes[i].left, c.nodes[i].right} {
			if c.nodes[child].splittable() || c.nodes[child].cached && c.nodes[child].left >= 0 {
				heap.Push(q, child)
			}
		}
	}

	c.emit()
}

// fanOut pre-splits each queued node on its own worker, up to budget leaves
// per subtree, and grafts the results into the main tree as cached splits.
// Subtree ranges are disjoint so workers reorder perm without contention.
func (c *Clusterizer) fanOut(queued []int, budget int, pool *taskpool.Pool) {
	roots := append([]int(nil), queued...)
	local := make([][]node, len(roots))
	pool.Run(len(roots), func(task int) {
		s := &splitter{c: c}
		s.nodes = append(s.nodes, c.nodes[roots[task]])
		s.nodes[0].left, s.nodes[0].right = -1, -1
		s.expand(budget)
		local[task] = s.nodes
	})

	for task, nodes := range local {
		root := roots[task]
		base := len(c.nodes)
		remap := func(i int) int {
			if i <= 0 {
				if i == 0 {
					return root
				}
				return -1
			}
			return base + i - 1
		}
		for i := range nodes {
			n := nodes[i]
			if n.cached {
				n.left, n.right = remap(n.left), remap(n.right)
			}
			if i == 0 {
				c.nodes[root] = n
				continue
			}
			c.nodes = append(c.nodes, n)
		}
	}
}

func (c *Clusterizer) emit() {
	c.leafOf = append(c.leafOf[:0], make([]int, len(c.vectors))...)
	stack := []int{0}
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := &c.nodes[i]
		if n.expanded {
			// right pushed first so left is emitted first
			stack = append(stack, n.right, n.left)
			continue
		}
		idx := len(c.codebook)
		v := make([]float32, c.dim)
		for d := range v {
			v[d] = float32(n.centroid[d])
		}
		c.codebook = append(c.codebook, v)
		for _, j := range c.perm[n.begin:n.end] {
			c.leafOf[j] = idx
		}
	}
}

// Codebook returns the leaf centroids in depth-first order.
func (c *Clusterizer) Codebook() [][]float32 { return c.codebook }

// NodeIndex returns the codebook index of the leaf holding input vector i.
func (c *Clusterizer) NodeIndex(i int) int { return c.leafOf[i] }

// SplitVectors splits vectors into two weighted clusters and returns their
// centroids. When the input cannot be split both results are the overall
// centroid.
func SplitVectors(vectors [][]float32, weights []uint32) [2][]float32 {
	var c Clusterizer
	c.Generate(vectors, weights, 2, nil)
	cb := c.Codebook()
	switch len(cb) {
	case 0:
		return [2][]float32{}
	case 1:
		return [2][]float32{cb[0], append([]float32(nil), cb[0]...)}
	}
	return [2][]float32{cb[0], cb[1]}
}

// splitter performs node splits into its own node slice.
type splitter struct {
	c     *Clusterizer
	pool  *taskpool.Pool
	nodes []node
	side  []bool
}

func (s *splitter) newNode(begin, end int) node {
	c := s.c
	n := node{begin: begin, end: end, left: -1, right: -1, centroid: make([]float64, c.dim)}
	var ttsum float64
	for _, j := range c.perm[begin:end] {
		w := float64(c.weights[j])
		n.weight += w
		for d, x := range c.vectors[j] {
			n.centroid[d] += w * float64(x)
			ttsum += w * float64(x) * float64(x)
		}
	}
	n.variance = ttsum - sqLen(n.centroid)/max(n.weight, math.SmallestNonzeroFloat64)
	if n.weight > 0 {
		for d := range n.centroid {
			n.centroid[d] /= n.weight
		}
	}
	if n.variance < 0 {
		n.variance = 0
	}
	return n
}

// expand greedily splits from node 0 until budget leaves exist. Every node it
// attempts is marked cached.
func (s *splitter) expand(budget int) {
	q := &nodeQueue{nodes: &s.nodes}
	if s.nodes[0].splittable() {
		heap.Push(q, 0)
	}
	leaves := 1
	for leaves < budget && q.Len() > 0 {
		i := heap.Pop(q).(int)
		s.nodes[i].cached = true
		if !s.split(i) {
			continue
		}
		leaves++
		for _, child := range [2]int{s.nodes[i].left, s.nodes[i].right} {
			if s.nodes[child].splittable() {
				heap.Push(q, child)
			}
		}
	}
}

type sideStats struct {
	sum    [2][]float64
	weight [2]float64
	ttsum  [2]float64
}

func newSideStats(dim int) *sideStats {
	return &sideStats{sum: [2][]float64{make([]float64, dim), make([]float64, dim)}}
}

func (st *sideStats) reset() {
	for k := range st.sum {
		clear(st.sum[k])
		st.weight[k] = 0
		st.ttsum[k] = 0
	}
}

func (st *sideStats) add(o *sideStats) {
	for k := range st.sum {
		for d, v := range o.sum[k] {
			st.sum[k][d] += v
		}
		st.weight[k] += o.weight[k]
		st.ttsum[k] += o.ttsum[k]
	}
}

// split divides node i in two. It returns false and marks the node
// unsplittable when no non-empty partition exists.
func (s *splitter) split(i int) bool {
	c := s.c
	n := s.nodes[i]
	if !n.splittable() {
		s.nodes[i].unsplittable = true
		return false
	}
	members := c.perm[n.begin:n.end]
	dim := c.dim

	furthest, opposite := -1, -1
	best := -1.0
	for _, j := range members {
		if d := dist2(c.vectors[j], n.centroid); d > best {
			best, furthest = d, j
		}
	}
	best = -1
	for _, j := range members {
		if d := dist2f(c.vectors[j], c.vectors[furthest]); d > best {
			best, opposite = d, j
		}
	}
	left := make([]float64, dim)
	right := make([]float64, dim)
	for d := 0; d < dim; d++ {
		left[d] = (n.centroid[d] + float64(c.vectors[furthest][d])) * .5
		right[d] = (n.centroid[d] + float64(c.vectors[opposite][d])) * .5
	}

	if len(members) > 2 {
		s.refineByPrincipalAxis(&n, left, right)
	}

	if cap(s.side) < len(members) {
		s.side = make([]bool, len(members))
	}
	side := s.side[:len(members)]
	stats := newSideStats(dim)
	prevVariance := math.Inf(1)
	for range maxLloydIterations {
		s.partition(members, left, right, side, stats)
		if stats.weight[0] == 0 || stats.weight[1] == 0 {
			s.nodes[i].unsplittable = true
			return false
		}
		varL := stats.ttsum[0] - sqLen(stats.sum[0])/stats.weight[0]
		varR := stats.ttsum[1] - sqLen(stats.sum[1])/stats.weight[1]
		for d := 0; d < dim; d++ {
			left[d] = stats.sum[0][d] / stats.weight[0]
			right[d] = stats.sum[1][d] / stats.weight[1]
		}
		total := varL + varR
		if total < minTotalVariance {
			break
		}
		if (prevVariance-total)/total < minImprovement {
			break
		}
		prevVariance = total
	}

	// Stable partition of the members: left side first.
	tmp := make([]int, 0, len(members))
	for k, j := range members {
		if side[k] {
			tmp = append(tmp, j)
		}
	}
	mid := n.begin + len(tmp)
	for k, j := range members {
		if !side[k] {
			tmp = append(tmp, j)
		}
	}
	copy(members, tmp)

	l, r := s.newNode(n.begin, mid), s.newNode(mid, n.end)
	s.nodes = append(s.nodes, l, r)
	s.nodes[i].left = len(s.nodes) - 2
	s.nodes[i].right = len(s.nodes) - 1
	return true
}

// partition assigns each member to the nearer of left and right (ties go
// right) and accumulates per-side statistics.
func (s *splitter) partition(members []int, left, right []float64, side []bool, stats *sideStats) {
	c := s.c
	work := func(begin, end int, st *sideStats) {
		st.reset()
		for k := begin; k < end; k++ {
			j := members[k]
			v := c.vectors[j]
			isLeft := dist2(v, left) < dist2(v, right)
			side[k] = isLeft
			b := 1
			if isLeft {
				b = 0
			}
			w := float64(c.weights[j])
			st.weight[b] += w
			for d, x := range v {
				st.sum[b][d] += w * float64(x)
				st.ttsum[b] += w * float64(x) * float64(x)
			}
		}
	}

	chunks := len(members) >> parallelChunkShift
	if s.pool == nil || chunks <= 1 || s.pool.NumTasks() <= 1 {
		work(0, len(members), stats)
		return
	}
	parts := min(chunks, s.pool.NumTasks())
	partial := make([]*sideStats, parts)
	for k := range partial {
		partial[k] = newSideStats(c.dim)
	}
	s.pool.Run(parts, func(task int) {
		b, e := taskpool.Range(len(members), task, parts)
		work(b, e, partial[task])
	})
	stats.reset()
	for _, p := range partial {
		stats.add(p)
	}
}

// refineByPrincipalAxis replaces the seed centroids with the weighted means
// of the two half-spaces separated by the principal axis through the node
// centroid. Seeds are kept when either half-space is empty.
func (s *splitter) refineByPrincipalAxis(n *node, left, right []float64) {
	c := s.c
	dim := c.dim
	members := c.perm[n.begin:n.end]

	cov := mat.NewSymDense(dim, nil)
	diff := mat.NewVecDense(dim, nil)
	for _, j := range members {
		for d, x := range c.vectors[j] {
			diff.SetVec(d, float64(x)-n.centroid[d])
		}
		cov.SymRankOne(cov, float64(c.weights[j]), diff)
	}
	if n.weight > 0 {
		cov.ScaleSym(1/n.weight, cov)
	}

	axis := mat.NewVecDense(dim, nil)
	for d := 0; d < dim; d++ {
		axis.SetVec(d, 1)
	}
	next := mat.NewVecDense(dim, nil)
	for range powerIterations {
		next.MulVec(cov, axis)
		m := next.AtVec(0)
		for d := 1; d < dim; d++ {
			m = max(m, next.AtVec(d))
		}
		if math.Abs(m) < 1e-5 {
			break
		}
		axis.ScaleVec(1/m, next)
	}
	l := mat.Norm(axis, 2)
	if l < 1e-10 {
		return
	}
	axis.ScaleVec(1/l, axis)

	var sum [2][]float64
	sum[0], sum[1] = make([]float64, dim), make([]float64, dim)
	var weight [2]float64
	for _, j := range members {
		v := c.vectors[j]
		for d, x := range v {
			diff.SetVec(d, float64(x)-n.centroid[d])
		}
		b := 1
		if mat.Dot(diff, axis) < 0 {
			b = 0
		}
		w := float64(c.weights[j])
		weight[b] += w
		for d, x := range v {
			sum[b][d] += w * float64(x)
		}
	}
	if weight[0] == 0 || weight[1] == 0 {
		return
	}
	for d := 0; d < dim; d++ {
		left[d] = sum[0][d] / weight[0]
		right[d] = sum[1][d] / weight[1]
	}
}

func sqLen(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x * x
	}
	return s
}

func dist2(a []float32, b []float64) float64 {
	var s float64
	for d, x := range a {
		t := float64(x) - b[d]
		s += t * t
	}
	return s
}

func dist2f(a, b []float32) float64 {
	var s float64
	for d, x := range a {
		t := float64(x) - float64(b[d])
		s += t * t
	}
	return s
}

// nodeQueue is a max-heap of node indices by variance; ties favor the lower
// index.
type nodeQueue struct {
	nodes *[]node
	items []int
}

func (q *nodeQueue) Len() int { return len(q.items) }

func (q *nodeQueue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	va, vb := (*q.nodes)[a].variance, (*q.nodes)[b].variance
	if va != vb {
		return va > vb
	}
	return a < b
}

func (q *nodeQueue) Swap(i, j int) { q.items[i], q.items[j] = q.items[j], q.items[i] }

func (q *nodeQueue) Push(x any) { q.items = append(q.items, x.(int)) }

func (q *nodeQueue) Pop() any {
	n := len(q.items)
	x := q.items[n-1]
	q.items = q.items[:n-1]
	return x
}
