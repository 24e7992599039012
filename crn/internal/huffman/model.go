// Package huffman implements the static Huffman data models, the bit-level
// symbol encoder and the compact model transmission used by the container.
package huffman

import (
	"container/heap"
	"errors"
	"fmt"
	"slices"
)

const (
	// MaxCodeSize is the longest code length any model may use.
	MaxCodeSize = 16

	// MaxSymbols bounds the alphabet size of a model.
	MaxSymbols = 1 << 16
)

// ErrCodeSizeLimit is returned when a histogram cannot be represented within
// the requested code length limit.
var ErrCodeSizeLimit = errors.New("huffman: histogram exceeds code size limit")

// Model is a canonical, length-limited Huffman code over symbols 0..N-1.
type Model struct {
	sizes   []uint8
	codes   []uint16
	used    int
	maxSize int
}

// NewModel builds a code for freq with code lengths no longer than limit.
// Symbols with zero frequency receive no code.
func NewModel(freq []uint32, limit int) (*Model, error) {
	if limit <= 0 || limit > MaxCodeSize {
		return nil, fmt.Errorf("huffman: invalid code size limit %d", limit)
	}
	if len(freq) > MaxSymbols {
		return nil, fmt.Errorf("huffman: %d symbols exceeds maximum %d", len(freq), MaxSymbols)
	}

	m := &Model{
		sizes: make([]uint8, len(freq)),
		codes: make([]uint16, len(freq)),
	}

	syms := make([]int, 0, len(freq))
	for s, f := range freq {
		if f != 0 {
			syms = append(syms, s)
		}
	}
	m.used = len(syms)

	switch {
	case m.used == 0:
		return m, nil
	case m.used == 1:
		m.sizes[syms[0]] = 1
		m.maxSize = 1
		return m, nil
	case m.used > 1<<limit:
		return nil, ErrCodeSizeLimit
	}

	counts := codeSizeCounts(freq, syms)
	limitCodeSizes(counts, limit)

	// Most frequent symbols get the shortest codes.
	slices.SortStableFunc(syms, func(a, b int) int {
		switch {
		case freq[a] > freq[b]:
			return -1
		case freq[a] < freq[b]:
			return 1
		}
		return a - b
	})
	i := 0
	for size := 1; size < len(counts); size++ {
		for n := counts[size]; n > 0; n-- {
			m.sizes[syms[i]] = uint8(size)
			i++
		}
		if counts[size] > 0 {
			m.maxSize = size
		}
	}

	m.assignCodes()
	return m, nil
}

// NumSymbols returns the alphabet size.
func (m *Model) NumSymbols() int { return len(m.sizes) }

// UsedSymbols returns how many symbols have a code.
func (m *Model) UsedSymbols() int { return m.used }

// MaxCodeSize returns the longest code length in use.
func (m *Model) MaxCodeSize() int { return m.maxSize }

// CodeSizes returns the code length of every symbol. The slice must not be modified.
func (m *Model) CodeSizes() []uint8 { return m.sizes }

// Code returns the canonical code of sym and its length in bits.
func (m *Model) Code(sym int) (code uint32, size int) {
	return uint32(m.codes[sym]), int(m.sizes[sym])
}

// Cost returns the number of bits needed to encode hist with m.
func (m *Model) Cost(hist []uint32) uint64 {
	var bits uint64
	for s, n := range hist {
		bits += uint64(n) * uint64(m.sizes[s])
	}
	return bits
}

func (m *Model) assignCodes() {
	var count [MaxCodeSize + 2]int
	for _, s := range m.sizes {
		count[s]++
	}
	count[0] = 0

	var next [MaxCodeSize + 2]uint32
	code := uint32(0)
	for bits := 1; bits <= MaxCodeSize; bits++ {
		code = (code + uint32(count[bits-1])) << 1
		next[bits] = code
	}
	for s, size := range m.sizes {
		if size != 0 {
			m.codes[s] = uint16(next[size])
			next[size]++
		}
	}
}

type treeNode struct {
	freq        uint64
	left, right int32
}

type nodeHeap struct {
	nodes []treeNode
	items []int32
}

func (h *nodeHeap) Len() int { return len(h.items) }
func (h *nodeHeap) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if h.nodes[a].freq != h.nodes[b].freq {
		return h.nodes[a].freq < h.nodes[b].freq
	}
	return a < b
}
func (h *nodeHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *nodeHeap) Push(x any)   { h.items = append(h.items, x.(int32)) }
func (h *nodeHeap) Pop() any {
	n := len(h.items)
	it := h.items[n-1]
	h.items = h.items[:n-1]
	return it
}

// codeSizeCounts builds an unrestricted Huffman tree over syms and returns
// the number of leaves at each depth.
func codeSizeCounts(freq []uint32, syms []int) []int {
	h := &nodeHeap{
		nodes: make([]treeNode, 0, 2*len(syms)),
		items: make([]int32, 0, len(syms)),
	}
	for _, s := range syms {
		h.nodes = append(h.nodes, treeNode{freq: uint64(freq[s]), left: -1, right: -1})
		h.items = append(h.items, int32(len(h.nodes)-1))
	}
	heap.Init(h)
	for h.Len() > 1 {
		a := heap.Pop(h).(int32)
		b := heap.Pop(h).(int32)
		h.nodes = append(h.nodes, treeNode{freq: h.nodes[a].freq + h.nodes[b].freq, left: a, right: b})
		heap.Push(h, int32(len(h.nodes)-1))
	}

	// Parents always follow their children, so one reverse sweep assigns depths.
	depth := make([]int, len(h.nodes))
	maxDepth := 0
	for i := len(h.nodes) - 1; i >= 0; i-- {
		n := h.nodes[i]
		if n.left < 0 {
			maxDepth = max(maxDepth, depth[i])
			continue
		}
		depth[n.left] = depth[i] + 1
		depth[n.right] = depth[i] + 1
	}

	counts := make([]int, max(maxDepth, MaxCodeSize)+1)
	for i, n := range h.nodes {
		if n.left < 0 {
			counts[depth[i]]++
		}
	}
	return counts
}

// limitCodeSizes folds depths beyond limit back into a complete code whose
// longest length is limit.
func limitCodeSizes(counts []int, limit int) {
	for i := limit + 1; i < len(counts); i++ {
		counts[limit] += counts[i]
		counts[i] = 0
	}
	total := 0
	for i := 1; i <= limit; i++ {
		total += counts[i] << (limit - i)
	}
	for total != 1<<limit {
		counts[limit]--
		for i := limit - 1; i > 0; i-- {
			if counts[i] != 0 {
				counts[i]--
				counts[i+1] += 2
				break
			}
		}
		total--
	}
}
