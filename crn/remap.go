package crn

import (
	"math"
	"slices"

	"github.com/crunch-go/crunch/crn/internal/dxt"
	"github.com/crunch-go/crunch/crn/internal/huffman"
	"github.com/crunch-go/crunch/crn/internal/taskpool"
)

// remapWeights are the similarity weights of the four ordering trials. Trial
// 0 ignores them and orders endpoints by nearest neighbour.
var remapWeights = [4]float32{0, 0, 1.0 / 6, 0.5}

type remapTrial struct {
	remap  []uint16
	packed []byte
	bits   uint64
	err    error
}

// bestTrial returns the cheapest successful trial; earlier trials win ties.
func bestTrial(trials []remapTrial) (*remapTrial, error) {
	var best *remapTrial
	for i := range trials {
		tr := &trials[i]
		if tr.err != nil {
			return nil, tr.err
		}
		if best == nil || tr.bits < best.bits {
			best = tr
		}
	}
	return best, nil
}

// cooccurrence counts how often two endpoint indices are coded one after the
// other. Rows are sparse; at most a few entries per block are ever non-zero.
type cooccurrence struct {
	keys []uint32
	rows [][]cooccurrenceEntry
	sum  []uint32
}

type cooccurrenceEntry struct {
	index uint16
	count uint32
}

func newCooccurrence(n int) *cooccurrence {
	return &cooccurrence{
		rows: make([][]cooccurrenceEntry, n),
		sum:  make([]uint32, n),
	}
}

func (h *cooccurrence) add(i, j uint16) {
	h.keys = append(h.keys, uint32(i)<<16|uint32(j), uint32(j)<<16|uint32(i))
	h.sum[i]++
	h.sum[j]++
}

func (h *cooccurrence) finish() {
	slices.Sort(h.keys)
	for k := 0; k < len(h.keys); {
		key := h.keys[k]
		run := k + 1
		for run < len(h.keys) && h.keys[run] == key {
			run++
		}
		row := key >> 16
		h.rows[row] = append(h.rows[row], cooccurrenceEntry{index: uint16(key), count: uint32(run - k)})
		k = run
	}
	h.keys = nil
}

// mostFrequent returns the first index with the largest row total.
func (h *cooccurrence) mostFrequent() uint16 {
	var selected uint16
	var best uint32
	for i, s := range h.sum {
		if s > best {
			best, selected = s, uint16(i)
		}
	}
	return selected
}

// denseRow scatters the counts of one row into dst.
func (h *cooccurrence) denseRow(dst []uint32, row uint16) {
	clear(dst)
	for _, e := range h.rows[row] {
		dst[e.index] = e.count
	}
}

// coded reports whether block b transmits its own endpoint index for the
// color component.
func (pk *packer) coded(b int) bool {
	ref := pk.res.EndpointIndices[b].Reference
	if pk.etc && b&1 != 0 {
		return ref != 0
	}
	return ref == 0
}

// endpointCost estimates the bits of the packed codebook plus the
// per-block delta stream under remap.
func (pk *packer) endpointCost(remap []uint16, comps []int, packedSize int) (uint64, error) {
	n := len(remap)
	hist := make([]uint32, n)
	ei := pk.res.EndpointIndices
	for _, l := range pk.levels {
		var prev [numComps]int
		for b := l.FirstBlock; b < l.FirstBlock+l.NumBlocks; b++ {
			for _, comp := range comps {
				if comp != compColor && pk.etc && b&1 != 0 {
					continue
				}
				index := int(remap[ei[b].Component[comp]])
				send := ei[b].Reference == 0
				if comp == compColor {
					send = pk.coded(b)
				}
				if send {
					sym := index - prev[comp]
					if sym < 0 {
						sym += n
					}
					hist[sym]++
				}
				prev[comp] = index
			}
		}
	}
	m, err := huffman.NewModel(hist, indexCodeLimit)
	if err != nil {
		return 0, modelError("endpoint index", err)
	}
	enc := huffman.NewEncoder(0)
	enc.EnableSimulation(true)
	if err := enc.TransmitModel(m); err != nil {
		return 0, modelError("endpoint index", err)
	}
	return uint64(packedSize)*8 + m.Cost(hist) + enc.TotalBits(), nil
}

type colorEndpointPair [2]Color

func colorEndpointDistance(a, b colorEndpointPair) uint32 {
	return dxt.EuclideanDistance(a[0], b[0]) + dxt.EuclideanDistance(a[1], b[1])
}

// sortColorEndpoints orders endpoints by repeatedly taking the nearest
// remaining endpoint to the last one taken, starting from black.
func sortColorEndpoints(endpoints []colorEndpointPair) []uint16 {
	n := len(endpoints)
	remap := make([]uint16, n)
	work := slices.Clone(endpoints)
	indices := make([]uint16, n)
	for i := range indices {
		indices[i] = uint16(i)
	}
	var last colorEndpointPair
	for left := n; left > 0; left-- {
		best, bestErr := 0, uint32(math.MaxUint32)
		for i, e := range work[:left] {
			if d := colorEndpointDistance(e, last); d < bestErr {
				best, bestErr = i, d
			}
		}
		last = work[best]
		remap[indices[best]] = uint16(n - left)
		work[best], indices[best] = work[left-1], indices[left-1]
	}
	return remap
}

// remapColorEndpoints grows a chain from selected, at each step appending
// the endpoint that is both similar to one end of the chain and frequently
// coded next to the endpoints already placed.
func remapColorEndpoints(endpoints []colorEndpointPair, hist *cooccurrence, selected uint16, weight float32) []uint16 {
	type node struct {
		index     uint16
		frequency uint64
		front     uint64
		back      uint64
	}
	n := len(endpoints)
	remaining := make([]node, n)
	for i := range remaining {
		remaining[i].index = uint16(i)
	}
	chosen := make([]uint16, 2*n)
	front, back := n, n
	chosen[front] = selected
	frontE, backE := endpoints[selected], endpoints[selected]
	frontUpdated, backUpdated := true, true
	count := n - 1
	remaining[selected] = remaining[count]

	row := make([]uint32, n)
	hist.denseRow(row, selected)
	similarityBase := uint64(4000 * (1 + weight))
	var normalizer uint64
	for count > 0 {
		var bestValue uint64
		best := 0
		for i := range remaining[:count] {
			nd := &remaining[i]
			nd.frequency += uint64(row[nd.index])
			if frontUpdated {
				nd.front = similarityBase - uint64(min(4000, colorEndpointDistance(endpoints[nd.index], frontE)))
			}
			if backUpdated {
				nd.back = similarityBase - uint64(min(4000, colorEndpointDistance(endpoints[nd.index], backE)))
			}
			value := max(nd.front, nd.back)*(nd.frequency+normalizer) + 1
			if value > bestValue || value == bestValue && nd.index < selected {
				bestValue, best, selected = value, i, nd.index
			}
		}

		hist.denseRow(row, selected)
		var freqFront, freqBack uint64
		for f, b, scale := front, back, back-front; scale > 0; f, b, scale = f+1, b-1, scale-2 {
			freqFront += uint64(scale) * uint64(row[chosen[f]])
			freqBack += uint64(scale) * uint64(row[chosen[b]])
		}
		frontUpdated, backUpdated = false, false
		nd := remaining[best]
		normalizer = nd.frequency << 3
		if nd.front*freqFront > nd.back*freqBack {
			front--
			chosen[front] = selected
			frontE, frontUpdated = endpoints[selected], true
		} else {
			back++
			chosen[back] = selected
			backE, backUpdated = endpoints[selected], true
		}
		count--
		remaining[best] = remaining[count]
	}

	remap := make([]uint16, n)
	for i := front; i <= back; i++ {
		remap[chosen[i]] = uint16(i - front)
	}
	return remap
}

// optimizeColor picks the color endpoint order that packs smallest and
// orders the color selectors.
func (pk *packer) optimizeColor(pool *taskpool.Pool) error {
	n := len(pk.res.ColorEndpoints)
	hist := newCooccurrence(n)
	var prev uint16
	for b, e := range pk.res.EndpointIndices {
		i := e.Component[compColor]
		if pk.coded(b) && i != prev {
			hist.add(i, prev)
		}
		prev = i
	}
	hist.finish()
	selected := hist.mostFrequent()

	endpoints := make([]colorEndpointPair, n)
	for i, e := range pk.res.ColorEndpoints {
		if pk.etc {
			endpoints[i] = colorEndpointPair{{uint8(e), uint8(e >> 8), uint8(e >> 16), 0}, {uint8(e >> 24), 0, 0, 0}}
		} else {
			low, high := dxt.UnpackColorEndpoints(e)
			endpoints[i] = colorEndpointPair{dxt.Unpack565(low), dxt.Unpack565(high)}
		}
	}

	var selectorErr error
	trials := make([]remapTrial, len(remapWeights))
	pool.Run(len(trials), func(t int) {
		tr := &trials[t]
		if t == 0 {
			tr.remap = sortColorEndpoints(endpoints)
			pk.selectorRemap[0] = orderColorSelectors(pk.res.ColorSelectors)
			pk.packedColorSelectors, selectorErr = pk.packColorSelectors(pk.selectorRemap[0])
		} else {
			tr.remap = remapColorEndpoints(endpoints, hist, selected, remapWeights[t])
		}
		if pk.etc {
			tr.packed, tr.err = pk.packColorEndpointsETC(tr.remap)
		} else {
			tr.packed, tr.err = pk.packColorEndpoints(tr.remap)
		}
		if tr.err == nil {
			tr.bits, tr.err = pk.endpointCost(tr.remap, []int{compColor}, len(tr.packed))
		}
	})
	if selectorErr != nil {
		return selectorErr
	}
	best, err := bestTrial(trials)
	if err != nil {
		return err
	}
	pk.colorTrials = [4]uint64{trials[0].bits, trials[1].bits, trials[2].bits, trials[3].bits}
	pk.endpointRemap[0] = best.remap
	pk.packedColorEndpoints = best.packed
	return nil
}

var colorSelectorXORCost = func() (t [256]uint8) {
	d := [4]uint8{0, 5, 14, 10}
	for i := range t {
		for k := 0; k < 4; k++ {
			t[i] += d[i>>(2*k)&3]
		}
	}
	return t
}()

// orderColorSelectors chains selectors greedily by the cost of their XOR
// with the previous one.
func orderColorSelectors(selectors []uint32) []uint16 {
	n := len(selectors)
	work := slices.Clone(selectors)
	indices := make([]uint16, n)
	for i := range indices {
		indices[i] = uint16(i)
	}
	remap := make([]uint16, n)
	var last uint32
	for left := n; left > 0; left-- {
		best, bestErr := 0, uint32(math.MaxUint32)
		for i, s := range work[:left] {
			x := s ^ last
			d := uint32(colorSelectorXORCost[x&0xFF]) + uint32(colorSelectorXORCost[x>>8&0xFF]) +
				uint32(colorSelectorXORCost[x>>16&0xFF]) + uint32(colorSelectorXORCost[x>>24])
			if d < bestErr {
				best, bestErr = i, d
			}
		}
		last = work[best]
		remap[indices[best]] = uint16(n - left)
		work[best], indices[best] = work[left-1], indices[left-1]
	}
	return remap
}

var alphaSelectorXORCost = [8]uint32{0, 2, 3, 3, 5, 5, 4, 4}

// orderAlphaSelectors chains alpha selectors greedily like
// orderColorSelectors.
func orderAlphaSelectors(selectors []uint64) []uint16 {
	n := len(selectors)
	work := slices.Clone(selectors)
	indices := make([]uint16, n)
	for i := range indices {
		indices[i] = uint16(i)
	}
	remap := make([]uint16, n)
	var last uint64
	for left := n; left > 0; left-- {
		best, bestErr := 0, uint32(math.MaxUint32)
		for i, s := range work[:left] {
			x := s ^ last
			var d uint32
			for p := 0; p < 16; p++ {
				d += alphaSelectorXORCost[x>>(3*p)&7]
			}
			if d < bestErr {
				best, bestErr = i, d
			}
		}
		last = work[best]
		remap[indices[best]] = uint16(n - left)
		work[best], indices[best] = work[left-1], indices[left-1]
	}
	return remap
}

type alphaEndpointPair [2]int

func alphaEndpointDistance(a, b alphaEndpointPair) uint32 {
	d0, d1 := a[0]-b[0], a[1]-b[1]
	return uint32(d0*d0 + d1*d1)
}

func sortAlphaEndpoints(endpoints []alphaEndpointPair) []uint16 {
	n := len(endpoints)
	remap := make([]uint16, n)
	work := slices.Clone(endpoints)
	indices := make([]uint16, n)
	for i := range indices {
		indices[i] = uint16(i)
	}
	var last alphaEndpointPair
	for left := n; left > 0; left-- {
		best, bestErr := 0, uint32(math.MaxUint32)
		for i, e := range work[:left] {
			if d := alphaEndpointDistance(e, last); d < bestErr {
				best, bestErr = i, d
			}
		}
		last = work[best]
		remap[indices[best]] = uint16(n - left)
		work[best], indices[best] = work[left-1], indices[left-1]
	}
	return remap
}

// remapAlphaEndpoints is the alpha counterpart of remapColorEndpoints. Its
// frequencies accumulate over every endpoint placed so far.
func remapAlphaEndpoints(endpoints []alphaEndpointPair, hist *cooccurrence, selected uint16, weight float32) []uint16 {
	n := len(endpoints)
	row := make([]uint32, n)
	hist.denseRow(row, selected)
	chosen := make([]uint16, 0, n)
	chosen = append(chosen, selected)
	remaining := make([]uint16, 0, n)
	total := make([]uint64, n)
	for i := 0; i < n; i++ {
		if uint16(i) != selected {
			remaining = append(remaining, uint16(i))
			total[i] = uint64(row[i])
		}
	}

	similarityBase := uint64(1000 * (1 + weight))
	var normalizer uint64
	for len(remaining) > 0 {
		frontE, backE := endpoints[chosen[0]], endpoints[chosen[len(chosen)-1]]
		best := 0
		var bestValue, bestFront, bestBack uint64
		for i, r := range remaining {
			sf := similarityBase - uint64(min(alphaEndpointDistance(endpoints[r], frontE), 1000))
			sb := similarityBase - uint64(min(alphaEndpointDistance(endpoints[r], backE), 1000))
			if value := max(sf, sb)*(total[r]+normalizer) + 1; value > bestValue {
				bestValue, best, bestFront, bestBack = value, i, sf, sb
			}
		}
		selected = remaining[best]
		hist.denseRow(row, selected)
		normalizer = total[selected]
		var freqFront, freqBack uint64
		for f, b, scale := 0, len(chosen)-1, len(chosen)-1; scale > 0; f, b, scale = f+1, b-1, scale-2 {
			freqFront += uint64(scale) * uint64(row[chosen[f]])
			freqBack += uint64(scale) * uint64(row[chosen[b]])
		}
		if bestFront*freqFront > bestBack*freqBack {
			chosen = slices.Insert(chosen, 0, selected)
		} else {
			chosen = append(chosen, selected)
		}
		remaining = slices.Delete(remaining, best, best+1)
		for _, r := range remaining {
			total[r] += uint64(row[r])
		}
	}

	remap := make([]uint16, n)
	for i, idx := range chosen {
		remap[idx] = uint16(i)
	}
	return remap
}

// optimizeAlpha picks the alpha endpoint order that packs smallest and
// orders the alpha selectors.
func (pk *packer) optimizeAlpha(pool *taskpool.Pool) error {
	n := len(pk.res.AlphaEndpoints)
	hist := newCooccurrence(n)
	var comps []int
	for comp := compAlpha0; comp < numComps; comp++ {
		if pk.hasComp[comp] {
			comps = append(comps, comp)
		}
	}
	var prev [numComps]uint16
	for b, e := range pk.res.EndpointIndices {
		if pk.etc && b&1 != 0 {
			continue
		}
		for _, comp := range comps {
			i := e.Component[comp]
			if e.Reference == 0 && i != prev[comp] {
				hist.add(i, prev[comp])
			}
			prev[comp] = i
		}
	}
	hist.finish()
	selected := hist.mostFrequent()

	endpoints := make([]alphaEndpointPair, n)
	for i, e := range pk.res.AlphaEndpoints {
		first, second := dxt.UnpackAlphaEndpoints(e)
		endpoints[i] = alphaEndpointPair{int(first), int(second)}
	}

	var selectorErr error
	trials := make([]remapTrial, len(remapWeights))
	pool.Run(len(trials), func(t int) {
		tr := &trials[t]
		if t == 0 {
			tr.remap = sortAlphaEndpoints(endpoints)
			pk.selectorRemap[1] = orderAlphaSelectors(pk.res.AlphaSelectors)
			pk.packedAlphaSelectors, selectorErr = pk.packAlphaSelectors(pk.selectorRemap[1])
		} else {
			tr.remap = remapAlphaEndpoints(endpoints, hist, selected, remapWeights[t])
		}
		tr.packed, tr.err = pk.packAlphaEndpoints(tr.remap)
		if tr.err == nil {
			tr.bits, tr.err = pk.endpointCost(tr.remap, comps, len(tr.packed))
		}
	})
	if selectorErr != nil {
		return selectorErr
	}
	best, err := bestTrial(trials)
	if err != nil {
		return err
	}
	pk.alphaTrials = [4]uint64{trials[0].bits, trials[1].bits, trials[2].bits, trials[3].bits}
	pk.endpointRemap[1] = best.remap
	pk.packedAlphaEndpoints = best.packed
	return nil
}
