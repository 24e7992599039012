package crn

import (
	"cmp"
	"math"

	"github.com/crunch-go/crunch/crn/internal/dxt"
	"github.com/crunch-go/crunch/crn/internal/taskpool"
	"github.com/crunch-go/crunch/crn/internal/vq"
)

type colorSelectorDetails struct {
	error [16][4]uint64
	used  bool
}

type alphaSelectorDetails struct {
	error [16][8]uint64
	used  bool
}

// numSelectorBlocks is the number of 4x4 blocks that own a selector.
func (c *Compressor) numSelectorBlocks() int {
	if c.etc {
		return c.numBlocks >> 1
	}
	return c.numBlocks
}

func (c *Compressor) createColorSelectorCodebook() {
	step := 1
	if c.etc {
		step = 2
	}
	items := make([]weighted[uint32], 0, c.numSelectorBlocks())
	for b := 0; b < c.numBlocks; b += step {
		v := c.blockSelectors[compColor][b]
		if c.etc {
			v += c.blockSelectors[compColor][b+1]
		}
		items = append(items, weighted[uint32]{uint32(v >> 32), uint32(v)})
	}
	merged := mergeWeighted(c.pool, items, cmp.Compare[uint32])

	vectors := make([][]float32, len(merged))
	weights := make([]uint32, len(merged))
	for i, m := range merged {
		v := make([]float32, 16)
		for p := range v {
			v[p] = (float32(m.key>>(2*p)&3) + .5) / 4
		}
		vectors[i], weights[i] = v, m.weight
	}
	clusterizer := vq.New()
	clusterizer.Generate(vectors, weights, c.p.ColorSelectorCodebookSize, c.pool)
	codebook := clusterizer.Codebook()
	c.colorSelectors = make([]uint32, len(codebook))
	c.colorSelectorsUsed = make([]bool, len(codebook))
	for i, v := range codebook {
		for p, x := range v {
			c.colorSelectors[i] |= uint32(min(x*4, 3)) << (2 * p)
		}
	}

	n := c.numTasks()
	details := make([][]colorSelectorDetails, n)
	c.pool.Run(n, func(task int) {
		details[task] = make([]colorSelectorDetails, len(c.colorSelectors))
		c.assignColorSelectors(task, n, details[task])
	})

	total := details[0]
	for _, d := range details[1:] {
		for i := range total {
			for p := range total[i].error {
				for s := range total[i].error[p] {
					total[i].error[p][s] += d[i].error[p][s]
				}
			}
			total[i].used = total[i].used || d[i].used
		}
	}
	for i := range c.colorSelectors {
		c.colorSelectorsUsed[i] = total[i].used
		var selector uint32
		for p := range total[i].error {
			e := &total[i].error[p]
			s03 := 0
			if e[3] < e[0] {
				s03 = 3
			}
			s12 := 1
			if e[2] < e[1] {
				s12 = 2
			}
			best := s03
			if e[s12] < e[s03] {
				best = s12
			}
			selector |= uint32(best) << (2 * p)
		}
		c.colorSelectors[i] = selector
	}
}

func (c *Compressor) assignColorSelectors(task, numTasks int, details []colorSelectorDetails) {
	var (
		e2 [16][4]uint32
		e4 [8][16]uint32
		e8 [4][256]uint32
	)
	begin, end := taskpool.Range(c.numSelectorBlocks(), task, numTasks)
	for b := begin; b < end; b++ {
		for p, px := range c.blocks[b] {
			cluster := c.endpointIndices[b].Component[compColor]
			if c.etc {
				cluster = c.endpointIndices[b<<1|p>>3].Component[compColor]
			}
			values := &c.colorClusters[cluster].values
			for s := range e2[p] {
				e2[p][s] = dxt.ColorDistance(c.p.Perceptual, px, values[s])
			}
		}
		for p := range e4 {
			for s := range e4[p] {
				e4[p][s] = e2[2*p][s&3] + e2[2*p+1][s>>2]
			}
		}
		for p := range e8 {
			for s := range e8[p] {
				e8[p][s] = e4[2*p][s&15] + e4[2*p+1][s>>4]
			}
		}

		best, bestErr := 0, uint64(math.MaxUint64)
		for i, sel := range c.colorSelectors {
			sum := uint64(e8[0][sel&255]) + uint64(e8[1][sel>>8&255]) + uint64(e8[2][sel>>16&255]) + uint64(e8[3][sel>>24])
			if sum < bestErr {
				best, bestErr = i, sum
			}
		}
		d := &details[best]
		for p := range e2 {
			for s := range e2[p] {
				d.error[p][s] += uint64(e2[p][s])
			}
		}
		d.used = true
		if c.etc {
			c.selectorIndices[b<<1].Component[compColor] = uint16(best)
		} else {
			c.selectorIndices[b].Component[compColor] = uint16(best)
		}
	}
}

func (c *Compressor) createAlphaSelectorCodebook() {
	step := 1
	if c.etc {
		step = 2
	}
	items := make([]weighted[uint64], 0, c.numAlpha*c.numSelectorBlocks())
	for a := 0; a < c.numAlpha; a++ {
		for b := 0; b < c.numBlocks; b += step {
			v := c.blockSelectors[compAlpha0+a][b]
			items = append(items, weighted[uint64]{v >> 16, uint32(uint16(v))})
		}
	}
	merged := mergeWeighted(c.pool, items, cmp.Compare[uint64])

	vectors := make([][]float32, len(merged))
	weights := make([]uint32, len(merged))
	for i, m := range merged {
		v := make([]float32, 16)
		for p := range v {
			v[p] = (float32(m.key>>(3*p)&7) + .5) / 8
		}
		vectors[i], weights[i] = v, m.weight
	}
	clusterizer := vq.New()
	clusterizer.Generate(vectors, weights, c.p.AlphaSelectorCodebookSize, c.pool)
	codebook := clusterizer.Codebook()
	c.alphaSelectors = make([]uint64, len(codebook))
	c.alphaSelectorsUsed = make([]bool, len(codebook))
	for i, v := range codebook {
		for p, x := range v {
			c.alphaSelectors[i] |= uint64(min(x*8, 7)) << (3 * p)
		}
	}

	n := c.numTasks()
	details := make([][]alphaSelectorDetails, n)
	c.pool.Run(n, func(task int) {
		details[task] = make([]alphaSelectorDetails, len(c.alphaSelectors))
		c.assignAlphaSelectors(task, n, details[task])
	})

	total := details[0]
	for _, d := range details[1:] {
		for i := range total {
			for p := range total[i].error {
				for s := range total[i].error[p] {
					total[i].error[p][s] += d[i].error[p][s]
				}
			}
			total[i].used = total[i].used || d[i].used
		}
	}
	for i := range c.alphaSelectors {
		c.alphaSelectorsUsed[i] = total[i].used
		var selector uint64
		for p := range total[i].error {
			selector |= uint64(argminAlpha(&total[i].error[p])) << (3 * p)
		}
		c.alphaSelectors[i] = selector
	}
}

// argminAlpha is a tournament over the eight selector errors; ties keep the
// lower-indexed contender of each pairing.
func argminAlpha(e *[8]uint64) int {
	pick := func(a, b int) int {
		if e[b] < e[a] {
			return b
		}
		return a
	}
	s07 := pick(0, 7)
	s12 := pick(1, 2)
	s34 := pick(3, 4)
	s56 := pick(5, 6)
	s02 := pick(s07, s12)
	s36 := pick(s34, s56)
	return pick(s02, s36)
}

func (c *Compressor) assignAlphaSelectors(task, numTasks int, details []alphaSelectorDetails) {
	var (
		e3 [16][8]uint32
		e6 [8][64]uint32
	)
	begin, end := taskpool.Range(c.numSelectorBlocks(), task, numTasks)
	for b := begin; b < end; b++ {
		owner := b
		if c.etc {
			owner = b << 1
		}
		for a := 0; a < c.numAlpha; a++ {
			comp := c.p.AlphaComponents[a]
			cl := &c.alphaClusters[c.endpointIndices[owner].Component[compAlpha0+a]]
			fillAlphaErrors(&e3, &c.blocks[b], comp, &cl.values)
			for p := range e6 {
				for s := range e6[p] {
					e6[p][s] = e3[2*p][s&7] + e3[2*p+1][s>>3]
				}
			}

			best, bestErr := 0, uint64(math.MaxUint64)
			for i, sel := range c.alphaSelectors {
				var sum uint64
				for k := range e6 {
					sum += uint64(e6[k][sel>>(6*k)&63])
				}
				if sum < bestErr {
					best, bestErr = i, sum
				}
			}
			if cl.refined {
				fillAlphaErrors(&e3, &c.blocks[b], comp, &cl.refinedValues)
			}
			d := &details[best]
			for p := range e3 {
				for s := range e3[p] {
					d.error[p][s] += uint64(e3[p][s])
				}
			}
			d.used = true
			c.selectorIndices[owner].Component[compAlpha0+a] = uint16(best)
		}
	}
}

func fillAlphaErrors(e3 *[16][8]uint32, blk *Block, comp int, values *[8]int) {
	for p, px := range blk {
		for s, v := range values {
			d := int(px[comp]) - v
			e3[p][s] = uint32(d * d)
		}
	}
}
