package crn

import (
	"math"
	"slices"

	"github.com/crunch-go/crunch/crn/internal/dxt"
	"github.com/crunch-go/crunch/crn/internal/taskpool"
	"github.com/crunch-go/crunch/crn/internal/vq"
)

// encodingWeights favors blocks with finer tilings when deriving selectors.
var encodingWeights = func() (w [8]float32) {
	for i := range w {
		w[i] = dxt.Lerp(1.15, 1, float32(i)/7)
	}
	return w
}()

func (c *Compressor) determineColorEndpoints() {
	items := make([]weighted[[6]float32], 0, c.numTiles)
	for i := range c.tiles {
		if t := &c.tiles[i]; t.count > 0 {
			items = append(items, weighted[[6]float32]{t.colorSeed, uint32(float32(t.count) * t.weight)})
		}
	}
	merged := mergeWeighted(c.pool, items, compareColorSeeds)
	vectors := make([][]float32, len(merged))
	weights := make([]uint32, len(merged))
	for i := range merged {
		vectors[i] = merged[i].key[:]
		weights[i] = merged[i].weight
	}

	clusterizer := vq.New()
	clusterizer.Generate(vectors, weights, min(c.numTiles, c.p.ColorEndpointCodebookSize), c.pool)
	codebook := clusterizer.Codebook()
	c.colorClusters = make([]colorCluster, len(codebook))

	n := c.numTasks()
	c.pool.Run(n, func(task int) {
		begin, end := taskpool.Range(len(c.tiles), task, n)
		for i := begin; i < end; i++ {
			t := &c.tiles[i]
			if t.count == 0 {
				continue
			}
			v := t.colorSeed
			k, _ := slices.BinarySearchFunc(merged, v, func(e weighted[[6]float32], v [6]float32) int {
				return compareColorSeeds(e.key, v)
			})
			t.cluster[compColor] = nearestColorEntry(codebook, v, clusterizer.NodeIndex(k))
		}
	})

	counts := make([]int, len(c.colorClusters))
	for i := range c.tiles {
		if t := &c.tiles[i]; t.count > 0 {
			counts[t.cluster[compColor]] += t.count
		}
	}
	c.colorPixels = make([]Color, 0, len(c.tilePixels))
	offsets := make([]int, len(counts))
	for k, count := range counts {
		offsets[k] = len(c.colorPixels)
		c.colorClusters[k].start, c.colorClusters[k].count = offsets[k], count
		c.colorPixels = c.colorPixels[:len(c.colorPixels)+count]
	}
	for i := range c.tiles {
		if t := &c.tiles[i]; t.count > 0 {
			k := t.cluster[compColor]
			copy(c.colorPixels[offsets[k]:], c.tilePixels[t.start:t.start+t.count])
			offsets[k] += t.count
		}
	}

	for b := 0; b < c.numBlocks; b++ {
		k := c.tiles[c.tileIndices[b]].cluster[compColor]
		ei := &c.endpointIndices[b]
		ei.Component[compColor] = uint16(k)
		c.colorClusters[k].blocks = append(c.colorClusters[k].blocks, b)
		// Both halves landed in one cluster: the split carries no
		// information, so undo the flip and code the pair as one.
		if c.etc && ei.Reference != 0 && uint16(k) == c.endpointIndices[b-1].Component[compColor] {
			if ei.Reference>>1 != 0 {
				transposeBlock(&c.blocks[b>>1])
			}
			ei.Reference = 0
		}
	}

	if c.etc {
		c.pool.Run(n, func(task int) {
			begin, end := taskpool.Range(len(c.colorClusters), task, n)
			for k := begin; k < end; k++ {
				c.optimizeColorClusterETC(k)
			}
		})
		return
	}
	c.pool.Run(n, func(task int) {
		for k := task; k < len(c.colorClusters); k += n {
			c.optimizeColorCluster(k)
		}
	})
}

// nearestColorEntry searches codebook for the entry closest to v, pruning
// with the distance to the entry of v's own leaf.
func nearestColorEntry(codebook [][]float32, v [6]float32, leaf int) int {
	var nodeDist float32
	for i, x := range codebook[leaf] {
		d := x - v[i]
		nodeDist += d * d
	}
	// Start from the leaf's own entry; others must beat it strictly.
	best, bestDist := leaf, nodeDist
	if nodeDist == 0 {
		return leaf
	}
	for i, e := range codebook {
		if i == leaf {
			continue
		}
		d0, d1 := e[0]-v[0], e[1]-v[1]
		dist := d0*d0 + d1*d1
		if dist >= bestDist {
			continue
		}
		d2, d3 := e[2]-v[2], e[3]-v[3]
		dist += d2*d2 + d3*d3
		if dist >= bestDist {
			continue
		}
		d4, d5 := e[4]-v[4], e[5]-v[5]
		dist += d4*d4 + d5*d5
		if dist < bestDist {
			best, bestDist = i, dist
			if dist == 0 {
				break
			}
		}
	}
	return best
}

func transposeBlock(blk *Block) {
	var t Block
	for p := range t {
		t[p] = blk[(p<<2&12)|p>>2]
	}
	*blk = t
}

func (c *Compressor) optimizeColorCluster(k int) {
	cl := &c.colorClusters[k]
	if cl.count == 0 {
		return
	}
	pixels := c.colorPixels[cl.start : cl.start+cl.count]
	perceptual := c.p.Perceptual
	selectors := make([]uint8, len(pixels))
	fit := dxt.OptimizeColor(pixels, perceptual, dxt.QualityUber, selectors)
	cl.first, cl.second = uint32(fit.Low), uint32(fit.High)
	cl.values = dxt.ColorPalette(fit.Low, fit.High)

	endpointWeight := float32(dxt.ColorDistance(perceptual, cl.values[0], cl.values[3]) / 2000)
	for _, b := range cl.blocks {
		w := dxt.Clamp(uint32(endpointWeight*c.blockWeights[b]), 1, 2048)
		weight := uint32(float32(w) * encodingWeights[c.blockEncodings[b]])
		var selector uint32
		for p, px := range c.blocks[b] {
			selector |= uint32(nearestColor(perceptual, px, &cl.values)) << (2 * p)
		}
		c.blockSelectors[compColor][b] = uint64(selector)<<32 | uint64(weight)
	}

	if refined, ok := dxt.RefineColor(pixels, selectors, perceptual, fit.Error); ok {
		cl.first, cl.second = uint32(refined.Low), uint32(refined.High)
	}
}

func (c *Compressor) optimizeColorClusterETC(k int) {
	cl := &c.colorClusters[k]
	if cl.count == 0 {
		return
	}
	pixels := c.colorPixels[cl.start : cl.start+cl.count]
	perceptual := c.p.Perceptual
	fit := dxt.OptimizeETC1(pixels, perceptual, nil)
	cl.first = fit.Endpoint
	cl.values = dxt.ETCPalette(fit.Endpoint)

	lumaRange := float64(cl.values[3].Luma()-cl.values[0].Luma()) / 100
	endpointWeight := float32(math.Pow(min(lumaRange, 1), 2.7))
	for _, b := range cl.blocks {
		scale := float32(1)
		if c.blockEncodings[b] != 0 {
			scale = .972
		}
		weight := uint32(dxt.Clamp(0x8000*endpointWeight*c.blockWeights[b]*scale, 1, 0xFFFF))
		var selector uint64
		for p, px := range c.halfBlock(b) {
			selector |= uint64(nearestColor(perceptual, px, &cl.values)) << (2 * p)
		}
		c.blockSelectors[compColor][b] = selector<<(32+16*(b&1)) | uint64(weight)
	}
}

func nearestColor(perceptual bool, px Color, values *[4]Color) int {
	best, bestErr := 0, uint32(math.MaxUint32)
	for s := range values {
		if e := dxt.ColorDistance(perceptual, px, values[s]); e < bestErr {
			best, bestErr = s, e
		}
	}
	return best
}

func (c *Compressor) determineAlphaEndpoints() {
	items := make([]weighted[[2]float32], 0, c.numTiles*c.numAlpha)
	for a := 0; a < c.numAlpha; a++ {
		for i := range c.tiles {
			if t := &c.tiles[i]; t.count > 0 {
				items = append(items, weighted[[2]float32]{t.alphaSeed[a], uint32(t.count)})
			}
		}
	}
	merged := mergeWeighted(c.pool, items, compareAlphaSeeds)
	vectors := make([][]float32, len(merged))
	weights := make([]uint32, len(merged))
	for i := range merged {
		vectors[i] = merged[i].key[:]
		weights[i] = merged[i].weight
	}

	clusterizer := vq.New()
	clusterizer.Generate(vectors, weights, min(c.numTiles, c.p.AlphaEndpointCodebookSize), c.pool)
	codebook := clusterizer.Codebook()
	c.alphaClusters = make([]alphaCluster, len(codebook))

	n := c.numTasks()
	c.pool.Run(n, func(task int) {
		begin, end := taskpool.Range(len(c.tiles), task, n)
		for i := begin; i < end; i++ {
			t := &c.tiles[i]
			if t.count == 0 {
				continue
			}
			for a := 0; a < c.numAlpha; a++ {
				t.cluster[compAlpha0+a] = nearestAlphaEntry(codebook, t.alphaSeed[a])
			}
		}
	})

	counts := make([]int, len(c.alphaClusters))
	total := 0
	for a := 0; a < c.numAlpha; a++ {
		for i := range c.tiles {
			if t := &c.tiles[i]; t.count > 0 {
				counts[t.cluster[compAlpha0+a]] += t.count
				total += t.count
			}
		}
	}
	c.alphaPixels = make([]uint8, total)
	offsets := make([]int, len(counts))
	pos := 0
	for k, count := range counts {
		offsets[k] = pos
		c.alphaClusters[k].start, c.alphaClusters[k].count = pos, count
		pos += count
	}
	for a := 0; a < c.numAlpha; a++ {
		comp := c.p.AlphaComponents[a]
		for i := range c.tiles {
			t := &c.tiles[i]
			if t.count == 0 {
				continue
			}
			k := t.cluster[compAlpha0+a]
			for _, px := range c.tilePixels[t.start : t.start+t.count] {
				c.alphaPixels[offsets[k]] = px[comp]
				offsets[k]++
			}
		}
	}

	for b := 0; b < c.numBlocks; b++ {
		for a := 0; a < c.numAlpha; a++ {
			k := c.tiles[c.tileIndices[b]].cluster[compAlpha0+a]
			c.endpointIndices[b].Component[compAlpha0+a] = uint16(k)
			if !(c.etc && b&1 != 0) {
				c.alphaClusters[k].blocks[a] = append(c.alphaClusters[k].blocks[a], b)
			}
		}
	}

	c.pool.Run(n, func(task int) {
		for k := task; k < len(c.alphaClusters); k += n {
			c.optimizeAlphaCluster(k)
		}
	})
}

func nearestAlphaEntry(codebook [][]float32, v [2]float32) int {
	best, bestDist := 0, float32(math.MaxFloat32)
	for i, e := range codebook {
		d0, d1 := e[0]-v[0], e[1]-v[1]
		if dist := d0*d0 + d1*d1; dist < bestDist {
			best, bestDist = i, dist
			if dist == 0 {
				break
			}
		}
	}
	return best
}

func (c *Compressor) optimizeAlphaCluster(k int) {
	cl := &c.alphaClusters[k]
	if cl.count == 0 {
		return
	}
	values := c.alphaPixels[cl.start : cl.start+cl.count]
	selectors := make([]uint8, len(values))
	fit := dxt.OptimizeAlpha(values, dxt.QualityUber, selectors)
	cl.first, cl.second = uint32(fit.First), uint32(fit.Second)
	palette := dxt.AlphaPalette(fit.First, fit.Second)

	delta := int(fit.First) - int(fit.Second)
	endpointWeight := float32(dxt.Clamp(delta*delta>>3, 1, 2048))
	var weights [8]uint32
	for i := range weights {
		weights[i] = uint32(endpointWeight * encodingWeights[i])
	}

	if c.etc {
		base, packed, eac := dxt.EACEndpoint(fit.First, fit.Second)
		palette = eac
		cl.first, cl.second = uint32(base), uint32(packed)
	}
	for i, v := range palette {
		cl.values[i] = int(v)
	}

	for a := 0; a < c.numAlpha; a++ {
		comp := c.p.AlphaComponents[a]
		for _, b := range cl.blocks[a] {
			idx := b
			if c.etc {
				idx = b >> 1
			}
			src := &c.blocks[idx]
			var selector uint64
			for p, px := range src {
				selector |= uint64(nearestAlpha(int(px[comp]), &cl.values)) << (3 * p)
			}
			c.blockSelectors[compAlpha0+a][b] = selector<<16 | uint64(weights[c.blockEncodings[b]])
		}
	}

	if !c.etc {
		if refined, ok := dxt.RefineAlpha(values, selectors, fit.Error); ok {
			cl.refined = true
			cl.first, cl.second = uint32(refined.First), uint32(refined.Second)
			for i, v := range dxt.AlphaPalette(refined.First, refined.Second) {
				cl.refinedValues[i] = int(v)
			}
			return
		}
	}
	cl.refinedValues = cl.values
}

func nearestAlpha(v int, values *[8]int) int {
	best, bestErr := 0, math.MaxInt
	for s, x := range values {
		e := v - x
		if e < 0 {
			e = -e
		}
		if e < bestErr {
			best, bestErr = s, e
		}
	}
	return best
}
