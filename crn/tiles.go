package crn

import (
	"math"
	"slices"

	"github.com/crunch-go/crunch/crn/internal/dxt"
	"github.com/crunch-go/crunch/crn/internal/taskpool"
	"github.com/crunch-go/crunch/crn/internal/vq"
)

// DXT tile shapes over a 2x2 block quad. The quad is copied into a 128-texel
// scratch: [0,64) holds the blocks top-left, bottom-left, top-right,
// bottom-right; [64,128) holds the same texels as 8-texel rows across the
// left and right blocks. Shapes 0-3 are single blocks, 4-5 the left and right
// halves, 6-7 the top and bottom halves and 8 the whole quad.
var (
	dxtShapeOffsets = [9]int{0, 16, 32, 48, 0, 32, 64, 96, 64}

	dxtTilings = [8][]int{{8}, {6, 7}, {4, 5}, {6, 1, 3}, {7, 0, 2}, {4, 2, 3}, {5, 0, 1}, {0, 2, 1, 3}}

	// dxtTileMap[e][by][bx] is the tile of each quad block under tiling e.
	dxtTileMap = [8][2][2]uint8{
		{{0, 0}, {0, 0}},
		{{0, 0}, {1, 1}},
		{{0, 1}, {0, 1}},
		{{0, 0}, {1, 2}},
		{{1, 2}, {0, 0}},
		{{0, 1}, {0, 2}},
		{{1, 0}, {2, 0}},
		{{0, 1}, {2, 3}},
	}
)

func dxtShapeSize(t int) int { return 16 << (t >> 2) }

// ETC tile shapes over one 4x4 block. The scratch holds the transposed block
// in [0,16) and the block itself in [16,32): shapes 0-1 are the left and right
// halves, 2-3 the top and bottom halves and 4 the whole block.
var (
	etcShapeOffsets = [5]int{0, 8, 16, 24, 16}
	etcTilings      = [3][]int{{4}, {2, 3}, {0, 1}}
	etcTileMap      = [3][2]uint8{{0, 0}, {0, 1}, {0, 1}}
)

func etcShapeSize(t int) int { return 8 << (t >> 2) }

func peakSNR(err uint64, scale float64) float64 {
	if err == 0 {
		return 999999
	}
	return 20 * math.Log10(255/math.Sqrt(float64(err)/scale))
}

func (c *Compressor) determineTiles() {
	task := c.determineTilesDXT
	if c.etc {
		task = c.determineTilesETC
	}
	n := c.numTasks()
	c.pool.Run(n, func(t int) { task(t, n) })

	c.numTiles = 0
	for i := range c.tiles {
		if c.tiles[i].count > 0 {
			c.numTiles++
		}
	}
}

func (c *Compressor) determineTilesDXT(task, numTasks int) {
	var (
		scratch    [128]Color
		alpha      [64]uint8
		shapeError [numComps][9]uint64
	)
	for level, l := range c.p.Levels {
		width := l.BlockWidth
		height := l.NumBlocks / width
		faceHeight := height / c.p.NumFaces
		h, hEnd := taskpool.Range(height, task, numTasks)
		h &^= 1
		hEnd &^= 1

		for ; h < hEnd; h += 2 {
			b := l.FirstBlock + h*width
			// Row pairs alternate direction within a face so tile slots
			// follow a serpentine scan.
			reverse := (h%faceHeight)&2 != 0
			for qx := 0; qx < width/2; qx, b = qx+1, b+2 {
				slot := l.FirstBlock + h*width + 4*qx
				if reverse {
					slot = l.FirstBlock + h*width + 2*width - 4 - 4*qx
				}
				for t := 0; t < 64; t += 16 {
					src := b
					if t&16 != 0 {
						src += width
					}
					if t&32 != 0 {
						src++
					}
					copy(scratch[t:t+16], c.blocks[src][:])
				}
				for t := 0; t < 64; t += 4 {
					src := b
					if t&32 != 0 {
						src += width
					}
					if t&4 != 0 {
						src++
					}
					row := t >> 1 & 12
					copy(scratch[64+t:64+t+4], c.blocks[src][row:row+4])
				}

				for t := 0; t < 9; t++ {
					size := dxtShapeSize(t)
					pixels := scratch[dxtShapeOffsets[t] : dxtShapeOffsets[t]+size]
					if c.hasColor {
						shapeError[compColor][t] = dxt.OptimizeColor(pixels, false, dxt.QualityFast, nil).Error
					}
					for a := 0; a < c.numAlpha; a++ {
						comp := c.p.AlphaComponents[a]
						for i, px := range pixels {
							alpha[i] = px[comp]
						}
						shapeError[compAlpha0+a][t] = dxt.OptimizeAlpha(alpha[:size], dxt.QualityNormal, nil).Error
					}
				}

				best := c.bestDXTTiling(level, &shapeError)

				pos := slot * 16
				for k, t := range dxtTilings[best] {
					size := dxtShapeSize(t)
					tl := &c.tiles[slot|k]
					tl.start, tl.count, tl.weight = pos, size, l.Weight
					copy(c.tilePixels[pos:pos+size], scratch[dxtShapeOffsets[t]:])
					pixels := c.tilePixels[pos : pos+size]
					if c.hasColor {
						tl.colorSeed = c.palettizeColor(pixels)
					}
					for a := 0; a < c.numAlpha; a++ {
						tl.alphaSeed[a] = palettizeAlpha(pixels, c.p.AlphaComponents[a])
					}
					pos += size
				}

				for by := 0; by < 2; by++ {
					for bx := 0; bx < 2; bx++ {
						blk := b + by*width + bx
						c.blockEncodings[blk] = uint8(best)
						c.tileIndices[blk] = slot | int(dxtTileMap[best][by][bx])
					}
				}
			}
		}
	}
}

func (c *Compressor) bestDXTTiling(level int, shapeError *[numComps][9]uint64) int {
	var total [numComps][8]uint64
	for comp := 0; comp < numComps; comp++ {
		for e, tiling := range dxtTilings {
			for _, t := range tiling {
				total[comp][e] += shapeError[comp][t]
			}
		}
	}

	best, bestQuality := 0, float32(0)
	for e := range dxtTilings {
		var quality float32
		if c.hasColor {
			quality = float32(max(peakSNR(total[compColor][e], 192)-float64(c.colorDerating[level][e]), 0))
			if c.numAlpha > 0 {
				quality *= c.p.ColorAlphaWeightRatio
			}
		}
		for a := 0; a < c.numAlpha; a++ {
			quality += float32(max(peakSNR(total[compAlpha0+a][e], 64)-float64(c.alphaDerating[e]), 0))
		}
		if quality > bestQuality {
			best, bestQuality = e, quality
		}
	}
	return best
}

func (c *Compressor) determineTilesETC(task, numTasks int) {
	var (
		scratch    [32]Color
		shapeError [5]uint64
	)
	for level, l := range c.p.Levels {
		b, bEnd := taskpool.Range(l.NumBlocks, task, numTasks)
		b = (l.FirstBlock + b) &^ 1
		bEnd = (l.FirstBlock + bEnd) &^ 1

		for ; b < bEnd; b += 2 {
			blk := &c.blocks[b>>1]
			for p := 0; p < 16; p++ {
				scratch[p] = blk[(p<<2&12)|p>>2]
			}
			copy(scratch[16:], blk[:])

			for t := 0; t < 5; t++ {
				pixels := scratch[etcShapeOffsets[t] : etcShapeOffsets[t]+etcShapeSize(t)]
				shapeError[t] = dxt.OptimizeETC1(pixels, false, nil).Error
			}

			best, bestQuality := 0, float32(0)
			for e, tiling := range etcTilings {
				var total uint64
				for _, t := range tiling {
					total += shapeError[t]
				}
				quality := float32(max(peakSNR(total, 48)-float64(c.colorDerating[level][e]), 0))
				if quality > bestQuality {
					best, bestQuality = e, quality
				}
			}

			var alphaSeed [2]float32
			if c.numAlpha > 0 {
				alphaSeed = palettizeAlpha(scratch[:16], c.p.AlphaComponents[0])
			}
			pos := b * 8
			for k, t := range etcTilings[best] {
				size := etcShapeSize(t)
				tl := &c.tiles[b|k]
				tl.start, tl.count, tl.weight = pos, size, l.Weight
				copy(c.tilePixels[pos:pos+size], scratch[etcShapeOffsets[t]:])
				tl.colorSeed = c.palettizeColor(c.tilePixels[pos : pos+size])
				tl.alphaSeed[0] = alphaSeed
				pos += size
			}

			for bx := 0; bx < 2; bx++ {
				c.blockEncodings[b|bx] = uint8(best)
				c.tileIndices[b|bx] = b | int(etcTileMap[best][bx])
				c.endpointIndices[b|bx].Reference = 0
				if bx == 1 {
					c.endpointIndices[b|bx].Reference = uint8(best)
				}
			}
			if best>>1 != 0 {
				copy(blk[:], scratch[:16])
			}
		}
	}
}

// palettizeColor returns the two-point split of the distinct colors of
// pixels as a 6-float seed, shorter vector first.
func (c *Compressor) palettizeColor(pixels []Color) [6]float32 {
	keys := make([]uint32, len(pixels))
	for i, px := range pixels {
		keys[i] = uint32(px[0])<<16 | uint32(px[1])<<8 | uint32(px[2])
	}
	slices.Sort(keys)

	vectors := make([][]float32, 0, len(keys))
	weights := make([]uint32, 0, len(keys))
	for i, k := range keys {
		if i > 0 && k == keys[i-1] {
			weights[len(weights)-1]++
			continue
		}
		r := float32(k>>16) / 255
		g := float32(k>>8&0xFF) / 255
		b := float32(k&0xFF) / 255
		if c.p.Perceptual {
			r *= .5
			b *= .25
		}
		vectors = append(vectors, []float32{r, g, b})
		weights = append(weights, 1)
	}
	split := vq.SplitVectors(vectors, weights)
	if sqLen32(split[0]) > sqLen32(split[1]) {
		split[0], split[1] = split[1], split[0]
	}
	var seed [6]float32
	copy(seed[:3], split[0])
	copy(seed[3:], split[1])
	return seed
}

// palettizeAlpha returns the ascending two-point split of channel comp.
func palettizeAlpha(pixels []Color, comp int) [2]float32 {
	values := make([]uint8, len(pixels))
	for i, px := range pixels {
		values[i] = px[comp]
	}
	slices.Sort(values)

	vectors := make([][]float32, 0, len(values))
	weights := make([]uint32, 0, len(values))
	for i, v := range values {
		if i > 0 && v == values[i-1] {
			weights[len(weights)-1]++
			continue
		}
		vectors = append(vectors, []float32{float32(v) / 255})
		weights = append(weights, 1)
	}
	split := vq.SplitVectors(vectors, weights)
	lo, hi := split[0][0], split[1][0]
	if lo > hi {
		lo, hi = hi, lo
	}
	return [2]float32{lo, hi}
}

func sqLen32(v []float32) float32 {
	var s float32
	for _, x := range v {
		s += x * x
	}
	return s
}
