package crn

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/crunch-go/crunch/crn/internal/dxt"
	"github.com/crunch-go/crunch/crn/internal/taskpool"
)

// Color is an 8-bit RGBA texel.
type Color = dxt.Color

// Block is a 4x4 texel block in row-major order. ETC formats treat each
// block as two 8-texel half-blocks (rows 0-1 and rows 2-3).
type Block [16]Color

// Endpoint and selector index components.
const (
	compColor = iota
	compAlpha0
	compAlpha1
	numComps
)

// EndpointIndices are the endpoint codebook indices of one (half-)block.
//
// Reference is 1, 2 or 3 when the block repeats the endpoints of the block to
// its left, above it, or diagonally above-left, and 0 otherwise. For the
// second half-block of an ETC block it holds the block's tiling instead.
type EndpointIndices struct {
	Reference uint8
	Component [numComps]uint16
}

// SelectorIndices are the selector codebook indices of one (half-)block.
type SelectorIndices struct {
	Component [numComps]uint16
}

// Result holds the codebooks and per-block indices produced by Compress.
//
// Color selectors store pixel p at bits 2p..2p+1, alpha selectors at bits
// 3p..3p+2, both in linear order from the first endpoint to the second.
type Result struct {
	EndpointIndices []EndpointIndices
	SelectorIndices []SelectorIndices
	ColorEndpoints  []uint32
	AlphaEndpoints  []uint32
	ColorSelectors  []uint32
	AlphaSelectors  []uint64
}

// tile is a group of texels sharing one endpoint pair. count == 0 marks an
// unused slot.
type tile struct {
	start, count int
	weight       float32
	colorSeed    [6]float32
	alphaSeed    [2][2]float32
	cluster      [numComps]int
}

type colorCluster struct {
	start, count  int
	first, second uint32
	values        [4]Color
	blocks        []int
}

type alphaCluster struct {
	start, count  int
	first, second uint32
	values        [8]int
	refinedValues [8]int
	refined       bool
	blocks        [2][]int
}

// Compressor quantizes mip chains into endpoint and selector codebooks. The
// zero value is ready to use; a Compressor must not be used concurrently.
type Compressor struct {
	p    Params
	info Info
	pool *taskpool.Pool
	prog progress

	blocks    []Block
	numBlocks int
	hasColor  bool
	etc       bool
	numAlpha  int

	colorDerating [][8]float32
	alphaDerating [8]float32

	blockWeights    []float32
	blockEncodings  []uint8
	blockSelectors  [numComps][]uint64
	tileIndices     []int
	endpointIndices []EndpointIndices
	selectorIndices []SelectorIndices

	tiles      []tile
	tilePixels []Color
	numTiles   int

	colorClusters []colorCluster
	colorPixels   []Color
	alphaClusters []alphaCluster
	alphaPixels   []uint8

	colorSelectors     []uint32
	colorSelectorsUsed []bool
	alphaSelectors     []uint64
	alphaSelectorsUsed []bool
}

// Compress quantizes blocks according to p. For ETC formats len(blocks) is
// half of p.NumBlocks(). blocks is not modified.
func (c *Compressor) Compress(blocks []Block, p *Params) (*Result, error) {
	if p == nil {
		return nil, newError(ErrBadParam, "crn: nil params")
	}
	pool, err := taskpool.New(p.Helpers)
	if err != nil {
		return nil, wrapError(ErrPoolInitFailed, "crn: worker pool", err)
	}
	defer pool.Close()
	prog := newProgress(p.Progress)
	return c.compress(blocks, p, pool, &prog)
}

func (c *Compressor) compress(blocks []Block, p *Params, pool *taskpool.Pool, prog *progress) (*Result, error) {
	info, err := p.validate()
	if err != nil {
		return nil, err
	}
	c.reset()
	c.p = *p
	c.info = info
	c.pool = pool
	c.etc = info.ETC
	c.hasColor = info.HasColor
	c.numAlpha = info.AlphaChannels
	if !info.Perceptual {
		c.p.Perceptual = false
	}
	defer func() { c.pool = nil }()

	c.numBlocks = p.NumBlocks()
	want := c.numBlocks
	if c.etc {
		want >>= 1
	}
	if len(blocks) != want {
		return nil, newError(ErrBadParam, fmt.Sprintf("crn: got %d blocks, levels need %d", len(blocks), want))
	}
	c.blocks = slices.Clone(blocks)
	c.initTables()

	log := Logger()
	steps := []struct {
		phase int
		run   func()
		skip  bool
	}{
		{PhaseTiles, c.determineTiles, false},
		{PhaseColorEndpoints, c.determineColorEndpoints, !c.hasColor},
		{PhaseAlphaEndpoints, c.determineAlphaEndpoints, c.numAlpha == 0},
		{PhaseColorSelectors, c.createColorSelectorCodebook, !c.hasColor},
		{PhaseAlphaSelectors, c.createAlphaSelectorCodebook, c.numAlpha == 0},
	}
	for _, s := range steps {
		if s.skip {
			continue
		}
		if err := prog.check(s.phase); err != nil {
			return nil, err
		}
		start := time.Now()
		s.run()
		log.Debug("phase done", "phase", s.phase, "elapsed", time.Since(start))
	}
	if err := prog.check(PhaseCodebooks); err != nil {
		return nil, err
	}
	res := c.emit()
	log.Debug("codebooks",
		"colorEndpoints", len(res.ColorEndpoints), "colorSelectors", len(res.ColorSelectors),
		"alphaEndpoints", len(res.AlphaEndpoints), "alphaSelectors", len(res.AlphaSelectors))
	return res, nil
}

func (c *Compressor) reset() {
	*c = Compressor{}
}

func (c *Compressor) numTasks() int { return c.pool.NumTasks() }

var tileDerating = [8]float32{0, 1, 1, 2, 2, 2, 2, 3}

func (c *Compressor) initTables() {
	c.colorDerating = make([][8]float32, len(c.p.Levels))
	for level := range c.p.Levels {
		d := c.p.AdaptiveTileColorDerating
		if level > 0 && d > .25 {
			d = max(.25, d/float32(math.Pow(3, float64(level))))
		}
		for e := range c.colorDerating[level] {
			c.colorDerating[level][e] = dxt.Lerp(0, d, tileDerating[e]/3)
		}
	}
	for e := range c.alphaDerating {
		c.alphaDerating[e] = dxt.Lerp(0, c.p.AdaptiveTileAlphaDerating, tileDerating[e]/3)
	}

	n := c.numBlocks
	c.blockWeights = make([]float32, n)
	c.blockEncodings = make([]uint8, n)
	for comp := range c.blockSelectors {
		c.blockSelectors[comp] = make([]uint64, n)
	}
	c.tileIndices = make([]int, n)
	c.endpointIndices = make([]EndpointIndices, n)
	c.selectorIndices = make([]SelectorIndices, n)
	c.tiles = make([]tile, n)
	if c.etc {
		c.tilePixels = make([]Color, n*8)
	} else {
		c.tilePixels = make([]Color, n*16)
	}
	for _, l := range c.p.Levels {
		for b := l.FirstBlock; b < l.FirstBlock+l.NumBlocks; b++ {
			c.blockWeights[b] = l.Weight
		}
	}
}

// halfBlock returns the 8 texels of ETC half-block b.
func (c *Compressor) halfBlock(b int) []Color {
	blk := &c.blocks[b>>1]
	return blk[(b&1)*8 : (b&1)*8+8]
}
