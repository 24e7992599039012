package dxt

import "math"

// ETCFit is an ETC1 half-block endpoint (see PackETCEndpoint) and its error.
type ETCFit struct {
	Endpoint uint32
	Error    uint64
}

// ETC1Optimizer searches 5-bit base colors around the pixel average across
// all intensity tables. Results accumulate across Compute calls.
type ETC1Optimizer struct {
	pixels     []Color
	perceptual bool
	center     [3]int
	best       ETCFit
	bestSel    []uint8
	scratch    []uint8
}

// Init resets the optimizer for a new pixel set.
func (o *ETC1Optimizer) Init(pixels []Color, perceptual bool) {
	o.pixels = pixels
	o.perceptual = perceptual
	n := len(pixels)
	if cap(o.bestSel) < n {
		o.bestSel = make([]uint8, n)
		o.scratch = make([]uint8, n)
	}
	o.bestSel = o.bestSel[:n]
	o.scratch = o.scratch[:n]
	o.best = ETCFit{Error: math.MaxUint64}

	var sum [3]int
	for _, px := range pixels {
		for c := 0; c < 3; c++ {
			sum[c] += int(px[c])
		}
	}
	for c := 0; c < 3; c++ {
		avg := 0
		if n > 0 {
			avg = (sum[c] + n/2) / n
		}
		o.center[c] = (avg*31 + 127) / 255
	}
}

func (o *ETC1Optimizer) evaluate(endpoint uint32) bool {
	pal := ETCPalette(endpoint)
	var total uint64
	for i, px := range o.pixels {
		best, bestS := ColorDistance(o.perceptual, px, pal[0]), uint8(0)
		for s := 1; s < 4; s++ {
			if d := ColorDistance(o.perceptual, px, pal[s]); d < best {
				best, bestS = d, uint8(s)
			}
		}
		o.scratch[i] = bestS
		total += uint64(best)
		if total >= o.best.Error {
			return false
		}
	}
	o.best = ETCFit{Endpoint: endpoint, Error: total}
	copy(o.bestSel, o.scratch)
	return true
}

// Compute tries every base color center+(dr,dg,db) with each delta drawn from
// deltas.
func (o *ETC1Optimizer) Compute(deltas []int) {
	for _, dr := range deltas {
		r := o.center[0] + dr
		if r < 0 || r > 31 {
			continue
		}
		for _, dg := range deltas {
			g := o.center[1] + dg
			if g < 0 || g > 31 {
				continue
			}
			for _, db := range deltas {
				b := o.center[2] + db
				if b < 0 || b > 31 {
					continue
				}
				base := Color{Expand5(uint8(r)), Expand5(uint8(g)), Expand5(uint8(b)), 255}
				for inten := uint8(0); inten < 8; inten++ {
					o.evaluate(PackETCEndpoint(base, inten))
					if o.best.Error == 0 {
						return
					}
				}
			}
		}
	}
}

// Result returns the best endpoint found so far.
func (o *ETC1Optimizer) Result() ETCFit { return o.best }

// Selectors returns the selectors of the best endpoint found so far.
func (o *ETC1Optimizer) Selectors() []uint8 { return o.bestSel }

var (
	etcScanNear = []int{-1, 0, 1}
	etcScanFar  = []int{-3, -2, 2, 3}
)

// etcRefineThreshold is the per-pixel error above which the wider scan runs.
const etcRefineThreshold = 375

// OptimizeETC1 fits an ETC1 endpoint to pixels, widening the search when the
// near scan leaves a large error. When selectors is non-nil it receives the
// per-pixel selectors.
func OptimizeETC1(pixels []Color, perceptual bool, selectors []uint8) ETCFit {
	if len(pixels) == 0 {
		return ETCFit{}
	}
	var o ETC1Optimizer
	o.Init(pixels, perceptual)
	o.Compute(etcScanNear)
	if o.best.Error > uint64(etcRefineThreshold*len(pixels)) {
		o.Compute(etcScanFar)
	}
	if selectors != nil {
		copy(selectors, o.bestSel)
	}
	return o.best
}
