package dxt

import (
	"math"
	"sync"
)

// Quality selects how much search an endpoint optimizer performs.
type Quality int

const (
	// QualityFast fits the principal axis and runs one least-squares pass.
	QualityFast Quality = iota
	// QualityNormal adds bounding-box candidates and more refinement.
	QualityNormal
	// QualityUber adds a local search over neighboring quantized endpoints.
	QualityUber
)

// ColorFit is a DXT1 endpoint pair and the squared error it achieves.
type ColorFit struct {
	Low, High uint16
	Error     uint64
}

type solidMatch [256][2]uint8

// solidTables[0] holds 5-bit and solidTables[1] 6-bit endpoint pairs whose
// palette entry 1 is closest to each 8-bit value.
var solidTables = sync.OnceValue(func() *[2]solidMatch {
	var t [2]solidMatch
	for i, bits := range [2]uint{5, 6} {
		n := 1 << bits
		expand := func(v int) int {
			if bits == 5 {
				return v<<3 | v>>2
			}
			return v<<2 | v>>4
		}
		for v := 0; v < 256; v++ {
			bestErr, bestSpread := math.MaxInt, math.MaxInt
			for e0 := 0; e0 < n; e0++ {
				for e1 := 0; e1 < n; e1++ {
					got := (2*expand(e0) + expand(e1)) / 3
					err := got - v
					if err < 0 {
						err = -err
					}
					spread := e0 - e1
					if spread < 0 {
						spread = -spread
					}
					if err < bestErr || (err == bestErr && spread < bestSpread) {
						bestErr, bestSpread = err, spread
						t[i][v] = [2]uint8{uint8(e0), uint8(e1)}
					}
				}
			}
		}
	}
	return &t
})

type colorOptimizer struct {
	pixels     []Color
	perceptual bool
	best       ColorFit
	bestSel    []uint8
	scratch    []uint8
	buf        [128]uint8
}

func (o *colorOptimizer) init(pixels []Color, perceptual bool) {
	o.pixels = pixels
	o.perceptual = perceptual
	n := len(pixels)
	if n <= len(o.buf)/2 {
		o.bestSel = o.buf[:n]
		o.scratch = o.buf[n : 2*n]
	} else {
		o.bestSel = make([]uint8, n)
		o.scratch = make([]uint8, n)
	}
	o.best = ColorFit{Error: math.MaxUint64}
}

// evaluate scores (low, high) into scratch and returns false once the running
// error reaches limit.
func (o *colorOptimizer) evaluate(low, high uint16, limit uint64) (uint64, bool) {
	pal := ColorPalette(low, high)
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
		if total >= limit {
			return total, false
		}
	}
	return total, true
}

func (o *colorOptimizer) try(low, high uint16) bool {
	err, ok := o.evaluate(low, high, o.best.Error)
	if !ok {
		return false
	}
	o.best = ColorFit{Low: low, High: high, Error: err}
	copy(o.bestSel, o.scratch)
	return true
}

// leastSquares solves for endpoints given linear selectors.
func leastSquares(pixels []Color, sel []uint8) (lo, hi Color, ok bool) {
	var aa, ab, bb float64
	var ax, bx [3]float64
	for i, px := range pixels {
		b := float64(sel[i]) / 3
		a := 1 - b
		aa += a * a
		ab += a * b
		bb += b * b
		for c := 0; c < 3; c++ {
			ax[c] += a * float64(px[c])
			bx[c] += b * float64(px[c])
		}
	}
	det := aa*bb - ab*ab
	if math.Abs(det) < 1e-9 {
		return lo, hi, false
	}
	for c := 0; c < 3; c++ {
		lo[c] = clampByte((bb*ax[c]-ab*bx[c])/det + 0.5)
		hi[c] = clampByte((aa*bx[c]-ab*ax[c])/det + 0.5)
	}
	lo[3], hi[3] = 255, 255
	return lo, hi, true
}

func (o *colorOptimizer) refineLeastSquares(iters int) {
	for range iters {
		lo, hi, ok := leastSquares(o.pixels, o.bestSel)
		if !ok {
			return
		}
		low, high := Pack565(lo), Pack565(hi)
		if low == o.best.Low && high == o.best.High {
			return
		}
		if !o.try(low, high) {
			return
		}
	}
}

var channelShift = [3]uint{11, 5, 0}
var channelMax = [3]uint16{31, 63, 31}

func step565(v uint16, ch int, d int) (uint16, bool) {
	c := int(v >> channelShift[ch] & channelMax[ch])
	c += d
	if c < 0 || c > int(channelMax[ch]) {
		return v, false
	}
	v &^= channelMax[ch] << channelShift[ch]
	return v | uint16(c)<<channelShift[ch], true
}

func (o *colorOptimizer) localSearch(passes int) {
	for range passes {
		improved := false
		for e := 0; e < 2; e++ {
			for ch := 0; ch < 3; ch++ {
				for _, d := range [2]int{-1, 1} {
					low, high := o.best.Low, o.best.High
					var ok bool
					if e == 0 {
						low, ok = step565(low, ch, d)
					} else {
						high, ok = step565(high, ch, d)
					}
					if ok && o.try(low, high) {
						improved = true
					}
				}
			}
		}
		if !improved || o.best.Error == 0 {
			return
		}
	}
}

func (o *colorOptimizer) solid(c Color) {
	t := solidTables()
	r, g, b := t[0][c[0]], t[1][c[1]], t[0][c[2]]
	low := uint16(r[0])<<11 | uint16(g[0])<<5 | uint16(b[0])
	high := uint16(r[1])<<11 | uint16(g[1])<<5 | uint16(b[1])
	o.try(low, high)
	exact := Pack565(c)
	o.try(exact, exact)
}

func (o *colorOptimizer) principalAxis() (lo, hi Color) {
	n := float64(len(o.pixels))
	var mean [3]float64
	for _, px := range o.pixels {
		for c := 0; c < 3; c++ {
			mean[c] += float64(px[c])
		}
	}
	for c := range mean {
		mean[c] /= n
	}
	var cov [3][3]float64
	for _, px := range o.pixels {
		d := [3]float64{float64(px[0]) - mean[0], float64(px[1]) - mean[1], float64(px[2]) - mean[2]}
		for i := 0; i < 3; i++ {
			for j := i; j < 3; j++ {
				cov[i][j] += d[i] * d[j]
			}
		}
	}
	cov[1][0], cov[2][0], cov[2][1] = cov[0][1], cov[0][2], cov[1][2]

	axis := [3]float64{1, 1, 1}
	for range 8 {
		var x [3]float64
		m := 0.0
		for i := 0; i < 3; i++ {
			x[i] = cov[i][0]*axis[0] + cov[i][1]*axis[1] + cov[i][2]*axis[2]
			m = max(m, math.Abs(x[i]))
		}
		if m == 0 {
			break
		}
		for i := range x {
			axis[i] = x[i] / m
		}
	}
	l := math.Sqrt(axis[0]*axis[0] + axis[1]*axis[1] + axis[2]*axis[2])
	if l == 0 {
		axis, l = [3]float64{1, 1, 1}, math.Sqrt(3)
	}
	for i := range axis {
		axis[i] /= l
	}

	tmin, tmax := math.Inf(1), math.Inf(-1)
	for _, px := range o.pixels {
		t := (float64(px[0])-mean[0])*axis[0] + (float64(px[1])-mean[1])*axis[1] + (float64(px[2])-mean[2])*axis[2]
		tmin = min(tmin, t)
		tmax = max(tmax, t)
	}
	for c := 0; c < 3; c++ {
		lo[c] = clampByte(mean[c] + axis[c]*tmin + 0.5)
		hi[c] = clampByte(mean[c] + axis[c]*tmax + 0.5)
	}
	lo[3], hi[3] = 255, 255
	return lo, hi
}

// OptimizeColor fits a DXT1 endpoint pair to pixels. When selectors is
// non-nil it receives the linear selector of every pixel.
func OptimizeColor(pixels []Color, perceptual bool, q Quality, selectors []uint8) ColorFit {
	if len(pixels) == 0 {
		return ColorFit{}
	}
	var o colorOptimizer
	o.init(pixels, perceptual)

	lo, hi := pixels[0], pixels[0]
	for _, px := range pixels[1:] {
		for c := 0; c < 3; c++ {
			lo[c] = min(lo[c], px[c])
			hi[c] = max(hi[c], px[c])
		}
	}

	if lo[0] == hi[0] && lo[1] == hi[1] && lo[2] == hi[2] {
		o.solid(lo)
	} else {
		a, b := o.principalAxis()
		o.try(Pack565(a), Pack565(b))
		if q >= QualityNormal {
			o.try(Pack565(lo), Pack565(hi))
		}
		iters := 1
		switch q {
		case QualityNormal:
			iters = 2
		case QualityUber:
			iters = 4
		}
		o.refineLeastSquares(iters)
		if q == QualityUber {
			o.localSearch(4)
		}
	}

	if selectors != nil {
		copy(selectors, o.bestSel)
	}
	return o.best
}

// RefineColor re-solves the endpoints for fixed selectors and reports whether
// the result beats errorToBeat.
func RefineColor(pixels []Color, selectors []uint8, perceptual bool, errorToBeat uint64) (ColorFit, bool) {
	if len(pixels) == 0 {
		return ColorFit{}, false
	}
	lo, hi, ok := leastSquares(pixels, selectors)
	if !ok {
		return ColorFit{}, false
	}
	var o colorOptimizer
	o.init(pixels, perceptual)
	o.best.Error = errorToBeat
	if !o.try(Pack565(lo), Pack565(hi)) {
		return ColorFit{}, false
	}
	o.localSearch(1)
	return o.best, true
}
