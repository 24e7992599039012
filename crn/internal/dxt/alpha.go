package dxt

import "math"

// AlphaFit is a DXT5 alpha endpoint pair. First is the high value and Second
// the low value; selector 0 maps to First and 7 to Second.
type AlphaFit struct {
	First, Second uint8
	Error         uint64
}

type alphaOptimizer struct {
	values  []uint8
	best    AlphaFit
	bestSel []uint8
	scratch []uint8
	buf     [128]uint8
}

func (o *alphaOptimizer) init(values []uint8) {
	o.values = values
	n := len(values)
	if n <= len(o.buf)/2 {
		o.bestSel = o.buf[:n]
		o.scratch = o.buf[n : 2*n]
	} else {
		o.bestSel = make([]uint8, n)
		o.scratch = make([]uint8, n)
	}
	o.best = AlphaFit{Error: math.MaxUint64}
}

func (o *alphaOptimizer) try(first, second uint8) bool {
	if first < second {
		first, second = second, first
	}
	pal := AlphaPalette(first, second)
	var total uint64
	for i, v := range o.values {
		best, bestS := uint64(math.MaxUint64), uint8(0)
		for s, p := range pal {
			d := int(v) - int(p)
			if e := uint64(d * d); e < best {
				best, bestS = e, uint8(s)
			}
		}
		o.scratch[i] = bestS
		total += best
		if total >= o.best.Error {
			return false
		}
	}
	o.best = AlphaFit{First: first, Second: second, Error: total}
	copy(o.bestSel, o.scratch)
	return true
}

func alphaLeastSquares(values, sel []uint8) (first, second uint8, ok bool) {
	var aa, ab, bb, ax, bx float64
	for i, v := range values {
		b := float64(sel[i]) / 7
		a := 1 - b
		aa += a * a
		ab += a * b
		bb += b * b
		ax += a * float64(v)
		bx += b * float64(v)
	}
	det := aa*bb - ab*ab
	if math.Abs(det) < 1e-9 {
		return 0, 0, false
	}
	first = clampByte((bb*ax-ab*bx)/det + 0.5)
	second = clampByte((aa*bx-ab*ax)/det + 0.5)
	return first, second, true
}

func (o *alphaOptimizer) localSearch(passes int) {
	for range passes {
		improved := false
		for _, d := range [4]int{-1, 1, -2, 2} {
			f, s := int(o.best.First), int(o.best.Second)
			if f+d >= 0 && f+d <= 255 && o.try(uint8(f+d), uint8(s)) {
				improved = true
				continue
			}
			if s+d >= 0 && s+d <= 255 && o.try(uint8(f), uint8(s+d)) {
				improved = true
			}
		}
		if !improved || o.best.Error == 0 {
			return
		}
	}
}

// OptimizeAlpha fits a DXT5 alpha endpoint pair to values. When selectors is
// non-nil it receives the linear selector of every value.
func OptimizeAlpha(values []uint8, q Quality, selectors []uint8) AlphaFit {
	if len(values) == 0 {
		return AlphaFit{}
	}
	var o alphaOptimizer
	o.init(values)

	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	o.try(hi, lo)
	if lo != hi {
		iters := 1 + int(q)
		for range iters {
			f, s, ok := alphaLeastSquares(values, o.bestSel)
			if !ok || !o.try(f, s) {
				break
			}
		}
		if q == QualityUber {
			o.localSearch(4)
		}
	}

	if selectors != nil {
		copy(selectors, o.bestSel)
	}
	return o.best
}

// RefineAlpha re-solves the endpoints for fixed selectors and reports whether
// the result beats errorToBeat.
func RefineAlpha(values, selectors []uint8, errorToBeat uint64) (AlphaFit, bool) {
	if len(values) == 0 {
		return AlphaFit{}, false
	}
	f, s, ok := alphaLeastSquares(values, selectors)
	if !ok {
		return AlphaFit{}, false
	}
	var o alphaOptimizer
	o.init(values)
	o.best.Error = errorToBeat
	if !o.try(f, s) {
		return AlphaFit{}, false
	}
	return o.best, true
}
