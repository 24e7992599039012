package crn

// emit deduplicates the endpoints of non-empty clusters and the reachable
// selectors, then rewrites the per-block indices against the emitted
// codebooks and derives the reference tags.
func (c *Compressor) emit() *Result {
	res := &Result{
		EndpointIndices: make([]EndpointIndices, c.numBlocks),
		SelectorIndices: make([]SelectorIndices, c.numBlocks),
	}

	colorEndpointRemap := make([]uint16, len(c.colorClusters))
	seen32 := make(map[uint32]uint16)
	for i := range c.colorClusters {
		cl := &c.colorClusters[i]
		if cl.count == 0 {
			continue
		}
		endpoint := cl.first
		if !c.etc {
			endpoint = cl.first | cl.second<<16
		}
		colorEndpointRemap[i] = dedupIndex(seen32, endpoint, &res.ColorEndpoints)
	}

	alphaEndpointRemap := make([]uint16, len(c.alphaClusters))
	clear(seen32)
	for i := range c.alphaClusters {
		cl := &c.alphaClusters[i]
		if cl.count == 0 {
			continue
		}
		alphaEndpointRemap[i] = dedupIndex(seen32, cl.first|cl.second<<8, &res.AlphaEndpoints)
	}

	colorSelectorRemap := make([]uint16, len(c.colorSelectors))
	clear(seen32)
	for i, sel := range c.colorSelectors {
		if c.colorSelectorsUsed[i] {
			colorSelectorRemap[i] = dedupIndex(seen32, sel, &res.ColorSelectors)
		}
	}

	alphaSelectorRemap := make([]uint16, len(c.alphaSelectors))
	seen64 := make(map[uint64]uint16)
	for i, sel := range c.alphaSelectors {
		if c.alphaSelectorsUsed[i] {
			alphaSelectorRemap[i] = dedupIndex(seen64, sel, &res.AlphaSelectors)
		}
	}

	firstComp := compColor
	if !c.hasColor {
		firstComp = compAlpha0
	}
	endComp := compAlpha0 + c.numAlpha
	for _, l := range c.p.Levels {
		width := l.BlockWidth
		b := l.FirstBlock
		for by := 0; b < l.FirstBlock+l.NumBlocks; by++ {
			for bx := 0; bx < width; bx, b = bx+1, b+1 {
				top := by != 0
				left := top || bx != 0
				diag := c.etc && top && bx != 0
				dst := &res.EndpointIndices[b]
				for comp := firstComp; comp < endComp; comp++ {
					endpointRemap, selectorRemap := colorEndpointRemap, colorSelectorRemap
					if comp != compColor {
						endpointRemap, selectorRemap = alphaEndpointRemap, alphaSelectorRemap
					}
					index := endpointRemap[c.endpointIndices[b].Component[comp]]
					left = left && index == res.EndpointIndices[b-1].Component[comp]
					top = top && index == res.EndpointIndices[b-width].Component[comp]
					diag = diag && index == res.EndpointIndices[b-width-1].Component[comp]
					dst.Component[comp] = index
					res.SelectorIndices[b].Component[comp] = selectorRemap[c.selectorIndices[b].Component[comp]]
				}
				switch {
				case c.etc && b&1 != 0:
					dst.Reference = c.endpointIndices[b].Reference
				case left:
					dst.Reference = 1
				case top:
					dst.Reference = 2
				case diag:
					dst.Reference = 3
				default:
					dst.Reference = 0
				}
			}
		}
	}
	return res
}

func dedupIndex[K comparable, V ~[]K](seen map[K]uint16, key K, out *V) uint16 {
	if i, ok := seen[key]; ok {
		return i
	}
	i := uint16(len(*out))
	seen[key] = i
	*out = append(*out, key)
	return i
}
