package crn

import (
	"github.com/crunch-go/crunch/crn/internal/dxt"
	"github.com/crunch-go/crunch/crn/internal/huffman"
)

const (
	// codebookCodeLimit caps the code lengths of the models that travel
	// with the packed codebooks.
	codebookCodeLimit = 15
	// indexCodeLimit caps the code lengths of the per-block index models.
	indexCodeLimit = huffman.MaxCodeSize
)

// packer turns a Result into the entropy-coded sections of a container.
type packer struct {
	res     *Result
	levels  []LevelParams
	etc     bool
	hasComp [numComps]bool

	endpointRemap [2][]uint16
	selectorRemap [2][]uint16

	packedColorEndpoints []byte
	packedColorSelectors []byte
	packedAlphaEndpoints []byte
	packedAlphaSelectors []byte

	referenceHist  []uint32
	endpointHist   [2][]uint32
	selectorHist   [2][]uint32
	referenceModel *huffman.Model
	endpointModel  [2]*huffman.Model
	selectorModel  [2]*huffman.Model

	packedBlocks [][]byte
	packedModels []byte

	colorTrials [4]uint64
	alphaTrials [4]uint64
}

func modelError(what string, err error) error {
	return wrapError(ErrModelBuildFailed, "crn: "+what+" model", err)
}

// encodeStream builds one model over syms, transmits it and encodes syms.
func encodeStream(syms []int, numSyms int, what string) ([]byte, error) {
	hist := make([]uint32, numSyms)
	for _, s := range syms {
		hist[s]++
	}
	m, err := huffman.NewModel(hist, codebookCodeLimit)
	if err != nil {
		return nil, modelError(what, err)
	}
	enc := huffman.NewEncoder(len(syms))
	if err := enc.TransmitModel(m); err != nil {
		return nil, modelError(what, err)
	}
	for _, s := range syms {
		enc.Encode(s, m)
	}
	return enc.Bytes(), nil
}

func remapped[T any](values []T, remap []uint16) []T {
	out := make([]T, len(values))
	for i, v := range values {
		out[remap[i]] = v
	}
	return out
}

var colorComponentLimits = [6]int{31, 63, 31, 31, 63, 31}

// packColorEndpoints delta-codes the raw 565 components of each endpoint
// pair; green residuals use their own model.
func (pk *packer) packColorEndpoints(remap []uint16) ([]byte, error) {
	endpoints := remapped(pk.res.ColorEndpoints, remap)
	var hist [2][]uint32
	hist[0], hist[1] = make([]uint32, 32), make([]uint32, 64)
	syms := make([]int, 0, len(endpoints)*6)
	var prev [2]Color
	for _, e := range endpoints {
		low, high := dxt.UnpackColorEndpoints(e)
		cur := [2]Color{dxt.Unpack565Raw(low), dxt.Unpack565Raw(high)}
		for j := 0; j < 2; j++ {
			for k := 0; k < 3; k++ {
				sym := (int(cur[j][k]) - int(prev[j][k])) & colorComponentLimits[j*3+k]
				hist[k&1][sym]++
				syms = append(syms, sym)
			}
		}
		prev = cur
	}

	var models [2]*huffman.Model
	enc := huffman.NewEncoder(len(syms))
	for i := range models {
		m, err := huffman.NewModel(hist[i], codebookCodeLimit)
		if err != nil {
			return nil, modelError("color endpoint", err)
		}
		if err := enc.TransmitModel(m); err != nil {
			return nil, modelError("color endpoint", err)
		}
		models[i] = m
	}
	for i, s := range syms {
		enc.Encode(s, models[i%3&1])
	}
	return enc.Bytes(), nil
}

// packColorEndpointsETC delta-codes the 5-bit base color and intensity table
// of each ETC endpoint bytewise.
func (pk *packer) packColorEndpointsETC(remap []uint16) ([]byte, error) {
	endpoints := remapped(pk.res.ColorEndpoints, remap)
	syms := make([]int, 0, len(endpoints)*4)
	var prev uint32
	for _, e := range endpoints {
		cur := e&0x07000000 | e>>3&0x001F1F1F
		for k := 0; k < 4; k++ {
			syms = append(syms, int((cur>>(8*k)-prev>>(8*k))&0x1F))
		}
		prev = cur
	}
	return encodeStream(syms, 32, "color endpoint")
}

func (pk *packer) packAlphaEndpoints(remap []uint16) ([]byte, error) {
	endpoints := remapped(pk.res.AlphaEndpoints, remap)
	syms := make([]int, 0, len(endpoints)*2)
	var prev [2]int
	for _, e := range endpoints {
		first, second := dxt.UnpackAlphaEndpoints(e)
		cur := [2]int{int(first), int(second)}
		for j := range cur {
			syms = append(syms, (cur[j]-prev[j])&255)
		}
		prev = cur
	}
	return encodeStream(syms, 256, "alpha endpoint")
}

// packColorSelectors XOR-codes each selector against its predecessor in
// 4-bit symbols.
func (pk *packer) packColorSelectors(remap []uint16) ([]byte, error) {
	selectors := remapped(pk.res.ColorSelectors, remap)
	syms := make([]int, 0, len(selectors)*8)
	var prev uint32
	for _, s := range selectors {
		delta := prev ^ s
		prev = s
		for k := 0; k < 8; k++ {
			syms = append(syms, int(delta>>(4*k)&0xF))
		}
	}
	return encodeStream(syms, 16, "color selector")
}

// packAlphaSelectors XOR-codes each selector against its predecessor in
// 6-bit symbols.
func (pk *packer) packAlphaSelectors(remap []uint16) ([]byte, error) {
	selectors := remapped(pk.res.AlphaSelectors, remap)
	syms := make([]int, 0, len(selectors)*8)
	var prev uint64
	for _, s := range selectors {
		delta := prev ^ s
		prev = s
		for k := 0; k < 8; k++ {
			syms = append(syms, int(delta>>(6*k)&0x3F))
		}
	}
	return encodeStream(syms, 64, "alpha selector")
}

// packBlocks runs the per-level block pass. Without an encoder it only
// gathers histograms.
func (pk *packer) packBlocks(level int, enc *huffman.Encoder) {
	var (
		endpointIndex [numComps]int
		endpointRemap [numComps][]uint16
		selectorRemap [numComps][]uint16
	)
	for comp := 0; comp < numComps; comp++ {
		if pk.hasComp[comp] {
			group := min(comp, 1)
			endpointRemap[comp] = pk.endpointRemap[group]
			selectorRemap[comp] = pk.selectorRemap[group]
		}
	}

	l := pk.levels[level]
	width := l.BlockWidth
	ei, si := pk.res.EndpointIndices, pk.res.SelectorIndices
	b := l.FirstBlock
	for by := 0; b < l.FirstBlock+l.NumBlocks; by++ {
		for bx := 0; bx < width; bx, b = bx+1, b+1 {
			secondary := pk.etc && bx&1 != 0
			if by&1 == 0 && bx&1 == 0 {
				group := int(ei[b].Reference) | int(ei[b+width].Reference)<<2 |
					int(ei[b+1].Reference)<<4 | int(ei[b+width+1].Reference)<<6
				if enc != nil {
					enc.Encode(group, pk.referenceModel)
				} else {
					pk.referenceHist[group]++
				}
			}

			endComp := numComps
			if secondary {
				endComp = compAlpha0
			}
			for comp := 0; comp < endComp; comp++ {
				remap := endpointRemap[comp]
				if remap == nil {
					continue
				}
				index := int(remap[ei[b].Component[comp]])
				coded := ei[b].Reference == 0
				if secondary {
					coded = !coded
				}
				if coded {
					sym := index - endpointIndex[comp]
					if sym < 0 {
						sym += len(remap)
					}
					group := min(comp, 1)
					if enc != nil {
						enc.Encode(sym, pk.endpointModel[group])
					} else {
						pk.endpointHist[group][sym]++
					}
				}
				endpointIndex[comp] = index
			}

			if secondary {
				continue
			}
			for comp := 0; comp < numComps; comp++ {
				remap := selectorRemap[comp]
				if remap == nil {
					continue
				}
				index := int(remap[si[b].Component[comp]])
				group := min(comp, 1)
				if enc != nil {
					enc.Encode(index, pk.selectorModel[group])
				} else {
					pk.selectorHist[group][index]++
				}
			}
		}
	}
}

// packAllBlocks gathers histograms over every level, builds the index models
// and then encodes each level into its own stream.
func (pk *packer) packAllBlocks() error {
	pk.referenceHist = make([]uint32, 256)
	for group := 0; group < 2; group++ {
		if pk.endpointRemap[group] != nil {
			pk.endpointHist[group] = make([]uint32, len(pk.endpointRemap[group]))
			pk.selectorHist[group] = make([]uint32, len(pk.selectorRemap[group]))
		}
	}
	for level := range pk.levels {
		pk.packBlocks(level, nil)
	}

	var err error
	if pk.referenceModel, err = huffman.NewModel(pk.referenceHist, indexCodeLimit); err != nil {
		return modelError("reference", err)
	}
	for group := 0; group < 2; group++ {
		if pk.endpointHist[group] != nil {
			if pk.endpointModel[group], err = huffman.NewModel(pk.endpointHist[group], indexCodeLimit); err != nil {
				return modelError("endpoint index", err)
			}
		}
		if pk.selectorHist[group] != nil {
			if pk.selectorModel[group], err = huffman.NewModel(pk.selectorHist[group], indexCodeLimit); err != nil {
				return modelError("selector index", err)
			}
		}
	}

	pk.packedBlocks = make([][]byte, len(pk.levels))
	for level, l := range pk.levels {
		enc := huffman.NewEncoder(l.NumBlocks)
		pk.packBlocks(level, enc)
		pk.packedBlocks[level] = enc.Bytes()
	}
	return nil
}

// packDataModels transmits the reference model followed by the endpoint and
// selector index models of each component group that has symbols.
func (pk *packer) packDataModels() error {
	enc := huffman.NewEncoder(1024)
	if err := enc.TransmitModel(pk.referenceModel); err != nil {
		return modelError("reference", err)
	}
	for group := 0; group < 2; group++ {
		if m := pk.endpointModel[group]; m != nil && m.NumSymbols() > 0 {
			if err := enc.TransmitModel(m); err != nil {
				return modelError("endpoint index", err)
			}
		}
		if m := pk.selectorModel[group]; m != nil && m.NumSymbols() > 0 {
			if err := enc.TransmitModel(m); err != nil {
				return modelError("selector index", err)
			}
		}
	}
	pk.packedModels = enc.Bytes()
	return nil
}
