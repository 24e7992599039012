package crn

import (
	"fmt"

	"github.com/crunch-go/crunch/crn/internal/taskpool"
)

const (
	// MinPaletteSize is the smallest codebook size Encode derives or accepts.
	// Compress takes any size from 1 up to MaxPaletteSize.
	MinPaletteSize = 8
	MaxPaletteSize = 8192

	// MaxLevelResolution bounds the width and height of the top mip level.
	MaxLevelResolution = 4096
	// MaxLevels is the largest supported mip chain.
	MaxLevels = 16
	// MaxFaces is the largest supported face count (cube maps).
	MaxFaces = 6
	// MaxQualityLevel is the top of the QualityLevel scale.
	MaxQualityLevel = 255
	// MaxHelpers bounds the worker goroutines besides the caller.
	MaxHelpers = taskpool.MaxHelpers
)

// LevelParams locates one mip level inside the flat block array. For ETC
// formats every unit is a half-block and BlockWidth counts half-blocks.
type LevelParams struct {
	FirstBlock int
	NumBlocks  int
	BlockWidth int
	Weight     float32
}

// Params configures Compress.
type Params struct {
	Format     Format
	Perceptual bool

	ColorEndpointCodebookSize int
	ColorSelectorCodebookSize int
	AlphaEndpointCodebookSize int
	AlphaSelectorCodebookSize int

	// PSNR penalties (dB) applied to merged tilings.
	AdaptiveTileColorDerating float32
	AdaptiveTileAlphaDerating float32
	// ColorAlphaWeightRatio scales the color quality of a tiling when alpha
	// also contributes.
	ColorAlphaWeightRatio float32

	// AlphaComponents selects the source channel (0..3) of each alpha stream.
	AlphaComponents [2]int

	Levels   []LevelParams
	NumFaces int

	// Helpers is the number of worker goroutines besides the caller.
	Helpers int

	// Progress, when set, is called on the calling goroutine at phase
	// boundaries. Returning false cancels the operation.
	Progress ProgressFunc
}

// DefaultParams returns the tuning defaults for f with no levels set.
func DefaultParams(f Format) (*Params, error) {
	info, err := FormatInfo(f)
	if err != nil {
		return nil, err
	}
	return &Params{
		Format:                    f,
		Perceptual:                info.Perceptual,
		ColorEndpointCodebookSize: 3072,
		ColorSelectorCodebookSize: 3072,
		AlphaEndpointCodebookSize: 3072,
		AlphaSelectorCodebookSize: 3072,
		AdaptiveTileColorDerating: 2,
		AdaptiveTileAlphaDerating: 2,
		ColorAlphaWeightRatio:     3,
		AlphaComponents:           info.AlphaComponents,
		NumFaces:                  1,
	}, nil
}

// NumBlocks returns the number of (half-)blocks the levels span.
func (p *Params) NumBlocks() int {
	if len(p.Levels) == 0 {
		return 0
	}
	last := p.Levels[len(p.Levels)-1]
	return last.FirstBlock + last.NumBlocks
}

func (p *Params) validate() (Info, error) {
	info, err := FormatInfo(p.Format)
	if err != nil {
		return Info{}, err
	}
	if p.Helpers < 0 || p.Helpers > taskpool.MaxHelpers {
		return Info{}, newError(ErrBadParam, fmt.Sprintf("crn: helper count %d out of range 0..%d", p.Helpers, taskpool.MaxHelpers))
	}
	if len(p.Levels) == 0 || len(p.Levels) > MaxLevels {
		return Info{}, newError(ErrDimensionOutOfRange, fmt.Sprintf("crn: %d levels (want 1..%d)", len(p.Levels), MaxLevels))
	}
	if p.NumFaces < 1 || p.NumFaces > MaxFaces {
		return Info{}, newError(ErrDimensionOutOfRange, fmt.Sprintf("crn: %d faces (want 1..%d)", p.NumFaces, MaxFaces))
	}

	next := 0
	for i, l := range p.Levels {
		if l.FirstBlock != next {
			return Info{}, newError(ErrBadParam, fmt.Sprintf("crn: level %d starts at block %d, want %d", i, l.FirstBlock, next))
		}
		if l.BlockWidth <= 0 || l.BlockWidth&1 != 0 || l.NumBlocks <= 0 || l.NumBlocks%l.BlockWidth != 0 {
			return Info{}, newError(ErrDimensionOutOfRange, fmt.Sprintf("crn: level %d has %d blocks of width %d", i, l.NumBlocks, l.BlockWidth))
		}
		height := l.NumBlocks / l.BlockWidth
		if height%p.NumFaces != 0 || (height/p.NumFaces)&1 != 0 {
			return Info{}, newError(ErrDimensionOutOfRange, fmt.Sprintf("crn: level %d height %d does not split into even face rows", i, height))
		}
		if info.ETC && l.FirstBlock&1 != 0 {
			return Info{}, newError(ErrBadParam, fmt.Sprintf("crn: level %d starts on an odd half-block", i))
		}
		if l.Weight <= 0 {
			return Info{}, newError(ErrBadParam, fmt.Sprintf("crn: level %d weight %v", i, l.Weight))
		}
		next += l.NumBlocks
	}

	sizes := []struct {
		name string
		size int
		used bool
	}{
		{"color endpoint", p.ColorEndpointCodebookSize, info.HasColor},
		{"color selector", p.ColorSelectorCodebookSize, info.HasColor},
		{"alpha endpoint", p.AlphaEndpointCodebookSize, info.AlphaChannels > 0},
		{"alpha selector", p.AlphaSelectorCodebookSize, info.AlphaChannels > 0},
	}
	for _, cs := range sizes {
		if cs.used && (cs.size < 1 || cs.size > MaxPaletteSize) {
			return Info{}, newError(ErrBadParam, fmt.Sprintf("crn: %s codebook size %d out of range 1..%d", cs.name, cs.size, MaxPaletteSize))
		}
	}
	for a := 0; a < info.AlphaChannels; a++ {
		if p.AlphaComponents[a] < 0 || p.AlphaComponents[a] > 3 {
			return Info{}, newError(ErrBadParam, fmt.Sprintf("crn: alpha component %d out of range", p.AlphaComponents[a]))
		}
	}
	return info, nil
}
