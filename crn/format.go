package crn

import (
	"fmt"
	"strings"
)

// Format is a compressed block format.
type Format uint8

const (
	FormatDXT1 Format = iota
	FormatDXT5
	FormatDXT5A
	FormatDXNXY
	FormatDXNYX
	FormatETC1
	FormatETC2
	FormatETC2A

	numFormats
)

// Info describes how a Format maps onto the color and alpha components the
// compressor quantizes.
type Info struct {
	Name string

	// HasColor is set for formats with a color endpoint/selector stream.
	HasColor bool
	// ETC is set for formats whose color blocks are pairs of ETC1 half-blocks.
	ETC bool
	// AlphaChannels is the number of independent alpha streams (0, 1 or 2).
	AlphaChannels int
	// AlphaComponents are the default source channels of the alpha streams.
	AlphaComponents [2]int
	// Perceptual reports whether perceptual color weighting applies.
	Perceptual bool
	// BytesPerBlock is the size of one 4x4 block in the target GPU format.
	BytesPerBlock int
}

var formatInfos = [numFormats]Info{
	FormatDXT1:  {Name: "DXT1", HasColor: true, Perceptual: true, BytesPerBlock: 8},
	FormatDXT5:  {Name: "DXT5", HasColor: true, AlphaChannels: 1, AlphaComponents: [2]int{3, 0}, Perceptual: true, BytesPerBlock: 16},
	FormatDXT5A: {Name: "DXT5A", AlphaChannels: 1, AlphaComponents: [2]int{3, 0}, BytesPerBlock: 8},
	FormatDXNXY: {Name: "DXN_XY", AlphaChannels: 2, AlphaComponents: [2]int{0, 1}, BytesPerBlock: 16},
	FormatDXNYX: {Name: "DXN_YX", AlphaChannels: 2, AlphaComponents: [2]int{1, 0}, BytesPerBlock: 16},
	FormatETC1:  {Name: "ETC1", HasColor: true, ETC: true, Perceptual: true, BytesPerBlock: 8},
	FormatETC2:  {Name: "ETC2", HasColor: true, ETC: true, Perceptual: true, BytesPerBlock: 8},
	FormatETC2A: {Name: "ETC2A", HasColor: true, ETC: true, AlphaChannels: 1, AlphaComponents: [2]int{3, 0}, Perceptual: true, BytesPerBlock: 16},
}

// FormatInfo returns the component mapping of f.
func FormatInfo(f Format) (Info, error) {
	if f >= numFormats {
		return Info{}, newError(ErrInvalidFormat, fmt.Sprintf("crn: invalid format %d", f))
	}
	return formatInfos[f], nil
}

func (f Format) String() string {
	if f >= numFormats {
		return fmt.Sprintf("Format(%d)", uint8(f))
	}
	return formatInfos[f].Name
}

// ParseFormat returns the Format named s (case-insensitive, "DXN_XY" and
// "DXNXY" are both accepted).
func ParseFormat(s string) (Format, error) {
	norm := strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), "_", "")
	for f := Format(0); f < numFormats; f++ {
		if strings.ReplaceAll(formatInfos[f].Name, "_", "") == norm {
			return f, nil
		}
	}
	return 0, newError(ErrInvalidFormat, fmt.Sprintf("crn: unknown format %q", s))
}
