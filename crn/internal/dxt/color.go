// Package dxt holds the block-level color math shared by the hierarchical
// compressor: packed 565 colors, DXT1/DXT5 linear palettes, the ETC1
// intensity tables, color distances and the per-pixel-set endpoint optimizers.
package dxt

import "golang.org/x/exp/constraints"

// Color is an 8-bit RGBA quadruple.
type Color [4]uint8

// RGBA returns a Color from its components.
func RGBA(r, g, b, a uint8) Color { return Color{r, g, b, a} }

// Luma returns the integer luma of c (Rec. 709 weights).
func (c Color) Luma() int {
	return (int(c[0])*54 + int(c[1])*183 + int(c[2])*19 + 128) >> 8
}

// Gray returns a Color with every channel set to v.
func Gray(v uint8) Color { return Color{v, v, v, v} }

// Pack565 rounds c to 5:6:5.
func Pack565(c Color) uint16 {
	r := (uint32(c[0])*31 + 127) / 255
	g := (uint32(c[1])*63 + 127) / 255
	b := (uint32(c[2])*31 + 127) / 255
	return uint16(r<<11 | g<<5 | b)
}

// Unpack565 expands a 5:6:5 color to 8 bits per channel with alpha 255.
func Unpack565(v uint16) Color {
	r := uint8(v >> 11 & 31)
	g := uint8(v >> 5 & 63)
	b := uint8(v & 31)
	return Color{r<<3 | r>>2, g<<2 | g>>4, b<<3 | b>>2, 255}
}

// Unpack565Raw returns the unscaled 5:6:5 components of v.
func Unpack565Raw(v uint16) Color {
	return Color{uint8(v >> 11 & 31), uint8(v >> 5 & 63), uint8(v & 31), 0}
}

// Expand5 widens a 5-bit value to 8 bits.
func Expand5(v uint8) uint8 { return v<<3 | v>>2 }

// ColorDistance returns the squared RGB distance between a and b. The
// perceptual variant weights luma over chroma.
func ColorDistance(perceptual bool, a, b Color) uint32 {
	dr := int64(a[0]) - int64(b[0])
	dg := int64(a[1]) - int64(b[1])
	db := int64(a[2]) - int64(b[2])
	if !perceptual {
		return uint32(dr*dr + dg*dg + db*db)
	}
	l := dr*27 + dg*92 + db*9
	cr := dr*128 - l
	cb := db*128 - l
	return uint32((l*l)>>7) +
		(uint32((cr*cr)>>7)*26)>>7 +
		(uint32((cb*cb)>>7)*3)>>7
}

// EuclideanDistance returns the plain squared RGB distance.
func EuclideanDistance(a, b Color) uint32 {
	return ColorDistance(false, a, b)
}

// Clamp limits v to [lo, hi].
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Lerp interpolates between a and b.
func Lerp[T constraints.Float](a, b, t T) T {
	return a + (b-a)*t
}

func clampByte[T ~int | ~float64](v T) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v)
}
