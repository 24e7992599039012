package dxt

// ColorPalette returns the four DXT1 colors between low and high in linear
// order: index 0 is low, index 3 is high.
func ColorPalette(low, high uint16) [4]Color {
	c0, c3 := Unpack565(low), Unpack565(high)
	var p [4]Color
	p[0], p[3] = c0, c3
	for c := 0; c < 3; c++ {
		p[1][c] = uint8((2*uint32(c0[c]) + uint32(c3[c])) / 3)
		p[2][c] = uint8((uint32(c0[c]) + 2*uint32(c3[c])) / 3)
	}
	p[1][3], p[2][3] = 255, 255
	return p
}

// AlphaPalette returns the eight DXT5 alpha values between first and second in
// linear order: index 0 is first, index 7 is second.
func AlphaPalette(first, second uint8) [8]uint8 {
	var p [8]uint8
	for i := range p {
		p[i] = uint8(((7-uint32(i))*uint32(first) + uint32(i)*uint32(second)) / 7)
	}
	return p
}

// PackColorEndpoints packs a DXT1 endpoint pair into one codebook word.
func PackColorEndpoints(low, high uint16) uint32 { return uint32(low) | uint32(high)<<16 }

// UnpackColorEndpoints reverses PackColorEndpoints.
func UnpackColorEndpoints(v uint32) (low, high uint16) { return uint16(v), uint16(v >> 16) }

// PackAlphaEndpoints packs a DXT5 endpoint pair into one codebook word.
func PackAlphaEndpoints(first, second uint8) uint32 { return uint32(first) | uint32(second)<<8 }

// UnpackAlphaEndpoints reverses PackAlphaEndpoints.
func UnpackAlphaEndpoints(v uint32) (first, second uint8) { return uint8(v), uint8(v >> 8) }

// ETC1 intensity modifier magnitudes, {small, large} per table.
var etcModifiers = [8][2]uint8{
	{2, 8}, {5, 17}, {9, 29}, {13, 42}, {18, 60}, {24, 80}, {33, 106}, {47, 183},
}

// PackETCEndpoint packs an 8-bit base color and intensity table index.
func PackETCEndpoint(base Color, inten uint8) uint32 {
	return uint32(base[0]) | uint32(base[1])<<8 | uint32(base[2])<<16 | uint32(inten&7)<<24
}

// UnpackETCEndpoint reverses PackETCEndpoint.
func UnpackETCEndpoint(v uint32) (base Color, inten uint8) {
	return Color{uint8(v), uint8(v >> 8), uint8(v >> 16), 255}, uint8(v>>24) & 7
}

// ETCPalette returns the four colors reachable from an ETC1 endpoint in
// linear order (largest negative modifier first).
func ETCPalette(endpoint uint32) [4]Color {
	base, inten := UnpackETCEndpoint(endpoint)
	d0, d1 := int(etcModifiers[inten][0]), int(etcModifiers[inten][1])
	var p [4]Color
	for c := 0; c < 3; c++ {
		q := int(base[c])
		p[0][c] = clampByte(q - d1)
		p[1][c] = clampByte(q - d0)
		p[2][c] = clampByte(q + d0)
		p[3][c] = clampByte(q + d1)
	}
	for i := range p {
		p[i][3] = 255
	}
	return p
}

// Reduced EAC modifier tables used for ETC2 alpha endpoints.
var eacStrippedModifiers = [2][8]int{
	{-10, -7, -5, -2, 1, 4, 6, 9},
	{-10, -3, -2, -1, 0, 1, 2, 9},
}

// EACEndpoint converts a DXT5-style alpha pair (high, low) into an ETC2 EAC
// base codeword and packed multiplier/table byte, and returns its eight
// values in linear order.
func EACEndpoint(high, low uint8) (base, packed uint8, values [8]uint8) {
	delta := int(high) - int(low)
	b := (int(high) + int(low) + 1) >> 1
	table, mult := 13, 1
	if delta > 6 {
		table = 11
		mult = Clamp((delta+12)/18, 1, 15)
	}
	mods := eacStrippedModifiers[1]
	if table == 11 {
		mods = eacStrippedModifiers[0]
	}
	for i, m := range mods {
		values[i] = clampByte(b + m*mult)
	}
	return uint8(b), uint8(mult<<4 | table), values
}

// EACPalette rebuilds the values of an endpoint produced by EACEndpoint.
func EACPalette(base, packed uint8) [8]uint8 {
	mult := int(packed >> 4)
	mods := eacStrippedModifiers[1]
	if packed&15 == 11 {
		mods = eacStrippedModifiers[0]
	}
	var values [8]uint8
	for i, m := range mods {
		values[i] = clampByte(int(base) + m*mult)
	}
	return values
}
