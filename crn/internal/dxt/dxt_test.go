package dxt

import (
	"math"
	"math/rand"
	"testing"
)

func TestPack565_Corners(t *testing.T) {
	for _, c := range []Color{{0, 0, 0, 255}, {255, 255, 255, 255}, {255, 0, 0, 255}, {0, 255, 0, 255}, {0, 0, 255, 255}} {
		if got := Unpack565(Pack565(c)); got != c {
			t.Fatalf("Unpack565(Pack565(%v)): got %v", c, got)
		}
	}
	if got := Unpack565Raw(0xFFFF); got != (Color{31, 63, 31, 0}) {
		t.Fatalf("Unpack565Raw(0xFFFF): got %v", got)
	}
}

func TestColorPalette_LinearOrder(t *testing.T) {
	p := ColorPalette(0x0000, 0xFFFF)
	want := [4]uint8{0, 85, 170, 255}
	for i := range p {
		if p[i][0] != want[i] || p[i][1] != want[i] || p[i][2] != want[i] {
			t.Fatalf("palette[%d]: got %v want gray %d", i, p[i], want[i])
		}
	}
}

func TestAlphaPalette_Endpoints(t *testing.T) {
	p := AlphaPalette(255, 0)
	if p[0] != 255 || p[7] != 0 {
		t.Fatalf("AlphaPalette(255,0): got %v", p)
	}
	for i := 1; i < 8; i++ {
		if p[i] >= p[i-1] {
			t.Fatalf("AlphaPalette not decreasing at %d: %v", i, p)
		}
	}
}

func TestColorDistance_Symmetric(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for range 1000 {
		a := Color{uint8(rng.Intn(256)), uint8(rng.Intn(256)), uint8(rng.Intn(256)), 255}
		b := Color{uint8(rng.Intn(256)), uint8(rng.Intn(256)), uint8(rng.Intn(256)), 255}
		for _, perceptual := range []bool{false, true} {
			if ColorDistance(perceptual, a, a) != 0 {
				t.Fatalf("ColorDistance(%v, %v) of equal colors is non-zero", perceptual, a)
			}
			if ColorDistance(perceptual, a, b) != ColorDistance(perceptual, b, a) {
				t.Fatalf("ColorDistance(%v) not symmetric for %v %v", perceptual, a, b)
			}
		}
	}
}

func TestOptimizeColor_SolidExact(t *testing.T) {
	pixels := make([]Color, 16)
	for i := range pixels {
		pixels[i] = Color{255, 0, 255, 255}
	}
	for _, q := range []Quality{QualityFast, QualityNormal, QualityUber} {
		fit := OptimizeColor(pixels, true, q, nil)
		if fit.Error != 0 {
			t.Fatalf("OptimizeColor(solid, q=%d).Error: got %d want 0", q, fit.Error)
		}
	}
}

func TestOptimizeColor_SolidUsesTable(t *testing.T) {
	// 0x80 is not representable in 5 bits, the interpolated entry is.
	pixels := []Color{{128, 128, 128, 255}, {128, 128, 128, 255}}
	exact := Pack565(pixels[0])
	pal := ColorPalette(exact, exact)
	exactErr := uint64(2 * ColorDistance(false, pixels[0], pal[0]))
	fit := OptimizeColor(pixels, false, QualityUber, nil)
	if fit.Error > exactErr {
		t.Fatalf("OptimizeColor(gray 128).Error: got %d, exact 565 gives %d", fit.Error, exactErr)
	}
}

func TestOptimizeColor_TwoColors(t *testing.T) {
	pixels := make([]Color, 16)
	for i := range pixels {
		if i&1 == 0 {
			pixels[i] = Color{0, 0, 0, 255}
		} else {
			pixels[i] = Color{255, 255, 255, 255}
		}
	}
	sel := make([]uint8, len(pixels))
	fit := OptimizeColor(pixels, false, QualityNormal, sel)
	if fit.Error != 0 {
		t.Fatalf("OptimizeColor(black/white).Error: got %d want 0", fit.Error)
	}
	if sel[0] == sel[1] {
		t.Fatalf("black and white share selector %d", sel[0])
	}
	pal := ColorPalette(fit.Low, fit.High)
	for i, px := range pixels {
		if pal[sel[i]] != px {
			t.Fatalf("pixel %d: palette[%d]=%v want %v", i, sel[i], pal[sel[i]], px)
		}
	}
}

func TestRefineColor_NoWorseThanInput(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	pixels := make([]Color, 32)
	for i := range pixels {
		v := uint8(rng.Intn(256))
		pixels[i] = Color{v, uint8(255 - int(v)/2), uint8(rng.Intn(40)), 255}
	}
	sel := make([]uint8, len(pixels))
	fit := OptimizeColor(pixels, true, QualityFast, sel)
	refined, ok := RefineColor(pixels, sel, true, math.MaxUint64)
	if !ok {
		t.Fatalf("RefineColor against MaxUint64 failed")
	}
	if _, ok := RefineColor(pixels, sel, true, 0); ok {
		t.Fatalf("RefineColor beat a zero error")
	}
	if refined.Error == math.MaxUint64 || fit.Error == math.MaxUint64 {
		t.Fatalf("unset error: fit %d refined %d", fit.Error, refined.Error)
	}
}

func TestOptimizeAlpha(t *testing.T) {
	sel := make([]uint8, 4)
	fit := OptimizeAlpha([]uint8{0, 255, 255, 0}, QualityUber, sel)
	if fit.Error != 0 {
		t.Fatalf("OptimizeAlpha(0/255).Error: got %d want 0", fit.Error)
	}
	if fit.First < fit.Second {
		t.Fatalf("OptimizeAlpha: first %d below second %d", fit.First, fit.Second)
	}
	pal := AlphaPalette(fit.First, fit.Second)
	if pal[sel[0]] != 0 || pal[sel[1]] != 255 {
		t.Fatalf("selectors %v do not reproduce input with %v", sel, pal)
	}

	fit = OptimizeAlpha([]uint8{77, 77, 77}, QualityFast, nil)
	if fit.Error != 0 || fit.First != 77 || fit.Second != 77 {
		t.Fatalf("OptimizeAlpha(solid 77): got %+v", fit)
	}
}

func TestEACEndpoint(t *testing.T) {
	base, packed, values := EACEndpoint(200, 20)
	if base != 110 || packed != 10<<4|11 {
		t.Fatalf("EACEndpoint(200,20): got base %d packed %#x", base, packed)
	}
	if values[0] != 10 || values[7] != 200 {
		t.Fatalf("EACEndpoint(200,20) values: got %v", values)
	}
	if got := EACPalette(base, packed); got != values {
		t.Fatalf("EACPalette: got %v want %v", got, values)
	}

	_, packed, _ = EACEndpoint(100, 97)
	if packed != 1<<4|13 {
		t.Fatalf("EACEndpoint(100,97) packed: got %#x", packed)
	}
}

func TestOptimizeETC1_Solid(t *testing.T) {
	pixels := make([]Color, 8)
	for i := range pixels {
		pixels[i] = Color{0, 0, 0, 255}
	}
	fit := OptimizeETC1(pixels, true, nil)
	if fit.Error != 0 {
		t.Fatalf("OptimizeETC1(black).Error: got %d want 0", fit.Error)
	}
	base, _ := UnpackETCEndpoint(fit.Endpoint)
	if base[0] != 0 || base[1] != 0 || base[2] != 0 {
		t.Fatalf("OptimizeETC1(black) base: got %v", base)
	}
}

func TestOptimizeETC1_WideScanImproves(t *testing.T) {
	pixels := []Color{
		{0, 0, 0, 255}, {255, 255, 255, 255}, {0, 0, 0, 255}, {255, 255, 255, 255},
		{10, 200, 30, 255}, {200, 10, 30, 255}, {30, 30, 200, 255}, {128, 128, 128, 255},
	}
	var near ETC1Optimizer
	near.Init(pixels, false)
	near.Compute(etcScanNear)
	full := OptimizeETC1(pixels, false, nil)
	if full.Error > near.Result().Error {
		t.Fatalf("wide scan error %d exceeds near scan %d", full.Error, near.Result().Error)
	}
}
