package crn_test

import (
	"image"
	"image/color"
	"math/rand"
	"testing"

	"github.com/crunch-go/crunch/crn"
)

func mipChain(w, h, levels int, seed int64) []image.Image {
	rng := rand.New(rand.NewSource(seed))
	chain := make([]image.Image, levels)
	for l := range chain {
		lw, lh := max(1, w>>l), max(1, h>>l)
		img := image.NewNRGBA(image.Rect(0, 0, lw, lh))
		for y := 0; y < lh; y++ {
			for x := 0; x < lw; x++ {
				n := uint8(rng.Intn(16))
				img.SetNRGBA(x, y, color.NRGBA{uint8(x*255/lw) + n, uint8(y*255/lh) + n, 96, uint8(255 - x*128/lw)})
			}
		}
		chain[l] = img
	}
	return chain
}

func TestEncode_ParseHeaderRoundTrip(t *testing.T) {
	formats := []crn.Format{crn.FormatDXT1, crn.FormatDXT5, crn.FormatDXT5A, crn.FormatDXNXY, crn.FormatETC1, crn.FormatETC2A}
	for i, f := range formats {
		opts := &crn.EncodeOptions{
			Width:        40,
			Height:       24,
			Format:       f,
			Faces:        [][]image.Image{mipChain(40, 24, 3, int64(i))},
			QualityLevel: 128,
			Perceptual:   true,
			Helpers:      1,
			UserData0:    0xCAFE,
			UserData1:    7,
		}
		data, stats, err := crn.EncodeWithStats(opts)
		if err != nil {
			t.Fatalf("EncodeWithStats(%v): %v", f, err)
		}
		h, err := crn.ParseHeader(data)
		if err != nil {
			t.Fatalf("ParseHeader(%v): %v", f, err)
		}
		if h.Width != 40 || h.Height != 24 || h.Levels != 3 || h.Faces != 1 || h.Format != f {
			t.Fatalf("ParseHeader(%v): got %+v", f, h)
		}
		if h.UserData0 != 0xCAFE || h.UserData1 != 7 {
			t.Fatalf("ParseHeader(%v) user data: got %#x %d", f, h.UserData0, h.UserData1)
		}
		if int(h.DataSize) != len(data) || stats.TotalBytes != len(data) {
			t.Fatalf("%v: data size %d, stats %d, len %d", f, h.DataSize, stats.TotalBytes, len(data))
		}
		info, _ := crn.FormatInfo(f)
		if got := h.Flags&crn.FlagPerceptual != 0; got != info.Perceptual {
			t.Fatalf("%v perceptual flag: got %v want %v", f, got, info.Perceptual)
		}
		if got := h.Palettes[crn.PaletteColorEndpoints].Num != 0; got != info.HasColor {
			t.Fatalf("%v color palette present: got %v want %v", f, got, info.HasColor)
		}
		if got := h.Palettes[crn.PaletteAlphaEndpoints].Num != 0; got != (info.AlphaChannels > 0) {
			t.Fatalf("%v alpha palette present: got %v want %v", f, got, info.AlphaChannels > 0)
		}
		if int(h.Palettes[crn.PaletteColorEndpoints].Num) != stats.ColorEndpoints {
			t.Fatalf("%v color endpoints: header %d stats %d", f, h.Palettes[crn.PaletteColorEndpoints].Num, stats.ColorEndpoints)
		}
		for l := 0; l < int(h.Levels); l++ {
			if got := len(h.LevelData(data, l)); got != stats.LevelBytes[l] || got == 0 {
				t.Fatalf("%v level %d: %d bytes, stats %d", f, l, got, stats.LevelBytes[l])
			}
		}
		if stats.BitsPerTexel <= 0 {
			t.Fatalf("%v BitsPerTexel: got %v", f, stats.BitsPerTexel)
		}
	}
}

func TestParseHeader_DetectsCorruption(t *testing.T) {
	data, err := crn.Encode(&crn.EncodeOptions{
		Width:        16,
		Height:       16,
		Format:       crn.FormatDXT1,
		Faces:        [][]image.Image{mipChain(16, 16, 1, 9)},
		QualityLevel: 64,
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	hs := crn.HeaderSize(1)

	for _, ofs := range []int{0, 8, 13, hs - 1, hs, len(data) - 1} {
		bad := append([]byte(nil), data...)
		bad[ofs] ^= 0x10
		if _, err := crn.ParseHeader(bad); crn.ErrorCodeOf(err) != crn.ErrBadHeader {
			t.Fatalf("ParseHeader(flip byte %d): got %v want %v", ofs, err, crn.ErrBadHeader)
		}
	}
	if _, err := crn.ParseHeader(data[:hs-1]); crn.ErrorCodeOf(err) != crn.ErrBadHeader {
		t.Fatalf("ParseHeader(truncated header): got %v want %v", err, crn.ErrBadHeader)
	}
	if _, err := crn.ParseHeader(data[:len(data)-1]); crn.ErrorCodeOf(err) != crn.ErrBadHeader {
		t.Fatalf("ParseHeader(truncated data): got %v want %v", err, crn.ErrBadHeader)
	}
}

func TestEncode_CubeMap(t *testing.T) {
	faces := make([][]image.Image, 6)
	for f := range faces {
		faces[f] = mipChain(8, 8, 4, int64(f))
	}
	data, err := crn.Encode(&crn.EncodeOptions{
		Width:              8,
		Height:             8,
		Format:             crn.FormatETC1,
		Faces:              faces,
		ManualPaletteSizes: true,
		// Clamped up to the minimum palette size.
		ColorEndpointPaletteSize: 1,
		ColorSelectorPaletteSize: 1,
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	h, err := crn.ParseHeader(data)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.Faces != 6 || h.Levels != 4 {
		t.Fatalf("ParseHeader: got %d faces %d levels want 6 and 4", h.Faces, h.Levels)
	}
	if n := h.Palettes[crn.PaletteColorEndpoints].Num; n == 0 || n > crn.MaxPaletteSize {
		t.Fatalf("color endpoints: got %d", n)
	}
}

func TestEncode_Progress(t *testing.T) {
	var phases []int
	_, err := crn.Encode(&crn.EncodeOptions{
		Width:        16,
		Height:       16,
		Format:       crn.FormatDXT5,
		Faces:        [][]image.Image{mipChain(16, 16, 2, 5)},
		QualityLevel: 200,
		Progress: func(phase, total, sub, subTotal int) bool {
			if total != crn.NumPhases {
				t.Fatalf("progress total: got %d want %d", total, crn.NumPhases)
			}
			phases = append(phases, phase)
			return true
		},
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	for i := 1; i < len(phases); i++ {
		if phases[i] < phases[i-1] {
			t.Fatalf("phases not monotonic: %v", phases)
		}
	}
	if len(phases) == 0 || phases[len(phases)-1] != crn.PhaseAssemble {
		t.Fatalf("last phase: got %v want %d", phases, crn.PhaseAssemble)
	}

	canceled := 0
	_, err = crn.Encode(&crn.EncodeOptions{
		Width:  16,
		Height: 16,
		Format: crn.FormatDXT1,
		Faces:  [][]image.Image{mipChain(16, 16, 1, 6)},
		Progress: func(phase, total, sub, subTotal int) bool {
			canceled++
			return phase < crn.PhasePackBlocks
		},
	})
	if crn.ErrorCodeOf(err) != crn.ErrUserCanceled {
		t.Fatalf("Encode canceled at pack: got %v want %v", err, crn.ErrUserCanceled)
	}
}

func TestEncode_Errors(t *testing.T) {
	good := mipChain(16, 16, 1, 1)
	cases := []struct {
		name string
		opts *crn.EncodeOptions
		want crn.ErrorCode
	}{
		{"nil", nil, crn.ErrBadParam},
		{"format", &crn.EncodeOptions{Width: 16, Height: 16, Format: 42, Faces: [][]image.Image{good}}, crn.ErrInvalidFormat},
		{"zero width", &crn.EncodeOptions{Width: 0, Height: 16, Faces: [][]image.Image{good}}, crn.ErrDimensionOutOfRange},
		{"too wide", &crn.EncodeOptions{Width: 8192, Height: 16, Faces: [][]image.Image{good}}, crn.ErrDimensionOutOfRange},
		{"no faces", &crn.EncodeOptions{Width: 16, Height: 16}, crn.ErrDimensionOutOfRange},
		{"size mismatch", &crn.EncodeOptions{Width: 32, Height: 16, Faces: [][]image.Image{good}}, crn.ErrDimensionOutOfRange},
		{"quality", &crn.EncodeOptions{Width: 16, Height: 16, Faces: [][]image.Image{good}, QualityLevel: 256}, crn.ErrBadParam},
		{"alpha channel", &crn.EncodeOptions{Width: 16, Height: 16, Faces: [][]image.Image{good}, AlphaChannel: crn.ChannelA + 1}, crn.ErrBadParam},
		{"helpers", &crn.EncodeOptions{Width: 16, Height: 16, Faces: [][]image.Image{good}, Helpers: 1000}, crn.ErrPoolInitFailed},
	}
	for _, c := range cases {
		if _, err := crn.Encode(c.opts); crn.ErrorCodeOf(err) != c.want {
			t.Fatalf("Encode(%s): got %v want %v", c.name, err, c.want)
		}
	}
}

func TestParseChannel(t *testing.T) {
	cases := map[string]crn.Channel{"": crn.ChannelDefault, "R": crn.ChannelR, "green": crn.ChannelG, " b ": crn.ChannelB, "a": crn.ChannelA}
	for s, want := range cases {
		got, err := crn.ParseChannel(s)
		if err != nil || got != want {
			t.Fatalf("ParseChannel(%q): got %v, %v want %v", s, got, err, want)
		}
	}
	if _, err := crn.ParseChannel("x"); crn.ErrorCodeOf(err) != crn.ErrBadParam {
		t.Fatalf("ParseChannel(x): got %v want %v", err, crn.ErrBadParam)
	}
}

func TestEncode_AlphaChannelSelectsSource(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			r := uint8(0)
			if x >= 8 {
				r = 255
			}
			img.SetNRGBA(x, y, color.NRGBA{r, 40, 40, 255})
		}
	}
	encode := func(ch crn.Channel) *crn.Stats {
		_, stats, err := crn.EncodeWithStats(&crn.EncodeOptions{
			Width:        16,
			Height:       16,
			Format:       crn.FormatDXT5A,
			Faces:        [][]image.Image{{img}},
			QualityLevel: 255,
			AlphaChannel: ch,
		})
		if err != nil {
			t.Fatalf("Encode(channel %d): %v", ch, err)
		}
		return stats
	}
	if got := encode(crn.ChannelDefault).AlphaEndpoints; got != 1 {
		t.Fatalf("AlphaEndpoints from alpha: got %d want 1", got)
	}
	if got := encode(crn.ChannelR).AlphaEndpoints; got < 2 {
		t.Fatalf("AlphaEndpoints from red: got %d want >= 2", got)
	}
}

func TestEncode_AllFormatsAndSizes(t *testing.T) {
	formats := []crn.Format{
		crn.FormatDXT1, crn.FormatDXT5, crn.FormatDXT5A, crn.FormatDXNXY,
		crn.FormatDXNYX, crn.FormatETC1, crn.FormatETC2, crn.FormatETC2A,
	}
	sizes := [][2]int{{1, 1}, {5, 3}, {17, 9}, {64, 40}}
	for fi, f := range formats {
		for si, size := range sizes {
			w, h := size[0], size[1]
			levels := 1
			for max(w, h)>>levels > 0 {
				levels++
			}
			for _, helpers := range []int{0, 3} {
				data, err := crn.Encode(&crn.EncodeOptions{
					Width:        w,
					Height:       h,
					Format:       f,
					Faces:        [][]image.Image{mipChain(w, h, levels, int64(fi*10+si))},
					QualityLevel: 96,
					Helpers:      helpers,
				})
				if err != nil {
					t.Fatalf("Encode(%v %dx%d helpers %d): %v", f, w, h, helpers, err)
				}
				hdr, err := crn.ParseHeader(data)
				if err != nil {
					t.Fatalf("ParseHeader(%v %dx%d helpers %d): %v", f, w, h, helpers, err)
				}
				if int(hdr.Levels) != levels || hdr.Format != f {
					t.Fatalf("ParseHeader(%v %dx%d): got %d levels format %v", f, w, h, hdr.Levels, hdr.Format)
				}
			}
		}
	}
}
