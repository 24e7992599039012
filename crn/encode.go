package crn

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"
	"time"

	"github.com/crunch-go/crunch/crn/internal/dxt"
	"github.com/crunch-go/crunch/crn/internal/taskpool"
)

// EncodeOptions configures Encode.
type EncodeOptions struct {
	// Width and Height are the dimensions of the top mip level.
	Width, Height int
	Format        Format

	// Faces holds the mip chain of every face: Faces[face][level]. Level l
	// must measure max(1, Width>>l) by max(1, Height>>l).
	Faces [][]image.Image

	// QualityLevel (0..255) drives the codebook sizes unless
	// ManualPaletteSizes is set.
	QualityLevel       int
	ManualPaletteSizes bool

	ColorEndpointPaletteSize int
	ColorSelectorPaletteSize int
	AlphaEndpointPaletteSize int
	AlphaSelectorPaletteSize int

	Perceptual bool
	// AlphaChannel is the source channel of the alpha stream of DXT5, DXT5A
	// and ETC2A. The zero value reads alpha.
	AlphaChannel Channel

	Helpers int

	UserData0, UserData1 uint32

	Progress ProgressFunc
}

// Channel names a source channel of the input images.
type Channel uint8

const (
	ChannelDefault Channel = iota
	ChannelR
	ChannelG
	ChannelB
	ChannelA
)

// ParseChannel accepts "r", "g", "b", "a" or "" (default).
func ParseChannel(s string) (Channel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return ChannelDefault, nil
	case "r", "red":
		return ChannelR, nil
	case "g", "green":
		return ChannelG, nil
	case "b", "blue":
		return ChannelB, nil
	case "a", "alpha":
		return ChannelA, nil
	}
	return 0, newError(ErrBadParam, fmt.Sprintf("crn: unknown channel %q", s))
}

// Stats summarizes an encoded container.
type Stats struct {
	ColorEndpoints int
	ColorSelectors int
	AlphaEndpoints int
	AlphaSelectors int

	// Section sizes in bytes.
	PaletteBytes [numPalettes]int
	TablesBytes  int
	LevelBytes   []int
	TotalBytes   int

	// BitsPerTexel is the container size over every texel of every level
	// and face.
	BitsPerTexel float64

	// Estimated bits of each endpoint ordering trial.
	ColorRemapTrials [4]uint64
	AlphaRemapTrials [4]uint64

	Elapsed time.Duration
}

// Encode compresses opts into a container.
func Encode(opts *EncodeOptions) ([]byte, error) {
	data, _, err := EncodeWithStats(opts)
	return data, err
}

// EncodeWithStats is Encode that also reports codebook and section sizes.
func EncodeWithStats(opts *EncodeOptions) ([]byte, *Stats, error) {
	start := time.Now()
	info, err := opts.validate()
	if err != nil {
		return nil, nil, err
	}
	p, err := opts.params(info)
	if err != nil {
		return nil, nil, err
	}
	blocks := opts.blocks(info, p.Levels)

	pool, err := taskpool.New(opts.Helpers)
	if err != nil {
		return nil, nil, wrapError(ErrPoolInitFailed, "crn: worker pool", err)
	}
	defer pool.Close()

	prog := newProgress(opts.Progress)
	var c Compressor
	res, err := c.compress(blocks, p, pool, &prog)
	if err != nil {
		return nil, nil, err
	}

	pk := newPacker(res, p.Levels, info)
	log := Logger()
	if info.HasColor {
		if err := prog.check(PhaseRemapColor); err != nil {
			return nil, nil, err
		}
		if err := pk.optimizeColor(pool); err != nil {
			return nil, nil, err
		}
		log.Debug("color remap trials", "bits", pk.colorTrials)
	}
	if info.AlphaChannels > 0 {
		if err := prog.check(PhaseRemapAlpha); err != nil {
			return nil, nil, err
		}
		if err := pk.optimizeAlpha(pool); err != nil {
			return nil, nil, err
		}
		log.Debug("alpha remap trials", "bits", pk.alphaTrials)
	}
	if err := prog.check(PhasePackBlocks); err != nil {
		return nil, nil, err
	}
	if err := pk.packAllBlocks(); err != nil {
		return nil, nil, err
	}
	if err := pk.packDataModels(); err != nil {
		return nil, nil, err
	}
	if err := prog.check(PhaseAssemble); err != nil {
		return nil, nil, err
	}

	h := Header{
		Width:     uint16(opts.Width),
		Height:    uint16(opts.Height),
		Levels:    uint8(len(p.Levels)),
		Faces:     uint8(p.NumFaces),
		Format:    opts.Format,
		UserData0: opts.UserData0,
		UserData1: opts.UserData1,
	}
	if p.Perceptual && info.Perceptual {
		h.Flags |= FlagPerceptual
	}
	data, stats, err := pk.assemble(h)
	if err != nil {
		return nil, nil, err
	}
	if !prog.update(PhaseAssemble, 1, 1) {
		return nil, nil, newError(ErrUserCanceled, "crn: canceled by progress callback")
	}

	stats.ColorEndpoints = len(res.ColorEndpoints)
	stats.ColorSelectors = len(res.ColorSelectors)
	stats.AlphaEndpoints = len(res.AlphaEndpoints)
	stats.AlphaSelectors = len(res.AlphaSelectors)
	stats.ColorRemapTrials = pk.colorTrials
	stats.AlphaRemapTrials = pk.alphaTrials
	stats.BitsPerTexel = float64(len(data)*8) / float64(opts.totalTexels())
	stats.Elapsed = time.Since(start)
	log.Debug("encoded", "bytes", len(data), "bpp", stats.BitsPerTexel, "elapsed", stats.Elapsed)
	return data, stats, nil
}

func newPacker(res *Result, levels []LevelParams, info Info) *packer {
	pk := &packer{res: res, levels: levels, etc: info.ETC}
	pk.hasComp[compColor] = info.HasColor
	for a := 0; a < info.AlphaChannels; a++ {
		pk.hasComp[compAlpha0+a] = true
	}
	return pk
}

// assemble lays out the header, the four packed codebooks, the data models
// and the per-level block streams, then seals the CRCs.
func (pk *packer) assemble(h Header) ([]byte, *Stats, error) {
	h.HeaderSize = uint16(HeaderSize(len(pk.levels)))
	h.LevelOffsets = make([]uint32, len(pk.levels))
	stats := &Stats{LevelBytes: make([]int, len(pk.levels))}

	ofs := uint32(h.HeaderSize)
	sections := [numPalettes]struct {
		packed []byte
		num    int
	}{
		{pk.packedColorEndpoints, len(pk.res.ColorEndpoints)},
		{pk.packedColorSelectors, len(pk.res.ColorSelectors)},
		{pk.packedAlphaEndpoints, len(pk.res.AlphaEndpoints)},
		{pk.packedAlphaSelectors, len(pk.res.AlphaSelectors)},
	}
	for i, s := range sections {
		if len(s.packed) == 0 {
			continue
		}
		h.Palettes[i] = Palette{Offset: ofs, Size: uint32(len(s.packed)), Num: uint16(s.num)}
		stats.PaletteBytes[i] = len(s.packed)
		ofs += uint32(len(s.packed))
	}
	h.TablesOffset, h.TablesSize = ofs, uint32(len(pk.packedModels))
	stats.TablesBytes = len(pk.packedModels)
	ofs += h.TablesSize
	for l, packed := range pk.packedBlocks {
		h.LevelOffsets[l] = ofs
		stats.LevelBytes[l] = len(packed)
		ofs += uint32(len(packed))
	}
	h.DataSize = ofs

	data, err := MarshalHeader(h)
	if err != nil {
		return nil, nil, err
	}
	for _, s := range sections {
		data = append(data, s.packed...)
	}
	data = append(data, pk.packedModels...)
	for _, packed := range pk.packedBlocks {
		data = append(data, packed...)
	}
	sealContainer(data, int(h.HeaderSize))
	stats.TotalBytes = len(data)
	return data, stats, nil
}

func (o *EncodeOptions) validate() (Info, error) {
	if o == nil {
		return Info{}, newError(ErrBadParam, "crn: nil options")
	}
	info, err := FormatInfo(o.Format)
	if err != nil {
		return Info{}, err
	}
	if min(o.Width, o.Height) < 1 || max(o.Width, o.Height) > MaxLevelResolution {
		return Info{}, newError(ErrDimensionOutOfRange, fmt.Sprintf("crn: dimensions %dx%d out of range 1..%d", o.Width, o.Height, MaxLevelResolution))
	}
	if len(o.Faces) < 1 || len(o.Faces) > MaxFaces {
		return Info{}, newError(ErrDimensionOutOfRange, fmt.Sprintf("crn: %d faces (want 1..%d)", len(o.Faces), MaxFaces))
	}
	levels := len(o.Faces[0])
	if levels < 1 || levels > MaxLevels {
		return Info{}, newError(ErrDimensionOutOfRange, fmt.Sprintf("crn: %d levels (want 1..%d)", levels, MaxLevels))
	}
	for f, face := range o.Faces {
		if len(face) != levels {
			return Info{}, newError(ErrBadParam, fmt.Sprintf("crn: face %d has %d levels, face 0 has %d", f, len(face), levels))
		}
		for l, img := range face {
			w, h := o.levelSize(l)
			if img == nil || img.Bounds().Dx() != w || img.Bounds().Dy() != h {
				return Info{}, newError(ErrDimensionOutOfRange, fmt.Sprintf("crn: face %d level %d is not %dx%d", f, l, w, h))
			}
		}
	}
	if o.QualityLevel < 0 || o.QualityLevel > MaxQualityLevel {
		return Info{}, newError(ErrBadParam, fmt.Sprintf("crn: quality level %d out of range 0..%d", o.QualityLevel, MaxQualityLevel))
	}
	if o.AlphaChannel > ChannelA {
		return Info{}, newError(ErrBadParam, fmt.Sprintf("crn: invalid alpha channel %d", o.AlphaChannel))
	}
	return info, nil
}

func (o *EncodeOptions) levelSize(l int) (w, h int) {
	return max(1, o.Width>>l), max(1, o.Height>>l)
}

func (o *EncodeOptions) totalTexels() int {
	n := 0
	for l := range o.Faces[0] {
		w, h := o.levelSize(l)
		n += w * h
	}
	return n * len(o.Faces)
}

// paletteSizes derives codebook sizes from the quality level.
func (o *EncodeOptions) paletteSizes(p *Params) {
	if o.ManualPaletteSizes {
		p.ColorEndpointCodebookSize = clampPaletteSize(o.ColorEndpointPaletteSize)
		p.ColorSelectorCodebookSize = clampPaletteSize(o.ColorSelectorPaletteSize)
		p.AlphaEndpointCodebookSize = clampPaletteSize(o.AlphaEndpointPaletteSize)
		p.AlphaSelectorCodebookSize = clampPaletteSize(o.AlphaSelectorPaletteSize)
		return
	}

	maxEntries := float64(clampPaletteSize(((o.Width + 3) / 4) * ((o.Height + 3) / 4)))
	q := math.Min(1, float64(o.QualityLevel)/MaxQualityLevel)
	colorMul, alphaMul := 1.0, 1.0
	switch o.Format {
	case FormatETC1, FormatETC2:
		colorMul = 1.31
		p.AdaptiveTileColorDerating = 5
	case FormatETC2A:
		colorMul, alphaMul = 1.31, .9
		p.AdaptiveTileColorDerating = 5
	case FormatDXT5:
		colorMul = .75
	}
	size := func(base, exp float64) int {
		t := math.Pow(q, exp)
		return clampPaletteSize(int(.5 + base + (maxEntries-base)*t))
	}
	p.ColorEndpointCodebookSize = size(64, 1.8*colorMul)
	p.ColorSelectorCodebookSize = size(96, 1.65*colorMul)
	p.AlphaEndpointCodebookSize = size(24, 2.1*alphaMul)
	p.AlphaSelectorCodebookSize = size(48, 1.65*alphaMul)
}

func clampPaletteSize(n int) int {
	return dxt.Clamp(n, MinPaletteSize, MaxPaletteSize)
}

func (o *EncodeOptions) params(info Info) (*Params, error) {
	p, err := DefaultParams(o.Format)
	if err != nil {
		return nil, err
	}
	p.Perceptual = o.Perceptual && info.Perceptual
	switch o.Format {
	case FormatDXT5, FormatDXT5A, FormatETC2A:
		if o.AlphaChannel != ChannelDefault {
			p.AlphaComponents[0] = int(o.AlphaChannel) - 1
		}
	}
	o.paletteSizes(p)
	p.NumFaces = len(o.Faces)
	p.Helpers = o.Helpers
	p.Progress = o.Progress

	shift := 2
	if info.ETC {
		shift = 1
	}
	total := 0
	for l := range o.Faces[0] {
		w, h := o.levelSize(l)
		bw := ((w + 7) &^ 7) >> shift
		bh := ((h + 7) &^ 7) >> 2
		n := p.NumFaces * bw * bh
		p.Levels = append(p.Levels, LevelParams{
			FirstBlock: total,
			NumBlocks:  n,
			BlockWidth: bw,
			Weight:     float32(math.Min(12, math.Pow(1.3, float64(l)))),
		})
		total += n
	}
	return p, nil
}

// blocks cuts every level of every face into 4x4 blocks, level-major, on a
// grid padded to 8 texels with edge texels repeated.
func (o *EncodeOptions) blocks(info Info, levels []LevelParams) []Block {
	total := levels[len(levels)-1].FirstBlock + levels[len(levels)-1].NumBlocks
	if info.ETC {
		total >>= 1
	}
	blocks := make([]Block, 0, total)
	for l := range levels {
		w, h := o.levelSize(l)
		bw, bh := ((w+7)&^7)>>2, ((h+7)&^7)>>2
		for _, face := range o.Faces {
			src := newTexelReader(face[l])
			for by := 0; by < bh; by++ {
				for bx := 0; bx < bw; bx++ {
					var blk Block
					for t, dy := 0, 0; dy < 4; dy++ {
						y := min(by*4+dy, h-1)
						for dx := 0; dx < 4; dx, t = dx+1, t+1 {
							blk[t] = src.at(min(bx*4+dx, w-1), y)
						}
					}
					blocks = append(blocks, blk)
				}
			}
		}
	}
	return blocks
}

// texelReader reads non-premultiplied texels relative to the image origin.
type texelReader struct {
	img   image.Image
	nrgba *image.NRGBA
	min   image.Point
}

func newTexelReader(img image.Image) texelReader {
	r := texelReader{img: img, min: img.Bounds().Min}
	r.nrgba, _ = img.(*image.NRGBA)
	return r
}

func (r texelReader) at(x, y int) Color {
	if r.nrgba != nil {
		i := r.nrgba.PixOffset(r.min.X+x, r.min.Y+y)
		s := r.nrgba.Pix[i : i+4 : i+4]
		return Color{s[0], s[1], s[2], s[3]}
	}
	c := color.NRGBAModel.Convert(r.img.At(r.min.X+x, r.min.Y+y)).(color.NRGBA)
	return Color{c.R, c.G, c.B, c.A}
}
