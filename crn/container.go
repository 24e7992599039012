package crn

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/crunch-go/crunch/crn/internal/checksum"
)

// Signature is the first field of every container ('H', 'x').
const Signature uint16 = 'H'<<8 | 'x'

// FlagPerceptual marks containers compressed with perceptual color metrics.
const FlagPerceptual uint8 = 1

// Palette indices in Header.Palettes.
const (
	PaletteColorEndpoints = iota
	PaletteColorSelectors
	PaletteAlphaEndpoints
	PaletteAlphaSelectors

	numPalettes
)

// baseHeaderSize is the header size without the level offset table.
const baseHeaderSize = 76

// HeaderSize returns the size in bytes of a header describing levels mip
// levels.
func HeaderSize(levels int) int { return baseHeaderSize + 4*levels }

// Palette locates one packed codebook inside the container.
type Palette struct {
	Offset uint32
	Size   uint32
	Num    uint16
}

// Header is the fixed-layout, big-endian container header. Offsets are
// relative to the start of the container.
type Header struct {
	HeaderSize  uint16
	HeaderCRC16 uint16
	DataSize    uint32
	DataCRC16   uint16

	Width, Height uint16
	Levels        uint8
	Faces         uint8
	Format        Format
	Flags         uint8

	UserData0, UserData1 uint32

	Palettes [numPalettes]Palette

	TablesOffset uint32
	TablesSize   uint32

	LevelOffsets []uint32
}

func (h Header) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "CRN %s %dx%d, %d levels, %d faces, %d bytes", h.Format, h.Width, h.Height, h.Levels, h.Faces, h.DataSize)
	if h.Flags&FlagPerceptual != 0 {
		b.WriteString(", perceptual")
	}
	names := [numPalettes]string{"color endpoints", "color selectors", "alpha endpoints", "alpha selectors"}
	for i, p := range h.Palettes {
		if p.Num != 0 {
			fmt.Fprintf(&b, "\n  %s: %d entries, %d bytes", names[i], p.Num, p.Size)
		}
	}
	fmt.Fprintf(&b, "\n  tables: %d bytes", h.TablesSize)
	for l := range h.LevelOffsets {
		fmt.Fprintf(&b, "\n  level %d: offset %d", l, h.LevelOffsets[l])
	}
	return b.String()
}

func badHeader(format string, args ...any) error {
	return newError(ErrBadHeader, "crn: invalid header: "+fmt.Sprintf(format, args...))
}

func (h Header) validate() error {
	if h.Width == 0 || h.Height == 0 || h.Width > MaxLevelResolution || h.Height > MaxLevelResolution {
		return badHeader("dimensions %dx%d", h.Width, h.Height)
	}
	if h.Levels == 0 || h.Levels > MaxLevels || int(h.Levels) != len(h.LevelOffsets) {
		return badHeader("%d levels with %d offsets", h.Levels, len(h.LevelOffsets))
	}
	if h.Faces == 0 || h.Faces > MaxFaces {
		return badHeader("%d faces", h.Faces)
	}
	if _, err := FormatInfo(h.Format); err != nil {
		return badHeader("format %d", h.Format)
	}
	if int(h.HeaderSize) != HeaderSize(int(h.Levels)) {
		return badHeader("header size %d, want %d", h.HeaderSize, HeaderSize(int(h.Levels)))
	}
	inData := func(ofs, size uint32) bool {
		return ofs >= uint32(h.HeaderSize) && uint64(ofs)+uint64(size) <= uint64(h.DataSize)
	}
	for i, p := range h.Palettes {
		if p.Num != 0 && !inData(p.Offset, p.Size) {
			return badHeader("palette %d at %d+%d outside %d bytes", i, p.Offset, p.Size, h.DataSize)
		}
	}
	if !inData(h.TablesOffset, h.TablesSize) {
		return badHeader("tables at %d+%d outside %d bytes", h.TablesOffset, h.TablesSize, h.DataSize)
	}
	for l, ofs := range h.LevelOffsets {
		if !inData(ofs, 0) || l > 0 && ofs < h.LevelOffsets[l-1] {
			return badHeader("level %d offset %d outside %d bytes", l, ofs, h.DataSize)
		}
	}
	return nil
}

// MarshalHeader returns the encoding of h. The CRC fields are written as
// given; the encoder fills them in once the data is complete.
func MarshalHeader(h Header) ([]byte, error) {
	if err := h.validate(); err != nil {
		return nil, err
	}
	out := make([]byte, 0, h.HeaderSize)
	be := binary.BigEndian
	out = be.AppendUint16(out, Signature)
	out = be.AppendUint16(out, h.HeaderSize)
	out = be.AppendUint16(out, h.HeaderCRC16)
	out = be.AppendUint32(out, h.DataSize)
	out = be.AppendUint16(out, h.DataCRC16)
	out = be.AppendUint16(out, h.Width)
	out = be.AppendUint16(out, h.Height)
	out = append(out, h.Levels, h.Faces, uint8(h.Format), h.Flags)
	out = be.AppendUint32(out, h.UserData0)
	out = be.AppendUint32(out, h.UserData1)
	for _, p := range h.Palettes {
		out = be.AppendUint32(out, p.Offset)
		out = be.AppendUint32(out, p.Size)
		out = be.AppendUint16(out, p.Num)
	}
	out = be.AppendUint32(out, h.TablesOffset)
	out = be.AppendUint32(out, h.TablesSize)
	for _, ofs := range h.LevelOffsets {
		out = be.AppendUint32(out, ofs)
	}
	return out, nil
}

// ParseHeader parses and verifies the header at the start of a container.
// data must hold the whole container so the data CRC can be checked.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < baseHeaderSize {
		return Header{}, badHeader("unexpected EOF: want %d bytes, got %d", baseHeaderSize, len(data))
	}
	be := binary.BigEndian
	if sig := be.Uint16(data); sig != Signature {
		return Header{}, badHeader("signature %#04x", sig)
	}
	h := Header{
		HeaderSize:  be.Uint16(data[2:]),
		HeaderCRC16: be.Uint16(data[4:]),
		DataSize:    be.Uint32(data[6:]),
		DataCRC16:   be.Uint16(data[10:]),
		Width:       be.Uint16(data[12:]),
		Height:      be.Uint16(data[14:]),
		Levels:      data[16],
		Faces:       data[17],
		Format:      Format(data[18]),
		Flags:       data[19],
		UserData0:   be.Uint32(data[20:]),
		UserData1:   be.Uint32(data[24:]),
	}
	ofs := 28
	for i := range h.Palettes {
		h.Palettes[i] = Palette{
			Offset: be.Uint32(data[ofs:]),
			Size:   be.Uint32(data[ofs+4:]),
			Num:    be.Uint16(data[ofs+8:]),
		}
		ofs += 10
	}
	h.TablesOffset = be.Uint32(data[ofs:])
	h.TablesSize = be.Uint32(data[ofs+4:])
	ofs += 8

	if int(h.HeaderSize) != HeaderSize(int(h.Levels)) {
		return Header{}, badHeader("header size %d, want %d", h.HeaderSize, HeaderSize(int(h.Levels)))
	}
	if len(data) < int(h.HeaderSize) || uint64(len(data)) < uint64(h.DataSize) {
		return Header{}, badHeader("unexpected EOF: want %d bytes, got %d", max(uint32(h.HeaderSize), h.DataSize), len(data))
	}
	if crc := checksum.CRC16(data[6:h.HeaderSize]); crc != h.HeaderCRC16 {
		return Header{}, badHeader("header CRC %#04x, want %#04x", crc, h.HeaderCRC16)
	}
	h.LevelOffsets = make([]uint32, h.Levels)
	for l := range h.LevelOffsets {
		h.LevelOffsets[l] = be.Uint32(data[ofs:])
		ofs += 4
	}
	if err := h.validate(); err != nil {
		return Header{}, err
	}
	if crc := checksum.CRC16(data[h.HeaderSize:h.DataSize]); crc != h.DataCRC16 {
		return Header{}, badHeader("data CRC %#04x, want %#04x", crc, h.DataCRC16)
	}
	return h, nil
}

// LevelData returns the packed blocks of level l. The slice aliases data.
func (h Header) LevelData(data []byte, l int) []byte {
	end := h.DataSize
	if l+1 < len(h.LevelOffsets) {
		end = h.LevelOffsets[l+1]
	}
	return data[h.LevelOffsets[l]:end]
}

// sealContainer writes the data size and both CRCs into a container whose
// header was marshaled with zero CRCs.
func sealContainer(data []byte, headerSize int) {
	be := binary.BigEndian
	be.PutUint32(data[6:], uint32(len(data)))
	be.PutUint16(data[10:], checksum.CRC16(data[headerSize:]))
	be.PutUint16(data[4:], checksum.CRC16(data[6:headerSize]))
}
