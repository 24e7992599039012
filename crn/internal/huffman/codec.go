package huffman

// Encoder writes bits MSB first. In simulation mode it only counts them.
type Encoder struct {
	buf      []byte
	acc      uint64
	nacc     int
	total    uint64
	simulate bool
}

// NewEncoder returns an encoder with capacity hint bytes preallocated.
func NewEncoder(hint int) *Encoder {
	return &Encoder{buf: make([]byte, 0, hint)}
}

// EnableSimulation toggles bit counting without output.
func (e *Encoder) EnableSimulation(on bool) { e.simulate = on }

// TotalBits returns the number of bits written or simulated so far.
func (e *Encoder) TotalBits() uint64 { return e.total }

// PutBits writes the low n bits of v, n <= 32.
func (e *Encoder) PutBits(v uint32, n int) {
	if n == 0 {
		return
	}
	e.total += uint64(n)
	if e.simulate {
		return
	}
	e.acc = e.acc<<uint(n) | uint64(v)&(1<<uint(n)-1)
	e.nacc += n
	for e.nacc >= 8 {
		e.nacc -= 8
		e.buf = append(e.buf, byte(e.acc>>uint(e.nacc)))
	}
	e.acc &= 1<<uint(e.nacc) - 1
}

// Encode writes the code for sym.
func (e *Encoder) Encode(sym int, m *Model) {
	code, size := m.Code(sym)
	e.PutBits(code, size)
}

// Bytes flushes any partial byte (zero padded) and returns the output.
func (e *Encoder) Bytes() []byte {
	if e.nacc > 0 {
		e.buf = append(e.buf, byte(e.acc<<uint(8-e.nacc)))
		e.acc, e.nacc = 0, 0
	}
	return e.buf
}

// Code length alphabet used to transmit a model: sizes 0..16 as literals
// followed by run codes.
const (
	smallZeroRun = 17 // 3..10 zeros, 3 extra bits
	largeZeroRun = 18 // 11..138 zeros, 7 extra bits
	smallRepeat  = 19 // 3..6 copies of the previous size, 2 extra bits
	largeRepeat  = 20 // 7..70 copies of the previous size, 6 extra bits

	numCodeLengthSyms  = 21
	codeLengthSizeBits = 3
	maxCodeLengthSize  = 7
	symCountBits       = 20
)

var codeLengthOrder = [numCodeLengthSyms]uint8{
	smallZeroRun, largeZeroRun, smallRepeat, largeRepeat,
	0, 8, 7, 9, 6, 10, 5, 11, 4, 12, 3, 13, 2, 14, 1, 15, 16,
}

type rleSym struct {
	sym   uint8
	extra uint8
}

func runLengthCodeSizes(sizes []uint8) []rleSym {
	out := make([]rleSym, 0, len(sizes))
	for i := 0; i < len(sizes); {
		s := sizes[i]
		run := 1
		for i+run < len(sizes) && sizes[i+run] == s {
			run++
		}
		if s == 0 {
			for run > 0 {
				switch {
				case run >= 11:
					r := min(run, 138)
					out = append(out, rleSym{largeZeroRun, uint8(r - 11)})
					run -= r
					i += r
				case run >= 3:
					out = append(out, rleSym{smallZeroRun, uint8(run - 3)})
					i += run
					run = 0
				default:
					out = append(out, rleSym{sym: 0})
					run--
					i++
				}
			}
			continue
		}
		out = append(out, rleSym{sym: s})
		run--
		i++
		for run > 0 {
			switch {
			case run >= 7:
				r := min(run, 70)
				out = append(out, rleSym{largeRepeat, uint8(r - 7)})
				run -= r
				i += r
			case run >= 3:
				out = append(out, rleSym{smallRepeat, uint8(run - 3)})
				i += run
				run = 0
			default:
				out = append(out, rleSym{sym: s})
				run--
				i++
			}
		}
	}
	return out
}

func extraBits(sym uint8) int {
	switch sym {
	case smallZeroRun:
		return 3
	case largeZeroRun:
		return 7
	case smallRepeat:
		return 2
	case largeRepeat:
		return 6
	}
	return 0
}

// TransmitModel writes m so that a reader can rebuild its code sizes.
func (e *Encoder) TransmitModel(m *Model) error {
	total := 0
	for s, size := range m.sizes {
		if size != 0 {
			total = s + 1
		}
	}
	e.PutBits(uint32(total), symCountBits)
	if total == 0 {
		return nil
	}

	stream := runLengthCodeSizes(m.sizes[:total])
	hist := make([]uint32, numCodeLengthSyms)
	for _, r := range stream {
		hist[r.sym]++
	}
	lengths, err := NewModel(hist, maxCodeLengthSize)
	if err != nil {
		return err
	}

	num := 1
	for i, s := range codeLengthOrder {
		if lengths.sizes[s] != 0 {
			num = i + 1
		}
	}
	e.PutBits(uint32(num), 5)
	for _, s := range codeLengthOrder[:num] {
		e.PutBits(uint32(lengths.sizes[s]), codeLengthSizeBits)
	}
	for _, r := range stream {
		e.Encode(int(r.sym), lengths)
		e.PutBits(uint32(r.extra), extraBits(r.sym))
	}
	return nil
}
