package huffman

import (
	"math/rand"
	"testing"
)

type bitReader struct {
	data []byte
	pos  int
}

func (r *bitReader) bit() uint32 {
	b := r.data[r.pos>>3] >> (7 - uint(r.pos&7)) & 1
	r.pos++
	return uint32(b)
}

func (r *bitReader) bits(n int) uint32 {
	v := uint32(0)
	for range n {
		v = v<<1 | r.bit()
	}
	return v
}

// decode walks canonical codes one bit at a time.
func (r *bitReader) decode(sizes []uint8) int {
	m := &Model{sizes: sizes, codes: make([]uint16, len(sizes))}
	m.assignCodes()
	code, size := uint32(0), 0
	for {
		code = code<<1 | r.bit()
		size++
		for s, sz := range sizes {
			if int(sz) == size && uint32(m.codes[s]) == code {
				return s
			}
		}
		if size > MaxCodeSize {
			return -1
		}
	}
}

func (r *bitReader) receiveModel() []uint8 {
	total := int(r.bits(symCountBits))
	if total == 0 {
		return nil
	}
	num := int(r.bits(5))
	lengthSizes := make([]uint8, numCodeLengthSyms)
	for _, s := range codeLengthOrder[:num] {
		lengthSizes[s] = uint8(r.bits(codeLengthSizeBits))
	}
	sizes := make([]uint8, 0, total)
	for len(sizes) < total {
		sym := r.decode(lengthSizes)
		extra := int(r.bits(extraBits(uint8(sym))))
		switch sym {
		case smallZeroRun:
			sizes = append(sizes, make([]uint8, extra+3)...)
		case largeZeroRun:
			sizes = append(sizes, make([]uint8, extra+11)...)
		case smallRepeat, largeRepeat:
			base := 3
			if sym == largeRepeat {
				base = 7
			}
			prev := sizes[len(sizes)-1]
			for range extra + base {
				sizes = append(sizes, prev)
			}
		default:
			sizes = append(sizes, uint8(sym))
		}
	}
	return sizes
}

func kraft(sizes []uint8) float64 {
	sum := 0.0
	for _, s := range sizes {
		if s != 0 {
			sum += 1 / float64(uint64(1)<<s)
		}
	}
	return sum
}

func TestNewModel_RespectsCodeSizeLimit(t *testing.T) {
	// Fibonacci frequencies produce a maximally skewed tree.
	freq := make([]uint32, 30)
	a, b := uint32(1), uint32(1)
	for i := range freq {
		freq[i] = a
		a, b = b, a+b
	}
	for _, limit := range []int{8, 12, MaxCodeSize} {
		m, err := NewModel(freq, limit)
		if err != nil {
			t.Fatalf("NewModel(limit=%d): %v", limit, err)
		}
		if got := m.MaxCodeSize(); got > limit {
			t.Fatalf("MaxCodeSize(limit=%d): got %d", limit, got)
		}
		if got := kraft(m.CodeSizes()); got != 1 {
			t.Fatalf("Kraft sum(limit=%d): got %v want 1", limit, got)
		}
	}
}

func TestNewModel_TooManySymbols(t *testing.T) {
	freq := make([]uint32, 300)
	for i := range freq {
		freq[i] = 1
	}
	if _, err := NewModel(freq, 8); err != ErrCodeSizeLimit {
		t.Fatalf("NewModel(300 syms, limit 8): got %v want %v", err, ErrCodeSizeLimit)
	}
}

func TestNewModel_DegenerateHistograms(t *testing.T) {
	m, err := NewModel(make([]uint32, 10), MaxCodeSize)
	if err != nil {
		t.Fatalf("NewModel(empty): %v", err)
	}
	if m.UsedSymbols() != 0 {
		t.Fatalf("UsedSymbols(empty): got %d want 0", m.UsedSymbols())
	}

	freq := make([]uint32, 10)
	freq[7] = 42
	m, err = NewModel(freq, MaxCodeSize)
	if err != nil {
		t.Fatalf("NewModel(single): %v", err)
	}
	if got := m.CodeSizes()[7]; got != 1 {
		t.Fatalf("single symbol size: got %d want 1", got)
	}
}

func TestEncode_CanonicalPrefixRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	freq := make([]uint32, 200)
	for i := range freq {
		if rng.Intn(4) != 0 {
			freq[i] = uint32(rng.Intn(1000) + 1)
		}
	}
	m, err := NewModel(freq, MaxCodeSize)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}

	var syms []int
	for s, f := range freq {
		if f != 0 {
			syms = append(syms, s, s)
		}
	}
	rng.Shuffle(len(syms), func(i, j int) { syms[i], syms[j] = syms[j], syms[i] })

	e := NewEncoder(0)
	if err := e.TransmitModel(m); err != nil {
		t.Fatalf("TransmitModel: %v", err)
	}
	for _, s := range syms {
		e.Encode(s, m)
	}
	r := &bitReader{data: e.Bytes()}

	sizes := r.receiveModel()
	for s := range sizes {
		if sizes[s] != m.CodeSizes()[s] {
			t.Fatalf("received size of %d: got %d want %d", s, sizes[s], m.CodeSizes()[s])
		}
	}
	for i, want := range syms {
		if got := r.decode(sizes); got != want {
			t.Fatalf("symbol %d: got %d want %d", i, got, want)
		}
	}
}

func TestSimulation_MatchesRealBitCount(t *testing.T) {
	freq := []uint32{5, 0, 0, 0, 0, 0, 0, 9, 9, 9, 9, 9, 9, 9, 9, 1, 0, 3}
	m, err := NewModel(freq, MaxCodeSize)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}

	actual := NewEncoder(0)
	sim := NewEncoder(0)
	sim.EnableSimulation(true)
	for _, e := range []*Encoder{actual, sim} {
		if err := e.TransmitModel(m); err != nil {
			t.Fatalf("TransmitModel: %v", err)
		}
		for s, f := range freq {
			for range f {
				e.Encode(s, m)
			}
		}
	}
	if actual.TotalBits() != sim.TotalBits() {
		t.Fatalf("TotalBits: actual %d simulated %d", actual.TotalBits(), sim.TotalBits())
	}
	if got, want := len(actual.Bytes()), int((actual.TotalBits()+7)/8); got != want {
		t.Fatalf("len(Bytes): got %d want %d", got, want)
	}
	if len(sim.Bytes()) != 0 {
		t.Fatalf("simulated encoder produced %d bytes", len(sim.Bytes()))
	}
}

func TestCost_MatchesEncodedSymbols(t *testing.T) {
	hist := []uint32{10, 1, 1, 4, 0, 7}
	m, err := NewModel(hist, MaxCodeSize)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	e := NewEncoder(0)
	for s, n := range hist {
		for range n {
			e.Encode(s, m)
		}
	}
	if got, want := m.Cost(hist), e.TotalBits(); got != want {
		t.Fatalf("Cost: got %d want %d", got, want)
	}
}
