package crn

import (
	"math/rand"
	"testing"

	"github.com/crunch-go/crunch/crn/internal/taskpool"
)

func isPermutation(remap []uint16) bool {
	seen := make([]bool, len(remap))
	for _, r := range remap {
		if int(r) >= len(remap) || seen[r] {
			return false
		}
		seen[r] = true
	}
	return true
}

func TestSortColorEndpoints_NearestChain(t *testing.T) {
	endpoints := []colorEndpointPair{
		{{200, 200, 200, 0}, {255, 255, 255, 0}},
		{{0, 0, 0, 0}, {10, 10, 10, 0}},
		{{100, 100, 100, 0}, {120, 120, 120, 0}},
	}
	remap := sortColorEndpoints(endpoints)
	want := []uint16{2, 0, 1}
	for i := range want {
		if remap[i] != want[i] {
			t.Fatalf("sortColorEndpoints: got %v want %v", remap, want)
		}
	}
}

func TestRemapColorEndpoints_Permutation(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	const n = 40
	endpoints := make([]colorEndpointPair, n)
	for i := range endpoints {
		for j := 0; j < 2; j++ {
			endpoints[i][j] = Color{uint8(rng.Intn(256)), uint8(rng.Intn(256)), uint8(rng.Intn(256)), 0}
		}
	}
	hist := newCooccurrence(n)
	for range 500 {
		i, j := uint16(rng.Intn(n)), uint16(rng.Intn(n))
		if i != j {
			hist.add(i, j)
		}
	}
	hist.finish()
	for _, w := range remapWeights {
		remap := remapColorEndpoints(endpoints, hist, hist.mostFrequent(), w)
		if !isPermutation(remap) {
			t.Fatalf("remapColorEndpoints(w=%v): not a permutation: %v", w, remap)
		}
	}

	alpha := make([]alphaEndpointPair, n)
	for i := range alpha {
		alpha[i] = alphaEndpointPair{rng.Intn(256), rng.Intn(256)}
	}
	for _, w := range remapWeights {
		if remap := remapAlphaEndpoints(alpha, hist, hist.mostFrequent(), w); !isPermutation(remap) {
			t.Fatalf("remapAlphaEndpoints(w=%v): not a permutation: %v", w, remap)
		}
	}
	if remap := sortAlphaEndpoints(alpha); !isPermutation(remap) {
		t.Fatalf("sortAlphaEndpoints: not a permutation: %v", remap)
	}
}

func TestRemapColorEndpoints_FrequentPairsAdjacent(t *testing.T) {
	// Equal endpoints leave coding frequency as the only signal.
	const n = 6
	endpoints := make([]colorEndpointPair, n)
	hist := newCooccurrence(n)
	for range 50 {
		hist.add(0, 4)
		hist.add(4, 2)
	}
	hist.add(1, 3)
	hist.add(3, 5)
	hist.finish()
	if got := hist.mostFrequent(); got != 4 {
		t.Fatalf("mostFrequent: got %d want 4", got)
	}
	remap := remapColorEndpoints(endpoints, hist, 4, 0)
	dist := func(a, b int) int {
		d := int(remap[a]) - int(remap[b])
		if d < 0 {
			d = -d
		}
		return d
	}
	if dist(0, 4) != 1 || dist(4, 2) != 1 {
		t.Fatalf("remapColorEndpoints: frequent pairs not adjacent: %v", remap)
	}
}

func TestCooccurrence_Rows(t *testing.T) {
	h := newCooccurrence(3)
	h.add(0, 1)
	h.add(0, 1)
	h.add(2, 1)
	h.finish()
	row := make([]uint32, 3)
	h.denseRow(row, 1)
	if row[0] != 2 || row[1] != 0 || row[2] != 1 {
		t.Fatalf("denseRow(1): got %v want [2 0 1]", row)
	}
	if h.sum[1] != 3 || h.mostFrequent() != 1 {
		t.Fatalf("sum: got %v, mostFrequent %d", h.sum, h.mostFrequent())
	}
}

func TestOrderSelectors_StartsFromZero(t *testing.T) {
	color := []uint32{0xFFFFFFFF, 0x00000001, 0x55555555, 0}
	remap := orderColorSelectors(color)
	if !isPermutation(remap) || remap[3] != 0 || remap[1] != 1 {
		t.Fatalf("orderColorSelectors: got %v", remap)
	}
	alpha := []uint64{0xFFFFFFFFFFFF, 0, 1}
	remap = orderAlphaSelectors(alpha)
	if !isPermutation(remap) || remap[1] != 0 || remap[2] != 1 || remap[0] != 2 {
		t.Fatalf("orderAlphaSelectors: got %v", remap)
	}
}

func encodeResult(t *testing.T, f Format, bw, bh int, blocks []Block) *packer {
	t.Helper()
	p, err := DefaultParams(f)
	if err != nil {
		t.Fatalf("DefaultParams: %v", err)
	}
	p.ColorEndpointCodebookSize = 24
	p.ColorSelectorCodebookSize = 24
	p.AlphaEndpointCodebookSize = 24
	p.AlphaSelectorCodebookSize = 24
	info, _ := FormatInfo(f)
	level := LevelParams{NumBlocks: bw * bh, BlockWidth: bw, Weight: 1}
	if info.ETC {
		level.NumBlocks *= 2
		level.BlockWidth *= 2
	}
	p.Levels = []LevelParams{level}
	pool, err := taskpool.New(2)
	if err != nil {
		t.Fatalf("taskpool.New: %v", err)
	}
	defer pool.Close()

	var c Compressor
	prog := newProgress(nil)
	res, err := c.compress(blocks, p, pool, &prog)
	if err != nil {
		t.Fatalf("compress(%v): %v", f, err)
	}
	pk := newPacker(res, p.Levels, info)
	if info.HasColor {
		if err := pk.optimizeColor(pool); err != nil {
			t.Fatalf("optimizeColor(%v): %v", f, err)
		}
	}
	if info.AlphaChannels > 0 {
		if err := pk.optimizeAlpha(pool); err != nil {
			t.Fatalf("optimizeAlpha(%v): %v", f, err)
		}
	}
	return pk
}

func TestOptimize_PicksCheapestTrial(t *testing.T) {
	for _, f := range []Format{FormatDXT5, FormatETC1} {
		pk := encodeResult(t, f, 8, 8, randomBlocks(64, 21))

		cost, err := pk.endpointCost(pk.endpointRemap[0], []int{compColor}, len(pk.packedColorEndpoints))
		if err != nil {
			t.Fatalf("endpointCost(%v): %v", f, err)
		}
		for i, bits := range pk.colorTrials {
			if bits < cost {
				t.Fatalf("%v color trial %d costs %d, chosen costs %d", f, i, bits, cost)
			}
		}
		if !isPermutation(pk.endpointRemap[0]) || !isPermutation(pk.selectorRemap[0]) {
			t.Fatalf("%v: color remaps are not permutations", f)
		}
		if f == FormatDXT5 {
			cost, err := pk.endpointCost(pk.endpointRemap[1], []int{compAlpha0}, len(pk.packedAlphaEndpoints))
			if err != nil {
				t.Fatalf("endpointCost(alpha): %v", err)
			}
			for i, bits := range pk.alphaTrials {
				if bits < cost {
					t.Fatalf("alpha trial %d costs %d, chosen costs %d", i, bits, cost)
				}
			}
		}
	}
}

func TestPackAllBlocks_LevelsAndModels(t *testing.T) {
	pk := encodeResult(t, FormatDXNXY, 8, 4, randomBlocks(32, 2))
	if err := pk.packAllBlocks(); err != nil {
		t.Fatalf("packAllBlocks: %v", err)
	}
	if err := pk.packDataModels(); err != nil {
		t.Fatalf("packDataModels: %v", err)
	}
	if len(pk.packedBlocks) != 1 || len(pk.packedBlocks[0]) == 0 || len(pk.packedModels) == 0 {
		t.Fatalf("packed sizes: blocks %d models %d", len(pk.packedBlocks), len(pk.packedModels))
	}
	var refs uint32
	for _, n := range pk.referenceHist {
		refs += n
	}
	if refs != 32/4 {
		t.Fatalf("reference groups: got %d want %d", refs, 32/4)
	}
	if pk.endpointModel[0] != nil || pk.endpointModel[1] == nil {
		t.Fatalf("DXN models: color %v alpha %v", pk.endpointModel[0], pk.endpointModel[1])
	}
}
