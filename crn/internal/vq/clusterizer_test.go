package vq_test

import (
	"math"
	"math/rand"
	"testing"

	"github.com/crunch-go/crunch/crn/internal/taskpool"
	"github.com/crunch-go/crunch/crn/internal/vq"
)

func randomVectors(rng *rand.Rand, n, dim int) ([][]float32, []uint32) {
	vectors := make([][]float32, n)
	weights := make([]uint32, n)
	for i := range vectors {
		v := make([]float32, dim)
		for d := range v {
			v[d] = rng.Float32()
		}
		vectors[i] = v
		weights[i] = uint32(rng.Intn(100) + 1)
	}
	return vectors, weights
}

func TestGenerate_DegenerateInputIsOneLeaf(t *testing.T) {
	vectors := make([][]float32, 100)
	weights := make([]uint32, 100)
	for i := range vectors {
		vectors[i] = []float32{.25, .5, .75}
		weights[i] = 3
	}
	c := vq.New()
	c.Generate(vectors, weights, 16, nil)
	if got := len(c.Codebook()); got != 1 {
		t.Fatalf("len(Codebook): got %d want 1", got)
	}
	for i := range vectors {
		if got := c.NodeIndex(i); got != 0 {
			t.Fatalf("NodeIndex(%d): got %d want 0", i, got)
		}
	}
	if got := c.Codebook()[0]; got[0] != .25 || got[1] != .5 || got[2] != .75 {
		t.Fatalf("centroid: got %v", got)
	}
}

func TestGenerate_CodebookBound(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	vectors, weights := randomVectors(rng, 1000, 3)
	for _, maxSize := range []int{1, 2, 37, 256} {
		c := vq.New()
		c.Generate(vectors, weights, maxSize, nil)
		if got := len(c.Codebook()); got != maxSize {
			t.Fatalf("len(Codebook) for max %d: got %d", maxSize, got)
		}
	}
	c := vq.New()
	c.Generate(vectors[:5], weights[:5], 64, nil)
	if got := len(c.Codebook()); got > 5 {
		t.Fatalf("len(Codebook) for 5 vectors: got %d", got)
	}
}

func TestGenerate_LeafCentroidsAreWeightedMeans(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	vectors, weights := randomVectors(rng, 600, 4)
	c := vq.New()
	c.Generate(vectors, weights, 20, nil)

	cb := c.Codebook()
	sums := make([][]float64, len(cb))
	wsum := make([]float64, len(cb))
	for i := range sums {
		sums[i] = make([]float64, 4)
	}
	for i, v := range vectors {
		k := c.NodeIndex(i)
		if k < 0 || k >= len(cb) {
			t.Fatalf("NodeIndex(%d): got %d want < %d", i, k, len(cb))
		}
		wsum[k] += float64(weights[i])
		for d, x := range v {
			sums[k][d] += float64(weights[i]) * float64(x)
		}
	}
	for k := range cb {
		if wsum[k] == 0 {
			t.Fatalf("leaf %d owns no vectors", k)
		}
		for d := range cb[k] {
			if want := sums[k][d] / wsum[k]; math.Abs(float64(cb[k][d])-want) > 1e-5 {
				t.Fatalf("leaf %d dim %d: got %v want %v", k, d, cb[k][d], want)
			}
		}
	}
}

func TestGenerate_SameResultWithHelpers(t *testing.T) {
	rng := rand.New(rand.NewSource(21))
	vectors, weights := randomVectors(rng, 800, 3)

	serial := vq.New()
	serial.Generate(vectors, weights, 64, nil)

	pool, err := taskpool.New(3)
	if err != nil {
		t.Fatalf("taskpool.New: %v", err)
	}
	defer pool.Close()
	parallel := vq.New()
	parallel.Generate(vectors, weights, 64, pool)

	a, b := serial.Codebook(), parallel.Codebook()
	if len(a) != len(b) {
		t.Fatalf("len(Codebook): serial %d parallel %d", len(a), len(b))
	}
	for k := range a {
		for d := range a[k] {
			if a[k][d] != b[k][d] {
				t.Fatalf("entry %d: serial %v parallel %v", k, a[k], b[k])
			}
		}
	}
	for i := range vectors {
		if serial.NodeIndex(i) != parallel.NodeIndex(i) {
			t.Fatalf("NodeIndex(%d): serial %d parallel %d", i, serial.NodeIndex(i), parallel.NodeIndex(i))
		}
	}
}

func TestGenerate_LargeInputWithPool(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	vectors, weights := randomVectors(rng, 5000, 6)
	pool, err := taskpool.New(2)
	if err != nil {
		t.Fatalf("taskpool.New: %v", err)
	}
	defer pool.Close()
	c := vq.New()
	c.Generate(vectors, weights, 100, pool)
	if got := len(c.Codebook()); got != 100 {
		t.Fatalf("len(Codebook): got %d want 100", got)
	}
}

func TestSplitVectors_TwoGroups(t *testing.T) {
	var vectors [][]float32
	var weights []uint32
	for i := 0; i < 10; i++ {
		vectors = append(vectors, []float32{0, 0, float32(i) * .001})
		vectors = append(vectors, []float32{1, 1, 1 - float32(i)*.001})
		weights = append(weights, 1, 1)
	}
	got := vq.SplitVectors(vectors, weights)
	lo, hi := got[0], got[1]
	if lo[0] > hi[0] {
		lo, hi = hi, lo
	}
	if lo[0] > .01 || hi[0] < .99 {
		t.Fatalf("SplitVectors: got %v %v", got[0], got[1])
	}

	same := vq.SplitVectors([][]float32{{.5}, {.5}}, []uint32{1, 1})
	if same[0][0] != .5 || same[1][0] != .5 {
		t.Fatalf("SplitVectors(identical): got %v", same)
	}
}
