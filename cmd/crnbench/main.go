package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"hash/fnv"
	"image"
	"os"
	"runtime"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/crunch-go/crunch/crn"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "encode":
		encodeCmd(os.Args[2:])
	case "verify":
		verifyCmd(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  crnbench encode -w W -h H [-format dxt1|dxt5|dxt5a|dxn_xy|dxn_yx|etc1|etc2|etc2a] [-quality 0..255] [-mips N] [-helpers N] [-iters N] [-out file.crn] [-checksum fnv|none]")
	fmt.Fprintln(os.Stderr, "  crnbench verify -in <file.crn> [-iters N]")
}

func encodeCmd(args []string) {
	fs := flag.NewFlagSet("encode", flag.ExitOnError)
	var (
		width       int
		height      int
		format      string
		quality     int
		mips        int
		helpers     int
		iters       int
		outPath     string
		checksumOpt string
		cpuprofile  string
		memprofile  string
		memprofRate int
	)
	fs.IntVar(&width, "w", 256, "width")
	fs.IntVar(&height, "h", 256, "height")
	fs.StringVar(&format, "format", "dxt1", "block format")
	fs.IntVar(&quality, "quality", 128, "quality level 0..255")
	fs.IntVar(&mips, "mips", 1, "mip levels")
	fs.IntVar(&helpers, "helpers", runtime.NumCPU()-1, "worker goroutines besides the caller")
	fs.IntVar(&iters, "iters", 5, "iterations")
	fs.StringVar(&outPath, "out", "", "optional output .crn path (writes last iteration)")
	fs.StringVar(&checksumOpt, "checksum", "fnv", "checksum: fnv|none (for benchmarking)")
	fs.StringVar(&cpuprofile, "cpuprofile", "", "optional CPU profile output path")
	fs.StringVar(&memprofile, "memprofile", "", "optional memory profile output path")
	fs.IntVar(&memprofRate, "memprofilerate", 0, "optional runtime.MemProfileRate override (0 = default)")
	_ = fs.Parse(args)

	if width <= 0 || height <= 0 || mips <= 0 {
		fmt.Fprintln(os.Stderr, "invalid dimensions")
		os.Exit(2)
	}
	if iters <= 0 {
		fmt.Fprintln(os.Stderr, "iters must be > 0")
		os.Exit(2)
	}
	f, err := crn.ParseFormat(format)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	chain := make([]image.Image, 0, mips)
	texels := 0
	for l := 0; l < mips; l++ {
		w, h := max(1, width>>l), max(1, height>>l)
		chain = append(chain, patternImage(w, h, l))
		texels += w * h
	}
	opts := &crn.EncodeOptions{
		Width:        width,
		Height:       height,
		Format:       f,
		Faces:        [][]image.Image{chain},
		QualityLevel: quality,
		Perceptual:   true,
		Helpers:      max(0, min(helpers, crn.MaxHelpers)),
	}

	if memprofRate > 0 {
		runtime.MemProfileRate = memprofRate
	}
	stop := startCPUProfile(cpuprofile)
	defer stop()

	start := time.Now()
	sum := fnv.New64a()
	doChecksum := strings.ToLower(strings.TrimSpace(checksumOpt)) != "none"
	var last []byte
	var stats *crn.Stats
	for i := 0; i < iters; i++ {
		out, st, err := crn.EncodeWithStats(opts)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		if doChecksum {
			_, _ = sum.Write(out)
		}
		last, stats = out, st
	}
	dur := time.Since(start)

	if memprofile != "" {
		writeHeapProfile(memprofile)
	}
	if outPath != "" {
		if err := os.WriteFile(outPath, last, 0o644); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	mpixPerS := float64(texels) * float64(iters) / dur.Seconds() / 1e6
	checksumStr := "none"
	if doChecksum {
		checksumStr = hex.EncodeToString(sum.Sum(nil))
	}
	fmt.Printf("RESULT mode=encode format=%s quality=%d size=%dx%d levels=%d helpers=%d iters=%d seconds=%.6f mpix/s=%.3f bytes=%d bpp=%.3f checksum=%s\n",
		f,
		quality,
		width, height,
		mips,
		opts.Helpers,
		iters,
		dur.Seconds(),
		mpixPerS,
		len(last),
		stats.BitsPerTexel,
		checksumStr,
	)
}

func verifyCmd(args []string) {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	var (
		inPath     string
		iters      int
		cpuprofile string
	)
	fs.StringVar(&inPath, "in", "", "input .crn file")
	fs.IntVar(&iters, "iters", 1000, "iterations")
	fs.StringVar(&cpuprofile, "cpuprofile", "", "optional CPU profile output path")
	_ = fs.Parse(args)

	if inPath == "" {
		fmt.Fprintln(os.Stderr, "missing -in")
		os.Exit(2)
	}
	if iters <= 0 {
		fmt.Fprintln(os.Stderr, "iters must be > 0")
		os.Exit(2)
	}
	data, err := os.ReadFile(inPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	stop := startCPUProfile(cpuprofile)
	defer stop()

	start := time.Now()
	var h crn.Header
	for i := 0; i < iters; i++ {
		h, err = crn.ParseHeader(data)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	dur := time.Since(start)

	mbPerS := float64(len(data)) * float64(iters) / dur.Seconds() / 1e6
	fmt.Printf("RESULT mode=verify format=%s size=%dx%d levels=%d faces=%d bytes=%d iters=%d seconds=%.6f mb/s=%.3f\n",
		h.Format,
		h.Width, h.Height,
		h.Levels,
		h.Faces,
		len(data),
		iters,
		dur.Seconds(),
		mbPerS,
	)
}

func startCPUProfile(path string) func() {
	if path == "" {
		return func() {}
	}
	f, err := os.Create(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		_ = f.Close()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return func() {
		pprof.StopCPUProfile()
		_ = f.Close()
	}
}

func writeHeapProfile(path string) {
	f, err := os.Create(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer f.Close()
	runtime.GC()
	if err := pprof.WriteHeapProfile(f); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// patternImage is a deterministic gradient with a checker overlay so that
// every tiling and codebook path sees some variety.
func patternImage(width, height, level int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			off := img.PixOffset(x, y)
			r := uint32(x*3 + y*5 + level*7)
			g := uint32(x*11 + y*13 + level*17)
			b := uint32(x ^ y ^ level)
			if (x>>3+y>>3)&1 == 1 {
				b += 96
			}
			a := 255 - uint32((x*5+y*7+level*3)&0xFF)
			img.Pix[off+0] = uint8(r)
			img.Pix[off+1] = uint8(g)
			img.Pix[off+2] = uint8(b)
			img.Pix[off+3] = uint8(a)
		}
	}
	return img
}
