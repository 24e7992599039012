package main

import (
	"bytes"
	"flag"
	"fmt"
	"image"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/image/draw"

	"github.com/crunch-go/crunch/crn"
	"github.com/crunch-go/crunch/internal/config"

	_ "github.com/ftrvxmtrx/tga"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "image/jpeg"
	_ "image/png"
)

func main() {
	var (
		inPath   string
		outPath  string
		cfgPath  string
		format   string
		quality  int
		mips     int
		helpers  int
		alpha    string
		linear   bool
		dumpInfo bool
		verbose  bool
	)
	flag.StringVar(&inPath, "in", "", "input image, or 6 comma-separated cube faces (+X,-X,+Y,-Y,+Z,-Z)")
	flag.StringVar(&outPath, "out", "", "output .crn file")
	flag.StringVar(&cfgPath, "config", "", "optional TOML config file")
	flag.StringVar(&format, "format", "", "block format: dxt1|dxt5|dxt5a|dxn_xy|dxn_yx|etc1|etc2|etc2a")
	flag.IntVar(&quality, "quality", -1, "quality level 0..255")
	flag.IntVar(&mips, "mips", 0, "maximum mip levels (0 = full chain)")
	flag.IntVar(&helpers, "helpers", -1, "worker goroutines besides the caller (-1 = one per CPU)")
	flag.StringVar(&alpha, "alpha", "", "alpha source channel: r|g|b|a")
	flag.BoolVar(&linear, "linear", false, "disable perceptual color weighting")
	flag.BoolVar(&dumpInfo, "info", false, "print .crn header info and exit")
	flag.BoolVar(&verbose, "v", false, "debug logging")
	flag.Parse()

	if inPath == "" {
		fmt.Fprintln(os.Stderr, "usage: crunchgo -in <input> -out <output.crn> [-format dxt1] [-quality 128] [-config file.toml]")
		fmt.Fprintln(os.Stderr, "       crunchgo -info -in <file.crn>")
		os.Exit(2)
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
		Prefix:          "crunchgo",
	})
	if verbose {
		logger.SetLevel(log.DebugLevel)
	}
	crn.SetLogger(logger)

	if dumpInfo {
		data, err := os.ReadFile(inPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		h, err := crn.ParseHeader(data)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(h.String())
		for l := 0; l < int(h.Levels); l++ {
			fmt.Printf("level %d: %d bytes\n", l, len(h.LevelData(data, l)))
		}
		return
	}

	if outPath == "" {
		fmt.Fprintln(os.Stderr, "missing -out")
		os.Exit(2)
	}

	var cfg config.Config
	if cfgPath != "" {
		c, err := config.Load(cfgPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		cfg = c
	}
	cfg.Resolve(config.Flags{
		Format:  format,
		Quality: quality,
		Mips:    mips,
		Linear:  linear,
		Alpha:   alpha,
		Helpers: helpers,
	})
	opts, err := cfg.EncodeOptions()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	paths := strings.Split(inPath, ",")
	if len(paths) != 1 && len(paths) != crn.MaxFaces {
		fmt.Fprintf(os.Stderr, "-in: got %d faces (want 1 or %d)\n", len(paths), crn.MaxFaces)
		os.Exit(2)
	}
	for i, p := range paths {
		img, err := loadImage(p)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		b := img.Bounds()
		if i == 0 {
			opts.Width, opts.Height = b.Dx(), b.Dy()
		} else if b.Dx() != opts.Width || b.Dy() != opts.Height {
			fmt.Fprintf(os.Stderr, "%s: %dx%d does not match first face %dx%d\n", p, b.Dx(), b.Dy(), opts.Width, opts.Height)
			os.Exit(1)
		}
		opts.Faces = append(opts.Faces, mipChain(img, cfg.Mips))
	}

	opts.Progress = func(phase, totalPhases, subphase, subphaseTotal int) bool {
		logger.Debug("progress", "phase", phase, "of", totalPhases, "step", subphase, "steps", subphaseTotal)
		return true
	}

	data, stats, err := crn.EncodeWithStats(&opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger.Info("wrote "+outPath,
		"format", opts.Format,
		"size", fmt.Sprintf("%dx%d", opts.Width, opts.Height),
		"levels", len(opts.Faces[0]),
		"bytes", stats.TotalBytes,
		"bpp", fmt.Sprintf("%.3f", stats.BitsPerTexel),
		"elapsed", stats.Elapsed.Round(time.Millisecond),
	)
	logger.Debug("codebooks",
		"color_endpoints", stats.ColorEndpoints,
		"color_selectors", stats.ColorSelectors,
		"alpha_endpoints", stats.AlphaEndpoints,
		"alpha_selectors", stats.AlphaSelectors,
		"tables", stats.TablesBytes,
	)
}

func loadImage(path string) (image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// mipChain returns img as NRGBA followed by its downsampled levels, each
// max(1, w>>l) by max(1, h>>l). maxLevels of zero builds the full chain.
func mipChain(img image.Image, maxLevels int) []image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	levels := 1
	for max(w, h)>>levels > 0 {
		levels++
	}
	levels = min(levels, crn.MaxLevels)
	if maxLevels > 0 {
		levels = min(levels, maxLevels)
	}

	top := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(top, top.Bounds(), img, b.Min, draw.Src)
	chain := []image.Image{top}
	for l := 1; l < levels; l++ {
		dst := image.NewNRGBA(image.Rect(0, 0, max(1, w>>l), max(1, h>>l)))
		draw.CatmullRom.Scale(dst, dst.Bounds(), top, top.Bounds(), draw.Src, nil)
		chain = append(chain, dst)
	}
	return chain
}
