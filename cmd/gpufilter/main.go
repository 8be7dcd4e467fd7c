// Command gpufilter runs an image filter on a compute device.
//
// Usage:
//
//	gpufilter -in photo.png -out blurred.png -kernel gaussian-7x7 -repeat 3
//	gpufilter -in frame.rgba.zst -size 1920x1080 -out edges.tiff -chain grayscale,laplace-3x3
//	gpufilter -list
//
// Images are decoded as PNG, JPEG, GIF, BMP, TIFF or WebP. Raw input and
// output (.rgba, optionally zstd-compressed as .rgba.zst) hold packed
// RGBA8 pixels in row-major order; the size of a raw input is given with
// -size.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gogpu/gpufilter"
	"github.com/gogpu/gpufilter/backend"
	"github.com/gogpu/gpufilter/backend/native"
	"github.com/gogpu/gpufilter/gpucore"
)

type config struct {
	in, out  string
	size     string
	kernel   string
	chain    string
	repeat   uint
	backend  string
	align    uint64
	validate bool
	list     bool
	verbose  bool

	// validateSet records whether -validate was given; without it the
	// device decides.
	validateSet bool
}

func parseFlags(args []string) (config, error) {
	var c config
	fs := flag.NewFlagSet("gpufilter", flag.ContinueOnError)
	fs.StringVar(&c.in, "in", "", "input image or raw .rgba[.zst] file")
	fs.StringVar(&c.out, "out", "out.png", "output file (.png, .tif, .tiff, .bmp, .rgba, .rgba.zst)")
	fs.StringVar(&c.size, "size", "", "size of a raw input as WIDTHxHEIGHT")
	fs.StringVar(&c.kernel, "kernel", "invert", "built-in kernel name")
	fs.StringVar(&c.chain, "chain", "", "comma-separated kernels run in sequence (overrides -kernel)")
	fs.UintVar(&c.repeat, "repeat", 1, "number of times to apply the kernel")
	fs.StringVar(&c.backend, "backend", "", "back end name (empty picks the first that opens)")
	fs.Uint64Var(&c.align, "align", 0, "pad buffers to a multiple of this many bytes")
	fs.BoolVar(&c.validate, "validate", false, "validate WGSL against the kernel before dispatch")
	fs.BoolVar(&c.list, "list", false, "list kernels and back ends, then exit")
	fs.BoolVar(&c.verbose, "v", false, "log device and pass details to stderr")
	if err := fs.Parse(args); err != nil {
		return c, err
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "validate" {
			c.validateSet = true
		}
	})
	if !c.list && c.in == "" {
		return c, errors.New("missing -in")
	}
	if c.repeat == 0 {
		return c, errors.New("-repeat must be at least 1")
	}
	return c, nil
}

// buildKernel resolves -kernel or -chain and applies -repeat.
func buildKernel(name, chain string, repeat uint) (gpufilter.Kernel, error) {
	var k gpufilter.Kernel
	if chain != "" {
		var parts []gpufilter.Kernel
		for _, n := range strings.Split(chain, ",") {
			n = strings.TrimSpace(n)
			p, ok := gpufilter.KernelByName(n)
			if !ok {
				return gpufilter.Kernel{}, fmt.Errorf("unknown kernel %q", n)
			}
			parts = append(parts, p)
		}
		var err error
		if k, err = gpufilter.Chain(parts...); err != nil {
			return gpufilter.Kernel{}, err
		}
	} else {
		var ok bool
		if k, ok = gpufilter.KernelByName(name); !ok {
			return gpufilter.Kernel{}, fmt.Errorf("unknown kernel %q (see -list)", name)
		}
	}
	if repeat > 1 {
		return gpufilter.Repeat(k, uint32(repeat))
	}
	return k, nil
}

func openDevice(name string) (*gpufilter.DeviceContext, error) {
	return gpufilter.AcquireDevice(func() (gpucore.Device, error) {
		if name == "" {
			return backend.Default()
		}
		return backend.Open(name)
	})
}

// filterOptions turns flags into filter options. Shader validation is only
// forced when -validate was given explicitly.
func filterOptions(c config) []gpufilter.Option {
	opts := []gpufilter.Option{gpufilter.WithBufferAlignment(c.align)}
	if c.validateSet {
		opts = append(opts, gpufilter.WithShaderValidation(c.validate))
	}
	return opts
}

func listAll(w io.Writer) {
	fmt.Fprintln(w, "kernels:")
	for _, n := range gpufilter.KernelNames() {
		fmt.Fprintf(w, "  %s\n", n)
	}
	fmt.Fprintln(w, "back ends:")
	for _, n := range backend.Available() {
		fmt.Fprintf(w, "  %s\n", n)
	}
}

func run(ctx context.Context, c config, stdout io.Writer) error {
	if c.list {
		listAll(stdout)
		return nil
	}
	k, err := buildKernel(c.kernel, c.chain, c.repeat)
	if err != nil {
		return err
	}
	pb, err := readInput(c.in, c.size)
	if err != nil {
		return err
	}

	dc, err := openDevice(c.backend)
	if err != nil {
		return err
	}
	defer dc.Close()
	info := dc.Info()
	slog.Info("device", "name", info.Name, "backend", info.Backend)

	start := time.Now()
	out, err := gpufilter.Filter(ctx, dc, pb, k, filterOptions(c)...)
	if err != nil {
		return err
	}
	slog.Info("filtered", "kernel", k.Name(), "passes", k.PassCount(),
		"width", pb.Width, "height", pb.Height, "elapsed", time.Since(start))

	return writeOutput(c.out, out)
}

func main() {
	log.SetFlags(0)
	log.SetPrefix("gpufilter: ")

	c, err := parseFlags(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatal(err)
	}

	level := slog.LevelWarn
	if c.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	if c.verbose {
		gpufilter.SetLogger(logger)
		native.SetLogger(logger)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, c, os.Stdout); err != nil {
		stop()
		log.Fatal(err)
	}
}
