package main

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	// Register decoders for image.Decode.
	_ "image/gif"
	_ "image/jpeg"

	"github.com/gogpu/gpufilter"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	extRaw     = ".rgba"
	extRawZstd = ".rgba.zst"
)

// rawKind reports whether path names a raw dump and whether it is
// zstd-compressed.
func rawKind(path string) (raw, compressed bool) {
	p := strings.ToLower(path)
	switch {
	case strings.HasSuffix(p, extRawZstd):
		return true, true
	case strings.HasSuffix(p, extRaw):
		return true, false
	}
	return false, false
}

// parseSize parses WIDTHxHEIGHT.
func parseSize(s string) (w, h uint32, err error) {
	ws, hs, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, fmt.Errorf("size %q is not WIDTHxHEIGHT", s)
	}
	wv, err := strconv.ParseUint(ws, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("size %q: %w", s, err)
	}
	hv, err := strconv.ParseUint(hs, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("size %q: %w", s, err)
	}
	if wv == 0 || hv == 0 {
		return 0, 0, fmt.Errorf("size %q must be positive", s)
	}
	return uint32(wv), uint32(hv), nil
}

func readInput(path, size string) (gpufilter.PixelBuffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return gpufilter.PixelBuffer{}, err
	}
	defer f.Close()

	raw, compressed := rawKind(path)
	if !raw {
		img, format, err := image.Decode(bufio.NewReader(f))
		if err != nil {
			return gpufilter.PixelBuffer{}, fmt.Errorf("decode %s: %w", path, err)
		}
		pb, err := gpufilter.PixelBufferFromImage(img)
		if err != nil {
			return gpufilter.PixelBuffer{}, fmt.Errorf("%s: %s image: %w", path, format, err)
		}
		return pb, nil
	}

	if size == "" {
		return gpufilter.PixelBuffer{}, errors.New("raw input needs -size")
	}
	w, h, err := parseSize(size)
	if err != nil {
		return gpufilter.PixelBuffer{}, err
	}
	return readRaw(f, compressed, w, h)
}

func readRaw(r io.Reader, compressed bool, w, h uint32) (gpufilter.PixelBuffer, error) {
	if compressed {
		dec, err := zstd.NewReader(r)
		if err != nil {
			return gpufilter.PixelBuffer{}, err
		}
		defer dec.Close()
		r = dec
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return gpufilter.PixelBuffer{}, fmt.Errorf("read raw pixels: %w", err)
	}
	return gpufilter.PixelBufferFromBytes(w, h, data)
}

func writeRaw(w io.Writer, compressed bool, pb gpufilter.PixelBuffer) error {
	if !compressed {
		_, err := w.Write(pb.Bytes())
		return err
	}
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return err
	}
	if _, err := enc.Write(pb.Bytes()); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

func encode(w io.Writer, path string, pb gpufilter.PixelBuffer) error {
	if raw, compressed := rawKind(path); raw {
		return writeRaw(w, compressed, pb)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".png":
		return png.Encode(w, pb.Image())
	case ".tif", ".tiff":
		return tiff.Encode(w, pb.Image(), &tiff.Options{Compression: tiff.Deflate, Predictor: true})
	case ".bmp":
		return bmp.Encode(w, pb.Image())
	default:
		return fmt.Errorf("unsupported output format %q", ext)
	}
}

func writeOutput(path string, pb gpufilter.PixelBuffer) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	bw := bufio.NewWriter(f)
	if err := encode(bw, path, pb); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return bw.Flush()
}
