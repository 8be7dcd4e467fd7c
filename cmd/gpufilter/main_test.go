package main

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gogpu/gpufilter"
)

func testBuffer() gpufilter.PixelBuffer {
	pb := gpufilter.NewPixelBuffer(3, 2)
	for i := range pb.Pix {
		pb.Pix[i] = gpufilter.PackRGBA(uint8(i*40), uint8(255-i*40), 7, 255)
	}
	return pb
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		w, h    uint32
		wantErr bool
	}{
		{"640x480", 640, 480, false},
		{"1X1", 1, 1, false},
		{"0x10", 0, 0, true},
		{"640", 0, 0, true},
		{"ax2", 0, 0, true},
		{"2x-1", 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			w, h, err := parseSize(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseSize(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if w != tt.w || h != tt.h {
				t.Errorf("parseSize(%q) = %dx%d, want %dx%d", tt.in, w, h, tt.w, tt.h)
			}
		})
	}
}

func TestRawKind(t *testing.T) {
	tests := []struct {
		path            string
		raw, compressed bool
	}{
		{"frame.rgba", true, false},
		{"frame.RGBA.ZST", true, true},
		{"frame.png", false, false},
		{"frame.zst", false, false},
	}
	for _, tt := range tests {
		raw, compressed := rawKind(tt.path)
		if raw != tt.raw || compressed != tt.compressed {
			t.Errorf("rawKind(%q) = %v, %v; want %v, %v", tt.path, raw, compressed, tt.raw, tt.compressed)
		}
	}
}

func TestBuildKernel(t *testing.T) {
	tests := []struct {
		name, chain string
		repeat      uint
		want        string
		passes      uint32
		wantErr     bool
	}{
		{name: "invert", repeat: 1, want: "invert", passes: 1},
		{name: "box-blur-3x3", repeat: 3, want: "box-blur-3x3*3", passes: 3},
		{chain: "grayscale, laplace-3x3", repeat: 1, want: "grayscale+laplace-3x3", passes: 2},
		{chain: "invert,identity", repeat: 2, want: "invert+identity*2", passes: 4},
		{name: "sharpen", repeat: 1, wantErr: true},
		{chain: "invert,nope", repeat: 1, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name+tt.chain, func(t *testing.T) {
			k, err := buildKernel(tt.name, tt.chain, tt.repeat)
			if (err != nil) != tt.wantErr {
				t.Fatalf("buildKernel error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if k.Name() != tt.want || k.PassCount() != tt.passes {
				t.Errorf("kernel = %s with %d passes, want %s with %d", k.Name(), k.PassCount(), tt.want, tt.passes)
			}
		})
	}
}

func TestRawRoundTrip(t *testing.T) {
	pb := testBuffer()
	for _, compressed := range []bool{false, true} {
		var buf bytes.Buffer
		if err := writeRaw(&buf, compressed, pb); err != nil {
			t.Fatalf("writeRaw(compressed=%v) error: %v", compressed, err)
		}
		got, err := readRaw(&buf, compressed, pb.Width, pb.Height)
		if err != nil {
			t.Fatalf("readRaw(compressed=%v) error: %v", compressed, err)
		}
		if !bytes.Equal(got.Bytes(), pb.Bytes()) {
			t.Errorf("raw round trip (compressed=%v) changed pixels", compressed)
		}
	}
}

func TestReadRawWrongSize(t *testing.T) {
	var buf bytes.Buffer
	if err := writeRaw(&buf, false, testBuffer()); err != nil {
		t.Fatal(err)
	}
	if _, err := readRaw(&buf, false, 4, 4); err == nil {
		t.Error("readRaw with the wrong size succeeded")
	}
}

func TestImageFormatsRoundTrip(t *testing.T) {
	pb := testBuffer()
	dir := t.TempDir()
	for _, name := range []string{"out.png", "out.tiff", "out.bmp", "out.rgba.zst"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			if err := writeOutput(path, pb); err != nil {
				t.Fatalf("writeOutput error: %v", err)
			}
			got, err := readInput(path, "3x2")
			if err != nil {
				t.Fatalf("readInput error: %v", err)
			}
			if !bytes.Equal(got.Bytes(), pb.Bytes()) {
				t.Errorf("%s round trip changed pixels", name)
			}
		})
	}
}

func TestWriteOutputUnsupported(t *testing.T) {
	err := writeOutput(filepath.Join(t.TempDir(), "out.xyz"), testBuffer())
	if err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Errorf("writeOutput(.xyz) error = %v, want unsupported format", err)
	}
}

func TestParseFlags(t *testing.T) {
	if _, err := parseFlags(nil); err == nil {
		t.Error("parseFlags without -in succeeded")
	}
	if _, err := parseFlags([]string{"-in", "a.png", "-repeat", "0"}); err == nil {
		t.Error("parseFlags with -repeat 0 succeeded")
	}
	c, err := parseFlags([]string{"-list"})
	if err != nil || !c.list {
		t.Errorf("parseFlags(-list) = %+v, %v", c, err)
	}
}

func TestParseFlags_Validate(t *testing.T) {
	tests := []struct {
		args     []string
		set      bool
		validate bool
		opts     int
	}{
		{[]string{"-in", "a.png"}, false, false, 1},
		{[]string{"-in", "a.png", "-validate"}, true, true, 2},
		{[]string{"-in", "a.png", "-validate=false"}, true, false, 2},
	}
	for _, tt := range tests {
		c, err := parseFlags(tt.args)
		if err != nil {
			t.Fatalf("parseFlags(%v) error: %v", tt.args, err)
		}
		if c.validateSet != tt.set || c.validate != tt.validate {
			t.Errorf("parseFlags(%v): validateSet=%v validate=%v, want %v %v",
				tt.args, c.validateSet, c.validate, tt.set, tt.validate)
		}
		if got := len(filterOptions(c)); got != tt.opts {
			t.Errorf("filterOptions(%v) returned %d options, want %d", tt.args, got, tt.opts)
		}
	}
}

func TestRunInvertsPNG(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.png")
	out := filepath.Join(dir, "out.png")

	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for y := range 4 {
		for x := range 4 {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 60), G: uint8(y * 60), B: 10, A: 200})
		}
	}
	f, err := os.Create(in)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	c := config{in: in, out: out, kernel: "invert", repeat: 1, backend: "software"}
	if err := run(context.Background(), c, &bytes.Buffer{}); err != nil {
		t.Fatalf("run error: %v", err)
	}

	got, err := readInput(out, "")
	if err != nil {
		t.Fatalf("readInput(out) error: %v", err)
	}
	r, g, b, a := gpufilter.UnpackRGBA(got.At(3, 2))
	if r != 255-180 || g != 255-120 || b != 245 || a != 55 {
		t.Errorf("pixel (3,2) = %d,%d,%d,%d, want 75,135,245,55", r, g, b, a)
	}
}

func TestRunList(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), config{list: true}, &out); err != nil {
		t.Fatalf("run(-list) error: %v", err)
	}
	for _, want := range []string{"gaussian-7x7", "software"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("list output missing %q:\n%s", want, out.String())
		}
	}
}
