package gpufilter

import (
	"log/slog"
	"testing"
)

func TestDefaultOptions(t *testing.T) {
	o := applyOptions(nil)
	if o.alignment != DefaultBufferAlignment {
		t.Errorf("alignment = %d, want %d", o.alignment, DefaultBufferAlignment)
	}
	if o.validate != nil {
		t.Error("validation should be decided by the device by default")
	}
	if o.log() != Logger() {
		t.Error("default options should log to the package logger")
	}
}

func TestWithBufferAlignment(t *testing.T) {
	tests := []struct {
		in, want uint64
	}{
		{0, DefaultBufferAlignment},
		{1, 4},
		{4, 4},
		{5, 8},
		{256, 256},
	}
	for _, tt := range tests {
		if got := applyOptions([]Option{WithBufferAlignment(tt.in)}).alignment; got != tt.want {
			t.Errorf("WithBufferAlignment(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestWithShaderValidation(t *testing.T) {
	for _, on := range []bool{true, false} {
		o := applyOptions([]Option{WithShaderValidation(on)})
		if o.validate == nil || *o.validate != on {
			t.Errorf("WithShaderValidation(%v) not applied", on)
		}
	}
}

func TestWithLogger(t *testing.T) {
	l := slog.New(nopHandler{})
	if got := applyOptions([]Option{WithLogger(l)}).log(); got != l {
		t.Error("WithLogger did not override the package logger")
	}
}

func TestAlignUp(t *testing.T) {
	tests := []struct {
		n, align, want uint64
	}{
		{0, 4, 0},
		{1, 4, 4},
		{60, 4, 60},
		{60, 256, 256},
		{257, 256, 512},
		{7, 1, 7},
		{7, 0, 7},
	}
	for _, tt := range tests {
		if got := alignUp(tt.n, tt.align); got != tt.want {
			t.Errorf("alignUp(%d, %d) = %d, want %d", tt.n, tt.align, got, tt.want)
		}
	}
}
