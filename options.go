package gpufilter

import "log/slog"

// DefaultBufferAlignment is the byte multiple image buffers are padded to.
// Buffer copies require sizes that are a multiple of 4.
const DefaultBufferAlignment = 4

// Option configures a single ProcessImage or Filter call.
type Option func(*options)

type options struct {
	logger    *slog.Logger
	alignment uint64

	// validate is nil when the device decides: shaders are reflected
	// whenever the device consumes WGSL or SPIR-V.
	validate *bool
}

func defaultOptions() options {
	return options{alignment: DefaultBufferAlignment}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) log() *slog.Logger {
	if o.logger != nil {
		return o.logger
	}
	return Logger()
}

// WithLogger overrides the package logger for one call.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithBufferAlignment pads image buffers to a multiple of n bytes. The
// padding is zero-filled and stripped from the result. n is rounded up to a
// multiple of 4; zero restores the default.
func WithBufferAlignment(n uint64) Option {
	return func(o *options) {
		if n == 0 {
			n = DefaultBufferAlignment
		}
		o.alignment = (n + 3) &^ 3
	}
}

// WithShaderValidation forces naga reflection of every program on or off.
// Reflection checks that the entry point exists, is a compute stage and
// declares the kernel's workgroup size.
func WithShaderValidation(on bool) Option {
	return func(o *options) { o.validate = &on }
}
