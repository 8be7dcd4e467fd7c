package gpucore

import "github.com/gogpu/gputypes"

// Resource IDs
//
// These opaque IDs represent device resources. Each back end maintains a
// mapping between IDs and its actual resources.

// BufferID is an opaque handle to a device buffer.
type BufferID uint64

// ShaderModuleID is an opaque handle to a compiled shader module.
type ShaderModuleID uint64

// ComputePipelineID is an opaque handle to a compute pipeline.
type ComputePipelineID uint64

// BindGroupLayoutID is an opaque handle to a bind group layout.
type BindGroupLayoutID uint64

// BindGroupID is an opaque handle to a bind group.
type BindGroupID uint64

// PipelineLayoutID is an opaque handle to a pipeline layout.
type PipelineLayoutID uint64

// InvalidID is the zero value, representing an invalid/null resource.
const InvalidID = 0

// BufferUsage is a bitmask specifying how a buffer will be used.
// The bit values are shared with gputypes so native back ends pass them
// through unchanged.
type BufferUsage = gputypes.BufferUsage

// Buffer usage flags used by the filter pipeline.
const (
	BufferUsageMapRead = gputypes.BufferUsageMapRead
	BufferUsageCopySrc = gputypes.BufferUsageCopySrc
	BufferUsageCopyDst = gputypes.BufferUsageCopyDst
	BufferUsageUniform = gputypes.BufferUsageUniform
	BufferUsageStorage = gputypes.BufferUsageStorage
)

// BindingType specifies the type of a shader binding.
type BindingType uint32

// Binding types.
const (
	// BindingTypeUniformBuffer is a uniform buffer binding.
	BindingTypeUniformBuffer BindingType = iota + 1

	// BindingTypeStorageBuffer is a storage buffer binding (read-write).
	BindingTypeStorageBuffer

	// BindingTypeReadOnlyStorageBuffer is a read-only storage buffer binding.
	BindingTypeReadOnlyStorageBuffer
)

// String returns the WGSL-style name of the binding type.
func (t BindingType) String() string {
	switch t {
	case BindingTypeUniformBuffer:
		return "uniform"
	case BindingTypeStorageBuffer:
		return "storage"
	case BindingTypeReadOnlyStorageBuffer:
		return "read-only-storage"
	default:
		return "unknown"
	}
}

// Writable reports whether a shader may write through a binding of this type.
func (t BindingType) Writable() bool { return t == BindingTypeStorageBuffer }

// ShaderFormat is a bitmask of the shader representations a device consumes.
type ShaderFormat uint32

// Shader formats.
const (
	// ShaderFormatWGSL means the device compiles WGSL source itself.
	ShaderFormatWGSL ShaderFormat = 1 << iota

	// ShaderFormatSPIRV means the device expects SPIR-V words.
	ShaderFormatSPIRV

	// ShaderFormatHost means the device runs the Go form of a kernel.
	ShaderFormatHost
)

// Bindings holds the byte contents of every buffer bound for one dispatch,
// indexed by binding number. Host kernels read and write through it.
type Bindings [][]byte

// HostKernel is the CPU form of a compute entry point. It is called once per
// invocation with the global invocation ID. Invocations of one dispatch may
// run concurrently and must only write the output elements they own.
type HostKernel func(id [3]uint32, b Bindings)

// BufferDesc describes a buffer.
type BufferDesc struct {
	// Label is an optional debug label.
	Label string

	// Size is the buffer size in bytes.
	Size uint64

	// Usage is the set of allowed usages.
	Usage BufferUsage
}

// ShaderModuleDesc describes a shader module. A back end uses the first
// representation it understands; see [AdapterInfo.ShaderFormats].
type ShaderModuleDesc struct {
	// Label is an optional debug label.
	Label string

	// WGSL is the shader source.
	WGSL string

	// SPIRV is the compiled form of WGSL, if available.
	SPIRV []uint32

	// Host is the CPU form of the module's entry point.
	Host HostKernel

	// Workgroup is the workgroup size Host is dispatched with. GPU back
	// ends take it from the shader and ignore this field.
	Workgroup [3]uint32
}

// ComputePipelineDesc describes a compute pipeline.
type ComputePipelineDesc struct {
	// Label is an optional debug label.
	Label string

	// Layout is the pipeline layout.
	Layout PipelineLayoutID

	// ShaderModule contains the compute shader.
	ShaderModule ShaderModuleID

	// EntryPoint is the name of the shader entry point function.
	EntryPoint string
}

// BindGroupLayoutDesc describes a bind group layout.
type BindGroupLayoutDesc struct {
	// Label is an optional debug label.
	Label string

	// Entries defines the bindings in this layout.
	Entries []BindGroupLayoutEntry
}

// BindGroupLayoutEntry describes a single binding in a bind group layout.
// All bindings are visible to the compute stage.
type BindGroupLayoutEntry struct {
	// Binding is the binding index.
	Binding uint32

	// Type is the type of resource bound at this index.
	Type BindingType
}

// PipelineLayoutDesc describes a pipeline layout.
type PipelineLayoutDesc struct {
	// Label is an optional debug label.
	Label string

	// BindGroupLayouts lists the layouts in group order.
	BindGroupLayouts []BindGroupLayoutID
}

// BindGroupEntry describes a single binding in a bind group.
type BindGroupEntry struct {
	// Binding is the binding index.
	Binding uint32

	// Buffer is the buffer to bind.
	Buffer BufferID

	// Offset is the offset into the buffer.
	Offset uint64

	// Size is the size of the buffer range to bind.
	// Use 0 to bind the entire buffer from offset.
	Size uint64
}

// BindGroupDesc describes a bind group.
type BindGroupDesc struct {
	// Label is an optional debug label.
	Label string

	// Layout is the bind group layout.
	Layout BindGroupLayoutID

	// Entries are the resource bindings.
	Entries []BindGroupEntry
}

// Limits describes the device limits the filter pipeline depends on.
type Limits struct {
	// MaxBufferSize is the maximum buffer size in bytes.
	MaxBufferSize uint64

	// MaxStorageBufferBindingSize is the maximum storage buffer binding size.
	MaxStorageBufferBindingSize uint64

	// MaxComputeWorkgroupSizeX is the maximum workgroup size in X dimension.
	MaxComputeWorkgroupSizeX uint32

	// MaxComputeWorkgroupSizeY is the maximum workgroup size in Y dimension.
	MaxComputeWorkgroupSizeY uint32

	// MaxComputeWorkgroupSizeZ is the maximum workgroup size in Z dimension.
	MaxComputeWorkgroupSizeZ uint32

	// MaxComputeInvocationsPerWorkgroup is the maximum total invocations per workgroup.
	MaxComputeInvocationsPerWorkgroup uint32

	// MaxComputeWorkgroupsPerDimension is the maximum workgroups per dispatch dimension.
	MaxComputeWorkgroupsPerDimension uint32
}

// DefaultLimits returns the limits every WebGPU implementation guarantees.
func DefaultLimits() Limits {
	return Limits{
		MaxBufferSize:                     256 << 20,
		MaxStorageBufferBindingSize:       128 << 20,
		MaxComputeWorkgroupSizeX:          256,
		MaxComputeWorkgroupSizeY:          256,
		MaxComputeWorkgroupSizeZ:          64,
		MaxComputeInvocationsPerWorkgroup: 256,
		MaxComputeWorkgroupsPerDimension:  65535,
	}
}

// AdapterInfo describes the adapter behind a device.
type AdapterInfo struct {
	// Name is the adapter name reported by the driver.
	Name string

	// Backend names the back end ("vulkan", "wgpu-native", "software").
	Backend string

	// DeviceType is the kind of adapter.
	DeviceType gputypes.DeviceType

	// ShaderFormats lists the shader representations the device consumes.
	ShaderFormats ShaderFormat
}

// Accepts reports whether the device consumes the given shader format.
func (i AdapterInfo) Accepts(f ShaderFormat) bool { return i.ShaderFormats&f != 0 }
