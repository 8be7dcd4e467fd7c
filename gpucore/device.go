package gpucore

// Device abstracts over the back ends that can run filter passes.
//
// Implementations must be safe for concurrent use: independent filter
// invocations share one Device without external locking.
//
// Resource lifecycle:
//   - Resources are created via Create* methods
//   - Resources must be explicitly destroyed via Destroy* methods
//   - Destroying a resource while in use is undefined behavior
//   - IDs become invalid after destruction and must not be reused
type Device interface {
	// === Capabilities ===

	// Info describes the adapter behind the device.
	Info() AdapterInfo

	// Limits returns the device limits.
	Limits() Limits

	// === Buffer Management ===

	// CreateBuffer creates a buffer. Sizes above the device limits or a
	// refused allocation yield an error wrapping ErrAllocation.
	CreateBuffer(desc *BufferDesc) (BufferID, error)

	// DestroyBuffer releases a buffer.
	DestroyBuffer(id BufferID)

	// WriteBuffer writes data to a buffer through the queue. The write is
	// ordered before every command buffer submitted afterwards.
	WriteBuffer(id BufferID, offset uint64, data []byte) error

	// MapRead maps a range of a map-read buffer once every previously
	// submitted command buffer has completed, and calls callback with a
	// host copy of the range. The callback runs on a back end goroutine
	// exactly once, either with data or with an error wrapping ErrExecution.
	MapRead(id BufferID, offset, size uint64, callback func(data []byte, err error))

	// === Shader and Pipeline Management ===

	// CreateShaderModule creates a shader module.
	CreateShaderModule(desc *ShaderModuleDesc) (ShaderModuleID, error)

	// DestroyShaderModule releases a shader module.
	DestroyShaderModule(id ShaderModuleID)

	// CreateBindGroupLayout creates a bind group layout.
	CreateBindGroupLayout(desc *BindGroupLayoutDesc) (BindGroupLayoutID, error)

	// DestroyBindGroupLayout releases a bind group layout.
	DestroyBindGroupLayout(id BindGroupLayoutID)

	// CreatePipelineLayout creates a pipeline layout.
	CreatePipelineLayout(desc *PipelineLayoutDesc) (PipelineLayoutID, error)

	// DestroyPipelineLayout releases a pipeline layout.
	DestroyPipelineLayout(id PipelineLayoutID)

	// CreateComputePipeline creates a compute pipeline.
	CreateComputePipeline(desc *ComputePipelineDesc) (ComputePipelineID, error)

	// DestroyComputePipeline releases a compute pipeline.
	DestroyComputePipeline(id ComputePipelineID)

	// CreateBindGroup creates a bind group.
	CreateBindGroup(desc *BindGroupDesc) (BindGroupID, error)

	// DestroyBindGroup releases a bind group.
	DestroyBindGroup(id BindGroupID)

	// === Command Recording and Execution ===

	// CreateCommandEncoder begins recording a command buffer.
	CreateCommandEncoder(label string) (CommandEncoder, error)

	// Submit submits a finished command buffer to the queue. Command
	// buffers execute in submission order.
	Submit(cmd CommandBuffer) error

	// Destroy releases the device and everything it still owns.
	Destroy()
}

// CommandEncoder records commands into a command buffer.
//
// Usage:
//  1. Obtain an encoder from Device.CreateCommandEncoder
//  2. Record compute passes and copies
//  3. Call Finish to obtain the command buffer
//  4. Call Device.Submit to execute it
//
// The encoder is single-use and cannot be reused after Finish.
type CommandEncoder interface {
	// BeginComputePass begins a compute pass.
	// The pass must be ended with ComputePassEncoder.End before any other
	// command is recorded.
	BeginComputePass(label string) ComputePassEncoder

	// CopyBufferToBuffer records a copy between two buffers.
	CopyBufferToBuffer(src BufferID, srcOffset uint64, dst BufferID, dstOffset uint64, size uint64)

	// Finish ends recording. Errors recorded by earlier calls surface here.
	Finish() (CommandBuffer, error)
}

// ComputePassEncoder records compute commands.
// The encoder is single-use and cannot be reused after End().
type ComputePassEncoder interface {
	// SetPipeline sets the active compute pipeline.
	SetPipeline(pipeline ComputePipelineID)

	// SetBindGroup sets a bind group at the specified index.
	SetBindGroup(index uint32, group BindGroupID)

	// Dispatch dispatches compute workgroups.
	// x, y, z are the number of workgroups in each dimension.
	Dispatch(x, y, z uint32)

	// End finishes the compute pass.
	End()
}

// CommandBuffer is a finished, submittable recording. Its concrete type is
// private to the back end that produced it.
type CommandBuffer interface {
	// Label returns the debug label given to the encoder.
	Label() string
}
