// Package gpucore defines the device abstraction shared by the gpufilter
// pipeline and its back ends.
//
// The filter core never talks to a graphics API directly. It creates
// buffers, shader modules, bind groups and compute pipelines through the
// [Device] interface, records passes on a [CommandEncoder] and reads the
// result back with [Device.MapRead]. Back ends translate these calls:
//
//	               +------------------+
//	               |    gpufilter     |
//	               | (plan, executor) |
//	               +--------+---------+
//	                        |
//	                 gpucore.Device
//	                        |
//	     +------------------+-------------------+
//	     |                  |                   |
//	+----v-----+     +------v------+     +------v-----+
//	|  native  |     | wgpunative  |     |  software  |
//	| wgpu HAL |     |  wgpu-native|     | CPU kernels|
//	+----------+     +-------------+     +------------+
//
// # Resource lifecycle
//
// Resources are identified by opaque IDs. Every Create call must be paired
// with the matching Destroy call; IDs are never reused after destruction.
// Destroying a resource that a submitted command buffer still uses is
// undefined behavior on GPU back ends, so callers release resources only
// after the map callback of the submission that used them has run.
//
// # Errors
//
// Back ends wrap [ErrAllocation] and [ErrExecution] so callers can classify
// failures with errors.Is regardless of the back end in use.
package gpucore
