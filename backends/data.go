package backends

import "github.com/gomlx/fusion/pkg/core/shapes"

// Buffer represents actual data (a tensor) stored in the device that is going to execute the kernels.
// It's used as input/output of kernel execution.
// A Buffer is always associated to a DeviceNum, even if there is only one.
//
// It is opaque from the fusion engine perspective: the engine only stores it in its handle table and
// passes it back to the backend methods.
type Buffer any

// DataInterface is the Backend's subinterface that defines the API to allocate Buffers and transfer them
// to/from devices.
type DataInterface interface {
	// NewBuffer allocates an uninitialized buffer with the given shape on the device.
	// Its contents are undefined until written by a kernel.
	NewBuffer(deviceNum DeviceNum, shape shapes.Shape) (Buffer, error)

	// BufferFinalize allows the client to inform backend that buffer is no longer needed and associated resources can be
	// freed immediately -- as opposed to waiting for a GC.
	//
	// A finalized buffer should never be used again. Preferably, the caller should set its references to it to nil.
	BufferFinalize(buffer Buffer) error

	// BufferShape returns the shape for the buffer.
	BufferShape(buffer Buffer) (shapes.Shape, error)

	// BufferDeviceNum returns the deviceNum for the buffer.
	BufferDeviceNum(buffer Buffer) (DeviceNum, error)

	// BufferToFlatData transfers the flat values of buffer to the Go flat array.
	// The slice flat must have the exact number of elements required to store the Buffer shape.
	//
	// See also BufferFromFlatData, BufferShape, and shapes.Shape.Size.
	BufferToFlatData(buffer Buffer, flat any) error

	// BufferFromFlatData transfers data from Go given as a flat slice (of the type corresponding to the shape DType)
	// to the deviceNum, and returns the corresponding Buffer.
	BufferFromFlatData(deviceNum DeviceNum, flat any, shape shapes.Shape) (Buffer, error)

	// BufferClone returns a new buffer, on the same device, with a copy of the contents of buffer.
	// The clone is independent: finalizing either one doesn't affect the other.
	BufferClone(buffer Buffer) (Buffer, error)

	// BufferToDevice moves the buffer to the device deviceNum of the same backend.
	// On success the source buffer is consumed and should not be used again.
	BufferToDevice(buffer Buffer, deviceNum DeviceNum) (Buffer, error)
}
