package simplego

import (
	"reflect"
	"strings"
	"sync"

	"github.com/gomlx/fusion/backends"
	"github.com/gomlx/fusion/pkg/core/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// Compile-time check:
var _ backends.DataInterface = (*Backend)(nil)

// Buffer for SimpleGo backend holds a shape, the (virtual) device and a reference to the flat data.
type Buffer struct {
	shape  shapes.Shape
	device backends.DeviceNum
	valid  bool

	// flat is always a slice of the underlying data type (shape.DType).
	flat any
}

type bufferPoolKey struct {
	dtype  dtypes.DType
	length int
}

// getBufferPool for given dtype/length.
func (b *Backend) getBufferPool(dtype dtypes.DType, length int) *sync.Pool {
	key := bufferPoolKey{dtype: dtype, length: length}
	poolInterface, ok := b.bufferPools.Load(key)
	if !ok {
		poolInterface, _ = b.bufferPools.LoadOrStore(key, &sync.Pool{
			New: func() interface{} {
				return &Buffer{
					flat:  reflect.MakeSlice(reflect.SliceOf(dtype.GoType()), length, length).Interface(),
					shape: shapes.Make(dtype, length),
				}
			},
		})
	}
	return poolInterface.(*sync.Pool)
}

// getBuffer from backend pool of buffers.
func (b *Backend) getBuffer(dtype dtypes.DType, length int) *Buffer {
	pool := b.getBufferPool(dtype, length)
	buf := pool.Get().(*Buffer)
	buf.valid = true
	b.liveBuffers.Add(1)
	return buf
}

// putBuffer back into the backend pool of buffers.
// After this any references to buffer should be dropped.
func (b *Backend) putBuffer(buffer *Buffer) {
	if buffer == nil || !buffer.shape.Ok() {
		return
	}
	buffer.valid = false
	b.liveBuffers.Add(-1)
	pool := b.getBufferPool(buffer.shape.DType, buffer.shape.Size())
	pool.Put(buffer)
}

// copyFlat assumes both flat slices are of the same underlying type.
func copyFlat(flatDst, flatSrc any) {
	reflect.Copy(reflect.ValueOf(flatDst), reflect.ValueOf(flatSrc))
}

// checkBuffer returns the *Buffer or an error describing why it is not usable.
func checkBuffer(backendBuffer backends.Buffer) (*Buffer, error) {
	buffer, ok := backendBuffer.(*Buffer)
	if !ok {
		return nil, errors.Errorf("buffer (%T) is not a %q backend buffer", backendBuffer, BackendName)
	}
	if buffer == nil || buffer.flat == nil || !buffer.shape.Ok() || !buffer.valid {
		var issues []string
		if buffer != nil {
			if buffer.flat == nil {
				issues = append(issues, "buffer.flat was nil")
			}
			if !buffer.shape.Ok() {
				issues = append(issues, "buffer.shape was invalid")
			}
			if !buffer.valid {
				issues = append(issues, "buffer was marked as invalid")
			}
		} else {
			issues = append(issues, "buffer was nil")
		}
		return nil, errors.Errorf("buffer (%p): %s -- buffer was already finalized!?", buffer, strings.Join(issues, ", "))
	}
	return buffer, nil
}

// newBuffer creates the buffer with a newly allocated flat space.
func (b *Backend) newBuffer(deviceNum backends.DeviceNum, shape shapes.Shape) *Buffer {
	buffer := b.getBuffer(shape.DType, shape.Size())
	buffer.shape = shape.Clone()
	buffer.device = deviceNum
	return buffer
}

// NewBuffer implements backends.DataInterface. The contents of the buffer are undefined.
func (b *Backend) NewBuffer(deviceNum backends.DeviceNum, shape shapes.Shape) (backends.Buffer, error) {
	if err := b.checkDevice(deviceNum); err != nil {
		return nil, err
	}
	if !Capabilities.DTypes[shape.DType] {
		return nil, errors.Wrapf(backends.ErrNotImplemented, "backend %q doesn't support dtype %s", BackendName, shape.DType)
	}
	return b.newBuffer(deviceNum, shape), nil
}

// BufferFinalize allows the client to inform backend that buffer is no longer needed and associated resources can be
// freed immediately.
//
// A finalized buffer should never be used again. Preferably, the caller should set its references to it to nil.
func (b *Backend) BufferFinalize(backendBuffer backends.Buffer) error {
	buffer, err := checkBuffer(backendBuffer)
	if err != nil {
		return errors.WithMessage(err, "BufferFinalize")
	}
	b.putBuffer(buffer)
	return nil
}

// BufferShape returns the shape for the buffer.
func (b *Backend) BufferShape(backendBuffer backends.Buffer) (shapes.Shape, error) {
	buffer, err := checkBuffer(backendBuffer)
	if err != nil {
		return shapes.Invalid(), err
	}
	return buffer.shape, nil
}

// BufferDeviceNum returns the deviceNum for the buffer.
func (b *Backend) BufferDeviceNum(backendBuffer backends.Buffer) (backends.DeviceNum, error) {
	buffer, err := checkBuffer(backendBuffer)
	if err != nil {
		return 0, err
	}
	return buffer.device, nil
}

// BufferToFlatData transfers the flat values of the buffer to the Go flat array.
// The slice flat must have the exact number of elements required to store the backends.Buffer shape.
//
// See also BufferFromFlatData, BufferShape, and shapes.Shape.Size.
func (b *Backend) BufferToFlatData(backendBuffer backends.Buffer, flat any) error {
	buffer, err := checkBuffer(backendBuffer)
	if err != nil {
		return err
	}
	if err := checkFlat(flat, buffer.shape); err != nil {
		return errors.WithMessage(err, "BufferToFlatData")
	}
	copyFlat(flat, buffer.flat)
	return nil
}

// BufferFromFlatData transfers data from Go given as a flat slice (of the type corresponding to the shape DType)
// to the deviceNum, and returns the corresponding backends.Buffer.
func (b *Backend) BufferFromFlatData(deviceNum backends.DeviceNum, flat any, shape shapes.Shape) (backends.Buffer, error) {
	if err := b.checkDevice(deviceNum); err != nil {
		return nil, err
	}
	if err := checkFlat(flat, shape); err != nil {
		return nil, errors.WithMessage(err, "BufferFromFlatData")
	}
	buffer := b.newBuffer(deviceNum, shape)
	copyFlat(buffer.flat, flat)
	return buffer, nil
}

func checkFlat(flat any, shape shapes.Shape) error {
	flatV := reflect.ValueOf(flat)
	if flatV.Kind() != reflect.Slice {
		return errors.Errorf("flat data must be a slice, got %T", flat)
	}
	if dtypes.FromGoType(flatV.Type().Elem()) != shape.DType {
		return errors.Errorf("flat data type (%s) does not match shape DType (%s)", flatV.Type().Elem(), shape.DType)
	}
	if flatV.Len() != shape.Size() {
		return errors.Errorf("flat data has %d elements, but shape %s requires %d", flatV.Len(), shape, shape.Size())
	}
	return nil
}

// BufferClone implements backends.DataInterface, using the pool to allocate the new buffer.
func (b *Backend) BufferClone(backendBuffer backends.Buffer) (backends.Buffer, error) {
	buffer, err := checkBuffer(backendBuffer)
	if err != nil {
		return nil, errors.WithMessage(err, "BufferClone")
	}
	newBuffer := b.newBuffer(buffer.device, buffer.shape)
	copyFlat(newBuffer.flat, buffer.flat)
	return newBuffer, nil
}

// BufferToDevice implements backends.DataInterface.
// Devices are virtual, so the buffer is simply re-tagged with the new device.
func (b *Backend) BufferToDevice(backendBuffer backends.Buffer, deviceNum backends.DeviceNum) (backends.Buffer, error) {
	buffer, err := checkBuffer(backendBuffer)
	if err != nil {
		return nil, errors.WithMessage(err, "BufferToDevice")
	}
	if err := b.checkDevice(deviceNum); err != nil {
		return nil, err
	}
	buffer.device = deviceNum
	return buffer, nil
}
