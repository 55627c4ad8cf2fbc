package client

import (
	"reflect"
	"slices"
	"sync/atomic"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/fusion/backends"
	"github.com/gomlx/fusion/pkg/core/shapes"
	"github.com/gomlx/fusion/pkg/fusion/ops"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Client is a handle to the shared server of one device. It is safe for concurrent use.
//
// Clients are created by Manager.Client or Clone, and must be closed.
type Client struct {
	shared *sharedServer
	closed atomic.Bool
}

func (c *Client) checkOpen() {
	if c.closed.Load() {
		exceptions.Panicf("client of %s used after Close", c.shared.device)
	}
}

// lock returns the server locked for the duration of a call.
func (c *Client) lock() *sharedServer {
	c.checkOpen()
	c.shared.mu.Lock()
	return c.shared
}

// Device returns the device of the client's server.
func (c *Client) Device() backends.DeviceID {
	return c.shared.device
}

// Backend returns the backend of the client's server.
func (c *Client) Backend() backends.Backend {
	return c.shared.key.backend
}

// Clone returns a new Client sharing the same server.
func (c *Client) Clone() *Client {
	c.checkOpen()
	m := c.shared.manager
	m.mu.Lock()
	defer m.mu.Unlock()
	c.shared.refs++
	return &Client{shared: c.shared}
}

// Close releases the client. When the last client of a server is closed the server is finalized, freeing all
// its tensors. Closing twice is a no-op.
func (c *Client) Close() {
	if c.closed.Swap(true) {
		return
	}
	c.shared.manager.release(c.shared)
}

// Register queues the operation on the server. Its outputs are computed on the next drain.
func (c *Client) Register(op *ops.Operation) {
	s := c.lock()
	defer s.mu.Unlock()
	s.server.Register(op)
}

// Drain executes all operations queued on the server.
func (c *Client) Drain() error {
	s := c.lock()
	defer s.mu.Unlock()
	return s.server.Drain()
}

// NumHandles returns the number of live buffers in the server.
func (c *Client) NumHandles() int {
	s := c.lock()
	defer s.mu.Unlock()
	return s.server.NumHandles()
}

// TensorUninitialized creates a tensor without storage, to be the output of an operation.
func (c *Client) TensorUninitialized(dimensions []int, dtype dtypes.DType) *Tensor {
	s := c.lock()
	defer s.mu.Unlock()
	return newTensor(c, s.server.CreateEmpty(slices.Clone(dimensions), dtype))
}

// RegisterTensor takes ownership of a buffer of the client's device.
func (c *Client) RegisterTensor(buffer backends.Buffer) (*Tensor, error) {
	s := c.lock()
	defer s.mu.Unlock()
	desc, err := s.server.RegisterTensor(buffer)
	if err != nil {
		return nil, err
	}
	return newTensor(c, desc), nil
}

// FromFlat uploads flat as a tensor with the given dimensions to the client's device.
func FromFlat[T dtypes.Supported](c *Client, flat []T, dimensions ...int) (*Tensor, error) {
	shape := shapes.Make(dtypes.FromGenericsType[T](), dimensions...)
	buffer, err := c.Backend().BufferFromFlatData(c.shared.key.deviceNum, flat, shape)
	if err != nil {
		return nil, errors.WithMessagef(err, "uploading %s to %s", shape, c.Device())
	}
	return c.RegisterTensor(buffer)
}

// RegisterOrphan releases the tensor: its storage is freed once no queued operation refers to it.
func (c *Client) RegisterOrphan(id ops.TensorID) {
	s := c.lock()
	defer s.mu.Unlock()
	s.server.RegisterOrphan(id)
}

// tensorKind groups dtypes by the values they are read as.
type tensorKind int

const (
	kindFloat tensorKind = iota
	kindInt
	kindBool
)

func (k tensorKind) check(desc ops.TensorDescription) error {
	var ok bool
	switch k {
	case kindFloat:
		ok = desc.DType.IsFloat()
	case kindInt:
		ok = desc.DType.IsInt()
	case kindBool:
		ok = desc.DType == dtypes.Bool
	}
	if !ok {
		return errors.Errorf("tensor %s has dtype %s, not of the requested kind", desc.ID, desc.DType)
	}
	return nil
}

// ReadTensorFloat reads a float tensor as float64 values. The result reflects every operation queued on the tensor
// before the call.
func (c *Client) ReadTensorFloat(desc ops.TensorDescription) *Reader[float64] {
	return readTensor(c, desc, kindFloat, floatValues)
}

// ReadTensorInt reads an integer tensor as int64 values.
func (c *Client) ReadTensorInt(desc ops.TensorDescription) *Reader[int64] {
	return readTensor(c, desc, kindInt, intValues)
}

// ReadTensorBool reads a boolean tensor.
func (c *Client) ReadTensorBool(desc ops.TensorDescription) *Reader[bool] {
	return readTensor(c, desc, kindBool, boolValues)
}

// readTensor drains the server and snapshots the tensor under the lock, and downloads the snapshot in the
// background.
func readTensor[T readValue](c *Client, desc ops.TensorDescription, kind tensorKind,
	convert func(flat any) ([]T, error)) *Reader[T] {
	r := newReader[T](desc.Dimensions)
	if err := kind.check(desc); err != nil {
		r.resolve(nil, err)
		return r
	}
	s := c.lock()
	clone, err := s.server.ReadTensor(desc)
	s.mu.Unlock()
	if err != nil {
		r.resolve(nil, err)
		return r
	}

	backend := c.Backend()
	s.manager.reads.Go(func() {
		defer func() {
			if err := backend.BufferFinalize(clone); err != nil {
				klog.Warningf("failed to finalize read snapshot of tensor %s: %+v", desc.ID, err)
			}
		}()
		flat, err := downloadFlat(backend, clone)
		if err != nil {
			r.resolve(nil, errors.WithMessagef(err, "reading tensor %s", desc.ID))
			return
		}
		r.resolve(convert(flat))
	})
	return r
}

// downloadFlat copies the buffer to a new Go slice of its dtype.
func downloadFlat(backend backends.Backend, buffer backends.Buffer) (any, error) {
	shape, err := backend.BufferShape(buffer)
	if err != nil {
		return nil, err
	}
	size := shape.Size()
	flat := reflect.MakeSlice(reflect.SliceOf(shape.DType.GoType()), size, size).Interface()
	if err := backend.BufferToFlatData(buffer, flat); err != nil {
		return nil, err
	}
	return flat, nil
}

// ChangeClientFloat moves a float tensor to the device of dst. See changeClient.
func (c *Client) ChangeClientFloat(desc ops.TensorDescription, dst *Client) (*Tensor, error) {
	return c.changeClient(desc, dst, kindFloat)
}

// ChangeClientInt moves an integer tensor to the device of dst. See changeClient.
func (c *Client) ChangeClientInt(desc ops.TensorDescription, dst *Client) (*Tensor, error) {
	return c.changeClient(desc, dst, kindInt)
}

// ChangeClientBool moves a boolean tensor to the device of dst. See changeClient.
func (c *Client) ChangeClientBool(desc ops.TensorDescription, dst *Client) (*Tensor, error) {
	return c.changeClient(desc, dst, kindBool)
}

// changeClient drains the source server, and moves the tensor's storage to the destination server, where it is
// registered under a new id. The source id becomes invalid.
//
// Both servers are locked for the whole transfer, in a global order, so concurrent transfers in opposite
// directions can't deadlock. If both clients share the server, it only drains.
func (c *Client) changeClient(desc ops.TensorDescription, dst *Client, kind tensorKind) (*Tensor, error) {
	if err := kind.check(desc); err != nil {
		return nil, err
	}
	if c.shared == dst.shared {
		s := c.lock()
		defer s.mu.Unlock()
		if err := s.server.Drain(); err != nil {
			return nil, err
		}
		return newTensor(dst, desc.WithStatus(ops.ReadOnly)), nil
	}
	c.checkOpen()
	dst.checkOpen()
	src, target := c.shared, dst.shared

	first, second := src, target
	if target.less(src) {
		first, second = target, src
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	buffer, err := src.server.TakeTensor(desc)
	if err != nil {
		return nil, err
	}
	moved, err := moveBuffer(src.key.backend, buffer, target.key.backend, target.key.deviceNum)
	if err != nil {
		// The storage stays where it was.
		src.server.Restore(desc.ID, buffer)
		return nil, errors.WithMessagef(err, "moving tensor %s from %s to %s", desc.ID, src.device, target.device)
	}
	newDesc, err := target.server.RegisterTensor(moved)
	if err != nil {
		_ = target.key.backend.BufferFinalize(moved)
		return nil, err
	}
	if src.metrics != nil {
		src.metrics.Transfers.Inc()
	}
	klog.V(1).Infof("moved tensor %s from %s to %s as %s", desc.ID, src.device, target.device, newDesc.ID)
	return newTensor(dst, newDesc), nil
}

// moveBuffer moves buffer to the device dstDevice of dstBackend. Within a backend the move is done by the backend,
// otherwise the data goes through the host.
//
// On success the source buffer is consumed. On failure it is left untouched.
func moveBuffer(srcBackend backends.Backend, buffer backends.Buffer,
	dstBackend backends.Backend, dstDevice backends.DeviceNum) (backends.Buffer, error) {
	if srcBackend == dstBackend {
		return srcBackend.BufferToDevice(buffer, dstDevice)
	}
	shape, err := srcBackend.BufferShape(buffer)
	if err != nil {
		return nil, err
	}
	flat, err := downloadFlat(srcBackend, buffer)
	if err != nil {
		return nil, err
	}
	moved, err := dstBackend.BufferFromFlatData(dstDevice, flat, shape)
	if err != nil {
		return nil, err
	}
	if err := srcBackend.BufferFinalize(buffer); err != nil {
		klog.Warningf("failed to finalize source buffer after a move: %+v", err)
	}
	return moved, nil
}
