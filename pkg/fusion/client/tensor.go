package client

import (
	"fmt"
	"slices"

	"github.com/gomlx/fusion/pkg/core/shapes"
	"github.com/gomlx/fusion/pkg/fusion/ops"
	"github.com/gomlx/fusion/pkg/support/xslices"
	"github.com/gomlx/fusion/pkg/support/xsync"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// Tensor is a tensor owned by the server of a Client.
type Tensor struct {
	client *Client
	desc   ops.TensorDescription
}

func newTensor(c *Client, desc ops.TensorDescription) *Tensor {
	return &Tensor{client: c, desc: desc.WithStatus(ops.ReadOnly)}
}

// ID of the tensor.
func (t *Tensor) ID() ops.TensorID { return t.desc.ID }

// Client owning the tensor.
func (t *Tensor) Client() *Client { return t.client }

// DType of the tensor.
func (t *Tensor) DType() dtypes.DType { return t.desc.DType }

// Dimensions of the tensor.
func (t *Tensor) Dimensions() []int { return slices.Clone(t.desc.Dimensions) }

// Shape of the tensor.
func (t *Tensor) Shape() shapes.Shape { return t.desc.Shape() }

// Description of the tensor for an operation that uses it with the given status.
// Use ops.ReadWrite for its last use.
func (t *Tensor) Description(status ops.TensorStatus) ops.TensorDescription {
	return t.desc.WithStatus(status)
}

// String implements fmt.Stringer.
func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor%s%s@%s", t.desc.ID, t.desc.Shape(), t.client.Device())
}

// ReadFloat reads the tensor as float64 values.
func (t *Tensor) ReadFloat() *Reader[float64] { return t.client.ReadTensorFloat(t.desc) }

// ReadInt reads the tensor as int64 values.
func (t *Tensor) ReadInt() *Reader[int64] { return t.client.ReadTensorInt(t.desc) }

// ReadBool reads the tensor as bool values.
func (t *Tensor) ReadBool() *Reader[bool] { return t.client.ReadTensorBool(t.desc) }

// Release frees the tensor once queued operations no longer need it.
func (t *Tensor) Release() { t.client.RegisterOrphan(t.desc.ID) }

type readValue interface {
	float64 | int64 | bool
}

type readResult[T readValue] struct {
	values []T
	err    error
}

// Reader is the future value of a tensor read.
type Reader[T readValue] struct {
	dimensions []int
	latch      *xsync.LatchWithValue[readResult[T]]
}

func newReader[T readValue](dimensions []int) *Reader[T] {
	return &Reader[T]{
		dimensions: slices.Clone(dimensions),
		latch:      xsync.NewLatchWithValue[readResult[T]](),
	}
}

func (r *Reader[T]) resolve(values []T, err error) {
	r.latch.Trigger(readResult[T]{values: values, err: err})
}

// Dimensions of the tensor being read.
func (r *Reader[T]) Dimensions() []int { return r.dimensions }

// Wait blocks until the read resolves, and returns the flat values of the tensor.
func (r *Reader[T]) Wait() ([]T, error) {
	result := r.latch.Wait()
	return result.values, result.err
}

// Done returns a channel closed when the read resolves.
func (r *Reader[T]) Done() <-chan struct{} {
	return r.latch.WaitChan()
}

func floatValues(flat any) ([]float64, error) {
	switch values := flat.(type) {
	case []float64:
		return values, nil
	case []float32:
		return xslices.Map(values, func(v float32) float64 { return float64(v) }), nil
	case []float16.Float16:
		return xslices.Map(values, func(v float16.Float16) float64 { return float64(v.Float32()) }), nil
	}
	return nil, errors.Errorf("cannot read %T as float values", flat)
}

func intValues(flat any) ([]int64, error) {
	switch values := flat.(type) {
	case []int64:
		return values, nil
	case []int32:
		return xslices.Map(values, func(v int32) int64 { return int64(v) }), nil
	case []int16:
		return xslices.Map(values, func(v int16) int64 { return int64(v) }), nil
	case []int8:
		return xslices.Map(values, func(v int8) int64 { return int64(v) }), nil
	}
	return nil, errors.Errorf("cannot read %T as int values", flat)
}

func boolValues(flat any) ([]bool, error) {
	if values, ok := flat.([]bool); ok {
		return values, nil
	}
	return nil, errors.Errorf("cannot read %T as bool values", flat)
}
