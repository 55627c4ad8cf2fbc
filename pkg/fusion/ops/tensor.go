// Package ops describes the operations queued in the fusion engine: the tensors they refer to
// (TensorDescription) and the Operation itself.
//
// Descriptions carry no data: the storage of a tensor lives in the handle table of the server that owns it,
// keyed by TensorID.
package ops

import (
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/gomlx/fusion/pkg/core/shapes"
	"github.com/gomlx/gopjrt/dtypes"
)

// TensorID identifies a tensor within the process. The zero value is never issued.
type TensorID uint64

var lastTensorID atomic.Uint64

// NewTensorID returns a new process-unique TensorID. It is safe for concurrent use.
func NewTensorID() TensorID {
	return TensorID(lastTensorID.Add(1))
}

// String implements fmt.Stringer.
func (id TensorID) String() string {
	return fmt.Sprintf("#%d", uint64(id))
}

// TensorStatus describes how an operation uses one of its tensors.
type TensorStatus int

const (
	// ReadOnly means the tensor is still referenced after this use.
	ReadOnly TensorStatus = iota

	// ReadWrite means this is the last use of the tensor: its handle can be released after the operation.
	ReadWrite

	// NotInit is the status of an output that has no storage yet.
	NotInit
)

// String implements fmt.Stringer.
func (s TensorStatus) String() string {
	switch s {
	case ReadOnly:
		return "ReadOnly"
	case ReadWrite:
		return "ReadWrite"
	case NotInit:
		return "NotInit"
	}
	return fmt.Sprintf("TensorStatus(%d)", int(s))
}

// TensorDescription is the immutable description of a tensor as used by an operation.
type TensorDescription struct {
	ID         TensorID     `json:"id"`
	Dimensions []int        `json:"dimensions,omitempty"`
	DType      dtypes.DType `json:"dtype"`
	Status     TensorStatus `json:"status"`
}

// Shape returns the shape of the described tensor.
func (d TensorDescription) Shape() shapes.Shape {
	return shapes.Shape{DType: d.DType, Dimensions: slices.Clone(d.Dimensions)}
}

// Size returns the number of elements of the described tensor.
func (d TensorDescription) Size() int {
	return shapes.Size(d.Dimensions)
}

// WithStatus returns a copy of the description with the given status.
func (d TensorDescription) WithStatus(status TensorStatus) TensorDescription {
	d.Dimensions = slices.Clone(d.Dimensions)
	d.Status = status
	return d
}

// String implements fmt.Stringer.
func (d TensorDescription) String() string {
	return fmt.Sprintf("%s%s(%s)", d.ID, d.Shape(), d.Status)
}
