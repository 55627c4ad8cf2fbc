package ops

import (
	"sync"
	"testing"

	"github.com/gomlx/fusion/backends"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDesc(dtype dtypes.DType, dims ...int) TensorDescription {
	return TensorDescription{ID: NewTensorID(), DType: dtype, Dimensions: dims, Status: ReadOnly}
}

func TestNewTensorID(t *testing.T) {
	const numGoroutines, numIDs = 4, 1000
	var mu sync.Mutex
	seen := make(map[TensorID]bool)
	var wg sync.WaitGroup
	for range numGoroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids := make([]TensorID, numIDs)
			for ii := range ids {
				ids[ii] = NewTensorID()
			}
			mu.Lock()
			defer mu.Unlock()
			for _, id := range ids {
				seen[id] = true
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, numGoroutines*numIDs)
	assert.False(t, seen[0])
}

func TestTensorDescription(t *testing.T) {
	d := newDesc(dtypes.Float32, 2, 3)
	assert.Equal(t, 6, d.Size())
	assert.Equal(t, "(Float32)[2 3]", d.Shape().String())

	rw := d.WithStatus(ReadWrite)
	assert.Equal(t, ReadWrite, rw.Status)
	assert.Equal(t, ReadOnly, d.Status)
	rw.Dimensions[0] = 7
	assert.Equal(t, 2, d.Dimensions[0], "WithStatus must not share the dimensions")
	assert.Equal(t, "NotInit", NotInit.String())
}

func TestConstructors(t *testing.T) {
	a, b := newDesc(dtypes.Float32, 4, 4), newDesc(dtypes.Float32, 4, 4)
	one := newDesc(dtypes.Float32)
	out := newDesc(dtypes.Float32, 4, 4)

	op := Binary(backends.OpTypeAdd, a, b.WithStatus(ReadWrite), out)
	assert.Equal(t, NotInit, op.Outputs[0].Status)
	assert.Equal(t, ReadWrite, op.Inputs[1].Status)
	assert.True(t, op.IsElementWise())
	assert.True(t, op.References(a.ID))
	assert.True(t, op.References(out.ID))
	assert.False(t, op.References(one.ID))

	// Broadcasting a size-1 operand, on either side.
	assert.True(t, Binary(backends.OpTypeMul, one, a, out).IsElementWise())
	assert.True(t, Binary(backends.OpTypeMul, a, one, out).IsElementWise())

	cmp := newDesc(dtypes.Bool, 4, 4)
	assert.Equal(t, backends.OpTypeLessThan, BinaryScalar(backends.OpTypeLessThan, a, 0.5, cmp).Type)
	assert.Equal(t, []float64{-1, 1}, Clamp(a, -1, 1, out).Scalars)

	casted := newDesc(dtypes.Int32, 4, 4)
	assert.Equal(t, backends.OpTypeConvertDType, Cast(a, casted).Type)

	full := Full(3, out)
	assert.Empty(t, full.Inputs)
	assert.True(t, full.IsElementWise())

	// Reductions normalize negative axes.
	reduced := newDesc(dtypes.Float32, 4)
	op = Reduce(backends.OpTypeReduceSum, a, []int{-1}, reduced)
	assert.Equal(t, []int{1}, op.Axes)
	assert.False(t, op.IsElementWise())

	reshaped := newDesc(dtypes.Float32, 16)
	assert.False(t, Reshape(a, reshaped).IsElementWise())
	mm := MatMul(a, b, out)
	assert.Equal(t, backends.OpSpec{Type: backends.OpTypeMatMul}, mm.Spec())
}

func TestConstructorsPanics(t *testing.T) {
	a := newDesc(dtypes.Float32, 4, 4)
	out := newDesc(dtypes.Float32, 4, 4)
	require.Panics(t, func() { Unary(backends.OpTypeAdd, a, out) })
	require.Panics(t, func() { Unary(backends.OpTypeNeg, a, newDesc(dtypes.Float32, 4)) })
	require.Panics(t, func() { Binary(backends.OpTypeAdd, a, newDesc(dtypes.Float32, 3, 4), out) })
	require.Panics(t, func() { Binary(backends.OpTypeAdd, a, newDesc(dtypes.Float64, 4, 4), out) })
	require.Panics(t, func() { Binary(backends.OpTypeEqual, a, a, out) }, "comparison must output Bool")
	require.Panics(t, func() { Binary(backends.OpTypeAdd, a, a.WithStatus(NotInit), out) })
	require.Panics(t, func() { Clamp(a, 1, -1, out) })
	require.Panics(t, func() { Reduce(backends.OpTypeReduceSum, a, []int{2}, newDesc(dtypes.Float32, 4)) })
	require.Panics(t, func() { Reduce(backends.OpTypeReduceSum, a, []int{0, -2}, newDesc(dtypes.Float32, 4)) })
	require.Panics(t, func() { Reshape(a, newDesc(dtypes.Float32, 15)) })
	require.Panics(t, func() { MatMul(a, newDesc(dtypes.Float32, 3, 4), out) })
	require.Panics(t, func() { Full(0, TensorDescription{DType: dtypes.Float32}) })
}
