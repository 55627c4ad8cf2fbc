package simplego

import (
	"slices"

	"github.com/gomlx/fusion/backends"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// This file implements the operations executed directly (not fused) with ExecuteOp.

var (
	dispatchReduceSum = NewDTypeDispatcher("ReduceSum")
	dispatchReduceMax = NewDTypeDispatcher("ReduceMax")
	dispatchMatMul    = NewDTypeDispatcher("MatMul")
)

func init() {
	dispatchReduceSum.Register(dtypes.Int32, execReduceGeneric[int32](false))
	dispatchReduceSum.Register(dtypes.Int64, execReduceGeneric[int64](false))
	dispatchReduceSum.Register(dtypes.Float32, execReduceGeneric[float32](false))
	dispatchReduceSum.Register(dtypes.Float64, execReduceGeneric[float64](false))
	dispatchReduceMax.Register(dtypes.Int32, execReduceGeneric[int32](true))
	dispatchReduceMax.Register(dtypes.Int64, execReduceGeneric[int64](true))
	dispatchReduceMax.Register(dtypes.Float32, execReduceGeneric[float32](true))
	dispatchReduceMax.Register(dtypes.Float64, execReduceGeneric[float64](true))
	dispatchMatMul.Register(dtypes.Int32, execMatMulGeneric[int32])
	dispatchMatMul.Register(dtypes.Int64, execMatMulGeneric[int64])
	dispatchMatMul.Register(dtypes.Float32, execMatMulGeneric[float32])
	dispatchMatMul.Register(dtypes.Float64, execMatMulGeneric[float64])
}

// ExecuteOp implements backends.KernelInterface.
func (b *Backend) ExecuteOp(deviceNum backends.DeviceNum, op backends.OpSpec, backendInputs []backends.Buffer, backendOutputs []backends.Buffer) error {
	if err := b.checkDevice(deviceNum); err != nil {
		return err
	}
	if !Capabilities.Operations[op.Type] {
		return errors.Wrapf(backends.ErrNotImplemented, "backend %q doesn't support op %s", BackendName, op.Type)
	}
	inputs, err := b.checkOpBuffers(deviceNum, op, "input", backendInputs)
	if err != nil {
		return err
	}
	outputs, err := b.checkOpBuffers(deviceNum, op, "output", backendOutputs)
	if err != nil {
		return err
	}
	b.opLaunches.Add(1)
	if op.Type.IsElementWise() {
		return b.execElementWise(op, inputs, outputs, backendInputs, backendOutputs)
	}
	if len(outputs) != 1 {
		return errors.Errorf("op %s takes 1 output, got %d", op.Type, len(outputs))
	}
	output := outputs[0]
	switch op.Type {
	case backends.OpTypeReduceSum, backends.OpTypeReduceMax:
		if len(inputs) != 1 {
			return errors.Errorf("op %s takes 1 input, got %d", op.Type, len(inputs))
		}
		return execReduce(op, inputs[0], output)
	case backends.OpTypeReshape:
		if len(inputs) != 1 {
			return errors.Errorf("op %s takes 1 input, got %d", op.Type, len(inputs))
		}
		if inputs[0].shape.DType != output.shape.DType || inputs[0].shape.Size() != output.shape.Size() {
			return errors.Errorf("op %s can't reshape %s to %s", op.Type, inputs[0].shape, output.shape)
		}
		copyFlat(output.flat, inputs[0].flat)
		return nil
	case backends.OpTypeMatMul:
		if len(inputs) != 2 {
			return errors.Errorf("op %s takes 2 inputs, got %d", op.Type, len(inputs))
		}
		return execMatMul(inputs[0], inputs[1], output)
	}
	return errors.Wrapf(backends.ErrNotImplemented, "op %s can't be executed directly in backend %q", op.Type, BackendName)
}

func (b *Backend) checkOpBuffers(deviceNum backends.DeviceNum, op backends.OpSpec, kind string, backendBuffers []backends.Buffer) ([]*Buffer, error) {
	buffers := make([]*Buffer, len(backendBuffers))
	for ii, backendBuffer := range backendBuffers {
		buf, err := checkBuffer(backendBuffer)
		if err != nil {
			return nil, errors.WithMessagef(err, "op %s %s #%d", op.Type, kind, ii)
		}
		if buf.device != deviceNum {
			return nil, errors.Errorf("op %s %s #%d is on device #%d, but op is executed on device #%d", op.Type, kind, ii, buf.device, deviceNum)
		}
		buffers[ii] = buf
	}
	return buffers, nil
}

// execElementWise executes an elementwise op with a one-instruction kernel, cached by program signature.
func (b *Backend) execElementWise(op backends.OpSpec, inputs, outputs []*Buffer, backendInputs, backendOutputs []backends.Buffer) error {
	if len(outputs) != 1 {
		return errors.Errorf("op %s takes 1 output, got %d", op.Type, len(outputs))
	}
	program := &backends.Program{}
	operands := make([]backends.Operand, 0, len(inputs)+len(op.Scalars))
	inputDTypes := make([]dtypes.DType, len(inputs))
	for ii, input := range inputs {
		inputDTypes[ii] = input.shape.DType
		operands = append(operands, program.AddInput(input.shape.DType))
	}
	outputDType := outputs[0].shape.DType
	scalarDType := backends.ScalarDType(inputDTypes, outputDType)
	for range op.Scalars {
		operands = append(operands, program.AddScalar(scalarDType))
	}
	program.AddOutput(program.AddInstruction(op.Type, outputDType, operands...))
	signature := program.Signature()
	var kernel *Kernel
	if cached, found := b.opKernels.Load(signature); found {
		kernel = cached.(*Kernel)
	} else {
		var err error
		kernel, err = b.compile(program, b.defaultCubeDim)
		if err != nil {
			return err
		}
		cached, _ = b.opKernels.LoadOrStore(signature, kernel)
		kernel = cached.(*Kernel)
	}
	return kernel.execute(backendInputs, op.Scalars, backendOutputs)
}

// computeFlat returns the buffer data in its compute type: Float16 is converted to a new []float32.
func computeFlat(buf *Buffer) any {
	if buf.shape.DType == dtypes.Float16 {
		flat := make([]float32, buf.shape.Size())
		float16ToFloat32(buf.flat.([]float16.Float16), flat)
		return flat
	}
	return buf.flat
}

// outputComputeFlat returns where to write the results for buf: a temporary []float32 for Float16 buffers.
// Call storeComputeFlat afterward.
func outputComputeFlat(buf *Buffer) any {
	if buf.shape.DType == dtypes.Float16 {
		return make([]float32, buf.shape.Size())
	}
	return buf.flat
}

func storeComputeFlat(buf *Buffer, flat any) {
	if buf.shape.DType == dtypes.Float16 {
		float32ToFloat16(flat.([]float32), buf.flat.([]float16.Float16))
	}
}

// reduceOutputDimensions returns the dimensions after reducing the given axes.
func reduceOutputDimensions(dimensions []int, axes []int) ([]int, error) {
	reduced := make([]bool, len(dimensions))
	for _, axis := range axes {
		if axis < 0 || axis >= len(dimensions) {
			return nil, errors.Errorf("reduce axis %d out of range for dimensions %v", axis, dimensions)
		}
		reduced[axis] = true
	}
	var outputDims []int
	for axis, dim := range dimensions {
		if !reduced[axis] {
			outputDims = append(outputDims, dim)
		}
	}
	return outputDims, nil
}

func execReduce(op backends.OpSpec, input, output *Buffer) error {
	if input.shape.DType != output.shape.DType {
		return errors.Errorf("op %s: input %s and output %s dtypes differ", op.Type, input.shape, output.shape)
	}
	outputDims, err := reduceOutputDimensions(input.shape.Dimensions, op.Axes)
	if err != nil {
		return errors.WithMessagef(err, "op %s", op.Type)
	}
	if !slices.Equal(outputDims, output.shape.Dimensions) {
		return errors.Errorf("op %s over axes %v of %s should output dimensions %v, got %s",
			op.Type, op.Axes, input.shape, outputDims, output.shape)
	}
	dispatcher := dispatchReduceSum
	if op.Type == backends.OpTypeReduceMax {
		dispatcher = dispatchReduceMax
	}
	dtype := computeDType(input.shape.DType)
	if !dispatcher.IsSupported(dtype) {
		return errors.Wrapf(backends.ErrNotImplemented, "op %s for dtype %s", op.Type, input.shape.DType)
	}
	dst := outputComputeFlat(output)
	dispatcher.Dispatch(dtype, computeFlat(input), dst, input.shape.Dimensions, op.Axes)
	storeComputeFlat(output, dst)
	return nil
}

// execReduceGeneric returns the reduce function for T: params are the source and destination flat slices,
// the source dimensions and the axes to reduce.
func execReduceGeneric[T PODNumericConstraints](isMax bool) FuncForDispatcher {
	return func(params ...any) {
		src, dst := params[0].([]T), params[1].([]T)
		dims, axes := params[2].([]int), params[3].([]int)
		rank := len(dims)
		reduced := make([]bool, rank)
		for _, axis := range axes {
			reduced[axis] = true
		}
		// Output strides per input axis, 0 for reduced axes.
		strides := make([]int, rank)
		stride := 1
		for axis := rank - 1; axis >= 0; axis-- {
			if reduced[axis] {
				continue
			}
			strides[axis] = stride
			stride *= dims[axis]
		}
		initial := T(0)
		if isMax {
			initial = lowestValue[T]()
		}
		for ii := range dst {
			dst[ii] = initial
		}
		counters := make([]int, rank)
		outIdx := 0
		for _, v := range src {
			if isMax {
				dst[outIdx] = max(dst[outIdx], v)
			} else {
				dst[outIdx] += v
			}
			for axis := rank - 1; axis >= 0; axis-- {
				counters[axis]++
				outIdx += strides[axis]
				if counters[axis] < dims[axis] {
					break
				}
				outIdx -= strides[axis] * dims[axis]
				counters[axis] = 0
			}
		}
	}
}

func execMatMul(lhs, rhs, output *Buffer) error {
	if lhs.shape.Rank() != 2 || rhs.shape.Rank() != 2 || output.shape.Rank() != 2 {
		return errors.Errorf("MatMul only supports rank-2 operands, got %s x %s -> %s", lhs.shape, rhs.shape, output.shape)
	}
	m, k, n := lhs.shape.Dimensions[0], lhs.shape.Dimensions[1], rhs.shape.Dimensions[1]
	if rhs.shape.Dimensions[0] != k || output.shape.Dimensions[0] != m || output.shape.Dimensions[1] != n {
		return errors.Errorf("MatMul dimensions mismatch: %s x %s -> %s", lhs.shape, rhs.shape, output.shape)
	}
	if lhs.shape.DType != rhs.shape.DType || lhs.shape.DType != output.shape.DType {
		return errors.Errorf("MatMul dtypes mismatch: %s x %s -> %s", lhs.shape, rhs.shape, output.shape)
	}
	dtype := computeDType(lhs.shape.DType)
	if !dispatchMatMul.IsSupported(dtype) {
		return errors.Wrapf(backends.ErrNotImplemented, "MatMul for dtype %s", lhs.shape.DType)
	}
	dst := outputComputeFlat(output)
	dispatchMatMul.Dispatch(dtype, computeFlat(lhs), computeFlat(rhs), dst, m, k, n)
	storeComputeFlat(output, dst)
	return nil
}

// execMatMulGeneric: params are lhs [m, k], rhs [k, n], output [m, n] and the dimensions m, k, n.
func execMatMulGeneric[T PODNumericConstraints](params ...any) {
	lhs, rhs, out := params[0].([]T), params[1].([]T), params[2].([]T)
	m, k, n := params[3].(int), params[4].(int), params[5].(int)
	for row := range m {
		outRow := out[row*n : (row+1)*n]
		for ii := range outRow {
			outRow[ii] = 0
		}
		for kk := range k {
			lhsValue := lhs[row*k+kk]
			rhsRow := rhs[kk*n : (kk+1)*n]
			for col, rhsValue := range rhsRow {
				outRow[col] += lhsValue * rhsValue
			}
		}
	}
}
