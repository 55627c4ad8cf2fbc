package ops

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/fusion/backends"
	"github.com/gomlx/fusion/pkg/core/shapes"
	"github.com/gomlx/gopjrt/dtypes"
)

// Operation describes one tensor operation queued in a stream. It is created by one of the constructors below,
// which validate it, and it is never changed afterward.
type Operation struct {
	Type    backends.OpType     `json:"type"`
	Inputs  []TensorDescription `json:"inputs,omitempty"`
	Outputs []TensorDescription `json:"outputs,omitempty"`
	Scalars []float64           `json:"scalars,omitempty"`
	Axes    []int               `json:"axes,omitempty"`
}

// String implements fmt.Stringer.
func (op *Operation) String() string {
	var parts []string
	for _, input := range op.Inputs {
		parts = append(parts, input.String())
	}
	for _, scalar := range op.Scalars {
		parts = append(parts, fmt.Sprintf("%g", scalar))
	}
	var outputs []string
	for _, output := range op.Outputs {
		outputs = append(outputs, output.ID.String())
	}
	text := fmt.Sprintf("%s=%s(%s)", strings.Join(outputs, ","), op.Type, strings.Join(parts, ", "))
	if len(op.Axes) > 0 {
		text = fmt.Sprintf("%s axes=%v", text, op.Axes)
	}
	return text
}

// Spec returns the backend description of the operation, used to execute it directly.
func (op *Operation) Spec() backends.OpSpec {
	return backends.OpSpec{Type: op.Type, Axes: slices.Clone(op.Axes), Scalars: slices.Clone(op.Scalars)}
}

// References returns whether the operation reads or writes the tensor id.
func (op *Operation) References(id TensorID) bool {
	for _, input := range op.Inputs {
		if input.ID == id {
			return true
		}
	}
	for _, output := range op.Outputs {
		if output.ID == id {
			return true
		}
	}
	return false
}

// IsElementWise returns whether the operation is an elementwise one, where each output element only depends on the
// input elements at the same position.
//
// Operands of size 1 are broadcast. Any other operand must have the same dimensions as the output.
func (op *Operation) IsElementWise() bool {
	if !op.Type.IsElementWise() || len(op.Outputs) != 1 {
		return false
	}
	output := op.Outputs[0]
	for _, input := range op.Inputs {
		if input.Size() != 1 && !slices.Equal(input.Dimensions, output.Dimensions) {
			return false
		}
	}
	return true
}

// DTypes returns the dtypes of all inputs and outputs.
func (op *Operation) DTypes() []dtypes.DType {
	result := make([]dtypes.DType, 0, len(op.Inputs)+len(op.Outputs))
	for _, input := range op.Inputs {
		result = append(result, input.DType)
	}
	for _, output := range op.Outputs {
		result = append(result, output.DType)
	}
	return result
}

func newOperation(opType backends.OpType, inputs []TensorDescription, out TensorDescription,
	scalars []float64, axes []int) *Operation {
	op := &Operation{
		Type:    opType,
		Inputs:  make([]TensorDescription, len(inputs)),
		Outputs: []TensorDescription{out.WithStatus(NotInit)},
		Scalars: slices.Clone(scalars),
		Axes:    slices.Clone(axes),
	}
	for ii, input := range inputs {
		if input.ID == 0 {
			exceptions.Panicf("%s: input #%d has an invalid tensor id", opType, ii)
		}
		if input.Status == NotInit {
			exceptions.Panicf("%s: input #%d (%s) is not initialized", opType, ii, input)
		}
		op.Inputs[ii] = input.WithStatus(input.Status)
	}
	if out.ID == 0 {
		exceptions.Panicf("%s: output has an invalid tensor id", opType)
	}
	return op
}

func checkOutput(opType backends.OpType, out TensorDescription, dtype dtypes.DType, dimensions []int) {
	if out.DType != dtype || !slices.Equal(out.Dimensions, dimensions) {
		exceptions.Panicf("%s: output %s doesn't match the expected shape (%s)[%v]", opType, out, dtype, dimensions)
	}
}

// broadcastDimensions returns the dimensions of an elementwise result: operands of size 1 broadcast, the others
// must match.
func broadcastDimensions(opType backends.OpType, operands ...TensorDescription) []int {
	var dimensions []int
	for _, operand := range operands {
		if operand.Size() == 1 {
			if dimensions == nil {
				dimensions = operand.Dimensions
			}
			continue
		}
		if dimensions != nil && shapes.Size(dimensions) != 1 && !slices.Equal(dimensions, operand.Dimensions) {
			exceptions.Panicf("%s: incompatible operand dimensions %v and %v", opType, dimensions, operand.Dimensions)
		}
		dimensions = operand.Dimensions
	}
	return dimensions
}

// Unary creates an elementwise unary operation (Neg, Abs, Exp, ..., Identity). ConvertDType uses Cast instead.
func Unary(opType backends.OpType, x, out TensorDescription) *Operation {
	if !opType.IsUnary() || opType == backends.OpTypeConvertDType {
		exceptions.Panicf("ops.Unary: %s is not a unary operation", opType)
	}
	checkOutput(opType, out, x.DType, x.Dimensions)
	return newOperation(opType, []TensorDescription{x}, out, nil, nil)
}

// Binary creates an elementwise binary operation or comparison. Operands of size 1 are broadcast.
// Comparisons output Bool.
func Binary(opType backends.OpType, lhs, rhs, out TensorDescription) *Operation {
	if !opType.IsBinary() && !opType.IsComparison() {
		exceptions.Panicf("ops.Binary: %s is not a binary operation", opType)
	}
	if lhs.DType != rhs.DType {
		exceptions.Panicf("%s: operands have different dtypes (%s and %s)", opType, lhs.DType, rhs.DType)
	}
	dtype := lhs.DType
	if opType.IsComparison() {
		dtype = dtypes.Bool
	}
	checkOutput(opType, out, dtype, broadcastDimensions(opType, lhs, rhs))
	return newOperation(opType, []TensorDescription{lhs, rhs}, out, nil, nil)
}

// BinaryScalar creates an elementwise binary operation or comparison whose right-hand side is a scalar constant.
func BinaryScalar(opType backends.OpType, lhs TensorDescription, scalar float64, out TensorDescription) *Operation {
	if !opType.IsBinary() && !opType.IsComparison() {
		exceptions.Panicf("ops.BinaryScalar: %s is not a binary operation", opType)
	}
	dtype := lhs.DType
	if opType.IsComparison() {
		dtype = dtypes.Bool
	}
	checkOutput(opType, out, dtype, lhs.Dimensions)
	return newOperation(opType, []TensorDescription{lhs}, out, []float64{scalar}, nil)
}

// Full fills out with value.
func Full(value float64, out TensorDescription) *Operation {
	return newOperation(backends.OpTypeFull, nil, out, []float64{value}, nil)
}

// Cast converts x to the dtype of out.
func Cast(x, out TensorDescription) *Operation {
	checkOutput(backends.OpTypeConvertDType, out, out.DType, x.Dimensions)
	return newOperation(backends.OpTypeConvertDType, []TensorDescription{x}, out, nil, nil)
}

// Clamp limits the values of x to the range [lower, upper].
func Clamp(x TensorDescription, lower, upper float64, out TensorDescription) *Operation {
	if lower > upper {
		exceptions.Panicf("Clamp: lower bound %g > upper bound %g", lower, upper)
	}
	checkOutput(backends.OpTypeClamp, out, x.DType, x.Dimensions)
	return newOperation(backends.OpTypeClamp, []TensorDescription{x}, out, []float64{lower, upper}, nil)
}

// Reduce creates a ReduceSum or ReduceMax over the given axes, which may be negative (counted from the end).
// The reduced axes are removed from the output.
func Reduce(opType backends.OpType, x TensorDescription, axes []int, out TensorDescription) *Operation {
	if opType != backends.OpTypeReduceSum && opType != backends.OpTypeReduceMax {
		exceptions.Panicf("ops.Reduce: %s is not a reduction", opType)
	}
	rank := len(x.Dimensions)
	normalized := make([]int, 0, len(axes))
	for _, axis := range axes {
		adjusted := axis
		if adjusted < 0 {
			adjusted += rank
		}
		if adjusted < 0 || adjusted >= rank {
			exceptions.Panicf("%s: axis %d out of range for rank %d", opType, axis, rank)
		}
		if slices.Contains(normalized, adjusted) {
			exceptions.Panicf("%s: axis %d given more than once", opType, axis)
		}
		normalized = append(normalized, adjusted)
	}
	slices.Sort(normalized)
	dimensions := make([]int, 0, rank)
	for axis, dim := range x.Dimensions {
		if !slices.Contains(normalized, axis) {
			dimensions = append(dimensions, dim)
		}
	}
	checkOutput(opType, out, x.DType, dimensions)
	return newOperation(opType, []TensorDescription{x}, out, nil, normalized)
}

// Reshape changes the dimensions of x, keeping its size and contents.
func Reshape(x, out TensorDescription) *Operation {
	if out.DType != x.DType || out.Size() != x.Size() {
		exceptions.Panicf("Reshape: cannot reshape %s to %s", x.Shape(), out.Shape())
	}
	return newOperation(backends.OpTypeReshape, []TensorDescription{x}, out, nil, nil)
}

// MatMul multiplies two rank-2 tensors: [m, k] x [k, n] -> [m, n].
func MatMul(lhs, rhs, out TensorDescription) *Operation {
	if len(lhs.Dimensions) != 2 || len(rhs.Dimensions) != 2 || lhs.Dimensions[1] != rhs.Dimensions[0] {
		exceptions.Panicf("MatMul: incompatible shapes %s and %s", lhs.Shape(), rhs.Shape())
	}
	if lhs.DType != rhs.DType {
		exceptions.Panicf("MatMul: operands have different dtypes (%s and %s)", lhs.DType, rhs.DType)
	}
	checkOutput(backends.OpTypeMatMul, out, lhs.DType, []int{lhs.Dimensions[0], rhs.Dimensions[1]})
	return newOperation(backends.OpTypeMatMul, []TensorDescription{lhs, rhs}, out, nil, nil)
}
