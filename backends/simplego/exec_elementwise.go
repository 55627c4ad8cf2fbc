package simplego

import (
	"math"

	"github.com/gomlx/fusion/backends"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// This file compiles each elementwise instruction into a stepFn.
// The dtype dispatch happens once at compile time: the returned closures only index typed slices.

// compileInstruction returns the step that executes the instruction, with slots resolved by slotOf.
func compileInstruction(p *backends.Program, inst backends.Instruction, slotOf func(backends.Operand) int) (stepFn, error) {
	dst := slotOf(backends.Operand{Kind: backends.OperandLocal, Index: inst.Result})
	resultDType := computeDType(p.Locals[inst.Result])
	operands := make([]int, len(inst.Operands))
	for ii, operand := range inst.Operands {
		operands[ii] = slotOf(operand)
	}
	operandDType := computeDType(p.DType(inst.Operands[0]))
	op := inst.Op

	var step stepFn
	switch {
	case op == backends.OpTypeConvertDType:
		step = convertStep(operandDType, resultDType, operands[0], dst)

	case op == backends.OpTypeIdentity || op == backends.OpTypeFull:
		src := operands[0]
		step = func(slots []any, n int) {
			copyFlat(slots[dst], slots[src])
		}

	case op.IsComparison():
		switch operandDType {
		case dtypes.Bool:
			step = compareBoolStep(op, operands[0], operands[1], dst)
		case dtypes.Int32:
			step = compareStep[int32](op, operands[0], operands[1], dst)
		case dtypes.Int64:
			step = compareStep[int64](op, operands[0], operands[1], dst)
		case dtypes.Float32:
			step = compareStep[float32](op, operands[0], operands[1], dst)
		case dtypes.Float64:
			step = compareStep[float64](op, operands[0], operands[1], dst)
		}

	case op.IsBinary():
		switch resultDType {
		case dtypes.Int32:
			step = binaryIntStep[int32](op, operands[0], operands[1], dst)
		case dtypes.Int64:
			step = binaryIntStep[int64](op, operands[0], operands[1], dst)
		case dtypes.Float32:
			step = binaryFloatStep[float32](op, operands[0], operands[1], dst)
		case dtypes.Float64:
			step = binaryFloatStep[float64](op, operands[0], operands[1], dst)
		}

	case op.IsUnary():
		switch resultDType {
		case dtypes.Int32:
			step = unaryIntStep[int32](op, operands[0], dst)
		case dtypes.Int64:
			step = unaryIntStep[int64](op, operands[0], dst)
		case dtypes.Float32:
			step = unaryFloatStep[float32](op, operands[0], dst)
		case dtypes.Float64:
			step = unaryFloatStep[float64](op, operands[0], dst)
		}

	case op == backends.OpTypeClamp:
		switch resultDType {
		case dtypes.Int32:
			step = clampStep[int32](operands[0], operands[1], operands[2], dst)
		case dtypes.Int64:
			step = clampStep[int64](operands[0], operands[1], operands[2], dst)
		case dtypes.Float32:
			step = clampStep[float32](operands[0], operands[1], operands[2], dst)
		case dtypes.Float64:
			step = clampStep[float64](operands[0], operands[1], operands[2], dst)
		}
	}
	if step == nil {
		return nil, errors.Wrapf(backends.ErrNotImplemented, "op %s not implemented for dtype %s (operand dtype %s) in backend %q",
			op, p.Locals[inst.Result], p.DType(inst.Operands[0]), BackendName)
	}
	return step, nil
}

func binaryLoop[T, R any](fn func(a, b T) R, lhs, rhs, dst int) stepFn {
	return func(slots []any, n int) {
		a, b, out := slots[lhs].([]T)[:n], slots[rhs].([]T)[:n], slots[dst].([]R)[:n]
		for ii := range out {
			out[ii] = fn(a[ii], b[ii])
		}
	}
}

func unaryLoop[T any](fn func(a T) T, src, dst int) stepFn {
	return func(slots []any, n int) {
		a, out := slots[src].([]T)[:n], slots[dst].([]T)[:n]
		for ii := range out {
			out[ii] = fn(a[ii])
		}
	}
}

func binaryFloatStep[T constraints.Float](op backends.OpType, lhs, rhs, dst int) stepFn {
	switch op {
	case backends.OpTypeAdd:
		// The most common ops get an explicit loop.
		return func(slots []any, n int) {
			a, b, out := slots[lhs].([]T)[:n], slots[rhs].([]T)[:n], slots[dst].([]T)[:n]
			for ii := range out {
				out[ii] = a[ii] + b[ii]
			}
		}
	case backends.OpTypeMul:
		return func(slots []any, n int) {
			a, b, out := slots[lhs].([]T)[:n], slots[rhs].([]T)[:n], slots[dst].([]T)[:n]
			for ii := range out {
				out[ii] = a[ii] * b[ii]
			}
		}
	case backends.OpTypeSub:
		return binaryLoop(func(a, b T) T { return a - b }, lhs, rhs, dst)
	case backends.OpTypeDiv:
		return binaryLoop(func(a, b T) T { return a / b }, lhs, rhs, dst)
	case backends.OpTypePow:
		return binaryLoop(func(a, b T) T { return T(math.Pow(float64(a), float64(b))) }, lhs, rhs, dst)
	case backends.OpTypeMax:
		return binaryLoop(func(a, b T) T { return max(a, b) }, lhs, rhs, dst)
	case backends.OpTypeMin:
		return binaryLoop(func(a, b T) T { return min(a, b) }, lhs, rhs, dst)
	case backends.OpTypeRem:
		return binaryLoop(func(a, b T) T { return T(math.Mod(float64(a), float64(b))) }, lhs, rhs, dst)
	}
	return nil
}

// binaryIntStep implements integer binary ops. Division and remainder by zero yield 0.
func binaryIntStep[T constraints.Signed](op backends.OpType, lhs, rhs, dst int) stepFn {
	switch op {
	case backends.OpTypeAdd:
		return binaryLoop(func(a, b T) T { return a + b }, lhs, rhs, dst)
	case backends.OpTypeSub:
		return binaryLoop(func(a, b T) T { return a - b }, lhs, rhs, dst)
	case backends.OpTypeMul:
		return binaryLoop(func(a, b T) T { return a * b }, lhs, rhs, dst)
	case backends.OpTypeDiv:
		return binaryLoop(func(a, b T) T {
			if b == 0 {
				return 0
			}
			return a / b
		}, lhs, rhs, dst)
	case backends.OpTypeRem:
		return binaryLoop(func(a, b T) T {
			if b == 0 {
				return 0
			}
			return a % b
		}, lhs, rhs, dst)
	case backends.OpTypePow:
		return binaryLoop(execScalarPowIntGeneric[T], lhs, rhs, dst)
	case backends.OpTypeMax:
		return binaryLoop(func(a, b T) T { return max(a, b) }, lhs, rhs, dst)
	case backends.OpTypeMin:
		return binaryLoop(func(a, b T) T { return min(a, b) }, lhs, rhs, dst)
	}
	return nil
}

// execScalarPowIntGeneric is a O(num of bits) for Pow(base, exp) implementation for integers.
// Negative exponents yield 1.
func execScalarPowIntGeneric[T constraints.Signed](base, exp T) T {
	result := T(1)
	for exp > 0 {
		if exp%2 == 1 {
			result *= base
		}
		base *= base
		exp >>= 1 // exp /= 2
	}
	return result
}

func compareStep[T constraints.Integer | constraints.Float](op backends.OpType, lhs, rhs, dst int) stepFn {
	switch op {
	case backends.OpTypeEqual:
		return binaryLoop(func(a, b T) bool { return a == b }, lhs, rhs, dst)
	case backends.OpTypeNotEqual:
		return binaryLoop(func(a, b T) bool { return a != b }, lhs, rhs, dst)
	case backends.OpTypeGreaterThan:
		return binaryLoop(func(a, b T) bool { return a > b }, lhs, rhs, dst)
	case backends.OpTypeGreaterOrEqual:
		return binaryLoop(func(a, b T) bool { return a >= b }, lhs, rhs, dst)
	case backends.OpTypeLessThan:
		return binaryLoop(func(a, b T) bool { return a < b }, lhs, rhs, dst)
	case backends.OpTypeLessOrEqual:
		return binaryLoop(func(a, b T) bool { return a <= b }, lhs, rhs, dst)
	}
	return nil
}

func compareBoolStep(op backends.OpType, lhs, rhs, dst int) stepFn {
	switch op {
	case backends.OpTypeEqual:
		return binaryLoop(func(a, b bool) bool { return a == b }, lhs, rhs, dst)
	case backends.OpTypeNotEqual:
		return binaryLoop(func(a, b bool) bool { return a != b }, lhs, rhs, dst)
	}
	return nil
}

func unaryFloatStep[T constraints.Float](op backends.OpType, src, dst int) stepFn {
	var fn func(a T) T
	switch op {
	case backends.OpTypeIdentity:
		fn = func(a T) T { return a }
	case backends.OpTypeNeg:
		fn = func(a T) T { return -a }
	case backends.OpTypeAbs:
		fn = func(a T) T { return T(math.Abs(float64(a))) }
	case backends.OpTypeExp:
		fn = func(a T) T { return T(math.Exp(float64(a))) }
	case backends.OpTypeLog:
		fn = func(a T) T { return T(math.Log(float64(a))) }
	case backends.OpTypeSqrt:
		fn = func(a T) T { return T(math.Sqrt(float64(a))) }
	case backends.OpTypeTanh:
		fn = func(a T) T { return T(math.Tanh(float64(a))) }
	case backends.OpTypeLogistic:
		fn = func(a T) T { return T(1 / (1 + math.Exp(-float64(a)))) }
	case backends.OpTypeRelu:
		return func(slots []any, n int) {
			a, out := slots[src].([]T)[:n], slots[dst].([]T)[:n]
			for ii := range out {
				out[ii] = max(a[ii], 0)
			}
		}
	case backends.OpTypeCos:
		fn = func(a T) T { return T(math.Cos(float64(a))) }
	case backends.OpTypeSin:
		fn = func(a T) T { return T(math.Sin(float64(a))) }
	case backends.OpTypeErf:
		fn = func(a T) T { return T(math.Erf(float64(a))) }
	default:
		return nil
	}
	return unaryLoop(fn, src, dst)
}

func unaryIntStep[T constraints.Signed](op backends.OpType, src, dst int) stepFn {
	switch op {
	case backends.OpTypeIdentity:
		return unaryLoop(func(a T) T { return a }, src, dst)
	case backends.OpTypeNeg:
		return unaryLoop(func(a T) T { return -a }, src, dst)
	case backends.OpTypeAbs:
		return unaryLoop(func(a T) T {
			if a < 0 {
				return -a
			}
			return a
		}, src, dst)
	case backends.OpTypeRelu:
		return unaryLoop(func(a T) T { return max(a, 0) }, src, dst)
	}
	return nil
}

func clampStep[T constraints.Integer | constraints.Float](operand, lower, upper, dst int) stepFn {
	return func(slots []any, n int) {
		x, lo, hi, out := slots[operand].([]T)[:n], slots[lower].([]T)[:n], slots[upper].([]T)[:n], slots[dst].([]T)[:n]
		for ii := range out {
			out[ii] = min(max(x[ii], lo[ii]), hi[ii])
		}
	}
}

// convertStep converts between compute dtypes.
func convertStep(from, to dtypes.DType, src, dst int) stepFn {
	switch from {
	case dtypes.Bool:
		switch to {
		case dtypes.Bool:
			return func(slots []any, n int) { copy(slots[dst].([]bool)[:n], slots[src].([]bool)[:n]) }
		case dtypes.Int32:
			return boolToNumericStep[int32](src, dst)
		case dtypes.Int64:
			return boolToNumericStep[int64](src, dst)
		case dtypes.Float32:
			return boolToNumericStep[float32](src, dst)
		case dtypes.Float64:
			return boolToNumericStep[float64](src, dst)
		}
	case dtypes.Int32:
		return convertFromStep[int32](to, src, dst)
	case dtypes.Int64:
		return convertFromStep[int64](to, src, dst)
	case dtypes.Float32:
		return convertFromStep[float32](to, src, dst)
	case dtypes.Float64:
		return convertFromStep[float64](to, src, dst)
	}
	return nil
}

func convertFromStep[From PODNumericConstraints](to dtypes.DType, src, dst int) stepFn {
	switch to {
	case dtypes.Bool:
		return func(slots []any, n int) { numericToBool(slots[src].([]From)[:n], slots[dst].([]bool)[:n]) }
	case dtypes.Int32:
		return convertNumericStep[From, int32](src, dst)
	case dtypes.Int64:
		return convertNumericStep[From, int64](src, dst)
	case dtypes.Float32:
		return convertNumericStep[From, float32](src, dst)
	case dtypes.Float64:
		return convertNumericStep[From, float64](src, dst)
	}
	return nil
}

func convertNumericStep[From, To PODNumericConstraints](src, dst int) stepFn {
	return func(slots []any, n int) {
		convertNumeric(slots[src].([]From)[:n], slots[dst].([]To)[:n])
	}
}

func boolToNumericStep[To PODNumericConstraints](src, dst int) stepFn {
	return func(slots []any, n int) {
		boolToNumeric(slots[src].([]bool)[:n], slots[dst].([]To)[:n])
	}
}
