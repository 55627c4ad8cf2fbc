package backends

// OpType is an enum of all generic operations that can be described to the fusion engine.
//
// Elementwise operations can be fused into a Program and compiled into a Kernel. The others are
// executed one at a time with KernelInterface.ExecuteOp.
type OpType int

//go:generate go tool enumer -type=OpType -trimprefix=OpType -output=gen_optype_enumer.go optype.go

const (
	OpTypeInvalid OpType = iota
	OpTypeIdentity
	OpTypeFull

	// Binary elementwise.

	OpTypeAdd
	OpTypeSub
	OpTypeMul
	OpTypeDiv
	OpTypePow
	OpTypeMax
	OpTypeMin
	OpTypeRem

	// Comparisons: elementwise with a Bool result.

	OpTypeEqual
	OpTypeNotEqual
	OpTypeGreaterThan
	OpTypeGreaterOrEqual
	OpTypeLessThan
	OpTypeLessOrEqual

	// Unary elementwise.

	OpTypeNeg
	OpTypeAbs
	OpTypeExp
	OpTypeLog
	OpTypeSqrt
	OpTypeTanh
	OpTypeLogistic
	OpTypeRelu
	OpTypeCos
	OpTypeSin
	OpTypeErf
	OpTypeConvertDType

	// OpTypeClamp takes the operand, the minimum and the maximum.
	OpTypeClamp

	// Not fusable.

	OpTypeReduceSum
	OpTypeReduceMax
	OpTypeReshape
	OpTypeMatMul

	// OpTypeLast should always be kept the last, it is used as a counter/marker for OpType.
	OpTypeLast
)

// IsBinary returns whether the op takes two operands of the same dtype and returns a value of that dtype.
func (op OpType) IsBinary() bool {
	return op >= OpTypeAdd && op <= OpTypeRem
}

// IsComparison returns whether the op takes two operands of the same dtype and returns a Bool.
func (op OpType) IsComparison() bool {
	return op >= OpTypeEqual && op <= OpTypeLessOrEqual
}

// IsUnary returns whether the op takes one operand. ConvertDType and Identity are unary.
func (op OpType) IsUnary() bool {
	return (op >= OpTypeNeg && op <= OpTypeConvertDType) || op == OpTypeIdentity
}

// IsElementWise returns whether each element of the output depends only on the elements at the same position
// of its inputs. These are the operations that can be fused.
func (op OpType) IsElementWise() bool {
	return op == OpTypeFull || op.IsBinary() || op.IsComparison() || op.IsUnary() || op == OpTypeClamp
}

// NumOperands returns the number of operands (tensors or scalars) taken by an elementwise op, or -1 if the op
// is not elementwise.
func (op OpType) NumOperands() int {
	switch {
	case op == OpTypeFull:
		return 1
	case op.IsUnary():
		return 1
	case op.IsBinary(), op.IsComparison():
		return 2
	case op == OpTypeClamp:
		return 3
	}
	return -1
}
