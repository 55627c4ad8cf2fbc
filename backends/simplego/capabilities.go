package simplego

import (
	"github.com/gomlx/fusion/backends"
	"github.com/gomlx/gopjrt/dtypes"
)

// Capabilities of the SimpleGo backends: the set of supported operations and data types.
var Capabilities = backends.Capabilities{
	Operations: map[backends.OpType]bool{
		backends.OpTypeIdentity: true,
		backends.OpTypeFull:     true,

		// Standard unary operations:
		backends.OpTypeAbs:          true,
		backends.OpTypeConvertDType: true,
		backends.OpTypeCos:          true,
		backends.OpTypeErf:          true,
		backends.OpTypeExp:          true,
		backends.OpTypeLog:          true,
		backends.OpTypeLogistic:     true,
		backends.OpTypeNeg:          true,
		backends.OpTypeRelu:         true,
		backends.OpTypeSin:          true,
		backends.OpTypeSqrt:         true,
		backends.OpTypeTanh:         true,

		// Standard binary operations:
		backends.OpTypeAdd: true,
		backends.OpTypeDiv: true,
		backends.OpTypeMax: true,
		backends.OpTypeMin: true,
		backends.OpTypeMul: true,
		backends.OpTypePow: true,
		backends.OpTypeRem: true,
		backends.OpTypeSub: true,

		// Comparison operators.
		backends.OpTypeEqual:          true,
		backends.OpTypeNotEqual:       true,
		backends.OpTypeGreaterOrEqual: true,
		backends.OpTypeGreaterThan:    true,
		backends.OpTypeLessOrEqual:    true,
		backends.OpTypeLessThan:       true,

		backends.OpTypeClamp: true,

		// Executed directly.
		backends.OpTypeReduceSum: true,
		backends.OpTypeReduceMax: true,
		backends.OpTypeReshape:   true,
		backends.OpTypeMatMul:    true,
	},

	DTypes: map[dtypes.DType]bool{
		dtypes.Bool:    true,
		dtypes.Int32:   true,
		dtypes.Int64:   true,
		dtypes.Float16: true,
		dtypes.Float32: true,
		dtypes.Float64: true,
	},
}
