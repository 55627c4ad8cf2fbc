package simplego

import (
	"math"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/x448/float16"
)

// FuncForDispatcher is type of functions that the DTypeDispatcher can handle.
type FuncForDispatcher func(params ...any)

const MaxDTypes = 32

// DTypeDispatcher calls the function registered for a dtype.
type DTypeDispatcher struct {
	Name  string
	fnMap [MaxDTypes]FuncForDispatcher
}

// NewDTypeDispatcher creates a new dispatcher for a class of functions.
func NewDTypeDispatcher(name string) *DTypeDispatcher {
	return &DTypeDispatcher{
		Name: name,
	}
}

// Dispatch call the function that matches the dtype.
func (d *DTypeDispatcher) Dispatch(dtype dtypes.DType, params ...any) {
	if dtype >= MaxDTypes {
		exceptions.Panicf("dtype %s not supported by %s", dtype, d.Name)
	}
	fn := d.fnMap[dtype]
	if fn == nil {
		exceptions.Panicf("dtype %s not supported by %s", dtype, d.Name)
	}
	fn(params...)
}

// IsSupported returns whether a function was registered for the dtype.
func (d *DTypeDispatcher) IsSupported(dtype dtypes.DType) bool {
	return dtype < MaxDTypes && d.fnMap[dtype] != nil
}

// Register a function to handle a specific dtype.
// This overwrites any previous setting for the same dtype.
func (d *DTypeDispatcher) Register(dtype dtypes.DType, fn FuncForDispatcher) {
	if dtype >= MaxDTypes {
		exceptions.Panicf("dtype %s not supported by %s", dtype, d.Name)
	}
	d.fnMap[dtype] = fn
}

// SupportedTypesConstraints enumerates the types supported by SimpleGo buffers.
type SupportedTypesConstraints interface {
	bool | int32 | int64 | float32 | float64 | float16.Float16
}

// PODNumericConstraints are the Go types used in computations: Float16 is computed as float32.
type PODNumericConstraints interface {
	int32 | int64 | float32 | float64
}

// computeDType returns the dtype used to hold intermediary values of the given dtype: Float16 values
// are computed in Float32, all others in their own dtype.
func computeDType(dtype dtypes.DType) dtypes.DType {
	if dtype == dtypes.Float16 {
		return dtypes.Float32
	}
	return dtype
}

// makeComputeSlice allocates a slice of the compute type for dtype.
func makeComputeSlice(dtype dtypes.DType, length int) any {
	switch computeDType(dtype) {
	case dtypes.Bool:
		return make([]bool, length)
	case dtypes.Int32:
		return make([]int32, length)
	case dtypes.Int64:
		return make([]int64, length)
	case dtypes.Float32:
		return make([]float32, length)
	case dtypes.Float64:
		return make([]float64, length)
	}
	exceptions.Panicf("dtype %s not supported by %q backend", dtype, BackendName)
	return nil
}

// fillFromFloat64 fills the compute slice (see makeComputeSlice) with the value converted to its type.
func fillFromFloat64(flat any, value float64) {
	switch flat := flat.(type) {
	case []bool:
		fillGeneric(flat, value != 0)
	case []int32:
		fillGeneric(flat, int32(value))
	case []int64:
		fillGeneric(flat, int64(value))
	case []float32:
		fillGeneric(flat, float32(value))
	case []float64:
		fillGeneric(flat, value)
	default:
		exceptions.Panicf("fillFromFloat64: unsupported slice type %T", flat)
	}
}

func fillGeneric[T SupportedTypesConstraints](flat []T, value T) {
	for ii := range flat {
		flat[ii] = value
	}
}

// elementToFloat64 returns flat[idx] converted to float64. Bool values are converted to 0 or 1.
func elementToFloat64(flat any, idx int) float64 {
	switch flat := flat.(type) {
	case []bool:
		if flat[idx] {
			return 1
		}
		return 0
	case []int32:
		return float64(flat[idx])
	case []int64:
		return float64(flat[idx])
	case []float32:
		return float64(flat[idx])
	case []float64:
		return flat[idx]
	case []float16.Float16:
		return float64(flat[idx].Float32())
	}
	exceptions.Panicf("elementToFloat64: unsupported slice type %T", flat)
	return 0
}

// float16ToFloat32 converts src into dst, which must have the same length.
func float16ToFloat32(src []float16.Float16, dst []float32) {
	for ii, v := range src {
		dst[ii] = v.Float32()
	}
}

// float32ToFloat16 converts src into dst, which must have the same length.
func float32ToFloat16(src []float32, dst []float16.Float16) {
	for ii, v := range src {
		dst[ii] = float16.Fromfloat32(v)
	}
}

// convertNumeric converts between the numeric compute types.
func convertNumeric[From, To PODNumericConstraints](src []From, dst []To) {
	for ii, v := range src {
		dst[ii] = To(v)
	}
}

func numericToBool[From PODNumericConstraints](src []From, dst []bool) {
	for ii, v := range src {
		dst[ii] = v != 0
	}
}

func boolToNumeric[To PODNumericConstraints](src []bool, dst []To) {
	for ii, v := range src {
		if v {
			dst[ii] = 1
		} else {
			dst[ii] = 0
		}
	}
}

// lowestValue returns the lowest value of T, used as the initial value for ReduceMax.
func lowestValue[T PODNumericConstraints]() T {
	var t T
	switch any(t).(type) {
	case float32, float64:
		return T(math.Inf(-1))
	case int32:
		lowest := int32(math.MinInt32)
		return T(lowest)
	}
	lowest := int64(math.MinInt64)
	return T(lowest)
}
