package simplego

import (
	"math"
	"testing"

	"github.com/gomlx/fusion/backends"
	"github.com/gomlx/fusion/pkg/core/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
	"gonum.org/v1/gonum/floats"
)

// addMulReluProgram builds relu((i0 + i1) * i2), and also outputs the intermediary sum.
func addMulReluProgram(dtype dtypes.DType) *backends.Program {
	p := &backends.Program{}
	x, y, z := p.AddInput(dtype), p.AddInput(dtype), p.AddInput(dtype)
	sum := p.AddInstruction(backends.OpTypeAdd, dtype, x, y)
	prod := p.AddInstruction(backends.OpTypeMul, dtype, sum, z)
	p.AddOutput(p.AddInstruction(backends.OpTypeRelu, dtype, prod))
	p.AddOutput(sum)
	return p
}

func iotaFloat64(n int, scale, offset float64) []float64 {
	flat := make([]float64, n)
	for ii := range flat {
		flat[ii] = float64(ii)*scale + offset
	}
	return flat
}

func TestKernelAddMulRelu(t *testing.T) {
	for _, config := range []string{"parallelism=0", "parallelism=4", "parallelism=4,cube=7x1x1"} {
		t.Run(config, func(t *testing.T) {
			b := newTestBackend(t, config)
			const size = 1000
			x, y, z := iotaFloat64(size, 0.1, -50), iotaFloat64(size, 0.2, 3), iotaFloat64(size, -0.01, 5)
			want := make([]float64, size)
			wantSum := make([]float64, size)
			for ii := range want {
				wantSum[ii] = x[ii] + y[ii]
				want[ii] = max(wantSum[ii]*z[ii], 0)
			}

			for _, cubeDim := range []backends.CubeDim{b.DefaultCubeDim(), backends.AlternateCubeDim} {
				kernel, err := b.Compile(addMulReluProgram(dtypes.Float64), cubeDim)
				require.NoError(t, err)
				require.Equal(t, cubeDim, kernel.CubeDim())
				out0, err := b.NewBuffer(0, shapes.Make(dtypes.Float64, size))
				require.NoError(t, err)
				out1, err := b.NewBuffer(0, shapes.Make(dtypes.Float64, size))
				require.NoError(t, err)
				inputs := []backends.Buffer{fromFlat(t, b, x, size), fromFlat(t, b, y, size), fromFlat(t, b, z, size)}
				require.NoError(t, kernel.Execute(inputs, nil, []backends.Buffer{out0, out1}))
				assert.True(t, floats.EqualApprox(want, toFlat[float64](t, b, out0), 1e-9))
				assert.True(t, floats.EqualApprox(wantSum, toFlat[float64](t, b, out1), 1e-9))
			}
			assert.Equal(t, int64(2), b.KernelLaunches())
		})
	}
}

func TestKernelBroadcastAndScalars(t *testing.T) {
	b := newTestBackend(t, "parallelism=2,cube=4x1x1")
	// out = clamp(x * i1 - s0, s1, s2), with i1 of size 1.
	p := &backends.Program{}
	x, factor := p.AddInput(dtypes.Float32), p.AddInput(dtypes.Float32)
	s0, s1, s2 := p.AddScalar(dtypes.Float32), p.AddScalar(dtypes.Float32), p.AddScalar(dtypes.Float32)
	v := p.AddInstruction(backends.OpTypeMul, dtypes.Float32, x, factor)
	v = p.AddInstruction(backends.OpTypeSub, dtypes.Float32, v, s0)
	p.AddOutput(p.AddInstruction(backends.OpTypeClamp, dtypes.Float32, v, s1, s2))
	kernel, err := b.Compile(p, b.DefaultCubeDim())
	require.NoError(t, err)

	out, err := b.NewBuffer(0, shapes.Make(dtypes.Float32, 2, 5))
	require.NoError(t, err)
	inputs := []backends.Buffer{
		fromFlat(t, b, []float32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, 2, 5),
		fromFlat(t, b, []float32{2}),
	}
	require.NoError(t, kernel.Execute(inputs, []float64{1, 0, 10}, []backends.Buffer{out}))
	assert.Equal(t, []float32{0, 1, 3, 5, 7, 9, 10, 10, 10, 10}, toFlat[float32](t, b, out))

	// Wrong number of scalars.
	require.Error(t, kernel.Execute(inputs, []float64{1}, []backends.Buffer{out}))
	// Incompatible input size.
	inputs[1] = fromFlat(t, b, []float32{1, 2}, 2)
	require.Error(t, kernel.Execute(inputs, []float64{1, 0, 10}, []backends.Buffer{out}))
}

func TestKernelDTypes(t *testing.T) {
	b := newTestBackend(t, "")

	// Float16 in, comparison to Bool, conversion of Bool to Int32.
	p := &backends.Program{}
	x := p.AddInput(dtypes.Float16)
	zero := p.AddScalar(dtypes.Float16)
	neg := p.AddInstruction(backends.OpTypeNeg, dtypes.Float16, x)
	p.AddOutput(neg)
	isPositive := p.AddInstruction(backends.OpTypeGreaterThan, dtypes.Bool, x, zero)
	p.AddOutput(isPositive)
	p.AddOutput(p.AddInstruction(backends.OpTypeConvertDType, dtypes.Int32, isPositive))
	kernel, err := b.Compile(p, b.DefaultCubeDim())
	require.NoError(t, err)

	values := []float16.Float16{float16.Fromfloat32(-1.5), float16.Fromfloat32(0), float16.Fromfloat32(2.25)}
	outNeg := must.M1(b.NewBuffer(0, shapes.Make(dtypes.Float16, 3)))
	outBool := must.M1(b.NewBuffer(0, shapes.Make(dtypes.Bool, 3)))
	outInt := must.M1(b.NewBuffer(0, shapes.Make(dtypes.Int32, 3)))
	require.NoError(t, kernel.Execute([]backends.Buffer{fromFlat(t, b, values, 3)}, []float64{0},
		[]backends.Buffer{outNeg, outBool, outInt}))
	gotNeg := toFlat[float16.Float16](t, b, outNeg)
	assert.Equal(t, []float32{1.5, 0, -2.25}, []float32{gotNeg[0].Float32(), gotNeg[1].Float32(), gotNeg[2].Float32()})
	assert.Equal(t, []bool{false, false, true}, toFlat[bool](t, b, outBool))
	assert.Equal(t, []int32{0, 0, 1}, toFlat[int32](t, b, outInt))

	// Integer ops: division by zero yields 0.
	p = &backends.Program{}
	a, d := p.AddInput(dtypes.Int64), p.AddInput(dtypes.Int64)
	p.AddOutput(p.AddInstruction(backends.OpTypeDiv, dtypes.Int64, a, d))
	p.AddOutput(p.AddInstruction(backends.OpTypePow, dtypes.Int64, a, d))
	kernel, err = b.Compile(p, b.DefaultCubeDim())
	require.NoError(t, err)
	outDiv := must.M1(b.NewBuffer(0, shapes.Make(dtypes.Int64, 3)))
	outPow := must.M1(b.NewBuffer(0, shapes.Make(dtypes.Int64, 3)))
	require.NoError(t, kernel.Execute(
		[]backends.Buffer{fromFlat(t, b, []int64{7, 3, -8}, 3), fromFlat(t, b, []int64{2, 0, 3}, 3)}, nil,
		[]backends.Buffer{outDiv, outPow}))
	assert.Equal(t, []int64{3, 0, -2}, toFlat[int64](t, b, outDiv))
	assert.Equal(t, []int64{49, 1, -512}, toFlat[int64](t, b, outPow))

	// Full, with no inputs.
	p = &backends.Program{}
	p.AddOutput(p.AddInstruction(backends.OpTypeFull, dtypes.Float64, p.AddScalar(dtypes.Float64)))
	kernel, err = b.Compile(p, b.DefaultCubeDim())
	require.NoError(t, err)
	outFull := must.M1(b.NewBuffer(0, shapes.Make(dtypes.Float64, 2, 2)))
	require.NoError(t, kernel.Execute(nil, []float64{math.Pi}, []backends.Buffer{outFull}))
	assert.Equal(t, []float64{math.Pi, math.Pi, math.Pi, math.Pi}, toFlat[float64](t, b, outFull))
}

func TestKernelUnsupported(t *testing.T) {
	b := newTestBackend(t, "")
	p := &backends.Program{}
	x := p.AddInput(dtypes.Bool)
	p.AddOutput(p.AddInstruction(backends.OpTypeAdd, dtypes.Bool, x, x))
	_, err := b.Compile(p, b.DefaultCubeDim())
	require.ErrorIs(t, err, backends.ErrNotImplemented)

	p = &backends.Program{}
	x = p.AddInput(dtypes.Float32)
	p.AddOutput(p.AddInstruction(backends.OpTypeAdd, dtypes.Float64, x, x))
	_, err = b.Compile(p, b.DefaultCubeDim())
	require.Error(t, err, "invalid program")
}
