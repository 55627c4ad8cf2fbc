package backends

import (
	"encoding/json"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceID(t *testing.T) {
	a := DeviceID{Backend: "go", Num: 0}
	b := DeviceID{Backend: "go", Num: 1}
	c := DeviceID{Backend: "xla", Num: 0}
	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
	assert.False(t, a.Less(a))
	assert.True(t, b.Less(c))
	assert.Equal(t, "go:1", b.String())
}

func TestCubeDim(t *testing.T) {
	assert.Equal(t, 256, AlternateCubeDim.Size())
	assert.Equal(t, "16x16x1", AlternateCubeDim.String())

	cube, err := ParseCubeDim("32x8")
	require.NoError(t, err)
	assert.Equal(t, CubeDim{X: 32, Y: 8, Z: 1}, cube)

	_, err = ParseCubeDim("32x0x1")
	require.Error(t, err)
	_, err = ParseCubeDim("1x2x3x4")
	require.Error(t, err)
	_, err = ParseCubeDim("abc")
	require.Error(t, err)
}

func TestOpType(t *testing.T) {
	assert.True(t, OpTypeAdd.IsBinary())
	assert.True(t, OpTypeAdd.IsElementWise())
	assert.True(t, OpTypeLessThan.IsComparison())
	assert.False(t, OpTypeLessThan.IsBinary())
	assert.True(t, OpTypeRelu.IsUnary())
	assert.True(t, OpTypeIdentity.IsUnary())
	assert.True(t, OpTypeClamp.IsElementWise())
	assert.True(t, OpTypeFull.IsElementWise())
	assert.False(t, OpTypeReduceSum.IsElementWise())
	assert.False(t, OpTypeMatMul.IsElementWise())
	assert.Equal(t, 3, OpTypeClamp.NumOperands())
	assert.Equal(t, -1, OpTypeReshape.NumOperands())

	assert.Equal(t, "GreaterOrEqual", OpTypeGreaterOrEqual.String())
	op, err := OpTypeString("relu")
	require.NoError(t, err)
	assert.Equal(t, OpTypeRelu, op)
}

// addMulRelu builds relu((i0 + i1) * i2).
func addMulRelu() *Program {
	p := &Program{}
	x, y, z := p.AddInput(dtypes.Float32), p.AddInput(dtypes.Float32), p.AddInput(dtypes.Float32)
	sum := p.AddInstruction(OpTypeAdd, dtypes.Float32, x, y)
	prod := p.AddInstruction(OpTypeMul, dtypes.Float32, sum, z)
	relu := p.AddInstruction(OpTypeRelu, dtypes.Float32, prod)
	p.AddOutput(relu)
	return p
}

func TestProgram(t *testing.T) {
	p := addMulRelu()
	require.NoError(t, p.Validate())
	assert.Equal(t,
		"in(Float32,Float32,Float32) sc() | l0:Float32=Add(i0,i1) l1:Float32=Mul(l0,i2) l2:Float32=Relu(l1) | out(l2)",
		p.Signature())
	assert.Equal(t, []dtypes.DType{dtypes.Float32}, p.OutputDTypes())

	// Same structure, same signature.
	assert.Equal(t, p.Signature(), addMulRelu().Signature())

	// Different wiring, different signature.
	p2 := &Program{}
	x, y, z := p2.AddInput(dtypes.Float32), p2.AddInput(dtypes.Float32), p2.AddInput(dtypes.Float32)
	sum := p2.AddInstruction(OpTypeAdd, dtypes.Float32, x, z)
	prod := p2.AddInstruction(OpTypeMul, dtypes.Float32, sum, y)
	p2.AddOutput(p2.AddInstruction(OpTypeRelu, dtypes.Float32, prod))
	assert.NotEqual(t, p.Signature(), p2.Signature())

	// JSON round-trip keeps the structure.
	data, err := json.Marshal(p)
	require.NoError(t, err)
	var p3 Program
	require.NoError(t, json.Unmarshal(data, &p3))
	if diff := cmp.Diff(*p, p3); diff != "" {
		t.Fatalf("program changed after JSON round-trip (-want +got):\n%s", diff)
	}
}

func TestProgramValidate(t *testing.T) {
	// Comparison must return Bool.
	p := &Program{}
	x := p.AddInput(dtypes.Float32)
	p.AddInstruction(OpTypeLessThan, dtypes.Float32, x, x)
	require.Error(t, p.Validate())

	// Mixed dtypes.
	p = &Program{}
	x, y := p.AddInput(dtypes.Float32), p.AddInput(dtypes.Int32)
	p.AddInstruction(OpTypeAdd, dtypes.Float32, x, y)
	require.Error(t, p.Validate())

	// Wrong arity.
	p = &Program{}
	x = p.AddInput(dtypes.Float32)
	p.AddInstruction(OpTypeAdd, dtypes.Float32, x)
	require.Error(t, p.Validate())

	// Use before definition.
	p = &Program{}
	x = p.AddInput(dtypes.Float32)
	p.AddInstruction(OpTypeNeg, dtypes.Float32, Operand{Kind: OperandLocal, Index: 0})
	require.Error(t, p.Validate())

	// Full with a scalar operand, and a conversion.
	p = &Program{}
	s := p.AddScalar(dtypes.Int64)
	full := p.AddInstruction(OpTypeFull, dtypes.Int64, s)
	p.AddOutput(p.AddInstruction(OpTypeConvertDType, dtypes.Float16, full))
	require.NoError(t, p.Validate())

	// Not elementwise.
	p = &Program{}
	x = p.AddInput(dtypes.Float32)
	p.AddInstruction(OpTypeReduceSum, dtypes.Float32, x)
	require.Error(t, p.Validate())
}

func TestRegistry(t *testing.T) {
	_, err := NewWithConfig("nonexistent:foo")
	require.Error(t, err)

	var gotConfig string
	Register("test_backend", func(config string) (Backend, error) {
		gotConfig = config
		return nil, nil
	})
	assert.Contains(t, List(), "test_backend")
	_, err = NewWithConfig("test_backend:a=1")
	require.NoError(t, err)
	assert.Equal(t, "a=1", gotConfig)
	_, err = NewWithConfig("test_backend")
	require.NoError(t, err)
	assert.Equal(t, "", gotConfig)
}
