package simplego

import (
	"testing"

	"github.com/gomlx/fusion/backends"
	"github.com/gomlx/fusion/pkg/core/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestBuffers(t *testing.T) {
	b := newTestBackend(t, "devices=2")
	buf := fromFlat(t, b, []int32{1, 7, 3}, 3)
	require.Equal(t, int64(1), b.LiveBuffers())
	s, err := b.BufferShape(buf)
	require.NoError(t, err)
	require.True(t, s.Equal(shapes.Make(dtypes.Int32, 3)))
	require.Equal(t, []int32{1, 7, 3}, toFlat[int32](t, b, buf))

	// Clone is independent of the original.
	clone, err := b.BufferClone(buf)
	require.NoError(t, err)
	require.NoError(t, b.BufferFinalize(buf))
	require.Equal(t, []int32{1, 7, 3}, toFlat[int32](t, b, clone))

	// Finalizing twice is an error, as is using a finalized buffer.
	require.Error(t, b.BufferFinalize(buf))
	_, err = b.BufferShape(buf)
	require.Error(t, err)

	// Moving between devices.
	moved, err := b.BufferToDevice(clone, 1)
	require.NoError(t, err)
	deviceNum, err := b.BufferDeviceNum(moved)
	require.NoError(t, err)
	require.Equal(t, backends.DeviceNum(1), deviceNum)
	_, err = b.BufferToDevice(moved, 2)
	require.Error(t, err)
	require.NoError(t, b.BufferFinalize(moved))
	require.Equal(t, int64(0), b.LiveBuffers())
}

func TestBufferFromFlatDataErrors(t *testing.T) {
	b := newTestBackend(t, "")
	_, err := b.BufferFromFlatData(0, []float32{1, 2}, shapes.Make(dtypes.Float64, 2))
	require.Error(t, err, "dtype mismatch")
	_, err = b.BufferFromFlatData(0, []float32{1, 2}, shapes.Make(dtypes.Float32, 3))
	require.Error(t, err, "size mismatch")
	_, err = b.BufferFromFlatData(1, []float32{1, 2}, shapes.Make(dtypes.Float32, 2))
	require.Error(t, err, "invalid device")
	_, err = b.NewBuffer(0, shapes.Make(dtypes.Uint8, 2))
	require.ErrorIs(t, err, backends.ErrNotImplemented)

	buf := fromFlat(t, b, []float16.Float16{float16.Fromfloat32(1.5)}, 1)
	require.Equal(t, float32(1.5), toFlat[float16.Float16](t, b, buf)[0].Float32())
	require.Error(t, b.BufferToFlatData(buf, make([]float16.Float16, 2)))
}
