package handles

import (
	"testing"

	"github.com/gomlx/fusion/backends"
	"github.com/gomlx/fusion/backends/simplego"
	"github.com/gomlx/fusion/pkg/core/shapes"
	"github.com/gomlx/fusion/pkg/fusion/ops"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBackend(t *testing.T) *simplego.Backend {
	b := must.M1(simplego.New(""))
	t.Cleanup(b.Finalize)
	return b.(*simplego.Backend)
}

func TestTable(t *testing.T) {
	backend := newBackend(t)
	table := New(backend)
	newBuffer := func() backends.Buffer {
		return must.M1(backend.NewBuffer(0, shapes.Make(dtypes.Float32, 2)))
	}

	id := ops.NewTensorID()
	desc := ops.TensorDescription{ID: id, DType: dtypes.Float32, Dimensions: []int{2}}
	table.CreateEmpty(id)
	assert.True(t, table.Contains(id))
	assert.Equal(t, 0, table.Len())
	require.Panics(t, func() { table.Get(desc) }, "empty entry")
	require.Panics(t, func() { table.CreateEmpty(id) }, "duplicate entry")

	table.Register(id, newBuffer())
	assert.Equal(t, 1, table.Len())
	assert.NotNil(t, table.Get(desc))

	// Re-binding finalizes the previous buffer.
	table.Register(id, newBuffer())
	assert.Equal(t, int64(1), backend.LiveBuffers())

	// Release only frees on ReadWrite.
	table.Release(desc.WithStatus(ops.ReadOnly))
	assert.Equal(t, 1, table.Len())
	table.Release(desc.WithStatus(ops.ReadWrite))
	assert.Equal(t, 0, table.Len())
	assert.False(t, table.Contains(id))
	assert.Equal(t, int64(0), backend.LiveBuffers())
	assert.False(t, table.Drop(id))
	require.Panics(t, func() { table.Get(desc) }, "missing entry")
}

func TestTableTakeAndClear(t *testing.T) {
	backend := newBackend(t)
	table := New(backend)
	id1, id2 := ops.NewTensorID(), ops.NewTensorID()
	table.Register(id1, must.M1(backend.NewBuffer(0, shapes.Make(dtypes.Int32, 3))))
	table.Register(id2, must.M1(backend.NewBuffer(0, shapes.Make(dtypes.Int32, 3))))
	id3 := ops.NewTensorID()
	table.CreateEmpty(id3)
	assert.Equal(t, []ops.TensorID{id1, id2, id3}, table.IDs())

	buffer, err := table.Take(id1)
	require.NoError(t, err)
	assert.False(t, table.Contains(id1))
	_, err = table.Take(id1)
	require.Error(t, err)

	assert.Equal(t, []ops.TensorID{id2, id3}, table.IDs())
	table.Clear()
	assert.Equal(t, 0, table.Len())
	assert.Empty(t, table.IDs())
	assert.Equal(t, int64(1), backend.LiveBuffers(), "taken buffer is owned by the caller")
	require.NoError(t, backend.BufferFinalize(buffer))
}
