package client

import (
	"sync"
	"testing"

	"github.com/gomlx/fusion/backends"
	"github.com/gomlx/fusion/backends/simplego"
	"github.com/gomlx/fusion/pkg/fusion/metrics"
	"github.com/gomlx/fusion/pkg/fusion/ops"
	"github.com/gomlx/fusion/pkg/support/sets"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
}

func newBackend(t *testing.T, config string) backends.Backend {
	backend := must.M1(simplego.New(config))
	t.Cleanup(backend.Finalize)
	return backend
}

func newClient(t *testing.T, m *Manager, backend backends.Backend, deviceNum backends.DeviceNum) *Client {
	c, err := m.Client(backend, deviceNum)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestReadAfterOperations(t *testing.T) {
	m := NewManager()
	m.Tuner().SetSamples(1)
	c := newClient(t, m, newBackend(t, ""), 0)
	x := must.M1(FromFlat(c, []float32{1, 2, 3, 4}, 2, 2))
	y := c.TensorUninitialized([]int{2, 2}, dtypes.Float32)
	isBig := c.TensorUninitialized([]int{2, 2}, dtypes.Bool)
	asInt := c.TensorUninitialized([]int{2, 2}, dtypes.Int32)
	c.Register(ops.BinaryScalar(backends.OpTypeMul, x.Description(ops.ReadOnly), 10, y.Description(ops.NotInit)))
	c.Register(ops.BinaryScalar(backends.OpTypeGreaterThan, y.Description(ops.ReadOnly), 25, isBig.Description(ops.NotInit)))
	c.Register(ops.Cast(y.Description(ops.ReadOnly), asInt.Description(ops.NotInit)))

	// Reads drain the stream.
	values, err := y.ReadFloat().Wait()
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 20, 30, 40}, values)
	bools, err := isBig.ReadBool().Wait()
	require.NoError(t, err)
	assert.Equal(t, []bool{false, false, true, true}, bools)
	ints, err := asInt.ReadInt().Wait()
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 20, 30, 40}, ints)

	reader := x.ReadFloat()
	<-reader.Done()
	assert.Equal(t, []int{2, 2}, reader.Dimensions())

	// Wrong kind.
	_, err = x.ReadInt().Wait()
	require.Error(t, err)
	_, err = c.ReadTensorFloat(isBig.Description(ops.ReadOnly)).Wait()
	require.Error(t, err)
	m.Wait()
}

func TestConcurrentRegistrations(t *testing.T) {
	m := NewManager()
	backend := newBackend(t, "")
	c := newClient(t, m, backend, 0)
	const numGoroutines, numOps = 2, 100
	ids := make([][]ops.TensorID, numGoroutines)
	var wg sync.WaitGroup
	for g := range numGoroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := c.Clone()
			defer local.Close()
			for ii := range numOps {
				out := local.TensorUninitialized([]int{3}, dtypes.Float32)
				local.Register(ops.Full(float64(g*numOps+ii), out.Description(ops.NotInit)))
				ids[g] = append(ids[g], out.ID())
			}
		}()
	}
	wg.Wait()
	require.NoError(t, c.Drain())
	assert.Equal(t, numGoroutines*numOps, c.NumHandles())
	distinct := sets.Make[ops.TensorID]()
	for _, list := range ids {
		distinct.Insert(list...)
	}
	assert.Equal(t, numGoroutines*numOps, distinct.Len())

	// Traces are limited to 32 operations: 6 traces of 32 and one of 8, so two workloads are tuned.
	assert.Equal(t, 2, m.Tuner().Len())
	assert.Equal(t, 1, m.NumServers())
}

func TestManagerSharing(t *testing.T) {
	m := NewManager()
	backend := newBackend(t, "devices=2")
	c0, err := m.Client(backend, 0)
	require.NoError(t, err)
	clone := c0.Clone()
	c1, err := m.Client(backend, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, m.NumServers())
	assert.Equal(t, backends.DeviceID{Backend: "go", Num: 1}, c1.Device())

	x := must.M1(FromFlat(c0, []int32{1, 2}, 2))
	assert.Equal(t, 1, clone.NumHandles(), "clones share the server")
	c0.Close()
	c0.Close()
	require.Panics(t, func() { c0.Drain() })
	assert.Equal(t, 2, m.NumServers())
	values, err := clone.ReadTensorInt(x.Description(ops.ReadOnly)).Wait()
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, values)

	clone.Close()
	assert.Equal(t, 1, m.NumServers())
	c1.Close()
	assert.Equal(t, 0, m.NumServers())
	m.Wait()
	assert.Equal(t, int64(0), backend.(*simplego.Backend).LiveBuffers())

	_, err = m.Client(backend, 2)
	require.Error(t, err)
}

func TestChangeClient(t *testing.T) {
	registry := prometheus.NewRegistry()
	mt := metrics.New(registry)
	m := NewManager().WithMetrics(mt)
	backend := newBackend(t, "devices=2")
	c0, c1 := newClient(t, m, backend, 0), newClient(t, m, backend, 1)

	x := must.M1(FromFlat(c0, []float64{1, 2, 3}, 3))
	y := c0.TensorUninitialized([]int{3}, dtypes.Float64)
	c0.Register(ops.Unary(backends.OpTypeNeg, x.Description(ops.ReadWrite), y.Description(ops.NotInit)))

	// The pending operation is executed before the move.
	moved, err := c0.ChangeClientFloat(y.Description(ops.ReadOnly), c1)
	require.NoError(t, err)
	assert.NotEqual(t, y.ID(), moved.ID())
	assert.Equal(t, c1, moved.Client())
	assert.Equal(t, 0, c0.NumHandles())
	assert.Equal(t, 1, c1.NumHandles())
	values, err := moved.ReadFloat().Wait()
	require.NoError(t, err)
	assert.Equal(t, []float64{-1, -2, -3}, values)
	assert.Equal(t, 1.0, testutil.ToFloat64(mt.Transfers))

	// The source id is no longer valid.
	_, err = y.ReadFloat().Wait()
	require.Error(t, err)
	_, err = c0.ChangeClientFloat(y.Description(ops.ReadOnly), c1)
	require.Error(t, err)

	// Kind mismatch.
	_, err = c1.ChangeClientBool(moved.Description(ops.ReadOnly), c0)
	require.Error(t, err)

	// Same server: only drains.
	same, err := c1.ChangeClientFloat(moved.Description(ops.ReadOnly), c1.Clone())
	require.NoError(t, err)
	assert.Equal(t, moved.ID(), same.ID())
	same.Client().Close()
}

func TestChangeClientCrossBackendAndConcurrent(t *testing.T) {
	m := NewManager()
	b1, b2 := newBackend(t, ""), newBackend(t, "")
	c1, c2 := newClient(t, m, b1, 0), newClient(t, m, b2, 0)
	require.Equal(t, c1.Device(), c2.Device(), "same DeviceID, different servers")

	flags := must.M1(FromFlat(c1, []bool{true, false}, 2))
	moved, err := c1.ChangeClientBool(flags.Description(ops.ReadOnly), c2)
	require.NoError(t, err)
	values, err := moved.ReadBool().Wait()
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false}, values)

	// Transfers in opposite directions at the same time must not deadlock.
	const numTransfers = 50
	var wg sync.WaitGroup
	for _, pair := range [][2]*Client{{c1, c2}, {c2, c1}} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			src, dst := pair[0], pair[1]
			for ii := range numTransfers {
				x := must.M1(FromFlat(src, []int64{int64(ii)}, 1))
				moved := must.M1(src.ChangeClientInt(x.Description(ops.ReadOnly), dst))
				values := must.M1(moved.ReadInt().Wait())
				assert.Equal(t, []int64{int64(ii)}, values)
				moved.Release()
			}
		}()
	}
	wg.Wait()
	m.Wait()
	assert.Equal(t, 1, c1.NumHandles()+c2.NumHandles(), "only the moved flags are left")
}

func TestOrphanThroughClient(t *testing.T) {
	m := NewManager()
	c := newClient(t, m, newBackend(t, ""), 0)
	x := must.M1(FromFlat(c, []float32{4, 9}, 2))
	y := c.TensorUninitialized([]int{2}, dtypes.Float32)
	c.Register(ops.Unary(backends.OpTypeSqrt, x.Description(ops.ReadOnly), y.Description(ops.NotInit)))
	x.Release()
	assert.Equal(t, 1, c.NumHandles(), "x is still needed by the queued operation")
	values, err := y.ReadFloat().Wait()
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 3}, values)
	assert.Equal(t, 1, c.NumHandles())
}

func TestReadAfterFailedDrain(t *testing.T) {
	m := NewManager()
	c := newClient(t, m, newBackend(t, ""), 0)
	released := must.M1(FromFlat(c, []bool{true, true}, 2))
	released.Release()

	flags := must.M1(FromFlat(c, []bool{false, true, true, false}, 2, 2))
	out := c.TensorUninitialized([]int{2}, dtypes.Bool)
	c.Register(ops.Reduce(backends.OpTypeReduceSum, flags.Description(ops.ReadOnly), []int{1}, out.Description(ops.NotInit)))
	require.ErrorIs(t, c.Drain(), backends.ErrNotImplemented)

	values, err := out.ReadBool().Wait()
	require.Error(t, err)
	assert.Nil(t, values)
	m.Wait()
}
