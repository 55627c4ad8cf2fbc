// Package simplego implements a simple, and not very fast, but very portable backend for the fusion engine.
//
// It simulates a configurable number of devices on the CPU: each device is just a tag on the buffers, so
// moving a buffer between devices only changes its tag. Kernels are compiled to a sequence of Go closures and executed
// in "cubes" of CubeDim.Size() elements, concurrently.
//
// It only implements the most popular dtypes and operations.
package simplego

import (
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gomlx/fusion/backends"
	"github.com/pkg/errors"
)

// BackendName to be used in FUSION_BACKEND to specify this backend.
const BackendName = "go"

// DefaultCubeDim is the launch geometry used by default, if not configured otherwise.
var DefaultCubeDim = backends.CubeDim{X: 32, Y: 32, Z: 1}

// Registers New() as the default constructor for "go" backend.
func init() {
	backends.Register(BackendName, New)
}

// New constructs a new SimpleGo Backend.
//
// The config string is a comma-separated list of options:
//
//   - "devices=N": number of (virtual) devices. Default is 1.
//   - "parallelism=P": maximum number of cubes executed concurrently. Default is runtime.NumCPU().
//     If set to 0 cubes are executed sequentially, in the calling goroutine.
//   - "cube=XxYxZ": default launch geometry. Default is "32x32x1".
//
// Example: backends.NewWithConfig("go:devices=2,parallelism=4")
func New(config string) (backends.Backend, error) {
	b := newBackend()
	if config != "" {
		parts := strings.Split(config, ",")
		for _, part := range parts {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			key, value, _ := strings.Cut(part, "=")
			var err error
			switch key {
			case "devices":
				var n int
				n, err = strconv.Atoi(value)
				if err == nil && n <= 0 {
					err = errors.Errorf("number of devices must be > 0, got %d", n)
				}
				b.numDevices = backends.DeviceNum(n)
			case "parallelism":
				b.parallelism, err = strconv.Atoi(value)
				if err == nil && b.parallelism < 0 {
					err = errors.Errorf("parallelism must be >= 0, got %d", b.parallelism)
				}
			case "cube":
				b.defaultCubeDim, err = backends.ParseCubeDim(value)
			default:
				err = errors.New("unknown option")
			}
			if err != nil {
				return nil, errors.WithMessagef(err, "invalid configuration option %q for %q backend", part, BackendName)
			}
		}
	}
	return b, nil
}

func newBackend() *Backend {
	return &Backend{
		numDevices:     1,
		parallelism:    runtime.NumCPU(),
		defaultCubeDim: DefaultCubeDim,
	}
}

// Backend implements the backends.Backend interface.
type Backend struct {
	numDevices     backends.DeviceNum
	parallelism    int
	defaultCubeDim backends.CubeDim

	// bufferPools are a map to pools of buffers that can be reused.
	// The underlying type is map[bufferPoolKey]*sync.Pool.
	bufferPools sync.Map

	// opKernels caches the one-instruction kernels used to execute elementwise ops directly.
	// The underlying type is map[string]*Kernel, keyed by program signature.
	opKernels sync.Map

	kernelCount    atomic.Int64
	kernelLaunches atomic.Int64
	opLaunches     atomic.Int64
	liveBuffers    atomic.Int64
	isFinalized    atomic.Bool
}

// Compile-time check that simplego.Backend implements backends.Backend.
var _ backends.Backend = &Backend{}

// Name returns the short name of the backend, the one it is registered with.
func (b *Backend) Name() string {
	return BackendName
}

// String implements fmt.Stringer.
func (b *Backend) String() string { return BackendName }

// Description is a longer description of the Backend that can be used to pretty-print.
func (b *Backend) Description() string {
	return "Simple Go Portable Backend"
}

// NumDevices return the number of devices available for this Backend.
func (b *Backend) NumDevices() backends.DeviceNum {
	return b.numDevices
}

// Parallelism returns the maximum number of cubes executed concurrently.
func (b *Backend) Parallelism() int {
	return b.parallelism
}

// Capabilities returns information about what is supported by this backend.
func (b *Backend) Capabilities() backends.Capabilities {
	return Capabilities
}

// DefaultCubeDim implements backends.KernelInterface.
func (b *Backend) DefaultCubeDim() backends.CubeDim {
	return b.defaultCubeDim
}

// KernelLaunches returns the number of times a compiled kernel was executed (see Kernel.Execute).
func (b *Backend) KernelLaunches() int64 {
	return b.kernelLaunches.Load()
}

// OpLaunches returns the number of operations executed directly with ExecuteOp.
func (b *Backend) OpLaunches() int64 {
	return b.opLaunches.Load()
}

// Launches returns the total number of kernel and direct op executions.
func (b *Backend) Launches() int64 {
	return b.KernelLaunches() + b.OpLaunches()
}

// LiveBuffers returns the number of buffers allocated and not yet finalized.
func (b *Backend) LiveBuffers() int64 {
	return b.liveBuffers.Load()
}

// Finalize releases all the associated resources immediately, and makes the backend invalid.
func (b *Backend) Finalize() {
	b.isFinalized.Store(true)
	b.opKernels.Clear()
	b.bufferPools.Clear()
}

func (b *Backend) checkDevice(deviceNum backends.DeviceNum) error {
	if b.isFinalized.Load() {
		return errors.Errorf("backend %q has already been finalized", BackendName)
	}
	if deviceNum < 0 || deviceNum >= b.numDevices {
		return errors.Errorf("backend %q has %d devices, invalid deviceNum %d", BackendName, b.numDevices, deviceNum)
	}
	return nil
}
