// Package elemwise turns a Trace of elementwise operations into an executable fusion unit.
//
// A unit starts as a Compilation, which only holds the trace. Compile produces an Execution, which holds two
// kernel variants of the same program (different cube dimensions) and, on each call, runs the variant the
// autotune.Tuner picked for the workload.
package elemwise

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/fusion/backends"
	"github.com/gomlx/fusion/pkg/fusion/autotune"
	"github.com/gomlx/fusion/pkg/fusion/metrics"
	"github.com/gomlx/fusion/pkg/fusion/stream"
	"github.com/gomlx/fusion/pkg/fusion/trace"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Uncompiled is a fusion unit that can only be compiled.
type Uncompiled interface {
	Trace() *trace.Trace
	State() State
	Compile() (*Execution, error)
}

// Compiled is a fusion unit that can be executed.
type Compiled interface {
	Trace() *trace.Trace
	State() State
	Execute(ctx *stream.Context) error
}

var (
	_ Uncompiled = (*Compilation)(nil)
	_ Compiled   = (*Execution)(nil)
)

// Compilation is a fusion unit before compilation.
type Compilation struct {
	trace   *trace.Trace
	device  backends.DeviceID
	backend backends.Backend
	tuner   *autotune.Tuner
	metrics *metrics.Metrics
}

// New creates the Compilation of tr, for the given device of backend. Decisions are cached in tuner.
func New(tr *trace.Trace, device backends.DeviceID, backend backends.Backend, tuner *autotune.Tuner) *Compilation {
	return &Compilation{trace: tr, device: device, backend: backend, tuner: tuner}
}

// WithMetrics sets where to count kernel launches. It returns the Compilation, so calls can be chained.
func (c *Compilation) WithMetrics(m *metrics.Metrics) *Compilation {
	c.metrics = m
	return c
}

// Trace returns the trace being compiled.
func (c *Compilation) Trace() *trace.Trace { return c.trace }

// State returns the serializable form of the unit.
func (c *Compilation) State() State {
	return State{Trace: c.trace, NumOperations: c.trace.NumOperations()}
}

// Compile the program of the trace into both kernel variants.
func (c *Compilation) Compile() (*Execution, error) {
	program := c.trace.Program
	cubeDims := [numFactories]backends.CubeDim{c.backend.DefaultCubeDim(), backends.AlternateCubeDim}
	e := &Execution{
		trace:         c.trace,
		device:        c.device,
		backend:       c.backend,
		tuner:         c.tuner,
		metrics:       c.metrics,
		numOperations: c.trace.NumOperations(),
	}
	for ii, cubeDim := range cubeDims {
		factory, err := newKernelFactory(c.backend, program, cubeDim)
		if err != nil {
			e.Finalize()
			return nil, errors.WithMessagef(err, "compiling %d fused operations on %s", e.numOperations, c.device)
		}
		e.factories[ii] = factory
	}
	klog.V(1).Infof("compiled %d fused operations on %s: %s", e.numOperations, c.device, program.Signature())
	return e, nil
}

const numFactories = 2

// KernelFactory holds one compiled kernel variant.
type KernelFactory struct {
	ID      uuid.UUID
	CubeDim backends.CubeDim
	kernel  backends.Kernel
}

func newKernelFactory(backend backends.Backend, program *backends.Program, cubeDim backends.CubeDim) (*KernelFactory, error) {
	kernel, err := backend.Compile(program, cubeDim)
	if err != nil {
		return nil, err
	}
	return &KernelFactory{ID: uuid.New(), CubeDim: cubeDim, kernel: kernel}, nil
}

// Kernel returns the compiled kernel.
func (f *KernelFactory) Kernel() backends.Kernel { return f.kernel }

// String implements fmt.Stringer.
func (f *KernelFactory) String() string {
	return fmt.Sprintf("%s[%s]", f.ID, f.CubeDim)
}

// Execution is a compiled fusion unit.
type Execution struct {
	trace         *trace.Trace
	device        backends.DeviceID
	backend       backends.Backend
	tuner         *autotune.Tuner
	metrics       *metrics.Metrics
	factories     [numFactories]*KernelFactory
	numOperations int
}

// Trace returns the trace the unit was compiled from.
func (e *Execution) Trace() *trace.Trace { return e.trace }

// State returns the serializable form of the unit.
func (e *Execution) State() State {
	return State{Trace: e.trace, NumOperations: e.numOperations}
}

// Factories returns the kernel variants: the backend's default cube dimensions first, then
// backends.AlternateCubeDim.
func (e *Execution) Factories() []*KernelFactory {
	return e.factories[:]
}

// Finalize releases the compiled kernels.
func (e *Execution) Finalize() {
	for ii, factory := range e.factories {
		if factory != nil {
			factory.kernel.Finalize()
			e.factories[ii] = nil
		}
	}
}

// Key returns the autotune key of the segment bound to ctx: the number of operations and the representative shape,
// which is the first output's, or else the first input's, or else empty.
func (e *Execution) Key(ctx *stream.Context) autotune.Key {
	var dimensions []int
	switch {
	case len(ctx.Outputs) > 0:
		dimensions = ctx.Outputs[0].Dimensions
	case len(ctx.Inputs) > 0:
		dimensions = ctx.Inputs[0].Dimensions
	}
	return autotune.NewKey(e.numOperations, dimensions)
}

// candidate returns the kernel factory of the autotune candidate index: the default variant, the alternate
// variant, and again the default variant.
func (e *Execution) candidate(index int) *KernelFactory {
	switch index {
	case 0, 2:
		return e.factories[0]
	case 1:
		return e.factories[1]
	}
	exceptions.Panicf("elemwise: invalid autotune index %d for %d candidates (corrupted autotune cache?)",
		index, numCandidates)
	return nil
}

const numCandidates = 3

// Execute runs the unit on the segment bound to ctx: it reads ctx.Inputs, writes newly allocated ctx.Outputs, and
// releases inputs used for the last time.
//
// The first execution of a workload (device and Key) benchmarks the kernel variants on scratch outputs.
func (e *Execution) Execute(ctx *stream.Context) error {
	key := e.Key(ctx)
	index, found := e.tuner.Result(e.device, key)
	if found {
		if e.metrics != nil {
			e.metrics.AutotuneHits.Inc()
		}
	} else {
		set := &candidates{execution: e, ctx: ctx}
		var err error
		index, err = e.tuner.Execute(e.device, key, set)
		set.free()
		if err != nil {
			return err
		}
	}
	factory := e.candidate(index)

	inputs := ctx.InputBuffers()
	outputs, err := ctx.AllocateOutputs()
	if err != nil {
		return err
	}
	if err := factory.kernel.Execute(inputs, ctx.Scalars, outputs); err != nil {
		ctx.FreeBuffers(outputs)
		return errors.WithMessagef(err, "executing %d fused operations on %s (kernel %s)",
			e.numOperations, e.device, factory)
	}
	ctx.RegisterOutputs(outputs)
	if e.metrics != nil {
		e.metrics.KernelLaunched(metrics.PhaseProduction)
	}
	ctx.ReleaseInputs()
	return nil
}

// candidates is the autotune.OperationSet of one execution: kernels run on the bound inputs and write to scratch
// buffers, so the real outputs are only written by the winner.
type candidates struct {
	execution *Execution
	ctx       *stream.Context
	inputs    []backends.Buffer
	scratch   []backends.Buffer
}

var _ autotune.OperationSet = (*candidates)(nil)

func (c *candidates) Len() int { return numCandidates }

func (c *candidates) Run(index int) error {
	if c.scratch == nil {
		scratch, err := c.ctx.AllocateOutputs()
		if err != nil {
			return err
		}
		c.inputs, c.scratch = c.ctx.InputBuffers(), scratch
		if klog.V(2).Enabled() {
			var bytes uintptr
			for _, desc := range c.ctx.Outputs {
				bytes += desc.Shape().Memory()
			}
			klog.Infof("autotune trial on %s: %d candidates, %s of scratch outputs",
				c.execution.device, numCandidates, humanize.Bytes(uint64(bytes)))
		}
	}
	factory := c.execution.candidate(index)
	if err := factory.kernel.Execute(c.inputs, c.ctx.Scalars, c.scratch); err != nil {
		return errors.WithMessagef(err, "kernel %s", factory)
	}
	if c.execution.metrics != nil {
		c.execution.metrics.KernelLaunched(metrics.PhaseTrial)
	}
	return nil
}

func (c *candidates) free() {
	c.ctx.FreeBuffers(c.scratch)
	c.scratch = nil
}
