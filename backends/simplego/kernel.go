package simplego

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/fusion/backends"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"golang.org/x/sync/errgroup"
)

// Compile-time check:
var _ backends.KernelInterface = (*Backend)(nil)

// stepFn executes one instruction over the first n elements of the slots of a cube.
type stepFn func(slots []any, n int)

// Kernel implements backends.Kernel: a Program compiled to a list of steps, executed per cube.
//
// Slots (the registers during execution) are laid out as inputs, then scalars, then locals.
type Kernel struct {
	backend   *Backend
	id        string
	program   *backends.Program
	cubeDim   backends.CubeDim
	steps     []stepFn
	frames    sync.Pool
	finalized atomic.Bool
}

// Compile-time check:
var _ backends.Kernel = (*Kernel)(nil)

// frame holds the per-goroutine storage used to execute one cube.
type frame struct {
	slots []any

	// locals are the compute slices for each local register.
	locals []any

	// scratch holds, per input, the Float32 slice used to convert Float16 inputs.
	scratch []any
}

// Compile implements backends.KernelInterface.
func (b *Backend) Compile(program *backends.Program, cubeDim backends.CubeDim) (backends.Kernel, error) {
	return b.compile(program, cubeDim)
}

func (b *Backend) compile(program *backends.Program, cubeDim backends.CubeDim) (*Kernel, error) {
	if b.isFinalized.Load() {
		return nil, errors.Errorf("backend %q has already been finalized", BackendName)
	}
	if cubeDim.Size() <= 0 {
		return nil, errors.Errorf("invalid cube dimensions %s", cubeDim)
	}
	if err := program.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "invalid program %s", program)
	}
	for _, list := range [][]dtypes.DType{program.Inputs, program.Scalars, program.Locals} {
		for _, dtype := range list {
			if !Capabilities.DTypes[dtype] {
				return nil, errors.Wrapf(backends.ErrNotImplemented, "backend %q doesn't support dtype %s", BackendName, dtype)
			}
		}
	}
	k := &Kernel{
		backend: b,
		id:      fmt.Sprintf("%s-kernel-%d[%s]", BackendName, b.kernelCount.Add(1), cubeDim),
		program: program,
		cubeDim: cubeDim,
		steps:   make([]stepFn, 0, len(program.Instructions)),
	}
	for ii, inst := range program.Instructions {
		if !Capabilities.Operations[inst.Op] {
			return nil, errors.Wrapf(backends.ErrNotImplemented, "backend %q doesn't support op %s", BackendName, inst.Op)
		}
		step, err := compileInstruction(program, inst, k.slotOf)
		if err != nil {
			return nil, errors.WithMessagef(err, "while compiling instruction #%d of program %s", ii, program)
		}
		k.steps = append(k.steps, step)
	}
	k.frames.New = func() any { return k.newFrame() }
	return k, nil
}

// slotOf returns the slot index of the register.
func (k *Kernel) slotOf(r backends.Operand) int {
	switch r.Kind {
	case backends.OperandInput:
		return r.Index
	case backends.OperandScalar:
		return len(k.program.Inputs) + r.Index
	case backends.OperandLocal:
		return len(k.program.Inputs) + len(k.program.Scalars) + r.Index
	}
	exceptions.Panicf("invalid register %s", r)
	return -1
}

func (k *Kernel) newFrame() *frame {
	p := k.program
	cubeSize := k.cubeDim.Size()
	f := &frame{
		slots:   make([]any, len(p.Inputs)+len(p.Scalars)+len(p.Locals)),
		locals:  make([]any, len(p.Locals)),
		scratch: make([]any, len(p.Inputs)),
	}
	for ii, dtype := range p.Locals {
		f.locals[ii] = makeComputeSlice(dtype, cubeSize)
	}
	for ii, dtype := range p.Inputs {
		if dtype == dtypes.Float16 {
			f.scratch[ii] = make([]float32, cubeSize)
		}
	}
	return f
}

// ID implements backends.Kernel.
func (k *Kernel) ID() string { return k.id }

// CubeDim implements backends.Kernel.
func (k *Kernel) CubeDim() backends.CubeDim { return k.cubeDim }

// Program implements backends.Kernel.
func (k *Kernel) Program() *backends.Program { return k.program }

// String implements fmt.Stringer.
func (k *Kernel) String() string { return k.id }

// Finalize implements backends.Kernel.
func (k *Kernel) Finalize() {
	k.finalized.Store(true)
}

// Execute implements backends.Kernel.
func (k *Kernel) Execute(inputs []backends.Buffer, scalars []float64, outputs []backends.Buffer) error {
	k.backend.kernelLaunches.Add(1)
	return k.execute(inputs, scalars, outputs)
}

func (k *Kernel) execute(backendInputs []backends.Buffer, scalars []float64, backendOutputs []backends.Buffer) error {
	if k.finalized.Load() {
		return errors.Errorf("kernel %s has already been finalized", k.id)
	}
	p := k.program
	if len(backendInputs) != len(p.Inputs) || len(scalars) != len(p.Scalars) || len(backendOutputs) != len(p.Outputs) {
		return errors.Errorf("kernel %s expects %d inputs, %d scalars and %d outputs, got %d, %d and %d", k.id,
			len(p.Inputs), len(p.Scalars), len(p.Outputs), len(backendInputs), len(scalars), len(backendOutputs))
	}
	if len(backendOutputs) == 0 {
		// Nothing observable to compute.
		return nil
	}

	// Check buffers and find the number of elements.
	inputs := make([]*Buffer, len(backendInputs))
	outputs := make([]*Buffer, len(backendOutputs))
	outputDTypes := p.OutputDTypes()
	var deviceNum backends.DeviceNum
	size := -1
	for ii, backendBuffer := range backendOutputs {
		buf, err := checkBuffer(backendBuffer)
		if err != nil {
			return errors.WithMessagef(err, "kernel %s output #%d", k.id, ii)
		}
		if buf.shape.DType != outputDTypes[ii] {
			return errors.Errorf("kernel %s output #%d should be %s, got buffer with shape %s", k.id, ii, outputDTypes[ii], buf.shape)
		}
		if size == -1 {
			size = buf.shape.Size()
			deviceNum = buf.device
		} else if size != buf.shape.Size() || deviceNum != buf.device {
			return errors.Errorf("kernel %s outputs must all have the same size and device: output #%d has shape %s on device #%d, expected size %d on device #%d",
				k.id, ii, buf.shape, buf.device, size, deviceNum)
		}
		outputs[ii] = buf
	}
	for ii, backendBuffer := range backendInputs {
		buf, err := checkBuffer(backendBuffer)
		if err != nil {
			return errors.WithMessagef(err, "kernel %s input #%d", k.id, ii)
		}
		if buf.shape.DType != p.Inputs[ii] {
			return errors.Errorf("kernel %s input #%d should be %s, got buffer with shape %s", k.id, ii, p.Inputs[ii], buf.shape)
		}
		if buf.shape.Size() != size && buf.shape.Size() != 1 {
			return errors.Errorf("kernel %s input #%d has shape %s, incompatible with outputs of size %d", k.id, ii, buf.shape, size)
		}
		if buf.device != deviceNum {
			return errors.Errorf("kernel %s input #%d is on device #%d, but outputs are on device #%d", k.id, ii, buf.device, deviceNum)
		}
		inputs[ii] = buf
	}

	// Broadcast inputs and scalars are shared (read-only) by all cubes.
	cubeSize := k.cubeDim.Size()
	constantSize := min(cubeSize, size)
	constants := make([]any, len(p.Inputs)+len(p.Scalars))
	for ii, buf := range inputs {
		if buf.shape.Size() == 1 && size > 1 {
			constants[ii] = makeComputeSlice(buf.shape.DType, constantSize)
			broadcastFirst(buf.flat, constants[ii])
		}
	}
	for ii, value := range scalars {
		slice := makeComputeSlice(p.Scalars[ii], constantSize)
		fillFromFloat64(slice, value)
		constants[len(p.Inputs)+ii] = slice
	}

	numCubes := (size + cubeSize - 1) / cubeSize
	runCube := func(cube int) error {
		return exceptions.TryCatch[error](func() {
			f := k.frames.Get().(*frame)
			defer k.frames.Put(f)
			start := cube * cubeSize
			end := min(start+cubeSize, size)
			k.runCube(f, inputs, constants, outputs, start, end)
		})
	}
	if k.backend.parallelism == 0 || numCubes == 1 {
		for cube := range numCubes {
			if err := runCube(cube); err != nil {
				return errors.WithMessagef(err, "while executing kernel %s", k.id)
			}
		}
		return nil
	}
	var g errgroup.Group
	g.SetLimit(k.backend.parallelism)
	for cube := range numCubes {
		g.Go(func() error { return runCube(cube) })
	}
	if err := g.Wait(); err != nil {
		return errors.WithMessagef(err, "while executing kernel %s", k.id)
	}
	return nil
}

// runCube executes all steps over the elements [start, end).
func (k *Kernel) runCube(f *frame, inputs []*Buffer, constants []any, outputs []*Buffer, start, end int) {
	p := k.program
	n := end - start
	for ii, buf := range inputs {
		switch {
		case constants[ii] != nil:
			f.slots[ii] = constants[ii]
		case buf.shape.DType == dtypes.Float16:
			scratch := f.scratch[ii].([]float32)[:n]
			float16ToFloat32(buf.flat.([]float16.Float16)[start:end], scratch)
			f.slots[ii] = scratch
		default:
			f.slots[ii] = sliceFlat(buf.flat, start, end)
		}
	}
	numInputs := len(p.Inputs)
	for ii := range p.Scalars {
		f.slots[numInputs+ii] = constants[numInputs+ii]
	}
	localsStart := numInputs + len(p.Scalars)
	for ii, local := range f.locals {
		f.slots[localsStart+ii] = local
	}
	for _, step := range k.steps {
		step(f.slots, n)
	}
	for ii, buf := range outputs {
		local := f.locals[p.Outputs[ii]]
		if buf.shape.DType == dtypes.Float16 {
			float32ToFloat16(local.([]float32)[:n], buf.flat.([]float16.Float16)[start:end])
			continue
		}
		copyFlat(sliceFlat(buf.flat, start, end), local)
	}
}

// sliceFlat returns flat[start:end] for any of the supported slice types.
func sliceFlat(flat any, start, end int) any {
	switch flat := flat.(type) {
	case []bool:
		return flat[start:end]
	case []int32:
		return flat[start:end]
	case []int64:
		return flat[start:end]
	case []float16.Float16:
		return flat[start:end]
	case []float32:
		return flat[start:end]
	case []float64:
		return flat[start:end]
	}
	exceptions.Panicf("sliceFlat: unsupported slice type %T", flat)
	return nil
}

// broadcastFirst fills the compute slice dst with the first element of the buffer data src.
func broadcastFirst(src, dst any) {
	switch src := src.(type) {
	case []bool:
		fillGeneric(dst.([]bool), src[0])
	case []int32:
		fillGeneric(dst.([]int32), src[0])
	case []int64:
		fillGeneric(dst.([]int64), src[0])
	case []float16.Float16:
		fillGeneric(dst.([]float32), src[0].Float32())
	case []float32:
		fillGeneric(dst.([]float32), src[0])
	case []float64:
		fillGeneric(dst.([]float64), src[0])
	default:
		exceptions.Panicf("broadcastFirst: unsupported slice type %T", src)
	}
}
