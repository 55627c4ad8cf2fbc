package backends

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// CubeDim is the launch geometry of a kernel: the number of elements processed by each cube
// (a unit of work scheduled at once) along 3 dimensions.
//
// Backends are free to interpret it, but CubeDim.Size() elements are processed per cube.
type CubeDim struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// AlternateCubeDim is the fixed alternative launch geometry tried by the autotuner against the backend's default.
var AlternateCubeDim = CubeDim{X: 16, Y: 16, Z: 1}

// Size returns the number of elements processed per cube.
func (c CubeDim) Size() int {
	return c.X * c.Y * c.Z
}

// String implements fmt.Stringer, formatting it as "XxYxZ".
func (c CubeDim) String() string {
	return fmt.Sprintf("%dx%dx%d", c.X, c.Y, c.Z)
}

// ParseCubeDim parses a CubeDim formatted as "XxYxZ". Missing trailing dimensions default to 1.
func ParseCubeDim(text string) (CubeDim, error) {
	parts := strings.Split(text, "x")
	if len(parts) == 0 || len(parts) > 3 {
		return CubeDim{}, errors.Errorf("invalid cube dimensions %q, expected format \"XxYxZ\"", text)
	}
	values := [3]int{1, 1, 1}
	for ii, part := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return CubeDim{}, errors.Wrapf(err, "invalid cube dimensions %q", text)
		}
		if v <= 0 {
			return CubeDim{}, errors.Errorf("invalid cube dimensions %q, all values must be > 0", text)
		}
		values[ii] = v
	}
	return CubeDim{X: values[0], Y: values[1], Z: values[2]}, nil
}

// OpSpec describes a single operation to be executed directly with KernelInterface.ExecuteOp.
type OpSpec struct {
	Type OpType

	// Axes used by reductions.
	Axes []int

	// Scalars used by elementwise operations with scalar operands, in operand order.
	Scalars []float64
}

// Kernel is a compiled Program, ready to execute.
type Kernel interface {
	// ID uniquely identifies the kernel within the backend.
	ID() string

	// CubeDim used when launching the kernel.
	CubeDim() CubeDim

	// Program the kernel was compiled from.
	Program() *Program

	// Execute the kernel. The buffers must all be on the same device, inputs and scalars must match the ones in
	// the Program, and outputs must have been allocated (see DataInterface.NewBuffer) with the shape
	// of the computation.
	//
	// Inputs whose size is 1 are broadcast.
	Execute(inputs []Buffer, scalars []float64, outputs []Buffer) error

	// Finalize immediately frees resources associated to the kernel.
	Finalize()
}

// KernelInterface is the Backend's subinterface that defines the API to compile programs and execute them.
type KernelInterface interface {
	// DefaultCubeDim returns the launch geometry the backend uses by default.
	DefaultCubeDim() CubeDim

	// Compile the program into a kernel using the given launch geometry.
	Compile(program *Program, cubeDim CubeDim) (Kernel, error)

	// ExecuteOp executes a single (not fused) operation on the given device. The outputs must have been
	// allocated with the shape of the result.
	ExecuteOp(deviceNum DeviceNum, op OpSpec, inputs []Buffer, outputs []Buffer) error
}
