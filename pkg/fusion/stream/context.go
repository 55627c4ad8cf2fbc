package stream

import (
	"github.com/gomlx/fusion/backends"
	"github.com/gomlx/fusion/pkg/fusion/handles"
	"github.com/gomlx/fusion/pkg/fusion/ops"
	"github.com/pkg/errors"
)

// Context binds the tensors of the segment being executed to buffers, during a drain.
//
// Inputs are read from the handle table, and outputs are allocated on the device and registered in it.
type Context struct {
	Backend   backends.Backend
	DeviceNum backends.DeviceNum
	Handles   *handles.Table

	// Tensors are the descriptions of every tensor bound during the drain, as of their last binding.
	Tensors map[ops.TensorID]ops.TensorDescription

	// Inputs, Outputs and Scalars of the current segment.
	Inputs  []ops.TensorDescription
	Outputs []ops.TensorDescription
	Scalars []float64
}

// NewContext creates a Context for a drain on the given device.
func NewContext(backend backends.Backend, deviceNum backends.DeviceNum, table *handles.Table) *Context {
	return &Context{
		Backend:   backend,
		DeviceNum: deviceNum,
		Handles:   table,
		Tensors:   make(map[ops.TensorID]ops.TensorDescription),
	}
}

// Bind sets the current segment.
func (c *Context) Bind(inputs, outputs []ops.TensorDescription, scalars []float64) {
	c.Inputs = inputs
	c.Outputs = outputs
	c.Scalars = scalars
	for _, desc := range inputs {
		c.Tensors[desc.ID] = desc
	}
	for _, desc := range outputs {
		c.Tensors[desc.ID] = desc
	}
}

// InputBuffers returns the buffers of the current inputs. It panics if any of them is not materialized.
func (c *Context) InputBuffers() []backends.Buffer {
	buffers := make([]backends.Buffer, len(c.Inputs))
	for ii, desc := range c.Inputs {
		buffers[ii] = c.Handles.Get(desc)
	}
	return buffers
}

// AllocateOutputs creates buffers shaped like the current outputs, owned by the caller. They only become the
// outputs' storage with RegisterOutputs, once they were written.
func (c *Context) AllocateOutputs() ([]backends.Buffer, error) {
	buffers := make([]backends.Buffer, 0, len(c.Outputs))
	for _, desc := range c.Outputs {
		buffer, err := c.Backend.NewBuffer(c.DeviceNum, desc.Shape())
		if err != nil {
			c.FreeBuffers(buffers)
			return nil, errors.WithMessagef(err, "allocating output %s", desc)
		}
		buffers = append(buffers, buffer)
	}
	return buffers, nil
}

// RegisterOutputs binds buffers, created by AllocateOutputs and already computed, to the current outputs in the
// handle table, which takes their ownership.
func (c *Context) RegisterOutputs(buffers []backends.Buffer) {
	for ii, desc := range c.Outputs {
		c.Handles.Register(desc.ID, buffers[ii])
	}
}

// FreeBuffers finalizes buffers created with AllocateOutputs that were not registered.
func (c *Context) FreeBuffers(buffers []backends.Buffer) {
	for _, buffer := range buffers {
		_ = c.Backend.BufferFinalize(buffer)
	}
}

// ReleaseInputs frees the current inputs used for the last time (ReadWrite).
func (c *Context) ReleaseInputs() {
	for _, desc := range c.Inputs {
		c.Handles.Release(desc)
	}
}
