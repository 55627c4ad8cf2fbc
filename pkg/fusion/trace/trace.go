// Package trace groups runs of consecutive elementwise operations into a Trace, the unit that gets fused into a
// single kernel, and splits a queue of operations into such runs and the operations that must execute on their own.
package trace

import (
	"fmt"
	"strings"

	"github.com/gomlx/fusion/backends"
	"github.com/gomlx/fusion/pkg/fusion/ops"
	"github.com/gomlx/gopjrt/dtypes"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Trace is a run of fusable operations, with the boundary tensors it reads and writes, and the relative Program
// that computes it.
type Trace struct {
	Operations []*ops.Operation `json:"operations"`

	// Inputs are the tensors read by the trace that are materialized before it runs, in first-use order.
	// Their Status is the one of their last use in the trace.
	Inputs []ops.TensorDescription `json:"inputs,omitempty"`

	// Outputs are the tensors produced by the trace that are still needed after it, in production order.
	Outputs []ops.TensorDescription `json:"outputs,omitempty"`

	// Scalars are the values of the scalar registers of Program.
	Scalars []float64 `json:"scalars,omitempty"`

	Program *backends.Program `json:"program"`
}

// Signature is the structural key of the trace: two traces with the same signature compute the same function of
// their inputs and scalars, for any shape.
func (t *Trace) Signature() string {
	return t.Program.Signature()
}

// NumOperations in the trace.
func (t *Trace) NumOperations() int {
	return len(t.Operations)
}

// String implements fmt.Stringer.
func (t *Trace) String() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "Trace(%d operations):\n", len(t.Operations))
	for _, op := range t.Operations {
		_, _ = fmt.Fprintf(&sb, "\t%s\n", op)
	}
	_, _ = fmt.Fprintf(&sb, "\tinputs: %v\n\toutputs: %v\n\tprogram: %s", t.Inputs, t.Outputs, t.Program)
	return sb.String()
}

type produced struct {
	desc              ops.TensorDescription
	register          backends.Operand
	consumedReadWrite bool
}

type input struct {
	desc     ops.TensorDescription
	register backends.Operand
}

// Builder accumulates fusable operations into a Trace.
//
// Operations must be added in queue order. After Build the Builder is empty and can be reused.
type Builder struct {
	operations []*ops.Operation
	inputs     *orderedmap.OrderedMap[ops.TensorID, *input]
	produced   *orderedmap.OrderedMap[ops.TensorID, *produced]
	scalars    []float64
	program    *backends.Program
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder {
	b := &Builder{}
	b.reset()
	return b
}

func (b *Builder) reset() {
	b.operations = nil
	b.inputs = orderedmap.New[ops.TensorID, *input]()
	b.produced = orderedmap.New[ops.TensorID, *produced]()
	b.scalars = nil
	b.program = &backends.Program{}
}

// Len returns the number of operations added since the last Build.
func (b *Builder) Len() int {
	return len(b.operations)
}

// IsEmpty returns whether no operations were added since the last Build.
func (b *Builder) IsEmpty() bool {
	return len(b.operations) == 0
}

// Dimensions of the outputs of the operations in the builder, or nil if it is empty.
func (b *Builder) Dimensions() []int {
	if len(b.operations) == 0 {
		return nil
	}
	return b.operations[0].Outputs[0].Dimensions
}

// Add appends an elementwise operation to the trace.
func (b *Builder) Add(op *ops.Operation) {
	b.operations = append(b.operations, op)
	operands := make([]backends.Operand, 0, len(op.Inputs)+len(op.Scalars))
	tensorDTypes := make([]dtypes.DType, 0, len(op.Inputs))
	for _, desc := range op.Inputs {
		tensorDTypes = append(tensorDTypes, desc.DType)
		if local, found := b.produced.Get(desc.ID); found {
			if desc.Status == ops.ReadWrite {
				local.consumedReadWrite = true
			}
			operands = append(operands, local.register)
			continue
		}
		if in, found := b.inputs.Get(desc.ID); found {
			in.desc = desc
			operands = append(operands, in.register)
			continue
		}
		in := &input{desc: desc, register: b.program.AddInput(desc.DType)}
		b.inputs.Set(desc.ID, in)
		operands = append(operands, in.register)
	}
	output := op.Outputs[0]
	scalarDType := backends.ScalarDType(tensorDTypes, output.DType)
	for _, value := range op.Scalars {
		operands = append(operands, b.program.AddScalar(scalarDType))
		b.scalars = append(b.scalars, value)
	}
	register := b.program.AddInstruction(op.Type, output.DType, operands...)
	b.produced.Set(output.ID, &produced{desc: output, register: register})
}

// Build returns the trace of the operations added so far, and resets the Builder.
//
// A value produced in the trace becomes one of its outputs if referencedLater reports it is read after the
// trace, or if it was not consumed with ReadWrite status within the trace and discarded (if given) doesn't
// report it as no longer wanted.
func (b *Builder) Build(referencedLater, discarded func(ops.TensorID) bool) *Trace {
	tr := &Trace{
		Operations: b.operations,
		Scalars:    b.scalars,
		Program:    b.program,
	}
	for pair := b.inputs.Oldest(); pair != nil; pair = pair.Next() {
		tr.Inputs = append(tr.Inputs, pair.Value.desc)
	}
	for pair := b.produced.Oldest(); pair != nil; pair = pair.Next() {
		local := pair.Value
		id := pair.Key
		isOutput := referencedLater != nil && referencedLater(id)
		if !isOutput && !local.consumedReadWrite {
			isOutput = discarded == nil || !discarded(id)
		}
		if isOutput {
			b.program.AddOutput(local.register)
			tr.Outputs = append(tr.Outputs, local.desc)
		}
	}
	b.reset()
	return tr
}
