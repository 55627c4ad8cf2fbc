package trace

import (
	"slices"

	"github.com/gomlx/fusion/backends"
	"github.com/gomlx/fusion/pkg/fusion/ops"
)

// Segment is either a Trace of fused operations, or a single Operation executed directly.
type Segment struct {
	Trace     *Trace
	Operation *ops.Operation
}

// IsFused returns whether the segment is a Trace.
func (s Segment) IsFused() bool {
	return s.Trace != nil
}

// Options for Split.
type Options struct {
	// Fusion enables fusion. If disabled, every operation becomes a direct segment.
	Fusion bool

	// MaxOperations in one Trace. A value <= 0 means no limit.
	MaxOperations int

	// Capabilities of the backend: operations or dtypes it doesn't support in a kernel break runs.
	Capabilities backends.Capabilities

	// Discarded reports tensors that will be freed as soon as the queue is executed, so values produced
	// and not read by later operations need not be materialized. Optional.
	Discarded func(ops.TensorID) bool
}

// Fusable returns whether op can be part of a Trace on a backend with the given capabilities.
func Fusable(op *ops.Operation, capabilities backends.Capabilities) bool {
	return op.IsElementWise() && capabilities.Supports(op.Type, op.DTypes()...)
}

// Split divides the queue of operations into maximal runs of consecutive fusable operations with the same output
// dimensions, each built into one Trace, and the remaining operations, in queue order.
func Split(operations []*ops.Operation, options Options) []Segment {
	// lastUse[id] is the index of the last operation reading id.
	lastUse := make(map[ops.TensorID]int)
	for ii, op := range operations {
		for _, input := range op.Inputs {
			lastUse[input.ID] = ii
		}
	}

	var segments []Segment
	builder := NewBuilder()
	flush := func(next int) {
		if builder.IsEmpty() {
			return
		}
		referencedLater := func(id ops.TensorID) bool {
			last, found := lastUse[id]
			return found && last >= next
		}
		segments = append(segments, Segment{Trace: builder.Build(referencedLater, options.Discarded)})
	}
	for ii, op := range operations {
		if !options.Fusion || !Fusable(op, options.Capabilities) {
			flush(ii)
			segments = append(segments, Segment{Operation: op})
			continue
		}
		if !builder.IsEmpty() &&
			(!slices.Equal(builder.Dimensions(), op.Outputs[0].Dimensions) ||
				(options.MaxOperations > 0 && builder.Len() >= options.MaxOperations)) {
			flush(ii)
		}
		builder.Add(op)
	}
	flush(len(operations))
	return segments
}
