// Package stream holds the queue of pending operations of one server, and the Context used to bind tensors to
// buffers while the queue is executed.
package stream

import (
	"github.com/gomlx/fusion/pkg/fusion/ops"
)

// Stream is the ordered queue of operations registered on a server and not yet executed.
//
// It is not safe for concurrent use.
type Stream struct {
	operations []*ops.Operation
	references map[ops.TensorID]int
}

// New creates an empty Stream.
func New() *Stream {
	return &Stream{references: make(map[ops.TensorID]int)}
}

// Add appends the operation to the queue.
func (s *Stream) Add(op *ops.Operation) {
	s.operations = append(s.operations, op)
	for _, id := range referencedIDs(op) {
		s.references[id]++
	}
}

// referencedIDs returns the distinct ids read or written by op.
func referencedIDs(op *ops.Operation) []ops.TensorID {
	ids := make([]ops.TensorID, 0, len(op.Inputs)+len(op.Outputs))
	add := func(id ops.TensorID) {
		for _, previous := range ids {
			if previous == id {
				return
			}
		}
		ids = append(ids, id)
	}
	for _, input := range op.Inputs {
		add(input.ID)
	}
	for _, output := range op.Outputs {
		add(output.ID)
	}
	return ids
}

// Len returns the number of queued operations.
func (s *Stream) Len() int { return len(s.operations) }

// IsEmpty returns whether there is nothing to execute.
func (s *Stream) IsEmpty() bool { return len(s.operations) == 0 }

// References returns whether any queued operation reads or writes id.
func (s *Stream) References(id ops.TensorID) bool {
	return s.references[id] > 0
}

// Operations returns the queued operations, in order. The returned slice must not be modified.
func (s *Stream) Operations() []*ops.Operation {
	return s.operations
}

// Take returns the queued operations and empties the stream.
func (s *Stream) Take() []*ops.Operation {
	operations := s.operations
	s.operations = nil
	clear(s.references)
	return operations
}
