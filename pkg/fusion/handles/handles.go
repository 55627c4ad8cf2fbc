// Package handles implements the table that owns the device buffers of one server, keyed by tensor id.
//
// A Table is not safe for concurrent use: it is owned by a server, which is only accessed under its lock.
package handles

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/fusion/backends"
	"github.com/gomlx/fusion/pkg/fusion/ops"
	"github.com/gomlx/fusion/pkg/support/xslices"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Table maps tensor ids to their backend buffers.
//
// An entry may be empty: created for a tensor whose producing operation has not been executed yet.
type Table struct {
	backend backends.Backend
	buffers map[ops.TensorID]backends.Buffer
}

// New creates an empty Table whose buffers belong to backend.
func New(backend backends.Backend) *Table {
	return &Table{
		backend: backend,
		buffers: make(map[ops.TensorID]backends.Buffer),
	}
}

// CreateEmpty creates an entry without storage for id.
func (t *Table) CreateEmpty(id ops.TensorID) {
	if _, found := t.buffers[id]; found {
		exceptions.Panicf("handles: tensor %s is already registered", id)
	}
	t.buffers[id] = nil
}

// Register binds buffer to id, taking ownership of it. A previous buffer bound to id is finalized.
func (t *Table) Register(id ops.TensorID, buffer backends.Buffer) {
	if previous := t.buffers[id]; previous != nil {
		t.finalize(id, previous)
	}
	t.buffers[id] = buffer
}

// Get returns the buffer of a tensor that must be materialized.
//
// A missing or empty entry means the stream is inconsistent, and it panics.
func (t *Table) Get(desc ops.TensorDescription) backends.Buffer {
	buffer, found := t.buffers[desc.ID]
	if !found {
		exceptions.Panicf("handles: tensor %s not found", desc)
	}
	if buffer == nil {
		exceptions.Panicf("handles: tensor %s was never computed", desc)
	}
	return buffer
}

// Lookup returns the buffer bound to id, if any.
func (t *Table) Lookup(id ops.TensorID) (buffer backends.Buffer, found bool) {
	buffer = t.buffers[id]
	return buffer, buffer != nil
}

// Contains returns whether there is an entry for id, even if empty.
func (t *Table) Contains(id ops.TensorID) bool {
	_, found := t.buffers[id]
	return found
}

// Release frees the tensor if it was used in the ReadWrite status, that is, for the last time.
func (t *Table) Release(desc ops.TensorDescription) {
	if desc.Status == ops.ReadWrite {
		t.Drop(desc.ID)
	}
}

// Drop removes the entry of id, finalizing its buffer. It returns false if there was no entry.
func (t *Table) Drop(id ops.TensorID) bool {
	buffer, found := t.buffers[id]
	if !found {
		return false
	}
	delete(t.buffers, id)
	if buffer != nil {
		t.finalize(id, buffer)
	}
	return true
}

// Take removes the entry of id and returns its buffer, whose ownership passes to the caller.
func (t *Table) Take(id ops.TensorID) (backends.Buffer, error) {
	buffer, found := t.buffers[id]
	if !found {
		return nil, errors.Errorf("handles: tensor %s not found", id)
	}
	if buffer == nil {
		return nil, errors.Errorf("handles: tensor %s was never computed", id)
	}
	delete(t.buffers, id)
	return buffer, nil
}

// Len returns the number of live buffers.
func (t *Table) Len() int {
	count := 0
	for _, buffer := range t.buffers {
		if buffer != nil {
			count++
		}
	}
	return count
}

// IDs returns the ids of all entries, empty ones included, in increasing order.
func (t *Table) IDs() []ops.TensorID {
	return xslices.SortedKeys(t.buffers)
}

// Clear drops all entries.
func (t *Table) Clear() {
	for id := range t.buffers {
		t.Drop(id)
	}
}

func (t *Table) finalize(id ops.TensorID, buffer backends.Buffer) {
	if err := t.backend.BufferFinalize(buffer); err != nil {
		klog.Warningf("handles: failed to finalize buffer of tensor %s: %+v", id, err)
	}
}
