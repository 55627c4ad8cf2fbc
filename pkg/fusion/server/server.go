// Package server implements the dispatch server of one device: it owns the handle table and the stream of
// pending operations, and executes the stream when drained, fusing runs of elementwise operations.
//
// A Server is not safe for concurrent use: see package client for the synchronized access.
package server

import (
	"github.com/gomlx/fusion/backends"
	"github.com/gomlx/fusion/pkg/fusion/autotune"
	"github.com/gomlx/fusion/pkg/fusion/elemwise"
	"github.com/gomlx/fusion/pkg/fusion/handles"
	"github.com/gomlx/fusion/pkg/fusion/metrics"
	"github.com/gomlx/fusion/pkg/fusion/ops"
	"github.com/gomlx/fusion/pkg/fusion/stream"
	"github.com/gomlx/fusion/pkg/fusion/trace"
	"github.com/gomlx/fusion/pkg/support/sets"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DefaultMaxTraceOperations is the default limit of operations fused in one kernel.
const DefaultMaxTraceOperations = 32

// Options configure a Server.
type Options struct {
	// Fusion enables fusion of elementwise operations. If disabled every operation is executed on its own.
	Fusion bool

	// MaxTraceOperations limits the number of operations fused in one kernel. A value <= 0 means no limit.
	MaxTraceOperations int

	// Metrics, if not nil, counts the server activity.
	Metrics *metrics.Metrics
}

// DefaultOptions returns the options used when none are given: fusion enabled.
func DefaultOptions() Options {
	return Options{Fusion: true, MaxTraceOperations: DefaultMaxTraceOperations}
}

// Server executes the operations of one device.
type Server struct {
	backend   backends.Backend
	deviceNum backends.DeviceNum
	device    backends.DeviceID
	options   Options
	handles   *handles.Table
	stream    *stream.Stream
	tuner     *autotune.Tuner

	// executions are the compiled fusion units, by trace signature.
	executions map[string]*elemwise.Execution

	// orphans are tensors released by the user while still referenced by queued operations.
	orphans sets.Set[ops.TensorID]
}

// New creates a Server for the device deviceNum of backend. Autotune decisions are cached in tuner, which can be
// shared by many servers.
func New(backend backends.Backend, deviceNum backends.DeviceNum, tuner *autotune.Tuner, options Options) *Server {
	return &Server{
		backend:    backend,
		deviceNum:  deviceNum,
		device:     backends.DeviceIDOf(backend, deviceNum),
		options:    options,
		handles:    handles.New(backend),
		stream:     stream.New(),
		tuner:      tuner,
		executions: make(map[string]*elemwise.Execution),
		orphans:    sets.Make[ops.TensorID](),
	}
}

// Backend of the server.
func (s *Server) Backend() backends.Backend { return s.backend }

// DeviceNum of the server in its backend.
func (s *Server) DeviceNum() backends.DeviceNum { return s.deviceNum }

// Device returns the identification of the device of the server.
func (s *Server) Device() backends.DeviceID { return s.device }

// NumHandles returns the number of live buffers owned by the server.
func (s *Server) NumHandles() int { return s.handles.Len() }

// NumPending returns the number of queued operations.
func (s *Server) NumPending() int { return s.stream.Len() }

// NumExecutions returns the number of compiled fusion units.
func (s *Server) NumExecutions() int { return len(s.executions) }

// Register queues the operation. It is only executed on the next Drain.
func (s *Server) Register(op *ops.Operation) {
	for _, output := range op.Outputs {
		if !s.handles.Contains(output.ID) {
			s.handles.CreateEmpty(output.ID)
		}
	}
	s.stream.Add(op)
	if s.options.Metrics != nil {
		s.options.Metrics.OpsRegistered.Inc()
	}
}

// CreateEmpty creates a tensor with no storage, to be written by a future operation.
func (s *Server) CreateEmpty(dimensions []int, dtype dtypes.DType) ops.TensorDescription {
	desc := ops.TensorDescription{ID: ops.NewTensorID(), Dimensions: dimensions, DType: dtype, Status: ops.NotInit}
	s.handles.CreateEmpty(desc.ID)
	return desc
}

// RegisterTensor takes ownership of buffer, which must live on the server's device, and returns its description.
func (s *Server) RegisterTensor(buffer backends.Buffer) (ops.TensorDescription, error) {
	shape, err := s.backend.BufferShape(buffer)
	if err != nil {
		return ops.TensorDescription{}, errors.WithMessagef(err, "registering tensor on %s", s.device)
	}
	deviceNum, err := s.backend.BufferDeviceNum(buffer)
	if err != nil {
		return ops.TensorDescription{}, errors.WithMessagef(err, "registering tensor on %s", s.device)
	}
	if deviceNum != s.deviceNum {
		return ops.TensorDescription{}, errors.Errorf("registering tensor on %s: buffer lives on device #%d",
			s.device, deviceNum)
	}
	desc := ops.TensorDescription{ID: ops.NewTensorID(), Dimensions: shape.Dimensions, DType: shape.DType}
	s.handles.Register(desc.ID, buffer)
	return desc, nil
}

// ReadTensor drains the stream and returns a copy of the buffer of the tensor, owned by the caller.
func (s *Server) ReadTensor(desc ops.TensorDescription) (backends.Buffer, error) {
	if err := s.Drain(); err != nil {
		return nil, err
	}
	buffer, found := s.handles.Lookup(desc.ID)
	if !found {
		return nil, errors.Errorf("reading tensor %s on %s: not materialized", desc, s.device)
	}
	clone, err := s.backend.BufferClone(buffer)
	if err != nil {
		return nil, errors.WithMessagef(err, "reading tensor %s on %s", desc, s.device)
	}
	return clone, nil
}

// TakeTensor drains the stream, and removes the tensor from the server, returning its buffer, owned by the caller.
func (s *Server) TakeTensor(desc ops.TensorDescription) (backends.Buffer, error) {
	if err := s.Drain(); err != nil {
		return nil, err
	}
	buffer, err := s.handles.Take(desc.ID)
	if err != nil {
		return nil, errors.WithMessagef(err, "taking tensor from %s", s.device)
	}
	return buffer, nil
}

// Restore puts back a buffer taken with TakeTensor under its original id.
func (s *Server) Restore(id ops.TensorID, buffer backends.Buffer) {
	s.handles.Register(id, buffer)
}

// RegisterOrphan releases the tensor id: its buffer is freed now, or after the next drain if queued operations
// still refer to it.
func (s *Server) RegisterOrphan(id ops.TensorID) {
	if s.stream.References(id) {
		s.orphans.Insert(id)
		return
	}
	if s.handles.Drop(id) {
		klog.V(2).Infof("%s: dropped tensor %s", s.device, id)
	}
}

func (s *Server) isOrphan(id ops.TensorID) bool {
	return s.orphans.Has(id)
}

func (s *Server) dropOrphans() {
	for id := range s.orphans {
		s.handles.Drop(id)
	}
	if s.orphans.Len() > 0 {
		klog.V(2).Infof("%s: dropped %d deferred tensors", s.device, s.orphans.Len())
	}
	s.orphans.Clear()
}

// Drain executes all queued operations. Draining an empty stream is a no-op.
//
// If an operation fails the remaining queued operations are discarded, and the error is returned.
func (s *Server) Drain() error {
	if s.stream.IsEmpty() {
		return nil
	}
	operations := s.stream.Take()
	defer s.dropOrphans()
	segments := trace.Split(operations, trace.Options{
		Fusion:        s.options.Fusion,
		MaxOperations: s.options.MaxTraceOperations,
		Capabilities:  s.backend.Capabilities(),
		Discarded:     s.isOrphan,
	})
	klog.V(2).Infof("%s: draining %d operations in %d segments", s.device, len(operations), len(segments))
	if s.options.Metrics != nil {
		s.options.Metrics.Drains.Inc()
	}
	ctx := stream.NewContext(s.backend, s.deviceNum, s.handles)
	for _, segment := range segments {
		var err error
		if segment.IsFused() {
			err = s.executeTrace(ctx, segment.Trace)
		} else {
			err = s.executeOperation(ctx, segment.Operation)
		}
		if err != nil {
			return errors.WithMessagef(err, "draining %s", s.device)
		}
	}
	return nil
}

func (s *Server) executeTrace(ctx *stream.Context, tr *trace.Trace) error {
	signature := tr.Signature()
	execution, found := s.executions[signature]
	if !found {
		var err error
		execution, err = elemwise.New(tr, s.device, s.backend, s.tuner).WithMetrics(s.options.Metrics).Compile()
		if err != nil {
			return err
		}
		s.executions[signature] = execution
		if s.options.Metrics != nil {
			s.options.Metrics.Compilations.Inc()
		}
	}
	ctx.Bind(tr.Inputs, tr.Outputs, tr.Scalars)
	if err := execution.Execute(ctx); err != nil {
		return err
	}

	// Values computed inside the kernel only never get storage.
	materialized := sets.Make[ops.TensorID](len(tr.Outputs))
	for _, output := range tr.Outputs {
		materialized.Insert(output.ID)
	}
	produced := sets.Make[ops.TensorID]()
	for _, op := range tr.Operations {
		for _, output := range op.Outputs {
			produced.Insert(output.ID)
		}
	}
	for id := range produced.Sub(materialized) {
		s.handles.Drop(id)
	}
	return nil
}

func (s *Server) executeOperation(ctx *stream.Context, op *ops.Operation) error {
	ctx.Bind(op.Inputs, op.Outputs, op.Scalars)
	inputs := ctx.InputBuffers()
	outputs, err := ctx.AllocateOutputs()
	if err != nil {
		return err
	}
	if err := s.backend.ExecuteOp(s.deviceNum, op.Spec(), inputs, outputs); err != nil {
		ctx.FreeBuffers(outputs)
		return errors.WithMessagef(err, "executing %s", op)
	}
	ctx.RegisterOutputs(outputs)
	if s.options.Metrics != nil {
		s.options.Metrics.DirectOps.Inc()
	}
	ctx.ReleaseInputs()
	return nil
}

// Finalize frees all buffers and compiled kernels. Pending operations are discarded.
func (s *Server) Finalize() {
	if klog.V(2).Enabled() {
		klog.Infof("%s: finalizing tensors %v", s.device, s.handles.IDs())
	}
	s.stream.Take()
	s.orphans.Clear()
	s.handles.Clear()
	for _, execution := range s.executions {
		execution.Finalize()
	}
	clear(s.executions)
}
