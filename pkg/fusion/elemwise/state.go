package elemwise

import (
	"github.com/gomlx/fusion/backends"
	"github.com/gomlx/fusion/pkg/fusion/autotune"
	"github.com/gomlx/fusion/pkg/fusion/trace"
	"github.com/pkg/errors"
)

// State is the serializable form of a fusion unit. Compiled kernels are not part of it: they are recompiled by
// FromState.
type State struct {
	Trace         *trace.Trace `json:"trace"`
	NumOperations int          `json:"num_operations"`
}

// FromState recreates a fusion unit from its State, and compiles it.
func FromState(state State, device backends.DeviceID, backend backends.Backend, tuner *autotune.Tuner) (*Execution, error) {
	if state.Trace == nil || state.Trace.Program == nil {
		return nil, errors.New("elemwise: state has no trace")
	}
	if state.NumOperations != state.Trace.NumOperations() {
		return nil, errors.Errorf("elemwise: state has %d operations, but its trace has %d",
			state.NumOperations, state.Trace.NumOperations())
	}
	if err := state.Trace.Program.Validate(); err != nil {
		return nil, errors.WithMessage(err, "elemwise: invalid state")
	}
	return New(state.Trace, device, backend, tuner).Compile()
}
