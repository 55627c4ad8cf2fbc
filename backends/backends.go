// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package backends defines the device boundary used by the fusion engine: memory (DataInterface) and
// compute (KernelInterface).
//
// The engine never allocates or computes anything itself: it describes the elementwise work to be done as a
// Program, asks the backend to Compile it into a Kernel for a given CubeDim, and executes the Kernel on
// Buffers owned by the backend. Operations that can't be fused are handed over to KernelInterface.ExecuteOp.
//
// A backend that doesn't implement every operation can simply return an error wrapping ErrNotImplemented
// for those operations, and it would still work for programs that don't require them.
package backends

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// DeviceNum represents which device holds a buffer, or should execute a kernel.
// It's up to the backend to interpret it, but it should be between 0 and Backend.NumDevices.
type DeviceNum int

// DeviceID identifies a device across backends. It is used as part of the autotune cache key and
// to order locks when more than one device is involved in an operation.
type DeviceID struct {
	Backend string    `json:"backend"`
	Num     DeviceNum `json:"num"`
}

// DeviceIDOf returns the DeviceID of the device deviceNum of the given backend.
func DeviceIDOf(backend Backend, deviceNum DeviceNum) DeviceID {
	return DeviceID{Backend: backend.Name(), Num: deviceNum}
}

// String implements fmt.Stringer.
func (id DeviceID) String() string {
	return fmt.Sprintf("%s:%d", id.Backend, id.Num)
}

// Less defines a total order over devices: by backend name first, then by device number.
func (id DeviceID) Less(other DeviceID) bool {
	if id.Backend != other.Backend {
		return id.Backend < other.Backend
	}
	return id.Num < other.Num
}

// Backend is the API that needs to be implemented by a device backend.
type Backend interface {
	// Name returns the short name of the backend, the same used to register it. E.g.: "go".
	Name() string

	// Description is a longer description of the Backend that can be used to pretty-print.
	Description() string

	// NumDevices return the number of devices available for this Backend.
	NumDevices() DeviceNum

	// Capabilities returns information about what is supported by this backend.
	Capabilities() Capabilities

	// DataInterface is the sub-interface that defines the API to allocate and transfer Buffers.
	DataInterface

	// KernelInterface is the sub-interface that defines the API to compile and execute kernels.
	KernelInterface

	// Finalize releases all the associated resources immediately, and makes the backend invalid.
	Finalize()
}

// Constructor takes a config string (optionally empty) and returns a Backend.
type Constructor func(config string) (Backend, error)

var (
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register backend with the given name, and a default constructor that takes as input a configuration string that is
// passed along to the backend constructor.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// List the names of the registered backends, sorted.
func List() []string {
	names := make([]string, 0, len(registeredConstructors))
	for name := range registeredConstructors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// DefaultConfig is the name of the default backend configuration to use if specified.
//
// See NewWithConfig for the format of the configuration string.
var DefaultConfig string

// ConfigEnvVar is the name of the environment variable with the default backend configuration to use:
// "FUSION_BACKEND".
//
// The format of config is "<backend_name>:<backend_configuration>".
// The "<backend_name>" is the name of a registered backend (e.g.: "go") and
// "<backend_configuration>" is backend specific (e.g.: for the "go" backend, "devices=2,parallelism=4").
const ConfigEnvVar = "FUSION_BACKEND"

// New returns a new default Backend.
//
// The default is:
//
// 1. The environment FUSION_BACKEND is used as a configuration if defined.
// 2. Next the variable DefaultConfig is used as a configuration if defined.
// 3. The first registered backend is used with an empty configuration.
//
// It returns an error if no backend was registered.
func New() (Backend, error) {
	config, found := os.LookupEnv(ConfigEnvVar)
	if found {
		return NewWithConfig(config)
	}
	if DefaultConfig != "" {
		return NewWithConfig(DefaultConfig)
	}
	return NewWithConfig("")
}

// MustNew is like New, but panics on error.
func MustNew() Backend {
	backend, err := New()
	if err != nil {
		panic(err)
	}
	return backend
}

// NewWithConfig takes a configurations string formated as "<backend_name>:<backend_configuration>".
//
// The "<backend_name>" is the name of a registered backend (e.g.: "go") and
// "<backend_configuration>" is backend specific. If the name is omitted, the first registered backend is used.
func NewWithConfig(config string) (Backend, error) {
	if len(registeredConstructors) == 0 {
		return nil, errors.New(`no registered backends -- maybe import the pure Go one with import _ "github.com/gomlx/fusion/backends/simplego"?`)
	}
	backendName := firstRegistered
	backendConfig := config
	if idx := strings.Index(config, ":"); idx != -1 {
		backendName = config[:idx]
		backendConfig = config[idx+1:]
	} else if _, found := registeredConstructors[config]; found {
		backendName = config
		backendConfig = ""
	}
	constructor, found := registeredConstructors[backendName]
	if !found {
		return nil, errors.Errorf("can't find backend %q for configuration %q given, registered backends: %q",
			backendName, config, List())
	}
	backend, err := constructor(backendConfig)
	if err != nil {
		return nil, errors.WithMessagef(err, "while creating backend %q with configuration %q", backendName, backendConfig)
	}
	return backend, nil
}

// MustNewWithConfig is like NewWithConfig, but panics on error.
func MustNewWithConfig(config string) Backend {
	backend, err := NewWithConfig(config)
	if err != nil {
		exceptions.Panicf("backends.NewWithConfig(%q): %+v", config, err)
	}
	return backend
}
