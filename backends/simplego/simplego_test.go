// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"fmt"
	"os"
	"testing"

	"github.com/gomlx/fusion/backends"
	"github.com/gomlx/fusion/pkg/core/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

var backend backends.Backend

func init() {
	klog.InitFlags(nil)
}

func setup() {
	fmt.Printf("Available backends: %q\n", backends.List())
	if os.Getenv(backends.ConfigEnvVar) == "" {
		must.M(os.Setenv(backends.ConfigEnvVar, "go:devices=2"))
	} else {
		fmt.Printf("\t$%s=%q\n", backends.ConfigEnvVar, os.Getenv(backends.ConfigEnvVar))
	}
	backend = backends.MustNew()
	fmt.Printf("Backend: %s, %s\n", backend.Name(), backend.Description())
}

func teardown() {
	backend.Finalize()
}

func TestMain(m *testing.M) {
	setup()
	code := m.Run() // Run all tests in the file
	teardown()
	os.Exit(code)
}

// newTestBackend creates a fresh backend with the given configuration, so counters start at zero.
func newTestBackend(t *testing.T, config string) *Backend {
	b, err := New(config)
	require.NoError(t, err)
	t.Cleanup(b.Finalize)
	return b.(*Backend)
}

// fromFlat uploads flat to device 0 of the backend.
func fromFlat[T SupportedTypesConstraints](t *testing.T, b backends.Backend, flat []T, dims ...int) backends.Buffer {
	buf, err := b.BufferFromFlatData(0, flat, shapes.Make(dtypes.FromGenericsType[T](), dims...))
	require.NoError(t, err)
	return buf
}

// toFlat downloads the buffer contents.
func toFlat[T SupportedTypesConstraints](t *testing.T, b backends.Backend, buf backends.Buffer) []T {
	s, err := b.BufferShape(buf)
	require.NoError(t, err)
	flat := make([]T, s.Size())
	require.NoError(t, b.BufferToFlatData(buf, flat))
	return flat
}

func TestNew(t *testing.T) {
	b := newTestBackend(t, "devices=3,parallelism=0,cube=8x4")
	require.Equal(t, backends.DeviceNum(3), b.NumDevices())
	require.Equal(t, 0, b.Parallelism())
	require.Equal(t, backends.CubeDim{X: 8, Y: 4, Z: 1}, b.DefaultCubeDim())
	require.Equal(t, BackendName, b.Name())

	_, err := New("devices=0")
	require.Error(t, err)
	_, err = New("parallelism=-1")
	require.Error(t, err)
	_, err = New("foo=bar")
	require.Error(t, err)

	// Through the registry and the environment variable set in setup().
	require.Equal(t, backends.DeviceNum(2), backend.NumDevices())
}
