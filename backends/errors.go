// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import "github.com/pkg/errors"

// ErrNotImplemented indicates an op is not implemented for the given
// configuration (e.g. unsupported dtype or backend). Backends should wrap this
// error so callers can distinguish "not supported" from genuine bugs.
var ErrNotImplemented = errors.New("op not implemented")
