// Copyright (c) The Vmchecker Authors
// SPDX-License-Identifier: MPL-2.0

// Package testlog provides an hclog.Logger that writes to a *testing.T,
// the same shape of helper many Go test suites reach for in every
// package under test.
package testlog

import (
	"testing"

	hclog "github.com/hashicorp/go-hclog"
)

// HCLogger returns a trace-level hclog.Logger whose output is routed
// through t.Log, so logs interleave correctly with `go test -v` output;
// without -v they are only shown for failing tests.
func HCLogger(t *testing.T) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:   t.Name(),
		Output: NewWriter(t),
		Level:  hclog.Trace,
	})
}

// NewWriter adapts t.Log to an io.Writer.
func NewWriter(t *testing.T) *writer {
	return &writer{t: t}
}

type writer struct {
	t *testing.T
}

func (w *writer) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Logf("%s", p)
	return len(p), nil
}
