// Copyright (c) The Vmchecker Authors
// SPDX-License-Identifier: MPL-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shoenig/test/must"
)

func writeSubmission(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), SubmissionConfigFile)
	must.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestAssignmentMachine(t *testing.T) {
	path := writeSubmission(t, "[Assignment]\nMachine = deb1\n")
	machine, err := AssignmentMachine(path)
	must.NoError(t, err)
	must.Eq(t, "deb1", machine)
}

func TestAssignmentMachine_Missing(t *testing.T) {
	path := writeSubmission(t, "[Assignment]\n")
	_, err := AssignmentMachine(path)
	must.Error(t, err)
}

func TestApplyOverride_OnlyExistingKeysOverwritten(t *testing.T) {
	path := writeSubmission(t, "[Assignment]\nMachine = deb1\n\n[Machine]\nmac = 00:00\ndisk = /orig\n")

	err := ApplyOverride(path, Override{"mac": "AA:BB", "unknown_key": "ignored"})
	must.NoError(t, err)

	data, err := os.ReadFile(path)
	must.NoError(t, err)
	must.StrContains(t, string(data), "AA:BB")
	must.StrNotContains(t, string(data), "ignored")
	must.StrContains(t, string(data), "/orig")
}
