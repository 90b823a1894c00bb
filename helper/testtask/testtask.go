// Copyright (c) The Vmchecker Authors
// SPDX-License-Identifier: MPL-2.0

// Package testtask writes small fake-executor shell scripts into a
// temporary directory so tests can exercise the Executor Supervisor
// against a real child process without depending on the real
// vmchecker-vm-executor binary.
package testtask

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shoenig/test/must"
)

// WriteScript writes body (a shell script, shebang included) to
// dir/name and marks it executable. t.Fatal's on any failure.
func WriteScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	must.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}
