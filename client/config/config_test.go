// Copyright (c) The Vmchecker Authors
// SPDX-License-Identifier: MPL-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shoenig/test/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCourseConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tester.conf")
	must.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Basics(t *testing.T) {
	path := writeCourseConfig(t, `
[queue]
num_workers = 2
executor_timeout = 60
spool_dir = /var/spool/cs101
unzip_dir = /var/tmp/cs101
vmchecker_root = /usr/lib/vmchecker
log_level = DEBUG
`)

	cfg, err := Load(path, "cs101")
	must.NoError(t, err)
	must.Eq(t, "cs101", cfg.CourseID)
	must.Eq(t, 2, cfg.NumWorkers)
	must.Eq(t, 60*time.Second, cfg.ExecutorTimeout)
	must.Eq(t, "/var/spool/cs101", cfg.SpoolDir)
	must.Eq(t, "DEBUG", cfg.LogLevel)
}

func TestLoad_MissingRequiredKey(t *testing.T) {
	path := writeCourseConfig(t, `
[queue]
num_workers = 2
`)
	_, err := Load(path, "cs101")
	must.Error(t, err)
}

func TestLoad_DuplicatedVM(t *testing.T) {
	path := writeCourseConfig(t, `
[queue]
spool_dir = /spool
unzip_dir = /unzip
vmchecker_root = /root

[vm "deb1"]

[vm "deb1" "a"]
mac = AA

[vm "deb1" "b"]
mac = BB

[vm "deb2"]
`)
	cfg, err := Load(path, "cs101")
	must.NoError(t, err)

	deb1 := cfg.VMs["deb1"]
	must.NotNil(t, deb1)
	must.Eq(t, 2, len(deb1.Duplicates))

	deb2 := cfg.VMs["deb2"]
	must.NotNil(t, deb2)
	must.Eq(t, 0, len(deb2.Duplicates))
}

func TestParseVMSection(t *testing.T) {
	cases := []struct {
		name         string
		section      string
		identity     string
		suffix       string
		expectErrStr string
	}{
		{name: "identity only", section: `vm "deb1"`, identity: "deb1"},
		{name: "identity and suffix", section: `vm "deb1" "a"`, identity: "deb1", suffix: "a"},
		{name: "too many parts", section: `vm "deb1" "a" "b"`, expectErrStr: "expected 1 or 2 quoted parts"},
		{name: "unterminated quote", section: `vm "deb1`, expectErrStr: "unterminated quote"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			identity, suffix, err := parseVMSection(tc.section)
			if tc.expectErrStr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.expectErrStr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.identity, identity)
			assert.Equal(t, tc.suffix, suffix)
		})
	}
}
