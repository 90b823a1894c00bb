// Copyright (c) The Vmchecker Authors
// SPDX-License-Identifier: MPL-2.0

// Package job defines the Job data model shared by the spool watcher, the
// assignment queue, the worker pool, and the job processor.
package job

import "path/filepath"

// PathRegistry is the handle a Job carries to the paths it needs outside
// its own spool directory: the tester-owned unzip area and the directory
// containing the external helper binaries.
type PathRegistry struct {
	UnzipDir      string
	VMCheckerRoot string
}

// Job is a pending unit of work: one bundle archive sitting in the spool,
// not yet processed. The bundle file is the durable representation of a
// Job; a Job value itself is never persisted.
type Job struct {
	SpoolDir string
	Bundle   string
	Paths    *PathRegistry
}

// New constructs a Job for the bundle named name in spoolDir.
func New(spoolDir, name string, paths *PathRegistry) *Job {
	return &Job{SpoolDir: spoolDir, Bundle: name, Paths: paths}
}

// BundlePath is the absolute path to the bundle archive in the spool.
func (j *Job) BundlePath() string {
	return filepath.Join(j.SpoolDir, j.Bundle)
}

// String identifies the job in log lines.
func (j *Job) String() string {
	return j.Bundle
}
