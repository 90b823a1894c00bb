// Copyright (c) The Vmchecker Authors
// SPDX-License-Identifier: MPL-2.0

package spool

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shoenig/test/must"

	"github.com/vmchecker/queuemanager/client/job"
	"github.com/vmchecker/queuemanager/client/queue"
	"github.com/vmchecker/queuemanager/helper/testlog"
)

func TestWatcher_Scan_FindsStaleBundles(t *testing.T) {
	dir := t.TempDir()
	must.NoError(t, os.WriteFile(filepath.Join(dir, "stale.zip"), []byte("x"), 0o644))

	q := queue.New()
	w, err := New(testlog.HCLogger(t), dir, &job.PathRegistry{}, q)
	must.NoError(t, err)
	defer w.Close()

	must.NoError(t, w.Scan())
	must.Eq(t, 1, q.Len())

	j, ok := q.Dequeue()
	must.True(t, ok)
	must.Eq(t, "stale.zip", j.Bundle)
}

func TestWatcher_Run_ObservesArrival(t *testing.T) {
	dir := t.TempDir()
	q := queue.New()
	w, err := New(testlog.HCLogger(t), dir, &job.PathRegistry{}, q)
	must.NoError(t, err)

	done := make(chan struct{})
	go w.Run(done)
	defer close(done)

	// Simulate the upstream producer's write-then-rename-into-place
	// pattern: write to a temp name, then atomically rename into the
	// spool so the watcher observes one Create event for the final name.
	tmp := filepath.Join(t.TempDir(), ".bundle.zip.tmp")
	must.NoError(t, os.WriteFile(tmp, []byte("contents"), 0o644))
	final := filepath.Join(dir, "bundle.zip")
	must.NoError(t, os.Rename(tmp, final))

	deadline := time.Now().Add(2 * time.Second)
	for q.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	must.Eq(t, 1, q.Len())

	j, ok := q.Dequeue()
	must.True(t, ok)
	must.Eq(t, "bundle.zip", j.Bundle)
}
