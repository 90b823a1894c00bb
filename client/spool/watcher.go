// Copyright (c) The Vmchecker Authors
// SPDX-License-Identifier: MPL-2.0

// Package spool implements the spool watcher and the stale-job scanner:
// observing the spool directory for completed bundle arrivals and, at startup, enqueueing every bundle
// already present before the watch loop begins.
package spool

import (
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	hclog "github.com/hashicorp/go-hclog"

	"github.com/vmchecker/queuemanager/client/job"
	"github.com/vmchecker/queuemanager/client/queue"
)

// Watcher observes a single spool directory and emits one Job onto its
// Queue per completed bundle arrival.
type Watcher struct {
	dir    string
	paths  *job.PathRegistry
	q      *queue.Queue
	logger hclog.Logger
	fsw    *fsnotify.Watcher
}

// New arms a Watcher on dir. The underlying fsnotify watch is registered
// before New returns, so Scan can safely be called
// immediately afterward: any bundle that arrives between arming the watch
// and Scan listing the directory is observed by at least one of the two
// paths.
func New(logger hclog.Logger, dir string, paths *job.PathRegistry, q *queue.Queue) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}

	return &Watcher{
		dir:    dir,
		paths:  paths,
		q:      q,
		logger: logger.Named("spool"),
		fsw:    fsw,
	}, nil
}

// Scan enumerates every bundle already present in the spool and enqueues
// it. It must be called after New so that the watch is
// already armed.
func (w *Watcher) Scan() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		w.logger.Info("found stale bundle", "bundle", entry.Name())
		w.q.Enqueue(job.New(w.dir, entry.Name(), w.paths))
	}
	return nil
}

// Run drives the watch loop until done is closed. It is the single
// logical producer for file-system-triggered jobs: it never blocks on
// queue capacity (the queue is unbounded) and it never
// runs job work itself.
func (w *Watcher) Run(done <-chan struct{}) {
	defer w.fsw.Close()
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("watch error", "error", err)
		case <-done:
			return
		}
	}
}

// handle enqueues a bundle on its Create event. Write events and every
// other op are ignored, as are events on unrelated paths (e.g. the
// directory itself) and on directories. A Create is delivered when the
// file appears, not when its writer closes it: a bundle renamed into the
// spool arrives complete, while a bundle written in place is enqueued as
// soon as it is created.
func (w *Watcher) handle(event fsnotify.Event) {
	if event.Op&fsnotify.Write != 0 {
		// Still being written; wait for the close.
		return
	}
	// fsnotify does not expose a distinct IN_CLOSE_WRITE op across all
	// platforms; Create is the closest portable proxy for "a new bundle
	// exists" once the writer used the common write-then-rename-into-
	// place pattern, which is what actually delivers an atomic arrival.
	if event.Op&fsnotify.Create == 0 {
		return
	}

	name := filepath.Base(event.Name)
	if filepath.Dir(event.Name) != filepath.Clean(w.dir) {
		return
	}

	info, err := os.Stat(event.Name)
	if err != nil || info.IsDir() {
		return
	}

	w.logger.Info("observed bundle arrival", "bundle", name)
	w.q.Enqueue(job.New(w.dir, name, w.paths))
}

// Close releases the underlying fsnotify watch without waiting for Run's
// loop to observe it; Run also closes it on return.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
