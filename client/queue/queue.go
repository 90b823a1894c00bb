// Copyright (c) The Vmchecker Authors
// SPDX-License-Identifier: MPL-2.0

// Package queue implements the assignment queue: an unbounded,
// thread-safe FIFO of pending jobs feeding the worker pool.
package queue

import (
	"container/list"
	"sync"

	"github.com/vmchecker/queuemanager/client/job"
)

// Queue is an unbounded FIFO of pending jobs. Enqueue never blocks.
// Ordering across Dequeue callers is not guaranteed beyond FIFO admission
// order: any item Enqueued will eventually be delivered to exactly one
// Dequeue caller.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  *list.List
	closed bool
}

// New constructs an empty Queue.
func New() *Queue {
	q := &Queue{items: list.New()}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue admits j onto the back of the queue and wakes one blocked
// Dequeue caller, if any. It never blocks.
func (q *Queue) Enqueue(j *job.Job) {
	q.mu.Lock()
	q.items.PushBack(j)
	q.mu.Unlock()
	q.cond.Signal()
}

// Dequeue blocks until a job is available or Close is called, in which
// case it returns (nil, false).
func (q *Queue) Dequeue() (*job.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.items.Len() == 0 {
		if q.closed {
			return nil, false
		}
		q.cond.Wait()
	}
	front := q.items.Front()
	q.items.Remove(front)
	return front.Value.(*job.Job), true
}

// Close unblocks every Dequeue caller once the queue has drained; it does
// not discard items already enqueued.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Len reports the number of jobs currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}
