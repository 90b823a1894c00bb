// Copyright (c) The Vmchecker Authors
// SPDX-License-Identifier: MPL-2.0

// Package worker implements a fixed-size worker pool of N goroutines, each looping forever on dequeue-and-process.
package worker

import (
	"sync"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/vmchecker/queuemanager/client/job"
	"github.com/vmchecker/queuemanager/client/queue"
)

// Processor runs the end-to-end pipeline for a single job. job.Processor
// satisfies this interface.
type Processor interface {
	Process(j *job.Job)
}

// Pool is a fixed-size set of workers consuming a shared Assignment
// Queue. Workers are not specialized by VM identity; any worker can take
// any job, so a slow job blocks exactly one worker.
type Pool struct {
	n      int
	q      *queue.Queue
	proc   Processor
	logger hclog.Logger
	wg     sync.WaitGroup
}

// New constructs a Pool of n workers draining q through proc.
func New(logger hclog.Logger, n int, q *queue.Queue, proc Processor) *Pool {
	return &Pool{n: n, q: q, proc: proc, logger: logger.Named("worker")}
}

// Start launches the pool's n worker goroutines. It returns immediately;
// call Wait to block until all workers have exited (which only happens
// after the queue is Closed and drained).
func (p *Pool) Start() {
	for i := 0; i < p.n; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
}

// Wait blocks until every worker goroutine has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) run(id int) {
	defer p.wg.Done()
	logger := p.logger.With("worker_id", id)

	for {
		j, ok := p.q.Dequeue()
		if !ok {
			logger.Debug("queue closed, worker exiting")
			return
		}
		logger.Debug("dequeued job", "bundle", j.Bundle)
		p.proc.Process(j)
	}
}
