// Copyright (c) The Vmchecker Authors
// SPDX-License-Identifier: MPL-2.0

// Package command implements the queue manager's command-line interface,
// following the house style of one cli.Command per executable
// behavior with its own flag.FlagSet.
package command

import (
	"flag"
	"fmt"
	"io"
	"os"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/vmchecker/queuemanager/client/callback"
	"github.com/vmchecker/queuemanager/client/config"
	"github.com/vmchecker/queuemanager/client/executor"
	"github.com/vmchecker/queuemanager/client/job"
	"github.com/vmchecker/queuemanager/client/queue"
	"github.com/vmchecker/queuemanager/client/spool"
	"github.com/vmchecker/queuemanager/client/vmslot"
	"github.com/vmchecker/queuemanager/client/worker"
)

// AgentCommand is the queue manager's only command: load the named
// course's configuration, then run the dispatcher until the process is
// terminated.
type AgentCommand struct {
	UI io.Writer
}

// Help implements cli.Command.
func (c *AgentCommand) Help() string {
	return `Usage: vmchecker-queued -c COURSE_ID [options]

  Watches a course's spool directory, dispatches submissions through the
  worker pool and VM slot registry, and reports results upstream.

Options:

  -c COURSE_ID  Required. Identifies the course whose configuration to load.
  -0 FILE       Redirect standard input from FILE.
  -1 FILE       Redirect standard output to FILE (append).
  -2 FILE       Redirect standard error to FILE (append).
`
}

// Synopsis implements cli.Command.
func (c *AgentCommand) Synopsis() string {
	return "Run the submission queue manager for one course"
}

// Run implements cli.Command. It never returns except by process
// termination or a fatal startup error: missing or invalid configuration
// is logged and causes a nonzero exit before any worker starts.
func (c *AgentCommand) Run(args []string) int {
	var courseID, stdinPath, stdoutPath, stderrPath, configPath string

	flags := flag.NewFlagSet("vmchecker-queued", flag.ContinueOnError)
	flags.StringVar(&courseID, "c", "", "course id (required)")
	flags.StringVar(&stdinPath, "0", "", "redirect stdin from FILE")
	flags.StringVar(&stdoutPath, "1", "", "redirect stdout to FILE")
	flags.StringVar(&stderrPath, "2", "", "redirect stderr to FILE")
	flags.StringVar(&configPath, "config", "", "path to the course config file (defaults to /etc/vmchecker/<course_id>.conf)")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	if courseID == "" {
		fmt.Fprintln(os.Stderr, "course_id parameter required")
		return 1
	}

	if err := redirectStdio(stdinPath, stdoutPath, stderrPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if configPath == "" {
		configPath = fmt.Sprintf("/etc/vmchecker/%s.conf", courseID)
	}

	cfg, err := config.Load(configPath, courseID)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "queuemanager",
		Level: hclog.LevelFromString(cfg.LogLevel),
	})

	return runAgent(logger, cfg)
}

func redirectStdio(stdinPath, stdoutPath, stderrPath string) error {
	if stdinPath != "" {
		f, err := os.Open(stdinPath)
		if err != nil {
			return fmt.Errorf("opening %s for stdin: %w", stdinPath, err)
		}
		os.Stdin = f
	}
	if stdoutPath != "" {
		f, err := os.OpenFile(stdoutPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("opening %s for stdout: %w", stdoutPath, err)
		}
		os.Stdout = f
	}
	if stderrPath != "" {
		f, err := os.OpenFile(stderrPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("opening %s for stderr: %w", stderrPath, err)
		}
		os.Stderr = f
	}
	return nil
}

// runAgent wires the spool watcher, stale-job scanner, assignment queue,
// worker pool, job processor, VM slot registry, executor supervisor, and
// result callback together into a running dispatcher.
func runAgent(logger hclog.Logger, cfg *config.Config) int {
	q := queue.New()
	paths := &job.PathRegistry{UnzipDir: cfg.UnzipDir, VMCheckerRoot: cfg.VMCheckerRoot}

	watcher, err := spool.New(logger, cfg.SpoolDir, paths, q)
	if err != nil {
		logger.Error("failed to arm spool watcher", "error", err)
		return 1
	}

	// The watch must be armed before the stale scan so that a bundle
	// arriving during the scan is observed by at least one of the two
	// paths.
	if err := watcher.Scan(); err != nil {
		logger.Error("stale-job scan failed", "error", err)
		return 1
	}

	registry := vmslot.NewRegistry(logger, cfg)
	supervisor := executor.NewSupervisor(logger, cfg.VMCheckerRoot)
	cb := callback.New(logger, cfg.CallbackURL)
	proc := job.NewProcessor(logger, registry, supervisor, cb, cfg.ExecutorTimeout)

	pool := worker.New(logger, cfg.NumWorkers, q, proc)
	pool.Start()

	done := make(chan struct{})
	go watcher.Run(done)

	logger.Info("queue manager running", "course", cfg.CourseID, "workers", cfg.NumWorkers)

	// There is no cooperative shutdown of the worker
	// pool: the process blocks forever and is terminated externally. An
	// in-flight job at termination survives as a spool file, recoverable
	// by the next run's Stale-Job Scanner.
	select {}
}
