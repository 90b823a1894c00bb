// Copyright (c) The Vmchecker Authors
// SPDX-License-Identifier: MPL-2.0

// Package executor implements the executor supervisor and the result
// logger: spawning the opaque external executor, waiting on it with a
// wall-clock deadline, escalating signals on timeout,
// and writing the grade.vmr / vmchecker-stderr.vmr artifacts the callback
// later uploads.
package executor

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	hclog "github.com/hashicorp/go-hclog"
)

// BinaryName is the fixed name of the external executor binary, resolved
// relative to a course's configured vmchecker_root directory.
const BinaryName = "vmchecker-vm-executor"

const (
	// GradeFile is the single-status-word artifact every Run call writes
	// exactly once.
	GradeFile = "grade.vmr"
	// StderrFile is the append-only diagnostic log every Run call may
	// write to one or more times.
	StderrFile = "vmchecker-stderr.vmr"

	gradeDone  = "done"
	gradeError = "error"

	killGracePeriod = 5 * time.Second
)

// Result summarizes how the executor finished. It is informational only:
// every outcome is already durably recorded in GradeFile/StderrFile before
// Run returns.
type Result struct {
	ExitCode int
	TimedOut bool
	Spawned  bool
}

// Supervisor spawns and supervises one invocation of the external
// executor per call to Run. It is safe for concurrent use: each Run call
// owns its own child process.
type Supervisor struct {
	binDir string
	logger hclog.Logger
}

// NewSupervisor constructs a Supervisor that resolves the executor binary
// under binDir (a course's vmchecker_root).
func NewSupervisor(logger hclog.Logger, binDir string) *Supervisor {
	return &Supervisor{binDir: binDir, logger: logger.Named("executor")}
}

// Run spawns the executor against dir (the unpacked submission directory)
// and supervises it until it exits or timeout elapses. Run never returns
// an error to its caller — every control path writes GradeFile exactly
// once, and never panics out to its caller.
func (s *Supervisor) Run(dir string, timeout time.Duration) Result {
	binPath := filepath.Join(s.binDir, BinaryName)

	cmd := exec.Command(binPath, dir)
	if err := cmd.Start(); err != nil {
		s.appendStderr(dir, fmt.Sprintf("Cannot run %s: %v", BinaryName, err))
		s.appendStderr(dir, "Please contact the administrators.")
		s.writeGrade(dir, gradeError)
		s.logger.Error("executor spawn failed", "dir", dir, "error", err)
		return Result{Spawned: false}
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	select {
	case waitErr := <-done:
		code := exitCode(waitErr)
		if code == 0 {
			s.appendStderr(dir, fmt.Sprintf("%s exitcode %d success", BinaryName, code))
			s.writeGrade(dir, gradeDone)
		} else {
			s.appendStderr(dir, fmt.Sprintf("%s exitcode %d error", BinaryName, code))
			s.writeGrade(dir, gradeError)
		}
		return Result{Spawned: true, ExitCode: code}

	case <-deadline.C:
		s.appendStderr(dir, fmt.Sprintf("%s is taking too long, aborting", BinaryName))
		s.writeGrade(dir, gradeError)
		s.kill(cmd, done)
		return Result{Spawned: true, TimedOut: true, ExitCode: -1}
	}
}

// kill performs graceful-then-forceful termination: an interrupt, a grace
// period for the executor to tear down its VM handles, then a termination
// signal. Both signals are best-effort; failures (including signalling a
// child that already exited during the grace period) are logged, never
// surfaced.
func (s *Supervisor) kill(cmd *exec.Cmd, done <-chan error) {
	if err := cmd.Process.Signal(syscall.SIGINT); err != nil {
		s.logger.Warn("failed to send SIGINT to timed-out executor", "pid", cmd.Process.Pid, "error", err)
	}

	time.Sleep(killGracePeriod)

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		s.logger.Warn("failed to send SIGTERM to timed-out executor", "pid", cmd.Process.Pid, "error", err)
	}
	<-done
}

func exitCode(waitErr error) int {
	if waitErr == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func (s *Supervisor) writeGrade(dir, status string) {
	path := filepath.Join(dir, GradeFile)
	if err := os.WriteFile(path, []byte(status+"\n"), 0o644); err != nil {
		s.logger.Error("failed to write grade file", "path", path, "error", err)
	}
}

func (s *Supervisor) appendStderr(dir, line string) {
	path := filepath.Join(dir, StderrFile)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		s.logger.Error("failed to open stderr artifact", "path", path, "error", err)
		return
	}
	defer f.Close()
	if _, err := fmt.Fprintln(f, line); err != nil {
		s.logger.Error("failed to append stderr artifact", "path", path, "error", err)
	}
}
