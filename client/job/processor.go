// Copyright (c) The Vmchecker Authors
// SPDX-License-Identifier: MPL-2.0

package job

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	getter "github.com/hashicorp/go-getter"
	hclog "github.com/hashicorp/go-hclog"
	multierror "github.com/hashicorp/go-multierror"
	uuid "github.com/hashicorp/go-uuid"

	"github.com/vmchecker/queuemanager/client/callback"
	"github.com/vmchecker/queuemanager/client/config"
	"github.com/vmchecker/queuemanager/client/executor"
	"github.com/vmchecker/queuemanager/client/vmslot"
)

const (
	downloaderBinary = "vmchecker-download-external-files"
	builderBinary    = "vmchecker-build"
	vmrSuffix        = ".vmr"
)

// Processor runs the end-to-end pipeline for one Job at a
// time: unpack, prepare, reserve, announce, execute, release, report,
// cleanup. A Processor is safe for concurrent use — the Worker Pool calls
// Process from every worker goroutine.
type Processor struct {
	registry   *vmslot.Registry
	supervisor *executor.Supervisor
	callback   *callback.Client
	timeout    time.Duration
	logger     hclog.Logger
}

// NewProcessor builds a Processor wired to registry, supervisor, and
// callback, enforcing timeout as the executor's wall-clock deadline.
func NewProcessor(logger hclog.Logger, registry *vmslot.Registry, supervisor *executor.Supervisor, cb *callback.Client, timeout time.Duration) *Processor {
	return &Processor{
		registry:   registry,
		supervisor: supervisor,
		callback:   cb,
		timeout:    timeout,
		logger:     logger.Named("job"),
	}
}

// Process runs the full pipeline for j. It never panics or returns an
// error to its caller: every step's failure is logged and the pipeline
// falls through to cleanup, so a single bad bundle can never wedge the
// spool.
func (p *Processor) Process(j *Job) {
	id, err := uuid.GenerateUUID()
	if err != nil {
		id = j.Bundle
	}
	logger := p.logger.With("job_id", id, "bundle", j.Bundle)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in job pipeline", "panic", r)
		}
	}()

	bundlePath := j.BundlePath()
	var cleanupErrs *multierror.Error
	defer func() {
		if err := cleanupErrs.ErrorOrNil(); err != nil {
			logger.Error("cleanup reported errors", "error", err)
		}
	}()
	defer func() {
		if err := os.Remove(bundlePath); err != nil && !os.IsNotExist(err) {
			cleanupErrs = multierror.Append(cleanupErrs, fmt.Errorf("unlinking bundle: %w", err))
		}
	}()

	unpackDir, err := p.unpack(j, logger)
	if err != nil {
		logger.Error("unpack failed", "error", err)
		return
	}
	defer func() {
		if err := os.RemoveAll(unpackDir); err != nil {
			cleanupErrs = multierror.Append(cleanupErrs, fmt.Errorf("removing unpack directory %s: %w", unpackDir, err))
		}
	}()

	p.runBuildStep(j, unpackDir, logger)
	p.runDownloadStep(j, unpackDir, logger)

	submissionConfig := filepath.Join(unpackDir, config.SubmissionConfigFile)
	res, err := p.registry.Reserve(context.Background(), submissionConfig)
	if err != nil {
		logger.Error("reserving VM slot failed", "error", err)
		return
	}
	released := false
	release := func() {
		if !released {
			released = true
			p.registry.Release(res)
		}
	}
	defer release()

	logger = logger.With("vm", res.VM, "worker_id", res.Token.WorkerID)
	p.callback.Announce(j.Bundle)

	result := p.supervisor.Run(unpackDir, p.timeout)
	logger.Info("executor finished", "spawned", result.Spawned, "exit_code", result.ExitCode, "timed_out", result.TimedOut)
	release()

	p.callback.Report(j.Bundle, callback.Done, collectArtifacts(unpackDir, logger))
}

// unpack creates a fresh temp directory under the tester's unzip area and
// safely decompresses the bundle into it. It uses go-getter's local "zip"
// decompressor, which rejects entries that would escape the destination
// directory (a zip-slip archive fails here rather than writing outside
// unpackDir).
func (p *Processor) unpack(j *Job, logger hclog.Logger) (string, error) {
	unpackDir, err := os.MkdirTemp(j.Paths.UnzipDir, "vmchecker-")
	if err != nil {
		return "", fmt.Errorf("creating unpack directory: %w", err)
	}

	// Force the zip decompressor regardless of the bundle's file
	// extension: upstream is not guaranteed to name bundles *.zip.
	client := &getter.Client{
		Src:  j.BundlePath() + "?archive=zip",
		Dst:  unpackDir,
		Pwd:  j.SpoolDir,
		Mode: getter.ClientModeDir,
	}
	if err := client.Get(); err != nil {
		_ = os.RemoveAll(unpackDir)
		return "", fmt.Errorf("unpacking bundle %q: %w", j.Bundle, err)
	}

	return unpackDir, nil
}

// runBuildStep runs the optional pre-flight build helper if the
// submission's [Assignment] section declares one. Like the download
// helper, a missing or failing build helper is advisory.
func (p *Processor) runBuildStep(j *Job, unpackDir string, logger hclog.Logger) {
	submissionConfig := filepath.Join(unpackDir, config.SubmissionConfigFile)
	arg, ok, err := config.AssignmentBuildCommand(submissionConfig)
	if err != nil || !ok {
		return
	}
	p.runHelper(j, builderBinary, unpackDir, []string{arg}, logger)
}

// runDownloadStep invokes the external-files downloader. Its absence or
// failure is logged but non-fatal.
func (p *Processor) runDownloadStep(j *Job, unpackDir string, logger hclog.Logger) {
	p.runHelper(j, downloaderBinary, unpackDir, nil, logger)
}

func (p *Processor) runHelper(j *Job, binary, unpackDir string, extraArgs []string, logger hclog.Logger) {
	binPath := filepath.Join(j.Paths.VMCheckerRoot, binary)
	args := append([]string{unpackDir}, extraArgs...)
	cmd := exec.Command(binPath, args...)
	if err := cmd.Run(); err != nil {
		logger.Warn("advisory helper failed", "helper", binary, "error", err)
	}
}

// collectArtifacts returns every *.vmr file directly under dir, keyed by
// base name, for attachment to the DONE callback.
func collectArtifacts(dir string, logger hclog.Logger) map[string]string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.Error("failed to list unpack directory for artifacts", "dir", dir, "error", err)
		return nil
	}

	files := map[string]string{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if filepath.Ext(name) != vmrSuffix {
			continue
		}
		files[name] = filepath.Join(dir, name)
	}
	return files
}
