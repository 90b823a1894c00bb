// Copyright (c) The Vmchecker Authors
// SPDX-License-Identifier: MPL-2.0

// Package config loads the course/VM configuration that drives the queue
// manager: spool and unzip directory locations, worker pool size, executor
// timeout, and the set of duplicated VM identities with their per-duplicate
// configuration overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

const (
	defaultWorkers = 4
	defaultTimeout = 10 * time.Minute
)

// Override is the set of configuration key/value pairs a VM slot duplicate
// applies to a submission's [Machine] section before the executor runs.
type Override map[string]string

// Duplicate is one statically configured instance of a duplicated VM.
type Duplicate struct {
	WorkerID  string
	Overrides Override
}

// VM describes a single configured VM identity. Duplicates is empty for a
// VM that is left in default mode (a single lazily created "default" slot).
type VM struct {
	Identity   string
	Duplicates []Duplicate
}

// Config is the course configuration consumed by every component of the
// queue manager. It is the in-scope, minimal stand-in for the course/VM
// configuration loader the rest of the queue manager treats as an external
// collaborator.
type Config struct {
	CourseID         string
	SpoolDir         string
	UnzipDir         string
	VMCheckerRoot    string
	NumWorkers       int
	ExecutorTimeout  time.Duration
	LogLevel         string
	CallbackURL      string
	VMs              map[string]*VM
}

// Load reads the course configuration for courseID from an INI file laid
// out as:
//
//	[queue]
//	num_workers = 4
//	executor_timeout = 600
//	spool_dir = /var/spool/vmchecker/cs101
//	unzip_dir = /var/tmp/vmchecker/cs101
//	vmchecker_root = /usr/lib/vmchecker
//	log_level = INFO
//
//	[vm "deb1"]
//
//	[vm "deb1" "a"]
//	mac = 00:11:22:33:44:AA
//	disk = /srv/vms/deb1a.img
//
//	[vm "deb1" "b"]
//	mac = 00:11:22:33:44:BB
//	disk = /srv/vms/deb1b.img
//
// A `[vm "<identity>"]` section with no matching `[vm "<identity>" "..."]`
// sections leaves that identity in default mode.
func Load(path, courseID string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading course config %q: %w", path, err)
	}

	queue := f.Section("queue")
	cfg := &Config{
		CourseID:        courseID,
		SpoolDir:        queue.Key("spool_dir").String(),
		UnzipDir:        queue.Key("unzip_dir").String(),
		VMCheckerRoot:   queue.Key("vmchecker_root").String(),
		NumWorkers:      queue.Key("num_workers").MustInt(defaultWorkers),
		ExecutorTimeout: time.Duration(queue.Key("executor_timeout").MustInt(int(defaultTimeout.Seconds()))) * time.Second,
		LogLevel:        queue.Key("log_level").MustString("INFO"),
		CallbackURL:     queue.Key("callback_url").String(),
		VMs:             map[string]*VM{},
	}

	if cfg.SpoolDir == "" {
		return nil, fmt.Errorf("course config %q: [queue] spool_dir is required", path)
	}
	if cfg.UnzipDir == "" {
		return nil, fmt.Errorf("course config %q: [queue] unzip_dir is required", path)
	}
	if cfg.VMCheckerRoot == "" {
		return nil, fmt.Errorf("course config %q: [queue] vmchecker_root is required", path)
	}

	for _, sec := range f.Sections() {
		name := sec.Name()
		if !strings.HasPrefix(name, "vm ") {
			continue
		}

		identity, suffix, err := parseVMSection(name)
		if err != nil {
			return nil, fmt.Errorf("course config %q: %w", path, err)
		}

		vm, ok := cfg.VMs[identity]
		if !ok {
			vm = &VM{Identity: identity}
			cfg.VMs[identity] = vm
		}
		if suffix == "" {
			continue
		}

		override := Override{}
		for _, key := range sec.Keys() {
			override[key.Name()] = key.Value()
		}
		vm.Duplicates = append(vm.Duplicates, Duplicate{WorkerID: suffix, Overrides: override})
	}

	return cfg, nil
}

// parseVMSection parses an ini section name of the form `vm "identity"` or
// `vm "identity" "suffix"`, the two shapes gopkg.in/ini.v1 produces for
// `[vm "identity"]` and `[vm "identity" "suffix"]` respectively.
func parseVMSection(name string) (identity, suffix string, err error) {
	rest := strings.TrimPrefix(name, "vm ")
	parts, err := splitQuoted(rest)
	if err != nil {
		return "", "", fmt.Errorf("invalid vm section %q: %w", name, err)
	}
	switch len(parts) {
	case 1:
		return parts[0], "", nil
	case 2:
		return parts[0], parts[1], nil
	default:
		return "", "", fmt.Errorf("invalid vm section %q: expected 1 or 2 quoted parts", name)
	}
}

func splitQuoted(s string) ([]string, error) {
	var parts []string
	var cur strings.Builder
	inQuote := false
	for _, r := range s {
		switch {
		case r == '"':
			if inQuote {
				parts = append(parts, cur.String())
				cur.Reset()
			}
			inQuote = !inQuote
		case inQuote:
			cur.WriteRune(r)
		case r == ' ':
			// separator between quoted groups, ignore
		default:
			return nil, fmt.Errorf("unexpected character %q outside quotes", r)
		}
	}
	if inQuote {
		return nil, fmt.Errorf("unterminated quote")
	}
	return parts, nil
}
