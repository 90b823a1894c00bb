// Copyright (c) The Vmchecker Authors
// SPDX-License-Identifier: MPL-2.0

package config

import (
	"fmt"

	"gopkg.in/ini.v1"
)

// SubmissionConfigFile is the name of the per-bundle configuration file
// required to be present at the root of every unpacked submission.
const SubmissionConfigFile = "submission-config"

// AssignmentMachine reads the [Assignment].Machine key from the
// submission-config file at path, the VM identity the submission targets.
func AssignmentMachine(path string) (string, error) {
	f, err := ini.Load(path)
	if err != nil {
		return "", fmt.Errorf("reading submission config %q: %w", path, err)
	}
	machine := f.Section("Assignment").Key("Machine").String()
	if machine == "" {
		return "", fmt.Errorf("submission config %q: [Assignment] Machine is required", path)
	}
	return machine, nil
}

// AssignmentBuildCommand reads the optional [Assignment].build key, the
// pre-flight build helper's argument, if the assignment declares one.
func AssignmentBuildCommand(path string) (string, bool, error) {
	f, err := ini.Load(path)
	if err != nil {
		return "", false, fmt.Errorf("reading submission config %q: %w", path, err)
	}
	key := f.Section("Assignment").Key("build")
	if key.String() == "" {
		return "", false, nil
	}
	return key.String(), true, nil
}

// ApplyOverride rewrites the [Machine] section of the submission-config
// file at path, overwriting each key present in both override and the
// section, then saves the file in place. Keys in override that are not
// already present in [Machine] are skipped without error: no key is ever
// added to [Machine], and an unknown override key is not reported.
func ApplyOverride(path string, override Override) error {
	f, err := ini.Load(path)
	if err != nil {
		return fmt.Errorf("reading submission config %q: %w", path, err)
	}

	machine := f.Section("Machine")
	for key, value := range override {
		if !machine.HasKey(key) {
			continue
		}
		machine.Key(key).SetValue(value)
	}

	if err := f.SaveTo(path); err != nil {
		return fmt.Errorf("rewriting submission config %q: %w", path, err)
	}
	return nil
}
