// Copyright (c) The Vmchecker Authors
// SPDX-License-Identifier: MPL-2.0

package vmslot

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/shoenig/test/must"

	"github.com/vmchecker/queuemanager/client/config"
	"github.com/vmchecker/queuemanager/helper/testlog"
)

func writeSubmissionConfig(t *testing.T, machine string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, config.SubmissionConfigFile)
	content := "[Assignment]\nMachine = " + machine + "\n\n[Machine]\nmac = 00:00:00:00:00:00\ndisk = /orig\n"
	must.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRegistry_DefaultMode(t *testing.T) {
	cfg := &config.Config{VMs: map[string]*config.VM{}}
	r := NewRegistry(testlog.HCLogger(t), cfg)

	subPath := writeSubmissionConfig(t, "deb1")
	res, err := r.Reserve(context.Background(), subPath)
	must.NoError(t, err)
	must.Eq(t, "deb1", res.VM)
	must.Eq(t, DefaultWorkerID, res.Token.WorkerID)

	r.Release(res)
}

func TestRegistry_DuplicatedMode_OverridesApplied(t *testing.T) {
	cfg := &config.Config{
		VMs: map[string]*config.VM{
			"deb1": {
				Identity: "deb1",
				Duplicates: []config.Duplicate{
					{WorkerID: "a", Overrides: config.Override{"mac": "AA"}},
					{WorkerID: "b", Overrides: config.Override{"mac": "BB"}},
				},
			},
		},
	}
	r := NewRegistry(testlog.HCLogger(t), cfg)

	subPath := writeSubmissionConfig(t, "deb1")
	res, err := r.Reserve(context.Background(), subPath)
	must.NoError(t, err)
	must.True(t, res.Token.WorkerID == "a" || res.Token.WorkerID == "b")

	data, err := os.ReadFile(subPath)
	must.NoError(t, err)
	must.StrContains(t, string(data), res.Token.Overrides["mac"])
	r.Release(res)
}

func TestRegistry_CapacityBound(t *testing.T) {
	cfg := &config.Config{
		VMs: map[string]*config.VM{
			"deb1": {
				Identity: "deb1",
				Duplicates: []config.Duplicate{
					{WorkerID: "a", Overrides: config.Override{}},
				},
			},
		},
	}
	r := NewRegistry(testlog.HCLogger(t), cfg)

	subPath := writeSubmissionConfig(t, "deb1")
	res, err := r.Reserve(context.Background(), subPath)
	must.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Reserve(ctx, subPath)
	must.Error(t, err) // capacity of 1 already held; cancelled context unblocks instead of hanging forever

	r.Release(res)
	res2, err := r.Reserve(context.Background(), subPath)
	must.NoError(t, err)
	r.Release(res2)
}

func TestRegistry_FairnessAcrossDuplicates(t *testing.T) {
	cfg := &config.Config{
		VMs: map[string]*config.VM{
			"deb1": {
				Identity: "deb1",
				Duplicates: []config.Duplicate{
					{WorkerID: "a", Overrides: config.Override{"mac": "AA"}},
					{WorkerID: "b", Overrides: config.Override{"mac": "BB"}},
				},
			},
		},
	}
	r := NewRegistry(testlog.HCLogger(t), cfg)

	seen := map[string]bool{}
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			subPath := writeSubmissionConfig(t, "deb1")
			res, err := r.Reserve(context.Background(), subPath)
			must.NoError(t, err)
			mu.Lock()
			seen[res.Token.WorkerID] = true
			mu.Unlock()
			r.Release(res)
		}()
	}
	wg.Wait()

	must.True(t, seen["a"])
	must.True(t, seen["b"])
}
