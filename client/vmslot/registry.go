// Copyright (c) The Vmchecker Authors
// SPDX-License-Identifier: MPL-2.0

// Package vmslot implements the per-VM-identity slot registry: a bounded
// pool of interchangeable worker-slot tokens per VM identity, each token
// carrying a configuration override map that is patched into a submission
// before its executor runs.
package vmslot

import (
	"context"
	"fmt"
	"sync"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-set/v3"

	"github.com/vmchecker/queuemanager/client/config"
)

// DefaultWorkerID is the worker id assigned to the single, lazily created
// slot of a VM identity left in default mode.
const DefaultWorkerID = "default"

// Token is one unit of concurrent capacity against a VM identity.
type Token struct {
	WorkerID  string
	Overrides config.Override
}

// Reservation is the result of a successful Reserve call. It must be
// passed to Release exactly once.
type Reservation struct {
	VM    string
	Token *Token
	pool  *pool
}

type pool struct {
	duplicated bool
	tokens     chan *Token
}

// Registry is the VM slot registry. The map from VM
// identity to its pool is a sync.Map so that default-mode pools are
// created with a single atomic get-or-create,
// rather than the double-checked-locking pattern of the original source.
type Registry struct {
	pools sync.Map // map[string]*pool

	// seenMu guards seen, which is not itself safe for concurrent writers.
	seenMu sync.Mutex
	seen   *set.Set[string]

	logger hclog.Logger
}

// NewRegistry builds a Registry pre-populated with a pool for every
// duplicated VM identity declared in cfg. VM identities not mentioned in
// cfg, or mentioned with no duplicates, are created lazily in default mode
// on first reservation.
func NewRegistry(logger hclog.Logger, cfg *config.Config) *Registry {
	r := &Registry{
		seen:   set.New[string](0),
		logger: logger.Named("vmslot"),
	}

	for identity, vm := range cfg.VMs {
		if len(vm.Duplicates) == 0 {
			continue
		}
		tokens := make(chan *Token, len(vm.Duplicates))
		for _, dup := range vm.Duplicates {
			tokens <- &Token{WorkerID: dup.WorkerID, Overrides: dup.Overrides}
		}
		r.pools.Store(identity, &pool{duplicated: true, tokens: tokens})
		r.logger.Info("registered duplicated VM", "vm", identity, "duplicates", len(vm.Duplicates))
	}

	return r
}

func newDefaultPool() *pool {
	tokens := make(chan *Token, 1)
	tokens <- &Token{WorkerID: DefaultWorkerID, Overrides: config.Override{}}
	return &pool{duplicated: false, tokens: tokens}
}

// Reserve implements the reservation protocol: it reads
// the submission's target VM identity, blocks until a token for that
// identity is available, and — for a duplicated VM — patches the
// submission-config's [Machine] section with the token's overrides before
// returning.
func (r *Registry) Reserve(ctx context.Context, submissionConfigPath string) (*Reservation, error) {
	vm, err := config.AssignmentMachine(submissionConfigPath)
	if err != nil {
		return nil, err
	}

	actual, _ := r.pools.LoadOrStore(vm, newDefaultPool())
	p := actual.(*pool)

	r.seenMu.Lock()
	r.seen.Insert(vm)
	r.seenMu.Unlock()

	var tok *Token
	select {
	case tok = <-p.tokens:
	case <-ctx.Done():
		return nil, fmt.Errorf("reserving slot for vm %q: %w", vm, ctx.Err())
	}

	if p.duplicated {
		if err := config.ApplyOverride(submissionConfigPath, tok.Overrides); err != nil {
			// Put the token back before surfacing the error: a failed patch
			// must not leak capacity.
			p.tokens <- tok
			return nil, fmt.Errorf("applying overrides for vm %q worker %q: %w", vm, tok.WorkerID, err)
		}
	}

	r.logger.Debug("reserved slot", "vm", vm, "worker_id", tok.WorkerID)
	return &Reservation{VM: vm, Token: tok, pool: p}, nil
}

// Release returns res's token to its VM identity's pool. It must be
// called exactly once per successful Reserve call; skipping it permanently
// leaks capacity for that VM identity.
func (r *Registry) Release(res *Reservation) {
	res.pool.tokens <- res.Token
	r.logger.Debug("released slot", "vm", res.VM, "worker_id", res.Token.WorkerID)
}

// Identities returns every VM identity, duplicated or default, named by at
// least one Reserve call since the registry was created, whether or not
// that call obtained a token.
func (r *Registry) Identities() []string {
	r.seenMu.Lock()
	defer r.seenMu.Unlock()
	return r.seen.Slice()
}
