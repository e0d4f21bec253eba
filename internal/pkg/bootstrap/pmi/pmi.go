// Copyright (c) 2018-2023, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package pmi implements the application bootstrap protocol of spec
// §4.H: a per-child key/value handshake whose barrier rides on
// internal/pkg/collective's allgather_strmap, giving the whole job a
// single synchronization point before any GET is answered.
package pmi

import (
	"fmt"
	"sync"

	"github.com/LLNL/spawnnet/internal/pkg/channel"
	"github.com/LLNL/spawnnet/internal/pkg/collective"
	"github.com/LLNL/spawnnet/internal/pkg/session"
	"github.com/LLNL/spawnnet/internal/pkg/spawnerr"
	"github.com/LLNL/spawnnet/pkg/strmap"
)

const (
	tokBarrier  = "BARRIER"
	tokGet      = "GET"
	tokFinalize = "FINALIZE"

	getRounds = 2
)

func protoErr(i int, op string, err error) error {
	return spawnerr.New(spawnerr.Protocol, fmt.Sprintf("pmi child %d: %s", i, op), err)
}

// RunGroup drives §4.H to completion for every locally forked app
// channel in appCh (index i is local slot i, 0-based), and returns the
// job-wide merged key/value strmap once every launcher's allgather has
// converged. rank/n are this launcher's tree rank and the total
// launcher count; ppn is len(appCh).
func RunGroup(node *session.SpawnNode, appCh []*channel.Channel, rank, n int) (*strmap.Map, error) {
	ppn := len(appCh)
	committed := make([]*strmap.Map, ppn)
	errs := make([]error, ppn)

	var wg sync.WaitGroup
	for i, ch := range appCh {
		i, ch := i, ch
		wg.Add(1)
		go func() {
			defer wg.Done()
			init := strmap.New()
			init.Setf("RANK", "%d", rank*ppn+i)
			init.Setf("RANKS", "%d", n*ppn)
			init.Set("JOBID", "0")
			if err := ch.WriteStrmap(init); err != nil {
				errs[i] = fmt.Errorf("pmi child %d: writing init strmap: %w", i, err)
				return
			}
			tok, err := ch.ReadStr()
			if err != nil {
				errs[i] = fmt.Errorf("pmi child %d: reading barrier token: %w", i, err)
				return
			}
			if tok != tokBarrier {
				errs[i] = protoErr(i, "expected BARRIER token from child", fmt.Errorf("got %q", tok))
				return
			}
			m, err := ch.ReadStrmap()
			if err != nil {
				errs[i] = fmt.Errorf("pmi child %d: reading committed strmap: %w", i, err)
				return
			}
			committed[i] = m
		}()
	}
	wg.Wait()
	if err := firstErr(errs); err != nil {
		return nil, err
	}

	local := strmap.New()
	for _, m := range committed {
		local.Merge(m)
	}
	full, err := collective.AllgatherStrmap(node, local)
	if err != nil {
		return nil, fmt.Errorf("pmi allgather: %w", err)
	}

	for i, ch := range appCh {
		i, ch := i, ch
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ch.WriteStr(tokBarrier); err != nil {
				errs[i] = fmt.Errorf("pmi child %d: writing barrier release: %w", i, err)
				return
			}
			for round := 0; round < getRounds; round++ {
				tok, err := ch.ReadStr()
				if err != nil {
					errs[i] = fmt.Errorf("pmi child %d: reading get token: %w", i, err)
					return
				}
				if tok != tokGet {
					errs[i] = protoErr(i, "expected GET token from child", fmt.Errorf("got %q", tok))
					return
				}
				key, err := ch.ReadStr()
				if err != nil {
					errs[i] = fmt.Errorf("pmi child %d: reading get key: %w", i, err)
					return
				}
				val := full.GetDefault(key, "")
				if err := ch.WriteStr(val); err != nil {
					errs[i] = fmt.Errorf("pmi child %d: writing get value: %w", i, err)
					return
				}
			}
			tok, err := ch.ReadStr()
			if err != nil {
				errs[i] = fmt.Errorf("pmi child %d: reading finalize token: %w", i, err)
				return
			}
			if tok != tokFinalize {
				errs[i] = protoErr(i, "expected FINALIZE token from child", fmt.Errorf("got %q", tok))
				return
			}
			if err := ch.Disconnect(); err != nil {
				errs[i] = fmt.Errorf("pmi child %d: disconnecting: %w", i, err)
			}
		}()
	}
	wg.Wait()
	if err := firstErr(errs); err != nil {
		return nil, err
	}

	return full, nil
}

func firstErr(errs []error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
