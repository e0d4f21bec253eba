// Copyright (c) 2018-2023, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package ring implements the application bootstrap protocol of spec
// §4.I: a per-child address exchange whose cross-launcher neighbor
// resolution is internal/pkg/collective's ring_scan — this package is
// ring_scan's sole caller, composing it with the per-launcher ADDR
// accept loop the way pmi composes allgather_strmap.
package ring

import (
	"fmt"
	"sync"

	"github.com/LLNL/spawnnet/internal/pkg/channel"
	"github.com/LLNL/spawnnet/internal/pkg/collective"
	"github.com/LLNL/spawnnet/internal/pkg/session"
	"github.com/LLNL/spawnnet/pkg/strmap"
)

// RunGroup drives §4.I to completion for every locally forked app
// channel in appCh. rank/n are this launcher's tree rank and the total
// launcher count; ppn is len(appCh).
func RunGroup(node *session.SpawnNode, appCh []*channel.Channel, rank, n int) error {
	ppn := len(appCh)
	addrs := make([]string, ppn)
	errs := make([]error, ppn)

	var wg sync.WaitGroup
	for i, ch := range appCh {
		i, ch := i, ch
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := ch.ReadStrmap()
			if err != nil {
				errs[i] = fmt.Errorf("ring child %d: reading address strmap: %w", i, err)
				return
			}
			addrs[i] = m.GetDefault("ADDR", "")
		}()
	}
	wg.Wait()
	if err := firstErr(errs); err != nil {
		return err
	}

	var inLeft, inRight string
	if ppn > 0 {
		inLeft = addrs[0]
		inRight = addrs[ppn-1]
	}
	scanLeft, scanRight, err := collective.RingScan(node, inLeft, inRight)
	if err != nil {
		return fmt.Errorf("ring scan: %w", err)
	}

	for i, ch := range appCh {
		i, ch := i, ch
		wg.Add(1)
		go func() {
			defer wg.Done()
			left := scanLeft
			if i > 0 {
				left = addrs[i-1]
			}
			right := scanRight
			if i < ppn-1 {
				right = addrs[i+1]
			}
			out := strmap.New()
			out.Setf("RANK", "%d", rank*ppn+i)
			out.Setf("RANKS", "%d", n*ppn)
			out.Set("LEFT", left)
			out.Set("RIGHT", right)
			if err := ch.WriteStrmap(out); err != nil {
				errs[i] = fmt.Errorf("ring child %d: writing neighbor strmap: %w", i, err)
				return
			}
			if err := ch.Disconnect(); err != nil {
				errs[i] = fmt.Errorf("ring child %d: disconnecting: %w", i, err)
			}
		}()
	}
	wg.Wait()
	return firstErr(errs)
}

func firstErr(errs []error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
