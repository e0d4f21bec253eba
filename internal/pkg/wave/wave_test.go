// Copyright (c) 2018-2023, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package wave_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/LLNL/spawnnet/internal/pkg/session"
	"github.com/LLNL/spawnnet/internal/pkg/testtree"
	"github.com/LLNL/spawnnet/internal/pkg/wave"
)

func runOnAll(nodes []*session.SpawnNode, fn func(*session.SpawnNode) error) []error {
	errs := make([]error, len(nodes))
	var wg sync.WaitGroup
	for i, n := range nodes {
		i, n := i, n
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = fn(n)
		}()
	}
	wg.Wait()
	return errs
}

func requireAllNoError(t *testing.T, errs []error) {
	t.Helper()
	for i, err := range errs {
		require.NoError(t, err, "rank %d", i)
	}
}

func TestSignalToRootReachesRoot(t *testing.T) {
	nodes := testtree.Build(t, 13, 3)
	requireAllNoError(t, runOnAll(nodes, wave.ToRoot))
}

func TestSignalFromRootReachesAllLeaves(t *testing.T) {
	nodes := testtree.Build(t, 13, 3)
	requireAllNoError(t, runOnAll(nodes, wave.FromRoot))
}

func TestBarrierRoundTrip(t *testing.T) {
	nodes := testtree.Build(t, 25, 4)
	requireAllNoError(t, runOnAll(nodes, wave.Barrier))
}

func TestSingleRankBarrier(t *testing.T) {
	nodes := testtree.Build(t, 1, 2)
	require.NoError(t, wave.Barrier(nodes[0]))
}
