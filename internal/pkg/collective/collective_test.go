// Copyright (c) 2018-2023, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package collective_test

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/LLNL/spawnnet/internal/pkg/collective"
	"github.com/LLNL/spawnnet/internal/pkg/session"
	"github.com/LLNL/spawnnet/internal/pkg/testtree"
	"github.com/LLNL/spawnnet/pkg/strmap"
)

func runOnAll[T any](nodes []*session.SpawnNode, fn func(*session.SpawnNode) (T, error)) ([]T, []error) {
	results := make([]T, len(nodes))
	errs := make([]error, len(nodes))
	var wg sync.WaitGroup
	for i, n := range nodes {
		i, n := i, n
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = fn(n)
		}()
	}
	wg.Wait()
	return results, errs
}

func requireAllNoError(t *testing.T, errs []error) {
	t.Helper()
	for i, err := range errs {
		require.NoError(t, err, "rank %d", i)
	}
}

func TestBroadcastReachesAllRanks(t *testing.T) {
	nodes := testtree.Build(t, 13, 3)
	results, errs := runOnAll(nodes, func(n *session.SpawnNode) ([]byte, error) {
		var payload []byte
		if n.IsRoot() {
			payload = []byte("hello ranks")
		}
		return collective.Broadcast(n, payload)
	})
	requireAllNoError(t, errs)
	for i, r := range results {
		require.Equal(t, "hello ranks", string(r), "rank %d", i)
	}
}

func TestGatherStrmapMergesAllLocals(t *testing.T) {
	nodes := testtree.Build(t, 7, 2)
	results, errs := runOnAll(nodes, func(n *session.SpawnNode) (*strmap.Map, error) {
		local := strmap.New()
		local.Set(fmt.Sprintf("rank%d", n.Rank), "present")
		return collective.GatherStrmap(n, local)
	})
	requireAllNoError(t, errs)

	root := results[0]
	require.Equal(t, 7, root.Len())
	for r := 0; r < 7; r++ {
		require.Equal(t, "present", root.GetDefault(fmt.Sprintf("rank%d", r), ""))
	}
}

func TestAllgatherStrmapMatchesAtEveryRank(t *testing.T) {
	nodes := testtree.Build(t, 9, 3)
	results, errs := runOnAll(nodes, func(n *session.SpawnNode) (*strmap.Map, error) {
		local := strmap.New()
		local.Set(fmt.Sprintf("r%d", n.Rank), "present")
		return collective.AllgatherStrmap(n, local)
	})
	requireAllNoError(t, errs)

	want := results[0]
	require.Equal(t, 9, want.Len())
	for i := 1; i < len(results); i++ {
		require.True(t, want.Equal(results[i]), "rank %d diverged from root's allgather result", i)
	}
}

func TestRingScanOrdersAddressesByTreeTraversal(t *testing.T) {
	nodes := testtree.Build(t, 6, 2)
	addr := func(r int) string { return fmt.Sprintf("10.0.0.%d", r) }

	type pair struct{ left, right string }
	results, errs := runOnAll(nodes, func(n *session.SpawnNode) (pair, error) {
		l, r, err := collective.RingScan(n, addr(n.Rank), addr(n.Rank))
		return pair{l, r}, err
	})
	requireAllNoError(t, errs)

	// Every rank's right neighbor's left neighbor should be itself,
	// i.e. the ring is consistent end to end (allowing for the wrap).
	for r := 0; r < len(nodes); r++ {
		right := results[r].right
		if right == "" {
			continue
		}
		var rr int
		_, err := fmt.Sscanf(right, "10.0.0.%d", &rr)
		require.NoError(t, err)
		require.Equal(t, addr(r), results[rr].left, "ring inconsistent at rank %d -> %d", r, rr)
	}
}

func TestRingScanHandlesZeroContributionRank(t *testing.T) {
	nodes := testtree.Build(t, 3, 2)
	type pair struct{ left, right string }
	results, errs := runOnAll(nodes, func(n *session.SpawnNode) (pair, error) {
		local := ""
		if n.Rank != 1 {
			local = fmt.Sprintf("10.0.0.%d", n.Rank)
		}
		l, r, err := collective.RingScan(n, local, local)
		return pair{l, r}, err
	})
	requireAllNoError(t, errs)
	// Rank 1 contributes nothing; its neighbors must skip over it.
	require.Equal(t, "10.0.0.0", results[1].left)
	require.Equal(t, "10.0.0.2", results[1].right)
}

func TestFileBroadcastMaterializesOnEveryRank(t *testing.T) {
	nodes := testtree.Build(t, 5, 2)

	srcDir := t.TempDir()
	src := filepath.Join(srcDir, "payload.bin")
	content := make([]byte, 64*1024)
	for i := range content {
		content[i] = byte(i % 251)
	}
	require.NoError(t, os.WriteFile(src, content, 0o644))

	scratchDirs := make([]string, len(nodes))
	for i := range scratchDirs {
		scratchDirs[i] = t.TempDir()
	}

	results, errs := runOnAll(nodes, func(n *session.SpawnNode) (string, error) {
		return collective.FileBroadcast(n, src, scratchDirs[n.Rank])
	})
	requireAllNoError(t, errs)

	for i, dest := range results {
		got, err := os.ReadFile(dest)
		require.NoError(t, err)
		require.Equal(t, content, got, "rank %d", i)
		require.Equal(t, "payload.bin", filepath.Base(dest))
	}
}
