// Copyright (c) 2018-2023, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package testtree builds a real, loopback-TCP-connected spawn tree for
// unit tests of the signalling and collective packages. It does not run
// the ID/PID strmap handshake of spec §4.F: each connecting child instead
// sends its slot index as one byte, which places it correctly whatever
// order the connections arrive in. The strmap handshake itself is
// exercised by internal/pkg/launcher's own tests.
package testtree

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/LLNL/spawnnet/internal/pkg/channel"
	"github.com/LLNL/spawnnet/internal/pkg/session"
	"github.com/LLNL/spawnnet/internal/pkg/tree"
)

// Build constructs ranks SpawnNodes, fully wired with real TCP channels
// arranged as a k-ary tree. It returns the nodes (node[0] is root) and
// registers the closing of every endpoint and channel with t.Cleanup.
func Build(t *testing.T, ranks, k int) []*session.SpawnNode {
	t.Helper()

	nodes := make([]*session.SpawnNode, ranks)
	endpoints := make([]*channel.Endpoint, ranks)
	childRanks := make([][]int, ranks)

	for r := 0; r < ranks; r++ {
		n := tree.Compute(r, ranks, k)
		nodes[r] = &session.SpawnNode{Rank: r, Ranks: ranks}
		childRanks[r] = n.Children
		if len(n.Children) > 0 {
			ep, err := channel.Open(channel.TCP)
			require.NoError(t, err)
			endpoints[r] = ep
			t.Cleanup(func() { ep.Close() })
		}
	}

	// Children may connect in any arrival order (spec §4.F's fan-in
	// contract); each child announces its slot index (within its
	// parent's child list) as a single byte so the accepting goroutine
	// can place it correctly regardless of arrival order.
	var wg sync.WaitGroup
	for r := 0; r < ranks; r++ {
		if len(childRanks[r]) == 0 {
			continue
		}
		r := r
		nodes[r].Children = make([]*session.Child, len(childRanks[r]))
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range childRanks[r] {
				ch, err := endpoints[r].Accept()
				require.NoError(t, err)
				slot, err := ch.Read(1)
				require.NoError(t, err)
				nodes[r].Children[slot[0]] = &session.Child{
					Rank:    childRanks[r][slot[0]],
					Channel: ch,
				}
			}
		}()
	}
	for r := 1; r < ranks; r++ {
		parent, _ := tree.Parent(r, k)
		siblings := childRanks[parent]
		slot := byte(0)
		for i, sib := range siblings {
			if sib == r {
				slot = byte(i)
				break
			}
		}
		r, parent, slot := r, parent, slot
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch, err := channel.Connect(endpoints[parent].Name())
			require.NoError(t, err)
			require.NoError(t, ch.Write([]byte{slot}))
			nodes[r].Parent = ch
		}()
	}
	wg.Wait()

	t.Cleanup(func() {
		for _, n := range nodes {
			if n.Parent != nil {
				n.Parent.Disconnect()
			}
			for _, c := range n.Children {
				c.Channel.Disconnect()
			}
		}
	})

	return nodes
}
