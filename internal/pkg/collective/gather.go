// Copyright (c) 2018-2023, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package collective

import (
	"fmt"

	"github.com/LLNL/spawnnet/internal/pkg/session"
	"github.com/LLNL/spawnnet/pkg/strmap"
)

// GatherStrmap merges local into the strmaps read from every child, in
// child-list order, children overwriting on key conflict. Every non-root
// forwards its merged result to its parent. The merged value this function
// returns reflects only the subtree rooted at node — only the root's
// return value is the global merge; AllgatherStrmap exists for callers
// that need the global result at every rank.
func GatherStrmap(node *session.SpawnNode, local *strmap.Map) (*strmap.Map, error) {
	merged := local.Clone()
	for _, c := range node.Children {
		childMap, err := c.Channel.ReadStrmap()
		if err != nil {
			return nil, fmt.Errorf("gather_strmap: reading from child %d: %w", c.Rank, err)
		}
		merged.Merge(childMap)
	}
	if !node.IsRoot() {
		if err := node.Parent.WriteStrmap(merged); err != nil {
			return nil, fmt.Errorf("gather_strmap: writing to parent: %w", err)
		}
	}
	return merged, nil
}

// AllgatherStrmap gathers local from every launcher to the root, then
// broadcasts the full merge back down, so every rank ends up holding the
// same, globally-merged map.
func AllgatherStrmap(node *session.SpawnNode, local *strmap.Map) (*strmap.Map, error) {
	subtree, err := GatherStrmap(node, local)
	if err != nil {
		return nil, err
	}
	final, err := BroadcastStrmap(node, subtree)
	if err != nil {
		return nil, fmt.Errorf("allgather_strmap: %w", err)
	}
	return final, nil
}
