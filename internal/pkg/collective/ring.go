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

const (
	keyLeft  = "LEFT"
	keyRight = "RIGHT"
)

// RingScan computes, for every launcher in the tree, the addresses of its
// immediate left and right neighbors in the ring formed by the in-order
// concatenation of (launcher, its children's subtrees). localLeft and
// localRight are the leftmost and rightmost non-empty addresses this
// launcher itself contributes (empty string if it contributes none, the
// PPN=0 edge case). RingScan returns the resolved left/right neighbor
// addresses for this launcher's own local boundary.
//
// The computation runs in two tree passes, the same shape as
// AllgatherStrmap: bottom-up to find each subtree's leftmost and
// rightmost non-empty address, then top-down to hand every node (and
// every child of every node) the neighbor addresses just outside its
// own subtree. The root closes the ring by handing itself its own
// subtree's rightmost address as its "left-of-me" input and its own
// subtree's leftmost address as its "right-of-me" input.
func RingScan(node *session.SpawnNode, localLeft, localRight string) (left, right string, err error) {
	childUp := make([]*strmap.Map, len(node.Children))
	for i, c := range node.Children {
		up, err := c.Channel.ReadStrmap()
		if err != nil {
			return "", "", fmt.Errorf("ring_scan: reading upward map from child %d: %w", c.Rank, err)
		}
		childUp[i] = up
	}

	// upLeft/upRight fold this node's local addresses together with
	// every child's subtree into this node's own subtree-wide leftmost
	// and rightmost non-empty address.
	upLeft := localLeft
	if upLeft == "" {
		for _, up := range childUp {
			if v := up.GetDefault(keyLeft, ""); v != "" {
				upLeft = v
				break
			}
		}
	}
	upRight := ""
	for i := len(childUp) - 1; i >= 0; i-- {
		if v := childUp[i].GetDefault(keyRight, ""); v != "" {
			upRight = v
			break
		}
	}
	if upRight == "" {
		upRight = localRight
	}

	if !node.IsRoot() {
		m := strmap.New()
		m.Set(keyLeft, upLeft)
		m.Set(keyRight, upRight)
		if err := node.Parent.WriteStrmap(m); err != nil {
			return "", "", fmt.Errorf("ring_scan: writing upward map to parent: %w", err)
		}
	}

	// downLeft/downRight are the addresses immediately outside this
	// node's own subtree. The root has no parent to supply them, so it
	// closes the ring on itself.
	var downLeft, downRight string
	if node.IsRoot() {
		downLeft = upRight
		downRight = upLeft
	} else {
		down, err := node.Parent.ReadStrmap()
		if err != nil {
			return "", "", fmt.Errorf("ring_scan: reading downward map from parent: %w", err)
		}
		downLeft = down.GetDefault(keyLeft, "")
		downRight = down.GetDefault(keyRight, "")
	}

	// left/right are this node's own LOCAL addresses' neighbors, not
	// its whole subtree's: the predecessor of localLeft and the
	// successor of localRight.
	left = downLeft
	if len(node.Children) == 0 {
		right = downRight
	} else {
		right = childUp[0].GetDefault(keyLeft, "")
	}

	for i, c := range node.Children {
		var childLeft string
		if i == 0 {
			if localRight != "" {
				childLeft = localRight
			} else {
				childLeft = downLeft
			}
		} else {
			childLeft = childUp[i-1].GetDefault(keyRight, "")
		}

		var childRight string
		if i == len(node.Children)-1 {
			childRight = downRight
		} else {
			childRight = childUp[i+1].GetDefault(keyLeft, "")
		}

		m := strmap.New()
		m.Set(keyLeft, childLeft)
		m.Set(keyRight, childRight)
		if err := c.Channel.WriteStrmap(m); err != nil {
			return "", "", fmt.Errorf("ring_scan: writing downward map to child %d: %w", c.Rank, err)
		}
	}

	return left, right, nil
}
