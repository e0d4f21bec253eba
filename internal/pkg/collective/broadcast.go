// Copyright (c) 2018-2023, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package collective implements the tree collectives of spec §4.E:
// broadcast, gather_strmap, allgather_strmap, ring_scan, and
// file_broadcast. Every operation is synchronous send/recv over the
// Channels a *session.SpawnNode already owns (spec §9: "collectives as
// message passing, not callbacks" — no background event loop).
package collective

import (
	"fmt"

	"github.com/LLNL/spawnnet/internal/pkg/session"
	"github.com/LLNL/spawnnet/pkg/strmap"
)

// Broadcast distributes payload from the root to every launcher: the root
// writes it to each child in list order; every other launcher first reads
// from its parent, then relays to its own children in list order. The
// return value is the broadcast payload, for symmetry between root and
// non-root callers.
func Broadcast(node *session.SpawnNode, payload []byte) ([]byte, error) {
	if !node.IsRoot() {
		s, err := node.Parent.ReadStr()
		if err != nil {
			return nil, fmt.Errorf("broadcast: reading from parent: %w", err)
		}
		payload = []byte(s)
	}
	for _, c := range node.Children {
		if err := c.Channel.WriteStr(string(payload)); err != nil {
			return nil, fmt.Errorf("broadcast: writing to child %d: %w", c.Rank, err)
		}
	}
	return payload, nil
}

// BroadcastStrmap is Broadcast specialized to strmap.Map payloads.
func BroadcastStrmap(node *session.SpawnNode, payload *strmap.Map) (*strmap.Map, error) {
	if !node.IsRoot() {
		m, err := node.Parent.ReadStrmap()
		if err != nil {
			return nil, fmt.Errorf("broadcast_strmap: reading from parent: %w", err)
		}
		payload = m
	}
	for _, c := range node.Children {
		if err := c.Channel.WriteStrmap(payload); err != nil {
			return nil, fmt.Errorf("broadcast_strmap: writing to child %d: %w", c.Rank, err)
		}
	}
	return payload, nil
}
