// Copyright (c) 2018-2023, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package wave implements the two one-byte synchronization waves of spec
// §4.D — signal_to_root and signal_from_root — on which every collective's
// barrier pair rides. They carry no data; any byte value is acceptable.
// The pattern generalizes the teacher's one-byte socket handshake
// (internal/app/starter/host.go's PostStartHost: read a trigger byte, run
// a phase, write a result byte) from two peers to a whole tree.
package wave

import (
	"fmt"

	"github.com/LLNL/spawnnet/internal/pkg/session"
)

// ToRoot reads one byte from every child (in tree order), then writes one
// byte to parent. A leaf just writes to parent. Returns once the wave has
// reached node's parent.
func ToRoot(node *session.SpawnNode) error {
	for _, c := range node.Children {
		if _, err := c.Channel.Read(1); err != nil {
			return fmt.Errorf("signal_to_root: reading from child %d: %w", c.Rank, err)
		}
	}
	if node.IsRoot() {
		return nil
	}
	if err := node.Parent.Write([]byte{1}); err != nil {
		return fmt.Errorf("signal_to_root: writing to parent: %w", err)
	}
	return nil
}

// FromRoot reads one byte from parent (non-root only), then writes one
// byte to every child in tree order.
func FromRoot(node *session.SpawnNode) error {
	if !node.IsRoot() {
		if _, err := node.Parent.Read(1); err != nil {
			return fmt.Errorf("signal_from_root: reading from parent: %w", err)
		}
	}
	for _, c := range node.Children {
		if err := c.Channel.Write([]byte{1}); err != nil {
			return fmt.Errorf("signal_from_root: writing to child %d: %w", c.Rank, err)
		}
	}
	return nil
}

// Barrier runs ToRoot then FromRoot back to back, the pairing the root
// uses to delimit a timed phase (spec §4.D).
func Barrier(node *session.SpawnNode) error {
	if err := ToRoot(node); err != nil {
		return err
	}
	return FromRoot(node)
}
