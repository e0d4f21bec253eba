// Copyright (c) 2018-2023, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package collective

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/LLNL/spawnnet/internal/pkg/session"
	"github.com/LLNL/spawnnet/internal/pkg/spawnerr"
)

// FileBroadcast reads rootPath whole into memory at the root, distributes
// its basename and content to every launcher via two Broadcasts, and
// materializes the content under scratchDir on every launcher (the root
// included, mirroring a local copy it already has). It returns the path
// the file was written to. A flock guards the write so two ranks sharing
// a scratch directory (single-host runs) don't race on the same path.
func FileBroadcast(node *session.SpawnNode, rootPath, scratchDir string) (string, error) {
	var name string
	var data []byte
	if node.IsRoot() {
		var err error
		data, err = os.ReadFile(rootPath)
		if err != nil {
			return "", spawnerr.New(spawnerr.IO, "file_broadcast: read root file", err)
		}
		name = filepath.Base(rootPath)
	}

	nameBytes, err := Broadcast(node, []byte(name))
	if err != nil {
		return "", fmt.Errorf("file_broadcast: broadcasting name: %w", err)
	}
	name = string(nameBytes)

	data, err = Broadcast(node, data)
	if err != nil {
		return "", fmt.Errorf("file_broadcast: broadcasting content: %w", err)
	}

	dest := filepath.Join(scratchDir, name)
	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		return "", spawnerr.New(spawnerr.IO, "file_broadcast: create scratch dir", err)
	}

	lock := flock.New(dest + ".lock")
	if err := lock.Lock(); err != nil {
		return "", spawnerr.New(spawnerr.IO, "file_broadcast: lock scratch file", err)
	}
	defer lock.Unlock()

	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return "", spawnerr.New(spawnerr.IO, "file_broadcast: write scratch file", err)
	}

	return dest, nil
}
