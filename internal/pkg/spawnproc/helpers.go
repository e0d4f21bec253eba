// Copyright (c) 2018-2023, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package spawnproc is the local process-spawn primitive of §6: fork/exec
// of a child under a shell, a remote shell, or direct exec. The teacher's
// internal/pkg/util/bin.FindBin dispatches a fixed set of names to a
// PATH/config lookup; ResolveHelpers adapts that same dispatch shape to
// the §3 `ssh,scp,rsh,rcp,sh,env` parameter keys, all of which resolve
// from PATH alone (no build-time override applies to them).
package spawnproc

import (
	"fmt"
	"os/exec"

	"github.com/LLNL/spawnnet/internal/pkg/params"
	"github.com/LLNL/spawnnet/internal/pkg/spawnerr"
)

// helperNames are the §3 helper-command parameter keys, each resolved
// from PATH at root startup (§4.F step 1).
var helperNames = []string{
	params.KeySSH, params.KeySCP, params.KeyRSH, params.KeyRCP, params.KeySh, params.KeyEnv,
}

// ResolveHelpers finds every §3 helper command on PATH and stores its
// absolute path into p, failing Config at the first unresolved name.
func ResolveHelpers(p *params.Params) error {
	for _, name := range helperNames {
		path, err := exec.LookPath(name)
		if err != nil {
			return spawnerr.New(spawnerr.Config, fmt.Sprintf("resolve helper %q", name), err)
		}
		p.SetHelper(name, path)
	}
	return nil
}
