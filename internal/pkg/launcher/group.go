// Copyright (c) 2018-2023, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package launcher

import (
	"fmt"
	"io"
	"os"

	"github.com/LLNL/spawnnet/internal/pkg/bootstrap/pmi"
	"github.com/LLNL/spawnnet/internal/pkg/bootstrap/ring"
	"github.com/LLNL/spawnnet/internal/pkg/channel"
	"github.com/LLNL/spawnnet/internal/pkg/collective"
	"github.com/LLNL/spawnnet/internal/pkg/mpir"
	"github.com/LLNL/spawnnet/internal/pkg/params"
	"github.com/LLNL/spawnnet/internal/pkg/session"
	"github.com/LLNL/spawnnet/internal/pkg/spawnerr"
	"github.com/LLNL/spawnnet/internal/pkg/spawnproc"
)

// RunGroup runs §4.F step 6: broadcast rootGS (ignored by every
// non-root caller, who may pass a zero-value params.GroupStart — the
// broadcast overwrites it before it's read) from root, fork the group's
// local application processes, and dispatch §4.H/§4.I. When both PMI
// and RING are requested, each app process is expected to open one
// connection for the PMI exchange and, once that completes, a second
// for the ring exchange — the two bootstraps stay fully independent
// connections even though they share one group-start call.
func (l *Launcher) RunGroup(rootGS params.GroupStart) (*session.ProcessGroup, error) {
	node := l.Session.Node

	in := rootGS.Encode()
	full, err := collective.BroadcastStrmap(node, in)
	if err != nil {
		return nil, fmt.Errorf("group start: broadcasting parameters: %w", err)
	}
	gs, err := params.DecodeGroupStart(full)
	if err != nil {
		return nil, fmt.Errorf("group start: %w", err)
	}

	if gs.BinBcast {
		path, err := collective.FileBroadcast(node, gs.EXE, l.ScratchDir)
		if err != nil {
			return nil, fmt.Errorf("group start: broadcasting binary: %w", err)
		}
		if err := os.Chmod(path, 0o755); err != nil {
			return nil, fmt.Errorf("group start: marking broadcast binary executable: %w", err)
		}
		gs.EXE = path
	}

	handles, err := l.forkAppProcesses(gs)
	if err != nil {
		return nil, err
	}

	if gs.PMI {
		appCh, err := l.acceptAppChannels(gs.PPN)
		if err != nil {
			return nil, fmt.Errorf("group start: accepting PMI connections: %w", err)
		}
		if _, err := pmi.RunGroup(node, appCh, node.Rank, node.Ranks); err != nil {
			return nil, fmt.Errorf("group start: pmi: %w", err)
		}
	}
	if gs.Ring {
		appCh, err := l.acceptAppChannels(gs.PPN)
		if err != nil {
			return nil, fmt.Errorf("group start: accepting ring connections: %w", err)
		}
		if err := ring.RunGroup(node, appCh, node.Rank, node.Ranks); err != nil {
			return nil, fmt.Errorf("group start: ring: %w", err)
		}
	}

	pids := make([]int, len(handles))
	for i, h := range handles {
		pids[i] = h.PID
	}
	pg, err := l.Session.StartGroup(gs.Name, full, pids)
	if err != nil {
		return nil, fmt.Errorf("group start: %w", err)
	}

	if err := l.fillAppDebugTable(gs, handles); err != nil {
		return nil, err
	}

	l.appHandles = append(l.appHandles, handles...)
	return pg, nil
}

func (l *Launcher) forkAppProcesses(gs params.GroupStart) ([]*spawnproc.Handle, error) {
	if gs.PPN == 0 {
		return nil, nil
	}

	localKind, err := l.Params.Local()
	if err != nil {
		return nil, err
	}
	shPath, err := l.Params.Helper(params.KeySh)
	if err != nil {
		return nil, err
	}
	mode, err := l.Params.MPIR()
	if err != nil {
		return nil, err
	}

	baseEnv := append(os.Environ(), fmt.Sprintf("%s=%s", EnvPMIAddr, l.Session.Endpoint.Name()))
	if mode == params.MPIRApp {
		baseEnv = append(baseEnv, fmt.Sprintf("%s=1", EnvMPIR))
	}

	handles := make([]*spawnproc.Handle, gs.PPN)
	for i := 0; i < gs.PPN; i++ {
		var stdout, stderr io.Writer = os.Stdout, os.Stderr
		if gs.FIFO {
			appRank := l.Session.Node.Rank*gs.PPN + i
			stdout = newRankPrefixWriter(appRank, os.Stdout)
			stderr = newRankPrefixWriter(appRank, os.Stderr)
		}
		h, err := spawnproc.LocalApp(localKind, shPath, gs.EXE, nil, baseEnv, gs.CWD, stdout, stderr)
		if err != nil {
			return nil, fmt.Errorf("group start: forking local rank %d: %w", i, err)
		}
		handles[i] = h
	}
	return handles, nil
}

func (l *Launcher) acceptAppChannels(ppn int) ([]*channel.Channel, error) {
	ch := make([]*channel.Channel, ppn)
	for i := 0; i < ppn; i++ {
		c, err := l.Session.Endpoint.Accept()
		if err != nil {
			return nil, spawnerr.New(spawnerr.Transport, "accept app connection", err)
		}
		ch[i] = c
	}
	return ch, nil
}

func (l *Launcher) fillAppDebugTable(gs params.GroupStart, handles []*spawnproc.Handle) error {
	mode, err := l.Params.MPIR()
	if err != nil {
		return err
	}
	if mode != params.MPIRApp || !l.Session.Node.IsRoot() {
		return nil
	}
	self, _ := os.Hostname()
	descs := make([]mpir.ProcDesc, 0, len(handles))
	for _, h := range handles {
		descs = append(descs, mpir.ProcDesc{HostName: self, Executable: gs.EXE, PID: h.PID})
	}
	mpir.Fill(descs)
	return nil
}
