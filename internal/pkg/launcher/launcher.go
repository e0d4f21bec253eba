// Copyright (c) 2018-2023, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package launcher drives spec §4.F's unfurl state machine: the parent
// handshake (or root argv parsing), tree computation and child fork/exec,
// the ID-matching fan-in, the signal_to_root release, and the group-start
// dispatch into internal/pkg/bootstrap. It plays the role the teacher's
// internal/app/starter/host.go plays for a single supervised container
// process, generalized from one parent/child pair to a whole tree: that
// file's PostStartHost is "wait for a signal, run a phase, signal the
// result" — unfurl is the same shape run once per tree level.
package launcher

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/LLNL/spawnnet/internal/pkg/channel"
	"github.com/LLNL/spawnnet/internal/pkg/collective"
	"github.com/LLNL/spawnnet/internal/pkg/mpir"
	"github.com/LLNL/spawnnet/internal/pkg/params"
	"github.com/LLNL/spawnnet/internal/pkg/session"
	"github.com/LLNL/spawnnet/internal/pkg/siteconfig"
	"github.com/LLNL/spawnnet/internal/pkg/spawnerr"
	"github.com/LLNL/spawnnet/internal/pkg/spawnproc"
	"github.com/LLNL/spawnnet/internal/pkg/sylog"
	"github.com/LLNL/spawnnet/internal/pkg/tree"
	"github.com/LLNL/spawnnet/internal/pkg/wave"
	"github.com/LLNL/spawnnet/pkg/strmap"
	"github.com/LLNL/spawnnet/pkg/util/slice"
)

// supportedNets lists the MV2_SPAWN_NET values this runtime actually
// implements — just channel.TCP for now; "ibud" is named in §3 but has
// no transport behind it yet.
var supportedNets = []string{string(channel.TCP)}

// Environment variable names of spec §6.
const (
	EnvNet     = "MV2_SPAWN_NET"
	EnvDegree  = "MV2_SPAWN_DEGREE"
	EnvSH      = "MV2_SPAWN_SH"
	EnvLocal   = "MV2_SPAWN_LOCAL"
	EnvCopy    = "MV2_SPAWN_COPY"
	EnvDBG     = "MV2_SPAWN_DBG"
	EnvEXE     = "MV2_SPAWN_EXE"
	EnvPPN     = "MV2_SPAWN_PPN"
	EnvPMI     = "MV2_SPAWN_PMI"
	EnvRing    = "MV2_SPAWN_RING"
	EnvFIFO    = "MV2_SPAWN_FIFO"
	EnvBinBC   = "MV2_SPAWN_BCAST_BIN"
	EnvParent  = "MV2_SPAWN_PARENT"
	EnvID      = "MV2_SPAWN_ID"
	EnvPMIAddr = "MV2_PMI_ADDR"
	EnvMPIR    = "MV2_MPIR"
)

// childProc is one locally forked child launcher: its handle and the
// rank/host it was started for.
type childProc struct {
	rank   int
	host   string
	handle *spawnproc.Handle
}

// Launcher is one running instance of the unfurl state machine.
type Launcher struct {
	Session    *session.Session
	Params     *params.Params
	ScratchDir string
	children   []childProc
	appHandles []*spawnproc.Handle
}

// Bootstrap runs §4.F step 1: if MV2_SPAWN_PARENT names a parent
// endpoint, this process is a non-root child and connects to it;
// otherwise it is root and hosts is the positional hostname argv.
func Bootstrap(hosts []string, cfg siteconfig.Config) (*Launcher, error) {
	if parentName := os.Getenv(EnvParent); parentName != "" {
		return bootstrapChild(parentName, cfg)
	}
	return bootstrapRoot(hosts, cfg)
}

func bootstrapChild(parentName string, cfg siteconfig.Config) (*Launcher, error) {
	idStr := os.Getenv(EnvID)
	rank, err := strconv.Atoi(idStr)
	if err != nil {
		return nil, spawnerr.New(spawnerr.Config, fmt.Sprintf("parse %s", EnvID), err)
	}

	parentCh, err := channel.Connect(parentName)
	if err != nil {
		return nil, spawnerr.New(spawnerr.Transport, "connect to parent", err)
	}

	init := strmap.New()
	init.Setf("ID", "%d", rank)
	init.Setf("PID", "%d", os.Getpid())
	if err := parentCh.WriteStrmap(init); err != nil {
		return nil, spawnerr.New(spawnerr.Transport, "write id/pid to parent", err)
	}

	full, err := parentCh.ReadStrmap()
	if err != nil {
		return nil, spawnerr.New(spawnerr.Transport, "read parameters from parent", err)
	}
	p := params.Wrap(full)
	ranks, err := p.N()
	if err != nil {
		return nil, err
	}
	jobID, err := p.JobID()
	if err != nil {
		return nil, err
	}

	ep, err := channel.Open(channel.TCP)
	if err != nil {
		return nil, spawnerr.New(spawnerr.Transport, "open own endpoint", err)
	}

	sess := session.New(rank, ranks, ep)
	sess.Node.Parent = parentCh
	sess.Params = full

	sylog.Debugf("rank %d: connected to parent, got %d total ranks", rank, ranks)
	return &Launcher{Session: sess, Params: p, ScratchDir: jobScratchDir(cfg, jobID)}, nil
}

func bootstrapRoot(hosts []string, cfg siteconfig.Config) (*Launcher, error) {
	if net := os.Getenv(EnvNet); net != "" && !slice.ContainsString(supportedNets, net) {
		return nil, spawnerr.New(spawnerr.Config, fmt.Sprintf("parameter %q", EnvNet),
			fmt.Errorf("transport %q is not implemented, only %v is", net, supportedNets))
	}

	p := params.New()
	p.SetN(len(hosts) + 1)

	deg := cfg.Degree
	if v := os.Getenv(EnvDegree); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, spawnerr.New(spawnerr.Config, fmt.Sprintf("parameter %q", EnvDegree), err)
		}
		deg = n
	}
	p.SetDegree(deg)

	shell := params.ShellKind(cfg.Shell)
	if v := os.Getenv(EnvSH); v != "" {
		shell = params.ShellKind(v)
	}
	p.SetShell(shell)

	local := params.LocalKind(cfg.Local)
	if v := os.Getenv(EnvLocal); v != "" {
		local = params.LocalKind(v)
	}
	p.SetLocal(local)

	copyFlag := cfg.Copy
	if v := os.Getenv(EnvCopy); v != "" {
		copyFlag = v == "1"
	}
	p.SetCopy(copyFlag)

	if v := os.Getenv(EnvDBG); v != "" {
		switch v {
		case "spawn":
			p.SetMPIR(params.MPIRSpawn)
		case "app":
			p.SetMPIR(params.MPIRApp)
		default:
			return nil, spawnerr.New(spawnerr.Config, fmt.Sprintf("parameter %q", EnvDBG),
				fmt.Errorf("must be spawn or app, got %q", v))
		}
	}

	self, err := os.Hostname()
	if err != nil {
		self = "localhost"
	}
	p.SetHost(0, self)
	for i, h := range hosts {
		p.SetHost(i+1, h)
	}

	exe, err := os.Executable()
	if err != nil {
		return nil, spawnerr.New(spawnerr.Config, "resolve own executable path", err)
	}
	p.SetEXE(exe)

	jobID := uuid.NewString()
	p.SetJobID(jobID)

	if err := spawnproc.ResolveHelpers(p); err != nil {
		return nil, err
	}

	ep, err := channel.Open(channel.TCP)
	if err != nil {
		return nil, spawnerr.New(spawnerr.Transport, "open own endpoint", err)
	}

	sess := session.New(0, len(hosts)+1, ep)
	sess.Params = p.M

	sylog.Debugf("root: %d total ranks, degree %d", len(hosts)+1, deg)
	return &Launcher{Session: sess, Params: p, ScratchDir: jobScratchDir(cfg, jobID)}, nil
}

// jobScratchDir derives the per-job scratch directory every rank
// materializes COPY=1/BIN_BCAST content under (a SUPPLEMENTED FEATURES
// addition): the site's scratch base joined with a short job-unique
// suffix, so concurrent jobs sharing a host don't collide.
func jobScratchDir(cfg siteconfig.Config, jobID string) string {
	base := cfg.ScratchDir
	if base == "" {
		base = os.TempDir()
	}
	return filepath.Join(base, "spawnnet-"+jobID)
}

// Unfurl runs §4.F steps 2-4: compute this rank's tree position, fork a
// child launcher process per child rank (staging it to the remote host
// first when COPY=1), accept exactly that many channels back (matched to
// slots by the ID field, in whatever order they arrive), then release
// the timed unfurl phase with signal_to_root.
func (l *Launcher) Unfurl() error {
	node := l.Session.Node
	deg, err := l.Params.Degree()
	if err != nil {
		return err
	}
	t := tree.Compute(node.Rank, node.Ranks, deg)

	if err := l.forkChildren(t.Children); err != nil {
		return err
	}
	if err := l.acceptChildren(t.Children); err != nil {
		return err
	}
	if err := wave.ToRoot(node); err != nil {
		return fmt.Errorf("unfurl: %w", err)
	}
	return nil
}

func (l *Launcher) forkChildren(childRanks []int) error {
	if len(childRanks) == 0 {
		return nil
	}

	exe, err := l.Params.EXE()
	if err != nil {
		return err
	}
	copyEnabled := l.Params.Copy()
	stagedExe := exe

	if copyEnabled {
		shell, err := l.Params.Shell()
		if err != nil {
			return err
		}
		shellKey := params.KeySSH
		copyBin := params.KeySCP
		if shell == params.ShellRSH {
			shellKey = params.KeyRSH
			copyBin = params.KeyRCP
		}
		shellPath, err := l.Params.Helper(shellKey)
		if err != nil {
			return err
		}
		copyPath, err := l.Params.Helper(copyBin)
		if err != nil {
			return err
		}
		stagedExe = filepath.Join(l.ScratchDir, filepath.Base(exe))

		var g errgroup.Group
		for _, rank := range childRanks {
			rank := rank
			g.Go(func() error {
				host, err := l.Params.Host(rank)
				if err != nil {
					return err
				}
				if err := spawnproc.Mkdir(shell, shellPath, host, l.ScratchDir); err != nil {
					return err
				}
				return spawnproc.Copy(shell, copyPath, exe, host, stagedExe)
			})
		}
		if err := g.Wait(); err != nil {
			return fmt.Errorf("unfurl: staging copy: %w", err)
		}
	}

	shell, err := l.Params.Shell()
	if err != nil {
		return err
	}
	return l.execChildren(childRanks, stagedExe, shell)
}

func (l *Launcher) execChildren(childRanks []int, exe string, shell params.ShellKind) error {
	shellKey := params.KeySSH
	if shell == params.ShellRSH {
		shellKey = params.KeyRSH
	}
	shellPath, err := l.Params.Helper(shellKey)
	if err != nil {
		return err
	}

	children := make([]childProc, len(childRanks))
	var g errgroup.Group
	for i, rank := range childRanks {
		i, rank := i, rank
		g.Go(func() error {
			host, err := l.Params.Host(rank)
			if err != nil {
				return err
			}
			env := append(os.Environ(),
				fmt.Sprintf("%s=%s", EnvParent, l.Session.Endpoint.Name()),
				fmt.Sprintf("%s=%d", EnvID, rank),
			)
			h, err := spawnproc.Remote(shell, shellPath, host, exe, nil, env)
			if err != nil {
				return fmt.Errorf("unfurl: forking rank %d on %s: %w", rank, host, err)
			}
			children[i] = childProc{rank: rank, host: host, handle: h}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("unfurl: forking children: %w", err)
	}
	l.children = children
	return nil
}

func (l *Launcher) acceptChildren(childRanks []int) error {
	if len(childRanks) == 0 {
		return nil
	}

	slotOf := make(map[int]int, len(childRanks))
	for i, rank := range childRanks {
		slotOf[rank] = i
	}

	node := l.Session.Node
	node.Children = make([]*session.Child, len(childRanks))
	for range childRanks {
		ch, err := l.Session.Endpoint.Accept()
		if err != nil {
			return spawnerr.New(spawnerr.Transport, "accept child", err)
		}
		idpid, err := ch.ReadStrmap()
		if err != nil {
			return spawnerr.New(spawnerr.Transport, "read id/pid from child", err)
		}
		idStr, ok := idpid.Get("ID")
		if !ok {
			return spawnerr.New(spawnerr.Protocol, "child handshake", fmt.Errorf("missing ID field"))
		}
		rank, err := strconv.Atoi(idStr)
		if err != nil {
			return spawnerr.New(spawnerr.Protocol, "child handshake", fmt.Errorf("non-integer ID %q", idStr))
		}
		slot, ok := slotOf[rank]
		if !ok {
			return spawnerr.New(spawnerr.Protocol, "child handshake", fmt.Errorf("unexpected child rank %d", rank))
		}

		host := ""
		for _, c := range l.children {
			if c.rank == rank {
				host = c.host
			}
		}
		pid, _ := strconv.Atoi(idpid.GetDefault("PID", "0"))
		node.Children[slot] = &session.Child{Rank: rank, Channel: ch, Hostname: host, PID: pid}

		if err := ch.WriteStrmap(l.Session.Params); err != nil {
			return spawnerr.New(spawnerr.Transport, "write parameters to child", err)
		}
	}
	return nil
}

// MeasurementPass runs §4.F step 5's optional measurement collectives —
// a pid gather, an endpoint allgather, and a local pack/unpack
// microbench — none of which touch l.Session.Params or anything an
// application process can observe.
func (l *Launcher) MeasurementPass() error {
	node := l.Session.Node

	pidLocal := strmap.New()
	pidLocal.Setf("PID", "%d", os.Getpid())
	if _, err := collective.GatherStrmap(node, pidLocal); err != nil {
		return fmt.Errorf("measurement pass: pid gather: %w", err)
	}

	epLocal := strmap.New()
	epLocal.Set("EP", l.Session.Endpoint.Name())
	if _, err := collective.AllgatherStrmap(node, epLocal); err != nil {
		return fmt.Errorf("measurement pass: endpoint allgather: %w", err)
	}

	var buf bytes.Buffer
	if err := l.Session.Params.Pack(&buf); err != nil {
		return fmt.Errorf("measurement pass: pack microbench: %w", err)
	}
	if _, err := strmap.Unpack(&buf); err != nil {
		return fmt.Errorf("measurement pass: unpack microbench: %w", err)
	}
	return nil
}

// Wait runs §4.F step 7: block until every locally forked child —
// both child launchers (step 2) and any application processes forked
// at group start (step 6) — has exited, then return the first non-nil
// error if any did.
func (l *Launcher) Wait() error {
	var first error
	for _, c := range l.children {
		if err := c.handle.Wait(); err != nil && first == nil {
			first = fmt.Errorf("child rank %d on %s: %w", c.rank, c.host, err)
		}
	}
	for i, h := range l.appHandles {
		if err := h.Wait(); err != nil && first == nil {
			first = fmt.Errorf("app process %d: %w", i, err)
		}
	}
	return first
}

// FillDebugTable populates the §6 debugger table at rank 0 when MPIR
// requests coverage of the launcher tree, handing it the spawn-tree
// children's host/exe/pid. process_group_start fills it instead when
// MPIR requests coverage of the application group.
func (l *Launcher) FillDebugTable() error {
	mode, err := l.Params.MPIR()
	if err != nil {
		return err
	}
	if mode != params.MPIRSpawn || !l.Session.Node.IsRoot() {
		return nil
	}
	exe, err := l.Params.EXE()
	if err != nil {
		return err
	}
	descs := make([]mpir.ProcDesc, 0, len(l.children))
	for _, c := range l.children {
		descs = append(descs, mpir.ProcDesc{HostName: c.host, Executable: exe, PID: c.handle.PID})
	}
	mpir.Fill(descs)
	return nil
}
