// Copyright (c) 2018-2023, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package params gives typed accessors over the wire-portable §3
// parameter strmap. Per §9's design note, everything travels the wire
// as strings; this package parses on read and surfaces Config errors
// early rather than letting a malformed value surface as a panic three
// layers down. Shaped after the teacher's pkg/cmdline.Flag typed-value
// dispatch (one register/accessor pair per Go type), adapted from cobra
// flags to a strmap-backed parameter set.
package params

import (
	"fmt"
	"strconv"

	"github.com/LLNL/spawnnet/internal/pkg/spawnerr"
	"github.com/LLNL/spawnnet/pkg/strmap"
)

// Recognized top-level parameter keys (§3).
const (
	KeyN     = "N"
	KeyDeg   = "DEG"
	KeyEXE   = "EXE"
	KeyCopy  = "COPY"
	KeySH    = "SH"
	KeyLocal = "LOCAL"
	KeyMPIR  = "MPIR"
	KeyJobID = "JOBID"
	KeySSH   = "ssh"
	KeySCP   = "scp"
	KeyRSH   = "rsh"
	KeyRCP   = "rcp"
	KeySh    = "sh"
	KeyEnv   = "env"
)

// Recognized group-start parameter keys (§3).
const (
	KeyGroupName     = "NAME"
	KeyGroupEXE      = "EXE"
	KeyGroupCWD      = "CWD"
	KeyGroupPPN      = "PPN"
	KeyGroupPMI      = "PMI"
	KeyGroupRing     = "RING"
	KeyGroupFIFO     = "FIFO"
	KeyGroupBinBcast = "BIN_BCAST"
)

// ShellKind is the remote-shell parameter (§3 SH).
type ShellKind string

const (
	ShellRSH ShellKind = "rsh"
	ShellSSH ShellKind = "ssh"
)

// LocalKind is the local-launch parameter (§3 LOCAL).
type LocalKind string

const (
	LocalShell  LocalKind = "shell"
	LocalDirect LocalKind = "direct"
)

// MPIRMode is the debugger-attach parameter (§3 MPIR).
type MPIRMode string

const (
	MPIRUnset MPIRMode = "unset"
	MPIRSpawn MPIRMode = "spawn"
	MPIRApp   MPIRMode = "app"
)

// Params wraps a *strmap.Map with typed accessors for the recognized
// keys of §3. The underlying Map is the one that travels the wire
// verbatim; Params adds no state of its own.
type Params struct {
	M *strmap.Map
}

// New wraps an empty strmap.
func New() *Params {
	return &Params{M: strmap.New()}
}

// Wrap adapts an existing strmap (e.g. one just read off a channel).
func Wrap(m *strmap.Map) *Params {
	return &Params{M: m}
}

func (p *Params) configErrf(key, format string, args ...interface{}) error {
	return spawnerr.New(spawnerr.Config, fmt.Sprintf("parameter %q", key), fmt.Errorf(format, args...))
}

func (p *Params) requireInt(key string) (int, error) {
	v, ok := p.M.Get(key)
	if !ok {
		return 0, p.configErrf(key, "missing")
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, p.configErrf(key, "not an integer: %q", v)
	}
	return n, nil
}

// N returns the total launcher count.
func (p *Params) N() (int, error) {
	n, err := p.requireInt(KeyN)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, p.configErrf(KeyN, "must be >= 1, got %d", n)
	}
	return n, nil
}

// SetN stores the total launcher count.
func (p *Params) SetN(n int) { p.M.Setf(KeyN, "%d", n) }

// Degree returns the tree fan-out, rejecting DEG<2 per §9 open
// question (ii): a degenerate linear chain is refused as Config here
// rather than accepted as pathological-but-correct.
func (p *Params) Degree() (int, error) {
	d, err := p.requireInt(KeyDeg)
	if err != nil {
		return 0, err
	}
	if d < 2 {
		return 0, p.configErrf(KeyDeg, "must be >= 2, got %d", d)
	}
	return d, nil
}

// SetDegree stores the tree fan-out.
func (p *Params) SetDegree(deg int) { p.M.Setf(KeyDeg, "%d", deg) }

// Host returns the hostname assigned to launcher rank i.
func (p *Params) Host(rank int) (string, error) {
	key := strconv.Itoa(rank)
	v, ok := p.M.Get(key)
	if !ok {
		return "", p.configErrf(key, "missing host for rank %d", rank)
	}
	return v, nil
}

// SetHost stores the hostname assigned to launcher rank i.
func (p *Params) SetHost(rank int, host string) {
	p.M.Set(strconv.Itoa(rank), host)
}

// EXE returns the absolute path of the launcher executable.
func (p *Params) EXE() (string, error) {
	v, ok := p.M.Get(KeyEXE)
	if !ok {
		return "", p.configErrf(KeyEXE, "missing")
	}
	return v, nil
}

// SetEXE stores the absolute path of the launcher executable.
func (p *Params) SetEXE(path string) { p.M.Set(KeyEXE, path) }

// JobID returns the per-job unique suffix root generated at bootstrap,
// used to name a scratch directory no concurrent job can collide with.
func (p *Params) JobID() (string, error) {
	v, ok := p.M.Get(KeyJobID)
	if !ok {
		return "", p.configErrf(KeyJobID, "missing")
	}
	return v, nil
}

// SetJobID stores the per-job unique suffix.
func (p *Params) SetJobID(id string) { p.M.Set(KeyJobID, id) }

// Copy reports whether the launcher must be staged to scratch before
// remote exec.
func (p *Params) Copy() bool {
	return p.M.GetDefault(KeyCopy, "0") == "1"
}

// SetCopy stores the stage-before-exec flag.
func (p *Params) SetCopy(copy bool) {
	if copy {
		p.M.Set(KeyCopy, "1")
	} else {
		p.M.Set(KeyCopy, "0")
	}
}

// Shell returns the remote-shell kind.
func (p *Params) Shell() (ShellKind, error) {
	v, ok := p.M.Get(KeySH)
	if !ok {
		return "", p.configErrf(KeySH, "missing")
	}
	switch ShellKind(v) {
	case ShellRSH, ShellSSH:
		return ShellKind(v), nil
	default:
		return "", p.configErrf(KeySH, "must be rsh or ssh, got %q", v)
	}
}

// SetShell stores the remote-shell kind.
func (p *Params) SetShell(k ShellKind) { p.M.Set(KeySH, string(k)) }

// Local returns the local-launch kind.
func (p *Params) Local() (LocalKind, error) {
	v, ok := p.M.Get(KeyLocal)
	if !ok {
		return "", p.configErrf(KeyLocal, "missing")
	}
	switch LocalKind(v) {
	case LocalShell, LocalDirect:
		return LocalKind(v), nil
	default:
		return "", p.configErrf(KeyLocal, "must be shell or direct, got %q", v)
	}
}

// SetLocal stores the local-launch kind.
func (p *Params) SetLocal(k LocalKind) { p.M.Set(KeyLocal, string(k)) }

// MPIR returns the debugger-attach mode, defaulting to unset.
func (p *Params) MPIR() (MPIRMode, error) {
	v := p.M.GetDefault(KeyMPIR, string(MPIRUnset))
	switch MPIRMode(v) {
	case MPIRUnset, MPIRSpawn, MPIRApp:
		return MPIRMode(v), nil
	default:
		return "", p.configErrf(KeyMPIR, "must be unset, spawn or app, got %q", v)
	}
}

// SetMPIR stores the debugger-attach mode.
func (p *Params) SetMPIR(m MPIRMode) { p.M.Set(KeyMPIR, string(m)) }

// Helper returns the resolved absolute path for one of the helper
// command keys (ssh, scp, rsh, rcp, sh, env).
func (p *Params) Helper(key string) (string, error) {
	v, ok := p.M.Get(key)
	if !ok {
		return "", p.configErrf(key, "helper command not resolved")
	}
	return v, nil
}

// SetHelper stores the resolved absolute path for a helper command key.
func (p *Params) SetHelper(key, path string) { p.M.Set(key, path) }

// GroupStart is the decoded group-start parameter set of §3.
type GroupStart struct {
	Name     string
	EXE      string
	CWD      string
	PPN      int
	PMI      bool
	Ring     bool
	FIFO     bool
	BinBcast bool
}

// parseGroupBool parses a group-start 0|1 flag, defaulting to false
// when the key is absent (an optional phase that was not requested).
func parseGroupBool(m *strmap.Map, key string) (bool, error) {
	v := m.GetDefault(key, "0")
	switch v {
	case "0":
		return false, nil
	case "1":
		return true, nil
	default:
		return false, spawnerr.New(spawnerr.Config, fmt.Sprintf("parameter %q", key),
			fmt.Errorf("must be 0 or 1, got %q", v))
	}
}

// DecodeGroupStart parses the group-start parameters §4.F step 6
// broadcasts from a raw strmap.
func DecodeGroupStart(m *strmap.Map) (GroupStart, error) {
	var g GroupStart
	var ok bool
	if g.Name, ok = m.Get(KeyGroupName); !ok {
		return g, spawnerr.New(spawnerr.Config, "parameter \"NAME\"", fmt.Errorf("missing"))
	}
	if g.EXE, ok = m.Get(KeyGroupEXE); !ok {
		return g, spawnerr.New(spawnerr.Config, "parameter \"EXE\"", fmt.Errorf("missing"))
	}
	g.CWD = m.GetDefault(KeyGroupCWD, "")

	ppnStr, ok := m.Get(KeyGroupPPN)
	if !ok {
		return g, spawnerr.New(spawnerr.Config, "parameter \"PPN\"", fmt.Errorf("missing"))
	}
	ppn, err := strconv.Atoi(ppnStr)
	if err != nil || ppn < 0 {
		return g, spawnerr.New(spawnerr.Config, "parameter \"PPN\"", fmt.Errorf("must be a non-negative integer, got %q", ppnStr))
	}
	g.PPN = ppn

	if g.PMI, err = parseGroupBool(m, KeyGroupPMI); err != nil {
		return g, err
	}
	if g.Ring, err = parseGroupBool(m, KeyGroupRing); err != nil {
		return g, err
	}
	if g.FIFO, err = parseGroupBool(m, KeyGroupFIFO); err != nil {
		return g, err
	}
	if g.BinBcast, err = parseGroupBool(m, KeyGroupBinBcast); err != nil {
		return g, err
	}
	return g, nil
}

// Encode packs g back into a strmap, the inverse of DecodeGroupStart,
// for the root to broadcast at §4.F step 6.
func (g GroupStart) Encode() *strmap.Map {
	m := strmap.New()
	m.Set(KeyGroupName, g.Name)
	m.Set(KeyGroupEXE, g.EXE)
	m.Set(KeyGroupCWD, g.CWD)
	m.Setf(KeyGroupPPN, "%d", g.PPN)
	m.Set(KeyGroupPMI, boolStr(g.PMI))
	m.Set(KeyGroupRing, boolStr(g.Ring))
	m.Set(KeyGroupFIFO, boolStr(g.FIFO))
	m.Set(KeyGroupBinBcast, boolStr(g.BinBcast))
	return m
}

func boolStr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
