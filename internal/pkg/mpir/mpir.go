// Copyright (c) 2018-2023, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package mpir implements the debugger-attach convention of §6/§9: a
// process-wide, deliberately leaked process-descriptor table plus a
// state flag, observed by an external debugger attaching to rank 0. The
// table and flag must sit at fixed, discoverable addresses and survive
// for the process's lifetime — ordinary GC-managed locals would not
// give a debugger anything stable to read, so this package exposes them
// as package-level state guarded by a mutex, populated once under an
// initialization barrier, and never freed.
package mpir

import "sync"

// State is the debugger-visible job state (§6).
type State int32

const (
	StateNull     State = 0
	StateSpawned  State = 1
	StateAborting State = 2
)

// ProcDesc is one entry of the debugger-visible process table (§6).
type ProcDesc struct {
	HostName   string
	Executable string
	PID        int
}

var (
	mu    sync.Mutex
	table []ProcDesc
	state State
)

// Fill populates the process table under the initialization barrier and
// sets state to StateSpawned, then calls the quiescent breakpoint. Per
// §6, the table is populated at rank 0 only, covering either the
// launcher tree (MPIR=spawn) or the first application group (MPIR=app).
func Fill(descs []ProcDesc) {
	mu.Lock()
	table = append([]ProcDesc(nil), descs...)
	state = StateSpawned
	mu.Unlock()

	MPIRBreakpoint()
}

// Abort marks the table aborting without clearing it, so a debugger
// already attached can still read the last-known state.
func Abort() {
	mu.Lock()
	state = StateAborting
	mu.Unlock()
}

// Table returns a copy of the current process-descriptor table.
func Table() []ProcDesc {
	mu.Lock()
	defer mu.Unlock()
	return append([]ProcDesc(nil), table...)
}

// CurrentState returns the current debugger-visible state.
func CurrentState() State {
	mu.Lock()
	defer mu.Unlock()
	return state
}

// MPIRBreakpoint is the named quiescent function a debugger sets a
// breakpoint on; it must never be inlined or eliminated, since its only
// purpose is to exist as a stable symbol the table fill happens-before.
//
//go:noinline
func MPIRBreakpoint() {}
