// Copyright (c) 2018-2023, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package spawnerr implements the error taxonomy of spec §7: Config,
// Spawn, Transport, Protocol, Resource and IO. Every other package wraps
// underlying errors with fmt.Errorf("...: %w", err); this package lets
// callers ask "what kind of failure was this" with errors.As.
package spawnerr

import "fmt"

// Kind classifies a failure per §7.
type Kind string

const (
	// Config marks a bad or missing parameter. Config errors at root
	// terminate the job before any child is forked.
	Config Kind = "Config"
	// Spawn marks a fork/exec failure.
	Spawn Kind = "Spawn"
	// Transport marks a channel I/O failure, including a peer closing
	// mid-protocol.
	Transport Kind = "Transport"
	// Protocol marks a peer sending a token other than the one a state
	// machine expects.
	Protocol Kind = "Protocol"
	// Resource marks an allocation failure.
	Resource Kind = "Resource"
	// IO marks a file open/read/write failure (file broadcast).
	IO Kind = "IO"
)

// Error wraps an underlying cause with a §7 Kind.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a classified error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	for err != nil {
		if se, ok := err.(*Error); ok {
			return se.Kind == kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
