// Copyright (c) 2018-2023, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package channel implements the reliable byte-stream transport of spec
// §4.A: a local listener (Endpoint) accepts Channels, and a printable
// Endpoint name lets a peer connect back. The transport kind is encoded in
// the name so Connect can dispatch to the right implementation; this
// package ships a tcp transport, the only kind spec §6 requires
// (MV2_SPAWN_NET=tcp; ibud is named but not implemented by any component
// in this spec, per spec.md's "any stream transport satisfies the
// contract").
//
// Every successful Read/Write call moves exactly the requested number of
// bytes, matching the one-local-listener-per-transport-kind,
// exclusively-owned-at-each-end channel model of §3.
package channel

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/google/uuid"
	"github.com/LLNL/spawnnet/pkg/strmap"
)

// Kind identifies a transport.
type Kind string

// TCP is the only transport kind implemented by this package.
const TCP Kind = "tcp"

// Errors matching spec §4.A's failure set.
var (
	ErrConnectRefused = errors.New("connect refused")
	ErrPeerClosed     = errors.New("peer closed")
	ErrTransport      = errors.New("transport error")
	ErrInvalidName    = errors.New("invalid endpoint name")
)

// Endpoint is a local listener, identified by a printable opaque Name
// carrying its transport Kind. At most one Endpoint per transport kind is
// open on a launcher at a time; multiple logical uses are multiplexed by
// sequenced Accept calls.
type Endpoint struct {
	kind Kind
	name string
	ln   net.Listener
}

// Channel is a reliable, ordered, two-party byte stream. It is created by
// Connect or Accept, and is exclusively owned by each side until Disconnect.
type Channel struct {
	conn net.Conn
}

// Open starts listening locally for the given transport kind and returns
// the Endpoint describing it. The caller must Close the Endpoint at
// session teardown.
func Open(kind Kind) (*Endpoint, error) {
	switch kind {
	case TCP:
		ln, err := net.Listen("tcp", "0.0.0.0:0")
		if err != nil {
			return nil, fmt.Errorf("%w: listen: %w", ErrTransport, err)
		}
		id := uuid.NewString()
		return &Endpoint{
			kind: kind,
			name: fmt.Sprintf("tcp://%s#%s", ln.Addr().String(), id),
			ln:   ln,
		}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported transport kind %q", ErrTransport, kind)
	}
}

// Name returns the endpoint's printable, connectable name.
func (e *Endpoint) Name() string { return e.name }

// Close stops accepting new Channels on e. Channels already accepted are
// unaffected.
func (e *Endpoint) Close() error {
	if e.ln == nil {
		return nil
	}
	return e.ln.Close()
}

// Accept blocks until a peer Connects to e, then returns the Channel.
func (e *Endpoint) Accept() (*Channel, error) {
	conn, err := e.ln.Accept()
	if err != nil {
		return nil, fmt.Errorf("%w: accept: %w", ErrTransport, err)
	}
	return &Channel{conn: conn}, nil
}

// Connect dials the endpoint identified by name, as produced by
// Endpoint.Name.
func Connect(name string) (*Channel, error) {
	addr, ok := parseTCPName(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrConnectRefused, name, err)
	}
	return &Channel{conn: conn}, nil
}

func parseTCPName(name string) (string, bool) {
	const prefix = "tcp://"
	if len(name) <= len(prefix) || name[:len(prefix)] != prefix {
		return "", false
	}
	rest := name[len(prefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '#' {
			return rest[:i], true
		}
	}
	return "", false
}

// Disconnect closes c. Either side may call Disconnect; doing so
// invalidates both ends.
func (c *Channel) Disconnect() error {
	return c.conn.Close()
}

// Read blocks until exactly n bytes have been read from c, in order, with
// no interleaving from any other channel.
func (c *Channel) Read(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.conn, buf); err != nil {
		return nil, classifyReadErr(err)
	}
	return buf, nil
}

// Write blocks until all of b has been written to c.
func (c *Channel) Write(b []byte) error {
	if _, err := c.conn.Write(b); err != nil {
		return classifyWriteErr(err)
	}
	return nil
}

func classifyReadErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w", ErrPeerClosed, err)
	}
	return fmt.Errorf("%w: read: %w", ErrTransport, err)
}

func classifyWriteErr(err error) error {
	return fmt.Errorf("%w: write: %w", ErrTransport, err)
}

// ReadStr reads a uint64 big-endian length prefix followed by that many
// raw bytes (no terminator on the wire, per spec §6's wire format).
func (c *Channel) ReadStr() (string, error) {
	lenBuf, err := c.Read(8)
	if err != nil {
		return "", err
	}
	n := binary.BigEndian.Uint64(lenBuf)
	data, err := c.Read(int(n))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteStr writes s as a uint64 big-endian length prefix followed by its
// raw bytes.
func (c *Channel) WriteStr(s string) error {
	lenBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(lenBuf, uint64(len(s)))
	if err := c.Write(lenBuf); err != nil {
		return err
	}
	return c.Write([]byte(s))
}

// ReadStrmap reads a strmap.Map packed per §3.
func (c *Channel) ReadStrmap() (*strmap.Map, error) {
	m, err := strmap.Unpack(reader{c})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return m, nil
}

// WriteStrmap writes m packed per §3.
func (c *Channel) WriteStrmap(m *strmap.Map) error {
	if err := m.Pack(writer{c}); err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return nil
}

// reader/writer adapt Channel's size-delimited Read/Write to io.Reader/
// io.Writer so strmap's binary.Read/Write-based Pack/Unpack can drive them
// directly over the wire, without buffering the whole message first.
type reader struct{ c *Channel }

func (r reader) Read(p []byte) (int, error) {
	b, err := r.c.Read(len(p))
	if err != nil {
		return 0, err
	}
	copy(p, b)
	return len(b), nil
}

type writer struct{ c *Channel }

func (w writer) Write(p []byte) (int, error) {
	if err := w.c.Write(p); err != nil {
		return 0, err
	}
	return len(p), nil
}
