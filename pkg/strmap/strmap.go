// Copyright (c) 2018-2023, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package strmap implements an ordered string-to-string dictionary with a
// stable, deterministic wire format. It is the sole data type carried by
// the parameter propagation, allgather and ring-scan collectives.
package strmap

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/samber/lo"
)

// Map is an ordered collection of unique string keys, each mapped to a
// string value. Insertion order is preserved and defines pack order. The
// zero value is not usable; use New.
type Map struct {
	order []string
	data  map[string]string
}

// New returns an empty Map.
func New() *Map {
	return &Map{data: make(map[string]string)}
}

// Set stores value under key, preserving key's existing position if it is
// already present, or appending it at the end if it is new.
func (m *Map) Set(key, value string) {
	if _, ok := m.data[key]; !ok {
		m.order = append(m.order, key)
	}
	m.data[key] = value
}

// Setf is the sprintf-style variant of Set.
func (m *Map) Setf(key, format string, args ...interface{}) {
	m.Set(key, fmt.Sprintf(format, args...))
}

// Get returns the value stored under key, and whether it was present.
func (m *Map) Get(key string) (string, bool) {
	v, ok := m.data[key]
	return v, ok
}

// GetDefault returns the value stored under key, or def if key is absent.
func (m *Map) GetDefault(key, def string) string {
	if v, ok := m.data[key]; ok {
		return v
	}
	return def
}

// Unset removes key, if present.
func (m *Map) Unset(key string) {
	if _, ok := m.data[key]; !ok {
		return
	}
	delete(m.data, key)
	m.order = lo.Reject(m.order, func(k string, _ int) bool { return k == key })
}

// Len returns the number of keys.
func (m *Map) Len() int {
	return len(m.order)
}

// Keys returns the keys in insertion order.
func (m *Map) Keys() []string {
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Iterate calls fn for every (key, value) pair in insertion order. Iterate
// stops early if fn returns false.
func (m *Map) Iterate(fn func(key, value string) bool) {
	for _, k := range m.order {
		if !fn(k, m.data[k]) {
			return
		}
	}
}

// Clone returns a deep, independently-mutable copy of m.
func (m *Map) Clone() *Map {
	out := New()
	m.Iterate(func(k, v string) bool {
		out.Set(k, v)
		return true
	})
	return out
}

// Merge applies other's entries onto m in other's insertion order, such
// that other's values win on key conflicts; this is the merge rule used by
// gather_strmap (§4.E) — later (child) insertions override earlier ones.
func (m *Map) Merge(other *Map) {
	other.Iterate(func(k, v string) bool {
		m.Set(k, v)
		return true
	})
}

// Equal reports whether m and other hold the same keys, in the same order,
// with the same values — the string-map round-trip law of §3/§8.
func (m *Map) Equal(other *Map) bool {
	if other == nil || len(m.order) != len(other.order) {
		return false
	}
	for i, k := range m.order {
		if other.order[i] != k || m.data[k] != other.data[k] {
			return false
		}
	}
	return true
}

// String renders m for diagnostics, e.g. `{K1=V1 K2=V2}`.
func (m *Map) String() string {
	var b bytes.Buffer
	b.WriteByte('{')
	m.Iterate(func(k, v string) bool {
		if b.Len() > 1 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s=%s", k, v)
		return true
	})
	b.WriteByte('}')
	return b.String()
}

// PackSize returns the exact number of bytes Pack will write.
func (m *Map) PackSize() int {
	size := 8 // count
	m.Iterate(func(k, v string) bool {
		size += 8 + len(k) + 1 + 8 + len(v) + 1
		return true
	})
	return size
}

// Pack writes m to w: a uint64 big-endian count, then that many (key,
// value) pairs, each a uint64 big-endian length prefix followed by
// NUL-terminated bytes, per §3's wire format.
func (m *Map) Pack(w io.Writer) error {
	if err := binary.Write(w, binary.BigEndian, uint64(m.Len())); err != nil {
		return fmt.Errorf("while writing strmap count: %w", err)
	}
	var err error
	m.Iterate(func(k, v string) bool {
		if err = writeField(w, k); err != nil {
			return false
		}
		if err = writeField(w, v); err != nil {
			return false
		}
		return true
	})
	if err != nil {
		return fmt.Errorf("while writing strmap field: %w", err)
	}
	return nil
}

func writeField(w io.Writer, s string) error {
	if err := binary.Write(w, binary.BigEndian, uint64(len(s)+1)); err != nil {
		return err
	}
	if _, err := w.Write([]byte(s)); err != nil {
		return err
	}
	_, err := w.Write([]byte{0})
	return err
}

// Unpack reads a Map from r in the format written by Pack. unpack(pack(m))
// reproduces m element-for-element (§3, §8).
func Unpack(r io.Reader) (*Map, error) {
	var count uint64
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("while reading strmap count: %w", err)
	}
	m := New()
	for i := uint64(0); i < count; i++ {
		key, err := readField(r)
		if err != nil {
			return nil, fmt.Errorf("while reading strmap key %d: %w", i, err)
		}
		val, err := readField(r)
		if err != nil {
			return nil, fmt.Errorf("while reading strmap value %d: %w", i, err)
		}
		m.Set(key, val)
	}
	return m, nil
}

func readField(r io.Reader) (string, error) {
	var n uint64
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	if n == 0 {
		return "", fmt.Errorf("zero-length field: missing NUL terminator")
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf[:n-1]), nil
}
