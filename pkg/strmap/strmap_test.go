// Copyright (c) 2018-2023, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package strmap

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetPreservesOrderOnOverwrite(t *testing.T) {
	m := New()
	m.Set("a", "1")
	m.Set("b", "2")
	m.Set("a", "99")

	require.Equal(t, []string{"a", "b"}, m.Keys())
	v, ok := m.Get("a")
	require.True(t, ok)
	require.Equal(t, "99", v)
}

func TestUnset(t *testing.T) {
	m := New()
	m.Set("a", "1")
	m.Set("b", "2")
	m.Unset("a")

	require.Equal(t, []string{"b"}, m.Keys())
	_, ok := m.Get("a")
	require.False(t, ok)
}

func TestPackUnpackRoundTrip(t *testing.T) {
	cases := []*Map{
		New(),
		func() *Map { m := New(); m.Set("K", "V"); return m }(),
		func() *Map {
			m := New()
			m.Set("RANK", "3")
			m.Set("RANKS", "16")
			m.Set("EMPTY", "")
			m.Set("NUL-free", "plain text value")
			return m
		}(),
	}

	for _, m := range cases {
		var buf bytes.Buffer
		require.NoError(t, m.Pack(&buf))
		require.Equal(t, m.PackSize(), buf.Len())

		got, err := Unpack(&buf)
		require.NoError(t, err)
		require.True(t, m.Equal(got), "round trip mismatch: %s != %s", m, got)
	}
}

func TestMergeOverwritesWithLaterValues(t *testing.T) {
	a := New()
	a.Set("K", "from-a")
	a.Set("ONLY_A", "x")

	b := New()
	b.Set("K", "from-b")
	b.Set("ONLY_B", "y")

	a.Merge(b)

	v, _ := a.Get("K")
	require.Equal(t, "from-b", v)
	require.Equal(t, []string{"K", "ONLY_A", "ONLY_B"}, a.Keys())
}

func TestEqual(t *testing.T) {
	a := New()
	a.Set("x", "1")
	b := New()
	b.Set("x", "1")
	require.True(t, a.Equal(b))

	b.Set("y", "2")
	require.False(t, a.Equal(b))
}

func TestCloneIsIndependent(t *testing.T) {
	a := New()
	a.Set("x", "1")
	b := a.Clone()
	b.Set("x", "2")

	v, _ := a.Get("x")
	require.Equal(t, "1", v)
}
