// Copyright (c) 2018-2023, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package launcher

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LLNL/spawnnet/internal/pkg/channel"
	"github.com/LLNL/spawnnet/internal/pkg/params"
	"github.com/LLNL/spawnnet/internal/pkg/session"
	"github.com/LLNL/spawnnet/internal/pkg/siteconfig"
	"github.com/LLNL/spawnnet/pkg/strmap"
)

// TestMain lets this test binary re-exec itself as a child launcher.
// forkChildren sets MV2_SPAWN_PARENT/MV2_SPAWN_ID on every rank it forks;
// when those are present this process runs the child side of the unfurl
// state machine instead of the test suite, the same self-reexec trick
// os/exec's own tests use to get a real separate process without a
// fixture binary.
func TestMain(m *testing.M) {
	if os.Getenv(EnvParent) != "" {
		runUnfurlTestChild()
		return
	}
	os.Exit(m.Run())
}

func runUnfurlTestChild() {
	l, err := Bootstrap(nil, siteconfig.Defaults())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := l.Unfurl(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if _, err := l.RunGroup(params.GroupStart{}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := l.Wait(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(0)
}

// fakeSSH stands in for ssh(1): it ignores its host argument and runs
// the remote command line through /bin/sh on this same machine, which is
// all a test rank needs since every "remote" rank in this test is really
// a loopback re-exec of the test binary.
func fakeSSH(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not found on PATH")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "fakessh")
	script := "#!/bin/sh\nexec /bin/sh -c \"$2\"\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func newRootParams(t *testing.T, self string) *params.Params {
	t.Helper()
	p := params.New()
	p.SetN(2)
	p.SetDegree(2)
	p.SetShell(params.ShellSSH)
	p.SetLocal(params.LocalDirect)
	p.SetCopy(false)
	p.SetHost(0, "root")
	p.SetHost(1, "child")
	p.SetEXE(self)
	p.SetHelper(params.KeySSH, fakeSSH(t))
	shPath, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not found on PATH")
	}
	p.SetHelper(params.KeySh, shPath)
	return p
}

// TestUnfurlAndGroupStartSucceedWithTwoRanks covers §8 scenario 1: two
// launcher ranks, PMI off, ring off. Root forks the one child rank over
// the fake ssh helper, the child connects back and exchanges id/pid,
// signal_to_root releases the unfurl phase, and an empty group start
// (PPN 0) round-trips cleanly.
func TestUnfurlAndGroupStartSucceedWithTwoRanks(t *testing.T) {
	self, err := os.Executable()
	require.NoError(t, err)

	p := newRootParams(t, self)

	ep, err := channel.Open(channel.TCP)
	require.NoError(t, err)
	t.Cleanup(func() { ep.Close() })

	sess := session.New(0, 2, ep)
	sess.Params = p.M

	l := &Launcher{Session: sess, Params: p}

	require.NoError(t, l.Unfurl())
	assert.Len(t, sess.Node.Children, 1)
	assert.Equal(t, 1, sess.Node.Children[0].Rank)
	assert.NotZero(t, sess.Node.Children[0].PID)

	// MeasurementPass is skipped here: it's a tree collective that every
	// rank must enter together, and the re-exec'd child side of this test
	// only runs Unfurl+RunGroup+Wait — matching that is covered instead by
	// the collective package's own tests.
	_, err = l.RunGroup(params.GroupStart{Name: "app", EXE: self, PPN: 0})
	require.NoError(t, err)

	assert.NoError(t, l.Wait())
}

// TestAcceptChildrenRejectsBadHandshake covers §8 scenario 6 (protocol
// violation) at the launcher's own fan-in step: a connecting child that
// reports a non-integer ID must abort the accept rather than being
// silently slotted in, mirroring the bootstrap/pmi package's own
// violation test.
func TestAcceptChildrenRejectsBadHandshake(t *testing.T) {
	ep, err := channel.Open(channel.TCP)
	require.NoError(t, err)
	t.Cleanup(func() { ep.Close() })

	sess := session.New(0, 2, ep)
	l := &Launcher{Session: sess, Params: params.New()}

	done := make(chan error, 1)
	go func() {
		done <- l.acceptChildren([]int{1})
	}()

	rogue, err := channel.Connect(ep.Name())
	require.NoError(t, err)
	defer rogue.Disconnect()

	bad := strmap.New()
	bad.Set("ID", "not-an-integer")
	bad.Set("PID", "123")
	require.NoError(t, rogue.WriteStrmap(bad))

	err = <-done
	require.Error(t, err)
}

// TestAcceptChildrenRejectsUnknownRank covers the companion violation:
// an ID that parses fine but names a rank this node never forked.
func TestAcceptChildrenRejectsUnknownRank(t *testing.T) {
	ep, err := channel.Open(channel.TCP)
	require.NoError(t, err)
	t.Cleanup(func() { ep.Close() })

	sess := session.New(0, 2, ep)
	l := &Launcher{Session: sess, Params: params.New()}

	done := make(chan error, 1)
	go func() {
		done <- l.acceptChildren([]int{1})
	}()

	rogue, err := channel.Connect(ep.Name())
	require.NoError(t, err)
	defer rogue.Disconnect()

	bad := strmap.New()
	bad.Set("ID", "7")
	bad.Set("PID", "123")
	require.NoError(t, rogue.WriteStrmap(bad))

	err = <-done
	require.Error(t, err)
}
