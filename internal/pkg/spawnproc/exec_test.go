// Copyright (c) 2018-2023, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package spawnproc

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/LLNL/spawnnet/internal/pkg/params"
)

func requireSh(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not found on PATH")
	}
	return path
}

func TestLocalDirectRunsAndWaits(t *testing.T) {
	sh := requireSh(t)
	dir := t.TempDir()
	marker := filepath.Join(dir, "marker")

	h, err := Local(params.LocalDirect, sh, sh, []string{"-c", "touch " + marker}, os.Environ())
	require.NoError(t, err)
	require.NoError(t, h.Wait())

	_, err = os.Stat(marker)
	require.NoError(t, err)
}

func TestLocalShellQuotesArguments(t *testing.T) {
	sh := requireSh(t)
	touch, err := exec.LookPath("touch")
	if err != nil {
		t.Skip("touch not found on PATH")
	}
	dir := t.TempDir()
	marker := filepath.Join(dir, "has spaces")

	h, err := Local(params.LocalShell, sh, touch, []string{marker}, os.Environ())
	require.NoError(t, err)
	require.NoError(t, h.Wait())

	_, err = os.Stat(marker)
	require.NoError(t, err)
}

func TestLocalUnknownKindIsConfigError(t *testing.T) {
	sh := requireSh(t)
	_, err := Local(params.LocalKind("bogus"), sh, sh, nil, nil)
	require.Error(t, err)
}

func TestResolveHelpersFindsShOnPath(t *testing.T) {
	p := params.New()
	if err := ResolveHelpers(p); err != nil {
		t.Skipf("not all helper commands present on this machine: %v", err)
	}
	shPath, err := p.Helper(params.KeySh)
	require.NoError(t, err)
	require.NotEmpty(t, shPath)
}
