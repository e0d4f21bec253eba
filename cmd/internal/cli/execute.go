// Copyright (c) 2018-2023, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package cli

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/LLNL/spawnnet/internal/pkg/launcher"
	"github.com/LLNL/spawnnet/internal/pkg/params"
	"github.com/LLNL/spawnnet/internal/pkg/siteconfig"
	"github.com/LLNL/spawnnet/internal/pkg/sylog"
	"github.com/LLNL/spawnnet/internal/pkg/tree"
)

// runRoot is the root command's RunE. It runs identically whether this
// process ends up as the tree root or a non-root rank: Bootstrap tells
// the two apart by MV2_SPAWN_PARENT, and every step after it (Unfurl,
// the group-start dispatch, Wait) is written once for any rank.
func runRoot(_ *cobra.Command, hosts []string) error {
	setLogLevel()

	cfg, err := siteconfig.Load(siteConfigPath)
	if err != nil {
		return err
	}

	l, err := launcher.Bootstrap(hosts, cfg)
	if err != nil {
		return err
	}

	if showFlag {
		return showTree(l, hosts)
	}

	if err := l.Unfurl(); err != nil {
		return fmt.Errorf("unfurl: %w", err)
	}
	if err := l.FillDebugTable(); err != nil {
		return fmt.Errorf("debug table: %w", err)
	}

	gs := params.GroupStart{}
	if l.Session.Node.IsRoot() {
		gs, err = rootGroupStart()
		if err != nil {
			return err
		}
	}
	if _, err := l.RunGroup(gs); err != nil {
		return fmt.Errorf("group start: %w", err)
	}

	if err := l.Wait(); err != nil {
		sylog.Errorf("%s", err)
		return err
	}
	return nil
}

// rootGroupStart builds the group-start parameters root broadcasts at
// §4.F step 6 from the MV2_SPAWN_EXE/PPN/PMI/RING/FIFO/BCAST_BIN
// environment variables of §6.
func rootGroupStart() (params.GroupStart, error) {
	exe := os.Getenv(launcher.EnvEXE)
	if exe == "" {
		return params.GroupStart{}, fmt.Errorf("%s is required to start an application group", launcher.EnvEXE)
	}

	ppn := 0
	if v := os.Getenv(launcher.EnvPPN); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return params.GroupStart{}, fmt.Errorf("%s must be a non-negative integer, got %q", launcher.EnvPPN, v)
		}
		ppn = n
	}

	cwd, err := os.Getwd()
	if err != nil {
		cwd = ""
	}

	return params.GroupStart{
		Name:     "app",
		EXE:      exe,
		CWD:      cwd,
		PPN:      ppn,
		PMI:      os.Getenv(launcher.EnvPMI) == "1",
		Ring:     os.Getenv(launcher.EnvRing) == "1",
		FIFO:     os.Getenv(launcher.EnvFIFO) == "1",
		BinBcast: os.Getenv(launcher.EnvBinBC) == "1",
	}, nil
}

// showTree implements --show: it resolves the same parameters Unfurl
// would use and prints the computed tree shape, without opening a
// connection or forking anything.
func showTree(l *launcher.Launcher, hosts []string) error {
	deg, err := l.Params.Degree()
	if err != nil {
		return err
	}
	ranks := len(hosts) + 1
	fmt.Printf("ranks=%d degree=%d\n", ranks, deg)
	for r := 0; r < ranks; r++ {
		host, err := l.Params.Host(r)
		if err != nil {
			return err
		}
		t := tree.Compute(r, ranks, deg)
		parent := "none"
		if t.HasParent {
			parent = strconv.Itoa(t.Parent)
		}
		fmt.Printf("  rank %d (%s): parent=%s children=%v\n", r, host, parent, t.Children)
	}
	return nil
}
