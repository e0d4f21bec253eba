// Copyright (c) 2018-2023, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package cli implements the spawnnet root command: mpirun_rsh's
// positional hostname list, a handful of top-level flags, and the wiring
// from argv/environment into internal/pkg/launcher's unfurl state
// machine. Shaped after the teacher's cmd/internal/cli/singularity.go
// (one package-level *cobra.Command, flags registered through
// pkg/cmdline, an Init/Execute pair called once from main), trimmed to
// the handful of flags this launcher actually needs.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/LLNL/spawnnet/internal/pkg/sylog"
	"github.com/LLNL/spawnnet/pkg/cmdline"
)

// version is reported by --version; there is no build-time stamping
// pipeline in this tree, so it is a plain constant.
const version = "0.1.0"

var (
	debugFlag      bool
	verboseFlag    bool
	showFlag       bool
	siteConfigPath string
)

var debugCmdFlag = cmdline.Flag{
	ID:           "debugFlag",
	Value:        &debugFlag,
	DefaultValue: false,
	Name:         "debug",
	ShortHand:    "d",
	Usage:        "print debugging information (highest verbosity)",
}

var verboseCmdFlag = cmdline.Flag{
	ID:           "verboseFlag",
	Value:        &verboseFlag,
	DefaultValue: false,
	Name:         "verbose",
	ShortHand:    "v",
	Usage:        "print verbose diagnostic output",
}

// --show is the SUPPLEMENTED FEATURES dry-run flag: resolve parameters
// and print the computed spawn tree without forking or connecting
// anything.
var showCmdFlag = cmdline.Flag{
	ID:           "showCmdFlag",
	Value:        &showFlag,
	DefaultValue: false,
	Name:         "show",
	Usage:        "print the resolved parameters and spawn tree, then exit without launching",
}

var configCmdFlag = cmdline.Flag{
	ID:           "configCmdFlag",
	Value:        &siteConfigPath,
	DefaultValue: "",
	Name:         "config",
	Usage:        "path to an optional site defaults file",
}

var rootCmd = &cobra.Command{
	Use:                   "spawnnet [flags] host [host ...]",
	Short:                 "hierarchical process launcher",
	Version:               version,
	DisableFlagsInUseLine: true,
	SilenceErrors:         true,
	SilenceUsage:          true,
	RunE:                  runRoot,
}

func setLogLevel() {
	level := 0
	switch {
	case debugFlag:
		level = int(sylog.DebugLevel)
	case verboseFlag:
		level = int(sylog.VerboseLevel)
	}
	sylog.SetLevel(level, true)
}

// Init registers the root command's flags and returns it; called once
// from main.
func Init() *cobra.Command {
	mgr := cmdline.NewCommandManager()
	if err := mgr.RegisterFlagForCmd(&debugCmdFlag, rootCmd); err != nil {
		sylog.Fatalf("registering --debug: %s", err)
	}
	if err := mgr.RegisterFlagForCmd(&verboseCmdFlag, rootCmd); err != nil {
		sylog.Fatalf("registering --verbose: %s", err)
	}
	if err := mgr.RegisterFlagForCmd(&showCmdFlag, rootCmd); err != nil {
		sylog.Fatalf("registering --show: %s", err)
	}
	if err := mgr.RegisterFlagForCmd(&configCmdFlag, rootCmd); err != nil {
		sylog.Fatalf("registering --config: %s", err)
	}
	return rootCmd
}

// Execute runs the root command; called by main.main.
func Execute() {
	if err := Init().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
