// Copyright (c) 2018-2023, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package siteconfig loads an optional site-default YAML file, read
// before the MV2_SPAWN_* environment overrides of §6 are applied. It
// plays the role the teacher's pkg/util/singularityconf fills for
// singularity.conf, but trades that package's bespoke directive-tag
// template for a plain YAML document, since this runtime's few knobs
// don't warrant a custom parser.
package siteconfig

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v3"

	"github.com/LLNL/spawnnet/internal/pkg/spawnerr"
)

// Config holds the site-wide defaults an administrator may pin ahead of
// any per-job MV2_SPAWN_* override.
type Config struct {
	Net        string `yaml:"net"`
	Degree     int    `yaml:"degree"`
	Shell      string `yaml:"shell"`
	Local      string `yaml:"local"`
	Copy       bool   `yaml:"copy"`
	ScratchDir string `yaml:"scratch_dir"`
}

// Defaults returns the built-in defaults used when no site file exists
// and no environment override is set.
func Defaults() Config {
	return Config{
		Net:        "tcp",
		Degree:     32,
		Shell:      "ssh",
		Local:      "shell",
		Copy:       false,
		ScratchDir: os.TempDir(),
	}
}

// Load reads and parses a site config file, starting from Defaults and
// overlaying whatever keys the file sets. A missing file is not an
// error — it's the common case — and yields Defaults() unchanged.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, spawnerr.New(spawnerr.IO, fmt.Sprintf("read site config %s", path), err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, spawnerr.New(spawnerr.Config, fmt.Sprintf("parse site config %s", path), err)
	}
	return cfg, nil
}
