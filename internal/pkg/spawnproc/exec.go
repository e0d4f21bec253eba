// Copyright (c) 2018-2023, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package spawnproc

import (
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/LLNL/spawnnet/internal/pkg/params"
	"github.com/LLNL/spawnnet/internal/pkg/shellquote"
	"github.com/LLNL/spawnnet/internal/pkg/spawnerr"
)

// Handle is a forked child process: its pid and a Wait func that blocks
// until it exits.
type Handle struct {
	PID  int
	Cmd  *exec.Cmd
	Wait func() error
}

func start(cmd *exec.Cmd, op string) (*Handle, error) {
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin
	if err := cmd.Start(); err != nil {
		return nil, spawnerr.New(spawnerr.Spawn, op, err)
	}
	return &Handle{PID: cmd.Process.Pid, Cmd: cmd, Wait: cmd.Wait}, nil
}

// LocalApp forks one application-group process under §3's LOCAL kind,
// the same command-line construction as Local but with an explicit
// working directory and stdio destinations — the hook the FIFO=1
// passthrough feature uses to line-prefix app stdout/stderr instead of
// inheriting the launcher's directly.
func LocalApp(kind params.LocalKind, shPath, exe string, args, env []string, cwd string, stdout, stderr io.Writer) (*Handle, error) {
	var cmd *exec.Cmd
	switch kind {
	case params.LocalDirect:
		cmd = exec.Command(exe, args...)
	case params.LocalShell:
		line := shellquote.ArgsQuoted(append([]string{exe}, args...))
		cmd = exec.Command(shPath, "-c", line)
	default:
		return nil, spawnerr.New(spawnerr.Config, "local launch kind", fmt.Errorf("unknown kind %q", kind))
	}
	cmd.Env = env
	cmd.Dir = cwd
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Stdin = os.Stdin
	if err := cmd.Start(); err != nil {
		return nil, spawnerr.New(spawnerr.Spawn, fmt.Sprintf("exec %s", exe), err)
	}
	return &Handle{PID: cmd.Process.Pid, Cmd: cmd, Wait: cmd.Wait}, nil
}

// Local forks the launcher executable locally under §3's LOCAL kind:
// direct exec's exe with args as argv; shell runs it through shPath -c
// with args shell-quoted onto one command line.
func Local(kind params.LocalKind, shPath, exe string, args []string, env []string) (*Handle, error) {
	switch kind {
	case params.LocalDirect:
		cmd := exec.Command(exe, args...)
		cmd.Env = env
		return start(cmd, fmt.Sprintf("exec %s", exe))
	case params.LocalShell:
		line := shellquote.ArgsQuoted(append([]string{exe}, args...))
		cmd := exec.Command(shPath, "-c", line)
		cmd.Env = env
		return start(cmd, fmt.Sprintf("shell exec %s", exe))
	default:
		return nil, spawnerr.New(spawnerr.Config, "local launch kind", fmt.Errorf("unknown kind %q", kind))
	}
}

// Remote forks a remote-shell command (ssh/rsh) that execs exe with args
// on host.
func Remote(kind params.ShellKind, shellPath, host, exe string, args []string, env []string) (*Handle, error) {
	if kind != params.ShellRSH && kind != params.ShellSSH {
		return nil, spawnerr.New(spawnerr.Config, "remote shell kind", fmt.Errorf("unknown kind %q", kind))
	}
	remoteCmd := shellquote.ArgsQuoted(append([]string{exe}, args...))
	cmd := exec.Command(shellPath, host, remoteCmd)
	cmd.Env = env
	return start(cmd, fmt.Sprintf("%s exec %s on %s", kind, exe, host))
}

// Mkdir creates dir on host over the remote shell, blocking until it
// completes — the COPY=1 staging path's preparation step, run before
// Copy so scp/rcp has a destination directory to land in.
func Mkdir(kind params.ShellKind, shellPath, host, dir string) error {
	if kind != params.ShellRSH && kind != params.ShellSSH {
		return spawnerr.New(spawnerr.Config, "remote shell kind", fmt.Errorf("unknown kind %q", kind))
	}
	cmd := exec.Command(shellPath, host, fmt.Sprintf(`mkdir -p "%s"`, shellquote.Escape(dir)))
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return spawnerr.New(spawnerr.Spawn, fmt.Sprintf("mkdir -p %s on %s", dir, host), err)
	}
	return nil
}

// Copy stages localPath to host:remotePath via scp/rcp (§4.F step 2a).
// It blocks until the copy completes; callers wanting concurrent fan-out
// across children run Copy from their own goroutines.
func Copy(kind params.ShellKind, copyPath, localPath, host, remotePath string) error {
	dest := fmt.Sprintf("%s:%s", host, remotePath)
	cmd := exec.Command(copyPath, localPath, dest)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return spawnerr.New(spawnerr.Spawn, fmt.Sprintf("copy %s to %s", localPath, dest), err)
	}
	return nil
}
