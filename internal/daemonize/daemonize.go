// Package daemonize detaches the packet counter from its controlling
// terminal when run with --daemon. The original harness only ever parsed
// this flag into struct args without consuming it (see pc.c); this
// package gives it the conventional Unix meaning. No example repo in the
// corpus daemonizes a process, so this is built directly on os/exec and
// syscall.SysProcAttr, the standard Go re-exec idiom: a raw fork() is
// unsafe once a process has started goroutines, so the child is spawned
// as a fresh process in its own session instead of forked in place.
package daemonize

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// marker is the environment variable that tells a re-exec'd process it is
// already the detached child, so it runs the caller's work instead of
// daemonizing again.
const marker = "NETEVAL_DAEMON_CHILD"

// IsChild reports whether the current process is already the detached
// child (set by Daemonize before re-exec).
func IsChild() bool {
	return os.Getenv(marker) == "1"
}

// Daemonize re-executes the current binary with the same argv and
// environment, detached into a new session with stdio redirected to
// /dev/null, then exits the parent. It has no effect (returns nil
// immediately) if IsChild() is already true.
func Daemonize() error {
	if IsChild() {
		return nil
	}

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("daemonize: can't open %s: %w", os.DevNull, err)
	}
	defer devNull.Close()

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("daemonize: can't resolve executable path: %w", err)
	}

	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Env = append(os.Environ(), marker+"=1")
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("daemonize: can't start detached child: %w", err)
	}

	os.Exit(0)
	return nil // unreachable
}
