//go:build linux

// Package proc configures agent subprocesses so they can be stopped as a
// group and do not outlive the bridge.
package proc

import (
	"os/exec"
	"syscall"
)

// Configure puts cmd in its own process group and asks the kernel to send
// SIGTERM to it if the bridge dies.
func Configure(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGTERM,
	}
}
