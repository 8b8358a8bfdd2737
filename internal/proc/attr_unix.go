//go:build unix && !linux

// Package proc configures agent subprocesses so they can be stopped as a
// group and do not outlive the bridge.
package proc

import (
	"os/exec"
	"syscall"
)

// Configure puts cmd in its own process group.
func Configure(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}
