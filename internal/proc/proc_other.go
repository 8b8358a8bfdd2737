//go:build !unix

// Package proc configures agent subprocesses so they can be stopped as a
// group and do not outlive the bridge.
package proc

import (
	"os"
	"os/exec"
)

// Configure is a no-op without process groups.
func Configure(cmd *exec.Cmd) {}

// Terminate kills p; there is no graceful signal to send.
func Terminate(p *os.Process) error {
	return Kill(p)
}

// Kill kills p.
func Kill(p *os.Process) error {
	if p == nil {
		return nil
	}
	return p.Kill()
}
