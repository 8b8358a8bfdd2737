//go:build unix

package proc

import (
	"os"
	"syscall"
)

// Terminate sends SIGTERM to p's process group.
func Terminate(p *os.Process) error {
	return signalGroup(p, syscall.SIGTERM)
}

// Kill sends SIGKILL to p's process group.
func Kill(p *os.Process) error {
	return signalGroup(p, syscall.SIGKILL)
}

func signalGroup(p *os.Process, sig syscall.Signal) error {
	if p == nil {
		return nil
	}
	// A negative PID addresses the whole group created by Configure.
	return syscall.Kill(-p.Pid, sig)
}
