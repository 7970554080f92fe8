//go:build linux

package transport

import (
	"os/exec"
	"syscall"
)

func configureProviderProcess(cmd *exec.Cmd) {
	// Pdeathsig kills the provider if this process exits without disconnecting.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true, Pdeathsig: syscall.SIGKILL}
}
