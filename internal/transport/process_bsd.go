//go:build unix && !linux

package transport

import (
	"os/exec"
	"syscall"
)

func configureProviderProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
