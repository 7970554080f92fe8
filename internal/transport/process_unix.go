//go:build unix

package transport

import (
	"errors"
	"os/exec"

	"golang.org/x/sys/unix"
)

func killProcessGroup(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	err := unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	if err != nil && !errors.Is(err, unix.ESRCH) && !errors.Is(err, unix.EPERM) {
		logProcessError(cmd, err)
	}
}
