//go:build !unix

package transport

import "os/exec"

func configureProviderProcess(*exec.Cmd) {}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	if err := cmd.Process.Kill(); err != nil {
		logProcessError(cmd, err)
	}
}
