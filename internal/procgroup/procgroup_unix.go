//go:build !windows

// Package procgroup starts child processes in their own process group so a
// terminal interrupt reaches only this process, which then shuts the child
// down in order.
package procgroup

import (
	"os/exec"
	"syscall"
)

// Detach places cmd in a new process group when it starts.
func Detach(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}
