//go:build windows

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
	cmd.SysProcAttr.CreationFlags |= syscall.CREATE_NEW_PROCESS_GROUP
}
