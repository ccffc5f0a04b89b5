//go:build windows

package sandbox

import (
	"os/exec"
	"syscall"
)

// configureProcess hides the console window and detaches the shell from the
// parent's Ctrl+C group. The default cancel kills the shell process.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}
