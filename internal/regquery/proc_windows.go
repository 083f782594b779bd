//go:build windows

package regquery

import (
	"os/exec"
	"syscall"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/windows"
)

// configureProcess keeps console tools from flashing a window.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: windows.CREATE_NO_WINDOW,
	}
}

// killTree kills the child and every descendant. powershell.exe can leave
// conhost and helper processes holding the output pipe open.
func killTree(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if p, err := process.NewProcess(int32(cmd.Process.Pid)); err == nil {
		killDescendants(p)
	}
	return cmd.Process.Kill()
}

func killDescendants(p *process.Process) {
	children, err := p.Children()
	if err != nil {
		return
	}
	for _, c := range children {
		killDescendants(c)
		if err := c.Kill(); err != nil {
			log.Debug("failed to kill child process", "pid", c.Pid, "error", err)
		}
	}
}
