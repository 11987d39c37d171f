//go:build linux

package procgroup

import (
	"os/exec"
	"syscall"
)

// Set configures cmd to run in its own process group and asks the
// kernel to deliver SIGTERM to the child if corral itself dies first,
// so containers/shells never outlive an unexpectedly-killed
// supervisor (grounded on the teacher's procattr_linux.go).
func Set(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGTERM,
	}
}
