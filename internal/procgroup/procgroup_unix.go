//go:build unix && !linux

package procgroup

import (
	"os/exec"
	"syscall"
)

// Set configures cmd to run in its own process group so the whole
// subtree it spawns can be signaled as a unit (spec.md §4.1/§5).
func Set(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
