//go:build unix

package process

import (
	"os/exec"
	"syscall"
)

// classifyExit implements spec.md §4.1 "Exit classification". stopping
// reports whether this exit was the result of our own Stop() call, so a
// SIGKILL escalation (which SIGTERM-intolerant processes sometimes need)
// still counts as a clean stop rather than an error.
func classifyExit(err error, stopping bool) (Status, string) {
	if err == nil {
		return StatusStopped, ""
	}

	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return StatusError, err.Error()
	}

	ws, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		return StatusError, exitErr.Error()
	}

	if ws.Exited() {
		code := ws.ExitStatus()
		if code == 0 {
			return StatusStopped, ""
		}
		return StatusError, exitStatusError(code)
	}

	if ws.Signaled() {
		sig := ws.Signal()
		if sig == syscall.SIGTERM || sig == syscall.SIGINT {
			return StatusStopped, ""
		}
		if stopping && sig == syscall.SIGKILL {
			return StatusStopped, ""
		}
		return StatusError, "terminated by signal " + sig.String()
	}

	return StatusError, exitErr.Error()
}
