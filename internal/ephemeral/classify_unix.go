//go:build unix

package ephemeral

import (
	"os/exec"
	"syscall"
)

// classifyEphemeralExit reports the numeric exit code and, if the
// command died by signal, the signal name (spec.md §4.6 "exit(code,
// signal) event").
func classifyEphemeralExit(err error) (code int, signal string) {
	if err == nil {
		return 0, ""
	}

	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return -1, ""
	}

	ws, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		return exitErr.ExitCode(), ""
	}

	if ws.Exited() {
		return ws.ExitStatus(), ""
	}
	if ws.Signaled() {
		return -1, ws.Signal().String()
	}
	return exitErr.ExitCode(), ""
}
