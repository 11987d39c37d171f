//go:build windows

package process

import "os/exec"

// classifyExit is the Windows counterpart of classify_unix.go. Windows
// has no SIGTERM/SIGINT wait-status bits, so a stop-in-progress exit of
// any kind is treated as a clean stop (the taskkill-based Stop path in
// internal/procgroup is what actually ended the process).
func classifyExit(err error, stopping bool) (Status, string) {
	if err == nil {
		return StatusStopped, ""
	}
	if stopping {
		return StatusStopped, ""
	}

	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return StatusError, err.Error()
	}
	code := exitErr.ExitCode()
	if code == 0 {
		return StatusStopped, ""
	}
	return StatusError, exitStatusError(code)
}
