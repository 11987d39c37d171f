//go:build windows

package ephemeral

import "os/exec"

func classifyEphemeralExit(err error) (code int, signal string) {
	if err == nil {
		return 0, ""
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), ""
	}
	return -1, ""
}
