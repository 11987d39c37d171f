//go:build windows

package process

import (
	"fmt"
	"os/exec"
)

// startPTY is unsupported on Windows: the teacher's Windows PTY path
// depends on github.com/UserExistsError/conpty, which SPEC_FULL.md's
// domain stack doesn't carry. startPTY always returns an error here, so
// a useTTY runnable goes to the error status on this platform; there is
// no fallback to plain pipes.
func startPTY(cmd *exec.Cmd) (ptyFile, error) {
	return nil, fmt.Errorf("useTTY is not supported on windows")
}
