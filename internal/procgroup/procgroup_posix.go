//go:build unix

// Package procgroup isolates child process groups so a runnable and
// every process it spawns can be signaled as a unit, per spec.md §4.1's
// two-phase shutdown (SIGTERM → grace period → SIGKILL) and §5's
// concurrency model. Grounded on the teacher's
// internal/agentctl/server/process/procattr_unix.go,
// procattr_linux.go and process_signal_unix.go.
package procgroup

import "syscall"

// Terminate sends SIGTERM to the process group rooted at pid, falling
// back to signaling pid directly if the group no longer exists
// (spec.md §7 "killing a nonexistent group").
func Terminate(pid int) error {
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		return syscall.Kill(pid, syscall.SIGTERM)
	}
	return nil
}

// Kill sends SIGKILL to the process group rooted at pid, with the same
// direct-pid fallback as Terminate.
func Kill(pid int) error {
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		return syscall.Kill(pid, syscall.SIGKILL)
	}
	return nil
}
