// Package ansiutil strips ANSI escape sequences from terminal output so
// readyWhen predicates and onReady snapshots see plain text (spec.md
// §4.1/§4.5). Grounded on the teacher's own stripANSI in
// internal/agentctl/server/process/manager.go, which reaches for
// regexp rather than a dedicated ANSI-stripping library for this exact
// job.
package ansiutil

import "regexp"

var escapeRegex = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// Strip removes ANSI escape sequences from s.
func Strip(s string) string {
	return escapeRegex.ReplaceAllString(s, "")
}
