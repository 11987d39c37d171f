// Package target resolves user-supplied target names (runnable ids or
// group names) into a deduplicated list of runnable ids, per spec.md
// §6 "Target resolution". Grounded on the teacher's general error-
// reporting style (wrapped sentinel-ish errors from
// internal/orchestrator/scheduler) with fuzzy "did you mean" suggestions
// from github.com/agnivade/levenshtein, the one dependency any pack repo
// (iota-sdk) pulled in for this exact purpose.
package target

import (
	"fmt"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/corralhq/corral/internal/config"
)

// maxSuggestionDistance bounds the Levenshtein fallback, per spec.md §6
// ("Levenshtein distance (≤ 3)").
const maxSuggestionDistance = 3

// UnknownTargetError reports a target name that is neither a runnable
// id nor a group name.
type UnknownTargetError struct {
	Name       string
	Suggestion string
}

func (e *UnknownTargetError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("unknown target %q (did you mean %q?)", e.Name, e.Suggestion)
	}
	return fmt.Sprintf("unknown target %q", e.Name)
}

// DanglingGroupRefError reports a group whose member list names a
// runnable that doesn't exist in the config.
type DanglingGroupRefError struct {
	Group   string
	Service string
}

func (e *DanglingGroupRefError) Error() string {
	return fmt.Sprintf("group %q references unknown service %q", e.Group, e.Service)
}

// Resolve expands names (each either a runnable id or a group name)
// into a deduplicated, order-preserving list of runnable ids.
func Resolve(cfg *config.Config, names []string) ([]string, error) {
	known := knownNames(cfg)
	seen := make(map[string]bool)
	var ids []string

	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	for _, name := range names {
		switch {
		case isGroup(cfg, name):
			for _, id := range cfg.Groups[name] {
				if _, ok := cfg.Runnables[id]; !ok {
					return nil, &DanglingGroupRefError{Group: name, Service: id}
				}
				add(id)
			}
		case isRunnable(cfg, name):
			add(name)
		default:
			return nil, &UnknownTargetError{Name: name, Suggestion: suggest(name, known)}
		}
	}
	return ids, nil
}

// All returns every runnable id in the config, for the "all" target.
func All(cfg *config.Config) []string {
	return knownRunnableIDs(cfg)
}

func isGroup(cfg *config.Config, name string) bool {
	_, ok := cfg.Groups[name]
	return ok
}

func isRunnable(cfg *config.Config, name string) bool {
	_, ok := cfg.Runnables[name]
	return ok
}

func knownRunnableIDs(cfg *config.Config) []string {
	ids := make([]string, 0, len(cfg.Runnables))
	for id := range cfg.Runnables {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// knownNames is every valid target name: runnable ids plus group names,
// used only to compute "did you mean" suggestions.
func knownNames(cfg *config.Config) []string {
	names := knownRunnableIDs(cfg)
	for g := range cfg.Groups {
		names = append(names, g)
	}
	sort.Strings(names)
	return names
}

// suggest picks a single candidate from known for an unresolved name:
// first by prefix match, then by Levenshtein distance ≤ 3. Returns ""
// if nothing qualifies.
func suggest(name string, known []string) string {
	var prefixMatches []string
	for _, k := range known {
		if strings.HasPrefix(k, name) {
			prefixMatches = append(prefixMatches, k)
		}
	}
	if len(prefixMatches) > 0 {
		sort.Strings(prefixMatches)
		return prefixMatches[0]
	}

	best := ""
	bestDist := maxSuggestionDistance + 1
	for _, k := range known {
		d := levenshtein.ComputeDistance(name, k)
		if d <= maxSuggestionDistance && (d < bestDist || (d == bestDist && k < best)) {
			bestDist = d
			best = k
		}
	}
	return best
}
