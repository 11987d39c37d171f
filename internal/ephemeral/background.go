package ephemeral

import (
	"sync"

	"github.com/google/uuid"
)

// BackgroundEntry is the mutated structure a minimized runner's
// listeners write into, keyed by a fresh id in a Background
// collection (spec.md §4.6 "Hand-off").
type BackgroundEntry struct {
	ID     string
	Runner *Runner

	mu     sync.Mutex
	Output []string
	Exit   *ExitEvent
}

func (e *BackgroundEntry) appendOutput(line string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Output = append(e.Output, line)
}

func (e *BackgroundEntry) setExit(ev ExitEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Exit = &ev
}

// Background holds minimized ephemeral runners, keyed by a fresh id
// independent of any UI session.
type Background struct {
	mu      sync.Mutex
	entries map[string]*BackgroundEntry
}

// NewBackground creates an empty Background collection.
func NewBackground() *Background {
	return &Background{entries: make(map[string]*BackgroundEntry)}
}

// Minimize detaches r's current listeners, hands r to the background
// collection under a fresh id, and rebinds listeners to mutate the new
// BackgroundEntry. No process state is disturbed — this is purely a
// listener swap (spec.md §4.6).
func (b *Background) Minimize(r *Runner) *BackgroundEntry {
	entry := &BackgroundEntry{ID: uuid.New().String(), Runner: r}

	r.SetListeners(Listeners{
		OnOutput: func(e OutputEvent) { entry.appendOutput(e.Line) },
		OnExit:   func(e ExitEvent) { entry.setExit(e) },
	})

	b.mu.Lock()
	b.entries[entry.ID] = entry
	b.mu.Unlock()
	return entry
}

// Get returns a background entry by id.
func (b *Background) Get(id string) (*BackgroundEntry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[id]
	return e, ok
}

// Remove drops a background entry (the caller is responsible for
// cancelling its runner first, if still running).
func (b *Background) Remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, id)
}
