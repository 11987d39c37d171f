// Package process is the Process Lifecycle of spec.md §4.1: it spawns
// one child per runnable (shell or container), pipes its stdio into the
// Log Store, detects readiness, classifies exit, and enforces the
// two-phase SIGTERM/SIGKILL shutdown protocol.
//
// Grounded on the teacher's internal/agentctl/server/process package
// (runner.go's Start/Stop/wait/readOutput shape, manager.go's stripANSI
// readiness check) generalized from agent-session background commands
// to long-running dependency-gated services.
package process

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/corralhq/corral/internal/ansiutil"
	"github.com/corralhq/corral/internal/config"
	"github.com/corralhq/corral/internal/eventbus"
	"github.com/corralhq/corral/internal/logstore"
)

// Status mirrors the instance status vocabulary of spec.md §3.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusWaiting  Status = "waiting"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusError    Status = "error"
)

// ptyFile is the minimal surface process.go needs from a pseudo-terminal
// master, satisfied by *os.File on unix via github.com/creack/pty.
type ptyFile interface {
	Read(p []byte) (int, error)
	Close() error
}

// readySnapshotLines bounds how much combined output is handed to
// readyWhen/onReady, per spec.md §4.1/§4.5 ("up to an
// implementation-defined large cap, e.g., last 500 lines").
const readySnapshotLines = 500

// Snapshot is an immutable, point-in-time copy of an instance's state,
// safe to hand to callers without risk of racing further mutation
// (spec.md §9 "instance getters" note: the live value stays internal).
type Snapshot struct {
	ID         string
	Name       string
	Kind       config.RunnableKind
	Status     Status
	Hidden     bool
	Pid        int
	StartedAt  time.Time
	Error      string
	WaitingFor []string
	RuntimeEnv map[string]string
}

// instance is the mutable, supervisor-owned state for one runnable
// (spec.md §3 "Runnable instance").
type instance struct {
	mu sync.Mutex

	def config.RunnableDef

	status     Status
	hidden     bool
	pid        int
	startedAt  time.Time
	errMsg     string
	waitingFor []string
	runtimeEnv map[string]string

	epoch         uint64
	onReadyCalled bool
	stopping      bool

	cmd       *procHandle
	doneCh    chan struct{}
	graceStop func() bool
}

func newInstance(def config.RunnableDef) *instance {
	return &instance{def: def, status: StatusStopped, hidden: true}
}

func (in *instance) snapshot() Snapshot {
	in.mu.Lock()
	defer in.mu.Unlock()
	env := make(map[string]string, len(in.runtimeEnv))
	for k, v := range in.runtimeEnv {
		env[k] = v
	}
	waiting := make([]string, len(in.waitingFor))
	copy(waiting, in.waitingFor)
	return Snapshot{
		ID:         in.def.ID,
		Name:       in.def.DisplayName(),
		Kind:       in.def.Kind,
		Status:     in.status,
		Hidden:     in.hidden,
		Pid:        in.pid,
		StartedAt:  in.startedAt,
		Error:      in.errMsg,
		WaitingFor: waiting,
		RuntimeEnv: env,
	}
}

// combinedSnapshotText returns the ANSI-stripped tail of the combined
// log, capped at readySnapshotLines, for readyWhen/onReady evaluation.
func combinedSnapshotText(store *logstore.Store, id string) string {
	lines := store.Tail(id, logstore.Combined, readySnapshotLines)
	return ansiutil.Strip(strings.Join(lines, "\n"))
}

// exitStatusError formats the "Exited with code N" message from §4.1.
func exitStatusError(code int) string {
	return fmt.Sprintf("Exited with code %d", code)
}

func toEventbusStream(s logstore.Stream) eventbus.Stream {
	switch s {
	case logstore.Stdout:
		return eventbus.StreamStdout
	case logstore.Stderr:
		return eventbus.StreamStderr
	default:
		return eventbus.StreamCombined
	}
}
