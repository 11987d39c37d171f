// Package stateexport is the State Exporter of spec.md §4.7: an
// opt-in Event Bus subscriber that materializes a JSON snapshot of
// supervisor state to a deterministic per-project path on every
// status-change, and deletes it on clean shutdown.
//
// Grounded on the teacher's internal/persistence.Provide
// (open-resource/cleanup-on-close shape, "log and ignore" write-error
// policy) generalized from a database connection to a point-in-time
// file snapshot, plus the optional internal/eventbus NATS relay this
// package is the sole user of.
package stateexport

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/corralhq/corral/internal/eventbus"
	"github.com/corralhq/corral/internal/logger"
	"github.com/corralhq/corral/internal/logstore"
	"github.com/corralhq/corral/internal/process"
)

// ServiceState is one runnable's entry in the exported snapshot.
type ServiceState struct {
	Status    string     `json:"status"`
	Error     string     `json:"error,omitempty"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
}

// Snapshot is the on-disk document written by Exporter, per spec.md §4.7.
type Snapshot struct {
	Pid         int                     `json:"pid"`
	ConfigPath  string                  `json:"configPath"`
	ProjectRoot string                  `json:"projectRoot"`
	UpdatedAt   string                  `json:"updatedAt"`
	Services    map[string]ServiceState `json:"services"`
	Logs        map[string][]string     `json:"logs"`
}

// Exporter subscribes to status-change and writes Snapshot to disk.
type Exporter struct {
	log         *logger.Logger
	mgr         *process.Manager
	store       *logstore.Store
	path        string
	configPath  string
	projectRoot string
	tailN       int
	relay       *eventbus.NATSRelay

	mu  sync.Mutex
	sub eventbus.Subscription
}

// StatePath computes the deterministic per-project path spec.md §6
// requires: stateDir/<12 hex chars of md5(projectRoot)>.json.
func StatePath(stateDir, projectRoot string) string {
	sum := md5.Sum([]byte(projectRoot))
	hash := hex.EncodeToString(sum[:])[:12]
	return filepath.Join(stateDir, hash+".json")
}

// New builds an Exporter. relay may be nil (the NATS mirror is optional,
// SPEC_FULL §6.2).
func New(log *logger.Logger, mgr *process.Manager, store *logstore.Store, stateDir, configPath, projectRoot string, tailN int, relay *eventbus.NATSRelay) *Exporter {
	if tailN <= 0 {
		tailN = 100
	}
	return &Exporter{
		log:         log.With(zap.String("component", "state-exporter")),
		mgr:         mgr,
		store:       store,
		path:        StatePath(stateDir, projectRoot),
		configPath:  configPath,
		projectRoot: projectRoot,
		tailN:       tailN,
		relay:       relay,
	}
}

// Start subscribes to the bus and writes an initial snapshot.
func (e *Exporter) Start(bus *eventbus.Bus) {
	e.mu.Lock()
	e.sub = bus.SubscribeStatusChange(func(ev eventbus.StatusChange) {
		e.writeSnapshot()
		if e.relay != nil {
			e.relay.Publish(ev)
		}
	})
	e.mu.Unlock()
	e.writeSnapshot()
}

// Stop unsubscribes and deletes the state file, per spec.md §4.7
// "on supervisor shutdown the file MUST be deleted".
func (e *Exporter) Stop() {
	e.mu.Lock()
	sub := e.sub
	e.sub = nil
	e.mu.Unlock()
	if sub != nil {
		sub.Unsubscribe()
	}
	if err := os.Remove(e.path); err != nil && !os.IsNotExist(err) {
		e.log.Warn("failed to remove state file", zap.String("path", e.path), zap.Error(err))
	}
}

// writeSnapshot renders the current state and writes it. Write errors
// are logged and ignored (spec.md §7 "State-file write error").
func (e *Exporter) writeSnapshot() {
	snap := Snapshot{
		Pid:         os.Getpid(),
		ConfigPath:  e.configPath,
		ProjectRoot: e.projectRoot,
		UpdatedAt:   time.Now().UTC().Format(time.RFC3339),
		Services:    make(map[string]ServiceState),
		Logs:        make(map[string][]string),
	}

	for _, s := range e.mgr.GetAll() {
		state := ServiceState{Status: string(s.Status), Error: s.Error}
		if !s.StartedAt.IsZero() {
			t := s.StartedAt
			state.StartedAt = &t
		}
		snap.Services[s.ID] = state
		snap.Logs[s.ID] = e.store.Tail(s.ID, logstore.Combined, e.tailN)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		e.log.Warn("failed to marshal state snapshot", zap.Error(err))
		return
	}

	if err := os.MkdirAll(filepath.Dir(e.path), 0o755); err != nil {
		e.log.Warn("failed to create state dir", zap.Error(err))
		return
	}

	tmp := e.path + fmt.Sprintf(".tmp-%d", time.Now().UnixNano())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		e.log.Warn("failed to write state file", zap.String("path", e.path), zap.Error(err))
		return
	}
	if err := os.Rename(tmp, e.path); err != nil {
		e.log.Warn("failed to finalize state file", zap.String("path", e.path), zap.Error(err))
		_ = os.Remove(tmp)
	}
}
