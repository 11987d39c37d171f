// Package supervisor wires the Dependency Scheduler, Process
// Lifecycle, Log Store, Event Bus, Ephemeral Command Runner, and State
// Exporter into the single external surface spec.md §2/§6 describes.
//
// Grounded on the teacher's internal/agent/lifecycle.Manager: one
// top-level struct composed of many small, independently-testable
// components (here Scheduler/Manager/Store/Bus/Runner/Exporter rather
// than the teacher's ExecutionStore/CommandBuilder/StreamManager/...).
// Scheduler, Manager, Runner and Exporter have unit tests of their own;
// Store and Bus are exercised only through those.
package supervisor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/corralhq/corral/internal/config"
	"github.com/corralhq/corral/internal/container"
	"github.com/corralhq/corral/internal/ephemeral"
	"github.com/corralhq/corral/internal/eventbus"
	"github.com/corralhq/corral/internal/logger"
	"github.com/corralhq/corral/internal/logstore"
	"github.com/corralhq/corral/internal/process"
	"github.com/corralhq/corral/internal/scheduler"
	"github.com/corralhq/corral/internal/stateexport"
)

// dockerProbeTimeout bounds the best-effort daemon-reachability check
// performed once during Init.
const dockerProbeTimeout = 3 * time.Second

// Supervisor is the Runnable Supervisor Core's single entry point.
type Supervisor struct {
	log    *logger.Logger
	cfg    *config.Config
	bus    *eventbus.Bus
	store  *logstore.Store
	mgr    *process.Manager
	sched  *scheduler.Scheduler
	relay  *eventbus.NATSRelay
	export *stateexport.Exporter

	Ephemeral  *ephemeral.Runner
	Background *ephemeral.Background
}

// New builds every component and installs the recovery watcher, but
// does not yet spawn anything — call Init then StartAll/StartWithDependencies.
func New(log *logger.Logger, cfg *config.Config, configPath string) (*Supervisor, error) {
	bus := eventbus.New()
	store := logstore.New(cfg.Defaults.MaxOutputLines)
	mgr := process.NewManager(log, bus, store, cfg.Defaults, cfg.Docker)

	s := &Supervisor{
		log:        log,
		cfg:        cfg,
		bus:        bus,
		store:      store,
		mgr:        mgr,
		Ephemeral:  ephemeral.New(cfg.Defaults.MaxOutputLines),
		Background: ephemeral.NewBackground(),
	}
	s.sched = scheduler.New(log, cfg, mgr, bus, context.Background())

	if cfg.Events.NATSURL != "" {
		relay, err := eventbus.NewNATSRelay(cfg.Events.NATSURL, cfg.Events.Namespace, log)
		if err != nil {
			log.Warn("failed to connect nats relay, continuing without it", zap.Error(err))
		} else {
			s.relay = relay
		}
	}

	if cfg.StateExport.Enabled {
		s.export = stateexport.New(log, mgr, store, cfg.StateExport.StateDir, configPath, cfg.ProjectRoot, cfg.StateExport.TailN, s.relay)
	}

	return s, nil
}

// Init creates every configured runnable instance (status stopped,
// hidden true), probes the Docker daemon if any runnable needs it, and
// starts the optional state exporter.
func (s *Supervisor) Init() {
	s.mgr.Init(s.cfg.Runnables)
	s.probeDocker()
	if s.export != nil {
		s.export.Start(s.bus)
	}
}

// probeDocker pings the Docker daemon once at boot if any configured
// runnable is container-kind. Unreachable daemons are logged and
// otherwise ignored here: the real failure surfaces when the
// container runnable itself is started (process.Manager.Start).
func (s *Supervisor) probeDocker() {
	needsDocker := false
	for _, def := range s.cfg.Runnables {
		if def.Kind == config.KindContainer {
			needsDocker = true
			break
		}
	}
	if !needsDocker {
		return
	}

	cli, err := container.NewClient(s.cfg.Docker, s.log)
	if err != nil {
		s.log.Warn("failed to build docker client", zap.Error(err))
		return
	}
	defer cli.Close()

	ctx, cancel := context.WithTimeout(context.Background(), dockerProbeTimeout)
	defer cancel()
	if err := cli.Ping(ctx); err != nil {
		s.log.Warn("docker daemon unreachable at startup", zap.Error(err))
	}
}

// Bus returns the shared Event Bus for UI subscription.
func (s *Supervisor) Bus() *eventbus.Bus { return s.bus }

// StartAll resolves names (runnable ids, group names, or "all") and
// gated-starts the expanded target set.
func (s *Supervisor) StartAll(ctx context.Context, names []string) error {
	return s.sched.StartAll(ctx, names)
}

// Start starts a single id directly (used by a UI after the user picks
// one runnable); it goes through the same path as StartAll with id as
// the only seed, so id's transitive dependencies are expanded and
// started too.
func (s *Supervisor) Start(ctx context.Context, id string) error {
	if _, ok := s.cfg.Runnables[id]; !ok {
		return fmt.Errorf("unknown runnable: %s", id)
	}
	return s.sched.StartAll(ctx, []string{id})
}

// StartWithDependencies starts id and its transitive dependency
// closure only (spec.md §4.4).
func (s *Supervisor) StartWithDependencies(ctx context.Context, id string) error {
	return s.sched.StartWithDependencies(ctx, id)
}

// Stop stops a single runnable.
func (s *Supervisor) Stop(ctx context.Context, id string) error {
	return s.mgr.Stop(ctx, id)
}

// StopAll stops every running/starting runnable, per spec.md §6
// "Signals the supervisor consumes".
func (s *Supervisor) StopAll(ctx context.Context) error {
	return s.sched.StopAll(ctx)
}

// Restart stops then starts id only (not transitive).
func (s *Supervisor) Restart(ctx context.Context, id string) error {
	return s.sched.Restart(ctx, id)
}

// RestartAll restarts every known runnable.
func (s *Supervisor) RestartAll(ctx context.Context) error {
	return s.sched.RestartAll(ctx)
}

// Get returns a snapshot of one runnable.
func (s *Supervisor) Get(id string) (process.Snapshot, bool) {
	return s.mgr.Get(id)
}

// GetAll returns a snapshot of every known runnable.
func (s *Supervisor) GetAll() []process.Snapshot {
	return s.mgr.GetAll()
}

// GetOutput returns the most recent n lines (or all, if n<=0) of id's
// stream — the single read-surface of SPEC_FULL.md §11.
func (s *Supervisor) GetOutput(id string, stream logstore.Stream, n int) []string {
	return s.mgr.GetOutput(id, stream, n)
}

// GetHiddenRunnables returns every runnable never explicitly started
// in this session (glossary "Hidden").
func (s *Supervisor) GetHiddenRunnables() []process.Snapshot {
	var out []process.Snapshot
	for _, snap := range s.mgr.GetAll() {
		if snap.Hidden {
			out = append(out, snap)
		}
	}
	return out
}

// GetVisibleRunnables returns every runnable ever explicitly started.
func (s *Supervisor) GetVisibleRunnables() []process.Snapshot {
	var out []process.Snapshot
	for _, snap := range s.mgr.GetAll() {
		if !snap.Hidden {
			out = append(out, snap)
		}
	}
	return out
}

// Shutdown stops every runnable, tears down the state exporter (which
// deletes the state file) and closes the optional NATS relay. Call
// this from the SIGINT/SIGTERM handler per spec.md §6.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	err := s.StopAll(ctx)
	if s.export != nil {
		s.export.Stop()
	}
	if s.relay != nil {
		s.relay.Close()
	}
	return err
}
