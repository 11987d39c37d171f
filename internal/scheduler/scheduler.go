// Package scheduler is the Dependency Scheduler of spec.md §4.4: it
// expands a requested target set over dependsOn, validates and
// topologically orders it, and gates each runnable's start on its
// dependencies reaching running — reactivating waiters when a
// previously failed dependency recovers.
//
// Grounded on the teacher's internal/orchestrator/scheduler.Scheduler
// (struct shape, zap-scoped logger, errors.Join over per-item
// operations) and internal/orchestrator/watcher (event-subscription
// callback style), generalized from a task queue to a dependency graph
// over config.RunnableDef.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/corralhq/corral/internal/config"
	"github.com/corralhq/corral/internal/eventbus"
	"github.com/corralhq/corral/internal/logger"
	"github.com/corralhq/corral/internal/process"
	"github.com/corralhq/corral/internal/target"
)

// CycleError reports a dependency cycle found by Kahn's algorithm.
type CycleError struct {
	Remaining []string
}

func (e *CycleError) Error() string {
	sort.Strings(e.Remaining)
	return fmt.Sprintf("dependency cycle detected among: %s", strings.Join(e.Remaining, ", "))
}

// DanglingDependencyError reports a dependsOn entry that isn't a valid
// runnable id in the config.
type DanglingDependencyError struct {
	ID      string
	Dep     string
	KnownID []string
}

func (e *DanglingDependencyError) Error() string {
	return fmt.Sprintf("runnable %q depends on unknown runnable %q (known ids: %s)", e.ID, e.Dep, strings.Join(e.KnownID, ", "))
}

// Scheduler wires config, the Process Lifecycle manager, and the Event
// Bus into the gated-start / recovery-watcher state machine.
type Scheduler struct {
	log *logger.Logger
	cfg *config.Config
	mgr *process.Manager
	bus *eventbus.Bus

	watcherOnce sync.Once
	watcherCtx  context.Context
}

// New builds a Scheduler and installs its recovery watcher. watcherCtx
// governs restarts the recovery watcher itself issues — it should
// outlive any single StartAll/Restart call, typically the supervisor's
// own lifetime context.
func New(log *logger.Logger, cfg *config.Config, mgr *process.Manager, bus *eventbus.Bus, watcherCtx context.Context) *Scheduler {
	s := &Scheduler{
		log:        log.With(zap.String("component", "scheduler")),
		cfg:        cfg,
		mgr:        mgr,
		bus:        bus,
		watcherCtx: watcherCtx,
	}
	s.installRecoveryWatcher()
	return s
}

// installRecoveryWatcher subscribes to status-change exactly once per
// Scheduler (spec.md §4.4 "installed exactly once per supervisor
// instance").
func (s *Scheduler) installRecoveryWatcher() {
	s.watcherOnce.Do(func() {
		s.bus.SubscribeStatusChange(func(e eventbus.StatusChange) {
			if e.Status != string(process.StatusRunning) {
				return
			}
			s.reviveWaiters()
		})
	})
}

func (s *Scheduler) reviveWaiters() {
	for _, snap := range s.mgr.GetAll() {
		if snap.Status != process.StatusWaiting {
			continue
		}
		s.tryRevive(snap.ID)
	}
}

// tryRevive starts id if every entry of its current waitingFor is now
// running, collecting the union of their runtime env (last-writer-wins
// in dependency order), per spec.md §4.4/§4.5.
func (s *Scheduler) tryRevive(id string) {
	snap, ok := s.mgr.Get(id)
	if !ok || snap.Status != process.StatusWaiting {
		return
	}
	if !s.allRunning(snap.WaitingFor) {
		return
	}
	env := s.collectEnv(snap.WaitingFor)
	if err := s.mgr.Start(s.watcherCtx, id, env); err != nil {
		s.log.Warn("failed to start revived waiter", zap.String("runnable_id", id), zap.Error(err))
	}
}

func (s *Scheduler) allRunning(ids []string) bool {
	for _, id := range ids {
		snap, ok := s.mgr.Get(id)
		if !ok || snap.Status != process.StatusRunning {
			return false
		}
	}
	return true
}

// collectEnv overlays runtimeEnv[dep] for each dep in order; a later
// dep's key wins over an earlier one's (spec.md §4.5).
func (s *Scheduler) collectEnv(depIDs []string) map[string]string {
	env := make(map[string]string)
	for _, dep := range depIDs {
		for k, v := range s.mgr.GetRuntimeEnv(dep) {
			env[k] = v
		}
	}
	return env
}

// StartAll resolves names (runnable ids, group names, or the literal
// "all") into a target set and starts it, per spec.md §4.4/§6.
func (s *Scheduler) StartAll(ctx context.Context, names []string) error {
	var seed []string
	if len(names) == 1 && names[0] == "all" {
		seed = target.All(s.cfg)
	} else {
		resolved, err := target.Resolve(s.cfg, names)
		if err != nil {
			return err
		}
		seed = resolved
	}
	return s.startSet(ctx, seed)
}

func (s *Scheduler) startSet(ctx context.Context, seedIDs []string) error {
	set := s.expand(seedIDs)
	if err := s.validateDangling(set); err != nil {
		return err
	}
	order, err := s.topoSort(set)
	if err != nil {
		return err
	}
	for _, id := range order {
		s.gatedStart(ctx, id, set)
	}
	return nil
}

// gatedStart implements spec.md §4.4 "Startup" steps 1-4 for one id.
func (s *Scheduler) gatedStart(ctx context.Context, id string, set map[string]bool) {
	s.mgr.SetHidden(id, false)

	snap, ok := s.mgr.Get(id)
	if !ok {
		return
	}
	if snap.Status == process.StatusRunning || snap.Status == process.StatusStarting {
		return
	}

	def, ok := s.cfg.Runnables[id]
	if !ok {
		return
	}

	var depsInSet []string
	for _, dep := range def.DependsOn {
		if set[dep] {
			depsInSet = append(depsInSet, dep)
		}
	}

	if len(depsInSet) == 0 {
		if err := s.mgr.Start(ctx, id, nil); err != nil {
			s.log.Warn("failed to start runnable", zap.String("runnable_id", id), zap.Error(err))
		}
		return
	}

	s.mgr.SetWaiting(id, depsInSet)
	// Deps may already all be running if an earlier branch of the same
	// StartAll finished first; the recovery watcher only fires on
	// *future* running transitions, so check the already-satisfied
	// case immediately too.
	s.tryRevive(id)
}

// Restart stops then starts id only; it does not restart transitively
// (spec.md §4.4 "Restart").
func (s *Scheduler) Restart(ctx context.Context, id string) error {
	if _, ok := s.cfg.Runnables[id]; !ok {
		return fmt.Errorf("unknown runnable: %s", id)
	}
	if err := s.mgr.Stop(ctx, id); err != nil {
		return err
	}

	def := s.cfg.Runnables[id]
	if len(def.DependsOn) == 0 {
		return s.mgr.Start(ctx, id, nil)
	}
	s.mgr.SetWaiting(id, def.DependsOn)
	s.tryRevive(id)
	return nil
}

// RestartAll calls Restart on every known runnable id.
func (s *Scheduler) RestartAll(ctx context.Context) error {
	var errs []error
	for _, id := range s.cfg.KnownIDs() {
		if err := s.Restart(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StartWithDependencies is the UI affordance of spec.md §4.4: start id
// and every (possibly already-running) dependency it transitively
// needs, without starting anything else.
func (s *Scheduler) StartWithDependencies(ctx context.Context, id string) error {
	if _, ok := s.cfg.Runnables[id]; !ok {
		return fmt.Errorf("unknown runnable: %s", id)
	}
	closure := s.expand([]string{id})
	if err := s.validateDangling(closure); err != nil {
		return err
	}
	for cid := range closure {
		s.mgr.SetHidden(cid, false)
	}

	order, err := s.topoSort(closure)
	if err != nil {
		return err
	}
	for _, cid := range order {
		snap, ok := s.mgr.Get(cid)
		if ok && (snap.Status == process.StatusRunning || snap.Status == process.StatusStarting || snap.Status == process.StatusWaiting) {
			continue
		}
		s.gatedStart(ctx, cid, closure)
	}
	return nil
}

// StopAll stops every runnable currently running or starting.
func (s *Scheduler) StopAll(ctx context.Context) error {
	var errs []error
	for _, snap := range s.mgr.GetAll() {
		if snap.Status != process.StatusRunning && snap.Status != process.StatusStarting {
			continue
		}
		if err := s.mgr.Stop(ctx, snap.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// expand computes the BFS transitive closure of seedIDs over
// dependsOn (spec.md §4.4 "Expansion"). IDs not present in the config
// are included as-is; validateDangling reports them.
func (s *Scheduler) expand(seedIDs []string) map[string]bool {
	set := make(map[string]bool)
	queue := append([]string(nil), seedIDs...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if set[id] {
			continue
		}
		set[id] = true
		def, ok := s.cfg.Runnables[id]
		if !ok {
			continue
		}
		for _, dep := range def.DependsOn {
			if !set[dep] {
				queue = append(queue, dep)
			}
		}
	}
	return set
}

// validateDangling checks that every dependsOn entry of every id in
// set is itself a valid config definition, not merely a member of set
// (spec.md §4.4 "Validation").
func (s *Scheduler) validateDangling(set map[string]bool) error {
	known := s.cfg.KnownIDs()
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		def, ok := s.cfg.Runnables[id]
		if !ok {
			continue
		}
		for _, dep := range def.DependsOn {
			if _, ok := s.cfg.Runnables[dep]; !ok {
				return &DanglingDependencyError{ID: id, Dep: dep, KnownID: known}
			}
		}
	}
	return nil
}

// topoSort runs Kahn's algorithm over set, restricted to edges inside
// set (spec.md §4.4 "Validation"). Ties broken alphabetically for
// deterministic ordering.
func (s *Scheduler) topoSort(set map[string]bool) ([]string, error) {
	indegree := make(map[string]int, len(set))
	dependents := make(map[string][]string)

	for id := range set {
		indegree[id] = 0
	}
	for id := range set {
		def := s.cfg.Runnables[id]
		for _, dep := range def.DependsOn {
			if !set[dep] {
				continue
			}
			dependents[dep] = append(dependents[dep], id)
			indegree[id]++
		}
	}

	var ready []string
	for id := range set {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(set))
	for len(ready) > 0 {
		sort.Strings(ready)
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}

	if len(order) != len(set) {
		var remaining []string
		for id, deg := range indegree {
			if deg > 0 {
				remaining = append(remaining, id)
			}
		}
		return nil, &CycleError{Remaining: remaining}
	}
	return order, nil
}
