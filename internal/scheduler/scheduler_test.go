package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/corralhq/corral/internal/config"
	"github.com/corralhq/corral/internal/eventbus"
	"github.com/corralhq/corral/internal/logger"
	"github.com/corralhq/corral/internal/logstore"
	"github.com/corralhq/corral/internal/process"
)

func newTestScheduler(t *testing.T, defs map[string]config.RunnableDef, groups map[string][]string) (*Scheduler, *process.Manager, *eventbus.Bus) {
	t.Helper()
	bus := eventbus.New()
	store := logstore.New(100)
	mgr := process.NewManager(logger.Default(), bus, store, config.Defaults{GraceMS: 50}, config.DockerConfig{})
	mgr.Init(defs)

	cfg := &config.Config{Runnables: defs, Groups: groups}
	sched := New(logger.Default(), cfg, mgr, bus, context.Background())
	return sched, mgr, bus
}

func waitForStatus(t *testing.T, bus *eventbus.Bus, id string, want process.Status, timeout time.Duration) {
	t.Helper()
	ch := make(chan eventbus.StatusChange, 16)
	sub := bus.SubscribeStatusChange(func(e eventbus.StatusChange) {
		if e.ID == id {
			ch <- e
		}
	})
	defer sub.Unsubscribe()

	deadline := time.After(timeout)
	for {
		select {
		case e := <-ch:
			if e.Status == string(want) {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s to reach %s", id, want)
		}
	}
}

func TestStartAllStartsDependentAfterDependencyInheritsEnv(t *testing.T) {
	defs := map[string]config.RunnableDef{
		"db": {
			ID:      "db",
			Command: "echo listening; sleep 5",
			ReadyWhen: func(output string) bool {
				return strings.Contains(output, "listening")
			},
			OnReady: func(output string, setEnv func(k, v string)) error {
				setEnv("DB_URL", "postgres://localhost")
				return nil
			},
		},
		"api": {
			ID:        "api",
			Command:   "echo $DB_URL; sleep 5",
			DependsOn: []string{"db"},
		},
	}
	sched, mgr, bus := newTestScheduler(t, defs, nil)

	if err := sched.StartAll(context.Background(), []string{"api"}); err != nil {
		t.Fatalf("StartAll() error: %v", err)
	}

	snap, _ := mgr.Get("api")
	if snap.Status != process.StatusWaiting {
		t.Fatalf("expected api to be waiting immediately after StartAll, got %v", snap.Status)
	}

	waitForStatus(t, bus, "db", process.StatusRunning, 2*time.Second)
	waitForStatus(t, bus, "api", process.StatusRunning, 2*time.Second)

	env := mgr.GetRuntimeEnv("db")
	if env["DB_URL"] != "postgres://localhost" {
		t.Fatalf("expected db runtime env to carry DB_URL, got %v", env)
	}
	inherited := false
	for _, line := range mgr.GetOutput("api", logstore.Stdout, 0) {
		if line == "postgres://localhost" {
			inherited = true
		}
	}
	if !inherited {
		t.Errorf("expected api to print the DB_URL it inherited from db, got %v", mgr.GetOutput("api", logstore.Stdout, 0))
	}

	_ = mgr.Stop(context.Background(), "api")
	_ = mgr.Stop(context.Background(), "db")
}

func TestStartAllDetectsCycleWithoutSpawning(t *testing.T) {
	defs := map[string]config.RunnableDef{
		"a": {ID: "a", Command: "sleep 5", DependsOn: []string{"b"}},
		"b": {ID: "b", Command: "sleep 5", DependsOn: []string{"a"}},
	}
	sched, mgr, _ := newTestScheduler(t, defs, nil)

	err := sched.StartAll(context.Background(), []string{"a"})
	var cerr *CycleError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected CycleError, got %v", err)
	}

	for _, id := range []string{"a", "b"} {
		snap, ok := mgr.Get(id)
		if !ok || snap.Status != process.StatusStopped {
			t.Errorf("expected %s to remain stopped after cycle detection, got %+v", id, snap)
		}
	}
}

func TestStartAllRejectsDanglingDependency(t *testing.T) {
	defs := map[string]config.RunnableDef{
		"api": {ID: "api", Command: "sleep 5", DependsOn: []string{"ghost"}},
	}
	sched, _, _ := newTestScheduler(t, defs, nil)

	err := sched.StartAll(context.Background(), []string{"api"})
	var derr *DanglingDependencyError
	if !errors.As(err, &derr) {
		t.Fatalf("expected DanglingDependencyError, got %v", err)
	}
	if derr.ID != "api" || derr.Dep != "ghost" {
		t.Errorf("unexpected error fields: %+v", derr)
	}
}

func TestRecoveryWatcherRevivesWaiterAfterDependencyRecovers(t *testing.T) {
	// db's first run fails before it is ready; later runs find the marker
	// file and become ready.
	marker := filepath.Join(t.TempDir(), "db-recovered")
	defs := map[string]config.RunnableDef{
		"db": {
			ID:      "db",
			Command: "if [ -f '" + marker + "' ]; then echo ready; sleep 5; else touch '" + marker + "'; sleep 1; exit 1; fi",
			ReadyWhen: func(output string) bool {
				return strings.Contains(output, "ready")
			},
		},
		"api": {
			ID:        "api",
			Command:   "sleep 5",
			DependsOn: []string{"db"},
		},
	}
	sched, mgr, bus := newTestScheduler(t, defs, nil)

	if err := sched.StartAll(context.Background(), []string{"api"}); err != nil {
		t.Fatalf("StartAll() error: %v", err)
	}

	// db exits with an error; api must remain waiting, not spawn.
	waitForStatus(t, bus, "db", process.StatusError, 3*time.Second)
	snap, _ := mgr.Get("api")
	if snap.Status != process.StatusWaiting {
		t.Fatalf("expected api to still be waiting after db failed, got %v", snap.Status)
	}

	// Manually recover db; the recovery watcher should revive api.
	if err := mgr.Start(context.Background(), "db", nil); err != nil {
		t.Fatalf("restart db error: %v", err)
	}
	waitForStatus(t, bus, "db", process.StatusRunning, 2*time.Second)
	waitForStatus(t, bus, "api", process.StatusRunning, 2*time.Second)

	_ = mgr.Stop(context.Background(), "api")
	_ = mgr.Stop(context.Background(), "db")
}

func TestRestartDoesNotCascadeToDependents(t *testing.T) {
	defs := map[string]config.RunnableDef{
		"db":  {ID: "db", Command: "sleep 5"},
		"api": {ID: "api", Command: "sleep 5", DependsOn: []string{"db"}},
	}
	sched, mgr, bus := newTestScheduler(t, defs, nil)

	if err := sched.StartAll(context.Background(), []string{"api"}); err != nil {
		t.Fatalf("StartAll() error: %v", err)
	}
	waitForStatus(t, bus, "db", process.StatusRunning, 2*time.Second)
	waitForStatus(t, bus, "api", process.StatusRunning, 2*time.Second)

	if err := sched.Restart(context.Background(), "db"); err != nil {
		t.Fatalf("Restart() error: %v", err)
	}
	waitForStatus(t, bus, "db", process.StatusRunning, 2*time.Second)

	// api was never stopped by db's restart.
	snap, _ := mgr.Get("api")
	if snap.Status != process.StatusRunning {
		t.Fatalf("expected api to remain running across db's restart, got %v", snap.Status)
	}

	_ = mgr.Stop(context.Background(), "api")
	_ = mgr.Stop(context.Background(), "db")
}
