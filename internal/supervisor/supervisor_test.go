package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/corralhq/corral/internal/config"
	"github.com/corralhq/corral/internal/logger"
	"github.com/corralhq/corral/internal/logstore"
	"github.com/corralhq/corral/internal/process"
)

func testConfig() *config.Config {
	return &config.Config{
		Runnables: map[string]config.RunnableDef{
			"api": {ID: "api", Kind: config.KindShell, Command: "echo hi && sleep 5"},
		},
		Defaults:    config.Defaults{GraceMS: 30, MaxOutputLines: 100},
		StateExport: config.StateExportConfig{Enabled: false},
	}
}

func waitForStatus(t *testing.T, sup *Supervisor, id string, want process.Status, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if snap, ok := sup.Get(id); ok && snap.Status == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s to reach %s", id, want)
}

func TestSupervisorStartAllMakesRunnableVisible(t *testing.T) {
	cfg := testConfig()
	sup, err := New(logger.Default(), cfg, "config.yaml")
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	sup.Init()

	hidden := sup.GetHiddenRunnables()
	if len(hidden) != 1 {
		t.Fatalf("expected 1 hidden runnable after Init, got %d", len(hidden))
	}

	if err := sup.StartAll(context.Background(), []string{"api"}); err != nil {
		t.Fatalf("StartAll() error: %v", err)
	}
	waitForStatus(t, sup, "api", process.StatusRunning, 2*time.Second)

	visible := sup.GetVisibleRunnables()
	if len(visible) != 1 || visible[0].ID != "api" {
		t.Fatalf("expected api to be visible after StartAll, got %+v", visible)
	}

	lines := sup.GetOutput("api", logstore.Stdout, 0)
	found := false
	for _, l := range lines {
		if l == "hi" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected stdout output to contain 'hi', got %v", lines)
	}

	if err := sup.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	waitForStatus(t, sup, "api", process.StatusStopped, 6*time.Second)
}
