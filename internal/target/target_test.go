package target

import (
	"errors"
	"testing"

	"github.com/corralhq/corral/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Runnables: map[string]config.RunnableDef{
			"api":      {ID: "api"},
			"worker":   {ID: "worker"},
			"frontend": {ID: "frontend"},
		},
		Groups: map[string][]string{
			"backend": {"api", "worker"},
		},
	}
}

func TestResolveRunnableAndGroup(t *testing.T) {
	cfg := testConfig()
	ids, err := Resolve(cfg, []string{"backend", "frontend"})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	want := []string{"api", "worker", "frontend"}
	if len(ids) != len(want) {
		t.Fatalf("Resolve() = %v, want %v", ids, want)
	}
	for i, id := range want {
		if ids[i] != id {
			t.Errorf("Resolve()[%d] = %q, want %q", i, ids[i], id)
		}
	}
}

func TestResolveDeduplicates(t *testing.T) {
	cfg := testConfig()
	ids, err := Resolve(cfg, []string{"api", "backend", "api"})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected deduplicated [api worker], got %v", ids)
	}
}

func TestResolveUnknownTargetSuggestsPrefix(t *testing.T) {
	cfg := testConfig()
	_, err := Resolve(cfg, []string{"fronten"})
	var uerr *UnknownTargetError
	if !errors.As(err, &uerr) {
		t.Fatalf("expected UnknownTargetError, got %v", err)
	}
	if uerr.Suggestion != "frontend" {
		t.Errorf("expected suggestion %q, got %q", "frontend", uerr.Suggestion)
	}
}

func TestResolveUnknownTargetSuggestsByDistance(t *testing.T) {
	cfg := testConfig()
	_, err := Resolve(cfg, []string{"workar"})
	var uerr *UnknownTargetError
	if !errors.As(err, &uerr) {
		t.Fatalf("expected UnknownTargetError, got %v", err)
	}
	if uerr.Suggestion != "worker" {
		t.Errorf("expected suggestion %q, got %q", "worker", uerr.Suggestion)
	}
}

func TestResolveDanglingGroupReference(t *testing.T) {
	cfg := testConfig()
	cfg.Groups["broken"] = []string{"ghost"}
	_, err := Resolve(cfg, []string{"broken"})
	var gerr *DanglingGroupRefError
	if !errors.As(err, &gerr) {
		t.Fatalf("expected DanglingGroupRefError, got %v", err)
	}
	if gerr.Group != "broken" || gerr.Service != "ghost" {
		t.Errorf("unexpected error fields: %+v", gerr)
	}
}

func TestAllReturnsEveryRunnableID(t *testing.T) {
	cfg := testConfig()
	ids := All(cfg)
	if len(ids) != 3 {
		t.Fatalf("All() = %v, want 3 ids", ids)
	}
}
