package container

import (
	"strings"
	"testing"

	"github.com/corralhq/corral/internal/config"
)

func TestBuildRunArgsBasic(t *testing.T) {
	def := config.RunnableDef{
		ID:      "api",
		Kind:    config.KindContainer,
		Image:   "myapp:latest",
		Volumes: []string{"/host/data:/data:ro"},
		Env:     map[string]string{"FOO": "bar"},
	}
	docker := config.DockerConfig{Binary: "docker", DefaultNetwork: "corral-network"}

	argv, extraEnv, err := BuildRunArgs(def, docker)
	if err != nil {
		t.Fatalf("BuildRunArgs() error: %v", err)
	}
	if argv[0] != "docker" || argv[1] != "run" {
		t.Fatalf("unexpected argv head: %v", argv)
	}
	joined := strings.Join(argv, " ")
	if !strings.Contains(joined, "--name corral-api") {
		t.Errorf("missing container name: %v", argv)
	}
	if !strings.Contains(joined, "--network corral-network") {
		t.Errorf("missing network: %v", argv)
	}
	if !strings.Contains(joined, "-e FOO=bar") {
		t.Errorf("missing env: %v", argv)
	}
	if !strings.Contains(joined, "-v /host/data:/data:ro") {
		t.Errorf("missing volume: %v", argv)
	}
	if argv[len(argv)-1] != "myapp:latest" {
		t.Errorf("image must be last positional arg: %v", argv)
	}
	if len(extraEnv) != 0 {
		t.Errorf("expected no allocated port env, got %v", extraEnv)
	}
}

func TestBuildRunArgsExplicitPortPassthrough(t *testing.T) {
	def := config.RunnableDef{
		ID:    "web",
		Image: "nginx",
		Ports: []string{"8080:80"},
	}
	argv, extraEnv, err := BuildRunArgs(def, config.DockerConfig{})
	if err != nil {
		t.Fatalf("BuildRunArgs() error: %v", err)
	}
	if !strings.Contains(strings.Join(argv, " "), "-p 8080:80") {
		t.Errorf("expected explicit port passthrough, got %v", argv)
	}
	if len(extraEnv) != 0 {
		t.Errorf("explicit ports must not allocate env, got %v", extraEnv)
	}
}

func TestBuildRunArgsAutoAllocatesPort(t *testing.T) {
	def := config.RunnableDef{
		ID:    "web",
		Image: "nginx",
		Ports: []string{"80"},
	}
	argv, extraEnv, err := BuildRunArgs(def, config.DockerConfig{})
	if err != nil {
		t.Fatalf("BuildRunArgs() error: %v", err)
	}
	port, ok := extraEnv["PORT"]
	if !ok || port == "" {
		t.Fatalf("expected PORT to be allocated, got %v", extraEnv)
	}
	if _, ok := extraEnv["WEB_PORT"]; !ok {
		t.Errorf("expected WEB_PORT to be allocated, got %v", extraEnv)
	}
	joined := strings.Join(argv, " ")
	if !strings.Contains(joined, "-p "+port+":80") {
		t.Errorf("expected -p %s:80 in argv, got %v", port, argv)
	}
}

func TestEnvPortNameSanitizesID(t *testing.T) {
	if got := envPortName("my-service.v2"); got != "MY_SERVICE_V2_PORT" {
		t.Errorf("envPortName() = %q", got)
	}
}
