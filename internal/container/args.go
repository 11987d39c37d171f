package container

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/corralhq/corral/internal/config"
	"github.com/corralhq/corral/internal/portalloc"
)

// BuildRunArgs turns a container-kind RunnableDef into a `docker run`
// argv, per SPEC_FULL.md §4.1.1. The result is spawned as an ordinary
// os/exec child by internal/process, so it reuses that package's
// spawn/readiness/exit-classification/kill path unchanged — docker
// itself is the child, and `--rm` reclaims the container when its
// process group is killed.
//
// Ports declared without an explicit host side (just "containerPort" or
// "containerPort/proto") get a host port auto-allocated via
// internal/portalloc; the allocated value is passed to the container
// with -e and returned in extraEnv (which internal/process merges into
// the docker child's env) as PORT (for the first such port) and
// "<NAME>_PORT" derived from the runnable id, uppercased. These values
// are not added to the runnable's runtime env (§4.5), so dependents do
// not inherit them.
func BuildRunArgs(def config.RunnableDef, docker config.DockerConfig) ([]string, map[string]string, error) {
	binary := docker.Binary
	if binary == "" {
		binary = "docker"
	}

	args := []string{"run", "--rm", "--name", containerName(def.ID)}

	network := def.Network
	if network == "" {
		network = docker.DefaultNetwork
	}
	if network != "" {
		args = append(args, "--network", network)
	}

	extraEnv := make(map[string]string)

	for k, v := range def.Env {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, v))
	}

	portArgs, portEnv, err := buildPortArgs(def)
	if err != nil {
		return nil, nil, err
	}
	args = append(args, portArgs...)
	for k, v := range portEnv {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, v))
		extraEnv[k] = v
	}

	for _, v := range def.Volumes {
		args = append(args, "-v", v)
	}

	args = append(args, def.Image)

	return append([]string{binary}, args...), extraEnv, nil
}

func containerName(id string) string {
	return "corral-" + id
}

// buildPortArgs resolves each "ports" entry into a -p flag. An entry of
// the form "hostPort:containerPort" is passed through unchanged. An
// entry of just "containerPort" has a host port auto-allocated; the
// first such allocation is exported as PORT, and "<ID>_PORT" (uppercased,
// non-alnum replaced with underscore) is set on every allocation, so with
// several auto-allocated ports it holds the last one.
func buildPortArgs(def config.RunnableDef) ([]string, map[string]string, error) {
	var args []string
	env := make(map[string]string)
	firstAllocated := true

	for _, p := range def.Ports {
		if strings.Contains(p, ":") {
			args = append(args, "-p", p)
			continue
		}

		hostPort, err := portalloc.Allocate()
		if err != nil {
			return nil, nil, fmt.Errorf("runnable %q: failed to allocate host port for container port %s: %w", def.ID, p, err)
		}
		containerPort := p
		args = append(args, "-p", fmt.Sprintf("%d:%s", hostPort, containerPort))

		portStr := strconv.Itoa(hostPort)
		if firstAllocated {
			env["PORT"] = portStr
			firstAllocated = false
		}
		env[envPortName(def.ID)] = portStr
	}

	return args, env, nil
}

func envPortName(id string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(id) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	b.WriteString("_PORT")
	return b.String()
}
