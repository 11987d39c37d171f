// Package container provides the Docker-backed half of the Process
// Lifecycle (SPEC_FULL.md §4.1.1): turning a container-kind RunnableDef
// into a `docker run` invocation, and a thin SDK client used only to
// pull images and probe the daemon before spawning.
//
// Grounded on the teacher's internal/agent/docker.Client, trimmed to
// the two operations the supervisor actually needs — container
// create/start/stop/exec are not used because containers are spawned
// as plain os/exec children (see args.go) so they share the exact
// same process-group/readiness/exit-classification path as shell
// runnables.
package container

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"go.uber.org/zap"

	"github.com/corralhq/corral/internal/config"
	"github.com/corralhq/corral/internal/logger"
)

// Client wraps the Docker SDK client for the operations the supervisor
// performs outside the child-process lifecycle: checking the daemon is
// reachable and pre-pulling an image.
type Client struct {
	cli *client.Client
	log *logger.Logger
}

// NewClient builds a Docker SDK client from cfg. The returned Client
// doesn't dial the daemon eagerly; call Ping to verify connectivity.
func NewClient(cfg config.DockerConfig, log *logger.Logger) (*Client, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	return &Client{cli: cli, log: log}, nil
}

// Ping verifies the Docker daemon is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.cli.Ping(ctx)
	if err != nil {
		return fmt.Errorf("docker daemon unreachable: %w", err)
	}
	return nil
}

// PullImage pulls imageName, discarding the pull's progress stream.
func (c *Client) PullImage(ctx context.Context, imageName string) error {
	c.log.Info("pulling image", zap.String("image", imageName))
	reader, err := c.cli.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", imageName, err)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("error reading image pull output: %w", err)
	}
	return nil
}

// Close releases the underlying SDK client's resources.
func (c *Client) Close() error {
	return c.cli.Close()
}
