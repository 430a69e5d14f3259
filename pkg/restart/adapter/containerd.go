package adapter

import (
	"context"
	"fmt"
	"syscall"
	"time"

	ctrd "github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"

	"github.com/cuemby/comeback/pkg/cgroup"
	"github.com/cuemby/comeback/pkg/log"
)

const (
	// defaultNamespace is the containerd namespace Captain Comeback looks
	// for containers under. cg.Name() is expected to be the container ID
	// within this namespace.
	defaultNamespace = "moby"

	taskDeleteTimeout = 10 * time.Second
)

// Containerd restarts a container by tearing down and recreating its
// containerd task directly, bypassing the docker CLI entirely. cg.Name()
// must match the containerd container ID (not necessarily the same as the
// docker-facing container name).
type Containerd struct {
	client    *ctrd.Client
	namespace string
}

// NewContainerd connects to the containerd socket at socketPath, using
// namespace to scope container lookups (defaults to "moby", the
// namespace dockerd registers its containers under).
func NewContainerd(socketPath, namespace string) (*Containerd, error) {
	if namespace == "" {
		namespace = defaultNamespace
	}

	client, err := ctrd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to containerd: %w", err)
	}

	return &Containerd{client: client, namespace: namespace}, nil
}

// Close releases the containerd client connection.
func (c *Containerd) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *Containerd) Restart(cg *cgroup.Monitor) error {
	ctx := namespaces.WithNamespace(context.Background(), c.namespace)
	logger := log.WithCgroup("adapter", cg.Name())

	container, err := c.client.LoadContainer(ctx, cg.Name())
	if err != nil {
		return fmt.Errorf("load container %s: %w", cg.Name(), err)
	}

	if err := c.killExistingTask(ctx, container); err != nil {
		logger.Warn().Err(err).Msg("could not clean up existing task")
	}

	task, err := container.NewTask(ctx, cio.NullIO)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}

	if err := task.Start(ctx); err != nil {
		return fmt.Errorf("start task: %w", err)
	}

	logger.Info().Msg("containerd task restarted")
	return nil
}

// killExistingTask stops and removes whatever task is currently attached
// to container, if any. Restart engine has already SIGTERM'd (and
// possibly SIGKILL'd) the cgroup's processes directly, so this is mostly
// cleaning up containerd's own bookkeeping.
func (c *Containerd) killExistingTask(ctx context.Context, container ctrd.Container) error {
	task, err := container.Task(ctx, nil)
	if err != nil {
		// No task attached; nothing to clean up.
		return nil
	}

	deleteCtx, cancel := context.WithTimeout(ctx, taskDeleteTimeout)
	defer cancel()

	statusC, err := task.Wait(deleteCtx)
	if err != nil {
		return fmt.Errorf("wait for task: %w", err)
	}

	if err := task.Kill(deleteCtx, syscall.SIGKILL); err != nil {
		return fmt.Errorf("kill task: %w", err)
	}

	select {
	case <-statusC:
	case <-deleteCtx.Done():
	}

	if _, err := task.Delete(ctx); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}
