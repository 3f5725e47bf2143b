package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"
)

// Config holds configuration for the Docker backend
type Config struct {
	Host           string // Docker daemon endpoint; empty means environment defaults
	Image          string
	Entrypoint     string // absolute path of the staged artifact inside the container
	MemoryMB       int64
	CPUQuota       int64
	CPUPeriod      int64
	PidsLimit      int64
	NetworkEnabled bool
	PoolSize       int
	StopTimeout    time.Duration
}

// Docker implements Backend using detached Docker containers
type Docker struct {
	logger *zap.Logger
	cfg    *Config
	client *client.Client
	pool   *Pool
}

// DockerOption defines a functional option for Docker
type DockerOption func(*Docker)

// WithClient sets an existing Docker client, useful for testing or for
// sharing a client across components.
func WithClient(cli *client.Client) DockerOption {
	return func(d *Docker) {
		d.client = cli
	}
}

// NewDocker creates a new Docker backend. The client is constructed from the
// environment unless one is injected via WithClient; no daemon connection is
// made until Start.
func NewDocker(logger *zap.Logger, cfg *Config, opts ...DockerOption) (*Docker, error) {
	d := &Docker{
		logger: logger,
		cfg:    cfg,
	}

	for _, opt := range opts {
		opt(d)
	}

	if d.client == nil {
		clientOpts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
		if cfg.Host != "" {
			clientOpts = append(clientOpts, client.WithHost(cfg.Host))
		}
		cli, err := client.NewClientWithOpts(clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create docker client: %w", err)
		}
		d.client = cli
	}

	d.pool = NewPool(logger, cfg.PoolSize, d.createContainer, d.removeContainer)

	return d, nil
}

// Start verifies daemon connectivity, ensures the sandbox image is present,
// and warms the container pool.
func (d *Docker) Start(ctx context.Context) error {
	if _, err := d.client.Ping(ctx); err != nil {
		return fmt.Errorf("docker daemon not reachable: %w", err)
	}

	if err := d.ensureImage(ctx); err != nil {
		return fmt.Errorf("failed to ensure image: %w", err)
	}

	if err := d.pool.Replenish(ctx); err != nil {
		// Cold provisioning still works without the pool.
		d.logger.Warn("pool warmup incomplete", zap.Error(err))
	}

	d.logger.Info("docker backend started",
		zap.String("image", d.cfg.Image),
		zap.Int("pool_size", d.cfg.PoolSize))

	return nil
}

// Close drains the pool and closes the Docker client.
func (d *Docker) Close(ctx context.Context) error {
	if err := d.pool.Close(ctx); err != nil {
		d.logger.Warn("failed to drain container pool", zap.Error(err))
	}
	return d.client.Close()
}

// Replenish tops the pre-warmed pool back up to its configured size.
func (d *Docker) Replenish(ctx context.Context) {
	if err := d.pool.Replenish(ctx); err != nil {
		d.logger.Warn("pool replenish failed", zap.Error(err))
	}
}

// Provision stages the artifact into a container and starts it detached.
// Pool hits skip container creation; either way the container's own exit is
// the completion signal observed by Status.
func (d *Docker) Provision(ctx context.Context, artifact []byte) (Handle, error) {
	id, prewarmed := d.pool.Acquire()
	if !prewarmed {
		created, err := d.createContainer(ctx)
		if err != nil {
			return "", err
		}
		id = created
	}

	archive, err := packArtifact(path.Base(d.cfg.Entrypoint), artifact)
	if err != nil {
		d.discard(ctx, id)
		return "", fmt.Errorf("failed to pack artifact: %w", err)
	}

	codeDir := path.Dir(d.cfg.Entrypoint)
	if err := d.client.CopyToContainer(ctx, id, codeDir, archive, container.CopyToContainerOptions{}); err != nil {
		d.discard(ctx, id)
		return "", fmt.Errorf("failed to stage artifact: %w", err)
	}

	if err := d.client.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		d.discard(ctx, id)
		return "", fmt.Errorf("failed to start container: %w", err)
	}

	d.logger.Debug("container provisioned",
		zap.String("container_id", id),
		zap.Bool("prewarmed", prewarmed))

	return Handle(id), nil
}

// Status inspects the container's live state.
func (d *Docker) Status(ctx context.Context, handle Handle) (Status, error) {
	info, err := d.client.ContainerInspect(ctx, string(handle))
	if err != nil {
		if errdefs.IsNotFound(err) {
			return Status{}, fmt.Errorf("%w: %s", ErrNotFound, handle)
		}
		return Status{}, fmt.Errorf("failed to inspect container: %w", err)
	}

	return Status{
		Running:  info.State.Running,
		ExitCode: info.State.ExitCode,
	}, nil
}

// Logs fetches the container's combined stdout and stderr.
func (d *Docker) Logs(ctx context.Context, handle Handle) ([]byte, error) {
	rc, err := d.client.ContainerLogs(ctx, string(handle), container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, handle)
		}
		return nil, fmt.Errorf("failed to fetch container logs: %w", err)
	}
	defer rc.Close()

	// Containers run without a TTY, so the stream is multiplexed.
	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, rc); err != nil {
		return nil, fmt.Errorf("failed to read container logs: %w", err)
	}

	return buf.Bytes(), nil
}

// Destroy stops and removes the container. A container that is already
// stopped is removed anyway; one that is already gone returns ErrNotFound.
func (d *Docker) Destroy(ctx context.Context, handle Handle) error {
	id := string(handle)
	timeout := int(d.cfg.StopTimeout.Seconds())

	if err := d.client.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
		if errdefs.IsNotFound(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, handle)
		}
		// Force removal below handles containers that refuse to stop.
		d.logger.Warn("failed to stop container", zap.String("container_id", id), zap.Error(err))
	}

	if err := d.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		if errdefs.IsNotFound(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, handle)
		}
		return fmt.Errorf("failed to remove container: %w", err)
	}

	return nil
}

// createContainer creates (but does not start) a container whose command is
// already the staged entry point.
func (d *Docker) createContainer(ctx context.Context) (string, error) {
	containerCfg, hostCfg := containerSpec(d.cfg)

	resp, err := d.client.ContainerCreate(ctx, containerCfg, hostCfg, &network.NetworkingConfig{}, nil, "")
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}

	return resp.ID, nil
}

// containerSpec builds the container and host configuration with the
// security constraints applied to every sandbox.
func containerSpec(cfg *Config) (*container.Config, *container.HostConfig) {
	containerCfg := &container.Config{
		Image:      cfg.Image,
		Cmd:        []string{"python", cfg.Entrypoint},
		WorkingDir: path.Dir(cfg.Entrypoint),
	}

	pids := cfg.PidsLimit
	hostCfg := &container.HostConfig{
		CapDrop:     []string{"ALL"},
		SecurityOpt: []string{"no-new-privileges:true"},
		Resources: container.Resources{
			Memory:     cfg.MemoryMB * 1024 * 1024,
			MemorySwap: cfg.MemoryMB * 1024 * 1024,
			CPUQuota:   cfg.CPUQuota,
			CPUPeriod:  cfg.CPUPeriod,
			PidsLimit:  &pids,
		},
	}

	if !cfg.NetworkEnabled {
		hostCfg.NetworkMode = "none"
	}

	return containerCfg, hostCfg
}

// ensureImage pulls the sandbox image if it is not present locally.
func (d *Docker) ensureImage(ctx context.Context) error {
	if _, _, err := d.client.ImageInspectWithRaw(ctx, d.cfg.Image); err == nil {
		return nil
	}

	d.logger.Info("pulling sandbox image", zap.String("image", d.cfg.Image))

	reader, err := d.client.ImagePull(ctx, d.cfg.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", d.cfg.Image, err)
	}
	defer reader.Close()

	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", d.cfg.Image, err)
	}

	return nil
}

// removeContainer force-removes a container, treating "already gone" as success.
func (d *Docker) removeContainer(ctx context.Context, id string) error {
	err := d.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
	if err != nil && !errdefs.IsNotFound(err) {
		return err
	}
	return nil
}

// discard removes a half-provisioned container so a failed Provision leaves
// nothing behind.
func (d *Docker) discard(ctx context.Context, id string) {
	if err := d.removeContainer(ctx, id); err != nil {
		d.logger.Warn("failed to remove container after provisioning error",
			zap.String("container_id", id), zap.Error(err))
	}
}
