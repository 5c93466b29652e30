package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/Sathwik-git/linux-playground/internal/config"
)

const managedByLabel = "linux-playground"

// Docker runs playground instances as containers of a single fixed
// image, one container per session, with the terminal port published on
// an ephemeral host port.
type Docker struct {
	client   *client.Client
	image    string
	port     nat.Port
	host     string
	log      *slog.Logger
	pollEach time.Duration
}

// NewDocker connects to the Docker daemon, verifies it is reachable and
// makes sure the instance image is present.
func NewDocker(ctx context.Context, cfg *config.Settings, log *slog.Logger) (*Docker, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.DockerHost != "" {
		opts = append(opts, client.WithHost(cfg.DockerHost))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}

	if _, err := cli.Ping(ctx); err != nil {
		return nil, fmt.Errorf("docker ping: %w", err)
	}

	d := &Docker{
		client:   cli,
		image:    cfg.InstanceImage,
		port:     nat.Port(cfg.TerminalPort + "/tcp"),
		host:     cfg.AdvertiseHost,
		log:      log,
		pollEach: time.Second,
	}

	if err := d.ensureImage(ctx); err != nil {
		return nil, err
	}

	return d, nil
}

func (d *Docker) ensureImage(ctx context.Context) error {
	images, err := d.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return fmt.Errorf("list images: %w", err)
	}

	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == d.image {
				return nil
			}
		}
	}

	d.log.Info("pulling instance image", "image", d.image)
	reader, err := d.client.ImagePull(ctx, d.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", d.image, err)
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

// Create launches exactly one container for the session.
func (d *Docker) Create(ctx context.Context, sessionID string) (string, error) {
	containerConfig := &container.Config{
		Image: d.image,
		Labels: map[string]string{
			"managed-by": managedByLabel,
			"session-id": sessionID,
		},
		ExposedPorts: nat.PortSet{
			d.port: struct{}{},
		},
	}

	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			d.port: []nat.PortBinding{
				{HostIP: "0.0.0.0", HostPort: "0"},
			},
		},
		AutoRemove: false,
	}

	name := fmt.Sprintf("playground-%s", shortID(sessionID))
	resp, err := d.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}

	if err := d.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("start container: %w", err)
	}

	return resp.ID, nil
}

// Describe inspects the container. A missing container maps to
// StateGone rather than an error so lookups stay retry-safe.
func (d *Docker) Describe(ctx context.Context, instanceID string) (Description, error) {
	inspect, err := d.client.ContainerInspect(ctx, instanceID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return Description{State: StateGone}, nil
		}
		return Description{}, fmt.Errorf("inspect container: %w", err)
	}

	desc := Description{State: StatePending}
	if inspect.State != nil {
		switch {
		case inspect.State.Running:
			desc.State = StateRunning
		case inspect.State.Dead || inspect.State.Status == "exited":
			desc.State = StateStopped
		}
	}

	if desc.State == StateRunning && inspect.NetworkSettings != nil {
		if bindings := inspect.NetworkSettings.Ports[d.port]; len(bindings) > 0 {
			desc.Address = fmt.Sprintf("%s:%s", d.host, bindings[0].HostPort)
		}
	}

	return desc, nil
}

// Terminate stops and removes the container. Termination of an already
// removed container is a success.
func (d *Docker) Terminate(ctx context.Context, instanceID string) error {
	stopTimeout := 10
	err := d.client.ContainerStop(ctx, instanceID, container.StopOptions{Timeout: &stopTimeout})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("stop container: %w", err)
	}

	err = d.client.ContainerRemove(ctx, instanceID, container.RemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("remove container: %w", err)
	}

	return nil
}

// WaitUntilRunning polls the container until it reports running or the
// timeout elapses.
func (d *Docker) WaitUntilRunning(ctx context.Context, instanceID string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(d.pollEach)
	defer ticker.Stop()

	for {
		desc, err := d.Describe(ctx, instanceID)
		if err != nil {
			return err
		}
		if desc.State == StateRunning {
			return nil
		}

		if !time.Now().Before(deadline) {
			return ErrWaitDeadline
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close releases the Docker client.
func (d *Docker) Close() error {
	return d.client.Close()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
