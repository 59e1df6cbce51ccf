// Package docker provides the container runtime client for the
// deployment pipeline.
package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/go-connections/nat"
)

// =============================================================================
// Docker Client Implementation
// =============================================================================

// DockerClient implements Client using the Docker SDK.
type DockerClient struct {
	cli *client.Client
}

// NewDockerClient creates a new Docker client. If host is empty, the
// default Docker host from the environment is used.
func NewDockerClient(host string) (*DockerClient, error) {
	opts := []client.Opt{
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, NewDockerError("NewDockerClient", "", "", "failed to create client", ErrConnectionFailed)
	}

	return &DockerClient{cli: cli}, nil
}

// Ping checks if the Docker daemon is reachable.
func (d *DockerClient) Ping() error {
	if _, err := d.cli.Ping(context.Background()); err != nil {
		return NewDockerError("Ping", "", "", fmt.Sprintf("failed to ping docker: %v", err), ErrConnectionFailed)
	}
	return nil
}

// Close closes the Docker client connection.
func (d *DockerClient) Close() error {
	return d.cli.Close()
}

// =============================================================================
// Image Operations
// =============================================================================

// BuildImage builds an image from the context directory using its
// Dockerfile. A non-zero build result is returned as ErrImageBuildFailed;
// callers treat it as fatal and never promote the image further.
func (d *DockerClient) BuildImage(ctx context.Context, contextDir, tag string, buildArgs map[string]*string, networkMode string) error {
	buildCtx, err := archive.TarWithOptions(contextDir, &archive.TarOptions{})
	if err != nil {
		return NewDockerError("BuildImage", "image", tag, fmt.Sprintf("failed to create build context: %v", err), err)
	}
	defer buildCtx.Close()

	opts := build.ImageBuildOptions{
		Tags:        []string{tag},
		Remove:      true,
		ForceRemove: true,
		BuildArgs:   buildArgs,
		NetworkMode: networkMode,
	}

	resp, err := d.cli.ImageBuild(ctx, buildCtx, opts)
	if err != nil {
		return NewDockerError("BuildImage", "image", tag, err.Error(), ErrImageBuildFailed)
	}
	defer resp.Body.Close()

	// The build result arrives as a JSON message stream; a message with
	// an error field means the build failed even though the HTTP call
	// succeeded.
	if err := drainBuildOutput(resp.Body); err != nil {
		return NewDockerError("BuildImage", "image", tag, err.Error(), ErrImageBuildFailed)
	}

	return nil
}

// buildMessage is one JSON message of the image build output stream.
type buildMessage struct {
	Stream      string `json:"stream"`
	Error       string `json:"error"`
	ErrorDetail struct {
		Message string `json:"message"`
	} `json:"errorDetail"`
}

func drainBuildOutput(r io.Reader) error {
	decoder := json.NewDecoder(r)
	for {
		var msg buildMessage
		if err := decoder.Decode(&msg); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("decode build output: %w", err)
		}
		if msg.Error != "" {
			return fmt.Errorf("%s", msg.Error)
		}
		if msg.ErrorDetail.Message != "" {
			return fmt.Errorf("%s", msg.ErrorDetail.Message)
		}
	}
}

// InspectImage returns the exposed ports and working directory declared
// by an image.
func (d *DockerClient) InspectImage(ctx context.Context, tag string) (*ImageInfo, error) {
	resp, _, err := d.cli.ImageInspectWithRaw(ctx, tag)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, NewDockerError("InspectImage", "image", tag, "image not found", ErrImageNotFound)
		}
		return nil, NewDockerError("InspectImage", "image", tag, err.Error(), err)
	}

	info := &ImageInfo{}
	if resp.Config != nil {
		info.WorkingDir = resp.Config.WorkingDir
		for portProto := range resp.Config.ExposedPorts {
			if p, err := nat.ParsePort(nat.Port(portProto).Port()); err == nil && p > 0 {
				info.ExposedPorts = append(info.ExposedPorts, p)
			}
		}
	}

	return info, nil
}

// RemoveImage removes an image by tag. A missing image is treated as
// already removed.
func (d *DockerClient) RemoveImage(ctx context.Context, tag string) error {
	_, err := d.cli.ImageRemove(ctx, tag, image.RemoveOptions{Force: true, PruneChildren: true})
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return NewDockerError("RemoveImage", "image", tag, err.Error(), err)
	}
	return nil
}

// =============================================================================
// Container Operations
// =============================================================================

// RunContainer creates and starts the application container.
func (d *DockerClient) RunContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	containerPort := nat.Port(fmt.Sprintf("%d/tcp", spec.ContainerPort))

	config := &container.Config{
		Image: spec.Image,
		Env:   spec.Env,
		ExposedPorts: nat.PortSet{
			containerPort: struct{}{},
		},
	}

	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			containerPort: []nat.PortBinding{
				{
					// Published on loopback only; the reverse proxy is
					// the public surface.
					HostIP:   "127.0.0.1",
					HostPort: fmt.Sprintf("%d", spec.HostPort),
				},
			},
		},
		RestartPolicy: container.RestartPolicy{
			Name: container.RestartPolicyAlways,
		},
	}

	if spec.VolumeName != "" && spec.VolumeTarget != "" {
		hostConfig.Mounts = append(hostConfig.Mounts, mount.Mount{
			Type:   mount.TypeVolume,
			Source: spec.VolumeName,
			Target: spec.VolumeTarget,
		})
	}

	var networkConfig *network.NetworkingConfig
	if len(spec.Networks) > 0 {
		networkConfig = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{},
		}
		for _, n := range spec.Networks {
			networkConfig.EndpointsConfig[n] = &network.EndpointSettings{}
		}
	}

	resp, err := d.cli.ContainerCreate(ctx, config, hostConfig, networkConfig, nil, spec.Name)
	if err != nil {
		if strings.Contains(err.Error(), "port is already allocated") {
			return "", NewDockerError("RunContainer", "container", spec.Name, err.Error(), ErrPortAlreadyAllocated)
		}
		return "", NewDockerError("RunContainer", "container", spec.Name, err.Error(), err)
	}

	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", NewDockerError("RunContainer", "container", spec.Name, err.Error(), err)
	}

	return resp.ID, nil
}

// StopContainer stops a container by name.
func (d *DockerClient) StopContainer(ctx context.Context, name string, timeout *time.Duration) error {
	stopOptions := container.StopOptions{}
	if timeout != nil {
		seconds := int(timeout.Seconds())
		stopOptions.Timeout = &seconds
	}

	err := d.cli.ContainerStop(ctx, name, stopOptions)
	if err != nil {
		if client.IsErrNotFound(err) {
			return NewDockerError("StopContainer", "container", name, "container not found", ErrContainerNotFound)
		}
		if strings.Contains(err.Error(), "is not running") {
			return NewDockerError("StopContainer", "container", name, "container is not running", ErrContainerNotRunning)
		}
		return NewDockerError("StopContainer", "container", name, err.Error(), err)
	}
	return nil
}

// RemoveContainer force-removes a container by name. A missing
// container is treated as already removed.
func (d *DockerClient) RemoveContainer(ctx context.Context, name string) error {
	err := d.cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: true})
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return NewDockerError("RemoveContainer", "container", name, err.Error(), err)
	}
	return nil
}

// =============================================================================
// Volume Operations
// =============================================================================

// CreateVolume creates a named persistent volume. Volume creation is
// idempotent in the runtime: creating an existing name returns the
// existing volume.
func (d *DockerClient) CreateVolume(ctx context.Context, name string) error {
	_, err := d.cli.VolumeCreate(ctx, volume.CreateOptions{
		Name:   name,
		Driver: "local",
	})
	if err != nil {
		return NewDockerError("CreateVolume", "volume", name, err.Error(), err)
	}
	return nil
}

// InspectVolume resolves the host mountpoint backing a volume.
func (d *DockerClient) InspectVolume(ctx context.Context, name string) (*VolumeInfo, error) {
	vol, err := d.cli.VolumeInspect(ctx, name)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, NewDockerError("InspectVolume", "volume", name, "volume not found", ErrVolumeNotFound)
		}
		return nil, NewDockerError("InspectVolume", "volume", name, err.Error(), err)
	}

	return &VolumeInfo{
		Name:       vol.Name,
		Mountpoint: vol.Mountpoint,
	}, nil
}

// RemoveVolume removes a named volume. A missing volume is treated as
// already removed.
func (d *DockerClient) RemoveVolume(ctx context.Context, name string, force bool) error {
	err := d.cli.VolumeRemove(ctx, name, force)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return NewDockerError("RemoveVolume", "volume", name, err.Error(), err)
	}
	return nil
}
