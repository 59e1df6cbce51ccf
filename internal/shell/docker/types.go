package docker

import (
	"context"
	"time"
)

// =============================================================================
// Client Interface
// =============================================================================

// Client abstracts the container runtime operations the pipeline needs.
// The orchestrator only ever invokes the runtime; it never reimplements
// any of it.
type Client interface {
	// BuildImage builds an image from the context directory. Build args
	// carry the auxiliary-service credential pairs; networkMode attaches
	// the build to a service network when one is required.
	BuildImage(ctx context.Context, contextDir, tag string, buildArgs map[string]*string, networkMode string) error

	// RunContainer creates and starts a container from the spec,
	// returning the container ID.
	RunContainer(ctx context.Context, spec ContainerSpec) (string, error)

	// StopContainer stops a container by name.
	StopContainer(ctx context.Context, name string, timeout *time.Duration) error

	// RemoveContainer force-removes a container by name. Removing a
	// container that does not exist is not an error.
	RemoveContainer(ctx context.Context, name string) error

	// InspectImage returns the declared exposed ports and working
	// directory of a built image.
	InspectImage(ctx context.Context, tag string) (*ImageInfo, error)

	// RemoveImage removes an image by tag. A missing image is not an
	// error.
	RemoveImage(ctx context.Context, tag string) error

	// CreateVolume creates a named persistent volume. Creating an
	// existing volume is idempotent.
	CreateVolume(ctx context.Context, name string) error

	// InspectVolume resolves a volume's host mountpoint.
	InspectVolume(ctx context.Context, name string) (*VolumeInfo, error)

	// RemoveVolume removes a named volume. A missing volume is not an
	// error.
	RemoveVolume(ctx context.Context, name string, force bool) error

	// Ping checks that the runtime daemon is reachable.
	Ping() error

	// Close releases the client connection.
	Close() error
}

// =============================================================================
// Specs and Info
// =============================================================================

// ContainerSpec describes the single application container of a
// deployment.
type ContainerSpec struct {
	Name          string
	Image         string
	Env           []string
	HostPort      int // bound on 127.0.0.1
	ContainerPort int
	VolumeName    string
	VolumeTarget  string   // in-container mount path (image working dir)
	Networks      []string // auxiliary-service networks to join
}

// ImageInfo is the subset of image metadata the pipeline consumes.
type ImageInfo struct {
	ExposedPorts []int
	WorkingDir   string
}

// VolumeInfo is the subset of volume metadata the pipeline consumes.
type VolumeInfo struct {
	Name       string
	Mountpoint string
}
