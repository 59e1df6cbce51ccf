package deploy

import (
	"fmt"
	"path/filepath"
)

// =============================================================================
// Resource Naming Functions
// =============================================================================

// ContainerName generates the container name for a deployment.
// Pattern: berth_{deploymentID}
func ContainerName(deploymentID string) string {
	return fmt.Sprintf("berth_%s", deploymentID)
}

// VolumeName generates the persistent volume name for a deployment.
// Pattern: berth_{deploymentID}_data
func VolumeName(deploymentID string) string {
	return fmt.Sprintf("berth_%s_data", deploymentID)
}

// ImageTag generates the image tag for a deployment.
// Pattern: berth/{deploymentID}:latest
func ImageTag(deploymentID string) string {
	return fmt.Sprintf("berth/%s:latest", deploymentID)
}

// ScratchDir returns the clone/pull checkout directory for a
// deployment. The path is tied to the deployment ID so updates pull
// into the same working tree the original clone produced.
func ScratchDir(baseDir, deploymentID string) string {
	return filepath.Join(baseDir, deploymentID)
}

// ContextDir joins the checkout root with an optional relative build
// path. An empty build path means the repository root is the context.
func ContextDir(scratchDir, buildPath string) string {
	if buildPath == "" {
		return scratchDir
	}
	return filepath.Join(scratchDir, buildPath)
}
