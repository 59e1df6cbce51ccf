// Package deploy provides pure functions for deployment planning.
//
// This package contains the functional core of the pipeline: resource
// naming, auxiliary-service variable injection, and published-port
// selection. All functions are pure (no I/O, no side effects).
//
// The imperative shell (internal/shell/deployer) uses these functions
// to plan a deployment, then executes the plan via the container
// runtime, the VCS client, and the proxy installer.
package deploy
