package deploy

import (
	"fmt"
	"strings"

	"github.com/berthd/berth/internal/core/domain"
)

// =============================================================================
// Auxiliary Service Injection
// =============================================================================

// ServiceEnv renders the environment pairs injected for a set of
// auxiliary service bindings. The service name, uppercased, drives both
// variables:
//
//	{NAME}_ROOT_PASSWORD  the generated root credential
//	{NAME}_HOSTNAME       the service's network hostname (its name)
//
// The same pairs are passed as build args at build time and as runtime
// environment at launch. Order follows the input bindings so repeated
// deploys produce identical invocations.
func ServiceEnv(bindings []domain.ServiceBinding) []string {
	if len(bindings) == 0 {
		return nil
	}

	env := make([]string, 0, len(bindings)*2)
	for _, b := range bindings {
		name := strings.ToUpper(b.Name)
		env = append(env,
			fmt.Sprintf("%s_ROOT_PASSWORD=%s", name, b.RootPassword),
			fmt.Sprintf("%s_HOSTNAME=%s", name, b.Name),
		)
	}
	return env
}

// ServiceBuildArgs renders the same pairs as Docker build args.
func ServiceBuildArgs(bindings []domain.ServiceBinding) map[string]*string {
	if len(bindings) == 0 {
		return nil
	}

	args := make(map[string]*string, len(bindings)*2)
	for _, b := range bindings {
		name := strings.ToUpper(b.Name)
		password := b.RootPassword
		hostname := b.Name
		args[name+"_ROOT_PASSWORD"] = &password
		args[name+"_HOSTNAME"] = &hostname
	}
	return args
}

// ServiceNetworks lists the networks the application container joins,
// one per auxiliary service.
func ServiceNetworks(bindings []domain.ServiceBinding) []string {
	if len(bindings) == 0 {
		return nil
	}

	networks := make([]string, 0, len(bindings))
	for _, b := range bindings {
		networks = append(networks, b.Name)
	}
	return networks
}
