package deploy

import "errors"

// ErrNoExposedPort is returned when the image declares no exposed port
// and the caller did not pin one.
var ErrNoExposedPort = errors.New("image exposes no port")

// =============================================================================
// Published Port Selection
// =============================================================================

// PublishedPort decides which container port the proxy targets.
//
// A pinned port always wins. Otherwise the lowest port the image
// declares is used. Exactly one published port per deployment is
// supported; images exposing several ports have all but the selected
// one ignored. This is a known limitation, not silent behavior: the
// selection is deterministic.
func PublishedPort(pinned int, exposed []int) (int, error) {
	if pinned > 0 {
		return pinned, nil
	}

	port := 0
	for _, p := range exposed {
		if p <= 0 {
			continue
		}
		if port == 0 || p < port {
			port = p
		}
	}

	if port == 0 {
		return 0, ErrNoExposedPort
	}
	return port, nil
}
