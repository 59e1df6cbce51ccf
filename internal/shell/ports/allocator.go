// Package ports allocates host ports for deployments.
package ports

import (
	"errors"
	"fmt"
	"net"
	"sync"
)

// ErrExhausted is returned when no free port can be found.
var ErrExhausted = errors.New("no free port available")

// maxAttempts bounds the bind-and-release retries when a candidate
// port is already reserved by a concurrent allocation.
const maxAttempts = 16

// Allocator hands out unused loopback TCP ports.
//
// Each allocation binds 127.0.0.1:0, takes the kernel-assigned port,
// releases the socket, and records the port in a reservation set. The
// reservation closes the race between two concurrent allocations that
// would otherwise be handed the same freshly-released port before
// either listener starts.
type Allocator struct {
	mu       sync.Mutex
	reserved map[int]struct{}
}

// NewAllocator creates a port allocator.
func NewAllocator() *Allocator {
	return &Allocator{
		reserved: make(map[int]struct{}),
	}
}

// Allocate returns an unused loopback port. Two concurrent calls never
// return the same port.
func (a *Allocator) Allocate() (int, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		port, err := probePort()
		if err != nil {
			return 0, err
		}

		a.mu.Lock()
		if _, taken := a.reserved[port]; !taken {
			a.reserved[port] = struct{}{}
			a.mu.Unlock()
			return port, nil
		}
		a.mu.Unlock()
	}
	return 0, ErrExhausted
}

// Release drops a reservation, letting the port be handed out again.
// Called when a deployment that reserved a port fails before launch.
func (a *Allocator) Release(port int) {
	a.mu.Lock()
	delete(a.reserved, port)
	a.mu.Unlock()
}

// Reserve marks a port as taken without probing, used when loading
// existing deployments whose ports are already bound.
func (a *Allocator) Reserve(port int) {
	a.mu.Lock()
	a.reserved[port] = struct{}{}
	a.mu.Unlock()
}

func probePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("probe free port: %w", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port, nil
}
