package services

import (
	"sync"

	"github.com/ccm-sh/ccm/internal/models"
)

// PortAllocator hands out TCP ports from a bounded contiguous range.
// Leases are process-local and reset on restart: surviving gateways are
// restarted on demand, which reseeds their ports.
type PortAllocator struct {
	mu        sync.Mutex
	startPort int
	maxPort   int
	leases    map[int]string // port -> session ID
}

// NewPortAllocator creates an allocator over [startPort, maxPort].
func NewPortAllocator(startPort, maxPort int) *PortAllocator {
	return &PortAllocator{
		startPort: startPort,
		maxPort:   maxPort,
		leases:    make(map[int]string),
	}
}

// Acquire leases the lowest free port for sessionID. Released ports are
// reused on later calls. Fails with NoFreePort when the whole range is
// held.
func (p *PortAllocator) Acquire(sessionID string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for port := p.startPort; port <= p.maxPort; port++ {
		if _, held := p.leases[port]; held {
			continue
		}
		p.leases[port] = sessionID
		return port, nil
	}
	return 0, models.Errorf(models.ErrNoFreePort, "no free port in range %d-%d", p.startPort, p.maxPort)
}

// Release returns a port to the pool. Releasing an unleased port is a
// no-op.
func (p *PortAllocator) Release(port int) {
	p.mu.Lock()
	delete(p.leases, port)
	p.mu.Unlock()
}

// LeaseOf reports which session holds a port.
func (p *PortAllocator) LeaseOf(port int) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sid, ok := p.leases[port]
	return sid, ok
}

// Leases returns a snapshot of the current port -> session mapping.
func (p *PortAllocator) Leases() map[int]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[int]string, len(p.leases))
	for port, sid := range p.leases {
		out[port] = sid
	}
	return out
}
