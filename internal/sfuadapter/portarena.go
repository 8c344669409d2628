package sfuadapter

import (
	"errors"
	"sync"
)

// ErrPortsExhausted is returned when a PortArena has no free port left in
// its configured range.
var ErrPortsExhausted = errors.New("sfuadapter: udp port range exhausted")

// PortArena allocates and releases UDP ports from a fixed, inclusive range.
// Allocation is O(n) in the size of the range, which is acceptable for the
// small forking ranges this server manages.
type PortArena struct {
	mu     sync.Mutex
	min    int
	max    int
	inUse  map[int]bool
}

// NewPortArena constructs an arena covering [min, max] inclusive.
func NewPortArena(min, max int) *PortArena {
	return &PortArena{
		min:   min,
		max:   max,
		inUse: make(map[int]bool),
	}
}

// Allocate returns the first free port in the range. When rtcpMux is false
// the adjacent port+1 is reserved alongside it for RTCP. Returns
// ErrPortsExhausted if no (pair of) free ports remain.
func (a *PortArena) Allocate(rtcpMux bool) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for p := a.min; p <= a.max; p++ {
		if a.inUse[p] {
			continue
		}
		if rtcpMux {
			a.inUse[p] = true
			return p, nil
		}
		if p+1 > a.max || a.inUse[p+1] {
			continue
		}
		a.inUse[p] = true
		a.inUse[p+1] = true
		return p, nil
	}
	return 0, ErrPortsExhausted
}

// Release returns port (and, for non-mux allocations, port+1) to the free
// pool. Releasing a port not currently allocated is a no-op.
func (a *PortArena) Release(port int, rtcpMux bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.inUse, port)
	if !rtcpMux {
		delete(a.inUse, port+1)
	}
}

// InUseCount reports how many ports are currently allocated, for stats and
// tests.
func (a *PortArena) InUseCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.inUse)
}
