package rnic

import (
	"sync"

	"github.com/piwi3910/rnicsim/internal/metrics"
)

// Endpoint locates a live queue pair: the owning device plus the QP number,
// resolved through the device's tiers at time of use. The registry never
// stores a pointer into a device's internal tables, so entries cannot
// dangle when an entry moves between tiers or is erased.
type Endpoint struct {
	DeviceID string
	QPNum    uint32

	dev *Device
}

// Registry is the process-wide table that lets a device deliver payloads to
// queue pairs owned by other device instances. It is an explicit value
// shared between the devices that should see each other, so independent
// tests can run with independent registries.
//
// The registry mutex is the last lock in the fixed cross-device lock order
// and is held only long enough to copy an Endpoint in or out.
type Registry struct {
	mu      sync.Mutex
	entries map[uint32]Endpoint
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[uint32]Endpoint)}
}

// Register records (or refreshes) the owning device of a queue pair. A QP
// is registered whenever it participates in a send or receive.
func (r *Registry) Register(qpNum uint32, dev *Device) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[qpNum]; !ok {
		metrics.RegistryEntries.Inc()
	}

	r.entries[qpNum] = Endpoint{DeviceID: dev.ID(), QPNum: qpNum, dev: dev}
}

// Lookup copies out the endpoint for a queue pair number.
func (r *Registry) Lookup(qpNum uint32) (Endpoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ep, ok := r.entries[qpNum]

	return ep, ok
}

// Unregister drops a queue pair's entry. Called on DestroyQP so the
// registry never outlives the resource it points at.
func (r *Registry) Unregister(qpNum uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[qpNum]; ok {
		delete(r.entries, qpNum)
		metrics.RegistryEntries.Dec()
	}
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.entries)
}
