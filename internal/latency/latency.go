// Package latency models the access cost of the simulated NIC's storage
// hierarchy. Resources live in one of three tiers and every access to a tier
// pays that tier's configured delay, reproducing the performance cliff that
// appears when on-NIC resources are exhausted.
//
// The model is an explicit handle shared by every device built from it, not
// a process global, so parallel tests can each run their own configuration.
package latency

import (
	"sync/atomic"
	"time"
)

// Tier identifies one level of the simulated storage hierarchy.
type Tier int

const (
	// TierDevice is the bounded on-NIC resource table.
	TierDevice Tier = iota
	// TierMiddle is the bounded overflow cache used once the device tier
	// is full.
	TierMiddle
	// TierHost is the unbounded host-swap fallback used when the middle
	// cache is disabled (or when an eviction demotes an entry).
	TierHost
)

// String returns the tier name used in logs and metric labels.
func (t Tier) String() string {
	switch t {
	case TierDevice:
		return "device"
	case TierMiddle:
		return "middle"
	case TierHost:
		return "host"
	default:
		return "unknown"
	}
}

// Mode is a point-in-time view of the simulation parameters.
type Mode struct {
	EnableMiddleCache bool  `json:"enableMiddleCache"`
	DeviceDelayNs     int64 `json:"deviceDelayNs"`
	MiddleDelayNs     int64 `json:"middleDelayNs"`
	HostDelayNs       int64 `json:"hostDelayNs"`
}

// Model holds the per-tier delays and the middle-cache switch. All fields
// are updated atomically; readers on the data path never take a lock.
type Model struct {
	middleEnabled atomic.Bool
	deviceDelayNs atomic.Int64
	middleDelayNs atomic.Int64
	hostDelayNs   atomic.Int64
}

// NewModel returns a model with zero delays and the middle cache enabled.
func NewModel() *Model {
	m := &Model{}
	m.middleEnabled.Store(true)
	return m
}

// SetSimulationMode reconfigures every parameter at once. It takes effect
// immediately for all devices sharing this model.
func (m *Model) SetSimulationMode(enableMiddleCache bool, hostDelayNs, deviceDelayNs, middleDelayNs int64) {
	m.middleEnabled.Store(enableMiddleCache)
	m.hostDelayNs.Store(hostDelayNs)
	m.deviceDelayNs.Store(deviceDelayNs)
	m.middleDelayNs.Store(middleDelayNs)
}

// MiddleEnabled reports whether overflow goes to the middle cache rather
// than straight to host swap.
func (m *Model) MiddleEnabled() bool {
	return m.middleEnabled.Load()
}

// Delay returns the configured access delay for a tier.
func (m *Model) Delay(t Tier) time.Duration {
	var ns int64
	switch t {
	case TierDevice:
		ns = m.deviceDelayNs.Load()
	case TierMiddle:
		ns = m.middleDelayNs.Load()
	case TierHost:
		ns = m.hostDelayNs.Load()
	}
	return time.Duration(ns)
}

// Apply sleeps for the tier's delay. Zero-delay tiers return immediately
// without touching the scheduler.
func (m *Model) Apply(t Tier) {
	if d := m.Delay(t); d > 0 {
		time.Sleep(d)
	}
}

// Snapshot returns the current parameters.
func (m *Model) Snapshot() Mode {
	return Mode{
		EnableMiddleCache: m.middleEnabled.Load(),
		DeviceDelayNs:     m.deviceDelayNs.Load(),
		MiddleDelayNs:     m.middleDelayNs.Load(),
		HostDelayNs:       m.hostDelayNs.Load(),
	}
}
