// Package tiering implements the three-tier storage hierarchy backing every
// resource table of a simulated NIC device.
//
// Placement happens at creation time: entries land in the bounded
// device-resident tier while it has room, overflow into the bounded middle
// cache once the device tier is full, and fall through to the unbounded
// host-swap tier when the middle cache is disabled. When the middle cache
// itself fills up, the oldest entry (insertion order, deliberately not LRU)
// is demoted to host swap to make room.
//
// Every access pays the configured latency of the tier that serves it, which
// is what produces the simulated performance cliff on overflow.
package tiering

import (
	"github.com/rs/zerolog/log"

	"github.com/piwi3910/rnicsim/internal/latency"
	"github.com/piwi3910/rnicsim/internal/metrics"
)

// Store is a three-tier table of resources keyed by their device-scoped id.
//
// Store performs no locking of its own: each resource kind is guarded by its
// device's per-kind mutex, and cross-device delivery must be able to take
// the destination device's mutex without re-entering the store's.
type Store[T any] struct {
	kind        string
	model       *latency.Model
	deviceCap   int
	middleCap   int
	device      map[uint32]T
	middle      map[uint32]T
	middleOrder []uint32
	host        map[uint32]T
}

// NewStore creates a store for one resource kind. kind is used only for
// logging and metric labels. middleCap bounds the middle cache; the host
// tier is unbounded.
func NewStore[T any](kind string, deviceCap, middleCap int, model *latency.Model) *Store[T] {
	return &Store[T]{
		kind:      kind,
		model:     model,
		deviceCap: deviceCap,
		middleCap: middleCap,
		device:    make(map[uint32]T),
		middle:    make(map[uint32]T),
		host:      make(map[uint32]T),
	}
}

// Put places a new entry, choosing the tier by current occupancy, and
// returns the tier that received it. The chosen tier's access delay is paid
// before returning.
func (s *Store[T]) Put(id uint32, value T) latency.Tier {
	if len(s.device) < s.deviceCap {
		s.model.Apply(latency.TierDevice)
		s.device[id] = value
		return latency.TierDevice
	}

	if !s.model.MiddleEnabled() {
		s.model.Apply(latency.TierHost)
		s.host[id] = value
		return latency.TierHost
	}

	if len(s.middle) >= s.middleCap {
		s.evictOldest()
	}

	s.model.Apply(latency.TierMiddle)
	s.middle[id] = value
	s.middleOrder = append(s.middleOrder, id)

	return latency.TierMiddle
}

// evictOldest demotes the middle cache's oldest entry to host swap. The
// entry stays retrievable; only its access cost changes.
func (s *Store[T]) evictOldest() {
	for len(s.middleOrder) > 0 {
		victim := s.middleOrder[0]
		s.middleOrder = s.middleOrder[1:]

		value, ok := s.middle[victim]
		if !ok {
			// Removed since insertion; the order slice is lazily pruned.
			continue
		}

		delete(s.middle, victim)
		s.host[victim] = value
		metrics.TierEvictions.WithLabelValues(s.kind).Inc()
		log.Debug().
			Str("kind", s.kind).
			Uint32("id", victim).
			Msg("Demoted middle-cache entry to host swap")

		return
	}
}

// Get looks an entry up through the tier hierarchy: device first, then the
// middle cache when enabled, then host swap. Latency is paid only on the
// tier that actually serves the hit.
func (s *Store[T]) Get(id uint32) (T, latency.Tier, bool) {
	if v, ok := s.device[id]; ok {
		s.model.Apply(latency.TierDevice)
		metrics.TierLookups.WithLabelValues(s.kind, "device", "hit").Inc()
		return v, latency.TierDevice, true
	}

	if s.model.MiddleEnabled() {
		if v, ok := s.middle[id]; ok {
			s.model.Apply(latency.TierMiddle)
			metrics.TierLookups.WithLabelValues(s.kind, "middle", "hit").Inc()
			return v, latency.TierMiddle, true
		}
	}

	if v, ok := s.host[id]; ok {
		s.model.Apply(latency.TierHost)
		metrics.TierLookups.WithLabelValues(s.kind, "host", "hit").Inc()
		return v, latency.TierHost, true
	}

	var zero T
	metrics.TierLookups.WithLabelValues(s.kind, "none", "miss").Inc()

	return zero, 0, false
}

// Update writes a new value for an existing entry into the tier that
// currently holds it, paying that tier's access delay. Tier membership does
// not change. Returns false if the id is not present in any tier.
func (s *Store[T]) Update(id uint32, value T) bool {
	if _, ok := s.device[id]; ok {
		s.model.Apply(latency.TierDevice)
		s.device[id] = value
		return true
	}

	if _, ok := s.middle[id]; ok {
		s.model.Apply(latency.TierMiddle)
		s.middle[id] = value
		return true
	}

	if _, ok := s.host[id]; ok {
		s.model.Apply(latency.TierHost)
		s.host[id] = value
		return true
	}

	return false
}

// Remove deletes an entry from whichever tier holds it. After Remove,
// Get(id) fails in every tier. Returns the tier it was removed from.
func (s *Store[T]) Remove(id uint32) (latency.Tier, bool) {
	if _, ok := s.device[id]; ok {
		delete(s.device, id)
		return latency.TierDevice, true
	}

	if _, ok := s.middle[id]; ok {
		delete(s.middle, id)
		// The stale middleOrder slot is skipped at eviction time.
		return latency.TierMiddle, true
	}

	if _, ok := s.host[id]; ok {
		delete(s.host, id)
		return latency.TierHost, true
	}

	return 0, false
}

// TierOf reports which tier currently holds id, without paying any latency.
func (s *Store[T]) TierOf(id uint32) (latency.Tier, bool) {
	if _, ok := s.device[id]; ok {
		return latency.TierDevice, true
	}

	if _, ok := s.middle[id]; ok {
		return latency.TierMiddle, true
	}

	if _, ok := s.host[id]; ok {
		return latency.TierHost, true
	}

	return 0, false
}

// Len returns the number of live entries across all tiers.
func (s *Store[T]) Len() int {
	return len(s.device) + len(s.middle) + len(s.host)
}

// TierLen returns the number of entries in one tier.
func (s *Store[T]) TierLen(t latency.Tier) int {
	switch t {
	case latency.TierDevice:
		return len(s.device)
	case latency.TierMiddle:
		return len(s.middle)
	case latency.TierHost:
		return len(s.host)
	default:
		return 0
	}
}
