// Package metrics provides Prometheus metrics collection for RNICSim.
//
// The package exposes metrics at /metrics on the admin port for monitoring:
//
// Resource Metrics:
//   - rnicsim_resources: live resources by device, kind and tier
//   - rnicsim_resource_ids_allocated_total: ids handed out per kind
//   - rnicsim_tier_evictions_total: middle-cache FIFO evictions
//
// Data Path Metrics:
//   - rnicsim_work_requests_total: posted work requests by operation and status
//   - rnicsim_completions_total: completion entries appended per CQ kind
//   - rnicsim_payload_bytes_total: payload bytes delivered between QPs
//   - rnicsim_delivery_gaps_total: signaled completions dropped because the
//     CQ could not be resolved
//
// Use with Prometheus and Grafana to watch the tier-overflow cliff.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Resources tracks live resources by device, kind and tier.
	Resources = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rnicsim_resources",
			Help: "Live resources by device, kind and storage tier",
		},
		[]string{"device", "kind", "tier"},
	)

	// ResourceIDsAllocated counts ids handed out per resource kind.
	ResourceIDsAllocated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rnicsim_resource_ids_allocated_total",
			Help: "Total resource identifiers allocated by kind",
		},
		[]string{"device", "kind"},
	)

	// TierLookups counts tier probes that served a lookup.
	TierLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rnicsim_tier_lookups_total",
			Help: "Lookups served by kind, tier and result",
		},
		[]string{"kind", "tier", "result"},
	)

	// TierEvictions counts FIFO evictions out of the middle cache.
	TierEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rnicsim_tier_evictions_total",
			Help: "Entries demoted from the middle cache to host swap",
		},
		[]string{"kind"},
	)

	// WorkRequests counts posted work requests.
	WorkRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rnicsim_work_requests_total",
			Help: "Posted work requests by operation and status",
		},
		[]string{"operation", "status"},
	)

	// Completions counts completion entries appended to CQs.
	Completions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rnicsim_completions_total",
			Help: "Completion entries appended by direction",
		},
		[]string{"direction"},
	)

	// PayloadBytes counts payload bytes copied between QPs.
	PayloadBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rnicsim_payload_bytes_total",
			Help: "Payload bytes delivered between queue pairs",
		},
	)

	// PendingPayloadOverwrites counts buffered payloads replaced before
	// a receive consumed them.
	PendingPayloadOverwrites = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rnicsim_pending_payload_overwrites_total",
			Help: "Pending payloads overwritten before being consumed",
		},
	)

	// DeliveryGaps counts signaled completions that were dropped because
	// their CQ could not be resolved in any tier.
	DeliveryGaps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rnicsim_delivery_gaps_total",
			Help: "Signaled completions dropped due to unresolvable CQs",
		},
	)

	// RegistryEntries tracks live cross-device registry entries.
	RegistryEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rnicsim_registry_entries",
			Help: "Live entries in the cross-device QP registry",
		},
	)

	// DevicesTotal tracks devices currently open in this process.
	DevicesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rnicsim_devices",
			Help: "Devices currently open",
		},
	)

	// NodeInfo provides information about this process.
	NodeInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rnicsim_node_info",
			Help: "Node information",
		},
		[]string{"node_id", "version"},
	)
)

// Init initializes metrics with node information.
func Init(nodeID, version string) {
	NodeInfo.WithLabelValues(nodeID, version).Set(1)
}
