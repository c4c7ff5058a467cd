// Package simtypes defines the JSON types exchanged between the RNICSim
// admin API and its clients (the CLI and external tooling).
package simtypes

import "time"

// TierOccupancy breaks a resource count down by storage tier.
type TierOccupancy struct {
	Device int `json:"device"`
	Middle int `json:"middle"`
	Host   int `json:"host"`
}

// ResourceStats describes one resource kind on a device.
type ResourceStats struct {
	Total int           `json:"total"`
	Tiers TierOccupancy `json:"tiers"`
}

// DeviceStatus is the admin API view of one simulated device.
type DeviceStatus struct {
	ID        string        `json:"id"`
	CreatedAt time.Time     `json:"createdAt"`
	QPs       ResourceStats `json:"qps"`
	CQs       ResourceStats `json:"cqs"`
	MRs       ResourceStats `json:"mrs"`
	PDs       ResourceStats `json:"pds"`
}

// DeviceList is the response of GET /api/v1/devices.
type DeviceList struct {
	Devices []DeviceStatus `json:"devices"`
}

// SimulationMode mirrors the latency model parameters over the admin API.
type SimulationMode struct {
	EnableMiddleCache bool  `json:"enableMiddleCache"`
	DeviceDelayNs     int64 `json:"deviceDelayNs"`
	MiddleDelayNs     int64 `json:"middleDelayNs"`
	HostDelayNs       int64 `json:"hostDelayNs"`
}

// ErrorResponse is the admin API error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
