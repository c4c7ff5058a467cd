package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/piwi3910/rnicsim/pkg/simtypes"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": Version})
}

func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	list := simtypes.DeviceList{Devices: make([]simtypes.DeviceStatus, 0, len(s.devices))}
	for _, dev := range s.devices {
		list.Devices = append(list.Devices, dev.Stats())
	}

	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	for _, dev := range s.devices {
		if dev.ID() == id {
			writeJSON(w, http.StatusOK, dev.Stats())
			return
		}
	}

	writeError(w, http.StatusNotFound, "device not found", "NotFound")
}

func (s *Server) handleGetSimulation(w http.ResponseWriter, _ *http.Request) {
	mode := s.model.Snapshot()
	writeJSON(w, http.StatusOK, simtypes.SimulationMode{
		EnableMiddleCache: mode.EnableMiddleCache,
		DeviceDelayNs:     mode.DeviceDelayNs,
		MiddleDelayNs:     mode.MiddleDelayNs,
		HostDelayNs:       mode.HostDelayNs,
	})
}

func (s *Server) handlePutSimulation(w http.ResponseWriter, r *http.Request) {
	var mode simtypes.SimulationMode
	if err := json.NewDecoder(r.Body).Decode(&mode); err != nil {
		writeError(w, http.StatusBadRequest, "invalid simulation mode: "+err.Error(), "InvalidArgument")
		return
	}

	if mode.DeviceDelayNs < 0 || mode.MiddleDelayNs < 0 || mode.HostDelayNs < 0 {
		writeError(w, http.StatusBadRequest, "delays cannot be negative", "InvalidArgument")
		return
	}

	s.model.SetSimulationMode(mode.EnableMiddleCache, mode.HostDelayNs, mode.DeviceDelayNs, mode.MiddleDelayNs)

	log.Info().
		Bool("middle_cache", mode.EnableMiddleCache).
		Int64("device_delay_ns", mode.DeviceDelayNs).
		Int64("middle_delay_ns", mode.MiddleDelayNs).
		Int64("host_delay_ns", mode.HostDelayNs).
		Msg("Simulation mode updated")

	s.handleGetSimulation(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, simtypes.ErrorResponse{Error: msg, Code: code})
}
