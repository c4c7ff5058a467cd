// Package server wires the simulated devices, the admin HTTP API and the
// control channel listener into one runnable process.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/piwi3910/rnicsim/internal/config"
	"github.com/piwi3910/rnicsim/internal/control"
	"github.com/piwi3910/rnicsim/internal/latency"
	"github.com/piwi3910/rnicsim/internal/metrics"
	"github.com/piwi3910/rnicsim/internal/rnic"
)

// Version is the current version of RNICSim
const Version = "0.1.0"

// Server is the main RNICSim server
type Server struct {
	cfg *config.Config

	model    *latency.Model
	registry *rnic.Registry
	devices  []*rnic.Device

	adminServer *http.Server
}

// New creates a new RNICSim server: the shared latency model, the shared QP
// registry and the configured number of devices.
func New(cfg *config.Config) (*Server, error) {
	srv := &Server{
		cfg:      cfg,
		model:    latency.NewModel(),
		registry: rnic.NewRegistry(),
	}

	metrics.Init(cfg.NodeID, Version)
	log.Info().Str("node_id", cfg.NodeID).Msg("Metrics initialized")

	srv.model.SetSimulationMode(
		cfg.Simulation.EnableMiddleCache,
		cfg.Simulation.HostDelayNs,
		cfg.Simulation.DeviceDelayNs,
		cfg.Simulation.MiddleDelayNs,
	)

	devCfg := rnic.Config{
		MaxConnections: cfg.Device.MaxConnections,
		MaxQPs:         cfg.Device.MaxQPs,
		MaxCQs:         cfg.Device.MaxCQs,
		MaxMRs:         cfg.Device.MaxMRs,
		MaxPDs:         cfg.Device.MaxPDs,
	}

	for i := 0; i < cfg.Device.Count; i++ {
		srv.devices = append(srv.devices, rnic.NewDevice(devCfg, srv.model, srv.registry))
	}

	srv.setupAdminServer()

	return srv, nil
}

// Devices returns the devices owned by this server.
func (s *Server) Devices() []*rnic.Device {
	return s.devices
}

// Model returns the shared latency model.
func (s *Server) Model() *latency.Model {
	return s.model
}

func (s *Server) setupAdminServer() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check handlers
	r.Get("/health", s.handleHealth)
	r.Get("/health/live", s.handleHealth)
	r.Get("/health/ready", s.handleHealth)

	// Prometheus metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/devices", s.handleListDevices)
		r.Get("/devices/{id}", s.handleGetDevice)
		r.Get("/simulation", s.handleGetSimulation)
		r.Put("/simulation", s.handlePutSimulation)
	})

	s.adminServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.AdminPort),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

// Start runs the admin server and, when enabled, the control channel
// listener, until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	// Start Admin server
	g.Go(func() error {
		log.Info().Int("port", s.cfg.AdminPort).Msg("Starting Admin API server")
		log.Info().Int("port", s.cfg.AdminPort).Msg("Prometheus metrics available at /metrics")
		if err := s.adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin server error: %w", err)
		}
		return nil
	})

	// Start control channel listener
	if s.cfg.Control.Enabled {
		g.Go(func() error {
			return s.runControlServer(ctx)
		})
	}

	// Wait for shutdown signal
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("Shutting down servers...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := s.adminServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error shutting down Admin server")
		}

		for _, dev := range s.devices {
			dev.Close()
		}

		return nil
	})

	return g.Wait()
}

// runControlServer accepts one control channel peer at a time and runs the
// parameter exchange against a freshly created QP on the first device.
func (s *Server) runControlServer(ctx context.Context) error {
	log.Info().Int("port", s.cfg.Control.Port).Msg("Starting control channel listener")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		ch := control.NewChannel()
		if err := ch.StartServer(uint16(s.cfg.Control.Port)); err != nil {
			return fmt.Errorf("control listener: %w", err)
		}

		err := ch.Accept(s.cfg.Control.AcceptTimeout)
		if err != nil {
			ch.Close()
			if errors.Is(err, control.ErrTimeout) {
				continue
			}
			return fmt.Errorf("control accept: %w", err)
		}

		if err := s.serveControlPeer(ch); err != nil {
			log.Warn().Err(err).Str("peer", ch.PeerAddr()).Msg("Control channel exchange failed")
		}

		ch.Close()
	}
}

// serveControlPeer creates a local QP, brings it to RTS and exchanges its
// parameters with the connected peer.
func (s *Server) serveControlPeer(ch *control.Channel) error {
	dev := s.devices[0]

	sendCQ := dev.CreateCQ(64)
	recvCQ := dev.CreateCQ(64)
	if sendCQ == 0 || recvCQ == 0 {
		if err := ch.SendError("completion queue allocation failed"); err != nil {
			return err
		}
		return errors.New("completion queue allocation failed")
	}

	qpNum := dev.CreateQP(64, 64, sendCQ, recvCQ)
	if qpNum == 0 {
		if err := ch.SendError("queue pair allocation failed"); err != nil {
			return err
		}
		return errors.New("queue pair allocation failed")
	}

	for _, state := range []rnic.QPState{rnic.StateInit, rnic.StateRTR, rnic.StateRTS} {
		if !dev.ModifyQPState(qpNum, state) {
			return fmt.Errorf("qp %d: transition to %s rejected", qpNum, state)
		}
	}

	local, ok := dev.ConnParams(qpNum)
	if !ok {
		return rnic.ErrQPNotFound
	}

	remote, err := ch.ExchangeAsServer(local, s.cfg.Control.ExchangeTimeout)
	if err != nil {
		return err
	}

	if !dev.ConnectQP(qpNum, remote) {
		return fmt.Errorf("qp %d: connect failed", qpNum)
	}

	log.Info().
		Str("device", dev.ID()).
		Uint32("qp", qpNum).
		Uint32("remote_qp", remote.QPNum).
		Str("peer", ch.PeerAddr()).
		Msg("Control channel exchange complete")

	return nil
}
