// SPDX-FileCopyrightText: © 2025 Katzenpost Developers
// SPDX-License-Identifier: AGPL-3.0-only

// Package instrument exports tunnel metrics to prometheus.
package instrument

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/mixvpn/tunnel"
)

var tunnelStates = []tunnel.State{
	tunnel.Down,
	tunnel.InitializingClient,
	tunnel.EstablishingConnection,
	tunnel.Up,
	tunnel.Disconnecting,
}

// Metrics records tunnel activity in prometheus collectors.
type Metrics struct {
	state             *prometheus.GaugeVec
	transitions       *prometheus.CounterVec
	connectionSeconds prometheus.Gauge
	rx                prometheus.Gauge
	tx                prometheus.Gauge
	messages          *prometheus.CounterVec
	starts            *prometheus.CounterVec
}

// New returns Metrics registered with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		state: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mixvpn_tunnel_state",
				Help: "1 for the current tunnel state, 0 otherwise",
			},
			[]string{"state"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mixvpn_tunnel_transitions_total",
				Help: "Number of tunnel state transitions",
			},
			[]string{"state"},
		),
		connectionSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mixvpn_tunnel_connection_seconds",
				Help: "Seconds the tunnel has been up",
			},
		),
		rx: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mixvpn_tunnel_rx_bytes",
				Help: "Bytes received over the current tunnel",
			},
		),
		tx: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mixvpn_tunnel_tx_bytes",
				Help: "Bytes sent over the current tunnel",
			},
		),
		messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mixvpn_backend_messages_total",
				Help: "Number of backend messages by kind",
			},
			[]string{"kind"},
		),
		starts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mixvpn_start_requests_total",
				Help: "Number of start requests by result",
			},
			[]string{"result"},
		),
	}
	reg.MustRegister(m.state, m.transitions, m.connectionSeconds, m.rx, m.tx, m.messages, m.starts)
	m.TunnelState(tunnel.Down)
	return m
}

// TunnelState records a transition to state.
func (m *Metrics) TunnelState(state tunnel.State) {
	for _, s := range tunnelStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.state.With(prometheus.Labels{"state": s.String()}).Set(v)
	}
	m.transitions.With(prometheus.Labels{"state": state.String()}).Inc()
}

// TunnelStatistics records the current connection's counters.
func (m *Metrics) TunnelStatistics(stats tunnel.Statistics) {
	m.connectionSeconds.Set(float64(stats.ConnectionSeconds))
	m.rx.Set(float64(stats.Rx))
	m.tx.Set(float64(stats.Tx))
}

// BackendMessage counts msg by kind.
func (m *Metrics) BackendMessage(msg tunnel.BackendMessage) {
	var kind string
	switch msg.(type) {
	case *tunnel.Failure:
		kind = "failure"
	case *tunnel.StartFailure:
		kind = "start_failure"
	case *tunnel.BandwidthAlert:
		kind = "bandwidth_alert"
	default:
		kind = "none"
	}
	m.messages.With(prometheus.Labels{"kind": kind}).Inc()
}

// StartResult counts a start request by result.
func (m *Metrics) StartResult(result string) {
	m.starts.With(prometheus.Labels{"result": result}).Inc()
}

// Server exposes the registered metrics via HTTP.
type Server struct {
	log *logging.Logger
	srv *http.Server
}

// StartServer serves the metrics of g on addr under /metrics.
func StartServer(addr string, g prometheus.Gatherer, log *logging.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	s := &Server{
		log: log,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	go func() {
		log.Noticef("Serving metrics on: %v", addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Metrics listener failed: %v", err)
		}
	}()
	return s
}

// Halt stops the metrics listener.
func (s *Server) Halt() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		s.log.Warningf("Failed to stop metrics listener: %v", err)
	}
}
