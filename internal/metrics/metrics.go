// Package metrics exposes Prometheus counters for the chat client.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics groups the client's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	wsConnects     *prometheus.CounterVec
	wsFramesIn     *prometheus.CounterVec
	wsFramesOut    *prometheus.CounterVec
	wsDroppedSends prometheus.Counter
	chatAcks       *prometheus.CounterVec
	chatSendFailed *prometheus.CounterVec
	notifications  *prometheus.CounterVec
}

// New builds the collectors and registers them on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		wsConnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "frontdesk_ws_connects_total",
				Help: "Chat socket connection attempts by result.",
			},
			[]string{"result"},
		),
		wsFramesIn: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "frontdesk_ws_frames_received_total",
				Help: "Inbound chat frames by envelope type.",
			},
			[]string{"type"},
		),
		wsFramesOut: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "frontdesk_ws_frames_sent_total",
				Help: "Outbound chat frames by envelope type.",
			},
			[]string{"type"},
		),
		wsDroppedSends: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "frontdesk_ws_dropped_sends_total",
				Help: "Outbound frames dropped because the socket was not connected.",
			},
		),
		chatAcks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "frontdesk_chat_acknowledgments_total",
				Help: "Server acknowledgments by status.",
			},
			[]string{"status"},
		),
		chatSendFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "frontdesk_chat_send_failures_total",
				Help: "Optimistic messages that ended in a failed state, by reason.",
			},
			[]string{"reason"},
		),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "frontdesk_notifications_total",
				Help: "Notifications raised by category.",
			},
			[]string{"category"},
		),
	}
	m.registry.MustRegister(
		m.wsConnects,
		m.wsFramesIn,
		m.wsFramesOut,
		m.wsDroppedSends,
		m.chatAcks,
		m.chatSendFailed,
		m.notifications,
	)
	return m
}

// Registry returns the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) IncConnect(result string) {
	if m == nil {
		return
	}
	m.wsConnects.WithLabelValues(result).Inc()
}

func (m *Metrics) IncFrameIn(typ string) {
	if m == nil {
		return
	}
	m.wsFramesIn.WithLabelValues(typ).Inc()
}

func (m *Metrics) IncFrameOut(typ string) {
	if m == nil {
		return
	}
	m.wsFramesOut.WithLabelValues(typ).Inc()
}

func (m *Metrics) IncDroppedSend() {
	if m == nil {
		return
	}
	m.wsDroppedSends.Inc()
}

func (m *Metrics) IncAck(status string) {
	if m == nil {
		return
	}
	m.chatAcks.WithLabelValues(status).Inc()
}

func (m *Metrics) IncSendFailed(reason string) {
	if m == nil {
		return
	}
	m.chatSendFailed.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncNotification(category string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(category).Inc()
}

// Server serves /metrics on a TCP address.
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

// NewServer returns a metrics HTTP server for addr. Start is a no-op when
// addr is empty.
func NewServer(addr string, m *Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	return &Server{
		srv:    &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		logger: logger,
	}
}

// Start serves in the background.
func (s *Server) Start() {
	if s.srv.Addr == "" {
		return
	}
	go func() {
		s.logger.Info("metrics server starting", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server error", zap.Error(err))
		}
	}()
}

// Stop shuts the server down.
func (s *Server) Stop(ctx context.Context) {
	if s.srv.Addr == "" {
		return
	}
	_ = s.srv.Shutdown(ctx)
}
