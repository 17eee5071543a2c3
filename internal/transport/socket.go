// Package transport owns the single chat WebSocket connection.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lobbybee/frontdesk/internal/envelope"
	"github.com/lobbybee/frontdesk/internal/metrics"
	"github.com/lobbybee/frontdesk/internal/status"
)

// ErrNotConnected is returned by Send when no connection is open. It is not
// fatal: the frame is dropped and the caller decides what to surface.
var ErrNotConnected = errors.New("chat socket not connected")

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	closeGrace              = time.Second
)

// Handler receives every decoded inbound envelope.
type Handler func(envelope.Inbound)

// Socket maintains at most one live connection to the chat endpoint.
// Frames are delivered to the handler one at a time, in arrival order.
type Socket struct {
	endpoint string
	dialer   *websocket.Dialer
	machine  *status.Machine
	metrics  *metrics.Metrics
	logger   *zap.Logger

	writeTimeout time.Duration

	mu      sync.Mutex
	conn    *websocket.Conn
	done    chan struct{}
	handler Handler

	writeMu sync.Mutex
}

// Option customizes a Socket.
type Option func(*Socket)

// WithDialer replaces the default websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(s *Socket) { s.dialer = d }
}

// WithMetrics records frame and connection counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Socket) { s.metrics = m }
}

// WithWriteTimeout bounds each frame write.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Socket) { s.writeTimeout = d }
}

// New creates a socket for endpoint. It does not connect.
func New(endpoint string, machine *status.Machine, logger *zap.Logger, opts ...Option) *Socket {
	if logger == nil {
		logger = zap.NewNop()
	}
	if machine == nil {
		machine = status.NewMachine(nil)
	}
	s := &Socket{
		endpoint: endpoint,
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: defaultHandshakeTimeout,
		},
		machine:      machine,
		logger:       logger,
		writeTimeout: defaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect opens the connection using token as the query credential. It is a
// no-op while a connection is open or being opened. There is no automatic
// reconnection: after a close or error, callers invoke Connect again.
func (s *Socket) Connect(ctx context.Context, token string) error {
	if !s.machine.CompareAndTransition(status.Disconnected, status.Connecting) &&
		!s.machine.CompareAndTransition(status.Error, status.Connecting) {
		s.logger.Debug("connect skipped", zap.String("state", string(s.machine.Current())))
		return nil
	}

	target, err := socketURL(s.endpoint, token)
	if err != nil {
		_ = s.machine.Transition(status.Error)
		return err
	}

	s.logger.Info("connecting to chat socket", zap.String("endpoint", s.endpoint))
	conn, _, err := s.dialer.DialContext(ctx, target, nil)
	if err != nil {
		s.metrics.IncConnect("error")
		_ = s.machine.Transition(status.Error)
		s.logger.Error("chat socket dial failed", zap.Error(err))
		return fmt.Errorf("dial chat socket: %w", err)
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.conn = conn
	s.done = done
	s.mu.Unlock()

	if err := s.machine.Transition(status.Connected); err != nil {
		_ = conn.Close()
		s.clear(conn)
		_ = s.machine.Transition(status.Error)
		return fmt.Errorf("connect: %w", err)
	}
	s.metrics.IncConnect("ok")
	s.logger.Info("chat socket connected")

	go s.readLoop(conn, done)
	return nil
}

// Disconnect closes the connection if open. Safe to call repeatedly.
func (s *Socket) Disconnect() {
	s.mu.Lock()
	conn, done := s.conn, s.done
	s.mu.Unlock()
	if conn == nil {
		return
	}

	s.machine.CompareAndTransition(status.Connected, status.Closing)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
	_ = conn.Close()

	select {
	case <-done:
	case <-time.After(closeGrace):
		s.logger.Warn("chat socket reader did not exit in time")
	}
}

// Send encodes and writes an envelope. When the socket is not connected the
// frame is dropped, logged, and ErrNotConnected is returned.
func (s *Socket) Send(o envelope.Outbound) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil || !s.machine.IsConnected() {
		s.metrics.IncDroppedSend()
		s.logger.Warn("chat socket not connected, dropping frame",
			zap.String("type", string(o.OutboundType())),
			zap.Int64("conversation_id", envelope.ConversationOf(o)))
		return ErrNotConnected
	}

	data, err := envelope.Encode(o)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Error("chat socket write failed", zap.Error(err), zap.String("type", string(o.OutboundType())))
		return fmt.Errorf("write %s: %w", o.OutboundType(), err)
	}
	s.metrics.IncFrameOut(string(o.OutboundType()))
	return nil
}

// OnMessage registers the inbound handler, replacing any previous one.
func (s *Socket) OnMessage(h Handler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

// Connected reports whether the connection is open.
func (s *Socket) Connected() bool {
	return s.machine.IsConnected()
}

// State returns the detailed connection state.
func (s *Socket) State() status.State {
	return s.machine.Current()
}

func (s *Socket) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.handleReadError(conn, err)
			return
		}

		in, err := envelope.Decode(data)
		if err != nil {
			s.logger.Warn("dropping undecodable frame", zap.Error(err), zap.Int("bytes", len(data)))
			continue
		}
		s.metrics.IncFrameIn(string(in.InboundType()))

		s.mu.Lock()
		h := s.handler
		s.mu.Unlock()
		if h != nil {
			h(in)
		}
	}
}

func (s *Socket) handleReadError(conn *websocket.Conn, err error) {
	_ = conn.Close()
	s.clear(conn)

	state := s.machine.Current()
	normal := state == status.Closing ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
	if normal {
		s.logger.Info("chat socket disconnected")
		s.machine.CompareAndTransition(state, status.Disconnected)
		return
	}
	s.logger.Error("chat socket error", zap.Error(err))
	s.machine.CompareAndTransition(state, status.Error)
}

func (s *Socket) clear(conn *websocket.Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
}

func socketURL(endpoint, token string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse chat endpoint: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("chat endpoint %q: unsupported scheme %q", endpoint, u.Scheme)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
