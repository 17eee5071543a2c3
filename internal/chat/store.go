// Package chat holds the conversation list and message timeline for the
// signed-in staff member, and reconciles optimistic sends with server
// acknowledgments.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lobbybee/frontdesk/internal/auth"
	"github.com/lobbybee/frontdesk/internal/bus"
	"github.com/lobbybee/frontdesk/internal/domain"
	"github.com/lobbybee/frontdesk/internal/envelope"
	"github.com/lobbybee/frontdesk/internal/metrics"
	"github.com/lobbybee/frontdesk/internal/transport"
)

// DefaultAckTimeout is how long a sent message may stay unacknowledged
// before it is marked failed.
const DefaultAckTimeout = 15 * time.Second

var (
	ErrNoSelection     = errors.New("no conversation selected")
	ErrNotRetryable    = errors.New("message cannot be retried")
	ErrMessageNotFound = errors.New("message not found")
)

// API is the REST side of the chat backend.
type API interface {
	FetchConversations(ctx context.Context) ([]domain.Conversation, error)
	FetchMessages(ctx context.Context, conversationID int64) (domain.ConversationDetails, error)
	UploadMedia(ctx context.Context, conversationID int64, file domain.File, caption string) (domain.MediaUpload, error)
}

// Transport is the chat socket as seen by the store.
type Transport interface {
	Connect(ctx context.Context, token string) error
	Send(o envelope.Outbound) error
	OnMessage(h transport.Handler)
	Connected() bool
}

// Store is the single owner of chat state in the process. All methods are
// safe for concurrent use.
type Store struct {
	api       API
	transport Transport
	tokens    auth.TokenSource
	bus       *bus.Bus
	metrics   *metrics.Metrics
	logger    *zap.Logger

	ackTimeout time.Duration
	now        func() time.Time

	mu            sync.Mutex
	conversations []domain.Conversation
	messages      []domain.Message
	selected      int64
	generation    uint64
	loadingConvs  bool
	loadingMsgs   bool
	lastLocalID   int64
	timers        map[string]*ackTimer
	timerSeq      uint64
	inbound       transport.Handler
}

// Option customizes a Store.
type Option func(*Store)

// WithAckTimeout overrides DefaultAckTimeout.
func WithAckTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.ackTimeout = d
		}
	}
}

// WithBus publishes state changes on b.
func WithBus(b *bus.Bus) Option {
	return func(s *Store) { s.bus = b }
}

// WithMetrics records ack and failure counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// New creates an empty store.
func New(api API, tr Transport, tokens auth.TokenSource, logger *zap.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		api:        api,
		transport:  tr,
		tokens:     tokens,
		logger:     logger,
		ackTimeout: DefaultAckTimeout,
		now:        time.Now,
		timers:     make(map[string]*ackTimer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetInboundHandler sets the callback registered on the transport by
// InitChat, normally a bound dispatch.Dispatcher.
func (s *Store) SetInboundHandler(h transport.Handler) {
	s.mu.Lock()
	s.inbound = h
	s.mu.Unlock()
}

// InitChat loads the conversation list and, when a token is available,
// opens the socket. A failed fetch is logged and leaves the list empty.
func (s *Store) InitChat(ctx context.Context) error {
	s.mu.Lock()
	s.loadingConvs = true
	s.mu.Unlock()

	convs, err := s.api.FetchConversations(ctx)

	s.mu.Lock()
	s.loadingConvs = false
	if err == nil {
		s.conversations = convs
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("failed to fetch conversations", zap.Error(err))
	} else {
		s.logger.Info("conversations loaded", zap.Int("count", len(convs)))
		s.emit(bus.KindConversationsChanged, nil)
	}

	var token string
	if s.tokens != nil {
		token, err = s.tokens.Token(ctx)
	}
	if token == "" || err != nil {
		if err != nil && !errors.Is(err, auth.ErrNoToken) {
			s.logger.Error("failed to read auth token", zap.Error(err))
		} else {
			s.logger.Info("no auth token available, chat socket not opened")
		}
		return nil
	}
	if c, err := auth.Inspect(token); err == nil && c.Expired(s.now()) {
		s.logger.Warn("auth token has expired, socket may be rejected",
			zap.Time("expired_at", c.ExpiresAt), zap.String("user_id", c.UserID))
	}

	s.mu.Lock()
	h := s.inbound
	s.mu.Unlock()
	if h != nil {
		s.transport.OnMessage(h)
	}
	if err := s.transport.Connect(ctx, token); err != nil {
		return fmt.Errorf("init chat: %w", err)
	}
	return nil
}

// SelectConversation makes id the active conversation and loads its
// history. Results from a selection that has since been superseded are
// discarded.
func (s *Store) SelectConversation(ctx context.Context, id int64) error {
	s.mu.Lock()
	prev := s.selected
	s.selected = id
	s.generation++
	gen := s.generation
	s.loadingMsgs = true
	s.mu.Unlock()

	if prev != 0 && prev != id {
		s.send(envelope.Unsubscribe{ConversationID: prev})
	}
	s.emit(bus.KindMessagesChanged, id)

	details, err := s.api.FetchMessages(ctx, id)

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		s.logger.Debug("discarding stale conversation fetch", zap.Int64("conversation_id", id))
		return nil
	}
	s.loadingMsgs = false
	if err != nil {
		s.mu.Unlock()
		s.logger.Error("failed to fetch conversation", zap.Int64("conversation_id", id), zap.Error(err))
		return fmt.Errorf("fetch conversation %d: %w", id, err)
	}
	if i := s.indexConversation(id); i >= 0 {
		s.conversations[i] = details.Conversation
	}
	s.replaceMessages(details.Messages)
	s.mu.Unlock()

	s.emit(bus.KindConversationsChanged, nil)
	s.emit(bus.KindMessagesChanged, id)

	s.send(envelope.Subscribe{ConversationID: id})
	s.send(envelope.MarkRead{ConversationID: id})

	convs, err := s.api.FetchConversations(ctx)
	if err != nil {
		s.logger.Error("failed to refresh conversations", zap.Error(err))
		return nil
	}
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return nil
	}
	s.conversations = convs
	s.mu.Unlock()
	s.emit(bus.KindConversationsChanged, nil)
	return nil
}

// RefreshConversations reloads the conversation list from the server.
func (s *Store) RefreshConversations(ctx context.Context) error {
	convs, err := s.api.FetchConversations(ctx)
	if err != nil {
		return fmt.Errorf("refresh conversations: %w", err)
	}
	s.mu.Lock()
	s.conversations = convs
	s.mu.Unlock()
	s.emit(bus.KindConversationsChanged, nil)
	return nil
}

// SendTyping reports the staff member's typing state in the selected
// conversation.
func (s *Store) SendTyping(isTyping bool) error {
	id := s.SelectedID()
	if id == 0 {
		return ErrNoSelection
	}
	return s.transport.Send(envelope.Typing{ConversationID: id, IsTyping: isTyping})
}

// MarkAsRead asks the server to mark the selected conversation read. The
// unread counter is cleared when the server acknowledges.
func (s *Store) MarkAsRead() error {
	id := s.SelectedID()
	if id == 0 {
		return ErrNoSelection
	}
	return s.transport.Send(envelope.MarkRead{ConversationID: id})
}

// CloseConversation asks the server to close the selected conversation.
func (s *Store) CloseConversation() error {
	id := s.SelectedID()
	if id == 0 {
		return ErrNoSelection
	}
	return s.transport.Send(envelope.CloseConversation{ConversationID: id})
}

// ReopenTemporary asks the server to reopen the selected conversation for
// a limited window.
func (s *Store) ReopenTemporary() error {
	id := s.SelectedID()
	if id == 0 {
		return ErrNoSelection
	}
	return s.transport.Send(envelope.ReopenTemporary{ConversationID: id})
}

// Conversations returns a copy of the conversation list.
func (s *Store) Conversations() []domain.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Conversation(nil), s.conversations...)
}

// Messages returns a copy of every loaded message.
func (s *Store) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Message(nil), s.messages...)
}

// CurrentMessages returns the messages of the selected conversation.
func (s *Store) CurrentMessages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == 0 {
		return nil
	}
	var out []domain.Message
	for _, m := range s.messages {
		if m.ConversationID == s.selected {
			out = append(out, m)
		}
	}
	return out
}

// Message returns the message with the given id.
func (s *Store) Message(id int64) (domain.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexMessage(id); i >= 0 {
		return s.messages[i], true
	}
	return domain.Message{}, false
}

// Conversation returns the conversation with the given id.
func (s *Store) Conversation(id int64) (domain.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexConversation(id); i >= 0 {
		return s.conversations[i], true
	}
	return domain.Conversation{}, false
}

// SelectedConversation returns the selected conversation, if it is in the
// list.
func (s *Store) SelectedConversation() (domain.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexConversation(s.selected); s.selected != 0 && i >= 0 {
		return s.conversations[i], true
	}
	return domain.Conversation{}, false
}

// SelectedID returns the selected conversation id, or 0.
func (s *Store) SelectedID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

func (s *Store) Connected() bool {
	return s.transport.Connected()
}

func (s *Store) LoadingConversations() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadingConvs
}

func (s *Store) LoadingMessages() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadingMsgs
}

// Close stops every pending acknowledgment timer.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, t := range s.timers {
		t.timer.Stop()
		delete(s.timers, key)
	}
}

// send writes an envelope whose loss only needs logging.
func (s *Store) send(o envelope.Outbound) {
	if err := s.transport.Send(o); err != nil {
		s.logger.Warn("failed to send envelope",
			zap.String("type", string(o.OutboundType())),
			zap.Int64("conversation_id", envelope.ConversationOf(o)),
			zap.Error(err))
	}
}

func (s *Store) emit(kind string, payload any) {
	s.bus.Emit(kind, payload)
}

// replaceMessages swaps in a fetched history. Must hold mu.
func (s *Store) replaceMessages(msgs []domain.Message) {
	for _, m := range s.messages {
		if m.ClientID != "" {
			s.stopTimer(m.ClientID)
		}
	}
	s.messages = msgs
}

func (s *Store) indexConversation(id int64) int {
	for i := range s.conversations {
		if s.conversations[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) indexMessage(id int64) int {
	for i := range s.messages {
		if s.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) indexClientID(clientID string) int {
	if clientID == "" {
		return -1
	}
	for i := range s.messages {
		if s.messages[i].ClientID == clientID {
			return i
		}
	}
	return -1
}
