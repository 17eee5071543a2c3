package chat

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/lobbybee/frontdesk/internal/bus"
	"github.com/lobbybee/frontdesk/internal/domain"
	"github.com/lobbybee/frontdesk/internal/envelope"
)

// HandleNewMessage records a message pushed by the server. A message for a
// conversation not yet in the list creates a minimal entry from its guest
// snapshot.
func (s *Store) HandleNewMessage(msg domain.Message) {
	s.mu.Lock()
	ci := s.indexConversation(msg.ConversationID)
	if ci < 0 {
		g := msg.GuestInfo
		conv := domain.Conversation{
			ID:     msg.ConversationID,
			Guest:  g.ID,
			Status: domain.ConversationActive,
			GuestInfo: domain.GuestInfo{
				ID:             g.ID,
				FullName:       g.Name,
				WhatsappNumber: g.WhatsappNumber,
				RoomNumber:     g.RoomNumber,
				Floor:          g.Floor,
			},
			CreatedAt: msg.CreatedAt,
		}
		s.conversations = append([]domain.Conversation{conv}, s.conversations...)
		ci = 0
	}

	if mi := s.indexMessage(msg.ID); msg.ID > 0 && mi >= 0 {
		s.messages[mi] = msg
	} else {
		s.messages = append(s.messages, msg)
	}

	conv := &s.conversations[ci]
	last := msg
	conv.LastMessage = &last
	conv.LastMessagePreview = msg.Content
	conv.LastMessageAt = msg.CreatedAt
	if msg.SenderType == domain.SenderGuest {
		conv.UnreadCount++
	}
	s.mu.Unlock()

	s.emit(bus.KindConversationsChanged, nil)
	s.emit(bus.KindMessagesChanged, msg.ConversationID)
}

// HandleNewConversation puts conv at the top of the list.
func (s *Store) HandleNewConversation(conv domain.Conversation) {
	s.mu.Lock()
	if i := s.indexConversation(conv.ID); i >= 0 {
		s.conversations = append(s.conversations[:i], s.conversations[i+1:]...)
	}
	s.conversations = append([]domain.Conversation{conv}, s.conversations...)
	s.mu.Unlock()
	s.emit(bus.KindConversationsChanged, nil)
}

// HandleConversationUpdate replaces a known conversation. Unknown ids are
// ignored.
func (s *Store) HandleConversationUpdate(conv domain.Conversation) {
	s.mu.Lock()
	i := s.indexConversation(conv.ID)
	if i >= 0 {
		s.conversations[i] = conv
	}
	s.mu.Unlock()
	if i < 0 {
		s.logger.Debug("update for unknown conversation", zap.Int64("conversation_id", conv.ID))
		return
	}
	s.emit(bus.KindConversationsChanged, nil)
}

// HandleCloseConversation closes the conversation locally, then reloads the
// list so local state converges with the server.
func (s *Store) HandleCloseConversation(ctx context.Context, id int64) error {
	s.mu.Lock()
	i := s.indexConversation(id)
	if i >= 0 {
		s.conversations[i].Status = domain.ConversationClosed
	}
	s.mu.Unlock()
	if i >= 0 {
		s.emit(bus.KindConversationsChanged, nil)
	}
	if err := s.RefreshConversations(ctx); err != nil {
		return fmt.Errorf("close conversation %d: %w", id, err)
	}
	return nil
}

func (s *Store) HandleTyping(evt envelope.TypingEvent) {
	s.logger.Debug("typing indicator",
		zap.Int64("conversation_id", evt.ConversationID),
		zap.Int64("user_id", evt.UserID),
		zap.Bool("is_typing", evt.IsTyping))
	s.emit(bus.KindTyping, evt)
}

func (s *Store) HandleUserStatus(evt envelope.UserStatusEvent) {
	s.logger.Debug("user status",
		zap.Int64("user_id", evt.UserID),
		zap.String("status", evt.Status),
		zap.Bool("is_online", evt.IsOnline))
	s.emit(bus.KindUserStatus, evt)
}

func (s *Store) HandleChatError(evt envelope.ErrorEvent) {
	s.logger.Error("chat server error", zap.String("message", evt.Message), zap.String("code", evt.Code))
	s.emit(bus.KindChatError, evt)
}

// HandleAcknowledgment reconciles local state with a server acknowledgment.
func (s *Store) HandleAcknowledgment(ack envelope.Acknowledgment) {
	s.metrics.IncAck(ack.Status)

	switch ack.Status {
	case envelope.AckReceived:
		s.confirm(ack)
	case envelope.AckMarkedRead:
		s.updateConversation(ack.ConversationID, func(c *domain.Conversation) { c.UnreadCount = 0 })
	case envelope.AckConversationClosed:
		s.updateConversation(ack.ConversationID, func(c *domain.Conversation) { c.Status = domain.ConversationClosed })
	case envelope.AckSubscribed, envelope.AckUnsubscribed:
		s.logger.Debug("subscription acknowledged",
			zap.String("status", ack.Status),
			zap.Int64("conversation_id", ack.ConversationID))
	default:
		s.logger.Info("unknown acknowledgment status", zap.String("status", ack.Status))
	}
}

// confirm gives an optimistic message its server id. The message is found
// by client id when the server echoes one, otherwise it is the oldest sent
// optimistic message in the conversation.
func (s *Store) confirm(ack envelope.Acknowledgment) {
	if ack.MessageID == 0 {
		return
	}

	s.mu.Lock()
	i := s.indexClientID(ack.ClientID)
	if i < 0 || !s.messages[i].Optimistic() {
		i = s.oldestAwaitingAck(ack.ConversationID)
	}
	if i < 0 {
		s.mu.Unlock()
		s.logger.Debug("acknowledgment matched no pending message",
			zap.Int64("message_id", ack.MessageID),
			zap.Int64("conversation_id", ack.ConversationID))
		return
	}
	// The server may have pushed the same message before acknowledging it.
	if j := s.indexMessage(ack.MessageID); j >= 0 && j != i {
		s.messages = slices.Delete(s.messages, j, j+1)
		if j < i {
			i--
		}
	}
	m := &s.messages[i]
	s.stopTimer(m.ClientID)
	m.ID = ack.MessageID
	m.Delivery = domain.Sent
	m.Status = domain.LabelSent
	if ack.MessageType != "" && ack.MessageType != domain.MessageText && ack.Caption != nil {
		m.Content = *ack.Caption
	}
	convID := m.ConversationID
	s.mu.Unlock()

	s.emit(bus.KindMessagesChanged, convID)
}

// oldestAwaitingAck returns the first optimistic message in the
// conversation that has been handed to the socket. Must hold mu.
func (s *Store) oldestAwaitingAck(conversationID int64) int {
	for i := range s.messages {
		m := &s.messages[i]
		if m.ConversationID != conversationID || !m.Optimistic() {
			continue
		}
		if m.Delivery == domain.Uploading || m.Delivery == domain.UploadFailed {
			continue
		}
		return i
	}
	return -1
}

func (s *Store) updateConversation(id int64, fn func(*domain.Conversation)) {
	s.mu.Lock()
	i := s.indexConversation(id)
	if i >= 0 {
		fn(&s.conversations[i])
	}
	s.mu.Unlock()
	if i >= 0 {
		s.emit(bus.KindConversationsChanged, nil)
	}
}
