package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lobbybee/frontdesk/internal/bus"
	"github.com/lobbybee/frontdesk/internal/domain"
	"github.com/lobbybee/frontdesk/internal/envelope"
	"github.com/lobbybee/frontdesk/internal/transport"
)

const staffSenderName = "You"

type ackTimer struct {
	timer *time.Timer
	seq   uint64
}

// SendMessage appends an optimistic text message to the selected
// conversation and sends it. The returned copy carries the local id.
func (s *Store) SendMessage(ctx context.Context, text string) (domain.Message, error) {
	s.mu.Lock()
	if s.selected == 0 {
		s.mu.Unlock()
		return domain.Message{}, ErrNoSelection
	}
	msg := s.newOptimistic(s.selected, domain.MessageText)
	msg.Content = text
	msg.Delivery = domain.Pending
	msg.Status = domain.LabelSending
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
	s.emit(bus.KindMessagesChanged, msg.ConversationID)

	err := s.transport.Send(envelope.Text{
		ConversationID: msg.ConversationID,
		Content:        text,
		ClientID:       msg.ClientID,
	})
	if s.dropped(err, msg.ConversationID) {
		return s.armTimer(msg.ClientID), nil
	}
	if err != nil {
		s.logger.Error("failed to send message", zap.Int64("conversation_id", msg.ConversationID), zap.Error(err))
		return s.markFailed(msg.ClientID, domain.Failed, "send_error"), fmt.Errorf("send message: %w", err)
	}
	return s.armTimer(msg.ClientID), nil
}

// SendMediaMessage uploads file and announces it in the selected
// conversation. An upload failure is terminal for the optimistic message.
func (s *Store) SendMediaMessage(ctx context.Context, file domain.File, caption string) (domain.Message, error) {
	s.mu.Lock()
	if s.selected == 0 {
		s.mu.Unlock()
		return domain.Message{}, ErrNoSelection
	}
	kind := ClassifyMedia(file.ContentType)
	msg := s.newOptimistic(s.selected, domain.MessageMedia)
	msg.Content = kind
	msg.FileType = kind
	msg.MediaFilename = file.Name
	msg.Delivery = domain.Uploading
	msg.Status = domain.LabelUploading
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
	s.emit(bus.KindMessagesChanged, msg.ConversationID)

	up, err := s.api.UploadMedia(ctx, msg.ConversationID, file, caption)
	if err != nil {
		s.logger.Error("failed to upload media",
			zap.Int64("conversation_id", msg.ConversationID),
			zap.String("filename", file.Name),
			zap.Error(err))
		return s.markFailed(msg.ClientID, domain.UploadFailed, "upload_error"), fmt.Errorf("upload media: %w", err)
	}

	out := envelope.Media{
		ConversationID: msg.ConversationID,
		FileURL:        up.FileURL,
		Filename:       firstNonEmpty(up.Filename, file.Name),
		FileType:       firstNonEmpty(up.FileType, kind),
		Caption:        firstNonEmpty(up.Caption, caption),
		ClientID:       msg.ClientID,
	}

	s.mu.Lock()
	if i := s.indexClientID(msg.ClientID); i >= 0 {
		m := &s.messages[i]
		m.MediaURL = out.FileURL
		m.MediaFilename = out.Filename
		m.FileType = out.FileType
		m.Content = caption
		m.Delivery = domain.Pending
		m.Status = domain.LabelSending
		m.UpdatedAt = domain.Time{Time: s.now()}
	}
	s.mu.Unlock()
	s.emit(bus.KindMessagesChanged, msg.ConversationID)

	err = s.transport.Send(out)
	if s.dropped(err, msg.ConversationID) {
		return s.armTimer(msg.ClientID), nil
	}
	if err != nil {
		s.logger.Error("failed to send media message", zap.Int64("conversation_id", msg.ConversationID), zap.Error(err))
		return s.markFailed(msg.ClientID, domain.Failed, "send_error"), fmt.Errorf("send media: %w", err)
	}
	return s.armTimer(msg.ClientID), nil
}

// RetryMessage resends an unacknowledged message. Messages whose upload
// failed cannot be retried; send the file again instead.
func (s *Store) RetryMessage(ctx context.Context, id int64) error {
	s.mu.Lock()
	i := s.indexMessage(id)
	if i < 0 {
		s.mu.Unlock()
		return ErrMessageNotFound
	}
	m := &s.messages[i]
	if !m.Optimistic() || m.Delivery == domain.Uploading || m.Delivery == domain.UploadFailed {
		s.mu.Unlock()
		return ErrNotRetryable
	}

	var out envelope.Outbound
	switch {
	case m.MessageType == domain.MessageText:
		out = envelope.Text{ConversationID: m.ConversationID, Content: m.Content, ClientID: m.ClientID}
	case m.MediaURL != "":
		out = envelope.Media{
			ConversationID: m.ConversationID,
			FileURL:        m.MediaURL,
			Filename:       m.MediaFilename,
			FileType:       m.FileType,
			Caption:        m.Content,
			ClientID:       m.ClientID,
		}
	default:
		s.mu.Unlock()
		return ErrNotRetryable
	}
	m.Delivery = domain.Pending
	m.Status = domain.LabelSending
	clientID, convID := m.ClientID, m.ConversationID
	s.mu.Unlock()
	s.emit(bus.KindMessagesChanged, convID)

	err := s.transport.Send(out)
	if s.dropped(err, convID) {
		s.armTimer(clientID)
		return nil
	}
	if err != nil {
		s.logger.Error("failed to retry message", zap.Int64("message_id", id), zap.Error(err))
		s.markFailed(clientID, domain.Failed, "send_error")
		return fmt.Errorf("retry message: %w", err)
	}
	s.armTimer(clientID)
	return nil
}

// dropped reports whether err means the socket was closed. Such a frame is
// lost without an error; the acknowledgment timer marks the message failed.
func (s *Store) dropped(err error, conversationID int64) bool {
	if !errors.Is(err, transport.ErrNotConnected) {
		return false
	}
	s.logger.Warn("socket not connected, frame dropped", zap.Int64("conversation_id", conversationID))
	return true
}

// ClassifyMedia maps a MIME type onto the media kind sent to the server.
func ClassifyMedia(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return string(domain.MessageImage)
	case strings.HasPrefix(contentType, "video/"):
		return string(domain.MessageVideo)
	case strings.HasPrefix(contentType, "audio/"):
		return string(domain.MessageAudio)
	}
	return string(domain.MessageDocument)
}

// newOptimistic builds a local message. Must hold mu.
func (s *Store) newOptimistic(conversationID int64, typ domain.MessageType) domain.Message {
	now := s.now()
	return domain.Message{
		ID:             s.nextLocalID(now.UnixMilli()),
		ConversationID: conversationID,
		SenderType:     domain.SenderStaff,
		SenderName:     staffSenderName,
		MessageType:    typ,
		ClientID:       uuid.NewString(),
		CreatedAt:      domain.Time{Time: now},
		UpdatedAt:      domain.Time{Time: now},
	}
}

// nextLocalID returns -ms, forced strictly below every id issued before.
// Must hold mu.
func (s *Store) nextLocalID(ms int64) int64 {
	id := -ms
	if id >= s.lastLocalID {
		id = s.lastLocalID - 1
	}
	s.lastLocalID = id
	return id
}

// armTimer starts, or restarts, the ack timer for a pending message and
// returns a copy of it.
func (s *Store) armTimer(clientID string) domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexClientID(clientID)
	if i < 0 {
		return domain.Message{}
	}
	s.stopTimer(clientID)
	if s.messages[i].Delivery == domain.Pending {
		s.timerSeq++
		seq := s.timerSeq
		t := time.AfterFunc(s.ackTimeout, func() { s.expire(clientID, seq) })
		s.timers[clientID] = &ackTimer{timer: t, seq: seq}
	}
	return s.messages[i]
}

// stopTimer cancels the ack timer for clientID. Must hold mu.
func (s *Store) stopTimer(clientID string) {
	if t, ok := s.timers[clientID]; ok {
		t.timer.Stop()
		delete(s.timers, clientID)
	}
}

// expire fails the message if it is still pending under the same arming.
func (s *Store) expire(clientID string, seq uint64) {
	s.mu.Lock()
	t, ok := s.timers[clientID]
	if !ok || t.seq != seq {
		s.mu.Unlock()
		return
	}
	delete(s.timers, clientID)
	i := s.indexClientID(clientID)
	if i < 0 || s.messages[i].Delivery != domain.Pending {
		s.mu.Unlock()
		return
	}
	m := &s.messages[i]
	m.Delivery = domain.Failed
	m.Status = domain.LabelFailedToSend
	failed := *m
	s.mu.Unlock()

	s.logger.Warn("message not acknowledged in time",
		zap.Int64("message_id", failed.ID),
		zap.Int64("conversation_id", failed.ConversationID),
		zap.Duration("timeout", s.ackTimeout))
	s.metrics.IncSendFailed("timeout")
	s.emit(bus.KindMessageFailed, failed)
	s.emit(bus.KindMessagesChanged, failed.ConversationID)
}

// markFailed moves a message to a terminal failure state and returns a copy.
func (s *Store) markFailed(clientID string, d domain.Delivery, reason string) domain.Message {
	s.mu.Lock()
	s.stopTimer(clientID)
	i := s.indexClientID(clientID)
	if i < 0 {
		s.mu.Unlock()
		return domain.Message{}
	}
	m := &s.messages[i]
	m.Delivery = d
	m.Status = d.Label()
	failed := *m
	s.mu.Unlock()

	s.metrics.IncSendFailed(reason)
	s.emit(bus.KindMessageFailed, failed)
	s.emit(bus.KindMessagesChanged, failed.ConversationID)
	return failed
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
