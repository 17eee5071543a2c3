// Package dispatch routes decoded inbound envelopes to the conversation
// store and the notification center.
package dispatch

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lobbybee/frontdesk/internal/domain"
	"github.com/lobbybee/frontdesk/internal/envelope"
)

// Handler is the store side of inbound routing.
type Handler interface {
	HandleNewMessage(msg domain.Message)
	HandleNewConversation(conv domain.Conversation)
	HandleConversationUpdate(conv domain.Conversation)
	HandleTyping(evt envelope.TypingEvent)
	HandleUserStatus(evt envelope.UserStatusEvent)
	HandleAcknowledgment(ack envelope.Acknowledgment)
	HandleChatError(evt envelope.ErrorEvent)
	HandleCloseConversation(ctx context.Context, conversationID int64) error
}

// Notifier receives a chat notification for every guest message.
type Notifier interface {
	AddChatNotification(conversationID int64, guestName, preview, roomNumber string) string
}

// Dispatcher calls exactly one handler per envelope.
type Dispatcher struct {
	handler  Handler
	notifier Notifier
	logger   *zap.Logger
}

// New creates a dispatcher. notifier may be nil.
func New(h Handler, n Notifier, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{handler: h, notifier: n, logger: logger}
}

// Bind returns a callback suitable for transport.Socket.OnMessage that
// dispatches with ctx.
func (d *Dispatcher) Bind(ctx context.Context) func(envelope.Inbound) {
	return func(in envelope.Inbound) {
		d.Dispatch(ctx, in)
	}
}

// Dispatch routes one envelope. A panicking or failing handler is logged
// and never propagates to the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, in envelope.Inbound) {
	if in == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("inbound handler panicked",
				zap.String("type", string(in.InboundType())),
				zap.String("panic", fmt.Sprint(r)))
		}
	}()

	switch evt := in.(type) {
	case envelope.MessageEvent:
		msg := ToMessage(evt.Data)
		d.handler.HandleNewMessage(msg)
		if msg.SenderType == domain.SenderGuest && d.notifier != nil {
			d.notifier.AddChatNotification(msg.ConversationID, guestName(msg), Preview(msg), msg.GuestInfo.RoomNumber)
		}
	case envelope.NewConversationEvent:
		d.handler.HandleNewConversation(evt.Conversation)
	case envelope.ConversationUpdateEvent:
		d.handler.HandleConversationUpdate(evt.Conversation)
	case envelope.TypingEvent:
		d.handler.HandleTyping(evt)
	case envelope.UserStatusEvent:
		d.handler.HandleUserStatus(evt)
	case envelope.Acknowledgment:
		d.handler.HandleAcknowledgment(evt)
	case envelope.ErrorEvent:
		d.handler.HandleChatError(evt)
	case envelope.CloseConversationEvent:
		if err := d.handler.HandleCloseConversation(ctx, evt.ConversationID); err != nil {
			d.logger.Error("close conversation handling failed",
				zap.Int64("conversation_id", evt.ConversationID), zap.Error(err))
		}
	case envelope.Unknown:
		d.logger.Warn("unknown envelope type", zap.String("type", string(evt.Type)))
	default:
		d.logger.Warn("unhandled envelope", zap.String("type", string(in.InboundType())))
	}
}

// ToMessage maps a message frame payload onto the canonical message shape.
// Missing guest fields default; floor defaults to 0.
func ToMessage(p envelope.MessagePayload) domain.Message {
	msg := domain.Message{
		ID:             p.ID,
		ConversationID: p.ConversationID,
		SenderType:     p.SenderType,
		SenderID:       p.SenderID,
		SenderName:     p.SenderName,
		MessageType:    p.MessageType,
		Content:        p.Content,
		MediaURL:       p.MediaURL,
		MediaFilename:  p.MediaFilename,
		IsRead:         p.IsRead,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
	if g := p.GuestInfo; g != nil {
		msg.GuestInfo = domain.MessageGuestInfo{
			ID:             g.ID,
			Name:           g.Name,
			WhatsappNumber: g.WhatsappNumber,
			RoomNumber:     g.RoomNumber,
		}
		if g.Floor != nil {
			msg.GuestInfo.Floor = *g.Floor
		}
	}
	return msg
}

// Preview is the notification body for a message: the text itself, or a
// generic label for anything else.
func Preview(msg domain.Message) string {
	if msg.MessageType == domain.MessageText {
		return msg.Content
	}
	return "New " + string(msg.MessageType)
}

func guestName(msg domain.Message) string {
	if msg.GuestInfo.Name != "" {
		return msg.GuestInfo.Name
	}
	return msg.SenderName
}
