package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lobbybee/frontdesk/internal/domain"
)

// Inbound-only types. TypeTyping and TypeCloseConversation are shared with
// the outbound set.
const (
	TypeMessage            Type = "message"
	TypeNewConversation    Type = "new_conversation"
	TypeConversationUpdate Type = "conversation_update"
	TypeUserStatus         Type = "user_status"
	TypeAcknowledgment     Type = "acknowledgment"
	TypeError              Type = "error"
)

// Acknowledgment statuses.
const (
	AckReceived           = "received"
	AckMarkedRead         = "marked_read"
	AckSubscribed         = "subscribed"
	AckUnsubscribed       = "unsubscribed"
	AckConversationClosed = "conversation_closed"
)

// ErrMissingType is returned for frames without a "type" discriminant.
var ErrMissingType = errors.New("envelope has no type")

// Inbound is a frame received from the server.
type Inbound interface {
	InboundType() Type
}

// MessageGuest is the guest snapshot nested in a message payload.
type MessageGuest struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	WhatsappNumber string `json:"whatsapp_number"`
	RoomNumber     string `json:"room_number"`
	Floor          *int   `json:"floor"`
}

// MessagePayload is the "data" object of a message frame.
type MessagePayload struct {
	ID             int64              `json:"id"`
	ConversationID int64              `json:"conversation_id"`
	SenderType     domain.SenderType  `json:"sender_type"`
	SenderID       *int64             `json:"sender_id"`
	SenderName     string             `json:"sender_name"`
	MessageType    domain.MessageType `json:"message_type"`
	Content        string             `json:"content"`
	MediaURL       string             `json:"media_url"`
	MediaFilename  string             `json:"media_filename"`
	IsRead         bool               `json:"is_read"`
	GuestInfo      *MessageGuest      `json:"guest_info"`
	CreatedAt      domain.Time        `json:"created_at"`
	UpdatedAt      domain.Time        `json:"updated_at"`
}

type MessageEvent struct {
	Data MessagePayload
}

type NewConversationEvent struct {
	Conversation domain.Conversation
}

type ConversationUpdateEvent struct {
	Conversation domain.Conversation
}

type TypingEvent struct {
	ConversationID int64  `json:"conversation_id"`
	UserID         int64  `json:"user_id"`
	UserName       string `json:"user_name"`
	IsTyping       bool   `json:"is_typing"`
}

type UserStatusEvent struct {
	UserID   int64  `json:"user_id"`
	UserName string `json:"user_name"`
	Status   string `json:"status"`
	IsOnline bool   `json:"is_online"`
}

// Acknowledgment confirms the effect of a prior client action. The server
// sends its fields either under "data" or at the top level.
type Acknowledgment struct {
	Status         string             `json:"status"`
	MessageID      int64              `json:"message_id"`
	ConversationID int64              `json:"conversation_id"`
	MessageType    domain.MessageType `json:"message_type"`
	Caption        *string            `json:"caption"`
	ClientID       string             `json:"client_id"`
}

type ErrorEvent struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

type CloseConversationEvent struct {
	ConversationID int64 `json:"conversation_id"`
}

// Unknown carries any frame whose type is not recognized.
type Unknown struct {
	Type Type
	Raw  json.RawMessage
}

func (MessageEvent) InboundType() Type            { return TypeMessage }
func (NewConversationEvent) InboundType() Type    { return TypeNewConversation }
func (ConversationUpdateEvent) InboundType() Type { return TypeConversationUpdate }
func (TypingEvent) InboundType() Type             { return TypeTyping }
func (UserStatusEvent) InboundType() Type         { return TypeUserStatus }
func (Acknowledgment) InboundType() Type          { return TypeAcknowledgment }
func (ErrorEvent) InboundType() Type              { return TypeError }
func (CloseConversationEvent) InboundType() Type  { return TypeCloseConversation }
func (u Unknown) InboundType() Type               { return u.Type }

type head struct {
	Type         Type            `json:"type"`
	Data         json.RawMessage `json:"data"`
	Conversation json.RawMessage `json:"conversation"`
	Message      json.RawMessage `json:"message"`
}

// Decode parses a raw frame. Only malformed JSON or a missing type is an
// error; unrecognized types decode to Unknown.
func Decode(frame []byte) (Inbound, error) {
	var h head
	if err := json.Unmarshal(frame, &h); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if h.Type == "" {
		return nil, ErrMissingType
	}

	switch h.Type {
	case TypeMessage:
		var evt MessageEvent
		if !isObject(h.Data) {
			return nil, fmt.Errorf("decode %s: missing data object", h.Type)
		}
		if err := json.Unmarshal(h.Data, &evt.Data); err != nil {
			return nil, fmt.Errorf("decode %s: %w", h.Type, err)
		}
		return evt, nil
	case TypeNewConversation:
		c, err := decodeConversation(frame, h)
		if err != nil {
			return nil, err
		}
		return NewConversationEvent{Conversation: c}, nil
	case TypeConversationUpdate:
		c, err := decodeConversation(frame, h)
		if err != nil {
			return nil, err
		}
		return ConversationUpdateEvent{Conversation: c}, nil
	case TypeTyping:
		var evt TypingEvent
		if err := decodeMerged(frame, h, &evt); err != nil {
			return nil, err
		}
		return evt, nil
	case TypeUserStatus:
		var evt UserStatusEvent
		if err := decodeMerged(frame, h, &evt); err != nil {
			return nil, err
		}
		return evt, nil
	case TypeAcknowledgment:
		var evt Acknowledgment
		if err := decodeMerged(frame, h, &evt); err != nil {
			return nil, err
		}
		return evt, nil
	case TypeError:
		var evt ErrorEvent
		if err := decodeMerged(frame, h, &evt); err != nil {
			return nil, err
		}
		if evt.Message == "" && isString(h.Message) {
			_ = json.Unmarshal(h.Message, &evt.Message)
		}
		if evt.Message == "" && isString(h.Data) {
			_ = json.Unmarshal(h.Data, &evt.Message)
		}
		return evt, nil
	case TypeCloseConversation:
		var evt CloseConversationEvent
		if err := decodeMerged(frame, h, &evt); err != nil {
			return nil, err
		}
		return evt, nil
	}
	return Unknown{Type: h.Type, Raw: append(json.RawMessage(nil), frame...)}, nil
}

// decodeMerged fills v from the top-level frame, then overlays "data" when it
// is an object.
func decodeMerged[T any](frame []byte, h head, v *T) error {
	if err := json.Unmarshal(frame, v); err != nil {
		return fmt.Errorf("decode %s: %w", h.Type, err)
	}
	if isObject(h.Data) {
		if err := json.Unmarshal(h.Data, v); err != nil {
			return fmt.Errorf("decode %s data: %w", h.Type, err)
		}
	}
	return nil
}

func decodeConversation(frame []byte, h head) (domain.Conversation, error) {
	var c domain.Conversation
	src := frame
	switch {
	case isObject(h.Data):
		src = h.Data
	case isObject(h.Conversation):
		src = h.Conversation
	}
	if err := json.Unmarshal(src, &c); err != nil {
		return c, fmt.Errorf("decode %s: %w", h.Type, err)
	}
	return c, nil
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

func isString(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '"'
}
