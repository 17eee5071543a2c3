// Package envelope defines the JSON frames exchanged with the chat socket.
// Every frame carries a "type" discriminant; each known type maps to its own
// Go struct so callers switch on concrete types instead of raw maps.
package envelope

import (
	"encoding/json"
	"fmt"
)

// Type is the envelope discriminant.
type Type string

// Outbound types.
const (
	TypeSubscribe         Type = "subscribe_conversation"
	TypeUnsubscribe       Type = "unsubscribe_conversation"
	TypeText              Type = "text"
	TypeMedia             Type = "media"
	TypeMarkRead          Type = "mark_read"
	TypeTyping            Type = "typing"
	TypeCloseConversation Type = "close_conversation"
	TypeReopenTemporary   Type = "reopen-temporary"
)

// Outbound is a frame sent by the client.
type Outbound interface {
	OutboundType() Type
}

type Subscribe struct {
	ConversationID int64 `json:"conversation_id"`
}

type Unsubscribe struct {
	ConversationID int64 `json:"conversation_id"`
}

// Text sends a text message. ClientID correlates the server acknowledgment
// with the optimistic local copy.
type Text struct {
	ConversationID int64  `json:"conversation_id"`
	Content        string `json:"content"`
	ClientID       string `json:"client_id,omitempty"`
}

// Media announces an already uploaded file.
type Media struct {
	ConversationID int64  `json:"conversation_id"`
	FileURL        string `json:"file_url"`
	Filename       string `json:"filename"`
	FileType       string `json:"file_type"`
	Caption        string `json:"caption"`
	ClientID       string `json:"client_id,omitempty"`
}

type MarkRead struct {
	ConversationID int64 `json:"conversation_id"`
}

type Typing struct {
	ConversationID int64 `json:"conversation_id"`
	IsTyping       bool  `json:"is_typing"`
}

type CloseConversation struct {
	ConversationID int64 `json:"conversation_id"`
}

type ReopenTemporary struct {
	ConversationID int64 `json:"conversation_id"`
}

func (Subscribe) OutboundType() Type         { return TypeSubscribe }
func (Unsubscribe) OutboundType() Type       { return TypeUnsubscribe }
func (Text) OutboundType() Type              { return TypeText }
func (Media) OutboundType() Type             { return TypeMedia }
func (MarkRead) OutboundType() Type          { return TypeMarkRead }
func (Typing) OutboundType() Type            { return TypeTyping }
func (CloseConversation) OutboundType() Type { return TypeCloseConversation }
func (ReopenTemporary) OutboundType() Type   { return TypeReopenTemporary }

// Encode serializes an outbound envelope, adding its "type" field.
func Encode(o Outbound) ([]byte, error) {
	if o == nil {
		return nil, fmt.Errorf("encode envelope: nil outbound")
	}
	body, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", o.OutboundType(), err)
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("encode %s: %w", o.OutboundType(), err)
	}
	typ, _ := json.Marshal(o.OutboundType())
	fields["type"] = typ
	return json.Marshal(fields)
}

// ConversationOf returns the conversation an outbound envelope targets.
func ConversationOf(o Outbound) int64 {
	switch v := o.(type) {
	case Subscribe:
		return v.ConversationID
	case Unsubscribe:
		return v.ConversationID
	case Text:
		return v.ConversationID
	case Media:
		return v.ConversationID
	case MarkRead:
		return v.ConversationID
	case Typing:
		return v.ConversationID
	case CloseConversation:
		return v.ConversationID
	case ReopenTemporary:
		return v.ConversationID
	}
	return 0
}
