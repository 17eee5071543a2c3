package bus

import "time"

// Event kinds published by the chat client.
const (
	KindTransportStatus      = "transport.status_changed"
	KindConversationsChanged = "chat.conversations_changed"
	KindMessagesChanged      = "chat.messages_changed"
	KindMessageFailed        = "chat.message_failed"
	KindTyping               = "chat.typing"
	KindUserStatus           = "chat.user_status"
	KindChatError            = "chat.error"
	KindNotificationAdded    = "notification.added"
	KindNotificationsChanged = "notification.changed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// NewEvent stamps an event with the current time.
func NewEvent(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
