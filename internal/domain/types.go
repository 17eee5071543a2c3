// Package domain holds the chat data model shared by the transport codec,
// the REST client and the conversation store.
package domain

// SenderType classifies who authored a message.
type SenderType string

const (
	SenderGuest  SenderType = "guest"
	SenderStaff  SenderType = "staff"
	SenderSystem SenderType = "system"
)

// MessageType is the content kind of a message.
type MessageType string

const (
	MessageText     MessageType = "text"
	MessageMedia    MessageType = "media"
	MessageImage    MessageType = "image"
	MessageDocument MessageType = "document"
	MessageVideo    MessageType = "video"
	MessageAudio    MessageType = "audio"
	MessageSystem   MessageType = "system"
)

// ConversationStatus is the server-side lifecycle of a conversation.
type ConversationStatus string

const (
	ConversationActive ConversationStatus = "active"
	ConversationClosed ConversationStatus = "closed"
)

// Status labels shown next to a message.
const (
	LabelSending        = "sending..."
	LabelUploading      = "uploading..."
	LabelSent           = "sent"
	LabelFailedToSend   = "failed to send"
	LabelFailedToUpload = "failed to upload"
)

// Delivery is the client-side delivery state of a message. The zero value is
// Confirmed: anything decoded from the server is already persisted.
type Delivery int

const (
	Confirmed Delivery = iota
	Uploading
	Pending
	Sent
	Failed
	UploadFailed
)

func (d Delivery) String() string {
	switch d {
	case Confirmed:
		return "confirmed"
	case Uploading:
		return "uploading"
	case Pending:
		return "pending"
	case Sent:
		return "sent"
	case Failed:
		return "failed"
	case UploadFailed:
		return "upload_failed"
	}
	return "unknown"
}

// Label returns the status label for an optimistic delivery state.
func (d Delivery) Label() string {
	switch d {
	case Uploading:
		return LabelUploading
	case Pending:
		return LabelSending
	case Sent:
		return LabelSent
	case Failed:
		return LabelFailedToSend
	case UploadFailed:
		return LabelFailedToUpload
	}
	return ""
}

// GuestInfo is the guest snapshot attached to a conversation.
type GuestInfo struct {
	ID             int64  `json:"id"`
	FullName       string `json:"full_name"`
	Email          string `json:"email"`
	WhatsappNumber string `json:"whatsapp_number"`
	DateOfBirth    string `json:"date_of_birth"`
	Nationality    string `json:"nationality"`
	Status         string `json:"status"`
	RoomNumber     string `json:"room_number"`
	Floor          int    `json:"floor"`
}

// MessageGuestInfo is the reduced guest snapshot denormalized onto messages.
type MessageGuestInfo struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	WhatsappNumber string `json:"whatsapp_number"`
	RoomNumber     string `json:"room_number"`
	Floor          int    `json:"floor"`
}

// Message is a single chat message. Server-assigned ids are positive;
// messages not yet acknowledged carry a negative local id.
type Message struct {
	ID             int64            `json:"id"`
	ConversationID int64            `json:"conversation"`
	SenderType     SenderType       `json:"sender_type"`
	SenderID       *int64           `json:"sender"`
	SenderName     string           `json:"sender_name"`
	MessageType    MessageType      `json:"message_type"`
	Content        string           `json:"content"`
	MediaURL       string           `json:"media_url"`
	MediaFilename  string           `json:"media_filename"`
	IsRead         bool             `json:"is_read"`
	ReadAt         Time             `json:"read_at"`
	GuestInfo      MessageGuestInfo `json:"guest_info"`
	Status         string           `json:"time_ago"`
	CreatedAt      Time             `json:"created_at"`
	UpdatedAt      Time             `json:"updated_at"`

	// Client-side bookkeeping, never sent to or read from the API.
	Delivery Delivery `json:"-"`
	ClientID string   `json:"-"`
	FileType string   `json:"-"`
}

// Optimistic reports whether the message is still awaiting a server id.
func (m *Message) Optimistic() bool {
	return m.ID < 0
}

// Conversation is a guest thread handled by front-desk staff.
type Conversation struct {
	ID                 int64              `json:"id"`
	Guest              int64              `json:"guest"`
	Hotel              string             `json:"hotel"`
	Department         string             `json:"department"`
	Status             ConversationStatus `json:"status"`
	GuestInfo          GuestInfo          `json:"guest_info"`
	HotelName          string             `json:"hotel_name"`
	LastMessageAt      Time               `json:"last_message_at"`
	LastMessagePreview string             `json:"last_message_preview"`
	UnreadCount        int                `json:"unread_count"`
	LastMessage        *Message           `json:"last_message"`
	CreatedAt          Time               `json:"created_at"`
	UpdatedAt          Time               `json:"updated_at"`
}

// ConversationDetails is the REST payload for a single conversation.
type ConversationDetails struct {
	Conversation Conversation `json:"conversation"`
	Messages     []Message    `json:"messages"`
}

// MediaUpload is the REST payload returned after uploading a file.
type MediaUpload struct {
	FileURL        string `json:"file_url"`
	Filename       string `json:"filename"`
	FileType       string `json:"file_type"`
	FileSize       int64  `json:"file_size"`
	Caption        string `json:"caption"`
	ConversationID int64  `json:"conversation_id"`
}

// File is a local file to be uploaded as a media message.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}
