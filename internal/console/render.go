package console

import (
	"fmt"
	"strings"

	"github.com/lobbybee/frontdesk/internal/domain"
	"github.com/lobbybee/frontdesk/internal/notify"
)

const timeLayout = "15:04"

func formatConversation(c domain.Conversation, selected bool) string {
	marker := " "
	if selected {
		marker = ">"
	}
	name := c.GuestInfo.FullName
	if name == "" {
		name = fmt.Sprintf("guest %d", c.Guest)
	}
	room := ""
	if c.GuestInfo.RoomNumber != "" {
		room = " (room " + c.GuestInfo.RoomNumber + ")"
	}
	unread := ""
	if c.UnreadCount > 0 {
		unread = fmt.Sprintf(" [%d]", c.UnreadCount)
	}
	line := fmt.Sprintf("%s %4d  %s%s%s", marker, c.ID, sanitize(name), sanitize(room), unread)
	if c.Status == domain.ConversationClosed {
		line += " closed"
	}
	if c.LastMessagePreview != "" {
		line += "  " + truncate(sanitize(c.LastMessagePreview), 40)
	}
	return line
}

func formatMessage(m domain.Message) string {
	var b strings.Builder
	if !m.CreatedAt.IsZero() {
		b.WriteString(m.CreatedAt.Local().Format(timeLayout))
		b.WriteByte(' ')
	}
	fmt.Fprintf(&b, "#%d %s: ", m.ID, sanitize(senderLabel(m)))
	if m.MessageType != domain.MessageText && m.MessageType != "" {
		fmt.Fprintf(&b, "[%s", m.MessageType)
		if m.MediaFilename != "" {
			b.WriteString(" " + sanitize(m.MediaFilename))
		}
		b.WriteString("] ")
	}
	b.WriteString(sanitize(m.Content))
	if label := m.Delivery.Label(); label != "" {
		b.WriteString("  (" + label + ")")
	}
	return b.String()
}

func senderLabel(m domain.Message) string {
	switch {
	case m.SenderName != "":
		return m.SenderName
	case m.GuestInfo.Name != "":
		return m.GuestInfo.Name
	default:
		return string(m.SenderType)
	}
}

func formatNotification(n notify.Notification) string {
	read := "*"
	if n.Read {
		read = " "
	}
	return fmt.Sprintf("%s %s  %s: %s", read, n.ID, sanitize(n.Title), sanitize(n.Message))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
