package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lobbybee/frontdesk/internal/auth"
	"github.com/lobbybee/frontdesk/internal/bus"
	"github.com/lobbybee/frontdesk/internal/domain"
	"github.com/lobbybee/frontdesk/internal/envelope"
	"github.com/lobbybee/frontdesk/internal/transport"
)

func TestInitChatConnectsWithToken(t *testing.T) {
	h := newHarness(t)
	var called bool
	h.store.SetInboundHandler(func(envelope.Inbound) { called = true })

	require.NoError(t, h.store.InitChat(context.Background()))

	assert.Len(t, h.store.Conversations(), 2)
	assert.Equal(t, []string{"tok"}, h.tr.tokens)
	require.NotNil(t, h.tr.handler)
	h.tr.handler(envelope.Unknown{Type: "x"})
	assert.True(t, called)
	assert.False(t, h.store.LoadingConversations())
}

func TestInitChatFetchFailureKeepsEmptyList(t *testing.T) {
	h := newHarness(t)
	h.api.convErr = errors.New("503")

	require.NoError(t, h.store.InitChat(context.Background()))
	assert.Empty(t, h.store.Conversations())
	assert.Equal(t, []string{"tok"}, h.tr.tokens)
}

func TestInitChatWithoutToken(t *testing.T) {
	h := newHarness(t)
	h.store.tokens = auth.Static("")

	require.NoError(t, h.store.InitChat(context.Background()))
	assert.Len(t, h.store.Conversations(), 2)
	assert.Empty(t, h.tr.tokens)
}

func TestSelectConversation(t *testing.T) {
	h := selected(t)

	assert.Equal(t, int64(42), h.store.SelectedID())
	assert.Equal(t, []envelope.Type{envelope.TypeSubscribe, envelope.TypeMarkRead}, h.tr.sentTypes())
	msgs := h.store.CurrentMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Content)
	// Initial load plus the post-selection refresh.
	assert.Equal(t, 2, h.api.convCalls())

	require.NoError(t, h.store.SelectConversation(context.Background(), 7))
	assert.Equal(t, []envelope.Type{
		envelope.TypeSubscribe, envelope.TypeMarkRead,
		envelope.TypeUnsubscribe, envelope.TypeSubscribe, envelope.TypeMarkRead,
	}, h.tr.sentTypes())
	assert.Equal(t, envelope.Unsubscribe{ConversationID: 42}, h.tr.sentEnvelopes()[2])
	msgs = h.store.CurrentMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.False(t, h.store.LoadingMessages())
}

func TestSelectConversationFetchErrorKeepsState(t *testing.T) {
	h := selected(t)
	h.api.fetchMessages = func(context.Context, int64) (domain.ConversationDetails, error) {
		return domain.ConversationDetails{}, errors.New("boom")
	}

	err := h.store.SelectConversation(context.Background(), 7)
	require.Error(t, err)
	assert.Len(t, h.store.Messages(), 1)
	assert.Equal(t, int64(42), h.store.Messages()[0].ConversationID)
}

func TestStaleSelectionIsDiscarded(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	h.api.fetchMessages = func(_ context.Context, id int64) (domain.ConversationDetails, error) {
		if id == 42 {
			<-release
			return domain.ConversationDetails{
				Conversation: domain.Conversation{ID: 42},
				Messages:     []domain.Message{{ID: 100, ConversationID: 42, Content: "stale"}},
			}, nil
		}
		return domain.ConversationDetails{
			Conversation: domain.Conversation{ID: id},
			Messages:     []domain.Message{{ID: 200, ConversationID: id, Content: "fresh"}},
		}, nil
	}

	done := make(chan error, 1)
	go func() { done <- h.store.SelectConversation(context.Background(), 42) }()
	waitFor(t, func() bool { return h.store.SelectedID() == 42 })

	require.NoError(t, h.store.SelectConversation(context.Background(), 7))
	close(release)
	require.NoError(t, <-done)

	assert.Equal(t, int64(7), h.store.SelectedID())
	msgs := h.store.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "fresh", msgs[0].Content)
}

func TestSendRequiresSelection(t *testing.T) {
	h := newHarness(t)
	_, err := h.store.SendMessage(context.Background(), "hello")
	require.ErrorIs(t, err, ErrNoSelection)
	require.ErrorIs(t, h.store.SendTyping(true), ErrNoSelection)
	require.ErrorIs(t, h.store.CloseConversation(), ErrNoSelection)
	require.ErrorIs(t, h.store.ReopenTemporary(), ErrNoSelection)
	require.ErrorIs(t, h.store.MarkAsRead(), ErrNoSelection)
	assert.Empty(t, h.store.Messages())
}

func TestSendAndAcknowledgeKeepsSlot(t *testing.T) {
	h := selected(t)

	msg, err := h.store.SendMessage(context.Background(), "Hello")
	require.NoError(t, err)
	assert.Less(t, msg.ID, int64(0))
	assert.Equal(t, int64(42), msg.ConversationID)
	assert.Equal(t, "Hello", msg.Content)
	assert.Equal(t, domain.LabelSending, msg.Status)
	assert.Equal(t, domain.Pending, msg.Delivery)

	msgs := h.store.CurrentMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, msg.ID, msgs[1].ID)

	sent := h.tr.sentEnvelopes()
	text, ok := sent[len(sent)-1].(envelope.Text)
	require.True(t, ok)
	assert.Equal(t, envelope.Text{ConversationID: 42, Content: "Hello", ClientID: msg.ClientID}, text)

	// Server without correlation support: positional match.
	h.store.HandleAcknowledgment(envelope.Acknowledgment{
		Status: envelope.AckReceived, MessageID: 999, ConversationID: 42,
	})

	msgs = h.store.CurrentMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(999), msgs[1].ID)
	assert.Equal(t, domain.LabelSent, msgs[1].Status)
	assert.Equal(t, "Hello", msgs[1].Content)
}

func TestPushedCopyBeforeAcknowledgmentIsMerged(t *testing.T) {
	h := selected(t)

	msg, err := h.store.SendMessage(context.Background(), "Hello")
	require.NoError(t, err)
	before := len(h.store.CurrentMessages())

	// The server echoes the staff message to subscribers before the ack.
	h.store.HandleNewMessage(domain.Message{
		ID: 999, ConversationID: 42, SenderType: domain.SenderStaff,
		SenderName: "Front Desk", MessageType: domain.MessageText, Content: "Hello",
	})
	h.store.HandleAcknowledgment(envelope.Acknowledgment{
		Status: envelope.AckReceived, MessageID: 999, ConversationID: 42,
	})

	msgs := h.store.CurrentMessages()
	require.Len(t, msgs, before)
	count := 0
	for _, m := range msgs {
		if m.ID == 999 {
			count++
			assert.Equal(t, msg.ClientID, m.ClientID)
			assert.Equal(t, domain.Sent, m.Delivery)
		}
	}
	assert.Equal(t, 1, count)
	_, ok := h.store.Message(msg.ID)
	assert.False(t, ok)
}

func TestAcknowledgmentByClientID(t *testing.T) {
	h := selected(t)

	first, err := h.store.SendMessage(context.Background(), "one")
	require.NoError(t, err)
	second, err := h.store.SendMessage(context.Background(), "two")
	require.NoError(t, err)
	assert.Less(t, second.ID, first.ID)

	h.store.HandleAcknowledgment(envelope.Acknowledgment{
		Status: envelope.AckReceived, MessageID: 501, ConversationID: 42, ClientID: second.ClientID,
	})

	got, ok := h.store.Message(501)
	require.True(t, ok)
	assert.Equal(t, "two", got.Content)
	still, ok := h.store.Message(first.ID)
	require.True(t, ok)
	assert.Equal(t, domain.LabelSending, still.Status)
}

func TestAcknowledgmentWithoutMessageIDIsIgnored(t *testing.T) {
	h := selected(t)
	msg, err := h.store.SendMessage(context.Background(), "x")
	require.NoError(t, err)

	h.store.HandleAcknowledgment(envelope.Acknowledgment{Status: envelope.AckReceived, ConversationID: 42})

	got, ok := h.store.Message(msg.ID)
	require.True(t, ok)
	assert.Equal(t, domain.Pending, got.Delivery)
}

func TestUnacknowledgedSendFails(t *testing.T) {
	h := selected(t, WithAckTimeout(30*time.Millisecond))
	failed, unsub := h.bus.Subscribe(bus.KindMessageFailed, 4)
	defer unsub()

	msg, err := h.store.SendMessage(context.Background(), "Hello")
	require.NoError(t, err)

	waitFor(t, func() bool {
		m, _ := h.store.Message(msg.ID)
		return m.Status == domain.LabelFailedToSend
	})
	select {
	case evt := <-failed:
		assert.Equal(t, msg.ID, evt.Payload.(domain.Message).ID)
	case <-time.After(time.Second):
		t.Fatal("no message_failed event")
	}
}

func TestLateTimerDoesNotRegressAcknowledged(t *testing.T) {
	h := selected(t, WithAckTimeout(40*time.Millisecond))

	msg, err := h.store.SendMessage(context.Background(), "Hello")
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	h.store.HandleAcknowledgment(envelope.Acknowledgment{
		Status: envelope.AckReceived, MessageID: 999, ConversationID: 42, ClientID: msg.ClientID,
	})
	time.Sleep(80 * time.Millisecond)

	got, ok := h.store.Message(999)
	require.True(t, ok)
	assert.Equal(t, domain.LabelSent, got.Status)
	assert.Equal(t, domain.Sent, got.Delivery)
}

func TestSendErrorFailsImmediately(t *testing.T) {
	h := selected(t)
	h.tr.setErr(errors.New("not connected"))

	msg, err := h.store.SendMessage(context.Background(), "Hello")
	require.Error(t, err)
	assert.Equal(t, domain.LabelFailedToSend, msg.Status)

	got, ok := h.store.Message(msg.ID)
	require.True(t, ok)
	assert.Equal(t, domain.Failed, got.Delivery)
}

func TestSendWhileDisconnectedWaitsForTimeout(t *testing.T) {
	h := selected(t, WithAckTimeout(30*time.Millisecond))
	h.tr.setErr(transport.ErrNotConnected)

	msg, err := h.store.SendMessage(context.Background(), "Hello")
	require.NoError(t, err)
	assert.Equal(t, domain.LabelSending, msg.Status)
	assert.Equal(t, domain.Pending, msg.Delivery)

	waitFor(t, func() bool {
		m, _ := h.store.Message(msg.ID)
		return m.Status == domain.LabelFailedToSend
	})
}

func TestRetryText(t *testing.T) {
	h := selected(t, WithAckTimeout(time.Hour))
	h.tr.setErr(errors.New("not connected"))
	msg, _ := h.store.SendMessage(context.Background(), "Hello")
	h.tr.setErr(nil)

	require.NoError(t, h.store.RetryMessage(context.Background(), msg.ID))

	got, _ := h.store.Message(msg.ID)
	assert.Equal(t, domain.LabelSending, got.Status)
	sent := h.tr.sentEnvelopes()
	assert.Equal(t, envelope.Text{ConversationID: 42, Content: "Hello", ClientID: msg.ClientID}, sent[len(sent)-1])
}

func TestRetryRejections(t *testing.T) {
	h := selected(t)
	require.ErrorIs(t, h.store.RetryMessage(context.Background(), 1), ErrNotRetryable)
	require.ErrorIs(t, h.store.RetryMessage(context.Background(), -5), ErrMessageNotFound)
}

func TestSendMediaMessage(t *testing.T) {
	h := selected(t, WithAckTimeout(time.Hour))
	release := make(chan struct{})
	h.api.upload = func(_ context.Context, id int64, f domain.File, caption string) (domain.MediaUpload, error) {
		<-release
		return domain.MediaUpload{
			FileURL:        "https://cdn.example.com/room.jpg",
			Filename:       "room.jpg",
			FileType:       "image",
			FileSize:       int64(len(f.Data)),
			Caption:        caption,
			ConversationID: id,
		}, nil
	}
	file := domain.File{Name: "room.jpg", ContentType: "image/jpeg", Data: make([]byte, 2<<20)}

	type result struct {
		msg domain.Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		m, err := h.store.SendMediaMessage(context.Background(), file, "Room view")
		done <- result{m, err}
	}()

	waitFor(t, func() bool { return len(h.store.CurrentMessages()) == 2 })
	pending := h.store.CurrentMessages()[1]
	assert.Equal(t, domain.LabelUploading, pending.Status)
	assert.Equal(t, "image", pending.Content)
	assert.Less(t, pending.ID, int64(0))

	close(release)
	res := <-done
	require.NoError(t, res.err)

	msgs := h.store.CurrentMessages()
	require.Len(t, msgs, 2)
	got := msgs[1]
	assert.Equal(t, pending.ID, got.ID)
	assert.Equal(t, "https://cdn.example.com/room.jpg", got.MediaURL)
	assert.Equal(t, "Room view", got.Content)
	assert.Equal(t, domain.LabelSending, got.Status)

	sent := h.tr.sentEnvelopes()
	assert.Equal(t, envelope.Media{
		ConversationID: 42,
		FileURL:        "https://cdn.example.com/room.jpg",
		Filename:       "room.jpg",
		FileType:       "image",
		Caption:        "Room view",
		ClientID:       got.ClientID,
	}, sent[len(sent)-1])

	caption := "Ocean view"
	h.store.HandleAcknowledgment(envelope.Acknowledgment{
		Status: envelope.AckReceived, MessageID: 77, ConversationID: 42,
		MessageType: domain.MessageImage, Caption: &caption,
	})
	acked, ok := h.store.Message(77)
	require.True(t, ok)
	assert.Equal(t, "Ocean view", acked.Content)

	// Retry of an acknowledged message is refused.
	require.ErrorIs(t, h.store.RetryMessage(context.Background(), 77), ErrNotRetryable)
}

func TestUploadFailureIsTerminal(t *testing.T) {
	h := selected(t)
	h.api.upload = func(context.Context, int64, domain.File, string) (domain.MediaUpload, error) {
		return domain.MediaUpload{}, errors.New("413")
	}
	before := len(h.tr.sentEnvelopes())

	msg, err := h.store.SendMediaMessage(context.Background(), domain.File{Name: "a.pdf", ContentType: "application/pdf"}, "")
	require.Error(t, err)
	assert.Equal(t, domain.LabelFailedToUpload, msg.Status)
	assert.Len(t, h.tr.sentEnvelopes(), before)
	require.ErrorIs(t, h.store.RetryMessage(context.Background(), msg.ID), ErrNotRetryable)

	// An ack for the conversation must not claim the never-sent message.
	h.store.HandleAcknowledgment(envelope.Acknowledgment{Status: envelope.AckReceived, MessageID: 5, ConversationID: 42})
	_, ok := h.store.Message(5)
	assert.False(t, ok)
}

func TestRetryMedia(t *testing.T) {
	h := selected(t, WithAckTimeout(time.Hour))
	h.api.upload = func(context.Context, int64, domain.File, string) (domain.MediaUpload, error) {
		return domain.MediaUpload{FileURL: "https://cdn/x.mp4", Filename: "x.mp4", FileType: "video"}, nil
	}
	h.tr.setErr(errors.New("closed"))
	msg, err := h.store.SendMediaMessage(context.Background(), domain.File{Name: "x.mp4", ContentType: "video/mp4"}, "clip")
	require.Error(t, err)
	assert.Equal(t, domain.LabelFailedToSend, msg.Status)
	h.tr.setErr(nil)

	require.NoError(t, h.store.RetryMessage(context.Background(), msg.ID))
	sent := h.tr.sentEnvelopes()
	assert.Equal(t, envelope.Media{
		ConversationID: 42, FileURL: "https://cdn/x.mp4", Filename: "x.mp4",
		FileType: "video", Caption: "clip", ClientID: msg.ClientID,
	}, sent[len(sent)-1])
}

func TestMarkedReadZeroesUnread(t *testing.T) {
	for _, prior := range []int{0, 1, 5} {
		h := newHarness(t)
		require.NoError(t, h.store.InitChat(context.Background()))
		h.store.HandleConversationUpdate(domain.Conversation{ID: 7, UnreadCount: prior})

		h.store.HandleAcknowledgment(envelope.Acknowledgment{Status: envelope.AckMarkedRead, ConversationID: 7})

		c, ok := h.store.Conversation(7)
		require.True(t, ok)
		assert.Equal(t, 0, c.UnreadCount, "prior %d", prior)
	}
}

func TestConversationClosedAck(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.InitChat(context.Background()))

	h.store.HandleAcknowledgment(envelope.Acknowledgment{Status: envelope.AckConversationClosed, ConversationID: 7})
	c, _ := h.store.Conversation(7)
	assert.Equal(t, domain.ConversationClosed, c.Status)

	// Subscription acks and unknown statuses change nothing.
	before := h.store.Conversations()
	h.store.HandleAcknowledgment(envelope.Acknowledgment{Status: envelope.AckSubscribed, ConversationID: 7})
	h.store.HandleAcknowledgment(envelope.Acknowledgment{Status: "weird", ConversationID: 7})
	assert.Equal(t, before, h.store.Conversations())
}

func TestGuestMessageOnOtherConversation(t *testing.T) {
	h := selected(t)
	c, _ := h.store.Conversation(7)
	prior := c.UnreadCount

	msg := domain.Message{ID: 300, ConversationID: 7, SenderType: domain.SenderGuest, MessageType: domain.MessageText, Content: "Late checkout?"}
	h.store.HandleNewMessage(msg)

	c, _ = h.store.Conversation(7)
	assert.Equal(t, prior+1, c.UnreadCount)
	assert.Equal(t, "Late checkout?", c.LastMessagePreview)
	require.NotNil(t, c.LastMessage)
	assert.Equal(t, int64(300), c.LastMessage.ID)
	// Not part of the selected timeline.
	assert.Len(t, h.store.CurrentMessages(), 1)

	h.store.HandleNewMessage(domain.Message{ID: 301, ConversationID: 7, SenderType: domain.SenderStaff, Content: "Sure"})
	c, _ = h.store.Conversation(7)
	assert.Equal(t, prior+1, c.UnreadCount)

	// Redelivery replaces rather than duplicates.
	h.store.HandleNewMessage(msg)
	count := 0
	for _, m := range h.store.Messages() {
		if m.ID == 300 {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestMessageForUnknownConversation(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.InitChat(context.Background()))

	h.store.HandleNewMessage(domain.Message{
		ID: 1, ConversationID: 99, SenderType: domain.SenderGuest, Content: "hello",
		GuestInfo: domain.MessageGuestInfo{ID: 4, Name: "Ana", RoomNumber: "204", Floor: 2},
	})

	convs := h.store.Conversations()
	require.Len(t, convs, 3)
	assert.Equal(t, int64(99), convs[0].ID)
	assert.Equal(t, "Ana", convs[0].GuestInfo.FullName)
	assert.Equal(t, "204", convs[0].GuestInfo.RoomNumber)
	assert.Equal(t, 1, convs[0].UnreadCount)
	assert.Equal(t, domain.ConversationActive, convs[0].Status)
}

func TestNewConversationAndUpdate(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.InitChat(context.Background()))

	h.store.HandleNewConversation(domain.Conversation{ID: 8})
	h.store.HandleNewConversation(domain.Conversation{ID: 7, Department: "housekeeping"})
	convs := h.store.Conversations()
	require.Len(t, convs, 3)
	assert.Equal(t, []int64{7, 8, 42}, []int64{convs[0].ID, convs[1].ID, convs[2].ID})

	h.store.HandleConversationUpdate(domain.Conversation{ID: 8, Status: domain.ConversationClosed})
	c, _ := h.store.Conversation(8)
	assert.Equal(t, domain.ConversationClosed, c.Status)

	h.store.HandleConversationUpdate(domain.Conversation{ID: 1000})
	assert.Len(t, h.store.Conversations(), 3)
}

func TestCloseConversationEventRefreshes(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.InitChat(context.Background()))
	h.api.mu.Lock()
	h.api.convs = []domain.Conversation{{ID: 42}, {ID: 7, Status: domain.ConversationClosed}}
	h.api.mu.Unlock()
	calls := h.api.convCalls()

	changed, unsub := h.bus.Subscribe(bus.KindConversationsChanged, 8)
	defer unsub()

	require.NoError(t, h.store.HandleCloseConversation(context.Background(), 7))

	assert.Equal(t, calls+1, h.api.convCalls())
	c, _ := h.store.Conversation(7)
	assert.Equal(t, domain.ConversationClosed, c.Status)
	assert.Len(t, changed, 2)
}

func TestCloseConversationUnknownStillRefreshes(t *testing.T) {
	h := newHarness(t)
	calls := h.api.convCalls()
	require.NoError(t, h.store.HandleCloseConversation(context.Background(), 555))
	assert.Equal(t, calls+1, h.api.convCalls())
}

func TestOutboundConversationActions(t *testing.T) {
	h := selected(t)
	require.NoError(t, h.store.SendTyping(true))
	require.NoError(t, h.store.MarkAsRead())
	require.NoError(t, h.store.CloseConversation())
	require.NoError(t, h.store.ReopenTemporary())

	sent := h.tr.sentEnvelopes()
	assert.Equal(t, []envelope.Outbound{
		envelope.Typing{ConversationID: 42, IsTyping: true},
		envelope.MarkRead{ConversationID: 42},
		envelope.CloseConversation{ConversationID: 42},
		envelope.ReopenTemporary{ConversationID: 42},
	}, sent[len(sent)-4:])
}

func TestLocalIDsStrictlyDecrease(t *testing.T) {
	h := selected(t, WithAckTimeout(time.Hour))
	fixed := time.UnixMilli(1_700_000_000_000)
	h.store.now = func() time.Time { return fixed }

	var prev int64
	for i := 0; i < 5; i++ {
		msg, err := h.store.SendMessage(context.Background(), "burst")
		require.NoError(t, err)
		if i == 0 {
			assert.Equal(t, -fixed.UnixMilli(), msg.ID)
		} else {
			assert.Less(t, msg.ID, prev)
		}
		prev = msg.ID
	}
}

func TestClassifyMedia(t *testing.T) {
	tests := map[string]string{
		"image/png":       "image",
		"video/mp4":       "video",
		"audio/ogg":       "audio",
		"application/pdf": "document",
		"":                "document",
	}
	for in, want := range tests {
		assert.Equal(t, want, ClassifyMedia(in), in)
	}
}

func TestGuestTypingAndStatusArePublished(t *testing.T) {
	h := newHarness(t)
	ch, unsub := h.bus.Subscribe("chat.", 8)
	defer unsub()

	h.store.HandleTyping(envelope.TypingEvent{ConversationID: 7, IsTyping: true})
	h.store.HandleUserStatus(envelope.UserStatusEvent{UserID: 3, IsOnline: true})
	h.store.HandleChatError(envelope.ErrorEvent{Message: "nope"})

	var kinds []string
	for i := 0; i < 3; i++ {
		kinds = append(kinds, (<-ch).Kind)
	}
	assert.Equal(t, []string{bus.KindTyping, bus.KindUserStatus, bus.KindChatError}, kinds)
}
