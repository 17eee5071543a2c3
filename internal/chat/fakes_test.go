package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lobbybee/frontdesk/internal/auth"
	"github.com/lobbybee/frontdesk/internal/bus"
	"github.com/lobbybee/frontdesk/internal/domain"
	"github.com/lobbybee/frontdesk/internal/envelope"
	"github.com/lobbybee/frontdesk/internal/transport"
)

type fakeAPI struct {
	mu             sync.Mutex
	convs          []domain.Conversation
	convErr        error
	fetchConvCalls int
	details        map[int64]domain.ConversationDetails
	fetchMessages  func(ctx context.Context, id int64) (domain.ConversationDetails, error)
	upload         func(ctx context.Context, id int64, f domain.File, caption string) (domain.MediaUpload, error)
}

func (f *fakeAPI) FetchConversations(context.Context) ([]domain.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchConvCalls++
	if f.convErr != nil {
		return nil, f.convErr
	}
	return append([]domain.Conversation(nil), f.convs...), nil
}

func (f *fakeAPI) FetchMessages(ctx context.Context, id int64) (domain.ConversationDetails, error) {
	if f.fetchMessages != nil {
		return f.fetchMessages(ctx, id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.details[id], nil
}

func (f *fakeAPI) UploadMedia(ctx context.Context, id int64, file domain.File, caption string) (domain.MediaUpload, error) {
	return f.upload(ctx, id, file, caption)
}

func (f *fakeAPI) convCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchConvCalls
}

type fakeTransport struct {
	mu        sync.Mutex
	sent      []envelope.Outbound
	err       error
	tokens    []string
	handler   transport.Handler
	connected bool
}

func (f *fakeTransport) Connect(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, token)
	f.connected = true
	return nil
}

func (f *fakeTransport) Send(o envelope.Outbound) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, o)
	return nil
}

func (f *fakeTransport) OnMessage(h transport.Handler) {
	f.mu.Lock()
	f.handler = h
	f.mu.Unlock()
}

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeTransport) sentEnvelopes() []envelope.Outbound {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]envelope.Outbound(nil), f.sent...)
}

func (f *fakeTransport) sentTypes() []envelope.Type {
	var out []envelope.Type
	for _, o := range f.sentEnvelopes() {
		out = append(out, o.OutboundType())
	}
	return out
}

type harness struct {
	store *Store
	api   *fakeAPI
	tr    *fakeTransport
	bus   *bus.Bus
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		api: &fakeAPI{
			convs: []domain.Conversation{
				{ID: 42, Status: domain.ConversationActive, UnreadCount: 2},
				{ID: 7, Status: domain.ConversationActive, UnreadCount: 0},
			},
			details: map[int64]domain.ConversationDetails{
				42: {
					Conversation: domain.Conversation{ID: 42, Status: domain.ConversationActive},
					Messages:     []domain.Message{{ID: 1, ConversationID: 42, SenderType: domain.SenderGuest, Content: "hi"}},
				},
				7: {
					Conversation: domain.Conversation{ID: 7, Status: domain.ConversationActive},
					Messages:     []domain.Message{{ID: 2, ConversationID: 7, Content: "hello"}},
				},
			},
		},
		tr:  &fakeTransport{connected: true},
		bus: bus.New(),
	}
	opts = append([]Option{WithBus(h.bus)}, opts...)
	h.store = New(h.api, h.tr, auth.Static("tok"), zap.NewNop(), opts...)
	t.Cleanup(h.store.Close)
	return h
}

// selected returns a harness with the conversation list loaded and
// conversation 42 selected.
func selected(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := newHarness(t, opts...)
	if err := h.store.InitChat(context.Background()); err != nil {
		t.Fatalf("InitChat: %v", err)
	}
	if err := h.store.SelectConversation(context.Background(), 42); err != nil {
		t.Fatalf("SelectConversation: %v", err)
	}
	return h
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
