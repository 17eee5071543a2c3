// Package notify keeps the in-process notification list fed by inbound
// guest messages and other front-desk events.
package notify

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lobbybee/frontdesk/internal/bus"
	"github.com/lobbybee/frontdesk/internal/metrics"
)

// DefaultTTL is how long a non-chat notification stays in the list.
const DefaultTTL = 10 * time.Second

// Category classifies a notification.
type Category string

const (
	CategoryChat           Category = "chat"
	CategoryCheckin        Category = "checkin"
	CategoryCheckout       Category = "checkout"
	CategoryServiceRequest Category = "service_request"
	CategoryInfo           Category = "info"
	CategoryWarning        Category = "warning"
	CategorySuccess        Category = "success"
)

// Notification is one entry in the list. The conversation fields are set
// for chat notifications only.
type Notification struct {
	ID        string
	Category  Category
	Title     string
	Message   string
	Timestamp time.Time
	Read      bool

	ConversationID int64
	GuestName      string
	RoomNumber     string
}

// Persister stores chat notifications across restarts.
type Persister interface {
	SaveNotification(ctx context.Context, n Notification) error
	DeleteNotifications(ctx context.Context, ids ...string) error
	LoadNotifications(ctx context.Context) ([]Notification, error)
}

// Center is the process-wide notification list, newest first.
type Center struct {
	ttl     time.Duration
	persist Persister
	bus     *bus.Bus
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time

	mu     sync.Mutex
	items  []Notification
	timers map[string]*time.Timer
}

// Option customizes a Center.
type Option func(*Center)

// WithTTL overrides DefaultTTL for non-chat notifications.
func WithTTL(d time.Duration) Option {
	return func(c *Center) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithPersister keeps chat notifications in p.
func WithPersister(p Persister) Option {
	return func(c *Center) { c.persist = p }
}

func WithBus(b *bus.Bus) Option {
	return func(c *Center) { c.bus = b }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Center) { c.metrics = m }
}

// New creates an empty center.
func New(logger *zap.Logger, opts ...Option) *Center {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Center{
		ttl:    DefaultTTL,
		logger: logger,
		now:    time.Now,
		timers: make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load restores persisted notifications. Without a persister it does
// nothing.
func (c *Center) Load(ctx context.Context) error {
	if c.persist == nil {
		return nil
	}
	items, err := c.persist.LoadNotifications(ctx)
	if err != nil {
		return fmt.Errorf("load notifications: %w", err)
	}
	c.mu.Lock()
	c.items = append(c.items, items...)
	c.mu.Unlock()
	c.logger.Info("notifications restored", zap.Int("count", len(items)))
	c.bus.Emit(bus.KindNotificationsChanged, nil)
	return nil
}

// Add prepends n and returns its generated id. Non-chat notifications are
// removed automatically after the TTL.
func (c *Center) Add(n Notification) string {
	n.ID = newID(c.now())
	n.Timestamp = c.now()
	n.Read = false

	c.mu.Lock()
	c.items = append([]Notification{n}, c.items...)
	if n.Category != CategoryChat {
		id := n.ID
		c.timers[id] = time.AfterFunc(c.ttl, func() { c.expire(id) })
	}
	c.mu.Unlock()

	c.save(n)
	c.metrics.IncNotification(string(n.Category))
	c.bus.Emit(bus.KindNotificationAdded, n)
	c.bus.Emit(bus.KindNotificationsChanged, nil)
	return n.ID
}

// AddChatNotification records a new guest message.
func (c *Center) AddChatNotification(conversationID int64, guestName, preview, roomNumber string) string {
	return c.Add(Notification{
		Category:       CategoryChat,
		Title:          "New message from " + guestName,
		Message:        preview,
		ConversationID: conversationID,
		GuestName:      guestName,
		RoomNumber:     roomNumber,
	})
}

// MarkAsRead marks one notification read. It reports whether id was found.
func (c *Center) MarkAsRead(id string) bool {
	if id == "" {
		c.logger.Warn("empty notification id")
		return false
	}
	c.mu.Lock()
	i := c.index(id)
	var n Notification
	if i >= 0 {
		c.items[i].Read = true
		n = c.items[i]
	}
	c.mu.Unlock()
	if i < 0 {
		return false
	}
	c.save(n)
	c.bus.Emit(bus.KindNotificationsChanged, nil)
	return true
}

func (c *Center) MarkAllAsRead() {
	c.mu.Lock()
	var changed []Notification
	for i := range c.items {
		if !c.items[i].Read {
			c.items[i].Read = true
			changed = append(changed, c.items[i])
		}
	}
	c.mu.Unlock()
	for _, n := range changed {
		c.save(n)
	}
	c.bus.Emit(bus.KindNotificationsChanged, nil)
}

// Remove deletes one notification. It reports whether id was found.
func (c *Center) Remove(id string) bool {
	if id == "" {
		c.logger.Warn("empty notification id")
		return false
	}
	c.mu.Lock()
	i := c.index(id)
	if i >= 0 {
		c.items = append(c.items[:i], c.items[i+1:]...)
		c.stopTimer(id)
	}
	c.mu.Unlock()
	if i < 0 {
		return false
	}
	c.delete(id)
	c.bus.Emit(bus.KindNotificationsChanged, nil)
	return true
}

func (c *Center) ClearAll() {
	c.mu.Lock()
	ids := make([]string, 0, len(c.items))
	for _, n := range c.items {
		ids = append(ids, n.ID)
		c.stopTimer(n.ID)
	}
	c.items = nil
	c.mu.Unlock()
	c.delete(ids...)
	c.bus.Emit(bus.KindNotificationsChanged, nil)
}

// ClearRead drops every read notification.
func (c *Center) ClearRead() {
	c.mu.Lock()
	kept := c.items[:0]
	var ids []string
	for _, n := range c.items {
		if n.Read {
			ids = append(ids, n.ID)
			c.stopTimer(n.ID)
			continue
		}
		kept = append(kept, n)
	}
	c.items = kept
	c.mu.Unlock()
	c.delete(ids...)
	c.bus.Emit(bus.KindNotificationsChanged, nil)
}

// List returns a copy of the notifications, newest first.
func (c *Center) List() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Notification(nil), c.items...)
}

func (c *Center) UnreadCount() int {
	return c.count(func(n Notification) bool { return !n.Read })
}

func (c *Center) UnreadChatCount() int {
	return c.count(func(n Notification) bool { return !n.Read && n.Category == CategoryChat })
}

// Close stops pending expiry timers.
func (c *Center) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.timers {
		c.stopTimer(id)
	}
}

func (c *Center) expire(id string) {
	c.mu.Lock()
	if _, ok := c.timers[id]; !ok {
		c.mu.Unlock()
		return
	}
	delete(c.timers, id)
	i := c.index(id)
	if i >= 0 {
		c.items = append(c.items[:i], c.items[i+1:]...)
	}
	c.mu.Unlock()
	if i >= 0 {
		c.bus.Emit(bus.KindNotificationsChanged, nil)
	}
}

func (c *Center) count(match func(Notification) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, item := range c.items {
		if match(item) {
			n++
		}
	}
	return n
}

// index must be called with mu held.
func (c *Center) index(id string) int {
	for i := range c.items {
		if c.items[i].ID == id {
			return i
		}
	}
	return -1
}

// stopTimer must be called with mu held.
func (c *Center) stopTimer(id string) {
	if t, ok := c.timers[id]; ok {
		t.Stop()
		delete(c.timers, id)
	}
}

// Only chat notifications outlive the process.
func (c *Center) save(n Notification) {
	if c.persist == nil || n.Category != CategoryChat {
		return
	}
	if err := c.persist.SaveNotification(context.Background(), n); err != nil {
		c.logger.Error("failed to persist notification", zap.String("id", n.ID), zap.Error(err))
	}
}

func (c *Center) delete(ids ...string) {
	if c.persist == nil || len(ids) == 0 {
		return
	}
	if err := c.persist.DeleteNotifications(context.Background(), ids...); err != nil {
		c.logger.Error("failed to delete notifications", zap.Int("count", len(ids)), zap.Error(err))
	}
}

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

func newID(now time.Time) string {
	suffix := make([]byte, 9)
	for i := range suffix {
		suffix[i] = idAlphabet[rand.Intn(len(idAlphabet))]
	}
	return fmt.Sprintf("notification-%d-%s", now.UnixMilli(), suffix)
}
