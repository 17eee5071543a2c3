// Package console is a line-oriented front end for the chat store. It reads
// slash commands from an input stream and prints store and notification
// events as they happen.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/lobbybee/frontdesk/internal/bus"
	"github.com/lobbybee/frontdesk/internal/domain"
	"github.com/lobbybee/frontdesk/internal/envelope"
	"github.com/lobbybee/frontdesk/internal/notify"
	"github.com/lobbybee/frontdesk/internal/status"
)

// Chat is the subset of chat.Store the console drives.
type Chat interface {
	Conversations() []domain.Conversation
	CurrentMessages() []domain.Message
	SelectedID() int64
	SelectConversation(ctx context.Context, id int64) error
	SendMessage(ctx context.Context, text string) (domain.Message, error)
	SendMediaMessage(ctx context.Context, file domain.File, caption string) (domain.Message, error)
	RetryMessage(ctx context.Context, id int64) error
	SendTyping(isTyping bool) error
	CloseConversation() error
	ReopenTemporary() error
}

// Notifications is the subset of notify.Center the console drives.
type Notifications interface {
	List() []notify.Notification
	UnreadCount() int
	MarkAsRead(id string) bool
	MarkAllAsRead()
	ClearAll()
}

// State remembers the last opened conversation across runs.
type State interface {
	LastConversation(ctx context.Context) (int64, error)
	SetLastConversation(ctx context.Context, id int64) error
}

// ErrQuit is returned by Exec for /quit.
var ErrQuit = errors.New("quit")

// Console reads commands and renders events.
type Console struct {
	chat   Chat
	notes  Notifications
	state  State
	bus    *bus.Bus
	logger *zap.Logger

	mu   sync.Mutex
	out  io.Writer
	seen map[string]string
}

// New creates a console writing to out. state and b may be nil.
func New(c Chat, n Notifications, state State, b *bus.Bus, out io.Writer, logger *zap.Logger) *Console {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Console{
		chat:   c,
		notes:  n,
		state:  state,
		bus:    b,
		logger: logger,
		out:    out,
		seen:   make(map[string]string),
	}
}

// Run processes lines from in until EOF, /quit or ctx is done.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	// The event printer has exited by the time Run returns.
	var wg sync.WaitGroup
	done := make(chan struct{})
	defer wg.Wait()
	defer close(done)
	if c.bus != nil {
		events, cancel := c.bus.Subscribe("", 256)
		defer cancel()
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-done:
					return
				case evt := <-events:
					c.HandleEvent(evt)
				}
			}
		}()
	}

	c.println("type /help for commands")
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
		scanErr <- sc.Err()
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return <-scanErr
			}
			err := c.Exec(ctx, line)
			if errors.Is(err, ErrQuit) {
				return nil
			}
			if err != nil {
				c.printf("error: %v\n", err)
			}
		}
	}
}

// Exec runs a single input line.
func (c *Console) Exec(ctx context.Context, line string) error {
	if strings.TrimSpace(line) == "" {
		return nil
	}
	cmd, ok := ParseCommand(line)
	if !ok {
		_, err := c.chat.SendMessage(ctx, line)
		return err
	}

	switch cmd.Name {
	case "help", "h":
		c.printHelp()
	case "quit", "q":
		return ErrQuit
	case "list", "ls":
		c.printConversations()
	case "open", "o":
		return c.open(ctx, cmd.Args)
	case "history":
		c.printHistory()
	case "media":
		return c.sendMedia(ctx, cmd.Args)
	case "retry":
		id, err := parseID(cmd.Args)
		if err != nil {
			return err
		}
		return c.chat.RetryMessage(ctx, id)
	case "typing":
		switch cmd.Args {
		case "on":
			return c.chat.SendTyping(true)
		case "off":
			return c.chat.SendTyping(false)
		default:
			return errors.New("usage: /typing on|off")
		}
	case "close":
		return c.chat.CloseConversation()
	case "reopen":
		return c.chat.ReopenTemporary()
	case "notifications", "n":
		c.printNotifications()
	case "read":
		return c.markRead(cmd.Args)
	case "clear":
		c.notes.ClearAll()
	default:
		return fmt.Errorf("unknown command: /%s", cmd.Name)
	}
	return nil
}

// HandleEvent renders one bus event.
func (c *Console) HandleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindMessagesChanged:
		id, _ := evt.Payload.(int64)
		if id != 0 && id == c.chat.SelectedID() {
			c.printNewMessages()
		}
	case bus.KindMessageFailed:
		if m, ok := evt.Payload.(domain.Message); ok {
			c.printf("! message #%d was not delivered, /retry %d to resend\n", m.ID, m.ID)
		}
	case bus.KindTyping:
		if t, ok := evt.Payload.(envelope.TypingEvent); ok && t.IsTyping && t.ConversationID == c.chat.SelectedID() {
			c.printf("… %s is typing\n", sanitize(t.UserName))
		}
	case bus.KindUserStatus:
		if s, ok := evt.Payload.(envelope.UserStatusEvent); ok {
			c.printf("* %s is %s\n", sanitize(s.UserName), sanitize(s.Status))
		}
	case bus.KindChatError:
		if e, ok := evt.Payload.(envelope.ErrorEvent); ok {
			c.printf("! server error: %s\n", sanitize(e.Message))
		}
	case bus.KindNotificationAdded:
		if n, ok := evt.Payload.(notify.Notification); ok {
			c.printf("[%s] %s: %s\n", n.Category, sanitize(n.Title), sanitize(n.Message))
		}
	case bus.KindTransportStatus:
		if s, ok := evt.Payload.(status.StatusChange); ok {
			c.printf("* connection %s\n", strings.ToLower(string(s.To)))
		}
	}
}

func (c *Console) open(ctx context.Context, args string) error {
	var id int64
	if args == "" {
		if c.state == nil {
			return errors.New("usage: /open <id>")
		}
		last, err := c.state.LastConversation(ctx)
		if err != nil {
			return err
		}
		if last == 0 {
			return errors.New("no previous conversation, usage: /open <id>")
		}
		id = last
	} else {
		var err error
		if id, err = parseID(args); err != nil {
			return err
		}
	}

	c.mu.Lock()
	clear(c.seen)
	c.mu.Unlock()

	if err := c.chat.SelectConversation(ctx, id); err != nil {
		return err
	}
	if c.state != nil {
		if err := c.state.SetLastConversation(ctx, id); err != nil {
			c.logger.Warn("failed to remember conversation", zap.Int64("conversation_id", id), zap.Error(err))
		}
	}
	c.printHistory()
	return nil
}

func (c *Console) sendMedia(ctx context.Context, args string) error {
	path, caption, _ := strings.Cut(args, " ")
	if path == "" {
		return errors.New("usage: /media <path> [caption]")
	}
	file, err := readFile(path)
	if err != nil {
		return err
	}
	_, err = c.chat.SendMediaMessage(ctx, file, strings.TrimSpace(caption))
	return err
}

func (c *Console) markRead(args string) error {
	switch args {
	case "":
		return errors.New("usage: /read <id|all>")
	case "all":
		c.notes.MarkAllAsRead()
	default:
		if !c.notes.MarkAsRead(args) {
			return fmt.Errorf("notification %s not found", args)
		}
	}
	return nil
}

func (c *Console) printConversations() {
	convs := c.chat.Conversations()
	if len(convs) == 0 {
		c.println("no conversations")
		return
	}
	selected := c.chat.SelectedID()
	for _, conv := range convs {
		c.println(formatConversation(conv, conv.ID == selected))
	}
}

func (c *Console) printHistory() {
	msgs := c.chat.CurrentMessages()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range msgs {
		line := formatMessage(m)
		c.seen[messageKey(m)] = line
		fmt.Fprintln(c.out, line)
	}
}

// printNewMessages prints messages that are new or whose rendering changed
// since they were last printed.
func (c *Console) printNewMessages() {
	msgs := c.chat.CurrentMessages()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range msgs {
		key := messageKey(m)
		line := formatMessage(m)
		if c.seen[key] == line {
			continue
		}
		c.seen[key] = line
		fmt.Fprintln(c.out, line)
	}
}

func (c *Console) printNotifications() {
	list := c.notes.List()
	if len(list) == 0 {
		c.println("no notifications")
		return
	}
	for _, n := range list {
		c.println(formatNotification(n))
	}
	c.printf("%d unread\n", c.notes.UnreadCount())
}

func (c *Console) printHelp() {
	c.println(`commands:
  /list                  list conversations
  /open [id]             open a conversation (last one when omitted)
  /history               reprint the open conversation
  /media <path> [text]   upload a file to the open conversation
  /retry <id>            resend a failed message
  /typing on|off         send a typing indicator
  /close                 close the open conversation
  /reopen                reopen the open conversation temporarily
  /notifications         list notifications
  /read <id|all>         mark notifications read
  /clear                 remove all notifications
  /quit                  exit
anything else is sent as a message`)
}

func (c *Console) println(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, s)
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// messageKey identifies a message across the optimistic to confirmed id swap.
func messageKey(m domain.Message) string {
	if m.ClientID != "" {
		return "c:" + m.ClientID
	}
	return "i:" + strconv.FormatInt(m.ID, 10)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func readFile(path string) (domain.File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.File{}, fmt.Errorf("read media: %w", err)
	}
	ct := mime.TypeByExtension(filepath.Ext(path))
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	return domain.File{Name: filepath.Base(path), ContentType: ct, Data: data}, nil
}
