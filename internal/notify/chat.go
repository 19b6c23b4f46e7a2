package notify

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
)

// Conn is a bidirectional JSON message stream. *websocket.Conn satisfies it.
type Conn interface {
	WriteJSON(v any) error
	ReadJSON(v any) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// WebsocketDialer dials the chat bridge with gorilla/websocket.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
}

func (d WebsocketDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, res, err := dialer.DialContext(ctx, url, header)
	if res != nil && res.Body != nil {
		res.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// StatusReporter answers the "status" chat command.
type StatusReporter interface {
	StatusReport() string
}

// StatusFunc adapts a function to StatusReporter.
type StatusFunc func() string

func (f StatusFunc) StatusReport() string { return f() }

// ChatFrame is the wire format exchanged with the bridge.
type ChatFrame struct {
	Type string `json:"type"`
	To   string `json:"to,omitempty"`
	From string `json:"from,omitempty"`
	Text string `json:"text"`
}

const (
	helpReply    = `Commands: "help", "status"`
	unknownReply = `Didn't get that.. send me "help" for help.`
)

// Chat delivers messages over a persistent websocket to a chat bridge.
// Until the first connection is established, and whenever it is lost,
// messages are queued in arrival order and flushed on (re)connect.
type Chat struct {
	name       string
	url        string
	token      string
	recipients []string
	dialer     Dialer
	status     StatusReporter
	log        *slog.Logger

	initialBackoff time.Duration
	maxBackoff     time.Duration

	mu    sync.Mutex
	conn  Conn
	queue []ChatFrame
}

type ChatOption func(*Chat)

func WithDialer(d Dialer) ChatOption {
	return func(c *Chat) { c.dialer = d }
}

// WithBackoff bounds the reconnect delay.
func WithBackoff(initial, maxDelay time.Duration) ChatOption {
	return func(c *Chat) { c.initialBackoff, c.maxBackoff = initial, maxDelay }
}

func NewChat(name, url, token string, recipients []string, status StatusReporter, log *slog.Logger, opts ...ChatOption) *Chat {
	c := &Chat{
		name:           name,
		url:            url,
		token:          token,
		recipients:     recipients,
		dialer:         WebsocketDialer{},
		status:         status,
		log:            log.With(slog.String("channel", name)),
		initialBackoff: time.Second,
		maxBackoff:     5 * time.Minute,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Chat) Name() string { return c.name }
func (c *Chat) Kind() Kind   { return KindChat }

// Send writes the message directly when connected and queues it otherwise.
// A failed write drops the connection and queues the frames not yet written.
func (c *Chat) Send(_ context.Context, msg Message) error {
	frames := c.frames(msg.Body)

	c.mu.Lock()
	defer c.mu.Unlock()

	for i, f := range frames {
		if c.conn == nil {
			c.queue = append(c.queue, frames[i:]...)
			c.log.Info("Queueing chat message", slog.Int("queued", len(c.queue)))
			return nil
		}
		if err := c.conn.WriteJSON(f); err != nil {
			c.log.Warn("Chat write failed, reconnecting", slog.Any("err", err))
			c.conn.Close()
			c.conn = nil
			c.queue = append(c.queue, frames[i:]...)
			return nil
		}
	}
	return nil
}

// Connected reports whether messages currently bypass the queue.
func (c *Chat) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Queued returns the number of frames waiting for a connection.
func (c *Chat) Queued() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Run keeps the connection up until ctx is done, redialling with
// exponential backoff and answering incoming commands.
func (c *Chat) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		conn, err := c.dial(ctx)
		if err != nil {
			continue
		}

		if err := c.online(conn); err != nil {
			c.log.Warn("Chat flush failed", slog.Any("err", err))
			conn.Close()
			continue
		}

		c.serve(ctx, conn)
		c.offline(conn)
	}
	return nil
}

func (c *Chat) dial(ctx context.Context) (Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialBackoff
	b.MaxInterval = c.maxBackoff

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	return backoff.Retry(ctx, func() (Conn, error) {
		return c.dialer.Dial(ctx, c.url, header)
	},
		backoff.WithBackOff(b),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.log.Warn("Chat dial failed",
				slog.Any("err", err),
				slog.Duration("retry_in", next))
		}))
}

// online flushes the queue in order and then makes conn the live connection.
// Sends block on mu meanwhile, so nothing overtakes the queue.
func (c *Chat) online(conn Conn) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.log.Info("Chat connected", slog.Int("queued", len(c.queue)))
	for len(c.queue) > 0 {
		if err := conn.WriteJSON(c.queue[0]); err != nil {
			return err
		}
		c.queue = c.queue[1:]
	}
	c.queue = nil
	c.conn = conn
	return nil
}

func (c *Chat) offline(conn Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == conn {
		c.conn = nil
	}
	conn.Close()
	c.log.Warn("Chat disconnected")
}

func (c *Chat) serve(ctx context.Context, conn Conn) {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var in ChatFrame
		if err := conn.ReadJSON(&in); err != nil {
			if ctx.Err() == nil {
				c.log.Warn("Chat read failed", slog.Any("err", err))
			}
			return
		}
		if in.Type != "" && in.Type != "message" {
			continue
		}

		reply := ChatFrame{Type: "message", To: in.From, Text: c.answer(in.Text)}
		c.mu.Lock()
		err := conn.WriteJSON(reply)
		c.mu.Unlock()
		if err != nil {
			c.log.Warn("Chat reply failed", slog.Any("err", err))
			return
		}
	}
}

func (c *Chat) answer(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return unknownReply
	}
	switch strings.ToLower(fields[0]) {
	case "help":
		return helpReply
	case "status":
		if c.status == nil {
			return "Status:\nnot available"
		}
		return "Status:\n" + c.status.StatusReport()
	default:
		return unknownReply
	}
}

func (c *Chat) frames(text string) []ChatFrame {
	if len(c.recipients) == 0 {
		return []ChatFrame{{Type: "message", Text: text}}
	}
	out := make([]ChatFrame, 0, len(c.recipients))
	for _, to := range c.recipients {
		out = append(out, ChatFrame{Type: "message", To: to, Text: text})
	}
	return out
}
