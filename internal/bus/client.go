package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Handler receives every envelope matching the subscription prefix. Handlers
// run on the client's read goroutine and must not block.
type Handler func(*Envelope)

// Client is a websocket connection to the broker. It publishes envelopes and
// dispatches incoming ones to prefix subscriptions.
//
// Subscribe before Run; subscriptions registered later still take effect but
// may miss messages already in flight. Publish and Subscribe are safe for
// concurrent use.
type Client struct {
	source string
	conn   *websocket.Conn

	mu   sync.Mutex
	subs map[string][]Handler
}

// Dial connects to the broker at url. source is stamped on every published
// envelope.
func Dial(ctx context.Context, url, source string) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("bus: dial %q: %w", url, err)
	}
	return &Client{
		source: source,
		conn:   conn,
		subs:   make(map[string][]Handler),
	}, nil
}

// Subscribe registers a handler for all topics under the given prefix.
func (c *Client) Subscribe(prefix string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[prefix] = append(c.subs[prefix], h)
}

// Publish wraps payload in an envelope and writes it to the broker.
func (c *Client) Publish(ctx context.Context, topic string, payload any) error {
	env, err := NewEnvelope(topic, c.source, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("bus: marshal envelope for %s: %w", topic, err)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("bus: publish %s: %w", topic, err)
	}
	return nil
}

// Run reads envelopes from the broker and dispatches them until ctx is
// cancelled or the connection fails. Malformed messages are logged and
// skipped; a bad message from one publisher must not take the pipeline down.
func (c *Client) Run(ctx context.Context) error {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("bus: read: %w", err)
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			slog.Warn("bus: dropping malformed message", "error", err)
			continue
		}
		if err := env.Validate(); err != nil {
			slog.Warn("bus: dropping invalid envelope", "error", err, "topic", env.Topic)
			continue
		}

		c.dispatch(&env)
	}
}

func (c *Client) dispatch(env *Envelope) {
	c.mu.Lock()
	var handlers []Handler
	for prefix, hs := range c.subs {
		if TopicMatches(prefix, env.Topic) {
			handlers = append(handlers, hs...)
		}
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(env)
	}
}

// Close closes the broker connection.
func (c *Client) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "client closed")
}
