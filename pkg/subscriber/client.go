// Package subscriber is a client for the broker's TCP subscriber protocol.
//
//	c, err := subscriber.Dial(ctx, subscriber.Config{ServerAddr: "127.0.0.1:4000", ClientID: "dev1"})
//	if err != nil { ... }
//	defer c.Close()
//	if err := c.Subscribe(ctx, "sensors/+/temp"); err != nil { ... }
//	for m := range c.Messages() {
//		fmt.Println(m.Text)
//	}
package subscriber

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rmacdonaldsmith/topicrelay/pkg/wire"
)

var (
	// ErrDenied is returned when the broker refuses the identity
	ErrDenied = errors.New("connection denied by broker")
	// ErrRejected is returned when the broker answers a subscription request with a failure
	ErrRejected = errors.New("request rejected by broker")
	// ErrClosed is returned after the connection is gone
	ErrClosed = errors.New("client closed")
	// ErrProtocol is returned when the broker sends an unexpected frame
	ErrProtocol = errors.New("unexpected reply")
)

// Client is one subscriber connection.
type Client struct {
	config Config
	conn   net.Conn

	// mu serializes request/reply exchanges.
	mu      sync.Mutex
	stale   int
	replies chan wire.Frame

	messages chan Message
	quit     chan struct{}
	done     chan struct{}
	err      error
	closing  sync.Once
}

// NewClient validates config. Call Connect to open the session.
func NewClient(config Config) (*Client, error) {
	config.SetDefaults()

	if config.ServerAddr == "" {
		return nil, fmt.Errorf("ServerAddr is required")
	}
	if config.ClientID == "" {
		return nil, fmt.Errorf("ClientID is required")
	}

	return &Client{
		config:   config,
		replies:  make(chan wire.Frame, 1),
		messages: make(chan Message, config.MessageBuffer),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Dial creates a client and connects it.
func Dial(ctx context.Context, config Config) (*Client, error) {
	c, err := NewClient(config)
	if err != nil {
		return nil, err
	}
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Connect dials the broker and presents the client identity. It returns ErrDenied when the
// identity is already live or invalid.
func (c *Client) Connect(ctx context.Context) error {
	if c.conn != nil {
		return fmt.Errorf("already connected")
	}

	d := net.Dialer{Timeout: c.config.Timeout}
	conn, err := d.DialContext(ctx, "tcp", c.config.ServerAddr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.config.ServerAddr, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	deadline := time.Now().Add(c.config.Timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetDeadline(deadline)

	if err := wire.WriteFrame(conn, wire.ConnectReq, []byte(c.config.ClientID)); err != nil {
		conn.Close()
		return fmt.Errorf("send connect: %w", err)
	}
	f, err := wire.ReadFrame(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("read connect reply: %w", err)
	}
	switch f.Command {
	case wire.ConnectAccepted:
	case wire.ConnectDenied:
		conn.Close()
		return fmt.Errorf("%w: identity %q", ErrDenied, c.config.ClientID)
	default:
		conn.Close()
		return fmt.Errorf("%w: %s to connect", ErrProtocol, f.Command)
	}

	_ = conn.SetDeadline(time.Time{})
	c.conn = conn
	go c.readLoop()
	return nil
}

// Subscribe adds a topic pattern to this session.
func (c *Client) Subscribe(ctx context.Context, pattern string) error {
	return c.request(ctx, wire.SubscribeReq, pattern, wire.SubscribeSucc, wire.SubscribeFail)
}

// Unsubscribe removes a topic pattern, matched verbatim against earlier subscriptions.
func (c *Client) Unsubscribe(ctx context.Context, pattern string) error {
	return c.request(ctx, wire.UnsubscribeReq, pattern, wire.UnsubscribeSucc, wire.UnsubscribeFail)
}

// Messages delivers relayed publications. It is closed when the connection ends. Replies to
// Subscribe and Unsubscribe are read behind undelivered messages, so keep it drained.
func (c *Client) Messages() <-chan Message {
	return c.messages
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err reports why the connection ended, once Done is closed.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Close ends the connection and waits for the reader to stop.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	var err error
	c.closing.Do(func() {
		close(c.quit)
		err = c.conn.Close()
	})
	<-c.done
	return err
}

func (c *Client) request(ctx context.Context, cmd wire.Command, pattern string, ok, fail wire.Command) error {
	if c.conn == nil {
		return ErrClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.Timeout))
	if err := wire.WriteFrame(c.conn, cmd, []byte(pattern)); err != nil {
		return fmt.Errorf("send %s: %w", cmd, err)
	}

	for {
		select {
		case f := <-c.replies:
			if c.stale > 0 {
				c.stale--
				continue
			}
			switch f.Command {
			case ok:
				return nil
			case fail:
				return fmt.Errorf("%w: %s %q", ErrRejected, cmd, pattern)
			default:
				return fmt.Errorf("%w: %s to %s", ErrProtocol, f.Command, cmd)
			}
		case <-c.done:
			return ErrClosed
		case <-ctx.Done():
			// The reply may still arrive and must not be taken for the next request's.
			c.stale++
			return ctx.Err()
		}
	}
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.messages)

	for {
		f, err := wire.ReadFrame(c.conn)
		if err != nil {
			c.err = err
			return
		}
		switch f.Command {
		case wire.MsgFromUDP:
			text := string(f.Payload)
			for len(text) > 0 && text[len(text)-1] == 0 {
				text = text[:len(text)-1]
			}
			select {
			case c.messages <- ParseMessage(text):
			case <-c.quit:
				return
			}
		default:
			select {
			case c.replies <- f:
			case <-c.quit:
				return
			case <-time.After(c.config.Timeout):
				// unsolicited reply
			}
		}
	}
}
