// Package natsbus provides a thin, reconnecting NATS client used to
// distribute the local replica's change-number sequence across multiple
// server processes (see ident.NATSCNAllocator). It is adapted from the
// teacher's pkg/nats client wrapper, trimmed to the request/reply and
// subscribe surface the cn allocator needs.
package natsbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/icsfxd/icsfx/internal/log"
)

// Config is connection configuration for the NATS bus.
type Config struct {
	Address       string `json:"address"`
	Username      string `json:"username,omitempty"`
	Password      string `json:"password,omitempty"`
	CredsFilePath string `json:"credsFilePath,omitempty"`
}

// Client wraps a *nats.Conn with the reconnect/error logging the teacher's
// client always installs.
type Client struct {
	conn *nats.Conn
	mu   sync.Mutex
}

// Connect dials the configured NATS server. Returns (nil, nil) when no
// address is configured, so callers can treat an unconfigured bus as "use
// the in-process allocator instead" without special-casing nil errors.
func Connect(cfg Config) (*Client, error) {
	if cfg.Address == "" {
		return nil, nil
	}

	var opts []nats.Option
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.CredsFilePath != "" {
		opts = append(opts, nats.UserCredentials(cfg.CredsFilePath))
	}
	opts = append(opts,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnf("natsbus: disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infof("natsbus: reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Errorf("natsbus: error: %v", err)
		}),
	)

	nc, err := nats.Connect(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("natsbus: connect failed: %w", err)
	}
	log.Infof("natsbus: connected to %s", cfg.Address)
	return &Client{conn: nc}, nil
}

// Request performs a request/reply round-trip on subject.
func (c *Client) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	msg, err := c.conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, fmt.Errorf("natsbus: request to %q failed: %w", subject, err)
	}
	return msg.Data, nil
}

// Subscribe registers handler for subject, returning an unsubscribe func.
func (c *Client) Subscribe(subject string, handler func(subject string, data []byte) []byte) (func(), error) {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		reply := handler(msg.Subject, msg.Data)
		if msg.Reply != "" && reply != nil {
			_ = c.conn.Publish(msg.Reply, reply)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("natsbus: subscribe to %q failed: %w", subject, err)
	}
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		_ = sub.Unsubscribe()
	}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}
