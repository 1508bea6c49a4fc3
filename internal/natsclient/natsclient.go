// Package natsclient wraps a NATS connection for fire-and-forget publishing.
package natsclient

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Client holds a NATS connection.
type Client struct {
	conn *nats.Conn
}

// Connect dials the NATS server with sane reconnect settings.
func Connect(url, serviceName string) (*Client, error) {
	conn, err := nats.Connect(url,
		nats.Name(serviceName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	return &Client{conn: conn}, nil
}

// Publish sends one message. The context bounds the flush, not delivery.
func (c *Client) Publish(ctx context.Context, subject string, data []byte) error {
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return c.conn.FlushWithContext(ctx)
}

// Close drains and closes the connection.
func (c *Client) Close() {
	if c.conn != nil {
		_ = c.conn.Drain()
	}
}
