// Package tcp streams newline-delimited text from a TCP endpoint.
package tcp

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/crimson-sun/tre/internal/connector"
)

const keepAlive = 15 * time.Second

func init() {
	connector.Register("tcp", func() connector.Connector { return New() })
}

// Connector dials cfg.Address with retries.
type Connector struct {
	dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

// New creates a TCP connector.
func New() *Connector {
	return &Connector{}
}

// Stream connects and starts framing lines. Exhausted retries return a
// *connector.ConnectError.
func (c *Connector) Stream(ctx context.Context, cfg connector.Config) (*connector.Stream, error) {
	if cfg.Address == "" {
		return nil, &connector.ConnectError{Err: errors.New("tcp: no address configured")}
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = connector.DefaultConnectTimeout
	}
	dial := c.dial
	if dial == nil {
		d := &net.Dialer{Timeout: timeout, KeepAlive: keepAlive}
		dial = d.DialContext
	}

	rc, err := connector.Dial(ctx, cfg, func(ctx context.Context) (io.ReadCloser, error) {
		return dial(ctx, "tcp", cfg.Address)
	})
	if err != nil {
		return nil, err
	}
	return connector.NewStream(ctx, "tcp", rc, cfg.Buffer), nil
}
