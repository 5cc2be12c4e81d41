package connector

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultAttempts       = 5
	DefaultBackoff        = 500 * time.Millisecond
)

var (
	// ErrConnect is matched by every *ConnectError.
	ErrConnect = errors.New("connect failed")
	// ErrStreamClosed reports that a source stopped delivering lines.
	ErrStreamClosed = errors.New("stream closed")
)

// Connector defines the interface all line sources must implement.
type Connector interface {
	// Stream opens the source and returns a stream of its lines. The stream
	// is closed when ctx is cancelled.
	Stream(ctx context.Context, cfg Config) (*Stream, error)
}

// Config holds source connection settings.
type Config struct {
	Provider       string
	Address        string // host:port, for network sources
	Path           string // capture file, for file sources
	ConnectTimeout time.Duration
	Attempts       int
	Backoff        time.Duration // first retry delay, doubled on each attempt
	Buffer         int           // line channel capacity
	Notify         func(msg string)
}

func (c Config) notify(format string, args ...any) {
	if c.Notify != nil {
		c.Notify(fmt.Sprintf(format, args...))
	}
}

// ConnectError is returned when a source cannot be opened.
type ConnectError struct {
	Address  string
	Attempts int
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: gave up after %d attempt(s): %v", e.Address, e.Attempts, e.Err)
}

func (e *ConnectError) Unwrap() []error { return []error{ErrConnect, e.Err} }
