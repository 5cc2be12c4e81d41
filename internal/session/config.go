package session

import (
	"time"

	"github.com/crimson-sun/tre/internal/connector"
	"github.com/crimson-sun/tre/internal/engine/steps"
)

const (
	DefaultSettle         = 3 * time.Second
	DefaultTick           = 200 * time.Millisecond
	DefaultReconnectMax   = 3
	DefaultReconnectDelay = time.Second
)

// Config holds everything a Supervisor needs. It is passed at construction;
// nothing is read from globals.
type Config struct {
	Connector connector.Connector
	Source    connector.Config

	Settle         time.Duration // buffer lines this long before matching starts
	RingSize       int
	Tick           time.Duration
	Reconnect      bool
	ReconnectMax   int
	ReconnectDelay time.Duration

	HistorySize      int
	Step1Timeout     time.Duration
	DefaultTimeout   time.Duration
	ForcePayloadOnly bool

	// Offline replays a finite source: waits complete immediately and
	// timeouts are not enforced.
	Offline bool
}

// DefaultConfig returns a live-session configuration with the usual
// defaults. Connector and Source still need to be set.
func DefaultConfig() Config {
	return Config{
		Settle:           DefaultSettle,
		RingSize:         DefaultRingSize,
		Tick:             DefaultTick,
		Reconnect:        true,
		ReconnectMax:     DefaultReconnectMax,
		ReconnectDelay:   DefaultReconnectDelay,
		HistorySize:      steps.DefaultHistorySize,
		Step1Timeout:     steps.DefaultStep1Timeout,
		ForcePayloadOnly: true,
	}
}

func (c Config) machineOptions() []steps.Option {
	opts := []steps.Option{
		steps.WithStep1Timeout(c.Step1Timeout),
		steps.WithDefaultTimeout(c.DefaultTimeout),
		steps.WithForcePayloadOnly(c.ForcePayloadOnly),
	}
	if c.HistorySize > 0 {
		opts = append(opts, steps.WithHistorySize(c.HistorySize))
	}
	return opts
}
