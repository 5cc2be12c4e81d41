package connector

import (
	"context"
	"io"
	"time"
)

// Backoff returns the wait before retry attempt n (1-based): base, 2×base,
// 4×base and so on.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base * time.Duration(1<<(attempt-1))
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Dial calls open until it succeeds or cfg.Attempts is exhausted, backing
// off exponentially between attempts. Progress is reported through
// cfg.Notify. Failure returns a *ConnectError.
func Dial(ctx context.Context, cfg Config, open func(ctx context.Context) (io.ReadCloser, error)) (io.ReadCloser, error) {
	attempts := cfg.Attempts
	if attempts < 1 {
		attempts = 1
	}
	addr := cfg.Address
	if addr == "" {
		addr = cfg.Path
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		cfg.notify("Connecting to %s (attempt %d/%d)…", addr, attempt, attempts)
		rc, err := open(ctx)
		if err == nil {
			return rc, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, &ConnectError{Address: addr, Attempts: attempt, Err: ctx.Err()}
		}
		if attempt == attempts {
			break
		}
		wait := Backoff(cfg.Backoff, attempt)
		cfg.notify("Connect failed (%v); retrying in %s…", err, wait)
		if err := Sleep(ctx, wait); err != nil {
			return nil, &ConnectError{Address: addr, Attempts: attempt, Err: err}
		}
	}
	return nil, &ConnectError{Address: addr, Attempts: attempts, Err: lastErr}
}
