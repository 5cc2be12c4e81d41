// Package file streams lines from a capture file. Files ending in .zst are
// decompressed on the fly.
package file

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/crimson-sun/tre/internal/connector"
)

func init() {
	connector.Register("file", func() connector.Connector { return New() })
}

// Connector reads cfg.Path once, start to end.
type Connector struct{}

// New creates a file connector.
func New() *Connector {
	return &Connector{}
}

// Stream opens the file. The stream ends at EOF.
func (c *Connector) Stream(ctx context.Context, cfg connector.Config) (*connector.Stream, error) {
	rc, err := Open(cfg.Path)
	if err != nil {
		return nil, &connector.ConnectError{Address: cfg.Path, Attempts: 1, Err: err}
	}
	return connector.NewStream(ctx, "file", rc, cfg.Buffer), nil
}

// Open opens a capture file, transparently decoding zstd.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(strings.ToLower(path), ".zst") {
		return f, nil
	}
	dec, err := zstd.NewReader(f, zstd.WithDecoderConcurrency(1))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("zstd %s: %w", path, err)
	}
	return &zstdFile{dec: dec, f: f}, nil
}

// zstdFile serializes Read and Close so a stop cannot race the decoder.
type zstdFile struct {
	mu     sync.Mutex
	dec    *zstd.Decoder
	f      *os.File
	closed bool
}

func (z *zstdFile) Read(p []byte) (int, error) {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.closed {
		return 0, os.ErrClosed
	}
	return z.dec.Read(p)
}

func (z *zstdFile) Close() error {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.closed {
		return nil
	}
	z.closed = true
	z.dec.Close()
	return z.f.Close()
}
