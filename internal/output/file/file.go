package file

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/crimson-sun/tre/internal/engine/compactor"
	"github.com/crimson-sun/tre/internal/model"
	"github.com/crimson-sun/tre/internal/output"
)

const (
	defaultBufSize = 64 * 1024 // 64KB
	maxSegments    = 10
)

// Format selects how events are written.
type Format int

const (
	NDJSON Format = iota // one JSON event per line
	Text                 // "timestamp message" per line, for payload and wire taps
)

// Option configures a file Output.
type Option func(*Output)

// WithMaxSize sets the file size (bytes) at which rotation triggers.
// 0 (default) disables rotation.
func WithMaxSize(bytes int64) Option {
	return func(o *Output) { o.maxSize = bytes }
}

// WithBufSize sets the bufio.Writer buffer size. Default: 64KB.
func WithBufSize(bytes int) Option {
	return func(o *Output) { o.bufSize = bytes }
}

// WithFormat selects NDJSON (default) or Text lines.
func WithFormat(f Format) Option {
	return func(o *Output) { o.format = f }
}

// WithCompress stores rotated segments as {path}.N.zst.
func WithCompress() Option {
	return func(o *Output) { o.compress = true }
}

// Output writes events to a file with buffered I/O and optional size-based
// rotation.
type Output struct {
	w         *bufio.Writer
	f         *os.File
	mu        sync.Mutex
	path      string
	verbosity compactor.Verbosity
	format    Format
	compress  bool
	maxSize   int64 // 0 = no rotation
	written   int64
	bufSize   int
}

// New creates a file output appending to the given path.
func New(path string, verbosity compactor.Verbosity, opts ...Option) (*Output, error) {
	o := &Output{
		path:      path,
		verbosity: verbosity,
		bufSize:   defaultBufSize,
	}
	for _, opt := range opts {
		opt(o)
	}
	if err := o.openFile(); err != nil {
		return nil, err
	}
	return o, nil
}

// Write encodes the event and appends it as a line to the file.
func (o *Output) Write(_ context.Context, event model.Event) error {
	data, err := o.encode(event)
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.maxSize > 0 && o.written > 0 && o.written+int64(len(data)) > o.maxSize {
		if err := o.rotate(); err != nil {
			return fmt.Errorf("file output: rotate: %w", err)
		}
	}

	n, err := o.w.Write(data)
	o.written += int64(n)
	if err != nil {
		return fmt.Errorf("file output: write: %w", err)
	}
	return nil
}

func (o *Output) encode(event model.Event) ([]byte, error) {
	if o.format == Text {
		ts := event.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		return fmt.Appendf(nil, "%s %s\n", ts.Format("2006-01-02 15:04:05.000"), event.Message), nil
	}
	data, err := json.Marshal(output.FormatEvent(event, o.verbosity))
	if err != nil {
		return nil, fmt.Errorf("file output: marshal: %w", err)
	}
	return append(data, '\n'), nil
}

// Flush writes buffered data to the file.
func (o *Output) Flush() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.w.Flush()
}

// Close flushes the buffer and closes the file.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.w.Flush(); err != nil {
		o.f.Close()
		return fmt.Errorf("file output: flush: %w", err)
	}
	return o.f.Close()
}

// openFile opens (or creates) the output file and wraps it in a bufio.Writer.
func (o *Output) openFile() error {
	f, err := os.OpenFile(o.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("file output: open %s: %w", o.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("file output: stat %s: %w", o.path, err)
	}
	o.f = f
	o.w = bufio.NewWriterSize(f, o.bufSize)
	o.written = info.Size()
	return nil
}

// Segment returns the name of rotated segment n (1 is the newest).
func (o *Output) Segment(n int) string {
	if o.compress {
		return fmt.Sprintf("%s.%d.zst", o.path, n)
	}
	return fmt.Sprintf("%s.%d", o.path, n)
}

// rotate closes the current file, shifts older segments up by one, moves
// the current file to segment 1 and opens a fresh file.
func (o *Output) rotate() error {
	if err := o.w.Flush(); err != nil {
		return err
	}
	if err := o.f.Close(); err != nil {
		return err
	}

	os.Remove(o.Segment(maxSegments))
	for i := maxSegments - 1; i >= 1; i-- {
		os.Rename(o.Segment(i), o.Segment(i+1)) // may not exist yet
	}
	if o.compress {
		if err := compressFile(o.path, o.Segment(1)); err != nil {
			return err
		}
		if err := os.Remove(o.path); err != nil {
			return err
		}
	} else if err := os.Rename(o.path, o.Segment(1)); err != nil {
		return err
	}

	o.written = 0
	return o.openFile()
}

func compressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		out.Close()
		return err
	}
	if _, err := io.Copy(enc, in); err != nil {
		enc.Close()
		out.Close()
		return fmt.Errorf("compress %s: %w", src, err)
	}
	if err := enc.Close(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
