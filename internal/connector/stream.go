package connector

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/crimson-sun/tre/internal/model"
)

const (
	DefaultBuffer = 4096
	maxBatch      = 1024
	readBufSize   = 64 * 1024
)

// Stream frames a byte source into lines. A reader goroutine splits on '\n',
// strips a trailing '\r' and hands lines over a buffered channel. The
// channel is closed when the source ends or the stream is closed.
type Stream struct {
	source    string
	rc        io.ReadCloser
	lines     chan model.RawLine
	closed    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error

	mu  sync.Mutex
	err error
}

// NewStream starts reading lines from rc. The stream closes itself when ctx
// is cancelled.
func NewStream(ctx context.Context, source string, rc io.ReadCloser, buffer int) *Stream {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	s := &Stream{
		source: source,
		rc:     rc,
		lines:  make(chan model.RawLine, buffer),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.read()
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()
	return s
}

// Lines returns the line channel. It is closed when the stream ends.
func (s *Stream) Lines() <-chan model.RawLine { return s.lines }

// Read blocks up to timeout for a line, then returns it together with any
// lines already waiting. open is false once the stream has ended and every
// line has been delivered.
func (s *Stream) Read(timeout time.Duration) (lines []model.RawLine, open bool) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case l, ok := <-s.lines:
		if !ok {
			return nil, false
		}
		return s.drain([]model.RawLine{l})
	case <-t.C:
		return nil, true
	}
}

// Drain returns the lines already waiting without blocking.
func (s *Stream) Drain() ([]model.RawLine, bool) {
	return s.drain(nil)
}

func (s *Stream) drain(batch []model.RawLine) ([]model.RawLine, bool) {
	for len(batch) < maxBatch {
		select {
		case l, ok := <-s.lines:
			if !ok {
				return batch, false
			}
			batch = append(batch, l)
		default:
			return batch, true
		}
	}
	return batch, true
}

// Close closes the underlying source, which unblocks the reader.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		if err := s.rc.Close(); err != nil && !IsExpectedCloseError(err) {
			s.closeErr = err
		}
	})
	return s.closeErr
}

// Err returns the read error that ended the stream, if it was not a normal
// close.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream) read() {
	defer close(s.done)
	defer close(s.lines)

	br := bufio.NewReaderSize(s.rc, readBufSize)
	for {
		text, err := br.ReadString('\n')
		if text != "" && (err == nil || errors.Is(err, io.EOF)) {
			text = strings.TrimSuffix(text, "\n")
			text = strings.TrimSuffix(text, "\r")
			if text != "" && !s.send(text) {
				return
			}
		}
		if err != nil {
			if !IsExpectedCloseError(err) {
				s.mu.Lock()
				s.err = err
				s.mu.Unlock()
			}
			return
		}
	}
}

func (s *Stream) send(text string) bool {
	l := model.RawLine{
		Timestamp: time.Now(),
		Source:    s.source,
		Raw:       strings.ToValidUTF8(text, ""),
	}
	select {
	case s.lines <- l:
		return true
	case <-s.closed:
		return false
	}
}
