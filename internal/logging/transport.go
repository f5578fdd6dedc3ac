package logging

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/webssh2/webssh2/internal/gwerrors"
)

// ErrBackpressure is returned when the stdout queue is full. Counted and
// reported best-effort; never propagated to clients.
var ErrBackpressure = gwerrors.New(gwerrors.KindTransport, "transport_backpressure",
	"log transport queue overflow")

// StdoutTransport writes JSON lines to a writer through a bounded queue
// drained by a single goroutine, so slow consumers back-pressure the
// pipeline instead of blocking sessions.
type StdoutTransport struct {
	queue chan []byte
	w     io.Writer

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewStdoutTransport creates a transport writing to os.Stdout.
func NewStdoutTransport(maxQueueSize int) *StdoutTransport {
	return NewWriterTransport(os.Stdout, maxQueueSize)
}

// NewWriterTransport creates a queue-backed transport over any writer.
func NewWriterTransport(w io.Writer, maxQueueSize int) *StdoutTransport {
	if maxQueueSize <= 0 {
		maxQueueSize = 1000
	}
	t := &StdoutTransport{
		queue: make(chan []byte, maxQueueSize),
		w:     w,
		done:  make(chan struct{}),
	}
	go t.drain()
	return t
}

func (t *StdoutTransport) Name() string { return "stdout" }

// Write enqueues one line. Returns ErrBackpressure when the queue is full.
func (t *StdoutTransport) Write(line []byte, _ *Record) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return gwerrors.New(gwerrors.KindTransport, "transport_closed", "stdout transport closed")
	}
	t.mu.Unlock()

	buf := make([]byte, len(line)+1)
	copy(buf, line)
	buf[len(line)] = '\n'

	select {
	case t.queue <- buf:
		return nil
	default:
		return ErrBackpressure
	}
}

func (t *StdoutTransport) drain() {
	defer close(t.done)
	for buf := range t.queue {
		if _, err := t.w.Write(buf); err != nil {
			// Best-effort stderr note; dropping is preferable to blocking.
			log.Error().Err(err).Msg("stdout log transport write failed")
		}
	}
}

// Close stops the drain goroutine after the queue empties.
func (t *StdoutTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.queue)
	t.mu.Unlock()
	<-t.done
	return nil
}

var _ Transport = (*StdoutTransport)(nil)
