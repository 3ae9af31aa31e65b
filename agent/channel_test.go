package agent

import (
	"bytes"
	"io"

	"github.com/d--j/go-milter-agent/reactor"
)

// memChannel is an in-memory reactor.Channel with configurable limits and failures.
type memChannel struct {
	in       []byte
	eof      bool
	readErr  error
	out      bytes.Buffer
	maxWrite int
	writes   int
	writeErr error
	flushErr error
	flushes  int

	// flushBlocked makes Flush report bytes the peer did not take yet
	flushBlocked bool
	readClosed   bool
	writeClosed  bool
}

func (m *memChannel) Read(p []byte) (int, error) {
	if len(m.in) > 0 {
		n := copy(p, m.in)
		m.in = m.in[n:]
		return n, nil
	}
	if m.readErr != nil {
		return 0, m.readErr
	}
	if m.eof {
		return 0, io.EOF
	}
	return 0, reactor.ErrWouldBlock
}

func (m *memChannel) Write(p []byte) (int, error) {
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	m.writes++
	n := len(p)
	if m.maxWrite > 0 && n > m.maxWrite {
		n = m.maxWrite
	}
	m.out.Write(p[:n])
	return n, nil
}

func (m *memChannel) Flush() error {
	m.flushes++
	if m.flushErr == nil && m.flushBlocked {
		return reactor.ErrWouldBlock
	}
	return m.flushErr
}

func (m *memChannel) Buffered() int {
	return len(m.in)
}

func (m *memChannel) Poll() reactor.Condition {
	var c reactor.Condition
	if len(m.in) > 0 || m.eof || m.readErr != nil {
		c |= reactor.CondIn
	}
	if m.writeErr == nil {
		c |= reactor.CondOut
	} else {
		c |= reactor.CondErr
	}
	if m.writeErr == nil && !m.flushBlocked {
		c |= reactor.CondFlushed
	}
	return c
}

func (m *memChannel) Err() error {
	return m.writeErr
}

func (m *memChannel) SetWaker(func()) {}

func (m *memChannel) Close() error {
	m.readClosed = true
	m.writeClosed = true
	return nil
}

func (m *memChannel) CloseRead() error {
	m.readClosed = true
	return nil
}

func (m *memChannel) CloseWrite() error {
	m.writeClosed = true
	return nil
}

type eventRecorder struct {
	events []Event
}

func (r *eventRecorder) handle(ev Event) {
	r.events = append(r.events, ev)
}

func (r *eventRecorder) count(kind EventKind) int {
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func (r *eventRecorder) data() []byte {
	var b []byte
	for _, ev := range r.events {
		if ev.Kind == EventFlow {
			b = append(b, ev.Data...)
		}
	}
	return b
}

func iterate(loop *reactor.Loop, times int) {
	for i := 0; i < times; i++ {
		loop.Iterate(false)
	}
}
