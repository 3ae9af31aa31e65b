package agent

import (
	"errors"
	"fmt"

	milter "github.com/d--j/go-milter-agent"
	"github.com/d--j/go-milter-agent/reactor"
)

// Writer buffers outgoing bytes and writes them whenever the channel is writable.
//
// [Writer.Flush] asks for an [EventFlushed] event once everything written so far left the buffer
// and the channel handed it to the peer. Nothing in the Writer blocks: a channel that cannot flush
// yet gets watched until it can. An I/O error emits [EventError] and finishes the Writer.
type Writer struct {
	ch         reactor.Channel
	loop       reactor.Reactor
	handler    EventHandler
	tag        uint
	state      state
	writeWatch reactor.Handle
	errWatch   reactor.Handle
	flushWatch reactor.Handle
	buf        []byte
	// flushPoint is the number of bytes at the start of buf that have to be written before the pending flush.
	flushPoint   int
	flushPending bool
	inFlight     bool
	shutdown     bool
}

// NewWriter returns a Writer for ch. Writing fails until [Writer.Start] got called.
func NewWriter(ch reactor.Channel) *Writer {
	return &Writer{ch: ch}
}

// SetHandler sets the receiver of the events of w.
func (w *Writer) SetHandler(handler EventHandler) {
	w.handler = handler
}

// SetTag sets the session tag used in log messages.
func (w *Writer) SetTag(tag uint) {
	w.tag = tag
}

// Tag returns the session tag.
func (w *Writer) Tag() uint {
	return w.tag
}

// Finished reports whether w emitted [EventFinished].
func (w *Writer) Finished() bool {
	return w.state == stateFinished
}

// Buffered returns the number of bytes waiting to be written.
func (w *Writer) Buffered() int {
	return len(w.buf)
}

// FlushPending reports whether a flush request waits for the buffer or the channel to drain.
func (w *Writer) FlushPending() bool {
	return w.flushPending || w.flushWatch != 0
}

// Start registers w on loop. Starting a Writer a second time does nothing.
func (w *Writer) Start(loop reactor.Reactor) error {
	if loop == nil {
		return milter.ErrNoEventLoop
	}
	if w.ch == nil {
		return milter.ErrNoChannel
	}
	if w.state != stateIdle {
		return nil
	}
	w.loop = loop
	w.state = stateWatching
	w.errWatch = loop.WatchError(w.ch, w.onError)
	if len(w.buf) > 0 {
		w.writeWatch = loop.WatchWritable(w.ch, w.onWritable)
	}
	return nil
}

func (w *Writer) emit(ev Event) {
	if w.handler != nil {
		w.handler(ev)
	}
}

// Write appends data to the buffer. The bytes get written asynchronously.
func (w *Writer) Write(data []byte) error {
	switch w.state {
	case stateIdle:
		return milter.ErrNotReady
	case stateShuttingDown, stateFinished:
		return milter.ErrNoChannel
	}
	if len(data) == 0 {
		return nil
	}
	w.buf = append(w.buf, data...)
	if w.writeWatch == 0 {
		w.writeWatch = w.loop.WatchWritable(w.ch, w.onWritable)
	}
	return nil
}

// Flush requests an [EventFlushed] event. The event follows once the bytes buffered now have been
// written and the channel reports them flushed, right away when both already happened.
func (w *Writer) Flush() error {
	switch w.state {
	case stateIdle:
		return milter.ErrNotReady
	case stateShuttingDown, stateFinished:
		return milter.ErrNoChannel
	}
	if w.writeWatch != 0 {
		w.flushPending = true
		w.flushPoint = len(w.buf)
		return nil
	}
	return w.doFlush()
}

func (w *Writer) doFlush() error {
	w.flushPending = false
	w.flushPoint = 0
	err := w.ch.Flush()
	if errors.Is(err, reactor.ErrWouldBlock) {
		if w.flushWatch == 0 {
			w.flushWatch = w.loop.WatchFlushed(w.ch, w.onFlushed)
		}
		return nil
	}
	if err != nil {
		return w.fail("flush", err)
	}
	if w.flushWatch != 0 {
		w.loop.Remove(w.flushWatch)
		w.flushWatch = 0
	}
	w.emit(Event{Kind: EventFlushed})
	return nil
}

func (w *Writer) onFlushed() bool {
	w.flushWatch = 0
	if w.state != stateWatching {
		return false
	}
	_ = w.doFlush()
	return false
}

func (w *Writer) fail(op string, err error) error {
	err = fmt.Errorf("%w: %s: %w", milter.ErrIO, op, err)
	w.emit(Event{Kind: EventError, Err: err})
	w.finish()
	return err
}

func (w *Writer) onWritable() bool {
	if w.state != stateWatching {
		w.writeWatch = 0
		return false
	}
	if len(w.buf) == 0 {
		w.writeWatch = 0
		return false
	}
	w.inFlight = true
	n, err := w.ch.Write(w.buf)
	if err != nil && !errors.Is(err, reactor.ErrWouldBlock) {
		w.inFlight = false
		w.writeWatch = 0
		_ = w.fail("write", err)
		return false
	}
	w.buf = w.buf[:copy(w.buf, w.buf[n:])]
	if w.flushPending {
		w.flushPoint -= n
		if w.flushPoint <= 0 {
			_ = w.doFlush()
		}
	}
	w.inFlight = false
	if w.state == stateFinished {
		w.writeWatch = 0
		return false
	}
	if w.shutdown {
		w.writeWatch = 0
		w.Shutdown()
		return false
	}
	if len(w.buf) == 0 {
		w.writeWatch = 0
		return false
	}
	return true
}

func (w *Writer) onError() bool {
	w.errWatch = 0
	err := w.ch.Err()
	if err == nil {
		err = errors.New("channel broken")
	}
	_ = w.fail("channel", err)
	return false
}

// Drain makes one synchronous attempt to hand the buffer to the channel.
// Bytes the channel does not accept stay in the buffer. A pending flush whose bytes all left
// the buffer completes like one requested by [Writer.Flush].
func (w *Writer) Drain() error {
	if w.state != stateWatching && w.state != stateShuttingDown {
		return milter.ErrNotReady
	}
	if len(w.buf) > 0 {
		n, err := w.ch.Write(w.buf)
		w.buf = w.buf[:copy(w.buf, w.buf[n:])]
		if w.flushPending {
			w.flushPoint -= n
		}
		if err != nil && !errors.Is(err, reactor.ErrWouldBlock) {
			return fmt.Errorf("%w: write: %w", milter.ErrIO, err)
		}
	}
	if w.flushPending && w.flushPoint <= 0 && w.state == stateWatching {
		return w.doFlush()
	}
	return nil
}

// Shutdown stops writing and emits [EventFinished]. It is idempotent.
//
// Buffered bytes get one last synchronous write attempt. Whatever the channel does not accept
// in that attempt is dropped, so wait for [EventFlushed] before calling Shutdown when every byte matters.
func (w *Writer) Shutdown() {
	if w.state == stateShuttingDown || w.state == stateFinished {
		return
	}
	if w.inFlight {
		w.shutdown = true
		return
	}
	if w.state == stateWatching {
		w.state = stateShuttingDown
		w.removeWatches()
		if len(w.buf) > 0 {
			if err := w.Drain(); err != nil {
				milter.Logger().Debug("milter: writer: last write failed", "tag", w.tag, "error", err)
			}
			if len(w.buf) > 0 {
				milter.Logger().Debug("milter: writer: dropping unwritten bytes", "tag", w.tag, "bytes", len(w.buf))
			}
		}
	}
	w.finish()
}

func (w *Writer) removeWatches() {
	if w.loop == nil {
		return
	}
	if w.writeWatch != 0 {
		w.loop.Remove(w.writeWatch)
		w.writeWatch = 0
	}
	if w.errWatch != 0 {
		w.loop.Remove(w.errWatch)
		w.errWatch = 0
	}
	if w.flushWatch != 0 {
		w.loop.Remove(w.flushWatch)
		w.flushWatch = 0
	}
}

func (w *Writer) finish() {
	if w.state == stateFinished {
		return
	}
	w.removeWatches()
	w.buf = nil
	w.flushPending = false
	w.flushPoint = 0
	w.state = stateFinished
	if w.ch != nil {
		if wc, ok := w.ch.(reactor.WriteCloser); ok {
			if err := wc.CloseWrite(); err != nil {
				milter.Logger().Debug("milter: writer: close", "tag", w.tag, "error", err)
			}
		}
	}
	w.emit(Event{Kind: EventFinished})
}
