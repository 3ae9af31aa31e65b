package agent

import (
	"errors"
	"fmt"
	"io"

	milter "github.com/d--j/go-milter-agent"
	"github.com/d--j/go-milter-agent/reactor"
)

// ReadBufferSize is the maximum number of bytes one [EventFlow] event of a [Reader] carries.
const ReadBufferSize = 4096

// Reader emits the bytes of a channel as [EventFlow] events.
//
// The end of the input stream or a read error shuts the Reader down: it emits [EventFinished]
// (after an [EventError] for real errors) and releases the read side of the channel.
type Reader struct {
	ch        reactor.Channel
	loop      reactor.Reactor
	handler   EventHandler
	tag       uint
	state     state
	watch     reactor.Handle
	buf       []byte
	inFlight  bool
	shutdown  bool
	finishing bool
	ended     bool
}

// NewReader returns a Reader for ch. It does nothing until [Reader.Start] gets called.
func NewReader(ch reactor.Channel) *Reader {
	return &Reader{ch: ch}
}

// SetHandler sets the receiver of the events of r.
func (r *Reader) SetHandler(handler EventHandler) {
	r.handler = handler
}

// SetTag sets the session tag used in log messages.
func (r *Reader) SetTag(tag uint) {
	r.tag = tag
}

// Tag returns the session tag.
func (r *Reader) Tag() uint {
	return r.tag
}

// Finished reports whether r emitted [EventFinished].
func (r *Reader) Finished() bool {
	return r.state == stateFinished
}

// InputEnded reports whether r finished because the stream ended or broke.
// It is false after a [Reader.Shutdown].
func (r *Reader) InputEnded() bool {
	return r.ended
}

// Start registers r on loop. Starting a Reader a second time does nothing.
func (r *Reader) Start(loop reactor.Reactor) error {
	if loop == nil {
		return milter.ErrNoEventLoop
	}
	if r.ch == nil {
		return milter.ErrNoChannel
	}
	if r.state != stateIdle {
		return nil
	}
	r.loop = loop
	r.state = stateWatching
	r.watch = loop.WatchReadable(r.ch, r.onReadable)
	return nil
}

func (r *Reader) emit(ev Event) {
	if r.handler != nil {
		r.handler(ev)
	}
}

func (r *Reader) onReadable() bool {
	if r.state != stateWatching {
		return false
	}
	if r.buf == nil {
		r.buf = make([]byte, ReadBufferSize)
	}
	r.inFlight = true
	for !r.shutdown {
		n, err := r.ch.Read(r.buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, r.buf[:n])
			r.emit(Event{Kind: EventFlow, Data: data})
		}
		if err != nil {
			if errors.Is(err, reactor.ErrWouldBlock) {
				break
			}
			if !errors.Is(err, io.EOF) {
				r.emit(Event{Kind: EventError, Err: fmt.Errorf("%w: read: %w", milter.ErrIO, err)})
			}
			r.ended = true
			r.shutdown = true
			break
		}
		if r.ch.Buffered() == 0 {
			break
		}
	}
	r.inFlight = false
	if r.shutdown {
		r.watch = 0
		r.finish()
		return false
	}
	return true
}

// Shutdown stops reading and emits [EventFinished]. It is idempotent.
// Called from inside an event handler of r the teardown happens when the handler returns.
func (r *Reader) Shutdown() {
	if r.state == stateFinished || r.finishing {
		return
	}
	r.shutdown = true
	if r.inFlight {
		return
	}
	r.finish()
}

func (r *Reader) finish() {
	if r.state == stateFinished || r.finishing {
		return
	}
	r.finishing = true
	if r.loop != nil && r.watch != 0 {
		r.loop.Remove(r.watch)
		r.watch = 0
	}
	if r.ch != nil {
		if rc, ok := r.ch.(reactor.ReadCloser); ok {
			if err := rc.CloseRead(); err != nil {
				milter.Logger().Debug("milter: reader: close", "tag", r.tag, "error", err)
			}
		}
	}
	r.state = stateFinished
	r.emit(Event{Kind: EventFinished})
}
