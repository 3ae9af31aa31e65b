package agent

import (
	"fmt"
	"time"

	milter "github.com/d--j/go-milter-agent"
	"github.com/d--j/go-milter-agent/reactor"
)

// Decoder is the inbound half of an [Agent].
type Decoder interface {
	Feed(chunk []byte) error
	EndOfInput() error
	SetTag(tag uint)
}

// Encoder is the outbound half of an [Agent]. Only the tag matters to the Agent.
type Encoder interface {
	SetTag(tag uint)
}

// Agent drives one side of a milter session on an event loop.
//
// Bytes read by the [Reader] get fed into the [Decoder], packets handed to [Agent.WritePacket]
// go out through the [Writer]. The Agent emits [EventFlushed], [EventError] and exactly one [EventFinished].
// Decoder failures are reported as [EventError] with an error that wraps [milter.ErrDecode] and the
// original decoder error, and shut the Agent down.
type Agent struct {
	loop         reactor.Reactor
	reader       *Reader
	writer       *Writer
	decoder      Decoder
	encoder      Encoder
	handler      EventHandler
	tag          uint
	started      time.Time
	shuttingDown bool
	finished     bool
	decodeFailed bool
}

// New returns an Agent with a fresh session tag. Reader, writer and decoder are optional.
func New(reader *Reader, writer *Writer, decoder Decoder, encoder Encoder) *Agent {
	a := &Agent{decoder: decoder, encoder: encoder}
	a.SetReader(reader)
	a.SetWriter(writer)
	a.SetTag(NextTag())
	return a
}

// SetEventHandler sets the receiver of the events of a.
func (a *Agent) SetEventHandler(handler EventHandler) {
	a.handler = handler
}

// SetLoop sets the event loop [Agent.Start] registers the reader and writer on.
func (a *Agent) SetLoop(loop reactor.Reactor) {
	a.loop = loop
}

// Loop returns the event loop of a or nil.
func (a *Agent) Loop() reactor.Reactor {
	return a.loop
}

// SetTag sets the session tag of a and all its parts.
func (a *Agent) SetTag(tag uint) {
	a.tag = tag
	if a.reader != nil {
		a.reader.SetTag(tag)
	}
	if a.writer != nil {
		a.writer.SetTag(tag)
	}
	if a.decoder != nil {
		a.decoder.SetTag(tag)
	}
	if a.encoder != nil {
		a.encoder.SetTag(tag)
	}
}

// Tag returns the session tag.
func (a *Agent) Tag() uint {
	return a.tag
}

// Reader returns the current reader or nil.
func (a *Agent) Reader() *Reader {
	return a.reader
}

// Writer returns the current writer or nil.
func (a *Agent) Writer() *Writer {
	return a.writer
}

// SetReader replaces the reader. The old reader stays untouched but a does not listen to it anymore.
func (a *Agent) SetReader(r *Reader) {
	if a.reader != nil {
		a.reader.SetHandler(nil)
	}
	a.reader = r
	if r != nil {
		r.SetTag(a.tag)
		r.SetHandler(a.onReaderEvent)
	}
}

// SetWriter replaces the writer. An old writer with a pending flush gets drained first.
func (a *Agent) SetWriter(w *Writer) {
	if a.writer != nil {
		if a.writer.FlushPending() {
			if err := a.writer.Drain(); err != nil {
				milter.Logger().Debug("milter: agent: auto-flush failed", "tag", a.tag, "error", err)
			}
		}
		a.writer.SetHandler(nil)
	}
	a.writer = w
	if w != nil {
		w.SetTag(a.tag)
		w.SetHandler(a.onWriterEvent)
	}
}

// Start starts reader and writer on the event loop.
func (a *Agent) Start() error {
	if a.loop == nil {
		return milter.ErrNoEventLoop
	}
	a.started = time.Now()
	if a.reader != nil {
		if err := a.reader.Start(a.loop); err != nil {
			return err
		}
	}
	if a.writer != nil {
		if err := a.writer.Start(a.loop); err != nil {
			return err
		}
	}
	return nil
}

// Elapsed returns the seconds since [Agent.Start] or 0 when a was not started.
func (a *Agent) Elapsed() float64 {
	if a.started.IsZero() {
		return 0
	}
	return time.Since(a.started).Seconds()
}

// Finished reports whether a emitted [EventFinished].
func (a *Agent) Finished() bool {
	return a.finished
}

// WritePacket writes packet and requests a flush.
func (a *Agent) WritePacket(packet []byte) error {
	if a.writer == nil {
		return milter.ErrNoChannel
	}
	if err := a.writer.Write(packet); err != nil {
		return err
	}
	return a.writer.Flush()
}

// Feed hands data to the decoder like the reader does.
func (a *Agent) Feed(data []byte) error {
	if a.decoder == nil {
		return nil
	}
	if err := a.decoder.Feed(data); err != nil {
		return fmt.Errorf("%w: %w", milter.ErrDecode, err)
	}
	return nil
}

// Shutdown stops a. It is idempotent and leads to exactly one [EventFinished],
// synchronously when there is no reader that is still running.
func (a *Agent) Shutdown() {
	if a.shuttingDown || a.finished {
		return
	}
	a.shuttingDown = true
	defer func() { a.shuttingDown = false }()
	if a.reader != nil && !a.reader.Finished() {
		// onReaderEvent finishes the agent
		a.reader.Shutdown()
		return
	}
	if a.writer != nil {
		a.writer.Shutdown()
	}
	a.finish()
}

func (a *Agent) emit(ev Event) {
	if a.handler != nil {
		a.handler(ev)
	}
}

func (a *Agent) finish() {
	if a.finished {
		return
	}
	a.finished = true
	milter.Logger().Debug("milter: agent finished", "tag", a.tag, "elapsed", a.Elapsed())
	a.emit(Event{Kind: EventFinished})
}

func (a *Agent) onReaderEvent(ev Event) {
	switch ev.Kind {
	case EventFlow:
		if a.decodeFailed {
			return
		}
		if err := a.Feed(ev.Data); err != nil {
			a.decodeFailed = true
			a.emit(Event{Kind: EventError, Err: err})
			a.Shutdown()
		}
	case EventError:
		a.emit(ev)
	case EventFinished:
		// a partial frame only is an error when the peer ended the stream
		if a.decoder != nil && !a.decodeFailed && a.reader != nil && a.reader.InputEnded() {
			if err := a.decoder.EndOfInput(); err != nil {
				a.decodeFailed = true
				a.emit(Event{Kind: EventError, Err: fmt.Errorf("%w: %w", milter.ErrDecode, err)})
			}
		}
		if a.writer != nil {
			a.writer.Shutdown()
		}
		a.finish()
	}
}

func (a *Agent) onWriterEvent(ev Event) {
	switch ev.Kind {
	case EventFlushed, EventError:
		a.emit(ev)
	}
}
