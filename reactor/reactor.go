// Package reactor is a small single goroutine event loop.
//
// A [Loop] watches [Channel] values for readiness, runs timers and idle callbacks.
// All callbacks run on the goroutine that drives the loop, so code that only gets called
// from callbacks does not need any locking. [Loop.Invoke] is the one way to get work
// onto the loop from other goroutines.
package reactor

import (
	"errors"
	"strings"
	"time"
)

// ErrWouldBlock is returned by non-blocking [Channel] operations that cannot make progress right now.
var ErrWouldBlock = errors.New("reactor: operation would block")

// ErrClosed is returned by operations on a closed [Channel].
var ErrClosed = errors.New("reactor: channel closed")

// Condition is a set of readiness conditions of a [Channel].
type Condition uint8

const (
	// CondIn means Read will return data, io.EOF or an error without blocking.
	CondIn Condition = 1 << iota
	// CondOut means Write will accept at least one byte.
	CondOut
	// CondErr means the channel is broken.
	CondErr
	// CondFlushed means every byte Write accepted was handed to the peer.
	CondFlushed
)

func (c Condition) String() string {
	if c == 0 {
		return "none"
	}
	var parts []string
	if c&CondIn != 0 {
		parts = append(parts, "in")
	}
	if c&CondOut != 0 {
		parts = append(parts, "out")
	}
	if c&CondErr != 0 {
		parts = append(parts, "err")
	}
	if c&CondFlushed != 0 {
		parts = append(parts, "flushed")
	}
	return strings.Join(parts, "|")
}

// Channel is a non-blocking byte channel.
//
// No method blocks. Read and Write return [ErrWouldBlock] when they cannot make progress.
// Flush returns nil once every accepted byte was handed to the peer and [ErrWouldBlock] while
// bytes are still queued; watch for [CondFlushed] to learn when that changes.
// The channel calls the waker function (from any goroutine) whenever its Poll result may have changed.
type Channel interface {
	Read(p []byte) (n int, err error)
	Write(p []byte) (n int, err error)
	Flush() error
	// Buffered returns the number of bytes Read can return right now.
	Buffered() int
	Poll() Condition
	// Err returns the error that broke the channel or nil.
	Err() error
	SetWaker(waker func())
	Close() error
}

// ReadCloser is implemented by channels that can release their read side independently.
type ReadCloser interface {
	CloseRead() error
}

// WriteCloser is implemented by channels that can release their write side independently.
type WriteCloser interface {
	CloseWrite() error
}

// Handle identifies a registered watch, timer or idle callback. The zero Handle is never used.
type Handle uint64

// Callback gets called by the loop. Returning false unregisters it.
type Callback func() bool

// Reactor is what components need from an event loop.
type Reactor interface {
	WatchReadable(ch Channel, fn Callback) Handle
	WatchWritable(ch Channel, fn Callback) Handle
	WatchError(ch Channel, fn Callback) Handle
	WatchFlushed(ch Channel, fn Callback) Handle
	// AddTimer calls fn every interval until fn returns false or the timer gets removed.
	AddTimer(interval time.Duration, fn Callback) Handle
	// AddIdle calls fn whenever the loop has nothing else to do.
	AddIdle(fn Callback) Handle
	Remove(h Handle)
}
