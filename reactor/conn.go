package reactor

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

const (
	defaultInLimit  = 64 * 1024
	defaultOutLimit = 256 * 1024
	readChunkSize   = 32 * 1024
)

// ConnChannel turns a blocking [net.Conn] into a non-blocking [Channel].
//
// One goroutine reads from the connection into a bounded buffer and another one writes the
// bounded output queue to the connection. When the input buffer is full the read goroutine stops
// reading, so a slow consumer pushes back on the peer. A peer that stops reading only stalls the
// write goroutine, and only until the write timeout expires.
type ConnChannel struct {
	conn         net.Conn
	inLimit      int
	outLimit     int
	writeTimeout time.Duration

	mu            sync.Mutex
	cond          *sync.Cond
	in            []byte
	readErr       error
	out           []byte
	writing       bool
	writeErr      error
	writeDone     bool
	closed        bool
	readReleased  bool
	writeReleased bool
	waker         func()
	done          chan struct{}
}

// ConnOption configures a [ConnChannel].
type ConnOption func(*ConnChannel)

// WithBufferLimits sets the maximum number of buffered input and queued output bytes.
func WithBufferLimits(in, out int) ConnOption {
	return func(c *ConnChannel) {
		if in > 0 {
			c.inLimit = in
		}
		if out > 0 {
			c.outLimit = out
		}
	}
}

// WithWriteTimeout sets the write deadline of every write to the connection. A write that does not
// finish in time breaks the channel. Zero (the default) disables the deadline.
func WithWriteTimeout(timeout time.Duration) ConnOption {
	return func(c *ConnChannel) {
		if timeout > 0 {
			c.writeTimeout = timeout
		}
	}
}

// NewConnChannel wraps conn and starts the I/O goroutines. They end when the channel gets closed.
func NewConnChannel(conn net.Conn, opts ...ConnOption) *ConnChannel {
	c := &ConnChannel{
		conn:     conn,
		inLimit:  defaultInLimit,
		outLimit: defaultOutLimit,
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	c.cond = sync.NewCond(&c.mu)
	go c.readLoop()
	go c.writeLoop()
	return c
}

var _ Channel = (*ConnChannel)(nil)

// Conn returns the wrapped connection.
func (c *ConnChannel) Conn() net.Conn {
	return c.conn
}

// Done is closed once the connection got closed.
func (c *ConnChannel) Done() <-chan struct{} {
	return c.done
}

// notify must be called with c.mu held. The waker gets called after the lock was released.
func (c *ConnChannel) notify() func() {
	c.cond.Broadcast()
	if c.waker == nil {
		return func() {}
	}
	return c.waker
}

func (c *ConnChannel) readLoop() {
	buf := make([]byte, readChunkSize)
	for {
		c.mu.Lock()
		for len(c.in) >= c.inLimit && !c.closed {
			c.cond.Wait()
		}
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		n, err := c.conn.Read(buf)

		c.mu.Lock()
		c.in = append(c.in, buf[:n]...)
		if err != nil && !c.closed {
			c.readErr = err
		}
		wake := c.notify()
		c.mu.Unlock()
		wake()
		if err != nil {
			return
		}
	}
}

func (c *ConnChannel) writeLoop() {
	defer c.endWrite()
	for {
		c.mu.Lock()
		for len(c.out) == 0 && !c.closed && !c.writeReleased {
			c.cond.Wait()
		}
		if c.closed || len(c.out) == 0 {
			c.mu.Unlock()
			return
		}
		data := c.out
		c.out = nil
		c.writing = true
		c.mu.Unlock()

		if c.writeTimeout > 0 {
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		}
		_, err := c.conn.Write(data)

		c.mu.Lock()
		c.writing = false
		if err != nil && !c.closed {
			c.writeErr = err
		}
		wake := c.notify()
		c.mu.Unlock()
		wake()
		if err != nil {
			return
		}
	}
}

// endWrite runs when the write goroutine is gone. A released write side that got drained
// without error gets shut down, and the connection gets closed once the read side was released too.
func (c *ConnChannel) endWrite() {
	c.mu.Lock()
	c.writeDone = true
	if c.closed {
		c.mu.Unlock()
		return
	}
	halfClose := c.writeReleased && !c.readReleased && c.writeErr == nil
	wake := c.notify()
	c.mu.Unlock()
	wake()
	if halfClose {
		if cw, ok := c.conn.(interface{ CloseWrite() error }); ok {
			_ = cw.CloseWrite()
		}
	}
	c.closeIfReleased()
}

func (c *ConnChannel) closeIfReleased() {
	c.mu.Lock()
	release := c.readReleased && c.writeReleased && c.writeDone && !c.closed
	c.mu.Unlock()
	if release {
		_ = c.Close()
	}
}

// Read copies buffered input into p. It returns io.EOF (or the read error) once the buffer is drained
// and the connection ended.
func (c *ConnChannel) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.in) > 0 {
		n := copy(p, c.in)
		c.in = c.in[:copy(c.in, c.in[n:])]
		c.cond.Broadcast()
		return n, nil
	}
	if c.readErr != nil {
		return 0, c.readErr
	}
	if c.closed {
		return 0, ErrClosed
	}
	return 0, ErrWouldBlock
}

// Write queues as much of p as fits into the output queue.
func (c *ConnChannel) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	if c.closed || c.writeReleased {
		return 0, ErrClosed
	}
	space := c.outLimit - len(c.out)
	if space <= 0 {
		return 0, ErrWouldBlock
	}
	n := min(space, len(p))
	c.out = append(c.out, p[:n]...)
	c.cond.Broadcast()
	return n, nil
}

// Flush reports whether the output queue was written to the connection. It returns [ErrWouldBlock]
// while bytes are still queued or in the middle of being written.
func (c *ConnChannel) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	if len(c.out) == 0 && !c.writing {
		return nil
	}
	if c.closed {
		return ErrClosed
	}
	return ErrWouldBlock
}

// Buffered returns the number of input bytes ready to be read.
func (c *ConnChannel) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.in)
}

// Poll returns the current readiness.
func (c *ConnChannel) Poll() Condition {
	c.mu.Lock()
	defer c.mu.Unlock()
	var cond Condition
	if len(c.in) > 0 || c.readErr != nil {
		cond |= CondIn
	}
	if c.writeErr == nil && !c.closed && !c.writeReleased && len(c.out) < c.outLimit {
		cond |= CondOut
	}
	if c.writeErr != nil {
		cond |= CondErr
	} else if len(c.out) == 0 && !c.writing {
		cond |= CondFlushed
	}
	return cond
}

// Err returns the write error or a read error other than io.EOF.
func (c *ConnChannel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	if c.readErr != nil && !errors.Is(c.readErr, io.EOF) {
		return c.readErr
	}
	return nil
}

// SetWaker sets the function that gets called when the readiness may have changed.
func (c *ConnChannel) SetWaker(waker func()) {
	c.mu.Lock()
	c.waker = waker
	c.mu.Unlock()
}

// CloseRead releases the read side. The connection gets closed when both sides are released
// and the queued output was written.
func (c *ConnChannel) CloseRead() error {
	c.mu.Lock()
	c.readReleased = true
	c.mu.Unlock()
	c.closeIfReleased()
	return nil
}

// CloseWrite releases the write side and returns right away. The write goroutine writes what is
// still queued and then shuts down the write half of the connection when the connection supports it,
// or closes the connection when the read side was released as well.
func (c *ConnChannel) CloseWrite() error {
	c.mu.Lock()
	c.writeReleased = true
	c.cond.Broadcast()
	c.mu.Unlock()
	c.closeIfReleased()
	return nil
}

// Close closes the connection and stops the I/O goroutines. Queued output gets dropped.
func (c *ConnChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	wake := c.notify()
	c.mu.Unlock()
	wake()
	return c.conn.Close()
}
