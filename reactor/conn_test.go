package reactor

import (
	"bytes"
	"errors"
	"io"
	"net"
	"os"
	"testing"
	"time"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestConnChannel_ReadWrite(t *testing.T) {
	t.Parallel()
	local, remote := net.Pipe()
	c := NewConnChannel(local)
	defer c.Close()
	defer remote.Close()

	if _, err := c.Read(make([]byte, 10)); !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("Read() error = %v, want ErrWouldBlock", err)
	}
	if c.Poll()&CondOut == 0 {
		t.Fatal("fresh channel is not writable")
	}

	go func() {
		_, _ = remote.Write([]byte("hello"))
	}()
	waitFor(t, "input", func() bool { return c.Poll()&CondIn != 0 })
	waitFor(t, "all input", func() bool { return c.Buffered() == 5 })
	buf := make([]byte, 3)
	n, err := c.Read(buf)
	if err != nil || n != 3 || string(buf) != "hel" {
		t.Fatalf("Read() = %d, %v, %q", n, err, buf)
	}
	n, err = c.Read(buf)
	if err != nil || n != 2 || string(buf[:n]) != "lo" {
		t.Fatalf("Read() = %d, %v, %q", n, err, buf[:n])
	}

	received := make(chan []byte, 1)
	go func() {
		got := make([]byte, 6)
		_, _ = io.ReadFull(remote, got)
		received <- got
	}()
	if n, err := c.Write([]byte("world!")); err != nil || n != 6 {
		t.Fatalf("Write() = %d, %v", n, err)
	}
	select {
	case got := <-received:
		if !bytes.Equal(got, []byte("world!")) {
			t.Fatalf("remote got %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("remote did not receive data")
	}
	waitFor(t, "flushed", func() bool { return c.Poll()&CondFlushed != 0 })
	if err := c.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
}

func TestConnChannel_FlushDoesNotBlock(t *testing.T) {
	t.Parallel()
	local, remote := net.Pipe()
	c := NewConnChannel(local)
	defer c.Close()
	defer remote.Close()

	if err := c.Flush(); err != nil {
		t.Fatalf("Flush() of empty queue error = %v", err)
	}
	if _, err := c.Write([]byte("nobody reads this")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	// the peer never reads, so the bytes stay queued or stuck in the write goroutine
	if err := c.Flush(); !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("Flush() error = %v, want ErrWouldBlock", err)
	}
	if c.Poll()&CondFlushed != 0 {
		t.Fatal("channel with pending output reports CondFlushed")
	}
	go func() {
		_, _ = io.Copy(io.Discard, remote)
	}()
	waitFor(t, "flushed", func() bool { return c.Flush() == nil })
}

func TestConnChannel_WriteTimeout(t *testing.T) {
	t.Parallel()
	local, remote := net.Pipe()
	defer remote.Close()
	c := NewConnChannel(local, WithWriteTimeout(50*time.Millisecond))
	defer c.Close()
	if _, err := c.Write([]byte("stuck")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	waitFor(t, "write timeout", func() bool { return c.Poll()&CondErr != 0 })
	if err := c.Err(); !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatalf("Err() = %v, want deadline exceeded", err)
	}
	if err := c.Flush(); err == nil || errors.Is(err, ErrWouldBlock) {
		t.Fatalf("Flush() error = %v, want the write error", err)
	}
}

func TestConnChannel_ReleaseWritesQueuedOutput(t *testing.T) {
	t.Parallel()
	local, remote := net.Pipe()
	defer remote.Close()
	c := NewConnChannel(local)
	if _, err := c.Write([]byte("bye")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	_ = c.CloseRead()
	_ = c.CloseWrite()
	got, err := io.ReadAll(remote)
	if err != nil && !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if string(got) != "bye" {
		t.Fatalf("remote got %q, want %q", got, "bye")
	}
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("channel not closed after releasing both sides")
	}
}

func TestConnChannel_EOF(t *testing.T) {
	t.Parallel()
	local, remote := net.Pipe()
	c := NewConnChannel(local)
	defer c.Close()
	woken := make(chan struct{}, 10)
	c.SetWaker(func() { woken <- struct{}{} })

	go func() {
		_, _ = remote.Write([]byte("x"))
		_ = remote.Close()
	}()
	waitFor(t, "eof", func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.readErr != nil
	})
	select {
	case <-woken:
	default:
		t.Fatal("waker was not called")
	}
	buf := make([]byte, 4)
	if n, err := c.Read(buf); n != 1 || err != nil {
		t.Fatalf("Read() = %d, %v", n, err)
	}
	if _, err := c.Read(buf); !errors.Is(err, io.EOF) {
		t.Fatalf("Read() error = %v, want io.EOF", err)
	}
	if c.Poll()&CondIn == 0 {
		t.Fatal("channel at EOF must stay readable")
	}
	if c.Err() != nil {
		t.Fatalf("Err() = %v, EOF is no error", c.Err())
	}
}

func TestConnChannel_Backpressure(t *testing.T) {
	t.Parallel()
	local, remote := net.Pipe()
	c := NewConnChannel(local, WithBufferLimits(4, 8))
	defer c.Close()
	defer remote.Close()

	n, err := c.Write(bytes.Repeat([]byte{'a'}, 20))
	if err != nil || n != 8 {
		t.Fatalf("Write() = %d, %v, want 8 bytes", n, err)
	}
	// the write goroutine is stuck on the unread pipe, the queue may be full again
	go func() {
		_, _ = io.Copy(io.Discard, remote)
	}()
	waitFor(t, "flushed", func() bool { return c.Flush() == nil })
	if c.Poll()&CondOut == 0 {
		t.Fatal("drained channel is not writable")
	}
}

func TestConnChannel_WriteError(t *testing.T) {
	t.Parallel()
	local, remote := net.Pipe()
	c := NewConnChannel(local)
	defer c.Close()
	_ = remote.Close()
	if _, err := c.Write([]byte("data")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	waitFor(t, "write error", func() bool { return c.Poll()&CondErr != 0 })
	if err := c.Flush(); err == nil || errors.Is(err, ErrWouldBlock) {
		t.Fatalf("Flush() to closed peer error = %v", err)
	}
	if c.Err() == nil {
		t.Fatal("Err() = nil")
	}
	if _, err := c.Write([]byte("more")); err == nil {
		t.Fatal("Write() to broken channel succeeded")
	}
}

func TestConnChannel_CloseSides(t *testing.T) {
	t.Parallel()
	local, remote := net.Pipe()
	defer remote.Close()
	c := NewConnChannel(local)
	if err := c.CloseRead(); err != nil {
		t.Fatal(err)
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		t.Fatal("channel closed after releasing only the read side")
	}
	if err := c.CloseWrite(); err != nil {
		t.Fatal(err)
	}
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("channel not closed after releasing both sides")
	}
	if _, err := c.Write([]byte("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("Write() error = %v, want ErrClosed", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}
