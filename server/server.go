// Package server implements the filter side of the milter protocol.
//
// Every accepted connection gets its own [reactor.Loop] goroutine that drives an
// [agent.CommandAgent]. Decoded commands are dispatched to a [Milter] backend and
// its [Response] gets encoded as reply.
package server

import (
	"errors"
	"net"
	"sync"
	"time"

	milter "github.com/d--j/go-milter-agent"
	"github.com/hashicorp/go-multierror"
)

// ErrServerClosed is returned by [Server.Serve] after a call to [Server.Close].
var ErrServerClosed = errors.New("milter: server closed")

// Server is a milter server.
type Server struct {
	options   options
	mu        sync.Mutex
	listeners map[net.Listener]struct{}
	closed    bool
	sessions  sync.WaitGroup
}

// New creates a new milter server.
//
// You need to at least specify the used [Milter] with [WithMilter] or [WithDynamicMilter].
// You should also specify the actions your [Milter] does. Otherwise, you cannot do any message modifications.
// For performance reasons you should disable protocol steps that you do not need with [WithProtocol].
//
// New panics when you provide invalid options.
func New(opts ...Option) *Server {
	o := options{
		maxVersion:   milter.MaxVersion,
		readTimeout:  10 * time.Second,
		writeTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.newMilter == nil {
		panic("milter: you need to use WithMilter in New call")
	}
	if o.maxVersion > milter.MaxVersion || o.maxVersion < 2 {
		panic("milter: this library cannot handle this milter version")
	}
	if o.usedMaxData != 0 && o.usedMaxData != milter.DataSize64K && o.usedMaxData != milter.DataSize256K && o.usedMaxData != milter.DataSize1M {
		panic("milter: invalid data size")
	}
	return &Server{options: o, listeners: make(map[net.Listener]struct{})}
}

// Serve accepts connections on ln and handles each in its own goroutine.
// You can call Serve multiple times (concurrently) to serve on multiple listeners.
// Serve closes ln when it returns.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ln.Close()
		return ErrServerClosed
	}
	s.listeners[ln] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.listeners, ln)
		s.mu.Unlock()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return ErrServerClosed
			}
			return err
		}
		s.sessions.Add(1)
		go func() {
			defer s.sessions.Done()
			newSession(s, conn).run()
		}()
	}
}

// Close closes all listeners of the server. Running sessions are not interrupted, use [Server.Wait]
// to wait for them. Close returns ErrServerClosed if the server is already closed.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrServerClosed
	}
	s.closed = true
	var result *multierror.Error
	for ln := range s.listeners {
		if err := ln.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Wait blocks until all sessions of the server ended.
func (s *Server) Wait() {
	s.sessions.Wait()
}
