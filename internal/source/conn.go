package source

import (
	"context"
	"fmt"
	"sync"
)

// Conn owns the underlying session to the remote service. The scheduled
// driver and the live-update listener must share one Conn: two independent
// sessions contend for the provider's session lock.
type Conn interface {
	// Source returns the capability bound to this connection.
	Source() Source

	// Connected reports whether the session is currently usable.
	Connected() bool

	// Connect (re-)establishes the session. Safe to call when already
	// connected.
	Connect(ctx context.Context) error

	// Close tears the session down.
	Close() error
}

// SharedConn wraps a Conn with reference counting so the driver and the
// listener can each acquire and release it independently; the session
// closes only when the last holder releases.
type SharedConn struct {
	mu   sync.Mutex
	conn Conn
	refs int
}

// NewSharedConn wraps conn. The caller does not hold a reference yet.
func NewSharedConn(conn Conn) *SharedConn {
	return &SharedConn{conn: conn}
}

// Acquire connects on first use and returns the shared source.
func (s *SharedConn) Acquire(ctx context.Context) (Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil, fmt.Errorf("shared connection is closed")
	}
	if !s.conn.Connected() {
		if err := s.conn.Connect(ctx); err != nil {
			return nil, fmt.Errorf("connect shared session: %w", err)
		}
	}
	s.refs++
	return s.conn.Source(), nil
}

// Release drops one reference; the last release closes the session. The
// wrapper stays usable: a later Acquire reconnects.
func (s *SharedConn) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil || s.refs == 0 {
		return nil
	}
	s.refs--
	if s.refs > 0 {
		return nil
	}
	return s.conn.Close()
}

// Refs returns the current holder count.
func (s *SharedConn) Refs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs
}
