package session

import "net"

// Attach installs conn as the session's transport and sets its state
// directly, bypassing Dial and the handshake. It exists for callers (and
// tests) that already have an authenticated transport in hand — for
// example a test harness driving the engine against an in-memory
// net.Pipe without performing a real handshake over it.
func (s *Session) Attach(conn net.Conn, st State) {
	s.conn = conn
	s.state = st
}
