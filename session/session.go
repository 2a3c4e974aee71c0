// Package session implements the handshake state machine and the
// byte-level receive parser for a single IPCom bus-gateway TCP connection
// (spec.md §4.5, §4.6).
package session

import (
	"errors"
	"net"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"

	"blitter.com/go/ipcomgw/cipher"
	"blitter.com/go/ipcomgw/errs"
	"blitter.com/go/ipcomgw/logger"
)

// State is one member of the closed handshake state machine
// (spec.md §3, SessionState).
type State int

const (
	Disconnected State = iota
	TcpOpen
	Authenticating
	Established
	Degraded
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case TcpOpen:
		return "TcpOpen"
	case Authenticating:
		return "Authenticating"
	case Established:
		return "Established"
	case Degraded:
		return "Degraded"
	default:
		return "Unknown"
	}
}

// Sendable reports whether commands or keep-alives may be sent while in
// state s. Only Established and Degraded qualify (spec.md §3).
func (s State) Sendable() bool {
	return s == Established || s == Degraded
}

// Config carries everything needed to dial and authenticate one session.
// There is no config-file loader here; callers populate this struct
// directly (spec.md's device-map/YAML loading stays an external
// collaborator).
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	Bus      byte // bus number sent in ConnectRequest, default 1

	// ModuleAddressBase is the wire address offset added to (module-1)
	// when targeting a write frame. The reference hard-codes 60; this is
	// left configurable rather than guessed (spec.md §9).
	ModuleAddressBase byte

	// WireBusNumber, if non-zero, is prepended as a leading byte to every
	// outbound write frame (spec.md §4.4). Zero means no prefix.
	WireBusNumber byte

	ConnectTimeout time.Duration // default 5s
}

func (c Config) connectTimeout() time.Duration {
	if c.ConnectTimeout <= 0 {
		return 5 * time.Second
	}
	return c.ConnectTimeout
}

// Session owns one TCP connection, its cipher state, and the current
// handshake State. Session is not safe for concurrent use by itself; the
// engine package serializes access under its own mutex.
type Session struct {
	ID uuid.UUID

	cfg    Config
	conn   net.Conn
	cipher *cipher.State
	state  State

	recvBuf []byte
}

// New returns a Session in the Disconnected state, ready to Dial.
func New(cfg Config) *Session {
	return &Session{
		ID:     uuid.New(),
		cfg:    cfg,
		cipher: cipher.New(),
		state:  Disconnected,
	}
}

// State reports the current handshake state.
func (s *Session) State() State { return s.state }

// Cipher returns the session's cipher state, shared with frame/command
// builders that need to encrypt outbound data under the same key material.
func (s *Session) Cipher() *cipher.State { return s.cipher }

// Config returns the configuration this session was built with.
func (s *Session) Config() Config { return s.cfg }

// Dial opens the TCP connection and performs the handshake. On any
// failure the session is left Disconnected and the socket, if opened, is
// closed.
func (s *Session) Dial() error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	conn, err := net.DialTimeout("tcp", addr, s.cfg.connectTimeout())
	if err != nil {
		s.state = Disconnected
		return mapDialErr(err)
	}
	s.conn = conn
	s.state = TcpOpen
	logger.LogInfo("session " + s.ID.String() + ": tcp connected to " + addr)

	if err := s.authenticate(); err != nil {
		s.teardown()
		return err
	}
	return nil
}

// Close tears down the session. It best-effort sends a graceful-disconnect
// frame first, per the reference client's disconnect() behavior
// (supplemented feature, not load-bearing); errors from that send are
// ignored.
func (s *Session) Close() error {
	if s.conn == nil {
		s.state = Disconnected
		return nil
	}
	s.sendDisconnectBestEffort()
	err := s.conn.Close()
	s.teardown()
	return err
}

func (s *Session) teardown() {
	if s.conn != nil {
		s.conn.Close()
	}
	s.conn = nil
	s.state = Disconnected
	s.cipher = cipher.New() // zeroize public key, revert to single-key mode
	s.recvBuf = nil
}

// Conn exposes the underlying net.Conn for read/write by the engine's
// loops. It is nil unless State() is TcpOpen or later.
func (s *Session) Conn() net.Conn { return s.conn }

// mapDialErr classifies a net.DialTimeout failure into the §7 taxonomy:
// DNS resolution, refusal, timeout, or a generic socket error.
func mapDialErr(err error) error {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return errs.Wrap(err, errs.NetworkResolve, "hostname did not resolve")
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return errs.Wrap(err, errs.NetworkRefused, "connection refused")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errs.Wrap(err, errs.NetworkTimeout, "connect timed out")
	}
	return errs.Wrap(err, errs.NetworkIo, "dial failed")
}
