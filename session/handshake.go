package session

import (
	"bytes"
	"io"

	"blitter.com/go/ipcomgw/errs"
)

// connectRequestLen is the fixed size of the raw ConnectRequest payload
// (spec.md §4.5).
const connectRequestLen = 56

// connectResponseLen is the fixed size of a successful/degraded
// ConnectResponse.
const connectResponseLen = 135

// nackLen is the size of the short server-nack reply.
const nackLen = 2

func padField(prefix, value string, width int) ([]byte, error) {
	field := prefix + value
	if len(field) > width {
		return nil, errs.New(errs.AuthMalformed, "field %q exceeds %d bytes", field, width)
	}
	out := make([]byte, width)
	copy(out, field)
	for i := len(field); i < width; i++ {
		out[i] = ' '
	}
	return out, nil
}

// buildConnectRequest builds the 56-byte plaintext ConnectRequest body
// (spec.md §4.5, §8 scenario 1).
func buildConnectRequest(username, password string, bus byte) ([]byte, error) {
	if username == "" || password == "" {
		return nil, errs.New(errs.AuthRejected, "empty username or password")
	}

	user, err := padField("USER:", username, 26)
	if err != nil {
		return nil, err
	}
	pass, err := padField("PWD:", password, 26)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, connectRequestLen)
	buf = append(buf, 0x01, 0x02)
	buf = append(buf, user...)
	buf = append(buf, pass...)
	buf = append(buf, bus, 0x00)
	if len(buf) != connectRequestLen {
		return nil, errs.New(errs.AuthMalformed, "built ConnectRequest is %d bytes, want %d", len(buf), connectRequestLen)
	}
	return buf, nil
}

// authenticate runs the full Authenticating state: send the raw encrypted
// ConnectRequest, read back the raw encrypted reply, and act on it.
func (s *Session) authenticate() error {
	s.state = Authenticating

	bus := s.cfg.Bus
	if bus == 0 {
		bus = 1
	}
	plaintext, err := buildConnectRequest(s.cfg.Username, s.cfg.Password, bus)
	if err != nil {
		return err
	}

	// s.cipher is freshly constructed in single-key mode (New()), which is
	// exactly what the handshake itself is encrypted under.
	req := s.cipher.Encrypt(plaintext)
	if _, err := s.conn.Write(req); err != nil {
		return errs.Wrap(err, errs.NetworkIo, "writing ConnectRequest")
	}

	reply, err := readReply(s.conn)
	if err != nil {
		return err
	}

	return s.handleConnectResponse(reply)
}

// readReply reads either the 2-byte nack or a full 135-byte
// ConnectResponse, whichever the server sends.
func readReply(r io.Reader) ([]byte, error) {
	head := make([]byte, nackLen)
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, errs.Wrap(err, errs.NetworkIo, "reading handshake reply")
	}

	// The nack is exactly 2 bytes; anything else means more is coming.
	// Peek by trying to read the remainder of a full ConnectResponse; a
	// short, immediate EOF there confirms the 2-byte nack.
	rest := make([]byte, connectResponseLen-nackLen)
	n, err := io.ReadFull(r, rest)
	if n == 0 && err != nil {
		return head, nil
	}
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, errs.Wrap(err, errs.NetworkIo, "reading handshake reply")
	}

	full := append(head, rest[:n]...)
	if len(full) != connectResponseLen {
		return nil, errs.New(errs.AuthMalformed, "handshake reply is %d bytes, want %d or %d", len(full), nackLen, connectResponseLen)
	}
	return full, nil
}

func (s *Session) handleConnectResponse(reply []byte) error {
	if len(reply) == nackLen {
		if bytes.Equal(reply, []byte{0x7E, 0xE3}) {
			return errs.New(errs.AuthRejected, "server-nack")
		}
		return errs.New(errs.AuthMalformed, "short reply was not the expected nack: % x", reply)
	}

	if len(reply) != connectResponseLen {
		return errs.New(errs.AuthMalformed, "ConnectResponse is %d bytes, want %d", len(reply), connectResponseLen)
	}

	data := s.cipher.Decrypt(reply)

	switch {
	case data[0] == 0x01:
		publicKey := append([]byte(nil), data[7:135]...)
		s.cipher.SetPublicKey(publicKey)
		s.state = Established
		return nil
	case data[0] == 0x0E && data[1] == 0x65:
		s.cipher.Disable()
		s.state = Degraded
		return nil
	default:
		return errs.New(errs.AuthRejected, "ConnectResponse command-id 0x%02x", data[0])
	}
}
