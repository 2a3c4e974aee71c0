package session

import (
	"bytes"
	"testing"

	"blitter.com/go/ipcomgw/cipher"
	"blitter.com/go/ipcomgw/errs"
)

func TestBuildConnectRequestLayout(t *testing.T) {
	// spec.md §8 scenario 1.
	req, err := buildConnectRequest("u", "p", 1)
	if err != nil {
		t.Fatalf("buildConnectRequest: %v", err)
	}
	if len(req) != connectRequestLen {
		t.Fatalf("length = %d, want %d", len(req), connectRequestLen)
	}
	if req[0] != 0x01 || req[1] != 0x02 {
		t.Fatalf("header = % x, want 01 02", req[:2])
	}
	wantUser := append([]byte("USER:u"), bytes.Repeat([]byte(" "), 20)...)
	if !bytes.Equal(req[2:28], wantUser) {
		t.Fatalf("username field = %q, want %q", req[2:28], wantUser)
	}
	wantPass := append([]byte("PWD:p"), bytes.Repeat([]byte(" "), 21)...)
	if !bytes.Equal(req[28:54], wantPass) {
		t.Fatalf("password field = %q, want %q", req[28:54], wantPass)
	}
	if req[54] != 0x01 || req[55] != 0x00 {
		t.Fatalf("trailer = % x, want 01 00", req[54:56])
	}
}

func TestBuildConnectRequestRejectsEmptyCredentials(t *testing.T) {
	if _, err := buildConnectRequest("", "p", 1); !errs.Is(err, errs.AuthRejected) {
		t.Fatalf("empty username: want AuthRejected, got %v", err)
	}
	if _, err := buildConnectRequest("u", "", 1); !errs.Is(err, errs.AuthRejected) {
		t.Fatalf("empty password: want AuthRejected, got %v", err)
	}
}

func TestHandleConnectResponseSuccess(t *testing.T) {
	s := New(Config{Host: "h", Port: 1, Username: "u", Password: "p"})
	s.state = Authenticating

	data := make([]byte, connectResponseLen)
	data[0] = 0x01
	for i := range data[7:135] {
		data[7+i] = byte(i)
	}
	ct := s.cipher.Encrypt(data)

	if err := s.handleConnectResponse(ct); err != nil {
		t.Fatalf("handleConnectResponse: %v", err)
	}
	if s.state != Established {
		t.Fatalf("state = %v, want Established", s.state)
	}
	if !s.cipher.DualKey() {
		t.Fatal("cipher did not switch to dual-key mode")
	}
}

func TestHandleConnectResponseNonSecure(t *testing.T) {
	s := New(Config{Host: "h", Port: 1, Username: "u", Password: "p"})
	s.state = Authenticating

	data := make([]byte, connectResponseLen)
	data[0] = 0x0E
	data[1] = 0x65
	ct := s.cipher.Encrypt(data)

	if err := s.handleConnectResponse(ct); err != nil {
		t.Fatalf("handleConnectResponse: %v", err)
	}
	if s.state != Degraded {
		t.Fatalf("state = %v, want Degraded", s.state)
	}
	if s.cipher.Secure() {
		t.Fatal("cipher should be disabled in Degraded mode")
	}
}

func TestHandleConnectResponseNack(t *testing.T) {
	s := New(Config{Host: "h", Port: 1, Username: "u", Password: "p"})
	s.state = Authenticating

	err := s.handleConnectResponse([]byte{0x7E, 0xE3})
	if !errs.Is(err, errs.AuthRejected) {
		t.Fatalf("want AuthRejected, got %v", err)
	}
	if s.state != Authenticating {
		t.Fatal("handleConnectResponse must not itself change state on failure")
	}
}

func TestHandleConnectResponseMalformedLength(t *testing.T) {
	s := New(Config{Host: "h", Port: 1, Username: "u", Password: "p"})
	s.state = Authenticating

	err := s.handleConnectResponse(make([]byte, 40))
	if !errs.Is(err, errs.AuthMalformed) {
		t.Fatalf("want AuthMalformed, got %v", err)
	}
}

func TestStateSendable(t *testing.T) {
	for _, st := range []State{Established, Degraded} {
		if !st.Sendable() {
			t.Fatalf("%v should be sendable", st)
		}
	}
	for _, st := range []State{Disconnected, TcpOpen, Authenticating} {
		if st.Sendable() {
			t.Fatalf("%v should not be sendable", st)
		}
	}
}

func TestCipherPackageUsedDirectlyForSanityCheck(t *testing.T) {
	// Guards against accidentally diverging the handshake's cipher usage
	// from the shared cipher package's documented involution property.
	c := cipher.New()
	msg := []byte("sanity")
	if !bytes.Equal(c.Decrypt(c.Encrypt(msg)), msg) {
		t.Fatal("cipher round trip broken")
	}
}
