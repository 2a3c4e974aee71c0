package session

import (
	"bytes"
	"testing"

	"blitter.com/go/ipcomgw/cipher"
	"blitter.com/go/ipcomgw/command"
)

func establishedSession(t *testing.T) *Session {
	t.Helper()
	s := New(Config{Host: "h", Port: 1, Username: "u", Password: "p"})
	pub := make([]byte, cipher.PublicKeySize)
	for i := range pub {
		pub[i] = byte(i * 7)
	}
	s.cipher.SetPublicKey(pub)
	s.state = Established
	return s
}

func encodeSnapshotWire(s *Session, body []byte) []byte {
	return s.cipher.Encrypt(body)
}

func snapshotBody(fill func([]byte)) []byte {
	b := make([]byte, 130)
	b[0] = 0x05
	b[1] = 0x01
	if fill != nil {
		fill(b[2:])
	}
	return b
}

func TestParserDecodesOneSnapshot(t *testing.T) {
	s := establishedSession(t)
	wire := encodeSnapshotWire(s, snapshotBody(func(m []byte) { m[28] = 0xFF }))

	p := NewParser(s)
	out, err := p.Feed(wire)
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(out) != 1 || out[0].Snapshot == nil {
		t.Fatalf("expected exactly one snapshot, got %v", out)
	}
	v, _ := out[0].Snapshot.Get(4, 5)
	if v != 255 {
		t.Fatalf("Get(4,5) = %d, want 255", v)
	}
}

func TestParserHandlesByteAtATimeFeed(t *testing.T) {
	s := establishedSession(t)
	wire := encodeSnapshotWire(s, snapshotBody(nil))

	p := NewParser(s)
	var total []Parsed
	for _, b := range wire {
		out, err := p.Feed([]byte{b})
		if err != nil {
			t.Fatalf("Feed: %v", err)
		}
		total = append(total, out...)
	}
	if len(total) != 1 {
		t.Fatalf("expected 1 snapshot from byte-at-a-time feed, got %d", len(total))
	}
}

func TestParserWaitsOn129Bytes(t *testing.T) {
	s := establishedSession(t)
	wire := encodeSnapshotWire(s, snapshotBody(nil))

	p := NewParser(s)
	out, err := p.Feed(wire[:129])
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected no messages from 129 bytes, got %d", len(out))
	}
}

func TestParserEmitsExactlyOneOn131Bytes(t *testing.T) {
	s := establishedSession(t)
	wire := encodeSnapshotWire(s, snapshotBody(nil))
	extra := append(append([]byte{}, wire...), 0x00)

	p := NewParser(s)
	out, err := p.Feed(extra)
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected exactly 1 snapshot from 131 bytes, got %d", len(out))
	}
}

func TestParserEmitsTwoOn260Bytes(t *testing.T) {
	s := establishedSession(t)
	wire1 := encodeSnapshotWire(s, snapshotBody(func(m []byte) { m[0] = 0x11 }))
	wire2 := encodeSnapshotWire(s, snapshotBody(func(m []byte) { m[0] = 0x22 }))

	p := NewParser(s)
	out, err := p.Feed(append(append([]byte{}, wire1...), wire2...))
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 snapshots from 260 bytes, got %d", len(out))
	}
}

func TestParserDecodesFramedMessage(t *testing.T) {
	s := establishedSession(t)
	f, err := command.BuildWrite(s.cipher, command.DefaultAddressBase, 1, [8]byte{1, 2, 3, 4, 5, 6, 7, 8})
	if err != nil {
		t.Fatalf("BuildWrite: %v", err)
	}
	wire := f.Marshal(0)

	p := NewParser(s)
	out, err := p.Feed(wire)
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(out) != 1 || out[0].Frame == nil {
		t.Fatalf("expected exactly one framed message, got %v", out)
	}
	want := []byte{0x01, 1, 2, 3, 4, 5, 6, 7, 8}
	if !bytes.Equal(out[0].Data, want) {
		t.Fatalf("decrypted payload = % x, want % x", out[0].Data, want)
	}
}

func TestParserScansPastGarbage(t *testing.T) {
	s := establishedSession(t)
	f, _ := command.BuildWrite(s.cipher, command.DefaultAddressBase, 2, [8]byte{})
	wire := f.Marshal(0)

	garbage := []byte{0x00, 0x99, 0x11}
	p := NewParser(s)
	out, err := p.Feed(append(garbage, wire...))
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(out) != 1 || out[0].Frame == nil {
		t.Fatalf("expected the frame to survive leading garbage, got %v", out)
	}
}

func TestParserDropsBadChecksumSilently(t *testing.T) {
	s := establishedSession(t)
	f, _ := command.BuildWrite(s.cipher, command.DefaultAddressBase, 2, [8]byte{})
	wire := f.Marshal(0)
	wire[len(wire)-1] ^= 0xFF

	p := NewParser(s)
	out, err := p.Feed(wire)
	if err != nil {
		t.Fatalf("Feed should not surface a bad checksum as an error: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected the bad-checksum frame to be dropped, got %v", out)
	}
}

func TestParserWaitsOnIncompleteFrame(t *testing.T) {
	s := establishedSession(t)
	f, _ := command.BuildWrite(s.cipher, command.DefaultAddressBase, 2, [8]byte{})
	wire := f.Marshal(0)

	p := NewParser(s)
	out, err := p.Feed(wire[:len(wire)-2])
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(out) != 0 {
		t.Fatal("expected no messages from a truncated frame")
	}

	out, err = p.Feed(wire[len(wire)-2:])
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(out) != 1 || out[0].Frame == nil {
		t.Fatalf("expected the frame to complete once the remainder arrives, got %v", out)
	}
}
