// Package frame implements the fixed framed-message codec used for
// everything on the wire except the raw handshake and raw status/snapshot
// exchanges (spec.md §4.2).
package frame

import (
	"blitter.com/go/ipcomgw/cipher"
	"blitter.com/go/ipcomgw/errs"
)

// StartByte is the literal first byte of every framed message.
const StartByte = 0x23

// MaxDataLen is the largest data payload a Frame can carry, constrained by
// the single-byte length field (length == len(data)+1).
const MaxDataLen = 254

// Frame is a decoded framed message. Data is ciphertext as it appeared on
// the wire; callers decrypt it separately (see Parse, which does this for
// you and also keeps the encrypted form around for observers).
type Frame struct {
	To       byte
	From     byte
	Data     []byte // ciphertext, as carried on the wire
	Checksum byte
}

func checksum(data []byte) byte {
	var c byte
	for _, b := range data {
		c ^= b
	}
	return c
}

// Build encrypts plaintext with c and wraps the ciphertext in a framed
// message addressed to/from the given bus addresses. The checksum is
// computed over the ciphertext, matching what Parse verifies on the wire.
func Build(c *cipher.State, to, from byte, plaintext []byte) (*Frame, error) {
	if len(plaintext) > MaxDataLen {
		return nil, errs.New(errs.OutOfRange, "frame data length %d exceeds %d", len(plaintext), MaxDataLen)
	}
	ct := c.Encrypt(plaintext)
	return &Frame{
		To:       to,
		From:     from,
		Data:     ct,
		Checksum: checksum(ct),
	}, nil
}

// Marshal serializes f to its wire form: 0x23 | to | from | length | data |
// checksum.
func (f *Frame) Marshal() []byte {
	out := make([]byte, 0, 4+len(f.Data)+1)
	out = append(out, StartByte, f.To, f.From, byte(len(f.Data)+1))
	out = append(out, f.Data...)
	out = append(out, checksum(f.Data))
	return out
}

// HeaderLen is the number of bytes needed to read the length field and
// decide how many more bytes a frame needs.
const HeaderLen = 4

// Total returns the full on-wire length of a frame whose length byte is
// lengthByte, including the checksum trailer.
func Total(lengthByte byte) int {
	return HeaderLen + int(lengthByte-1) + 1
}

// Parse decodes a single frame from buf, which must contain exactly
// Total(buf[3]) bytes (the caller, typically the receive parser in the
// session package, is responsible for buffering up to that length first).
// It verifies the start byte and checksum, then decrypts the data field
// with c to return the plaintext alongside the decoded Frame.
func Parse(c *cipher.State, buf []byte) (*Frame, []byte, error) {
	if len(buf) < HeaderLen+1 {
		return nil, nil, errs.New(errs.ProtocolTruncated, "frame buffer too short: %d bytes", len(buf))
	}
	if buf[0] != StartByte {
		return nil, nil, errs.New(errs.ProtocolGarbage, "frame does not start with 0x23")
	}
	length := buf[3]
	want := Total(length)
	if len(buf) != want {
		return nil, nil, errs.New(errs.ProtocolTruncated, "frame declares %d bytes, buffer has %d", want, len(buf))
	}

	dataLen := int(length) - 1
	data := buf[HeaderLen : HeaderLen+dataLen]
	wireChecksum := buf[HeaderLen+dataLen]

	if checksum(data) != wireChecksum {
		return nil, nil, errs.New(errs.ProtocolBadChecksum, "checksum mismatch")
	}

	f := &Frame{
		To:       buf[1],
		From:     buf[2],
		Data:     append([]byte(nil), data...),
		Checksum: wireChecksum,
	}

	plaintext := c.Decrypt(data)
	return f, plaintext, nil
}
