package session

import (
	"bytes"
	"time"

	"blitter.com/go/ipcomgw/errs"
	"blitter.com/go/ipcomgw/frame"
	"blitter.com/go/ipcomgw/logger"
	"blitter.com/go/ipcomgw/snapshot"
)

// Parsed is one decoded message handed back to the caller of Feed.
type Parsed struct {
	Snapshot *snapshot.Snapshot
	Frame    *frame.Frame
	Data     []byte // decrypted frame payload, set only when Frame != nil
}

// Parser is the byte-level receive state machine described in spec.md
// §4.6: it accumulates bytes across chunks and yields every complete raw
// snapshot or framed message it can extract, leaving any trailing partial
// message buffered for the next call.
type Parser struct {
	sess *Session
	buf  []byte
}

// NewParser returns a Parser that decrypts against sess's current cipher
// state (including any key installed mid-session by Dial's handshake).
func NewParser(sess *Session) *Parser {
	return &Parser{sess: sess}
}

// Feed appends chunk to the internal buffer and extracts every complete
// message now available. It never drops a partial message: a trailing
// prefix that could still become a raw snapshot, or a declared-but-
// incomplete frame, is retained for the next Feed call.
func (p *Parser) Feed(chunk []byte) ([]Parsed, error) {
	p.buf = append(p.buf, chunk...)

	var out []Parsed
	for {
		parsed, consumed, ok, err := p.tryOne()
		if err != nil {
			// Non-fatal parser errors (bad checksum, garbage) are already
			// folded into consumed-bytes progress by tryOne; only a
			// caller-visible structural error returns here.
			return out, err
		}
		if !ok {
			break
		}
		p.buf = p.buf[consumed:]
		if parsed != nil {
			out = append(out, *parsed)
		}
	}
	return out, nil
}

// tryOne attempts to extract exactly one message from the front of the
// buffer. ok is false when more bytes are needed. parsed is nil when
// consumed bytes were garbage or a dropped bad-checksum frame: progress
// was made but nothing is reported to the caller.
func (p *Parser) tryOne() (parsed *Parsed, consumed int, ok bool, err error) {
	buf := p.buf

	if len(buf) >= snapshot.BodyLen && looksLikeSnapshotPrefix(p.sess, buf) {
		body := p.sess.cipher.Decrypt(buf[:snapshot.BodyLen])
		snap, derr := snapshot.Decode(body, time.Now())
		if derr != nil {
			// Malformed decrypted snapshot: drop it and keep scanning,
			// the same way a bad-checksum frame is dropped silently.
			return nil, snapshot.BodyLen, true, nil
		}
		return &Parsed{Snapshot: snap}, snapshot.BodyLen, true, nil
	}

	if len(buf) < 2 {
		return nil, 0, false, nil
	}

	// A buffer that could still grow into a snapshot prefix must wait
	// rather than being rescanned as a framed message.
	if couldBeSnapshotPrefix(p.sess, buf) {
		return nil, 0, false, nil
	}

	idx := bytes.IndexByte(buf, frame.StartByte)
	if idx == -1 {
		// No frame start anywhere and it cannot be a snapshot prefix:
		// the whole buffer is garbage.
		logger.LogWarning("session: discarding garbage, no frame start found")
		return nil, len(buf), true, nil
	}
	if idx > 0 {
		logger.LogDebug("session: skipping garbage before frame start")
		return nil, idx, true, nil
	}

	if len(buf) < frame.HeaderLen {
		return nil, 0, false, nil
	}
	total := frame.Total(buf[3])
	if len(buf) < total {
		return nil, 0, false, nil
	}

	f, data, perr := frame.Parse(p.sess.cipher, buf[:total])
	if perr != nil {
		if errs.Is(perr, errs.ProtocolBadChecksum) {
			logger.LogWarning("session: bad checksum, frame dropped")
		}
		return nil, total, true, nil
	}
	return &Parsed{Frame: f, Data: data}, total, true, nil
}

// looksLikeSnapshotPrefix reports whether buf, which has at least
// snapshot.BodyLen bytes, begins with the encrypted 0x05 0x01 marker under
// the session's current cipher state.
func looksLikeSnapshotPrefix(sess *Session, buf []byte) bool {
	marker := sess.cipher.Encrypt([]byte{0x05, 0x01})
	return bytes.Equal(buf[:2], marker)
}

// couldBeSnapshotPrefix reports whether a short buffer's available bytes
// match the start of the encrypted marker and therefore must wait for more
// data rather than being treated as garbage or scanned for a frame start.
func couldBeSnapshotPrefix(sess *Session, buf []byte) bool {
	marker := sess.cipher.Encrypt([]byte{0x05, 0x01})
	n := len(buf)
	if n > len(marker) {
		n = len(marker)
	}
	return bytes.Equal(buf[:n], marker[:n])
}
