package cipher

// PublicKeySize is the length of the key exchanged during the handshake
// (spec.md §4.5) that switches the cipher into dual-key mode.
const PublicKeySize = 128

// State is the per-session cipher state: the two fixed tables (shared by
// every State) plus the optional per-session public key. The zero value
// is valid and starts in single-key mode.
type State struct {
	publicKey []byte // nil until the handshake installs one (dual-key mode)
	passthru  bool   // true once the server negotiates non-secure mode
}

// New returns a cipher in single-key mode.
func New() *State {
	return &State{}
}

// SetPublicKey installs the 128-byte public key from a successful
// handshake and switches the cipher to dual-key mode for all subsequent
// traffic in both directions. A nil key reverts to single-key mode.
func (s *State) SetPublicKey(key []byte) {
	if key == nil {
		s.publicKey = nil
		return
	}
	if len(key) != PublicKeySize {
		panic("cipher: public key must be 128 bytes")
	}
	cp := make([]byte, PublicKeySize)
	copy(cp, key)
	s.publicKey = cp
}

// DualKey reports whether the cipher is currently in dual-key mode.
func (s *State) DualKey() bool {
	return s.publicKey != nil
}

// Disable switches the cipher to passthrough mode for the remainder of
// the session, per the "non-secure" negotiation in spec.md §4.5. There is
// no re-enabling it: once a session goes non-secure, the session is torn
// down to leave it.
func (s *State) Disable() {
	s.passthru = true
}

// Secure reports whether encryption is currently applied.
func (s *State) Secure() bool {
	return !s.passthru
}

// Encrypt returns the ciphertext for buf. See transform for the shared
// feedback rule; encryption and decryption differ only in which byte
// (plaintext vs ciphertext) is read from at each position, and the
// feedback always advances on the ciphertext byte regardless of
// direction.
func (s *State) Encrypt(buf []byte) []byte {
	return s.transform(buf, true)
}

// Decrypt returns the plaintext for buf. See Encrypt.
func (s *State) Decrypt(buf []byte) []byte {
	return s.transform(buf, false)
}

// transform implements the normative pseudocode in spec.md §4.1. The
// feedback index resets to zero at the start of every call — there is no
// cross-message state — and always advances using the byte that is
// encrypted at that position, whichever direction is running.
func (s *State) transform(buf []byte, encrypting bool) []byte {
	if s.passthru {
		out := make([]byte, len(buf))
		copy(out, buf)
		return out
	}

	out := make([]byte, len(buf))
	var idx byte

	for pos := range buf {
		idx ^= byte(pos)

		var ciphertextByte byte
		if encrypting {
			var keyed byte
			if s.publicKey != nil {
				keyed = buf[pos] ^ privateKey[idx] ^ s.publicKey[int(idx)%PublicKeySize]
			} else {
				keyed = buf[pos] ^ privateKey2[idx]
			}
			out[pos] = keyed
			ciphertextByte = keyed
		} else {
			ciphertextByte = buf[pos]
			var keyed byte
			if s.publicKey != nil {
				keyed = buf[pos] ^ privateKey[idx] ^ s.publicKey[int(idx)%PublicKeySize]
			} else {
				keyed = buf[pos] ^ privateKey2[idx]
			}
			out[pos] = keyed
		}

		idx = ciphertextByte
	}

	return out
}
