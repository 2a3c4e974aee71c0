// Package snapshot implements the 16x8 output matrix model decoded from an
// inbound raw snapshot message (spec.md §4.3).
package snapshot

import (
	"time"

	"blitter.com/go/ipcomgw/errs"
)

// Modules is the number of module rows in a matrix.
const Modules = 16

// Outputs is the number of outputs per module row.
const Outputs = 8

// MatrixLen is the number of data bytes that make up the matrix portion of
// a decoded snapshot body (16 rows of 8 bytes each).
const MatrixLen = Modules * Outputs

// BodyLen is the full length of a decoded snapshot body: two header bytes
// (command-id, version) plus the matrix.
const BodyLen = 2 + MatrixLen

// CommandID is the expected value of body[0] for a snapshot message.
const CommandID = 0x05

// Change describes one observed (module, output) value transition, as
// produced by Diff.
type Change struct {
	Module, Output byte
	Old, New       byte
}

// Snapshot is a 16x8 output matrix plus the time it was received. A new
// Snapshot wholly supersedes any prior one. Snapshots produced by Decode
// are not mutated afterwards; only Set changes a matrix in place.
type Snapshot struct {
	matrix    [Modules][Outputs]byte
	Version   byte
	Timestamp time.Time
}

func checkModule(module byte) error {
	if module < 1 || module > Modules {
		return errs.New(errs.OutOfRange, "module %d out of range [1,%d]", module, Modules)
	}
	return nil
}

func checkOutput(output byte) error {
	if output < 1 || output > Outputs {
		return errs.New(errs.OutOfRange, "output %d out of range [1,%d]", output, Outputs)
	}
	return nil
}

// Decode parses a decrypted snapshot body (BodyLen bytes, command-id then
// 128 matrix bytes) into a Snapshot stamped with now.
func Decode(body []byte, now time.Time) (*Snapshot, error) {
	if len(body) != BodyLen {
		return nil, errs.New(errs.AuthMalformed, "snapshot body is %d bytes, want %d", len(body), BodyLen)
	}
	if body[0] != CommandID {
		return nil, errs.New(errs.AuthMalformed, "snapshot command-id is 0x%02x, want 0x%02x", body[0], CommandID)
	}

	s := &Snapshot{Version: body[1], Timestamp: now}
	data := body[2:]
	for m := 0; m < Modules; m++ {
		copy(s.matrix[m][:], data[m*Outputs:(m+1)*Outputs])
	}
	return s, nil
}

// Get returns the value at (module, output), 1-based in both dimensions.
func (s *Snapshot) Get(module, output byte) (byte, error) {
	if err := checkModule(module); err != nil {
		return 0, err
	}
	if err := checkOutput(output); err != nil {
		return 0, err
	}
	return s.matrix[module-1][output-1], nil
}

// Row returns a copy of the 8-byte row for module (1-based).
func (s *Snapshot) Row(module byte) ([Outputs]byte, error) {
	if err := checkModule(module); err != nil {
		return [Outputs]byte{}, err
	}
	return s.matrix[module-1], nil
}

// Diff reports every (module, output) whose value differs between prev and
// s. A nil prev is treated as all-zero. Results are ordered by module then
// output to give callers a stable, testable sequence.
func (s *Snapshot) Diff(prev *Snapshot) []Change {
	var changes []Change
	for m := 0; m < Modules; m++ {
		for o := 0; o < Outputs; o++ {
			var old byte
			if prev != nil {
				old = prev.matrix[m][o]
			}
			nv := s.matrix[m][o]
			if old != nv {
				changes = append(changes, Change{
					Module: byte(m + 1),
					Output: byte(o + 1),
					Old:    old,
					New:    nv,
				})
			}
		}
	}
	return changes
}

// New returns an empty, all-zero Snapshot stamped with now. Production
// snapshots arrive via Decode; New exists for tests and for synthesizing a
// baseline before any wire snapshot has been seen.
func New(now time.Time) *Snapshot {
	return &Snapshot{Timestamp: now}
}

// Set mutates the matrix in place. Snapshots delivered by the receive
// parser are never mutated after Decode; Set exists for building synthetic
// snapshots in tests and supervisor-local bookkeeping.
func (s *Snapshot) Set(module, output, v byte) error {
	if err := checkModule(module); err != nil {
		return err
	}
	if err := checkOutput(output); err != nil {
		return err
	}
	s.matrix[module-1][output-1] = v
	return nil
}
