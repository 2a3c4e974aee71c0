package snapshot

import (
	"testing"
	"time"

	"blitter.com/go/ipcomgw/errs"
)

func body() []byte {
	b := make([]byte, BodyLen)
	b[0] = CommandID
	b[1] = 0x01
	return b
}

func TestDecodeKnownLayout(t *testing.T) {
	// spec.md §8 scenario 2: position 3*8+4 (0-based module 3, output 4)
	// is 0xFF, everything else zero.
	b := body()
	b[2+3*8+4] = 0xFF

	s, err := Decode(b, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	v, err := s.Get(4, 5)
	if err != nil || v != 255 {
		t.Fatalf("Get(4,5) = %d, %v; want 255, nil", v, err)
	}

	for m := byte(1); m <= Modules; m++ {
		for o := byte(1); o <= Outputs; o++ {
			if m == 4 && o == 5 {
				continue
			}
			got, err := s.Get(m, o)
			if err != nil || got != 0 {
				t.Fatalf("Get(%d,%d) = %d, %v; want 0, nil", m, o, got, err)
			}
		}
	}
}

func TestDiffAgainstAllZero(t *testing.T) {
	b := body()
	b[2+3*8+4] = 0xFF
	s, _ := Decode(b, time.Unix(0, 0))

	changes := s.Diff(nil)
	if len(changes) != 1 {
		t.Fatalf("Diff returned %d changes, want 1: %v", len(changes), changes)
	}
	c := changes[0]
	if c.Module != 4 || c.Output != 5 || c.Old != 0 || c.New != 255 {
		t.Fatalf("unexpected change: %+v", c)
	}
}

func TestDiffBetweenTwoSnapshots(t *testing.T) {
	prev := New(time.Unix(0, 0))
	prev.Set(3, 2, 30)

	next := New(time.Unix(1, 0))
	next.Set(3, 2, 99)
	next.Set(3, 5, 111)

	changes := next.Diff(prev)
	if len(changes) != 2 {
		t.Fatalf("got %d changes, want 2: %v", len(changes), changes)
	}
}

func TestGetRowOutOfRange(t *testing.T) {
	s := New(time.Unix(0, 0))

	for _, m := range []byte{0, 17} {
		if _, err := s.Get(m, 1); !errs.Is(err, errs.OutOfRange) {
			t.Fatalf("module %d: want OutOfRange, got %v", m, err)
		}
	}
	for _, o := range []byte{0, 9} {
		if _, err := s.Get(1, o); !errs.Is(err, errs.OutOfRange) {
			t.Fatalf("output %d: want OutOfRange, got %v", o, err)
		}
	}
	for _, m := range []byte{1, 16} {
		if _, err := s.Get(m, 1); err != nil {
			t.Fatalf("module %d should be accepted: %v", m, err)
		}
	}
}

func TestDecodeRejectsWrongLength(t *testing.T) {
	_, err := Decode(make([]byte, BodyLen-1), time.Unix(0, 0))
	if !errs.Is(err, errs.AuthMalformed) {
		t.Fatalf("want AuthMalformed, got %v", err)
	}
}

func TestDecodeRejectsWrongCommandID(t *testing.T) {
	b := body()
	b[0] = 0x09
	_, err := Decode(b, time.Unix(0, 0))
	if !errs.Is(err, errs.AuthMalformed) {
		t.Fatalf("want AuthMalformed, got %v", err)
	}
}

func TestRowIsACopy(t *testing.T) {
	s := New(time.Unix(0, 0))
	s.Set(1, 1, 5)
	row, err := s.Row(1)
	if err != nil {
		t.Fatalf("Row: %v", err)
	}
	row[0] = 200
	v, _ := s.Get(1, 1)
	if v != 5 {
		t.Fatal("mutating the returned row leaked back into the snapshot")
	}
}
