// Package streamline encodes the line-delimited JSON observation channel
// described in spec.md §6: one object per detected change batch, with an
// optional initial full-state object, written to a host process as
// newline-separated JSON.
package streamline

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"blitter.com/go/ipcomgw/devicemap"
	"blitter.com/go/ipcomgw/observer"
	"blitter.com/go/ipcomgw/snapshot"
)

// ChangeEvent is one (module, output) transition, enriched with the
// device map entry if one matches.
type ChangeEvent struct {
	Module      byte   `json:"module"`
	Output      byte   `json:"output"`
	Old         byte   `json:"old"`
	New         byte   `json:"new"`
	DeviceKey   string `json:"device_key,omitempty"`
	Category    string `json:"category,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// ChangeBatch is one line of the observation channel.
type ChangeBatch struct {
	Timestamp string        `json:"timestamp"`
	Changes   []ChangeEvent `json:"changes"`
}

// DeviceDescriptor is one entry of the initial full-state object's
// device inventory.
type DeviceDescriptor struct {
	Key      string `json:"key"`
	Module   byte   `json:"module"`
	Output   byte   `json:"output"`
	Category string `json:"category"`
}

// InitialState is the optional full-state object emitted once before any
// ChangeBatch lines.
type InitialState struct {
	Timestamp string             `json:"timestamp"`
	Host      string             `json:"host"`
	Devices   []DeviceDescriptor `json:"devices"`
}

// Encoder writes the observation channel to an underlying writer as
// newline-delimited JSON. It is safe for concurrent use, since observer
// callbacks run on the observer's dispatcher goroutine rather than on the
// caller's.
type Encoder struct {
	mu  sync.Mutex
	enc *json.Encoder
	dm  devicemap.DeviceMap

	prevMu sync.Mutex
	prev   *snapshot.Snapshot
}

// NewEncoder returns an Encoder writing to w. dm may be nil, in which
// case emitted changes carry no device_key/category/display_name
// enrichment.
func NewEncoder(w io.Writer, dm devicemap.DeviceMap) *Encoder {
	return &Encoder{enc: json.NewEncoder(w), dm: dm}
}

// WriteInitialState emits the one-time full-state object. Callers that
// want the initial snapshot must call this before subscribing to
// Attach's change stream.
func (e *Encoder) WriteInitialState(host string, now time.Time) error {
	devices := make([]DeviceDescriptor, 0, len(e.dm))
	for _, d := range e.dm {
		devices = append(devices, DeviceDescriptor{
			Key:      d.Key,
			Module:   d.Module,
			Output:   d.Output,
			Category: d.Kind.String(),
		})
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enc.Encode(InitialState{
		Timestamp: now.Format(time.RFC3339),
		Host:      host,
		Devices:   devices,
	})
}

// Attach subscribes e to obs's snapshot channel, diffing every accepted
// snapshot against the previous one and emitting a ChangeBatch line for
// any non-empty diff (spec.md §6). The first snapshot ever seen is
// diffed against nil, i.e. treated as changes from an all-zero baseline.
func (e *Encoder) Attach(obs *observer.Surface) {
	obs.OnSnapshot(e.handleSnapshot)
}

// handleSnapshot is the body of the snapshot subscription, split out so
// it can be exercised synchronously in tests without going through the
// observer's non-blocking dispatch.
func (e *Encoder) handleSnapshot(snap *snapshot.Snapshot) {
	e.prevMu.Lock()
	prev := e.prev
	e.prev = snap
	e.prevMu.Unlock()

	diff := snap.Diff(prev)
	if len(diff) == 0 {
		return
	}
	e.emit(snap.Timestamp, diff)
}

func (e *Encoder) emit(ts time.Time, diff []snapshot.Change) {
	changes := make([]ChangeEvent, len(diff))
	for i, c := range diff {
		changes[i] = e.enrich(c)
	}
	batch := ChangeBatch{Timestamp: ts.Format(time.RFC3339), Changes: changes}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.enc.Encode(batch) // observation channel is best-effort; a write failure has no recovery here
}

func (e *Encoder) enrich(c snapshot.Change) ChangeEvent {
	ev := ChangeEvent{Module: c.Module, Output: c.Output, Old: c.Old, New: c.New}
	for _, d := range e.dm {
		if d.Module == c.Module && d.Output == c.Output {
			ev.DeviceKey = d.Key
			ev.Category = d.Kind.String()
			ev.DisplayName = d.Key
			break
		}
	}
	return ev
}
