// Package observer implements the closed four-subscription callback
// surface the engine dispatches to (spec.md §4.10). The set of events is
// closed by design (spec.md §9, "Dynamic dispatch on callbacks") — this is
// a handful of typed setter methods, not a generic pub/sub bus.
package observer

import (
	"sync"

	"blitter.com/go/ipcomgw/frame"
	"blitter.com/go/ipcomgw/session"
	"blitter.com/go/ipcomgw/snapshot"
)

// ConnectFunc is called on transition into Established or Degraded.
type ConnectFunc func(state session.State)

// DisconnectFunc is called on transition away from Established/Degraded.
type DisconnectFunc func(err error)

// FrameFunc is called for every decoded framed message, post-checksum.
type FrameFunc func(f *frame.Frame, data []byte)

// SnapshotFunc is called for every accepted Snapshot.
type SnapshotFunc func(s *snapshot.Snapshot)

// Surface holds at most one observer per event kind. Replacing a
// subscription is allowed at any time; a nil subscription disables that
// event. The zero value is ready to use.
//
// Dispatch calls are queued and run on a single dispatcher goroutine, in
// the order they were dispatched, so a burst that calls DispatchSnapshot
// twice in a row (spec.md §4.7, "no reordering") or interleaves it with
// DispatchFrame always delivers to observers in that same order. The
// engine's own loops never block on a slow observer: queuing is
// non-blocking up to the queue's buffer, and only a pathologically slow
// observer stalls later events rather than the engine itself.
type Surface struct {
	onConnect    ConnectFunc
	onDisconnect DisconnectFunc
	onFrame      FrameFunc
	onSnapshot   SnapshotFunc

	startOnce sync.Once
	queue     chan func()
}

// queueDepth is generous enough to absorb a burst (e.g. several snapshots
// decoded out of one read) without the sender blocking on the dispatcher.
const queueDepth = 256

func (s *Surface) start() {
	s.startOnce.Do(func() {
		s.queue = make(chan func(), queueDepth)
		go s.run()
	})
}

func (s *Surface) run() {
	for fn := range s.queue {
		fn()
	}
}

func (s *Surface) dispatch(fn func()) {
	s.start()
	s.queue <- fn
}

// OnConnect replaces the connect subscription.
func (s *Surface) OnConnect(fn ConnectFunc) { s.onConnect = fn }

// OnDisconnect replaces the disconnect subscription.
func (s *Surface) OnDisconnect(fn DisconnectFunc) { s.onDisconnect = fn }

// OnFrame replaces the frame subscription.
func (s *Surface) OnFrame(fn FrameFunc) { s.onFrame = fn }

// OnSnapshot replaces the snapshot subscription.
func (s *Surface) OnSnapshot(fn SnapshotFunc) { s.onSnapshot = fn }

// DispatchConnect queues the connect observer, if any.
func (s *Surface) DispatchConnect(state session.State) {
	fn := s.onConnect
	if fn == nil {
		return
	}
	s.dispatch(func() { fn(state) })
}

// DispatchDisconnect queues the disconnect observer, if any.
func (s *Surface) DispatchDisconnect(err error) {
	fn := s.onDisconnect
	if fn == nil {
		return
	}
	s.dispatch(func() { fn(err) })
}

// DispatchFrame queues the frame observer, if any.
func (s *Surface) DispatchFrame(f *frame.Frame, data []byte) {
	fn := s.onFrame
	if fn == nil {
		return
	}
	s.dispatch(func() { fn(f, data) })
}

// DispatchSnapshot queues the snapshot observer, if any.
func (s *Surface) DispatchSnapshot(snap *snapshot.Snapshot) {
	fn := s.onSnapshot
	if fn == nil {
		return
	}
	s.dispatch(func() { fn(snap) })
}
