// Package engine implements the four-loop concurrent engine (C7) and the
// shadow writer (C8) that sit on top of one session.Session (spec.md
// §4.7, §4.8, §5).
package engine

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"blitter.com/go/ipcomgw/command"
	"blitter.com/go/ipcomgw/errs"
	"blitter.com/go/ipcomgw/logger"
	"blitter.com/go/ipcomgw/observer"
	"blitter.com/go/ipcomgw/session"
	"blitter.com/go/ipcomgw/snapshot"
)

// Config carries the engine's timing parameters. Zero values fall back to
// the defaults observed in the reference client.
type Config struct {
	KeepAliveInterval    time.Duration // default 30s
	StatusPollInterval   time.Duration // default 350ms
	CommandQueueInterval time.Duration // default 250ms
	CommandSettleDelay   time.Duration // default 100ms, spec.md §4.7
	MinSendGap           time.Duration // default 200ms, spec.md §5
}

func (c Config) withDefaults() Config {
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = 30 * time.Second
	}
	if c.StatusPollInterval <= 0 {
		c.StatusPollInterval = 350 * time.Millisecond
	}
	if c.CommandQueueInterval <= 0 {
		c.CommandQueueInterval = 250 * time.Millisecond
	}
	if c.CommandSettleDelay <= 0 {
		c.CommandSettleDelay = 100 * time.Millisecond
	}
	if c.MinSendGap <= 0 {
		c.MinSendGap = 200 * time.Millisecond
	}
	return c
}

type queuedCmd struct {
	exec func() error
	done chan error
}

// Engine owns one session.Session plus the shared state spec.md §3
// describes: the latest Snapshot, the PendingWrites table, and the
// processing flag that excludes the background emitters while a command
// is in flight. A single mutex protects all of it; every method that
// touches shared state takes it only for short sections and never calls
// another locking method while holding it, which is how this gets the
// "single reentrant mutex" semantics of spec.md §4.7 without Go's lack of
// a real recursive lock.
type Engine struct {
	sess *session.Session
	obs  *observer.Surface
	cfg  Config

	limiter *rate.Limiter

	// mu is the one lock spec.md §5 describes as guarding {socket handle,
	// cipher state, latest snapshot pointer, pending-writes table}. Go has
	// no recursive mutex, so every exported method that needs it acquires
	// it exactly once at its own entry point and never calls back into
	// another locking method while holding it.
	mu         sync.Mutex
	processing bool
	snap       *snapshot.Snapshot
	pending    map[byte][8]byte
	lastActive time.Time

	cmdQueue chan queuedCmd
	shutdown chan struct{}
	done     chan struct{}
}

// New returns an Engine over an already-established sess (State() must be
// Established or Degraded).
func New(sess *session.Session, obs *observer.Surface, cfg Config) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		sess:       sess,
		obs:        obs,
		cfg:        cfg,
		limiter:    rate.NewLimiter(rate.Every(cfg.MinSendGap), 1),
		pending:    make(map[byte][8]byte),
		cmdQueue:   make(chan queuedCmd, 64),
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
		lastActive: time.Now(),
	}
}

// LastActivity reports when the receive loop last read bytes off the
// socket. The supervisor's health check (spec.md §4.11) uses this to
// decide when a session has gone silent.
func (e *Engine) LastActivity() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastActive
}

// Snapshot returns the most recently accepted snapshot, or nil if none has
// arrived yet.
func (e *Engine) Snapshot() *snapshot.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap
}

// Run starts the four loops and blocks until either Stop is called or the
// receive loop hits a non-recoverable error, which it returns. A clean
// Stop returns nil.
func (e *Engine) Run() error {
	var wg sync.WaitGroup
	errc := make(chan error, 1)

	wg.Add(3)
	go func() { defer wg.Done(); e.keepAliveLoop() }()
	go func() { defer wg.Done(); e.statusPollLoop() }()
	go func() { defer wg.Done(); e.commandQueueLoop() }()

	wg.Add(1)
	go func() {
		defer wg.Done()
		errc <- e.receiveLoop()
	}()

	err := <-errc
	e.signalShutdown()
	wg.Wait()
	close(e.done)
	return err
}

// signalShutdown closes the shutdown channel exactly once.
func (e *Engine) signalShutdown() {
	select {
	case <-e.shutdown:
	default:
		close(e.shutdown)
	}
}

// Stop signals all four loops to exit at their next iteration boundary and
// waits for Run to return. Queued but not-yet-started commands are
// dropped (spec.md §4.7 cancellation).
func (e *Engine) Stop() {
	e.signalShutdown()
	<-e.done
}

// waitSendSlot enforces the soft 200ms minimum gap between raw sends
// (spec.md §5) without holding the shared lock while sleeping.
func (e *Engine) waitSendSlot() {
	r := e.limiter.Reserve()
	if !r.OK() {
		return
	}
	time.Sleep(r.Delay())
}

// sendRaw encrypts and writes a raw (unframed) buffer, honoring the send
// gap and the processing flag. skipWhenProcessing lets the background
// emitters silently skip their tick while a command is in flight.
func (e *Engine) sendRaw(buf []byte, skipWhenProcessing bool) error {
	e.waitSendSlot()

	e.mu.Lock()
	defer e.mu.Unlock()

	if skipWhenProcessing && e.processing {
		return nil
	}
	if !e.sess.State().Sendable() {
		return errs.New(errs.NetworkIo, "session not in a sendable state")
	}
	_, err := e.sess.Conn().Write(buf)
	if err != nil {
		return errs.Wrap(err, errs.NetworkIo, "raw write failed")
	}
	return nil
}

// sendFrame writes an already-built framed write or keep-alive message,
// honoring the same send gap and processing gate as sendRaw.
func (e *Engine) sendFrame(w *command.Write, bus byte, skipWhenProcessing bool) error {
	return e.sendRaw(w.Marshal(bus), skipWhenProcessing)
}

// Submit enqueues a user command and blocks until the command-queue loop
// has executed it and let the settle delay elapse. It is the only
// sanctioned way to reach the shadow writer or the cover safety layer, so
// every write serializes through one FIFO queue (spec.md §4.7 ordering
// guarantees).
func (e *Engine) Submit(ctx context.Context, exec func() error) error {
	q := queuedCmd{exec: exec, done: make(chan error, 1)}
	select {
	case e.cmdQueue <- q:
	case <-e.shutdown:
		return errs.New(errs.NetworkIo, "engine is shutting down")
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-q.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.shutdown:
		return errs.New(errs.NetworkIo, "engine is shutting down")
	}
}

func (e *Engine) logDebug(msg string) {
	logger.LogDebug("engine: " + msg)
}
