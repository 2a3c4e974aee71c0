package engine

import (
	"net"
	"time"

	"blitter.com/go/ipcomgw/command"
	"blitter.com/go/ipcomgw/errs"
	"blitter.com/go/ipcomgw/session"
	"blitter.com/go/ipcomgw/snapshot"
)

// readDeadlineSlice bounds each blocking Read so the receive loop can
// observe the shutdown signal without the socket read timeout itself
// counting as a session failure (spec.md §4.7, "Timeouts").
const readDeadlineSlice = 500 * time.Millisecond

// receiveLoop owns the socket read side. It returns nil on a clean
// shutdown and a non-nil error on any condition the supervisor should
// treat as "restart the session" (socket error, peer close).
func (e *Engine) receiveLoop() error {
	e.logDebug("receive loop started")
	defer e.logDebug("receive loop stopped")

	parser := session.NewParser(e.sess)
	buf := make([]byte, 4096)

	for {
		select {
		case <-e.shutdown:
			return nil
		default:
		}

		conn := e.sess.Conn()
		conn.SetReadDeadline(time.Now().Add(readDeadlineSlice))
		n, err := conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return errs.Wrap(err, errs.NetworkIo, "receive loop read failed")
		}
		if n == 0 {
			continue
		}

		e.mu.Lock()
		e.lastActive = time.Now()
		e.mu.Unlock()

		parsed, perr := parser.Feed(buf[:n])
		if perr != nil {
			return perr
		}

		for _, p := range parsed {
			switch {
			case p.Snapshot != nil:
				e.installSnapshot(p.Snapshot)
			case p.Frame != nil:
				e.obs.DispatchFrame(p.Frame, p.Data)
			}
		}
	}
}

// installSnapshot publishes a freshly decoded snapshot, clears
// PendingWrites, and notifies observers (spec.md §4.6, §4.8).
func (e *Engine) installSnapshot(snap *snapshot.Snapshot) {
	e.mu.Lock()
	e.snap = snap
	e.pending = make(map[byte][8]byte)
	e.mu.Unlock()

	e.obs.DispatchSnapshot(snap)
}

// keepAliveLoop sends a framed keep-alive every KeepAliveInterval while a
// command is not in flight (spec.md §4.7 "processing flag").
func (e *Engine) keepAliveLoop() {
	e.logDebug("keep-alive loop started")
	defer e.logDebug("keep-alive loop stopped")

	ticker := time.NewTicker(e.cfg.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.shutdown:
			return
		case <-ticker.C:
			w, err := command.BuildKeepAlive(e.sess.Cipher(), e.sess.Config().ModuleAddressBase)
			if err != nil {
				e.logDebug("keep-alive build failed: " + err.Error())
				continue
			}
			if err := e.sendFrame(w, e.sess.Config().WireBusNumber, true); err != nil {
				e.logDebug("keep-alive send failed: " + err.Error())
			}
		}
	}
}

// statusPollLoop emits the raw status-request poll every StatusPollInterval
// so the server streams snapshots (spec.md §4.7).
func (e *Engine) statusPollLoop() {
	e.logDebug("status poll loop started")
	defer e.logDebug("status poll loop stopped")

	ticker := time.NewTicker(e.cfg.StatusPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.shutdown:
			return
		case <-ticker.C:
			buf := command.BuildStatusRequest(e.sess.Cipher())
			if err := e.sendRaw(buf, true); err != nil {
				e.logDebug("status poll send failed: " + err.Error())
			}
		}
	}
}

// commandQueueLoop dequeues each submitted command as soon as it arrives
// and executes them serially; it does not wait for CommandQueueInterval,
// which this loop never reads. It holds the
// processing flag for the duration plus a short settle delay so the
// server's next snapshot reflects the change before background emitters
// resume (spec.md §4.7).
func (e *Engine) commandQueueLoop() {
	e.logDebug("command queue loop started")
	defer e.logDebug("command queue loop stopped")

	for {
		select {
		case <-e.shutdown:
			return
		case q := <-e.cmdQueue:
			e.mu.Lock()
			e.processing = true
			e.mu.Unlock()

			err := q.exec()

			time.Sleep(e.cfg.CommandSettleDelay)

			e.mu.Lock()
			e.processing = false
			e.mu.Unlock()

			q.done <- err
		}
	}
}
