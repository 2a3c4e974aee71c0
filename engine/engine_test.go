package engine

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"blitter.com/go/ipcomgw/errs"
	"blitter.com/go/ipcomgw/frame"
	"blitter.com/go/ipcomgw/observer"
	"blitter.com/go/ipcomgw/session"
	"blitter.com/go/ipcomgw/snapshot"
)

// fastConfig keeps the background emitters quiet for the duration of a
// test while leaving the command queue and send gap fast enough that
// tests don't spend real wall-clock time waiting on them.
func fastConfig() Config {
	return Config{
		KeepAliveInterval:    time.Hour,
		StatusPollInterval:   time.Hour,
		CommandQueueInterval: time.Millisecond,
		CommandSettleDelay:   time.Millisecond,
		MinSendGap:           time.Millisecond,
	}
}

func newTestEngine(t *testing.T) (*Engine, net.Conn, func()) {
	t.Helper()
	client, remote := net.Pipe()

	sess := session.New(session.Config{ModuleAddressBase: 60})
	sess.Attach(client, session.Established)

	var obs observer.Surface
	e := New(sess, &obs, fastConfig())

	cleanup := func() {
		e.Stop()
		client.Close()
		remote.Close()
	}
	return e, remote, cleanup
}

// readFrame performs a single Read on conn and returns the bytes it got,
// relying on net.Pipe's synchronous write/read pairing to hand back
// exactly one engine write per call.
func readFrame(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	return append([]byte(nil), buf[:n]...)
}

func baselineSnapshot(t *testing.T) *snapshot.Snapshot {
	t.Helper()
	snap := snapshot.New(time.Unix(0, 0))
	row := [8]byte{10, 20, 30, 40, 50, 60, 70, 80}
	for i, v := range row {
		if err := snap.Set(3, byte(i+1), v); err != nil {
			t.Fatalf("seeding baseline: %v", err)
		}
	}
	return snap
}

// TestWriteCarryOver exercises the carry-over law: two SetOutput calls
// against the same module before any new snapshot must each carry the
// full current row, not just the single changed byte.
func TestWriteCarryOver(t *testing.T) {
	e, remote, cleanup := newTestEngine(t)
	defer cleanup()

	e.installSnapshot(baselineSnapshot(t))
	go e.Run()

	ctx := context.Background()

	errc := make(chan error, 1)
	go func() { errc <- e.SetOutput(ctx, 3, 2, 99) }()
	wire1 := readFrame(t, remote)
	if err := <-errc; err != nil {
		t.Fatalf("first SetOutput: %v", err)
	}

	go func() { errc <- e.SetOutput(ctx, 3, 5, 111) }()
	wire2 := readFrame(t, remote)
	if err := <-errc; err != nil {
		t.Fatalf("second SetOutput: %v", err)
	}

	_, plain1, err := frame.Parse(e.sess.Cipher(), wire1)
	if err != nil {
		t.Fatalf("parsing first frame: %v", err)
	}
	want1 := []byte{0x01, 10, 99, 30, 40, 50, 60, 70, 80}
	if !bytes.Equal(plain1, want1) {
		t.Fatalf("first write payload = % x, want % x", plain1, want1)
	}

	_, plain2, err := frame.Parse(e.sess.Cipher(), wire2)
	if err != nil {
		t.Fatalf("parsing second frame: %v", err)
	}
	want2 := []byte{0x01, 10, 99, 30, 40, 111, 60, 70, 80}
	if !bytes.Equal(plain2, want2) {
		t.Fatalf("second write payload = % x, want % x", plain2, want2)
	}
}

// TestSnapshotInstallClearsPendingWrites checks that a fresh snapshot
// wipes out whatever rows SetOutput had been shadowing.
func TestSnapshotInstallClearsPendingWrites(t *testing.T) {
	e, _, cleanup := newTestEngine(t)
	defer cleanup()
	go e.Run()

	e.installSnapshot(baselineSnapshot(t))
	e.mu.Lock()
	e.pending[3] = [8]byte{1, 2, 3, 4, 5, 6, 7, 8}
	e.mu.Unlock()

	e.installSnapshot(baselineSnapshot(t))

	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.pending) != 0 {
		t.Fatalf("expected PendingWrites cleared on snapshot install, got %v", e.pending)
	}
}

// TestSetOutputBeforeBaselineFails checks State.NoBaseline fires when no
// snapshot has arrived yet.
func TestSetOutputBeforeBaselineFails(t *testing.T) {
	e, _, cleanup := newTestEngine(t)
	defer cleanup()

	go e.Run()

	err := e.SetOutput(context.Background(), 3, 1, 10)
	if !errs.Is(err, errs.StateNoBaseline) {
		t.Fatalf("got %v, want State.NoBaseline", err)
	}
}

// TestSetOutputValidatesArguments checks the three OutOfRange guards.
func TestSetOutputValidatesArguments(t *testing.T) {
	e, _, cleanup := newTestEngine(t)
	defer cleanup()
	go e.Run()
	e.installSnapshot(baselineSnapshot(t))

	cases := []struct {
		module, output byte
		value          int
	}{
		{0, 1, 0},
		{17, 1, 0},
		{1, 0, 0},
		{1, 9, 0},
		{1, 1, -1},
		{1, 1, 256},
	}
	for _, c := range cases {
		err := e.SetOutput(context.Background(), c.module, c.output, c.value)
		if !errs.Is(err, errs.OutOfRange) {
			t.Fatalf("module=%d output=%d value=%d: got %v, want OutOfRange", c.module, c.output, c.value, err)
		}
	}
}

// TestSubmitRunsInOrder checks the command queue executes FIFO even when
// submissions race each other.
func TestSubmitRunsInOrder(t *testing.T) {
	e, _, cleanup := newTestEngine(t)
	defer cleanup()
	go e.Run()

	var order []int
	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			i := i
			if err := e.Submit(context.Background(), func() error {
				order = append(order, i)
				return nil
			}); err != nil {
				t.Errorf("submit %d: %v", i, err)
			}
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("submissions did not complete")
	}

	for i, v := range order {
		if v != i {
			t.Fatalf("order = %v, want 0..4 in sequence", order)
		}
	}
}

// TestSubmitUnblocksOnShutdown checks that a command still sitting in
// cmdQueue (enqueued but not yet dequeued by commandQueueLoop) doesn't
// leave its Submit call blocked forever once shutdown is signaled.
func TestSubmitUnblocksOnShutdown(t *testing.T) {
	e, _, cleanup := newTestEngine(t)
	defer cleanup()
	go e.Run()

	release := make(chan struct{})
	firstStarted := make(chan struct{})
	go func() {
		e.Submit(context.Background(), func() error {
			close(firstStarted)
			<-release
			return nil
		})
	}()

	select {
	case <-firstStarted:
	case <-time.After(time.Second):
		t.Fatal("first command never started")
	}

	secondErr := make(chan error, 1)
	go func() {
		secondErr <- e.Submit(context.Background(), func() error { return nil })
	}()

	time.Sleep(20 * time.Millisecond) // let the second submission reach cmdQueue
	e.signalShutdown()

	select {
	case err := <-secondErr:
		if err == nil {
			t.Fatal("expected an error for a command that never started before shutdown")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Submit blocked past shutdown for a command that never started")
	}

	close(release)
}

// TestStopUnblocksRun checks Run returns promptly after Stop.
func TestStopUnblocksRun(t *testing.T) {
	e, _, cleanup := newTestEngine(t)
	defer func() {
		// cleanup calls Stop again; signalShutdown is idempotent so this
		// is safe, it just waits on the already-closed done channel.
		cleanup()
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- e.Run() }()

	time.Sleep(10 * time.Millisecond)
	e.Stop()

	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("Run returned %v after Stop, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}
