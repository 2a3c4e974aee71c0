package engine

import (
	"context"

	"blitter.com/go/ipcomgw/command"
	"blitter.com/go/ipcomgw/errs"
)

// SetOutput is the shadow writer (C8): it merges a single output change
// into the in-flight row for module, commands the full 8-byte row, and
// remembers it in PendingWrites until the next snapshot clears it (spec.md
// §4.8, the "carry-over law"). It always goes through the command queue,
// so it serializes with every other write and with cover commands.
func (e *Engine) SetOutput(ctx context.Context, module, output byte, value int) error {
	if module < 1 || module > 16 {
		return errs.New(errs.OutOfRange, "module %d out of range [1,16]", module)
	}
	if output < 1 || output > 8 {
		return errs.New(errs.OutOfRange, "output %d out of range [1,8]", output)
	}
	if value < 0 || value > 255 {
		return errs.New(errs.OutOfRange, "value %d out of range [0,255]", value)
	}

	return e.Submit(ctx, func() error {
		return e.writeOutput(module, output, byte(value))
	})
}

// writeOutput runs on the command-queue goroutine, with the processing
// flag already held by the caller (commandQueueLoop). It still takes the
// shared lock itself to read/update PendingWrites and the latest snapshot,
// since the receive loop can install a fresh snapshot concurrently.
func (e *Engine) writeOutput(module, output, value byte) error {
	row, err := e.currentRow(module)
	if err != nil {
		return err
	}
	row[output-1] = value

	e.mu.Lock()
	e.pending[module] = row
	e.mu.Unlock()

	w, err := command.BuildWrite(e.sess.Cipher(), e.sess.Config().ModuleAddressBase, module, row)
	if err != nil {
		return err
	}
	return e.sendFrame(w, e.sess.Config().WireBusNumber, false)
}

// currentRow returns PendingWrites[module] if present, else the latest
// snapshot's row for module. It fails with State.NoBaseline if neither
// exists yet.
func (e *Engine) currentRow(module byte) ([8]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if row, ok := e.pending[module]; ok {
		return row, nil
	}
	if e.snap == nil {
		return [8]byte{}, errs.New(errs.StateNoBaseline, "no snapshot received yet")
	}
	row, err := e.snap.Row(module)
	if err != nil {
		return [8]byte{}, err
	}
	return row, nil
}
