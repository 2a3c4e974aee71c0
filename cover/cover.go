// Package cover composes two relay writes into the open/close/stop
// operations of a motorized shutter cover, with the forbidden-state
// interlock spec.md §4.9 requires (C9).
package cover

import (
	"context"

	"blitter.com/go/ipcomgw/command"
	"blitter.com/go/ipcomgw/errs"
	"blitter.com/go/ipcomgw/logger"
	"blitter.com/go/ipcomgw/snapshot"
)

// Relay identifies one half of a cover's relay pair on the wire.
type Relay struct {
	Module, Output byte
	Kind           command.ModuleKind
}

// Writer is the subset of *engine.Engine a Cover needs: the current
// snapshot for the forbidden-state check, and the serialized write path.
// Defined here, matching engine.Engine's method set structurally, rather
// than importing engine directly, so this package stays testable against
// a fake.
type Writer interface {
	Snapshot() *snapshot.Snapshot
	SetOutput(ctx context.Context, module, output byte, value int) error
}

// Cover is one {up_half, down_half} relay pair (spec.md §4.9).
type Cover struct {
	Up, Down Relay
}

// State is the derived, position-feedback-free state of a cover.
type State int

const (
	Stopped State = iota
	Opening
	Closing
)

func (s State) String() string {
	switch s {
	case Opening:
		return "opening"
	case Closing:
		return "closing"
	default:
		return "stopped"
	}
}

// DeriveState reports Opening while up>0, Closing while down>0, Stopped
// when both are zero. IsClosed is never derivable from relay state alone
// (no position feedback exists) and callers must treat it as unknown.
func DeriveState(up, down byte) State {
	switch {
	case up > 0:
		return Opening
	case down > 0:
		return Closing
	default:
		return Stopped
	}
}

// forbidden reports whether the wire currently shows both relays active,
// the one state that must never be commanded.
func forbidden(snap *snapshot.Snapshot, c Cover) (bool, error) {
	up, err := snap.Get(c.Up.Module, c.Up.Output)
	if err != nil {
		return false, err
	}
	down, err := snap.Get(c.Down.Module, c.Down.Output)
	if err != nil {
		return false, err
	}
	return up > 0 && down > 0, nil
}

// Open ensures the down relay is off, then turns the up relay on. If the
// wire currently shows the forbidden up=1/down=1 state, the whole call is
// converted to Stop instead (spec.md §4.9).
func Open(ctx context.Context, w Writer, c Cover) error {
	if bad, err := checkForbidden(ctx, w, c); err != nil || bad {
		return err
	}
	if err := w.SetOutput(ctx, c.Down.Module, c.Down.Output, 0); err != nil {
		return err
	}
	return w.SetOutput(ctx, c.Up.Module, c.Up.Output, int(command.OnValue(c.Up.Kind)))
}

// Close is the mirror of Open: ensures up is off, then turns down on.
func Close(ctx context.Context, w Writer, c Cover) error {
	if bad, err := checkForbidden(ctx, w, c); err != nil || bad {
		return err
	}
	if err := w.SetOutput(ctx, c.Up.Module, c.Up.Output, 0); err != nil {
		return err
	}
	return w.SetOutput(ctx, c.Down.Module, c.Down.Output, int(command.OnValue(c.Down.Kind)))
}

// Stop turns both relays off. Order does not matter, but the first
// failure still short-circuits the second write (spec.md §4.9).
func Stop(ctx context.Context, w Writer, c Cover) error {
	if err := w.SetOutput(ctx, c.Up.Module, c.Up.Output, 0); err != nil {
		return err
	}
	return w.SetOutput(ctx, c.Down.Module, c.Down.Output, 0)
}

// checkForbidden inspects the current snapshot and, if it shows the
// forbidden state, forces a Stop and reports it via logger.LogWarning and
// a Safety.ForbiddenCoverState error, per spec.md §4.9. forcedStop is false
// and err is nil when the caller is clear to proceed with the originally
// requested action.
func checkForbidden(ctx context.Context, w Writer, c Cover) (forcedStop bool, err error) {
	snap := w.Snapshot()
	if snap == nil {
		return false, nil
	}
	bad, err := forbidden(snap, c)
	if err != nil {
		return false, err
	}
	if !bad {
		return false, nil
	}
	logger.LogWarning("cover: forbidden relay state observed, forcing stop")
	if stopErr := Stop(ctx, w, c); stopErr != nil {
		return true, stopErr
	}
	return true, errs.New(errs.SafetyForbiddenCoverState, "up and down relays were both active, forced stop")
}
