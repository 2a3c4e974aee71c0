package session

import "blitter.com/go/ipcomgw/command"

// sendDisconnectBestEffort writes the graceful CMD_DISCONNECT_RESPONSE
// frame before closing the socket, per the reference client's disconnect()
// (SPEC_FULL.md supplemented feature 2). Failures are swallowed: this must
// never block or fail a shutdown.
func (s *Session) sendDisconnectBestEffort() {
	if !s.state.Sendable() {
		return
	}
	w, err := command.BuildDisconnect(s.cipher, s.cfg.ModuleAddressBase)
	if err != nil {
		return
	}
	_, _ = s.conn.Write(w.Marshal(s.cfg.WireBusNumber))
}
