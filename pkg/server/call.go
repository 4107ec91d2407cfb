package server

import "fmt"

// Call signaling is a pure lookup over the registry: the server introduces
// two peers' UDP endpoints to each other and never relays media. Each side
// learns the other's IP as observed on the live TCP connection; only the
// UDP port is self-reported (via SET_UDP) and trusted.

// callReady returns the target's session when both ends of a prospective
// call are registered and have announced a non-zero UDP port.
func (s *Server) callReady(caller *Session, target string) (*Session, bool) {
	t, ok := s.registry.Lookup(target)
	if !ok || t.UDPPort() == 0 || caller.UDPPort() == 0 {
		return nil, false
	}
	return t, true
}

// ring answers the caller with the peer's endpoint and notifies the peer
// of the caller's. No call state is kept; from here on the peers talk UDP
// directly.
func (h *handler) ring(peer *Session) error {
	if err := h.reply(fmt.Sprintf("CALL_PEER %s %d", peer.RemoteIP, peer.UDPPort())); err != nil {
		return err
	}
	notice := fmt.Sprintf("INCOMING_CALL %s %s %d", h.sess.Username, h.sess.RemoteIP, h.sess.UDPPort())
	if err := peer.SendLine(notice); err != nil {
		debugLog.Printf("Call notice to %s failed: %v", peer.Username, err)
	}
	h.srv.metrics.RecordCall()
	return nil
}
