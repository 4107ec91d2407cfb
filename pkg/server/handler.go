package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/aluzardo/multichat/pkg/wire"
)

// errConnDead marks failures that invalidate the connection's byte stream:
// a short binary payload, or a write error on the handler's own socket.
// Plain errors from command handlers become inline ERR replies and the
// connection keeps going.
var errConnDead = errors.New("connection dead")

func fatal(err error) error {
	return fmt.Errorf("%w: %w", errConnDead, err)
}

// handler runs the protocol state machine for one accepted connection. It
// owns the read side of the stream exclusively; all writes - its own
// replies and pushes from other handlers - go through the session's
// synchronized writer.
type handler struct {
	srv  *Server
	conn conn
	r    *wire.Reader
	out  *safeWriter

	// sess is nil while the connection is unauthenticated. Once LOGIN
	// succeeds it doubles as the back-reference to our registry slot, so
	// disconnect cleanup is O(1) instead of a scan over shared state.
	sess *Session
}

// handleConn services one connection until the peer disconnects or the
// stream becomes unusable.
func (s *Server) handleConn(c conn) {
	s.metrics.RecordConnection()
	s.connectionsSinceReport.Add(1)
	debugLog.Printf("New connection from %s", c.RemoteAddr())

	h := &handler{
		srv:  s,
		conn: c,
		r:    wire.NewReader(c),
		out:  &safeWriter{w: c},
	}
	h.run()
}

func (h *handler) run() {
	defer h.cleanup()

	if err := h.out.writeLine("HELLO use: LOGIN <user>"); err != nil {
		return
	}

	for {
		line, err := h.r.ReadLine()
		if err != nil {
			if err != io.EOF {
				debugLog.Printf("Connection %s: read error: %v", h.conn.RemoteAddr(), err)
			}
			return
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		if err := h.dispatch(line); err != nil {
			debugLog.Printf("Connection %s: %v", h.conn.RemoteAddr(), err)
			return
		}
	}
}

// cleanup releases the connection and, if LOGIN ever succeeded, the
// registry slot, then announces the departure. A connection that never
// logged in leaves no trace.
func (h *handler) cleanup() {
	h.conn.Close()
	h.srv.metrics.RecordDisconnect()
	h.srv.disconnectionsSinceReport.Add(1)

	if h.sess == nil {
		return
	}
	h.srv.registry.Unregister(h.sess.Username)
	h.srv.broadcast("SYS " + h.sess.Username + " left")
	debugLog.Printf("Session %s disconnected", h.sess.Username)
	h.sess = nil
}

// dispatch tokenizes one command line and routes it. The returned error is
// non-nil only when the connection must terminate.
func (h *handler) dispatch(line string) error {
	verb, args, _ := strings.Cut(line, " ")
	verb = strings.ToUpper(verb)
	h.srv.metrics.RecordCommand(verb)

	if verb == "LOGIN" {
		return h.finish(verb, h.handleLogin(args))
	}

	var fn func(string) error
	switch verb {
	case "CREATE_GROUP":
		fn = h.handleCreateGroup
	case "ADD_TO_GROUP":
		fn = h.handleAddToGroup
	case "MSG_USER":
		fn = h.handleMsgUser
	case "MSG_GROUP":
		fn = h.handleMsgGroup
	case "VOICE_NOTE_USER":
		fn = h.handleVoiceNoteUser
	case "VOICE_NOTE_GROUP":
		fn = h.handleVoiceNoteGroup
	case "SET_UDP":
		fn = h.handleSetUDP
	case "CALL_USER":
		fn = h.handleCallUser
	case "CALL_GROUP":
		fn = h.handleCallGroup
	case "HISTORY":
		fn = h.handleHistory
	default:
		return h.reply("ERR unknown")
	}

	if h.sess == nil {
		return h.reply("ERR login required")
	}
	return h.finish(verb, fn(args))
}

// finish turns a command-level failure into an inline ERR reply carrying
// the failure's message; stream failures pass through and terminate the
// connection.
func (h *handler) finish(verb string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, errConnDead) {
		return err
	}
	h.srv.metrics.RecordCommandError(verb)
	return h.reply("ERR " + err.Error())
}

func (h *handler) reply(line string) error {
	if err := h.out.writeLine(line); err != nil {
		return fatal(err)
	}
	return nil
}

func (h *handler) handleLogin(args string) error {
	if h.sess != nil {
		return h.reply("ERR already logged")
	}
	username := strings.TrimSpace(args)
	if username == "" {
		return h.reply("ERR username required")
	}

	sess := newSession(username, remoteIP(h.conn), h.out, h.conn)
	if err := h.srv.registry.Register(username, sess); err != nil {
		return h.reply("ERR in use")
	}
	h.sess = sess
	h.srv.metrics.RecordLogin()

	h.srv.broadcast("SYS " + username + " joined")
	return h.reply("OK LOGIN")
}

func (h *handler) handleCreateGroup(args string) error {
	name := strings.TrimSpace(args)
	h.srv.registry.CreateGroup(name)
	return h.reply("OK GROUP " + name)
}

func (h *handler) handleAddToGroup(args string) error {
	fields := strings.Fields(args)
	if len(fields) < 2 {
		return h.reply("ERR usage: ADD_TO_GROUP <group> <user>")
	}
	h.srv.registry.AddMember(fields[0], fields[1])
	return h.reply("OK ADDED " + fields[1] + " TO #" + fields[0])
}

func (h *handler) handleMsgUser(args string) error {
	target, text, ok := splitTargetRest(args)
	if !ok {
		return h.reply("ERR usage: MSG_USER <user> <text>")
	}
	if err := h.srv.deliverText(h.sess, target, false, text); err != nil {
		return err
	}
	return h.reply("OK")
}

func (h *handler) handleMsgGroup(args string) error {
	group, text, ok := splitTargetRest(args)
	if !ok {
		return h.reply("ERR usage: MSG_GROUP <group> <text>")
	}
	if err := h.srv.deliverText(h.sess, group, true, text); err != nil {
		return err
	}
	return h.reply("OK")
}

func (h *handler) handleVoiceNoteUser(args string) error {
	target, data, err := h.readVoicePayload(args, "ERR usage: VOICE_NOTE_USER <user> <size>")
	if err != nil || data == nil {
		return err
	}
	if err := h.srv.deliverVoice(h.sess, target, false, data); err != nil {
		return err
	}
	return h.reply("OK VOICE_NOTE")
}

func (h *handler) handleVoiceNoteGroup(args string) error {
	group, data, err := h.readVoicePayload(args, "ERR usage: VOICE_NOTE_GROUP <group> <size>")
	if err != nil || data == nil {
		return err
	}
	if err := h.srv.deliverVoice(h.sess, group, true, data); err != nil {
		return err
	}
	return h.reply("OK VOICE_NOTE")
}

// readVoicePayload parses "<target> <size>" and switches the stream to
// binary mode for exactly size bytes. A nil payload with nil error means a
// usage/parse problem was already answered inline; a short payload is
// fatal because the stream position is no longer recoverable.
func (h *handler) readVoicePayload(args, usage string) (string, []byte, error) {
	target, sizeStr, ok := splitTargetRest(args)
	if !ok {
		return "", nil, h.reply(usage)
	}
	size, err := strconv.Atoi(strings.TrimSpace(sizeStr))
	if err != nil || size < 0 {
		return "", nil, h.reply("ERR invalid size " + strings.TrimSpace(sizeStr))
	}

	data, err := h.r.ReadFull(size)
	if err != nil {
		return "", nil, fatal(err)
	}
	return strings.TrimSpace(target), data, nil
}

func (h *handler) handleSetUDP(args string) error {
	port, err := strconv.Atoi(strings.TrimSpace(args))
	if err != nil {
		return fmt.Errorf("invalid UDP port %s", strings.TrimSpace(args))
	}
	h.sess.SetUDPPort(port)
	return h.reply(fmt.Sprintf("OK UDP %d", port))
}

func (h *handler) handleCallUser(args string) error {
	target := strings.TrimSpace(args)
	peer, ok := h.srv.callReady(h.sess, target)
	if !ok {
		return h.reply("ERR target not ready for UDP")
	}
	return h.ring(peer)
}

func (h *handler) handleCallGroup(args string) error {
	group := strings.TrimSpace(args)
	for _, member := range h.srv.registry.MembersOf(group) {
		if member == h.sess.Username {
			continue
		}
		peer, ok := h.srv.callReady(h.sess, member)
		if !ok {
			// Members without a UDP port are skipped, not errors.
			continue
		}
		if err := h.ring(peer); err != nil {
			return err
		}
	}
	return nil
}

func (h *handler) handleHistory(string) error {
	lines, err := h.srv.store.Read(h.sess.Username)
	if err != nil {
		return err
	}
	if err := h.reply("HISTORY_BEGIN"); err != nil {
		return err
	}
	for _, line := range lines {
		if err := h.reply(line); err != nil {
			return err
		}
	}
	return h.reply("HISTORY_END")
}

// splitTargetRest separates the first token from the remainder of the
// line. Only the first space splits, so the remainder may itself contain
// spaces.
func splitTargetRest(args string) (target, rest string, ok bool) {
	sp := strings.Index(args, " ")
	if sp <= 0 {
		return "", "", false
	}
	return args[:sp], args[sp+1:], true
}

// remoteIP extracts the host portion of the peer's observed address. Call
// signaling hands this address out, never a self-reported one.
func remoteIP(c conn) string {
	addr := c.RemoteAddr()
	if tcpAddr, ok := addr.(*net.TCPAddr); ok {
		return tcpAddr.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
