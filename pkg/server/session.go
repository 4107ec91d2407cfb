package server

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// safeWriter serializes writes from concurrent goroutines onto one
// connection. Under load a session receives pushes from many handlers at
// once; without synchronization their line and voice-payload bytes would
// interleave on the wire.
type safeWriter struct {
	mu sync.Mutex // Protects writes to w
	w  io.Writer
}

func (sw *safeWriter) writeLine(line string) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	_, err := io.WriteString(sw.w, line+"\n")
	return err
}

// writeBinary sends a header line immediately followed by a raw payload as
// one uninterruptible write sequence, so no other line can land between the
// announced length and the bytes it describes.
func (sw *safeWriter) writeBinary(header string, data []byte) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if _, err := io.WriteString(sw.w, header+"\n"); err != nil {
		return err
	}
	_, err := sw.w.Write(data)
	return err
}

// Session is the live binding between a username and one open connection.
// It is created on successful LOGIN and owned by the Registry until the
// connection ends. Username and RemoteIP are immutable; the UDP port is
// zero until the client announces one via SET_UDP.
type Session struct {
	Username string
	RemoteIP string // Peer address observed on the live connection

	out     *safeWriter
	closer  io.Closer
	udpPort atomic.Int32
}

func newSession(username, remoteIP string, out *safeWriter, closer io.Closer) *Session {
	return &Session{
		Username: username,
		RemoteIP: remoteIP,
		out:      out,
		closer:   closer,
	}
}

// SendLine pushes one terminated protocol line to this session's client.
func (s *Session) SendLine(line string) error {
	return s.out.writeLine(line)
}

// SendVoice pushes a VOICE_NOTE_FROM header followed by the raw payload.
func (s *Session) SendVoice(from string, data []byte) error {
	return s.out.writeBinary(fmt.Sprintf("VOICE_NOTE_FROM %s %d", from, len(data)), data)
}

// UDPPort returns the announced UDP port, 0 if the client never set one.
func (s *Session) UDPPort() int {
	return int(s.udpPort.Load())
}

// SetUDPPort records the client's self-reported UDP port. The new value is
// immediately visible to all registry readers.
func (s *Session) SetUDPPort(port int) {
	s.udpPort.Store(int32(port))
}

// Close tears down the underlying connection, unblocking the handler's
// read loop. Used during server shutdown.
func (s *Session) Close() error {
	return s.closer.Close()
}
