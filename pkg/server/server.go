package server

import (
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aluzardo/multichat/pkg/history"
)

// conn is the transport surface a connection handler needs: one duplex
// byte stream plus the peer's observed network address. *net.TCPConn
// satisfies it directly; the WebSocket bridge adapts to it.
type conn interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	RemoteAddr() net.Addr
}

// Server owns the TCP listener, the shared session/group registry and the
// history store, and spawns one connection handler per accepted
// connection.
type Server struct {
	registry  *Registry
	store     *history.Store
	config    Config
	listener  net.Listener
	shutdown  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	metrics   *Metrics
	promReg   *prometheus.Registry
	startTime time.Time

	// Connection deltas for periodic reporting
	connectionsSinceReport    atomic.Int64
	disconnectionsSinceReport atomic.Int64
}

// NewServer creates a server instance. The data directory is created if
// needed; nothing listens until Start.
func NewServer(config Config) (*Server, error) {
	store, err := history.NewStore(config.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open history store: %w", err)
	}

	promReg := prometheus.NewRegistry()

	return &Server{
		registry:  NewRegistry(),
		store:     store,
		config:    config,
		shutdown:  make(chan struct{}),
		metrics:   NewMetrics(promReg),
		promReg:   promReg,
		startTime: time.Now(),
	}, nil
}

// Registry exposes the session/group registry for external collaborators
// (the HTTP façade drives its delete-user flow through it).
func (s *Server) Registry() *Registry {
	return s.registry
}

// Addr returns the bound TCP address, nil before Start. Useful when the
// configured port is 0.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start binds the TCP listener and kicks off the accept loop plus the
// internal metrics HTTP server and the public WebSocket bridge.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.TCPPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	// Internal-only metrics endpoint - never expose publicly.
	if s.config.MetricsAddr != "" {
		go func() {
			metricsMux := http.NewServeMux()
			metricsMux.Handle("/metrics", promhttp.HandlerFor(s.promReg, promhttp.HandlerOpts{}))
			metricsMux.HandleFunc("/health", s.HealthHandler)
			log.Printf("Metrics server listening on %s (/metrics, /health) - INTERNAL ONLY", s.config.MetricsAddr)
			if err := http.ListenAndServe(s.config.MetricsAddr, metricsMux); err != nil {
				errorLog.Printf("Metrics server error: %v", err)
			}
		}()
	}

	// Public HTTP server carrying the same protocol over WebSocket.
	if s.config.HTTPPort > 0 {
		go func() {
			publicMux := http.NewServeMux()
			publicMux.HandleFunc("/ws", s.HandleWebSocket)
			addr := fmt.Sprintf(":%d", s.config.HTTPPort)
			log.Printf("Public HTTP server listening on %s (/ws)", addr)
			if err := http.ListenAndServe(addr, publicMux); err != nil {
				errorLog.Printf("Public HTTP server error: %v", err)
			}
		}()
	}

	s.wg.Add(1)
	go s.metricsLoggingLoop()

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Stop gracefully stops the server: no new connections are accepted, every
// registered session gets a shutdown notice, then its connection is
// closed.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		log.Println("Graceful shutdown initiated...")
		close(s.shutdown)

		if s.listener != nil {
			s.listener.Close()
		}

		sessions := s.registry.Sessions()
		for _, sess := range sessions {
			if err := sess.SendLine("SYS server shutting down"); err != nil {
				debugLog.Printf("Shutdown notice to %s failed: %v", sess.Username, err)
			}
		}
		for _, sess := range sessions {
			sess.Close()
		}

		s.wg.Wait()
		log.Println("Graceful shutdown complete")
	})
	return nil
}

// acceptLoop accepts incoming connections until the listener closes.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		c, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				errorLog.Printf("Accept error: %v", err)
				continue
			}
		}

		// Disable Nagle's algorithm for immediate pushes
		if tcpConn, ok := c.(*net.TCPConn); ok {
			tcpConn.SetNoDelay(true)
		}

		go s.handleConn(c)
	}
}

// broadcast pushes one SYS line to every registered session. Delivery is
// best effort: a dead peer is detected and cleaned up by its own read
// loop.
func (s *Server) broadcast(line string) {
	for _, sess := range s.registry.Sessions() {
		if err := sess.SendLine(line); err != nil {
			debugLog.Printf("Broadcast to %s failed: %v", sess.Username, err)
		}
	}
}

// deliverText persists one text record and pushes it to whoever is online.
// Offline recipients are not queued; the append alone makes the send
// succeed.
func (s *Server) deliverText(from *Session, target string, isGroup bool, text string) error {
	rec := history.Record{
		Type:    history.TypeText,
		From:    from.Username,
		Target:  target,
		IsGroup: isGroup,
		Payload: text,
		SentAt:  time.Now(),
	}
	if err := s.store.AppendRecord(rec); err != nil {
		return err
	}

	if isGroup {
		line := fmt.Sprintf("MSG %s -> #%s: %s", from.Username, target, text)
		for _, member := range s.registry.MembersOf(target) {
			if member == from.Username {
				continue
			}
			if peer, ok := s.registry.Lookup(member); ok {
				if err := peer.SendLine(line); err != nil {
					debugLog.Printf("Push to %s failed: %v", member, err)
				}
			}
		}
		s.metrics.RecordDelivered("group")
		return nil
	}

	if peer, ok := s.registry.Lookup(target); ok {
		if err := peer.SendLine(fmt.Sprintf("MSG %s: %s", from.Username, text)); err != nil {
			debugLog.Printf("Push to %s failed: %v", target, err)
		}
	}
	s.metrics.RecordDelivered("direct")
	return nil
}

// deliverVoice stores the blob, persists a voice_note record referencing
// it, and pushes header+payload to online recipients.
func (s *Server) deliverVoice(from *Session, target string, isGroup bool, data []byte) error {
	path, err := s.store.StoreBlob(data)
	if err != nil {
		return err
	}

	rec := history.Record{
		Type:    history.TypeVoiceNote,
		From:    from.Username,
		Target:  target,
		IsGroup: isGroup,
		Payload: path,
		SentAt:  time.Now(),
	}
	if err := s.store.AppendRecord(rec); err != nil {
		return err
	}
	s.metrics.RecordVoiceBytes(len(data))

	if isGroup {
		for _, member := range s.registry.MembersOf(target) {
			if member == from.Username {
				continue
			}
			if peer, ok := s.registry.Lookup(member); ok {
				if err := peer.SendVoice(from.Username, data); err != nil {
					debugLog.Printf("Voice push to %s failed: %v", member, err)
				}
			}
		}
		s.metrics.RecordDelivered("voice_group")
		return nil
	}

	if peer, ok := s.registry.Lookup(target); ok {
		if err := peer.SendVoice(from.Username, data); err != nil {
			debugLog.Printf("Voice push to %s failed: %v", target, err)
		}
	}
	s.metrics.RecordDelivered("voice_direct")
	return nil
}

// HealthHandler reports process liveness and the current session count.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","uptime_seconds":%d,"sessions":%d}`+"\n",
		int(time.Since(s.startTime).Seconds()), s.registry.SessionCount())
}

// metricsLoggingLoop periodically logs key connection metrics.
func (s *Server) metricsLoggingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			connected := s.connectionsSinceReport.Swap(0)
			disconnected := s.disconnectionsSinceReport.Swap(0)
			log.Printf("[METRICS] Active sessions: %d, connected since last: %d, disconnected since last: %d",
				s.registry.SessionCount(), connected, disconnected)
		}
	}
}
