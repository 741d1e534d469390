package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// signalType identifies a rendezvous protocol message. Grounded on the
// teacher's internal/network/signaling.SignalType, trimmed from its
// voice/chat signal set down to the four messages an address rendezvous
// needs.
type signalType string

const (
	signalAnnounce signalType = "announce"
	signalResolve  signalType = "resolve"
	signalResolved signalType = "resolved"
	signalNotFound signalType = "not_found"
)

type signal struct {
	Type      signalType `json:"type"`
	RequestID string     `json:"request_id,omitempty"`
	NodeID    string     `json:"node_id"`
	Addr      string     `json:"addr,omitempty"`
}

// SignalingConfig configures the Signaling discoverer.
type SignalingConfig struct {
	URL            string
	HandshakeTimeout time.Duration
	ResolveTimeout time.Duration
}

// Signaling resolves peer addresses through a WebSocket rendezvous server,
// grounded on the teacher's internal/network/signaling.Client (same
// connect/readLoop/handler-registry shape, re-themed from voice-channel
// join/offer signals to plain address announce/resolve).
type Signaling struct {
	cfg    SignalingConfig
	nodeID string
	logger zerolog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan signal
}

// NewSignaling creates a rendezvous-backed discoverer for nodeID. Call
// Connect before the first Discover/Announce.
func NewSignaling(cfg SignalingConfig, nodeID string, logger zerolog.Logger) *Signaling {
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.ResolveTimeout == 0 {
		cfg.ResolveTimeout = 5 * time.Second
	}
	return &Signaling{
		cfg:     cfg,
		nodeID:  nodeID,
		logger:  logger.With().Str("component", "discovery-signaling").Logger(),
		pending: make(map[string]chan signal),
	}
}

// Connect dials the rendezvous server and starts the read loop.
func (s *Signaling) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("discovery: connect to rendezvous %s: %w", s.cfg.URL, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	go s.readLoop()
	return nil
}

// Connected reports whether the rendezvous connection is currently live,
// for the admin health surface.
func (s *Signaling) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Close disconnects from the rendezvous server.
func (s *Signaling) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Announce tells the rendezvous server this node is reachable at addr.
func (s *Signaling) Announce(addr string) error {
	return s.send(signal{Type: signalAnnounce, NodeID: s.nodeID, Addr: addr})
}

// Discover implements node.Discoverer by asking the rendezvous server to
// resolve peer's current dial address.
func (s *Signaling) Discover(ctx context.Context, peer string) (string, error) {
	reqID := uuid.New().String()
	ch := make(chan signal, 1)

	s.mu.Lock()
	s.pending[reqID] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, reqID)
		s.mu.Unlock()
	}()

	if err := s.send(signal{Type: signalResolve, RequestID: reqID, NodeID: peer}); err != nil {
		return "", err
	}

	timeout := s.cfg.ResolveTimeout
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-timer.C:
		return "", fmt.Errorf("discovery: resolve %s: %w", peer, context.DeadlineExceeded)
	case resp := <-ch:
		if resp.Type == signalNotFound {
			return "", ErrNotFound
		}
		return resp.Addr, nil
	}
}

func (s *Signaling) send(sig signal) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("discovery: not connected to rendezvous server")
	}

	data, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("discovery: marshal signal: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("discovery: not connected to rendezvous server")
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Signaling) readLoop() {
	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			s.logger.Warn().Err(err).Msg("rendezvous read error")
			s.mu.Lock()
			if s.conn == conn {
				s.conn = nil
			}
			s.mu.Unlock()
			_ = conn.Close()
			return
		}

		var sig signal
		if err := json.Unmarshal(data, &sig); err != nil {
			s.logger.Warn().Err(err).Msg("invalid rendezvous message")
			continue
		}

		if sig.Type != signalResolved && sig.Type != signalNotFound {
			continue
		}

		s.mu.Lock()
		ch, ok := s.pending[sig.RequestID]
		s.mu.Unlock()
		if ok {
			ch <- sig
		}
	}
}
