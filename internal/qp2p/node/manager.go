package node

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/concord-chat/quantump2p/internal/cache"
	"github.com/concord-chat/quantump2p/internal/observability"
	"github.com/concord-chat/quantump2p/internal/qp2p/crypto"
	"github.com/concord-chat/quantump2p/internal/qp2p/fault"
	"github.com/concord-chat/quantump2p/internal/qp2p/routing"
	"github.com/concord-chat/quantump2p/internal/qp2p/wire"
)

// Discoverer resolves a peer's dial address. It is the external
// peer-discovery collaborator §4.5/§6 name but leave unspecified; package
// qp2p/discovery supplies concrete implementations.
type Discoverer interface {
	Discover(ctx context.Context, peer string) (addr string, err error)
}

// Handler processes one decrypted inbound message.
type Handler func(ctx context.Context, msg *Message) error

// Config configures a node Manager.
type Config struct {
	NodeID            string
	BindAddr          string // host:port; port 0 lets the OS assign one
	HeartbeatInterval time.Duration
	CleanupInterval   time.Duration
	PeerTimeout       time.Duration
	MaxFrameBytes     int
	CryptoKeyTTL      time.Duration
	Circuit           fault.CircuitConfig
	Retry             fault.RetryConfig

	// SendTimeout is the deadline the heartbeat loop puts on each of its
	// own sends; §6's node.send_timeout. Send itself applies no deadline
	// beyond the one its caller's context carries.
	SendTimeout time.Duration
	// RoutingHistoryWindow bounds the routing table's per-peer success-
	// rate sliding window (§4.3, default 100).
	RoutingHistoryWindow int

	// DiscoveryCacheTTL bounds how long a resolved dial address is reused
	// before the next dial re-queries the Discoverer. Zero disables
	// caching and resolves on every dial.
	DiscoveryCacheTTL time.Duration
	// DiscoveryCacheSize caps the number of cached peer addresses.
	DiscoveryCacheSize int
}

// DefaultConfig fills in every §4.5/§6 documented default.
func DefaultConfig(nodeID string) Config {
	return Config{
		NodeID:                nodeID,
		BindAddr:              "127.0.0.1:0",
		HeartbeatInterval:     30 * time.Second,
		CleanupInterval:       60 * time.Second,
		PeerTimeout:           300 * time.Second,
		MaxFrameBytes:         wire.MaxFrameBytes,
		CryptoKeyTTL:          3600 * time.Second,
		Circuit:               fault.DefaultCircuitConfig(),
		Retry:                 fault.DefaultRetryConfig(),
		DiscoveryCacheTTL:     60 * time.Second,
		DiscoveryCacheSize:    1024,
		SendTimeout:           10 * time.Second,
		RoutingHistoryWindow:  100,
	}
}

// peerConn tracks one live outbound/inbound connection and when it was
// last used, for the cleanup sweep.
type peerConn struct {
	mu       sync.Mutex
	conn     net.Conn
	lastSeen time.Time
}

// Metrics is the snapshot the admin surface exposes (§4.5).
type Metrics struct {
	NodeID                string
	Running               bool
	ConnectedPeers        int
	MessagesSent          uint64
	MessagesReceived      uint64
	EncryptionSuccessRate float64
	BindPort              int
}

// Manager is the node manager: it owns the TCP listener, the connected
// peer table and the background heartbeat/cleanup loops, and composes
// routing, crypto and the fault executor on every send (§4.5).
type Manager struct {
	cfg Config

	crypto    *crypto.Engine
	executor  *fault.Executor
	routing   *routing.Table
	discover  Discoverer
	addrCache *cache.LRU
	logger    zerolog.Logger
	metrics   *observability.Metrics

	mu       sync.RWMutex
	running  bool
	listener net.Listener
	conns    map[string]*peerConn
	handlers map[MessageType]Handler

	sent       atomic.Uint64
	received   atomic.Uint64
	encryptOK  atomic.Uint64
	encryptErr atomic.Uint64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewManager builds a node manager. discoverer may be nil; Send then fails
// with ErrPeerUnknown for any peer without an already-open connection.
func NewManager(cfg Config, discoverer Discoverer, logger zerolog.Logger) *Manager {
	log := logger.With().Str("component", "node-manager").Str("node_id", cfg.NodeID).Logger()
	return &Manager{
		cfg:       cfg,
		crypto:    crypto.NewEngine(cfg.NodeID, cfg.CryptoKeyTTL, log),
		executor:  fault.NewExecutor(cfg.Circuit, cfg.Retry, log),
		routing:   routing.NewWithWindow(cfg.NodeID, cfg.RoutingHistoryWindow),
		discover:  discoverer,
		addrCache: cache.NewLRU(cfg.DiscoveryCacheSize),
		logger:    log,
		conns:     make(map[string]*peerConn),
		handlers:  make(map[MessageType]Handler),
		stopCh:    make(chan struct{}),
	}
}

// SetMetrics attaches a Prometheus metrics sink. It is optional; a
// Manager with no metrics attached records nothing but otherwise behaves
// identically. Must be called before Start for consistent coverage.
func (m *Manager) SetMetrics(metrics *observability.Metrics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = metrics
}

// Crypto exposes the underlying session crypto engine so a key-exchange
// collaborator (qp2p/keyexchange, qp2p/nodeauth) can install peer keys.
func (m *Manager) Crypto() *crypto.Engine { return m.crypto }

// Routing exposes the routing table, mainly for tests and diagnostics.
func (m *Manager) Routing() *routing.Table { return m.routing }

// OnMessage registers the handler invoked for every decrypted inbound
// message of the given type, replacing any previous registration.
func (m *Manager) OnMessage(msgType MessageType, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[msgType] = handler
}

// Start binds the listener and launches the accept, heartbeat and cleanup
// loops.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	ln, err := net.Listen("tcp", m.cfg.BindAddr)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("node: listen: %w", err)
	}
	m.listener = ln
	m.running = true
	m.stopCh = make(chan struct{})
	m.mu.Unlock()

	m.logger.Info().Str("addr", ln.Addr().String()).Msg("node manager listening")

	m.wg.Add(3)
	go m.acceptLoop()
	go m.heartbeatLoop()
	go m.cleanupLoop()
	return nil
}

// Stop closes the listener and all connections and waits for the
// background loops to exit.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return ErrNotRunning
	}
	m.running = false
	close(m.stopCh)
	ln := m.listener
	conns := m.conns
	m.conns = make(map[string]*peerConn)
	m.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	for _, pc := range conns {
		_ = pc.conn.Close()
	}

	m.wg.Wait()
	m.logger.Info().Msg("node manager stopped")
	return nil
}

// BindPort returns the OS-assigned (or configured) TCP port, or 0 if the
// manager has not started.
func (m *Manager) BindPort() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.listener == nil {
		return 0
	}
	if addr, ok := m.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// GetMetrics returns a snapshot of the manager's current metrics (§4.5).
func (m *Manager) GetMetrics() Metrics {
	m.mu.RLock()
	running := m.running
	connected := len(m.conns)
	var bindPort int
	if m.listener != nil {
		if addr, ok := m.listener.Addr().(*net.TCPAddr); ok {
			bindPort = addr.Port
		}
	}
	m.mu.RUnlock()

	ok, fail := m.encryptOK.Load(), m.encryptErr.Load()
	rate := 1.0
	if total := ok + fail; total > 0 {
		rate = float64(ok) / float64(total)
	}

	m.recordMetric(func(mt *observability.Metrics) {
		mt.NodeConnectedPeers.Set(float64(connected))
		mt.NodeEncryptionSuccessRate.Set(rate)
	})

	return Metrics{
		NodeID:                m.cfg.NodeID,
		Running:               running,
		ConnectedPeers:        connected,
		MessagesSent:          m.sent.Load(),
		MessagesReceived:      m.received.Load(),
		EncryptionSuccessRate: rate,
		BindPort:              bindPort,
	}
}

// PeerInfo is one connected peer's admin-surface summary.
type PeerInfo struct {
	Peer       string    `json:"peer"`
	LastSeen   time.Time `json:"last_seen"`
	Score      float64   `json:"score"`
	Confidence float64   `json:"confidence"`
}

// Peers lists every peer with a live connection, alongside its current
// routing score and confidence, for the admin HTTP surface's /peers route.
func (m *Manager) Peers() []PeerInfo {
	m.mu.RLock()
	out := make([]PeerInfo, 0, len(m.conns))
	for peer, pc := range m.conns {
		pc.mu.Lock()
		lastSeen := pc.lastSeen
		pc.mu.Unlock()
		out = append(out, PeerInfo{Peer: peer, LastSeen: lastSeen})
	}
	m.mu.RUnlock()

	for i := range out {
		if snap, ok := m.routing.Snapshot(out[i].Peer); ok {
			out[i].Score = snap.Score
			out[i].Confidence = snap.Confidence
		}
	}
	return out
}

// estimatedLinkBandwidthBps is the "100 Mbps estimate" §4.5 step 5 records
// against the routing table on every successful send, in bytes/sec.
const estimatedLinkBandwidthBps = 100e6 / 8

// Send composes routing selection, session encryption, the fault executor
// and wire framing to deliver payload to peer as a message of msgType
// (§4.5's send() operation).
func (m *Manager) Send(ctx context.Context, peer string, msgType MessageType, payload []byte) error {
	decision := m.routing.Select(peer, []string{peer})
	m.logger.Debug().Str("peer", peer).Strs("path", decision.Path).
		Float64("confidence", decision.Confidence).Str("reason", decision.Reason).
		Msg("routing decision")
	m.recordMetric(func(mt *observability.Metrics) { mt.RoutingConfidence.WithLabelValues(peer).Set(decision.Confidence) })

	id := uuid.New()
	msg := &Message{
		ID:        hex.EncodeToString(id[:]),
		Type:      msgType,
		Sender:    m.cfg.NodeID,
		Data:      payload,
		Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
		TTL:       DefaultTTL.Seconds(),
	}
	data, err := marshalMessage(msg)
	if err != nil {
		return fmt.Errorf("node: marshal message: %w", err)
	}

	pc, err := m.connFor(ctx, peer)
	if err != nil {
		return err
	}

	// §4.5 step 2: encrypt once, outside the fault executor. Encrypt
	// creates a session key on demand, so it fails only on an empty peer
	// id, an entropy-source error or an AEAD failure; such a failure
	// surfaces as encryption_failed immediately,
	// never retried or counted against the circuit breaker (§7).
	env, err := m.crypto.Encrypt(peer, data)
	if err != nil {
		m.encryptErr.Add(1)
		m.recordCryptoFailure(peer, err)
		m.recordMetric(func(mt *observability.Metrics) { mt.CryptoEncryptTotal.WithLabelValues(peer, "failure").Inc() })
		return fmt.Errorf("node: send to %s: %w: %v", peer, ErrEncryptionFailed, err)
	}
	m.encryptOK.Add(1)
	m.recordMetric(func(mt *observability.Metrics) { mt.CryptoEncryptTotal.WithLabelValues(peer, "success").Inc() })

	start := time.Now()
	sendErr := m.executor.Execute(ctx, peer, string(msgType), func(ctx context.Context) error {
		pc.mu.Lock()
		defer pc.mu.Unlock()
		if deadline, ok := ctx.Deadline(); ok {
			_ = pc.conn.SetWriteDeadline(deadline)
		}
		if err := wire.WriteEnvelope(pc.conn, env, m.cfg.MaxFrameBytes); err != nil {
			m.recordMetric(func(mt *observability.Metrics) { mt.WireFrameErrorsTotal.WithLabelValues("write").Inc() })
			return err
		}
		m.recordMetric(func(mt *observability.Metrics) { mt.WireFramesWritten.WithLabelValues(peer).Inc() })
		return nil
	})

	m.recordMetric(func(mt *observability.Metrics) {
		mt.CircuitState.WithLabelValues(peer, string(msgType)).Set(circuitStateGaugeValue(m.executor.State(peer, string(msgType))))
	})

	bw := 0.0
	if sendErr == nil {
		bw = estimatedLinkBandwidthBps
	}
	m.routing.RecordOutcome(peer, time.Since(start), bw, sendErr == nil)
	if snap, ok := m.routing.Snapshot(peer); ok {
		m.recordMetric(func(mt *observability.Metrics) { mt.RoutingPeerScore.WithLabelValues(peer).Set(snap.Score) })
	}

	outcome := "success"
	if sendErr != nil {
		outcome = "failure"
	}
	m.recordMetric(func(mt *observability.Metrics) { mt.RoutingOutcomesTotal.WithLabelValues(peer, outcome).Inc() })

	if sendErr != nil {
		return fmt.Errorf("node: send to %s: %w", peer, sendErr)
	}

	pc.mu.Lock()
	pc.lastSeen = time.Now()
	pc.mu.Unlock()
	m.sent.Add(1)
	m.recordMetric(func(mt *observability.Metrics) { mt.NodeMessagesSentTotal.WithLabelValues(string(msgType)).Inc() })
	return nil
}

// circuitStateGaugeValue maps a fault.State to the 0=closed/1=half_open/
// 2=open scale CircuitState's Help text documents.
func circuitStateGaugeValue(s fault.State) float64 {
	switch s {
	case fault.StateHalfOpen:
		return 1
	case fault.StateOpen:
		return 2
	default:
		return 0
	}
}

// recordMetric invokes fn with the attached metrics sink if one is set; a
// Manager with no metrics attached is a complete no-op.
func (m *Manager) recordMetric(fn func(*observability.Metrics)) {
	m.mu.RLock()
	mt := m.metrics
	m.mu.RUnlock()
	if mt != nil {
		fn(mt)
	}
}

// recordCryptoFailure classifies a session-crypto error into the §7 failure
// taxonomy label and records it against CryptoFailuresTotal.
func (m *Manager) recordCryptoFailure(peer string, err error) {
	reason := "aead_failure"
	switch {
	case errors.Is(err, crypto.ErrUnknownKey):
		reason = "unknown_key"
	case errors.Is(err, crypto.ErrReplay):
		reason = "replay"
	case errors.Is(err, crypto.ErrHmacMismatch):
		reason = "hmac_mismatch"
	case errors.Is(err, crypto.ErrRng):
		reason = "rng"
	}
	m.recordMetric(func(mt *observability.Metrics) {
		mt.CryptoFailuresTotal.WithLabelValues(peer, reason).Inc()
	})
}

// connFor returns an existing connection to peer, or dials one using the
// configured Discoverer.
func (m *Manager) connFor(ctx context.Context, peer string) (*peerConn, error) {
	m.mu.RLock()
	pc, ok := m.conns[peer]
	m.mu.RUnlock()
	if ok {
		return pc, nil
	}

	if m.discover == nil {
		return nil, ErrPeerUnknown
	}

	addr, cached := "", false
	if m.addrCache != nil {
		if v, ok := m.addrCache.Get(peer); ok {
			addr, cached = v.(string), true
		}
	}
	if !cached {
		var err error
		addr, err = m.discover.Discover(ctx, peer)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPeerUnknown, err)
		}
		if m.addrCache != nil && m.cfg.DiscoveryCacheTTL > 0 {
			m.addrCache.Set(peer, addr, m.cfg.DiscoveryCacheTTL)
		}
	}

	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil && cached {
		// The cached address may be stale; evict it and re-resolve once
		// before giving up.
		m.addrCache.Delete(peer)
		addr, err = m.discover.Discover(ctx, peer)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPeerUnknown, err)
		}
		if m.cfg.DiscoveryCacheTTL > 0 {
			m.addrCache.Set(peer, addr, m.cfg.DiscoveryCacheTTL)
		}
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("node: dial %s: %w", peer, err)
	}

	pc = &peerConn{conn: conn, lastSeen: time.Now()}
	m.mu.Lock()
	m.conns[peer] = pc
	m.mu.Unlock()

	m.wg.Add(1)
	go m.readLoop(peer, pc)
	return pc, nil
}

func (m *Manager) acceptLoop() {
	defer m.wg.Done()
	for {
		conn, err := m.listener.Accept()
		if err != nil {
			select {
			case <-m.stopCh:
				return
			default:
				m.logger.Warn().Err(err).Msg("accept failed")
				return
			}
		}

		pc := &peerConn{conn: conn, lastSeen: time.Now()}
		m.wg.Add(1)
		go m.readLoop("", pc)
	}
}

// readLoop drains frames from one connection until it closes or Stop is
// called. peer may be empty for inbound connections whose identity is
// only known once the first envelope's key id is parsed.
func (m *Manager) readLoop(peer string, pc *peerConn) {
	defer m.wg.Done()
	defer func() {
		_ = pc.conn.Close()
		if peer != "" {
			m.mu.Lock()
			delete(m.conns, peer)
			m.mu.Unlock()
		}
	}()

	for {
		env, err := wire.ReadEnvelope(pc.conn, m.cfg.MaxFrameBytes)
		if err != nil {
			m.recordMetric(func(mt *observability.Metrics) { mt.WireFrameErrorsTotal.WithLabelValues("read").Inc() })
			return
		}
		m.recordMetric(func(mt *observability.Metrics) { mt.WireFramesRead.WithLabelValues(peer).Inc() })

		sender := peer
		if sender == "" {
			sender = senderFromKeyID(env.KeyID)
		}
		if sender == "" {
			m.logger.Warn().Str("key_id", env.KeyID).Msg("dropping envelope with unresolvable sender")
			continue
		}

		if peer == "" {
			m.mu.Lock()
			if _, exists := m.conns[sender]; !exists {
				m.conns[sender] = pc
			}
			m.mu.Unlock()
			peer = sender
		}

		pc.mu.Lock()
		pc.lastSeen = time.Now()
		pc.mu.Unlock()

		plaintext, err := m.crypto.Decrypt(sender, env)
		if err != nil {
			m.encryptErr.Add(1)
			m.recordCryptoFailure(sender, err)
			m.recordMetric(func(mt *observability.Metrics) { mt.CryptoDecryptTotal.WithLabelValues(sender, "failure").Inc() })
			m.logger.Warn().Err(err).Str("peer", sender).Msg("failed to decrypt inbound envelope")
			continue
		}
		m.encryptOK.Add(1)
		m.received.Add(1)
		m.recordMetric(func(mt *observability.Metrics) { mt.CryptoDecryptTotal.WithLabelValues(sender, "success").Inc() })

		msg, err := unmarshalMessage(plaintext)
		if err != nil {
			m.logger.Warn().Err(err).Str("peer", sender).Msg("failed to unmarshal inbound message")
			continue
		}

		m.recordMetric(func(mt *observability.Metrics) { mt.NodeMessagesReceivedTotal.WithLabelValues(string(msg.Type)).Inc() })
		m.dispatch(msg)
	}
}

func (m *Manager) dispatch(msg *Message) {
	if msg.Expired(time.Now()) {
		m.logger.Debug().Str("message_id", msg.ID).Str("type", string(msg.Type)).Msg("dropping expired message")
		return
	}

	m.mu.RLock()
	handler, ok := m.handlers[msg.Type]
	m.mu.RUnlock()
	if !ok {
		m.logger.Debug().Str("type", string(msg.Type)).Msg("no handler for message type")
		return
	}
	if err := handler(context.Background(), msg); err != nil {
		m.logger.Warn().Err(err).Str("type", string(msg.Type)).Msg("handler returned error")
	}
}

func (m *Manager) heartbeatLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.mu.RLock()
			peers := make([]string, 0, len(m.conns))
			for peer := range m.conns {
				peers = append(peers, peer)
			}
			m.mu.RUnlock()

			sendTimeout := m.cfg.SendTimeout
			if sendTimeout <= 0 {
				sendTimeout = m.cfg.HeartbeatInterval
			}
			for _, peer := range peers {
				ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
				if err := m.Send(ctx, peer, MessageTypeHeartbeat, nil); err != nil {
					m.logger.Debug().Err(err).Str("peer", peer).Msg("heartbeat failed")
				}
				cancel()
			}
		}
	}
}

func (m *Manager) cleanupLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweepStalePeers()
		}
	}
}

func (m *Manager) sweepStalePeers() {
	deadline := time.Now().Add(-m.cfg.PeerTimeout)

	m.mu.Lock()
	var stale []string
	for peer, pc := range m.conns {
		pc.mu.Lock()
		lastSeen := pc.lastSeen
		pc.mu.Unlock()
		if lastSeen.Before(deadline) {
			stale = append(stale, peer)
		}
	}
	for _, peer := range stale {
		if pc, ok := m.conns[peer]; ok {
			_ = pc.conn.Close()
			delete(m.conns, peer)
		}
	}
	m.mu.Unlock()

	for _, peer := range stale {
		m.routing.Forget(peer)
		m.logger.Info().Str("peer", peer).Msg("reaped stale peer")
	}
}
