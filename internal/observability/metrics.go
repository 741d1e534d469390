package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics the node manager and its
// subsystems emit.
type Metrics struct {
	// Session crypto (§4.1)
	CryptoEncryptTotal  *prometheus.CounterVec
	CryptoDecryptTotal  *prometheus.CounterVec
	CryptoFailuresTotal *prometheus.CounterVec // by reason: unknown_key, replay, hmac_mismatch, aead_failure, rng
	CryptoKeyRotations  *prometheus.CounterVec

	// Fault executor / circuit breaker (§4.2)
	CircuitState          *prometheus.GaugeVec // 0=closed 1=half_open 2=open, by peer/op_type
	CircuitTripsTotal      *prometheus.CounterVec
	ExecutorAttemptsTotal  *prometheus.CounterVec // by peer/op_type/result
	ExecutorRetryDelay     *prometheus.HistogramVec

	// Routing table (§4.3)
	RoutingPeerScore      *prometheus.GaugeVec
	RoutingConfidence     *prometheus.GaugeVec
	RoutingOutcomesTotal  *prometheus.CounterVec // by peer/outcome

	// Wire framing (§4.4)
	WireFramesWritten    *prometheus.CounterVec
	WireFramesRead       *prometheus.CounterVec
	WireFrameErrorsTotal *prometheus.CounterVec // by reason: too_large, malformed, eof

	// Node manager (§4.5)
	NodeMessagesSentTotal     *prometheus.CounterVec // by message type
	NodeMessagesReceivedTotal *prometheus.CounterVec
	NodeConnectedPeers        prometheus.Gauge
	NodeEncryptionSuccessRate prometheus.Gauge

	// Peer discovery collaborator (§6)
	DiscoveryLookupsTotal *prometheus.CounterVec // by strategy/result

	// Discovery/address-book cache
	CacheHitsTotal     *prometheus.CounterVec
	CacheMissesTotal   *prometheus.CounterVec
	CacheEvictionsTotal *prometheus.CounterVec

	// Admin HTTP surface
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics. Names follow
// quantump2p_<subsystem>_<metric>_<unit>.
// Complexity: O(1)
func NewMetrics() *Metrics {
	return &Metrics{
		CryptoEncryptTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantump2p_crypto_encrypt_total",
				Help: "Total number of envelope encrypt operations",
			},
			[]string{"peer", "result"},
		),
		CryptoDecryptTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantump2p_crypto_decrypt_total",
				Help: "Total number of envelope decrypt operations",
			},
			[]string{"peer", "result"},
		),
		CryptoFailuresTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantump2p_crypto_failures_total",
				Help: "Total crypto failures by reason",
			},
			[]string{"peer", "reason"}, // unknown_key, replay, hmac_mismatch, aead_failure, rng
		),
		CryptoKeyRotations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantump2p_crypto_key_rotations_total",
				Help: "Total number of session key rotations (TTL expiry)",
			},
			[]string{"peer"},
		),

		CircuitState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "quantump2p_circuit_state",
				Help: "Circuit breaker state: 0=closed 1=half_open 2=open",
			},
			[]string{"peer", "op_type"},
		),
		CircuitTripsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantump2p_circuit_trips_total",
				Help: "Total number of times a circuit opened",
			},
			[]string{"peer", "op_type"},
		),
		ExecutorAttemptsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantump2p_executor_attempts_total",
				Help: "Total fault-executor attempts by result",
			},
			[]string{"peer", "op_type", "result"}, // success, timeout, cancelled, circuit_open, error
		),
		ExecutorRetryDelay: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quantump2p_executor_retry_delay_seconds",
				Help:    "Computed backoff delay before a retry attempt",
				Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
			},
			[]string{"peer", "op_type"},
		),

		RoutingPeerScore: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "quantump2p_routing_peer_score",
				Help: "Most recently computed routing score for a peer (0-1)",
			},
			[]string{"peer"},
		),
		RoutingConfidence: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "quantump2p_routing_confidence",
				Help: "Most recently computed selection confidence for a peer (0-1)",
			},
			[]string{"peer"},
		),
		RoutingOutcomesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantump2p_routing_outcomes_total",
				Help: "Total recorded send outcomes by peer",
			},
			[]string{"peer", "outcome"}, // success, failure
		),

		WireFramesWritten: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantump2p_wire_frames_written_total",
				Help: "Total frames written to peer connections",
			},
			[]string{"peer"},
		),
		WireFramesRead: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantump2p_wire_frames_read_total",
				Help: "Total frames read from peer connections",
			},
			[]string{"peer"},
		),
		WireFrameErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantump2p_wire_frame_errors_total",
				Help: "Total framing errors by reason",
			},
			[]string{"reason"}, // too_large, malformed, eof
		),

		NodeMessagesSentTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantump2p_node_messages_sent_total",
				Help: "Total messages sent by type",
			},
			[]string{"type"},
		),
		NodeMessagesReceivedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantump2p_node_messages_received_total",
				Help: "Total messages received by type",
			},
			[]string{"type"},
		),
		NodeConnectedPeers: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "quantump2p_node_connected_peers",
				Help: "Current number of connected peers",
			},
		),
		NodeEncryptionSuccessRate: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "quantump2p_node_encryption_success_rate",
				Help: "Ratio of successful encrypt/decrypt operations to total attempts",
			},
		),

		DiscoveryLookupsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantump2p_discovery_lookups_total",
				Help: "Total peer-discovery lookups by strategy and result",
			},
			[]string{"strategy", "result"}, // found, not_found, error
		),

		CacheHitsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantump2p_cache_hits_total",
				Help: "Total cache hits",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantump2p_cache_misses_total",
				Help: "Total cache misses",
			},
			[]string{"cache"},
		),
		CacheEvictionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantump2p_cache_evictions_total",
				Help: "Total cache evictions",
			},
			[]string{"cache"},
		),

		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantump2p_http_requests_total",
				Help: "Total admin HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quantump2p_http_request_duration_milliseconds",
				Help:    "Admin HTTP request duration in milliseconds",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
			},
			[]string{"method", "path"},
		),
	}
}
