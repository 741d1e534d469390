// Package routing implements the adaptive routing table (§4.3): EMA-smoothed
// latency/bandwidth, a bounded sliding window of recent delivery outcomes,
// weighted peer scoring, and age-discounted confidence.
//
// Grounded on original_source's adaptive_routing.py (RouteMetrics/RouteInfo,
// _calculate_peer_score, _calculate_confidence, a deque(maxlen=100) outcome
// history), restructured into a mutex-guarded Go map the way the teacher's
// internal/presence.Tracker owns its own peer map independent of other
// components.
package routing

import (
	"fmt"
	"math"
	"sync"
	"time"
)

const (
	emaAlpha            = 0.3
	historyWindow       = 100
	directAgeHalfLife   = 600 * time.Second
	scoringAgeHalfLife  = 300 * time.Second
	weightLatency       = 0.4
	weightBandwidth     = 0.3
	weightReliability   = 0.3
)

// outcomeHistory is a bounded ring buffer of recent delivery outcomes
// (true = success), the Go equivalent of deque(maxlen=N). Its capacity
// defaults to historyWindow (§4.3's documented 100) when left zero-value,
// so a bare outcomeHistory{} behaves exactly as it did when the window
// size was a compile-time constant.
type outcomeHistory struct {
	cap   int
	buf   []bool
	count int
	next  int
}

func (h *outcomeHistory) record(success bool) {
	if h.cap <= 0 {
		h.cap = historyWindow
	}
	if h.buf == nil {
		h.buf = make([]bool, h.cap)
	}
	h.buf[h.next] = success
	h.next = (h.next + 1) % h.cap
	if h.count < h.cap {
		h.count++
	}
}

func (h *outcomeHistory) successRate() float64 {
	if h.count == 0 {
		return 1.0
	}
	successes := 0
	for i := 0; i < h.count; i++ {
		if h.buf[i] {
			successes++
		}
	}
	return float64(successes) / float64(h.count)
}

// PeerMetrics is the EMA-smoothed, windowed metric set for one peer (§3
// "Peer Metrics").
type PeerMetrics struct {
	mu sync.Mutex

	peer          string
	latencyEMA    float64 // seconds
	bandwidthEMA  float64 // bytes/sec
	history       outcomeHistory
	firstSeen     time.Time
	lastUpdated   time.Time
	hasLatency    bool
	hasBandwidth  bool
}

// Snapshot is an immutable view of a peer's current metrics, safe to read
// without holding the table's lock.
type Snapshot struct {
	Peer         string
	LatencyEMA   float64
	BandwidthEMA float64
	SuccessRate  float64
	Age          time.Duration
	Score        float64
	Confidence   float64
}

// Table is the adaptive routing table for one local node. It owns its
// peer metrics map and shares no state with other components (§3
// Ownership).
type Table struct {
	mu            sync.RWMutex
	selfID        string
	historyWindow int
	peers         map[string]*PeerMetrics
	now           func() time.Time
}

// New creates an empty routing table for the given local node identity,
// used as the first hop in every path Select returns. Its success-rate
// window defaults to §4.3's documented 100 outcomes; use NewWithWindow to
// override it from configuration.
func New(selfID string) *Table {
	return NewWithWindow(selfID, historyWindow)
}

// NewWithWindow is New with an explicit success-rate sliding-window size
// (config.RoutingConfig.HistoryWindow). window <= 0 falls back to the
// §4.3 default of 100.
func NewWithWindow(selfID string, window int) *Table {
	if window <= 0 {
		window = historyWindow
	}
	return &Table{
		selfID:        selfID,
		historyWindow: window,
		peers:         make(map[string]*PeerMetrics),
		now:           time.Now,
	}
}

func (t *Table) metricsFor(peer string) *PeerMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.peers[peer]
	if !ok {
		now := t.now()
		m = &PeerMetrics{peer: peer, firstSeen: now, lastUpdated: now}
		m.history.cap = t.historyWindow
		t.peers[peer] = m
	}
	return m
}

// RecordOutcome updates a peer's EMA latency/bandwidth and rolling success
// window after an attempted send to that peer (§4.3, original_source's
// record_route_performance).
func (t *Table) RecordOutcome(peer string, latency time.Duration, bandwidthBps float64, success bool) {
	m := t.metricsFor(peer)
	m.mu.Lock()
	defer m.mu.Unlock()

	if success {
		lat := latency.Seconds()
		if !m.hasLatency {
			m.latencyEMA = lat
			m.hasLatency = true
		} else {
			m.latencyEMA = emaAlpha*lat + (1-emaAlpha)*m.latencyEMA
		}
		if bandwidthBps > 0 {
			if !m.hasBandwidth {
				m.bandwidthEMA = bandwidthBps
				m.hasBandwidth = true
			} else {
				m.bandwidthEMA = emaAlpha*bandwidthBps + (1-emaAlpha)*m.bandwidthEMA
			}
		}
	}
	m.history.record(success)
	m.lastUpdated = t.now()
}

// latencyScore maps an EMA latency to a [0,1] desirability score: lower
// latency scores higher. 2 seconds is treated as effectively zero score,
// matching original_source's linear falloff.
func latencyScore(latencySeconds float64) float64 {
	const worst = 2.0
	if latencySeconds <= 0 {
		return 1.0
	}
	score := 1.0 - latencySeconds/worst
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// bandwidthScore maps an EMA bandwidth to a [0,1] desirability score,
// saturating at referenceBps (10 MiB/s).
func bandwidthScore(bps float64) float64 {
	const referenceBps = 10 * 1024 * 1024
	if bps <= 0 {
		return 0
	}
	score := bps / referenceBps
	if score > 1 {
		return 1
	}
	return score
}

// ageFactor discounts a score by an elapsed time (the caller picks the
// reference point), with an exponential half-life, matching original_source's use of two
// distinct half-lives for connection freshness vs. scoring confidence.
func ageFactor(age time.Duration, halfLife time.Duration) float64 {
	if halfLife <= 0 {
		return 1.0
	}
	exponent := age.Seconds() / halfLife.Seconds()
	return math.Pow(2, -exponent)
}

// score computes the 0-1 peer score reported in snapshots and used by
// SelectBest: age * (0.4*latency + 0.3*bandwidth + 0.3*reliability), where
// latency and bandwidth are the 0-1 latencyScore/bandwidthScore and age is a
// 600s half-life since the peer was first seen. Select ranks candidates
// with the 0-100 specScore instead.
func (m *PeerMetrics) score(now time.Time) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	lat := latencyScore(m.latencyEMA)
	bw := bandwidthScore(m.bandwidthEMA)
	reliability := m.history.successRate()
	age := ageFactor(now.Sub(m.firstSeen), directAgeHalfLife)

	return age * (weightLatency*lat + weightBandwidth*bw + weightReliability*reliability)
}

// confidence estimates how much to trust the score, discounted by how
// long it has been since the peer last reported an outcome and by how
// few samples back the success rate.
func (m *PeerMetrics) confidence(now time.Time) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	recency := ageFactor(now.Sub(m.lastUpdated), scoringAgeHalfLife)
	sampleFactor := float64(m.history.count) / float64(historyWindow)
	if sampleFactor > 1 {
		sampleFactor = 1
	}
	if m.history.count == 0 {
		return recency * 0.1 // minimal confidence with zero data points
	}
	return recency * (0.5 + 0.5*sampleFactor)
}

func (m *PeerMetrics) snapshot(now time.Time) Snapshot {
	m.mu.Lock()
	lat, bw, sr := m.latencyEMA, m.bandwidthEMA, m.history.successRate()
	m.mu.Unlock()

	return Snapshot{
		Peer:         m.peer,
		LatencyEMA:   lat,
		BandwidthEMA: bw,
		SuccessRate:  sr,
		Age:          now.Sub(m.firstSeen),
		Score:        m.score(now),
		Confidence:   m.confidence(now),
	}
}

// Snapshot returns a copy of a peer's current metrics, or false if the
// peer is unknown.
func (t *Table) Snapshot(peer string) (Snapshot, bool) {
	t.mu.RLock()
	m, ok := t.peers[peer]
	t.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	return m.snapshot(t.now()), true
}

// SelectBest returns the known peer, among candidates, with the highest
// score, along with its confidence. It returns false if none of the
// candidates have been seen yet.
func (t *Table) SelectBest(candidates []string) (Snapshot, bool) {
	now := t.now()

	t.mu.RLock()
	defer t.mu.RUnlock()

	var best Snapshot
	found := false
	for _, peer := range candidates {
		m, ok := t.peers[peer]
		if !ok {
			continue
		}
		snap := m.snapshot(now)
		if !found || snap.Score > best.Score {
			best = snap
			found = true
		}
	}
	return best, found
}

// Forget removes a peer's metrics entirely, e.g. on prolonged disconnect.
func (t *Table) Forget(peer string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.peers, peer)
}

// unknownPeerScore is the neutral default §4.3 assigns to a candidate with
// no recorded metrics.
const unknownPeerScore = 50.0

// specScore computes the 0-100 peer score §4.3 defines:
// age * (0.4*latency_score + 0.3*bw_score + 0.3*reliability_score), where
// age = exp(-Δt/300s) with Δt the time since the peer's last update,
// latency_score = max(0, 100 - latency_ms/10),
// bw_score = min(100, 2*bw_mbps), reliability_score = 100*success_rate.
// Returns (score, known); known is false for a peer with no metrics, in
// which case score is the unknownPeerScore default.
func (t *Table) specScore(peer string, now time.Time) (score float64, known bool) {
	t.mu.RLock()
	m, ok := t.peers[peer]
	t.mu.RUnlock()
	if !ok {
		return unknownPeerScore, false
	}

	m.mu.Lock()
	latencyMs := m.latencyEMA * 1000
	bwMbps := m.bandwidthEMA * 8 / 1e6
	reliability := m.history.successRate()
	lastUpdated := m.lastUpdated
	m.mu.Unlock()

	age := math.Exp(-now.Sub(lastUpdated).Seconds() / scoringAgeHalfLife.Seconds())
	latencyScore := math.Max(0, 100-latencyMs/10)
	bwScore := math.Min(100, 2*bwMbps)
	reliabilityScore := 100 * reliability

	s := age * (0.4*latencyScore + 0.3*bwScore + 0.3*reliabilityScore)
	return s, true
}

// specConfidence computes a direct peer's confidence §4.3 defines:
// min(1, age' * perf), age' = exp(-Δt/600s) with Δt the time since the
// peer's last update, perf the same weighted blend normalized to 0-1.
func (t *Table) specConfidence(peer string, now time.Time) float64 {
	t.mu.RLock()
	m, ok := t.peers[peer]
	t.mu.RUnlock()
	if !ok {
		return unknownPeerScore / 100
	}

	score, _ := t.specScore(peer, now)
	m.mu.Lock()
	lastUpdated := m.lastUpdated
	m.mu.Unlock()
	agePrime := math.Exp(-now.Sub(lastUpdated).Seconds() / directAgeHalfLife.Seconds())
	return math.Min(1, agePrime*(score/100))
}

// PathResult is §4.3's select(target, candidates) return shape: the
// proposed hop sequence starting at this node, a confidence in [0,1], the
// estimated latency in milliseconds of the chosen hop, and a human-
// readable reason naming the peer the decision turned on.
type PathResult struct {
	Path       []string
	Confidence float64
	EstLatency time.Duration
	Reason     string
}

// Select implements §4.3's select operation. If target is itself one of
// candidates, it returns the direct path [self, target] scored on target's
// own metrics. Otherwise it scores every candidate and proposes
// [self, best, target] as an advisory path — forwarding is not executed by
// this component (§1 Non-goals, §4.3). An empty candidate set returns a
// nil path and zero confidence (testable property 7).
func (t *Table) Select(target string, candidates []string) PathResult {
	if len(candidates) == 0 {
		return PathResult{Reason: "no candidates available"}
	}

	now := t.now()

	for _, c := range candidates {
		if c == target {
			confidence := t.specConfidence(target, now)
			latMs, _ := t.latencyMs(target)
			return PathResult{
				Path:       []string{t.selfID, target},
				Confidence: confidence,
				EstLatency: time.Duration(latMs * float64(time.Millisecond)),
				Reason:     fmt.Sprintf("direct connection to %s", target),
			}
		}
	}

	best, bestScore, ok := t.bestOf(candidates, now)
	if !ok {
		return PathResult{Reason: "no candidates available"}
	}

	latMs, _ := t.latencyMs(best)
	return PathResult{
		Path:       []string{t.selfID, best, target},
		Confidence: math.Min(1, bestScore/100),
		EstLatency: time.Duration(latMs * float64(time.Millisecond)),
		Reason:     fmt.Sprintf("routed via %s (score %.1f)", best, bestScore),
	}
}

// bestOf scores every candidate with specScore and returns the winner,
// breaking ties by most-recently-updated peer first, then by lexically
// smaller peer id (§4.3 Tie-breaking).
func (t *Table) bestOf(candidates []string, now time.Time) (peer string, score float64, ok bool) {
	var bestUpdated time.Time
	for _, c := range candidates {
		s, _ := t.specScore(c, now)
		updated := t.lastUpdated(c)

		switch {
		case !ok:
			peer, score, bestUpdated, ok = c, s, updated, true
		case s > score:
			peer, score, bestUpdated = c, s, updated
		case s == score:
			if updated.After(bestUpdated) || (updated.Equal(bestUpdated) && c < peer) {
				peer, bestUpdated = c, updated
			}
		}
	}
	return peer, score, ok
}

func (t *Table) lastUpdated(peer string) time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if m, ok := t.peers[peer]; ok {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.lastUpdated
	}
	return time.Time{}
}

func (t *Table) latencyMs(peer string) (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.peers[peer]
	if !ok {
		return 0, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latencyEMA * 1000, m.hasLatency
}
