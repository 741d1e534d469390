package routing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordOutcomeBuildsLatencyEMA(t *testing.T) {
	tbl := New("self")
	tbl.RecordOutcome("peer-a", 100*time.Millisecond, 0, true)
	tbl.RecordOutcome("peer-a", 300*time.Millisecond, 0, true)

	snap, ok := tbl.Snapshot("peer-a")
	require.True(t, ok)
	assert.InDelta(t, 0.16, snap.LatencyEMA, 0.01)
}

func TestSuccessRateReflectsFailures(t *testing.T) {
	tbl := New("self")
	for i := 0; i < 8; i++ {
		tbl.RecordOutcome("peer-a", 50*time.Millisecond, 0, true)
	}
	for i := 0; i < 2; i++ {
		tbl.RecordOutcome("peer-a", 50*time.Millisecond, 0, false)
	}

	snap, ok := tbl.Snapshot("peer-a")
	require.True(t, ok)
	assert.InDelta(t, 0.8, snap.SuccessRate, 0.001)
}

func TestHistoryWindowIsBounded(t *testing.T) {
	m := &PeerMetrics{peer: "peer-a"}
	for i := 0; i < historyWindow; i++ {
		m.history.record(false)
	}
	for i := 0; i < 10; i++ {
		m.history.record(true)
	}

	assert.Equal(t, historyWindow, m.history.count)
	assert.InDelta(t, float64(10)/float64(historyWindow), m.history.successRate(), 0.0001)
}

func TestSelectBestPrefersHigherScoringPeer(t *testing.T) {
	tbl := New("self")
	tbl.RecordOutcome("fast", 10*time.Millisecond, 5*1024*1024, true)
	tbl.RecordOutcome("slow", time.Second, 1024, true)

	best, ok := tbl.SelectBest([]string{"fast", "slow", "unknown"})
	require.True(t, ok)
	assert.Equal(t, "fast", best.Peer)
}

func TestSelectBestWithNoKnownCandidates(t *testing.T) {
	tbl := New("self")
	_, ok := tbl.SelectBest([]string{"ghost"})
	assert.False(t, ok)
}

func TestForgetRemovesPeer(t *testing.T) {
	tbl := New("self")
	tbl.RecordOutcome("peer-a", time.Millisecond, 0, true)
	tbl.Forget("peer-a")

	_, ok := tbl.Snapshot("peer-a")
	assert.False(t, ok)
}

func TestConfidenceIsLowWithNoSamples(t *testing.T) {
	m := &PeerMetrics{peer: "peer-a", firstSeen: time.Now(), lastUpdated: time.Now()}
	c := m.confidence(time.Now())
	assert.Less(t, c, 0.2)
}

func TestSelectReturnsDirectPathWhenTargetIsCandidate(t *testing.T) {
	tbl := New("self")
	tbl.RecordOutcome("bob", 20*time.Millisecond, 10*1024*1024, true)

	result := tbl.Select("bob", []string{"bob"})
	assert.Equal(t, []string{"self", "bob"}, result.Path)
	assert.Contains(t, result.Reason, "bob")
	assert.Greater(t, result.Confidence, 0.0)
}

func TestSelectPrefersBetterScoringCandidate(t *testing.T) {
	tbl := New("self")
	tbl.RecordOutcome("peer1", 50*time.Millisecond, 100*1024*1024/8, true)
	tbl.RecordOutcome("peer2", 200*time.Millisecond, 50*1024*1024/8, true)

	result := tbl.Select("target", []string{"peer1", "peer2"})
	assert.Equal(t, []string{"self", "peer1", "target"}, result.Path)
	assert.Greater(t, result.Confidence, 0.0)
	assert.Contains(t, result.Reason, "peer1")
}

func TestSelectWithEmptyCandidatesReturnsZeroConfidence(t *testing.T) {
	tbl := New("self")
	result := tbl.Select("target", nil)
	assert.Nil(t, result.Path)
	assert.Equal(t, 0.0, result.Confidence)
}

func TestNewWithWindowBoundsSuccessRateSample(t *testing.T) {
	tbl := NewWithWindow("self", 5)
	for i := 0; i < 3; i++ {
		tbl.RecordOutcome("peer-a", 10*time.Millisecond, 0, true)
	}
	for i := 0; i < 5; i++ {
		tbl.RecordOutcome("peer-a", 10*time.Millisecond, 0, false)
	}

	snap, ok := tbl.Snapshot("peer-a")
	require.True(t, ok)
	assert.Equal(t, 0.0, snap.SuccessRate, "a 5-outcome window should have aged out all 3 early successes")
}

func TestSelectUnknownPeerDefaultsToNeutralScore(t *testing.T) {
	tbl := New("self")
	score, known := tbl.specScore("ghost", time.Now())
	assert.False(t, known)
	assert.Equal(t, unknownPeerScore, score)
}
