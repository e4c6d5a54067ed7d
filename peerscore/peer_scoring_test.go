package peerscore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlagDivergent(t *testing.T) {
	psm := NewPeerScoringManager(nil)

	psm.UpdatePeerScore("good", EventValidBlock, nil)
	psm.FlagDivergent("bad", "forks below lib 110")

	assert.True(t, psm.IsDivergent("bad"))
	assert.False(t, psm.IsDivergent("good"))
	assert.False(t, psm.IsDivergent("unknown"))
	assert.Equal(t, []string{"bad"}, psm.Divergent())

	stats := psm.GetPeerStats("bad")
	require.NotNil(t, stats)
	assert.Equal(t, "forks below lib 110", stats.DivergentReason)
	assert.Less(t, stats.Score, 0.0)

	psm.ClearDivergent("bad")
	assert.Empty(t, psm.Divergent())
}

func TestRankPeers(t *testing.T) {
	psm := NewPeerScoringManager(nil)

	psm.UpdatePeerScore("fast", EventRepairServed, nil)
	psm.UpdatePeerScore("fast", EventResponseTime, 100*time.Millisecond)
	psm.UpdatePeerScore("flaky", EventRepairFailed, nil)
	psm.UpdatePeerScore("liar", EventInvalidBlock, nil)
	psm.FlagDivergent("forked", "conflict")

	ranked := psm.RankPeers([]string{"new", "flaky", "forked", "liar", "fast"})
	assert.Equal(t, []string{"fast", "new", "flaky"}, ranked)
}

func TestUpdatePeerScore_IgnoresEmptyPeer(t *testing.T) {
	psm := NewPeerScoringManager(nil)
	psm.UpdatePeerScore("", EventValidBlock, nil)
	assert.Nil(t, psm.GetPeerStats(""))
}

func TestDecayScores(t *testing.T) {
	cfg := DefaultPeerScoringConfig()
	cfg.ScoreDecayRate = 0.5
	psm := NewPeerScoringManager(cfg)

	psm.UpdatePeerScore("p", EventScoreDeltaOnly, 10.0)
	psm.decayScores()
	assert.InDelta(t, 5.0, psm.GetPeerScore("p"), 1e-9)
}
