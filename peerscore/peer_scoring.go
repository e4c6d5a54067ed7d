package peerscore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mezonai/chainfork/logx"
	"github.com/mezonai/chainfork/monitoring"
)

type EventType string

const (
	EventValidBlock     EventType = "valid_block"
	EventInvalidBlock   EventType = "invalid_block"
	EventRepairServed   EventType = "repair_served"
	EventRepairFailed   EventType = "repair_failed"
	EventDivergent      EventType = "divergent_branch"
	EventResponseTime   EventType = "response_time"
	EventScoreDeltaOnly EventType = "score_delta"
)

type PeerScore struct {
	PeerID           string
	Score            float64
	ValidBlocks      int
	InvalidBlocks    int
	RepairsServed    int
	RepairFailures   int
	Divergent        bool
	DivergentReason  string
	ResponseTime     time.Duration
	LastUpdated      time.Time
	LastSeen         time.Time
	DivergentFlagged time.Time
}

type PeerScoringConfig struct {
	ValidBlockBonus     float64
	InvalidBlockPenalty float64
	RepairServedBonus   float64
	RepairFailedPenalty float64
	DivergentPenalty    float64
	ResponseTimeBonus   float64
	ScoreDecayRate      float64
	BanThreshold        float64
	ScoreUpdateInterval time.Duration
}

func DefaultPeerScoringConfig() *PeerScoringConfig {
	return &PeerScoringConfig{
		ValidBlockBonus:     0.5,
		InvalidBlockPenalty: -80.0,
		RepairServedBonus:   1.0,
		RepairFailedPenalty: -2.0,
		DivergentPenalty:    -100.0,
		ResponseTimeBonus:   0.2,
		// ~24h half-life per minute tick
		ScoreDecayRate:      0.9995,
		BanThreshold:        -20.0,
		ScoreUpdateInterval: time.Minute,
	}
}

// PeerScoringManager keeps a reputation per peer. Peers that serve branches
// forking below the irreversible block are flagged divergent and skipped for
// repair requests.
type PeerScoringManager struct {
	scores map[string]*PeerScore
	config *PeerScoringConfig
	mu     sync.RWMutex
}

func NewPeerScoringManager(config *PeerScoringConfig) *PeerScoringManager {
	if config == nil {
		config = DefaultPeerScoringConfig()
	}
	return &PeerScoringManager{
		scores: make(map[string]*PeerScore),
		config: config,
	}
}

func (psm *PeerScoringManager) getOrCreate(peerID string) *PeerScore {
	score, exists := psm.scores[peerID]
	if !exists {
		now := time.Now()
		score = &PeerScore{PeerID: peerID, LastUpdated: now, LastSeen: now}
		psm.scores[peerID] = score
	}
	return score
}

func (psm *PeerScoringManager) GetPeerScore(peerID string) float64 {
	psm.mu.RLock()
	defer psm.mu.RUnlock()
	if score, exists := psm.scores[peerID]; exists {
		return score.Score
	}
	return 0.0
}

func (psm *PeerScoringManager) UpdatePeerScore(peerID string, eventType EventType, value interface{}) {
	if peerID == "" {
		return
	}
	psm.mu.Lock()
	defer psm.mu.Unlock()

	score := psm.getOrCreate(peerID)
	switch eventType {
	case EventValidBlock:
		score.Score += psm.config.ValidBlockBonus
		score.ValidBlocks++
	case EventInvalidBlock:
		score.Score += psm.config.InvalidBlockPenalty
		score.InvalidBlocks++
	case EventRepairServed:
		score.Score += psm.config.RepairServedBonus
		score.RepairsServed++
	case EventRepairFailed:
		score.Score += psm.config.RepairFailedPenalty
		score.RepairFailures++
	case EventDivergent:
		score.Score += psm.config.DivergentPenalty
		if !score.Divergent {
			score.Divergent = true
			score.DivergentFlagged = time.Now()
		}
		if reason, ok := value.(string); ok {
			score.DivergentReason = reason
		}
	case EventResponseTime:
		if responseTime, ok := value.(time.Duration); ok {
			score.ResponseTime = responseTime
			if responseTime < 500*time.Millisecond {
				score.Score += psm.config.ResponseTimeBonus
			} else if responseTime > 2*time.Second {
				score.Score -= 0.5
			}
		}
	case EventScoreDeltaOnly:
		if delta, ok := value.(float64); ok {
			score.Score += delta
		}
	}

	score.LastUpdated = time.Now()
	score.LastSeen = score.LastUpdated

	logx.Debug("PEER_SCORING", "Updated score for peer ", peerID, " score: ", fmt.Sprintf("%.2f", score.Score), " event: ", eventType)
}

// FlagDivergent marks peerID as a provider of a branch that conflicts with
// the irreversible chain.
func (psm *PeerScoringManager) FlagDivergent(peerID, reason string) {
	psm.UpdatePeerScore(peerID, EventDivergent, reason)
	logx.Warn("PEER_SCORING", fmt.Sprintf("Peer %s flagged divergent: %s", peerID, reason))
	monitoring.SetDivergentPeers(len(psm.Divergent()))
}

func (psm *PeerScoringManager) IsDivergent(peerID string) bool {
	psm.mu.RLock()
	defer psm.mu.RUnlock()
	score, ok := psm.scores[peerID]
	return ok && score.Divergent
}

// Divergent returns flagged peers, sorted.
func (psm *PeerScoringManager) Divergent() []string {
	psm.mu.RLock()
	defer psm.mu.RUnlock()
	var out []string
	for id, score := range psm.scores {
		if score.Divergent {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// ClearDivergent lifts the flag, e.g. after an operator resynced the peer.
func (psm *PeerScoringManager) ClearDivergent(peerID string) {
	psm.mu.Lock()
	if score, ok := psm.scores[peerID]; ok {
		score.Divergent = false
		score.DivergentReason = ""
	}
	psm.mu.Unlock()
	monitoring.SetDivergentPeers(len(psm.Divergent()))
}

// RankPeers orders candidates by descending score, dropping divergent and
// banned peers. Ties keep the candidate order.
func (psm *PeerScoringManager) RankPeers(candidates []string) []string {
	psm.mu.RLock()
	defer psm.mu.RUnlock()

	out := make([]string, 0, len(candidates))
	for _, id := range candidates {
		if score, ok := psm.scores[id]; ok && (score.Divergent || score.Score <= psm.config.BanThreshold) {
			continue
		}
		out = append(out, id)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return psm.scoreOf(out[i]) > psm.scoreOf(out[j])
	})
	return out
}

func (psm *PeerScoringManager) scoreOf(id string) float64 {
	if score, ok := psm.scores[id]; ok {
		return score.Score
	}
	return 0
}

func (psm *PeerScoringManager) GetPeerStats(peerID string) *PeerScore {
	psm.mu.RLock()
	defer psm.mu.RUnlock()
	if score, exists := psm.scores[peerID]; exists {
		cp := *score
		return &cp
	}
	return nil
}

// Run decays scores every ScoreUpdateInterval until ctx is done.
func (psm *PeerScoringManager) Run(ctx context.Context) {
	ticker := time.NewTicker(psm.config.ScoreUpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			psm.decayScores()
			psm.cleanupOldScores()
		}
	}
}

func (psm *PeerScoringManager) decayScores() {
	psm.mu.Lock()
	defer psm.mu.Unlock()

	for _, score := range psm.scores {
		score.Score *= psm.config.ScoreDecayRate
		if time.Since(score.LastSeen) > 24*time.Hour {
			score.Score *= 0.9
		}
	}
}

func (psm *PeerScoringManager) cleanupOldScores() {
	psm.mu.Lock()
	defer psm.mu.Unlock()

	cutoff := time.Now().Add(-7 * 24 * time.Hour)
	for peerID, score := range psm.scores {
		if score.LastSeen.Before(cutoff) && score.Score < 10 && !score.Divergent {
			delete(psm.scores, peerID)
			logx.Info("PEER_SCORING", "Cleaned up old peer score: "+peerID)
		}
	}
}
