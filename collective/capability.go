// Package collective implements the agent-mesh "collective intelligence"
// subsystems: capability tracking, the learning fabric, consensus
// voting, and task delegation. Grounded on the teacher pack's
// capability/EMA-style scoring conventions (pkg/capabilities) and on
// SWARM's trust-score EMA pattern (services/federation/sync_protocol.go's
// handleSyncSuccess) for the exponential-moving-average update shape.
package collective

import (
	"sort"
	"sync"
)

const (
	emaAlpha            = 0.1
	specialistThreshold = 0.8
	expertThreshold     = 0.95
	learningEventCap    = 100
)

// Outcome is the result of one task execution in a domain.
type Outcome string

const (
	Success Outcome = "success"
	Failure Outcome = "failure"
)

// LearningEvent is one ring-buffer entry recording a task outcome.
type LearningEvent struct {
	Domain     string
	Outcome    Outcome
	Strategy   string
	DurationMS float64
}

// DomainStats is the tracked proficiency state for one domain.
type DomainStats struct {
	SuccessRate   float64
	Count         int
	AvgDurationMS float64
	Proficiency   float64
}

// Status labels derived from proficiency.
type Status string

const (
	StatusNovice     Status = "novice"
	StatusSpecialist Status = "specialist"
	StatusExpert     Status = "expert"
)

func (s DomainStats) Status() Status {
	switch {
	case s.Proficiency >= expertThreshold:
		return StatusExpert
	case s.Proficiency >= specialistThreshold:
		return StatusSpecialist
	default:
		return StatusNovice
	}
}

// CapabilityTracker records per-domain proficiency for a single agent
// and imports peer profiles reported over the mesh.
type CapabilityTracker struct {
	mu      sync.RWMutex
	agentID string
	domains map[string]*DomainStats
	events  []LearningEvent
	peers   map[string]map[string]*DomainStats // peer agent id -> domain -> stats
}

// NewCapabilityTracker constructs a tracker for agentID.
func NewCapabilityTracker(agentID string) *CapabilityTracker {
	return &CapabilityTracker{
		agentID: agentID,
		domains: make(map[string]*DomainStats),
		peers:   make(map[string]map[string]*DomainStats),
	}
}

// RecordOutcome updates the EMA success rate (α=0.1), count, average
// duration (on success), proficiency, and appends a ring-buffer
// learning event capped at 100.
func (t *CapabilityTracker) RecordOutcome(domain string, outcome Outcome, strategy string, durationMS float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats, ok := t.domains[domain]
	if !ok {
		stats = &DomainStats{}
		t.domains[domain] = stats
	}

	success := 0.0
	if outcome == Success {
		success = 1.0
	}
	if stats.Count == 0 {
		stats.SuccessRate = success
	} else {
		stats.SuccessRate = emaAlpha*success + (1-emaAlpha)*stats.SuccessRate
	}
	stats.Count++

	if outcome == Success {
		if stats.AvgDurationMS == 0 {
			stats.AvgDurationMS = durationMS
		} else {
			stats.AvgDurationMS = emaAlpha*durationMS + (1-emaAlpha)*stats.AvgDurationMS
		}
	}

	stats.Proficiency = recomputeProficiency(stats.SuccessRate, stats.Count)

	t.events = append(t.events, LearningEvent{Domain: domain, Outcome: outcome, Strategy: strategy, DurationMS: durationMS})
	if len(t.events) > learningEventCap {
		t.events = t.events[len(t.events)-learningEventCap:]
	}
}

// recomputeProficiency combines experience (count, saturating) and
// success rate into a bounded [0,1] score.
func recomputeProficiency(successRate float64, count int) float64 {
	experience := float64(count) / float64(count+10)
	proficiency := 0.3*experience + 0.7*successRate
	if proficiency < 0 {
		return 0
	}
	if proficiency > 1 {
		return 1
	}
	return proficiency
}

// Proficiency returns the current proficiency score for a domain (0 if
// never recorded).
func (t *CapabilityTracker) Proficiency(domain string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if s, ok := t.domains[domain]; ok {
		return s.Proficiency
	}
	return 0
}

// MatchScore is the mean proficiency across required domains; 1.0 when
// the list is empty; a missing domain contributes 0.
func (t *CapabilityTracker) MatchScore(required []string) float64 {
	if len(required) == 0 {
		return 1.0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	var sum float64
	for _, d := range required {
		if s, ok := t.domains[d]; ok {
			sum += s.Proficiency
		}
	}
	return sum / float64(len(required))
}

// ImportPeerProfile records a peer's reported proficiency per domain,
// delivered via a CapabilityUpdate mesh message.
func (t *CapabilityTracker) ImportPeerProfile(peerAgentID string, domains map[string]*DomainStats) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := make(map[string]*DomainStats, len(domains))
	for k, v := range domains {
		vcp := *v
		cp[k] = &vcp
	}
	t.peers[peerAgentID] = cp
}

// Specializations lists the domains this agent has reached specialist
// or expert status in, sorted by proficiency descending.
func (t *CapabilityTracker) Specializations() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	type entry struct {
		domain string
		prof   float64
	}
	var out []entry
	for d, s := range t.domains {
		if s.Status() != StatusNovice {
			out = append(out, entry{d, s.Proficiency})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].prof > out[j].prof })
	domains := make([]string, len(out))
	for i, e := range out {
		domains[i] = e.domain
	}
	return domains
}

// CandidateScore pairs an agent id with its match score for routing.
type CandidateScore struct {
	AgentID string
	Score   float64
}

// GetBestAgent returns the agent (self or peer) with the highest
// MatchScore across required domains.
func (t *CapabilityTracker) GetBestAgent(required []string) CandidateScore {
	candidates := t.allCandidates(required)
	best := CandidateScore{AgentID: t.agentID, Score: 0}
	for _, c := range candidates {
		if c.Score > best.Score {
			best = c
		}
	}
	return best
}

// GetCapableAgents returns every agent meeting minScore, sorted by
// score descending.
func (t *CapabilityTracker) GetCapableAgents(required []string, minScore float64) []CandidateScore {
	candidates := t.allCandidates(required)
	var out []CandidateScore
	for _, c := range candidates {
		if c.Score >= minScore {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func (t *CapabilityTracker) allCandidates(required []string) []CandidateScore {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := []CandidateScore{{AgentID: t.agentID, Score: t.matchScoreLocked(required)}}
	for peerID, domains := range t.peers {
		score := 1.0
		if len(required) > 0 {
			var sum float64
			for _, d := range required {
				if s, ok := domains[d]; ok {
					sum += s.Proficiency
				}
			}
			score = sum / float64(len(required))
		}
		out = append(out, CandidateScore{AgentID: peerID, Score: score})
	}
	return out
}

func (t *CapabilityTracker) matchScoreLocked(required []string) float64 {
	if len(required) == 0 {
		return 1.0
	}
	var sum float64
	for _, d := range required {
		if s, ok := t.domains[d]; ok {
			sum += s.Proficiency
		}
	}
	return sum / float64(len(required))
}
