package collective

import (
	"math"
	"sync"
	"time"

	"github.com/meshfabric/agentmesh/meshcore"
)

// ProposalStatus is the lifecycle state of a proposal.
type ProposalStatus string

const (
	StatusOpen     ProposalStatus = "open"
	StatusApproved ProposalStatus = "approved"
	StatusRejected ProposalStatus = "rejected"
	StatusExpired  ProposalStatus = "expired"
	StatusCanceled ProposalStatus = "canceled"
)

// VoteDecision is a single vote's direction.
type VoteDecision string

const (
	Approve VoteDecision = "approve"
	Reject  VoteDecision = "reject"
	Abstain VoteDecision = "abstain"
)

// Proposal is a unit of mesh-wide agreement.
type Proposal struct {
	ID               string
	ProposerID       string
	RequiredDomains  []string
	RequiredQuorum   float64
	RequiredApproval float64
	MinVoteWeight    float64
	Deadline         time.Time
	EligibleVoters   []string
	Status           ProposalStatus
}

// Vote is one voter's recorded decision.
type Vote struct {
	ProposalID string
	VoterID    string
	Decision   VoteDecision
	Weight     float64
	CastAt     time.Time
}

// Tally summarizes the current vote counts for a proposal.
type Tally struct {
	WeightedApproval  float64
	WeightedRejection float64
	WeightedAbstain   float64
	VoterCount        int
	QuorumReached     bool
	ApprovalRatio     float64
	Status            ProposalStatus
}

// Coordinator implements the weighted-quorum consensus voting engine.
type Coordinator struct {
	mu        sync.Mutex
	proposals map[string]*Proposal
	votes     map[string]map[string]*Vote // proposal id -> voter id -> vote
	clock     meshcore.Clock
}

// NewCoordinator constructs a Coordinator. clock defaults to
// meshcore.SystemClock when nil (tests may inject a fixed clock).
func NewCoordinator(clock meshcore.Clock) *Coordinator {
	if clock == nil {
		clock = meshcore.SystemClock{}
	}
	return &Coordinator{
		proposals: make(map[string]*Proposal),
		votes:     make(map[string]map[string]*Vote),
		clock:     clock,
	}
}

// CreateProposal registers p, open for voting until its deadline.
func (c *Coordinator) CreateProposal(p Proposal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p.Status = StatusOpen
	c.proposals[p.ID] = &p
	c.votes[p.ID] = make(map[string]*Vote)
}

// CalculateVoteWeight derives a voter's weight from domain-match
// strength: 1.0 when a proposal has no relevant domains, otherwise
// max(min_vote_weight, 0.5 + 0.5·match_score).
func CalculateVoteWeight(requiredDomains []string, minVoteWeight float64, matchScore float64) float64 {
	if len(requiredDomains) == 0 {
		return 1.0
	}
	weight := 0.5 + 0.5*matchScore
	if weight < minVoteWeight {
		return minVoteWeight
	}
	return weight
}

// CastVote records a voter's decision with the given weight, replacing
// any prior vote from the same voter. Rejects votes on a non-open
// proposal.
func (c *Coordinator) CastVote(proposalID, voterID string, decision VoteDecision, weight float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.proposals[proposalID]
	if !ok {
		return meshcore.ErrProposalNotFound
	}
	if p.Status != StatusOpen {
		return meshcore.ErrProposalClosed
	}

	c.votes[proposalID][voterID] = &Vote{
		ProposalID: proposalID, VoterID: voterID, Decision: decision,
		Weight: weight, CastAt: c.clock.Now(),
	}
	return nil
}

// Tally computes the current weighted tally and resulting status.
// Before the deadline it resolves early once quorum is reached and the
// approval ratio is lopsided (≥ 0.9 approves, ≤ 0.1 rejects), even if
// the voters still outstanding could change the ratio.
func (c *Coordinator) Tally(proposalID string) (Tally, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tallyLocked(proposalID)
}

func (c *Coordinator) tallyLocked(proposalID string) (Tally, error) {
	p, ok := c.proposals[proposalID]
	if !ok {
		return Tally{}, meshcore.ErrProposalNotFound
	}

	var approval, rejection, abstain float64
	for _, v := range c.votes[proposalID] {
		switch v.Decision {
		case Approve:
			approval += v.Weight
		case Reject:
			rejection += v.Weight
		case Abstain:
			abstain += v.Weight
		}
	}

	voterCount := len(c.votes[proposalID])
	eligible := len(p.EligibleVoters)
	if eligible < 1 {
		eligible = 1
	}
	quorumRatio := float64(voterCount) / float64(eligible)
	quorumReached := quorumRatio >= p.RequiredQuorum

	var approvalRatio float64
	if denom := approval + rejection; denom > 0 {
		approvalRatio = approval / denom
	}

	status := p.Status
	if status == StatusOpen {
		deadlinePassed := !p.Deadline.IsZero() && c.clock.Now().After(p.Deadline)
		switch {
		case deadlinePassed:
			if quorumReached {
				if approvalRatio >= p.RequiredApproval {
					status = StatusApproved
				} else {
					status = StatusRejected
				}
			} else {
				status = StatusExpired
			}
		case quorumReached && approvalRatio >= 0.9:
			status = StatusApproved
		case quorumReached && approvalRatio <= 0.1:
			status = StatusRejected
		default:
			status = StatusOpen
		}
	}

	return Tally{
		WeightedApproval:  approval,
		WeightedRejection: rejection,
		WeightedAbstain:   abstain,
		VoterCount:        voterCount,
		QuorumReached:     quorumReached,
		ApprovalRatio:     approvalRatio,
		Status:            status,
	}, nil
}

// Resolve computes and persists the proposal's final status.
func (c *Coordinator) Resolve(proposalID string) (ProposalStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tally, err := c.tallyLocked(proposalID)
	if err != nil {
		return "", err
	}
	c.proposals[proposalID].Status = tally.Status
	return tally.Status, nil
}

// Cancel marks an Open proposal Canceled; only the original proposer
// may do so.
func (c *Coordinator) Cancel(proposalID, requesterID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.proposals[proposalID]
	if !ok {
		return meshcore.ErrProposalNotFound
	}
	if p.ProposerID != requesterID {
		return meshcore.ErrNotProposer
	}
	if p.Status != StatusOpen {
		return meshcore.ErrProposalClosed
	}
	p.Status = StatusCanceled
	return nil
}

// requiredVoters returns ⌈quorum·N⌉, the minimum distinct voter count
// that satisfies quorum for N eligible voters.
func requiredVoters(quorum float64, eligible int) int {
	return int(math.Ceil(quorum * float64(eligible)))
}
