package collective

import (
	"testing"
	"time"

	"github.com/meshfabric/agentmesh/meshcore"
)

type fixedClock struct{ t time.Time }

func (f fixedClock) Now() time.Time { return f.t }

func TestCalculateVoteWeightNoRelevantDomains(t *testing.T) {
	if w := CalculateVoteWeight(nil, 0.2, 0); w != 1.0 {
		t.Fatalf("expected 1.0 weight with no relevant domains, got %v", w)
	}
}

func TestCalculateVoteWeightFloorsAtMinimum(t *testing.T) {
	w := CalculateVoteWeight([]string{"networking"}, 0.6, 0.0)
	if w != 0.6 {
		t.Fatalf("expected floor at min_vote_weight 0.6, got %v", w)
	}
	w = CalculateVoteWeight([]string{"networking"}, 0.1, 1.0)
	if w != 1.0 {
		t.Fatalf("expected 0.5+0.5*1.0=1.0, got %v", w)
	}
}

func TestCastVoteRejectsClosedProposal(t *testing.T) {
	c := NewCoordinator(nil)
	c.CreateProposal(Proposal{ID: "p1", ProposerID: "alice", RequiredQuorum: 0.5, RequiredApproval: 0.5, EligibleVoters: []string{"a", "b"}})
	if err := c.Cancel("p1", "alice"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := c.CastVote("p1", "a", Approve, 1.0); err != meshcore.ErrProposalClosed {
		t.Fatalf("expected ErrProposalClosed, got %v", err)
	}
}

func TestCastVoteReplacesPriorVote(t *testing.T) {
	c := NewCoordinator(nil)
	c.CreateProposal(Proposal{ID: "p1", ProposerID: "alice", RequiredQuorum: 0.5, RequiredApproval: 0.5, EligibleVoters: []string{"a", "b"}})
	if err := c.CastVote("p1", "a", Reject, 1.0); err != nil {
		t.Fatalf("cast: %v", err)
	}
	if err := c.CastVote("p1", "a", Approve, 1.0); err != nil {
		t.Fatalf("cast: %v", err)
	}
	tally, err := c.Tally("p1")
	if err != nil {
		t.Fatalf("tally: %v", err)
	}
	if tally.VoterCount != 1 || tally.WeightedApproval != 1.0 || tally.WeightedRejection != 0 {
		t.Fatalf("expected single replaced vote, got %+v", tally)
	}
}

func TestTallyEarlyApproval(t *testing.T) {
	c := NewCoordinator(nil)
	c.CreateProposal(Proposal{ID: "p1", ProposerID: "alice", RequiredQuorum: 0.5, RequiredApproval: 0.5, EligibleVoters: []string{"a", "b", "c", "d"}})
	c.CastVote("p1", "a", Approve, 1.0)
	c.CastVote("p1", "b", Approve, 1.0)
	tally, err := c.Tally("p1")
	if err != nil {
		t.Fatalf("tally: %v", err)
	}
	if tally.Status != StatusApproved {
		t.Fatalf("expected early approval at ratio 1.0, got %+v", tally)
	}
}

func TestTallyEarlyRejection(t *testing.T) {
	c := NewCoordinator(nil)
	c.CreateProposal(Proposal{ID: "p1", ProposerID: "alice", RequiredQuorum: 0.5, RequiredApproval: 0.5, EligibleVoters: []string{"a", "b"}})
	c.CastVote("p1", "a", Reject, 1.0)
	c.CastVote("p1", "b", Reject, 1.0)
	tally, err := c.Tally("p1")
	if err != nil {
		t.Fatalf("tally: %v", err)
	}
	if tally.Status != StatusRejected {
		t.Fatalf("expected early rejection at ratio 0.0, got %+v", tally)
	}
}

func TestTallyDeadlinePassedWithoutQuorumExpires(t *testing.T) {
	now := time.Now()
	c := NewCoordinator(fixedClock{now})
	c.CreateProposal(Proposal{
		ID: "p1", ProposerID: "alice", RequiredQuorum: 0.75, RequiredApproval: 0.5,
		EligibleVoters: []string{"a", "b", "c", "d"}, Deadline: now.Add(-time.Minute),
	})
	c.CastVote("p1", "a", Approve, 1.0)
	tally, err := c.Tally("p1")
	if err != nil {
		t.Fatalf("tally: %v", err)
	}
	if tally.Status != StatusExpired {
		t.Fatalf("expected expired status when quorum unmet past deadline, got %+v", tally)
	}
}

func TestTallyDeadlinePassedWithQuorumResolves(t *testing.T) {
	now := time.Now()
	c := NewCoordinator(fixedClock{now})
	c.CreateProposal(Proposal{
		ID: "p1", ProposerID: "alice", RequiredQuorum: 0.5, RequiredApproval: 0.6,
		EligibleVoters: []string{"a", "b"}, Deadline: now.Add(-time.Minute),
	})
	c.CastVote("p1", "a", Approve, 1.0)
	c.CastVote("p1", "b", Reject, 1.0)
	status, err := c.Resolve("p1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if status != StatusRejected {
		t.Fatalf("expected rejected at approval ratio 0.5 < 0.6 required, got %v", status)
	}
}

func TestCancelOnlyByProposer(t *testing.T) {
	c := NewCoordinator(nil)
	c.CreateProposal(Proposal{ID: "p1", ProposerID: "alice", EligibleVoters: []string{"a"}})
	if err := c.Cancel("p1", "mallory"); err != meshcore.ErrNotProposer {
		t.Fatalf("expected ErrNotProposer, got %v", err)
	}
	if err := c.Cancel("p1", "alice"); err != nil {
		t.Fatalf("cancel by proposer: %v", err)
	}
}
