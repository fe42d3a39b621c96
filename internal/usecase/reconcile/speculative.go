package reconcile

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"lending-ledger/internal/domain/loan"
	"lending-ledger/pkg/amount"
	"lending-ledger/pkg/id"
)

// Action is a user-initiated ledger operation.
type Action string

const (
	ActionRequest Action = "request"
	ActionFund    Action = "fund"
	ActionRepay   Action = "repay"
)

// Target is the confirmed state that resolves a proposal of this action.
func (a Action) Target() loan.State {
	switch a {
	case ActionRequest:
		return loan.StateRequested
	case ActionFund:
		return loan.StateFunded
	case ActionRepay:
		return loan.StateRepaid
	}
	return ""
}

type ProposalStatus string

const (
	ProposalPending    ProposalStatus = "pending"
	ProposalConfirmed  ProposalStatus = "confirmed"
	// ProposalSuperseded means the loan moved past the action, but through
	// someone else's confirmed action.
	ProposalSuperseded ProposalStatus = "superseded"
	ProposalExpired    ProposalStatus = "expired"
)

// Proposal is a submitted action the ledger has not confirmed yet. It is never
// part of confirmed state.
type Proposal struct {
	ID              string         `json:"id"`
	Action          Action         `json:"action"`
	LoanID          loan.ID        `json:"loan_id"`
	Participant     common.Address `json:"participant"`
	Amount          amount.Amount  `json:"amount"`
	Interest        amount.Amount  `json:"interest"`
	Status          ProposalStatus `json:"status"`
	Error           string         `json:"error,omitempty"`
	SubmittedAt     time.Time      `json:"submitted_at"`
	ResolvedAt      time.Time      `json:"resolved_at,omitempty"`
	DurationSeconds uint64         `json:"duration_seconds,omitempty"`
}

// Speculative holds proposals. Only the Run goroutine writes; readers get copies.
type Speculative struct {
	mu   sync.RWMutex
	ttl  time.Duration
	byID map[string]*Proposal
}

func newSpeculative(ttl time.Duration) *Speculative {
	return &Speculative{ttl: ttl, byID: make(map[string]*Proposal)}
}

func (e *Engine) addProposal(p Proposal) Proposal {
	if p.ID == "" {
		p.ID = id.New(id.PrefixProposal)
	}
	now := e.now()
	p.SubmittedAt, p.Status = now, ProposalPending
	p.ResolvedAt, p.Error = time.Time{}, ""
	// the confirmation may already have arrived
	if rec, err := e.store.Get(p.LoanID); err == nil {
		p.settle(rec, now)
	}
	e.spec.put(p)
	return p
}

// settle resolves a pending proposal against a confirmed record. The loan
// reaching the action's target only confirms the proposal when the record
// shows the proposer as the one who acted.
func (p *Proposal) settle(rec loan.Record, now time.Time) {
	if p.Status != ProposalPending || rec.ID != p.LoanID || rec.State.Before(p.Action.Target()) {
		return
	}
	var actor common.Address
	switch p.Action {
	case ActionRequest, ActionRepay:
		actor = rec.Borrower
	case ActionFund:
		actor = rec.Lender
	}
	p.ResolvedAt = now
	if actor == p.Participant {
		p.Status = ProposalConfirmed
		return
	}
	p.Status = ProposalSuperseded
	p.Error = fmt.Errorf("%w: loan %s reached %s through %s", loan.ErrInvalidTransition, rec.ID, rec.State, actor.Hex()).Error()
}

func (s *Speculative) put(p Proposal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := p
	s.byID[p.ID] = &cp
}

// resolve settles pending proposals for rec's loan.
func (s *Speculative) resolve(rec loan.Record, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.byID {
		p.settle(rec, now)
	}
}

// expire marks stale pending proposals expired and forgets resolved ones
// after another ttl.
func (s *Speculative) expire(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, p := range s.byID {
		switch {
		case p.Status == ProposalPending && now.Sub(p.SubmittedAt) > s.ttl:
			p.Status, p.ResolvedAt = ProposalExpired, now
		case p.Status != ProposalPending && now.Sub(p.ResolvedAt) > s.ttl:
			delete(s.byID, k)
		}
	}
}

func (s *Speculative) Get(pid string) (Proposal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byID[pid]
	if !ok {
		return Proposal{}, false
	}
	return *p, true
}

// PendingFor lists unresolved proposals for a loan, oldest first.
func (s *Speculative) PendingFor(lid loan.ID) []Proposal {
	return s.filter(func(p *Proposal) bool { return p.Status == ProposalPending && p.LoanID == lid })
}

// PendingBy lists unresolved proposals submitted by a participant, oldest first.
func (s *Speculative) PendingBy(who common.Address) []Proposal {
	return s.filter(func(p *Proposal) bool { return p.Status == ProposalPending && p.Participant == who })
}

func (s *Speculative) filter(keep func(*Proposal) bool) []Proposal {
	s.mu.RLock()
	out := make([]Proposal, 0)
	for _, p := range s.byID {
		if keep(p) {
			out = append(out, *p)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out
}

// PendingFor lists unresolved proposals for a loan.
func (e *Engine) PendingFor(lid loan.ID) []Proposal { return e.spec.PendingFor(lid) }

// PendingBy lists unresolved proposals a participant submitted.
func (e *Engine) PendingBy(who common.Address) []Proposal { return e.spec.PendingBy(who) }

// Proposal looks up a proposal by id, resolved or not.
func (e *Engine) Proposal(pid string) (Proposal, bool) { return e.spec.Get(pid) }
