package loan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"lending-ledger/internal/domain/ledger"
	"lending-ledger/internal/domain/loan"
	"lending-ledger/internal/domain/reputation"
	"lending-ledger/internal/usecase/reconcile"
	"lending-ledger/pkg/amount"
)

var (
	ErrInvalidParticipant = errors.New("invalid participant address")
	ErrProposalNotFound   = errors.New("proposal not found")
)

// Reconciler is the part of the reconciliation engine the usecase needs.
type Reconciler interface {
	Propose(ctx context.Context, p reconcile.Proposal) (reconcile.Proposal, error)
	Inspect(ctx context.Context, ids ...loan.ID) (map[loan.ID]reconcile.LoanStatus, error)
	PendingFor(id loan.ID) []reconcile.Proposal
	PendingBy(who common.Address) []reconcile.Proposal
	Proposal(pid string) (reconcile.Proposal, bool)
	CheckReputation(ctx context.Context, p common.Address) (reconcile.ReputationCheck, error)
}

// ReputationMirror caches the ledger's reputation counters.
type ReputationMirror interface {
	Get(ctx context.Context, p common.Address) (uint64, bool, error)
	Set(ctx context.Context, p common.Address, score uint64, ttl time.Duration) error
}

type Deps struct {
	Client     ledger.Client
	Store      loan.Store
	Reputation reputation.Ledger
	Reconciler Reconciler
	Mirror     ReputationMirror // optional
	MirrorTTL  time.Duration
	Logger     *slog.Logger
}

// Usecase submits user actions to the ledger and serves read-only views of
// confirmed state. It never mutates the store.
type Usecase struct {
	client ledger.Client
	store  loan.Store
	rep    reputation.Ledger
	recon  Reconciler
	mirror ReputationMirror
	ttl    time.Duration
	log    *slog.Logger
}

func NewUsecase(d Deps) *Usecase {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := d.MirrorTTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Usecase{
		client: d.Client,
		store:  d.Store,
		rep:    d.Reputation,
		recon:  d.Reconciler,
		mirror: d.Mirror,
		ttl:    ttl,
		log:    logger.With(slog.String("component", "loan_usecase")),
	}
}

// ParseParticipant accepts a 0x-prefixed hex address.
func ParseParticipant(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidParticipant, s)
	}
	a := common.HexToAddress(s)
	if a == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: zero address", ErrInvalidParticipant)
	}
	return a, nil
}

func (u *Usecase) RequestLoan(ctx context.Context, from common.Address, in RequestLoanInput) (*ActionResult, error) {
	principal, err := amount.FromEther(in.Principal)
	if err != nil {
		return nil, fmt.Errorf("%w: principal: %v", loan.ErrInvalidLoanTerms, err)
	}
	interest, err := amount.FromEther(in.Interest)
	if err != nil {
		return nil, fmt.Errorf("%w: interest: %v", loan.ErrInvalidLoanTerms, err)
	}
	if err := loan.ValidateTerms(principal, interest, in.DurationSeconds); err != nil {
		return nil, err
	}

	id, err := u.client.SubmitRequest(ctx, from, principal, interest, in.DurationSeconds)
	if err != nil {
		return nil, fmt.Errorf("submit request: %w", err)
	}
	u.log.Info("loan request submitted", slog.String("loan_id", id.String()), slog.String("borrower", from.Hex()))

	return u.propose(ctx, reconcile.Proposal{
		Action:          reconcile.ActionRequest,
		LoanID:          id,
		Participant:     from,
		Amount:          principal,
		Interest:        interest,
		DurationSeconds: in.DurationSeconds,
	}, from)
}

func (u *Usecase) FundLoan(ctx context.Context, from common.Address, id loan.ID, in AmountInput) (*ActionResult, error) {
	amt, err := amount.FromEther(in.Amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", loan.ErrAmountMismatch, err)
	}
	rec, err := u.actionable(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.State != loan.StateRequested {
		return nil, fmt.Errorf("%w: loan %s is %s", loan.ErrInvalidTransition, id, rec.State)
	}
	if err := loan.ValidateFunding(rec, from, amt); err != nil {
		return nil, err
	}

	if err := u.client.SubmitFunding(ctx, from, id, amt); err != nil {
		return nil, fmt.Errorf("submit funding: %w", err)
	}
	u.log.Info("loan funding submitted", slog.String("loan_id", id.String()), slog.String("lender", from.Hex()))

	return u.propose(ctx, reconcile.Proposal{Action: reconcile.ActionFund, LoanID: id, Participant: from, Amount: amt}, from)
}

func (u *Usecase) RepayLoan(ctx context.Context, from common.Address, id loan.ID, in AmountInput) (*ActionResult, error) {
	amt, err := amount.FromEther(in.Amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", loan.ErrAmountMismatch, err)
	}
	rec, err := u.actionable(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.State != loan.StateFunded {
		return nil, fmt.Errorf("%w: loan %s is %s", loan.ErrInvalidTransition, id, rec.State)
	}
	if from != rec.Borrower {
		return nil, loan.ErrNotBorrower
	}
	if err := loan.ValidateRepayment(rec, amt); err != nil {
		return nil, err
	}

	if err := u.client.SubmitRepayment(ctx, from, id, amt); err != nil {
		return nil, fmt.Errorf("submit repayment: %w", err)
	}
	u.log.Info("loan repayment submitted", slog.String("loan_id", id.String()), slog.String("borrower", from.Hex()))

	return u.propose(ctx, reconcile.Proposal{Action: reconcile.ActionRepay, LoanID: id, Participant: from, Amount: amt}, from)
}

// actionable returns a confirmed loan that is not quarantined.
func (u *Usecase) actionable(ctx context.Context, id loan.ID) (loan.Record, error) {
	rec, err := u.store.Get(id)
	if err != nil {
		return loan.Record{}, err
	}
	st, err := u.status(ctx, id)
	if err != nil {
		return loan.Record{}, err
	}
	if st[id].Quarantined {
		return loan.Record{}, fmt.Errorf("%w: %s", loan.ErrQuarantined, st[id].QuarantineReason)
	}
	return rec, nil
}

func (u *Usecase) propose(ctx context.Context, p reconcile.Proposal, viewer common.Address) (*ActionResult, error) {
	got, err := u.recon.Propose(ctx, p)
	if err != nil {
		// the ledger already accepted the submission; only tracking failed
		u.log.Warn("proposal not tracked", slog.String("loan_id", p.LoanID.String()), slog.Any("error", err))
		got = p
		got.Status = reconcile.ProposalPending
	}
	res := &ActionResult{Proposal: got}
	if view, err := u.GetLoan(ctx, viewer, p.LoanID); err == nil {
		res.Loan = view
	}
	return res, nil
}

func (u *Usecase) GetLoan(ctx context.Context, viewer common.Address, id loan.ID) (*LoanDTO, error) {
	rec, err := u.store.Get(id)
	if err != nil {
		return nil, err
	}
	st, err := u.status(ctx, id)
	if err != nil {
		return nil, err
	}
	dto := u.view(rec, viewer, st[id])
	return &dto, nil
}

func (u *Usecase) ListLoans(ctx context.Context, viewer common.Address, f Filter) ([]LoanDTO, error) {
	seq := u.store.ListAll()
	if f.Participant != "" {
		p, err := ParseParticipant(f.Participant)
		if err != nil {
			return nil, err
		}
		seq = u.store.ListByParticipant(p)
	}
	if f.State != "" && !f.State.Valid() {
		return nil, fmt.Errorf("%w: unknown state %q", loan.ErrInvalidTransition, f.State)
	}

	var recs []loan.Record
	var ids []loan.ID
	for r := range seq {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if f.State != "" && r.State != f.State {
			continue
		}
		recs = append(recs, r)
		ids = append(ids, r.ID)
	}
	st, err := u.status(ctx, ids...)
	if err != nil {
		return nil, err
	}
	out := make([]LoanDTO, 0, len(recs))
	for _, r := range recs {
		out = append(out, u.view(r, viewer, st[r.ID]))
	}
	return out, nil
}

// status asks the reconciler about quarantine and buffering. A stopped
// reconciler only costs the view those flags.
func (u *Usecase) status(ctx context.Context, ids ...loan.ID) (map[loan.ID]reconcile.LoanStatus, error) {
	if len(ids) == 0 {
		return map[loan.ID]reconcile.LoanStatus{}, nil
	}
	st, err := u.recon.Inspect(ctx, ids...)
	if errors.Is(err, reconcile.ErrNotRunning) {
		return map[loan.ID]reconcile.LoanStatus{}, nil
	}
	return st, err
}

func (u *Usecase) view(r loan.Record, viewer common.Address, st reconcile.LoanStatus) LoanDTO {
	dto := LoanDTO{
		LoanID:          r.ID.String(),
		Borrower:        r.Borrower.Hex(),
		Principal:       toAmountDTO(r.Principal),
		Interest:        toAmountDTO(r.Interest),
		AmountDue:       toAmountDTO(r.AmountDue()),
		DurationSeconds: r.DurationSeconds,
		State:           string(r.State),
		RequestedAt:     r.RequestedAt,
		FundedAt:        timePtr(r.FundedAt),
		RepaidAt:        timePtr(r.RepaidAt),
		DueAt:           timePtr(r.DueAt()),
		Quarantined:     st.Quarantined,
		PendingEvents:   st.PendingEvents,
		Pending:         u.recon.PendingFor(r.ID),
	}
	if r.HasLender() {
		dto.Lender = r.Lender.Hex()
	}
	if viewer != (common.Address{}) && !st.Quarantined {
		dto.CanFund = r.State == loan.StateRequested && viewer != r.Borrower
		dto.CanRepay = r.State == loan.StateFunded && viewer == r.Borrower
	}
	return dto
}

// GetReputation returns the local score, cross-checked against the ledger's
// counter when it can be read. The local score is authoritative.
func (u *Usecase) GetReputation(ctx context.Context, p common.Address) (*ReputationDTO, error) {
	out := &ReputationDTO{Participant: p.Hex(), Score: u.rep.Score(p)}

	if u.mirror != nil {
		ext, ok, err := u.mirror.Get(ctx, p)
		if err != nil {
			u.log.Warn("reputation mirror read failed", slog.Any("error", err))
		}
		if ok {
			out.LedgerScore = &ext
			out.Drift = ext != out.Score
			return out, nil
		}
	}

	c, err := u.recon.CheckReputation(ctx, p)
	if err != nil {
		u.log.Warn("ledger reputation unavailable", slog.String("participant", p.Hex()), slog.Any("error", err))
		return out, nil
	}
	out.LedgerScore = &c.Ledger
	out.Drift = c.Drift
	if u.mirror != nil {
		if err := u.mirror.Set(ctx, p, c.Ledger, u.ttl); err != nil {
			u.log.Warn("reputation mirror write failed", slog.Any("error", err))
		}
	}
	return out, nil
}

// ListProposals returns a participant's unconfirmed submissions. A request
// shows up here before its loan exists.
func (u *Usecase) ListProposals(participant string) ([]reconcile.Proposal, error) {
	p, err := ParseParticipant(participant)
	if err != nil {
		return nil, err
	}
	return u.recon.PendingBy(p), nil
}

func (u *Usecase) GetProposal(pid string) (reconcile.Proposal, error) {
	p, ok := u.recon.Proposal(pid)
	if !ok {
		return reconcile.Proposal{}, fmt.Errorf("%w: %s", ErrProposalNotFound, pid)
	}
	return p, nil
}
