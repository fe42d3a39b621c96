package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"lending-ledger/internal/domain/ledger"
	"lending-ledger/internal/domain/loan"
	"lending-ledger/internal/domain/reputation"
)

var (
	ErrAlreadyRunning = errors.New("reconcile: engine already running")
	ErrNotRunning     = errors.New("reconcile: engine not running")
)

type Config struct {
	QueueSize          int
	PollInterval       time.Duration
	PollConcurrency    int
	RetryInterval      time.Duration
	PendingBackoff     time.Duration
	PendingMaxAttempts int
	// RefreshOnBuffer fetches a single loan from the ledger whenever one of
	// its events has to wait for a prerequisite.
	RefreshOnBuffer   bool
	SpeculativeTTL    time.Duration
	DiagnosticsBuffer int
	RecentDiagnostics int
	ParkedPerLoan     int
	JournalTimeout    time.Duration
}

func DefaultConfig() Config {
	return Config{
		QueueSize:          1024,
		PollInterval:       30 * time.Second,
		PollConcurrency:    8,
		RetryInterval:      time.Second,
		PendingBackoff:     2 * time.Second,
		PendingMaxAttempts: 6,
		RefreshOnBuffer:    true,
		SpeculativeTTL:     10 * time.Minute,
		DiagnosticsBuffer:  256,
		RecentDiagnostics:  200,
		ParkedPerLoan:      32,
		JournalTimeout:     5 * time.Second,
	}
}

// Deps are the collaborators an Engine owns for its lifetime.
type Deps struct {
	Client     ledger.Client
	Store      loan.Store
	Reputation reputation.Ledger
	Journal    Journal // optional
	Metrics    Metrics // optional
	Logger     *slog.Logger
}

// Engine is the single writer of the loan store and the reputation ledger.
// Everything that mutates them runs on the Run goroutine, fed by the ledger
// subscription, the poll timer and the op queue.
type Engine struct {
	cfg     Config
	client  ledger.Client
	store   loan.Store
	rep     reputation.Ledger
	journal Journal
	metrics Metrics
	log     *slog.Logger
	now     func() time.Time

	ops     chan op
	running atomic.Bool
	polling atomic.Bool
	stopped atomic.Pointer[chan struct{}] // closed when the current Run returns
	runCtx  context.Context

	// owned by the Run goroutine
	pending     map[loan.ID][]*pendingEvent
	quarantined map[loan.ID]quarantine
	insertSeq   map[loan.ID]uint64
	seq         atomic.Uint64

	spec  *Speculative
	diags *diagnostics
}

type op struct {
	fn   func()
	done chan struct{}
}

func New(cfg Config, deps Deps) *Engine {
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.PollConcurrency <= 0 {
		cfg.PollConcurrency = def.PollConcurrency
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}
	if cfg.PendingBackoff <= 0 {
		cfg.PendingBackoff = def.PendingBackoff
	}
	if cfg.PendingMaxAttempts <= 0 {
		cfg.PendingMaxAttempts = def.PendingMaxAttempts
	}
	if cfg.SpeculativeTTL <= 0 {
		cfg.SpeculativeTTL = def.SpeculativeTTL
	}
	if cfg.ParkedPerLoan <= 0 {
		cfg.ParkedPerLoan = def.ParkedPerLoan
	}
	if cfg.JournalTimeout <= 0 {
		cfg.JournalTimeout = def.JournalTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}
	e := &Engine{
		cfg:         cfg,
		client:      deps.Client,
		store:       deps.Store,
		rep:         deps.Reputation,
		journal:     deps.Journal,
		metrics:     metrics,
		log:         logger.With(slog.String("component", "reconciler")),
		now:         func() time.Time { return time.Now().UTC() },
		ops:         make(chan op, cfg.QueueSize),
		pending:     make(map[loan.ID][]*pendingEvent),
		quarantined: make(map[loan.ID]quarantine),
		insertSeq:   make(map[loan.ID]uint64),
		spec:        newSpeculative(cfg.SpeculativeTTL),
	}
	e.diags = newDiagnostics(cfg.DiagnosticsBuffer, cfg.RecentDiagnostics)
	return e
}

// SetNowFunc overrides the wall clock. Call before Run.
func (e *Engine) SetNowFunc(now func() time.Time) { e.now = now }

// Restore seeds the store and reputation ledger from the journal. Call before Run.
func (e *Engine) Restore(ctx context.Context) (int, error) {
	if e.journal == nil {
		return 0, nil
	}
	if e.running.Load() {
		return 0, ErrAlreadyRunning
	}
	loans, scores, err := e.journal.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load journal: %w", err)
	}
	n := 0
	for _, r := range loans {
		if err := e.store.Insert(r); err != nil {
			e.log.Warn("skip journaled loan", slog.String("loan_id", r.ID.String()), slog.Any("error", err))
			continue
		}
		n++
	}
	for _, s := range scores {
		e.rep.Restore(s)
	}
	e.log.Info("journal restored", slog.Int("loans", n), slog.Int("participants", len(scores)))
	return n, nil
}

// Run owns the store until ctx ends. It returns nil on cancellation.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer e.running.Store(false)
	stop := make(chan struct{})
	e.stopped.Store(&stop)
	defer close(stop)
	e.runCtx = ctx

	sub, err := e.client.Subscribe(ctx, loan.KindRequested, loan.KindFunded, loan.KindRepaid)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer func() {
		if sub != nil {
			sub.Unsubscribe()
		}
	}()
	events, subErrs := sub.Events(), sub.Err()

	pollTick := time.NewTicker(e.cfg.PollInterval)
	defer pollTick.Stop()
	retryTick := time.NewTicker(e.cfg.RetryInterval)
	defer retryTick.Stop()

	e.log.Info("reconciler started", slog.Duration("poll_interval", e.cfg.PollInterval))
	e.startPoll(ctx)

	for {
		e.metrics.QueueDepth(len(e.ops))
		select {
		case <-ctx.Done():
			e.log.Info("reconciler stopped")
			return nil

		case ev, ok := <-events:
			if !ok {
				e.log.Warn("ledger subscription closed; resubscribing on next poll")
				sub.Unsubscribe()
				sub, events, subErrs = nil, nil, nil
				continue
			}
			e.handleEvent(ev)

		case err, ok := <-subErrs:
			if !ok {
				subErrs = nil
				continue
			}
			e.log.Warn("ledger subscription error", slog.Any("error", err))

		case o := <-e.ops:
			o.fn()
			if o.done != nil {
				close(o.done)
			}

		case <-pollTick.C:
			if sub == nil {
				if s, err := e.client.Subscribe(ctx, loan.KindRequested, loan.KindFunded, loan.KindRepaid); err != nil {
					e.log.Warn("resubscribe failed", slog.Any("error", err))
				} else {
					sub, events, subErrs = s, s.Events(), s.Err()
				}
			}
			e.startPoll(ctx)

		case <-retryTick.C:
			e.retryDue(e.now())
		}
	}
}

// do runs fn on the Run goroutine and waits for it. If ctx ends first the
// caller stops waiting; fn still runs to completion once dequeued.
func (e *Engine) do(ctx context.Context, fn func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !e.running.Load() {
		return ErrNotRunning
	}
	stop := e.stopCh()
	done := make(chan struct{})
	select {
	case e.ops <- op{fn: fn, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	case <-stop:
		return ErrNotRunning
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-stop:
		select {
		case <-done:
			return nil
		default:
			return ErrNotRunning
		}
	}
}

func (e *Engine) stopCh() <-chan struct{} {
	if p := e.stopped.Load(); p != nil {
		return *p
	}
	return nil
}

// enqueue hands fn to the Run goroutine without waiting.
func (e *Engine) enqueue(ctx context.Context, fn func()) {
	select {
	case e.ops <- op{fn: fn}:
	case <-ctx.Done():
	}
}

// Observe reconciles one externally observed event and reports what happened.
func (e *Engine) Observe(ctx context.Context, ev ledger.Event) (Outcome, error) {
	var out Outcome
	if err := e.do(ctx, func() { out = e.handleEvent(ev) }); err != nil {
		return Outcome{}, err
	}
	return out, nil
}

// Propose registers a speculative action so readers can show it as pending
// until a confirmed event or poll resolves it.
func (e *Engine) Propose(ctx context.Context, p Proposal) (Proposal, error) {
	var out Proposal
	err := e.do(ctx, func() { out = e.addProposal(p) })
	return out, err
}

// Release lifts a quarantine by hand and replays the events parked meanwhile.
func (e *Engine) Release(ctx context.Context, id loan.ID) error {
	var err error
	if derr := e.do(ctx, func() { err = e.release(id) }); derr != nil {
		return derr
	}
	return err
}

// Inspect returns the reconciler's view of one loan without mutating anything.
func (e *Engine) Inspect(ctx context.Context, ids ...loan.ID) (map[loan.ID]LoanStatus, error) {
	out := make(map[loan.ID]LoanStatus, len(ids))
	err := e.do(ctx, func() {
		for _, id := range ids {
			st := LoanStatus{PendingEvents: len(e.pending[id])}
			if q, ok := e.quarantined[id]; ok {
				st.Quarantined = true
				st.QuarantineReason = q.reason.Error()
			}
			out[id] = st
		}
	})
	return out, err
}

// Running reports whether Run is currently active.
func (e *Engine) Running() bool { return e.running.Load() }

// Speculative exposes the proposal layer for read-only use.
func (e *Engine) Speculative() *Speculative { return e.spec }

// Diagnostics streams diagnostics. Slow consumers miss entries rather than
// stall reconciliation; RecentDiagnostics keeps a history.
func (e *Engine) Diagnostics() <-chan Diagnostic { return e.diags.stream }

func (e *Engine) RecentDiagnostics(limit int) []Diagnostic { return e.diags.recent(limit) }

// LoanStatus is reconciler-only state about a loan.
type LoanStatus struct {
	PendingEvents    int    `json:"pending_events"`
	Quarantined      bool   `json:"quarantined"`
	QuarantineReason string `json:"quarantine_reason,omitempty"`
}
