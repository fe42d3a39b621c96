package memory

import (
	"fmt"
	"iter"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	loanDomain "lending-ledger/internal/domain/loan"
)

var _ loanDomain.Store = (*LoanStore)(nil)

// LoanStore keeps confirmed loans in memory, ordered by id. The lock is
// internal; callers only ever see copies.
type LoanStore struct {
	mu    sync.RWMutex
	byID  map[loanDomain.ID]*loanDomain.Record
	order []loanDomain.ID // ascending
}

func NewLoanStore() *LoanStore {
	return &LoanStore{byID: make(map[loanDomain.ID]*loanDomain.Record)}
}

func (s *LoanStore) Insert(r loanDomain.Record) error {
	if err := loanDomain.CheckInvariants(r); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[r.ID]; ok {
		return fmt.Errorf("%w: %s", loanDomain.ErrDuplicateID, r.ID)
	}
	cp := r
	s.byID[r.ID] = &cp
	// ids mostly arrive in order, so this is usually an append
	i := sort.Search(len(s.order), func(i int) bool { return s.order[i] > r.ID })
	s.order = append(s.order, 0)
	copy(s.order[i+1:], s.order[i:])
	s.order[i] = r.ID
	return nil
}

func (s *LoanStore) Get(id loanDomain.ID) (loanDomain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byID[id]
	if !ok {
		return loanDomain.Record{}, fmt.Errorf("%w: %s", loanDomain.ErrNotFound, id)
	}
	return *r, nil
}

// ApplyTransition moves a loan to `to` and sets the matching lender and
// timestamp fields in one step. The state machine decides legality.
func (s *LoanStore) ApplyTransition(id loanDomain.ID, to loanDomain.State, f loanDomain.TransitionFields) (loanDomain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[id]
	if !ok {
		return loanDomain.Record{}, fmt.Errorf("%w: %s", loanDomain.ErrNotFound, id)
	}
	next, err := loanDomain.Transition(cur.State, loanDomain.KindFor(to))
	if err != nil {
		return *cur, err
	}
	upd := *cur
	upd.State = next
	switch next {
	case loanDomain.StateFunded:
		upd.Lender = f.Lender
		upd.FundedAt = f.At
	case loanDomain.StateRepaid:
		upd.RepaidAt = f.At
	}
	if err := loanDomain.CheckInvariants(upd); err != nil {
		return *cur, err
	}
	*cur = upd
	return upd, nil
}

func (s *LoanStore) Overwrite(r loanDomain.Record) error {
	if err := loanDomain.CheckInvariants(r); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[r.ID]
	if !ok {
		return fmt.Errorf("%w: %s", loanDomain.ErrNotFound, r.ID)
	}
	if r.State.Before(cur.State) {
		return fmt.Errorf("%w: %s would regress %s -> %s", loanDomain.ErrInvalidTransition, r.ID, cur.State, r.State)
	}
	*cur = r
	return nil
}

func (s *LoanStore) ListAll() iter.Seq[loanDomain.Record] {
	return s.scan(func(loanDomain.Record) bool { return true })
}

func (s *LoanStore) ListByParticipant(p common.Address) iter.Seq[loanDomain.Record] {
	return s.scan(func(r loanDomain.Record) bool { return r.Involves(p) })
}

func (s *LoanStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// scan yields one record at a time, taking the read lock only while locating
// the next id. Inserts that happen mid-iteration are picked up if their id is
// above the cursor.
func (s *LoanStore) scan(keep func(loanDomain.Record) bool) iter.Seq[loanDomain.Record] {
	return func(yield func(loanDomain.Record) bool) {
		var (
			cursor  loanDomain.ID
			started bool
		)
		for {
			r, ok := s.next(cursor, started)
			if !ok {
				return
			}
			cursor, started = r.ID, true
			if !keep(r) {
				continue
			}
			if !yield(r) {
				return
			}
		}
	}
}

func (s *LoanStore) next(after loanDomain.ID, started bool) (loanDomain.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := 0
	if started {
		i = sort.Search(len(s.order), func(i int) bool { return s.order[i] > after })
	}
	if i >= len(s.order) {
		return loanDomain.Record{}, false
	}
	return *s.byID[s.order[i]], true
}
