package memory

import (
	"bytes"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"lending-ledger/internal/domain/reputation"
)

var _ reputation.Ledger = (*ReputationLedger)(nil)

type ReputationLedger struct {
	mu     sync.RWMutex
	scores map[common.Address]uint64
}

func NewReputationLedger() *ReputationLedger {
	return &ReputationLedger{scores: make(map[common.Address]uint64)}
}

// RecordRepayment adds one to the borrower's score and returns the new score.
func (l *ReputationLedger) RecordRepayment(borrower common.Address) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.scores[borrower]++
	return l.scores[borrower]
}

func (l *ReputationLedger) Score(p common.Address) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.scores[p]
}

// Restore only raises a score, so replaying an older journal is harmless.
func (l *ReputationLedger) Restore(e reputation.Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e.Score > l.scores[e.Participant] {
		l.scores[e.Participant] = e.Score
	}
}

func (l *ReputationLedger) Entries() []reputation.Entry {
	l.mu.RLock()
	out := make([]reputation.Entry, 0, len(l.scores))
	for p, s := range l.scores {
		out = append(out, reputation.Entry{Participant: p, Score: s})
	}
	l.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Participant[:], out[j].Participant[:]) < 0
	})
	return out
}
