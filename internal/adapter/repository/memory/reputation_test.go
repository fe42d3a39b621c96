package memory

import (
	"testing"

	"lending-ledger/internal/domain/reputation"
)

func TestReputationLedger(t *testing.T) {
	l := NewReputationLedger()
	if got := l.Score(alice); got != 0 {
		t.Fatalf("unknown participant score = %d", got)
	}
	if got := l.RecordRepayment(alice); got != 1 {
		t.Fatalf("first repayment = %d", got)
	}
	l.RecordRepayment(alice)
	if got := l.Score(alice); got != 2 {
		t.Fatalf("score = %d", got)
	}
	if got := l.Score(bob); got != 0 {
		t.Fatalf("bob = %d", got)
	}
}

func TestReputationLedger_RestoreOnlyRaises(t *testing.T) {
	l := NewReputationLedger()
	l.RecordRepayment(alice)
	l.RecordRepayment(alice)
	l.Restore(reputation.Entry{Participant: alice, Score: 1})
	l.Restore(reputation.Entry{Participant: bob, Score: 4})
	if l.Score(alice) != 2 || l.Score(bob) != 4 {
		t.Fatalf("alice=%d bob=%d", l.Score(alice), l.Score(bob))
	}
	entries := l.Entries()
	if len(entries) != 2 {
		t.Fatalf("entries = %+v", entries)
	}
}
