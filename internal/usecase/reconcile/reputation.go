package reconcile

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// ReputationCheck compares the local score with the ledger's own counter.
type ReputationCheck struct {
	Participant common.Address `json:"participant"`
	Local       uint64         `json:"local"`
	Ledger      uint64         `json:"ledger"`
	Drift       bool           `json:"drift"`
}

// CheckReputation cross-checks one participant against the ledger. The local
// score stays authoritative; a mismatch is only reported.
func (e *Engine) CheckReputation(ctx context.Context, p common.Address) (ReputationCheck, error) {
	ext, err := e.client.GetReputation(ctx, p)
	if err != nil {
		return ReputationCheck{}, fmt.Errorf("ledger reputation: %w", err)
	}
	c := ReputationCheck{Participant: p, Local: e.rep.Score(p), Ledger: ext}
	if c.Local != c.Ledger {
		c.Drift = true
		e.emit(Diagnostic{
			Kind:   DiagReputationDrift,
			Detail: fmt.Sprintf("%s: local %d, ledger %d", p.Hex(), c.Local, c.Ledger),
		})
	}
	return c, nil
}
