package loan

import (
	"context"
	"iter"

	"github.com/ethereum/go-ethereum/common"
)

// Store is the authoritative in-memory cache of confirmed loans. Only the
// reconciler mutates it; everyone else reads snapshots.
type Store interface {
	Insert(r Record) error
	Get(id ID) (Record, error)
	ApplyTransition(id ID, to State, f TransitionFields) (Record, error)
	// Overwrite replaces a record with externally confirmed content. It never
	// moves a loan backwards.
	Overwrite(r Record) error
	// ListAll and ListByParticipant are lazy and restartable: each range over
	// the returned sequence walks the store again in ascending id order.
	ListAll() iter.Seq[Record]
	ListByParticipant(p common.Address) iter.Seq[Record]
}

// Repository is the durable journal of confirmed loans.
type Repository interface {
	Upsert(ctx context.Context, r *Record) error
	GetByLoanID(ctx context.Context, id ID) (*Record, error)
	GetByLoanIDForUpdate(ctx context.Context, id ID) (*Record, error)
	List(ctx context.Context) ([]Record, error)
}
