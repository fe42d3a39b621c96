package memledger

import (
	"context"
	"slices"
	"sync"

	"lending-ledger/internal/domain/ledger"
	"lending-ledger/internal/domain/loan"
)

// subscription queues without bound so a slow reader never blocks a
// submitter; the run goroutine drains the queue into events in order.
type subscription struct {
	kinds []loan.Kind

	mu    sync.Mutex
	queue []ledger.Event
	wake  chan struct{}

	events chan ledger.Event
	errs   chan error
	done   chan struct{}
	once   sync.Once
}

func newSubscription(kinds []loan.Kind) *subscription {
	return &subscription{
		kinds:  kinds,
		wake:   make(chan struct{}, 1),
		events: make(chan ledger.Event),
		errs:   make(chan error),
		done:   make(chan struct{}),
	}
}

func (s *subscription) wants(k loan.Kind) bool {
	return len(s.kinds) == 0 || slices.Contains(s.kinds, k)
}

func (s *subscription) push(ev ledger.Event) {
	if !s.wants(ev.Kind) {
		return
	}
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) run(ctx context.Context) {
	defer close(s.events)
	defer close(s.errs)
	for {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, ev := range batch {
			select {
			case s.events <- ev:
			case <-s.done:
				return
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-s.wake:
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *subscription) Events() <-chan ledger.Event { return s.events }
func (s *subscription) Err() <-chan error           { return s.errs }
func (s *subscription) Unsubscribe()                { s.once.Do(func() { close(s.done) }) }
