package chaos

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"bookshelf/internal/eventstore"
)

var ErrInjectedFault = errors.New("chaos: injected journal fault")

// FaultyJournal wraps a journal and injects append failures and latency on
// demand. Reads are passed through untouched.
type FaultyJournal struct {
	eventstore.Store

	mu          sync.Mutex
	failureRate float64
	latency     time.Duration
	rng         *rand.Rand
}

func NewFaultyJournal(store eventstore.Store, seed uint64) *FaultyJournal {
	return &FaultyJournal{
		Store: store,
		rng:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// InjectFailures makes the given fraction of appends fail.
func (j *FaultyJournal) InjectFailures(rate float64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.failureRate = rate
}

func (j *FaultyJournal) InjectLatency(d time.Duration) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.latency = d
}

func (j *FaultyJournal) Reset() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.failureRate = 0
	j.latency = 0
}

func (j *FaultyJournal) AppendEvents(ctx context.Context, aggregateID, aggregateType string, expectedVersion int, events []eventstore.Event) error {
	j.mu.Lock()
	latency := j.latency
	fail := j.failureRate > 0 && j.rng.Float64() < j.failureRate
	j.mu.Unlock()

	if latency > 0 {
		timer := time.NewTimer(latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	if fail {
		return ErrInjectedFault
	}
	return j.Store.AppendEvents(ctx, aggregateID, aggregateType, expectedVersion, events)
}
