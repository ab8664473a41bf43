package history

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrAlreadyScheduled indicates a second expiry for the same entry.
	ErrAlreadyScheduled = errors.New("entry already scheduled for expiry")
	// ErrSchedulerClosed indicates a schedule attempt after Close.
	ErrSchedulerClosed = errors.New("expiry scheduler closed")
)

// ExpireFunc is called after an entry has been marked deleted.
type ExpireFunc func(localSeq uint64)

// Scheduler arms one-shot expiry timers for temporary messages. Each
// entry can be scheduled once; firing marks the entry deleted in the
// owner's store only. Closing the scheduler cancels every pending timer
// so no mutation happens after session teardown.
type Scheduler struct {
	store    *Store
	onExpire ExpireFunc

	mu     sync.Mutex
	timers map[uint64]*time.Timer
	closed bool
}

// NewScheduler creates a scheduler operating on store. onExpire may be
// nil.
func NewScheduler(store *Store, onExpire ExpireFunc) *Scheduler {
	return &Scheduler{
		store:    store,
		onExpire: onExpire,
		timers:   make(map[uint64]*time.Timer),
	}
}

// Schedule arms a one-shot timer that marks the entry deleted after
// delay. Scheduling an already-armed entry fails.
func (sch *Scheduler) Schedule(localSeq uint64, delay time.Duration) error {
	sch.mu.Lock()
	defer sch.mu.Unlock()

	if sch.closed {
		return ErrSchedulerClosed
	}
	if _, armed := sch.timers[localSeq]; armed {
		return fmt.Errorf("%w: seq %d", ErrAlreadyScheduled, localSeq)
	}

	sch.timers[localSeq] = time.AfterFunc(delay, func() {
		sch.fire(localSeq)
	})
	return nil
}

// fire runs on the timer goroutine: it disarms the entry, marks it
// deleted, and notifies the callback.
func (sch *Scheduler) fire(localSeq uint64) {
	sch.mu.Lock()
	if sch.closed {
		sch.mu.Unlock()
		return
	}
	delete(sch.timers, localSeq)
	sch.mu.Unlock()

	if !sch.store.MarkDeletedLocal(localSeq) {
		return
	}
	if sch.onExpire != nil {
		sch.onExpire(localSeq)
	}
}

// Cancel disarms the timer for the entry, if any. Returns whether a
// pending timer was cancelled.
func (sch *Scheduler) Cancel(localSeq uint64) bool {
	sch.mu.Lock()
	defer sch.mu.Unlock()

	timer, ok := sch.timers[localSeq]
	if !ok {
		return false
	}
	timer.Stop()
	delete(sch.timers, localSeq)
	return true
}

// Pending returns the number of armed timers.
func (sch *Scheduler) Pending() int {
	sch.mu.Lock()
	defer sch.mu.Unlock()
	return len(sch.timers)
}

// Close cancels all pending timers. Pending expirations have no effect
// after Close returns.
func (sch *Scheduler) Close() {
	sch.mu.Lock()
	defer sch.mu.Unlock()

	if sch.closed {
		return
	}
	sch.closed = true
	for seq, timer := range sch.timers {
		timer.Stop()
		delete(sch.timers, seq)
	}
}
