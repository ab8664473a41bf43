// Package history implements the client-local message record: an
// append-only store with reply lookup, keyword search, and the expiry
// scheduler for temporary messages.
package history

import (
	"strings"
	"sync"
	"time"
)

// Direction indicates whether an entry was sent or received.
type Direction uint8

const (
	// In marks a message received from a peer.
	In Direction = iota
	// Out marks a message sent to a peer.
	Out
)

// String returns the wire-style direction name.
func (d Direction) String() string {
	if d == In {
		return "in"
	}
	return "out"
}

// Entry is one recorded message.
//
// ID is the server-assigned message id. Outbound entries are appended
// before the receipt arrives, so their ID is zero until Reconcile
// assigns it; LocalSeq is the store-assigned placeholder that stays
// valid either way. Deleted entries keep their slot but are excluded
// from search.
type Entry struct {
	ID        uint64
	LocalSeq  uint64
	Direction Direction
	Peer      string
	Text      string
	Timestamp time.Time
	ReplyTo   uint64
	TempUntil time.Time
	Deleted   bool
}

// Temporary reports whether the entry is scheduled for local expiry.
func (e *Entry) Temporary() bool {
	return !e.TempUntil.IsZero()
}

// Store is the append-only history record. It is safe for concurrent
// use by the read loop, the input loop, and expiry timers. Lookups
// return copies so readers never observe later mutation.
type Store struct {
	mu      sync.RWMutex
	entries []Entry
	lastSeq uint64
}

// NewStore creates an empty history store.
func NewStore() *Store {
	return &Store{}
}

// Append records an entry and returns its local sequence number.
func (s *Store) Append(e Entry) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastSeq++
	e.LocalSeq = s.lastSeq
	s.entries = append(s.entries, e)
	return e.LocalSeq
}

// Find returns the entry with the given server-assigned message id.
// Deleted entries are still findable; only search excludes them.
func (s *Store) Find(messageID uint64) (Entry, bool) {
	if messageID == 0 {
		return Entry{}, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.entries {
		if s.entries[i].ID == messageID {
			return s.entries[i], true
		}
	}
	return Entry{}, false
}

// Search returns the non-deleted entries whose text contains keyword,
// case-insensitively, in chronological (append) order. The result is a
// snapshot; repeated calls over unchanged history return the same
// sequence.
func (s *Store) Search(keyword string) []Entry {
	needle := strings.ToLower(keyword)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []Entry
	for i := range s.entries {
		e := &s.entries[i]
		if e.Deleted {
			continue
		}
		if strings.Contains(strings.ToLower(e.Text), needle) {
			matches = append(matches, *e)
		}
	}
	return matches
}

// MarkDeletedLocal flags the entry with the given local sequence as
// deleted. Its slot is not reused. Returns false for unknown sequences.
func (s *Store) MarkDeletedLocal(localSeq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.entries {
		if s.entries[i].LocalSeq == localSeq {
			s.entries[i].Deleted = true
			return true
		}
	}
	return false
}

// Reconcile assigns the server message id to the oldest outbound entry
// for peer that has no id yet, and returns that entry. Receipts arrive
// in send order on a single connection, so oldest-first matches each
// receipt to the message it acknowledges.
func (s *Store) Reconcile(peer string, messageID uint64) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.entries {
		e := &s.entries[i]
		if e.Direction == Out && e.ID == 0 && e.Peer == peer {
			e.ID = messageID
			return *e, true
		}
	}
	return Entry{}, false
}

// Len returns the number of entries, including deleted ones.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Entries returns a snapshot of the full history in append order.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}
