package profile

import (
	"bytes"

	"xdao.co/v2xsec/model"
)

// DefaultReplayCapacity bounds a replay list when none is configured.
const DefaultReplayCapacity = 256

type replayEntry struct {
	gen     model.Time64
	created model.Time64
	sig     []byte
}

// ReplayList remembers recently accepted messages by generation time and
// signature. It is a bounded FIFO; stale entries are dropped while scanning.
type ReplayList struct {
	capacity int
	entries  []replayEntry
}

// NewReplayList returns an empty list holding at most capacity entries.
func NewReplayList(capacity int) *ReplayList {
	if capacity <= 0 {
		capacity = DefaultReplayCapacity
	}
	return &ReplayList{capacity: capacity}
}

// Len returns the number of entries held.
func (l *ReplayList) Len() int { return len(l.entries) }

// Check reports whether a message with generation time gen and signature
// sig was already recorded. Entries created more than validPeriod before now
// are evicted during the scan.
func (l *ReplayList) Check(now, gen model.Time64, sig []byte, validPeriod model.Time64) bool {
	kept := l.entries[:0]
	found := false
	for _, e := range l.entries {
		if now > e.created && now-e.created > validPeriod {
			continue
		}
		kept = append(kept, e)
		if !found && e.gen == gen && bytes.Equal(e.sig, sig) {
			found = true
		}
	}
	for i := len(kept); i < len(l.entries); i++ {
		l.entries[i] = replayEntry{}
	}
	l.entries = kept
	return found
}

// Add appends an entry, evicting the oldest one when the list is full.
func (l *ReplayList) Add(now, gen model.Time64, sig []byte) {
	if len(l.entries) >= l.capacity {
		copy(l.entries, l.entries[1:])
		l.entries[len(l.entries)-1] = replayEntry{}
		l.entries = l.entries[:len(l.entries)-1]
	}
	l.entries = append(l.entries, replayEntry{gen: gen, created: now, sig: append([]byte(nil), sig...)})
}
