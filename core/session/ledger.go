package session

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultLedgerSize = 100_000

// RefreshLedger records the last successful refresh per subject.
type RefreshLedger interface {
	// CheckAndRecord atomically checks that subject did not refresh within window before now,
	// and if so records now as its last refresh.
	CheckAndRecord(subject int, now time.Time, window time.Duration) bool
}

// MemoryLedger is a process-local RefreshLedger bounded to size subjects.
// Evicting the least recently refreshed subject only ever loosens the limit for a subject that has not
// refreshed in a long time.
type MemoryLedger struct {
	mu      sync.Mutex
	entries *lru.Cache[int, time.Time]
}

var _ RefreshLedger = (*MemoryLedger)(nil) // interface compliance check

func NewMemoryLedger(size int) *MemoryLedger {
	if size <= 0 {
		size = defaultLedgerSize
	}
	entries, _ := lru.New[int, time.Time](size) // only errors on size <= 0
	return &MemoryLedger{entries: entries}
}

func (l *MemoryLedger) CheckAndRecord(subject int, now time.Time, window time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if last, ok := l.entries.Get(subject); ok && now.Sub(last) < window {
		return false
	}
	l.entries.Add(subject, now)
	return true
}

// Last returns the last recorded refresh of subject.
func (l *MemoryLedger) Last(subject int) (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entries.Peek(subject)
}

func (l *MemoryLedger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries.Purge()
}
