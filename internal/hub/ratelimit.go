package hub

import (
	"sync"
	"time"
)

// signalCooldown is the anti-spam floor on repeated identical student
// signals: a second SendStudentSignal of the same signalType from the
// same clientId within this window is dropped.
const signalCooldown = 15 * time.Second

// signalLimiter tracks the last-accepted time per (clientId, signalType)
// pair. Entries are never proactively evicted: the total key space is
// bounded by paired-device-count × distinct-signal-type-count, which stays
// small for a classroom deployment.
type signalLimiter struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func newSignalLimiter() *signalLimiter {
	return &signalLimiter{last: make(map[string]time.Time)}
}

// allow reports whether a signal of signalType from clientID may proceed at
// now, and records the acceptance if so.
func (l *signalLimiter) allow(clientID, signalType string, now time.Time) bool {
	key := clientID + "\x00" + signalType

	l.mu.Lock()
	defer l.mu.Unlock()

	if last, ok := l.last[key]; ok && now.Sub(last) < signalCooldown {
		return false
	}
	l.last[key] = now
	return true
}
