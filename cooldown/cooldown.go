package cooldown

import (
	"sync"
	"time"
)

// Gate remembers when each command last ran. Check never changes state; the
// caller marks a key once the request it gated has finished.
type Gate struct {
	mu       sync.RWMutex
	lastCall map[string]time.Time
	now      func() time.Time
}

func NewGate() *Gate {
	return NewGateWithClock(time.Now)
}

func NewGateWithClock(now func() time.Time) *Gate {
	return &Gate{
		lastCall: make(map[string]time.Time),
		now:      now,
	}
}

// Check reports whether key is still cooling down and how long is left.
func (g *Gate) Check(key string, period time.Duration) (bool, time.Duration) {
	g.mu.RLock()
	last, ok := g.lastCall[key]
	g.mu.RUnlock()

	if !ok {
		return false, 0
	}

	elapsed := g.now().Sub(last)
	if elapsed >= period {
		return false, 0
	}

	return true, period - elapsed
}

// Mark records the current time as the last call of key.
func (g *Gate) Mark(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.lastCall[key] = g.now()
}
