// lockout.go - Lockout of a client after repeated wrong passwords for a room.
package rooms

import (
	"sync"
	"time"
)

// attempt tracks failed password attempts for one key.
type attempt struct {
	count       int
	lastAttempt time.Time
	lockedUntil time.Time
}

// Lockout refuses password checks for a key once maxAttempts failures
// happened within window. The lock lasts for duration. Registry keys it by
// room and client, so a locked client never blocks other members.
type Lockout struct {
	mu          sync.Mutex
	attempts    map[string]*attempt // lockKey -> attempts
	maxAttempts int
	duration    time.Duration
	window      time.Duration
	now         func() time.Time
	stop        chan struct{}
	stopOnce    sync.Once
}

// NewLockout creates a lockout manager and starts its janitor. A
// maxAttempts of zero or less disables locking.
func NewLockout(maxAttempts int, duration, window time.Duration) *Lockout {
	l := &Lockout{
		attempts:    make(map[string]*attempt),
		maxAttempts: maxAttempts,
		duration:    duration,
		window:      window,
		now:         time.Now,
		stop:        make(chan struct{}),
	}
	if maxAttempts > 0 {
		go l.cleanup(time.Hour)
	}
	return l
}

func (l *Lockout) enabled() bool { return l != nil && l.maxAttempts > 0 }

// Fail records a wrong password. It reports whether key is now locked.
func (l *Lockout) Fail(key string) (locked bool, until time.Time) {
	if !l.enabled() {
		return false, time.Time{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	a, ok := l.attempts[key]
	if !ok {
		a = &attempt{}
		l.attempts[key] = a
	}
	if now.Sub(a.lastAttempt) > l.window {
		a.count = 0
	}
	a.count++
	a.lastAttempt = now

	if a.count >= l.maxAttempts {
		a.lockedUntil = now.Add(l.duration)
		return true, a.lockedUntil
	}
	return false, time.Time{}
}

// Succeed clears the failure history of key.
func (l *Lockout) Succeed(key string) {
	if !l.enabled() {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.attempts, key)
}

// Locked reports whether password checks for key are currently refused.
func (l *Lockout) Locked(key string) (bool, time.Time) {
	if !l.enabled() {
		return false, time.Time{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.attempts[key]
	if !ok {
		return false, time.Time{}
	}
	if !a.lockedUntil.IsZero() && l.now().Before(a.lockedUntil) {
		return true, a.lockedUntil
	}
	return false, time.Time{}
}

// Close stops the janitor.
func (l *Lockout) Close() {
	if l == nil {
		return
	}
	l.stopOnce.Do(func() { close(l.stop) })
}

// cleanup drops entries whose lock expired and that saw no recent attempts.
func (l *Lockout) cleanup(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.prune()
		}
	}
}

func (l *Lockout) prune() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, a := range l.attempts {
		if (a.lockedUntil.IsZero() || now.After(a.lockedUntil)) &&
			now.Sub(a.lastAttempt) > 2*l.window {
			delete(l.attempts, key)
		}
	}
}
