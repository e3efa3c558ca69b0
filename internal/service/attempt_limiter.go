package service

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultMaxAttempts   = 5
	DefaultAttemptWindow = 15 * time.Minute
)

// AttemptLimiter throttles failed passphrase checks per key. Each failure
// spends one token; a key is blocked once its bucket is empty and refills
// at maxAttempts per window. A success clears the key.
type AttemptLimiter struct {
	mu          sync.Mutex
	limit       rate.Limit
	maxAttempts int
	window      time.Duration
	entries     map[string]*attemptBucket
	now         func() time.Time
}

type attemptBucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func NewAttemptLimiter(maxAttempts int, window time.Duration) *AttemptLimiter {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if window <= 0 {
		window = DefaultAttemptWindow
	}

	return &AttemptLimiter{
		limit:       rate.Every(window / time.Duration(maxAttempts)),
		maxAttempts: maxAttempts,
		window:      window,
		entries:     make(map[string]*attemptBucket),
		now:         time.Now,
	}
}

// Blocked reports whether key has no attempts left and, if so, how long
// until the next one is available.
func (l *AttemptLimiter) Blocked(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.entries[key]
	if !ok {
		return false, 0
	}

	if b.lim.TokensAt(now) >= 1 {
		return false, 0
	}

	r := b.lim.ReserveN(now, 1)
	wait := r.DelayFrom(now)
	r.CancelAt(now)
	return true, wait
}

// Fail records a failed attempt against key.
func (l *AttemptLimiter) Fail(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.entries[key]
	if !ok {
		b = &attemptBucket{lim: rate.NewLimiter(l.limit, l.maxAttempts)}
		l.entries[key] = b
	}
	b.lastSeen = now
	b.lim.AllowN(now, 1)

	for k, v := range l.entries {
		if now.Sub(v.lastSeen) > l.window {
			delete(l.entries, k)
		}
	}
}

func (l *AttemptLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.entries, key)
}

func attemptKey(userID, clientIP string) string {
	return "master-secret-attempts:" + userID + ":" + clientIP
}
