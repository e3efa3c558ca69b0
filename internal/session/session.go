package session

import (
	"errors"
	"sync"
	"time"

	"github.com/awnumar/memguard"
)

const (
	DefaultTTL           = 15 * time.Minute
	DefaultBackgroundTTL = 5 * time.Minute
	MasterSecretKey      = "master_secret"
)

var (
	// ErrSessionExpired is returned by callers that needed the secret after
	// the session locked. Recovery is a fresh unlock.
	ErrSessionExpired = errors.New("session expired: unlock required")

	ErrEmptySecret = errors.New("secret cannot be empty")
	ErrClosed      = errors.New("session closed")
)

type State int

const (
	StateLocked State = iota
	StateUnlocked
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateLocked:
		return "locked"
	case StateUnlocked:
		return "unlocked"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

type EventType string

const (
	EventExpired EventType = "session_expired"
	EventLocked  EventType = "session_locked"
)

type Event struct {
	Type EventType
	Key  string
	At   time.Time
}

// Session holds the unlocked master secret in guarded memory for a bounded
// window. It never writes the secret anywhere else. There is at most one
// live expiry timer; each unlock or extend replaces the previous one.
type Session struct {
	mu            sync.Mutex
	clock         Clock
	key           string
	defaultTTL    time.Duration
	backgroundTTL time.Duration

	state     State
	secret    *memguard.LockedBuffer
	expiresAt time.Time
	timer     Timer
	gen       uint64

	subscribers map[int]chan Event
	nextSub     int
	closed      bool
}

type Option func(*Session)

func WithClock(c Clock) Option {
	return func(s *Session) {
		s.clock = c
	}
}

func WithTTL(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.defaultTTL = d
		}
	}
}

func WithBackgroundTTL(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.backgroundTTL = d
		}
	}
}

func WithKey(key string) Option {
	return func(s *Session) {
		s.key = key
	}
}

func New(opts ...Option) *Session {
	s := &Session{
		clock:         RealClock(),
		key:           MasterSecretKey,
		defaultTTL:    DefaultTTL,
		backgroundTTL: DefaultBackgroundTTL,
		state:         StateLocked,
		subscribers:   make(map[int]chan Event),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Unlock stores a copy of secret until now+ttl. A non-positive ttl uses the
// session default. Unlocking an unlocked session replaces the secret and
// restarts the timer.
func (s *Session) Unlock(secret []byte, ttl time.Duration) error {
	if len(secret) == 0 {
		return ErrEmptySecret
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	s.clearLocked()

	// NewBufferFromBytes wipes its source, so hand it a copy.
	buf := make([]byte, len(secret))
	copy(buf, secret)
	s.secret = memguard.NewBufferFromBytes(buf)
	s.state = StateUnlocked
	s.scheduleLocked(ttl)

	return nil
}

// Read returns a copy of the secret while the session is unlocked and not
// past its deadline. It does not extend the deadline. The caller should
// zero the copy when done.
func (s *Session) Read() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.expireIfDueLocked() || s.state != StateUnlocked {
		return nil, false
	}

	out := make([]byte, s.secret.Size())
	copy(out, s.secret.Bytes())
	return out, true
}

// Extend resets the deadline to now+ttl. It is a no-op when locked.
func (s *Session) Extend(ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.expireIfDueLocked() || s.state != StateUnlocked {
		return false
	}

	s.scheduleLocked(ttl)
	return true
}

// Background caps the remaining lifetime at the background TTL. It never
// lengthens it.
func (s *Session) Background() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.expireIfDueLocked() || s.state != StateUnlocked {
		return
	}

	if s.expiresAt.Sub(s.clock.Now()) > s.backgroundTTL {
		s.scheduleLocked(s.backgroundTTL)
	}
}

// Lock scrubs the secret and cancels the timer.
func (s *Session) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateUnlocked {
		return
	}

	s.clearLocked()
	s.publishLocked(EventLocked)
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireIfDueLocked()
	return s.state
}

func (s *Session) ExpiresAt() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.expireIfDueLocked() || s.state != StateUnlocked {
		return time.Time{}, false
	}
	return s.expiresAt, true
}

// Subscribe returns a channel of lock and expiry events. Slow subscribers
// miss events rather than block the session.
func (s *Session) Subscribe() (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Event, 8)
	if s.closed {
		close(ch)
		return ch, func() {}
	}

	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if sub, ok := s.subscribers[id]; ok {
				delete(s.subscribers, id)
				close(sub)
			}
		})
	}
}

// Close locks the session and closes every subscription. The session
// cannot be unlocked again.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	if s.state == StateUnlocked {
		s.clearLocked()
		s.publishLocked(EventLocked)
	}

	s.closed = true
	for id, ch := range s.subscribers {
		delete(s.subscribers, id)
		close(ch)
	}
}

func (s *Session) scheduleLocked(ttl time.Duration) {
	if s.timer != nil {
		s.timer.Stop()
	}

	s.gen++
	gen := s.gen
	s.expiresAt = s.clock.Now().Add(ttl)
	s.timer = s.clock.AfterFunc(ttl, func() {
		s.expire(gen)
	})
}

func (s *Session) expire(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen || s.state != StateUnlocked {
		return
	}
	s.expireLocked()
}

func (s *Session) expireIfDueLocked() bool {
	if s.state != StateUnlocked || s.clock.Now().Before(s.expiresAt) {
		return false
	}
	s.expireLocked()
	return true
}

func (s *Session) expireLocked() {
	s.state = StateExpired
	s.clearLocked()
	s.publishLocked(EventExpired)
}

func (s *Session) clearLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++

	if s.secret != nil {
		s.secret.Destroy()
		s.secret = nil
	}

	s.expiresAt = time.Time{}
	s.state = StateLocked
}

func (s *Session) publishLocked(t EventType) {
	ev := Event{Type: t, Key: s.key, At: s.clock.Now()}
	for _, ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}
