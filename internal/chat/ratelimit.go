package chat

import (
	"sync"
	"time"
)

type rateWindow struct {
	count   int
	resetAt time.Time
}

// Limiter is a fixed-window per-user throttle for outbound messages. Windows
// reset lazily on the first message after expiry and are never swept; state
// for a user is dropped when their last live connection closes.
type Limiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	windows map[string]*rateWindow
	now     func() time.Time
}

// NewLimiter builds a limiter allowing limit messages per window per user.
func NewLimiter(limit int, window time.Duration) *Limiter {
	return &Limiter{
		limit:   limit,
		window:  window,
		windows: make(map[string]*rateWindow),
		now:     time.Now,
	}
}

// Allow records one outbound message for userID. When the cap is hit it
// reports false plus the whole seconds remaining until the window resets.
func (l *Limiter) Allow(userID string) (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[userID]
	if !ok || !now.Before(w.resetAt) {
		l.windows[userID] = &rateWindow{count: 1, resetAt: now.Add(l.window)}
		return true, 0
	}

	if w.count >= l.limit {
		retry := int(w.resetAt.Sub(now).Seconds())
		if retry < 1 {
			retry = 1
		}
		return false, retry
	}

	w.count++
	return true, 0
}

// Forget drops the window for userID. Called when the user's last live
// connection closes; the cap is per connected session, not persisted.
func (l *Limiter) Forget(userID string) {
	l.mu.Lock()
	delete(l.windows, userID)
	l.mu.Unlock()
}
