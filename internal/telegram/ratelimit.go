package telegram

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// UserLimiter throttles media jobs per Telegram user with a token bucket.
type UserLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	visitors map[int64]*visitor
	now      func() time.Time
}

// NewUserLimiter allows perMinute jobs per user with a burst of the same
// size. perMinute <= 0 disables limiting.
func NewUserLimiter(perMinute int) *UserLimiter {
	l := &UserLimiter{
		visitors: make(map[int64]*visitor),
		now:      time.Now,
	}
	if perMinute > 0 {
		l.limit = rate.Every(time.Minute / time.Duration(perMinute))
		l.burst = perMinute
	}
	return l
}

func (l *UserLimiter) Allow(userID int64) bool {
	if l.burst == 0 {
		return true
	}
	now := l.now()

	l.mu.Lock()
	v, ok := l.visitors[userID]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[userID] = v
	}
	v.lastSeen = now
	l.mu.Unlock()

	return v.limiter.AllowN(now, 1)
}

// Sweep drops buckets idle for longer than limiterIdleTTL.
func (l *UserLimiter) Sweep() int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for id, v := range l.visitors {
		if now.Sub(v.lastSeen) >= limiterIdleTTL {
			delete(l.visitors, id)
			removed++
		}
	}
	return removed
}
