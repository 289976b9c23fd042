package main

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// userRateLimiter keeps one token bucket per authenticated user. Used on the
// AI endpoints, where every request costs an upstream call.
type userRateLimiter struct {
	mu       sync.Mutex
	visitors map[int]*visitor
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
	now      func() time.Time
}

// visitor tracks a user's limiter and when it was last used.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newUserRateLimiter allows perMinute requests per user per minute, with a
// burst of the same size.
func newUserRateLimiter(perMinute int) *userRateLimiter {
	return &userRateLimiter{
		visitors: make(map[int]*visitor),
		limit:    rate.Limit(float64(perMinute) / 60),
		burst:    perMinute,
		idleTTL:  10 * time.Minute,
		now:      time.Now,
	}
}

func (rl *userRateLimiter) get(userID int) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.visitors[userID]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[userID] = v
	}
	v.lastSeen = rl.now()
	return v.limiter
}

// allow consumes one token for userID. It returns the wait before the next
// token when the bucket is empty.
func (rl *userRateLimiter) allow(userID int) (bool, time.Duration) {
	lim := rl.get(userID)
	now := rl.now()
	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Minute
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d
	}
	return true, 0
}

// prune drops visitors idle for longer than idleTTL.
func (rl *userRateLimiter) prune() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.idleTTL)
	removed := 0
	for id, v := range rl.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(rl.visitors, id)
			removed++
		}
	}
	return removed
}

// run prunes idle visitors every minute until ctx is cancelled.
func (rl *userRateLimiter) run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := rl.prune(); n > 0 {
				log.Debugf("[rateLimiter] pruned %d idle visitors", n)
			}
		}
	}
}

// middleware rejects requests over the user's budget with 429 and a
// Retry-After header. A nil limiter lets everything through.
func (rl *userRateLimiter) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl == nil {
			c.Next()
			return
		}
		userID := c.GetInt("user_id")
		ok, wait := rl.allow(userID)
		if !ok {
			secs := int(wait.Round(time.Second) / time.Second)
			if secs < 1 {
				secs = 1
			}
			aiRateLimited.Inc()
			c.Header("Retry-After", strconv.Itoa(secs))
			apiError(c, http.StatusTooManyRequests, "too many requests, try again later")
			c.Abort()
			return
		}
		c.Next()
	}
}
