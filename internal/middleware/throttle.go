package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/httprate"
	"golang.org/x/time/rate"
)

const visitorIdleTimeout = 10 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Throttle is a coarse per-client token bucket applied to every route.
type Throttle struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rps      rate.Limit
	burst    int
	keyFunc  httprate.KeyFunc
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

// NewThrottle allows rps requests per second per client with the given
// burst. A non-positive rps disables throttling.
func NewThrottle(rps float64, burst int, keyFunc httprate.KeyFunc) *Throttle {
	if burst < 1 {
		burst = 1
	}
	t := &Throttle{
		visitors: make(map[string]*visitor),
		rps:      rate.Limit(rps),
		burst:    burst,
		keyFunc:  keyFunc,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	if rps > 0 {
		go t.cleanup(visitorIdleTimeout)
	}
	return t
}

func (t *Throttle) enabled() bool {
	return t.rps > 0
}

func (t *Throttle) getLimiter(key string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, exists := t.visitors[key]
	if !exists {
		limiter := rate.NewLimiter(t.rps, t.burst)
		t.visitors[key] = &visitor{limiter: limiter, lastSeen: t.now()}
		return limiter
	}

	v.lastSeen = t.now()
	return v.limiter
}

func (t *Throttle) cleanup(idle time.Duration) {
	ticker := time.NewTicker(idle)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.evictIdle(idle)
		}
	}
}

func (t *Throttle) evictIdle(idle time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	now := t.now()
	for key, v := range t.visitors {
		if now.Sub(v.lastSeen) > idle {
			delete(t.visitors, key)
			removed++
		}
	}
	return removed
}

// Stop ends the cleanup goroutine. It is safe to call more than once.
func (t *Throttle) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

// Handler wraps next with the throttle.
func (t *Throttle) Handler(next http.Handler) http.Handler {
	if !t.enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, err := t.keyFunc(r)
		if err != nil || key == "" {
			key = "unknown"
		}

		if !t.getLimiter(key).Allow() {
			w.Header().Set("Retry-After", "1")
			writeJSONError(w, http.StatusTooManyRequests, tooManyRequestsMessage)
			return
		}

		next.ServeHTTP(w, r)
	})
}
