package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/peopleforge/peopleforge/internal/config"
	"github.com/peopleforge/peopleforge/internal/domain/event"
	"github.com/peopleforge/peopleforge/internal/service"
)

// routeClass is one rate budget bucket. Requests are classified by path
// substring, most specific first; auth endpoints are the brute-force targets
// and get the strictest budgets plus IP blocking.
type routeClass struct {
	name   string
	match  string
	limit  int
	window time.Duration
	isAuth bool
}

// window is one fixed counting window. A new window replaces the record;
// stale counts are never reused.
type window struct {
	count int
	start time.Time
	end   time.Time
}

// RateLimiter enforces fixed-window per-route rate limits and temporary IP
// blocks. It runs before authentication; state is in-memory and
// single-process by design.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	blocks  map[string]time.Time // ip -> blockedUntil

	classes       []routeClass
	blockEnabled  bool
	blockDuration time.Duration
	trustProxy    bool
	maxKeys       int

	sec *service.SecurityLog
	now func() time.Time // for testing
}

// NewRateLimiter creates a rate limiter from config. sec may be nil;
// security events are then dropped.
func NewRateLimiter(cfg config.Rate, sec *service.SecurityLog) *RateLimiter {
	return &RateLimiter{
		windows: make(map[string]*window),
		blocks:  make(map[string]time.Time),
		classes: []routeClass{
			{name: "login", match: "login", limit: cfg.Login.Limit, window: cfg.Login.Window, isAuth: true},
			{name: "refresh", match: "refresh", limit: cfg.Refresh.Limit, window: cfg.Refresh.Window, isAuth: true},
			{name: "logout", match: "logout", limit: cfg.Logout.Limit, window: cfg.Logout.Window, isAuth: true},
			{name: "default", match: "", limit: cfg.Default.Limit, window: cfg.Default.Window},
		},
		blockEnabled:  cfg.BlockEnabled,
		blockDuration: cfg.BlockDuration,
		trustProxy:    cfg.TrustProxy,
		maxKeys:       100000, // cap tracked keys to prevent memory exhaustion
		sec:           sec,
		now:           time.Now,
	}
}

// Handler returns the pipeline stage enforcing the limits.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := rl.clientIP(r)
		class := rl.classify(r.URL.Path)

		if remaining, blocked := rl.blockRemaining(ip); blocked {
			retryAfter := int(remaining.Seconds()) + 1
			setRateHeaders(w, class.limit, 0, rl.now().Add(remaining))
			w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
			rl.emit(event.SecurityEvent{
				Kind:     event.KindBlockedAccess,
				Severity: event.SeverityHigh,
				ClientIP: ip,
				Method:   r.Method,
				Path:     r.URL.Path,
				Detail:   fmt.Sprintf("request from blocked IP, %ds remaining", retryAfter),
			})
			writeAPIError(w, apiError{
				StatusCode: http.StatusTooManyRequests,
				Error:      http.StatusText(http.StatusTooManyRequests),
				Message:    "too many requests: IP temporarily blocked",
				RetryAfter: retryAfter,
			})
			return
		}

		count, reset, full := rl.increment(r.Method, r.URL.Path, ip, class)

		remaining := class.limit - count
		if remaining < 0 {
			remaining = 0
		}
		setRateHeaders(w, class.limit, remaining, reset)

		if full {
			// The limiter itself is saturated. Shed the request, but do
			// not block the IP: this client did nothing wrong.
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(class.window.Seconds())))
			rl.emit(event.SecurityEvent{
				Kind:     event.KindRateLimitExceeded,
				Severity: event.SeverityLow,
				ClientIP: ip,
				Method:   r.Method,
				Path:     r.URL.Path,
				Detail:   "rate limiter at tracking capacity",
			})
			reject(w, http.StatusTooManyRequests, "too many requests")
			return
		}

		if count > class.limit {
			if class.isAuth && rl.blockEnabled {
				rl.block(ip)
				w.Header().Set("Retry-After", fmt.Sprintf("%d", int(rl.blockDuration.Seconds())))
				rl.emit(event.SecurityEvent{
					Kind:     event.KindIPBlocked,
					Severity: event.SeverityHigh,
					ClientIP: ip,
					Method:   r.Method,
					Path:     r.URL.Path,
					Detail:   fmt.Sprintf("%s limit exceeded, blocked for %s", class.name, rl.blockDuration),
				})
				writeAPIError(w, apiError{
					StatusCode: http.StatusTooManyRequests,
					Error:      http.StatusText(http.StatusTooManyRequests),
					Message:    "too many requests: IP temporarily blocked",
					RetryAfter: int(rl.blockDuration.Seconds()),
				})
				return
			}

			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(reset.Sub(rl.now()).Seconds())+1))
			rl.emit(event.SecurityEvent{
				Kind:     event.KindRateLimitExceeded,
				Severity: event.SeverityLow,
				ClientIP: ip,
				Method:   r.Method,
				Path:     r.URL.Path,
				Detail:   fmt.Sprintf("%s limit of %d per %s exceeded", class.name, class.limit, class.window),
			})
			reject(w, http.StatusTooManyRequests, "too many requests")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// classify matches path substrings, most specific class first.
func (rl *RateLimiter) classify(path string) routeClass {
	for _, c := range rl.classes {
		if c.match != "" && strings.Contains(path, c.match) {
			return c
		}
	}
	return rl.classes[len(rl.classes)-1]
}

// blockRemaining reports whether ip is blocked and for how much longer.
// Expired blocks are evicted on access.
func (rl *RateLimiter) blockRemaining(ip string) (time.Duration, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	until, ok := rl.blocks[ip]
	if !ok {
		return 0, false
	}
	now := rl.now()
	if !until.After(now) {
		delete(rl.blocks, ip)
		return 0, false
	}
	return until.Sub(now), true
}

func (rl *RateLimiter) block(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.blocks[ip] = rl.now().Add(rl.blockDuration)
}

// increment bumps the counter for (method, path, ip), starting a fresh
// window when none exists or the current one has expired. Returns the new
// count, the window reset time, and whether the key table is at capacity.
func (rl *RateLimiter) increment(method, path, ip string, class routeClass) (int, time.Time, bool) {
	key := method + " " + path + " " + ip

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	win, ok := rl.windows[key]
	if !ok || !now.Before(win.end) {
		if !ok && len(rl.windows) >= rl.maxKeys {
			// At capacity: shed rather than grow unbounded.
			return class.limit, now.Add(class.window), true
		}
		win = &window{count: 1, start: now, end: now.Add(class.window)}
		rl.windows[key] = win
		return 1, win.end, false
	}

	win.count++
	return win.count, win.end, false
}

// StartCleanup spawns a goroutine that evicts expired windows and blocks
// every interval. Returns a cancel function.
func (rl *RateLimiter) StartCleanup(interval time.Duration) func() {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.cleanup()
			}
		}
	}()
	return cancel
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	for key, win := range rl.windows {
		if !now.Before(win.end) {
			delete(rl.windows, key)
		}
	}
	for ip, until := range rl.blocks {
		if !until.After(now) {
			delete(rl.blocks, ip)
		}
	}
}

// Len returns the number of tracked windows (for metrics and testing).
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.windows)
}

// clientIP resolves the client address. Forwarded headers are honored only
// when the deployment declares a trusted proxy in front of the service;
// otherwise they are spoofable and ignored.
func (rl *RateLimiter) clientIP(r *http.Request) string {
	if rl.trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (rl *RateLimiter) emit(ev event.SecurityEvent) {
	if rl.sec != nil {
		rl.sec.Emit(ev)
	}
}

func setRateHeaders(w http.ResponseWriter, limit, remaining int, reset time.Time) {
	w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", limit))
	w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
	w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", reset.Unix()))
}
