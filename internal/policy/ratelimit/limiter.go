// Package ratelimit implements per-host token buckets plus a cooldown that a
// server can impose through 429 responses.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Observer is told how long a request waited for its host.
type Observer func(host string, waited time.Duration)

// Config holds rate limiter configuration.
type Config struct {
	// RPS is the steady request rate per host; zero or less disables limiting.
	RPS   float64
	Burst int
	// Observe, when set, receives waits longer than a millisecond.
	Observe Observer
}

type hostState struct {
	limiter *rate.Limiter
	// until is the end of a server-imposed cooldown.
	until time.Time
}

// Limiter manages per-host rate limits.
type Limiter struct {
	mu    sync.Mutex
	hosts map[string]*hostState
	rate  rate.Limit
	burst int
	obs   Observer
	now   func() time.Time
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		hosts: make(map[string]*hostState),
		rate:  r,
		burst: burst,
		obs:   cfg.Observe,
		now:   time.Now,
	}
}

func (l *Limiter) state(host string) *hostState {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.hosts[host]
	if !ok {
		st = &hostState{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.hosts[host] = st
	}
	return st
}

// Wait blocks until rawURL's host has a token and no cooldown is active.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := hostOf(rawURL)
	st := l.state(host)
	start := l.now()

	l.mu.Lock()
	cooldown := st.until.Sub(start)
	l.mu.Unlock()
	if cooldown > 0 {
		timer := time.NewTimer(cooldown)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("rate limit wait: %w", ctx.Err())
		case <-timer.C:
		}
	}

	if err := st.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := l.now().Sub(start); waited > time.Millisecond && l.obs != nil {
		l.obs(host, waited)
	}
	return nil
}

// Cooldown pauses every request to rawURL's host for d. A shorter cooldown
// never cuts an active one.
func (l *Limiter) Cooldown(rawURL string, d time.Duration) {
	if d <= 0 {
		return
	}
	st := l.state(hostOf(rawURL))
	until := l.now().Add(d)
	l.mu.Lock()
	if until.After(st.until) {
		st.until = until
	}
	l.mu.Unlock()
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return u.Hostname()
}
