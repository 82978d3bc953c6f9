// Package ratelimit throttles expensive endpoints per caller.
package ratelimit

import (
	"context"
	"os"
	"strconv"
	"sync"
	"time"
)

// Decision is the outcome of a single Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter admits at most Limit requests per Window for each key.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Config holds the per-key budget.
type Config struct {
	Limit  int
	Window time.Duration
	// TrustProxy keys anonymous callers by X-Forwarded-For.
	TrustProxy bool
}

// ConfigFromEnv reads RATE_LIMIT_RPM (default 10), RATE_LIMIT_WINDOW
// (default 1m) and RATE_LIMIT_TRUST_PROXY.
func ConfigFromEnv() Config {
	cfg := Config{Limit: 10, Window: time.Minute, TrustProxy: os.Getenv("RATE_LIMIT_TRUST_PROXY") == "1"}
	if v, err := strconv.Atoi(os.Getenv("RATE_LIMIT_RPM")); err == nil && v > 0 {
		cfg.Limit = v
	}
	if d, err := time.ParseDuration(os.Getenv("RATE_LIMIT_WINDOW")); err == nil && d > 0 {
		cfg.Window = d
	}
	return cfg
}

type memEntry struct {
	hits     []time.Time // admitted requests inside the window, oldest first
	lastSeen time.Time
}

// Memory is a process-local sliding-window limiter. Every instance keeps its
// own counters, so use Redis when more than one replica serves traffic.
type Memory struct {
	cfg     Config
	mu      sync.Mutex
	entries map[string]*memEntry
	now     func() time.Time
}

func NewMemory(cfg Config) *Memory {
	if cfg.Limit < 1 {
		cfg.Limit = 1
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &Memory{cfg: cfg, entries: make(map[string]*memEntry), now: time.Now}
}

func (m *Memory) Allow(_ context.Context, key string) (Decision, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		e = &memEntry{}
		m.entries[key] = e
	}
	e.lastSeen = now

	cutoff := now.Add(-m.cfg.Window)
	i := 0
	for i < len(e.hits) && !e.hits[i].After(cutoff) {
		i++
	}
	e.hits = e.hits[i:]

	if len(e.hits) >= m.cfg.Limit {
		return Decision{Allowed: false, RetryAfter: e.hits[0].Add(m.cfg.Window).Sub(now)}, nil
	}
	e.hits = append(e.hits, now)
	return Decision{Allowed: true, Remaining: m.cfg.Limit - len(e.hits)}, nil
}

// Sweep drops keys idle for longer than the window.
func (m *Memory) Sweep() int {
	cutoff := m.now().Add(-m.cfg.Window)
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, e := range m.entries {
		if e.lastSeen.Before(cutoff) {
			delete(m.entries, k)
			n++
		}
	}
	return n
}

// Run sweeps idle keys every window until ctx is done.
func (m *Memory) Run(ctx context.Context) {
	t := time.NewTicker(m.cfg.Window)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Sweep()
		}
	}
}
