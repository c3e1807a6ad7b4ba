// Package ratelimit implements the rate-limit table (§5, §6 RateLimited):
// keyed by (route, clientId). Allow does not prune; idle entries are removed
// only by explicit Prune calls. Token-bucket limiters
// via golang.org/x/time/rate, the technique used by tomtom215-cartographus,
// replacing the station's own hand-rolled sliding-window limiter (auth.go's
// rateLimiter) with a library the rest of the pack already leans on —
// generalized from "per-IP login attempts" to "per (route, client) bucket"
// since §4.4 needs several independent limits (emoji/star, join/heartbeat).
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Rule describes one named limit: burst n events per window.
type Rule struct {
	N      int
	Window time.Duration
}

// Table holds one limiter per (route, clientId), pruning idle entries.
type Table struct {
	mu      sync.Mutex
	entries map[string]*tableEntry
}

type tableEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewTable returns an empty rate-limit table.
func NewTable() *Table {
	t := &Table{entries: map[string]*tableEntry{}}
	return t
}

// Allow checks whether the (route, clientId) pair may proceed under rule,
// creating its limiter on first use.
func (t *Table) Allow(route, clientID string, rule Rule) bool {
	key := route + "|" + clientID
	now := time.Now()

	t.mu.Lock()
	e, ok := t.entries[key]
	if !ok {
		every := rule.Window / time.Duration(rule.N)
		e = &tableEntry{limiter: rate.NewLimiter(rate.Every(every), rule.N)}
		t.entries[key] = e
	}
	e.lastSeen = now
	t.mu.Unlock()

	return e.limiter.Allow()
}

// Prune removes entries idle for longer than maxIdle. Call periodically
// (e.g. from the same tick that drives the session state machine) to bound
// table growth; entries are not pruned on access.
func (t *Table) Prune(maxIdle time.Duration) {
	cutoff := time.Now().Add(-maxIdle)
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, e := range t.entries {
		if e.lastSeen.Before(cutoff) {
			delete(t.entries, k)
		}
	}
}

// Common named rules, per §4.4.
var (
	RuleEmojiStar     = Rule{N: 30, Window: 60 * time.Second}
	RuleJoinHeartbeat = Rule{N: 10, Window: 60 * time.Second}
)
