// Package ratelimit keeps daily request budgets for paid translation
// providers.
package ratelimit

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ErrExhausted is returned by Use once a provider or the total budget is
// spent for the current window.
var ErrExhausted = errors.New("rate limit exceeded")

const window = 24 * time.Hour

// Budget counts requests per provider and in total. A limit of zero means
// unlimited. Counters reset once a day.
type Budget struct {
	mu        sync.Mutex
	limits    map[string]int
	used      map[string]int
	maxTotal  int
	total     int
	hits      int
	misses    int
	resetTime time.Time
	now       func() time.Time
	log       *slog.Logger
}

func NewBudget(limits map[string]int, maxTotal int, log *slog.Logger) *Budget {
	b := &Budget{
		limits:   make(map[string]int, len(limits)),
		used:     make(map[string]int),
		maxTotal: maxTotal,
		now:      time.Now,
		log:      log,
	}
	for k, v := range limits {
		b.limits[k] = v
	}
	b.resetTime = b.now().Add(window)
	return b
}

// Allow reports whether provider may make another request.
func (b *Budget) Allow(provider string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.checkReset()
	return b.check(provider) == nil
}

// Use counts one request against provider.
func (b *Budget) Use(provider string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.checkReset()

	if err := b.check(provider); err != nil {
		return err
	}
	b.used[provider]++
	b.total++
	b.misses++
	b.log.Debug("translation budget used",
		"provider", provider,
		"used", b.used[provider],
		"limit", b.limits[provider],
		"total", b.total)
	return nil
}

func (b *Budget) check(provider string) error {
	if limit := b.limits[provider]; limit > 0 && b.used[provider] >= limit {
		return fmt.Errorf("%s: %w (%d/%d)", provider, ErrExhausted, b.used[provider], limit)
	}
	if b.maxTotal > 0 && b.total >= b.maxTotal {
		return fmt.Errorf("total: %w (%d/%d)", ErrExhausted, b.total, b.maxTotal)
	}
	return nil
}

// RecordCacheHit counts a translation served from cache.
func (b *Budget) RecordCacheHit() {
	b.mu.Lock()
	b.hits++
	b.mu.Unlock()
}

func (b *Budget) HitRate() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hitRate()
}

func (b *Budget) hitRate() float64 {
	total := b.hits + b.misses
	if total == 0 {
		return 0
	}
	return float64(b.hits) / float64(total) * 100
}

func (b *Budget) Stats() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := map[string]any{
		"total_used":     b.total,
		"total_limit":    b.maxTotal,
		"cache_hits":     b.hits,
		"cache_misses":   b.misses,
		"cache_hit_rate": b.hitRate(),
		"reset_time":     b.resetTime,
	}
	providers := make([]string, 0, len(b.limits))
	for p := range b.limits {
		providers = append(providers, p)
	}
	sort.Strings(providers)
	for _, p := range providers {
		stats[p+"_used"] = b.used[p]
		stats[p+"_limit"] = b.limits[p]
	}
	return stats
}

// checkReset clears the counters once the window has passed. Callers hold mu.
func (b *Budget) checkReset() {
	if !b.now().After(b.resetTime) {
		return
	}
	b.log.Info("resetting translation budget", "total_used", b.total, "cache_hit_rate", b.hitRate())
	b.used = make(map[string]int)
	b.total = 0
	b.hits = 0
	b.misses = 0
	b.resetTime = b.now().Add(window)
}
