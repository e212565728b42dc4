// Package quota enforces per-tenant send volume limits over hourly and
// daily windows. Counters live in memory and are flushed to BoltDB on an
// interval so restarts do not reset a tenant's spent quota.
package quota

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketQuotas = []byte("tenant_quotas")

// Window names the quota window that denied a request.
type Window string

const (
	WindowHour Window = "hour"
	WindowDay  Window = "day"
)

// Config contains quota configuration
type Config struct {
	// Default limits for tenants without specific config. Zero disables
	// the corresponding window.
	MessagesPerHour int `yaml:"messages_per_hour"`
	MessagesPerDay  int `yaml:"messages_per_day"`

	// Per-tenant overrides keyed by tenant id
	Tenants map[string]LimitConfig `yaml:"tenants,omitempty"`

	FlushInterval time.Duration `yaml:"flush_interval,omitempty"`
}

// LimitConfig contains quota limit values for one tenant
type LimitConfig struct {
	MessagesPerHour int `yaml:"messages_per_hour" json:"messages_per_hour"`
	MessagesPerDay  int `yaml:"messages_per_day" json:"messages_per_day"`
}

// Counter tracks a tenant's spend in the current windows
type Counter struct {
	HourlyCount int       `json:"hourly_count"`
	DailyCount  int       `json:"daily_count"`
	HourStart   time.Time `json:"hour_start"`
	DayStart    time.Time `json:"day_start"`
}

// Result contains the quota check result
type Result struct {
	Allowed    bool
	DeniedBy   Window
	RetryAfter time.Duration
}

// Stats contains quota statistics for one tenant
type Stats struct {
	TenantID    string
	HourlyCount int
	DailyCount  int
	HourStart   time.Time
	DayStart    time.Time
}

// Limiter implements per-tenant quota accounting
type Limiter struct {
	db       *bolt.DB
	config   *Config
	counters map[string]*Counter // tenant id -> counter
	mu       sync.RWMutex
	stopCh   chan struct{}
}

// NewLimiter creates a new quota limiter
func NewLimiter(db *bolt.DB, cfg *Config) (*Limiter, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketQuotas)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create quota bucket: %w", err)
	}

	l := &Limiter{
		db:       db,
		config:   cfg,
		counters: make(map[string]*Counter),
		stopCh:   make(chan struct{}),
	}

	if err := l.loadCounters(); err != nil {
		return nil, fmt.Errorf("failed to load counters: %w", err)
	}

	go l.persistLoop()

	return l, nil
}

// AllowN checks whether the tenant may send n more messages and, if so,
// charges them against both windows. The whole reservation is atomic:
// a denial charges nothing.
func (l *Limiter) AllowN(tenantID string, n int) (*Result, error) {
	if n <= 0 {
		return &Result{Allowed: true}, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	limit := l.limitFor(tenantID)
	now := time.Now()

	counter := l.getOrCreateCounter(tenantID, now)
	l.resetExpired(counter, now)

	if limit.MessagesPerHour > 0 && counter.HourlyCount+n > limit.MessagesPerHour {
		return &Result{
			Allowed:    false,
			DeniedBy:   WindowHour,
			RetryAfter: counter.HourStart.Add(time.Hour).Sub(now),
		}, nil
	}

	if limit.MessagesPerDay > 0 && counter.DailyCount+n > limit.MessagesPerDay {
		return &Result{
			Allowed:    false,
			DeniedBy:   WindowDay,
			RetryAfter: counter.DayStart.Add(24 * time.Hour).Sub(now),
		}, nil
	}

	counter.HourlyCount += n
	counter.DailyCount += n

	return &Result{Allowed: true}, nil
}

// Allow reserves a single send
func (l *Limiter) Allow(tenantID string) (*Result, error) {
	return l.AllowN(tenantID, 1)
}

// GetStats returns the tenant's current spend
func (l *Limiter) GetStats(tenantID string) *Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := &Stats{TenantID: tenantID}
	counter, exists := l.counters[tenantID]
	if !exists {
		return stats
	}

	now := time.Now()
	stats.HourlyCount = counter.HourlyCount
	stats.DailyCount = counter.DailyCount
	stats.HourStart = counter.HourStart
	stats.DayStart = counter.DayStart

	if now.Sub(counter.HourStart) >= time.Hour {
		stats.HourlyCount = 0
	}
	if now.Sub(counter.DayStart) >= 24*time.Hour {
		stats.DailyCount = 0
	}

	return stats
}

// Stop stops the limiter and persists counters
func (l *Limiter) Stop() error {
	close(l.stopCh)
	return l.persistCounters()
}

func (l *Limiter) limitFor(tenantID string) LimitConfig {
	if override, ok := l.config.Tenants[tenantID]; ok {
		return override
	}
	return LimitConfig{
		MessagesPerHour: l.config.MessagesPerHour,
		MessagesPerDay:  l.config.MessagesPerDay,
	}
}

func (l *Limiter) getOrCreateCounter(tenantID string, now time.Time) *Counter {
	counter, exists := l.counters[tenantID]
	if !exists {
		counter = &Counter{HourStart: now, DayStart: now}
		l.counters[tenantID] = counter
	}
	return counter
}

func (l *Limiter) resetExpired(counter *Counter, now time.Time) {
	if now.Sub(counter.HourStart) >= time.Hour {
		counter.HourlyCount = 0
		counter.HourStart = now
	}
	if now.Sub(counter.DayStart) >= 24*time.Hour {
		counter.DailyCount = 0
		counter.DayStart = now
	}
}

func (l *Limiter) loadCounters() error {
	return l.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketQuotas)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			var counter Counter
			if err := json.Unmarshal(v, &counter); err != nil {
				return nil // skip invalid entries
			}
			l.counters[string(k)] = &counter
			return nil
		})
	})
}

func (l *Limiter) persistCounters() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketQuotas)
		if bucket == nil {
			return nil
		}

		for tenantID, counter := range l.counters {
			data, err := json.Marshal(counter)
			if err != nil {
				continue
			}
			if err := bucket.Put([]byte(tenantID), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (l *Limiter) persistLoop() {
	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.persistCounters()
		}
	}
}
