// Package logdedup suppresses repeated log messages within a time window,
// so a noisy retry loop or a flapping poll tick doesn't flood the log.
package logdedup

import (
	"sync"
	"time"
)

// Deduplicator tracks the last time each key was logged and suppresses
// repeats seen again within the suppression window.
type Deduplicator struct {
	mu                sync.Mutex
	lastLogged        map[string]time.Time
	suppressionWindow time.Duration
}

// New creates a Deduplicator with the given suppression window.
func New(suppressionWindow time.Duration) *Deduplicator {
	return &Deduplicator{
		lastLogged:        make(map[string]time.Time),
		suppressionWindow: suppressionWindow,
	}
}

// ShouldLog reports whether key should be logged now: true the first time,
// or once the suppression window has elapsed since the last time it passed.
func (d *Deduplicator) ShouldLog(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if last, ok := d.lastLogged[key]; ok && now.Sub(last) < d.suppressionWindow {
		return false
	}
	d.lastLogged[key] = now
	return true
}

// Cleanup drops entries older than twice the suppression window, bounding
// memory growth for long-running processes with many distinct keys.
func (d *Deduplicator) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for key, last := range d.lastLogged {
		if now.Sub(last) >= d.suppressionWindow*2 {
			delete(d.lastLogged, key)
		}
	}
}
