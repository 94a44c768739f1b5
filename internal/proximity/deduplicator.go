package proximity

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	// DeduplicationCacheTTL is how long an escalated alert id is remembered.
	DeduplicationCacheTTL = 24 * time.Hour

	// DeduplicationCleanupInterval is how often expired ids are evicted.
	DeduplicationCleanupInterval = 10 * time.Minute
)

// Deduplicator remembers which alerts already escalated so at-least-once
// redelivery cannot escalate twice.
type Deduplicator struct {
	seenAlerts  map[string]time.Time
	mu          sync.RWMutex
	stopCleanup chan struct{}
	cleanupDone chan struct{}
	stopOnce    sync.Once
}

// NewDeduplicator creates a deduplicator and starts its cleanup loop.
func NewDeduplicator() *Deduplicator {
	d := &Deduplicator{
		seenAlerts:  make(map[string]time.Time),
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}

	go d.cleanupLoop()

	return d
}

// Seen reports whether the alert was already recorded for kind.
func (d *Deduplicator) Seen(kind Kind, alertID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.seenAlerts[namespaceAlertID(kind, alertID)]
	return ok
}

// RecordAlert atomically checks and marks an alert. It returns true only for
// the first caller.
func (d *Deduplicator) RecordAlert(kind Kind, alertID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := namespaceAlertID(kind, alertID)
	if _, exists := d.seenAlerts[id]; exists {
		return false
	}

	d.seenAlerts[id] = time.Now()
	return true
}

func namespaceAlertID(kind Kind, alertID string) string {
	return fmt.Sprintf("%s:%s", kind, alertID)
}

func (d *Deduplicator) cleanupLoop() {
	ticker := time.NewTicker(DeduplicationCleanupInterval)
	defer ticker.Stop()
	defer close(d.cleanupDone)

	for {
		select {
		case <-ticker.C:
			d.cleanup()
		case <-d.stopCleanup:
			return
		}
	}
}

func (d *Deduplicator) cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	expired := 0

	for id, seenAt := range d.seenAlerts {
		if now.Sub(seenAt) > DeduplicationCacheTTL {
			delete(d.seenAlerts, id)
			expired++
		}
	}

	if expired > 0 {
		slog.Debug("cleaned up expired deduplication entries",
			"expired", expired,
			"remaining", len(d.seenAlerts))
	}
}

// Stop ends the cleanup loop and waits for it. Safe to call more than once.
func (d *Deduplicator) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCleanup)
	})
	<-d.cleanupDone
}
