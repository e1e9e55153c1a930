package stream

import (
	"sync"
	"time"
)

const dedupeMaxEntries = 10000

// Dedupe remembers event IDs for a bounded TTL so the Kafka relay can
// drop events this instance already delivered, including its own.
type Dedupe struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	ttl     time.Duration
	stopCh  chan struct{}
	stopped bool
}

func NewDedupe(ttl time.Duration) *Dedupe {
	d := &Dedupe{
		seen:   make(map[string]time.Time),
		ttl:    ttl,
		stopCh: make(chan struct{}),
	}
	go d.cleanupLoop()
	return d
}

// MarkSeen records the ID and reports whether it was new.
func (d *Dedupe) MarkSeen(eventID string) bool {
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if expiry, ok := d.seen[eventID]; ok && now.Before(expiry) {
		return false
	}
	if len(d.seen) >= dedupeMaxEntries {
		d.evictExpiredLocked(now)
	}
	if len(d.seen) >= dedupeMaxEntries {
		d.evictOldestLocked()
	}
	d.seen[eventID] = now.Add(d.ttl)
	return true
}

func (d *Dedupe) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	close(d.stopCh)
}

func (d *Dedupe) cleanupLoop() {
	ticker := time.NewTicker(d.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			d.mu.Lock()
			d.evictExpiredLocked(time.Now())
			d.mu.Unlock()
		}
	}
}

// evictOldestLocked frees one slot when nothing has expired, keeping
// the table at a hard bound. The evicted ID can in principle be
// re-delivered, which is the acceptable failure mode here.
func (d *Dedupe) evictOldestLocked() {
	var oldestID string
	var oldestExpiry time.Time
	for id, expiry := range d.seen {
		if oldestID == "" || expiry.Before(oldestExpiry) {
			oldestID = id
			oldestExpiry = expiry
		}
	}
	if oldestID != "" {
		delete(d.seen, oldestID)
	}
}

func (d *Dedupe) evictExpiredLocked(now time.Time) {
	for id, expiry := range d.seen {
		if now.After(expiry) {
			delete(d.seen, id)
		}
	}
}
