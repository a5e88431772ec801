package syncer

import (
	"sync"
	"time"

	"github.com/zeebo/blake3"
)

const (
	// defaultDedupTTL is the default time-to-live for applied payload hashes.
	defaultDedupTTL = 5 * time.Minute

	// cleanupInterval is the interval between cleanup runs.
	cleanupInterval = 30 * time.Second
)

// seenEntry records the payload last applied for one identity.
type seenEntry struct {
	hash [32]byte // hash is the blake3 of the applied payload
	ts   int64    // ts is when it was applied (unix nano)
}

// Dedup tracks, per record identity, the payload most recently applied to
// the ledger, so byte-identical fetches across sync rounds skip
// re-validation and re-upsert. Keying by identity rather than by payload
// keeps last-write-wins intact: a stale endpoint re-serving an older
// version of an identity differs from the applied bytes and passes, so the
// older version is re-applied as the most recently fetched.
type Dedup struct {
	seen map[string]seenEntry // seen maps identity to the applied payload
	mu   sync.RWMutex         // mu protects the seen map
	ttl  int64                // ttl in nanoseconds
	stop chan struct{}        // stop signals the cleanup goroutine to stop
	wg   sync.WaitGroup       // wg waits for the cleanup goroutine
}

// NewDedup creates a payload deduplication tracker.
func NewDedup() *Dedup {
	d := &Dedup{
		seen: make(map[string]seenEntry),
		ttl:  int64(defaultDedupTTL),
		stop: make(chan struct{}),
	}

	d.startCleanup()

	return d
}

// Check returns true if the payload differs from what was last applied for
// the identity (or nothing was, within the TTL). If it differs, the new
// payload is recorded as the applied one.
func (d *Dedup) Check(identity string, data []byte) bool {
	hash := blake3.Sum256(data)
	now := time.Now().UnixNano()

	// Fast path: check the applied payload with a read lock
	d.mu.RLock()
	e, exists := d.seen[identity]
	d.mu.RUnlock()

	if exists && e.hash == hash && now-e.ts < d.ttl {
		return false // Duplicate of the applied version
	}

	// Slow path: record with a write lock
	d.mu.Lock()
	// Double-check after acquiring write lock
	e, exists = d.seen[identity]
	if exists && e.hash == hash && now-e.ts < d.ttl {
		d.mu.Unlock()
		return false // Duplicate of the applied version
	}

	d.seen[identity] = seenEntry{hash: hash, ts: now}
	d.mu.Unlock()

	return true // New or changed payload
}

// Close stops the cleanup goroutine and releases resources.
func (d *Dedup) Close() {
	close(d.stop)
	d.wg.Wait()
}

// startCleanup starts the background cleanup goroutine.
func (d *Dedup) startCleanup() {
	d.wg.Add(1)

	go func() {
		defer d.wg.Done()

		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				d.cleanup()
			case <-d.stop:
				return
			}
		}
	}()
}

// cleanup removes expired entries from the seen map.
func (d *Dedup) cleanup() {
	now := time.Now().UnixNano()
	ttl := d.ttl

	d.mu.Lock()

	for identity, e := range d.seen {
		if now-e.ts >= ttl {
			delete(d.seen, identity)
		}
	}

	d.mu.Unlock()
}
