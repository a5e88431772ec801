package ledger

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/zeebo/blake3"

	"campledger/internal/logger"
	"campledger/internal/record"
	"campledger/internal/storage"
)

const (
	// lockStripes is the number of per-identity write locks. Upserts to
	// the same identity serialize on one stripe; distinct identities
	// almost always proceed independently.
	lockStripes = 64

	// envelopeHeader is the size of the fetchedAt stamp prefixed to every
	// stored record.
	envelopeHeader = 8
)

// Key prefixes. Index keys embed the primary key after a NUL separator,
// which cannot appear in a hex issuer or a key prefix.
var (
	recPrefix        = []byte("rec:")
	campaignIxPrefix = []byte("ix:campaign:")
	creatorIxPrefix  = []byte("ix:creator:")
	reportIxPrefix   = []byte("ix:report:")
)

// Ledger is the local, durable store of all records seen so far.
// It holds no network logic; it only stores whatever the last-fetched
// valid record says (last-write-wins by fetch order).
type Ledger struct {
	db    *storage.Store
	locks [lockStripes]chan struct{}
	now   func() time.Time
}

// New creates a ledger on top of the given store.
func New(db *storage.Store) *Ledger {
	l := &Ledger{db: db, now: time.Now}

	for i := range l.locks {
		l.locks[i] = make(chan struct{}, 1)
	}

	return l
}

// Upsert stores a record, replacing any previous version with the same
// identity wholesale. Applying the same record twice produces no
// observable change. Concurrent upserts to the same identity serialize;
// the later call wins regardless of embedded timestamps.
func (l *Ledger) Upsert(rec record.RawRecord) error {
	key := primaryKey(rec.Kind, rec.Issuer, rec.LocalID())

	l.lock(key)
	defer l.unlock(key)

	prev, err := l.db.Get(key)
	if err != nil {
		return fmt.Errorf("read previous version: %w", err)
	}

	sets := []storage.KeyValue{{Key: key, Value: l.envelope(rec)}}
	for _, ix := range indexKeys(key, rec) {
		sets = append(sets, storage.KeyValue{Key: ix, Value: key})
	}

	// A republished record may have moved its references; stale index
	// entries must go in the same atomic batch.
	var deletes [][]byte
	if prev != nil {
		if old, uerr := unwrap(prev); uerr == nil {
			deletes = staleIndexKeys(key, old, rec)
		}
	}

	if err := l.db.Apply(sets, deletes); err != nil {
		return fmt.Errorf("apply upsert batch: %w", err)
	}

	return nil
}

// Get retrieves the stored record for the given identity.
func (l *Ledger) Get(kind record.Kind, issuer, localID string) (record.RawRecord, bool) {
	value, err := l.db.Get(primaryKey(kind, issuer, localID))
	if err != nil || value == nil {
		return record.RawRecord{}, false
	}

	rec, err := unwrap(value)
	if err != nil {
		logger.Warn("corrupt ledger entry", "kind", kind, "issuer", issuer, "error", err)
		return record.RawRecord{}, false
	}

	return rec, true
}

// ByIssuer returns all stored records of a kind published by the given
// identity, in key order.
func (l *Ledger) ByIssuer(kind record.Kind, issuer string) []record.RawRecord {
	prefix := primaryKey(kind, issuer, "")

	var out []record.RawRecord
	_ = l.db.IteratePrefix(prefix, func(_, value []byte) error {
		if rec, err := unwrap(value); err == nil {
			out = append(out, rec)
		}
		return nil
	})

	return out
}

// ByCampaign returns all applications and reports referencing the given
// campaign ("business:campaignID").
func (l *Ledger) ByCampaign(ref string) []record.RawRecord {
	return l.byIndex(campaignIxPrefix, ref)
}

// ByCreator returns all applications and reports published by the given
// creator identity.
func (l *Ledger) ByCreator(creator string) []record.RawRecord {
	return l.byIndex(creatorIxPrefix, creator)
}

// ByReport returns all verifications and payment claims referencing the
// given report identity ("creator:reportID").
func (l *Ledger) ByReport(ref string) []record.RawRecord {
	return l.byIndex(reportIxPrefix, ref)
}

// byIndex resolves index entries under prefix+term to their records.
func (l *Ledger) byIndex(prefix []byte, term string) []record.RawRecord {
	scan := indexScanPrefix(prefix, term)

	var out []record.RawRecord
	_ = l.db.IteratePrefix(scan, func(_, primary []byte) error {
		value, err := l.db.Get(primary)
		if err != nil || value == nil {
			return nil // index entry outlived its record
		}

		if rec, uerr := unwrap(value); uerr == nil {
			out = append(out, rec)
		}

		return nil
	})

	return out
}

// Export returns every stored record in key order, for snapshots.
func (l *Ledger) Export() []record.RawRecord {
	var out []record.RawRecord

	_ = l.db.IteratePrefix(recPrefix, func(_, value []byte) error {
		if rec, err := unwrap(value); err == nil {
			out = append(out, rec)
		}
		return nil
	})

	return out
}

// Count returns the number of stored records.
func (l *Ledger) Count() int {
	n := 0
	_ = l.db.IteratePrefix(recPrefix, func(_, _ []byte) error {
		n++
		return nil
	})

	return n
}

// Evict removes records fetched before the cutoff, along with their index
// entries. Records never age out any other way; the network has no delete.
func (l *Ledger) Evict(cutoff time.Time) int {
	return l.evict(func(fetchedAt int64, _ []byte) bool {
		return fetchedAt < cutoff.UnixNano()
	})
}

// EvictToCapacity removes oldest-fetched records until at most max remain.
func (l *Ledger) EvictToCapacity(max int) int {
	type stamped struct {
		key       []byte
		fetchedAt int64
	}

	var all []stamped
	_ = l.db.IteratePrefix(recPrefix, func(key, value []byte) error {
		if len(value) >= envelopeHeader {
			k := make([]byte, len(key))
			copy(k, key)
			all = append(all, stamped{key: k, fetchedAt: int64(binary.LittleEndian.Uint64(value))})
		}
		return nil
	})

	if len(all) <= max {
		return 0
	}

	sort.Slice(all, func(i, j int) bool { return all[i].fetchedAt < all[j].fetchedAt })

	// Doom keys together with the stamp seen in the scan: a record
	// re-upserted afterwards carries a fresh stamp and escapes.
	doomed := make(map[string]int64, len(all)-max)
	for _, s := range all[:len(all)-max] {
		doomed[string(s.key)] = s.fetchedAt
	}

	return l.evict(func(fetchedAt int64, key []byte) bool {
		stamp, ok := doomed[string(key)]
		return ok && stamp == fetchedAt
	})
}

// evict removes every record matching the predicate along with its index
// entries. Candidates are collected in one scan, then each is re-read and
// re-checked under its write stripe: a concurrent upsert landing between
// scan and delete replaces the record and its stamp, and the fresh version
// must not be deleted against indexes computed from the stale scan.
func (l *Ledger) evict(match func(fetchedAt int64, key []byte) bool) int {
	var candidates [][]byte

	_ = l.db.IteratePrefix(recPrefix, func(key, value []byte) error {
		if len(value) < envelopeHeader {
			return nil
		}

		if match(int64(binary.LittleEndian.Uint64(value)), key) {
			k := make([]byte, len(key))
			copy(k, key)
			candidates = append(candidates, k)
		}

		return nil
	})

	evicted := 0
	for _, key := range candidates {
		if l.evictOne(key, match) {
			evicted++
		}
	}

	return evicted
}

// evictOne deletes one record under its write stripe, re-checking the
// predicate against the currently stored version first.
func (l *Ledger) evictOne(key []byte, match func(fetchedAt int64, key []byte) bool) bool {
	l.lock(key)
	defer l.unlock(key)

	value, err := l.db.Get(key)
	if err != nil || len(value) < envelopeHeader {
		return false
	}

	if !match(int64(binary.LittleEndian.Uint64(value)), key) {
		return false // replaced since the scan
	}

	deletes := [][]byte{key}
	if rec, uerr := unwrap(value); uerr == nil {
		deletes = append(deletes, indexKeys(key, rec)...)
	}

	if err := l.db.Apply(nil, deletes); err != nil {
		logger.Warn("eviction batch failed", "error", err)
		return false
	}

	return true
}

// envelope prepends the fetchedAt stamp to the record's binary form.
// The stamp is store-local bookkeeping for eviction, never wire data.
func (l *Ledger) envelope(rec record.RawRecord) []byte {
	body := rec.Marshal()

	buf := make([]byte, envelopeHeader, envelopeHeader+len(body))
	binary.LittleEndian.PutUint64(buf, uint64(l.now().UnixNano()))

	return append(buf, body...)
}

// unwrap strips the envelope and deserializes the record.
func unwrap(value []byte) (record.RawRecord, error) {
	if len(value) < envelopeHeader {
		return record.RawRecord{}, fmt.Errorf("envelope too short: %d bytes", len(value))
	}

	return record.Unmarshal(value[envelopeHeader:])
}

// lock acquires the write stripe for the given primary key.
func (l *Ledger) lock(key []byte) {
	l.locks[stripe(key)] <- struct{}{}
}

// unlock releases the write stripe for the given primary key.
func (l *Ledger) unlock(key []byte) {
	<-l.locks[stripe(key)]
}

// stripe maps a primary key to a lock stripe.
func stripe(key []byte) int {
	sum := blake3.Sum256(key)
	return int(sum[0]) % lockStripes
}

// primaryKey builds "rec:<kind>:<issuer>:<localID>".
func primaryKey(kind record.Kind, issuer, localID string) []byte {
	k := strconv.FormatUint(uint64(kind), 10)

	key := make([]byte, 0, len(recPrefix)+len(k)+len(issuer)+len(localID)+2)
	key = append(key, recPrefix...)
	key = append(key, k...)
	key = append(key, ':')
	key = append(key, issuer...)
	key = append(key, ':')
	key = append(key, localID...)

	return key
}

// indexKeys returns the secondary index keys for a record.
func indexKeys(primary []byte, rec record.RawRecord) [][]byte {
	var keys [][]byte

	switch rec.Kind {
	case record.KindApplication, record.KindReport:
		if ref, ok := rec.TagValue("campaign"); ok && ref != "" {
			keys = append(keys, indexKey(campaignIxPrefix, ref, primary))
		}
		keys = append(keys, indexKey(creatorIxPrefix, rec.Issuer, primary))

	case record.KindVerification, record.KindPaymentClaim:
		if ref, ok := rec.TagValue("report"); ok && ref != "" {
			keys = append(keys, indexKey(reportIxPrefix, ref, primary))
		}
	}

	return keys
}

// staleIndexKeys returns index keys held by old that next no longer holds.
func staleIndexKeys(primary []byte, old, next record.RawRecord) [][]byte {
	keep := make(map[string]bool)
	for _, k := range indexKeys(primary, next) {
		keep[string(k)] = true
	}

	var stale [][]byte
	for _, k := range indexKeys(primary, old) {
		if !keep[string(k)] {
			stale = append(stale, k)
		}
	}

	return stale
}

// indexKey builds prefix + term + NUL + primary.
func indexKey(prefix []byte, term string, primary []byte) []byte {
	key := make([]byte, 0, len(prefix)+len(term)+1+len(primary))
	key = append(key, prefix...)
	key = append(key, term...)
	key = append(key, 0)
	key = append(key, primary...)

	return key
}

// indexScanPrefix builds the scan prefix for all entries under a term.
func indexScanPrefix(prefix []byte, term string) []byte {
	key := make([]byte, 0, len(prefix)+len(term)+1)
	key = append(key, prefix...)
	key = append(key, term...)
	key = append(key, 0)

	return key
}
