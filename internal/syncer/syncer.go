// Package syncer drives the fetch-validate-store pipeline: orchestrated
// queries in, signature and structure gates in the middle, idempotent
// ledger upserts out.
package syncer

import (
	"context"
	"os"
	"sync"
	"time"

	"campledger/internal/ledger"
	"campledger/internal/logger"
	"campledger/internal/query"
	"campledger/internal/record"
)

const (
	// defaultInterval is the default pause between sync rounds.
	defaultInterval = 30 * time.Second

	// defaultSnapshotInterval is the default pause between snapshot saves.
	defaultSnapshotInterval = 5 * time.Minute
)

// Config tunes the sync loop.
type Config struct {
	Filters          []query.Filter // Filters are the logical queries run each round
	Interval         time.Duration  // Interval is the pause between rounds
	EvictionTTL      time.Duration  // EvictionTTL ages records out (0 = never)
	Capacity         int            // Capacity bounds the ledger size (0 = unbounded)
	SnapshotPath     string         // SnapshotPath is where snapshots are saved ("" = disabled)
	SnapshotInterval time.Duration  // SnapshotInterval is the pause between saves
}

// Syncer periodically reconciles the local ledger against the network.
type Syncer struct {
	orch   *query.Orchestrator
	ledger *ledger.Ledger
	dedup  *Dedup
	cfg    Config

	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a syncer over the given orchestrator and ledger.
func New(orch *query.Orchestrator, l *ledger.Ledger, cfg Config) *Syncer {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}

	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = defaultSnapshotInterval
	}

	return &Syncer{
		orch:   orch,
		ledger: l,
		dedup:  NewDedup(),
		cfg:    cfg,
		stop:   make(chan struct{}),
	}
}

// Start loads the snapshot if one exists and begins the background loops.
func (s *Syncer) Start() {
	s.loadSnapshot()

	s.wg.Add(1)
	go s.syncLoop()

	if s.cfg.SnapshotPath != "" {
		s.wg.Add(1)
		go s.snapshotLoop()
	}
}

// Stop stops the background loops and saves a final snapshot.
func (s *Syncer) Stop() {
	close(s.stop)
	s.wg.Wait()
	s.dedup.Close()

	if s.cfg.SnapshotPath != "" {
		s.saveSnapshot()
	}
}

// SyncOnce runs every configured filter once and applies the results.
// Returns the number of records upserted. A round where some endpoints
// fail still applies what the rest answered; only a round where nothing
// reached the network errors.
func (s *Syncer) SyncOnce(ctx context.Context) (int, error) {
	start := time.Now()
	applied := 0

	for _, f := range s.cfg.Filters {
		records, err := s.orch.Query(ctx, f)
		if err != nil {
			return applied, err
		}

		applied += s.apply(ctx, records)
	}

	logger.Debug("sync round done", "applied", applied, logger.Timed(start))

	return applied, nil
}

// apply runs fetched records through the validation gates and upserts the
// survivors. Records arriving after the context is done are discarded so
// a cancelled call never writes late.
func (s *Syncer) apply(ctx context.Context, records []record.RawRecord) int {
	applied := 0

	for _, rec := range records {
		if ctx.Err() != nil {
			logger.Debug("discarding late results", "remaining", len(records)-applied)
			return applied
		}

		// Identity is scoped by kind: the ledger keys the two independently.
		identity := rec.Kind.String() + ":" + rec.Identity()
		if !s.dedup.Check(identity, rec.Marshal()) {
			continue // Byte-identical to the version already applied
		}

		// Malformed and adversarial records are expected background
		// noise, dropped silently.
		if !rec.VerifySignature() {
			logger.Debug("dropping record with bad signature", "id", rec.ID, "issuer", rec.Issuer)
			continue
		}

		if !record.Valid(rec) {
			logger.Debug("dropping invalid record", "id", rec.ID, "kind", rec.Kind)
			continue
		}

		if err := s.ledger.Upsert(rec); err != nil {
			logger.Warn("upsert failed", "id", rec.ID, "error", err)
			continue
		}

		applied++
	}

	return applied
}

// syncLoop runs sync rounds and eviction until stopped.
func (s *Syncer) syncLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithCancel(context.Background())

		if _, err := s.SyncOnce(ctx); err != nil {
			logger.Warn("sync round failed", "error", err)
		}

		cancel()
		s.evict()
	}
}

// evict applies the TTL and capacity bounds.
func (s *Syncer) evict() {
	if s.cfg.EvictionTTL > 0 {
		if n := s.ledger.Evict(time.Now().Add(-s.cfg.EvictionTTL)); n > 0 {
			logger.Info("evicted expired records", "count", n)
		}
	}

	if s.cfg.Capacity > 0 {
		if n := s.ledger.EvictToCapacity(s.cfg.Capacity); n > 0 {
			logger.Info("evicted records over capacity", "count", n)
		}
	}
}

// snapshotLoop saves snapshots periodically until stopped.
func (s *Syncer) snapshotLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.saveSnapshot()
		}
	}
}

// saveSnapshot writes the current ledger snapshot to disk.
func (s *Syncer) saveSnapshot() {
	data, err := ExportSnapshot(s.ledger)
	if err != nil {
		logger.Error("export snapshot", "error", err)
		return
	}

	if err := os.WriteFile(s.cfg.SnapshotPath, data, 0o600); err != nil {
		logger.Error("write snapshot", "path", s.cfg.SnapshotPath, "error", err)
		return
	}

	logger.Debug("snapshot saved", "path", s.cfg.SnapshotPath, "bytes", len(data))
}

// loadSnapshot replays a snapshot from disk if one exists.
func (s *Syncer) loadSnapshot() {
	if s.cfg.SnapshotPath == "" {
		return
	}

	data, err := os.ReadFile(s.cfg.SnapshotPath)
	if os.IsNotExist(err) {
		return
	}
	if err != nil {
		logger.Warn("read snapshot", "path", s.cfg.SnapshotPath, "error", err)
		return
	}

	n, err := ImportSnapshot(s.ledger, data)
	if err != nil {
		logger.Warn("import snapshot", "path", s.cfg.SnapshotPath, "error", err)
		return
	}

	logger.Info("snapshot loaded", "path", s.cfg.SnapshotPath, "records", n)
}
