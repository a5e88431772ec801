// Package client is the public facade of the campaign-ledger sync layer.
// It wires the storage, ledger, orchestrator and resolver together and
// exposes the typed entities and derived views consumers read.
package client

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"campledger/internal/config"
	"campledger/internal/ledger"
	"campledger/internal/network"
	"campledger/internal/query"
	"campledger/internal/record"
	"campledger/internal/resolver"
	"campledger/internal/storage"
	"campledger/internal/syncer"
)

// Client is a handle over one local ledger and its network endpoints.
// Construct it explicitly and pass it around; there is no process-wide
// instance.
type Client struct {
	db     *storage.Store
	ledger *ledger.Ledger
	orch   *query.Orchestrator
	sync   *syncer.Syncer

	endpoints []*network.Endpoint
}

// New opens the ledger under cfg.DataPath and connects the configured
// endpoints. The sync loop is not started; call StartSync or drive
// SyncOnce manually.
func New(cfg config.Config, filters []query.Filter) (*Client, error) {
	db, err := storage.Open(filepath.Join(cfg.DataPath, "ledger"))
	if err != nil {
		return nil, fmt.Errorf("open ledger store: %w", err)
	}

	endpoints := make([]*network.Endpoint, 0, len(cfg.Endpoints))
	queryEndpoints := make([]query.Endpoint, 0, len(cfg.Endpoints))

	for _, addr := range cfg.Endpoints {
		ep, err := network.NewEndpoint(addr, addr)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("create endpoint %s: %w", addr, err)
		}

		endpoints = append(endpoints, ep)
		queryEndpoints = append(queryEndpoints, ep)
	}

	l := ledger.New(db)
	orch := query.New(queryEndpoints, cfg.QueryTimeout)

	s := syncer.New(orch, l, syncer.Config{
		Filters:          filters,
		Interval:         cfg.SyncInterval,
		EvictionTTL:      cfg.EvictionTTL,
		Capacity:         cfg.Capacity,
		SnapshotPath:     cfg.SnapshotPath,
		SnapshotInterval: cfg.SnapshotInterval,
	})

	return &Client{
		db:        db,
		ledger:    l,
		orch:      orch,
		sync:      s,
		endpoints: endpoints,
	}, nil
}

// StartSync begins the background sync loop.
func (c *Client) StartSync() {
	c.sync.Start()
}

// SyncOnce runs one sync round in the foreground.
func (c *Client) SyncOnce(ctx context.Context) (int, error) {
	return c.sync.SyncOnce(ctx)
}

// Close stops the sync loop, closes endpoints and the store.
func (c *Client) Close() error {
	c.sync.Stop()

	for _, ep := range c.endpoints {
		_ = ep.Close()
	}

	return c.db.Close()
}

// Ledger exposes the underlying ledger for direct view queries.
func (c *Client) Ledger() *ledger.Ledger {
	return c.ledger
}

// Campaigns returns the decoded campaigns published by a business.
func (c *Client) Campaigns(business string) []*record.Campaign {
	var out []*record.Campaign

	for _, raw := range c.ledger.ByIssuer(record.KindCampaign, business) {
		if camp, ok := decodeAs[*record.Campaign](raw); ok {
			out = append(out, camp)
		}
	}

	return out
}

// CampaignByID returns one campaign, if stored.
func (c *Client) CampaignByID(business, id string) (*record.Campaign, bool) {
	raw, ok := c.ledger.Get(record.KindCampaign, business, id)
	if !ok {
		return nil, false
	}

	return decodeAs[*record.Campaign](raw)
}

// Applications returns the decoded applications referencing a campaign.
func (c *Client) Applications(campaignRef string) []*record.Application {
	var out []*record.Application

	for _, raw := range c.ledger.ByCampaign(campaignRef) {
		if app, ok := decodeAs[*record.Application](raw); ok {
			out = append(out, app)
		}
	}

	return out
}

// Reports returns the decoded performance reports referencing a campaign.
func (c *Client) Reports(campaignRef string) []*record.PerformanceReport {
	var out []*record.PerformanceReport

	for _, raw := range c.ledger.ByCampaign(campaignRef) {
		if rep, ok := decodeAs[*record.PerformanceReport](raw); ok {
			out = append(out, rep)
		}
	}

	return out
}

// ResolveReports attaches verification and payment state to the reports.
// Relations are fetched from the network, scoped to the reports' business
// identities (issuer pinning happens in the resolver); on network failure
// it falls back to relations already in the ledger.
func (c *Client) ResolveReports(ctx context.Context, reports []*record.PerformanceReport) ([]resolver.ResolvedReport, error) {
	values := make([]record.PerformanceReport, len(reports))
	for i, r := range reports {
		values[i] = *r
	}

	related, err := c.fetchRelations(ctx, values)
	if err != nil {
		related = c.localRelations(values)
	}

	return resolver.Resolve(values, related), nil
}

// Spent recomputes the amount paid out against a campaign from resolved,
// payment-proven reports. Never cached; the sum is derived state.
func (c *Client) Spent(ctx context.Context, campaignRef string) (int64, error) {
	reports := c.Reports(campaignRef)

	resolved, err := c.ResolveReports(ctx, reports)
	if err != nil {
		return 0, err
	}

	return resolver.Spent(campaignRef, resolved), nil
}

// fetchRelations queries verification and payment records for the
// reports, pinned to their declared business identities.
func (c *Client) fetchRelations(ctx context.Context, reports []record.PerformanceReport) ([]record.RawRecord, error) {
	businesses := resolver.BusinessIdentities(reports)
	if len(businesses) == 0 {
		return nil, nil
	}

	related, err := c.orch.Query(ctx, query.Filter{
		Kinds:   []record.Kind{record.KindVerification, record.KindPaymentClaim},
		Authors: businesses,
		Refs:    resolver.ReportRefs(reports),
	})
	if err != nil {
		return nil, err
	}

	// Endpoints are untrusted: only relations passing both gates reach the
	// resolver or the ledger. Issuer pinning is meaningless on a record
	// whose issuer claim was never signature-checked.
	vetted := make([]record.RawRecord, 0, len(related))

	for _, raw := range related {
		if !raw.VerifySignature() || !record.Valid(raw) {
			continue
		}

		_ = c.ledger.Upsert(raw)
		vetted = append(vetted, raw)
	}

	return vetted, nil
}

// localRelations reads relations already stored for the reports.
func (c *Client) localRelations(reports []record.PerformanceReport) []record.RawRecord {
	var out []record.RawRecord

	for _, r := range reports {
		out = append(out, c.ledger.ByReport(r.Identity())...)
	}

	return out
}

// decodeAs decodes a raw record and asserts the entity type.
func decodeAs[T any](raw record.RawRecord) (T, bool) {
	var zero T

	entity, err := record.Decode(raw)
	if err != nil {
		return zero, false
	}

	v, ok := entity.(T)
	if !ok {
		return zero, false
	}

	return v, true
}

// WaitHealthy polls until at least one endpoint answers or the timeout
// elapses. Useful at daemon startup before the first sync round.
func (c *Client) WaitHealthy(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for {
		_, err := c.orch.Query(ctx, query.Filter{Limit: 1})
		if err == nil {
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("no endpoint reachable within %s: %w", timeout, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}
