package client

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"testing"
	"time"

	"campledger/internal/config"
	"campledger/internal/network"
	"campledger/internal/query"
	"campledger/internal/record"
)

// newTestClient opens a client over a temporary data dir with no endpoints.
// Views and resolution then run entirely against the local ledger.
func newTestClient(t *testing.T) *Client {
	t.Helper()

	c, err := New(config.Config{
		DataPath:     t.TempDir(),
		QueryTimeout: time.Second,
	}, nil)
	if err != nil {
		t.Fatalf("create client: %v", err)
	}

	t.Cleanup(func() { c.Close() })

	return c
}

// newKey generates an issuer keypair and returns the hex identity.
func newKey(t *testing.T) (string, ed25519.PrivateKey) {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	return hex.EncodeToString(pub), priv
}

// seed encodes, seals and upserts an entity, failing the test on error.
func seed(t *testing.T, c *Client, entity record.Entity, priv ed25519.PrivateKey) record.RawRecord {
	t.Helper()

	raw, err := record.Encode(entity)
	if err != nil {
		t.Fatalf("encode entity: %v", err)
	}

	raw.CreatedAt = time.Now().Unix()
	raw.Seal(priv)

	if err := c.Ledger().Upsert(raw); err != nil {
		t.Fatalf("upsert entity: %v", err)
	}

	return raw
}

func testCampaign(business, id string) *record.Campaign {
	return &record.Campaign{
		Business:  business,
		ID:        id,
		Title:     "spring launch",
		Budget:    100000,
		Rates:     map[record.Engagement]int64{record.EngagementLike: 10},
		Platforms: []string{"nostr"},
		Start:     time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		End:       time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		Status:    record.CampaignActive,
	}
}

func testReport(creator, id, campaignRef, business string, amount int64) *record.PerformanceReport {
	return &record.PerformanceReport{
		Creator:       creator,
		ID:            id,
		Campaign:      campaignRef,
		Business:      business,
		Platform:      "nostr",
		PostURL:       "https://example.com/post/" + id,
		Metrics:       map[record.Engagement]int64{record.EngagementLike: 50},
		AmountClaimed: amount,
	}
}

func TestCampaignViews(t *testing.T) {
	c := newTestClient(t)
	business, priv := newKey(t)

	camp := testCampaign(business, "camp-1")
	seed(t, c, camp, priv)
	seed(t, c, testCampaign(business, "camp-2"), priv)

	got := c.Campaigns(business)
	if len(got) != 2 {
		t.Fatalf("Campaigns returned %d, want 2", len(got))
	}

	one, ok := c.CampaignByID(business, "camp-1")
	if !ok {
		t.Fatal("CampaignByID missed a stored campaign")
	}

	if one.Title != camp.Title || one.Budget != camp.Budget {
		t.Errorf("got %+v, want title %q budget %d", one, camp.Title, camp.Budget)
	}

	if _, ok := c.CampaignByID(business, "nope"); ok {
		t.Error("CampaignByID returned a campaign that was never stored")
	}
}

func TestReportsByCampaign(t *testing.T) {
	c := newTestClient(t)
	business, bizPriv := newKey(t)
	creator, creatorPriv := newKey(t)

	camp := testCampaign(business, "camp-1")
	seed(t, c, camp, bizPriv)
	seed(t, c, testReport(creator, "rep-1", camp.Ref(), business, 500), creatorPriv)
	seed(t, c, testReport(creator, "rep-2", camp.Ref(), business, 300), creatorPriv)

	reports := c.Reports(camp.Ref())
	if len(reports) != 2 {
		t.Fatalf("Reports returned %d, want 2", len(reports))
	}

	if reports[0].Campaign != camp.Ref() {
		t.Errorf("report campaign = %q, want %q", reports[0].Campaign, camp.Ref())
	}
}

func TestResolveReportsFromLocalLedger(t *testing.T) {
	c := newTestClient(t)
	business, bizPriv := newKey(t)
	creator, creatorPriv := newKey(t)

	camp := testCampaign(business, "camp-1")
	seed(t, c, camp, bizPriv)

	rep := testReport(creator, "rep-1", camp.Ref(), business, 500)
	seed(t, c, rep, creatorPriv)

	seed(t, c, &record.Verification{ReportRef: rep.Identity(), Verified: true}, bizPriv)
	seed(t, c, &record.PaymentClaim{ReportRef: rep.Identity(), Preimage: "deadbeef"}, bizPriv)

	// No endpoints configured, so the network fetch fails and resolution
	// falls back to the stored relations.
	resolved, err := c.ResolveReports(context.Background(), c.Reports(camp.Ref()))
	if err != nil {
		t.Fatalf("ResolveReports failed: %v", err)
	}

	if len(resolved) != 1 {
		t.Fatalf("resolved %d reports, want 1", len(resolved))
	}

	if !resolved[0].Verified {
		t.Error("report not marked verified")
	}

	if resolved[0].PaymentProof != "deadbeef" {
		t.Errorf("payment proof = %q, want %q", resolved[0].PaymentProof, "deadbeef")
	}
}

func TestResolveReportsIgnoresImpostorRelations(t *testing.T) {
	c := newTestClient(t)
	business, bizPriv := newKey(t)
	creator, creatorPriv := newKey(t)
	_, impostorPriv := newKey(t)

	camp := testCampaign(business, "camp-1")
	seed(t, c, camp, bizPriv)

	rep := testReport(creator, "rep-1", camp.Ref(), business, 500)
	seed(t, c, rep, creatorPriv)

	// Signed by a key that is not the report's declared business.
	seed(t, c, &record.Verification{ReportRef: rep.Identity(), Verified: true}, impostorPriv)

	resolved, err := c.ResolveReports(context.Background(), c.Reports(camp.Ref()))
	if err != nil {
		t.Fatalf("ResolveReports failed: %v", err)
	}

	if resolved[0].Verified {
		t.Error("verification from the wrong issuer was accepted")
	}
}

// newRelayClient starts an in-process relay answering every query with the
// given records and returns a client configured against it.
func newRelayClient(t *testing.T, records []record.RawRecord) *Client {
	t.Helper()

	_, servePriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate relay key: %v", err)
	}

	server, err := network.Serve("127.0.0.1:0", servePriv, func(query.Filter) []record.RawRecord {
		return records
	})
	if err != nil {
		t.Fatalf("start relay: %v", err)
	}
	t.Cleanup(func() { server.Close() })

	c, err := New(config.Config{
		DataPath:     t.TempDir(),
		Endpoints:    []string{server.Addr()},
		QueryTimeout: 5 * time.Second,
	}, nil)
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	return c
}

func TestResolveReportsRejectsForgedNetworkRelation(t *testing.T) {
	business, bizPriv := newKey(t)
	creator, creatorPriv := newKey(t)

	camp := testCampaign(business, "camp-1")
	rep := testReport(creator, "rep-1", camp.Ref(), business, 500)

	// A lying endpoint serves a verification whose issuer claims to be the
	// business but whose signature is garbage.
	forged, err := record.Encode(&record.Verification{
		Business:  business,
		ReportRef: rep.Identity(),
		Verified:  true,
	})
	if err != nil {
		t.Fatalf("encode forged verification: %v", err)
	}
	forged.CreatedAt = time.Now().Unix()
	forged.ID = forged.ComputeID()
	forged.Sig = "00"

	c := newRelayClient(t, []record.RawRecord{forged})
	seed(t, c, camp, bizPriv)
	seed(t, c, rep, creatorPriv)

	resolved, err := c.ResolveReports(context.Background(), c.Reports(camp.Ref()))
	if err != nil {
		t.Fatalf("ResolveReports failed: %v", err)
	}

	if len(resolved) != 1 {
		t.Fatalf("resolved %d reports, want 1", len(resolved))
	}

	if resolved[0].Verified {
		t.Error("unsigned verification from the network marked the report verified")
	}

	if _, ok := c.Ledger().Get(forged.Kind, forged.Issuer, forged.LocalID()); ok {
		t.Error("unsigned verification reached the ledger")
	}
}

func TestResolveReportsAcceptsSignedNetworkRelation(t *testing.T) {
	business, bizPriv := newKey(t)
	creator, creatorPriv := newKey(t)

	camp := testCampaign(business, "camp-1")
	rep := testReport(creator, "rep-1", camp.Ref(), business, 500)

	genuine, err := record.Encode(&record.Verification{
		ReportRef: rep.Identity(),
		Verified:  true,
	})
	if err != nil {
		t.Fatalf("encode verification: %v", err)
	}
	genuine.CreatedAt = time.Now().Unix()
	genuine.Seal(bizPriv)

	c := newRelayClient(t, []record.RawRecord{genuine})
	seed(t, c, camp, bizPriv)
	seed(t, c, rep, creatorPriv)

	resolved, err := c.ResolveReports(context.Background(), c.Reports(camp.Ref()))
	if err != nil {
		t.Fatalf("ResolveReports failed: %v", err)
	}

	if len(resolved) != 1 || !resolved[0].Verified {
		t.Error("signed verification from the network did not mark the report verified")
	}
}

func TestSpentCountsOnlyPaymentProvenReports(t *testing.T) {
	c := newTestClient(t)
	business, bizPriv := newKey(t)
	creator, creatorPriv := newKey(t)

	camp := testCampaign(business, "camp-1")
	seed(t, c, camp, bizPriv)

	paid := testReport(creator, "rep-paid", camp.Ref(), business, 500)
	seed(t, c, paid, creatorPriv)
	seed(t, c, &record.Verification{ReportRef: paid.Identity(), Verified: true}, bizPriv)
	seed(t, c, &record.PaymentClaim{ReportRef: paid.Identity(), Preimage: "deadbeef"}, bizPriv)

	// Verified but never paid.
	pending := testReport(creator, "rep-pending", camp.Ref(), business, 300)
	seed(t, c, pending, creatorPriv)
	seed(t, c, &record.Verification{ReportRef: pending.Identity(), Verified: true}, bizPriv)

	spent, err := c.Spent(context.Background(), camp.Ref())
	if err != nil {
		t.Fatalf("Spent failed: %v", err)
	}

	if spent != 500 {
		t.Errorf("spent = %d, want 500", spent)
	}
}
