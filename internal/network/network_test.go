package network

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"campledger/internal/query"
	"campledger/internal/record"
)

// startTestServer starts a server answering from the given records.
func startTestServer(t *testing.T, records []record.RawRecord) *Server {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	s, err := Serve("127.0.0.1:0", priv, func(f query.Filter) []record.RawRecord {
		var out []record.RawRecord
		for _, r := range records {
			if f.Matches(r) {
				out = append(out, r)
			}
		}
		return out
	})
	if err != nil {
		t.Fatalf("start server: %v", err)
	}

	t.Cleanup(func() { s.Close() })

	return s
}

// rawCampaign builds a minimal raw record with the given ID.
func rawCampaign(id string) record.RawRecord {
	return record.RawRecord{
		ID:     id,
		Issuer: "biz",
		Kind:   record.KindCampaign,
		Tags:   []record.Tag{{Key: "d", Value: id}},
	}
}

func TestEndpointQueryRoundTrip(t *testing.T) {
	records := []record.RawRecord{rawCampaign("r1"), rawCampaign("r2")}
	server := startTestServer(t, records)

	ep, err := NewEndpoint("test", server.Addr())
	if err != nil {
		t.Fatalf("create endpoint: %v", err)
	}
	defer ep.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got, err := ep.QueryOnce(ctx, query.Filter{})
	if err != nil {
		t.Fatalf("QueryOnce failed: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}

	if got[0].ID != "r1" || got[1].ID != "r2" {
		t.Errorf("got %v %v, want r1 r2", got[0].ID, got[1].ID)
	}
}

func TestEndpointQueryAppliesFilter(t *testing.T) {
	records := []record.RawRecord{rawCampaign("r1"), rawCampaign("r2")}
	server := startTestServer(t, records)

	ep, err := NewEndpoint("test", server.Addr())
	if err != nil {
		t.Fatalf("create endpoint: %v", err)
	}
	defer ep.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got, err := ep.QueryOnce(ctx, query.Filter{IDs: []string{"r2"}})
	if err != nil {
		t.Fatalf("QueryOnce failed: %v", err)
	}

	if len(got) != 1 || got[0].ID != "r2" {
		t.Errorf("got %v, want only r2", got)
	}
}

func TestEndpointReusesConnection(t *testing.T) {
	server := startTestServer(t, []record.RawRecord{rawCampaign("r1")})

	ep, err := NewEndpoint("test", server.Addr())
	if err != nil {
		t.Fatalf("create endpoint: %v", err)
	}
	defer ep.Close()

	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)

		got, err := ep.QueryOnce(ctx, query.Filter{})
		cancel()

		if err != nil {
			t.Fatalf("QueryOnce %d failed: %v", i, err)
		}

		if len(got) != 1 {
			t.Fatalf("QueryOnce %d returned %d records, want 1", i, len(got))
		}
	}
}

func TestEndpointDialFailure(t *testing.T) {
	ep, err := NewEndpoint("dead", "127.0.0.1:1")
	if err != nil {
		t.Fatalf("create endpoint: %v", err)
	}
	defer ep.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := ep.QueryOnce(ctx, query.Filter{}); err == nil {
		t.Error("QueryOnce succeeded against a dead address")
	}
}

func TestEndpointHonorsDeadline(t *testing.T) {
	server := startTestServer(t, nil)

	ep, err := NewEndpoint("test", server.Addr())
	if err != nil {
		t.Fatalf("create endpoint: %v", err)
	}
	defer ep.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()

	start := time.Now()
	_, err = ep.QueryOnce(ctx, query.Filter{})

	if err == nil {
		t.Error("QueryOnce succeeded with an already-expired deadline")
	}

	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("QueryOnce took %s with an expired deadline", elapsed)
	}
}
