package query

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"campledger/internal/record"
)

// stubEndpoint is a scripted in-memory endpoint.
type stubEndpoint struct {
	name    string
	records []record.RawRecord
	err     error
	delay   time.Duration
}

func (s *stubEndpoint) Name() string { return s.name }

func (s *stubEndpoint) QueryOnce(ctx context.Context, _ Filter) ([]record.RawRecord, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if s.err != nil {
		return nil, s.err
	}

	return s.records, nil
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

func TestQueryMergesAndDeduplicates(t *testing.T) {
	// Three endpoints, one times out, two answer with overlapping records.
	endpoints := []Endpoint{
		&stubEndpoint{name: "a", records: []record.RawRecord{rawCampaign("r1"), rawCampaign("r2")}},
		&stubEndpoint{name: "b", records: []record.RawRecord{rawCampaign("r2"), rawCampaign("r3")}},
		&stubEndpoint{name: "c", delay: time.Minute},
	}

	o := New(endpoints, 200*time.Millisecond)

	got, err := o.Query(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	seen := make(map[string]int)
	for _, r := range got {
		seen[r.ID]++
	}

	for _, id := range []string{"r1", "r2", "r3"} {
		if seen[id] != 1 {
			t.Errorf("record %s appears %d times, want exactly 1", id, seen[id])
		}
	}

	if len(got) != 3 {
		t.Errorf("merged result has %d records, want 3", len(got))
	}
}

func TestQueryAllEndpointsFailed(t *testing.T) {
	endpoints := []Endpoint{
		&stubEndpoint{name: "a", err: fmt.Errorf("connection refused")},
		&stubEndpoint{name: "b", err: fmt.Errorf("timeout")},
	}

	o := New(endpoints, time.Second)

	got, err := o.Query(context.Background(), Filter{})
	if !errors.Is(err, ErrAllEndpointsFailed) {
		t.Fatalf("Query returned %v, want ErrAllEndpointsFailed", err)
	}

	if got != nil {
		t.Errorf("failed query returned records: %v", got)
	}
}

func TestQueryEmptyResultIsNotAnError(t *testing.T) {
	endpoints := []Endpoint{
		&stubEndpoint{name: "a"},
		&stubEndpoint{name: "b", err: fmt.Errorf("down")},
	}

	o := New(endpoints, time.Second)

	got, err := o.Query(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	if len(got) != 0 {
		t.Errorf("empty filter match returned %d records", len(got))
	}
}

func TestQueryPartialFailureKeepsSuccesses(t *testing.T) {
	endpoints := []Endpoint{
		&stubEndpoint{name: "a", err: fmt.Errorf("down")},
		&stubEndpoint{name: "b", records: []record.RawRecord{rawCampaign("r1")}},
	}

	o := New(endpoints, time.Second)

	got, err := o.Query(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	if len(got) != 1 || got[0].ID != "r1" {
		t.Errorf("got %v, want the single record from the healthy endpoint", got)
	}
}

func TestQuerySlowEndpointDoesNotBlockOthers(t *testing.T) {
	endpoints := []Endpoint{
		&stubEndpoint{name: "fast", records: []record.RawRecord{rawCampaign("r1")}},
		&stubEndpoint{name: "hung", delay: time.Minute},
	}

	o := New(endpoints, 100*time.Millisecond)

	start := time.Now()
	got, err := o.Query(context.Background(), Filter{})
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	if len(got) != 1 {
		t.Errorf("got %d records, want 1 from the fast endpoint", len(got))
	}

	if elapsed > time.Second {
		t.Errorf("call took %s, the hung endpoint blocked the merge", elapsed)
	}
}

func TestQueryCallerCancellation(t *testing.T) {
	endpoints := []Endpoint{
		&stubEndpoint{name: "slow", delay: time.Minute},
	}

	o := New(endpoints, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := o.Query(ctx, Filter{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Query returned %v, want context.Canceled", err)
	}
}

func TestQueryCancellationOverridesPartialResults(t *testing.T) {
	// The fast endpoint answers immediately; the hung one never does.
	// Cancelling the caller's context mid-round must fail the call even
	// though one answer was already merged.
	endpoints := []Endpoint{
		&stubEndpoint{name: "fast", records: []record.RawRecord{rawCampaign("r1")}},
		&stubEndpoint{name: "hung", delay: time.Minute},
	}

	o := New(endpoints, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	got, err := o.Query(ctx, Filter{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Query returned %v, want context.Canceled", err)
	}

	if got != nil {
		t.Errorf("cancelled query returned partial records: %v", got)
	}
}

func TestQueryTimeoutWithNoAnswersIsAllEndpointsFailed(t *testing.T) {
	endpoints := []Endpoint{
		&stubEndpoint{name: "hung-1", delay: time.Minute},
		&stubEndpoint{name: "hung-2", delay: time.Minute},
	}

	o := New(endpoints, 50*time.Millisecond)

	_, err := o.Query(context.Background(), Filter{})
	if !errors.Is(err, ErrAllEndpointsFailed) {
		t.Errorf("Query returned %v, want ErrAllEndpointsFailed", err)
	}
}

func TestQueryNoEndpoints(t *testing.T) {
	o := New(nil, time.Second)

	if _, err := o.Query(context.Background(), Filter{}); !errors.Is(err, ErrAllEndpointsFailed) {
		t.Errorf("Query returned %v, want ErrAllEndpointsFailed", err)
	}
}

func TestQueryReappliesFilterLocally(t *testing.T) {
	// A sloppy endpoint answers with a record outside the requested kinds.
	off := rawCampaign("r-off")
	off.Kind = record.KindReport

	endpoints := []Endpoint{
		&stubEndpoint{name: "sloppy", records: []record.RawRecord{rawCampaign("r1"), off}},
	}

	o := New(endpoints, time.Second)

	got, err := o.Query(context.Background(), Filter{Kinds: []record.Kind{record.KindCampaign}})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	if len(got) != 1 || got[0].ID != "r1" {
		t.Errorf("got %v, want only the in-filter record", got)
	}
}

func TestFilterMatches(t *testing.T) {
	raw := record.RawRecord{
		ID:     "id-1",
		Issuer: "creator-1",
		Kind:   record.KindReport,
		Tags: []record.Tag{
			{Key: "campaign", Value: "biz:camp-1"},
		},
	}

	cases := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty matches all", Filter{}, true},
		{"kind match", Filter{Kinds: []record.Kind{record.KindReport}}, true},
		{"kind mismatch", Filter{Kinds: []record.Kind{record.KindCampaign}}, false},
		{"author match", Filter{Authors: []string{"creator-1"}}, true},
		{"author mismatch", Filter{Authors: []string{"creator-2"}}, false},
		{"id match", Filter{IDs: []string{"id-1"}}, true},
		{"ref match", Filter{Refs: []string{"biz:camp-1"}}, true},
		{"ref mismatch", Filter{Refs: []string{"biz:camp-2"}}, false},
	}

	for _, c := range cases {
		if got := c.filter.Matches(raw); got != c.want {
			t.Errorf("%s: Matches = %v, want %v", c.name, got, c.want)
		}
	}
}
