package query

import (
	"context"
	"errors"
	"time"

	"campledger/internal/logger"
	"campledger/internal/record"
)

// defaultTimeout bounds a fan-out call when the orchestrator is built
// with no explicit timeout.
const defaultTimeout = 10 * time.Second

// ErrAllEndpointsFailed is returned when no endpoint produced an answer.
// It is the only network-level fatal condition: it lets callers tell
// "legitimately empty" apart from "could not reach the network".
var ErrAllEndpointsFailed = errors.New("all endpoints failed")

// Endpoint answers one logical query. Implementations are expected to be
// slow, stale or lying; the orchestrator treats each one as untrusted and
// independently expendable.
type Endpoint interface {
	// Name identifies the endpoint for logging.
	Name() string

	// QueryOnce fetches records matching the filter. It must honor ctx
	// cancellation and return promptly when the deadline fires.
	QueryOnce(ctx context.Context, f Filter) ([]record.RawRecord, error)
}

// Orchestrator fans one filter out to every endpoint in parallel, bounds
// the call with a shared timeout, and merges results with dedup by record
// identity.
type Orchestrator struct {
	endpoints []Endpoint
	timeout   time.Duration
}

// New creates an orchestrator over the given endpoints. A non-positive
// timeout falls back to the default.
func New(endpoints []Endpoint, timeout time.Duration) *Orchestrator {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Orchestrator{endpoints: endpoints, timeout: timeout}
}

// endpointResult carries one endpoint's contribution to the merge.
type endpointResult struct {
	records []record.RawRecord
	err     error
}

// Query issues the filter against every endpoint concurrently and returns
// the deduplicated union. An endpoint that errors or times out contributes
// zero records; the call fails only when every endpoint failed or the
// caller's context fired first. An empty result with at least one endpoint
// success is a valid non-error outcome.
func (o *Orchestrator) Query(ctx context.Context, f Filter) ([]record.RawRecord, error) {
	if len(o.endpoints) == 0 {
		return nil, ErrAllEndpointsFailed
	}

	parent := ctx

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	// Buffered so per-endpoint goroutines never block: results that
	// arrive after the merge loop has returned are dropped on the floor,
	// not applied.
	results := make(chan endpointResult, len(o.endpoints))

	for _, ep := range o.endpoints {
		go func(ep Endpoint) {
			start := time.Now()

			records, err := ep.QueryOnce(ctx, f)
			if err != nil {
				logger.Warn("endpoint query failed", "endpoint", ep.Name(), "error", err, logger.Timed(start))
				results <- endpointResult{err: err}
				return
			}

			logger.Debug("endpoint answered", "endpoint", ep.Name(), "records", len(records), logger.Timed(start))
			results <- endpointResult{records: records}
		}(ep)
	}

	return o.merge(ctx, parent, f, results)
}

// merge collects per-endpoint results, suppressing duplicates by record
// identity. Within one call the first arrival wins; callers must not
// depend on which endpoint that was.
func (o *Orchestrator) merge(ctx, parent context.Context, f Filter, results <-chan endpointResult) ([]record.RawRecord, error) {
	var (
		merged   []record.RawRecord
		seen     = make(map[string]bool)
		failures int
		answered int
	)

	for answered+failures < len(o.endpoints) {
		select {
		case <-ctx.Done():
			// Caller cancellation fails the call outright, partial answers
			// or not: the caller asked the round to stop, and half a view
			// presented as a whole one is worse than an error.
			if parent.Err() != nil {
				return nil, parent.Err()
			}

			// Our own timeout: in-flight endpoint calls are abandoned and
			// whatever was merged so far is the answer. With zero answers
			// nothing reached the network.
			if answered > 0 {
				return merged, nil
			}
			return nil, ErrAllEndpointsFailed

		case res := <-results:
			if res.err != nil {
				failures++
				continue
			}

			answered++

			for _, r := range res.records {
				if r.ID == "" || seen[r.ID] {
					continue
				}

				// Endpoints are untrusted; re-apply the filter locally.
				if !f.Matches(r) {
					continue
				}

				seen[r.ID] = true
				merged = append(merged, r)
			}
		}
	}

	if answered == 0 {
		// Endpoints that failed because the caller cancelled are not a
		// network verdict.
		if parent.Err() != nil {
			return nil, parent.Err()
		}
		return nil, ErrAllEndpointsFailed
	}

	return merged, nil
}
