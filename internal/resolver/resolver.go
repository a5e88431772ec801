// Package resolver joins performance reports to the verification and
// payment-claim records that reference them. Resolution is best-effort:
// a report with no matching relation comes back unverified and unpaid,
// never as an error.
package resolver

import (
	"campledger/internal/record"
)

// ResolvedReport is a report with its derived relation state attached.
// Verified and PaymentProof are computed here every time; they are never
// stored on the report record itself.
type ResolvedReport struct {
	Report       record.PerformanceReport // Report is the underlying report
	Verified     bool                     // Verified is true when a pinned verification says so
	PaymentProof string                   // PaymentProof is the proof token, empty if unpaid
}

// Resolve attaches verification and payment state to each report from the
// given related records (already validated and in fetch order).
//
// Issuer pinning: a relation counts only when its issuer equals the
// report's declared business identity and its reference equals the report
// identity. A verification from an unrelated identity never marks a
// report verified, even if the reference matches. Competing relations
// from the same issuer: the latest in fetch order wins.
func Resolve(reports []record.PerformanceReport, related []record.RawRecord) []ResolvedReport {
	verifications := make(map[string]record.Verification)
	payments := make(map[string]record.PaymentClaim)

	for _, raw := range related {
		if !record.Valid(raw) {
			continue
		}

		entity, err := record.Decode(raw)
		if err != nil {
			continue
		}

		// Later fetches overwrite earlier ones, consistent with the
		// ledger's last-write-wins rule.
		switch v := entity.(type) {
		case *record.Verification:
			verifications[relationKey(v.Business, v.ReportRef)] = *v
		case *record.PaymentClaim:
			payments[relationKey(v.Business, v.ReportRef)] = *v
		}
	}

	out := make([]ResolvedReport, len(reports))

	for i, report := range reports {
		resolved := ResolvedReport{Report: report}
		key := relationKey(report.Business, report.Identity())

		// Presence alone is not enough; the payload flag is re-checked.
		if v, ok := verifications[key]; ok && v.Verified {
			resolved.Verified = true
		}

		if p, ok := payments[key]; ok && p.Preimage != "" {
			resolved.PaymentProof = p.Preimage
		}

		out[i] = resolved
	}

	return out
}

// BusinessIdentities returns the deduplicated set of business identities
// declared by the reports, in first-seen order. The relation fetch is
// scoped to exactly these issuers.
func BusinessIdentities(reports []record.PerformanceReport) []string {
	seen := make(map[string]bool, len(reports))

	var out []string
	for _, r := range reports {
		if r.Business == "" || seen[r.Business] {
			continue
		}

		seen[r.Business] = true
		out = append(out, r.Business)
	}

	return out
}

// ReportRefs returns the report identities referenced by the reports,
// in order, for scoping the relation fetch.
func ReportRefs(reports []record.PerformanceReport) []string {
	out := make([]string, len(reports))
	for i, r := range reports {
		out[i] = r.Identity()
	}

	return out
}

// Spent sums the claimed amounts of payment-proven reports for the given
// campaign reference. It is a pure function of resolved data, recomputed
// on demand; a persisted counter would drift under re-fetch and eviction.
func Spent(campaignRef string, resolved []ResolvedReport) int64 {
	var total int64

	for _, r := range resolved {
		if r.Report.Campaign != campaignRef || r.PaymentProof == "" {
			continue
		}

		total += r.Report.AmountClaimed
	}

	return total
}

// relationKey scopes a relation lookup to (issuer, reportRef).
func relationKey(issuer, reportRef string) string {
	return issuer + "|" + reportRef
}
