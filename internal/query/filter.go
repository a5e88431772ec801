package query

import "campledger/internal/record"

// Filter is the logical query issued identically to every endpoint.
// Empty slices match everything for that dimension.
type Filter struct {
	Kinds   []record.Kind `json:"kinds,omitempty"`   // Kinds restricts record classes
	Authors []string      `json:"authors,omitempty"` // Authors restricts issuers (hex pubkeys)
	Refs    []string      `json:"refs,omitempty"`    // Refs restricts report/campaign references
	IDs     []string      `json:"ids,omitempty"`     // IDs restricts record IDs
	Limit   int           `json:"limit,omitempty"`   // Limit caps the per-endpoint result count (0 = no cap)
}

// Matches reports whether a record satisfies the filter. Endpoints apply
// this server-side; the client re-applies it to distrust sloppy endpoints.
func (f Filter) Matches(r record.RawRecord) bool {
	if len(f.Kinds) > 0 && !containsKind(f.Kinds, r.Kind) {
		return false
	}

	if len(f.Authors) > 0 && !contains(f.Authors, r.Issuer) {
		return false
	}

	if len(f.IDs) > 0 && !contains(f.IDs, r.ID) {
		return false
	}

	if len(f.Refs) > 0 && !matchesRef(f.Refs, r) {
		return false
	}

	return true
}

// matchesRef checks the record's campaign or report reference tags.
func matchesRef(refs []string, r record.RawRecord) bool {
	if v, ok := r.TagValue("campaign"); ok && contains(refs, v) {
		return true
	}

	if v, ok := r.TagValue("report"); ok && contains(refs, v) {
		return true
	}

	return false
}

// contains reports whether needle is in haystack.
func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}

	return false
}

// containsKind reports whether k is in kinds.
func containsKind(kinds []record.Kind, k record.Kind) bool {
	for _, kk := range kinds {
		if kk == k {
			return true
		}
	}

	return false
}
