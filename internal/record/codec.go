package record

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Tag names shared across kinds.
const (
	tagLocalID  = "d"
	tagCampaign = "campaign"
	tagBusiness = "business"
	tagReport   = "report"
)

// Campaign tag names.
const (
	tagTitle        = "title"
	tagDescription  = "description"
	tagBudget       = "budget"
	tagRates        = "rates"
	tagPlatforms    = "platforms"
	tagStart        = "start"
	tagEnd          = "end"
	tagStatus       = "status"
	tagMinFollowers = "min_followers"
	tagMaxPosts     = "max_posts"
)

// Application, report, verification and payment tag names.
const (
	tagHandles   = "handles"
	tagFollowers = "followers"
	tagPlatform  = "platform"
	tagPostURL   = "post_url"
	tagPost      = "post"
	tagMetrics   = "metrics"
	tagAmount    = "amount"
	tagVerified  = "verified"
	tagPreimage  = "preimage"
)

const (
	// outerDelim separates entries of a composite tag value.
	outerDelim = ","

	// innerDelim separates the two halves of a composite entry.
	innerDelim = ":"
)

// ErrUnsupportedKind is returned when decoding a record with an unknown
// kind discriminator.
var ErrUnsupportedKind = errors.New("unsupported record kind")

// MalformedFieldError reports a scalar field that failed type coercion.
// Defaulting on coercion failure is forbidden: it would let a malformed
// record masquerade as a zero-valued valid one.
type MalformedFieldError struct {
	Field string
}

// Error implements the error interface.
func (e *MalformedFieldError) Error() string {
	return fmt.Sprintf("malformed field %q", e.Field)
}

// Entity is one of the five decoded record types: *Campaign, *Application,
// *PerformanceReport, *Verification or *PaymentClaim.
type Entity any

// Decode converts a raw record into its typed entity.
// The record is expected to have passed Valid first; Decode still returns
// MalformedFieldError rather than defaulting when a scalar fails to parse.
func Decode(r RawRecord) (Entity, error) {
	switch r.Kind {
	case KindCampaign:
		return decodeCampaign(r)
	case KindApplication:
		return decodeApplication(r)
	case KindReport:
		return decodeReport(r)
	case KindVerification:
		return decodeVerification(r)
	case KindPaymentClaim:
		return decodePaymentClaim(r)
	default:
		return nil, ErrUnsupportedKind
	}
}

// Encode converts a typed entity back into an unsigned raw record.
// It is the exact inverse of Decode: Decode(Encode(x)) == x for every
// valid entity. ID, Sig and CreatedAt are supplied at signing time.
func Encode(e Entity) (RawRecord, error) {
	switch v := e.(type) {
	case *Campaign:
		return encodeCampaign(v), nil
	case *Application:
		return encodeApplication(v), nil
	case *PerformanceReport:
		return encodeReport(v), nil
	case *Verification:
		return encodeVerification(v), nil
	case *PaymentClaim:
		return encodePaymentClaim(v), nil
	default:
		return RawRecord{}, fmt.Errorf("%w: %T", ErrUnsupportedKind, e)
	}
}

// decodeCampaign decodes a campaign record.
func decodeCampaign(r RawRecord) (*Campaign, error) {
	c := &Campaign{
		Business:    r.Issuer,
		Description: r.Body,
	}

	c.ID, _ = r.TagValue(tagLocalID)
	c.Title, _ = r.TagValue(tagTitle)

	var err error

	if c.Budget, err = parseIntTag(r, tagBudget, true); err != nil {
		return nil, err
	}

	if c.MinFollowers, err = parseIntTag(r, tagMinFollowers, false); err != nil {
		return nil, err
	}

	if c.MaxPosts, err = parseIntTag(r, tagMaxPosts, false); err != nil {
		return nil, err
	}

	if c.Start, err = parseTimeTag(r, tagStart); err != nil {
		return nil, err
	}

	if c.End, err = parseTimeTag(r, tagEnd); err != nil {
		return nil, err
	}

	status, _ := r.TagValue(tagStatus)
	c.Status = CampaignStatus(status)

	rates, _ := r.TagValue(tagRates)
	c.Rates = parseEngagementMap(rates)

	platforms, _ := r.TagValue(tagPlatforms)
	c.Platforms = parseList(platforms)

	return c, nil
}

// encodeCampaign is the inverse of decodeCampaign.
func encodeCampaign(c *Campaign) RawRecord {
	tags := []Tag{
		{tagLocalID, c.ID},
		{tagTitle, c.Title},
		{tagBudget, strconv.FormatInt(c.Budget, 10)},
		{tagRates, formatEngagementMap(c.Rates)},
		{tagPlatforms, strings.Join(c.Platforms, outerDelim)},
		{tagStart, formatTimestamp(c.Start)},
		{tagEnd, formatTimestamp(c.End)},
		{tagStatus, string(c.Status)},
	}

	if c.MinFollowers != 0 {
		tags = append(tags, Tag{tagMinFollowers, strconv.FormatInt(c.MinFollowers, 10)})
	}

	if c.MaxPosts != 0 {
		tags = append(tags, Tag{tagMaxPosts, strconv.FormatInt(c.MaxPosts, 10)})
	}

	return RawRecord{
		Issuer: c.Business,
		Kind:   KindCampaign,
		Tags:   tags,
		Body:   c.Description,
	}
}

// decodeApplication decodes an application record.
func decodeApplication(r RawRecord) (*Application, error) {
	a := &Application{
		Creator: r.Issuer,
		Message: r.Body,
	}

	a.ID, _ = r.TagValue(tagLocalID)
	a.Campaign, _ = r.TagValue(tagCampaign)
	a.Business, _ = r.TagValue(tagBusiness)

	status, _ := r.TagValue(tagStatus)
	a.Status = ApplicationStatus(status)

	handles, _ := r.TagValue(tagHandles)
	a.Handles = parseStringMap(handles)

	if followers, ok := r.TagValue(tagFollowers); ok {
		a.Followers = parseCountMap(followers)
	}

	return a, nil
}

// encodeApplication is the inverse of decodeApplication.
func encodeApplication(a *Application) RawRecord {
	tags := []Tag{
		{tagLocalID, a.ID},
		{tagCampaign, a.Campaign},
		{tagBusiness, a.Business},
		{tagHandles, formatStringMap(a.Handles)},
		{tagStatus, string(a.Status)},
	}

	if len(a.Followers) > 0 {
		tags = append(tags, Tag{tagFollowers, formatCountMap(a.Followers)})
	}

	return RawRecord{
		Issuer: a.Creator,
		Kind:   KindApplication,
		Tags:   tags,
		Body:   a.Message,
	}
}

// decodeReport decodes a performance report record.
func decodeReport(r RawRecord) (*PerformanceReport, error) {
	p := &PerformanceReport{
		Creator: r.Issuer,
		Notes:   r.Body,
	}

	p.ID, _ = r.TagValue(tagLocalID)
	p.Campaign, _ = r.TagValue(tagCampaign)
	p.Business, _ = r.TagValue(tagBusiness)
	p.Platform, _ = r.TagValue(tagPlatform)
	p.PostURL, _ = r.TagValue(tagPostURL)
	p.PostRef, _ = r.TagValue(tagPost)

	var err error
	if p.AmountClaimed, err = parseIntTag(r, tagAmount, true); err != nil {
		return nil, err
	}

	metrics, _ := r.TagValue(tagMetrics)
	p.Metrics = parseEngagementMap(metrics)

	return p, nil
}

// encodeReport is the inverse of decodeReport.
func encodeReport(p *PerformanceReport) RawRecord {
	tags := []Tag{
		{tagLocalID, p.ID},
		{tagCampaign, p.Campaign},
		{tagBusiness, p.Business},
		{tagPlatform, p.Platform},
		{tagPostURL, p.PostURL},
		{tagMetrics, formatEngagementMap(p.Metrics)},
		{tagAmount, strconv.FormatInt(p.AmountClaimed, 10)},
	}

	if p.PostRef != "" {
		tags = append(tags, Tag{tagPost, p.PostRef})
	}

	return RawRecord{
		Issuer: p.Creator,
		Kind:   KindReport,
		Tags:   tags,
		Body:   p.Notes,
	}
}

// decodeVerification decodes a verification record.
func decodeVerification(r RawRecord) (*Verification, error) {
	v := &Verification{
		Business: r.Issuer,
		EventID:  r.ID,
	}

	v.ReportRef, _ = r.TagValue(tagReport)

	flag, _ := r.TagValue(tagVerified)
	switch flag {
	case "true":
		v.Verified = true
	case "false":
		v.Verified = false
	default:
		return nil, &MalformedFieldError{Field: tagVerified}
	}

	return v, nil
}

// encodeVerification is the inverse of decodeVerification.
func encodeVerification(v *Verification) RawRecord {
	return RawRecord{
		ID:     v.EventID,
		Issuer: v.Business,
		Kind:   KindVerification,
		Tags: []Tag{
			{tagReport, v.ReportRef},
			{tagVerified, strconv.FormatBool(v.Verified)},
		},
	}
}

// decodePaymentClaim decodes a payment claim record.
func decodePaymentClaim(r RawRecord) (*PaymentClaim, error) {
	p := &PaymentClaim{
		Business: r.Issuer,
		EventID:  r.ID,
	}

	p.ReportRef, _ = r.TagValue(tagReport)
	p.Preimage, _ = r.TagValue(tagPreimage)

	return p, nil
}

// encodePaymentClaim is the inverse of decodePaymentClaim.
func encodePaymentClaim(p *PaymentClaim) RawRecord {
	return RawRecord{
		ID:     p.EventID,
		Issuer: p.Business,
		Kind:   KindPaymentClaim,
		Tags: []Tag{
			{tagReport, p.ReportRef},
			{tagPreimage, p.Preimage},
		},
	}
}

// parseIntTag parses a base-10 integer tag. A missing optional tag yields
// zero; a present tag that fails to parse is a MalformedFieldError.
func parseIntTag(r RawRecord, name string, required bool) (int64, error) {
	v, ok := r.TagValue(name)
	if !ok || v == "" {
		if required {
			return 0, &MalformedFieldError{Field: name}
		}
		return 0, nil
	}

	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, &MalformedFieldError{Field: name}
	}

	return n, nil
}

// parseTimeTag parses an RFC 3339 timestamp tag.
func parseTimeTag(r RawRecord, name string) (t time.Time, err error) {
	v, _ := r.TagValue(name)

	t, perr := parseTimestamp(v)
	if perr != nil {
		return t, &MalformedFieldError{Field: name}
	}

	return t, nil
}

// parseEngagementMap parses "engagement:count,..." with partial credit:
// entries that do not split into exactly two non-empty parts, carry an
// unknown engagement type, or fail the count parse are dropped.
func parseEngagementMap(s string) map[Engagement]int64 {
	m := make(map[Engagement]int64)

	for key, value := range splitPairs(s) {
		e := Engagement(key)
		if !engagementAllowList[e] {
			continue
		}

		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			continue
		}

		m[e] = n
	}

	return m
}

// formatEngagementMap renders an engagement map deterministically
// (sorted by key) so encoding round-trips byte-for-byte.
func formatEngagementMap(m map[Engagement]int64) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + innerDelim + strconv.FormatInt(m[Engagement(k)], 10)
	}

	return strings.Join(parts, outerDelim)
}

// parseStringMap parses "key:value,..." with partial credit.
func parseStringMap(s string) map[string]string {
	m := make(map[string]string)

	for key, value := range splitPairs(s) {
		m[key] = value
	}

	return m
}

// formatStringMap renders a string map deterministically (sorted by key).
func formatStringMap(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + innerDelim + m[k]
	}

	return strings.Join(parts, outerDelim)
}

// parseCountMap parses "key:count,..." with partial credit: pairs that
// fail to split or whose count fails the integer parse are dropped, same
// policy as every composite field. Only scalar fields are all-or-nothing.
func parseCountMap(s string) map[string]int64 {
	m := make(map[string]int64)

	for key, value := range splitPairs(s) {
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			continue
		}

		m[key] = n
	}

	return m
}

// formatCountMap renders a count map deterministically (sorted by key).
func formatCountMap(m map[string]int64) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + innerDelim + strconv.FormatInt(m[k], 10)
	}

	return strings.Join(parts, outerDelim)
}

// parseList splits a plain comma-delimited list, dropping empty entries.
func parseList(s string) []string {
	if s == "" {
		return nil
	}

	var out []string
	for _, part := range strings.Split(s, outerDelim) {
		if part != "" {
			out = append(out, part)
		}
	}

	return out
}

// splitPairs yields the well-formed key:value entries of a composite tag
// value. Entries that do not split into exactly two non-empty parts are
// skipped, not fatal to the record.
func splitPairs(s string) map[string]string {
	pairs := make(map[string]string)

	if s == "" {
		return pairs
	}

	for _, part := range strings.Split(s, outerDelim) {
		key, value, ok := strings.Cut(part, innerDelim)
		if !ok || key == "" || value == "" {
			continue
		}

		pairs[key] = value
	}

	return pairs
}
